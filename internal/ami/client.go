package ami

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/callwatch/backend/internal/clock"
	"github.com/callwatch/backend/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sentinel errors surfaced to callers. Action failures reported by the
// switch itself come back as unsuccessful Responses, not errors.
var (
	ErrTimeout      = errors.New("action timed out")
	ErrNotConnected = errors.New("not connected")
	ErrAuth         = errors.New("authentication failed")
	ErrQueueFull    = errors.New("pre-login action queue full")
	ErrClosed       = errors.New("client closed")
)

// ConnEvent notifies observers about transport lifecycle transitions
type ConnEvent string

const (
	ConnUp        ConnEvent = "connected"
	ConnDown      ConnEvent = "disconnected"
	ConnRecovered ConnEvent = "recovered"
)

// Config holds the transport client's connection parameters
type Config struct {
	Host          string
	Port          string
	Username      string
	Secret        string
	LoginTimeout  time.Duration // banner + login deadline
	ReconnectBase time.Duration // backoff base delay
	MaxReconnects int           // attempts before giving up
	MaxQueued     int           // pre-login action queue bound
}

func (c *Config) defaults() {
	if c.LoginTimeout == 0 {
		c.LoginTimeout = 10 * time.Second
	}
	if c.ReconnectBase == 0 {
		c.ReconnectBase = 5 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
	if c.MaxQueued == 0 {
		c.MaxQueued = 128
	}
}

type result struct {
	resp *Response
	err  error
}

type pendingRequest struct {
	action Action
	ch     chan result
	timer  clock.Timer
}

type queuedAction struct {
	action Action
	ch     chan result
}

// Client owns the raw management socket: framing, authentication,
// request/response correlation, timeouts and reconnection with backoff.
// Construct with New; a process may run several isolated clients.
type Client struct {
	cfg    Config
	logger zerolog.Logger
	clk    clock.Clock
	dial   func(ctx context.Context, addr string) (net.Conn, error)

	mu                sync.Mutex
	conn              net.Conn
	authenticated     bool
	wasConnected      bool
	closed            bool
	reconnectAttempts int
	reconnectTimer    clock.Timer
	pending           map[string]*pendingRequest
	partial           map[string]*Response
	queued            []queuedAction

	events chan Message
	conns  chan ConnEvent
}

// New creates a disconnected Client. Call Connect to establish the
// session; Close stops reconnection and releases the socket.
func New(cfg Config, logger zerolog.Logger) *Client {
	cfg.defaults()
	d := net.Dialer{Timeout: 10 * time.Second}
	return &Client{
		cfg:    cfg,
		logger: logger,
		clk:    clock.New(),
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		},
		pending: make(map[string]*pendingRequest),
		partial: make(map[string]*Response),
		events:  make(chan Message, 1024),
		conns:   make(chan ConnEvent, 8),
	}
}

// Events returns the stream of unsolicited protocol events
func (c *Client) Events() <-chan Message { return c.events }

// Notify returns the stream of connection lifecycle transitions
func (c *Client) Notify() <-chan ConnEvent { return c.conns }

// Connected reports whether the session is authenticated
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Connect dials the switch, validates the protocol banner, logs in with
// an all-events subscription and flushes any actions queued while
// unauthenticated. It returns once login succeeds or fails.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	addr := net.JoinHostPort(c.cfg.Host, c.cfg.Port)
	c.logger.Info().Str("addr", addr).Msg("connecting to switch management port")

	conn, err := c.dial(ctx, addr)
	if err != nil {
		c.scheduleReconnect()
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.LoginTimeout))
	reader := bufio.NewReader(conn)
	banner, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		c.scheduleReconnect()
		return fmt.Errorf("read banner: %w", err)
	}
	if !strings.Contains(banner, "Asterisk Call Manager") {
		conn.Close()
		return fmt.Errorf("unexpected banner %q", strings.TrimSpace(banner))
	}
	conn.SetReadDeadline(time.Time{})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	go c.readLoop(conn, reader)

	loginCtx, cancel := context.WithTimeout(ctx, c.cfg.LoginTimeout)
	defer cancel()
	resp, err := c.Send(loginCtx, NewAction("Login", map[string]string{
		"Username": c.cfg.Username,
		"Secret":   c.cfg.Secret,
		"Events":   "all",
	}))
	if err != nil {
		conn.Close()
		return fmt.Errorf("login: %w", err)
	}
	if !resp.Success() {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrAuth, resp.Get("Message"))
	}

	c.mu.Lock()
	recovered := c.wasConnected
	c.authenticated = true
	c.wasConnected = true
	c.reconnectAttempts = 0
	queued := c.queued
	c.queued = nil
	c.mu.Unlock()

	c.logger.Info().Bool("recovered", recovered).Msg("switch login successful")
	if recovered {
		c.notify(ConnRecovered)
	} else {
		c.notify(ConnUp)
	}
	c.flush(queued)
	return nil
}

// Send delivers an action and waits for its terminal response. Before
// authentication completes the action is held in a bounded FIFO and
// replayed, in submission order, once login succeeds.
func (c *Client) Send(ctx context.Context, action Action) (*Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if !c.authenticated && action.Name != "Login" {
		if len(c.queued) >= c.cfg.MaxQueued {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrQueueFull, action.Name)
		}
		ch := make(chan result, 1)
		c.queued = append(c.queued, queuedAction{action: action, ch: ch})
		c.mu.Unlock()
		c.logger.Warn().Str("action", action.Name).Msg("not authenticated, queuing action")
		return c.wait(ctx, ch)
	}
	ch, err := c.startLocked(action)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.wait(ctx, ch)
}

func (c *Client) wait(ctx context.Context, ch chan result) (*Response, error) {
	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// startLocked registers a pending request and writes the serialized
// action. Caller holds c.mu.
func (c *Client) startLocked(action Action) (chan result, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	id := uuid.New().String()
	ch := make(chan result, 1)
	pr := &pendingRequest{action: action, ch: ch}
	pr.timer = c.clk.AfterFunc(actionTimeout(action.Name), func() {
		c.expire(id)
	})
	c.pending[id] = pr

	if _, err := c.conn.Write(action.serialize(id)); err != nil {
		pr.timer.Stop()
		delete(c.pending, id)
		go c.handleDisconnect(err)
		return nil, fmt.Errorf("write %s: %w", action.Name, err)
	}
	metrics.Get().RecordActionSent()
	c.logger.Debug().Str("action", action.Name).Msg("action sent")
	return ch, nil
}

// flush replays queued actions in original submission order
func (c *Client) flush(queued []queuedAction) {
	if len(queued) == 0 {
		return
	}
	go func() {
		for _, qa := range queued {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				qa.ch <- result{err: ErrClosed}
				continue
			}
			ch, err := c.startLocked(qa.action)
			c.mu.Unlock()
			if err != nil {
				qa.ch <- result{err: err}
				continue
			}
			go func(dst chan result, src chan result) {
				dst <- <-src
			}(qa.ch, ch)
		}
	}()
}

func (c *Client) expire(id string) {
	c.mu.Lock()
	pr, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	delete(c.partial, id)
	c.mu.Unlock()

	metrics.Get().RecordActionTimeout()
	c.logger.Warn().Str("action", pr.action.Name).Msg("action timeout")
	pr.ch <- result{err: fmt.Errorf("%w: %s", ErrTimeout, pr.action.Name)}
}

func (c *Client) readLoop(conn net.Conn, reader *bufio.Reader) {
	for {
		block, err := readBlock(reader)
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		if block == "" {
			continue
		}
		c.dispatch(parseMessage(block))
	}
}

// readBlock accumulates lines until the blank-line block delimiter
func readBlock(reader *bufio.Reader) (string, error) {
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return strings.Join(lines, "\r\n"), nil
		}
		lines = append(lines, line)
	}
}

// dispatch classifies one inbound block: a terminal or partial response
// for a pending action, or an unsolicited event.
func (c *Client) dispatch(msg Message) {
	id := msg.ActionID()

	c.mu.Lock()
	if pr, ok := c.pending[id]; ok && id != "" {
		switch strings.ToLower(msg.Response()) {
		case "follows":
			c.partial[id] = &Response{Message: msg, Output: msg.Get("Output")}
			c.mu.Unlock()
			return

		case "success", "error":
			if strings.EqualFold(msg.Get("EventList"), "start") {
				// List-style response: sub-events follow, then a
				// terminal *Complete event.
				c.partial[id] = &Response{Message: msg}
				c.mu.Unlock()
				return
			}
			acc := c.partial[id]
			delete(c.partial, id)
			delete(c.pending, id)
			pr.timer.Stop()
			c.mu.Unlock()

			if acc == nil {
				acc = &Response{Message: msg}
			} else {
				acc.Message = msg
				if out := msg.Get("Output"); out != "" {
					acc.Output += out
				}
			}
			pr.ch <- result{resp: acc}
			return

		default:
			if acc, ok := c.partial[id]; ok {
				if msg.Event() != "" {
					if strings.EqualFold(msg.Get("EventList"), "Complete") {
						delete(c.partial, id)
						delete(c.pending, id)
						pr.timer.Stop()
						c.mu.Unlock()
						pr.ch <- result{resp: acc}
						return
					}
					acc.Events = append(acc.Events, msg)
					c.mu.Unlock()
					return
				}
				if out := msg.Get("Output"); out != "" {
					acc.Output += out
				}
				c.mu.Unlock()
				return
			}
		}
	}
	c.mu.Unlock()

	if msg.Event() != "" {
		metrics.Get().RecordEventReceived()
		select {
		case c.events <- msg:
		default:
			metrics.Get().RecordEventDropped()
			c.logger.Warn().Str("event", msg.Event()).Msg("event channel full, dropping")
		}
	}
}

// handleDisconnect converts socket-level failures into a reconnect
// cycle. Pending requests are left to their individual timeouts.
func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.conn.Close()
	c.conn = nil
	wasAuth := c.authenticated
	c.authenticated = false
	c.mu.Unlock()

	if !wasAuth {
		return
	}
	c.logger.Warn().Err(err).Msg("connection lost, scheduling reconnect")
	c.notify(ConnDown)
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed || c.reconnectTimer != nil {
		c.mu.Unlock()
		return
	}
	if c.reconnectAttempts >= c.cfg.MaxReconnects {
		c.mu.Unlock()
		c.logger.Error().Int("attempts", c.cfg.MaxReconnects).
			Msg("max reconnect attempts reached, giving up")
		return
	}
	attempt := c.reconnectAttempts
	delay := backoffDelay(c.cfg.ReconnectBase, attempt)
	c.logger.Info().Dur("delay", delay).Int("attempt", attempt).Msg("reconnecting")
	c.reconnectTimer = c.clk.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.reconnectAttempts++
		c.mu.Unlock()
		metrics.Get().RecordReconnect()
		if err := c.Connect(context.Background()); err != nil {
			c.logger.Warn().Err(err).Msg("reconnect attempt failed")
			c.scheduleReconnect()
		}
	})
	c.mu.Unlock()
}

// backoffDelay computes base × 1.5^attempt
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(1.5, float64(attempt)))
}

func (c *Client) notify(ev ConnEvent) {
	select {
	case c.conns <- ev:
	default:
	}
}

// Close logs off, stops reconnection and fails all outstanding work
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.conn != nil && c.authenticated {
		// Best-effort logoff; the socket closes either way.
		c.conn.Write(NewAction("Logoff", nil).serialize(uuid.New().String()))
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.authenticated = false
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.partial = make(map[string]*Response)
	queued := c.queued
	c.queued = nil
	c.mu.Unlock()

	for _, pr := range pending {
		pr.timer.Stop()
		pr.ch <- result{err: ErrClosed}
	}
	for _, qa := range queued {
		qa.ch <- result{err: ErrClosed}
	}
	return nil
}
