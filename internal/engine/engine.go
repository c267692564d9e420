package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/callwatch/backend/internal/clock"
	"github.com/callwatch/backend/internal/metrics"
	"github.com/callwatch/backend/internal/storage"
	"github.com/callwatch/backend/internal/types"
)

const (
	broadcastInterval = 10 * time.Second
	queuePollInterval = 30 * time.Second
	sweepInterval     = 60 * time.Second
	staleAfter        = 2 * time.Minute
	counterValidity   = 60 * time.Second
)

// Facade is the slice of the management facade the engine consumes
type Facade interface {
	Events() <-chan types.DomainEvent
	Availability(ctx context.Context) ([]types.AvailabilityEntry, error)
	QueueStatus(ctx context.Context) ([]types.DomainEvent, error)
	QueueSummary(ctx context.Context) ([]types.DomainEvent, error)
}

// Sink receives marshalled snapshots for fan-out to clients
type Sink interface {
	Broadcast(payload []byte)
}

// Engine folds the domain event stream into live call, queue and agent
// state. All mutations happen on the Run goroutine; concurrent readers
// see consistent copies through the mutex-guarded accessors.
type Engine struct {
	facade       Facade
	store        storage.Store
	sink         Sink
	clk          clock.Clock
	logger       zerolog.Logger
	trunkContext string

	mu           sync.RWMutex
	calls        map[string]*types.ActiveCall
	queues       map[string]*types.QueueStats
	identities   []types.Identity
	counters     counters
	lastSnapshot *types.Snapshot
}

// counters caches the durable-store aggregates between refreshes
type counters struct {
	daily     storage.TrunkCounts
	weekly    storage.TrunkCounts
	monthly   storage.TrunkCounts
	perHour   []types.HourlyVolume
	refreshed time.Time
}

// New creates an Engine. Every collaborator is injected; nothing here
// reaches for process-global state.
func New(facade Facade, store storage.Store, sink Sink, clk clock.Clock, trunkContext string, logger zerolog.Logger) *Engine {
	if trunkContext == "" {
		trunkContext = "from-voip-provider"
	}
	return &Engine{
		facade:       facade,
		store:        store,
		sink:         sink,
		clk:          clk,
		logger:       logger,
		trunkContext: trunkContext,
		calls:        make(map[string]*types.ActiveCall),
		queues:       make(map[string]*types.QueueStats),
	}
}

// Run processes events and periodic work until ctx is cancelled
func (e *Engine) Run(ctx context.Context) {
	broadcast := e.clk.NewTicker(broadcastInterval)
	defer broadcast.Stop()
	queuePoll := e.clk.NewTicker(queuePollInterval)
	defer queuePoll.Stop()
	sweep := e.clk.NewTicker(sweepInterval)
	defer sweep.Stop()

	e.logger.Info().Msg("state engine started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("state engine stopping")
			return

		case ev, ok := <-e.facade.Events():
			if !ok {
				return
			}
			if e.apply(ctx, ev) {
				e.broadcast(ctx)
			}

		case <-broadcast.C():
			e.broadcast(ctx)

		case <-queuePoll.C():
			e.pollQueues(ctx)

		case <-sweep.C():
			if e.sweepStale() {
				e.broadcast(ctx)
			}
		}
	}
}

// apply folds one domain event into the live state and reports whether
// anything observable changed. The type switch is exhaustive over the
// closed event set; adding a variant without a case here is a compile
// visibility choice, not a silent drop at runtime.
func (e *Engine) apply(ctx context.Context, ev types.DomainEvent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clk.Now()

	switch ev := ev.(type) {
	case types.CallNew:
		// Only trunk arrivals open a tracked call; internal legs for
		// the same call would otherwise show up as duplicates.
		if ev.Context != e.trunkContext {
			return false
		}
		// Redelivered channel events must not reset a tracked call
		if call, ok := e.calls[ev.UniqueID]; ok {
			call.LastActivity = now
			return false
		}
		e.calls[ev.UniqueID] = &types.ActiveCall{
			UniqueID:     ev.UniqueID,
			CallerID:     ev.CallerID,
			Extension:    ev.Exten,
			Channel:      ev.Channel,
			Context:      ev.Context,
			Status:       types.CallStatusRinging,
			Direction:    types.DirectionInbound,
			StartTime:    now,
			LastActivity: now,
		}
		e.logger.Debug().Str("uniqueid", ev.UniqueID).Str("caller", ev.CallerID).Msg("call started")
		return true

	case types.CallStateChange:
		call, ok := e.calls[ev.UniqueID]
		if !ok {
			return false
		}
		call.LastActivity = now
		if ev.StateDesc == "Up" && call.Status == types.CallStatusRinging {
			t := now
			call.Status = types.CallStatusAnswered
			call.AnswerTime = &t
			return true
		}
		return false

	case types.CallBridged:
		call, ok := e.calls[ev.UniqueID]
		if !ok {
			return false
		}
		call.LastActivity = now
		call.BridgedChannel = ev.PeerChannel
		if call.Status == types.CallStatusRinging {
			t := now
			call.Status = types.CallStatusAnswered
			call.AnswerTime = &t
		}
		return true

	case types.CallHangup:
		call, ok := e.calls[ev.UniqueID]
		if !ok {
			// Duplicate terminal for an already-removed call: no-op
			e.logger.Debug().Str("uniqueid", ev.UniqueID).Msg("hangup for unknown call, ignoring")
			return false
		}
		delete(e.calls, ev.UniqueID)
		if call.Queue != "" {
			e.adjustWaitingLocked(call.Queue, -1)
		}
		e.logger.Debug().Str("uniqueid", ev.UniqueID).Str("cause", ev.Cause).Msg("call ended")
		// Durable reconciliation happens off the event path; the live
		// map is already consistent.
		snapshot := *call
		go e.reconcile(ev, snapshot)
		return true

	case types.TransferStarted:
		changed := false
		for _, call := range e.calls {
			if call.Channel == ev.Channel || call.BridgedChannel == ev.Channel {
				call.Status = types.CallStatusConsulting
				call.TransferTarget = ev.Target
				call.TransferType = "attended"
				call.LastActivity = now
				changed = true
			}
		}
		return changed

	case types.TransferCompleted:
		changed := false
		for _, call := range e.calls {
			if call.Channel == ev.Channel || call.BridgedChannel == ev.Channel {
				call.Status = types.CallStatusTransferred
				call.TransferTarget = ev.Target
				call.TransferType = ev.TransferType
				call.LastActivity = now
				changed = true
			}
		}
		return changed

	case types.QueueJoined:
		call, ok := e.calls[ev.UniqueID]
		if !ok {
			call = &types.ActiveCall{
				UniqueID:     ev.UniqueID,
				CallerID:     ev.CallerID,
				Extension:    ev.Exten,
				Channel:      ev.Channel,
				Context:      ev.Context,
				Status:       types.CallStatusRinging,
				Direction:    types.DirectionInbound,
				StartTime:    now,
				LastActivity: now,
			}
			e.calls[ev.UniqueID] = call
		}
		call.Queue = ev.Queue
		call.Position = ev.Position
		call.LastActivity = now
		e.adjustWaitingLocked(ev.Queue, 1)
		return true

	case types.QueueLeft:
		call, ok := e.calls[ev.UniqueID]
		if !ok {
			return false
		}
		delete(e.calls, ev.UniqueID)
		if call.Queue != "" {
			e.adjustWaitingLocked(call.Queue, -1)
		}
		e.logger.Debug().Str("uniqueid", ev.UniqueID).Str("queue", ev.Queue).Msg("caller left queue")
		return true

	case types.QueueAbandoned:
		stats := e.queueLocked(ev.Queue)
		stats.Abandoned++
		stats.TotalCalls = stats.Completed + stats.Abandoned
		stats.AbandonRate = abandonRate(stats.Abandoned, stats.TotalCalls)
		if call, ok := e.calls[ev.UniqueID]; ok {
			delete(e.calls, ev.UniqueID)
			if call.Queue != "" {
				e.adjustWaitingLocked(call.Queue, -1)
			}
		}
		e.logger.Debug().Str("uniqueid", ev.UniqueID).Str("queue", ev.Queue).Msg("caller abandoned")
		return true

	case types.QueueParamsUpdate:
		stats := e.queueLocked(ev.Queue)
		stats.Completed = ev.Completed
		stats.Abandoned = ev.Abandoned
		stats.ServiceLevel = ev.ServiceLevel
		stats.ServiceLevelPercent = ev.ServiceLevelPercent
		stats.TotalCalls = ev.Completed + ev.Abandoned
		stats.AnsweredCalls = ev.Completed
		stats.AbandonRate = abandonRate(stats.Abandoned, stats.TotalCalls)
		return true

	case types.QueueSummaryUpdate:
		stats := e.queueLocked(ev.Queue)
		stats.LoggedIn = ev.LoggedIn
		stats.Available = ev.Available
		stats.Waiting = ev.Callers
		stats.AvgWaitTime = formatWait(ev.HoldTime)
		return true

	case types.QueueMemberUpdate:
		stats := e.queueLocked(ev.Queue)
		replaced := false
		for i, m := range stats.Members {
			if m.Interface == ev.Member.Interface {
				stats.Members[i] = ev.Member
				replaced = true
				break
			}
		}
		if !replaced {
			stats.Members = append(stats.Members, ev.Member)
		}
		return true

	case types.AgentConnected:
		call, ok := e.calls[ev.UniqueID]
		if !ok {
			return false
		}
		call.LastActivity = now
		if call.Status != types.CallStatusAnswered {
			t := now
			call.Status = types.CallStatusAnswered
			call.AnswerTime = &t
		}
		if call.Extension == "" {
			call.Extension = ev.Member
		}
		return true

	case types.AgentCompleted:
		if call, ok := e.calls[ev.UniqueID]; ok {
			call.LastActivity = now
		}
		return false

	case types.ContactStatusChange:
		// Presence lives in the facade cache; the agent list in the
		// next snapshot reflects it.
		return true

	case types.RecordFinal:
		go e.persistRecord(ev.Record)
		return false

	case types.ConnectionUp:
		e.logger.Info().Bool("recovered", ev.Recovered).Msg("switch connection established")
		if ev.Recovered {
			// State may have drifted while disconnected; resync queue
			// counters off the event path.
			go e.pollQueues(ctx)
		}
		return true

	case types.ConnectionDown:
		e.logger.Warn().Msg("switch connection lost")
		return true
	}

	return false
}

// queueLocked returns the stats entry for a queue, creating it on first
// sight. Caller holds e.mu.
func (e *Engine) queueLocked(name string) *types.QueueStats {
	stats, ok := e.queues[name]
	if !ok {
		stats = &types.QueueStats{Name: name, AvgWaitTime: "0:00"}
		e.queues[name] = stats
	}
	return stats
}

// adjustWaitingLocked changes a queue's waiting count, floored at zero
func (e *Engine) adjustWaitingLocked(queue string, delta int) {
	stats := e.queueLocked(queue)
	stats.Waiting += delta
	if stats.Waiting < 0 {
		stats.Waiting = 0
	}
}

// sweepStale removes calls without activity for the stale window and
// reports whether anything was removed. A single broadcast covers the
// whole sweep.
func (e *Engine) sweepStale() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.clk.Now().Add(-staleAfter)
	removed := 0
	for id, call := range e.calls {
		if call.LastActivity.Before(cutoff) {
			delete(e.calls, id)
			if call.Queue != "" {
				e.adjustWaitingLocked(call.Queue, -1)
			}
			removed++
		}
	}
	if removed > 0 {
		e.logger.Info().Int("removed", removed).Msg("swept stale calls")
	}
	return removed > 0
}

// pollQueues refreshes per-queue counters from the switch and applies
// the results through the same path live events take.
func (e *Engine) pollQueues(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, queuePollInterval)
	defer cancel()

	events, err := e.facade.QueueStatus(pollCtx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("queue status poll failed")
	}
	summaries, err := e.facade.QueueSummary(pollCtx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("queue summary poll failed")
	}

	changed := false
	for _, ev := range append(events, summaries...) {
		if e.apply(ctx, ev) {
			changed = true
		}
	}
	if changed {
		e.broadcast(ctx)
	}
}

// ActiveCalls returns a copy of the live call list
func (e *Engine) ActiveCalls() []types.ActiveCall {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.ActiveCall, 0, len(e.calls))
	for _, c := range e.calls {
		out = append(out, *c)
	}
	return out
}

// QueueStats returns a copy of the per-queue state
func (e *Engine) QueueStats() []types.QueueStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.QueueStats, 0, len(e.queues))
	for _, q := range e.queues {
		stats := *q
		stats.Members = append([]types.QueueMember(nil), q.Members...)
		out = append(out, stats)
	}
	return out
}

// LastSnapshot returns the most recently broadcast snapshot, or nil
// before the first broadcast.
func (e *Engine) LastSnapshot() *types.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastSnapshot == nil {
		return nil
	}
	s := *e.lastSnapshot
	return &s
}

func (e *Engine) persistRecord(rec types.CallRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	existing, err := e.store.GetCallRecord(ctx, rec.UniqueID)
	if err != nil {
		metrics.Get().RecordStoreError()
		e.logger.Error().Err(err).Str("uniqueid", rec.UniqueID).Msg("record lookup failed")
		return
	}
	if existing != nil {
		return
	}
	if err := e.store.CreateCallRecord(ctx, rec); err != nil {
		metrics.Get().RecordStoreError()
		e.logger.Error().Err(err).Str("uniqueid", rec.UniqueID).Msg("record insert failed")
	}
}
