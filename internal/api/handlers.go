package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/callwatch/backend/internal/manager"
	"github.com/callwatch/backend/internal/types"
)

// StateSource is the engine surface the API reads from
type StateSource interface {
	LastSnapshot() *types.Snapshot
	ActiveCalls() []types.ActiveCall
	QueueStats() []types.QueueStats
}

// Control is the call-control surface the API writes through
type Control interface {
	Availability(ctx context.Context) ([]types.AvailabilityEntry, error)
	Originate(ctx context.Context, from, to string) error
	Hangup(ctx context.Context, channel, cause string) error
	BlindTransfer(ctx context.Context, channel, exten string) error
	AttendedTransfer(ctx context.Context, channel, exten string) error
	Redirect(ctx context.Context, channel, exten string) error
	StartRecording(ctx context.Context, channel, file string) error
	StopRecording(ctx context.Context, channel string) error
	QueueAdd(ctx context.Context, queue, extension, memberName string) error
	QueueRemove(ctx context.Context, queue, extension string) error
	QueuePause(ctx context.Context, queue, extension string, paused bool, reason string) error
	StartMonitor(ctx context.Context, supervisor, target string, mode manager.MonitorMode, volume int) error
	StopMonitor(ctx context.Context, supervisor string) error
}

// Handler serves the REST surface: state reads from the engine and
// call-control writes through the management facade. Failures talking
// to the switch surface as 502, bad input as 400.
type Handler struct {
	state   StateSource
	control Control
	logger  zerolog.Logger
}

// NewHandler creates the API handler
func NewHandler(state StateSource, control Control, logger zerolog.Logger) *Handler {
	return &Handler{state: state, control: control, logger: logger}
}

// Routes mounts all API endpoints on a router
func (h *Handler) Routes(r chi.Router) {
	r.Get("/snapshot", h.GetSnapshot)
	r.Get("/calls", h.GetCalls)
	r.Get("/queues", h.GetQueues)
	r.Get("/agents", h.GetAgents)

	r.Post("/calls/originate", h.Originate)
	r.Post("/calls/hangup", h.Hangup)
	r.Post("/calls/transfer", h.Transfer)
	r.Post("/calls/attended-transfer", h.AttendedTransfer)
	r.Post("/calls/redirect", h.Redirect)

	r.Post("/recordings/start", h.StartRecording)
	r.Post("/recordings/stop", h.StopRecording)

	r.Post("/queues/{queue}/members", h.AddQueueMember)
	r.Delete("/queues/{queue}/members/{extension}", h.RemoveQueueMember)
	r.Post("/queues/{queue}/pause", h.PauseQueueMember)

	r.Post("/monitor/start", h.StartMonitor)
	r.Post("/monitor/stop", h.StopMonitor)
}

// GetSnapshot returns the last broadcast snapshot
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.state.LastSnapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetCalls returns the live call list
func (h *Handler) GetCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.ActiveCalls())
}

// GetQueues returns per-queue stats
func (h *Handler) GetQueues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.QueueStats())
}

// GetAgents returns extension availability
func (h *Handler) GetAgents(w http.ResponseWriter, r *http.Request) {
	entries, err := h.control.Availability(r.Context())
	if err != nil {
		h.switchError(w, err, "availability read failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type originateRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Originate places a call between an extension and a destination
func (h *Handler) Originate(w http.ResponseWriter, r *http.Request) {
	var req originateRequest
	if err := decode(r, &req); err != nil || req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	if err := h.control.Originate(r.Context(), req.From, req.To); err != nil {
		h.switchError(w, err, "originate failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "originated"})
}

type channelRequest struct {
	Channel string `json:"channel"`
	Cause   string `json:"cause"`
}

// Hangup terminates a channel
func (h *Handler) Hangup(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := decode(r, &req); err != nil || req.Channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	if err := h.control.Hangup(r.Context(), req.Channel, req.Cause); err != nil {
		h.switchError(w, err, "hangup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "hungup"})
}

type transferRequest struct {
	Channel   string `json:"channel"`
	Extension string `json:"extension"`
}

// Transfer blind-transfers a channel to an extension
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil || req.Channel == "" || req.Extension == "" {
		writeError(w, http.StatusBadRequest, "channel and extension are required")
		return
	}
	if err := h.control.BlindTransfer(r.Context(), req.Channel, req.Extension); err != nil {
		h.switchError(w, err, "transfer failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

// AttendedTransfer starts a consultative transfer on a channel
func (h *Handler) AttendedTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil || req.Channel == "" || req.Extension == "" {
		writeError(w, http.StatusBadRequest, "channel and extension are required")
		return
	}
	if err := h.control.AttendedTransfer(r.Context(), req.Channel, req.Extension); err != nil {
		h.switchError(w, err, "attended transfer failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferring"})
}

// Redirect points a channel at a new dialplan location
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil || req.Channel == "" || req.Extension == "" {
		writeError(w, http.StatusBadRequest, "channel and extension are required")
		return
	}
	if err := h.control.Redirect(r.Context(), req.Channel, req.Extension); err != nil {
		h.switchError(w, err, "redirect failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "redirected"})
}

type recordingRequest struct {
	Channel string `json:"channel"`
	File    string `json:"file"`
}

// StartRecording begins recording a channel
func (h *Handler) StartRecording(w http.ResponseWriter, r *http.Request) {
	var req recordingRequest
	if err := decode(r, &req); err != nil || req.Channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	if req.File == "" {
		req.File = time.Now().Format("20060102-150405") + ".wav"
	}
	if err := h.control.StartRecording(r.Context(), req.Channel, req.File); err != nil {
		h.switchError(w, err, "start recording failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recording", "file": req.File})
}

// StopRecording stops recording a channel
func (h *Handler) StopRecording(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := decode(r, &req); err != nil || req.Channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	if err := h.control.StopRecording(r.Context(), req.Channel); err != nil {
		h.switchError(w, err, "stop recording failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type memberRequest struct {
	Extension string `json:"extension"`
	Name      string `json:"name"`
}

// AddQueueMember registers an extension in a queue
func (h *Handler) AddQueueMember(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	var req memberRequest
	if err := decode(r, &req); err != nil || req.Extension == "" {
		writeError(w, http.StatusBadRequest, "extension is required")
		return
	}
	if err := h.control.QueueAdd(r.Context(), queue, req.Extension, req.Name); err != nil {
		h.switchError(w, err, "queue add failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

// RemoveQueueMember removes an extension from a queue
func (h *Handler) RemoveQueueMember(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	extension := chi.URLParam(r, "extension")
	if err := h.control.QueueRemove(r.Context(), queue, extension); err != nil {
		h.switchError(w, err, "queue remove failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type pauseRequest struct {
	Extension string `json:"extension"`
	Paused    bool   `json:"paused"`
	Reason    string `json:"reason"`
}

// PauseQueueMember pauses or unpauses a queue member
func (h *Handler) PauseQueueMember(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	var req pauseRequest
	if err := decode(r, &req); err != nil || req.Extension == "" {
		writeError(w, http.StatusBadRequest, "extension is required")
		return
	}
	if err := h.control.QueuePause(r.Context(), queue, req.Extension, req.Paused, req.Reason); err != nil {
		h.switchError(w, err, "queue pause failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type monitorRequest struct {
	Supervisor string `json:"supervisor"`
	Target     string `json:"target"`
	Mode       string `json:"mode"`
	Volume     int    `json:"volume"`
}

// StartMonitor joins a supervisor onto a target's live call
func (h *Handler) StartMonitor(w http.ResponseWriter, r *http.Request) {
	var req monitorRequest
	if err := decode(r, &req); err != nil || req.Supervisor == "" || req.Target == "" {
		writeError(w, http.StatusBadRequest, "supervisor and target are required")
		return
	}
	mode := manager.MonitorListen
	switch req.Mode {
	case "", "listen":
	case "whisper":
		mode = manager.MonitorWhisper
	case "barge":
		mode = manager.MonitorBarge
	default:
		writeError(w, http.StatusBadRequest, "mode must be listen, whisper or barge")
		return
	}
	if err := h.control.StartMonitor(r.Context(), req.Supervisor, req.Target, mode, req.Volume); err != nil {
		h.switchError(w, err, "monitor start failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "monitoring"})
}

// StopMonitor ends a supervisor's monitor session
func (h *Handler) StopMonitor(w http.ResponseWriter, r *http.Request) {
	var req monitorRequest
	if err := decode(r, &req); err != nil || req.Supervisor == "" {
		writeError(w, http.StatusBadRequest, "supervisor is required")
		return
	}
	if err := h.control.StopMonitor(r.Context(), req.Supervisor); err != nil {
		h.switchError(w, err, "monitor stop failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *Handler) switchError(w http.ResponseWriter, err error, msg string) {
	h.logger.Error().Err(err).Msg(msg)
	writeError(w, http.StatusBadGateway, err.Error())
}

func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
