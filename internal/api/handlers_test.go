package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/callwatch/backend/internal/manager"
	"github.com/callwatch/backend/internal/types"
)

type fakeState struct {
	snapshot *types.Snapshot
	calls    []types.ActiveCall
	queues   []types.QueueStats
}

func (f *fakeState) LastSnapshot() *types.Snapshot  { return f.snapshot }
func (f *fakeState) ActiveCalls() []types.ActiveCall { return f.calls }
func (f *fakeState) QueueStats() []types.QueueStats  { return f.queues }

type controlCall struct {
	op   string
	args []interface{}
}

type fakeControl struct {
	calls []controlCall
	err   error
}

func (f *fakeControl) record(op string, args ...interface{}) error {
	f.calls = append(f.calls, controlCall{op: op, args: args})
	return f.err
}

func (f *fakeControl) Availability(_ context.Context) ([]types.AvailabilityEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []types.AvailabilityEntry{{Extension: "2001", IsRegistered: true}}, nil
}
func (f *fakeControl) Originate(_ context.Context, from, to string) error {
	return f.record("originate", from, to)
}
func (f *fakeControl) Hangup(_ context.Context, channel, cause string) error {
	return f.record("hangup", channel, cause)
}
func (f *fakeControl) BlindTransfer(_ context.Context, channel, exten string) error {
	return f.record("transfer", channel, exten)
}
func (f *fakeControl) AttendedTransfer(_ context.Context, channel, exten string) error {
	return f.record("attended-transfer", channel, exten)
}
func (f *fakeControl) Redirect(_ context.Context, channel, exten string) error {
	return f.record("redirect", channel, exten)
}
func (f *fakeControl) StartRecording(_ context.Context, channel, file string) error {
	return f.record("record-start", channel, file)
}
func (f *fakeControl) StopRecording(_ context.Context, channel string) error {
	return f.record("record-stop", channel)
}
func (f *fakeControl) QueueAdd(_ context.Context, queue, extension, memberName string) error {
	return f.record("queue-add", queue, extension, memberName)
}
func (f *fakeControl) QueueRemove(_ context.Context, queue, extension string) error {
	return f.record("queue-remove", queue, extension)
}
func (f *fakeControl) QueuePause(_ context.Context, queue, extension string, paused bool, reason string) error {
	return f.record("queue-pause", queue, extension, paused, reason)
}
func (f *fakeControl) StartMonitor(_ context.Context, supervisor, target string, mode manager.MonitorMode, volume int) error {
	return f.record("monitor-start", supervisor, target, mode, volume)
}
func (f *fakeControl) StopMonitor(_ context.Context, supervisor string) error {
	return f.record("monitor-stop", supervisor)
}

func newTestServer(state *fakeState, control *fakeControl) *httptest.Server {
	h := NewHandler(state, control, zerolog.Nop())
	r := chi.NewRouter()
	r.Route("/api", h.Routes)
	return httptest.NewServer(r)
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestGetSnapshot(t *testing.T) {
	state := &fakeState{}
	srv := newTestServer(state, &fakeControl{})
	defer srv.Close()

	// Before first broadcast
	resp, err := http.Get(srv.URL + "/api/snapshot")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before first snapshot, got %d", resp.StatusCode)
	}

	state.snapshot = &types.Snapshot{Type: "snapshot", Timestamp: time.Now(), ActiveCalls: 2}
	resp, err = http.Get(srv.URL + "/api/snapshot")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var snap types.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Type != "snapshot" || snap.ActiveCalls != 2 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestOriginateValidation(t *testing.T) {
	control := &fakeControl{}
	srv := newTestServer(&fakeState{}, control)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/calls/originate", map[string]string{"from": "2001"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing destination, got %d", resp.StatusCode)
	}
	if len(control.calls) != 0 {
		t.Errorf("invalid request must not reach the switch")
	}

	resp = postJSON(t, srv.URL+"/api/calls/originate", map[string]string{"from": "2001", "to": "15551234567"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if len(control.calls) != 1 || control.calls[0].op != "originate" {
		t.Fatalf("expected one originate, got %+v", control.calls)
	}
}

func TestSwitchFailureMapsToBadGateway(t *testing.T) {
	control := &fakeControl{err: errors.New("not connected")}
	srv := newTestServer(&fakeState{}, control)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/calls/hangup", map[string]string{"channel": "PJSIP/2001-0001"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502 when the switch is unreachable, got %d", resp.StatusCode)
	}
}

func TestQueueMemberRoutes(t *testing.T) {
	control := &fakeControl{}
	srv := newTestServer(&fakeState{}, control)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/queues/support/members", map[string]string{"extension": "2001", "name": "Alice"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/queues/support/members/2001", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete member: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", delResp.StatusCode)
	}

	if len(control.calls) != 2 {
		t.Fatalf("expected 2 control calls, got %+v", control.calls)
	}
	if control.calls[0].op != "queue-add" || control.calls[0].args[0] != "support" {
		t.Errorf("unexpected add call: %+v", control.calls[0])
	}
	if control.calls[1].op != "queue-remove" || control.calls[1].args[1] != "2001" {
		t.Errorf("unexpected remove call: %+v", control.calls[1])
	}
}

func TestMonitorModeValidation(t *testing.T) {
	control := &fakeControl{}
	srv := newTestServer(&fakeState{}, control)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/monitor/start", map[string]interface{}{
		"supervisor": "2001", "target": "2002", "mode": "shout",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown mode, got %d", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/monitor/start", map[string]interface{}{
		"supervisor": "2001", "target": "2002", "mode": "whisper", "volume": 2,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	last := control.calls[len(control.calls)-1]
	if last.op != "monitor-start" || last.args[2] != manager.MonitorWhisper {
		t.Errorf("unexpected monitor call: %+v", last)
	}
}
