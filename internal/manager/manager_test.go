package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/callwatch/backend/internal/ami"
	"github.com/callwatch/backend/internal/cache"
	"github.com/callwatch/backend/internal/clock"
	"github.com/callwatch/backend/internal/types"
)

// fakeTransport replays scripted responses keyed by action name and
// records everything sent.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]*ami.Response
	sent      []ami.Action
	events    chan ami.Message
	notify    chan ami.ConnEvent
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses: make(map[string]*ami.Response),
		events:    make(chan ami.Message, 16),
		notify:    make(chan ami.ConnEvent, 4),
	}
}

func (f *fakeTransport) Send(_ context.Context, action ami.Action) (*ami.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, action)
	if resp, ok := f.responses[action.Name]; ok {
		return resp, nil
	}
	return &ami.Response{Message: ami.Message{"Response": "Success"}}, nil
}

func (f *fakeTransport) Events() <-chan ami.Message   { return f.events }
func (f *fakeTransport) Notify() <-chan ami.ConnEvent { return f.notify }

// fakeRegistrations serves canned registration rows and counts reads,
// so tests can tell a table read from a cache hit.
type fakeRegistrations struct {
	mu    sync.Mutex
	rows  []types.RegistrationRow
	reads int
}

func (f *fakeRegistrations) LatestRegistrations(_ context.Context) ([]types.RegistrationRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return append([]types.RegistrationRow(nil), f.rows...), nil
}

func (f *fakeRegistrations) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func newTestManager(t *testing.T) (*Manager, *fakeTransport, *fakeRegistrations) {
	t.Helper()
	ft := newFakeTransport()
	fr := &fakeRegistrations{}
	clk := clock.NewFake(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC))
	m := New(ft, fr, cache.NewAvailabilityCache(clk), "from-internal", zerolog.Nop())
	return m, ft, fr
}

func TestClassifyCallEvents(t *testing.T) {
	m, _, _ := newTestManager(t)

	ev := m.classify(ami.Message{
		"Event":       "Newchannel",
		"Uniqueid":    "1700000000.1",
		"CallerIDNum": "15551234567",
		"Exten":       "2001",
		"Context":     "from-voip-provider",
		"Channel":     "PJSIP/trunk-00000001",
	})
	call, ok := ev.(types.CallNew)
	if !ok {
		t.Fatalf("expected CallNew, got %T", ev)
	}
	if call.UniqueID != "1700000000.1" || call.Context != "from-voip-provider" {
		t.Errorf("unexpected CallNew fields: %+v", call)
	}

	ev = m.classify(ami.Message{
		"Event":            "Hangup",
		"Uniqueid":         "1700000000.1",
		"Cause":            "16",
		"CallerIDNum":      "15551234567",
		"ConnectedLineNum": "2001",
	})
	hangup, ok := ev.(types.CallHangup)
	if !ok {
		t.Fatalf("expected CallHangup, got %T", ev)
	}
	if hangup.Cause != "16" || hangup.ConnectedLine != "2001" {
		t.Errorf("unexpected CallHangup fields: %+v", hangup)
	}
}

func TestClassifyQueueEvents(t *testing.T) {
	m, _, _ := newTestManager(t)

	ev := m.classify(ami.Message{
		"Event":       "QueueCallerJoin",
		"Uniqueid":    "1700000000.5",
		"Queue":       "support",
		"CallerIDNum": "15551234567",
		"Position":    "3",
	})
	joined, ok := ev.(types.QueueJoined)
	if !ok {
		t.Fatalf("expected QueueJoined, got %T", ev)
	}
	if joined.Queue != "support" || joined.Position != 3 {
		t.Errorf("unexpected QueueJoined fields: %+v", joined)
	}

	ev = m.classify(ami.Message{
		"Event":            "QueueParams",
		"Queue":            "support",
		"Calls":            "2",
		"Completed":        "40",
		"Abandoned":        "5",
		"ServiceLevel":     "30",
		"ServicelevelPerf": "87.5",
	})
	params, ok := ev.(types.QueueParamsUpdate)
	if !ok {
		t.Fatalf("expected QueueParamsUpdate, got %T", ev)
	}
	if params.Completed != 40 || params.Abandoned != 5 || params.ServiceLevelPercent != 87.5 {
		t.Errorf("unexpected QueueParamsUpdate fields: %+v", params)
	}
}

func TestClassifyUnknownEventIsDropped(t *testing.T) {
	m, _, _ := newTestManager(t)
	if ev := m.classify(ami.Message{"Event": "FullyBooted"}); ev != nil {
		t.Fatalf("expected nil for untracked event, got %T", ev)
	}
}

func TestReachableVocabulary(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"Reachable", true},
		{"Available", true},
		{"Created", true},
		{"OK (23ms)", true},
		{"Online", true},
		{"Unknown", false},
		{"Unreachable", true}, // substring match: contains "reachable"
		{"", false},
	}
	for _, tt := range tests {
		if got := isStatusReachable(tt.raw); got != tt.want {
			t.Errorf("isStatusReachable(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestContactStatusPresence(t *testing.T) {
	m, _, _ := newTestManager(t)

	// Real contact, qualified
	ev := m.classify(ami.Message{
		"Event":         "ContactStatus",
		"EndpointName":  "2001",
		"URI":           "sip:2001@10.0.0.5:5060",
		"ContactStatus": "Reachable",
	})
	cs, ok := ev.(types.ContactStatusChange)
	if !ok {
		t.Fatalf("expected ContactStatusChange, got %T", ev)
	}
	if !cs.Registered || !cs.Reachable {
		t.Errorf("expected registered and reachable: %+v", cs)
	}

	// Placeholder contact parked by the dialplan
	ev = m.classify(ami.Message{
		"Event":         "ContactStatus",
		"EndpointName":  "2002",
		"URI":           "sip:2002@offline",
		"ContactStatus": "Created",
	})
	cs = ev.(types.ContactStatusChange)
	if cs.Registered {
		t.Errorf("placeholder contact must not count as registered: %+v", cs)
	}

	// Registered but not qualified: still available for routing
	ev = m.classify(ami.Message{
		"Event":         "ContactStatus",
		"EndpointName":  "2003",
		"URI":           "sip:2003@10.0.0.9:5060",
		"ContactStatus": "Unknown",
	})
	cs = ev.(types.ContactStatusChange)
	if !cs.Registered || cs.Reachable {
		t.Errorf("expected registered but unqualified: %+v", cs)
	}

	entry, ok := m.cache.Get("2003")
	if !ok {
		t.Fatal("presence change should refresh the cache")
	}
	if entry.Reachability != "NonQualified" {
		t.Errorf("expected NonQualified, got %q", entry.Reachability)
	}
	if entry.Status != "Registered" {
		t.Errorf("registered-but-unqualified must stay Registered, got %q", entry.Status)
	}
}

func TestMonitorOptions(t *testing.T) {
	tests := []struct {
		mode   MonitorMode
		volume int
		want   string
	}{
		{MonitorListen, 0, "qS"},
		{MonitorWhisper, 0, "qwS"},
		{MonitorBarge, 0, "qBS"},
		{MonitorListen, 2, "qSv(2)"},
		{MonitorBarge, 4, "qBSv(4)"},
	}
	for _, tt := range tests {
		if got := monitorOptions(tt.mode, tt.volume); got != tt.want {
			t.Errorf("monitorOptions(%s, %d) = %q, want %q", tt.mode, tt.volume, got, tt.want)
		}
	}
}

func TestBlindTransferFallsBackToRedirect(t *testing.T) {
	m, ft, _ := newTestManager(t)
	ft.responses["BlindTransfer"] = &ami.Response{Message: ami.Message{
		"Response": "Error",
		"Message":  "Channel specified does not exist",
	}}

	if err := m.BlindTransfer(context.Background(), "PJSIP/2001-00000001", "2005"); err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}

	if len(ft.sent) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(ft.sent))
	}
	if ft.sent[0].Name != "BlindTransfer" || ft.sent[1].Name != "Redirect" {
		t.Errorf("unexpected action sequence: %s, %s", ft.sent[0].Name, ft.sent[1].Name)
	}
	if ft.sent[1].Fields["Exten"] != "2005" {
		t.Errorf("redirect should carry the transfer target, got %q", ft.sent[1].Fields["Exten"])
	}
}

func TestBlindTransferOtherErrorsDoNotFallBack(t *testing.T) {
	m, ft, _ := newTestManager(t)
	ft.responses["BlindTransfer"] = &ami.Response{Message: ami.Message{
		"Response": "Error",
		"Message":  "Permission denied",
	}}

	if err := m.BlindTransfer(context.Background(), "PJSIP/2001-00000001", "2005"); err == nil {
		t.Fatal("expected error for non-fallback rejection")
	}
	if len(ft.sent) != 1 {
		t.Fatalf("expected no fallback action, got %d actions", len(ft.sent))
	}
}

func TestAttendedTransferSendsAtxfer(t *testing.T) {
	m, ft, _ := newTestManager(t)

	if err := m.AttendedTransfer(context.Background(), "PJSIP/2001-00000001", "2005"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ft.sent) != 1 || ft.sent[0].Name != "Atxfer" {
		t.Fatalf("expected a single Atxfer, got %+v", ft.sent)
	}
	if ft.sent[0].Fields["Exten"] != "2005" || ft.sent[0].Fields["Context"] != "from-internal" {
		t.Errorf("unexpected Atxfer fields: %+v", ft.sent[0].Fields)
	}
}

func TestManualContactOverrides(t *testing.T) {
	m, _, fr := newTestManager(t)

	m.SetContactOffline("2001")
	entry, ok := m.cache.Get("2001")
	if !ok {
		t.Fatal("offline override should land in the cache")
	}
	if entry.IsRegistered || entry.Reachability != "Offline" {
		t.Errorf("expected forced-offline entry, got %+v", entry)
	}

	fr.rows = []types.RegistrationRow{
		{ID: 51, Endpoint: "2001", URI: "sip:2001@10.0.0.5:5060", Status: "Reachable", Expiration: time.Now().Unix() + 3600},
	}
	entry, err := m.SetContactOnline(context.Background(), "2001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !entry.IsRegistered || entry.Reachability != "Reachable" {
		t.Errorf("online override should re-read the real registration, got %+v", entry)
	}
}

func TestChannelForExtension(t *testing.T) {
	m, ft, _ := newTestManager(t)
	ft.responses["CoreShowChannels"] = &ami.Response{
		Message: ami.Message{"Response": "Success", "EventList": "start"},
		Events: []ami.Message{
			{"Event": "CoreShowChannel", "Channel": "PJSIP/trunk-00000007", "CallerIDNum": "15551234567"},
			{"Event": "CoreShowChannel", "Channel": "PJSIP/2001-00000008", "CallerIDNum": "2001"},
		},
	}

	ch, err := m.ChannelForExtension(context.Background(), "2001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch != "PJSIP/2001-00000008" {
		t.Errorf("expected live channel, got %q", ch)
	}

	// No live channel: fall back to the device name
	ch, err = m.ChannelForExtension(context.Background(), "2099")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch != "PJSIP/2099" {
		t.Errorf("expected device fallback, got %q", ch)
	}
}

func TestAvailabilityReadsRegistrationTable(t *testing.T) {
	m, _, fr := newTestManager(t)
	now := time.Now().Unix()
	fr.rows = []types.RegistrationRow{
		{ID: 41, Endpoint: "2001", URI: "sip:2001@10.0.0.5:5060", Status: "Reachable", Expiration: now + 3600},
		{ID: 42, Endpoint: "2002", URI: "sip:2002@offline", Status: "Created"},
		{ID: 43, Endpoint: "2003", URI: "sip:2003@10.0.0.9:5060", Status: "Reachable", Expiration: now - 60},
		{ID: 44, Endpoint: "2004", URI: "sip:2004@10.0.0.11:5060", Status: "Unknown", Expiration: now + 3600},
	}

	entries, err := m.Availability(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}

	byExt := make(map[string]types.AvailabilityEntry)
	for _, e := range entries {
		byExt[e.Extension] = e
	}
	if !byExt["2001"].IsRegistered || byExt["2001"].Reachability != "Reachable" {
		t.Errorf("2001 has a live registration: %+v", byExt["2001"])
	}
	if byExt["2002"].IsRegistered {
		t.Errorf("2002 has a placeholder contact and must be offline: %+v", byExt["2002"])
	}
	if byExt["2003"].IsRegistered {
		t.Errorf("2003's registration expired and must be offline: %+v", byExt["2003"])
	}
	if !byExt["2004"].IsRegistered || byExt["2004"].Reachability != "NonQualified" {
		t.Errorf("2004 is registered but unqualified: %+v", byExt["2004"])
	}

	// Second read must come from cache, not another table read
	if _, err := m.Availability(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fr.readCount(); got != 1 {
		t.Errorf("expected one table read, got %d", got)
	}
}

func TestRunTranslatesConnectionTransitions(t *testing.T) {
	m, ft, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	ft.notify <- ami.ConnUp
	ft.notify <- ami.ConnDown
	ft.notify <- ami.ConnRecovered

	want := []types.DomainEvent{
		types.ConnectionUp{},
		types.ConnectionDown{},
		types.ConnectionUp{Recovered: true},
	}
	for i, expected := range want {
		select {
		case got := <-m.Events():
			if got != expected {
				t.Errorf("event %d: got %#v, want %#v", i, got, expected)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}
