package alerts

import (
	"testing"
	"time"

	"github.com/callwatch/backend/internal/types"
)

func TestQueueBacklogThresholds(t *testing.T) {
	now := time.Now()

	tests := []struct {
		waiting  int
		severity string
	}{
		{0, ""},
		{4, ""},
		{5, types.SeverityWarning},
		{9, types.SeverityWarning},
		{10, types.SeverityCritical},
		{25, types.SeverityCritical},
	}
	for _, tt := range tests {
		queues := []types.QueueStats{{Name: "support", Waiting: tt.waiting}}
		alerts := CheckQueueAlerts(now, queues, nil)
		if tt.severity == "" {
			if len(alerts) != 0 {
				t.Errorf("waiting=%d: expected no alerts, got %+v", tt.waiting, alerts)
			}
			continue
		}
		if len(alerts) != 1 || alerts[0].Rule != "queue_backlog" || alerts[0].Severity != tt.severity {
			t.Errorf("waiting=%d: expected %s backlog alert, got %+v", tt.waiting, tt.severity, alerts)
		}
	}
}

func TestAbandonRateNeedsSampleSize(t *testing.T) {
	now := time.Now()

	// High rate on a tiny sample is noise
	queues := []types.QueueStats{{Name: "support", TotalCalls: 4, AbandonRate: 50}}
	if alerts := CheckQueueAlerts(now, queues, nil); len(alerts) != 0 {
		t.Errorf("expected no alert on small sample, got %+v", alerts)
	}

	queues[0].TotalCalls = 20
	alerts := CheckQueueAlerts(now, queues, nil)
	if len(alerts) != 1 || alerts[0].Rule != "abandon_rate_high" {
		t.Errorf("expected abandon rate alert, got %+v", alerts)
	}
}

func TestLongWaitOnlyForWaitingQueueCallers(t *testing.T) {
	now := time.Now()
	old := now.Add(-6 * time.Minute)

	calls := []types.ActiveCall{
		{UniqueID: "1", Queue: "support", Status: types.CallStatusRinging, CallerID: "111", StartTime: old},
		{UniqueID: "2", Queue: "support", Status: types.CallStatusAnswered, CallerID: "222", StartTime: old},
		{UniqueID: "3", Queue: "", Status: types.CallStatusRinging, CallerID: "333", StartTime: old},
		{UniqueID: "4", Queue: "support", Status: types.CallStatusRinging, CallerID: "444", StartTime: now.Add(-time.Minute)},
	}

	alerts := CheckQueueAlerts(now, nil, calls)
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one long wait alert, got %+v", alerts)
	}
	if alerts[0].Rule != "long_wait" || alerts[0].Severity != types.SeverityCritical {
		t.Errorf("unexpected alert: %+v", alerts[0])
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{90 * time.Second, "1m30s"},
		{5 * time.Minute, "5m0s"},
		{65 * time.Minute, "1h5m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
