package alerts

import (
	"fmt"
	"time"

	"github.com/callwatch/backend/internal/types"
)

// Thresholds for the alert rules. Waiting counts are callers, wait
// durations are per-call.
const (
	backlogWarning    = 5
	backlogCritical   = 10
	abandonRateLimit  = 20.0
	longWaitThreshold = 5 * time.Minute
)

// CheckQueueAlerts evaluates alert rules against queue stats and the
// live call list. Rules are stateless; the caller runs this on every
// snapshot and the results replace the previous set.
func CheckQueueAlerts(now time.Time, queues []types.QueueStats, calls []types.ActiveCall) []types.Alert {
	var alerts []types.Alert

	for _, q := range queues {
		switch {
		case q.Waiting >= backlogCritical:
			alerts = append(alerts, types.Alert{
				Rule:     "queue_backlog",
				Severity: types.SeverityCritical,
				Queue:    q.Name,
				Message:  fmt.Sprintf("%d callers waiting in %s", q.Waiting, q.Name),
			})
		case q.Waiting >= backlogWarning:
			alerts = append(alerts, types.Alert{
				Rule:     "queue_backlog",
				Severity: types.SeverityWarning,
				Queue:    q.Name,
				Message:  fmt.Sprintf("%d callers waiting in %s", q.Waiting, q.Name),
			})
		}

		if q.TotalCalls >= 10 && q.AbandonRate >= abandonRateLimit {
			alerts = append(alerts, types.Alert{
				Rule:     "abandon_rate_high",
				Severity: types.SeverityWarning,
				Queue:    q.Name,
				Message:  fmt.Sprintf("abandon rate %.1f%% in %s", q.AbandonRate, q.Name),
			})
		}
	}

	for _, c := range calls {
		if c.Queue == "" || c.Status != types.CallStatusRinging {
			continue
		}
		if wait := now.Sub(c.StartTime); wait > longWaitThreshold {
			alerts = append(alerts, types.Alert{
				Rule:     "long_wait",
				Severity: types.SeverityCritical,
				Queue:    c.Queue,
				Message:  fmt.Sprintf("caller %s waiting %s in %s", c.CallerID, formatDuration(wait), c.Queue),
			})
		}
	}

	return alerts
}

func formatDuration(d time.Duration) string {
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if mins >= 60 {
		hours := mins / 60
		mins = mins % 60
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}
