package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/callwatch/backend/internal/alerts"
	"github.com/callwatch/backend/internal/metrics"
	"github.com/callwatch/backend/internal/types"
)

// broadcast assembles the full snapshot and hands it to the sink
func (e *Engine) broadcast(ctx context.Context) {
	snap := e.buildSnapshot(ctx)

	payload, err := json.Marshal(snap)
	if err != nil {
		e.logger.Error().Err(err).Msg("snapshot marshal failed")
		return
	}

	e.mu.Lock()
	e.lastSnapshot = &snap
	e.mu.Unlock()

	e.sink.Broadcast(payload)
	metrics.Get().RecordSnapshotBroadcast()
}

// buildSnapshot joins live state, presence and durable counters
func (e *Engine) buildSnapshot(ctx context.Context) types.Snapshot {
	e.refreshCounters(ctx)

	availability, err := e.facade.Availability(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("availability read failed, agent list may be stale")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	calls := make([]types.ActiveCall, 0, len(e.calls))
	for _, c := range e.calls {
		calls = append(calls, *c)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].StartTime.Before(calls[j].StartTime) })

	queues := make([]types.QueueStats, 0, len(e.queues))
	for _, q := range e.queues {
		stats := *q
		stats.Members = append([]types.QueueMember(nil), q.Members...)
		queues = append(queues, stats)
	}
	sort.Slice(queues, func(i, j int) bool { return queues[i].Name < queues[j].Name })

	agents := e.agentListLocked(availability, calls)
	active := 0
	for _, a := range agents {
		if a.Status != "Offline" {
			active++
		}
	}

	now := e.clk.Now()
	return types.Snapshot{
		Type:                  "snapshot",
		Timestamp:             now,
		ActiveCalls:           len(calls),
		ActiveCallsList:       calls,
		Queues:                queues,
		ActiveAgents:          active,
		Agents:                agents,
		TotalCalls:            e.counters.daily.Total,
		AbandonedCalls:        e.counters.daily.Abandoned,
		WeeklyTotalCalls:      e.counters.weekly.Total,
		WeeklyAbandonedCalls:  e.counters.weekly.Abandoned,
		MonthlyTotalCalls:     e.counters.monthly.Total,
		MonthlyAbandonedCalls: e.counters.monthly.Abandoned,
		CallsPerHour:          e.counters.perHour,
		Alerts:                alerts.CheckQueueAlerts(now, queues, calls),
	}
}

// agentListLocked joins the identity directory with presence and live
// calls. Caller holds e.mu (read side).
func (e *Engine) agentListLocked(availability []types.AvailabilityEntry, calls []types.ActiveCall) []types.AgentStatus {
	presence := make(map[string]types.AvailabilityEntry, len(availability))
	for _, a := range availability {
		presence[a.Extension] = a
	}

	onCall := make(map[string]*types.ActiveCall)
	for i := range calls {
		c := &calls[i]
		if c.Extension != "" {
			onCall[c.Extension] = c
		}
	}

	agents := make([]types.AgentStatus, 0, len(e.identities))
	for _, id := range e.identities {
		status := types.AgentStatus{
			ID:        id.ID,
			Name:      id.Name,
			Extension: id.Extension,
			Status:    "Offline",
		}
		if p, ok := presence[id.Extension]; ok {
			status.RawStatus = p.RawStatus
			status.ContactURI = p.ContactURI
			status.LastSeen = p.LastSeen
			if p.IsRegistered {
				status.Status = "Registered"
			}
		}
		if c, ok := onCall[id.Extension]; ok {
			status.Status = "On Call"
			status.CurrentCall = &types.AgentCall{
				UniqueID:  c.UniqueID,
				CallerID:  c.CallerID,
				StartTime: c.StartTime.Format(time.RFC3339),
			}
		}
		agents = append(agents, status)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Extension < agents[j].Extension })
	return agents
}

// refreshCounters re-reads durable aggregates when the cached ones age
// out. Daily is since local midnight; weekly and monthly are trailing
// windows.
func (e *Engine) refreshCounters(ctx context.Context) {
	e.mu.RLock()
	fresh := e.clk.Now().Sub(e.counters.refreshed) < counterValidity && !e.counters.refreshed.IsZero()
	e.mu.RUnlock()
	if fresh {
		return
	}

	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := e.clk.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var next counters
	var err error
	if next.daily, err = e.store.TrunkCounts(readCtx, midnight); err != nil {
		e.countersFailed(err)
		return
	}
	if next.weekly, err = e.store.TrunkCounts(readCtx, now.AddDate(0, 0, -7)); err != nil {
		e.countersFailed(err)
		return
	}
	if next.monthly, err = e.store.TrunkCounts(readCtx, now.AddDate(0, -1, 0)); err != nil {
		e.countersFailed(err)
		return
	}
	if next.perHour, err = e.store.HourlyVolume(readCtx, 6); err != nil {
		e.countersFailed(err)
		return
	}
	next.refreshed = now

	identities, err := e.store.Identities(readCtx)
	if err != nil {
		e.countersFailed(err)
		return
	}

	e.mu.Lock()
	e.counters = next
	e.identities = identities
	e.mu.Unlock()
}

func (e *Engine) countersFailed(err error) {
	metrics.Get().RecordStoreError()
	e.logger.Warn().Err(err).Msg("counter refresh failed, keeping cached values")
}

// abandonRate returns abandoned/total as a percentage with one decimal
func abandonRate(abandoned, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(abandoned)/float64(total)*1000) / 10
}

// formatWait renders seconds as m:ss
func formatWait(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
