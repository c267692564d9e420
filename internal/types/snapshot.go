package types

import "time"

// Snapshot is the single payload handed to the broadcast sink on every
// state-changing event and on the periodic tick. It combines the live
// call map, queue stats, the agent list and durable-store-derived
// counters.
type Snapshot struct {
	Type      string    `json:"type"` // always "snapshot"
	Timestamp time.Time `json:"timestamp"`

	ActiveCalls     int          `json:"activeCalls"`
	ActiveCallsList []ActiveCall `json:"activeCallsList"`

	Queues []QueueStats `json:"queueStatus"`

	ActiveAgents int           `json:"activeAgents"`
	Agents       []AgentStatus `json:"activeAgentsList"`

	// Trunk-scoped counters from the durable store; distinct call
	// identifiers only, so per-leg extension rings are not counted
	// as separate calls.
	TotalCalls            int `json:"totalCalls"`
	AbandonedCalls        int `json:"abandonedCalls"`
	WeeklyTotalCalls      int `json:"weeklyTotalCalls"`
	WeeklyAbandonedCalls  int `json:"weeklyAbandonedCalls"`
	MonthlyTotalCalls     int `json:"monthlyTotalCalls"`
	MonthlyAbandonedCalls int `json:"monthlyAbandonedCalls"`

	CallsPerHour []HourlyVolume `json:"callsPerHour"`

	Alerts []Alert `json:"alerts,omitempty"`
}
