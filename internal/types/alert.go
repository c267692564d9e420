package types

// Alert severities
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert flags an operational condition worth a supervisor's attention
type Alert struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Queue    string `json:"queue,omitempty"`
	Message  string `json:"message"`
}
