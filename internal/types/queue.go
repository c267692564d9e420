package types

// QueueMember is one agent interface registered in a queue
type QueueMember struct {
	Name       string `json:"name"`
	Interface  string `json:"interface"`
	Status     string `json:"status"`
	StatusCode string `json:"statusCode"`
	Paused     bool   `json:"paused"`
	CallsTaken int    `json:"callsTaken"`
	LastCall   int64  `json:"lastCall,omitempty"`
}

// QueueStats is the incrementally-maintained state of one queue,
// updated by periodic reports and queue activity events.
type QueueStats struct {
	Name                string        `json:"name"`
	Waiting             int           `json:"waiting"`
	Completed           int           `json:"completedCalls"`
	Abandoned           int           `json:"abandonedCalls"`
	TotalCalls          int           `json:"totalCalls"`
	AnsweredCalls       int           `json:"answeredCalls"`
	ServiceLevel        int           `json:"serviceLevel"`
	ServiceLevelPercent float64       `json:"sla"`
	AvgWaitTime         string        `json:"avgWaitTime"` // m:ss
	AbandonRate         float64       `json:"abandonRate"` // percent, one decimal
	LoggedIn            int           `json:"loggedIn"`
	Available           int           `json:"available"`
	Members             []QueueMember `json:"members,omitempty"`
}

// MemberStatusText maps the protocol's numeric member status to a label
func MemberStatusText(code string) string {
	switch code {
	case "1":
		return "Not in use"
	case "2":
		return "In use"
	case "3":
		return "Busy"
	case "6":
		return "Unavailable"
	default:
		return "Unknown"
	}
}
