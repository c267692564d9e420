package types

// AvailabilityEntry is the cached view of one extension's registration
// state. The durable registration table owned by the switch is the
// authoritative source; entries here are read results with a short
// validity window.
type AvailabilityEntry struct {
	Extension    string `json:"extension"`
	IsRegistered bool   `json:"isRegistered"`
	Status       string `json:"status"`       // Registered / Offline
	Reachability string `json:"amiStatus"`    // Reachable / NonQualified / Offline
	RawStatus    string `json:"rawStatus"`
	ContactURI   string `json:"contactUri,omitempty"`
	LastSeen     int64  `json:"lastSeen,omitempty"`   // unix seconds
	Expiration   int64  `json:"expirationTime,omitempty"` // unix seconds, 0 = none
}

// RegistrationRow is one row of the switch-owned registration table,
// read-only from this system's perspective.
type RegistrationRow struct {
	ID         int64
	Endpoint   string
	URI        string
	Status     string
	Expiration int64
	UserAgent  string
}

// Identity maps an extension to a display name (from the identity directory)
type Identity struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
}

// AgentCall is the condensed view of the call an agent is currently on
type AgentCall struct {
	UniqueID  string `json:"uniqueId"`
	CallerID  string `json:"callerId,omitempty"`
	StartTime string `json:"startTime,omitempty"`
}

// AgentStatus joins an identity record with availability data for the
// snapshot's agent list. An agent on an active call is reported
// "On Call" regardless of raw presence status.
type AgentStatus struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Extension   string     `json:"extension"`
	Status      string     `json:"status"` // On Call / Registered / Offline
	LastSeen    int64      `json:"lastSeen,omitempty"`
	CurrentCall *AgentCall `json:"currentCall,omitempty"`
	RawStatus   string     `json:"amiStatus,omitempty"`
	ContactURI  string     `json:"contactUri,omitempty"`
}
