package types

// DomainEvent is the closed set of events emitted by the management
// service facade. Consumers switch exhaustively on the concrete types;
// there is no string-keyed dispatch and no silent fallthrough.
type DomainEvent interface {
	domainEvent()
}

// Call lifecycle

// CallNew is emitted when the switch creates a new channel
type CallNew struct {
	UniqueID string
	CallerID string
	Exten    string
	Context  string
	Channel  string
}

// CallStateChange is emitted when a channel changes state
type CallStateChange struct {
	UniqueID  string
	State     string // numeric channel state
	StateDesc string // "Up", "Ringing", ...
}

// CallBridged is emitted when two channels are bridged (answer)
type CallBridged struct {
	UniqueID    string
	PeerChannel string
	BridgeID    string
}

// CallHangup is the terminal event for a call leg
type CallHangup struct {
	UniqueID      string
	Cause         string
	Context       string
	Channel       string
	CallerID      string
	ConnectedLine string
	Exten         string
}

// TransferStarted is emitted when an attended transfer begins
type TransferStarted struct {
	Channel string
	Target  string
}

// TransferCompleted is emitted when a blind transfer finishes
type TransferCompleted struct {
	Channel      string
	Target       string
	TransferType string
}

// Queue activity

// QueueJoined is emitted when a caller enters a queue
type QueueJoined struct {
	UniqueID string
	Queue    string
	CallerID string
	Exten    string
	Context  string
	Channel  string
	Position int
}

// QueueLeft is emitted when a caller leaves a queue (answered or redirected)
type QueueLeft struct {
	UniqueID string
	Queue    string
}

// QueueAbandoned is emitted when a caller hangs up while waiting
type QueueAbandoned struct {
	UniqueID string
	Queue    string
}

// QueueParamsUpdate carries a periodic per-queue counters report
type QueueParamsUpdate struct {
	Queue               string
	Calls               int
	Completed           int
	Abandoned           int
	ServiceLevel        int
	ServiceLevelPercent float64
}

// QueueSummaryUpdate carries a periodic per-queue occupancy report
type QueueSummaryUpdate struct {
	Queue     string
	LoggedIn  int
	Available int
	Callers   int
	HoldTime  int // seconds
	TalkTime  int // seconds
}

// QueueMemberUpdate carries one queue member's state
type QueueMemberUpdate struct {
	Queue  string
	Member QueueMember
}

// AgentConnected is emitted when a queue hands a caller to an agent
type AgentConnected struct {
	UniqueID string
	Queue    string
	Member   string
}

// AgentCompleted is emitted when an agent finishes a queue call
type AgentCompleted struct {
	UniqueID string
	Queue    string
	Member   string
}

// Endpoint presence

// ContactStatusChange is emitted when an endpoint's registration
// contact changes. Registered and Reachable are independent: a
// registered-but-unqualified contact can still place and receive calls.
type ContactStatusChange struct {
	Extension  string
	RawStatus  string
	ContactURI string
	Registered bool
	Reachable  bool
}

// RecordFinal carries the switch's own authoritative call record event
type RecordFinal struct {
	Record CallRecord
}

// Connection lifecycle

// ConnectionUp is emitted after a successful login. Recovered is true
// when the login follows a disconnect rather than first-time startup.
type ConnectionUp struct {
	Recovered bool
}

// ConnectionDown is emitted when the transport loses its socket
type ConnectionDown struct{}

func (CallNew) domainEvent()             {}
func (CallStateChange) domainEvent()     {}
func (CallBridged) domainEvent()         {}
func (CallHangup) domainEvent()          {}
func (TransferStarted) domainEvent()     {}
func (TransferCompleted) domainEvent()   {}
func (QueueJoined) domainEvent()         {}
func (QueueLeft) domainEvent()           {}
func (QueueAbandoned) domainEvent()      {}
func (QueueParamsUpdate) domainEvent()   {}
func (QueueSummaryUpdate) domainEvent()  {}
func (QueueMemberUpdate) domainEvent()   {}
func (AgentConnected) domainEvent()      {}
func (AgentCompleted) domainEvent()      {}
func (ContactStatusChange) domainEvent() {}
func (RecordFinal) domainEvent()         {}
func (ConnectionUp) domainEvent()        {}
func (ConnectionDown) domainEvent()      {}
