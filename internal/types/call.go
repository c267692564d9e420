package types

import "time"

// CallStatus represents the lifecycle state of an active call
type CallStatus string

const (
	CallStatusRinging     CallStatus = "ringing"     // Channel created or queued, not yet answered
	CallStatusAnswered    CallStatus = "answered"    // Bridged to an agent
	CallStatusConsulting  CallStatus = "consulting"  // Attended transfer in progress
	CallStatusTransferred CallStatus = "transferred" // Blind transfer completed
)

// CallDirection classifies a call leg relative to the switch
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
	DirectionInternal CallDirection = "internal"
)

// ActiveCall represents one live call leg tracked in memory.
// Keyed by the switch-assigned unique call identifier; at most one
// entry exists per identifier at any time.
type ActiveCall struct {
	UniqueID       string        `json:"uniqueid"`
	CallerID       string        `json:"callerId"`
	Extension      string        `json:"extension"`
	Channel        string        `json:"channel,omitempty"`
	Context        string        `json:"context,omitempty"`
	Status         CallStatus    `json:"status"`
	Direction      CallDirection `json:"direction"`
	Queue          string        `json:"queue,omitempty"`
	Position       int           `json:"position,omitempty"`
	BridgedChannel string        `json:"bridgedChannel,omitempty"`
	TransferTarget string        `json:"transferTarget,omitempty"`
	TransferType   string        `json:"transferType,omitempty"`
	StartTime      time.Time     `json:"startTime"`
	AnswerTime     *time.Time    `json:"answerTime,omitempty"`
	LastActivity   time.Time     `json:"-"`
}
