package types

import "time"

// Call dispositions carried by the durable record. Once a record holds
// DispositionAnswered, or a non-zero BillSec set by the switch's own
// record event, those fields are switch-owned and must not be
// overwritten by derived values.
const (
	DispositionAnswered = "ANSWERED"
	DispositionNormal   = "NORMAL"
	DispositionNoAnswer = "NO ANSWER"
)

// CallRecord is the durable, post-call summary row, one per call
// identifier.
type CallRecord struct {
	UniqueID      string     `json:"uniqueid"`
	CallDate      time.Time  `json:"calldate"`
	Start         time.Time  `json:"start"`
	Answer        *time.Time `json:"answer,omitempty"`
	End           *time.Time `json:"end,omitempty"`
	Src           string     `json:"src"`
	Dst           string     `json:"dst"`
	CallerID      string     `json:"clid"`
	Context       string     `json:"dcontext"`
	Channel       string     `json:"channel"`
	DstChannel    string     `json:"dstchannel,omitempty"`
	LastApp       string     `json:"lastapp,omitempty"`
	LastData      string     `json:"lastdata,omitempty"`
	Duration      int        `json:"duration"`
	BillSec       int        `json:"billsec"`
	Disposition   string     `json:"disposition"`
	RecordingFile string     `json:"recordingfile,omitempty"`
	UserField     string     `json:"userfield,omitempty"`
	Type          string     `json:"type,omitempty"` // inbound / outbound / internal
}

// CallRecordUpdate is a partial update applied to an existing record;
// nil fields are left untouched.
type CallRecordUpdate struct {
	Answer      *time.Time
	End         *time.Time
	Disposition *string
	Duration    *int
	BillSec     *int
	Src         *string
	CallerID    *string
	UserField   *string
	DstChannel  *string
}

// HourlyVolume is one bucket of the trailing call-volume histogram
type HourlyVolume struct {
	Hour      string `json:"hour"` // "HH:00"
	Calls     int    `json:"calls"`
	Handled   int    `json:"handled"`
	Abandoned int    `json:"abandoned"`
}
