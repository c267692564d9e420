package ami

import (
	"sort"
	"strings"
	"time"
)

// Action is an outbound command for the switch's management channel
type Action struct {
	Name   string
	Fields map[string]string
}

// NewAction builds an Action with the given name and key/value fields
func NewAction(name string, fields map[string]string) Action {
	if fields == nil {
		fields = make(map[string]string)
	}
	return Action{Name: name, Fields: fields}
}

// serialize renders the action as protocol lines terminated by a blank
// line. The Action line comes first, then ActionID, then the remaining
// fields in a stable order.
func (a Action) serialize(actionID string) []byte {
	var b strings.Builder
	b.WriteString("Action: ")
	b.WriteString(a.Name)
	b.WriteString("\r\n")
	b.WriteString("ActionID: ")
	b.WriteString(actionID)
	b.WriteString("\r\n")

	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(a.Fields[k])
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// actionTimeout picks the response deadline by action category: short
// for lightweight probes, longer for bulk queue and endpoint
// enumeration operations.
func actionTimeout(name string) time.Duration {
	switch {
	case name == "Command":
		return 8 * time.Second
	case strings.HasPrefix(name, "Queue"):
		return 25 * time.Second
	case strings.HasPrefix(name, "PJSIPShow"):
		return 20 * time.Second
	default:
		return 15 * time.Second
	}
}
