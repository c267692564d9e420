package ami

import "strings"

// Message is one inbound protocol block parsed into a flat mapping of
// key: value lines.
type Message map[string]string

// parseMessage splits a block into lines and each line on the first
// ": " separator. Lines without a separator are ignored.
func parseMessage(block string) Message {
	msg := make(Message)
	for _, line := range strings.Split(block, "\r\n") {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			// Some payload lines use "key:value" without a space
			key, value, ok = strings.Cut(line, ":")
			if !ok {
				continue
			}
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		msg[key] = strings.TrimSpace(value)
	}
	return msg
}

// Get returns the first non-empty value among the given keys, checking
// both the exact key and its lower-cased form. The switch is not
// consistent about field casing across versions.
func (m Message) Get(keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
		if v := m[strings.ToLower(k)]; v != "" {
			return v
		}
	}
	return ""
}

// ActionID returns the correlation identifier, if any
func (m Message) ActionID() string { return m.Get("ActionID") }

// Event returns the event kind field, if any
func (m Message) Event() string { return m.Get("Event") }

// Response returns the response status field, if any
func (m Message) Response() string { return m.Get("Response") }

// Response carries a finalized, possibly multi-part reply to an action
type Response struct {
	Message Message
	Output  string    // concatenated continuation payload
	Events  []Message // sub-events of a list-style response
}

// Success reports whether the terminal status was a success
func (r *Response) Success() bool {
	return strings.EqualFold(r.Message.Response(), "Success")
}

// Get proxies to the terminal message's fields
func (r *Response) Get(keys ...string) string { return r.Message.Get(keys...) }
