package ami

import (
	"bytes"
	"strconv"
)

// Event types the ledger reacts to.
const (
	EventNewchannel       = "Newchannel"
	EventDialBegin        = "DialBegin"
	EventHangup           = "Hangup"
	EventAttendedTransfer = "AttendedTransfer"
	EventBlindTransfer    = "BlindTransfer"
)

// Event is one AMI message block (event or action response) as an ordered
// list of headers. Keys may repeat; Get returns the first match.
type Event struct {
	headers []Header
}

// Header is a single "Key: Value" line.
type Header struct {
	Key   string
	Value string
}

// NewEvent creates an Event from alternating key/value strings.
func NewEvent(kvs ...string) Event {
	e := Event{headers: make([]Header, 0, len(kvs)/2)}
	for i := 0; i+1 < len(kvs); i += 2 {
		e.headers = append(e.headers, Header{Key: kvs[i], Value: kvs[i+1]})
	}
	return e
}

// Get returns the value for the given key, or empty string if not found.
func (e Event) Get(key string) string {
	for _, h := range e.headers {
		if h.Key == key {
			return h.Value
		}
	}
	return ""
}

// Has reports whether the key is present, even with an empty value.
func (e Event) Has(key string) bool {
	for _, h := range e.headers {
		if h.Key == key {
			return true
		}
	}
	return false
}

// Type returns the Event header value (the AMI event type).
func (e Event) Type() string {
	return e.Get("Event")
}

// GetInt returns the integer value for the given key, or 0 if not found/parseable.
func (e Event) GetInt(key string) int {
	v, _ := strconv.Atoi(e.Get(key))
	return v
}

// Headers returns a copy of all headers in wire order.
func (e Event) Headers() []Header {
	out := make([]Header, len(e.headers))
	copy(out, e.headers)
	return out
}

// Attributes returns the headers as a map. Repeated keys keep their first value.
func (e Event) Attributes() map[string]string {
	m := make(map[string]string, len(e.headers))
	for _, h := range e.headers {
		if _, ok := m[h.Key]; !ok {
			m[h.Key] = h.Value
		}
	}
	return m
}

// IsResponse returns true if this is an AMI response rather than an event.
func (e Event) IsResponse() bool {
	return e.Get("Response") != ""
}

// ActionID returns the ActionID header used to match responses to actions.
func (e Event) ActionID() string {
	return e.Get("ActionID")
}

// Channel-level accessors. Asterisk spells these headers inconsistently
// across versions, so keep the spelling in one place.

func (e Event) UniqueID() string         { return e.Get("Uniqueid") }
func (e Event) LinkedID() string         { return e.Get("Linkedid") }
func (e Event) Channel() string          { return e.Get("Channel") }
func (e Event) CallerIDNum() string      { return e.Get("CallerIDNum") }
func (e Event) CallerIDName() string     { return e.Get("CallerIDName") }
func (e Event) ConnectedLineNum() string { return e.Get("ConnectedLineNum") }
func (e Event) DestChannel() string      { return e.Get("DestChannel") }
func (e Event) DestCallerIDNum() string  { return e.Get("DestCallerIDNum") }
func (e Event) DestExten() string        { return e.Get("DestExten") }

// Encode renders the headers in AMI wire format, terminated by a blank line.
func (e Event) Encode() []byte {
	var buf bytes.Buffer
	for _, h := range e.headers {
		buf.WriteString(h.Key)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}
