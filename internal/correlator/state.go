package correlator

import "time"

// CallState names a lifecycle notification.
type CallState string

const (
	StateStarted CallState = "started"
	StateCallee  CallState = "callee"
	StateEnded   CallState = "ended"
)

// Endpoint is one party of a call as the directory knows it.
type Endpoint struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

// CallStateChange is emitted by the correlator when a call transitions state.
type CallStateChange struct {
	State     CallState
	CallID    string
	Direction Direction
	From      Endpoint
	To        Endpoint
	Timestamp time.Time

	// Ended fields
	Cause            string
	CauseDescription string
	CauseCode        int
	TotalDuration    float64
}

// HangupCause maps Asterisk hangup cause codes to names and descriptions.
var HangupCause = map[int]struct {
	Name        string
	Description string
}{
	0:   {"unknown", "Unknown or no cause provided"},
	1:   {"unallocated", "The number dialed does not exist"},
	16:  {"normal_clearing", "The call was hung up normally by one of the parties"},
	17:  {"user_busy", "The destination was busy"},
	18:  {"no_answer", "The destination did not answer"},
	19:  {"no_answer", "The destination did not answer within the timeout"},
	21:  {"call_rejected", "The call was rejected by the destination"},
	31:  {"normal_unspecified", "Normal call clearing, unspecified cause"},
	34:  {"congestion", "All circuits are busy or no circuit is available"},
	127: {"interworking", "An interworking error occurred"},
}

func describeCause(code int) (string, string) {
	if info, ok := HangupCause[code]; ok {
		return info.Name, info.Description
	}
	return HangupCause[0].Name, HangupCause[0].Description
}
