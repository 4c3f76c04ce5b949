package correlator

import (
	"errors"
	"sync"
	"time"

	"github.com/sweeney/asterisk-ledger/internal/dedup"
)

// Direction is the call direction recorded in the ledger.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionInbound
	DirectionOutbound
)

// String returns "Inbound", "Outbound" or "Unknown".
func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return "Inbound"
	case DirectionOutbound:
		return "Outbound"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the direction by name in JSON payloads.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// CallSession is the in-memory state of an active call.
type CallSession struct {
	Key          string
	CallerNumber string
	CallerName   string
	CalleeNumber string
	Channel      string
	StartTime    time.Time
	Direction    Direction
	// Occurrences counts channel-created events seen for the key.
	Occurrences int
	// Recorded is set when this session created the ledger row.
	Recorded bool
}

// OpenResult says what Table.Open did.
type OpenResult int

const (
	// OpenCreated inserted a new session and marked the key processed.
	OpenCreated OpenResult = iota
	// OpenAlreadyProcessed found the key processed and changed nothing.
	OpenAlreadyProcessed
	// OpenRepeated found an active session whose processed mark had expired.
	OpenRepeated
)

// Table holds the active sessions keyed by correlation key.
type Table struct {
	mu        sync.Mutex
	sessions  map[string]*CallSession
	processed dedup.Set
}

// NewTable returns an empty table backed by processed.
func NewTable(processed dedup.Set) *Table {
	return &Table{
		sessions:  make(map[string]*CallSession),
		processed: processed,
	}
}

// Get returns a copy of the session for key.
func (t *Table) Get(key string) (CallSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[key]
	if !ok {
		return CallSession{}, false
	}
	return *s, true
}

// Put stores a copy of s, replacing any session with the same key.
func (t *Table) Put(s CallSession) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[s.Key] = &s
}

// Remove deletes key and returns the session it held.
func (t *Table) Remove(key string) (CallSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[key]
	if !ok {
		return CallSession{}, false
	}
	delete(t.sessions, key)
	return *s, true
}

// Contains reports whether key has an active session.
func (t *Table) Contains(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[key]
	return ok
}

// Len returns the number of active sessions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Snapshot returns copies of every active session.
func (t *Table) Snapshot() []CallSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]CallSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	return out
}

func (t *Table) MarkProcessed(key string) error {
	return t.processed.MarkProcessed(key)
}

func (t *Table) IsProcessed(key string) (bool, error) {
	return t.processed.IsProcessed(key)
}

// Open registers a channel-created event for s.Key in one step. A failing
// processed set is treated as "not processed"; the error is returned with
// the result.
func (t *Table) Open(s CallSession) (OpenResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	processed, checkErr := t.processed.IsProcessed(s.Key)
	if checkErr == nil && processed {
		return OpenAlreadyProcessed, nil
	}

	if existing, ok := t.sessions[s.Key]; ok {
		existing.Occurrences++
		return OpenRepeated, checkErr
	}

	markErr := t.processed.MarkProcessed(s.Key)
	if s.Occurrences == 0 {
		s.Occurrences = 1
	}
	t.sessions[s.Key] = &s
	return OpenCreated, errors.Join(checkErr, markErr)
}

// SetCallee records the callee of an active session.
func (t *Table) SetCallee(key, number string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[key]
	if !ok {
		return false
	}
	s.CalleeNumber = number
	return true
}

// MarkRecorded flags that the session's ledger row was created.
func (t *Table) MarkRecorded(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[key]; ok {
		s.Recorded = true
	}
}
