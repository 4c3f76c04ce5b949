package correlator_test

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/asterisk-ledger/internal/ami"
	"github.com/sweeney/asterisk-ledger/internal/store"
)

// fakeDirectory is an in-memory Directory.
type fakeDirectory struct {
	mu       sync.Mutex
	contacts map[string]store.Contact
	upserts  []store.Contact
	findErr  error
}

func newFakeDirectory(contacts ...store.Contact) *fakeDirectory {
	d := &fakeDirectory{contacts: make(map[string]store.Contact)}
	for _, c := range contacts {
		d.contacts[c.Number] = c
	}
	return d
}

func (d *fakeDirectory) FindContact(_ context.Context, number string) (*store.Contact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.findErr != nil {
		return nil, d.findErr
	}
	c, ok := d.contacts[number]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (d *fakeDirectory) UpsertContact(_ context.Context, c store.Contact) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[c.Number] = c
	d.upserts = append(d.upserts, c)
	return nil
}

func (d *fakeDirectory) Upserts() []store.Contact {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]store.Contact(nil), d.upserts...)
}

// ledgerOp records one Ledger call.
type ledgerOp struct {
	Op     string
	Key    string
	Call   store.Call
	Close  store.CloseCall
	Number string
	Name   string
}

// fakeLedger records every Ledger call.
type fakeLedger struct {
	mu        sync.Mutex
	ops       []ledgerOp
	exists    map[string]bool
	createErr error
	closed    map[string]bool
	since     []time.Time
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{exists: make(map[string]bool), closed: make(map[string]bool)}
}

func (l *fakeLedger) CreateCall(_ context.Context, c store.Call) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, ledgerOp{Op: "create", Key: c.CorrelationKey, Call: c})
	return l.createErr
}

func (l *fakeLedger) UpdateCallee(_ context.Context, key, number, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, ledgerOp{Op: "callee", Key: key, Number: number, Name: name})
	return true, nil
}

func (l *fakeLedger) CloseCall(_ context.Context, cc store.CloseCall) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, ledgerOp{Op: "close", Key: cc.Key, Close: cc})
	if l.closed[cc.Key] {
		return false, nil
	}
	l.closed[cc.Key] = true
	return true, nil
}

func (l *fakeLedger) CallExists(_ context.Context, key string, since time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.since = append(l.since, since)
	return l.exists[key], nil
}

// Since returns the recency bounds CallExists was asked about, in order.
func (l *fakeLedger) Since() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Time(nil), l.since...)
}

func (l *fakeLedger) Ops(op string) []ledgerOp {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledgerOp
	for _, o := range l.ops {
		if op == "" || o.Op == op {
			out = append(out, o)
		}
	}
	return out
}

// OpsFor returns the operation names recorded for key, in order.
func (l *fakeLedger) OpsFor(key string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, o := range l.ops {
		if o.Key == key {
			out = append(out, o.Op)
		}
	}
	return out
}

type announcement struct {
	Channel  string
	Identity string
}

type recordingAnnouncer struct {
	mu    sync.Mutex
	calls []announcement
	err   error
}

func (a *recordingAnnouncer) Announce(_ context.Context, channel, identity string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, announcement{Channel: channel, Identity: identity})
	return a.err
}

func (a *recordingAnnouncer) Calls() []announcement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]announcement(nil), a.calls...)
}

// stepClock advances by one second on every reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newchannel(key, caller, channel string) ami.Event {
	return ami.NewEvent(
		"Event", ami.EventNewchannel,
		"Channel", channel,
		"CallerIDNum", caller,
		"Uniqueid", key,
		"Linkedid", key,
	)
}

func dialBegin(key, dest, destChannel string) ami.Event {
	return ami.NewEvent(
		"Event", ami.EventDialBegin,
		"Channel", "PJSIP/voip-in-00000001",
		"Uniqueid", key,
		"Linkedid", key,
		"DestChannel", destChannel,
		"DestCallerIDNum", dest,
	)
}

func hangup(key, channel, connected string) ami.Event {
	return ami.NewEvent(
		"Event", ami.EventHangup,
		"Channel", channel,
		"Uniqueid", key,
		"Linkedid", key,
		"ConnectedLineNum", connected,
		"Cause", "16",
	)
}
