// Package correlator turns the AMI event stream into call ledger records.
//
// Events are grouped by correlation key (Linkedid, else Uniqueid). Each key
// is an independent session: channel-created opens it and records the call,
// dial-begin fills in the callee, hangup closes the record and forgets the
// key. Events for one key are processed in arrival order; distinct keys are
// processed concurrently.
package correlator

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sweeney/asterisk-ledger/internal/ami"
	"github.com/sweeney/asterisk-ledger/internal/dedup"
	"github.com/sweeney/asterisk-ledger/internal/phone"
	"github.com/sweeney/asterisk-ledger/internal/publisher"
	"github.com/sweeney/asterisk-ledger/internal/store"
)

// ErrStopped is returned by Submit once Stop has been called.
var ErrStopped = errors.New("correlator stopped")

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// PBX describes which numbers and channels get special treatment.
type PBX struct {
	// OperatorNumbers are callers whose legs only route calls.
	OperatorNumbers []string
	// OperatorChannels are channel name prefixes of routing legs.
	OperatorChannels []string
	// OutboundExtensions are callers whose calls are recorded as outbound.
	OutboundExtensions []string
	// TrunkMarkers are substrings identifying carrier channels.
	TrunkMarkers []string
	// UnknownSentinel is the ConnectedLineNum Asterisk reports when it has none.
	UnknownSentinel string
}

// DefaultPBX returns a single operator on extension 1000 and no trunk markers.
func DefaultPBX() PBX {
	return PBX{
		OperatorNumbers:  []string{"1000"},
		OperatorChannels: []string{"PJSIP/1000", "SIP/1000"},
		UnknownSentinel:  "<unknown>",
	}
}

// Correlator tracks AMI events per call and drives the ledger, the
// announcer and the lifecycle publisher.
type Correlator struct {
	table     *Table
	dir       Directory
	ledger    Ledger
	announcer Announcer
	norm      *phone.Normalizer

	pub         publisher.Publisher
	topicPrefix string

	rules       phone.Rules
	pbx         PBX
	clock       Clock
	logger      *slog.Logger
	window      time.Duration
	callTimeout time.Duration
	lookups     singleflight.Group

	queueSize    int
	keyQueueSize int

	intake       chan ami.Event
	submitMu     sync.RWMutex
	stopped      bool
	stopCh       chan struct{}
	stopOnce     sync.Once
	dispatchDone chan struct{}
	started      bool
	startMu      sync.Mutex

	mu      sync.Mutex
	workers map[string]*worker
	wg      sync.WaitGroup
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithClock sets the time source for the correlator.
func WithClock(c Clock) Option {
	return func(corr *Correlator) { corr.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(corr *Correlator) { corr.logger = l }
}

// WithAnnouncer pushes display identities to the PBX through a.
func WithAnnouncer(a Announcer) Option {
	return func(corr *Correlator) { corr.announcer = a }
}

// WithPublisher publishes lifecycle changes under prefix.
func WithPublisher(p publisher.Publisher, prefix string) Option {
	return func(corr *Correlator) {
		corr.pub = p
		corr.topicPrefix = prefix
	}
}

// WithProcessedSet replaces the in-memory processed-key set. window is also
// the ledger's recent-duplicate window.
func WithProcessedSet(s dedup.Set, window time.Duration) Option {
	return func(corr *Correlator) {
		corr.table = NewTable(s)
		corr.window = window
	}
}

// WithRules sets the number normalization rules.
func WithRules(r phone.Rules) Option {
	return func(corr *Correlator) { corr.rules = r }
}

// WithPBX sets the site layout used for routing legs and direction.
func WithPBX(p PBX) Option {
	return func(corr *Correlator) { corr.pbx = p }
}

// WithQueueSizes sets the intake and per-key queue capacities.
func WithQueueSizes(intake, perKey int) Option {
	return func(corr *Correlator) {
		if intake > 0 {
			corr.queueSize = intake
		}
		if perKey > 0 {
			corr.keyQueueSize = perKey
		}
	}
}

// WithCallTimeout bounds every directory, ledger, announcer and publisher call.
func WithCallTimeout(d time.Duration) Option {
	return func(corr *Correlator) { corr.callTimeout = d }
}

const defaultWindow = 5 * time.Minute

// New creates a Correlator backed by dir and ledger.
func New(dir Directory, ledger Ledger, opts ...Option) *Correlator {
	c := &Correlator{
		dir:          dir,
		ledger:       ledger,
		announcer:    nopAnnouncer{},
		rules:        phone.DefaultRules(),
		pbx:          DefaultPBX(),
		clock:        time.Now,
		logger:       slog.Default(),
		window:       defaultWindow,
		callTimeout:  5 * time.Second,
		queueSize:    1024,
		keyQueueSize: 32,
		stopCh:       make(chan struct{}),
		dispatchDone: make(chan struct{}),
		workers:      make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.table == nil {
		c.table = NewTable(dedup.NewMemory(c.window))
	}
	c.intake = make(chan ami.Event, c.queueSize)
	c.norm = phone.NewNormalizer(c.rules, c.contactExists)
	return c
}

// CorrelationKey returns the key grouping evt with the rest of its call.
func CorrelationKey(evt ami.Event) string {
	if id := strings.TrimSpace(evt.LinkedID()); id != "" {
		return id
	}
	return strings.TrimSpace(evt.UniqueID())
}

// Process applies evt synchronously and returns the lifecycle changes it
// produced. It is safe for concurrent use, but events of one key must not
// be processed concurrently with each other.
func (c *Correlator) Process(ctx context.Context, evt ami.Event) []CallStateChange {
	if evt.IsResponse() {
		return nil
	}

	var changes []CallStateChange
	switch evt.Type() {
	case ami.EventNewchannel:
		changes = c.handleNewchannel(ctx, evt)
	case ami.EventDialBegin:
		changes = c.handleDialBegin(ctx, evt)
	case ami.EventHangup:
		changes = c.handleHangup(ctx, evt)
	case ami.EventAttendedTransfer, ami.EventBlindTransfer:
		c.handleTransfer(evt)
	default:
		return nil
	}
	eventsTotal.WithLabelValues(evt.Type()).Inc()
	activeCalls.Set(float64(c.table.Len()))

	for _, change := range changes {
		c.publish(ctx, change)
	}
	return changes
}

// ActiveCalls returns the number of calls currently being tracked.
func (c *Correlator) ActiveCalls() int {
	return c.table.Len()
}

// Sessions returns a snapshot of the active sessions.
func (c *Correlator) Sessions() []CallSession {
	return c.table.Snapshot()
}

// callCtx derives the context for one collaborator call.
func (c *Correlator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

// findContact looks number up, collapsing concurrent lookups of the same
// number into one query.
func (c *Correlator) findContact(ctx context.Context, number string) (*store.Contact, error) {
	v, err, _ := c.lookups.Do(number, func() (any, error) {
		cctx, cancel := c.callCtx(ctx)
		defer cancel()
		return c.dir.FindContact(cctx, number)
	})
	if err != nil {
		collaboratorErrors.WithLabelValues("directory", "find_contact").Inc()
		return nil, err
	}
	contact, _ := v.(*store.Contact)
	if contact == nil {
		return nil, nil
	}
	cp := *contact
	return &cp, nil
}

func (c *Correlator) contactExists(ctx context.Context, number string) (bool, error) {
	contact, err := c.findContact(ctx, number)
	return contact != nil, err
}

func (c *Correlator) isRoutingLeg(caller, channel string) bool {
	if slices.Contains(c.pbx.OperatorNumbers, caller) {
		return true
	}
	for _, prefix := range c.pbx.OperatorChannels {
		if prefix != "" && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *Correlator) isTrunk(channel string) bool {
	for _, marker := range c.pbx.TrunkMarkers {
		if marker != "" && strings.Contains(channel, marker) {
			return true
		}
	}
	return false
}

func (c *Correlator) direction(raw, canonical string) Direction {
	if slices.Contains(c.pbx.OutboundExtensions, raw) || slices.Contains(c.pbx.OutboundExtensions, canonical) {
		return DirectionOutbound
	}
	return DirectionInbound
}
