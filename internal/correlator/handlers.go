package correlator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/sweeney/asterisk-ledger/internal/ami"
	"github.com/sweeney/asterisk-ledger/internal/phone"
	"github.com/sweeney/asterisk-ledger/internal/store"
)

func (c *Correlator) handleNewchannel(ctx context.Context, evt ami.Event) []CallStateChange {
	key := CorrelationKey(evt)
	raw := strings.TrimSpace(evt.CallerIDNum())
	if key == "" || raw == "" {
		malformedTotal.WithLabelValues(evt.Type()).Inc()
		c.logger.Warn("channel created without key or caller", "event", evt.Type(), "channel", evt.Channel())
		return nil
	}
	log := c.logger.With("key", key, "channel", evt.Channel())

	caller, err := c.norm.Caller(ctx, raw)
	if err != nil {
		log.Warn("caller lookup failed, number left unchanged", "caller", raw, "error", err)
	}
	contact, found := c.lookupForDisplay(ctx, key, caller.Number)

	if c.isRoutingLeg(raw, evt.Channel()) {
		log.Debug("operator routing leg", "caller", raw)
		c.announce(ctx, key, evt, caller, contact, found)
		return nil
	}

	now := c.clock()
	session := CallSession{
		Key:          key,
		CallerNumber: caller.Number,
		CallerName:   NotRegistered,
		Channel:      evt.Channel(),
		StartTime:    now,
		Direction:    c.direction(raw, caller.Number),
	}
	if found && contact.Name != "" {
		session.CallerName = contact.Name
	}

	var changes []CallStateChange
	res, err := c.table.Open(session)
	if err != nil {
		collaboratorErrors.WithLabelValues("dedup", "open").Inc()
		log.Warn("processed-key store failed", "error", err)
	}
	switch res {
	case OpenAlreadyProcessed:
		duplicatesTotal.Inc()
		log.Debug("duplicate channel created", "caller", caller.Number)

	case OpenRepeated:
		log.Debug("channel created for active call", "caller", caller.Number)

	case OpenCreated:
		c.recordStart(ctx, log, session)
		changes = append(changes, CallStateChange{
			State:     StateStarted,
			CallID:    key,
			Direction: session.Direction,
			From:      Endpoint{Number: session.CallerNumber, Name: session.CallerName},
			Timestamp: now,
		})
	}

	c.announce(ctx, key, evt, caller, contact, found)
	return changes
}

// recordStart creates the ledger row for a new session unless a row for the
// key already exists from before a restart. Recency is measured from the
// session's start on the correlator clock.
func (c *Correlator) recordStart(ctx context.Context, log *slog.Logger, s CallSession) {
	var since time.Time
	if c.window > 0 {
		since = s.StartTime.Add(-c.window)
	}
	cctx, cancel := c.callCtx(ctx)
	exists, err := c.ledger.CallExists(cctx, s.Key, since)
	cancel()
	if err != nil {
		collaboratorErrors.WithLabelValues("ledger", "call_exists").Inc()
		log.Warn("checking existing call failed", "error", err)
	}
	if exists {
		log.Info("call already recorded, not creating", "caller", s.CallerNumber)
		return
	}

	cctx, cancel = c.callCtx(ctx)
	err = c.ledger.CreateCall(cctx, store.Call{
		CallerNumber:   s.CallerNumber,
		CallerName:     s.CallerName,
		StartTime:      s.StartTime,
		EndTime:        s.StartTime,
		CallType:       s.Direction.String(),
		CorrelationKey: s.Key,
	})
	cancel()
	if err != nil {
		collaboratorErrors.WithLabelValues("ledger", "create_call").Inc()
		log.Warn("creating call failed", "caller", s.CallerNumber, "error", err)
		return
	}
	c.table.MarkRecorded(s.Key)
	log.Info("call started", "caller", s.CallerNumber, "direction", s.Direction.String())
}

// lookupForDisplay fetches the contact shown to the answering party. A
// failed lookup is logged and treated as not found.
func (c *Correlator) lookupForDisplay(ctx context.Context, key, number string) (*store.Contact, bool) {
	if number == "" {
		return nil, false
	}
	contact, err := c.findContact(ctx, number)
	if err != nil {
		c.logger.Warn("contact lookup failed", "key", key, "caller", number, "error", err)
		return nil, false
	}
	return contact, contact != nil
}

// announce sets the caller identity on the channel being offered the call,
// or on the event's own channel when no destination is known.
func (c *Correlator) announce(ctx context.Context, key string, evt ami.Event, caller phone.Result, contact *store.Contact, found bool) {
	target := evt.DestChannel()
	if target == "" {
		target = evt.Channel()
	}
	if !found {
		contact = nil
	}
	identity := DisplayIdentity(caller.Number, caller.Kind, contact)

	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	if err := c.announcer.Announce(cctx, target, identity); err != nil {
		collaboratorErrors.WithLabelValues("announcer", "announce").Inc()
		c.logger.Warn("announce failed", "key", key, "channel", target, "error", err)
		return
	}
	c.logger.Debug("announced caller", "key", key, "channel", target, "identity", identity)
}

func (c *Correlator) handleDialBegin(ctx context.Context, evt ami.Event) []CallStateChange {
	key := CorrelationKey(evt)
	dest := strings.TrimSpace(evt.DestCallerIDNum())
	if dest == "" {
		dest = strings.TrimSpace(evt.DestExten())
	}
	if key == "" || dest == "" {
		malformedTotal.WithLabelValues(evt.Type()).Inc()
		c.logger.Warn("dial begin without key or destination", "event", evt.Type(), "channel", evt.Channel())
		return nil
	}
	log := c.logger.With("key", key, "channel", evt.DestChannel())

	if c.isTrunk(evt.DestChannel()) {
		log.Debug("dial to trunk leg ignored")
		return nil
	}

	callee, err := c.norm.Destination(ctx, dest)
	if err != nil {
		log.Warn("callee lookup failed, number left unchanged", "callee", dest, "error", err)
	}
	c.table.SetCallee(key, callee.Number)
	name := c.calleeName(ctx, key, callee.Number)

	cctx, cancel := c.callCtx(ctx)
	updated, err := c.ledger.UpdateCallee(cctx, key, callee.Number, name)
	cancel()
	if err != nil {
		collaboratorErrors.WithLabelValues("ledger", "update_callee").Inc()
		log.Warn("updating callee failed", "callee", callee.Number, "error", err)
	} else if !updated {
		log.Debug("no call to update callee on", "callee", callee.Number)
	} else {
		log.Info("callee set", "callee", callee.Number)
	}

	change := CallStateChange{
		State:     StateCallee,
		CallID:    key,
		To:        Endpoint{Number: callee.Number, Name: name},
		Timestamp: c.clock(),
	}
	if s, ok := c.table.Get(key); ok {
		change.Direction = s.Direction
		change.From = Endpoint{Number: s.CallerNumber, Name: s.CallerName}
	}
	return []CallStateChange{change}
}

// calleeName resolves number in the directory, adding a placeholder entry
// for numbers not seen before. Unnamed entries read as NotRegistered.
func (c *Correlator) calleeName(ctx context.Context, key, number string) string {
	contact, err := c.findContact(ctx, number)
	if err != nil {
		c.logger.Warn("callee lookup failed", "key", key, "callee", number, "error", err)
		return NotRegistered
	}
	if contact != nil {
		if contact.Name == "" {
			return NotRegistered
		}
		return contact.Name
	}

	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	if err := c.dir.UpsertContact(cctx, store.Contact{Number: number}); err != nil {
		collaboratorErrors.WithLabelValues("directory", "upsert_contact").Inc()
		c.logger.Warn("adding placeholder contact failed", "key", key, "callee", number, "error", err)
	} else {
		c.logger.Info("placeholder contact added", "key", key, "callee", number)
	}
	return NotRegistered
}

func (c *Correlator) handleHangup(ctx context.Context, evt ami.Event) []CallStateChange {
	key := CorrelationKey(evt)
	if key == "" {
		malformedTotal.WithLabelValues(evt.Type()).Inc()
		c.logger.Warn("hangup without key", "event", evt.Type(), "channel", evt.Channel())
		return nil
	}
	log := c.logger.With("key", key, "channel", evt.Channel())

	// The key stays: a carrier leg hanging up does not end the call here.
	if c.isTrunk(evt.Channel()) {
		log.Debug("trunk leg hangup ignored")
		return nil
	}
	defer c.table.Remove(key)

	now := c.clock()
	session, active := c.table.Get(key)

	cc := store.CloseCall{Key: key, EndTime: now}
	if active && session.Recorded {
		start := session.StartTime
		cc.StartTime = &start
	}

	abandon := false
	switch {
	case active && session.CalleeNumber != "":
		cc.CalleeNumber = session.CalleeNumber
		cc.CalleeName = c.calleeName(ctx, key, session.CalleeNumber)
	default:
		connected := strings.TrimSpace(evt.ConnectedLineNum())
		switch {
		case connected == c.pbx.UnknownSentinel && connected != "":
			abandon = true
		case connected == "":
		default:
			callee, err := c.norm.Destination(ctx, connected)
			if err != nil {
				log.Warn("callee lookup failed, number left unchanged", "callee", connected, "error", err)
			}
			cc.CalleeNumber = callee.Number
			cc.CalleeName = c.calleeName(ctx, key, callee.Number)
		}
	}

	if abandon {
		log.Info("connected line unknown, call left open")
	} else {
		cctx, cancel := c.callCtx(ctx)
		closed, err := c.ledger.CloseCall(cctx, cc)
		cancel()
		switch {
		case err != nil:
			collaboratorErrors.WithLabelValues("ledger", "close_call").Inc()
			log.Warn("closing call failed", "error", err)
		case !closed:
			log.Debug("call already closed or not found")
		default:
			log.Info("call ended", "callee", cc.CalleeNumber)
		}
	}

	if !active {
		return nil
	}

	code := evt.GetInt("Cause")
	cause, desc := describeCause(code)
	return []CallStateChange{{
		State:            StateEnded,
		CallID:           key,
		Direction:        session.Direction,
		From:             Endpoint{Number: session.CallerNumber, Name: session.CallerName},
		To:               Endpoint{Number: cc.CalleeNumber, Name: cc.CalleeName},
		Timestamp:        now,
		Cause:            cause,
		CauseDescription: desc,
		CauseCode:        code,
		TotalDuration:    now.Sub(session.StartTime).Seconds(),
	}}
}

func (c *Correlator) handleTransfer(evt ami.Event) {
	transfersTotal.WithLabelValues(evt.Type()).Inc()
	c.logger.Info("transfer observed",
		"event", evt.Type(),
		"key", CorrelationKey(evt),
		"result", evt.Get("Result"),
		"transferer", evt.Get("TransfererChannel"),
		"transferer_key", evt.Get("TransfererLinkedid"),
		"transferee", evt.Get("TransfereeChannel"),
		"extension", evt.Get("Extension"),
	)
}
