package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// mqttPayload is the JSON structure published for each CallStateChange.
type mqttPayload struct {
	Event            string    `json:"event"`
	Description      string    `json:"description"`
	CallID           string    `json:"call_id"`
	Direction        Direction `json:"direction"`
	From             Endpoint  `json:"from"`
	To               Endpoint  `json:"to"`
	Timestamp        string    `json:"timestamp"`
	Cause            string    `json:"cause,omitempty"`
	CauseDescription string    `json:"cause_description,omitempty"`
	CauseCode        *int      `json:"cause_code,omitempty"`
	TotalDuration    *float64  `json:"total_duration_seconds,omitempty"`
}

var stateDescriptions = map[CallState]string{
	StateStarted: "A call entered the exchange and was recorded",
	StateCallee:  "The call is being offered to a destination",
	StateEnded:   "The call has ended",
}

// Topic returns the MQTT topic for a change under prefix.
func Topic(prefix string, change CallStateChange) string {
	return fmt.Sprintf("%s/call/%s/%s", prefix, change.CallID, change.State)
}

// EncodeChange renders change as the published JSON document.
func EncodeChange(change CallStateChange) ([]byte, error) {
	payload := mqttPayload{
		Event:       string(change.State),
		Description: stateDescriptions[change.State],
		CallID:      change.CallID,
		Direction:   change.Direction,
		From:        change.From,
		To:          change.To,
		Timestamp:   change.Timestamp.UTC().Format(time.RFC3339),
	}

	if change.State == StateEnded {
		payload.Cause = change.Cause
		payload.CauseDescription = change.CauseDescription
		payload.CauseCode = &change.CauseCode
		payload.TotalDuration = &change.TotalDuration
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	return data, nil
}

// publish sends change when a publisher is configured. Failures are logged
// and counted.
func (c *Correlator) publish(ctx context.Context, change CallStateChange) {
	if c.pub == nil {
		return
	}
	topic := Topic(c.topicPrefix, change)
	data, err := EncodeChange(change)
	if err == nil {
		cctx, cancel := c.callCtx(ctx)
		err = c.pub.Publish(cctx, topic, data)
		cancel()
	}
	if err != nil {
		collaboratorErrors.WithLabelValues("publisher", string(change.State)).Inc()
		c.logger.Warn("publish failed", "key", change.CallID, "topic", topic, "error", err)
		return
	}
	c.logger.Debug("published", "key", change.CallID, "topic", topic)
}
