package correlator_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/asterisk-ledger/internal/correlator"
	"github.com/sweeney/asterisk-ledger/internal/dedup"
)

func TestTableOpen(t *testing.T) {
	table := correlator.NewTable(dedup.NewMemory(time.Minute))

	res, err := table.Open(correlator.CallSession{Key: "A1", CallerNumber: "521123456"})
	require.NoError(t, err)
	assert.Equal(t, correlator.OpenCreated, res)

	res, err = table.Open(correlator.CallSession{Key: "A1"})
	require.NoError(t, err)
	assert.Equal(t, correlator.OpenAlreadyProcessed, res)

	s, ok := table.Get("A1")
	require.True(t, ok)
	assert.Equal(t, 1, s.Occurrences)
	assert.Equal(t, "521123456", s.CallerNumber)

	processed, err := table.IsProcessed("A1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestTableProcessedOutlivesSession(t *testing.T) {
	table := correlator.NewTable(dedup.NewMemory(0))
	_, err := table.Open(correlator.CallSession{Key: "A1"})
	require.NoError(t, err)

	_, ok := table.Remove("A1")
	require.True(t, ok)
	assert.False(t, table.Contains("A1"))

	// A replay after hangup is still recognized.
	res, err := table.Open(correlator.CallSession{Key: "A1"})
	require.NoError(t, err)
	assert.Equal(t, correlator.OpenAlreadyProcessed, res)
	assert.Equal(t, 0, table.Len())
}

func TestTableGetReturnsCopy(t *testing.T) {
	table := correlator.NewTable(dedup.NewMemory(0))
	table.Put(correlator.CallSession{Key: "A1", CalleeNumber: "410"})

	s, _ := table.Get("A1")
	s.CalleeNumber = "999"

	s2, _ := table.Get("A1")
	assert.Equal(t, "410", s2.CalleeNumber)

	assert.True(t, table.SetCallee("A1", "411"))
	assert.False(t, table.SetCallee("missing", "411"))
	s3, _ := table.Get("A1")
	assert.Equal(t, "411", s3.CalleeNumber)
	assert.Len(t, table.Snapshot(), 1)
}

type failingSet struct{}

func (failingSet) MarkProcessed(string) error        { return errors.New("store offline") }
func (failingSet) IsProcessed(string) (bool, error) { return false, errors.New("store offline") }
func (failingSet) Close() error                      { return nil }

func TestTableOpenWithFailingSetStillTracks(t *testing.T) {
	table := correlator.NewTable(failingSet{})

	res, err := table.Open(correlator.CallSession{Key: "A1"})
	assert.Error(t, err)
	assert.Equal(t, correlator.OpenCreated, res)

	res, err = table.Open(correlator.CallSession{Key: "A1"})
	assert.Error(t, err)
	assert.Equal(t, correlator.OpenRepeated, res)
	assert.Equal(t, 1, table.Len())
}

func TestDirectionJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		D correlator.Direction `json:"d"`
	}{correlator.DirectionOutbound})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"Outbound"}`, string(data))
}
