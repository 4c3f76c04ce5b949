package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func intPtr(v int) *int { return &v }

var t0 = time.Date(2026, 3, 2, 10, 15, 0, 123456789, time.UTC)

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertContact(context.Background(), Contact{Number: "410"}))
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()
	ok, err := s.HasContact(context.Background(), "410")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestContacts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	c, err := s.FindContact(ctx, "521123456")
	require.NoError(t, err)
	assert.Nil(t, c)

	require.NoError(t, s.UpsertContact(ctx, Contact{Number: "521123456", Name: "ACME", City: "Roma"}))
	require.NoError(t, s.UpsertContact(ctx, Contact{Number: "410", Name: "Reception", Internal: intPtr(1)}))
	require.NoError(t, s.UpsertContact(ctx, Contact{Number: "3331234567"}))

	c, err = s.FindContact(ctx, "410")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Reception", c.Name)
	require.NotNil(t, c.Internal)
	assert.Equal(t, 1, *c.Internal)
	assert.False(t, c.Complete())

	// Upsert replaces.
	require.NoError(t, s.UpsertContact(ctx, Contact{Number: "3331234567", Name: "Mario", City: "Napoli"}))
	c, err = s.FindContact(ctx, "3331234567")
	require.NoError(t, err)
	assert.True(t, c.Complete())
	assert.Nil(t, c.Internal)

	all, err := s.ListContacts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	incomplete, err := s.IncompleteContacts(ctx)
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, "410", incomplete[0].Number)

	require.NoError(t, s.DeleteContact(ctx, "410"))
	assert.ErrorIs(t, s.DeleteContact(ctx, "410"), ErrNotFound)
}

func TestCreateCallStartsOpen(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateCall(ctx, Call{
		CallerNumber:   "521123456",
		CallerName:     "ACME",
		StartTime:      t0,
		EndTime:        t0.Add(time.Hour), // ignored
		CallType:       "Inbound",
		CorrelationKey: "1771000100.12",
	}))

	calls, err := s.CallsByKey(ctx, "1771000100.12")
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Open())
	assert.True(t, calls[0].StartTime.Equal(t0))
	assert.Equal(t, "Inbound", calls[0].CallType)
}

func TestCloseCallGuards(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.CreateCall(ctx, Call{CallerNumber: "410", StartTime: t0, CorrelationKey: "k"}))

	// A callee equal to the caller matches nothing.
	ok, err := s.CloseCall(ctx, CloseCall{Key: "k", EndTime: t0.Add(time.Minute), CalleeNumber: "410"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CloseCall(ctx, CloseCall{Key: "k", EndTime: t0.Add(time.Minute), CalleeNumber: "521123456", CalleeName: "ACME"})
	require.NoError(t, err)
	assert.True(t, ok)

	// Second close is refused.
	ok, err = s.CloseCall(ctx, CloseCall{Key: "k", EndTime: t0.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.False(t, ok)

	calls, err := s.CallsByKey(ctx, "k")
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.True(t, calls[0].EndTime.Equal(t0.Add(time.Minute)))
	assert.Equal(t, "521123456", calls[0].CalleeNumber)
	assert.Equal(t, "ACME", calls[0].CalleeName)
}

func TestCloseCallCorrectsStartTime(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.CreateCall(ctx, Call{CallerNumber: "521123456", StartTime: t0, CorrelationKey: "k"}))

	start := t0.Add(-time.Second)
	ok, err := s.CloseCall(ctx, CloseCall{Key: "k", EndTime: t0.Add(time.Minute), StartTime: &start})
	require.NoError(t, err)
	assert.True(t, ok)

	calls, _ := s.CallsByKey(ctx, "k")
	assert.True(t, calls[0].StartTime.Equal(start))
	assert.Empty(t, calls[0].CalleeNumber)
}

func TestLateCalleeUpdateDroppedOnClosedCall(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.CreateCall(ctx, Call{CallerNumber: "521123456", StartTime: t0, CorrelationKey: "k"}))

	end := t0.Add(30 * time.Second)
	ok, err := s.CloseCall(ctx, CloseCall{Key: "k", EndTime: end})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.UpdateCallee(ctx, "k", "410", "Reception")
	require.NoError(t, err)
	assert.False(t, ok)

	calls, _ := s.CallsByKey(ctx, "k")
	assert.True(t, calls[0].EndTime.Equal(end))
	assert.Empty(t, calls[0].CalleeNumber)
	assert.Empty(t, calls[0].CalleeName)

	ok, err = s.UpdateCallee(ctx, "missing", "410", "Reception")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCallExists(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.CreateCall(ctx, Call{CallerNumber: "1", StartTime: t0, CorrelationKey: "recent"}))
	require.NoError(t, s.CreateCall(ctx, Call{CallerNumber: "1", StartTime: t0.Add(-time.Hour), CorrelationKey: "old"}))

	since := t0.Add(-5 * time.Minute)
	ok, err := s.CallExists(ctx, "recent", since)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CallExists(ctx, "old", since)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CallExists(ctx, "old", time.Time{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CallExists(ctx, "missing", time.Time{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateCalleeOnOpenCall(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.CreateCall(ctx, Call{CallerNumber: "521123456", StartTime: t0, CorrelationKey: "k"}))

	ok, err := s.UpdateCallee(ctx, "k", "410", "Reception")
	require.NoError(t, err)
	assert.True(t, ok)

	calls, _ := s.CallsByKey(ctx, "k")
	assert.Equal(t, "410", calls[0].CalleeNumber)
	assert.Equal(t, "Reception", calls[0].CalleeName)
	assert.True(t, calls[0].Open())
}

func TestCallQueries(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.CreateCall(ctx, Call{CallerNumber: "521123456", CalleeNumber: "410", StartTime: t0, CorrelationKey: "a"}))
	require.NoError(t, s.CreateCall(ctx, Call{CallerNumber: "410", CalleeNumber: "521123456", StartTime: t0.Add(time.Hour), CorrelationKey: "b"}))
	require.NoError(t, s.CreateCall(ctx, Call{CallerNumber: "521123456", CalleeNumber: "410", StartTime: t0.Add(2 * time.Hour), CorrelationKey: "c"}))
	require.NoError(t, s.CreateCall(ctx, Call{CallerNumber: "999", StartTime: t0, CorrelationKey: "d"}))

	all, err := s.ListCalls(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "c", all[0].CorrelationKey)

	byNumber, err := s.CallsByNumber(ctx, "521123456")
	require.NoError(t, err)
	require.Len(t, byNumber, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{
		byNumber[0].CorrelationKey, byNumber[1].CorrelationKey, byNumber[2].CorrelationKey,
	})

	latest, err := s.LatestCallBetween(ctx, "521123456", "410")
	require.NoError(t, err)
	assert.Equal(t, "c", latest.CorrelationKey)

	_, err = s.LatestCallBetween(ctx, "410", "999")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.CallByID(ctx, latest.ID)
	require.NoError(t, err)
	assert.Equal(t, "c", got.CorrelationKey)
	_, err = s.CallByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpdateCallExtra(ctx, latest.ID, "Roma office"))
	got, _ = s.CallByID(ctx, latest.ID)
	assert.Equal(t, "Roma office", got.Extra)
	assert.ErrorIs(t, s.UpdateCallExtra(ctx, 9999, "x"), ErrNotFound)

	require.NoError(t, s.DeleteCallByKey(ctx, "c"))
	assert.ErrorIs(t, s.DeleteCallByKey(ctx, "c"), ErrNotFound)
}
