package correlator

import (
	"context"
	"time"

	"github.com/sweeney/asterisk-ledger/internal/store"
)

// Directory resolves numbers to contacts. *store.Store implements it.
type Directory interface {
	FindContact(ctx context.Context, number string) (*store.Contact, error)
	UpsertContact(ctx context.Context, c store.Contact) error
}

// Ledger persists call records. *store.Store implements it.
type Ledger interface {
	CreateCall(ctx context.Context, c store.Call) error
	UpdateCallee(ctx context.Context, key, number, name string) (bool, error)
	CloseCall(ctx context.Context, cc store.CloseCall) (bool, error)
	CallExists(ctx context.Context, key string, since time.Time) (bool, error)
}

// Announcer pushes a caller identity onto a live channel.
type Announcer interface {
	Announce(ctx context.Context, channel, identity string) error
}

type nopAnnouncer struct{}

func (nopAnnouncer) Announce(context.Context, string, string) error { return nil }
