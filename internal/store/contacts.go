package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Contact is a directory entry keyed by its canonical number.
type Contact struct {
	Number   string `json:"number"`
	Name     string `json:"name"`
	City     string `json:"city"`
	Internal *int   `json:"internal,omitempty"`
}

// Complete reports whether both name and city are filled in.
func (c Contact) Complete() bool {
	return c.Name != "" && c.City != ""
}

const contactColumns = "number, name, city, internal"

// FindContact returns the contact for number, or nil when there is none.
func (s *Store) FindContact(ctx context.Context, number string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+contactColumns+" FROM contacts WHERE number = ?", number)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding contact %s: %w", number, err)
	}
	return c, nil
}

// HasContact reports whether number is stored verbatim.
func (s *Store) HasContact(ctx context.Context, number string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM contacts WHERE number = ?", number).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking contact %s: %w", number, err)
	}
	return n > 0, nil
}

// UpsertContact inserts c or replaces the stored fields of the same number.
func (s *Store) UpsertContact(ctx context.Context, c Contact) error {
	var internal sql.NullInt64
	if c.Internal != nil {
		internal = sql.NullInt64{Int64: int64(*c.Internal), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (number, name, city, internal) VALUES (?, ?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET
			name = excluded.name,
			city = excluded.city,
			internal = excluded.internal`,
		c.Number, c.Name, c.City, internal)
	if err != nil {
		return fmt.Errorf("upserting contact %s: %w", c.Number, err)
	}
	return nil
}

func (s *Store) ListContacts(ctx context.Context) ([]Contact, error) {
	return s.queryContacts(ctx, "SELECT "+contactColumns+" FROM contacts ORDER BY number")
}

// IncompleteContacts lists contacts missing a name or a city, usually the
// placeholders created for unknown callees.
func (s *Store) IncompleteContacts(ctx context.Context) ([]Contact, error) {
	return s.queryContacts(ctx, "SELECT "+contactColumns+
		" FROM contacts WHERE name = '' OR city = '' ORDER BY number")
}

func (s *Store) DeleteContact(ctx context.Context, number string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM contacts WHERE number = ?", number)
	if err != nil {
		return fmt.Errorf("deleting contact %s: %w", number, err)
	}
	return requireAffected(res)
}

func (s *Store) queryContacts(ctx context.Context, query string, args ...any) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning contact: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContact(row scanner) (*Contact, error) {
	var c Contact
	var internal sql.NullInt64
	if err := row.Scan(&c.Number, &c.Name, &c.City, &internal); err != nil {
		return nil, err
	}
	if internal.Valid {
		v := int(internal.Int64)
		c.Internal = &v
	}
	return &c, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
