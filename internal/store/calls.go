package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Call is one row of the call ledger.
type Call struct {
	ID             int64     `json:"id"`
	CallerNumber   string    `json:"callerNumber"`
	CalleeNumber   string    `json:"calleeNumber"`
	CallerName     string    `json:"callerName"`
	CalleeName     string    `json:"calleeName"`
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`
	CallType       string    `json:"callType"`
	CorrelationKey string    `json:"correlationKey"`
	Extra          string    `json:"location"`
}

// Open reports whether the call has not been closed yet.
func (c Call) Open() bool {
	return c.EndTime.Equal(c.StartTime)
}

// CloseCall describes the terminal update of a call.
type CloseCall struct {
	Key     string
	EndTime time.Time
	// StartTime replaces the stored start when the session knew it.
	StartTime    *time.Time
	CalleeNumber string
	CalleeName   string
}

const callColumns = "id, caller_number, callee_number, caller_name, callee_name, start_time, end_time, call_type, correlation_key, extra"

// CreateCall inserts a new open call. EndTime is forced to StartTime.
func (s *Store) CreateCall(ctx context.Context, c Call) error {
	start := formatTime(c.StartTime)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (caller_number, callee_number, caller_name, callee_name,
			start_time, end_time, call_type, correlation_key, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CallerNumber, c.CalleeNumber, c.CallerName, c.CalleeName,
		start, start, c.CallType, c.CorrelationKey, c.Extra)
	if err != nil {
		return fmt.Errorf("creating call %s: %w", c.CorrelationKey, err)
	}
	return nil
}

// UpdateCallee sets the callee columns of the open call for key. Closed
// calls are left alone, so a dial-begin handled after the hangup is dropped.
func (s *Store) UpdateCallee(ctx context.Context, key, number, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE calls SET callee_number = ?, callee_name = ? WHERE correlation_key = ? AND end_time = start_time",
		number, name, key)
	if err != nil {
		return false, fmt.Errorf("updating callee of %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CloseCall sets the end time of the open call for key. Rows already closed
// are left alone, and with a callee given a row whose caller is that same
// number is skipped. It reports whether a row changed.
func (s *Store) CloseCall(ctx context.Context, cc CloseCall) (bool, error) {
	set := []string{"end_time = ?"}
	args := []any{formatTime(cc.EndTime)}
	if cc.StartTime != nil {
		set = append(set, "start_time = ?")
		args = append(args, formatTime(*cc.StartTime))
	}
	where := []string{"correlation_key = ?", "end_time = start_time"}
	whereArgs := []any{cc.Key}
	if cc.CalleeNumber != "" {
		set = append(set, "callee_number = ?", "callee_name = ?")
		args = append(args, cc.CalleeNumber, cc.CalleeName)
		where = append(where, "caller_number <> ?")
		whereArgs = append(whereArgs, cc.CalleeNumber)
	}

	query := "UPDATE calls SET " + strings.Join(set, ", ") + " WHERE " + strings.Join(where, " AND ")
	res, err := s.db.ExecContext(ctx, query, append(args, whereArgs...)...)
	if err != nil {
		return false, fmt.Errorf("closing call %s: %w", cc.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CallExists reports whether a call for key started at or after since. A
// zero since matches calls of any age.
func (s *Store) CallExists(ctx context.Context, key string, since time.Time) (bool, error) {
	query := "SELECT COUNT(1) FROM calls WHERE correlation_key = ?"
	args := []any{key}
	if !since.IsZero() {
		query += " AND start_time >= ?"
		args = append(args, formatTime(since))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("checking call %s: %w", key, err)
	}
	return n > 0, nil
}

// ListCalls returns every call, newest first.
func (s *Store) ListCalls(ctx context.Context) ([]Call, error) {
	return s.queryCalls(ctx, "SELECT "+callColumns+" FROM calls ORDER BY start_time DESC, id DESC")
}

// CallsByNumber returns calls where number is the caller or the callee,
// newest first.
func (s *Store) CallsByNumber(ctx context.Context, number string) ([]Call, error) {
	return s.queryCalls(ctx, "SELECT "+callColumns+
		" FROM calls WHERE caller_number = ? OR callee_number = ? ORDER BY start_time DESC, id DESC",
		number, number)
}

// CallsByKey returns the calls recorded for a correlation key.
func (s *Store) CallsByKey(ctx context.Context, key string) ([]Call, error) {
	return s.queryCalls(ctx, "SELECT "+callColumns+
		" FROM calls WHERE correlation_key = ? ORDER BY id", key)
}

func (s *Store) CallByID(ctx context.Context, id int64) (*Call, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+callColumns+" FROM calls WHERE id = ?", id)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding call %d: %w", id, err)
	}
	return c, nil
}

// LatestCallBetween returns the most recent call from caller to callee.
func (s *Store) LatestCallBetween(ctx context.Context, caller, callee string) (*Call, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+callColumns+
		" FROM calls WHERE caller_number = ? AND callee_number = ? ORDER BY start_time DESC, id DESC LIMIT 1",
		caller, callee)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding call %s -> %s: %w", caller, callee, err)
	}
	return c, nil
}

// UpdateCallExtra stores free-form text against a call.
func (s *Store) UpdateCallExtra(ctx context.Context, id int64, extra string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE calls SET extra = ? WHERE id = ?", extra, id)
	if err != nil {
		return fmt.Errorf("updating call %d: %w", id, err)
	}
	return requireAffected(res)
}

// DeleteCallByKey removes every row recorded for key.
func (s *Store) DeleteCallByKey(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM calls WHERE correlation_key = ?", key)
	if err != nil {
		return fmt.Errorf("deleting call %s: %w", key, err)
	}
	return requireAffected(res)
}

func (s *Store) queryCalls(ctx context.Context, query string, args ...any) ([]Call, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying calls: %w", err)
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning call: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCall(row scanner) (*Call, error) {
	var c Call
	var start, end string
	err := row.Scan(&c.ID, &c.CallerNumber, &c.CalleeNumber, &c.CallerName, &c.CalleeName,
		&start, &end, &c.CallType, &c.CorrelationKey, &c.Extra)
	if err != nil {
		return nil, err
	}
	if c.StartTime, err = parseTime(start); err != nil {
		return nil, err
	}
	if c.EndTime, err = parseTime(end); err != nil {
		return nil, err
	}
	return &c, nil
}
