package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Cancellation is one ledger row. CancelledAt is nil while the backend keeps
// refusing the cancel.
type Cancellation struct {
	AppointmentID string
	CancelledAt   *time.Time
	Attempts      int
	LastError     *string
	LastAttempt   time.Time
}

// Cancelled reports which of ids the sweep already cancelled.
func (s *Store) Cancelled(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT appointment_id FROM sweep_cancellations
		 WHERE appointment_id = ANY($1) AND cancelled_at IS NOT NULL`, ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (s *Store) RecordCancelled(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sweep_cancellations (appointment_id, cancelled_at, attempts, last_attempt)
		 VALUES ($1, $2, 1, $2)
		 ON CONFLICT (appointment_id) DO UPDATE
		 SET cancelled_at = EXCLUDED.cancelled_at,
		     attempts = sweep_cancellations.attempts + 1,
		     last_error = NULL,
		     last_attempt = EXCLUDED.last_attempt`,
		id, at,
	)
	return err
}

func (s *Store) RecordFailure(ctx context.Context, id string, at time.Time, cause error) error {
	msg := cause.Error()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sweep_cancellations (appointment_id, attempts, last_error, last_attempt)
		 VALUES ($1, 1, $2, $3)
		 ON CONFLICT (appointment_id) DO UPDATE
		 SET attempts = sweep_cancellations.attempts + 1,
		     last_error = EXCLUDED.last_error,
		     last_attempt = EXCLUDED.last_attempt
		 WHERE sweep_cancellations.cancelled_at IS NULL`,
		id, msg, at,
	)
	return err
}

var ErrNotFound = errors.New("not found")

func (s *Store) Get(ctx context.Context, id string) (*Cancellation, error) {
	c := &Cancellation{}
	err := s.pool.QueryRow(ctx,
		`SELECT appointment_id, cancelled_at, attempts, last_error, last_attempt
		 FROM sweep_cancellations WHERE appointment_id = $1`, id,
	).Scan(&c.AppointmentID, &c.CancelledAt, &c.Attempts, &c.LastError, &c.LastAttempt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Failing lists the appointments whose cancellation has not gone through
// yet, oldest attempt first.
func (s *Store) Failing(ctx context.Context) ([]Cancellation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT appointment_id, cancelled_at, attempts, last_error, last_attempt
		 FROM sweep_cancellations
		 WHERE cancelled_at IS NULL
		 ORDER BY last_attempt`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Cancellation
	for rows.Next() {
		var c Cancellation
		if err := rows.Scan(&c.AppointmentID, &c.CancelledAt, &c.Attempts, &c.LastError, &c.LastAttempt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
