package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Outbox statuses.
const (
	EventPending = "pending"
	EventSent    = "sent"
	EventFailed  = "failed"
)

// LedgerEvent is one outbox row.
type LedgerEvent struct {
	ID          int64
	Type        string
	AggregateID string
	Payload     json.RawMessage
	Status      string
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EventStats counts outbox rows by status.
type EventStats struct {
	Pending int64
	Sent    int64
	Failed  int64
}

// AppendEvent writes an outbox row. Call it on the Queries of the unit of
// work that made the change so the event commits with it.
func (q *Queries) AppendEvent(ctx context.Context, eventType, aggregateID string, payload any) error {
	body := []byte("{}")
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encode %s payload: %w", eventType, err)
		}
	}
	now := time.Now().UTC()
	_, err := q.exec(ctx, `INSERT INTO ledger_events (event_type, aggregate_id, payload, status, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, '', ?, ?)`, eventType, aggregateID, string(body), EventPending, now, now)
	if err != nil {
		return fmt.Errorf("append event %s: %w", eventType, err)
	}
	return nil
}

// PendingEvents returns up to limit pending rows, oldest first.
func (q *Queries) PendingEvents(ctx context.Context, limit int) ([]LedgerEvent, error) {
	rows, err := q.query(ctx, `SELECT id, event_type, aggregate_id, payload, status, attempts, last_error, created_at, updated_at
		FROM ledger_events WHERE status = ? ORDER BY id LIMIT ?`, EventPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	defer rows.Close()

	var out []LedgerEvent
	for rows.Next() {
		var (
			e       LedgerEvent
			payload string
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.AggregateID, &payload, &e.Status, &e.Attempts, &e.LastError, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) MarkEventSent(ctx context.Context, id int64) error {
	_, err := q.exec(ctx, `UPDATE ledger_events SET status = ?, attempts = attempts + 1, last_error = '', updated_at = ? WHERE id = ?`,
		EventSent, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark event sent: %w", err)
	}
	return nil
}

// MarkEventAttemptFailed records a failed publish. The row stays pending
// until maxAttempts is reached, then becomes failed.
func (q *Queries) MarkEventAttemptFailed(ctx context.Context, id int64, cause string, maxAttempts int) error {
	_, err := q.exec(ctx, `UPDATE ledger_events
		SET attempts = attempts + 1,
			last_error = ?,
			status = CASE WHEN attempts + 1 >= ? THEN CAST(? AS TEXT) ELSE CAST(? AS TEXT) END,
			updated_at = ?
		WHERE id = ?`, cause, maxAttempts, EventFailed, EventPending, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark event attempt failed: %w", err)
	}
	return nil
}

// DeleteSentEventsBefore removes sent rows last touched before cutoff.
func (q *Queries) DeleteSentEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.exec(ctx, `DELETE FROM ledger_events WHERE status = ? AND updated_at < ?`, EventSent, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup sent events: %w", err)
	}
	return rowsAffected(res), nil
}

// RetryFailedEvents puts failed rows back to pending with a fresh attempt count.
func (q *Queries) RetryFailedEvents(ctx context.Context) (int64, error) {
	res, err := q.exec(ctx, `UPDATE ledger_events SET status = ?, attempts = 0, updated_at = ? WHERE status = ?`,
		EventPending, time.Now().UTC(), EventFailed)
	if err != nil {
		return 0, fmt.Errorf("retry failed events: %w", err)
	}
	return rowsAffected(res), nil
}

func (q *Queries) EventStats(ctx context.Context) (EventStats, error) {
	rows, err := q.query(ctx, `SELECT status, COUNT(*) FROM ledger_events GROUP BY status`)
	if err != nil {
		return EventStats{}, fmt.Errorf("event stats: %w", err)
	}
	defer rows.Close()

	var s EventStats
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return EventStats{}, fmt.Errorf("scan event stats: %w", err)
		}
		switch status {
		case EventPending:
			s.Pending = n
		case EventSent:
			s.Sent = n
		case EventFailed:
			s.Failed = n
		}
	}
	return s, rows.Err()
}
