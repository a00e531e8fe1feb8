package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mcdev12/sketchparty/go/internal/sqlutil"
)

// Repository is the Postgres outbox store. Unsent rows are fetched with
// SKIP LOCKED so concurrent relay workers never double-deliver a batch.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const eventColumns = `id, aggregate_id, event_type, payload, created_at, sent_at`

// Insert records an event and notifies any listening relay worker.
func (r *Repository) Insert(ctx context.Context, aggregateID uuid.UUID, eventType string, payload json.RawMessage) error {
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO outbox_event (id, aggregate_id, event_type, payload, created_at)
			 VALUES ($1, $2, $3, $4, now())`,
			uuid.New(), aggregateID, eventType, []byte(payload))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `NOTIFY outbox_event`)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// FetchUnsentTx reads a batch of unsent events inside the relay transaction,
// locking the rows against other relays.
func (r *Repository) FetchUnsentTx(ctx context.Context, tx *sql.Tx, limit int) ([]Event, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM outbox_event
		 WHERE sent_at IS NULL
		 ORDER BY created_at
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e      Event
			sentAt sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		e.SentAt = sqlutil.FromSqlTime(sentAt)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox events: %w", err)
	}
	return events, nil
}

// MarkSentTx marks delivered events inside the relay transaction.
func (r *Repository) MarkSentTx(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE outbox_event SET sent_at = now() WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to mark outbox events sent: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for the relay worker's transaction.
func (r *Repository) DB() *sql.DB {
	return r.db
}
