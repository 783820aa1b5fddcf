package webhook

import (
	"context"
	"database/sql"
	"time"
)

// DeliveryStatus is the terminal outcome of one webhook delivery.
type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// DeliveryRecord is one row of the delivery log.
type DeliveryRecord struct {
	ID         int64          `json:"id"`
	InstanceID string         `json:"instance_id"`
	EventKind  string         `json:"event_kind"`
	Status     DeliveryStatus `json:"status"`
	Attempts   int            `json:"attempts"`
	LastError  string         `json:"last_error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Store keeps the webhook delivery log. It shares the database handle with
// the instance store.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (*Store, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS wa_webhook_deliveries (
		id BIGSERIAL PRIMARY KEY,
		instance_id TEXT NOT NULL,
		event_kind TEXT NOT NULL,
		status TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_wa_webhook_deliveries_instance
		ON wa_webhook_deliveries(instance_id)`)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) LogDelivery(ctx context.Context, instanceID, eventKind string, status DeliveryStatus, attempts int, lastError string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO wa_webhook_deliveries
		(instance_id, event_kind, status, attempt_count, last_error)
		VALUES ($1, $2, $3, $4, $5)`,
		instanceID, eventKind, string(status), attempts, lastError)
	return err
}

// RecentDeliveries lists the newest delivery attempts for an instance.
func (s *Store) RecentDeliveries(ctx context.Context, instanceID string, limit int) ([]DeliveryRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, instance_id, event_kind, status,
		attempt_count, COALESCE(last_error, ''), created_at
		FROM wa_webhook_deliveries
		WHERE instance_id = $1
		ORDER BY id DESC LIMIT $2`, instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var rec DeliveryRecord
		var status string
		var createdAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.InstanceID, &rec.EventKind, &status,
			&rec.Attempts, &rec.LastError, &createdAt); err != nil {
			return nil, err
		}
		rec.Status = DeliveryStatus(status)
		rec.CreatedAt = createdAt.Time
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes delivery rows older than the retention window.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM wa_webhook_deliveries WHERE created_at < $1`,
		time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
