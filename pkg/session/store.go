package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrInstanceNotFound is returned when no stored record exists for an id.
var ErrInstanceNotFound = errors.New("instance not found")

// Instance is the persisted record of one WhatsApp instance.
type Instance struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Status        Status       `json:"status"`
	Phone         string       `json:"phone,omitempty"`
	PushName      string       `json:"push_name,omitempty"`
	WebhookURL    string       `json:"webhook_url,omitempty"`
	WebhookSecret string       `json:"-"`
	WebhookEvents []string     `json:"webhook_events,omitempty"`
	Proxy         *ProxyConfig `json:"proxy,omitempty"`
	Settings      Settings     `json:"settings"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// PgStore persists instance records in Postgres. It also owns the database
// handle shared with the webhook delivery log.
type PgStore struct {
	db *sql.DB
}

// OpenPgStore connects, bootstraps the schema, and returns the store.
func OpenPgStore(dsn string) (*PgStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)
	db.SetConnMaxIdleTime(3 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS wa_instances (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'disconnected',
		phone TEXT NOT NULL DEFAULT '',
		push_name TEXT NOT NULL DEFAULT '',
		webhook_url TEXT NOT NULL DEFAULT '',
		webhook_secret TEXT NOT NULL DEFAULT '',
		webhook_events JSONB NOT NULL DEFAULT '[]'::jsonb,
		proxy JSONB,
		settings JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return nil, fmt.Errorf("bootstrap wa_instances: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_wa_instances_status ON wa_instances(status)`)
	if err != nil {
		return nil, err
	}

	return &PgStore{db: db}, nil
}

// DB exposes the shared handle for sibling stores.
func (s *PgStore) DB() *sql.DB {
	return s.db
}

func (s *PgStore) Close() error {
	return s.db.Close()
}

// Create inserts a new instance record.
func (s *PgStore) Create(ctx context.Context, inst *Instance) error {
	events, _ := json.Marshal(inst.WebhookEvents)
	settings, _ := json.Marshal(inst.Settings)
	var proxy interface{}
	if inst.Proxy != nil {
		raw, _ := json.Marshal(inst.Proxy)
		proxy = raw
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO wa_instances
		(id, name, status, webhook_url, webhook_secret, webhook_events, proxy, settings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inst.ID, inst.Name, string(StatusDisconnected),
		inst.WebhookURL, inst.WebhookSecret, events, proxy, settings)
	return err
}

const instanceColumns = `id, name, status, phone, push_name,
	webhook_url, webhook_secret, webhook_events, proxy, settings,
	created_at, updated_at`

func scanInstance(row interface{ Scan(...interface{}) error }) (*Instance, error) {
	var (
		inst      Instance
		status    string
		events    []byte
		proxy     []byte
		settings  []byte
		createdAt sql.NullTime
		updatedAt sql.NullTime
	)
	err := row.Scan(&inst.ID, &inst.Name, &status, &inst.Phone, &inst.PushName,
		&inst.WebhookURL, &inst.WebhookSecret, &events, &proxy, &settings,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	inst.Status = Status(status)
	if len(events) > 0 {
		_ = json.Unmarshal(events, &inst.WebhookEvents)
	}
	if len(proxy) > 0 {
		var p ProxyConfig
		if json.Unmarshal(proxy, &p) == nil && p.Host != "" {
			inst.Proxy = &p
		}
	}
	if len(settings) > 0 {
		_ = json.Unmarshal(settings, &inst.Settings)
	}
	inst.CreatedAt = createdAt.Time
	inst.UpdatedAt = updatedAt.Time
	return &inst, nil
}

// Instance loads one record by id.
func (s *PgStore) Instance(ctx context.Context, id string) (*Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM wa_instances WHERE id = $1`, id)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInstanceNotFound
	}
	return inst, err
}

// List returns every stored instance, oldest first.
func (s *PgStore) List(ctx context.Context) ([]*Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM wa_instances ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// Count returns the number of stored instances.
func (s *PgStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wa_instances`).Scan(&n)
	return n, err
}

// Delete removes the record.
func (s *PgStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM wa_instances WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// SetStatus persists a lifecycle transition.
func (s *PgStore) SetStatus(ctx context.Context, id string, status Status) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE wa_instances SET status = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, string(status))
	return err
}

// SetProfile stores the account identity captured at login.
func (s *PgStore) SetProfile(ctx context.Context, id, phone, pushName string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE wa_instances SET phone = $2, push_name = $3, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, phone, pushName)
	return err
}

// SaveSettings persists the merged settings document.
func (s *PgStore) SaveSettings(ctx context.Context, id string, settings Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE wa_instances SET settings = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, raw)
	return err
}

// SetWebhook updates the instance's webhook target and subscription set.
func (s *PgStore) SetWebhook(ctx context.Context, id, url, secret string, events []string) error {
	raw, err := json.Marshal(events)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE wa_instances SET webhook_url = $2, webhook_secret = $3, webhook_events = $4,
			updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, url, secret, raw)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// ConnectedIDs lists the instances that were connected at last shutdown,
// oldest first so reconnect order is stable.
func (s *PgStore) ConnectedIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM wa_instances
		WHERE status IN ('connected', 'connecting', 'qr')
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
