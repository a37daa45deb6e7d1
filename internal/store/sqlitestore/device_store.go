// Package sqlitestore is the default (standalone-mode) backing for
// device/push state, an embedded database requiring no external
// service. It remains the device/push store when database.mode ==
// "managed"; the Postgres mirror (internal/store/pg) holds no device
// state.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/agenthub/hubd/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	device_id    TEXT PRIMARY KEY,
	last_seen_at INTEGER NOT NULL,
	active       INTEGER NOT NULL DEFAULT 0,
	visible      INTEGER NOT NULL DEFAULT 0,
	subscription TEXT
);
`

// DeviceStore implements store.DeviceStore on an embedded sqlite file
// under the agent store root (e.g. <store>/push/devices.db).
type DeviceStore struct {
	db *sql.DB
}

func Open(path string) (*DeviceStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate schema: %w", err)
	}
	return &DeviceStore{db: db}, nil
}

func (s *DeviceStore) Close() error { return s.db.Close() }

func (s *DeviceStore) Upsert(ctx context.Context, rec store.DeviceRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, last_seen_at, active, visible, subscription)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			last_seen_at = excluded.last_seen_at,
			active       = excluded.active,
			visible      = excluded.visible,
			subscription = excluded.subscription
	`, rec.DeviceID, rec.LastSeenAt, boolToInt(rec.Active), boolToInt(rec.Visible), rec.Subscription)
	if err != nil {
		return fmt.Errorf("sqlitestore: upsert device %s: %w", rec.DeviceID, err)
	}
	return nil
}

func (s *DeviceStore) Get(ctx context.Context, deviceID string) (*store.DeviceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT device_id, last_seen_at, active, visible, subscription
		FROM devices WHERE device_id = ?
	`, deviceID)
	var rec store.DeviceRecord
	var active, visible int
	var sub sql.NullString
	if err := row.Scan(&rec.DeviceID, &rec.LastSeenAt, &active, &visible, &sub); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlitestore: get device %s: %w", deviceID, err)
	}
	rec.Active = active != 0
	rec.Visible = visible != 0
	rec.Subscription = sub.String
	return &rec, nil
}

func (s *DeviceStore) SetVisibility(ctx context.Context, deviceID string, active, visible bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices SET active = ?, visible = ? WHERE device_id = ?
	`, boolToInt(active), boolToInt(visible), deviceID)
	if err != nil {
		return fmt.Errorf("sqlitestore: set visibility %s: %w", deviceID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlitestore: device %s not found", deviceID)
	}
	return nil
}

func (s *DeviceStore) ListActive(ctx context.Context) ([]store.DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, last_seen_at, active, visible, subscription
		FROM devices WHERE active = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list active: %w", err)
	}
	defer rows.Close()

	var out []store.DeviceRecord
	for rows.Next() {
		var rec store.DeviceRecord
		var active, visible int
		var sub sql.NullString
		if err := rows.Scan(&rec.DeviceID, &rec.LastSeenAt, &active, &visible, &sub); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan device: %w", err)
		}
		rec.Active = active != 0
		rec.Visible = visible != 0
		rec.Subscription = sub.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
