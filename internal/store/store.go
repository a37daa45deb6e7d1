package store

import "context"

// AgentStore is the full persistence contract of spec.md §4.6: save,
// load, list, delete, plus an optional per-agent API key file.
type AgentStore interface {
	Save(ctx context.Context, hubAgentID string, snap *Snapshot) error
	Load(ctx context.Context, hubAgentID string) (*Snapshot, error)
	List(ctx context.Context) ([]Info, error)
	Delete(ctx context.Context, hubAgentID string) error

	SaveAPIKey(ctx context.Context, hubAgentID, key string) error
	LoadAPIKey(ctx context.Context, hubAgentID string) (string, error)

	// FilesRoot returns the bounded files directory for an agent,
	// creating it if absent.
	FilesRoot(hubAgentID string) (string, error)
}

// DeviceStore backs the push-notification device/visibility table
// (SPEC_FULL.md §3 DeviceRecord). Its one implementation is SQLite
// (internal/store/sqlitestore), used in every database mode; device
// state is not mirrored to Postgres.
type DeviceStore interface {
	Upsert(ctx context.Context, rec DeviceRecord) error
	Get(ctx context.Context, deviceID string) (*DeviceRecord, error)
	SetVisibility(ctx context.Context, deviceID string, active, visible bool) error
	ListActive(ctx context.Context) ([]DeviceRecord, error)
}

// DeviceRecord is the persisted push/visibility state of one device.
type DeviceRecord struct {
	DeviceID     string `json:"deviceId"`
	LastSeenAt   int64  `json:"lastSeenAt"` // unix millis, stamped by the caller
	Active       bool   `json:"active"`
	Visible      bool   `json:"visible"`
	Subscription string `json:"subscription,omitempty"` // serialized push subscription, verified only
}
