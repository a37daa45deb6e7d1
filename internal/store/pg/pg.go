// Package pg is the optional managed-mode mirror: when
// database.mode == "managed", the daemon opens a Postgres pool and
// applies the schema migrations at startup. Mirror offers agent-listing
// methods, but the daemon does not call them, and neither AgentStore
// snapshots nor device/push state are written to Postgres. The on-disk
// JSON snapshot (internal/store/file) remains the single source of
// truth for a given process.
package pg

import (
	"context"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	_ "github.com/lib/pq" // migration driver connection for golang-migrate
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Mirror holds the pooled Postgres connection for managed-mode agent
// listings.
type Mirror struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, runs pending migrations, and returns a Mirror.
func Open(ctx context.Context, dsn string) (*Mirror, error) {
	if err := migrateUp(dsn); err != nil {
		return nil, fmt.Errorf("pg: migrate: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &Mirror{pool: pool}, nil
}

func (m *Mirror) Close() { m.pool.Close() }

func migrateUp(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("new migrate instance: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// UpsertAgentInfo mirrors one agent's listing row, keyed by hub
// process name so Admin list_agents across processes can dedupe.
func (m *Mirror) UpsertAgentInfo(ctx context.Context, hubName, hubAgentID, name, state string) error {
	_, err := m.pool.Exec(ctx, `
		INSERT INTO mirrored_agents (hub_name, hub_agent_id, name, state, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (hub_name, hub_agent_id) DO UPDATE SET
			name = excluded.name, state = excluded.state, updated_at = excluded.updated_at
	`, hubName, hubAgentID, name, state)
	if err != nil {
		return fmt.Errorf("pg: upsert agent info: %w", err)
	}
	return nil
}

// RemoveAgentInfo deletes the mirrored row for a removed agent.
func (m *Mirror) RemoveAgentInfo(ctx context.Context, hubName, hubAgentID string) error {
	_, err := m.pool.Exec(ctx, `
		DELETE FROM mirrored_agents WHERE hub_name = $1 AND hub_agent_id = $2
	`, hubName, hubAgentID)
	if err != nil {
		return fmt.Errorf("pg: remove agent info: %w", err)
	}
	return nil
}

// MirroredAgent is one cross-process agent listing row.
type MirroredAgent struct {
	HubName    string
	HubAgentID string
	Name       string
	State      string
}

// ListAllAgents returns every mirrored agent across all hub processes,
// for the Admin list_agents surface in managed mode.
func (m *Mirror) ListAllAgents(ctx context.Context) ([]MirroredAgent, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT hub_name, hub_agent_id, name, state FROM mirrored_agents ORDER BY hub_name, hub_agent_id
	`)
	if err != nil {
		return nil, fmt.Errorf("pg: list all agents: %w", err)
	}
	defer rows.Close()

	var out []MirroredAgent
	for rows.Next() {
		var a MirroredAgent
		if err := rows.Scan(&a.HubName, &a.HubAgentID, &a.Name, &a.State); err != nil {
			return nil, fmt.Errorf("pg: scan mirrored agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
