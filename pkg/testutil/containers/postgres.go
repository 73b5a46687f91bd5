//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schema creates every table the stores expect. Kept in one place so the
// integration suites and a fresh deployment agree on the shape.
const schema = `
CREATE TABLE IF NOT EXISTS phi_vault (
	id UUID PRIMARY KEY,
	encrypted_payload BYTEA NOT NULL,
	payload_hash TEXT NOT NULL,
	encryption_algorithm TEXT NOT NULL,
	key_version INT NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_phi_vault_payload_hash ON phi_vault (payload_hash) WHERE NOT is_deleted;

CREATE TABLE IF NOT EXISTS procedure_data (
	id UUID PRIMARY KEY,
	phi_vault_id UUID NOT NULL REFERENCES phi_vault (id),
	scrubbed_text TEXT NOT NULL,
	original_text_hash TEXT NOT NULL,
	entity_map JSONB NOT NULL DEFAULT '[]',
	status TEXT NOT NULL,
	coding_results JSONB,
	failure_detail TEXT NOT NULL DEFAULT '',
	submitter_id TEXT NOT NULL,
	reviewer_id TEXT NOT NULL DEFAULT '',
	version BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_procedure_data_vault ON procedure_data (phi_vault_id);

CREATE TABLE IF NOT EXISTS audit_log (
	id UUID PRIMARY KEY,
	seq BIGSERIAL,
	ts TIMESTAMPTZ NOT NULL,
	action TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	phi_vault_id UUID,
	procedure_data_id UUID,
	detail TEXT NOT NULL DEFAULT '',
	metadata JSONB,
	request_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_log_vault ON audit_log (phi_vault_id, seq);
CREATE INDEX IF NOT EXISTS idx_audit_log_procedure ON audit_log (procedure_data_id, seq);
CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON audit_log (actor_id, seq);

CREATE TABLE IF NOT EXISTS scrubbing_feedback (
	id UUID PRIMARY KEY,
	procedure_data_id UUID NOT NULL UNIQUE REFERENCES procedure_data (id),
	reviewer_id TEXT NOT NULL,
	detected_entities JSONB NOT NULL DEFAULT '[]',
	confirmed_entities JSONB NOT NULL DEFAULT '[]',
	true_positives INT NOT NULL,
	false_positives INT NOT NULL,
	false_negatives INT NOT NULL,
	precision_score DOUBLE PRECISION NOT NULL,
	recall_score DOUBLE PRECISION NOT NULL,
	f1_score DOUBLE PRECISION NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// PostgresContainer wraps a testcontainers postgres instance with an open
// database handle and the schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts postgres and applies the schema.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("phivault_test"),
		tcpostgres.WithUsername("phivault"),
		tcpostgres.WithPassword("phivault"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping postgres: %v", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	return &PostgresContainer{
		Container: container,
		DSN:       dsn,
		DB:        db,
	}
}

// TruncateTables clears the given tables between tests. Pass dependents
// before their referenced tables.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	query := fmt.Sprintf("TRUNCATE TABLE %s CASCADE", strings.Join(tables, ", "))
	if _, err := p.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
