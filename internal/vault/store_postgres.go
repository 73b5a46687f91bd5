package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"phivault/pkg/domain"
	"phivault/pkg/platform/sentinel"
	txcontext "phivault/pkg/platform/tx"
)

// PostgresStore persists vault records in the phi_vault table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO phi_vault (
			id, encrypted_payload, payload_hash, encryption_algorithm,
			key_version, is_deleted, created_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(record.ID),
		record.EncryptedPayload,
		record.PayloadHash,
		record.EncryptionAlgorithm,
		record.KeyVersion,
		record.IsDeleted,
		record.CreatedBy,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert vault record: %w", err)
	}
	return nil
}

// CreateUnique serializes concurrent stores of the same content on an
// advisory transaction lock keyed by the payload hash, then inserts only if
// no live record carries it. The payload_hash index is non-unique because
// deduplication is a policy choice, not a schema invariant; the lock is
// what closes the check-then-insert race.
func (s *PostgresStore) CreateUnique(ctx context.Context, record *Record) error {
	execer := s.execer(ctx)
	if _, err := execer.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, record.PayloadHash,
	); err != nil {
		return fmt.Errorf("lock payload hash: %w", err)
	}

	query := `
		INSERT INTO phi_vault (
			id, encrypted_payload, payload_hash, encryption_algorithm,
			key_version, is_deleted, created_by, created_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE NOT EXISTS (
			SELECT 1 FROM phi_vault WHERE payload_hash = $3 AND NOT is_deleted
		)
	`
	result, err := execer.ExecContext(ctx, query,
		uuid.UUID(record.ID),
		record.EncryptedPayload,
		record.PayloadHash,
		record.EncryptionAlgorithm,
		record.KeyVersion,
		record.IsDeleted,
		record.CreatedBy,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert vault record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert vault record: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrDuplicate
	}
	return nil
}

const selectRecord = `
	SELECT id, encrypted_payload, payload_hash, encryption_algorithm,
		   key_version, is_deleted, created_by, created_at, deleted_at
	FROM phi_vault
`

func (s *PostgresStore) FindByID(ctx context.Context, id domain.VaultID) (*Record, error) {
	row := s.execer(ctx).QueryRowContext(ctx, selectRecord+` WHERE id = $1`, uuid.UUID(id))
	return scanRecord(row)
}

func (s *PostgresStore) FindByHash(ctx context.Context, payloadHash string) (*Record, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		selectRecord+` WHERE payload_hash = $1 AND NOT is_deleted ORDER BY created_at LIMIT 1`,
		payloadHash,
	)
	return scanRecord(row)
}

func (s *PostgresStore) MarkDeleted(ctx context.Context, id domain.VaultID, at time.Time) error {
	result, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE phi_vault SET is_deleted = TRUE, deleted_at = COALESCE(deleted_at, $2) WHERE id = $1`,
		uuid.UUID(id), at,
	)
	if err != nil {
		return fmt.Errorf("mark vault record deleted: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark vault record deleted: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanRecord(row *sql.Row) (*Record, error) {
	var (
		record Record
		id     uuid.UUID
	)
	err := row.Scan(
		&id,
		&record.EncryptedPayload,
		&record.PayloadHash,
		&record.EncryptionAlgorithm,
		&record.KeyVersion,
		&record.IsDeleted,
		&record.CreatedBy,
		&record.CreatedAt,
		&record.DeletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan vault record: %w", err)
	}
	record.ID = domain.VaultID(id)
	return &record, nil
}
