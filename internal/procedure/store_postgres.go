package procedure

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"phivault/pkg/domain"
	"phivault/pkg/platform/sentinel"
	txcontext "phivault/pkg/platform/tx"
)

// PostgresStore persists procedure records in the procedure_data table.
// Optimistic concurrency uses a guarded UPDATE on the version column.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, record *Record) error {
	entityMap, err := json.Marshal(record.EntityMap)
	if err != nil {
		return fmt.Errorf("marshal entity map: %w", err)
	}

	query := `
		INSERT INTO procedure_data (
			id, phi_vault_id, scrubbed_text, original_text_hash, entity_map,
			status, coding_results, failure_detail, submitter_id, reviewer_id,
			version, created_at, updated_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(record.ID),
		uuid.UUID(record.VaultID),
		record.ScrubbedText,
		record.OriginalTextHash,
		entityMap,
		string(record.Status),
		nullJSON(record.CodingResults),
		record.FailureDetail,
		record.SubmitterID,
		record.ReviewerID,
		record.Version,
		record.CreatedAt,
		record.UpdatedAt,
		record.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert procedure record: %w", err)
	}
	return nil
}

const selectRecord = `
	SELECT id, phi_vault_id, scrubbed_text, original_text_hash, entity_map,
		   status, coding_results, failure_detail, submitter_id, reviewer_id,
		   version, created_at, updated_at, completed_at
	FROM procedure_data
`

func (s *PostgresStore) FindByID(ctx context.Context, id domain.ProcedureID) (*Record, error) {
	row := s.execer(ctx).QueryRowContext(ctx, selectRecord+` WHERE id = $1`, uuid.UUID(id))
	record, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return record, err
}

func (s *PostgresStore) Update(ctx context.Context, record *Record) error {
	entityMap, err := json.Marshal(record.EntityMap)
	if err != nil {
		return fmt.Errorf("marshal entity map: %w", err)
	}

	query := `
		UPDATE procedure_data
		SET scrubbed_text = $2, entity_map = $3, status = $4,
			coding_results = $5, failure_detail = $6, reviewer_id = $7,
			version = version + 1, updated_at = $8, completed_at = $9
		WHERE id = $1 AND version = $10
	`
	result, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(record.ID),
		record.ScrubbedText,
		entityMap,
		string(record.Status),
		nullJSON(record.CodingResults),
		record.FailureDetail,
		record.ReviewerID,
		record.UpdatedAt,
		record.CompletedAt,
		record.Version,
	)
	if err != nil {
		return fmt.Errorf("update procedure record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update procedure record: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing row from a stale version.
		var exists bool
		err := s.execer(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM procedure_data WHERE id = $1)`, uuid.UUID(record.ID),
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check procedure record: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	record.Version++
	return nil
}

func (s *PostgresStore) ListByVault(ctx context.Context, vaultID domain.VaultID) ([]*Record, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		selectRecord+` WHERE phi_vault_id = $1 ORDER BY created_at`, uuid.UUID(vaultID))
	if err != nil {
		return nil, fmt.Errorf("query procedure records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate procedure records: %w", err)
	}
	return records, nil
}

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var (
		record        Record
		id, vaultID   uuid.UUID
		status        string
		entityMap     []byte
		codingResults []byte
	)
	err := scan(
		&id,
		&vaultID,
		&record.ScrubbedText,
		&record.OriginalTextHash,
		&entityMap,
		&status,
		&codingResults,
		&record.FailureDetail,
		&record.SubmitterID,
		&record.ReviewerID,
		&record.Version,
		&record.CreatedAt,
		&record.UpdatedAt,
		&record.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan procedure record: %w", err)
	}

	record.ID = domain.ProcedureID(id)
	record.VaultID = domain.VaultID(vaultID)
	record.Status = Status(status)
	if len(entityMap) > 0 {
		if err := json.Unmarshal(entityMap, &record.EntityMap); err != nil {
			return nil, fmt.Errorf("unmarshal entity map: %w", err)
		}
	}
	record.CodingResults = codingResults
	return &record, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
