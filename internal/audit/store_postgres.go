package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"phivault/pkg/domain"
	txcontext "phivault/pkg/platform/tx"
)

// PostgresStore persists ledger entries in the audit_log table. The sequence
// column is a bigserial, so ordering is assigned by the database and stays
// monotonic across concurrent writers regardless of wall-clock skew.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) querier(ctx context.Context) dbQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	if entry.ID.IsNil() {
		entry.ID = domain.NewEntryID()
	}

	var metadata []byte
	if len(entry.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_log (
			id, ts, action, actor_id, phi_vault_id, procedure_data_id,
			detail, metadata, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq
	`
	err := s.querier(ctx).QueryRowContext(ctx, query,
		uuid.UUID(entry.ID),
		entry.Timestamp,
		string(entry.Action),
		entry.ActorID,
		nullVaultID(entry.VaultID),
		nullProcedureID(entry.ProcedureID),
		entry.Detail,
		metadata,
		entry.RequestID,
	).Scan(&entry.Sequence)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

const selectEntries = `
	SELECT seq, id, ts, action, actor_id, phi_vault_id, procedure_data_id,
		   detail, metadata, request_id
	FROM audit_log
`

func (s *PostgresStore) ListByVault(ctx context.Context, vaultID domain.VaultID) ([]Entry, error) {
	return s.list(ctx, selectEntries+` WHERE phi_vault_id = $1 ORDER BY seq`, uuid.UUID(vaultID))
}

func (s *PostgresStore) ListByProcedure(ctx context.Context, procedureID domain.ProcedureID) ([]Entry, error) {
	return s.list(ctx, selectEntries+` WHERE procedure_data_id = $1 ORDER BY seq`, uuid.UUID(procedureID))
}

func (s *PostgresStore) ListByActor(ctx context.Context, actorID string) ([]Entry, error) {
	return s.list(ctx, selectEntries+` WHERE actor_id = $1 ORDER BY seq`, actorID)
}

func (s *PostgresStore) ListByAction(ctx context.Context, action Action) ([]Entry, error) {
	return s.list(ctx, selectEntries+` WHERE action = $1 ORDER BY seq`, string(action))
}

func (s *PostgresStore) list(ctx context.Context, query string, arg any) ([]Entry, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry       Entry
			entryID     uuid.UUID
			action      string
			vaultID     *uuid.UUID
			procedureID *uuid.UUID
			metadata    []byte
		)
		err := rows.Scan(
			&entry.Sequence,
			&entryID,
			&entry.Timestamp,
			&action,
			&entry.ActorID,
			&vaultID,
			&procedureID,
			&entry.Detail,
			&metadata,
			&entry.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		entry.ID = domain.EntryID(entryID)
		entry.Action = Action(action)
		if vaultID != nil {
			vid := domain.VaultID(*vaultID)
			entry.VaultID = &vid
		}
		if procedureID != nil {
			pid := domain.ProcedureID(*procedureID)
			entry.ProcedureID = &pid
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func nullVaultID(id *domain.VaultID) *uuid.UUID {
	if id == nil {
		return nil
	}
	raw := uuid.UUID(*id)
	return &raw
}

func nullProcedureID(id *domain.ProcedureID) *uuid.UUID {
	if id == nil {
		return nil
	}
	raw := uuid.UUID(*id)
	return &raw
}
