package feedback

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

// PostgresStore persists feedback in the scrubbing_feedback table.
// Uniqueness on procedure_data_id enforces the one-row-per-record rule at
// the database level; Save upserts against it.
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

func (s *PostgresStore) Save(ctx context.Context, fb *Feedback) error {
	if fb.ID.IsNil() {
		fb.ID = domain.NewFeedbackID()
	}

	detected, err := json.Marshal(fb.Detected)
	if err != nil {
		return fmt.Errorf("marshal detected entities: %w", err)
	}
	confirmed, err := json.Marshal(fb.Confirmed)
	if err != nil {
		return fmt.Errorf("marshal confirmed entities: %w", err)
	}

	query := `
		INSERT INTO scrubbing_feedback (
			id, procedure_data_id, reviewer_id, detected_entities,
			confirmed_entities, true_positives, false_positives,
			false_negatives, precision_score, recall_score, f1_score,
			notes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (procedure_data_id) DO UPDATE SET
			reviewer_id = EXCLUDED.reviewer_id,
			detected_entities = EXCLUDED.detected_entities,
			confirmed_entities = EXCLUDED.confirmed_entities,
			true_positives = EXCLUDED.true_positives,
			false_positives = EXCLUDED.false_positives,
			false_negatives = EXCLUDED.false_negatives,
			precision_score = EXCLUDED.precision_score,
			recall_score = EXCLUDED.recall_score,
			f1_score = EXCLUDED.f1_score,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	var id uuid.UUID
	err = s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(fb.ID),
		uuid.UUID(fb.ProcedureID),
		fb.ReviewerID,
		detected,
		confirmed,
		fb.Scores.TruePositives,
		fb.Scores.FalsePositives,
		fb.Scores.FalseNegatives,
		fb.Scores.Precision,
		fb.Scores.Recall,
		fb.Scores.F1,
		fb.Notes,
		fb.CreatedAt,
		fb.UpdatedAt,
	).Scan(&id, &fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	fb.ID = domain.FeedbackID(id)
	return nil
}

const selectFeedback = `
	SELECT id, procedure_data_id, reviewer_id, detected_entities,
	       confirmed_entities, true_positives, false_positives,
	       false_negatives, precision_score, recall_score, f1_score,
	       notes, created_at, updated_at
	FROM scrubbing_feedback
`

func (s *PostgresStore) FindByID(ctx context.Context, id domain.FeedbackID) (*Feedback, error) {
	row := s.execer(ctx).QueryRowContext(ctx, selectFeedback+` WHERE id = $1`, uuid.UUID(id))
	return scanFeedback(row.Scan)
}

func (s *PostgresStore) FindByProcedure(ctx context.Context, procedureID domain.ProcedureID) (*Feedback, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		selectFeedback+` WHERE procedure_data_id = $1`, uuid.UUID(procedureID))
	return scanFeedback(row.Scan)
}

func scanFeedback(scan func(dest ...any) error) (*Feedback, error) {
	var (
		fb          Feedback
		id          uuid.UUID
		procedureID uuid.UUID
		detected    []byte
		confirmed   []byte
	)
	err := scan(
		&id,
		&procedureID,
		&fb.ReviewerID,
		&detected,
		&confirmed,
		&fb.Scores.TruePositives,
		&fb.Scores.FalsePositives,
		&fb.Scores.FalseNegatives,
		&fb.Scores.Precision,
		&fb.Scores.Recall,
		&fb.Scores.F1,
		&fb.Notes,
		&fb.CreatedAt,
		&fb.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan feedback: %w", err)
	}
	fb.ID = domain.FeedbackID(id)
	fb.ProcedureID = domain.ProcedureID(procedureID)
	if err := json.Unmarshal(detected, &fb.Detected); err != nil {
		return nil, fmt.Errorf("unmarshal detected entities: %w", err)
	}
	if err := json.Unmarshal(confirmed, &fb.Confirmed); err != nil {
		return nil, fmt.Errorf("unmarshal confirmed entities: %w", err)
	}
	return &fb, nil
}
