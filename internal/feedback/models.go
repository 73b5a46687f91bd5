package feedback

import (
	"time"

	"phivault/internal/procedure"
	"phivault/pkg/domain"
)

// Scores summarizes detector quality for one procedure record. Counts use
// exact matching: a detected span is a true positive only when start, end,
// and entity type all equal a reviewer-confirmed span.
type Scores struct {
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// Feedback is the reviewer's verdict on one record's automated scrub,
// persisted once per record. A correction overwrites the existing row
// rather than accumulating a second verdict for the same record.
type Feedback struct {
	ID          domain.FeedbackID
	ProcedureID domain.ProcedureID
	ReviewerID  string

	// Detected is the detector's output as reviewed: confirmed and
	// unflagged spans, excluding reviewer-added ones.
	Detected []procedure.Entity
	// Confirmed is the reviewer's ground truth: every span asserted to be
	// PHI, whether detected or added by hand.
	Confirmed []procedure.Entity

	Scores Scores
	Notes  string

	CreatedAt time.Time
	UpdatedAt time.Time
}
