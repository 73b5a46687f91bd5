package procedure

import (
	"encoding/json"
	"strings"
	"time"

	"phivault/pkg/domain"
)

// Status is the procedure record lifecycle state. The graph is closed and
// monotonic: no transition regresses, and nothing reaches processing without
// passing phi_confirmed.
type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusPHIConfirmed  Status = "phi_confirmed"
	StatusProcessing    Status = "processing"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusPHIReviewed   Status = "phi_reviewed"
)

var validStatuses = map[Status]bool{
	StatusPendingReview: true,
	StatusPHIConfirmed:  true,
	StatusProcessing:    true,
	StatusCompleted:     true,
	StatusFailed:        true,
	StatusPHIReviewed:   true,
}

// Valid reports whether the status is a known member of the closed set.
func (s Status) Valid() bool { return validStatuses[s] }

// Terminal reports whether the status admits no further transitions. A
// failed record is re-submitted only by creating a new record against the
// same vault entry, never by resetting state in place.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusPHIReviewed
}

var transitions = map[Status][]Status{
	StatusPendingReview: {StatusPHIConfirmed},
	StatusPHIConfirmed:  {StatusProcessing},
	StatusProcessing:    {StatusCompleted, StatusFailed},
	StatusCompleted:     {StatusPHIReviewed},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Entity is one detected PHI span in the scrubbed document's entity map.
// Offsets index the original text; Text is the detected surface form.
type Entity struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	EntityType string  `json:"entity_type"`
	Confidence float64 `json:"confidence"`
	Text       string  `json:"text,omitempty"`

	// Confirmed marks reviewer agreement that the span is PHI. Unflagged
	// spans are kept with Confirmed=false rather than removed, so detector
	// output survives for the feedback scorer.
	Confirmed bool `json:"confirmed"`
}

// Span returns the character span as a comparable pair.
func (e Entity) Span() (int, int) { return e.Start, e.End }

// Record is the scrubbed derivative of exactly one vault record.
type Record struct {
	ID      domain.ProcedureID
	VaultID domain.VaultID

	ScrubbedText string

	// OriginalTextHash must equal the owning vault record's PayloadHash.
	// The cross-check runs at creation.
	OriginalTextHash string

	// EntityMap is ordered by span start; order is preserved as stored.
	EntityMap []Entity

	Status Status

	// CodingResults is the optional derived output of automated coding.
	CodingResults json.RawMessage

	// FailureDetail captures the triggering error when Status is failed.
	FailureDetail string

	SubmitterID string
	ReviewerID  string

	// Version is the optimistic concurrency token. Every mutation bumps it;
	// a stale write surfaces as a conflict, never a silent overwrite.
	Version int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// UnscrubbedSpans returns confirmed PHI entities whose surface text still
// appears in the scrubbed document. Scrub completeness is the reviewer's
// responsibility; this check surfaces violations rather than silently
// assuming them away.
func UnscrubbedSpans(scrubbed string, entities []Entity) []Entity {
	var leaked []Entity
	for _, entity := range entities {
		if !entity.Confirmed || entity.Text == "" {
			continue
		}
		if strings.Contains(scrubbed, entity.Text) {
			leaked = append(leaked, entity)
		}
	}
	return leaked
}
