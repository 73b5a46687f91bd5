package audit

import (
	"time"

	"phivault/pkg/domain"
)

// Action enumerates every auditable action. The set is closed and versioned:
// additive changes only, removing or repurposing a value on a live system is
// unsafe.
type Action string

const (
	ActionPHICreated       Action = "phi_created"
	ActionPHIAccessed      Action = "phi_accessed"
	ActionPHIDecrypted     Action = "phi_decrypted"
	ActionReviewStarted    Action = "review_started"
	ActionEntityConfirmed  Action = "entity_confirmed"
	ActionEntityUnflagged  Action = "entity_unflagged"
	ActionEntityAdded      Action = "entity_added"
	ActionReviewCompleted  Action = "review_completed"
	ActionLLMCalled        Action = "llm_called"
	ActionReidentified     Action = "reidentified"
	ActionFeedbackApplied  Action = "scrubbing_feedback_applied"
)

// Valid reports whether the action is a known member of the closed set.
func (a Action) Valid() bool {
	_, ok := actionCategories[a]
	return ok
}

// Category classifies audit entries by their primary purpose. This enables
// different retention policies and routing: compliance entries fan out to the
// durable broker topic, operations entries stay local.
type Category string

const (
	// CategoryCompliance covers entries with legal/regulatory significance:
	// anything that creates, exposes, or re-links PHI.
	CategoryCompliance Category = "compliance"
	// CategorySecurity covers entries relevant to access monitoring.
	CategorySecurity Category = "security"
	// CategoryOperations covers routine pipeline activity.
	CategoryOperations Category = "operations"
)

var actionCategories = map[Action]Category{
	ActionPHICreated:      CategoryCompliance,
	ActionPHIDecrypted:    CategoryCompliance,
	ActionReidentified:    CategoryCompliance,
	ActionFeedbackApplied: CategoryCompliance,

	ActionPHIAccessed: CategorySecurity,

	ActionReviewStarted:   CategoryOperations,
	ActionEntityConfirmed: CategoryOperations,
	ActionEntityUnflagged: CategoryOperations,
	ActionEntityAdded:     CategoryOperations,
	ActionReviewCompleted: CategoryOperations,
	ActionLLMCalled:       CategoryOperations,
}

// Category returns the Category for this action.
// Unknown actions default to CategoryOperations.
func (a Action) Category() Category {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryOperations
}

// Entry is one immutable row of the audit ledger. Entries are never mutated
// or deleted; a correction is a new entry referencing the original through
// metadata.
//
// VaultID and ProcedureID are both optional: process-level actions such as
// llm_called may reference neither, in which case RequestID carries the
// traceability key.
type Entry struct {
	ID domain.EntryID

	// Sequence is assigned by the store on append and is strictly monotonic
	// across concurrent writers. Queries order by it, not by Timestamp, since
	// wall clocks may collide or skew.
	Sequence int64

	Timestamp time.Time
	Action    Action
	ActorID   string

	VaultID     *domain.VaultID
	ProcedureID *domain.ProcedureID

	// Detail is optional free text (e.g. the error that failed a record).
	Detail string
	// Metadata is optional structured context (request id, client info).
	Metadata map[string]string

	RequestID string
}
