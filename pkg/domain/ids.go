package domain

import (
	"github.com/google/uuid"

	dErrors "phivault/pkg/domain-errors"
)

// Typed UUID identifiers. Distinct types keep vault and procedure references
// from being swapped silently at call sites; the compiler enforces the
// ownership direction (procedure -> vault, feedback -> procedure).
type (
	VaultID     uuid.UUID
	ProcedureID uuid.UUID
	FeedbackID  uuid.UUID
	EntryID     uuid.UUID
)

func NewVaultID() VaultID         { return VaultID(uuid.New()) }
func NewProcedureID() ProcedureID { return ProcedureID(uuid.New()) }
func NewFeedbackID() FeedbackID   { return FeedbackID(uuid.New()) }
func NewEntryID() EntryID         { return EntryID(uuid.New()) }

func (id VaultID) String() string     { return uuid.UUID(id).String() }
func (id ProcedureID) String() string { return uuid.UUID(id).String() }
func (id FeedbackID) String() string  { return uuid.UUID(id).String() }
func (id EntryID) String() string     { return uuid.UUID(id).String() }

func (id VaultID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ProcedureID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id FeedbackID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

// ParseVaultID validates and parses a vault record identifier.
// IDs must be valid, non-empty, non-nil UUIDs.
func ParseVaultID(raw string) (VaultID, error) {
	parsed, err := parseUUID(raw, "vault id")
	return VaultID(parsed), err
}

// ParseProcedureID validates and parses a procedure record identifier.
func ParseProcedureID(raw string) (ProcedureID, error) {
	parsed, err := parseUUID(raw, "procedure id")
	return ProcedureID(parsed), err
}

// ParseFeedbackID validates and parses a scrubbing feedback identifier.
func ParseFeedbackID(raw string) (FeedbackID, error) {
	parsed, err := parseUUID(raw, "feedback id")
	return FeedbackID(parsed), err
}

func parseUUID(raw, label string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" must not be empty")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, label+" is not a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" must not be the nil UUID")
	}
	return parsed, nil
}
