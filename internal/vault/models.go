package vault

import (
	"time"

	"phivault/pkg/domain"
)

// Record holds one original sensitive payload, encrypted at rest.
//
// A record is immutable once created except for IsDeleted: ciphertext is
// never updated in place, and key rotation only affects records created
// after the rotation. Physical deletion is a separate, audited operation
// outside this module's scope.
type Record struct {
	ID domain.VaultID

	// EncryptedPayload is opaque ciphertext of the original text.
	EncryptedPayload []byte

	// PayloadHash is the SHA-256 hex digest of the plaintext at encryption
	// time. Used for integrity verification on decrypt and for deduplication.
	PayloadHash string

	// EncryptionAlgorithm and KeyVersion are recorded per record so
	// historical records remain decryptable after key rotation.
	EncryptionAlgorithm string
	KeyVersion          int

	// IsDeleted soft-deletes the record. Read paths must check this flag
	// explicitly; audit history referencing the record stays coherent.
	IsDeleted bool

	CreatedBy string
	CreatedAt time.Time
	DeletedAt *time.Time
}
