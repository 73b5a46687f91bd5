package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	dErrors "phivault/pkg/domain-errors"
)

// AlgorithmAESGCM is the only algorithm the keyring currently produces.
// The value is persisted per record so future algorithms can coexist.
const AlgorithmAESGCM = "aes-256-gcm"

const minMasterKeyLen = 32

// Keyring derives per-version AES-256 keys from a single master key using
// HKDF-SHA256. Rotation bumps the current version; old versions stay
// derivable so historical ciphertext remains readable.
type Keyring struct {
	master  []byte
	current int

	mu   sync.Mutex
	keys map[int][]byte
}

// NewKeyring validates the master key and sets the version used for new
// encryptions.
func NewKeyring(master []byte, currentVersion int) (*Keyring, error) {
	if len(master) < minMasterKeyLen {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "master key must be at least %d bytes", minMasterKeyLen)
	}
	if currentVersion < 1 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "key version must be >= 1")
	}
	return &Keyring{
		master:  master,
		current: currentVersion,
		keys:    make(map[int][]byte),
	}, nil
}

// CurrentVersion returns the key version used for new encryptions.
func (k *Keyring) CurrentVersion() int { return k.current }

func (k *Keyring) key(version int) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if key, ok := k.keys[version]; ok {
		return key, nil
	}
	info := fmt.Sprintf("phivault/payload-key/v%d", version)
	reader := hkdf.New(sha256.New, k.master, nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key v%d: %w", version, err)
	}
	k.keys[version] = key
	return key, nil
}

// Seal encrypts plaintext with the current key version. The nonce is
// prepended to the returned ciphertext.
func (k *Keyring) Seal(plaintext []byte) (ciphertext []byte, version int, err error) {
	key, err := k.key(k.current)
	if err != nil {
		return nil, 0, err
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, 0, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, 0, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), k.current, nil
}

// Open decrypts ciphertext produced by Seal under the given key version.
func (k *Keyring) Open(ciphertext []byte, version int) ([]byte, error) {
	key, err := k.key(version)
	if err != nil {
		return nil, err
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, dErrors.New(dErrors.CodeIntegrity, "ciphertext shorter than nonce")
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeIntegrity, "ciphertext authentication failed")
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return aead, nil
}

// HashPayload computes the SHA-256 hex digest stored as PayloadHash.
func HashPayload(plaintext []byte) string {
	sum := sha256.Sum256(plaintext)
	return hex.EncodeToString(sum[:])
}
