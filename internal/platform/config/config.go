package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration. FromEnv keeps main lean; every
// knob has a development default except the vault master key, which must be
// set explicitly outside tests.
type Config struct {
	Addr string

	// PostgresDSN is the shared transactional store for vault, procedure,
	// audit, and feedback tables. Empty selects in-memory stores.
	PostgresDSN string

	// RedisURL backs the decrypt rate limiter. Empty disables redis and the
	// limiter falls back to an in-process window.
	RedisURL string

	// KafkaBrokers enables the compliance audit fan-out when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	// VaultMasterKey seeds the HKDF keyring. Base64 or raw; at least 32 bytes.
	VaultMasterKey string
	// VaultKeyVersion is the key version used for new encryptions. Older
	// versions remain decryptable after rotation.
	VaultKeyVersion int
	// VaultDedup rejects plaintexts whose hash is already stored.
	VaultDedup bool

	// DecryptRateLimit caps decrypts per actor per window. Zero disables.
	DecryptRateLimit  int
	DecryptRateWindow time.Duration

	// InferenceTimeout bounds external model calls made while a record is in
	// the processing state.
	InferenceTimeout time.Duration

	// JWTSigningKey verifies actor bearer tokens at the transport edge.
	JWTSigningKey string

	// AnnotatorURL enables the contextual linker strategy when non-empty.
	AnnotatorURL string
	// LinkerIndexPath points at the term index for the lightweight linker.
	// Empty leaves the strategy unavailable (degrades to empty results).
	LinkerIndexPath string
	// LinkerCacheSize bounds the contextual linker's document cache.
	LinkerCacheSize int
	// LinkerSemanticTypes restricts index-based candidates to concepts
	// carrying one of these semantic types. Empty leaves the index
	// unfiltered.
	LinkerSemanticTypes []string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:              envOr("PHI_VAULT_ADDR", ":8080"),
		PostgresDSN:       os.Getenv("PHI_VAULT_POSTGRES_DSN"),
		RedisURL:          os.Getenv("PHI_VAULT_REDIS_URL"),
		KafkaTopic:        envOr("PHI_VAULT_KAFKA_TOPIC", "phi.audit.compliance"),
		VaultMasterKey:    os.Getenv("PHI_VAULT_MASTER_KEY"),
		VaultKeyVersion:   envInt("PHI_VAULT_KEY_VERSION", 1),
		VaultDedup:        os.Getenv("PHI_VAULT_DEDUP") == "true",
		DecryptRateLimit:  envInt("PHI_VAULT_DECRYPT_RATE_LIMIT", 30),
		DecryptRateWindow: envDuration("PHI_VAULT_DECRYPT_RATE_WINDOW", time.Minute),
		InferenceTimeout:  envDuration("PHI_VAULT_INFERENCE_TIMEOUT", 60*time.Second),
		JWTSigningKey:     envOr("PHI_VAULT_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		AnnotatorURL:      os.Getenv("PHI_VAULT_ANNOTATOR_URL"),
		LinkerIndexPath:   os.Getenv("PHI_VAULT_LINKER_INDEX"),
		LinkerCacheSize:   envInt("PHI_VAULT_LINKER_CACHE_SIZE", 1024),
	}
	if brokers := os.Getenv("PHI_VAULT_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	if types := os.Getenv("PHI_VAULT_LINKER_SEMANTIC_TYPES"); types != "" {
		cfg.LinkerSemanticTypes = strings.Split(types, ",")
	}
	return cfg
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
