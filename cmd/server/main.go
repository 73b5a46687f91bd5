package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"phivault/internal/audit"
	auditkafka "phivault/internal/audit/kafka"
	"phivault/internal/coder"
	"phivault/internal/feedback"
	"phivault/internal/linker"
	"phivault/internal/platform/config"
	"phivault/internal/platform/httpserver"
	"phivault/internal/platform/logger"
	"phivault/internal/platform/metrics"
	"phivault/internal/platform/redis"
	"phivault/internal/platform/token"
	"phivault/internal/procedure"
	httptransport "phivault/internal/transport/http"
	"phivault/internal/vault"
	"phivault/pkg/platform/tx"
)

// main wires dependencies and owns the server lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	masterKey := decodeKey(cfg.VaultMasterKey)
	keyring, err := vault.NewKeyring(masterKey, cfg.VaultKeyVersion)
	if err != nil {
		log.Error("vault keyring init failed", "error", err)
		os.Exit(1)
	}

	health := map[string]httptransport.HealthChecker{}

	// Storage: postgres when configured, in-memory otherwise.
	var (
		db             *sql.DB
		txr            tx.Runner = tx.Passthrough{}
		vaultStore     vault.Store
		procedureStore procedure.Store
		auditStore     audit.Store
		feedbackStore  feedback.Store
	)
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		db.SetMaxOpenConns(25)
		db.SetConnMaxIdleTime(5 * time.Minute)

		txr = newPostgresTx(db)
		vaultStore = vault.NewPostgres(db)
		procedureStore = procedure.NewPostgres(db)
		auditStore = audit.NewPostgres(db)
		feedbackStore = feedback.NewPostgres(db)
		health["postgres"] = db.PingContext
	} else {
		log.Warn("no postgres DSN configured, using in-memory stores")
		vaultStore = vault.NewMemoryStore()
		procedureStore = procedure.NewMemoryStore()
		auditStore = audit.NewMemoryStore()
		feedbackStore = feedback.NewMemoryStore()
	}

	// Audit ledger, with compliance fan-out when a broker is configured.
	ledgerOpts := []audit.Option{audit.WithMetrics(m)}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := auditkafka.New(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Error("kafka publisher init failed", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		ledgerOpts = append(ledgerOpts, audit.WithFanOut(publisher))
	}
	ledger := audit.NewLedger(auditStore, log, ledgerOpts...)

	// Decrypt rate limiting: redis-backed when available, else per-process.
	var limiter vault.RateLimiter = vault.NopLimiter{}
	redisClient, err := redis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	if cfg.DecryptRateLimit > 0 {
		if redisClient != nil {
			limiter = vault.NewRedisLimiter(redisClient.Client, cfg.DecryptRateLimit, cfg.DecryptRateWindow)
		} else {
			limiter = vault.NewWindowLimiter(cfg.DecryptRateLimit, cfg.DecryptRateWindow)
		}
	}
	if redisClient != nil {
		defer redisClient.Close()
		health["redis"] = redisClient.Health
	}

	vaultSvc := vault.NewService(vaultStore, ledger, keyring, txr, log,
		vault.WithMetrics(m),
		vault.WithRateLimiter(limiter),
		vault.WithDedup(cfg.VaultDedup),
	)

	procedureSvc := procedure.NewService(procedureStore, vaultSvc, ledger, txr, log,
		procedure.WithMetrics(m),
		procedure.WithInferenceTimeout(cfg.InferenceTimeout),
	)

	// Concept linker: contextual strategy first when an annotator is
	// configured, term index as the always-on fallback.
	var strategies []linker.Linker
	if cfg.AnnotatorURL != "" {
		strategies = append(strategies, linker.NewContextual(
			linker.NewHTTPAnnotator(cfg.AnnotatorURL), log,
			linker.WithContextualCacheSize(cfg.LinkerCacheSize),
			linker.WithContextualMetrics(m),
		))
	}
	if cfg.LinkerIndexPath != "" {
		index, err := linker.NewIndexFromFile(cfg.LinkerIndexPath, cfg.LinkerCacheSize,
			linker.WithAllowedSemanticTypes(cfg.LinkerSemanticTypes))
		if err != nil {
			log.Error("linker index load failed", "error", err)
			os.Exit(1)
		}
		strategies = append(strategies, index)
	}
	linkerSvc := linker.NewService(log, strategies, linker.WithMetrics(m))

	coderSvc := coder.New(linkerSvc, log)

	feedbackSvc := feedback.NewService(feedbackStore, procedureSvc, ledger, txr, log,
		feedback.WithMetrics(m),
	)

	validator := token.NewValidator([]byte(cfg.JWTSigningKey), "phivault")

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:    log,
		Metrics:   m,
		Validator: validator,
		Vault:     httptransport.NewVaultHandler(vaultSvc, ledger, log),
		Procedure: httptransport.NewProcedureHandler(procedureSvc, ledger, coderSvc.Infer, log),
		Feedback:  httptransport.NewFeedbackHandler(feedbackSvc, log),
		Linker:    httptransport.NewLinkerHandler(linkerSvc, log),
		Health:    health,
	})

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// decodeKey accepts the master key either base64-encoded or raw.
func decodeKey(raw string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) >= 32 {
		return decoded
	}
	return []byte(raw)
}
