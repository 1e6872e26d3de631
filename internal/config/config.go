package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	StoreDriverGorm = "gorm"
	StoreDriverPgx  = "pgx"

	MemoryDatabaseURL = "memory://"

	defaultHTTPListenAddr      = ":8080"
	defaultHealthListenAddr    = ":7070"
	defaultAllowedOrigin       = "http://localhost:8000"
	defaultJWTIssuer           = "wagerd"
	defaultCommitment          = "confirmed"
	defaultRPCTimeout          = 10 * time.Second
	defaultConfirmationTimeout = 60 * time.Second
	defaultPayoutTimeout       = 90 * time.Second
	defaultReconcileInterval   = time.Minute
	defaultReconcileGrace      = 3 * time.Minute
	defaultAuditInterval       = 15 * time.Minute
	defaultMetricsInterval     = time.Minute
	defaultAuditPrefix         = "reconciliation/"
)

// Config aggregates runtime settings for wagerd.
type Config struct {
	DatabaseURL         string
	StoreDriver         string
	HTTPListenAddr      string
	HealthListenAddr    string
	RPCPrimaryURL       string
	RPCFallbackURLs     []string
	Commitment          string
	RPCTimeout          time.Duration
	ConfirmationTimeout time.Duration
	PayoutTimeout       time.Duration
	TreasuryAddress     string
	TreasuryKey         string
	JWTSigningKey       string
	JWTIssuer           string
	AllowedOrigins      []string
	NATSURL             string
	ReconcileInterval   time.Duration
	ReconcileGrace      time.Duration
	AuditBucket         string
	AuditRegion         string
	AuditPrefix         string
	AuditInterval       time.Duration
	MetricsInterval     time.Duration
}

// Validate applies defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.StoreDriver = strings.ToLower(defaultIfEmpty(cfg.StoreDriver, StoreDriverGorm))
	cfg.HTTPListenAddr = defaultIfEmpty(cfg.HTTPListenAddr, defaultHTTPListenAddr)
	cfg.HealthListenAddr = defaultIfEmpty(cfg.HealthListenAddr, defaultHealthListenAddr)
	cfg.Commitment = strings.ToLower(defaultIfEmpty(cfg.Commitment, defaultCommitment))
	cfg.JWTIssuer = defaultIfEmpty(cfg.JWTIssuer, defaultJWTIssuer)
	cfg.AuditPrefix = defaultIfEmpty(cfg.AuditPrefix, defaultAuditPrefix)
	cfg.RPCTimeout = durationOrDefault(cfg.RPCTimeout, defaultRPCTimeout)
	cfg.ConfirmationTimeout = durationOrDefault(cfg.ConfirmationTimeout, defaultConfirmationTimeout)
	cfg.PayoutTimeout = durationOrDefault(cfg.PayoutTimeout, defaultPayoutTimeout)
	cfg.ReconcileInterval = durationOrDefault(cfg.ReconcileInterval, defaultReconcileInterval)
	cfg.ReconcileGrace = durationOrDefault(cfg.ReconcileGrace, defaultReconcileGrace)
	cfg.AuditInterval = durationOrDefault(cfg.AuditInterval, defaultAuditInterval)
	cfg.MetricsInterval = durationOrDefault(cfg.MetricsInterval, defaultMetricsInterval)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database url is required")
	}
	if cfg.StoreDriver != StoreDriverGorm && cfg.StoreDriver != StoreDriverPgx {
		return fmt.Errorf("store driver must be %q or %q, got %q", StoreDriverGorm, StoreDriverPgx, cfg.StoreDriver)
	}
	if cfg.StoreDriver == StoreDriverPgx && !IsPostgresURL(cfg.DatabaseURL) {
		return fmt.Errorf("store driver %q requires a postgres database url", StoreDriverPgx)
	}
	if strings.TrimSpace(cfg.RPCPrimaryURL) == "" {
		return fmt.Errorf("rpc primary url is required")
	}
	switch cfg.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("commitment must be processed, confirmed or finalized, got %q", cfg.Commitment)
	}
	if strings.TrimSpace(cfg.TreasuryKey) == "" {
		return fmt.Errorf("treasury key is required")
	}
	if len(cfg.JWTSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	if cfg.ConfirmationTimeout > cfg.PayoutTimeout {
		return fmt.Errorf("confirmation timeout %s exceeds payout timeout %s", cfg.ConfirmationTimeout, cfg.PayoutTimeout)
	}
	// The reconciler must not race an in-flight submission.
	if cfg.ReconcileGrace <= cfg.PayoutTimeout {
		return fmt.Errorf("reconcile grace %s must exceed payout timeout %s", cfg.ReconcileGrace, cfg.PayoutTimeout)
	}
	if cfg.AuditBucket != "" && strings.TrimSpace(cfg.AuditRegion) == "" {
		return fmt.Errorf("audit region is required when an audit bucket is set")
	}
	return nil
}

// IsPostgresURL reports whether dsn names a postgres database.
func IsPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// ParseList splits comma-delimited values into a slice.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func durationOrDefault(value time.Duration, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
