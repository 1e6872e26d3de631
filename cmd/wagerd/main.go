package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/wager/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagDatabaseURL         = "database-url"
	flagStoreDriver         = "store-driver"
	flagHTTPListenAddr      = "http-listen-addr"
	flagHealthListenAddr    = "health-listen-addr"
	flagRPCPrimaryURL       = "rpc-url"
	flagRPCFallbackURLs     = "rpc-fallback-urls"
	flagCommitment          = "commitment"
	flagRPCTimeout          = "rpc-timeout"
	flagConfirmationTimeout = "confirmation-timeout"
	flagPayoutTimeout       = "payout-timeout"
	flagTreasuryAddress     = "treasury-address"
	flagTreasuryKey         = "treasury-key"
	flagJWTSigningKey       = "jwt-signing-key"
	flagJWTIssuer           = "jwt-issuer"
	flagAllowedOrigins      = "allowed-origins"
	flagNATSURL             = "nats-url"
	flagReconcileInterval   = "reconcile-interval"
	flagReconcileGrace      = "reconcile-grace"
	flagAuditBucket         = "audit-bucket"
	flagAuditRegion         = "audit-region"
	flagAuditPrefix         = "audit-prefix"
	flagAuditInterval       = "audit-interval"
	flagMetricsInterval     = "metrics-interval"
	flagEnvFile             = "env-file"

	envPrefix          = "WAGERD"
	defaultDatabaseURL = "sqlite:///tmp/wager.db"
	defaultEnvFile     = ".env"
)

var configFlags = []string{
	flagDatabaseURL, flagStoreDriver, flagHTTPListenAddr, flagHealthListenAddr, flagRPCPrimaryURL,
	flagRPCFallbackURLs, flagCommitment, flagRPCTimeout, flagConfirmationTimeout, flagPayoutTimeout,
	flagTreasuryAddress, flagTreasuryKey, flagJWTSigningKey, flagJWTIssuer, flagAllowedOrigins,
	flagNATSURL, flagReconcileInterval, flagReconcileGrace, flagAuditBucket, flagAuditRegion,
	flagAuditPrefix, flagAuditInterval, flagMetricsInterval,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wagerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := config.Config{}
	cmd := &cobra.Command{
		Use:           "wagerd",
		Short:         "Wager settlement engine with on-chain deposits and payouts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(flagEnvFile, defaultEnvFile, "optional dotenv file loaded before reading the environment")
	flags.String(flagDatabaseURL, defaultDatabaseURL, "postgres://, sqlite:// or memory:// database url")
	flags.String(flagStoreDriver, config.StoreDriverGorm, "store implementation: gorm or pgx (postgres only)")
	flags.String(flagHTTPListenAddr, "", "HTTP API listen address")
	flags.String(flagHealthListenAddr, "", "gRPC health listen address")
	flags.String(flagRPCPrimaryURL, "", "primary Solana JSON-RPC url (required)")
	flags.String(flagRPCFallbackURLs, "", "comma-separated fallback Solana JSON-RPC urls, tried in order")
	flags.String(flagCommitment, "", "commitment level: processed, confirmed or finalized")
	flags.Duration(flagRPCTimeout, 0, "timeout of a single RPC call")
	flags.Duration(flagConfirmationTimeout, 0, "how long a payout may wait for confirmation")
	flags.Duration(flagPayoutTimeout, 0, "upper bound of a detached payout before it is left to the reconciler")
	flags.String(flagTreasuryAddress, "", "expected treasury public key; checked against the treasury key")
	flags.String(flagTreasuryKey, "", "base58 treasury private key (required)")
	flags.String(flagJWTSigningKey, "", "HS256 signing key for bearer tokens (required)")
	flags.String(flagJWTIssuer, "", "expected bearer token issuer")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(flagNATSURL, "", "NATS servers for event notifications; empty disables them")
	flags.Duration(flagReconcileInterval, 0, "how often pending payouts are reconciled")
	flags.Duration(flagReconcileGrace, 0, "minimum age of a pending payout before it is reconciled")
	flags.String(flagAuditBucket, "", "S3 bucket for reconciliation reports; empty disables export")
	flags.String(flagAuditRegion, "", "AWS region of the audit bucket")
	flags.String(flagAuditPrefix, "", "object key prefix of reconciliation reports")
	flags.Duration(flagAuditInterval, 0, "how often reconciliation reports are exported")
	flags.Duration(flagMetricsInterval, 0, "stdout metrics export interval")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	envFile, err := cmd.Flags().GetString(flagEnvFile)
	if err != nil {
		return err
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, flagName := range configFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = v.GetString(flagDatabaseURL)
	cfg.StoreDriver = v.GetString(flagStoreDriver)
	cfg.HTTPListenAddr = v.GetString(flagHTTPListenAddr)
	cfg.HealthListenAddr = v.GetString(flagHealthListenAddr)
	cfg.RPCPrimaryURL = strings.TrimSpace(v.GetString(flagRPCPrimaryURL))
	cfg.RPCFallbackURLs = config.ParseList(v.GetString(flagRPCFallbackURLs))
	cfg.Commitment = v.GetString(flagCommitment)
	cfg.RPCTimeout = v.GetDuration(flagRPCTimeout)
	cfg.ConfirmationTimeout = v.GetDuration(flagConfirmationTimeout)
	cfg.PayoutTimeout = v.GetDuration(flagPayoutTimeout)
	cfg.TreasuryAddress = strings.TrimSpace(v.GetString(flagTreasuryAddress))
	cfg.TreasuryKey = strings.TrimSpace(v.GetString(flagTreasuryKey))
	cfg.JWTSigningKey = v.GetString(flagJWTSigningKey)
	cfg.JWTIssuer = v.GetString(flagJWTIssuer)
	cfg.AllowedOrigins = config.ParseList(v.GetString(flagAllowedOrigins))
	cfg.NATSURL = strings.TrimSpace(v.GetString(flagNATSURL))
	cfg.ReconcileInterval = v.GetDuration(flagReconcileInterval)
	cfg.ReconcileGrace = v.GetDuration(flagReconcileGrace)
	cfg.AuditBucket = strings.TrimSpace(v.GetString(flagAuditBucket))
	cfg.AuditRegion = strings.TrimSpace(v.GetString(flagAuditRegion))
	cfg.AuditPrefix = v.GetString(flagAuditPrefix)
	cfg.AuditInterval = v.GetDuration(flagAuditInterval)
	cfg.MetricsInterval = v.GetDuration(flagMetricsInterval)

	return cfg.Validate()
}
