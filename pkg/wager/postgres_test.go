package wager_test

import (
	"context"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/wager/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/wager/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func startServicePostgres(test *testing.T) string {
	test.Helper()
	if testing.Short() {
		test.Skip("postgres container tests skipped in -short mode")
	}
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("wager_service_test"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		postgres.BasicWaitStrategies(),
		testcontainers.WithLabels(map[string]string{"test": "wager-service"}),
	)
	require.NoError(test, err)
	test.Cleanup(func() {
		terminateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(terminateCtx); err != nil {
			test.Logf("terminate postgres container: %v", err)
		}
	})
	databaseURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(test, err)
	_, err = pgstore.Migrate(databaseURL)
	require.NoError(test, err)
	return databaseURL
}

func truncateServiceTables(test *testing.T, pool *pgxpool.Pool) {
	test.Helper()
	_, err := pool.Exec(context.Background(), `
		truncate accounts, game_sessions, wagers, ledger_entries, rewards, payouts, deposit_proofs, reconciliation_events
	`)
	require.NoError(test, err)
}

// Row-level conditional writes race for real here; memstore serializes every transaction.
func TestConcurrentSettlementOnPostgres(test *testing.T) {
	databaseURL := startServicePostgres(test)
	pool, err := pgstore.Connect(context.Background(), databaseURL)
	require.NoError(test, err)
	test.Cleanup(pool.Close)

	db, cleanup, _, err := gormstore.Open(context.Background(), databaseURL)
	require.NoError(test, err)
	test.Cleanup(func() { _ = cleanup() })

	stores := []struct {
		name  string
		store func() wager.Store
	}{
		{name: "pgx", store: func() wager.Store { return pgstore.New(pool) }},
		{name: "gorm", store: func() wager.Store { return gormstore.New(db) }},
	}
	for _, current := range stores {
		test.Run(current.name+"/claim_exactly_once", func(test *testing.T) {
			truncateServiceTables(test, pool)
			store := current.store()
			assertClaimExactlyOnce(test, newHarnessWithStore(test, store, store))
		})
		test.Run(current.name+"/settle_once", func(test *testing.T) {
			truncateServiceTables(test, pool)
			store := current.store()
			assertSettleOnce(test, newHarnessWithStore(test, store, store))
		})
	}
}
