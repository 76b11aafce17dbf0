package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"EirLedger/internal/persistence"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// TestDB is a migrated Postgres database for integration tests.
type TestDB struct {
	DB   *sql.DB
	Pool *pgxpool.Pool
	URL  string
}

// eirTables are truncated between tests sharing an external database.
var eirTables = []string{
	"eir_calc.eir_commission_settlement",
	"eir_calc.eir_effective_settlement",
	"eir_calc.eir_effective_amortization",
	"eir_calc.eir_commission_settlement_configuration",
	"eir_calc.eir_commission",
	"eir_calc.eir_payment_schedule",
	"eir_calc.eir_exposure",
	"eir_calc.eir_calculation",
}

// SetupTestDB returns a migrated database. TEST_POSTGRES_DSN points at an
// existing server; otherwise a postgres:16-alpine container is started and
// terminated when the test ends.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		container, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("eirledger_test"),
			postgres.WithUsername("eir_test"),
			postgres.WithPassword("eir_test_password"),
			postgres.BasicWaitStrategies(),
			testcontainers.CustomizeRequest(testcontainers.GenericContainerRequest{
				ContainerRequest: testcontainers.ContainerRequest{
					Labels: map[string]string{
						"test":      "eirledger",
						"test-name": t.Name(),
					},
				},
			}),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := container.Terminate(ctx); err != nil {
				t.Logf("terminate test container: %v", err)
			}
		})

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		t.Skipf("test postgres not available: %v", err)
	}

	require.NoError(t, persistence.NewMigrator(db, "").Up())

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	t.Cleanup(func() {
		for _, table := range eirTables {
			db.Exec(fmt.Sprintf("TRUNCATE %s CASCADE", table))
		}
		pool.Close()
		db.Close()
	})

	return &TestDB{DB: db, Pool: pool, URL: dsn}
}

// RequireIntegration skips the test if not running integration tests.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") == "" {
		t.Skip("skipping integration test (set INTEGRATION_TEST=1 to run)")
	}
}
