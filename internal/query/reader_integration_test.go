package query_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"EirLedger/internal/core"
	"EirLedger/internal/model"
	"EirLedger/internal/persistence"
	"EirLedger/internal/query"
	"EirLedger/internal/testutil"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedSQL = `
INSERT INTO eir_calc.eir_calculation
    (task_execution_id, eir_dataset_task_execution_id, previous_eir_calculation_task_execution_id, eir_configuration_id, business_date)
VALUES (100, 10, NULL, 1, '2024-03-31'),
       (200, 20, 100, 1, '2024-06-30');

INSERT INTO eir_calc.eir_exposure
    (eir_dataset_task_execution_id, eir_exposure_map_id, business_date, open_date, maturity_date, notional, nir, accrual_convention)
VALUES (10, 1, '2024-03-31', '2024-01-31', '2025-01-31', 1000, 0.06, 1),
       (10, 2, '2024-03-31', '2024-02-15', '2025-02-15', 400, 0.05, 2),
       (20, 1, '2024-06-30', '2024-01-31', '2025-01-31', 750, 0.06, 1),
       (20, 3, '2024-06-30', '2024-05-01', '2025-05-01', 300, 0.07, 3);

INSERT INTO eir_calc.eir_payment_schedule
    (eir_dataset_task_execution_id, eir_exposure_map_id, business_date, payment_date, principal, interest)
VALUES (10, 1, '2024-03-31', '2024-04-30', 250, 15),
       (10, 1, '2024-03-31', '2024-07-30', 250, 11),
       (10, 1, '2024-03-31', '2024-10-30', 250, 7),
       (10, 1, '2024-03-31', '2025-01-31', 250, 4),
       (10, 2, '2024-03-31', '2024-08-15', 200, 10),
       (10, 2, '2024-03-31', '2025-02-15', 200, 5),
       (20, 1, '2024-06-30', '2024-07-30', 250, 11),
       (20, 1, '2024-06-30', '2024-10-30', 250, 7),
       (20, 1, '2024-06-30', '2025-01-31', 250, 4),
       (20, 3, '2024-06-30', '2024-11-01', 150, 10),
       (20, 3, '2024-06-30', '2025-05-01', 150, 5);

INSERT INTO eir_calc.eir_commission
    (eir_exposure_map_id, commission_id, business_date, collection_date, comm_value, comm_method, comm_type, sign_type)
VALUES (1, 'C-1', '2024-03-31', '2024-01-31', 20, 2, 'ORIGINATION', 1),
       (3, 'C-3', '2024-06-30', '2024-05-01', 6, 1, 'BROKER', 1);

INSERT INTO eir_calc.eir_commission_settlement_configuration (eir_configuration_id, comm_type, settlement_type)
VALUES (1, 'ORIGINATION', '0'),
       (1, 'BROKER', '1');
`

func d(y, m, day int) civil.Date {
	return civil.Date{Year: y, Month: time.Month(m), Day: day}
}

func seed(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(seedSQL)
	require.NoError(t, err)
}

// runCalculation drives one run the way the coordinator does, with a
// single batch.
func runCalculation(t *testing.T, reader *query.Reader, writer *persistence.OutputWriter, calcID int64) model.RunKeys {
	t.Helper()
	ctx := context.Background()

	keys, err := reader.ResolveKeys(ctx, calcID)
	require.NoError(t, err)
	current, err := reader.ExposureIDs(ctx, keys.DatasetTaskID)
	require.NoError(t, err)
	prior, err := reader.ExposureIDs(ctx, keys.PrevDatasetTaskID)
	require.NoError(t, err)

	pop := model.NewPopulation(prior, current)
	p := core.NewProcessor(reader, writer, zerolog.Nop(), nil)
	for _, b := range model.Partition(pop.All, 2500) {
		res := p.Process(ctx, keys, pop, b)
		require.False(t, res.Failed(), "batch failed: %+v", res.Failure)
	}
	return keys
}

// === Test: Reader ===

func TestReader_ResolveKeys(t *testing.T) {
	testutil.RequireIntegration(t)
	tdb := testutil.SetupTestDB(t)
	seed(t, tdb.DB)
	r := query.NewReader(tdb.DB, query.NewCache(64), nil)

	keys, err := r.ResolveKeys(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, model.RunKeys{
		CalculationTaskID: 200, DatasetTaskID: 20, PrevDatasetTaskID: 10,
		ConfigurationID: 1, BusinessDate: d(2024, 6, 30),
	}, keys)

	first, err := r.ResolveKeys(context.Background(), 100)
	require.NoError(t, err)
	assert.False(t, first.HasPrevious())

	_, err = r.ResolveKeys(context.Background(), 999)
	assert.ErrorIs(t, err, query.ErrRunNotFound)
}

func TestReader_ExposureIDsAndBatch(t *testing.T) {
	testutil.RequireIntegration(t)
	tdb := testutil.SetupTestDB(t)
	seed(t, tdb.DB)
	r := query.NewReader(tdb.DB, query.NewCache(64), nil)
	ctx := context.Background()

	ids, err := r.ExposureIDs(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)

	keys, err := r.ResolveKeys(ctx, 200)
	require.NoError(t, err)
	in, err := r.LoadBatch(ctx, keys, []int64{1, 2, 3})
	require.NoError(t, err)

	assert.Len(t, in.Exposures, 4)
	assert.Len(t, in.Schedules, 11)
	require.Len(t, in.Commissions, 2)
	assert.Equal(t, "0", in.Commissions[0].SettlementType)
	assert.Equal(t, model.MethodLinear, in.Commissions[1].Method)
	assert.Empty(t, in.Ledger)
}

// === Test: Round trip ===

func TestReader_TwoLoadsetsRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	tdb := testutil.SetupTestDB(t)
	seed(t, tdb.DB)
	reader := query.NewReader(tdb.DB, query.NewCache(64), nil)
	writer := persistence.NewOutputWriter(tdb.Pool, nil)
	ctx := context.Background()

	runCalculation(t, reader, writer, 100)

	keys, err := reader.ResolveKeys(ctx, 200)
	require.NoError(t, err)
	in, err := reader.LoadBatch(ctx, keys, []int64{1})
	require.NoError(t, err)
	require.NotEmpty(t, in.Ledger)
	for _, row := range in.Ledger {
		assert.Equal(t, d(2024, 3, 31), row.BusinessDate)
	}

	runCalculation(t, reader, writer, 200)

	var rows int
	require.NoError(t, tdb.DB.QueryRow(`
		SELECT count(*) FROM eir_calc.eir_effective_amortization
		WHERE eir_calculation_task_execution_id = 200
	`).Scan(&rows))
	assert.Greater(t, rows, 0)

	var notional float64
	require.NoError(t, tdb.DB.QueryRow(`
		SELECT notional_due FROM eir_calc.eir_effective_amortization
		WHERE eir_calculation_task_execution_id = 200 AND eir_exposure_map_id = 2
		ORDER BY cash_flow_date DESC LIMIT 1
	`).Scan(&notional))
	assert.Zero(t, notional, "ended exposure closes to zero")

	var linear int
	require.NoError(t, tdb.DB.QueryRow(`
		SELECT count(*) FROM eir_calc.eir_commission_settlement
		WHERE eir_calculation_task_execution_id = 200 AND commission_id = 'C-3'
	`).Scan(&linear))
	assert.Positive(t, linear)
}
