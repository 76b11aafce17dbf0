package persistence

import (
	"context"
	"fmt"
	"math"
	"time"

	"EirLedger/internal/model"
	"EirLedger/internal/observability"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Output tables in the eir_calc schema.
const (
	TableEffectiveAmortization = "eir_effective_amortization"
	TableEffectiveSettlement   = "eir_effective_settlement"
	TableCommissionSettlement  = "eir_commission_settlement"
)

// Monetary columns keep 8 decimals, rates and ratios 12.
const (
	amountPlaces = 8
	ratePlaces   = 12
)

// TxBeginner starts a transaction; *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OutputWriter appends a batch's output rows with the COPY protocol. The
// three tables are written in one transaction so a batch is either fully
// persisted or not at all.
type OutputWriter struct {
	pool    TxBeginner
	metrics *observability.Metrics
}

// NewOutputWriter creates a writer. metrics may be nil.
func NewOutputWriter(pool TxBeginner, metrics *observability.Metrics) *OutputWriter {
	return &OutputWriter{pool: pool, metrics: metrics}
}

var (
	ledgerColumns = []string{
		"eir_dataset_task_execution_id", "eir_calculation_task_execution_id", "eir_exposure_map_id",
		"cash_flow_date", "notional_due", "repayment_capital", "repayment_interest", "accrued_interest",
		"comm_value", "amortization_effective", "unsettled_commission_effective", "effective_interest",
		"effective_notional_due", "effective_interest_rate",
	}
	effectiveColumns = []string{
		"eir_dataset_task_execution_id", "eir_calculation_task_execution_id", "eir_exposure_map_id",
		"cash_flow_date", "nominal_interest_accrual", "effective_interest_accrual", "amortization_effective",
		"unsettled_commission_effective", "amortization_cumulated_effective",
	}
	commissionColumns = []string{
		"eir_dataset_task_execution_id", "eir_calculation_task_execution_id", "eir_exposure_map_id",
		"commission_id", "cash_flow_date", "comm_method", "comm_value", "comm_type", "sign_type",
		"collection_date", "settlement_date", "amortization_linear", "amortization_cumulated_linear",
		"amortization_effective", "amortization_cumulated_effective", "unsettled_balance", "commission_ratio",
	}
)

// WriteOutput stamps and appends every row of out.
func (w *OutputWriter) WriteOutput(ctx context.Context, stamp model.Stamp, out model.Output) error {
	if out.Len() == 0 {
		return nil
	}
	start := time.Now()

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return w.fail(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	copies := []struct {
		table   string
		columns []string
		rows    [][]any
	}{
		{TableEffectiveAmortization, ledgerColumns, ledgerRows(stamp, out.Ledger)},
		{TableEffectiveSettlement, effectiveColumns, effectiveRows(stamp, out.EffectiveSettlements)},
		{TableCommissionSettlement, commissionColumns, commissionRows(stamp, out.CommissionSettlements)},
	}

	for _, c := range copies {
		if len(c.rows) == 0 {
			continue
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"eir_calc", c.table}, c.columns, pgx.CopyFromRows(c.rows))
		if err != nil {
			return w.fail(fmt.Errorf("copy %s: %w", c.table, err))
		}
		if w.metrics != nil {
			w.metrics.RowsWritten.WithLabelValues(c.table).Add(float64(n))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return w.fail(fmt.Errorf("commit: %w", err))
	}
	if w.metrics != nil {
		w.metrics.WriteLatency.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (w *OutputWriter) fail(err error) error {
	if w.metrics != nil {
		w.metrics.WriteErrors.Inc()
	}
	return err
}

func ledgerRows(s model.Stamp, rows []model.LedgerRow) [][]any {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, []any{
			s.DatasetTaskID, s.CalculationTaskID, r.ExposureID,
			date(r.CashFlowDate), amount(r.NotionalDue), amount(r.RepaymentCapital), amount(r.RepaymentInterest),
			amount(r.AccruedInterest), amount(r.CommValue), amount(r.AmortizationEffective),
			amount(r.UnsettledCommissionEffective), amount(r.EffectiveInterest), amount(r.EffectiveNotionalDue),
			rate(r.EffectiveInterestRate),
		})
	}
	return out
}

func effectiveRows(s model.Stamp, rows []model.EffectiveSettlementRow) [][]any {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, []any{
			s.DatasetTaskID, s.CalculationTaskID, r.ExposureID,
			date(r.CashFlowDate), amount(r.NominalInterestAccrual), amount(r.EffectiveInterestAccrual),
			amount(r.AmortizationEffective), amount(r.UnsettledCommissionEffective),
			amount(r.AmortizationCumulatedEffective),
		})
	}
	return out
}

func commissionRows(s model.Stamp, rows []model.CommissionSettlementRow) [][]any {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		var settlement any
		if !r.SettlementDate.IsZero() {
			settlement = date(r.SettlementDate)
		}
		out = append(out, []any{
			s.DatasetTaskID, s.CalculationTaskID, r.ExposureID,
			r.CommissionID, date(r.CashFlowDate), int16(r.Method), amount(r.CommValue), r.CommType, int32(r.SignType),
			date(r.CollectionDate), settlement, amount(r.AmortizationLinear), amount(r.AmortizationCumulatedLinear),
			amount(r.AmortizationEffective), amount(r.AmortizationCumulatedEffective), amount(r.UnsettledBalance),
			rate(r.CommissionRatio),
		})
	}
	return out
}

func date(d civil.Date) time.Time {
	return d.In(time.UTC)
}

func amount(v float64) float64 {
	return round(v, amountPlaces)
}

func rate(v float64) float64 {
	return round(v, ratePlaces)
}

// round leaves NaN and infinities alone; decimal cannot represent them.
func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
