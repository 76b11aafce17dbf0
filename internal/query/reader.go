package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"EirLedger/internal/model"
	"EirLedger/internal/observability"

	"cloud.google.com/go/civil"
	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"
)

// ErrRunNotFound is returned when a calculation task id has no
// eir_calculation row.
var ErrRunNotFound = errors.New("calculation task not found")

// Reader provides the read-only queries a run consumes. Results go through
// a bounded read-through cache shared by every batch of every run.
type Reader struct {
	db      *sql.DB
	cache   *Cache
	metrics *observability.Metrics
}

// NewReader creates a reader. metrics may be nil.
func NewReader(db *sql.DB, cache *Cache, metrics *observability.Metrics) *Reader {
	if cache == nil {
		cache = NewCache(0)
	}
	return &Reader{db: db, cache: cache, metrics: metrics}
}

// cached runs fetch unless the result for name and params is cached.
func cached[T any](r *Reader, name string, params []any, fetch func() (T, error)) (T, error) {
	key := fmt.Sprintf("%s:%v", name, params)
	if v, ok := r.cache.Get(key); ok {
		if r.metrics != nil {
			r.metrics.CacheHits.WithLabelValues(name).Inc()
		}
		return v.(T), nil
	}
	if r.metrics != nil {
		r.metrics.CacheMisses.WithLabelValues(name).Inc()
	}

	start := time.Now()
	v, err := fetch()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", name, err)
	}
	if r.metrics != nil {
		r.metrics.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	r.cache.Add(key, v)
	return v, nil
}

// ResolveKeys looks up the dataset, previous dataset, configuration and
// business date of a calculation run concurrently.
func (r *Reader) ResolveKeys(ctx context.Context, calculationTaskID int64) (model.RunKeys, error) {
	keys := model.RunKeys{CalculationTaskID: calculationTaskID}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.scalar(gctx, &keys.DatasetTaskID, `
			SELECT eir_dataset_task_execution_id
			FROM eir_calc.eir_calculation
			WHERE task_execution_id = $1
		`, calculationTaskID)
	})
	g.Go(func() error {
		err := r.scalar(gctx, &keys.PrevDatasetTaskID, `
			SELECT prev.eir_dataset_task_execution_id
			FROM eir_calc.eir_calculation calc
			JOIN eir_calc.eir_calculation prev
			  ON prev.task_execution_id = calc.previous_eir_calculation_task_execution_id
			WHERE calc.task_execution_id = $1
		`, calculationTaskID)
		if errors.Is(err, ErrRunNotFound) {
			keys.PrevDatasetTaskID = 0
			return nil
		}
		return err
	})
	g.Go(func() error {
		return r.scalar(gctx, &keys.ConfigurationID, `
			SELECT eir_configuration_id
			FROM eir_calc.eir_calculation
			WHERE task_execution_id = $1
		`, calculationTaskID)
	})
	g.Go(func() error {
		var bd time.Time
		if err := r.scalar(gctx, &bd, `
			SELECT business_date
			FROM eir_calc.eir_calculation
			WHERE task_execution_id = $1
		`, calculationTaskID); err != nil {
			return err
		}
		keys.BusinessDate = civil.DateOf(bd)
		return nil
	})

	if err := g.Wait(); err != nil {
		return model.RunKeys{}, fmt.Errorf("resolve run %d: %w", calculationTaskID, err)
	}
	return keys, nil
}

func (r *Reader) scalar(ctx context.Context, dest any, query string, args ...any) error {
	err := r.db.QueryRowContext(ctx, query, args...).Scan(dest)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRunNotFound
	}
	return err
}

// ExposureIDs lists the exposures loaded with a dataset, ascending.
func (r *Reader) ExposureIDs(ctx context.Context, datasetTaskID int64) ([]int64, error) {
	return cached(r, "exposure_ids", []any{datasetTaskID}, func() ([]int64, error) {
		rows, err := r.db.QueryContext(ctx, `
			SELECT DISTINCT eir_exposure_map_id
			FROM eir_calc.eir_exposure
			WHERE eir_dataset_task_execution_id = $1
			ORDER BY eir_exposure_map_id
		`, datasetTaskID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, rows.Err()
	})
}

// LoadBatch fetches the six input slices of a batch concurrently.
func (r *Reader) LoadBatch(ctx context.Context, keys model.RunKeys, ids []int64) (*model.BatchInput, error) {
	in := &model.BatchInput{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		in.Exposures, err = r.exposures(gctx, keys.PrevDatasetTaskID, keys.DatasetTaskID, ids)
		return err
	})
	g.Go(func() (err error) {
		in.Commissions, err = r.commissions(gctx, keys.CalculationTaskID, keys.ConfigurationID, ids)
		return err
	})
	g.Go(func() (err error) {
		in.Schedules, err = r.schedules(gctx, keys.PrevDatasetTaskID, keys.DatasetTaskID, ids)
		return err
	})
	g.Go(func() (err error) {
		in.Ledger, err = r.ledger(gctx, keys.PrevDatasetTaskID, keys.CalculationTaskID, ids)
		return err
	})
	g.Go(func() (err error) {
		in.CommissionSettlements, err = r.commissionSettlements(gctx, keys.PrevDatasetTaskID, keys.CalculationTaskID, ids)
		return err
	})
	g.Go(func() (err error) {
		in.EffectiveSettlements, err = r.effectiveSettlements(gctx, keys.PrevDatasetTaskID, keys.CalculationTaskID, ids)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

func (r *Reader) exposures(ctx context.Context, prevDataID, dataID int64, ids []int64) ([]model.Exposure, error) {
	return cached(r, "exposure_info", []any{prevDataID, dataID, ids}, func() ([]model.Exposure, error) {
		rows, err := r.db.QueryContext(ctx, `
			SELECT eir_exposure_map_id, business_date, open_date, maturity_date,
			       notional, nir, accrual_convention
			FROM eir_calc.eir_exposure
			WHERE eir_dataset_task_execution_id IN ($1, $2)
			  AND eir_exposure_map_id = ANY($3)
			ORDER BY eir_exposure_map_id, business_date
		`, prevDataID, dataID, pq.Array(ids))
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []model.Exposure
		for rows.Next() {
			var e model.Exposure
			var bd, open, maturity time.Time
			if err := rows.Scan(
				&e.ExposureID, &bd, &open, &maturity,
				&e.Notional, &e.NIR, &e.AccrualConvention,
			); err != nil {
				return nil, err
			}
			e.BusinessDate, e.OpenDate, e.MaturityDate = civil.DateOf(bd), civil.DateOf(open), civil.DateOf(maturity)
			out = append(out, e)
		}
		return out, rows.Err()
	})
}

func (r *Reader) schedules(ctx context.Context, prevDataID, dataID int64, ids []int64) ([]model.Installment, error) {
	return cached(r, "payment_schedule", []any{prevDataID, dataID, ids}, func() ([]model.Installment, error) {
		rows, err := r.db.QueryContext(ctx, `
			SELECT eir_exposure_map_id, business_date, payment_date, principal, interest
			FROM eir_calc.eir_payment_schedule
			WHERE eir_dataset_task_execution_id IN ($1, $2)
			  AND eir_exposure_map_id = ANY($3)
			ORDER BY eir_exposure_map_id, business_date, payment_date
		`, prevDataID, dataID, pq.Array(ids))
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []model.Installment
		for rows.Next() {
			var i model.Installment
			var bd, date time.Time
			if err := rows.Scan(&i.ExposureID, &bd, &date, &i.Principal, &i.Interest); err != nil {
				return nil, err
			}
			i.BusinessDate, i.Date = civil.DateOf(bd), civil.DateOf(date)
			out = append(out, i)
		}
		return out, rows.Err()
	})
}

// commissions returns one row per commission and matching settlement
// configuration; settlement_type is empty when none matched.
func (r *Reader) commissions(ctx context.Context, calcID, configurationID int64, ids []int64) ([]model.Commission, error) {
	return cached(r, "commissions", []any{calcID, configurationID, ids}, func() ([]model.Commission, error) {
		rows, err := r.db.QueryContext(ctx, `
			SELECT comm.eir_exposure_map_id, comm.commission_id, comm.business_date, comm.collection_date,
			       comm.comm_value, comm.comm_method, comm.comm_type, comm.sign_type,
			       COALESCE(cfg.settlement_type, '')
			FROM eir_calc.eir_commission comm
			LEFT JOIN eir_calc.eir_commission_settlement_configuration cfg
			  ON cfg.eir_configuration_id = $2 AND cfg.comm_type = comm.comm_type
			WHERE comm.business_date <= (
			        SELECT business_date FROM eir_calc.eir_calculation WHERE task_execution_id = $1)
			  AND comm.eir_exposure_map_id = ANY($3)
			ORDER BY comm.eir_exposure_map_id, comm.collection_date, comm.commission_id
		`, calcID, configurationID, pq.Array(ids))
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []model.Commission
		for rows.Next() {
			var c model.Commission
			var bd, collected time.Time
			var method int
			if err := rows.Scan(
				&c.ExposureID, &c.CommissionID, &bd, &collected,
				&c.Value, &method, &c.CommType, &c.SignType, &c.SettlementType,
			); err != nil {
				return nil, err
			}
			c.BusinessDate, c.CollectionDate = civil.DateOf(bd), civil.DateOf(collected)
			c.Method = model.CommissionMethod(method)
			out = append(out, c)
		}
		return out, rows.Err()
	})
}

// ledger returns the ledger rows of earlier runs, with the business date
// of the run that produced them.
func (r *Reader) ledger(ctx context.Context, prevDataID, calcID int64, ids []int64) ([]model.LedgerRow, error) {
	return cached(r, "ledger", []any{prevDataID, calcID, ids}, func() ([]model.LedgerRow, error) {
		rows, err := r.db.QueryContext(ctx, `
			SELECT l.eir_exposure_map_id, calc.business_date, l.cash_flow_date,
			       l.notional_due, l.repayment_capital, l.repayment_interest, l.accrued_interest,
			       l.comm_value, l.amortization_effective, l.unsettled_commission_effective,
			       l.effective_interest, l.effective_notional_due, l.effective_interest_rate
			FROM eir_calc.eir_effective_amortization l
			JOIN eir_calc.eir_calculation calc
			  ON calc.task_execution_id = l.eir_calculation_task_execution_id
			WHERE l.eir_dataset_task_execution_id <= $1
			  AND l.eir_calculation_task_execution_id <> $2
			  AND l.eir_exposure_map_id = ANY($3)
			ORDER BY l.eir_exposure_map_id, l.cash_flow_date, calc.business_date
		`, prevDataID, calcID, pq.Array(ids))
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []model.LedgerRow
		for rows.Next() {
			var l model.LedgerRow
			var bd, cf time.Time
			if err := rows.Scan(
				&l.ExposureID, &bd, &cf,
				&l.NotionalDue, &l.RepaymentCapital, &l.RepaymentInterest, &l.AccruedInterest,
				&l.CommValue, &l.AmortizationEffective, &l.UnsettledCommissionEffective,
				&l.EffectiveInterest, &l.EffectiveNotionalDue, &l.EffectiveInterestRate,
			); err != nil {
				return nil, err
			}
			l.BusinessDate, l.CashFlowDate = civil.DateOf(bd), civil.DateOf(cf)
			out = append(out, l)
		}
		return out, rows.Err()
	})
}

func (r *Reader) commissionSettlements(ctx context.Context, prevDataID, calcID int64, ids []int64) ([]model.CommissionSettlementRow, error) {
	return cached(r, "commission_settlement", []any{prevDataID, calcID, ids}, func() ([]model.CommissionSettlementRow, error) {
		rows, err := r.db.QueryContext(ctx, `
			SELECT s.eir_exposure_map_id, calc.business_date, s.commission_id, s.cash_flow_date,
			       s.comm_method, s.comm_value, s.comm_type, s.sign_type, s.collection_date, s.settlement_date,
			       s.amortization_linear, s.amortization_cumulated_linear,
			       s.amortization_effective, s.amortization_cumulated_effective,
			       s.unsettled_balance, s.commission_ratio
			FROM eir_calc.eir_commission_settlement s
			JOIN eir_calc.eir_calculation calc
			  ON calc.task_execution_id = s.eir_calculation_task_execution_id
			WHERE s.eir_dataset_task_execution_id <= $1
			  AND s.eir_calculation_task_execution_id <> $2
			  AND s.eir_exposure_map_id = ANY($3)
			ORDER BY s.eir_exposure_map_id, s.cash_flow_date, calc.business_date, s.commission_id
		`, prevDataID, calcID, pq.Array(ids))
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []model.CommissionSettlementRow
		for rows.Next() {
			var s model.CommissionSettlementRow
			var bd, cf, collected time.Time
			var settled sql.NullTime
			var method int
			if err := rows.Scan(
				&s.ExposureID, &bd, &s.CommissionID, &cf,
				&method, &s.CommValue, &s.CommType, &s.SignType, &collected, &settled,
				&s.AmortizationLinear, &s.AmortizationCumulatedLinear,
				&s.AmortizationEffective, &s.AmortizationCumulatedEffective,
				&s.UnsettledBalance, &s.CommissionRatio,
			); err != nil {
				return nil, err
			}
			s.BusinessDate, s.CashFlowDate, s.CollectionDate = civil.DateOf(bd), civil.DateOf(cf), civil.DateOf(collected)
			if settled.Valid {
				s.SettlementDate = civil.DateOf(settled.Time)
			}
			s.Method = model.CommissionMethod(method)
			out = append(out, s)
		}
		return out, rows.Err()
	})
}

func (r *Reader) effectiveSettlements(ctx context.Context, prevDataID, calcID int64, ids []int64) ([]model.EffectiveSettlementRow, error) {
	return cached(r, "effective_settlement", []any{prevDataID, calcID, ids}, func() ([]model.EffectiveSettlementRow, error) {
		rows, err := r.db.QueryContext(ctx, `
			SELECT s.eir_exposure_map_id, calc.business_date, s.cash_flow_date,
			       s.nominal_interest_accrual, s.effective_interest_accrual, s.amortization_effective,
			       s.unsettled_commission_effective, s.amortization_cumulated_effective
			FROM eir_calc.eir_effective_settlement s
			JOIN eir_calc.eir_calculation calc
			  ON calc.task_execution_id = s.eir_calculation_task_execution_id
			WHERE s.eir_dataset_task_execution_id <= $1
			  AND s.eir_calculation_task_execution_id <> $2
			  AND s.eir_exposure_map_id = ANY($3)
			ORDER BY s.eir_exposure_map_id, s.cash_flow_date, calc.business_date
		`, prevDataID, calcID, pq.Array(ids))
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []model.EffectiveSettlementRow
		for rows.Next() {
			var s model.EffectiveSettlementRow
			var bd, cf time.Time
			if err := rows.Scan(
				&s.ExposureID, &bd, &cf,
				&s.NominalInterestAccrual, &s.EffectiveInterestAccrual, &s.AmortizationEffective,
				&s.UnsettledCommissionEffective, &s.AmortizationCumulatedEffective,
			); err != nil {
				return nil, err
			}
			s.BusinessDate, s.CashFlowDate = civil.DateOf(bd), civil.DateOf(cf)
			out = append(out, s)
		}
		return out, rows.Err()
	})
}
