package core

import (
	"slices"

	"EirLedger/internal/event"
	"EirLedger/internal/ledger"
	eirmath "EirLedger/internal/math"
	"EirLedger/internal/model"
	"EirLedger/internal/observability"
	"EirLedger/internal/settlement"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
)

// Orchestrator runs the per-exposure pipeline of one run: detect events,
// extend the ledger, then derive the settlement ledgers.
type Orchestrator struct {
	keys       model.RunKeys
	population model.Population
	log        zerolog.Logger
	metrics    *observability.Metrics
}

// NewOrchestrator creates an orchestrator for the run identified by keys.
// metrics may be nil.
func NewOrchestrator(keys model.RunKeys, population model.Population, log zerolog.Logger, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		keys:       keys,
		population: population,
		log:        log,
		metrics:    metrics,
	}
}

// ExposureResult is the output of one exposure.
type ExposureResult struct {
	Output   model.Output
	Warnings []string
}

// Calculate computes the new ledger and settlement rows of one exposure.
func (o *Orchestrator) Calculate(in *model.ExposureInput) (ExposureResult, error) {
	id := in.ExposureID
	loadset := o.keys.BusinessDate
	isNew, isEnd := o.population.New[id], o.population.Ended[id]

	snapshots := slices.Clone(in.Exposures)
	slices.SortStableFunc(snapshots, func(a, b model.Exposure) int { return compareDates(a.BusinessDate, b.BusinessDate) })
	if len(snapshots) == 0 {
		return ExposureResult{}, model.NewCalculationError(model.KindExposureInfoMissing,
			"exposure information is missing for loadset %s", loadset)
	}

	latest := snapshots[len(snapshots)-1]
	if loadset.Before(latest.OpenDate) {
		return ExposureResult{}, model.NewCalculationError(model.KindOpenDateIsLaterThanBusinessDate,
			"open date %s is later than business date %s", latest.OpenDate, loadset)
	}
	if isEnd && latest.BusinessDate.Before(loadset) {
		current := latest
		current.BusinessDate = loadset
		snapshots = append(snapshots, current)
		latest = current
	}

	commissions, err := settlement.ResolveSettlementDates(in.Commissions, latest.MaturityDate, loadset)
	if err != nil {
		return ExposureResult{}, err
	}
	effective, linear := settlement.SplitByMethod(commissions)

	history := slices.Clone(in.Ledger)
	slices.SortStableFunc(history, func(a, b model.LedgerRow) int { return compareDates(a.CashFlowDate, b.CashFlowDate) })

	prevLoadset := latest.OpenDate
	for i, r := range history {
		if i == 0 || r.BusinessDate.After(prevLoadset) {
			prevLoadset = r.BusinessDate
		}
	}

	current := scheduleAt(in.Schedules, loadset)
	prev := current
	if !isNew {
		prev = scheduleAt(in.Schedules, prevLoadset)
	}

	var res ExposureResult
	if len(in.Schedules) > 0 {
		events, err := event.Detect(event.Input{
			ExposureID:      id,
			Snapshots:       snapshots,
			Schedule:        current,
			PrevSchedule:    prev,
			Commissions:     effective,
			IsNew:           isNew,
			IsEnd:           isEnd,
			LoadsetDate:     loadset,
			PrevLoadsetDate: prevLoadset,
		})
		if err != nil {
			return ExposureResult{}, err
		}

		ctx := &ledger.Context{
			ExposureID:      id,
			Exposure:        latest,
			Commissions:     effective,
			LoadsetDate:     loadset,
			LoadsetSchedule: current,
			Convention:      eirmath.ConventionFromCode(latest.AccrualConvention),
			Log:             o.log,
		}
		priorTerms := ledger.Terms{Schedule: prev, NIR: nirAt(snapshots, prevLoadset)}
		currentTerms := ledger.Terms{Schedule: current, NIR: latest.NIR}
		if len(current) == 0 {
			currentTerms.Schedule = prev
		}

		rows, err := ledger.Extend(ctx, events, history, priorTerms, currentTerms)
		if err != nil {
			return ExposureResult{}, err
		}
		o.observeSolves(ctx.Solves)
		res.Warnings = append(res.Warnings, ctx.Warnings...)

		effHistory := slices.Clone(in.EffectiveSettlements)
		slices.SortStableFunc(effHistory, func(a, b model.EffectiveSettlementRow) int {
			return compareDates(a.CashFlowDate, b.CashFlowDate)
		})

		res.Output.Ledger = rows
		res.Output.EffectiveSettlements = settlement.Effective(rows, effective, effHistory)
		res.Output.CommissionSettlements = settlement.Allocate(settlement.AllocationInput{
			ExposureID:  id,
			LoadsetDate: loadset,
			Events:      events,
			Ledger:      append(history, rows...),
			Commissions: effective,
			History:     settlementsByMethod(in.CommissionSettlements, model.MethodEffective),
		})
	}

	if len(linear) > 0 {
		res.Output.CommissionSettlements = append(res.Output.CommissionSettlements, settlement.Linear(settlement.LinearInput{
			ExposureID:  id,
			LoadsetDate: loadset,
			Commissions: linear,
			History:     settlementsByMethod(in.CommissionSettlements, model.MethodLinear),
		})...)
	}

	return res, nil
}

func (o *Orchestrator) observeSolves(solves []ledger.Solve) {
	if o.metrics == nil {
		return
	}
	for _, s := range solves {
		o.metrics.SolverIterations.Observe(float64(s.Result.Iterations))
		if !s.Result.Converged {
			o.metrics.SolverNonConverged.Inc()
		}
	}
}

// scheduleAt returns the schedule version loaded on business date d, by
// installment date.
func scheduleAt(rows []model.Installment, d civil.Date) []model.Installment {
	var out []model.Installment
	for _, r := range rows {
		if r.BusinessDate == d {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Installment) int { return compareDates(a.Date, b.Date) })
	return out
}

// nirAt is the nominal rate of the snapshot taken on d, falling back to the
// earliest snapshot.
func nirAt(snapshots []model.Exposure, d civil.Date) float64 {
	for _, s := range snapshots {
		if s.BusinessDate == d {
			return s.NIR
		}
	}
	return snapshots[0].NIR
}

func settlementsByMethod(rows []model.CommissionSettlementRow, method model.CommissionMethod) []model.CommissionSettlementRow {
	var out []model.CommissionSettlementRow
	for _, r := range rows {
		if r.Method == method {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b model.CommissionSettlementRow) int { return compareDates(a.CashFlowDate, b.CashFlowDate) })
	return out
}

func compareDates(a, b civil.Date) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}
