package ledger_test

import (
	"EirLedger/internal/event"
	"EirLedger/internal/ledger"
	eirmath "EirLedger/internal/math"
	"EirLedger/internal/model"
	"math"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(y, m, day int) civil.Date {
	return civil.Date{Year: y, Month: time.Month(m), Day: day}
}

func schedule(first civil.Date, n int, principal, interest float64) []model.Installment {
	out := make([]model.Installment, n)
	for i := range out {
		out[i] = model.Installment{
			ExposureID: 1,
			Date:       eirmath.AddMonths(first, 3*i),
			Principal:  principal,
			Interest:   interest,
		}
	}
	return out
}

func newContext(notional float64, conv eirmath.Convention, commissions ...model.Commission) *ledger.Context {
	return &ledger.Context{
		ExposureID: 1,
		Exposure: model.Exposure{
			ExposureID: 1, OpenDate: d(2024, 1, 31), MaturityDate: d(2025, 1, 31),
			Notional: notional, NIR: 0.06,
		},
		Commissions: commissions,
		LoadsetDate: d(2024, 6, 30),
		Convention:  conv,
		Log:         zerolog.Nop(),
	}
}

func calc(t *testing.T, ctx *ledger.Context, kinds []event.Kind, date civil.Date, terms ledger.Terms, prev *model.LedgerRow) model.LedgerRow {
	t.Helper()
	h, err := ledger.NewHandler(ctx, event.Event{Date: date, Kinds: kinds}, terms)
	require.NoError(t, err)
	require.NoError(t, h.Calculate(prev))
	return h.CreateRow()
}

// === Test: Accrual ===

func TestRepayment_AccruesUnderEveryConvention(t *testing.T) {
	prev := &model.LedgerRow{
		ExposureID: 1, CashFlowDate: d(2024, 1, 31),
		NotionalDue: 1000, EffectiveNotionalDue: 1000, EffectiveInterestRate: 0.0612,
	}
	terms := ledger.Terms{Schedule: schedule(d(2024, 3, 31), 4, 100, 15), NIR: 0.06}

	for _, conv := range []eirmath.Convention{eirmath.Act365, eirmath.Act360, eirmath.Thirty360E} {
		t.Run(conv.String(), func(t *testing.T) {
			ctx := newContext(900, conv)
			row := calc(t, ctx, []event.Kind{event.KindRepayment}, d(2024, 3, 31), terms, prev)

			want := 1000 * 0.06 * conv.YearFraction(d(2024, 1, 31), d(2024, 3, 31))
			assert.InDelta(t, want, row.AccruedInterest, 1e-12)
			assert.InDelta(t, 900, row.NotionalDue, 1e-12)
			assert.InDelta(t, 100, row.RepaymentCapital, 1e-12)
			assert.InDelta(t, 15, row.RepaymentInterest, 1e-12)

			// No commission ever: effective interest is the nominal accrual
			// and the effective rate is carried unchanged.
			assert.Equal(t, row.AccruedInterest, row.EffectiveInterest)
			assert.Zero(t, row.AmortizationEffective)
			assert.Equal(t, 0.0612, row.EffectiveInterestRate)
			assert.InDelta(t, 1000+row.EffectiveInterest-100-15, row.EffectiveNotionalDue, 1e-12)
		})
	}

	// 30E/360 clamps both the 31st of January and of March to the 30th.
	assert.InDelta(t, 60.0/360.0, eirmath.Thirty360E.YearFraction(d(2024, 1, 31), d(2024, 3, 31)), 1e-15)
}

func TestRepayment_CompoundsAtPriorRateOnceCommissionExists(t *testing.T) {
	comm := model.Commission{CommissionID: "c1", CollectionDate: d(2024, 1, 31), Value: 20, Method: model.MethodEffective}
	ctx := newContext(900, eirmath.Act365, comm)
	prev := &model.LedgerRow{
		ExposureID: 1, CashFlowDate: d(2024, 1, 31), NotionalDue: 1000,
		EffectiveNotionalDue: 980, UnsettledCommissionEffective: 20, EffectiveInterestRate: 0.08,
	}
	terms := ledger.Terms{Schedule: schedule(d(2024, 3, 31), 4, 100, 15), NIR: 0.06}

	row := calc(t, ctx, []event.Kind{event.KindRepayment}, d(2024, 3, 31), terms, prev)

	frac := 60.0 / 365.0
	wantEff := 980 * (math.Pow(1.08, frac) - 1)
	assert.InDelta(t, wantEff, row.EffectiveInterest, 1e-12)
	assert.InDelta(t, wantEff-row.AccruedInterest, row.AmortizationEffective, 1e-12)
	assert.InDelta(t, 20-(wantEff-row.AccruedInterest), row.UnsettledCommissionEffective, 1e-12)
	assert.Equal(t, 0.08, row.EffectiveInterestRate)
}

// === Test: Rate recomputation ===

func TestNewExposure_SeedsAndSolves(t *testing.T) {
	ctx := newContext(1000, eirmath.Act365)
	terms := ledger.Terms{Schedule: schedule(d(2024, 4, 30), 4, 250, 15), NIR: 0.06}

	row := calc(t, ctx, []event.Kind{event.KindNewExposure}, d(2024, 1, 31), terms, nil)

	assert.Equal(t, d(2024, 1, 31), row.CashFlowDate)
	assert.Equal(t, 1000.0, row.NotionalDue)
	assert.Equal(t, 1000.0, row.EffectiveNotionalDue)
	assert.Greater(t, row.EffectiveInterestRate, 0.0)
	require.Len(t, ctx.Solves, 1)
	assert.Equal(t, ledger.ScheduleID(1, d(2024, 1, 31)), ctx.Solves[0].ScheduleID)
	assert.Equal(t, 5, ctx.Solves[0].Flows)
}

func TestComposite_OriginationBeforeSameDayCommission(t *testing.T) {
	comm := model.Commission{CommissionID: "c1", CollectionDate: d(2024, 1, 31), Value: 20, Method: model.MethodEffective}
	terms := ledger.Terms{Schedule: schedule(d(2024, 4, 30), 4, 250, 15), NIR: 0.06}

	plain := calc(t, newContext(1000, eirmath.Act365), []event.Kind{event.KindNewExposure}, d(2024, 1, 31), terms, nil)

	ctx := newContext(1000, eirmath.Act365, comm)
	h, err := ledger.NewHandler(ctx, event.Event{
		Date:  d(2024, 1, 31),
		Kinds: []event.Kind{event.KindNewExposure, event.KindCommission},
	}, terms)
	require.NoError(t, err)

	composite, ok := h.(*ledger.Composite)
	require.True(t, ok)
	assert.Equal(t, "NewExposure+Commission", composite.Label())

	require.NoError(t, h.Calculate(nil))
	row := h.CreateRow()

	assert.Equal(t, 1000.0, row.NotionalDue)
	assert.Equal(t, 20.0, row.CommValue)
	assert.Equal(t, 980.0, row.EffectiveNotionalDue)
	assert.Equal(t, 20.0, row.UnsettledCommissionEffective)
	assert.Zero(t, row.AmortizationEffective)
	// The fee lowers the investment, so the effective rate rises.
	assert.Greater(t, row.EffectiveInterestRate, plain.EffectiveInterestRate)
	// Exactly one solve for the whole composite.
	assert.Len(t, ctx.Solves, 1)
}

func TestCommission_ForcesRecompute(t *testing.T) {
	comm := model.Commission{CommissionID: "c2", CollectionDate: d(2024, 5, 15), Value: 10, Method: model.MethodEffective}
	ctx := newContext(750, eirmath.Act365, comm)
	prev := &model.LedgerRow{
		ExposureID: 1, CashFlowDate: d(2024, 4, 30), NotionalDue: 750,
		EffectiveNotionalDue: 750, EffectiveInterestRate: 0.06,
	}
	terms := ledger.Terms{Schedule: schedule(d(2024, 4, 30), 4, 250, 15), NIR: 0.06}

	row := calc(t, ctx, []event.Kind{event.KindCommission}, d(2024, 5, 15), terms, prev)

	assert.Equal(t, 10.0, row.CommValue)
	assert.InDelta(t, 10, row.UnsettledCommissionEffective, 1e-12)
	assert.NotEqual(t, 0.06, row.EffectiveInterestRate)
	assert.Len(t, ctx.Solves, 1)
}

func TestPeriodicLoadset_Prepayment(t *testing.T) {
	// Recorded notional 600 while the schedule implies 750.
	ctx := newContext(600, eirmath.Act365)
	ctx.LoadsetSchedule = schedule(d(2024, 7, 31), 3, 200, 9)
	prev := &model.LedgerRow{
		ExposureID: 1, CashFlowDate: d(2024, 4, 30), NotionalDue: 750,
		EffectiveNotionalDue: 750, EffectiveInterestRate: 0.06,
	}
	terms := ledger.Terms{Schedule: schedule(d(2024, 4, 30), 4, 250, 15), NIR: 0.06}

	row := calc(t, ctx, []event.Kind{event.KindPeriodicLoadset}, d(2024, 6, 30), terms, prev)

	assert.InDelta(t, 600, row.NotionalDue, 1e-9)
	assert.InDelta(t, 150, row.RepaymentCapital, 1e-9)
	require.Len(t, ctx.Solves, 1)
	// Rate recomputed against the current loadset's schedule: 3 installments.
	assert.Equal(t, 4, ctx.Solves[0].Flows)
}

func TestPeriodicLoadset_NoPrepaymentCarriesRate(t *testing.T) {
	ctx := newContext(750, eirmath.Act365)
	prev := &model.LedgerRow{
		ExposureID: 1, CashFlowDate: d(2024, 4, 30), NotionalDue: 750,
		EffectiveNotionalDue: 750, EffectiveInterestRate: 0.0613,
	}
	terms := ledger.Terms{Schedule: schedule(d(2024, 4, 30), 4, 250, 15), NIR: 0.06}

	row := calc(t, ctx, []event.Kind{event.KindPeriodicLoadset}, d(2024, 6, 30), terms, prev)

	assert.Equal(t, 750.0, row.NotionalDue)
	assert.Zero(t, row.RepaymentCapital)
	assert.Equal(t, 0.0613, row.EffectiveInterestRate)
	assert.Empty(t, ctx.Solves)
}

// === Test: EndOfContract ===

func TestEndOfContract_BalloonSettlement(t *testing.T) {
	ctx := newContext(0, eirmath.Act365)
	prev := &model.LedgerRow{
		ExposureID: 1, CashFlowDate: d(2024, 10, 31), NotionalDue: 250,
		EffectiveNotionalDue: 245, UnsettledCommissionEffective: 4.5, EffectiveInterestRate: 0.07,
	}

	row := calc(t, ctx, []event.Kind{event.KindEndOfContract}, d(2025, 1, 31), ledger.Terms{NIR: 0.06}, prev)

	accrued := 250 * 0.06 * 92.0 / 365.0
	assert.InDelta(t, accrued, row.AccruedInterest, 1e-12)
	assert.Equal(t, 250.0, row.RepaymentCapital)
	assert.Zero(t, row.NotionalDue)
	assert.Zero(t, row.EffectiveNotionalDue)
	assert.Zero(t, row.UnsettledCommissionEffective)
	assert.InDelta(t, 4.5, row.AmortizationEffective, 1e-12)
	assert.InDelta(t, accrued+4.5, row.EffectiveInterest, 1e-12)
	assert.Equal(t, 0.07, row.EffectiveInterestRate)
}

// === Test: Extend ===

func TestExtend_SwitchesTermsAtChange(t *testing.T) {
	ctx := newContext(750, eirmath.Act365)
	history := []model.LedgerRow{{
		ExposureID: 1, CashFlowDate: d(2024, 3, 31), NotionalDue: 1000,
		EffectiveNotionalDue: 1000, EffectiveInterestRate: 0.06,
	}}
	prior := ledger.Terms{Schedule: schedule(d(2024, 4, 30), 4, 250, 15), NIR: 0.06}
	current := ledger.Terms{Schedule: schedule(d(2024, 7, 31), 3, 250, 20), NIR: 0.09}
	ctx.LoadsetSchedule = current.Schedule

	events := []event.Event{
		{Date: d(2024, 4, 30), Kinds: []event.Kind{event.KindRepayment}},
		{Date: d(2024, 5, 1), Kinds: []event.Kind{event.KindScheduleChange}},
		{Date: d(2024, 6, 30), Kinds: []event.Kind{event.KindPeriodicLoadset}},
	}

	rows, err := ledger.Extend(ctx, events, history, prior, current)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.InDelta(t, 1000*0.06*30.0/365.0, rows[0].AccruedInterest, 1e-12)
	assert.InDelta(t, 750, rows[0].NotionalDue, 1e-12)
	assert.InDelta(t, 750*0.09*1.0/365.0, rows[1].AccruedInterest, 1e-12)
	assert.InDelta(t, 750*0.09*60.0/365.0, rows[2].AccruedInterest, 1e-12)
	assert.NotEqual(t, 0.06, rows[1].EffectiveInterestRate)
	for _, r := range rows {
		assert.Equal(t, ctx.LoadsetDate, r.BusinessDate)
	}
}

func TestExtend_RequiresPriorRow(t *testing.T) {
	ctx := newContext(750, eirmath.Act365)
	events := []event.Event{{Date: d(2024, 6, 30), Kinds: []event.Kind{event.KindPeriodicLoadset}}}

	_, err := ledger.Extend(ctx, events, nil, ledger.Terms{}, ledger.Terms{})
	assert.Error(t, err)
}

func TestScheduleID_Deterministic(t *testing.T) {
	assert.Equal(t, ledger.ScheduleID(7, d(2024, 1, 1)), ledger.ScheduleID(7, d(2024, 1, 1)))
	assert.NotEqual(t, ledger.ScheduleID(7, d(2024, 1, 1)), ledger.ScheduleID(8, d(2024, 1, 1)))
	assert.NotEqual(t, ledger.ScheduleID(7, d(2024, 1, 1)), ledger.ScheduleID(7, d(2024, 1, 2)))
}
