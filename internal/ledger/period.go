package ledger

import (
	gomath "math"

	eirmath "EirLedger/internal/math"
	"EirLedger/internal/model"

	"cloud.google.com/go/civil"
)

// prepaymentTolerance ignores float residue when comparing the scheduled
// notional with the recorded one.
const prepaymentTolerance = 1e-6

// period accumulates the effects of one event on the ledger row that
// follows prev. Each effect applies at most once, so the steps of a
// composite event can share it.
type period struct {
	ctx   *Context
	date  civil.Date
	terms Terms
	prev  *model.LedgerRow
	row   model.LedgerRow

	rateSchedule []model.Installment

	seeded    bool
	repaid    bool
	posted    bool
	prepaid   bool
	closed    bool
	recompute bool
}

func openPeriod(ctx *Context, date civil.Date, terms Terms, prev *model.LedgerRow) *period {
	p := &period{
		ctx:          ctx,
		date:         date,
		terms:        terms,
		prev:         prev,
		rateSchedule: terms.Schedule,
		row: model.LedgerRow{
			ExposureID:   ctx.ExposureID,
			BusinessDate: ctx.LoadsetDate,
			CashFlowDate: date,
		},
	}
	if prev != nil {
		p.accrue()
	}
	return p
}

// accrue carries the prior balances forward and accrues nominal and
// effective interest over the elapsed fraction.
func (p *period) accrue() {
	prev := p.prev
	frac := p.ctx.Convention.YearFraction(prev.CashFlowDate, p.date)

	p.row.NotionalDue = prev.NotionalDue
	p.row.UnsettledCommissionEffective = prev.UnsettledCommissionEffective
	p.row.EffectiveInterestRate = prev.EffectiveInterestRate
	p.row.AccruedInterest = prev.NotionalDue * p.terms.NIR * frac

	if p.ctx.hasCommissionBefore(p.date) {
		p.row.EffectiveInterest = prev.EffectiveNotionalDue * (gomath.Pow(1+prev.EffectiveInterestRate, frac) - 1)
	} else {
		p.row.EffectiveInterest = p.row.AccruedInterest
	}
	p.row.EffectiveNotionalDue = prev.EffectiveNotionalDue + p.row.EffectiveInterest
}

// seed starts a ledger at the exposure's notional.
func (p *period) seed() {
	if p.seeded {
		return
	}
	p.seeded = true
	p.row.NotionalDue = p.ctx.Exposure.Notional
	p.row.EffectiveNotionalDue = p.ctx.Exposure.Notional
}

// repay applies the installment scheduled on the period date, if any.
func (p *period) repay() {
	if p.repaid {
		return
	}
	p.repaid = true
	for _, inst := range p.terms.Schedule {
		if inst.Date != p.date {
			continue
		}
		p.row.RepaymentCapital += inst.Principal
		p.row.RepaymentInterest += inst.Interest
		p.row.NotionalDue -= inst.Principal
		p.row.EffectiveNotionalDue -= inst.Principal + inst.Interest
	}
}

// post books the commissions collected on the period date.
func (p *period) post() {
	if p.posted {
		return
	}
	p.posted = true
	comm := p.ctx.commissionsAt(p.date)
	p.row.CommValue += comm
	p.row.EffectiveNotionalDue -= comm
	p.row.UnsettledCommissionEffective += comm
	p.recompute = true
}

// prepay folds any excess of the scheduled notional over the recorded one
// into the period's principal.
func (p *period) prepay() {
	if p.prepaid {
		return
	}
	p.prepaid = true
	excess := p.row.NotionalDue - p.ctx.Exposure.Notional
	if excess <= prepaymentTolerance {
		return
	}
	p.row.RepaymentCapital += excess
	p.row.NotionalDue -= excess
	p.row.EffectiveNotionalDue -= excess
	p.rateSchedule = p.ctx.LoadsetSchedule
	p.recompute = true
}

// terminate closes the contract: the remaining notional is repaid and the
// unsettled commission balance is realised as effective interest.
func (p *period) terminate() {
	if p.closed {
		return
	}
	p.closed = true
	p.row.RepaymentCapital += p.row.NotionalDue
	p.row.NotionalDue = 0
	balloon := p.row.UnsettledCommissionEffective
	p.row.EffectiveInterest = p.row.AccruedInterest + balloon
	p.row.AmortizationEffective = balloon
	p.row.UnsettledCommissionEffective = 0
	p.row.EffectiveNotionalDue = 0
}

// finish settles amortization and recomputes the effective rate when an
// effect demanded it.
func (p *period) finish() model.LedgerRow {
	if !p.closed {
		amort := p.row.EffectiveInterest - p.row.AccruedInterest
		p.row.AmortizationEffective = amort
		p.row.UnsettledCommissionEffective -= amort
		if p.recompute || p.seeded {
			p.solve()
		}
	}
	return p.row
}

// solve recomputes the effective rate from the row's effective notional and
// the installments due after its date.
func (p *period) solve() {
	flows := []eirmath.CashFlow{{Date: p.date, Amount: -p.row.EffectiveNotionalDue}}
	for _, inst := range p.rateSchedule {
		if inst.Date.After(p.date) {
			flows = append(flows, eirmath.CashFlow{Date: inst.Date, Amount: inst.Principal + inst.Interest})
		}
	}

	id := ScheduleID(p.ctx.ExposureID, p.date)
	if len(flows) == 1 {
		p.ctx.Log.Debug().
			Int64("exposure_id", p.ctx.ExposureID).
			Str("schedule_id", id.String()).
			Msg("no installments after anchor, keeping effective rate")
		return
	}

	res := eirmath.SolveRate(flows)
	p.ctx.Solves = append(p.ctx.Solves, Solve{ScheduleID: id, Anchor: p.date, Flows: len(flows), Result: res})
	if !res.Converged {
		p.ctx.warnf("effective rate for cash-flow schedule %s anchored at %s did not converge after %d iterations, using %.10f",
			id, p.date, res.Iterations, res.Rate)
	}
	p.row.EffectiveInterestRate = res.Rate
}
