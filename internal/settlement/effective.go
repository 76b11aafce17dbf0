package settlement

import (
	"slices"

	"EirLedger/internal/event"
	"EirLedger/internal/model"

	"cloud.google.com/go/civil"
)

// Effective derives the exposure-level effective settlement rows for the
// ledger rows of this run dated on or after the first non-zero commission.
// Cumulative amortization continues from the last row of history.
func Effective(rows []model.LedgerRow, commissions []model.Commission, history []model.EffectiveSettlementRow) []model.EffectiveSettlementRow {
	first, ok := firstCollection(commissions)
	if !ok {
		return nil
	}

	var cumulated float64
	if n := len(history); n > 0 {
		cumulated = history[n-1].AmortizationCumulatedEffective
	}

	var out []model.EffectiveSettlementRow
	for _, r := range rows {
		if r.CashFlowDate.Before(first) {
			continue
		}
		cumulated += r.AmortizationEffective
		out = append(out, model.EffectiveSettlementRow{
			ExposureID:                     r.ExposureID,
			BusinessDate:                   r.BusinessDate,
			CashFlowDate:                   r.CashFlowDate,
			NominalInterestAccrual:         r.AccruedInterest,
			EffectiveInterestAccrual:       r.EffectiveInterest,
			AmortizationEffective:          r.AmortizationEffective,
			UnsettledCommissionEffective:   r.UnsettledCommissionEffective,
			AmortizationCumulatedEffective: cumulated,
		})
	}
	return out
}

func firstCollection(commissions []model.Commission) (civil.Date, bool) {
	var first civil.Date
	found := false
	for _, c := range commissions {
		if c.Value == 0 {
			continue
		}
		if !found || c.CollectionDate.Before(first) {
			first, found = c.CollectionDate, true
		}
	}
	return first, found
}

// AllocationInput is what Allocate needs for one exposure.
type AllocationInput struct {
	ExposureID  int64
	LoadsetDate civil.Date
	Events      []event.Event
	// Ledger is the full ledger, history and new rows, by cash-flow date.
	Ledger []model.LedgerRow
	// Commissions are the effective-method commissions.
	Commissions []model.Commission
	// History holds earlier effective-method settlement rows by cash-flow date.
	History []model.CommissionSettlementRow
}

// Allocate splits each event's ledger-level effective amortization across
// the open effective-method commissions, in proportion to each
// commission's unsettled share of the ledger's unsettled balance on the
// prior cash-flow date. A commission collected on an event date opens with
// its full value unsettled and joins the allocation from the next event.
func Allocate(in AllocationInput) []model.CommissionSettlementRow {
	var open []string
	for _, c := range in.Commissions {
		if c.Value != 0 && c.BusinessDate.Before(in.LoadsetDate) && !slices.Contains(open, c.CommissionID) {
			open = append(open, c.CommissionID)
		}
	}

	var produced []model.CommissionSettlementRow
	last := func(id string) (model.CommissionSettlementRow, bool) {
		for i := len(produced) - 1; i >= 0; i-- {
			if produced[i].CommissionID == id {
				return produced[i], true
			}
		}
		for i := len(in.History) - 1; i >= 0; i-- {
			if in.History[i].CommissionID == id {
				return in.History[i], true
			}
		}
		return model.CommissionSettlementRow{}, false
	}

	for _, ev := range in.Events {
		if len(in.History)+len(produced) > 0 {
			cur, prior, ok := ledgerAround(in.Ledger, ev.Date)
			for _, id := range open {
				prev, found := last(id)
				if !found {
					continue
				}
				var ratio float64
				if ok && prior.UnsettledCommissionEffective != 0 {
					ratio = prev.UnsettledBalance / prior.UnsettledCommissionEffective
				}
				amort := cur.AmortizationEffective * ratio

				row := prev
				row.BusinessDate = in.LoadsetDate
				row.CashFlowDate = ev.Date
				row.Method = model.MethodEffective
				row.AmortizationLinear = 0
				row.AmortizationCumulatedLinear = 0
				row.AmortizationEffective = amort
				row.AmortizationCumulatedEffective = prev.AmortizationCumulatedEffective + amort
				row.UnsettledBalance = prev.UnsettledBalance - amort
				row.CommissionRatio = ratio
				produced = append(produced, row)
			}
		}

		if !ev.Has(event.KindCommission) {
			continue
		}
		for _, c := range in.Commissions {
			if c.Value == 0 || c.CollectionDate != ev.Date || c.BusinessDate.Before(in.LoadsetDate) {
				continue
			}
			produced = append(produced, openingRow(in.ExposureID, in.LoadsetDate, c))
			if !slices.Contains(open, c.CommissionID) {
				open = append(open, c.CommissionID)
			}
		}
	}
	return produced
}

// ledgerAround returns the last ledger row on or before d and the row
// before it.
func ledgerAround(ledger []model.LedgerRow, d civil.Date) (cur, prior model.LedgerRow, ok bool) {
	idx := -1
	for i, r := range ledger {
		if r.CashFlowDate.After(d) {
			break
		}
		idx = i
	}
	if idx < 1 {
		if idx == 0 {
			return ledger[0], model.LedgerRow{}, false
		}
		return model.LedgerRow{}, model.LedgerRow{}, false
	}
	return ledger[idx], ledger[idx-1], true
}

func openingRow(exposureID int64, loadset civil.Date, c model.Commission) model.CommissionSettlementRow {
	return model.CommissionSettlementRow{
		ExposureID:       exposureID,
		BusinessDate:     loadset,
		CommissionID:     c.CommissionID,
		CashFlowDate:     c.CollectionDate,
		Method:           c.Method,
		CommValue:        c.Value,
		CommType:         c.CommType,
		SignType:         c.SignType,
		CollectionDate:   c.CollectionDate,
		SettlementDate:   c.SettlementDate,
		UnsettledBalance: c.Value,
	}
}
