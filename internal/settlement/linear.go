package settlement

import (
	"EirLedger/internal/model"

	"cloud.google.com/go/civil"
)

// LinearInput is what Linear needs for one exposure.
type LinearInput struct {
	ExposureID  int64
	LoadsetDate civil.Date
	// Commissions are the linear-method commissions with resolved
	// settlement dates.
	Commissions []model.Commission
	// History holds earlier linear settlement rows by cash-flow date.
	History []model.CommissionSettlementRow
}

// Linear amortizes each linear-method commission in straight line between
// its collection and settlement dates, up to the loadset date. Commissions
// loaded with this loadset open with their full value unsettled.
func Linear(in LinearInput) []model.CommissionSettlementRow {
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

	for _, c := range in.Commissions {
		if c.Value == 0 || !c.HasSettlementDate() || c.BusinessDate.Before(in.LoadsetDate) {
			continue
		}
		produced = append(produced, openingRow(in.ExposureID, in.LoadsetDate, c))
	}

	for _, c := range in.Commissions {
		if c.Value == 0 || !c.HasSettlementDate() || c.CollectionDate == in.LoadsetDate {
			continue
		}
		prev, ok := last(c.CommissionID)
		if !ok {
			continue
		}

		end := in.LoadsetDate
		if c.SettlementDate.Before(end) {
			end = c.SettlementDate
		}
		if !end.After(prev.CashFlowDate) {
			continue
		}

		amort := prev.UnsettledBalance
		if span := c.SettlementDate.DaysSince(c.CollectionDate); span > 0 && end != c.SettlementDate {
			amort = c.Value * float64(end.DaysSince(prev.CashFlowDate)) / float64(span)
		}

		row := prev
		row.BusinessDate = in.LoadsetDate
		row.CashFlowDate = end
		row.Method = model.MethodLinear
		row.AmortizationLinear = amort
		row.AmortizationCumulatedLinear = prev.AmortizationCumulatedLinear + amort
		row.UnsettledBalance = prev.UnsettledBalance - amort
		produced = append(produced, row)
	}
	return produced
}
