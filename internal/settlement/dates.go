package settlement

import (
	eirmath "EirLedger/internal/math"
	"EirLedger/internal/model"

	"cloud.google.com/go/civil"
)

// Settlement type codes of the commission configuration.
const (
	TypeOneYear  = "1"
	TypeMaturity = "0"
	TypeTwoYears = "2Y"
	TypeOneMonth = "1M"
)

// ResolveSettlementDates merges the per-configuration rows of each
// commission into one commission and derives its settlement date. Only
// non-zero commissions loaded on or before the loadset date are resolved
// and validated; the others are returned without a settlement date.
func ResolveSettlementDates(rows []model.Commission, maturity, loadset civil.Date) ([]model.Commission, error) {
	order := make([]string, 0, len(rows))
	groups := make(map[string][]model.Commission, len(rows))
	for _, r := range rows {
		if _, ok := groups[r.CommissionID]; !ok {
			order = append(order, r.CommissionID)
		}
		groups[r.CommissionID] = append(groups[r.CommissionID], r)
	}

	out := make([]model.Commission, 0, len(order))
	for _, id := range order {
		group := groups[id]
		c := group[0]
		if c.Value == 0 || c.BusinessDate.After(loadset) {
			out = append(out, c)
			continue
		}

		var configured []string
		for _, r := range group {
			if r.SettlementType != "" {
				configured = append(configured, r.SettlementType)
			}
		}
		if len(configured) != 1 {
			return nil, model.NewCalculationError(model.KindWrongSettlementConfiguration,
				"commission %s of type %s has %d matching settlement configurations, expected exactly one",
				id, c.CommType, len(configured))
		}
		c.SettlementType = configured[0]

		switch c.SettlementType {
		case TypeOneYear:
			c.SettlementDate = eirmath.AddYears(c.CollectionDate, 1)
		case TypeMaturity:
			c.SettlementDate = maturity
		case TypeTwoYears:
			c.SettlementDate = eirmath.AddYears(c.CollectionDate, 2)
		case TypeOneMonth:
			c.SettlementDate = eirmath.AddMonths(c.CollectionDate, 1)
		default:
			return nil, model.NewCalculationError(model.KindWrongSettlementConfiguration,
				"commission %s has unknown settlement type %q", id, c.SettlementType)
		}
		out = append(out, c)
	}
	return out, nil
}

// SplitByMethod separates effective-method and linear-method commissions.
func SplitByMethod(commissions []model.Commission) (effective, linear []model.Commission) {
	for _, c := range commissions {
		switch c.Method {
		case model.MethodEffective:
			effective = append(effective, c)
		case model.MethodLinear:
			linear = append(linear, c)
		}
	}
	return effective, linear
}
