package model

// BatchInput is every input row fetched for one batch of exposures.
type BatchInput struct {
	// Exposures holds the snapshots of the previous and current loadsets.
	Exposures []Exposure
	// Schedules holds the schedule versions of the previous and current
	// loadsets.
	Schedules             []Installment
	Commissions           []Commission
	Ledger                []LedgerRow
	EffectiveSettlements  []EffectiveSettlementRow
	CommissionSettlements []CommissionSettlementRow
}

// ExposureInput is the slice of a BatchInput belonging to one exposure.
type ExposureInput struct {
	ExposureID            int64
	Exposures             []Exposure
	Schedules             []Installment
	Commissions           []Commission
	Ledger                []LedgerRow
	EffectiveSettlements  []EffectiveSettlementRow
	CommissionSettlements []CommissionSettlementRow
}

// Split groups the rows by exposure id in one pass. Each group owns its
// slices, so a calculation can never mutate another exposure's input.
func (b *BatchInput) Split() map[int64]*ExposureInput {
	groups := make(map[int64]*ExposureInput)
	get := func(id int64) *ExposureInput {
		g, ok := groups[id]
		if !ok {
			g = &ExposureInput{ExposureID: id}
			groups[id] = g
		}
		return g
	}
	for _, r := range b.Exposures {
		g := get(r.ExposureID)
		g.Exposures = append(g.Exposures, r)
	}
	for _, r := range b.Schedules {
		g := get(r.ExposureID)
		g.Schedules = append(g.Schedules, r)
	}
	for _, r := range b.Commissions {
		g := get(r.ExposureID)
		g.Commissions = append(g.Commissions, r)
	}
	for _, r := range b.Ledger {
		g := get(r.ExposureID)
		g.Ledger = append(g.Ledger, r)
	}
	for _, r := range b.EffectiveSettlements {
		g := get(r.ExposureID)
		g.EffectiveSettlements = append(g.EffectiveSettlements, r)
	}
	for _, r := range b.CommissionSettlements {
		g := get(r.ExposureID)
		g.CommissionSettlements = append(g.CommissionSettlements, r)
	}
	return groups
}
