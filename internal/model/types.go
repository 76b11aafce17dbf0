package model

import (
	"cloud.google.com/go/civil"
)

// Exposure is one snapshot row of a credit exposure.
type Exposure struct {
	ExposureID        int64
	BusinessDate      civil.Date
	OpenDate          civil.Date
	MaturityDate      civil.Date
	Notional          float64
	NIR               float64
	AccrualConvention int
}

// Installment is one row of a payment schedule, versioned by the business
// date of the loadset it arrived with.
type Installment struct {
	ExposureID   int64
	BusinessDate civil.Date
	Date         civil.Date
	Principal    float64
	Interest     float64
}

// CommissionMethod selects how a commission is settled.
type CommissionMethod int

const (
	MethodLinear    CommissionMethod = 1
	MethodEffective CommissionMethod = 2
)

func (m CommissionMethod) String() string {
	switch m {
	case MethodLinear:
		return "Linear"
	case MethodEffective:
		return "Effective"
	default:
		return "Unknown"
	}
}

// Commission is a fee or cost attached to an exposure. One source row exists
// per matching settlement configuration; SettlementType is empty when no
// configuration matched.
type Commission struct {
	ExposureID     int64
	CommissionID   string
	BusinessDate   civil.Date
	CollectionDate civil.Date
	Value          float64
	Method         CommissionMethod
	CommType       string
	SignType       int
	SettlementType string

	// SettlementDate is derived; zero until resolved.
	SettlementDate civil.Date
}

// HasSettlementDate reports whether the settlement date was resolved.
func (c Commission) HasSettlementDate() bool {
	return !c.SettlementDate.IsZero()
}

// LedgerRow is one dated entry of an exposure's effective amortization ledger.
// BusinessDate is the loadset that produced the row.
type LedgerRow struct {
	ExposureID                   int64
	BusinessDate                 civil.Date
	CashFlowDate                 civil.Date
	NotionalDue                  float64
	RepaymentCapital             float64
	RepaymentInterest            float64
	AccruedInterest              float64
	CommValue                    float64
	AmortizationEffective        float64
	UnsettledCommissionEffective float64
	EffectiveInterest            float64
	EffectiveNotionalDue         float64
	EffectiveInterestRate        float64
}

// EffectiveSettlementRow summarises the ledger-level effective settlement of
// all effective-method commissions of an exposure on one cash-flow date.
type EffectiveSettlementRow struct {
	ExposureID                     int64
	BusinessDate                   civil.Date
	CashFlowDate                   civil.Date
	NominalInterestAccrual         float64
	EffectiveInterestAccrual       float64
	AmortizationEffective          float64
	UnsettledCommissionEffective   float64
	AmortizationCumulatedEffective float64
}

// CommissionSettlementRow tracks a single commission's settlement on one
// cash-flow date, for either method.
type CommissionSettlementRow struct {
	ExposureID                     int64
	BusinessDate                   civil.Date
	CommissionID                   string
	CashFlowDate                   civil.Date
	Method                         CommissionMethod
	CommValue                      float64
	CommType                       string
	SignType                       int
	CollectionDate                 civil.Date
	SettlementDate                 civil.Date
	AmortizationLinear             float64
	AmortizationCumulatedLinear    float64
	AmortizationEffective          float64
	AmortizationCumulatedEffective float64
	UnsettledBalance               float64
	CommissionRatio                float64
}

// Output is everything produced for one or more exposures in a run.
type Output struct {
	Ledger                []LedgerRow
	EffectiveSettlements  []EffectiveSettlementRow
	CommissionSettlements []CommissionSettlementRow
}

// Append adds other's rows to o.
func (o *Output) Append(other Output) {
	o.Ledger = append(o.Ledger, other.Ledger...)
	o.EffectiveSettlements = append(o.EffectiveSettlements, other.EffectiveSettlements...)
	o.CommissionSettlements = append(o.CommissionSettlements, other.CommissionSettlements...)
}

// Len returns the total number of rows.
func (o Output) Len() int {
	return len(o.Ledger) + len(o.EffectiveSettlements) + len(o.CommissionSettlements)
}
