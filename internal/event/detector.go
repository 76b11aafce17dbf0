package event

import (
	eirmath "EirLedger/internal/math"
	"EirLedger/internal/model"

	"cloud.google.com/go/civil"
)

// Input is what the detector compares for one exposure.
type Input struct {
	ExposureID int64
	// Snapshots are the exposure rows in scope, ascending by business date.
	Snapshots    []model.Exposure
	Schedule     []model.Installment
	PrevSchedule []model.Installment
	// Commissions are the effective-method commissions of the exposure.
	Commissions []model.Commission

	IsNew bool
	IsEnd bool

	LoadsetDate     civil.Date
	PrevLoadsetDate civil.Date
}

// Detect validates the input and returns the exposure's events in date order.
func Detect(in Input) ([]Event, error) {
	if len(in.Snapshots) == 0 {
		return nil, model.NewCalculationError(model.KindExposureInfoMissing,
			"exposure information is missing for loadset %s", in.LoadsetDate)
	}
	if !in.IsEnd && len(in.Schedule) == 0 {
		return nil, model.NewCalculationError(model.KindPaymentScheduleMissing,
			"payment schedule is missing for loadset %s", in.LoadsetDate)
	}
	if !in.IsNew && len(in.PrevSchedule) == 0 {
		return nil, model.NewCalculationError(model.KindPrevPaymentScheduleMissing,
			"payment schedule of the previous loadset %s is missing", in.PrevLoadsetDate)
	}

	cal := newCalendar()

	if in.IsEnd {
		end := endOfContractDate(in)
		addRepayments(cal, in, end)
		cal.add(end, KindEndOfContract)
		return cal.events(), nil
	}

	if in.IsNew {
		cal.add(in.Snapshots[0].OpenDate, KindNewExposure)
	}
	if err := addCommissions(cal, in); err != nil {
		return nil, err
	}
	if changed(in.Snapshots) {
		cal.add(changeDate(in), KindScheduleChange)
	}
	addRepayments(cal, in, in.LoadsetDate)
	cal.add(in.LoadsetDate, KindPeriodicLoadset)

	return cal.events(), nil
}

// addRepayments adds every prior-schedule installment in
// (PrevLoadsetDate, until].
func addRepayments(cal *calendar, in Input, until civil.Date) {
	for _, inst := range in.PrevSchedule {
		if inst.Date.After(in.PrevLoadsetDate) && !inst.Date.After(until) {
			cal.add(inst.Date, KindRepayment)
		}
	}
}

// addCommissions adds the non-zero commissions loaded with the current
// loadset at their collection dates.
func addCommissions(cal *calendar, in Input) error {
	for _, c := range in.Commissions {
		if c.Value == 0 || c.BusinessDate.Before(in.LoadsetDate) {
			continue
		}
		tooEarly := !c.CollectionDate.After(in.PrevLoadsetDate)
		if in.IsNew {
			tooEarly = c.CollectionDate.Before(in.PrevLoadsetDate)
		}
		if tooEarly {
			return model.NewCalculationError(model.KindWrongCollectionDate,
				"commission %s has collection date %s which is not after the previous loadset date %s",
				c.CommissionID, c.CollectionDate, in.PrevLoadsetDate)
		}
		cal.add(c.CollectionDate, KindCommission)
	}
	return nil
}

// changed reports whether the two most recent snapshots differ in rate or
// maturity.
func changed(snapshots []model.Exposure) bool {
	if len(snapshots) < 2 {
		return false
	}
	prev, cur := snapshots[len(snapshots)-2], snapshots[len(snapshots)-1]
	return prev.NIR != cur.NIR || prev.MaturityDate != cur.MaturityDate
}

// changeDate is the day after the latest prior-schedule installment before
// the loadset date, never earlier than the day after the previous loadset.
func changeDate(in Input) civil.Date {
	floor := in.PrevLoadsetDate.AddDays(1)
	var latest civil.Date
	for _, inst := range in.PrevSchedule {
		if inst.Date.Before(in.LoadsetDate) && inst.Date.After(latest) {
			latest = inst.Date
		}
	}
	if latest.IsZero() {
		return floor
	}
	if d := latest.AddDays(1); d.After(floor) {
		return d
	}
	return floor
}

// endOfContractDate is maturity when it fell within the loadset window, the
// last snapshot date when maturity is ahead but the snapshot is more than a
// month stale, and the loadset date otherwise.
func endOfContractDate(in Input) civil.Date {
	latest := in.Snapshots[len(in.Snapshots)-1]
	for i := len(in.Snapshots) - 1; i >= 0; i-- {
		if in.Snapshots[i].BusinessDate.Before(in.LoadsetDate) {
			latest = in.Snapshots[i]
			break
		}
	}

	maturity := latest.MaturityDate
	if maturity.After(in.PrevLoadsetDate) && !maturity.After(in.LoadsetDate) {
		return maturity
	}
	if maturity.After(in.LoadsetDate) && eirmath.AddMonths(latest.BusinessDate, 1).Before(in.LoadsetDate) {
		if latest.BusinessDate.Before(in.PrevLoadsetDate) {
			return in.PrevLoadsetDate
		}
		return latest.BusinessDate
	}
	return in.LoadsetDate
}
