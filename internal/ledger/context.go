package ledger

import (
	"fmt"

	eirmath "EirLedger/internal/math"
	"EirLedger/internal/model"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// scheduleNamespace scopes the deterministic ids of solver cash-flow schedules.
var scheduleNamespace = uuid.MustParse("6f1c0c84-3b8e-5d2a-9a41-5e0f4b7d2c19")

// ScheduleID identifies the cash-flow schedule solved for an exposure at an
// anchor date. Equal inputs always produce the same id.
func ScheduleID(exposureID int64, anchor civil.Date) uuid.UUID {
	return uuid.NewSHA1(scheduleNamespace, []byte(fmt.Sprintf("%d:%s", exposureID, anchor)))
}

// Terms is the payment schedule and nominal rate governing a date.
type Terms struct {
	Schedule []model.Installment
	NIR      float64
}

// Context is shared by every handler of one exposure within a run.
type Context struct {
	ExposureID int64
	// Exposure is the most recent snapshot.
	Exposure model.Exposure
	// Commissions are the effective-method commissions.
	Commissions []model.Commission
	LoadsetDate civil.Date
	// LoadsetSchedule is the schedule loaded with the current loadset; rate
	// recomputation after a prepayment uses it.
	LoadsetSchedule []model.Installment
	Convention      eirmath.Convention
	Log             zerolog.Logger

	// Warnings collects non-fatal findings such as non-converged rate solves.
	Warnings []string
	// Solves records every rate solve performed.
	Solves []Solve
}

// Solve is the bookkeeping of one effective rate recomputation.
type Solve struct {
	ScheduleID uuid.UUID
	Anchor     civil.Date
	Flows      int
	Result     eirmath.SolveResult
}

// hasCommissionBefore reports whether a non-zero commission was collected
// strictly before d.
func (c *Context) hasCommissionBefore(d civil.Date) bool {
	for _, cm := range c.Commissions {
		if cm.Value != 0 && cm.CollectionDate.Before(d) {
			return true
		}
	}
	return false
}

// commissionsAt sums the non-zero commissions collected on d.
func (c *Context) commissionsAt(d civil.Date) float64 {
	var sum float64
	for _, cm := range c.Commissions {
		if cm.Value != 0 && cm.CollectionDate == d {
			sum += cm.Value
		}
	}
	return sum
}

func (c *Context) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.Warnings = append(c.Warnings, msg)
	c.Log.Warn().Int64("exposure_id", c.ExposureID).Msg(msg)
}
