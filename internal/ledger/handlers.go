package ledger

import (
	"fmt"

	"EirLedger/internal/event"
	"EirLedger/internal/model"

	"cloud.google.com/go/civil"
)

// Handler computes the ledger row produced by one event.
type Handler interface {
	// Calculate derives the row from the prior ledger row; prev is nil only
	// for an exposure's first event.
	Calculate(prev *model.LedgerRow) error
	// CreateRow returns the row computed by the last Calculate.
	CreateRow() model.LedgerRow
}

// step is the effect one event kind contributes to a period.
type step interface {
	Handler
	kind() event.Kind
	apply(p *period)
}

var (
	_ step    = (*NewExposure)(nil)
	_ step    = (*Repayment)(nil)
	_ step    = (*Commission)(nil)
	_ step    = (*ScheduleChange)(nil)
	_ step    = (*PeriodicLoadset)(nil)
	_ step    = (*EndOfContract)(nil)
	_ Handler = (*Composite)(nil)
)

type base struct {
	ctx   *Context
	date  civil.Date
	terms Terms
	row   model.LedgerRow
}

func (b *base) CreateRow() model.LedgerRow {
	return b.row
}

// run applies steps in order to a single period following prev.
func (b *base) run(prev *model.LedgerRow, steps ...step) error {
	if len(steps) > 0 && steps[0].kind() == event.KindNewExposure {
		prev = nil
	} else if prev == nil {
		return fmt.Errorf("no ledger row precedes %s event on %s for exposure %d",
			steps[0].kind(), b.date, b.ctx.ExposureID)
	}

	p := openPeriod(b.ctx, b.date, b.terms, prev)
	for _, s := range steps {
		s.apply(p)
	}
	b.row = p.finish()
	return nil
}

// NewExposure seeds the ledger at the open date.
type NewExposure struct{ base }

func (h *NewExposure) kind() event.Kind { return event.KindNewExposure }

func (h *NewExposure) apply(p *period) { p.seed() }

func (h *NewExposure) Calculate(prev *model.LedgerRow) error { return h.run(prev, h) }

// Repayment applies a scheduled installment.
type Repayment struct{ base }

func (h *Repayment) kind() event.Kind { return event.KindRepayment }

func (h *Repayment) apply(p *period) { p.repay() }

func (h *Repayment) Calculate(prev *model.LedgerRow) error { return h.run(prev, h) }

// Commission posts the commissions collected on its date and forces a rate
// recomputation.
type Commission struct{ base }

func (h *Commission) kind() event.Kind { return event.KindCommission }

func (h *Commission) apply(p *period) {
	p.repay()
	p.post()
}

func (h *Commission) Calculate(prev *model.LedgerRow) error { return h.run(prev, h) }

// ScheduleChange runs under the new schedule and rate and forces a rate
// recomputation.
type ScheduleChange struct{ base }

func (h *ScheduleChange) kind() event.Kind { return event.KindScheduleChange }

func (h *ScheduleChange) apply(p *period) {
	p.repay()
	p.recompute = true
}

func (h *ScheduleChange) Calculate(prev *model.LedgerRow) error { return h.run(prev, h) }

// PeriodicLoadset brings the ledger to the loadset date and detects
// prepayments against the recorded notional.
type PeriodicLoadset struct{ base }

func (h *PeriodicLoadset) kind() event.Kind { return event.KindPeriodicLoadset }

func (h *PeriodicLoadset) apply(p *period) {
	p.repay()
	p.prepay()
}

func (h *PeriodicLoadset) Calculate(prev *model.LedgerRow) error { return h.run(prev, h) }

// EndOfContract closes the ledger.
type EndOfContract struct{ base }

func (h *EndOfContract) kind() event.Kind { return event.KindEndOfContract }

func (h *EndOfContract) apply(p *period) {
	p.repay()
	p.terminate()
}

func (h *EndOfContract) Calculate(prev *model.LedgerRow) error { return h.run(prev, h) }

// Composite applies several kinds sharing a date to one row, in kind
// priority order.
type Composite struct {
	base
	parts []step
}

func (h *Composite) Calculate(prev *model.LedgerRow) error { return h.run(prev, h.parts...) }

// Label names the parts, e.g. "NewExposure+Commission".
func (h *Composite) Label() string {
	ev := event.Event{Date: h.date}
	for _, s := range h.parts {
		ev.Kinds = append(ev.Kinds, s.kind())
	}
	return ev.Label()
}

func newStep(k event.Kind, b base) (step, error) {
	switch k {
	case event.KindNewExposure:
		return &NewExposure{b}, nil
	case event.KindRepayment:
		return &Repayment{b}, nil
	case event.KindCommission:
		return &Commission{b}, nil
	case event.KindScheduleChange:
		return &ScheduleChange{b}, nil
	case event.KindPeriodicLoadset:
		return &PeriodicLoadset{b}, nil
	case event.KindEndOfContract:
		return &EndOfContract{b}, nil
	default:
		return nil, fmt.Errorf("no handler for event kind %s", k)
	}
}

// NewHandler selects the handler variant for ev under terms.
func NewHandler(ctx *Context, ev event.Event, terms Terms) (Handler, error) {
	if len(ev.Kinds) == 0 {
		return nil, fmt.Errorf("event on %s has no kind", ev.Date)
	}
	b := base{ctx: ctx, date: ev.Date, terms: terms}
	if !ev.IsComposite() {
		return newStep(ev.Kinds[0], b)
	}

	c := &Composite{base: b}
	for _, k := range ev.Kinds {
		s, err := newStep(k, b)
		if err != nil {
			return nil, err
		}
		c.parts = append(c.parts, s)
	}
	return c, nil
}
