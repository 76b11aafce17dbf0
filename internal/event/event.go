package event

import (
	"slices"
	"strings"

	"cloud.google.com/go/civil"
)

// Kind discriminates the life-cycle occurrences that produce a ledger row.
// The declaration order is the fixed priority used when several kinds
// share a date.
type Kind int32

const (
	KindUnknown Kind = iota
	KindNewExposure
	KindRepayment
	KindScheduleChange
	KindCommission
	KindEndOfContract
	KindPeriodicLoadset
)

func (k Kind) String() string {
	switch k {
	case KindNewExposure:
		return "NewExposure"
	case KindRepayment:
		return "Repayment"
	case KindScheduleChange:
		return "ScheduleOrRateChange"
	case KindCommission:
		return "Commission"
	case KindEndOfContract:
		return "EndOfContract"
	case KindPeriodicLoadset:
		return "PeriodicLoadset"
	default:
		return "Unknown"
	}
}

// Event is everything that happens to an exposure on one date. An event
// with more than one kind is composite.
type Event struct {
	Date  civil.Date
	Kinds []Kind
}

// Has reports whether k is part of the event.
func (e Event) Has(k Kind) bool {
	return slices.Contains(e.Kinds, k)
}

// IsComposite reports whether several kinds share the date.
func (e Event) IsComposite() bool {
	return len(e.Kinds) > 1
}

// Label joins the kinds in priority order, e.g. "NewExposure+Commission".
func (e Event) Label() string {
	names := make([]string, len(e.Kinds))
	for i, k := range e.Kinds {
		names[i] = k.String()
	}
	return strings.Join(names, "+")
}

// calendar collects kinds per date and emits them as ordered events.
type calendar struct {
	byDate map[civil.Date][]Kind
}

func newCalendar() *calendar {
	return &calendar{byDate: make(map[civil.Date][]Kind)}
}

func (c *calendar) add(d civil.Date, k Kind) {
	if slices.Contains(c.byDate[d], k) {
		return
	}
	c.byDate[d] = append(c.byDate[d], k)
}

// events returns the collected events sorted by date; kinds within a date
// follow Kind priority regardless of the order they were added.
func (c *calendar) events() []Event {
	out := make([]Event, 0, len(c.byDate))
	for d, kinds := range c.byDate {
		sorted := slices.Clone(kinds)
		slices.Sort(sorted)
		out = append(out, Event{Date: d, Kinds: sorted})
	}
	slices.SortFunc(out, func(a, b Event) int {
		switch {
		case a.Date.Before(b.Date):
			return -1
		case a.Date.After(b.Date):
			return 1
		}
		return 0
	})
	return out
}
