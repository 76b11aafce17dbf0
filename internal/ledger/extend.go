package ledger

import (
	"fmt"

	"EirLedger/internal/event"
	"EirLedger/internal/model"
)

// Extend computes one row per event, each from the row before it, starting
// after the last row of history (ordered by cash-flow date). The prior terms
// govern until the first schedule or rate change, the current terms from
// then on. Only the new rows are returned.
func Extend(ctx *Context, events []event.Event, history []model.LedgerRow, prior, current Terms) ([]model.LedgerRow, error) {
	var last *model.LedgerRow
	if n := len(history); n > 0 {
		tail := history[n-1]
		last = &tail
	}

	terms := prior
	rows := make([]model.LedgerRow, 0, len(events))
	for _, ev := range events {
		if ev.Has(event.KindScheduleChange) {
			terms = current
		}

		h, err := NewHandler(ctx, ev, terms)
		if err != nil {
			return nil, err
		}
		if err := h.Calculate(last); err != nil {
			return nil, fmt.Errorf("calculate %s on %s: %w", ev.Label(), ev.Date, err)
		}

		row := h.CreateRow()
		rows = append(rows, row)
		last = &row

		ctx.Log.Debug().
			Int64("exposure_id", ctx.ExposureID).
			Str("event", ev.Label()).
			Str("cash_flow_date", ev.Date.String()).
			Float64("notional_due", row.NotionalDue).
			Float64("effective_rate", row.EffectiveInterestRate).
			Msg("ledger row computed")
	}
	return rows, nil
}
