package assign

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"autoassign/internal/model"
	"autoassign/internal/obs"
)

// dayView is one driver's raw availability and bookings for one day.
type dayView struct {
	blocks []model.AvailabilityBlock
	booked []model.BookedSlot
}

type dateOutcome struct {
	group      DateGroup
	accepted   []model.Assignment
	unassigned []string
	stopped    bool
}

// prefetch loads every driver's view of day with bounded concurrency. A driver
// whose reads fail is left out for that day; only cancellation aborts.
func (e *Engine) prefetch(ctx context.Context, day Day, roster []model.Driver) (views map[string]dayView, err error) {
	defer obs.Time(ctx, "prefetch "+day.Key)(&err)

	loaded := make([]*dayView, len(roster))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.FetchConcurrency)
	// bookings just across midnight still push their buffer into this day
	from, to := day.Start.Add(-Buffer), day.End.Add(Buffer)
	for i, d := range roster {
		g.Go(func() error {
			blocks, err := e.availability.ListAvailability(gctx, d.ID, day.Start, day.End)
			if err == nil {
				var booked []model.BookedSlot
				booked, err = e.bookings.ListBookedSlots(gctx, d.ID, from, to)
				if err == nil {
					loaded[i] = &dayView{blocks: blocks, booked: booked}
					return nil
				}
			}
			if cerr := gctx.Err(); cerr != nil {
				return cerr
			}
			log.Printf("run_id=%s op=prefetch date=%s driver=%s err=%v skipped=true", obs.RunID(ctx), day.Key, d.ID, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	views = make(map[string]dayView, len(roster))
	for i, d := range roster {
		if loaded[i] != nil {
			views[d.ID] = *loaded[i]
		}
	}
	return views, nil
}

// scheduleDate walks one date's orders in pickup order and reserves the
// earliest slot of the least-loaded driver that has room. On the current day
// nothing starts before now.
func (e *Engine) scheduleDate(ctx context.Context, ledger *Ledger, g DateGroup, roster []model.Driver, now time.Time) dateOutcome {
	out := dateOutcome{group: g}
	views, err := e.prefetch(ctx, g.Day, roster)
	if err != nil {
		out.stopped = true
		for _, o := range g.Orders {
			out.unassigned = append(out.unassigned, o.ID)
		}
		return out
	}
	if now.After(g.Day.Start) && now.Before(g.Day.End) {
		for id, v := range views {
			v.blocks = notBefore(v.blocks, now)
			views[id] = v
		}
	}

	wl := NewWorkload(roster)
	for i, o := range g.Orders {
		if ctx.Err() != nil {
			out.stopped = true
			for _, rest := range g.Orders[i:] {
				out.unassigned = append(out.unassigned, rest.ID)
			}
			break
		}
		a, ok := placeOrder(o, g.Day, views, wl.Order(), ledger)
		if !ok {
			out.unassigned = append(out.unassigned, o.ID)
			continue
		}
		wl.Add(a.DriverID, a.Duration())
		out.accepted = append(out.accepted, a)
	}
	return out
}

// notBefore drops the part of each block that lies before t. Candidates are
// still aligned from local midnight, so the first one is t rounded up to the
// next SlotInterval.
func notBefore(blocks []model.AvailabilityBlock, t time.Time) []model.AvailabilityBlock {
	out := make([]model.AvailabilityBlock, 0, len(blocks))
	for _, b := range blocks {
		if c, ok := b.Clip(t, b.End); ok {
			out = append(out, c)
		}
	}
	return out
}

func placeOrder(o model.Order, day Day, views map[string]dayView, tryOrder []model.Driver, ledger *Ledger) (model.Assignment, bool) {
	for _, d := range tryOrder {
		v, ok := views[d.ID]
		if !ok {
			continue
		}
		slot, ok := SearchSlot(day, v.blocks, v.booked, ledger.Pending(d.ID), o.EstimatedMinutes)
		if !ok {
			continue
		}
		a := model.Assignment{
			OrderID:             o.ID,
			DriverID:            d.ID,
			AvailabilityBlockID: slot.BlockID,
			Start:               slot.Start,
			End:                 slot.End,
		}
		if err := ledger.Reserve(a); err != nil {
			continue
		}
		return a, true
	}
	return model.Assignment{}, false
}
