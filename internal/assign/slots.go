package assign

import (
	"sort"
	"time"

	"autoassign/internal/model"
)

// Slot is a candidate reservation drawn from one availability block.
type Slot struct {
	Start   time.Time
	End     time.Time
	BlockID string

	blockStart time.Time
}

type interval struct {
	start, end time.Time
}

func bufferedInterval(start, end time.Time) interval {
	return interval{start: start.Add(-Buffer), end: end.Add(Buffer)}
}

// overlaps is the half-open test: a.start < b.end && b.start < a.end.
func overlaps(a, b interval) bool {
	return a.start.Before(b.end) && b.start.Before(a.end)
}

// SearchSlot returns the earliest slot on day that fits estimatedMinutes
// inside one of blocks without touching the buffered interval of any
// non-cancelled booked slot or pending assignment.
func SearchSlot(day Day, blocks []model.AvailabilityBlock, booked []model.BookedSlot, pending []model.Assignment, estimatedMinutes int) (Slot, bool) {
	reserved := ReservedDuration(estimatedMinutes)
	if reserved <= 0 {
		return Slot{}, false
	}

	var busy []interval
	for _, b := range booked {
		if b.Status == model.SlotCancelled {
			continue
		}
		busy = append(busy, bufferedInterval(b.Start, b.End))
	}
	for _, p := range pending {
		busy = append(busy, bufferedInterval(p.Start, p.End))
	}

	var accepted []Slot
	for _, raw := range blocks {
		blk, ok := raw.Clip(day.Start, day.End)
		if !ok {
			continue
		}
		for c := alignUp(blk.Start, day.Start); !c.Add(reserved).After(blk.End); c = c.Add(SlotInterval) {
			cand := interval{start: c, end: c.Add(reserved)}
			if conflicts(cand, busy) {
				continue
			}
			accepted = append(accepted, Slot{Start: cand.start, End: cand.end, BlockID: blk.ID, blockStart: blk.Start})
		}
	}
	if len(accepted) == 0 {
		return Slot{}, false
	}
	sort.SliceStable(accepted, func(i, j int) bool {
		a, b := accepted[i], accepted[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.blockStart.Equal(b.blockStart) {
			return a.blockStart.Before(b.blockStart)
		}
		return a.BlockID < b.BlockID
	})
	return accepted[0], true
}

// alignUp rounds t up to the next SlotInterval boundary counted from the
// local midnight dayStart.
func alignUp(t, dayStart time.Time) time.Time {
	off := t.Sub(dayStart)
	if rem := off % SlotInterval; rem != 0 {
		off += SlotInterval - rem
	}
	return dayStart.Add(off)
}

func conflicts(cand interval, busy []interval) bool {
	for _, b := range busy {
		if overlaps(cand, b) {
			return true
		}
	}
	return false
}
