package assign

import (
	"sort"
	"time"

	"autoassign/internal/model"
)

// DateGroup holds one local day's orders in pickup order.
type DateGroup struct {
	Day    Day
	Orders []model.Order
}

// GroupByDate buckets unassigned orders by local pickup date. Orders whose
// date is before the local day of now are returned as past and left out.
func GroupByDate(orders []model.Order, now time.Time, loc *time.Location) (groups []DateGroup, past []model.Order) {
	today := DayOf(now, loc)
	byKey := map[string]*DateGroup{}
	for _, o := range orders {
		if o.Status != model.OrderUnassigned {
			continue
		}
		d := DayOf(o.PickupAt, loc)
		if d.Start.Before(today.Start) {
			past = append(past, o)
			continue
		}
		g, ok := byKey[d.Key]
		if !ok {
			g = &DateGroup{Day: d}
			byKey[d.Key] = g
		}
		g.Orders = append(g.Orders, o)
	}
	for _, g := range byKey {
		sort.SliceStable(g.Orders, func(i, j int) bool {
			a, b := g.Orders[i], g.Orders[j]
			if !a.PickupAt.Equal(b.PickupAt) {
				return a.PickupAt.Before(b.PickupAt)
			}
			return a.ID < b.ID
		})
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Day.Start.Before(groups[j].Day.Start) })
	return groups, past
}
