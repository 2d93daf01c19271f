package assign

import (
	"sort"
	"time"

	"autoassign/internal/model"
)

// Workload tracks minutes assigned per driver for one date.
type Workload struct {
	roster   []model.Driver
	assigned map[string]time.Duration
}

func NewWorkload(roster []model.Driver) *Workload {
	w := &Workload{roster: roster, assigned: make(map[string]time.Duration, len(roster))}
	for _, d := range roster {
		w.assigned[d.ID] = 0
	}
	return w
}

func (w *Workload) Add(driverID string, d time.Duration) {
	w.assigned[driverID] += d
}

func (w *Workload) Minutes(driverID string) int {
	return int(w.assigned[driverID] / time.Minute)
}

// Order returns the roster least-loaded first; equal loads keep roster order.
func (w *Workload) Order() []model.Driver {
	out := append([]model.Driver(nil), w.roster...)
	sort.SliceStable(out, func(i, j int) bool {
		return w.assigned[out[i].ID] < w.assigned[out[j].ID]
	})
	return out
}
