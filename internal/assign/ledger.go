package assign

import (
	"errors"
	"sync"

	"autoassign/internal/model"
)

var errSlotTaken = errors.New("slot conflicts with a pending assignment")

// Ledger holds the assignments reserved during one run but not yet committed.
// It is owned by a single run; accessors are synchronized so readers running
// alongside the scheduler always see a consistent copy.
type Ledger struct {
	mu       sync.Mutex
	byDriver map[string][]model.Assignment
	order    []model.Assignment
}

func NewLedger() *Ledger {
	return &Ledger{byDriver: map[string][]model.Assignment{}}
}

// Reserve records a, refusing it if its buffered interval touches another
// pending assignment of the same driver.
func (l *Ledger) Reserve(a model.Assignment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cand := interval{start: a.Start, end: a.End}
	for _, p := range l.byDriver[a.DriverID] {
		if overlaps(cand, bufferedInterval(p.Start, p.End)) {
			return errSlotTaken
		}
	}
	l.byDriver[a.DriverID] = append(l.byDriver[a.DriverID], a)
	l.order = append(l.order, a)
	return nil
}

// Pending returns a copy of the driver's reserved assignments.
func (l *Ledger) Pending(driverID string) []model.Assignment {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Assignment(nil), l.byDriver[driverID]...)
}

// Assignments returns every reservation in the order it was made.
func (l *Ledger) Assignments() []model.Assignment {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Assignment(nil), l.order...)
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}
