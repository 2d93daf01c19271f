package assign

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"autoassign/internal/lock"
	"autoassign/internal/model"
	"autoassign/internal/store"
)

// 08:00 on 2026-03-01; every fixture day below is tomorrow or later.
var testNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, mem *store.Memory, mutate func(*Deps, *Options, *Hooks)) *Engine {
	t.Helper()
	d := Deps{Orders: mem, Drivers: mem, Availability: mem, Bookings: mem}
	o := Options{Location: time.UTC, Now: func() time.Time { return testNow }}
	var h Hooks
	if mutate != nil {
		mutate(&d, &o, &h)
	}
	e, err := New(d, o, h)
	require.NoError(t, err)
	return e
}

func addOrder(mem *store.Memory, id string, pickup time.Time, minutes int) {
	mem.AddOrder(model.OrderRecord{ID: id, PickupAt: &pickup, EstimatedMinutes: minutes})
}

func addDriver(mem *store.Memory, id string, windows ...[2]time.Time) {
	mem.AddDriver(model.Driver{ID: id, Name: "driver " + id})
	for i, w := range windows {
		mem.AddAvailability(model.AvailabilityBlock{ID: fmt.Sprintf("%s-b%d", id, i), DriverID: id, Start: w[0], End: w[1]})
	}
}

func TestRunBalancesWorkloadAcrossDrivers(t *testing.T) {
	mem := store.NewMemory()
	addDriver(mem, "a", [2]time.Time{at(9, 0), at(12, 0)})
	addDriver(mem, "b", [2]time.Time{at(9, 0), at(12, 0)})
	addOrder(mem, "o1", at(9, 0), 30)
	addOrder(mem, "o2", at(9, 0), 30)
	addOrder(mem, "o3", at(9, 15), 30)

	sum, err := newTestEngine(t, mem, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, sum.TotalOrders)
	require.Equal(t, 3, sum.ValidOrders)
	require.Equal(t, 3, sum.SuccessfulAssignments)
	require.Zero(t, sum.FailedAssignments)
	require.Empty(t, sum.FailedOrderIDs)

	got := map[string]model.AssignmentResult{}
	for _, r := range sum.Assignments {
		got[r.OrderID] = r
	}
	require.Equal(t, "a", got["o1"].DriverID)
	require.Equal(t, "b", got["o2"].DriverID, "least-loaded driver is tried first")
	require.Equal(t, "a", got["o3"].DriverID)
	require.Equal(t, at(10, 0).Format(time.RFC3339), got["o3"].Start)

	rec, driverID, err := mem.Order("o3")
	require.NoError(t, err)
	require.Equal(t, model.OrderAssigned, rec.Status)
	require.Equal(t, "a", driverID)
	require.True(t, rec.PickupAt.Equal(at(10, 0)))
}

func TestRunSkipsPastOrdersAndIsIdempotent(t *testing.T) {
	mem := store.NewMemory()
	addDriver(mem, "a", [2]time.Time{at(9, 0), at(17, 0)})
	addOrder(mem, "today", at(9, 0), 20)
	addOrder(mem, "yesterday", testNow.Add(-24*time.Hour), 20)

	e := newTestEngine(t, mem, nil)
	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, sum.TotalOrders)
	require.Equal(t, 1, sum.ValidOrders)
	require.Equal(t, 1, sum.SkippedPastOrders)
	require.Equal(t, 1, sum.SuccessfulAssignments)

	rec, _, err := mem.Order("yesterday")
	require.NoError(t, err)
	require.Equal(t, model.OrderUnassigned, rec.Status)

	again, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, again.SuccessfulAssignments)
	require.Equal(t, 1, again.TotalOrders)
	require.Equal(t, 1, again.SkippedPastOrders)
	require.Len(t, mem.BookedSlots("a"), 1)
}

func TestRunReportsUnassignedWhenCapacityIsExhausted(t *testing.T) {
	mem := store.NewMemory()
	addDriver(mem, "a", [2]time.Time{at(9, 0), at(10, 0)})
	addOrder(mem, "o1", at(9, 0), 60)
	addOrder(mem, "o2", at(9, 0), 30)

	sum, err := newTestEngine(t, mem, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum.SuccessfulAssignments)
	require.Equal(t, 1, sum.UnassignedOrders)
	require.Equal(t, []string{"o2"}, sum.UnassignedOrderIDs)
	require.Empty(t, sum.FailedOrderIDs)
	require.Equal(t, []model.DateReport{{Date: "2026-03-02", Orders: 2, Assigned: 1, Unassigned: 1}}, sum.Dates)
}

func TestRunCountsInvalidOrders(t *testing.T) {
	mem := store.NewMemory()
	addDriver(mem, "a", [2]time.Time{at(9, 0), at(12, 0)})
	mem.AddOrder(model.OrderRecord{ID: "no-pickup", EstimatedMinutes: 10})
	addOrder(mem, "zero", at(9, 0), 0)
	addOrder(mem, "ok", at(9, 0), 10)

	sum, err := newTestEngine(t, mem, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, sum.TotalOrders)
	require.Equal(t, 1, sum.ValidOrders)
	require.Equal(t, 2, sum.InvalidOrders)
	require.ElementsMatch(t, []string{"no-pickup", "zero"}, sum.InvalidOrderIDs)
}

func TestRunWithoutDrivers(t *testing.T) {
	mem := store.NewMemory()
	addOrder(mem, "o1", at(9, 0), 10)
	_, err := newTestEngine(t, mem, nil).Run(context.Background())
	require.ErrorIs(t, err, ErrNoDrivers)

	rec, _, _ := mem.Order("o1")
	require.Equal(t, model.OrderUnassigned, rec.Status)
}

type failingDrivers struct{}

func (failingDrivers) ListActiveDrivers(context.Context) ([]model.Driver, error) {
	return nil, errors.New("connection refused")
}

type failingOrders struct{}

func (failingOrders) ListUnassignedOrders(context.Context) ([]model.OrderRecord, error) {
	return nil, errors.New("connection reset")
}

func TestRunUpstreamFailures(t *testing.T) {
	mem := store.NewMemory()
	addDriver(mem, "a", [2]time.Time{at(9, 0), at(12, 0)})

	_, err := newTestEngine(t, mem, func(d *Deps, _ *Options, _ *Hooks) { d.Drivers = failingDrivers{} }).Run(context.Background())
	require.ErrorIs(t, err, ErrUpstream)

	_, err = newTestEngine(t, mem, func(d *Deps, _ *Options, _ *Hooks) { d.Orders = failingOrders{} }).Run(context.Background())
	require.ErrorIs(t, err, ErrUpstream)
}

// flakyBookings fails commits for selected orders.
type flakyBookings struct {
	*store.Memory
	fail map[string]bool
}

func (f *flakyBookings) CommitAssignment(ctx context.Context, a model.Assignment) error {
	if f.fail[a.OrderID] {
		return errors.New("write timeout")
	}
	return f.Memory.CommitAssignment(ctx, a)
}

func TestRunCommitFailureIsIsolated(t *testing.T) {
	mem := store.NewMemory()
	addDriver(mem, "a", [2]time.Time{at(9, 0), at(17, 0)})
	addOrder(mem, "o1", at(9, 0), 30)
	addOrder(mem, "o2", at(10, 0), 30)
	addOrder(mem, "o3", at(11, 0), 30)

	fb := &flakyBookings{Memory: mem, fail: map[string]bool{"o2": true}}
	sum, err := newTestEngine(t, mem, func(d *Deps, _ *Options, _ *Hooks) { d.Bookings = fb }).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, sum.SuccessfulAssignments)
	require.Equal(t, 1, sum.FailedAssignments)
	require.Equal(t, []string{"o2"}, sum.FailedOrderIDs)
	require.Empty(t, sum.UnassignedOrderIDs)

	rec, _, _ := mem.Order("o2")
	require.Equal(t, model.OrderUnassigned, rec.Status, "failed commit leaves order untouched")
	rec, _, _ = mem.Order("o3")
	require.Equal(t, model.OrderAssigned, rec.Status)
}

func TestRunRejectsWhileAnotherInstanceHoldsTheLock(t *testing.T) {
	mem := store.NewMemory()
	addDriver(mem, "a", [2]time.Time{at(9, 0), at(12, 0)})
	l := lock.NewLocal()
	unlock, err := l.TryLock(context.Background(), runLockKey, time.Minute)
	require.NoError(t, err)

	e := newTestEngine(t, mem, func(d *Deps, _ *Options, _ *Hooks) { d.Lock = l })
	_, err = e.Run(context.Background())
	require.ErrorIs(t, err, ErrRunInProgress)

	unlock()
	_, err = e.Run(context.Background())
	require.NoError(t, err)
}

// blockingAvailability never answers before the run deadline.
type blockingAvailability struct{}

func (blockingAvailability) ListAvailability(ctx context.Context, _ string, _, _ time.Time) ([]model.AvailabilityBlock, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunDeadlineReturnsPartialSummary(t *testing.T) {
	mem := store.NewMemory()
	addDriver(mem, "a", [2]time.Time{at(9, 0), at(12, 0)})
	addOrder(mem, "o1", at(9, 0), 30)
	addOrder(mem, "o2", at(9, 0).Add(24*time.Hour), 30)

	e := newTestEngine(t, mem, func(d *Deps, o *Options, _ *Hooks) {
		d.Availability = blockingAvailability{}
		o.RunTimeout = 20 * time.Millisecond
	})
	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	require.True(t, sum.Partial)
	require.Zero(t, sum.SuccessfulAssignments)
	require.ElementsMatch(t, []string{"o1", "o2"}, sum.UnassignedOrderIDs)
}

func TestRunHooks(t *testing.T) {
	mem := store.NewMemory()
	addDriver(mem, "a", [2]time.Time{at(9, 0), at(12, 0)})
	addOrder(mem, "o1", at(9, 0), 30)

	var mu sync.Mutex
	var events []model.AssignedEvent
	var completed []model.Summary
	e := newTestEngine(t, mem, func(_ *Deps, _ *Options, h *Hooks) {
		h.Assigned = func(_ context.Context, evt model.AssignedEvent) { mu.Lock(); events = append(events, evt); mu.Unlock() }
		h.Completed = func(_ context.Context, s model.Summary) { completed = append(completed, s) }
	})
	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "o1", events[0].OrderID)
	require.Equal(t, sum.RunID, events[0].RunID)
	require.Len(t, completed, 1)
}

// gatedAvailability signals when the run reaches prefetch, then blocks until
// the run deadline.
type gatedAvailability struct {
	once    sync.Once
	entered chan struct{}
}

func (g *gatedAvailability) ListAvailability(ctx context.Context, _ string, _, _ time.Time) ([]model.AvailabilityBlock, error) {
	g.once.Do(func() { close(g.entered) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunLockOutlivesLongRun(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mem := store.NewMemory()
	addDriver(mem, "a", [2]time.Time{at(9, 0), at(12, 0)})
	addOrder(mem, "o1", at(9, 0), 30)

	gate := &gatedAvailability{entered: make(chan struct{})}
	first := newTestEngine(t, mem, func(d *Deps, o *Options, _ *Hooks) {
		d.Availability = gate
		d.Lock = lock.NewRedis(rdb)
		o.RunTimeout = 500 * time.Millisecond
	})
	second := newTestEngine(t, mem, func(d *Deps, _ *Options, _ *Hooks) { d.Lock = lock.NewRedis(rdb) })

	done := make(chan error, 1)
	go func() {
		_, err := first.Run(context.Background())
		done <- err
	}()
	<-gate.entered

	// well past the run and commit timeouts, yet within the lock ttl
	mr.FastForward(4 * time.Minute)
	_, err := second.Run(context.Background())
	require.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, <-done)
	_, err = second.Run(context.Background())
	require.NoError(t, err)
}

func TestNewRejectsLockShorterThanRun(t *testing.T) {
	mem := store.NewMemory()
	d := Deps{Orders: mem, Drivers: mem, Availability: mem, Bookings: mem}
	_, err := New(d, Options{Location: time.UTC, RunTimeout: 10 * time.Minute, CommitTimeout: 30 * time.Second, LockTTL: time.Minute}, Hooks{})
	require.ErrorIs(t, err, ErrConfig)

	e, err := New(d, Options{Location: time.UTC, RunTimeout: 10 * time.Minute}, Hooks{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, e.opts.LockTTL, 10*time.Minute+30*time.Second)
}

func TestNewRequiresConfiguration(t *testing.T) {
	mem := store.NewMemory()
	_, err := New(Deps{Orders: mem, Drivers: mem, Availability: mem, Bookings: mem}, Options{}, Hooks{})
	require.ErrorIs(t, err, ErrConfig)
	_, err = New(Deps{Orders: mem}, Options{Location: time.UTC}, Hooks{})
	require.ErrorIs(t, err, ErrConfig)

	var e *Engine
	_, err = e.Run(context.Background())
	require.ErrorIs(t, err, ErrConfig)
}

// TestRunInvariants checks containment and buffered non-overlap over a
// generated workload with pre-existing bookings.
func TestRunInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	mem := store.NewMemory()
	drivers := []string{"d1", "d2", "d3"}
	blocks := map[string][]model.AvailabilityBlock{}
	for _, d := range drivers {
		mem.AddDriver(model.Driver{ID: d})
		for day := 0; day < 2; day++ {
			base := testDay.Start.AddDate(0, 0, day)
			for _, w := range [][2]int{{8*60 + 15, 12 * 60}, {13 * 60, 17*60 + 45}} {
				b := model.AvailabilityBlock{
					ID:       fmt.Sprintf("%s-%s-%d", d, base.Format("0102"), w[0]),
					DriverID: d,
					Start:    base.Add(time.Duration(w[0]) * time.Minute),
					End:      base.Add(time.Duration(w[1]) * time.Minute),
				}
				mem.AddAvailability(b)
				blocks[d] = append(blocks[d], b)
			}
			start := base.Add(time.Duration(9*60+rng.Intn(6)*30) * time.Minute)
			mem.AddBookedSlot(model.BookedSlot{DriverID: d, Start: start, End: start.Add(45 * time.Minute)})
		}
	}
	for i := 0; i < 40; i++ {
		day := testDay.Start.AddDate(0, 0, rng.Intn(2))
		pickup := day.Add(time.Duration(8*60+rng.Intn(9*60)) * time.Minute)
		addOrder(mem, fmt.Sprintf("o%02d", i), pickup, 5+rng.Intn(70))
	}

	sum, err := newTestEngine(t, mem, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 40, sum.SuccessfulAssignments+sum.UnassignedOrders)
	require.NotZero(t, sum.SuccessfulAssignments)

	for _, d := range drivers {
		slots := mem.BookedSlots(d)
		for i := range slots {
			for j := i + 1; j < len(slots); j++ {
				a, b := slots[i], slots[j]
				clash := a.Start.Before(b.End.Add(Buffer)) && b.Start.Before(a.End.Add(Buffer))
				require.False(t, clash, "driver %s: %v-%v overlaps %v-%v", d, a.Start, a.End, b.Start, b.End)
			}
			if slots[i].OrderID == "" {
				continue
			}
			var inside bool
			for _, b := range blocks[d] {
				if b.ID == slots[i].AvailabilityBlockID && !slots[i].Start.Before(b.Start) && !slots[i].End.After(b.End) {
					inside = true
				}
			}
			require.True(t, inside, "slot %v-%v outside block %s", slots[i].Start, slots[i].End, slots[i].AvailabilityBlockID)
			require.Zero(t, slots[i].Start.Sub(testDay.Start)%SlotInterval, "slot start not on a 30 minute boundary")
		}
	}
}

func TestRunBookingBeforeMidnightBlocksFirstSlot(t *testing.T) {
	mem := store.NewMemory()
	addDriver(mem, "a", [2]time.Time{at(0, 0), at(3, 0)})
	// 23:40-23:55 the evening before; its buffer runs to 00:05
	mem.AddBookedSlot(model.BookedSlot{DriverID: "a", OrderID: "late", Start: at(-1, 40), End: at(-1, 55)})
	addOrder(mem, "o1", at(0, 0), 30)

	sum, err := newTestEngine(t, mem, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum.SuccessfulAssignments)
	require.Equal(t, at(0, 30).Format(time.RFC3339), sum.Assignments[0].Start)
}

func TestRunNeverSchedulesBeforeNowOnTheCurrentDay(t *testing.T) {
	mem := store.NewMemory()
	addDriver(mem, "a", [2]time.Time{at(6, 0), at(12, 0)})
	addOrder(mem, "o1", at(7, 0), 30)
	addOrder(mem, "o2", at(7, 0).Add(24*time.Hour), 30)

	e := newTestEngine(t, mem, func(_ *Deps, o *Options, _ *Hooks) {
		o.Now = func() time.Time { return at(8, 10) }
	})
	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, sum.SkippedPastOrders, "a pickup earlier today is not a past date")
	got := map[string]string{}
	for _, r := range sum.Assignments {
		got[r.OrderID] = r.Start
	}
	require.Equal(t, at(8, 30).Format(time.RFC3339), got["o1"], "rounded up from now")
	require.NotContains(t, got, "o2", "no availability on the following day")
	require.Equal(t, []string{"o2"}, sum.UnassignedOrderIDs)
}
