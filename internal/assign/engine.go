// Package assign is the driver auto-assignment engine: it groups unassigned
// orders by local pickup date, reserves the earliest buffered slot in the
// least-loaded driver's availability and commits the result.
package assign

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"autoassign/internal/lock"
	"autoassign/internal/metrics"
	"autoassign/internal/model"
	"autoassign/internal/obs"
)

var (
	ErrNoDrivers     = errors.New("no drivers available")
	ErrUpstream      = errors.New("upstream read failed")
	ErrConfig        = errors.New("auto-assign is not configured")
	ErrRunInProgress = errors.New("auto-assign run already in progress")
)

const runLockKey = "auto-assign"

type Options struct {
	Location          *time.Location
	RunTimeout        time.Duration
	CommitTimeout     time.Duration
	FetchConcurrency  int
	CommitConcurrency int
	LockTTL           time.Duration
	Now               func() time.Time
}

type Deps struct {
	Orders       OrderSource
	Drivers      DriverSource
	Availability AvailabilityStore
	Bookings     BookingStore
	// Lock guards runs across instances. Defaults to an in-process lock.
	Lock lock.Locker
}

// Hooks are called synchronously at the end of a run and should hand off
// slow work.
type Hooks struct {
	Assigned  func(ctx context.Context, evt model.AssignedEvent)
	Completed func(ctx context.Context, sum model.Summary)
}

type Engine struct {
	orders       OrderSource
	drivers      DriverSource
	availability AvailabilityStore
	bookings     BookingStore
	lock         lock.Locker
	opts         Options
	hooks        Hooks
	flight       singleflight.Group
}

func New(d Deps, opts Options, hooks Hooks) (*Engine, error) {
	if d.Orders == nil || d.Drivers == nil || d.Availability == nil || d.Bookings == nil {
		return nil, fmt.Errorf("%w: missing data source", ErrConfig)
	}
	if opts.Location == nil {
		return nil, fmt.Errorf("%w: missing timezone", ErrConfig)
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 2 * time.Minute
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = 30 * time.Second
	}
	if opts.FetchConcurrency < 1 {
		opts.FetchConcurrency = 8
	}
	if opts.CommitConcurrency < 1 {
		opts.CommitConcurrency = 8
	}
	// the run lock must outlive the longest possible run or a second
	// instance could start while this one is still committing
	minTTL := opts.RunTimeout + opts.CommitTimeout
	if opts.LockTTL <= 0 {
		opts.LockTTL = max(5*time.Minute, minTTL+time.Minute)
	}
	if opts.LockTTL < minTTL {
		return nil, fmt.Errorf("%w: lock ttl %v shorter than run timeout + commit timeout %v", ErrConfig, opts.LockTTL, minTTL)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if d.Lock == nil {
		d.Lock = lock.NewLocal()
	}
	return &Engine{
		orders:       d.Orders,
		drivers:      d.Drivers,
		availability: d.Availability,
		bookings:     d.Bookings,
		lock:         d.Lock,
		opts:         opts,
		hooks:        hooks,
	}, nil
}

// Run performs one auto-assign pass. Concurrent callers in this process share
// the in-flight run's result; a run held by another instance yields
// ErrRunInProgress.
func (e *Engine) Run(ctx context.Context) (model.Summary, error) {
	if e == nil {
		return model.Summary{}, ErrConfig
	}
	v, err, _ := e.flight.Do(runLockKey, func() (any, error) {
		return e.run(ctx)
	})
	if err != nil {
		return model.Summary{}, err
	}
	return v.(model.Summary), nil
}

func (e *Engine) run(ctx context.Context) (sum model.Summary, err error) {
	runID := uuid.NewString()
	ctx = obs.WithRunID(ctx, runID)
	defer obs.Time(ctx, "auto-assign")(&err)
	started := e.opts.Now()
	defer func() { recordRun(started, e.opts.Now(), sum, err) }()

	unlock, err := e.lock.TryLock(ctx, runLockKey, e.opts.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return sum, ErrRunInProgress
		}
		return sum, fmt.Errorf("%w: acquire run lock: %v", ErrUpstream, err)
	}
	defer unlock()

	runCtx, cancel := context.WithTimeout(ctx, e.opts.RunTimeout)
	defer cancel()

	roster, err := e.loadRoster(runCtx)
	if err != nil {
		return sum, err
	}
	orders, err := e.loadOrders(runCtx, &sum)
	if err != nil {
		return sum, err
	}

	sum.RunID = runID
	sum.StartedAt = started.UTC().Format(time.RFC3339)
	sum.FailedOrderIDs = []string{}
	sum.UnassignedOrderIDs = []string{}
	sum.Dates = []model.DateReport{}
	sum.Assignments = []model.AssignmentResult{}

	groups, past := GroupByDate(orders, started, e.opts.Location)
	sum.SkippedPastOrders = len(past)

	ledger := NewLedger()
	for _, g := range groups {
		sum.ValidOrders += len(g.Orders)
		var out dateOutcome
		if sum.Partial {
			out = dateOutcome{group: g, stopped: true}
			for _, o := range g.Orders {
				out.unassigned = append(out.unassigned, o.ID)
			}
		} else {
			out = e.scheduleDate(runCtx, ledger, g, roster, started)
		}
		if out.stopped {
			sum.Partial = true
		}
		sum.UnassignedOrderIDs = append(sum.UnassignedOrderIDs, out.unassigned...)
		sum.Dates = append(sum.Dates, model.DateReport{
			Date:       g.Day.Key,
			Orders:     len(g.Orders),
			Assigned:   len(out.accepted),
			Unassigned: len(out.unassigned),
		})
	}
	sum.UnassignedOrders = len(sum.UnassignedOrderIDs)

	// reserved slots are committed even when the run deadline has passed
	commitCtx, cancelCommit := context.WithTimeout(context.WithoutCancel(ctx), e.opts.CommitTimeout)
	defer cancelCommit()
	accepted := ledger.Assignments()
	committer := &Committer{Bookings: e.bookings, Concurrency: e.opts.CommitConcurrency}
	results := committer.Commit(commitCtx, accepted)
	for _, r := range results {
		if r.Status != model.OutcomeCommitted {
			sum.FailedAssignments++
			sum.FailedOrderIDs = append(sum.FailedOrderIDs, r.OrderID)
			continue
		}
		sum.SuccessfulAssignments++
		if e.hooks.Assigned != nil {
			e.hooks.Assigned(ctx, model.AssignedEvent{RunID: runID, OrderID: r.OrderID, DriverID: r.DriverID, Start: r.Start, End: r.End})
		}
	}
	sum.Assignments = results
	sum.Message = summaryMessage(sum)
	sum.FinishedAt = e.opts.Now().UTC().Format(time.RFC3339)

	log.Printf("run_id=%s total=%d valid=%d assigned=%d failed=%d unassigned=%d past=%d invalid=%d partial=%t",
		runID, sum.TotalOrders, sum.ValidOrders, sum.SuccessfulAssignments, sum.FailedAssignments,
		sum.UnassignedOrders, sum.SkippedPastOrders, sum.InvalidOrders, sum.Partial)
	if e.hooks.Completed != nil {
		e.hooks.Completed(ctx, sum)
	}
	return sum, nil
}

// loadRoster lists active drivers, dropping records without an identity and
// duplicate IDs while keeping roster order.
func (e *Engine) loadRoster(ctx context.Context) (roster []model.Driver, err error) {
	defer obs.Time(ctx, "list drivers")(&err)
	list, err := e.drivers.ListActiveDrivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list drivers: %v", ErrUpstream, err)
	}
	seen := map[string]struct{}{}
	for _, d := range list {
		v, verr := model.NewDriver(d.ID, d.Name)
		if verr != nil {
			log.Printf("run_id=%s op=list drivers err=%v", obs.RunID(ctx), verr)
			continue
		}
		if _, dup := seen[v.ID]; dup {
			continue
		}
		seen[v.ID] = struct{}{}
		roster = append(roster, v)
	}
	if len(roster) == 0 {
		return nil, ErrNoDrivers
	}
	return roster, nil
}

func (e *Engine) loadOrders(ctx context.Context, sum *model.Summary) (orders []model.Order, err error) {
	defer obs.Time(ctx, "list orders")(&err)
	recs, err := e.orders.ListUnassignedOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list orders: %v", ErrUpstream, err)
	}
	sum.TotalOrders = len(recs)
	sum.InvalidOrderIDs = []string{}
	for _, rec := range recs {
		o, verr := model.NewOrder(rec)
		if verr != nil {
			sum.InvalidOrders++
			sum.InvalidOrderIDs = append(sum.InvalidOrderIDs, rec.ID)
			log.Printf("run_id=%s op=list orders err=%v", obs.RunID(ctx), verr)
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func summaryMessage(sum model.Summary) string {
	switch {
	case sum.Partial:
		return "Auto-assignment stopped at the run deadline; partial results"
	case sum.ValidOrders == 0:
		return "No orders to assign"
	case sum.FailedAssignments > 0:
		return fmt.Sprintf("Auto-assignment completed: %d assigned, %d failed to save", sum.SuccessfulAssignments, sum.FailedAssignments)
	default:
		return fmt.Sprintf("Auto-assignment completed: %d assigned, %d unassigned", sum.SuccessfulAssignments, sum.UnassignedOrders)
	}
}

func recordRun(started, finished time.Time, sum model.Summary, err error) {
	outcome := "completed"
	switch {
	case errors.Is(err, ErrNoDrivers):
		outcome = "no_drivers"
	case errors.Is(err, ErrRunInProgress):
		outcome = "in_progress"
	case err != nil:
		outcome = "error"
	case sum.Partial:
		outcome = "partial"
	}
	metrics.AssignRuns.WithLabelValues(outcome).Inc()
	metrics.AssignRunDuration.Observe(finished.Sub(started).Seconds())
	if err != nil {
		return
	}
	metrics.AssignOrders.WithLabelValues("committed").Add(float64(sum.SuccessfulAssignments))
	metrics.AssignOrders.WithLabelValues("commit_failed").Add(float64(sum.FailedAssignments))
	metrics.AssignOrders.WithLabelValues("unassigned").Add(float64(sum.UnassignedOrders))
	metrics.AssignOrders.WithLabelValues("skipped_past").Add(float64(sum.SkippedPastOrders))
	metrics.AssignOrders.WithLabelValues("invalid").Add(float64(sum.InvalidOrders))
}
