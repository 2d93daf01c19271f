package assign

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"autoassign/internal/model"
	"autoassign/internal/obs"
)

// Committer persists accepted assignments.
type Committer struct {
	Bookings    BookingStore
	Concurrency int
}

// Commit writes each assignment independently and reports one result per
// assignment, in input order. A failed commit leaves its order untouched and
// never affects the others.
func (c *Committer) Commit(ctx context.Context, as []model.Assignment) []model.AssignmentResult {
	results := make([]model.AssignmentResult, len(as))
	var g errgroup.Group
	g.SetLimit(max(c.Concurrency, 1))
	for i, a := range as {
		g.Go(func() error {
			res := model.AssignmentResult{
				OrderID:  a.OrderID,
				DriverID: a.DriverID,
				Start:    a.Start.UTC().Format(time.RFC3339),
				End:      a.End.UTC().Format(time.RFC3339),
				Status:   model.OutcomeCommitted,
			}
			if err := c.Bookings.CommitAssignment(ctx, a); err != nil {
				res.Status = model.OutcomeFailed
				res.Error = err.Error()
				log.Printf("run_id=%s op=commit order=%s driver=%s err=%v", obs.RunID(ctx), a.OrderID, a.DriverID, err)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
