package model

import (
	"fmt"
	"strings"
	"time"
)

// Order lifecycle states the engine cares about.
const (
	OrderUnassigned = "unassigned"
	OrderAssigned   = "assigned"
)

// Booked slot lifecycle states.
const (
	SlotScheduled = "scheduled"
	SlotCancelled = "cancelled"
)

// ValidationError reports a record rejected at the boundary.
type ValidationError struct {
	Kind   string // order, driver, availability
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s %s", e.Kind, e.ID, e.Field, e.Reason)
}

// OrderRecord is an order row as read from the order source, before validation.
type OrderRecord struct {
	ID               string
	PickupAt         *time.Time
	EstimatedMinutes int
	Status           string
}

// Order is a validated unassigned order.
type Order struct {
	ID               string
	PickupAt         time.Time
	EstimatedMinutes int
	Status           string
}

// NewOrder validates a raw record. Pickup must be present and the estimate positive.
func NewOrder(rec OrderRecord) (Order, error) {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return Order{}, &ValidationError{Kind: "order", Field: "id", Reason: "is required"}
	}
	if rec.PickupAt == nil || rec.PickupAt.IsZero() {
		return Order{}, &ValidationError{Kind: "order", ID: id, Field: "pickupInstant", Reason: "is required"}
	}
	if rec.EstimatedMinutes <= 0 {
		return Order{}, &ValidationError{Kind: "order", ID: id, Field: "estimatedMinutes", Reason: "must be positive"}
	}
	status := rec.Status
	if status == "" {
		status = OrderUnassigned
	}
	return Order{ID: id, PickupAt: rec.PickupAt.UTC(), EstimatedMinutes: rec.EstimatedMinutes, Status: status}, nil
}

type Driver struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewDriver requires an identity; the name is informational.
func NewDriver(id, name string) (Driver, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Driver{}, &ValidationError{Kind: "driver", Field: "id", Reason: "is required"}
	}
	return Driver{ID: id, Name: name}, nil
}

// AvailabilityBlock is a window in which a driver can work.
type AvailabilityBlock struct {
	ID       string
	DriverID string
	Start    time.Time
	End      time.Time
}

// Clip narrows the block to [from, to]. ok is false when nothing is left.
func (b AvailabilityBlock) Clip(from, to time.Time) (AvailabilityBlock, bool) {
	out := b
	if out.Start.Before(from) {
		out.Start = from
	}
	if out.End.After(to) {
		out.End = to
	}
	if !out.Start.Before(out.End) {
		return AvailabilityBlock{}, false
	}
	return out, true
}

// BookedSlot is a committed reservation of a driver's time.
type BookedSlot struct {
	ID                  string
	DriverID            string
	AvailabilityBlockID string
	OrderID             string
	Start               time.Time
	End                 time.Time
	Status              string
}

// Assignment is a slot accepted by the scheduler and waiting to be committed.
type Assignment struct {
	OrderID             string
	DriverID            string
	AvailabilityBlockID string
	Start               time.Time
	End                 time.Time
}

func (a Assignment) Duration() time.Duration { return a.End.Sub(a.Start) }

// Assignment outcome written into the run summary.
const (
	OutcomeCommitted = "committed"
	OutcomeFailed    = "failed"
)

type AssignmentResult struct {
	OrderID  string `json:"orderId"`
	DriverID string `json:"driverId"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

type DateReport struct {
	Date       string `json:"date"`
	Orders     int    `json:"orders"`
	Assigned   int    `json:"assigned"`
	Unassigned int    `json:"unassigned"`
}

// Summary is the response body of an auto-assign run.
type Summary struct {
	Message               string             `json:"message"`
	RunID                 string             `json:"runId"`
	StartedAt             string             `json:"startedAt"`
	FinishedAt            string             `json:"finishedAt"`
	Partial               bool               `json:"partial"`
	TotalOrders           int                `json:"totalOrders"`
	ValidOrders           int                `json:"validOrders"`
	SuccessfulAssignments int                `json:"successfulAssignments"`
	FailedAssignments     int                `json:"failedAssignments"`
	SkippedPastOrders     int                `json:"skippedPastOrders"`
	InvalidOrders         int                `json:"invalidOrders"`
	UnassignedOrders      int                `json:"unassignedOrders"`
	FailedOrderIDs        []string           `json:"failedOrderIds"`
	InvalidOrderIDs       []string           `json:"invalidOrderIds"`
	UnassignedOrderIDs    []string           `json:"unassignedOrderIds"`
	Dates                 []DateReport       `json:"dates"`
	Assignments           []AssignmentResult `json:"assignments"`
}

// AssignedEvent is published to driver streams after a successful commit.
type AssignedEvent struct {
	RunID    string `json:"runId"`
	OrderID  string `json:"orderId"`
	DriverID string `json:"driverId"`
	Start    string `json:"start"`
	End      string `json:"end"`
}
