package store

import (
	"context"
	"errors"
	"time"

	"autoassign/internal/model"
)

// Store is the persistence interface used by the auto-assign engine and API.
type Store interface {
	// Orders
	ListUnassignedOrders(ctx context.Context) ([]model.OrderRecord, error)

	// Drivers
	ListActiveDrivers(ctx context.Context) ([]model.Driver, error)

	// Availability
	ListAvailability(ctx context.Context, driverID string, from, to time.Time) ([]model.AvailabilityBlock, error)

	// Bookings
	ListBookedSlots(ctx context.Context, driverID string, from, to time.Time) ([]model.BookedSlot, error)
	CommitAssignment(ctx context.Context, a model.Assignment) error

	Ping(ctx context.Context) error
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the order is no longer unassigned.
	ErrConflict = errors.New("order is no longer unassigned")
)
