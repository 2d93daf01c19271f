package assign

import (
	"context"
	"time"

	"autoassign/internal/model"
)

// OrderSource lists orders waiting for a driver.
type OrderSource interface {
	ListUnassignedOrders(ctx context.Context) ([]model.OrderRecord, error)
}

// DriverSource lists the active roster in a stable order.
type DriverSource interface {
	ListActiveDrivers(ctx context.Context) ([]model.Driver, error)
}

// AvailabilityStore lists a driver's blocks overlapping [from, to).
type AvailabilityStore interface {
	ListAvailability(ctx context.Context, driverID string, from, to time.Time) ([]model.AvailabilityBlock, error)
}

// BookingStore reads existing bookings and persists new assignments.
// CommitAssignment must update the order and insert the booked slot as one unit.
type BookingStore interface {
	ListBookedSlots(ctx context.Context, driverID string, from, to time.Time) ([]model.BookedSlot, error)
	CommitAssignment(ctx context.Context, a model.Assignment) error
}
