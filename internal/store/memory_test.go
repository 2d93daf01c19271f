package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoassign/internal/model"
)

func TestMemoryCommitAssignment(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m.AddDriver(model.Driver{ID: "d1", Name: "Dee"})
	m.AddOrder(model.OrderRecord{ID: "o1", PickupAt: &at, EstimatedMinutes: 25})

	a := model.Assignment{OrderID: "o1", DriverID: "d1", AvailabilityBlockID: "b1", Start: at.Add(30 * time.Minute), End: at.Add(60 * time.Minute)}
	require.NoError(t, m.CommitAssignment(ctx, a))

	rec, driverID, err := m.Order("o1")
	require.NoError(t, err)
	require.Equal(t, model.OrderAssigned, rec.Status)
	require.Equal(t, "d1", driverID)
	require.True(t, rec.PickupAt.Equal(a.Start))

	slots := m.BookedSlots("d1")
	require.Len(t, slots, 1)
	require.Equal(t, model.SlotScheduled, slots[0].Status)
	require.Equal(t, "b1", slots[0].AvailabilityBlockID)

	err = m.CommitAssignment(ctx, a)
	require.True(t, errors.Is(err, ErrConflict), "got %v", err)
	require.Len(t, m.BookedSlots("d1"), 1)

	err = m.CommitAssignment(ctx, model.Assignment{OrderID: "missing", DriverID: "d1"})
	require.ErrorIs(t, err, ErrNotFound)

	orders, err := m.ListUnassignedOrders(ctx)
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestMemoryRangeQueries(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	m.AddAvailability(model.AvailabilityBlock{ID: "b1", DriverID: "d1", Start: day.Add(9 * time.Hour), End: day.Add(12 * time.Hour)})
	m.AddAvailability(model.AvailabilityBlock{ID: "b2", DriverID: "d1", Start: day.Add(30 * time.Hour), End: day.Add(33 * time.Hour)})
	m.AddBookedSlot(model.BookedSlot{DriverID: "d1", Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour)})
	m.AddBookedSlot(model.BookedSlot{DriverID: "d1", Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour), Status: model.SlotCancelled})

	blocks, err := m.ListAvailability(ctx, "d1", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, "b1", blocks[0].ID)

	slots, err := m.ListBookedSlots(ctx, "d1", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, slots, 1, "cancelled slots are not listed")
	require.Equal(t, model.SlotScheduled, slots[0].Status)
}
