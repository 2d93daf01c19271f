package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"autoassign/internal/model"

	"github.com/google/uuid"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu       sync.Mutex
	orders   map[string]*memOrder                 // id -> order
	orderIDs []string                             // insertion order
	drivers  []model.Driver                       // roster order
	blocks   map[string][]model.AvailabilityBlock // driverId -> blocks
	slots    map[string][]model.BookedSlot        // driverId -> booked slots
}

// memOrder augments the order record with the fields written on commit
type memOrder struct {
	model.OrderRecord
	DriverID        string
	DurationMinutes int
	EndAt           *time.Time
}

func NewMemory() *Memory {
	return &Memory{
		orders: map[string]*memOrder{},
		blocks: map[string][]model.AvailabilityBlock{},
		slots:  map[string][]model.BookedSlot{},
	}
}

// AddOrder seeds an order. Status defaults to unassigned.
func (m *Memory) AddOrder(rec model.OrderRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Status == "" {
		rec.Status = model.OrderUnassigned
	}
	if _, ok := m.orders[rec.ID]; !ok {
		m.orderIDs = append(m.orderIDs, rec.ID)
	}
	m.orders[rec.ID] = &memOrder{OrderRecord: rec}
}

func (m *Memory) AddDriver(d model.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers = append(m.drivers, d)
}

func (m *Memory) AddAvailability(b model.AvailabilityBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	m.blocks[b.DriverID] = append(m.blocks[b.DriverID], b)
}

func (m *Memory) AddBookedSlot(s model.BookedSlot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Status == "" {
		s.Status = model.SlotScheduled
	}
	m.slots[s.DriverID] = append(m.slots[s.DriverID], s)
}

// Order returns the current state of an order, as committed.
func (m *Memory) Order(id string) (model.OrderRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.OrderRecord{}, "", ErrNotFound
	}
	return o.OrderRecord, o.DriverID, nil
}

// BookedSlots returns every booked slot of a driver sorted by start.
func (m *Memory) BookedSlots(driverID string) []model.BookedSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]model.BookedSlot(nil), m.slots[driverID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (m *Memory) ListUnassignedOrders(ctx context.Context) ([]model.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.OrderRecord{}
	for _, id := range m.orderIDs {
		o := m.orders[id]
		if o.Status == model.OrderUnassigned {
			out = append(out, o.OrderRecord)
		}
	}
	return out, nil
}

func (m *Memory) ListActiveDrivers(ctx context.Context) ([]model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Driver(nil), m.drivers...), nil
}

func (m *Memory) ListAvailability(ctx context.Context, driverID string, from, to time.Time) ([]model.AvailabilityBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AvailabilityBlock
	for _, b := range m.blocks[driverID] {
		if b.Start.Before(to) && from.Before(b.End) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *Memory) ListBookedSlots(ctx context.Context, driverID string, from, to time.Time) ([]model.BookedSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BookedSlot
	for _, s := range m.slots[driverID] {
		if s.Status == model.SlotCancelled {
			continue
		}
		if s.Start.Before(to) && from.Before(s.End) {
			out = append(out, s)
		}
	}
	return out, nil
}

// CommitAssignment applies the order update and slot insert under one lock.
func (m *Memory) CommitAssignment(ctx context.Context, a model.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[a.OrderID]
	if !ok {
		return fmt.Errorf("order %s: %w", a.OrderID, ErrNotFound)
	}
	if o.Status != model.OrderUnassigned {
		return fmt.Errorf("order %s: %w", a.OrderID, ErrConflict)
	}
	start, end := a.Start.UTC(), a.End.UTC()
	o.DriverID = a.DriverID
	o.PickupAt = &start
	o.EndAt = &end
	o.DurationMinutes = int(a.Duration() / time.Minute)
	o.Status = model.OrderAssigned
	m.slots[a.DriverID] = append(m.slots[a.DriverID], model.BookedSlot{
		ID: uuid.New().String(), DriverID: a.DriverID, AvailabilityBlockID: a.AvailabilityBlockID,
		OrderID: a.OrderID, Start: start, End: end, Status: model.SlotScheduled,
	})
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
