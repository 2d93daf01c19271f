package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"autoassign/internal/model"
)

//go:embed schema/*.sql
var schemaFS embed.FS

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies the embedded schema files in name order. Files are idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	names, err := fs.Glob(schemaFS, "schema/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := schemaFS.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

func (p *Postgres) ListUnassignedOrders(ctx context.Context) ([]model.OrderRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, pickup_at, estimated_minutes, status FROM orders WHERE status=$1 ORDER BY pickup_at NULLS LAST, id`, model.OrderUnassigned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.OrderRecord{}
	for rows.Next() {
		var o model.OrderRecord
		var pickup sql.NullTime
		var est sql.NullInt64
		if err := rows.Scan(&o.ID, &pickup, &est, &o.Status); err != nil {
			return nil, err
		}
		if pickup.Valid {
			t := pickup.Time
			o.PickupAt = &t
		}
		if est.Valid {
			o.EstimatedMinutes = int(est.Int64)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Postgres) ListActiveDrivers(ctx context.Context) ([]model.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, name FROM drivers WHERE active ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Driver{}
	for rows.Next() {
		var d model.Driver
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) ListAvailability(ctx context.Context, driverID string, from, to time.Time) ([]model.AvailabilityBlock, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, driver_id::text, start_at, end_at FROM availability_blocks WHERE driver_id=$1 AND start_at < $3 AND end_at > $2 ORDER BY start_at, id`, driverID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AvailabilityBlock
	for rows.Next() {
		var b model.AvailabilityBlock
		if err := rows.Scan(&b.ID, &b.DriverID, &b.Start, &b.End); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) ListBookedSlots(ctx context.Context, driverID string, from, to time.Time) ([]model.BookedSlot, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, driver_id::text, availability_block_id::text, order_id::text, start_at, end_at, status FROM booked_slots WHERE driver_id=$1 AND status <> $2 AND start_at < $4 AND end_at > $3 ORDER BY start_at, id`, driverID, model.SlotCancelled, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.BookedSlot
	for rows.Next() {
		var s model.BookedSlot
		var blockID, orderID sql.NullString
		if err := rows.Scan(&s.ID, &s.DriverID, &blockID, &orderID, &s.Start, &s.End, &s.Status); err != nil {
			return nil, err
		}
		s.AvailabilityBlockID = blockID.String
		s.OrderID = orderID.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// CommitAssignment updates the order and inserts its booked slot in one transaction.
// The update only applies to orders still unassigned, so a concurrent or repeated
// commit fails with ErrConflict instead of double booking.
func (p *Postgres) CommitAssignment(ctx context.Context, a model.Assignment) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE orders SET driver_id=$1, pickup_at=$2, duration_minutes=$3, end_at=$4, status=$5, updated_at=now() WHERE id=$6 AND status=$7`,
		a.DriverID, a.Start.UTC(), int(a.Duration()/time.Minute), a.End.UTC(), model.OrderAssigned, a.OrderID, model.OrderUnassigned)
	if err != nil {
		return fmt.Errorf("update order %s: %w", a.OrderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order %s: %w", a.OrderID, ErrConflict)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO booked_slots (id, driver_id, availability_block_id, order_id, start_at, end_at, status) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		uuid.New(), a.DriverID, nullIfEmpty(a.AvailabilityBlockID), a.OrderID, a.Start.UTC(), a.End.UTC(), model.SlotScheduled)
	if err != nil {
		return fmt.Errorf("insert booked slot for order %s: %w", a.OrderID, err)
	}
	return tx.Commit()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
