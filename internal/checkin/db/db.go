package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"ms-checkin/internal/models"
)

// ErrTicketRaced means the ticket was no longer VALID when the admission update ran.
var ErrTicketRaced = errors.New("ticket is no longer valid for admission")

type DB struct {
	Bun *bun.DB
}

// ---------------- LOOKUPS ----------------
// Lookups return (nil, nil) when the row does not exist.

func (d *DB) GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundAsNil("ticket", err)
	}
	return &ticket, nil
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundAsNil("ticket", err)
	}
	return &ticket, nil
}

// GetEvent loads the event together with its venue.
func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Relation("Venue").
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundAsNil("event", err)
	}
	return &event, nil
}

func (d *DB) GetVenue(ctx context.Context, id string) (*models.Venue, error) {
	var venue models.Venue
	err := d.Bun.NewSelect().
		Model(&venue).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundAsNil("venue", err)
	}
	return &venue, nil
}

func (d *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	err := d.Bun.NewSelect().
		Model(&booking).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundAsNil("booking", err)
	}
	return &booking, nil
}

// IsAssigned reports whether the checker holds an active assignment for the event,
// and for the venue as well when venueID is not empty.
func (d *DB) IsAssigned(ctx context.Context, checkerID, eventID, venueID string) (bool, error) {
	q := d.Bun.NewSelect().
		Model((*models.Assignment)(nil)).
		Where("checker_id = ?", checkerID).
		Where("event_id = ?", eventID).
		Where("is_active = ?", true)
	if venueID != "" {
		q = q.Where("venue_id = ?", venueID)
	}
	exists, err := q.Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check assignment: %w", err)
	}
	return exists, nil
}

// CountTicketsByStatus counts the event's tickets currently in the given status.
func (d *DB) CountTicketsByStatus(ctx context.Context, eventID string, status models.TicketStatus) (int, error) {
	count, err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("event_id = ?", eventID).
		Where("status = ?", status).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}
	return count, nil
}

// ---------------- ADMISSION ----------------

// AdmitTicket flips the ticket from VALID to USED and appends the VALID ledger row in
// one transaction. ErrTicketRaced is returned when another scan got there first.
func (d *DB) AdmitTicket(ctx context.Context, ticketID, checkerID string, usedAt time.Time, record *models.AttendanceRecord) error {
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketStatusUsed).
			Set("used_at = ?", usedAt).
			Set("used_by = ?", checkerID).
			Where("id = ?", ticketID).
			Where("status = ?", models.TicketStatusValid).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("mark ticket used: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark ticket used: %w", err)
		}
		if affected == 0 {
			return ErrTicketRaced
		}

		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return ErrTicketRaced
			}
			return fmt.Errorf("append attendance: %w", err)
		}
		return nil
	})
	return err
}

func notFoundAsNil(entity string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return fmt.Errorf("get %s: %w", entity, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
