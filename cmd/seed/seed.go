package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-checkin/internal/models"
)

type seedOptions struct {
	EventID  string
	VenueID  string
	Capacity int
	Tickets  int
	Checkers []string
	StartsIn time.Duration
}

func defaultSeedOptions() seedOptions {
	return seedOptions{
		EventID:  "event001",
		VenueID:  "venue001",
		Capacity: 500,
		Tickets:  10,
		Checkers: []string{"checker001"},
		StartsIn: 2 * time.Hour,
	}
}

type seedSummary struct {
	TicketCodes []string
}

// seedData inserts one venue, one event, a confirmed booking per ticket and an active
// assignment per checker in a single transaction.
func seedData(ctx context.Context, bunDB *bun.DB, opts seedOptions, now time.Time) (*seedSummary, error) {
	summary := &seedSummary{}

	err := bunDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		venue := &models.Venue{ID: opts.VenueID, Name: "Main Arena", Capacity: opts.Capacity}
		if _, err := tx.NewInsert().Model(venue).Exec(ctx); err != nil {
			return fmt.Errorf("insert venue: %w", err)
		}

		event := &models.Event{
			ID:        opts.EventID,
			Name:      "Summer Fest",
			VenueID:   opts.VenueID,
			EventDate: now.Add(opts.StartsIn),
			IsActive:  true,
		}
		if _, err := tx.NewInsert().Model(event).Exec(ctx); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		for i := 1; i <= opts.Tickets; i++ {
			booking := &models.Booking{
				ID:      uuid.NewString(),
				UserID:  fmt.Sprintf("user%03d", i),
				EventID: opts.EventID,
				Status:  models.BookingStatusConfirmed,
			}
			if _, err := tx.NewInsert().Model(booking).Exec(ctx); err != nil {
				return fmt.Errorf("insert booking: %w", err)
			}

			ticket := &models.Ticket{
				ID:        uuid.NewString(),
				Code:      fmt.Sprintf("TKT-%s-%04d", opts.EventID, i),
				BookingID: booking.ID,
				EventID:   opts.EventID,
				OwnerID:   booking.UserID,
				Status:    models.TicketStatusValid,
			}
			if _, err := tx.NewInsert().Model(ticket).Exec(ctx); err != nil {
				return fmt.Errorf("insert ticket: %w", err)
			}
			summary.TicketCodes = append(summary.TicketCodes, ticket.Code)
		}

		for _, checker := range opts.Checkers {
			assignment := &models.Assignment{
				ID:        uuid.NewString(),
				CheckerID: checker,
				VenueID:   opts.VenueID,
				EventID:   opts.EventID,
				IsActive:  true,
			}
			if _, err := tx.NewInsert().Model(assignment).Exec(ctx); err != nil {
				return fmt.Errorf("insert assignment for %s: %w", checker, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}
