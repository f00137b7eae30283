package db

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-checkin/internal/models"
)

var schemaModels = []interface{}{
	(*models.Venue)(nil),
	(*models.Event)(nil),
	(*models.Booking)(nil),
	(*models.Ticket)(nil),
	(*models.Assignment)(nil),
	(*models.AttendanceRecord)(nil),
}

var schemaIndexes = []string{
	"CREATE UNIQUE INDEX IF NOT EXISTS attendance_one_valid_per_ticket ON attendance_records (ticket_id) WHERE status = 'VALID'",
	"CREATE INDEX IF NOT EXISTS attendance_event_venue_status ON attendance_records (event_id, venue_id, status)",
	"CREATE INDEX IF NOT EXISTS attendance_checker_scanned ON attendance_records (checker_id, scanned_at)",
	"CREATE INDEX IF NOT EXISTS tickets_event_status ON tickets (event_id, status)",
}

// CreateSchema builds the tables straight from the bun models. Production databases
// are migrated with internal/database/migrations; this is for SQLite tests and the
// seed tool.
func CreateSchema(ctx context.Context, bunDB *bun.DB) error {
	for _, m := range schemaModels {
		if _, err := bunDB.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	for _, stmt := range schemaIndexes {
		if _, err := bunDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// DropSchema removes every check-in table.
func DropSchema(ctx context.Context, bunDB *bun.DB) error {
	for i := len(schemaModels) - 1; i >= 0; i-- {
		if _, err := bunDB.NewDropTable().Model(schemaModels[i]).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("drop table for %T: %w", schemaModels[i], err)
		}
	}
	return nil
}
