package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-checkin/internal/checkin/db"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
)

func TestSeedData(t *testing.T) {
	ctx := context.Background()
	sqldb, err := sql.Open(sqliteshim.ShimName, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	defer bunDB.Close()
	require.NoError(t, db.CreateSchema(ctx, bunDB))

	opts := defaultSeedOptions()
	opts.Tickets = 3
	opts.Checkers = []string{"op-1", "op-2"}
	now := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

	summary, err := seedData(ctx, bunDB, opts, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"TKT-event001-0001", "TKT-event001-0002", "TKT-event001-0003"}, summary.TicketCodes)

	store := &db.DB{Bun: bunDB}
	ticket, err := store.GetTicketByCode(ctx, "TKT-event001-0002")
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, models.TicketStatusValid, ticket.Status)

	booking, err := store.GetBooking(ctx, ticket.BookingID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, booking.Status)

	ok, err := store.IsAssigned(ctx, "op-2", "event001", "venue001")
	require.NoError(t, err)
	assert.True(t, ok)

	// Seeding twice fails as a unit
	_, err = seedData(ctx, bunDB, opts, now)
	assert.Error(t, err)
	count, err := store.CountTicketsByStatus(ctx, "event001", models.TicketStatusValid)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

type recordingMigrator struct {
	calls []string
	upErr error
}

func (m *recordingMigrator) MigrateUp() error {
	m.calls = append(m.calls, "up")
	return m.upErr
}

func (m *recordingMigrator) MigrateDown() error {
	m.calls = append(m.calls, "down")
	return nil
}

func (m *recordingMigrator) MigrateTo(version uint) error {
	m.calls = append(m.calls, fmt.Sprintf("to:%d", version))
	return nil
}

func TestPrepareSchema(t *testing.T) {
	tests := []struct {
		name     string
		reset    bool
		to       uint
		wantSeed bool
		want     []string
	}{
		{name: "latest", wantSeed: true, want: []string{"up"}},
		{name: "reset then latest", reset: true, wantSeed: true, want: []string{"down", "up"}},
		{name: "pinned version", to: 1, want: []string{"to:1"}},
		{name: "reset then pinned", reset: true, to: 1, want: []string{"down", "to:1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			m := &recordingMigrator{}

			seed, err := prepareSchema(m, tt.reset, tt.to, logger.NewLoggerWithWriter(&buf))

			require.NoError(t, err)
			assert.Equal(t, tt.wantSeed, seed)
			assert.Equal(t, tt.want, m.calls)
			assert.Contains(t, buf.String(), `"category":"DATABASE"`)
			assert.Contains(t, buf.String(), "[MIGRATE] schema")
		})
	}
}

func TestPrepareSchema_StopsOnFailure(t *testing.T) {
	m := &recordingMigrator{upErr: errors.New("dirty database")}

	seed, err := prepareSchema(m, false, 0, logger.Discard())

	assert.Error(t, err)
	assert.False(t, seed)
}
