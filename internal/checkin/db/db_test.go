package db_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-checkin/internal/checkin/db"
	"ms-checkin/internal/models"
)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	t.Helper()

	// Each test gets its own named in-memory database shared by the pool's connections.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	if err := db.CreateSchema(context.Background(), bunDB); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	t.Cleanup(func() { bunDB.Close() })

	return &db.DB{Bun: bunDB}, bunDB
}

func seedTicket(t *testing.T, bunDB *bun.DB, code string, status models.TicketStatus) *models.Ticket {
	t.Helper()
	ctx := context.Background()

	venue := &models.Venue{ID: "V1", Name: "Main Hall", Capacity: 500}
	_, err := bunDB.NewInsert().Model(venue).On("CONFLICT DO NOTHING").Exec(ctx)
	require.NoError(t, err)

	event := &models.Event{ID: "E1", Name: "Concert", VenueID: "V1", EventDate: time.Now().Add(24 * time.Hour), IsActive: true}
	_, err = bunDB.NewInsert().Model(event).On("CONFLICT DO NOTHING").Exec(ctx)
	require.NoError(t, err)

	booking := &models.Booking{ID: "B-" + code, EventID: "E1", Status: models.BookingStatusConfirmed}
	_, err = bunDB.NewInsert().Model(booking).Exec(ctx)
	require.NoError(t, err)

	ticket := &models.Ticket{ID: uuid.NewString(), Code: code, BookingID: booking.ID, EventID: "E1", Status: status}
	_, err = bunDB.NewInsert().Model(ticket).Exec(ctx)
	require.NoError(t, err)
	return ticket
}

func validRecord(ticketID, checkerID string, at time.Time) *models.AttendanceRecord {
	return &models.AttendanceRecord{
		ID:        uuid.NewString(),
		TicketID:  ticketID,
		EventID:   "E1",
		VenueID:   "V1",
		CheckerID: checkerID,
		Status:    models.ScanStatusValid,
		ScannedAt: at,
	}
}

func TestGetTicketByCode(t *testing.T) {
	ticketDB, bunDB := setupTestDB(t)
	ctx := context.Background()
	seeded := seedTicket(t, bunDB, "TKT-1", models.TicketStatusValid)

	ticket, err := ticketDB.GetTicketByCode(ctx, "TKT-1")
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, seeded.ID, ticket.ID)
	assert.Equal(t, models.TicketStatusValid, ticket.Status)

	// Unknown codes are not errors
	ticket, err = ticketDB.GetTicketByCode(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, ticket)
}

func TestGetEventLoadsVenue(t *testing.T) {
	ticketDB, bunDB := setupTestDB(t)
	ctx := context.Background()
	seedTicket(t, bunDB, "TKT-1", models.TicketStatusValid)

	event, err := ticketDB.GetEvent(ctx, "E1")
	require.NoError(t, err)
	require.NotNil(t, event)
	require.NotNil(t, event.Venue)
	assert.Equal(t, 500, event.Venue.Capacity)

	missing, err := ticketDB.GetEvent(ctx, "E404")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIsAssigned(t *testing.T) {
	ticketDB, bunDB := setupTestDB(t)
	ctx := context.Background()

	assignments := []models.Assignment{
		{ID: "a1", CheckerID: "op-1", VenueID: "V1", EventID: "E1", IsActive: true},
		{ID: "a2", CheckerID: "op-2", VenueID: "V1", EventID: "E1", IsActive: false},
	}
	_, err := bunDB.NewInsert().Model(&assignments).Exec(ctx)
	require.NoError(t, err)

	ok, err := ticketDB.IsAssigned(ctx, "op-1", "E1", "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ticketDB.IsAssigned(ctx, "op-1", "E1", "V1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ticketDB.IsAssigned(ctx, "op-1", "E1", "V2")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deactivated assignments do not count
	ok, err = ticketDB.IsAssigned(ctx, "op-2", "E1", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdmitTicket(t *testing.T) {
	ticketDB, bunDB := setupTestDB(t)
	ctx := context.Background()
	ticket := seedTicket(t, bunDB, "TKT-1", models.TicketStatusValid)
	now := time.Now().UTC().Truncate(time.Second)

	err := ticketDB.AdmitTicket(ctx, ticket.ID, "op-1", now, validRecord(ticket.ID, "op-1", now))
	require.NoError(t, err)

	stored, err := ticketDB.GetTicketByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusUsed, stored.Status)
	assert.Equal(t, "op-1", stored.UsedBy)
	require.NotNil(t, stored.UsedAt)
	assert.True(t, now.Equal(*stored.UsedAt))

	// Second admission loses the race and leaves no extra ledger row
	err = ticketDB.AdmitTicket(ctx, ticket.ID, "op-2", now, validRecord(ticket.ID, "op-2", now))
	assert.ErrorIs(t, err, db.ErrTicketRaced)

	count, err := ticketDB.CountValidAttendance(ctx, "E1", "V1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	latest, err := ticketDB.LatestValidAttendance(ctx, ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "op-1", latest.CheckerID)
}

func TestAdmitTicket_ConcurrentScansAdmitOnce(t *testing.T) {
	ticketDB, bunDB := setupTestDB(t)
	ctx := context.Background()
	ticket := seedTicket(t, bunDB, "TKT-RACE", models.TicketStatusValid)

	const numGoroutines = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted, raced := 0, 0

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			checker := fmt.Sprintf("op-%d", n)
			now := time.Now().UTC()
			err := ticketDB.AdmitTicket(ctx, ticket.ID, checker, now, validRecord(ticket.ID, checker, now))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case assert.ErrorIs(t, err, db.ErrTicketRaced):
				raced++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	assert.Equal(t, numGoroutines-1, raced)

	count, err := ticketDB.CountValidAttendance(ctx, "E1", "V1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAdmitTicket_CancelledTicketIsNotAdmitted(t *testing.T) {
	ticketDB, bunDB := setupTestDB(t)
	ctx := context.Background()
	ticket := seedTicket(t, bunDB, "TKT-C", models.TicketStatusCancelled)
	now := time.Now().UTC()

	err := ticketDB.AdmitTicket(ctx, ticket.ID, "op-1", now, validRecord(ticket.ID, "op-1", now))
	assert.ErrorIs(t, err, db.ErrTicketRaced)

	stored, err := ticketDB.GetTicketByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusCancelled, stored.Status)
}

func TestScanHistoryNewestFirstAndBounded(t *testing.T) {
	ticketDB, _ := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		record := &models.AttendanceRecord{
			ID:        uuid.NewString(),
			TicketID:  fmt.Sprintf("t-%d", i),
			EventID:   "E1",
			VenueID:   "V1",
			CheckerID: "op-1",
			Status:    models.ScanStatusAlreadyUsed,
			ScannedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, ticketDB.AppendAttendance(ctx, record))
	}
	require.NoError(t, ticketDB.AppendAttendance(ctx, &models.AttendanceRecord{
		ID: uuid.NewString(), TicketID: "other", EventID: "E2", VenueID: "V1",
		CheckerID: "op-1", Status: models.ScanStatusInvalid, ScannedAt: base.Add(time.Hour),
	}))

	history, err := ticketDB.ScanHistory(ctx, "op-1", "E1", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "t-4", history[0].TicketID)
	assert.Equal(t, "t-2", history[2].TicketID)

	all, err := ticketDB.ScanHistory(ctx, "op-1", "", 100)
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Equal(t, "E2", all[0].EventID)

	none, err := ticketDB.ScanHistory(ctx, "op-9", "", 100)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestScanStats(t *testing.T) {
	ticketDB, _ := setupTestDB(t)
	ctx := context.Background()

	empty, err := ticketDB.ScanStats(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalScans)
	assert.Zero(t, empty.SuccessRate)

	statuses := []models.ScanStatus{models.ScanStatusValid, models.ScanStatusValid, models.ScanStatusValid, models.ScanStatusAlreadyUsed}
	for i, status := range statuses {
		require.NoError(t, ticketDB.AppendAttendance(ctx, &models.AttendanceRecord{
			ID: uuid.NewString(), TicketID: fmt.Sprintf("t-%d", i), EventID: "E1", VenueID: "V1",
			CheckerID: "op-1", Status: status, ScannedAt: time.Now().UTC(),
		}))
	}

	stats, err := ticketDB.ScanStats(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalScans)
	assert.Equal(t, 3, stats.ValidScans)
	assert.Equal(t, 1, stats.RejectedScans)
	assert.InDelta(t, 75.0, stats.SuccessRate, 0.001)
}

func TestCountTicketsByStatus(t *testing.T) {
	ticketDB, bunDB := setupTestDB(t)
	ctx := context.Background()
	seedTicket(t, bunDB, "TKT-1", models.TicketStatusValid)
	seedTicket(t, bunDB, "TKT-2", models.TicketStatusValid)
	seedTicket(t, bunDB, "TKT-3", models.TicketStatusUsed)
	seedTicket(t, bunDB, "TKT-4", models.TicketStatusCancelled)

	count, err := ticketDB.CountTicketsByStatus(ctx, "E1", models.TicketStatusValid)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
