package db

import (
	"context"
	"fmt"

	"ms-checkin/internal/models"
)

// AppendAttendance inserts a ledger row for a rejected scan. Admissions go through
// AdmitTicket so the row shares the ticket update's transaction.
func (d *DB) AppendAttendance(ctx context.Context, record *models.AttendanceRecord) error {
	if _, err := d.Bun.NewInsert().Model(record).Exec(ctx); err != nil {
		return fmt.Errorf("append attendance: %w", err)
	}
	return nil
}

// CountValidAttendance is the admitted head count for an event at a venue.
func (d *DB) CountValidAttendance(ctx context.Context, eventID, venueID string) (int, error) {
	count, err := d.Bun.NewSelect().
		Model((*models.AttendanceRecord)(nil)).
		Where("event_id = ?", eventID).
		Where("venue_id = ?", venueID).
		Where("status = ?", models.ScanStatusValid).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count valid attendance: %w", err)
	}
	return count, nil
}

// LatestValidAttendance returns the admission row for a ticket, or nil.
func (d *DB) LatestValidAttendance(ctx context.Context, ticketID string) (*models.AttendanceRecord, error) {
	var record models.AttendanceRecord
	err := d.Bun.NewSelect().
		Model(&record).
		Where("ticket_id = ?", ticketID).
		Where("status = ?", models.ScanStatusValid).
		Order("scanned_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundAsNil("attendance", err)
	}
	return &record, nil
}

// ScanHistory returns a checker's most recent scans, newest first.
func (d *DB) ScanHistory(ctx context.Context, checkerID, eventID string, limit int) ([]models.AttendanceRecord, error) {
	records := []models.AttendanceRecord{}
	q := d.Bun.NewSelect().
		Model(&records).
		Where("checker_id = ?", checkerID)
	if eventID != "" {
		q = q.Where("event_id = ?", eventID)
	}
	err := q.Order("scanned_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return records, nil
}

// ScanStats aggregates every ledger row recorded for the event.
func (d *DB) ScanStats(ctx context.Context, eventID string) (models.ScanStats, error) {
	var total, valid int
	err := d.Bun.NewRaw(
		"SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) FROM attendance_records WHERE event_id = ?",
		models.ScanStatusValid, eventID).
		Scan(ctx, &total, &valid)
	if err != nil {
		return models.ScanStats{}, fmt.Errorf("scan stats: %w", err)
	}

	stats := models.ScanStats{
		EventID:       eventID,
		TotalScans:    total,
		ValidScans:    valid,
		RejectedScans: total - valid,
	}
	if total > 0 {
		stats.SuccessRate = float64(valid) / float64(total) * 100
	}
	return stats, nil
}
