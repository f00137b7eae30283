package models

import (
	"time"

	"github.com/uptrace/bun"
)

// ScanStatus is the terminal outcome of one scan.
type ScanStatus string

const (
	ScanStatusValid            ScanStatus = "VALID"
	ScanStatusAlreadyUsed      ScanStatus = "ALREADY_USED"
	ScanStatusInvalid          ScanStatus = "INVALID"
	ScanStatusEventClosed      ScanStatus = "EVENT_CLOSED"
	ScanStatusNotAssigned      ScanStatus = "NOT_ASSIGNED"
	ScanStatusWrongVenue       ScanStatus = "WRONG_VENUE"
	ScanStatusWrongSector      ScanStatus = "WRONG_SECTOR" // reserved
	ScanStatusCancelled        ScanStatus = "CANCELLED"
	ScanStatusBookingCancelled ScanStatus = "BOOKING_CANCELLED"
)

// ScanStatuses lists every status in a stable order.
var ScanStatuses = []ScanStatus{
	ScanStatusValid,
	ScanStatusAlreadyUsed,
	ScanStatusInvalid,
	ScanStatusEventClosed,
	ScanStatusNotAssigned,
	ScanStatusWrongVenue,
	ScanStatusWrongSector,
	ScanStatusCancelled,
	ScanStatusBookingCancelled,
}

// AttendanceRecord is one row of the append-only attendance ledger.
type AttendanceRecord struct {
	bun.BaseModel `bun:"table:attendance_records"`

	ID        string     `bun:"id,pk" json:"id"`
	TicketID  string     `bun:"ticket_id,notnull" json:"ticket_id"`
	EventID   string     `bun:"event_id,notnull" json:"event_id"`
	VenueID   string     `bun:"venue_id" json:"venue_id"`
	CheckerID string     `bun:"checker_id,notnull" json:"checker_id"`
	Status    ScanStatus `bun:"status,notnull" json:"status"`
	SectorID  string     `bun:"sector_id,nullzero" json:"sector_id,omitempty"`
	Notes     string     `bun:"notes" json:"notes,omitempty"`
	ScannedAt time.Time  `bun:"scanned_at,notnull" json:"scanned_at"`
}

// ScanStats aggregates ledger rows for an event.
type ScanStats struct {
	EventID       string  `json:"event_id"`
	TotalScans    int     `json:"total_scans"`
	ValidScans    int     `json:"valid_scans"`
	RejectedScans int     `json:"rejected_scans"`
	SuccessRate   float64 `json:"success_rate"`
}
