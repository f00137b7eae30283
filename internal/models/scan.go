package models

import "time"

// ScanRequest is what a gate device submits after decoding a ticket.
type ScanRequest struct {
	TicketCode string `json:"ticket_code" validate:"required,max=128"`
	EventID    string `json:"event_id" validate:"required,max=64"`
	VenueID    string `json:"venue_id,omitempty" validate:"omitempty,max=64"`
	SectorID   string `json:"sector_id,omitempty" validate:"omitempty,max=64"`
	Notes      string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

type TicketSnapshot struct {
	ID        string       `json:"id"`
	Code      string       `json:"code"`
	BookingID string       `json:"booking_id"`
	EventID   string       `json:"event_id"`
	Status    TicketStatus `json:"status"`
	UsedAt    *time.Time   `json:"used_at,omitempty"`
	UsedBy    string       `json:"used_by,omitempty"`
}

func NewTicketSnapshot(t *Ticket) *TicketSnapshot {
	if t == nil {
		return nil
	}
	return &TicketSnapshot{
		ID:        t.ID,
		Code:      t.Code,
		BookingID: t.BookingID,
		EventID:   t.EventID,
		Status:    t.Status,
		UsedAt:    t.UsedAt,
		UsedBy:    t.UsedBy,
	}
}

type BookingSnapshot struct {
	ID     string        `json:"id"`
	Status BookingStatus `json:"status"`
}

func NewBookingSnapshot(b *Booking) *BookingSnapshot {
	if b == nil {
		return nil
	}
	return &BookingSnapshot{ID: b.ID, Status: b.Status}
}

// ScanResult is returned for every scan, admitted or rejected, and is what the
// idempotency cache replays.
type ScanResult struct {
	Status     ScanStatus        `json:"status"`
	Message    string            `json:"message"`
	Ticket     *TicketSnapshot   `json:"ticket,omitempty"`
	Booking    *BookingSnapshot  `json:"booking,omitempty"`
	Attendance *AttendanceRecord `json:"attendance,omitempty"`
	ScannedAt  time.Time         `json:"scanned_at"`
}
