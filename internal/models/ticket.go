package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketStatusValid     TicketStatus = "VALID"
	TicketStatusUsed      TicketStatus = "USED"
	TicketStatusCancelled TicketStatus = "CANCELLED"
	TicketStatusExpired   TicketStatus = "EXPIRED"
)

// Ticket is issued by the booking service. The check-in engine only ever moves it
// from VALID to USED.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID        string       `bun:"id,pk" json:"id"`
	Code      string       `bun:"code,unique,notnull" json:"code"`
	BookingID string       `bun:"booking_id,notnull" json:"booking_id"`
	EventID   string       `bun:"event_id,notnull" json:"event_id"`
	OwnerID   string       `bun:"owner_id" json:"owner_id,omitempty"`
	Status    TicketStatus `bun:"status,notnull" json:"status"`
	UsedAt    *time.Time   `bun:"used_at,nullzero" json:"used_at,omitempty"`
	UsedBy    string       `bun:"used_by,nullzero" json:"used_by,omitempty"`
	CreatedAt time.Time    `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusFailed    BookingStatus = "FAILED"
)

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID        string        `bun:"id,pk" json:"id"`
	UserID    string        `bun:"user_id" json:"user_id,omitempty"`
	EventID   string        `bun:"event_id,notnull" json:"event_id"`
	Status    BookingStatus `bun:"status,notnull" json:"status"`
	CreatedAt time.Time     `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}
