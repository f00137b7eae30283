package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Venue struct {
	bun.BaseModel `bun:"table:venues"`

	ID       string `bun:"id,pk" json:"id"`
	Name     string `bun:"name,notnull" json:"name"`
	Capacity int    `bun:"capacity,notnull" json:"capacity"`
}

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID          string    `bun:"id,pk" json:"id"`
	Name        string    `bun:"name,notnull" json:"name"`
	VenueID     string    `bun:"venue_id,notnull" json:"venue_id"`
	EventDate   time.Time `bun:"event_date,notnull" json:"event_date"`
	IsActive    bool      `bun:"is_active,notnull" json:"is_active"`
	IsCancelled bool      `bun:"is_cancelled,notnull" json:"is_cancelled"`

	Venue *Venue `bun:"rel:belongs-to,join:venue_id=id" json:"venue,omitempty"`
}

// AdmissionClosesAt returns the last instant a ticket for this event may be admitted.
func (e *Event) AdmissionClosesAt(grace time.Duration) time.Time {
	return e.EventDate.Add(grace)
}

// Assignment grants a checker the right to scan for an event at a venue.
// Rows are deactivated, never deleted.
type Assignment struct {
	bun.BaseModel `bun:"table:checker_assignments"`

	ID        string    `bun:"id,pk" json:"id"`
	CheckerID string    `bun:"checker_id,notnull,unique:checker_venue_event" json:"checker_id"`
	VenueID   string    `bun:"venue_id,notnull,unique:checker_venue_event" json:"venue_id"`
	EventID   string    `bun:"event_id,notnull,unique:checker_venue_event" json:"event_id"`
	IsActive  bool      `bun:"is_active,notnull" json:"is_active"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}
