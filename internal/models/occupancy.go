package models

import "time"

type ScannedTicket struct {
	TicketID   string     `json:"ticket_id"`
	TicketCode string     `json:"ticket_code"`
	CheckerID  string     `json:"checker_id"`
	ScanStatus ScanStatus `json:"scan_status"`
	ScannedAt  time.Time  `json:"scanned_at"`
}

// OccupancyUpdate is pushed to live subscribers after every admission.
type OccupancyUpdate struct {
	EventID             string        `json:"event_id"`
	VenueID             string        `json:"venue_id"`
	CurrentOccupancy    int           `json:"current_occupancy"`
	Capacity            int           `json:"capacity"`
	OccupancyPercentage float64       `json:"occupancy_percentage"`
	TicketScanned       ScannedTicket `json:"ticket_scanned"`
	Timestamp           time.Time     `json:"timestamp"`
}

type OccupancySnapshot struct {
	EventID             string    `json:"event_id"`
	VenueID             string    `json:"venue_id"`
	CurrentOccupancy    int       `json:"current_occupancy"`
	Capacity            int       `json:"capacity"`
	OccupancyPercentage float64   `json:"occupancy_percentage"`
	TicketsSold         int       `json:"tickets_sold"`
	AttendanceRate      float64   `json:"attendance_rate"`
	AvailableSpaces     int       `json:"available_spaces"`
	Timestamp           time.Time `json:"timestamp"`
}

// OccupancyPercentage returns current/capacity as a percentage, 0 when capacity is unknown.
func OccupancyPercentage(current, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return float64(current) / float64(capacity) * 100
}
