package checkin

import (
	"context"

	"ms-checkin/internal/models"
)

// VenueOccupancy reports live attendance for one venue of an event.
func (s *CheckinService) VenueOccupancy(ctx context.Context, eventID, venueID string) (*models.OccupancySnapshot, error) {
	event, err := s.DB.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, ErrEventNotFound
	}
	// Attendance is only recorded against the event's own venue.
	if venueID != event.VenueID {
		return nil, ErrVenueNotFound
	}
	venue, err := s.DB.GetVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	if venue == nil {
		return nil, ErrVenueNotFound
	}

	current, err := s.DB.CountValidAttendance(ctx, eventID, venueID)
	if err != nil {
		return nil, err
	}
	// Tickets still holding VALID status, i.e. sold but not yet admitted.
	sold, err := s.DB.CountTicketsByStatus(ctx, eventID, models.TicketStatusValid)
	if err != nil {
		return nil, err
	}

	snapshot := &models.OccupancySnapshot{
		EventID:             eventID,
		VenueID:             venueID,
		CurrentOccupancy:    current,
		Capacity:            venue.Capacity,
		OccupancyPercentage: models.OccupancyPercentage(current, venue.Capacity),
		TicketsSold:         sold,
		AvailableSpaces:     max(0, venue.Capacity-current),
		Timestamp:           s.Clock.Now(),
	}
	if sold > 0 {
		snapshot.AttendanceRate = float64(current) / float64(sold)
	}
	return snapshot, nil
}

// ScanHistory returns the operator's most recent scans, newest first.
func (s *CheckinService) ScanHistory(ctx context.Context, operatorID, eventID string) ([]models.AttendanceRecord, error) {
	limit := s.HistoryLimit
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	return s.DB.ScanHistory(ctx, operatorID, eventID, limit)
}

// EventStats aggregates every scan recorded for the event. Only operators assigned to
// the event may read it.
func (s *CheckinService) EventStats(ctx context.Context, operatorID, eventID string) (*models.ScanStats, error) {
	ok, err := s.Authorizer.IsAuthorized(ctx, operatorID, eventID, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}

	stats, err := s.DB.ScanStats(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// Subscribe streams occupancy updates for eventID until ctx is done.
func (s *CheckinService) Subscribe(ctx context.Context, eventID string) <-chan models.OccupancyUpdate {
	return s.Broadcaster.Subscribe(ctx, eventID)
}
