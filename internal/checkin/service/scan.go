package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-checkin/internal/checkin/db"
	"ms-checkin/internal/checkin/idempotency"
	"ms-checkin/internal/metrics"
	"ms-checkin/internal/models"
)

// ScanOutcome is what a scan returns to the gate. Body is the exact JSON that was
// stored for the idempotency token, so replays are byte-identical.
type ScanOutcome struct {
	Result   *models.ScanResult
	Body     []byte
	Replayed bool
}

// Scan validates one ticket presentation at most once per (operator, token). The token
// is checked before anything else is read. Domain rejections are results, errors are
// infrastructure failures and are never cached.
func (s *CheckinService) Scan(ctx context.Context, operatorID, token string, req models.ScanRequest) (*ScanOutcome, error) {
	body, replayed, err := s.Idempotency.Execute(ctx, operatorID, token, func(ctx context.Context) ([]byte, error) {
		result, err := s.Evaluate(ctx, operatorID, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})
	if err != nil {
		return nil, err
	}
	return s.scanOutcome(operatorID, body, replayed)
}

// StoredScan returns the result already stored for (operator, token), or nil when the
// token has not completed a scan yet. Callers use it to answer retries before the new
// request body is even read.
func (s *CheckinService) StoredScan(ctx context.Context, operatorID, token string) (*ScanOutcome, error) {
	if err := idempotency.ValidateToken(token); err != nil {
		return nil, err
	}
	body, ok, err := s.Idempotency.Lookup(ctx, operatorID, token)
	if err != nil || !ok {
		return nil, err
	}
	return s.scanOutcome(operatorID, body, true)
}

func (s *CheckinService) scanOutcome(operatorID string, body []byte, replayed bool) (*ScanOutcome, error) {
	var result models.ScanResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode stored scan result: %w", err)
	}
	if replayed {
		metrics.IdempotentReplaysTotal.Inc()
		s.Logger.Debug("SCAN", fmt.Sprintf("Replayed %s for operator %s", result.Status, operatorID))
	}
	return &ScanOutcome{Result: &result, Body: body, Replayed: replayed}, nil
}

// scanContext carries what the pipeline has resolved so far.
type scanContext struct {
	operatorID string
	req        models.ScanRequest
	now        time.Time
	ticket     *models.Ticket
	event      *models.Event
	booking    *models.Booking
}

// ledgerVenue is the venue a rejection is recorded against.
func (sc *scanContext) ledgerVenue() string {
	if sc.event != nil {
		return sc.event.VenueID
	}
	return sc.req.VenueID
}

// Evaluate runs the validation pipeline without idempotency. Checks run in a fixed
// order and the first failing one decides the outcome.
func (s *CheckinService) Evaluate(ctx context.Context, operatorID string, req models.ScanRequest) (*models.ScanResult, error) {
	start := time.Now()
	defer func() { metrics.ScanDuration.Observe(time.Since(start).Seconds()) }()

	sc := &scanContext{operatorID: operatorID, req: req, now: s.Clock.Now()}

	result, err := s.evaluate(ctx, sc)
	if err != nil {
		s.Logger.Error("SCAN", fmt.Sprintf("Scan of %s by %s failed: %v", req.TicketCode, operatorID, err))
		return nil, err
	}

	metrics.ScansTotal.WithLabelValues(string(result.Status)).Inc()
	s.Logger.LogScan(string(result.Status), req.TicketCode, operatorID, result.Message)
	s.recordAudit(ctx, sc, result)
	return result, nil
}

func (s *CheckinService) evaluate(ctx context.Context, sc *scanContext) (*models.ScanResult, error) {
	var err error

	// 1. Unknown codes are not attendance events.
	sc.ticket, err = s.DB.GetTicketByCode(ctx, sc.req.TicketCode)
	if err != nil {
		return nil, err
	}
	if sc.ticket == nil {
		return s.outcome(sc, models.ScanStatusInvalid, "Ticket not found"), nil
	}

	// 2.
	if sc.ticket.EventID != sc.req.EventID {
		return s.outcome(sc, models.ScanStatusInvalid, "Ticket is not valid for this event"), nil
	}

	// 3.
	sc.event, err = s.DB.GetEvent(ctx, sc.ticket.EventID)
	if err != nil {
		return nil, err
	}
	if reason := s.eventClosedReason(sc.event, sc.now); reason != "" {
		return s.recordOutcome(ctx, sc, models.ScanStatusEventClosed, reason, sc.ledgerVenue())
	}

	// 4. Event-level authorization.
	ok, err := s.Authorizer.IsAuthorized(ctx, sc.operatorID, sc.event.ID, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.outcome(sc, models.ScanStatusNotAssigned, "You are not assigned to check in tickets for this event"), nil
	}

	// 5. Venue, then venue-level authorization.
	if sc.req.VenueID != "" {
		if sc.req.VenueID != sc.event.VenueID {
			return s.recordOutcome(ctx, sc, models.ScanStatusWrongVenue, "Ticket is for a different venue", sc.req.VenueID)
		}
		ok, err := s.Authorizer.IsAuthorized(ctx, sc.operatorID, sc.event.ID, sc.req.VenueID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return s.outcome(sc, models.ScanStatusNotAssigned, "You are not assigned to check in tickets at this venue"), nil
		}
	}

	// 6.
	sc.booking, err = s.DB.GetBooking(ctx, sc.ticket.BookingID)
	if err != nil {
		return nil, err
	}
	if sc.booking == nil || sc.booking.Status != models.BookingStatusConfirmed {
		return s.recordOutcome(ctx, sc, models.ScanStatusBookingCancelled, "Booking is not confirmed", sc.ledgerVenue())
	}

	// 7-9, repeated if another scan transitions the ticket under us.
	for attempt := 1; attempt <= maxAdmissionAttempts; attempt++ {
		result, err := s.evaluateTicketState(ctx, sc)
		if !errors.Is(err, db.ErrTicketRaced) {
			return result, err
		}

		metrics.AdmissionRacesTotal.Inc()
		s.Logger.Debug("SCAN", fmt.Sprintf("Ticket %s changed during admission, re-evaluating", sc.ticket.Code))
		sc.ticket, err = s.DB.GetTicketByID(ctx, sc.ticket.ID)
		if err != nil {
			return nil, err
		}
		if sc.ticket == nil {
			return nil, fmt.Errorf("ticket %s disappeared during admission", sc.req.TicketCode)
		}
	}
	return nil, fmt.Errorf("ticket %s: admission did not settle after %d attempts", sc.req.TicketCode, maxAdmissionAttempts)
}

func (s *CheckinService) eventClosedReason(event *models.Event, now time.Time) string {
	switch {
	case event == nil:
		return "Event not found"
	case !event.IsActive:
		return "Event is not active"
	case event.IsCancelled:
		return "Event has been cancelled"
	case now.After(event.AdmissionClosesAt(s.AdmissionGrace)):
		return fmt.Sprintf("Admission closed at %s", event.AdmissionClosesAt(s.AdmissionGrace).Format(time.RFC3339))
	}
	return ""
}

func (s *CheckinService) evaluateTicketState(ctx context.Context, sc *scanContext) (*models.ScanResult, error) {
	switch sc.ticket.Status {
	case models.TicketStatusCancelled:
		return s.recordOutcome(ctx, sc, models.ScanStatusCancelled, "Ticket has been cancelled", sc.ledgerVenue())

	case models.TicketStatusUsed:
		prior, err := s.DB.LatestValidAttendance(ctx, sc.ticket.ID)
		if err != nil {
			return nil, err
		}
		message := "Ticket has already been used"
		if prior != nil {
			message = fmt.Sprintf("Ticket already used at %s", prior.ScannedAt.UTC().Format(time.RFC3339))
		}
		return s.recordOutcome(ctx, sc, models.ScanStatusAlreadyUsed, message, sc.ledgerVenue())

	case models.TicketStatusExpired:
		return s.recordOutcome(ctx, sc, models.ScanStatusInvalid, "Ticket has expired", sc.ledgerVenue())

	case models.TicketStatusValid:
		return s.admit(ctx, sc)
	}
	return s.recordOutcome(ctx, sc, models.ScanStatusInvalid, fmt.Sprintf("Ticket has unknown status %q", sc.ticket.Status), sc.ledgerVenue())
}

func (s *CheckinService) admit(ctx context.Context, sc *scanContext) (*models.ScanResult, error) {
	record := s.newRecord(sc, models.ScanStatusValid, sc.event.VenueID)
	if err := s.DB.AdmitTicket(ctx, sc.ticket.ID, sc.operatorID, sc.now, record); err != nil {
		return nil, err
	}

	admitted := *sc.ticket
	admitted.Status = models.TicketStatusUsed
	admitted.UsedAt = &sc.now
	admitted.UsedBy = sc.operatorID
	sc.ticket = &admitted

	s.broadcastAdmission(ctx, sc, record)

	result := s.outcome(sc, models.ScanStatusValid, "Ticket admitted")
	result.Attendance = record
	return result, nil
}

// outcome builds a result without touching the ledger.
func (s *CheckinService) outcome(sc *scanContext, status models.ScanStatus, message string) *models.ScanResult {
	return &models.ScanResult{
		Status:    status,
		Message:   message,
		Ticket:    models.NewTicketSnapshot(sc.ticket),
		Booking:   models.NewBookingSnapshot(sc.booking),
		ScannedAt: sc.now,
	}
}

// recordOutcome appends the outcome to the attendance ledger. A failed write fails the
// scan so that nothing is cached for the token.
func (s *CheckinService) recordOutcome(ctx context.Context, sc *scanContext, status models.ScanStatus, message, venueID string) (*models.ScanResult, error) {
	record := s.newRecord(sc, status, venueID)
	if err := s.DB.AppendAttendance(ctx, record); err != nil {
		return nil, err
	}
	result := s.outcome(sc, status, message)
	result.Attendance = record
	return result, nil
}

func (s *CheckinService) newRecord(sc *scanContext, status models.ScanStatus, venueID string) *models.AttendanceRecord {
	return &models.AttendanceRecord{
		ID:        uuid.NewString(),
		TicketID:  sc.ticket.ID,
		EventID:   sc.ticket.EventID,
		VenueID:   venueID,
		CheckerID: sc.operatorID,
		Status:    status,
		SectorID:  sc.req.SectorID,
		Notes:     sc.req.Notes,
		ScannedAt: sc.now,
	}
}

// broadcastAdmission announces the new occupancy after the admission committed.
// Failures are logged and counted only.
func (s *CheckinService) broadcastAdmission(ctx context.Context, sc *scanContext, record *models.AttendanceRecord) {
	if s.Publisher == nil {
		return
	}

	update, err := s.occupancyUpdate(ctx, sc.event, record, sc.ticket.Code)
	if err == nil {
		err = s.Publisher.Publish(ctx, update)
	}
	if err != nil {
		metrics.BroadcastFailuresTotal.Inc()
		s.Logger.Warn("OCCUPANCY", fmt.Sprintf("Occupancy broadcast for %s/%s failed: %v", record.EventID, record.VenueID, err))
		return
	}
	s.Logger.LogBroadcast(update.EventID, update.VenueID, fmt.Sprintf("occupancy %d/%d", update.CurrentOccupancy, update.Capacity))
}

func (s *CheckinService) occupancyUpdate(ctx context.Context, event *models.Event, record *models.AttendanceRecord, ticketCode string) (models.OccupancyUpdate, error) {
	current, err := s.DB.CountValidAttendance(ctx, event.ID, event.VenueID)
	if err != nil {
		return models.OccupancyUpdate{}, err
	}
	capacity, err := s.venueCapacity(ctx, event)
	if err != nil {
		return models.OccupancyUpdate{}, err
	}

	return models.OccupancyUpdate{
		EventID:             event.ID,
		VenueID:             event.VenueID,
		CurrentOccupancy:    current,
		Capacity:            capacity,
		OccupancyPercentage: models.OccupancyPercentage(current, capacity),
		TicketScanned: models.ScannedTicket{
			TicketID:   record.TicketID,
			TicketCode: ticketCode,
			CheckerID:  record.CheckerID,
			ScanStatus: record.Status,
			ScannedAt:  record.ScannedAt,
		},
		Timestamp: s.Clock.Now(),
	}, nil
}

func (s *CheckinService) venueCapacity(ctx context.Context, event *models.Event) (int, error) {
	if event.Venue != nil {
		return event.Venue.Capacity, nil
	}
	venue, err := s.DB.GetVenue(ctx, event.VenueID)
	if err != nil {
		return 0, err
	}
	if venue == nil {
		return 0, ErrVenueNotFound
	}
	return venue.Capacity, nil
}

func (s *CheckinService) recordAudit(ctx context.Context, sc *scanContext, result *models.ScanResult) {
	if s.Audit == nil {
		return
	}
	venueID := sc.req.VenueID
	if venueID == "" && sc.event != nil {
		venueID = sc.event.VenueID
	}
	s.Audit.Record(ctx, models.SecurityAuditEntry{
		EventType:  models.AuditEventFor(result.Status),
		OperatorID: sc.operatorID,
		EventID:    sc.req.EventID,
		VenueID:    venueID,
		TicketCode: sc.req.TicketCode,
		ScanStatus: result.Status,
		Message:    result.Message,
		OccurredAt: sc.now,
	})
}
