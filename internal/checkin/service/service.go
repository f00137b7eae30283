package checkin

import (
	"context"
	"errors"
	"time"

	"ms-checkin/internal/checkin/idempotency"
	"ms-checkin/internal/checkin/occupancy"
	"ms-checkin/internal/clock"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
)

const (
	DefaultAdmissionGrace = 24 * time.Hour
	DefaultHistoryLimit   = 100
	maxAdmissionAttempts  = 3
)

var (
	ErrForbidden     = errors.New("operator is not assigned to this event")
	ErrEventNotFound = errors.New("event not found")
	ErrVenueNotFound = errors.New("venue not found")
)

type CheckinDBLayer interface {
	GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error)
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetVenue(ctx context.Context, id string) (*models.Venue, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	IsAssigned(ctx context.Context, checkerID, eventID, venueID string) (bool, error)
	CountTicketsByStatus(ctx context.Context, eventID string, status models.TicketStatus) (int, error)
	AdmitTicket(ctx context.Context, ticketID, checkerID string, usedAt time.Time, record *models.AttendanceRecord) error
	AppendAttendance(ctx context.Context, record *models.AttendanceRecord) error
	CountValidAttendance(ctx context.Context, eventID, venueID string) (int, error)
	LatestValidAttendance(ctx context.Context, ticketID string) (*models.AttendanceRecord, error)
	ScanHistory(ctx context.Context, checkerID, eventID string, limit int) ([]models.AttendanceRecord, error)
	ScanStats(ctx context.Context, eventID string) (models.ScanStats, error)
}

// AuditRecorder receives one entry per scan outcome. It must not block the scan path.
type AuditRecorder interface {
	Record(ctx context.Context, entry models.SecurityAuditEntry)
}

type CheckinService struct {
	DB          CheckinDBLayer
	Authorizer  *Authorizer
	Idempotency *idempotency.Coordinator
	// Broadcaster serves local subscribers; Publisher is where admissions are announced.
	// They are the same instance unless a cross-instance relay is configured.
	Broadcaster *occupancy.Broadcaster
	Publisher   occupancy.Publisher
	Audit       AuditRecorder
	Clock       clock.Clock
	Logger      *logger.Logger

	AdmissionGrace time.Duration
	HistoryLimit   int
}

func NewCheckinService(db CheckinDBLayer, coordinator *idempotency.Coordinator, broadcaster *occupancy.Broadcaster, audit AuditRecorder, log *logger.Logger) *CheckinService {
	return &CheckinService{
		DB:             db,
		Authorizer:     NewAuthorizer(db),
		Idempotency:    coordinator,
		Broadcaster:    broadcaster,
		Publisher:      broadcaster,
		Audit:          audit,
		Clock:          clock.NewSystem(),
		Logger:         log,
		AdmissionGrace: DefaultAdmissionGrace,
		HistoryLimit:   DefaultHistoryLimit,
	}
}
