package models

import "time"

type AuditEventType string

const (
	AuditTicketAdmitted       AuditEventType = "TICKET_ADMITTED"
	AuditTicketReuseAttempt   AuditEventType = "TICKET_REUSE_ATTEMPT"
	AuditTicketInvalid        AuditEventType = "TICKET_INVALID"
	AuditEventClosedScan      AuditEventType = "EVENT_CLOSED_SCAN"
	AuditUnauthorizedScan     AuditEventType = "UNAUTHORIZED_SCAN"
	AuditWrongVenueScan       AuditEventType = "WRONG_VENUE_SCAN"
	AuditWrongSectorScan      AuditEventType = "WRONG_SECTOR_SCAN"
	AuditCancelledTicketScan  AuditEventType = "CANCELLED_TICKET_SCAN"
	AuditCancelledBookingScan AuditEventType = "CANCELLED_BOOKING_SCAN"
	AuditUnknownScanOutcome   AuditEventType = "UNKNOWN_SCAN_OUTCOME"
)

// AuditEventFor maps a scan outcome to the security audit event it produces.
func AuditEventFor(status ScanStatus) AuditEventType {
	switch status {
	case ScanStatusValid:
		return AuditTicketAdmitted
	case ScanStatusAlreadyUsed:
		return AuditTicketReuseAttempt
	case ScanStatusInvalid:
		return AuditTicketInvalid
	case ScanStatusEventClosed:
		return AuditEventClosedScan
	case ScanStatusNotAssigned:
		return AuditUnauthorizedScan
	case ScanStatusWrongVenue:
		return AuditWrongVenueScan
	case ScanStatusWrongSector:
		return AuditWrongSectorScan
	case ScanStatusCancelled:
		return AuditCancelledTicketScan
	case ScanStatusBookingCancelled:
		return AuditCancelledBookingScan
	}
	return AuditUnknownScanOutcome
}

// SecurityAuditEntry is shipped to the external audit log.
type SecurityAuditEntry struct {
	EventType  AuditEventType `json:"event_type"`
	OperatorID string         `json:"operator_id"`
	EventID    string         `json:"event_id"`
	VenueID    string         `json:"venue_id,omitempty"`
	TicketCode string         `json:"ticket_code"`
	ScanStatus ScanStatus     `json:"scan_status"`
	Message    string         `json:"message"`
	OccurredAt time.Time      `json:"occurred_at"`
}
