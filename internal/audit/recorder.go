package audit

import (
	"context"
	"fmt"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// LogRecorder writes audit entries to the SECURITY log category.
type LogRecorder struct {
	Logger *logger.Logger
}

func NewLogRecorder(log *logger.Logger) *LogRecorder {
	return &LogRecorder{Logger: log}
}

func (r *LogRecorder) Record(_ context.Context, entry models.SecurityAuditEntry) {
	r.Logger.LogSecurity(string(entry.EventType), describe(entry))
}

// KafkaRecorder logs every entry and streams it to the audit topic keyed by event ID.
// Publish failures are logged and otherwise ignored.
type KafkaRecorder struct {
	Producer Publisher
	Logger   *logger.Logger
	OnError  func(error)
}

func NewKafkaRecorder(producer Publisher, log *logger.Logger) *KafkaRecorder {
	return &KafkaRecorder{Producer: producer, Logger: log}
}

func (r *KafkaRecorder) Record(ctx context.Context, entry models.SecurityAuditEntry) {
	r.Logger.LogSecurity(string(entry.EventType), describe(entry))

	if err := r.Producer.PublishJSON(context.WithoutCancel(ctx), entry.EventID, entry); err != nil {
		r.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish audit entry %s: %v", entry.EventType, err))
		if r.OnError != nil {
			r.OnError(err)
		}
	}
}

func describe(entry models.SecurityAuditEntry) string {
	return fmt.Sprintf("operator=%s event=%s venue=%s ticket=%s status=%s - %s",
		entry.OperatorID, entry.EventID, entry.VenueID, entry.TicketCode, entry.ScanStatus, entry.Message)
}
