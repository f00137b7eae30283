package audit

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishJSON(ctx context.Context, key string, v any) error {
	args := m.Called(ctx, key, v)
	return args.Error(0)
}

func sampleEntry() models.SecurityAuditEntry {
	return models.SecurityAuditEntry{
		EventType:  models.AuditTicketReuseAttempt,
		OperatorID: "op-1",
		EventID:    "E1",
		VenueID:    "V1",
		TicketCode: "TKT-1",
		ScanStatus: models.ScanStatusAlreadyUsed,
		Message:    "ticket already used",
		OccurredAt: time.Now().UTC(),
	}
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogRecorder(logger.NewLoggerWithWriter(&buf))

	r.Record(context.Background(), sampleEntry())

	assert.Contains(t, buf.String(), `"category":"SECURITY"`)
	assert.Contains(t, buf.String(), "TICKET_REUSE_ATTEMPT")
	assert.Contains(t, buf.String(), "ticket=TKT-1")
}

func TestKafkaRecorderPublishesKeyedByEvent(t *testing.T) {
	pub := new(MockPublisher)
	entry := sampleEntry()
	pub.On("PublishJSON", mock.Anything, "E1", entry).Return(nil)

	r := NewKafkaRecorder(pub, logger.Discard())
	r.Record(context.Background(), entry)

	pub.AssertExpectations(t)
}

func TestKafkaRecorderSwallowsPublishErrors(t *testing.T) {
	var buf bytes.Buffer
	pub := new(MockPublisher)
	pub.On("PublishJSON", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	var reported error
	r := NewKafkaRecorder(pub, logger.NewLoggerWithWriter(&buf))
	r.OnError = func(err error) { reported = err }

	assert.NotPanics(t, func() { r.Record(context.Background(), sampleEntry()) })
	assert.EqualError(t, reported, "broker down")
	assert.Contains(t, buf.String(), "Failed to publish audit entry")
}
