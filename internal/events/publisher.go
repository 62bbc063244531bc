package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subjects published on the lifecycle stream.
const (
	SubjectAttemptFinalized = "attempt.finalized"
	SubjectAttemptMarked    = "attempt.marked"
	SubjectGradingFailed    = "attempt.grading_failed"
	SubjectFeedbackReleased = "feedback.released"
)

type envelope struct {
	Event  string      `json:"event"`
	Source string      `json:"source"`
	SentAt time.Time   `json:"sent_at"`
	Data   interface{} `json:"data"`
}

// Publisher emits attempt lifecycle events over NATS. A nil connection is
// tolerated so the service runs without a broker in development.
type Publisher struct {
	conn        *nats.Conn
	subjectBase string
	nodeID      string
	logger      zerolog.Logger
}

// NewPublisher constructs a lifecycle event publisher.
func NewPublisher(conn *nats.Conn, subjectBase string, logger zerolog.Logger) *Publisher {
	if subjectBase == "" {
		subjectBase = "quillmark"
	}

	return &Publisher{
		conn:        conn,
		subjectBase: subjectBase,
		nodeID:      uuid.NewString(),
		logger:      logger.With().Str("component", "events").Logger(),
	}
}

// Publish sends the event; failures are logged, never propagated, because
// event delivery is observability-grade, not part of the authoritative state.
func (p *Publisher) Publish(event string, data interface{}) {
	if p == nil || p.conn == nil {
		return
	}

	payload, err := json.Marshal(envelope{
		Event:  event,
		Source: p.nodeID,
		SentAt: time.Now().UTC(),
		Data:   data,
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("event", event).Msg("failed to marshal lifecycle event")
		return
	}

	subject := p.subjectBase + "." + event
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish lifecycle event")
	}
}
