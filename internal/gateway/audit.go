package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// VerdictRecord is the audit payload published per scored batch.
type VerdictRecord struct {
	CorrelationID string          `json:"correlation_id"`
	UserID        string          `json:"user_id"`
	Verdict       json.RawMessage `json:"verdict"`
	Timestamp     time.Time       `json:"timestamp"`
}

// VerdictAuditor is responsible ONLY for Kafka interactions.
type VerdictAuditor struct {
	writer *kafka.Writer
}

// NewVerdictAuditor initializes the Kafka writer. Returns nil when no brokers
// are configured; auditing is optional.
func NewVerdictAuditor(brokers []string, topic string) *VerdictAuditor {
	if len(brokers) == 0 {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	log.Info().Strs("brokers", brokers).Str("topic", topic).Msg("verdict auditor initialized")
	return &VerdictAuditor{writer: writer}
}

// Publish records one verdict on the audit topic.
func (a *VerdictAuditor) Publish(ctx context.Context, userID string, verdict json.RawMessage) error {
	rec := VerdictRecord{
		CorrelationID: uuid.New().String(),
		UserID:        userID,
		Verdict:       verdict,
		Timestamp:     time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return a.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(userID),
		Value: data,
	})
}

// Close shuts down the Kafka writer gracefully.
func (a *VerdictAuditor) Close() error {
	log.Info().Msg("closing verdict auditor")
	return a.writer.Close()
}
