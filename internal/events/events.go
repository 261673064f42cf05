// Package events publishes post-commit ingestion events for downstream
// consumers (analytics, cache invalidation). The pipeline itself never
// depends on delivery: publish failures are logged and dropped.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/michaelpawlus/990-beacon/internal/config"
)

// FilingIngested is emitted once per newly loaded filing, after its
// transaction has committed.
type FilingIngested struct {
	ObjectID   string    `json:"object_id"`
	EIN        string    `json:"ein"`
	TaxYear    int       `json:"tax_year"`
	FilingType string    `json:"filing_type"`
	IngestedAt time.Time `json:"ingested_at"`
}

type Emitter struct {
	writer *kafka.Writer
	log    *logrus.Entry
}

// NewEmitter returns nil when no broker is configured; a nil Emitter is a
// safe no-op.
func NewEmitter(cfg *config.Config, log *logrus.Entry) *Emitter {
	if cfg.KafkaBroker == "" {
		return nil
	}
	return &Emitter{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.KafkaBroker),
			Topic:    cfg.KafkaTopic,
			Balancer: &kafka.LeastBytes{},
		},
		log: log,
	}
}

func (e *Emitter) Emit(ctx context.Context, event FilingIngested) {
	if e == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		e.log.WithError(err).Warn("failed to marshal filing event")
		return
	}
	err = e.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ObjectID),
		Value: payload,
	})
	if err != nil {
		e.log.WithError(err).WithField("object_id", event.ObjectID).
			Warn("failed to publish filing event")
	}
}

func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	return e.writer.Close()
}
