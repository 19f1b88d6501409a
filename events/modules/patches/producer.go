// Package patches handles Kafka event production for enriched patch records.
package patches

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ortelius/patchgraph/model"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by the producer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PatchProducer sends patch.enriched events to Kafka
type PatchProducer struct {
	Writer MessageWriter
}

// NewPatchProducer initializes a new Kafka writer for patch events
func NewPatchProducer(brokers []string, topic string) *PatchProducer {
	return &PatchProducer{
		Writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

// NewPatchEnrichedEvent wraps a record in a versioned event envelope.
func NewPatchEnrichedEvent(rec model.EnrichedRecord, source string) PatchEnrichedEvent {
	return PatchEnrichedEvent{
		EventType:     EventTypePatchEnriched,
		EventID:       uuid.New().String(),
		EventTime:     time.Now().UTC(),
		SchemaVersion: "v1",
		Source:        source,
		Record:        rec,
	}
}

// PublishPatchEnriched sends the event to the Kafka topic. Messages are keyed
// by vendor/product so records for the same product share a partition.
func (p *PatchProducer) PublishPatchEnriched(ctx context.Context, rec model.EnrichedRecord, source string) error {
	payload, err := json.Marshal(NewPatchEnrichedEvent(rec, source))
	if err != nil {
		return err
	}

	key := strings.ToLower(rec.Vendor) + "/" + strings.ToLower(rec.Product)
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
	})
}

// Close cleans up the Kafka writer
func (p *PatchProducer) Close() error {
	return p.Writer.Close()
}
