// Package kafka consumes patch.enriched events and feeds them to the upsert engine.
package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ortelius/patchgraph/config"
	"github.com/ortelius/patchgraph/database"
	"github.com/ortelius/patchgraph/events/modules/patches"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"
)

// MessageReader is the subset of *kafka.Reader used by the consumer loop.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewDialer builds the broker dialer. SASL/PLAIN over TLS is used only when
// credentials are configured.
func NewDialer(cfg config.KafkaConfig) *kafka.Dialer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	if cfg.APIKey != "" && cfg.APISecret != "" {
		dialer.SASLMechanism = plain.Mechanism{
			Username: cfg.APIKey,
			Password: cfg.APISecret,
		}
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return dialer
}

// RunEventProcessor checks broker reachability, then consumes events in a
// background goroutine until ctx is cancelled.
func RunEventProcessor(ctx context.Context, cfg config.KafkaConfig, service patches.PatchService, logger *zap.Logger) error {
	dialer := NewDialer(cfg)

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 2)
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		logger.Sugar().Infof("Kafka connection attempt %d/3...", attempt)
		conn, err := dialer.DialContext(ctx, "tcp", cfg.Brokers[0])
		if err != nil {
			return err
		}
		return conn.Close()
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MaxBytes: 10e6,
		Dialer:   dialer,
	})

	go func() {
		defer reader.Close()
		logger.Info("Kafka event processor started, listening for patch events",
			zap.String("topic", cfg.Topic), zap.String("group_id", cfg.GroupID))
		Consume(ctx, reader, service, cfg, logger)
	}()

	return nil
}

// Consume handles messages until ctx is cancelled. A message is committed
// once its record is ingested or rejected for good (malformed event, invalid
// record, malformed identity), so one bad record cannot stall the partition.
// A retryable store failure is retried with exponential backoff and the offset
// stays uncommitted until the insert succeeds; on shutdown mid-retry the
// message is redelivered to the next consumer. Redelivery is at-least-once:
// records without an idempotency key may append a second Patch.
func Consume(ctx context.Context, reader MessageReader, service patches.PatchService, cfg config.KafkaConfig, logger *zap.Logger) {
	fetchBackOff := newRetryBackOff(cfg)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := fetchBackOff.NextBackOff()
			logger.Warn("Failed to fetch Kafka message", zap.Duration("retry_in", wait), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		fetchBackOff.Reset()

		if !handle(ctx, msg, service, cfg, logger) {
			return
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Warn("Failed to commit Kafka offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// handle ingests one message, retrying retryable failures. It reports whether
// the message is done and may be committed; false means ctx ended first.
func handle(ctx context.Context, msg kafka.Message, service patches.PatchService, cfg config.KafkaConfig, logger *zap.Logger) bool {
	operation := func() error {
		_, err := patches.HandlePatchEnrichedWithService(ctx, msg.Value, service)
		if err != nil && !database.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("Retryable failure handling patch event",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(newRetryBackOff(cfg), ctx), notify)
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		logger.Info("Leaving patch event uncommitted for redelivery", zap.Int64("offset", msg.Offset))
		return false
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	logger.Error("Dropping patch event",
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Error(err))
	return true
}

// newRetryBackOff never gives up on its own; only ctx ends it.
func newRetryBackOff(cfg config.KafkaConfig) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.RetryInitialInterval
	bo.MaxInterval = cfg.RetryMaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
