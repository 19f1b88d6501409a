package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ortelius/patchgraph/database"
	"github.com/ortelius/patchgraph/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Inserter is the engine operation the pipeline drives.
type Inserter interface {
	InsertPatch(ctx context.Context, rec model.EnrichedRecord) (*model.PatchInsertResult, error)
}

// Outcome statuses
const (
	StatusInserted = "inserted"
	StatusSkipped  = "skipped"
	StatusFailed   = "failed"
)

// RecordOutcome is the per-record result of a batch.
type RecordOutcome struct {
	Index    int                      `json:"index"`
	Vendor   string                   `json:"vendor"`
	Product  string                   `json:"product"`
	Status   string                   `json:"status"`
	Attempts int                      `json:"attempts"`
	Result   *model.PatchInsertResult `json:"result,omitempty"`
	Err      error                    `json:"-"`
}

// BatchSummary totals a batch run.
type BatchSummary struct {
	Inserted int             `json:"inserted"`
	Skipped  int             `json:"skipped"`
	Failed   int             `json:"failed"`
	Outcomes []RecordOutcome `json:"outcomes"`
}

// Pipeline feeds records to an Inserter with bounded concurrency.
type Pipeline struct {
	inserter        Inserter
	workers         int
	maxRetryElapsed time.Duration
	logger          *zap.Logger
}

// NewPipeline creates a pipeline running at most workers inserts at once.
// Records carrying an idempotency key are retried on retryable store errors
// for up to maxRetryElapsed; zero disables retries.
func NewPipeline(inserter Inserter, workers int, maxRetryElapsed time.Duration, logger *zap.Logger) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		inserter:        inserter,
		workers:         workers,
		maxRetryElapsed: maxRetryElapsed,
		logger:          logger,
	}
}

// Run ingests every record. Per-record failures are reported in the summary
// and never stop the batch; only context cancellation does.
func (p *Pipeline) Run(ctx context.Context, records []model.EnrichedRecord) (*BatchSummary, error) {
	outcomes := make([]RecordOutcome, len(records))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i := range records {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcomes[i] = p.process(gCtx, i, records[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary := &BatchSummary{Outcomes: outcomes}
	for _, o := range outcomes {
		switch o.Status {
		case StatusInserted:
			summary.Inserted++
		case StatusSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}

	p.logger.Sugar().Infof("Batch complete: %d inserted, %d skipped, %d failed",
		summary.Inserted, summary.Skipped, summary.Failed)
	return summary, nil
}

func (p *Pipeline) process(ctx context.Context, index int, rec model.EnrichedRecord) RecordOutcome {
	outcome := RecordOutcome{Index: index, Vendor: rec.Vendor, Product: rec.Product}

	operation := func() error {
		outcome.Attempts++
		result, err := p.inserter.InsertPatch(ctx, rec)
		if err != nil {
			if rec.IdempotencyKey == "" || !database.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			p.logger.Warn("Retryable store failure",
				zap.Int("index", index), zap.Int("attempt", outcome.Attempts), zap.Error(err))
			return err
		}
		outcome.Result = result
		return nil
	}

	var err error
	if p.maxRetryElapsed > 0 {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 100 * time.Millisecond
		bo.MaxElapsedTime = p.maxRetryElapsed
		err = backoff.Retry(operation, backoff.WithContext(bo, ctx))
	} else {
		err = operation()
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}

	switch {
	case err == nil:
		outcome.Status = StatusInserted
		p.logger.Info("Ingested patch",
			zap.String("vendor", rec.Vendor),
			zap.String("product", rec.Product),
			zap.String("patch_id", outcome.Result.PatchID),
			zap.Int("vulnerabilities", len(outcome.Result.Vulnerabilities)))
	case errors.Is(err, database.ErrInvalidRecord), errors.Is(err, database.ErrMalformedIdentity):
		outcome.Status = StatusSkipped
		outcome.Err = err
		p.logger.Warn("Skipping record", zap.Int("index", index), zap.Error(err))
	default:
		outcome.Status = StatusFailed
		outcome.Err = err
		p.logger.Error("Failed to ingest record", zap.Int("index", index), zap.Error(err))
	}
	return outcome
}

// Schedule runs load then the batch immediately and again on every interval
// tick until ctx is cancelled. A failed load or batch is logged and the next
// tick proceeds.
func (p *Pipeline) Schedule(ctx context.Context, interval time.Duration, load func() ([]model.EnrichedRecord, error)) error {
	runOnce := func() {
		records, err := load()
		if err != nil {
			p.logger.Error("Failed to load records", zap.Error(err))
			return
		}
		if _, err := p.Run(ctx, records); err != nil && ctx.Err() == nil {
			p.logger.Error("Batch failed", zap.Error(err))
		}
	}

	runOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.logger.Info("Starting scheduled update of patch graph")
			runOnce()
		}
	}
}

// ReadRecords decodes enriched records from either a JSON array or a stream
// of JSON objects (one per line).
func ReadRecords(r io.Reader) ([]model.EnrichedRecord, error) {
	br := bufio.NewReader(r)
	head, err := peekNonSpace(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	if head == '[' {
		var records []model.EnrichedRecord
		if err := json.NewDecoder(br).Decode(&records); err != nil {
			return nil, fmt.Errorf("failed to decode record array: %w", err)
		}
		return records, nil
	}

	var records []model.EnrichedRecord
	dec := json.NewDecoder(br)
	for {
		var rec model.EnrichedRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return nil, fmt.Errorf("failed to decode record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, br.UnreadByte()
		}
	}
}
