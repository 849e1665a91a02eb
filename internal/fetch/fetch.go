// Package fetch requests annotation records for segment ids in bounded
// chunks, shrinking the chunk size each time a request fails.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/WazeDev/hn-navpoints/internal/api"
	"github.com/WazeDev/hn-navpoints/internal/cache"
	"github.com/WazeDev/hn-navpoints/pkg/core"
)

// ChunkSizes is indexed by retry count.
var ChunkSizes = []int{500, 250, 125, 100, 50}

// MaxAttempts bounds the request rounds per original chunk.
const MaxAttempts = 5

// DefaultConcurrency is the number of original chunks fetched at once.
const DefaultConcurrency = 4

// ChunkSize returns the ladder size for a retry count.
func ChunkSize(retry int) int {
	if retry < 0 {
		retry = 0
	}
	if retry >= len(ChunkSizes) {
		return ChunkSizes[len(ChunkSizes)-1]
	}
	return ChunkSizes[retry]
}

// Split cuts ids into consecutive chunks of at most size ids.
func Split(ids []int64, size int) [][]int64 {
	if size <= 0 || len(ids) == 0 {
		return nil
	}
	chunks := make([][]int64, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end:end])
	}
	return chunks
}

// Source returns the annotation records of a set of segments.
type Source interface {
	FetchAnnotations(ctx context.Context, segmentIDs []int64) (api.Batch, error)
}

// Result is one successful request.
type Result struct {
	SegmentIDs []int64
	Records    []core.AnnotationRecord
}

// Failure reports an abandoned original chunk. SegmentIDs holds the ids
// that were never delivered.
type Failure struct {
	SegmentIDs []int64
	Attempts   int
	Err        error
}

// Outcome of a single request.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeFailed    Outcome = "failed"
	OutcomeMalformed Outcome = "malformed"
)

// ChunkStat describes one request.
type ChunkStat struct {
	Size     int
	Attempt  int
	Records  int
	Skipped  int
	Duration time.Duration
	Outcome  Outcome
	Err      error
}

// Observer is told about every request. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveChunk(ChunkStat)
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithConcurrency limits how many original chunks are in flight per Fetch.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithObserver attaches a request observer.
func WithObserver(o Observer) Option {
	return func(f *Fetcher) {
		f.observer = o
	}
}

// Fetcher runs batched fetches in the background.
type Fetcher struct {
	source      Source
	logger      *slog.Logger
	concurrency int
	observer    Observer

	wg       sync.WaitGroup
	inFlight cache.SafeCounter

	requested metric.Int64Counter
	failed    metric.Int64Counter
	abandoned metric.Int64Counter
	received  metric.Int64Counter
	duration  metric.Float64Histogram
}

// New creates a Fetcher reading from source.
func New(source Source, logger *slog.Logger, opts ...Option) (*Fetcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{
		source:      source,
		logger:      logger,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(f)
	}

	m := meter()
	var err error

	if f.requested, err = m.Int64Counter("fetch.chunks.requested",
		metric.WithDescription("Chunk requests issued")); err != nil {
		return nil, fmt.Errorf("creating requested counter: %w", err)
	}
	if f.failed, err = m.Int64Counter("fetch.chunks.failed",
		metric.WithDescription("Chunk requests that failed")); err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	if f.abandoned, err = m.Int64Counter("fetch.chunks.abandoned",
		metric.WithDescription("Original chunks given up after the last attempt")); err != nil {
		return nil, fmt.Errorf("creating abandoned counter: %w", err)
	}
	if f.received, err = m.Int64Counter("fetch.records.received",
		metric.WithDescription("Annotation records received")); err != nil {
		return nil, fmt.Errorf("creating received counter: %w", err)
	}
	if f.duration, err = m.Float64Histogram("fetch.chunk.duration",
		metric.WithDescription("Chunk request latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return f, nil
}

// Fetch starts fetching ids and returns immediately. onResult is called
// for every successful request as it completes, onFailure once per
// abandoned original chunk. Both may be called from any goroutine.
func (f *Fetcher) Fetch(ctx context.Context, ids []int64, onResult func(Result), onFailure func(Failure)) {
	chunks := Split(ids, ChunkSize(0))
	if len(chunks) == 0 {
		return
	}

	f.wg.Add(1)
	f.inFlight.Inc()
	go func() {
		defer f.wg.Done()
		defer f.inFlight.Dec()

		var g errgroup.Group
		g.SetLimit(f.concurrency)
		for _, chunk := range chunks {
			g.Go(func() error {
				f.runChunk(ctx, chunk, onResult, onFailure)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Wait blocks until every Fetch started so far has finished.
func (f *Fetcher) Wait() {
	f.wg.Wait()
}

// InFlight returns the number of unfinished Fetch calls.
func (f *Fetcher) InFlight() int {
	return f.inFlight.Value()
}

// runChunk drives one original chunk down the ladder. Pieces that fail in a
// round are pooled and re-split at the next size for the following round.
func (f *Fetcher) runChunk(ctx context.Context, chunk []int64, onResult func(Result), onFailure func(Failure)) {
	pending := chunk
	var (
		dropped []int64
		lastErr error
		attempt int
	)

	for attempt = 0; attempt < MaxAttempts && len(pending) > 0; attempt++ {
		var retry []int64
		for _, piece := range Split(pending, ChunkSize(attempt)) {
			if ctx.Err() != nil {
				return
			}
			batch, err := f.request(ctx, piece, attempt)
			switch {
			case err == nil:
				if onResult != nil {
					onResult(Result{SegmentIDs: piece, Records: batch.Records})
				}
			case ctx.Err() != nil:
				return
			case errors.Is(err, api.ErrMalformedResponse):
				dropped = append(dropped, piece...)
				lastErr = err
			default:
				retry = append(retry, piece...)
				lastErr = err
			}
		}
		pending = retry
	}

	failedIDs := append(dropped, pending...)
	if len(failedIDs) == 0 {
		return
	}

	f.abandoned.Add(ctx, 1)
	f.logger.Error("Get HNs failed",
		"segments", len(failedIDs),
		"attempts", attempt,
		"error", lastErr)
	if onFailure != nil {
		onFailure(Failure{SegmentIDs: failedIDs, Attempts: attempt, Err: lastErr})
	}
}

func (f *Fetcher) request(ctx context.Context, ids []int64, attempt int) (api.Batch, error) {
	attrs := metric.WithAttributes(attribute.Int("attempt", attempt))
	f.requested.Add(ctx, 1, attrs)

	start := time.Now()
	batch, err := f.source.FetchAnnotations(ctx, ids)
	elapsed := time.Since(start)
	f.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)

	stat := ChunkStat{
		Size:     len(ids),
		Attempt:  attempt,
		Records:  len(batch.Records),
		Skipped:  batch.Skipped,
		Duration: elapsed,
		Outcome:  OutcomeOK,
		Err:      err,
	}

	switch {
	case err == nil:
		f.received.Add(ctx, int64(len(batch.Records)))
		if batch.Skipped > 0 {
			f.logger.Warn("skipped unusable house numbers", "skipped", batch.Skipped, "segments", len(ids))
		}
	case errors.Is(err, api.ErrMalformedResponse):
		stat.Outcome = OutcomeMalformed
		f.failed.Add(ctx, 1, attrs)
		f.logger.Warn("malformed house number response", "segments", len(ids), "error", err)
	default:
		stat.Outcome = OutcomeFailed
		f.failed.Add(ctx, 1, attrs)
		f.logger.Debug("chunk request failed", "retry", attempt, "size", len(ids), "error", err)
	}

	if f.observer != nil {
		f.observer.ObserveChunk(stat)
	}
	return batch, err
}
