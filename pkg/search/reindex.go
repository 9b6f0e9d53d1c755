package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/async"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/observability"
)

var reindexTracer = observability.Tracer("search/reindex")

// ErrReindexInProgress is returned by Run while another run is active.
var ErrReindexInProgress = errors.New("reindex already in progress")

const (
	defaultReindexWorkers     = 4
	defaultReindexConcurrency = 2
	defaultReindexBatchSize   = 256
)

// SourceReader walks the authoritative source records of one entity type.
// Walk stops and returns fn's error if fn fails.
type SourceReader interface {
	Walk(ctx context.Context, entityType EntityType, fn func(Searchable) error) error
}

// ReindexOptions controls one reindex run.
type ReindexOptions struct {
	// Types restricts the run; empty means every entity type.
	Types []EntityType
	// Prune removes index records whose source no longer exists. Only types
	// whose walk completed without error are pruned.
	Prune bool
	// Trigger labels the run in logs and metrics (manual, scheduled, cli).
	Trigger string
}

// Failure is one record, or one whole type walk, that could not be indexed.
type Failure struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id,omitempty"`
	Error      string     `json:"error"`
}

// TypeSummary holds the counts for one entity type.
type TypeSummary struct {
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Pruned  int `json:"pruned"`
}

// ReindexSummary reports the outcome of a run.
type ReindexSummary struct {
	Indexed   int                        `json:"indexed"`
	Skipped   int                        `json:"skipped"`
	Failed    int                        `json:"failed"`
	Pruned    int                        `json:"pruned"`
	ByType    map[EntityType]TypeSummary `json:"by_type"`
	Failures  []Failure                  `json:"failures,omitempty"`
	StartedAt time.Time                  `json:"started_at"`
	Duration  time.Duration              `json:"duration"`
}

// OK reports whether the run finished without any failure.
func (s *ReindexSummary) OK() bool {
	return s.Failed == 0 && len(s.Failures) == 0
}

// Reindexer rebuilds the index from a SourceReader through the Indexer, so
// the result is identical to what the write path produces.
type Reindexer struct {
	indexer     *Indexer
	source      SourceReader
	logger      *observability.Logger
	metrics     *observability.Metrics
	workers     int
	concurrency int
	batchSize   int

	running sync.Mutex
}

// ReindexerOption configures a Reindexer.
type ReindexerOption func(*Reindexer)

// WithReindexLogger sets the logger.
func WithReindexLogger(logger *observability.Logger) ReindexerOption {
	return func(r *Reindexer) { r.logger = logger }
}

// WithReindexMetrics sets the Prometheus metrics.
func WithReindexMetrics(m *observability.Metrics) ReindexerOption {
	return func(r *Reindexer) { r.metrics = m }
}

// WithReindexWorkers sets the per-type record fan-out and the number of
// entity types walked in parallel.
func WithReindexWorkers(workers, concurrency int) ReindexerOption {
	return func(r *Reindexer) {
		if workers > 0 {
			r.workers = workers
		}
		if concurrency > 0 {
			r.concurrency = concurrency
		}
	}
}

// WithReindexBatchSize sets how many walked records are indexed per batch.
func WithReindexBatchSize(n int) ReindexerOption {
	return func(r *Reindexer) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// NewReindexer creates a reindexer.
func NewReindexer(indexer *Indexer, source SourceReader, opts ...ReindexerOption) *Reindexer {
	r := &Reindexer{
		indexer:     indexer,
		source:      source,
		logger:      observability.NopLogger(),
		workers:     defaultReindexWorkers,
		concurrency: defaultReindexConcurrency,
		batchSize:   defaultReindexBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run walks the selected entity types and indexes every live source record.
// Per-record failures are collected into the summary and never abort the
// run. The returned error is non-nil only when another run is active, for
// invalid options, or when ctx is cancelled; a summary is always returned.
func (r *Reindexer) Run(ctx context.Context, opts ReindexOptions) (*ReindexSummary, error) {
	if !r.running.TryLock() {
		return &ReindexSummary{ByType: map[EntityType]TypeSummary{}}, ErrReindexInProgress
	}
	defer r.running.Unlock()

	trigger := opts.Trigger
	if trigger == "" {
		trigger = "manual"
	}
	ctx, span := reindexTracer.Start(ctx, "Reindex",
		trace.WithAttributes(
			attribute.String("trigger", trigger),
			attribute.Bool("prune", opts.Prune),
		),
	)
	defer span.End()

	summary := &ReindexSummary{
		ByType:    make(map[EntityType]TypeSummary),
		StartedAt: time.Now().UTC(),
	}

	types := opts.Types
	if len(types) == 0 {
		types = AllEntityTypes()
	}
	for _, t := range types {
		if !t.Valid() {
			err := fmt.Errorf("%w: %q", ErrUnknownEntityType, t)
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid options")
			return summary, err
		}
	}

	logger := observability.FromContext(ctx, r.logger).WithField("trigger", trigger)
	logger.WithField("types", fmt.Sprint(types)).Info("Reindex started")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, t := range types {
		t := t
		g.Go(func() error {
			ts, failures := r.reindexType(gctx, t, opts.Prune, logger)
			mu.Lock()
			summary.ByType[t] = ts
			summary.Indexed += ts.Indexed
			summary.Skipped += ts.Skipped
			summary.Failed += ts.Failed
			summary.Pruned += ts.Pruned
			summary.Failures = append(summary.Failures, failures...)
			mu.Unlock()
			return gctx.Err()
		})
	}
	runErr := g.Wait()

	sort.Slice(summary.Failures, func(i, j int) bool {
		a, b := summary.Failures[i], summary.Failures[j]
		if a.EntityType != b.EntityType {
			return a.EntityType < b.EntityType
		}
		return a.EntityID < b.EntityID
	})
	summary.Duration = time.Since(summary.StartedAt)
	r.metrics.ObserveReindexRun(trigger, !summary.OK() || runErr != nil, summary.Duration)

	span.SetAttributes(
		attribute.Int("indexed", summary.Indexed),
		attribute.Int("skipped", summary.Skipped),
		attribute.Int("failed", summary.Failed),
		attribute.Int("pruned", summary.Pruned),
	)

	entry := logger.WithFields(map[string]interface{}{
		"indexed":     summary.Indexed,
		"skipped":     summary.Skipped,
		"failed":      summary.Failed,
		"pruned":      summary.Pruned,
		"duration_ms": summary.Duration.Milliseconds(),
	})
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "reindex interrupted")
		entry.WithError(runErr).Warn("Reindex interrupted")
		return summary, runErr
	}
	if summary.OK() {
		entry.Info("Reindex completed")
	} else {
		entry.Warn("Reindex completed with failures")
	}
	span.SetStatus(codes.Ok, "reindex completed")
	return summary, nil
}

// reindexType indexes one entity type and, when prune is set and the walk
// was clean, removes index records whose source was not seen.
func (r *Reindexer) reindexType(ctx context.Context, t EntityType, prune bool, logger *observability.Logger) (TypeSummary, []Failure) {
	var (
		mu       sync.Mutex
		ts       TypeSummary
		failures []Failure
		seen     = make(map[string]struct{})
	)
	fail := func(id string, err error) {
		ts.Failed++
		failures = append(failures, Failure{EntityType: t, EntityID: id, Error: err.Error()})
		r.metrics.ObserveReindexRecord(string(t), "failed")
	}

	process := func(ctx context.Context, s Searchable) error {
		in := s.ToIndexInput()
		if in.IsDeleted {
			// Soft-deleted at the source: make sure nothing live stays behind.
			_, err := r.indexer.RemoveFromIndex(ctx, in.EntityID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				fail(in.EntityID, err)
				return nil
			}
			ts.Skipped++
			r.metrics.ObserveReindexRecord(string(t), "skipped")
			return nil
		}

		_, err := r.indexer.IndexSearchable(ctx, s)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			fail(in.EntityID, err)
			return nil
		}
		ts.Indexed++
		r.metrics.ObserveReindexRecord(string(t), "indexed")
		return nil
	}

	batch := make([]Searchable, 0, r.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		errs := async.Batch(ctx, r.logger, batch, r.workers, "reindex "+string(t), 0, process)
		batch = batch[:0]
		for _, err := range errs {
			// process never returns errors; these are panics or cancellation.
			mu.Lock()
			fail("", err)
			mu.Unlock()
		}
		return ctx.Err()
	}

	walkErr := r.source.Walk(ctx, t, func(s Searchable) error {
		if s.SearchType() != t {
			mu.Lock()
			fail(s.ToIndexInput().EntityID, fmt.Errorf("%w: walk of %s yielded %s", ErrInvalidInput, t, s.SearchType()))
			mu.Unlock()
			return nil
		}
		// Walked ids are never pruned, even when their upsert fails.
		mu.Lock()
		seen[s.ToIndexInput().EntityID] = struct{}{}
		mu.Unlock()
		batch = append(batch, s)
		if len(batch) >= r.batchSize {
			return flush()
		}
		return nil
	})
	// Records walked before a failure are still indexed.
	if flushErr := flush(); walkErr == nil {
		walkErr = flushErr
	}

	if walkErr != nil {
		mu.Lock()
		failures = append(failures, Failure{EntityType: t, Error: "walk: " + walkErr.Error()})
		mu.Unlock()
		logger.WithError(walkErr).WithField("entity_type", string(t)).Error("Source walk failed; skipping prune")
		return ts, failures
	}

	if prune {
		r.prune(ctx, t, seen, &ts, &failures)
	}

	logger.WithFields(map[string]interface{}{
		"entity_type": string(t),
		"indexed":     ts.Indexed,
		"skipped":     ts.Skipped,
		"failed":      ts.Failed,
		"pruned":      ts.Pruned,
	}).Info("Reindexed entity type")
	return ts, failures
}

func (r *Reindexer) prune(ctx context.Context, t EntityType, seen map[string]struct{}, ts *TypeSummary, failures *[]Failure) {
	keys, err := r.indexer.Store().ListKeys(ctx, t)
	if err != nil {
		*failures = append(*failures, Failure{EntityType: t, Error: "prune: " + err.Error()})
		return
	}
	for _, key := range keys {
		if _, ok := seen[key.EntityID]; ok {
			continue
		}
		n, err := r.indexer.RemoveFromIndex(ctx, key.EntityID)
		if err != nil {
			ts.Failed++
			*failures = append(*failures, Failure{EntityType: t, EntityID: key.EntityID, Error: "prune: " + err.Error()})
			continue
		}
		ts.Pruned += n
	}
}
