package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/observability"
)

var indexerTracer = observability.Tracer("search/indexer")

var (
	// ErrInvalidInput is returned when an indexing call is missing required
	// fields or carries unknown enum values.
	ErrInvalidInput = errors.New("invalid index input")

	// ErrIndexUnavailable wraps index store failures on the write path.
	ErrIndexUnavailable = errors.New("search index unavailable")
)

// ChangeKind tells listeners what kind of write happened.
type ChangeKind string

const (
	ChangeUpsert ChangeKind = "upsert"
	ChangeRemove ChangeKind = "remove"
)

// ChangeEvent describes one successful index write.
type ChangeEvent struct {
	Kind       ChangeKind
	EntityType EntityType // empty for removals
	EntityID   string
}

// ChangeListener is notified synchronously after every successful write.
// Listeners must be fast and must not call back into the Indexer.
type ChangeListener func(ctx context.Context, ev ChangeEvent)

// Indexer implements the indexing protocol on top of a Store.
type Indexer struct {
	store   Store
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu        sync.RWMutex
	listeners []ChangeListener
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithIndexerLogger sets the logger.
func WithIndexerLogger(logger *observability.Logger) IndexerOption {
	return func(i *Indexer) { i.logger = logger }
}

// WithIndexerMetrics sets the Prometheus metrics.
func WithIndexerMetrics(m *observability.Metrics) IndexerOption {
	return func(i *Indexer) { i.metrics = m }
}

// WithClock overrides the clock used to stamp records without UpdatedAt.
func WithClock(now func() time.Time) IndexerOption {
	return func(i *Indexer) { i.now = now }
}

// NewIndexer creates an indexer writing to store.
func NewIndexer(store Store, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		store:  store,
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// OnChange registers a listener for successful writes.
func (idx *Indexer) OnChange(l ChangeListener) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.listeners = append(idx.listeners, l)
}

func (idx *Indexer) notify(ctx context.Context, ev ChangeEvent) {
	idx.mu.RLock()
	listeners := idx.listeners
	idx.mu.RUnlock()
	for _, l := range listeners {
		l(ctx, ev)
	}
}

// BuildRecord validates in and derives the full IndexRecord from it. It does
// not touch the store.
func (idx *Indexer) BuildRecord(in IndexInput) (*IndexRecord, error) {
	id := strings.TrimSpace(in.EntityID)
	if id == "" {
		return nil, fmt.Errorf("%w: entity id is required", ErrInvalidInput)
	}
	if !in.EntityType.Valid() {
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidInput, ErrUnknownEntityType, in.EntityType)
	}
	status, err := ParseStatus(string(in.Status))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	primary := strings.TrimSpace(in.PrimaryText)
	secondary := strings.TrimSpace(in.SecondaryText)
	updatedAt := in.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = idx.now()
	}

	return &IndexRecord{
		EntityType:    in.EntityType,
		EntityID:      id,
		PrimaryText:   primary,
		SecondaryText: secondary,
		Tokens:        RecordTokens(primary, secondary),
		Slug:          BuildSlug(in.EntityType, primary, id),
		DepartmentID:  strings.TrimSpace(in.DepartmentID),
		Status:        status,
		IsDeleted:     in.IsDeleted,
		UpdatedAt:     updatedAt.UTC().Truncate(time.Microsecond),
	}, nil
}

// IndexEntity upserts the record for (in.EntityType, in.EntityID), fully
// replacing any previous version. After it returns nil exactly one record
// exists for that key and it reflects in.
func (idx *Indexer) IndexEntity(ctx context.Context, in IndexInput) (*IndexRecord, error) {
	ctx, span := indexerTracer.Start(ctx, "IndexEntity",
		trace.WithAttributes(
			attribute.String("entity_type", string(in.EntityType)),
			attribute.String("entity_id", in.EntityID),
		),
	)
	defer span.End()
	start := time.Now()

	rec, err := idx.BuildRecord(in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid input")
		idx.metrics.ObserveIndexWrite("upsert", string(in.EntityType), err, time.Since(start))
		return nil, err
	}

	err = idx.store.Upsert(ctx, rec)
	idx.metrics.ObserveIndexWrite("upsert", string(rec.EntityType), err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return nil, fmt.Errorf("%w: upsert %s: %w", ErrIndexUnavailable, rec.Key(), err)
	}

	observability.FromContext(ctx, idx.logger).
		WithField("entity", rec.Key().String()).
		WithField("deleted", rec.IsDeleted).
		Debug("Indexed entity")

	idx.notify(ctx, ChangeEvent{Kind: ChangeUpsert, EntityType: rec.EntityType, EntityID: rec.EntityID})
	span.SetStatus(codes.Ok, "indexed")
	return rec, nil
}

// IndexSearchable indexes a source entity through its Searchable mapping.
func (idx *Indexer) IndexSearchable(ctx context.Context, s Searchable) (*IndexRecord, error) {
	in := s.ToIndexInput()
	if in.EntityType != s.SearchType() {
		return nil, fmt.Errorf("%w: mapping for %s produced type %q", ErrInvalidInput, s.SearchType(), in.EntityType)
	}
	return idx.IndexEntity(ctx, in)
}

// RemoveFromIndex physically removes every record for entityID, whatever its
// type. Removing an id that is not indexed is not an error.
func (idx *Indexer) RemoveFromIndex(ctx context.Context, entityID string) (int, error) {
	ctx, span := indexerTracer.Start(ctx, "RemoveFromIndex",
		trace.WithAttributes(attribute.String("entity_id", entityID)),
	)
	defer span.End()
	start := time.Now()

	id := strings.TrimSpace(entityID)
	if id == "" {
		err := fmt.Errorf("%w: entity id is required", ErrInvalidInput)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid input")
		return 0, err
	}

	n, err := idx.store.DeleteByEntityID(ctx, id)
	idx.metrics.ObserveIndexWrite("remove", "", err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return 0, fmt.Errorf("%w: remove %s: %w", ErrIndexUnavailable, id, err)
	}

	span.SetAttributes(attribute.Int("removed", n))
	observability.FromContext(ctx, idx.logger).
		WithField("entity_id", id).
		WithField("removed", n).
		Debug("Removed entity from index")

	if n > 0 {
		idx.notify(ctx, ChangeEvent{Kind: ChangeRemove, EntityID: id})
	}
	span.SetStatus(codes.Ok, "removed")
	return n, nil
}

// Store returns the underlying index store.
func (idx *Indexer) Store() Store {
	return idx.store
}
