package entities

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/observability"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/search"
)

// Repository performs source mutations for one entity kind and keeps the
// search index in step. The source write always comes first; the index call
// is the last step and its failure never undoes the source write. The
// scheduled reindex repairs any drift.
type Repository[T Entity[T]] struct {
	table   Table[T]
	indexer *search.Indexer
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	indexFailures atomic.Int64
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*repositoryConfig)

type repositoryConfig struct {
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// WithRepositoryLogger sets the logger.
func WithRepositoryLogger(logger *observability.Logger) RepositoryOption {
	return func(c *repositoryConfig) { c.logger = logger }
}

// WithRepositoryMetrics sets the Prometheus metrics.
func WithRepositoryMetrics(m *observability.Metrics) RepositoryOption {
	return func(c *repositoryConfig) { c.metrics = m }
}

// WithRepositoryClock overrides the clock used for timestamps.
func WithRepositoryClock(now func() time.Time) RepositoryOption {
	return func(c *repositoryConfig) { c.now = now }
}

// NewRepository creates a repository over table that indexes through indexer.
func NewRepository[T Entity[T]](table Table[T], indexer *search.Indexer, opts ...RepositoryOption) *Repository[T] {
	cfg := repositoryConfig{logger: observability.NopLogger(), now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Repository[T]{
		table:   table,
		indexer: indexer,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		now:     cfg.now,
	}
}

func (r *Repository[T]) stamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

// Get returns the entity with id, soft-deleted or not.
func (r *Repository[T]) Get(ctx context.Context, id string) (T, error) {
	return r.table.Get(ctx, id)
}

// Create assigns an id when missing, stamps timestamps, stores e and indexes it.
func (r *Repository[T]) Create(ctx context.Context, e T) (T, error) {
	e = e.Clone()
	meta := e.Base()
	meta.ID = strings.TrimSpace(meta.ID)
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.Status == "" {
		meta.Status = search.StatusActive
	}
	now := r.stamp()
	meta.CreatedAt = now
	meta.UpdatedAt = now
	meta.DeletedAt = nil

	if err := e.Validate(); err != nil {
		var zero T
		return zero, err
	}
	if !meta.Status.Valid() {
		var zero T
		return zero, fmt.Errorf("%w: %w: %q", ErrValidation, search.ErrUnknownStatus, meta.Status)
	}
	if err := r.table.Insert(ctx, e); err != nil {
		var zero T
		return zero, fmt.Errorf("create %s %s: %w", e.SearchType(), meta.ID, err)
	}

	r.index(ctx, e, "create")
	return e, nil
}

// Update applies mutate to a copy of the stored entity, stores it and
// reindexes it. The id and creation time cannot be changed by mutate.
func (r *Repository[T]) Update(ctx context.Context, id string, mutate func(T) error) (T, error) {
	var zero T
	current, err := r.table.Get(ctx, id)
	if err != nil {
		return zero, fmt.Errorf("update %s: %w", id, err)
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return zero, err
	}
	meta := next.Base()
	meta.ID = current.Base().ID
	meta.CreatedAt = current.Base().CreatedAt
	meta.UpdatedAt = r.stamp()

	if err := next.Validate(); err != nil {
		return zero, err
	}
	if !meta.Status.Valid() {
		return zero, fmt.Errorf("%w: %w: %q", ErrValidation, search.ErrUnknownStatus, meta.Status)
	}
	if err := r.table.Put(ctx, next); err != nil {
		return zero, fmt.Errorf("update %s: %w", id, err)
	}

	r.index(ctx, next, "update")
	return next, nil
}

// SoftDelete marks the entity deleted. Its index record is kept but flagged,
// so it disappears from search while remaining restorable.
func (r *Repository[T]) SoftDelete(ctx context.Context, id string) (T, error) {
	return r.setDeleted(ctx, id, true)
}

// Restore clears a soft delete.
func (r *Repository[T]) Restore(ctx context.Context, id string) (T, error) {
	return r.setDeleted(ctx, id, false)
}

func (r *Repository[T]) setDeleted(ctx context.Context, id string, deleted bool) (T, error) {
	var zero T
	current, err := r.table.Get(ctx, id)
	if err != nil {
		return zero, fmt.Errorf("soft delete %s: %w", id, err)
	}

	next := current.Clone()
	meta := next.Base()
	now := r.stamp()
	meta.UpdatedAt = now
	if deleted {
		meta.DeletedAt = &now
	} else {
		meta.DeletedAt = nil
	}
	if err := r.table.Put(ctx, next); err != nil {
		return zero, fmt.Errorf("soft delete %s: %w", id, err)
	}

	op := "soft_delete"
	if !deleted {
		op = "restore"
	}
	r.index(ctx, next, op)
	return next, nil
}

// Delete physically removes the entity and its index record.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	current, err := r.table.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if err := r.table.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}

	if _, err := r.indexer.RemoveFromIndex(ctx, id); err != nil {
		r.indexFailed(ctx, current.SearchType(), id, "delete", err)
	}
	return nil
}

// Walk visits every stored entity, soft-deleted included.
func (r *Repository[T]) Walk(ctx context.Context, fn func(T) error) error {
	return r.table.Walk(ctx, fn)
}

// IndexFailures returns how many mutations committed without reaching the index.
func (r *Repository[T]) IndexFailures() int64 {
	return r.indexFailures.Load()
}

func (r *Repository[T]) index(ctx context.Context, e T, op string) {
	if _, err := r.indexer.IndexSearchable(ctx, e); err != nil {
		r.indexFailed(ctx, e.SearchType(), e.Base().ID, op, err)
	}
}

func (r *Repository[T]) indexFailed(ctx context.Context, t search.EntityType, id, op string, err error) {
	r.indexFailures.Add(1)
	r.metrics.ObserveIndexSyncFailure(string(t), op)
	observability.FromContext(ctx, r.logger).
		WithError(err).
		WithFields(map[string]interface{}{
			"entity_type": string(t),
			"entity_id":   id,
			"operation":   op,
		}).
		Warn("Source write committed but index update failed; reindex will repair")
}
