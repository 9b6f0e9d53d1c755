package entities

import (
	"context"
	"sort"
	"sync"
)

// Table is the source-of-truth store for one entity kind. Implementations
// must return copies so callers cannot mutate stored state.
type Table[T Entity[T]] interface {
	Get(ctx context.Context, id string) (T, error)
	Insert(ctx context.Context, e T) error
	Put(ctx context.Context, e T) error
	Delete(ctx context.Context, id string) error
	// Walk visits every row, soft-deleted ones included, in id order.
	Walk(ctx context.Context, fn func(T) error) error
}

// MemoryTable is an in-process Table.
type MemoryTable[T Entity[T]] struct {
	mu   sync.RWMutex
	rows map[string]T
}

// NewMemoryTable creates an empty table.
func NewMemoryTable[T Entity[T]]() *MemoryTable[T] {
	return &MemoryTable[T]{rows: make(map[string]T)}
}

// Get implements Table.
func (t *MemoryTable[T]) Get(ctx context.Context, id string) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	row, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return row.Clone(), nil
}

// Insert implements Table.
func (t *MemoryTable[T]) Insert(ctx context.Context, e T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	id := e.Base().ID
	if _, exists := t.rows[id]; exists {
		return ErrAlreadyExists
	}
	t.rows[id] = e.Clone()
	return nil
}

// Put implements Table.
func (t *MemoryTable[T]) Put(ctx context.Context, e T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	id := e.Base().ID
	if _, exists := t.rows[id]; !exists {
		return ErrNotFound
	}
	t.rows[id] = e.Clone()
	return nil
}

// Delete implements Table.
func (t *MemoryTable[T]) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.rows[id]; !exists {
		return ErrNotFound
	}
	delete(t.rows, id)
	return nil
}

// Walk implements Table. fn runs without the table lock held.
func (t *MemoryTable[T]) Walk(ctx context.Context, fn func(T) error) error {
	t.mu.RLock()
	ids := make([]string, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := t.Get(ctx, id)
		if err != nil {
			continue // deleted concurrently
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of rows, soft-deleted included.
func (t *MemoryTable[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}
