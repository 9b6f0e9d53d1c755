package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSource() *testSource {
	src := newTestSource()
	updated := testNow.Add(-48 * time.Hour)
	src.add(testEntity{typ: EntityTypeUser, id: "u1", primary: "Juan Dela Cruz", secondary: "juan@ppdo.gov.ph", dept: "d1", updatedAt: updated})
	src.add(testEntity{typ: EntityTypeDepartment, id: "d1", primary: "Provincial Planning Office", secondary: "PPDO", updatedAt: updated})
	src.add(testEntity{typ: EntityTypeAgency, id: "a1", primary: "Finance Department", secondary: "FIN", updatedAt: updated})
	for i := 0; i < 12; i++ {
		src.add(testEntity{
			typ:       EntityTypeProject,
			id:        fmt.Sprintf("p%02d", i),
			primary:   fmt.Sprintf("Farm to Market Road %d", i),
			dept:      "d1",
			status:    StatusActive,
			updatedAt: updated.Add(time.Duration(i) * time.Minute),
		})
	}
	src.add(testEntity{typ: EntityTypeBreakdown, id: "b1", primary: "Drainage Works", dept: "d1", updatedAt: updated})
	src.add(testEntity{typ: EntityTypeBudgetItem, id: "bi1", primary: "Office Supplies", dept: "d1", updatedAt: updated})
	return src
}

func snapshotJSON(t *testing.T, s *MemoryStore) string {
	t.Helper()
	b, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)
	return string(b)
}

func TestReindex_ConvergesToWritePath(t *testing.T) {
	ctx := context.Background()
	src := seedSource()

	// Index built incrementally through the write path.
	writeStore := NewMemoryStore()
	writeIdx := NewIndexer(writeStore, WithClock(fixedClock))
	for _, t2 := range AllEntityTypes() {
		for _, e := range src.entities[t2] {
			_, err := writeIdx.IndexSearchable(ctx, e)
			require.NoError(t, err)
		}
	}

	// Index rebuilt from scratch.
	store := NewMemoryStore()
	idx := NewIndexer(store, WithClock(fixedClock))
	r := NewReindexer(idx, src, WithReindexBatchSize(5), WithReindexWorkers(3, 2))

	summary, err := r.Run(ctx, ReindexOptions{})
	require.NoError(t, err)
	assert.True(t, summary.OK())
	assert.Equal(t, 17, summary.Indexed)
	assert.Equal(t, 12, summary.ByType[EntityTypeProject].Indexed)

	assert.Equal(t, snapshotJSON(t, writeStore), snapshotJSON(t, store))

	// A second run is a no-op on content.
	before := snapshotJSON(t, store)
	_, err = r.Run(ctx, ReindexOptions{Prune: true})
	require.NoError(t, err)
	assert.Equal(t, before, snapshotJSON(t, store))
}

func TestReindex_RepairsDrift(t *testing.T) {
	ctx := context.Background()
	src := seedSource()
	store := NewMemoryStore()
	idx := NewIndexer(store, WithClock(fixedClock))

	// Stale text and a missing record.
	_, err := idx.IndexEntity(ctx, IndexInput{EntityType: EntityTypeAgency, EntityID: "a1", PrimaryText: "Old Name"})
	require.NoError(t, err)

	summary, err := NewReindexer(idx, src).Run(ctx, ReindexOptions{Types: []EntityType{EntityTypeAgency, EntityTypeUser}})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Indexed)

	rec, err := store.Get(ctx, RecordKey{EntityType: EntityTypeAgency, EntityID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, "Finance Department", rec.PrimaryText)
	_, err = store.Get(ctx, RecordKey{EntityType: EntityTypeUser, EntityID: "u1"})
	require.NoError(t, err)
	_, err = store.Get(ctx, RecordKey{EntityType: EntityTypeProject, EntityID: "p00"})
	assert.ErrorIs(t, err, ErrRecordNotFound, "types outside the run are untouched")
}

func TestReindex_FailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	src := seedSource()
	src.add(testEntity{typ: EntityTypeAgency, id: "bad", primary: "Broken", status: "retired"})
	src.add(testEntity{typ: EntityTypeAgency, id: "a2", primary: "Engineering Office"})

	store := NewMemoryStore()
	summary, err := NewReindexer(NewIndexer(store), src).Run(ctx, ReindexOptions{})
	require.NoError(t, err)

	assert.False(t, summary.OK())
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 18, summary.Indexed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, Failure{EntityType: EntityTypeAgency, EntityID: "bad", Error: summary.Failures[0].Error}, summary.Failures[0])
	assert.Contains(t, summary.Failures[0].Error, "retired")

	_, err = store.Get(ctx, RecordKey{EntityType: EntityTypeAgency, EntityID: "a2"})
	assert.NoError(t, err)
}

func TestReindex_SoftDeletedSourcesAreRemoved(t *testing.T) {
	ctx := context.Background()
	src := newTestSource()
	src.add(testEntity{typ: EntityTypeProject, id: "p1", primary: "Road Repair"})
	src.add(testEntity{typ: EntityTypeProject, id: "p2", primary: "Road Widening", deleted: true})

	store := NewMemoryStore()
	idx := NewIndexer(store)
	_, err := idx.IndexEntity(ctx, IndexInput{EntityType: EntityTypeProject, EntityID: "p2", PrimaryText: "Road Widening"})
	require.NoError(t, err)

	summary, err := NewReindexer(idx, src).Run(ctx, ReindexOptions{Types: []EntityType{EntityTypeProject}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Indexed)
	assert.Equal(t, 1, summary.Skipped)

	_, err = store.Get(ctx, RecordKey{EntityType: EntityTypeProject, EntityID: "p2"})
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestReindex_Prune(t *testing.T) {
	ctx := context.Background()
	src := seedSource()
	store := NewMemoryStore()
	idx := NewIndexer(store)
	_, err := idx.IndexEntity(ctx, IndexInput{EntityType: EntityTypeAgency, EntityID: "orphan", PrimaryText: "Dissolved Agency"})
	require.NoError(t, err)

	r := NewReindexer(idx, src)

	summary, err := r.Run(ctx, ReindexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Pruned)
	_, err = store.Get(ctx, RecordKey{EntityType: EntityTypeAgency, EntityID: "orphan"})
	require.NoError(t, err, "records survive without prune")

	summary, err = r.Run(ctx, ReindexOptions{Prune: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pruned)
	assert.Equal(t, 1, summary.ByType[EntityTypeAgency].Pruned)
	_, err = store.Get(ctx, RecordKey{EntityType: EntityTypeAgency, EntityID: "orphan"})
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

// flakyUpsertStore fails upserts of one entity id.
type flakyUpsertStore struct {
	*MemoryStore
	failID string
}

func (s *flakyUpsertStore) Upsert(ctx context.Context, rec *IndexRecord) error {
	if rec.EntityID == s.failID {
		return errStoreDown
	}
	return s.MemoryStore.Upsert(ctx, rec)
}

func TestReindex_PruneKeepsRecordsWhoseUpsertFailed(t *testing.T) {
	ctx := context.Background()
	src := seedSource()
	mem := NewMemoryStore()
	_, err := NewReindexer(NewIndexer(mem), src).Run(ctx, ReindexOptions{})
	require.NoError(t, err)

	store := &flakyUpsertStore{MemoryStore: mem, failID: "a1"}
	summary, err := NewReindexer(NewIndexer(store), src).Run(ctx, ReindexOptions{Prune: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Pruned)

	rec, err := mem.Get(ctx, RecordKey{EntityType: EntityTypeAgency, EntityID: "a1"})
	require.NoError(t, err, "the previous record stays searchable")
	assert.Equal(t, "Finance Department", rec.PrimaryText)
}

func TestReindex_WalkErrorSkipsPrune(t *testing.T) {
	ctx := context.Background()
	src := seedSource()
	src.walkErr[EntityTypeProject] = errors.New("cursor lost")

	store := NewMemoryStore()
	idx := NewIndexer(store)
	_, err := idx.IndexEntity(ctx, IndexInput{EntityType: EntityTypeProject, EntityID: "stale", PrimaryText: "Stale Project"})
	require.NoError(t, err)

	summary, err := NewReindexer(idx, src).Run(ctx, ReindexOptions{Prune: true})
	require.NoError(t, err)
	assert.False(t, summary.OK())

	var walkFailure *Failure
	for i := range summary.Failures {
		if summary.Failures[i].EntityType == EntityTypeProject && summary.Failures[i].EntityID == "" {
			walkFailure = &summary.Failures[i]
		}
	}
	require.NotNil(t, walkFailure)
	assert.Contains(t, walkFailure.Error, "cursor lost")

	_, err = store.Get(ctx, RecordKey{EntityType: EntityTypeProject, EntityID: "stale"})
	assert.NoError(t, err)
}

func TestReindex_RejectsUnknownType(t *testing.T) {
	r := NewReindexer(NewIndexer(NewMemoryStore()), newTestSource())
	_, err := r.Run(context.Background(), ReindexOptions{Types: []EntityType{"widget"}})
	assert.ErrorIs(t, err, ErrUnknownEntityType)
}

func TestReindex_SingleRunAtATime(t *testing.T) {
	src := seedSource()
	src.block = make(chan struct{})
	src.started = make(chan struct{}, 1)
	r := NewReindexer(NewIndexer(NewMemoryStore()), src, WithReindexWorkers(1, 1))

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), ReindexOptions{Types: []EntityType{EntityTypeAgency}})
		done <- err
	}()

	select {
	case <-src.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never started walking")
	}

	_, err := r.Run(context.Background(), ReindexOptions{})
	assert.ErrorIs(t, err, ErrReindexInProgress)

	close(src.block)
	require.NoError(t, <-done)
}

func TestReindex_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewReindexer(NewIndexer(NewMemoryStore()), seedSource()).Run(ctx, ReindexOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
