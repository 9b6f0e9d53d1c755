package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// testEntity is a minimal Searchable used across the package tests.
type testEntity struct {
	typ       EntityType
	id        string
	primary   string
	secondary string
	dept      string
	status    Status
	deleted   bool
	updatedAt time.Time
	// mapsTo overrides the type reported by ToIndexInput.
	mapsTo EntityType
}

func (e testEntity) SearchType() EntityType { return e.typ }

func (e testEntity) ToIndexInput() IndexInput {
	t := e.typ
	if e.mapsTo != "" {
		t = e.mapsTo
	}
	return IndexInput{
		EntityType:    t,
		EntityID:      e.id,
		PrimaryText:   e.primary,
		SecondaryText: e.secondary,
		DepartmentID:  e.dept,
		Status:        e.status,
		IsDeleted:     e.deleted,
		UpdatedAt:     e.updatedAt,
	}
}

// testSource is an in-memory SourceReader.
type testSource struct {
	mu       sync.Mutex
	entities map[EntityType][]Searchable
	walkErr  map[EntityType]error
	block    chan struct{}
	started  chan struct{}
}

func newTestSource() *testSource {
	return &testSource{
		entities: make(map[EntityType][]Searchable),
		walkErr:  make(map[EntityType]error),
	}
}

func (s *testSource) add(e testEntity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.typ] = append(s.entities[e.typ], e)
}

func (s *testSource) Walk(ctx context.Context, t EntityType, fn func(Searchable) error) error {
	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	list := append([]Searchable(nil), s.entities[t]...)
	walkErr := s.walkErr[t]
	s.mu.Unlock()

	for _, e := range list {
		if err := fn(e); err != nil {
			return err
		}
	}
	return walkErr
}

var errStoreDown = errors.New("connection refused")

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) Get(context.Context, RecordKey) (*IndexRecord, error) { return nil, errStoreDown }
func (failingStore) Upsert(context.Context, *IndexRecord) error           { return errStoreDown }
func (failingStore) DeleteByEntityID(context.Context, string) (int, error) {
	return 0, errStoreDown
}
func (failingStore) Candidates(context.Context, []string, Filter, int) ([]*IndexRecord, error) {
	return nil, errStoreDown
}
func (failingStore) PrefixCandidates(context.Context, string, Filter, int) ([]*IndexRecord, error) {
	return nil, errStoreDown
}
func (failingStore) CorpusStats(context.Context, []string) (CorpusStats, error) {
	return CorpusStats{}, errStoreDown
}
func (failingStore) CountByType(context.Context, Filter, []string) (map[EntityType]int, error) {
	return nil, errStoreDown
}
func (failingStore) ListKeys(context.Context, EntityType) ([]RecordKey, error) {
	return nil, errStoreDown
}
func (failingStore) Ping(context.Context) error { return errStoreDown }

// memCountsCache is an in-process CountsCache.
type memCountsCache struct {
	mu      sync.Mutex
	gen     int64
	entries map[string]map[EntityType]int
	bumps   int
}

func newMemCountsCache() *memCountsCache {
	return &memCountsCache{entries: make(map[string]map[EntityType]int)}
}

func (c *memCountsCache) Generation(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, nil
}

func (c *memCountsCache) Bump(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.bumps++
	return nil
}

func (c *memCountsCache) Get(_ context.Context, gen int64, key string) (map[EntityType]int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[cacheEntryKey(gen, key)]
	return v, ok, nil
}

func (c *memCountsCache) Set(_ context.Context, gen int64, key string, counts map[EntityType]int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheEntryKey(gen, key)] = counts
	return nil
}

func cacheEntryKey(gen int64, key string) string {
	return fmt.Sprintf("%d/%s", gen, key)
}

type testEnv struct {
	store   *MemoryStore
	indexer *Indexer
	service *Service
}

func newTestEnv(t *testing.T, opts ...ServiceOption) *testEnv {
	t.Helper()
	store := NewMemoryStore()
	idx := NewIndexer(store, WithClock(fixedClock))
	ranker, err := NewRanker(DefaultRankingConfig())
	require.NoError(t, err)
	svc := NewService(store, ranker, append([]ServiceOption{WithServiceClock(fixedClock)}, opts...)...)
	svc.Subscribe(idx)
	return &testEnv{store: store, indexer: idx, service: svc}
}

func (e *testEnv) index(t *testing.T, in IndexInput) *IndexRecord {
	t.Helper()
	if in.UpdatedAt.IsZero() {
		in.UpdatedAt = testNow.Add(-time.Hour)
	}
	rec, err := e.indexer.IndexEntity(context.Background(), in)
	require.NoError(t, err)
	return rec
}

func (e *testEnv) search(t *testing.T, req Request) *Response {
	t.Helper()
	resp, err := e.service.Search(context.Background(), req)
	require.NoError(t, err)
	return resp
}

func resultIDs(resp *Response) []string {
	ids := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		ids = append(ids, r.EntityID)
	}
	return ids
}
