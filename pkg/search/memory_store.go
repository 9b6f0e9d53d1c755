package search

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store backed by maps. It keeps an inverted
// token index and a sorted vocabulary for prefix lookups.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[RecordKey]*IndexRecord
	byID     map[string]map[RecordKey]struct{}
	postings map[string]map[RecordKey]struct{}
	vocab    []string // sorted keys of postings
}

// NewMemoryStore creates an empty in-memory index store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[RecordKey]*IndexRecord),
		byID:     make(map[string]map[RecordKey]struct{}),
		postings: make(map[string]map[RecordKey]struct{}),
	}
}

var _ Store = (*MemoryStore)(nil)

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key RecordKey) (*IndexRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(ctx context.Context, rec *IndexRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	if old, ok := s.records[key]; ok {
		s.unlinkLocked(old)
	}

	stored := rec.Clone()
	s.records[key] = stored
	if s.byID[key.EntityID] == nil {
		s.byID[key.EntityID] = make(map[RecordKey]struct{})
	}
	s.byID[key.EntityID][key] = struct{}{}
	for _, tok := range stored.Tokens {
		set, ok := s.postings[tok]
		if !ok {
			set = make(map[RecordKey]struct{})
			s.postings[tok] = set
			s.insertVocabLocked(tok)
		}
		set[key] = struct{}{}
	}
	return nil
}

// DeleteByEntityID implements Store.
func (s *MemoryStore) DeleteByEntityID(ctx context.Context, entityID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.byID[entityID]
	removed := 0
	for key := range keys {
		if rec, ok := s.records[key]; ok {
			s.unlinkLocked(rec)
			delete(s.records, key)
			removed++
		}
	}
	delete(s.byID, entityID)
	return removed, nil
}

// Candidates implements Store.
func (s *MemoryStore) Candidates(ctx context.Context, tokens []string, filter Filter, limit int) ([]*IndexRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[RecordKey]struct{})
	var out []*IndexRecord
	for _, tok := range tokens {
		for key := range s.postings[tok] {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if rec := s.records[key]; filter.Matches(rec) {
				out = append(out, rec.Clone())
			}
		}
	}
	return capRecords(out, limit), ctx.Err()
}

// PrefixCandidates implements Store.
func (s *MemoryStore) PrefixCandidates(ctx context.Context, prefix string, filter Filter, limit int) ([]*IndexRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[RecordKey]struct{})
	var out []*IndexRecord
	start := sort.SearchStrings(s.vocab, prefix)
	for i := start; i < len(s.vocab) && strings.HasPrefix(s.vocab[i], prefix); i++ {
		for key := range s.postings[s.vocab[i]] {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if rec := s.records[key]; filter.Matches(rec) {
				out = append(out, rec.Clone())
			}
		}
	}
	return capRecords(out, limit), ctx.Err()
}

// CorpusStats implements Store.
func (s *MemoryStore) CorpusStats(ctx context.Context, tokens []string) (CorpusStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := CorpusStats{DocFreq: make(map[string]int, len(tokens))}
	for _, rec := range s.records {
		if !rec.IsDeleted {
			stats.TotalDocs++
		}
	}
	for _, tok := range tokens {
		n := 0
		for key := range s.postings[tok] {
			if !s.records[key].IsDeleted {
				n++
			}
		}
		stats.DocFreq[tok] = n
	}
	return stats, ctx.Err()
}

// CountByType implements Store.
func (s *MemoryStore) CountByType(ctx context.Context, filter Filter, tokens []string) (map[EntityType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[EntityType]int)
	if len(tokens) == 0 {
		for _, rec := range s.records {
			if filter.Matches(rec) {
				counts[rec.EntityType]++
			}
		}
		return counts, ctx.Err()
	}

	seen := make(map[RecordKey]struct{})
	for _, tok := range tokens {
		for key := range s.postings[tok] {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if filter.Matches(s.records[key]) {
				counts[key.EntityType]++
			}
		}
	}
	return counts, ctx.Err()
}

// ListKeys implements Store.
func (s *MemoryStore) ListKeys(ctx context.Context, entityType EntityType) ([]RecordKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []RecordKey
	for key := range s.records {
		if key.EntityType == entityType {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].EntityID < keys[j].EntityID })
	return keys, ctx.Err()
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of stored records, deleted included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns copies of every record ordered by key.
func (s *MemoryStore) Snapshot() []*IndexRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*IndexRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

func (s *MemoryStore) unlinkLocked(rec *IndexRecord) {
	key := rec.Key()
	for _, tok := range rec.Tokens {
		set := s.postings[tok]
		delete(set, key)
		if len(set) == 0 {
			delete(s.postings, tok)
			s.removeVocabLocked(tok)
		}
	}
	if ids := s.byID[key.EntityID]; ids != nil {
		delete(ids, key)
		if len(ids) == 0 {
			delete(s.byID, key.EntityID)
		}
	}
}

func (s *MemoryStore) insertVocabLocked(tok string) {
	i := sort.SearchStrings(s.vocab, tok)
	if i < len(s.vocab) && s.vocab[i] == tok {
		return
	}
	s.vocab = append(s.vocab, "")
	copy(s.vocab[i+1:], s.vocab[i:])
	s.vocab[i] = tok
}

func (s *MemoryStore) removeVocabLocked(tok string) {
	i := sort.SearchStrings(s.vocab, tok)
	if i < len(s.vocab) && s.vocab[i] == tok {
		s.vocab = append(s.vocab[:i], s.vocab[i+1:]...)
	}
}

// capRecords orders candidates most recently updated first and truncates to
// limit, so the scan cap keeps the freshest entities.
func capRecords(recs []*IndexRecord, limit int) []*IndexRecord {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].UpdatedAt.Equal(recs[j].UpdatedAt) {
			return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
		}
		if recs[i].EntityID != recs[j].EntityID {
			return recs[i].EntityID < recs[j].EntityID
		}
		return recs[i].EntityType < recs[j].EntityType
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}
