package search

import (
	"context"
	"errors"
)

// ErrRecordNotFound is returned by Store.Get when no record exists for a key.
var ErrRecordNotFound = errors.New("index record not found")

// Filter narrows the candidate set of a read. Zero values mean "no restriction".
type Filter struct {
	EntityTypes  []EntityType
	DepartmentID string
	Statuses     []Status
}

// Matches reports whether a record passes the filter. Deleted records never match.
func (f Filter) Matches(r *IndexRecord) bool {
	if r == nil || r.IsDeleted {
		return false
	}
	if f.DepartmentID != "" && r.DepartmentID != f.DepartmentID {
		return false
	}
	if len(f.EntityTypes) > 0 && !containsType(f.EntityTypes, r.EntityType) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, r.Status) {
		return false
	}
	return true
}

func containsType(types []EntityType, t EntityType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func containsStatus(statuses []Status, s Status) bool {
	for _, x := range statuses {
		if x == s {
			return true
		}
	}
	return false
}

// CorpusStats holds the document frequencies used for IDF weighting.
// Only non-deleted records are counted.
type CorpusStats struct {
	TotalDocs int
	DocFreq   map[string]int
}

// Store is the entity index store. Implementations must make Upsert a full
// replace keyed by (EntityType, EntityID) and DeleteByEntityID idempotent.
type Store interface {
	// Get returns a copy of the record for key, or ErrRecordNotFound.
	Get(ctx context.Context, key RecordKey) (*IndexRecord, error)

	// Upsert inserts or fully replaces the record with the same key.
	Upsert(ctx context.Context, rec *IndexRecord) error

	// DeleteByEntityID physically removes every record with the given id and
	// returns how many were removed.
	DeleteByEntityID(ctx context.Context, entityID string) (int, error)

	// Candidates returns up to limit non-deleted records matching filter that
	// share at least one token with tokens.
	Candidates(ctx context.Context, tokens []string, filter Filter, limit int) ([]*IndexRecord, error)

	// PrefixCandidates returns up to limit non-deleted records matching filter
	// that hold a token starting with prefix.
	PrefixCandidates(ctx context.Context, prefix string, filter Filter, limit int) ([]*IndexRecord, error)

	// CorpusStats returns the non-deleted record count and the document
	// frequency of each requested token.
	CorpusStats(ctx context.Context, tokens []string) (CorpusStats, error)

	// CountByType counts non-deleted records matching filter per entity type.
	// A non-empty tokens restricts the count to records sharing at least one
	// of them. The count is exact; no candidate cap applies.
	CountByType(ctx context.Context, filter Filter, tokens []string) (map[EntityType]int, error)

	// ListKeys returns the keys of every record (deleted included) of a type.
	ListKeys(ctx context.Context, entityType EntityType) ([]RecordKey, error)

	// Ping checks store connectivity.
	Ping(ctx context.Context) error
}
