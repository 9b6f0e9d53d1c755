package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/observability"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/search"
)

// Schema creates the entity index tables. search_index holds one row per
// (entity_type, entity_id); search_index_tokens holds the inverted postings.
const Schema = `
CREATE TABLE IF NOT EXISTS search_index (
	entity_type    TEXT        NOT NULL,
	entity_id      TEXT        NOT NULL,
	primary_text   TEXT        NOT NULL,
	secondary_text TEXT        NOT NULL DEFAULT '',
	tokens         TEXT[]      NOT NULL DEFAULT '{}',
	slug           TEXT        NOT NULL,
	department_id  TEXT        NOT NULL DEFAULT '',
	status         TEXT        NOT NULL,
	is_deleted     BOOLEAN     NOT NULL DEFAULT FALSE,
	updated_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (entity_type, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_search_index_entity_id ON search_index (entity_id);
CREATE INDEX IF NOT EXISTS idx_search_index_live ON search_index (updated_at DESC) WHERE NOT is_deleted;

CREATE TABLE IF NOT EXISTS search_index_tokens (
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	token       TEXT NOT NULL,
	PRIMARY KEY (entity_type, entity_id, token),
	FOREIGN KEY (entity_type, entity_id)
		REFERENCES search_index (entity_type, entity_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_search_index_tokens_token ON search_index_tokens (token text_pattern_ops);
`

// Migrate applies Schema. It is safe to run repeatedly.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate search index schema: %w", err)
	}
	return nil
}

const recordColumns = `r.entity_type, r.entity_id, r.primary_text, r.secondary_text, r.tokens,
	r.slug, r.department_id, r.status, r.is_deleted, r.updated_at`

// IndexStore implements search.Store on PostgreSQL. Writes use the primary
// pool, reads use a replica when one is configured.
type IndexStore struct {
	conns *ConnectionManager
}

var _ search.Store = (*IndexStore)(nil)

// NewIndexStore creates an index store over the connection manager.
func NewIndexStore(conns *ConnectionManager) *IndexStore {
	return &IndexStore{conns: conns}
}

// NewIndexStoreFromDB creates an index store over a single pool.
func NewIndexStoreFromDB(db *sql.DB) *IndexStore {
	return &IndexStore{conns: NewConnectionManagerFromDB(db, observability.NopLogger())}
}

// Get implements search.Store.
func (s *IndexStore) Get(ctx context.Context, key search.RecordKey) (*search.IndexRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM search_index r
		WHERE r.entity_type = $1 AND r.entity_id = $2`

	rec, err := scanRecord(s.conns.Primary().QueryRowContext(ctx, query, string(key.EntityType), key.EntityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, search.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get index record: %w", err)
	}
	return rec, nil
}

// Upsert implements search.Store. The record row and its postings are
// replaced in one transaction.
func (s *IndexStore) Upsert(ctx context.Context, rec *search.IndexRecord) error {
	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO search_index (entity_type, entity_id, primary_text, secondary_text, tokens,
			slug, department_id, status, is_deleted, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			primary_text = EXCLUDED.primary_text,
			secondary_text = EXCLUDED.secondary_text,
			tokens = EXCLUDED.tokens,
			slug = EXCLUDED.slug,
			department_id = EXCLUDED.department_id,
			status = EXCLUDED.status,
			is_deleted = EXCLUDED.is_deleted,
			updated_at = EXCLUDED.updated_at`,
		string(rec.EntityType), rec.EntityID, rec.PrimaryText, rec.SecondaryText,
		pq.Array(rec.Tokens), rec.Slug, rec.DepartmentID, string(rec.Status),
		rec.IsDeleted, rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert index record: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM search_index_tokens WHERE entity_type = $1 AND entity_id = $2`,
		string(rec.EntityType), rec.EntityID,
	); err != nil {
		return fmt.Errorf("failed to clear postings: %w", err)
	}

	if len(rec.Tokens) > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO search_index_tokens (entity_type, entity_id, token)
			SELECT $1::text, $2::text, tok FROM unnest($3::text[]) AS tok
			ON CONFLICT DO NOTHING`,
			string(rec.EntityType), rec.EntityID, pq.Array(rec.Tokens),
		); err != nil {
			return fmt.Errorf("failed to write postings: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index record: %w", err)
	}
	return nil
}

// DeleteByEntityID implements search.Store. Postings cascade.
func (s *IndexStore) DeleteByEntityID(ctx context.Context, entityID string) (int, error) {
	res, err := s.conns.Primary().ExecContext(ctx, `DELETE FROM search_index WHERE entity_id = $1`, entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete index records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

// Candidates implements search.Store.
func (s *IndexStore) Candidates(ctx context.Context, tokens []string, filter search.Filter, limit int) ([]*search.IndexRecord, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	w := newWhere(filter)
	tokArg := w.arg(pq.Array(tokens))
	w.add(`EXISTS (SELECT 1 FROM search_index_tokens t
		WHERE t.entity_type = r.entity_type AND t.entity_id = r.entity_id AND t.token = ANY(` + tokArg + `))`)
	return s.queryRecords(ctx, w, limit)
}

// PrefixCandidates implements search.Store.
func (s *IndexStore) PrefixCandidates(ctx context.Context, prefix string, filter search.Filter, limit int) ([]*search.IndexRecord, error) {
	w := newWhere(filter)
	prefixArg := w.arg(escapeLike(prefix) + "%")
	w.add(`EXISTS (SELECT 1 FROM search_index_tokens t
		WHERE t.entity_type = r.entity_type AND t.entity_id = r.entity_id AND t.token LIKE ` + prefixArg + `)`)
	return s.queryRecords(ctx, w, limit)
}

func (s *IndexStore) queryRecords(ctx context.Context, w *where, limit int) ([]*search.IndexRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM search_index r WHERE ` + w.String() +
		` ORDER BY r.updated_at DESC, r.entity_id, r.entity_type`
	if limit > 0 {
		query += ` LIMIT ` + w.arg(limit)
	}

	rows, err := s.conns.Replica().QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []*search.IndexRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}
	return out, nil
}

// CorpusStats implements search.Store.
func (s *IndexStore) CorpusStats(ctx context.Context, tokens []string) (search.CorpusStats, error) {
	db := s.conns.Replica()
	stats := search.CorpusStats{DocFreq: make(map[string]int, len(tokens))}

	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM search_index WHERE NOT is_deleted`,
	).Scan(&stats.TotalDocs); err != nil {
		return stats, fmt.Errorf("failed to count documents: %w", err)
	}
	for _, tok := range tokens {
		stats.DocFreq[tok] = 0
	}
	if len(tokens) == 0 {
		return stats, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT t.token, COUNT(*) FROM search_index_tokens t
		JOIN search_index r ON r.entity_type = t.entity_type AND r.entity_id = t.entity_id
		WHERE NOT r.is_deleted AND t.token = ANY($1)
		GROUP BY t.token`, pq.Array(tokens))
	if err != nil {
		return stats, fmt.Errorf("failed to query document frequencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tok string
		var n int
		if err := rows.Scan(&tok, &n); err != nil {
			return stats, fmt.Errorf("failed to scan document frequency: %w", err)
		}
		stats.DocFreq[tok] = n
	}
	return stats, rows.Err()
}

// CountByType implements search.Store.
func (s *IndexStore) CountByType(ctx context.Context, filter search.Filter, tokens []string) (map[search.EntityType]int, error) {
	w := newWhere(filter)
	if len(tokens) > 0 {
		w.add(`EXISTS (SELECT 1 FROM search_index_tokens t
		WHERE t.entity_type = r.entity_type AND t.entity_id = r.entity_id AND t.token = ANY(` + w.arg(pq.Array(tokens)) + `))`)
	}
	rows, err := s.conns.Replica().QueryContext(ctx,
		`SELECT r.entity_type, COUNT(*) FROM search_index r WHERE `+w.String()+` GROUP BY r.entity_type`,
		w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[search.EntityType]int)
	for rows.Next() {
		var et string
		var n int
		if err := rows.Scan(&et, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[search.EntityType(et)] = n
	}
	return counts, rows.Err()
}

// ListKeys implements search.Store.
func (s *IndexStore) ListKeys(ctx context.Context, entityType search.EntityType) ([]search.RecordKey, error) {
	rows, err := s.conns.Primary().QueryContext(ctx,
		`SELECT entity_id FROM search_index WHERE entity_type = $1 ORDER BY entity_id`, string(entityType))
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []search.RecordKey
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, search.RecordKey{EntityType: entityType, EntityID: id})
	}
	return keys, rows.Err()
}

// Ping implements search.Store.
func (s *IndexStore) Ping(ctx context.Context) error {
	return s.conns.HealthCheck(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*search.IndexRecord, error) {
	var (
		rec        search.IndexRecord
		entityType string
		status     string
		tokens     pq.StringArray
		updatedAt  time.Time
	)
	if err := row.Scan(
		&entityType, &rec.EntityID, &rec.PrimaryText, &rec.SecondaryText, &tokens,
		&rec.Slug, &rec.DepartmentID, &status, &rec.IsDeleted, &updatedAt,
	); err != nil {
		return nil, err
	}
	rec.EntityType = search.EntityType(entityType)
	rec.Status = search.Status(status)
	rec.Tokens = []string(tokens)
	if rec.Tokens == nil {
		rec.Tokens = []string{}
	}
	rec.UpdatedAt = updatedAt.UTC()
	return &rec, nil
}

// where accumulates positional SQL conditions over the r alias.
type where struct {
	conds []string
	args  []any
}

func newWhere(filter search.Filter) *where {
	w := &where{conds: []string{"NOT r.is_deleted"}}
	if filter.DepartmentID != "" {
		w.add("r.department_id = " + w.arg(filter.DepartmentID))
	}
	if len(filter.EntityTypes) > 0 {
		types := make([]string, len(filter.EntityTypes))
		for i, t := range filter.EntityTypes {
			types[i] = string(t)
		}
		w.add("r.entity_type = ANY(" + w.arg(pq.Array(types)) + ")")
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		w.add("r.status = ANY(" + w.arg(pq.Array(statuses)) + ")")
	}
	return w
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) add(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *where) String() string {
	return strings.Join(w.conds, " AND ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
