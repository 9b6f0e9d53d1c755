// Package search provides entity indexing and relevance-ranked search for
// users, departments, implementing agencies, projects, project breakdowns and
// budget items.
//
// # Overview
//
// Every searchable entity is mirrored by one IndexRecord keyed by
// (EntityType, EntityID). Records hold normalized tokens derived from their
// primary and secondary text, a slug, the owning department and a status.
//
// # Writing
//
// Domain repositories call the Indexer as the last step of each mutation:
//
//	idx := search.NewIndexer(store, search.WithIndexerLogger(logger))
//	rec, err := idx.IndexSearchable(ctx, agency)
//	n, err := idx.RemoveFromIndex(ctx, agency.ID)
//
// IndexEntity is a full replace, so retries are safe. A failed index write
// leaves the source write in place; the Reindexer repairs the drift:
//
//	summary, err := search.NewReindexer(idx, catalog).Run(ctx, search.ReindexOptions{Prune: true})
//
// # Query Syntax
//
// Free text plus optional filters:
//
//	finance
//	finance type:agency
//	road type:project,breakdown status:active
//	dela cruz dept:d-001
//
// # Ranking
//
// Matches are weighted by field (primary over secondary) and by dampened
// inverse document frequency, then adjusted for query coverage, token
// proximity, exact phrase, recency and status. All constants live in
// RankingConfig and can be reloaded at runtime.
//
// # Usage Example
//
//	ranker, _ := search.NewRanker(search.DefaultRankingConfig())
//	svc := search.NewService(store, ranker)
//	svc.Subscribe(idx)
//
//	resp, err := svc.Search(ctx, search.Request{Query: "finance", Scope: search.ScopeFromContext(ctx)})
//	if errors.Is(err, search.ErrSearchUnavailable) {
//		// show "search temporarily unavailable"
//	}
//
// # Related Packages
//
//   - pkg/entities: Source entities and repositories that call the Indexer
//   - pkg/storage/postgres: PostgreSQL index store, source reader and Redis counts cache
package search
