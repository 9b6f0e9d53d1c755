// Package postgres provides the PostgreSQL and Redis backends of the search
// service.
//
// # Overview
//
// IndexStore implements search.Store on two tables: search_index holds one
// row per (entity_type, entity_id) and search_index_tokens holds the
// inverted postings. Upsert rewrites a row and its postings in a single
// transaction. Prefix lookups use a text_pattern_ops index on the token
// column.
//
//	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
//		PrimaryURL:  cfg.DatabaseURL,
//		ReplicaURLs: postgres.ParseReplicaURLs(cfg.DatabaseReplicaURLs),
//		MaxConns:    20,
//	}, logger)
//	if err := postgres.Migrate(ctx, conns.Primary()); err != nil {
//		return err
//	}
//	store := postgres.NewIndexStore(conns)
//
// SourceReader walks the application's own tables (users, departments,
// implementing_agencies, projects, govt_project_breakdowns, budget_items)
// and feeds them to search.Reindexer.
//
// RedisClient implements search.CountsCache: category counts are stored
// under a generation counter that every index write increments.
//
// # Connections
//
// ConnectionManager routes writes to the primary and spreads reads over the
// read replicas round-robin. StartHealthCheckRoutine drops replicas that stop
// answering pings.
package postgres
