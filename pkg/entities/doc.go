// Package entities holds the searchable source entities and the repositories
// that mutate them.
//
// Every repository mutation writes the source table first and calls the
// search indexer as its last step:
//
//	catalog := entities.NewMemoryCatalog(indexer)
//	agency, err := catalog.Agencies.Create(ctx, &entities.Agency{Code: "FIN", FullName: "Finance Department"})
//
// An index failure is logged and counted but does not undo the source write.
// Catalog implements search.SourceReader so a search.Reindexer can rebuild
// the index from the same field mappings.
package entities
