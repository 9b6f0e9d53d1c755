package entities

import (
	"context"
	"fmt"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/search"
)

// Catalog groups the repositories of every searchable entity kind.
type Catalog struct {
	Users       *Repository[*User]
	Departments *Repository[*Department]
	Agencies    *Repository[*Agency]
	Projects    *Repository[*Project]
	Breakdowns  *Repository[*Breakdown]
	BudgetItems *Repository[*BudgetItem]
}

// NewMemoryCatalog creates a catalog backed by in-memory tables.
func NewMemoryCatalog(indexer *search.Indexer, opts ...RepositoryOption) *Catalog {
	return &Catalog{
		Users:       NewRepository[*User](NewMemoryTable[*User](), indexer, opts...),
		Departments: NewRepository[*Department](NewMemoryTable[*Department](), indexer, opts...),
		Agencies:    NewRepository[*Agency](NewMemoryTable[*Agency](), indexer, opts...),
		Projects:    NewRepository[*Project](NewMemoryTable[*Project](), indexer, opts...),
		Breakdowns:  NewRepository[*Breakdown](NewMemoryTable[*Breakdown](), indexer, opts...),
		BudgetItems: NewRepository[*BudgetItem](NewMemoryTable[*BudgetItem](), indexer, opts...),
	}
}

var _ search.SourceReader = (*Catalog)(nil)

// Walk implements search.SourceReader.
func (c *Catalog) Walk(ctx context.Context, entityType search.EntityType, fn func(search.Searchable) error) error {
	switch entityType {
	case search.EntityTypeUser:
		return walk(ctx, c.Users, fn)
	case search.EntityTypeDepartment:
		return walk(ctx, c.Departments, fn)
	case search.EntityTypeAgency:
		return walk(ctx, c.Agencies, fn)
	case search.EntityTypeProject:
		return walk(ctx, c.Projects, fn)
	case search.EntityTypeBreakdown:
		return walk(ctx, c.Breakdowns, fn)
	case search.EntityTypeBudgetItem:
		return walk(ctx, c.BudgetItems, fn)
	}
	return fmt.Errorf("%w: %q", search.ErrUnknownEntityType, entityType)
}

// IndexFailures sums the index failures of every repository.
func (c *Catalog) IndexFailures() int64 {
	return c.Users.IndexFailures() +
		c.Departments.IndexFailures() +
		c.Agencies.IndexFailures() +
		c.Projects.IndexFailures() +
		c.Breakdowns.IndexFailures() +
		c.BudgetItems.IndexFailures()
}

func walk[T Entity[T]](ctx context.Context, repo *Repository[T], fn func(search.Searchable) error) error {
	if repo == nil {
		return nil
	}
	return repo.Walk(ctx, func(e T) error { return fn(e) })
}
