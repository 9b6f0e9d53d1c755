package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/entities"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/search"
)

const metaColumns = `id, COALESCE(status, 'active'), created_at, updated_at, deleted_at`

// sourceQueries selects each application table in id order. Soft-deleted
// rows are included so the reindexer can drop their records.
var sourceQueries = map[search.EntityType]string{
	search.EntityTypeUser: `SELECT ` + metaColumns + `, COALESCE(first_name, ''), COALESCE(middle_name, ''),
		COALESCE(last_name, ''), COALESCE(name_suffix, ''), COALESCE(email, ''), COALESCE(position, ''),
		COALESCE(department_id, '') FROM users ORDER BY id`,
	search.EntityTypeDepartment: `SELECT ` + metaColumns + `, COALESCE(name, ''), COALESCE(code, ''),
		COALESCE(head_user_id, '') FROM departments ORDER BY id`,
	search.EntityTypeAgency: `SELECT ` + metaColumns + `, COALESCE(code, ''), COALESCE(full_name, ''),
		COALESCE(type, ''), COALESCE(contact_person, ''), COALESCE(department_id, '')
		FROM implementing_agencies ORDER BY id`,
	search.EntityTypeProject: `SELECT ` + metaColumns + `, COALESCE(particulars, ''), COALESCE(implementing_office, ''),
		COALESCE(category, ''), COALESCE(year, 0), COALESCE(budget_item_id, ''), COALESCE(total_budget, 0),
		COALESCE(department_id, '') FROM projects ORDER BY id`,
	search.EntityTypeBreakdown: `SELECT ` + metaColumns + `, COALESCE(project_id, ''), COALESCE(project_name, ''),
		COALESCE(implementing_office, ''), COALESCE(municipality, ''), COALESCE(barangay, ''),
		COALESCE(department_id, '') FROM govt_project_breakdowns ORDER BY id`,
	search.EntityTypeBudgetItem: `SELECT ` + metaColumns + `, COALESCE(particulars, ''), COALESCE(year, 0),
		COALESCE(allocated, 0), COALESCE(department_id, '') FROM budget_items ORDER BY id`,
}

// SourceReader walks the application's source tables with the same field
// mappings the write path uses.
type SourceReader struct {
	db *sql.DB
}

var _ search.SourceReader = (*SourceReader)(nil)

// NewSourceReader creates a source reader. Reads go to a replica when one is
// configured.
func NewSourceReader(conns *ConnectionManager) *SourceReader {
	return &SourceReader{db: conns.Replica()}
}

// Walk implements search.SourceReader.
func (r *SourceReader) Walk(ctx context.Context, entityType search.EntityType, fn func(search.Searchable) error) error {
	query, ok := sourceQueries[entityType]
	if !ok {
		return fmt.Errorf("%w: %q", search.ErrUnknownEntityType, entityType)
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query %s sources: %w", entityType, err)
	}
	defer rows.Close()

	for rows.Next() {
		entity, err := scanSource(entityType, rows)
		if err != nil {
			return fmt.Errorf("failed to scan %s source: %w", entityType, err)
		}
		if err := fn(entity); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate %s sources: %w", entityType, err)
	}
	return nil
}

func scanSource(entityType search.EntityType, row rowScanner) (search.Searchable, error) {
	var (
		meta    entities.Meta
		status  string
		deleted sql.NullTime
	)
	metaDest := []any{&meta.ID, &status, &meta.CreatedAt, &meta.UpdatedAt, &deleted}
	finish := func() {
		meta.Status = search.Status(status)
		meta.CreatedAt = meta.CreatedAt.UTC()
		meta.UpdatedAt = meta.UpdatedAt.UTC()
		if deleted.Valid {
			t := deleted.Time.UTC()
			meta.DeletedAt = &t
		}
	}

	switch entityType {
	case search.EntityTypeUser:
		u := &entities.User{}
		if err := row.Scan(append(metaDest, &u.FirstName, &u.MiddleName, &u.LastName,
			&u.NameSuffix, &u.Email, &u.Position, &u.DepartmentID)...); err != nil {
			return nil, err
		}
		finish()
		u.Meta = meta
		return u, nil
	case search.EntityTypeDepartment:
		d := &entities.Department{}
		if err := row.Scan(append(metaDest, &d.Name, &d.Code, &d.HeadUserID)...); err != nil {
			return nil, err
		}
		finish()
		d.Meta = meta
		return d, nil
	case search.EntityTypeAgency:
		a := &entities.Agency{}
		if err := row.Scan(append(metaDest, &a.Code, &a.FullName, &a.Type,
			&a.ContactPerson, &a.DepartmentID)...); err != nil {
			return nil, err
		}
		finish()
		a.Meta = meta
		return a, nil
	case search.EntityTypeProject:
		p := &entities.Project{}
		if err := row.Scan(append(metaDest, &p.Particulars, &p.ImplementingOffice, &p.Category,
			&p.Year, &p.BudgetItemID, &p.TotalBudget, &p.DepartmentID)...); err != nil {
			return nil, err
		}
		finish()
		p.Meta = meta
		return p, nil
	case search.EntityTypeBreakdown:
		b := &entities.Breakdown{}
		if err := row.Scan(append(metaDest, &b.ProjectID, &b.ProjectName, &b.ImplementingOffice,
			&b.Municipality, &b.Barangay, &b.DepartmentID)...); err != nil {
			return nil, err
		}
		finish()
		b.Meta = meta
		return b, nil
	case search.EntityTypeBudgetItem:
		b := &entities.BudgetItem{}
		if err := row.Scan(append(metaDest, &b.Particulars, &b.Year, &b.Allocated, &b.DepartmentID)...); err != nil {
			return nil, err
		}
		finish()
		b.Meta = meta
		return b, nil
	}
	return nil, fmt.Errorf("%w: %q", search.ErrUnknownEntityType, entityType)
}
