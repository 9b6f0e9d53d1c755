package search

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownEntityType is returned when an entity type string is not one of AllEntityTypes.
	ErrUnknownEntityType = errors.New("unknown entity type")

	// ErrUnknownStatus is returned when a status string is not a recognised lifecycle tag.
	ErrUnknownStatus = errors.New("unknown status")
)

// EntityType discriminates which source table an IndexRecord mirrors.
type EntityType string

const (
	EntityTypeUser       EntityType = "user"
	EntityTypeDepartment EntityType = "department"
	EntityTypeAgency     EntityType = "agency"
	EntityTypeProject    EntityType = "project"
	EntityTypeBreakdown  EntityType = "breakdown"
	EntityTypeBudgetItem EntityType = "budgetItem"
)

// AllEntityTypes returns every searchable entity type in display order.
// Reindex walks and category counts iterate this list.
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityTypeUser,
		EntityTypeDepartment,
		EntityTypeAgency,
		EntityTypeProject,
		EntityTypeBreakdown,
		EntityTypeBudgetItem,
	}
}

// Valid reports whether t is one of AllEntityTypes.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeUser, EntityTypeDepartment, EntityTypeAgency,
		EntityTypeProject, EntityTypeBreakdown, EntityTypeBudgetItem:
		return true
	}
	return false
}

// Label returns the human readable tab label for the type.
func (t EntityType) Label() string {
	switch t {
	case EntityTypeUser:
		return "Users"
	case EntityTypeDepartment:
		return "Departments"
	case EntityTypeAgency:
		return "Implementing Agencies"
	case EntityTypeProject:
		return "Projects"
	case EntityTypeBreakdown:
		return "Project Breakdowns"
	case EntityTypeBudgetItem:
		return "Budget Items"
	}
	return string(t)
}

// ParseEntityType parses a type name case-insensitively. Common plural and
// snake_case spellings used by the UI are accepted.
func ParseEntityType(s string) (EntityType, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "_", "")
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.TrimSuffix(normalized, "s")

	switch normalized {
	case "user":
		return EntityTypeUser, nil
	case "department", "dept":
		return EntityTypeDepartment, nil
	case "agency", "agencie", "implementingagency", "implementingagencie":
		return EntityTypeAgency, nil
	case "project":
		return EntityTypeProject, nil
	case "breakdown", "projectbreakdown":
		return EntityTypeBreakdown, nil
	case "budgetitem", "budget":
		return EntityTypeBudgetItem, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
}

// Status is the lifecycle tag mirrored from the source entity.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusPending   Status = "pending"
	StatusArchived  Status = "archived"
)

// Valid reports whether s is a recognised status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusPending, StatusArchived:
		return true
	}
	return false
}

// ParseStatus parses a status case-insensitively. An empty string parses as active.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if st == "" {
		return StatusActive, nil
	}
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// RecordKey identifies an IndexRecord.
type RecordKey struct {
	EntityType EntityType
	EntityID   string
}

func (k RecordKey) String() string {
	return string(k.EntityType) + ":" + k.EntityID
}

// IndexRecord is the denormalised, searchable mirror of one source entity.
type IndexRecord struct {
	EntityType    EntityType `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	PrimaryText   string     `json:"primary_text"`
	SecondaryText string     `json:"secondary_text,omitempty"`
	Tokens        []string   `json:"tokens"`
	Slug          string     `json:"slug"`
	DepartmentID  string     `json:"department_id,omitempty"`
	Status        Status     `json:"status"`
	IsDeleted     bool       `json:"is_deleted"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Key returns the record's (entityType, entityId) key.
func (r *IndexRecord) Key() RecordKey {
	return RecordKey{EntityType: r.EntityType, EntityID: r.EntityID}
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *IndexRecord) Clone() *IndexRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Tokens = append([]string(nil), r.Tokens...)
	return &c
}

// IndexInput carries the arguments of the indexing protocol.
type IndexInput struct {
	EntityType    EntityType `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	PrimaryText   string     `json:"primary_text"`
	SecondaryText string     `json:"secondary_text,omitempty"`
	DepartmentID  string     `json:"department_id,omitempty"`
	Status        Status     `json:"status,omitempty"`
	IsDeleted     bool       `json:"is_deleted,omitempty"`

	// UpdatedAt is the source entity's modification time. Zero means "now".
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Searchable is implemented by every source entity that must appear in search.
// Repositories call the indexer with ToIndexInput after each write.
type Searchable interface {
	SearchType() EntityType
	ToIndexInput() IndexInput
}
