package entities

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/search"
)

var (
	// ErrNotFound is returned when no live or soft-deleted entity has the id.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned by Create for a duplicate id.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrValidation is returned when an entity is missing required fields.
	ErrValidation = errors.New("validation failed")
)

// Meta holds the bookkeeping fields shared by every source entity.
type Meta struct {
	ID        string        `json:"id" db:"id"`
	Status    search.Status `json:"status" db:"status"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time    `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Base returns the shared fields for in-place mutation.
func (m *Meta) Base() *Meta { return m }

// IsDeleted reports whether the entity is soft-deleted.
func (m Meta) IsDeleted() bool { return m.DeletedAt != nil }

// Entity is implemented by pointers to the source entity structs.
type Entity[T any] interface {
	search.Searchable
	Base() *Meta
	Validate() error
	Clone() T
}

// joinText joins the non-empty parts with single spaces.
func joinText(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func required(entity string, fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s requires %s", ErrValidation, entity, strings.Join(missing, ", "))
}

func (m Meta) input(t search.EntityType, primary, secondary, departmentID string) search.IndexInput {
	return search.IndexInput{
		EntityType:    t,
		EntityID:      m.ID,
		PrimaryText:   primary,
		SecondaryText: secondary,
		DepartmentID:  departmentID,
		Status:        m.Status,
		IsDeleted:     m.IsDeleted(),
		UpdatedAt:     m.UpdatedAt,
	}
}

// User is an application account.
type User struct {
	Meta
	FirstName    string `json:"first_name" db:"first_name"`
	MiddleName   string `json:"middle_name,omitempty" db:"middle_name"`
	LastName     string `json:"last_name" db:"last_name"`
	NameSuffix   string `json:"name_suffix,omitempty" db:"name_suffix"`
	Email        string `json:"email" db:"email"`
	Position     string `json:"position,omitempty" db:"position"`
	DepartmentID string `json:"department_id,omitempty" db:"department_id"`
}

// FullName returns the display name.
func (u User) FullName() string {
	return joinText(u.FirstName, u.MiddleName, u.LastName, u.NameSuffix)
}

func (u User) SearchType() search.EntityType { return search.EntityTypeUser }

// ToIndexInput indexes the full name, with email and position as secondary text.
func (u User) ToIndexInput() search.IndexInput {
	return u.input(search.EntityTypeUser, u.FullName(), joinText(u.Email, u.Position), u.DepartmentID)
}

func (u *User) Validate() error {
	return required("user", map[string]string{"first_name": u.FirstName, "last_name": u.LastName, "email": u.Email})
}

func (u *User) Clone() *User { c := *u; return &c }

// Department is an office of the provincial government.
type Department struct {
	Meta
	Name       string `json:"name" db:"name"`
	Code       string `json:"code" db:"code"`
	HeadUserID string `json:"head_user_id,omitempty" db:"head_user_id"`
}

func (d Department) SearchType() search.EntityType { return search.EntityTypeDepartment }

// ToIndexInput indexes the name with the code as secondary text. A department
// belongs to its own scope.
func (d Department) ToIndexInput() search.IndexInput {
	return d.input(search.EntityTypeDepartment, d.Name, d.Code, d.ID)
}

func (d *Department) Validate() error {
	return required("department", map[string]string{"name": d.Name, "code": d.Code})
}

func (d *Department) Clone() *Department { c := *d; return &c }

// Agency is an implementing agency or office that executes projects.
type Agency struct {
	Meta
	Code          string `json:"code" db:"code"`
	FullName      string `json:"full_name" db:"full_name"`
	Type          string `json:"type,omitempty" db:"type"`
	ContactPerson string `json:"contact_person,omitempty" db:"contact_person"`
	DepartmentID  string `json:"department_id,omitempty" db:"department_id"`
}

func (a Agency) SearchType() search.EntityType { return search.EntityTypeAgency }

// ToIndexInput indexes the full name with the code as secondary text.
func (a Agency) ToIndexInput() search.IndexInput {
	return a.input(search.EntityTypeAgency, a.FullName, a.Code, a.DepartmentID)
}

func (a *Agency) Validate() error {
	return required("agency", map[string]string{"code": a.Code, "full_name": a.FullName})
}

func (a *Agency) Clone() *Agency { c := *a; return &c }

// Project is a funded project under a budget item.
type Project struct {
	Meta
	Particulars        string  `json:"particulars" db:"particulars"`
	ImplementingOffice string  `json:"implementing_office,omitempty" db:"implementing_office"`
	Category           string  `json:"category,omitempty" db:"category"`
	Year               int     `json:"year,omitempty" db:"year"`
	BudgetItemID       string  `json:"budget_item_id,omitempty" db:"budget_item_id"`
	TotalBudget        float64 `json:"total_budget,omitempty" db:"total_budget"`
	DepartmentID       string  `json:"department_id,omitempty" db:"department_id"`
}

func (p Project) SearchType() search.EntityType { return search.EntityTypeProject }

// ToIndexInput indexes the particulars with office, category and year as
// secondary text.
func (p Project) ToIndexInput() search.IndexInput {
	return p.input(search.EntityTypeProject, p.Particulars,
		joinText(p.ImplementingOffice, p.Category, yearText(p.Year)), p.DepartmentID)
}

func (p *Project) Validate() error {
	return required("project", map[string]string{"particulars": p.Particulars})
}

func (p *Project) Clone() *Project { c := *p; return &c }

// Breakdown is one line of a government project breakdown.
type Breakdown struct {
	Meta
	ProjectID          string `json:"project_id,omitempty" db:"project_id"`
	ProjectName        string `json:"project_name" db:"project_name"`
	ImplementingOffice string `json:"implementing_office,omitempty" db:"implementing_office"`
	Municipality       string `json:"municipality,omitempty" db:"municipality"`
	Barangay           string `json:"barangay,omitempty" db:"barangay"`
	DepartmentID       string `json:"department_id,omitempty" db:"department_id"`
}

func (b Breakdown) SearchType() search.EntityType { return search.EntityTypeBreakdown }

// ToIndexInput indexes the project name with office and location as
// secondary text.
func (b Breakdown) ToIndexInput() search.IndexInput {
	return b.input(search.EntityTypeBreakdown, b.ProjectName,
		joinText(b.ImplementingOffice, b.Municipality, b.Barangay), b.DepartmentID)
}

func (b *Breakdown) Validate() error {
	return required("breakdown", map[string]string{"project_name": b.ProjectName})
}

func (b *Breakdown) Clone() *Breakdown { c := *b; return &c }

// BudgetItem is a line of the annual budget.
type BudgetItem struct {
	Meta
	Particulars  string  `json:"particulars" db:"particulars"`
	Year         int     `json:"year,omitempty" db:"year"`
	Allocated    float64 `json:"allocated,omitempty" db:"allocated"`
	DepartmentID string  `json:"department_id,omitempty" db:"department_id"`
}

func (b BudgetItem) SearchType() search.EntityType { return search.EntityTypeBudgetItem }

// ToIndexInput indexes the particulars with the fiscal year as secondary text.
func (b BudgetItem) ToIndexInput() search.IndexInput {
	return b.input(search.EntityTypeBudgetItem, b.Particulars, yearText(b.Year), b.DepartmentID)
}

func (b *BudgetItem) Validate() error {
	return required("budget item", map[string]string{"particulars": b.Particulars})
}

func (b *BudgetItem) Clone() *BudgetItem { c := *b; return &c }

func yearText(year int) string {
	if year <= 0 {
		return ""
	}
	return strconv.Itoa(year)
}

var (
	_ Entity[*User]       = (*User)(nil)
	_ Entity[*Department] = (*Department)(nil)
	_ Entity[*Agency]     = (*Agency)(nil)
	_ Entity[*Project]    = (*Project)(nil)
	_ Entity[*Breakdown]  = (*Breakdown)(nil)
	_ Entity[*BudgetItem] = (*BudgetItem)(nil)
)
