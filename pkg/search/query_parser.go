package search

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidFilter is returned for filter values the index cannot satisfy.
var ErrInvalidFilter = errors.New("invalid search filter")

// ParsedQuery represents a parsed search query with filters
type ParsedQuery struct {
	// Free text left after removing filters
	Text string

	// Entity type filters: type:project or type:project,agency
	EntityTypes []EntityType

	// Department filter: dept:<departmentId>
	DepartmentID string

	// Status filters: status:inactive
	Statuses []Status

	// Original query string
	Raw string
}

// QueryParser parses the search box filter syntax
type QueryParser struct {
	// Filter patterns
	filterPattern *regexp.Regexp
}

// NewQueryParser creates a new query parser
func NewQueryParser() *QueryParser {
	// Pattern to match filters: key:value or key:"quoted value"
	// Supports hyphens and underscores in key names
	filterPattern := regexp.MustCompile(`([\w-]+):("([^"]+)"|(\S+))`)

	return &QueryParser{
		filterPattern: filterPattern,
	}
}

// Parse splits a query string into free text and filters. Unknown filter
// keys stay part of the free text; unknown filter values fail with
// ErrInvalidFilter.
func (p *QueryParser) Parse(queryStr string) (*ParsedQuery, error) {
	query := &ParsedQuery{Raw: queryStr}

	var rest []string
	last := 0
	for _, loc := range p.filterPattern.FindAllStringSubmatchIndex(queryStr, -1) {
		key := queryStr[loc[2]:loc[3]]
		var value string
		if loc[6] >= 0 {
			value = queryStr[loc[6]:loc[7]] // quoted
		} else {
			value = queryStr[loc[8]:loc[9]]
		}

		known, err := p.parseFilter(query, key, value)
		if err != nil {
			return nil, err
		}
		rest = append(rest, queryStr[last:loc[0]])
		if !known {
			rest = append(rest, queryStr[loc[0]:loc[1]])
		}
		last = loc[1]
	}
	rest = append(rest, queryStr[last:])

	query.Text = strings.Join(strings.Fields(strings.Join(rest, " ")), " ")
	return query, nil
}

// parseFilter applies a single filter key-value pair. It reports false for
// keys that are not filters.
func (p *QueryParser) parseFilter(query *ParsedQuery, key, value string) (bool, error) {
	switch strings.ToLower(key) {
	case "type", "in":
		for _, v := range strings.Split(value, ",") {
			t, err := ParseEntityType(v)
			if err != nil {
				return true, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
			}
			query.EntityTypes = appendUniqueType(query.EntityTypes, t)
		}

	case "dept", "department":
		query.DepartmentID = strings.TrimSpace(value)

	case "status":
		for _, v := range strings.Split(value, ",") {
			s, err := ParseStatus(v)
			if err != nil {
				return true, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
			}
			query.Statuses = appendUniqueStatus(query.Statuses, s)
		}

	default:
		return false, nil
	}

	return true, nil
}

func appendUniqueType(types []EntityType, t EntityType) []EntityType {
	if containsType(types, t) {
		return types
	}
	return append(types, t)
}

func appendUniqueStatus(statuses []Status, s Status) []Status {
	if containsStatus(statuses, s) {
		return statuses
	}
	return append(statuses, s)
}

// HasFilters returns true if the query has any filters
func (q *ParsedQuery) HasFilters() bool {
	return len(q.EntityTypes) > 0 || q.DepartmentID != "" || len(q.Statuses) > 0
}

// String returns a human-readable representation of the query
func (q *ParsedQuery) String() string {
	parts := make([]string, 0)

	if q.Text != "" {
		parts = append(parts, fmt.Sprintf("text:%q", q.Text))
	}
	if len(q.EntityTypes) > 0 {
		parts = append(parts, fmt.Sprintf("type:%v", q.EntityTypes))
	}
	if q.DepartmentID != "" {
		parts = append(parts, fmt.Sprintf("dept:%s", q.DepartmentID))
	}
	if len(q.Statuses) > 0 {
		parts = append(parts, fmt.Sprintf("status:%v", q.Statuses))
	}

	return strings.Join(parts, ", ")
}

// Examples:
//
//	"finance"                        -> free text only
//	"finance type:agency"            -> agencies matching "finance"
//	"road type:project,breakdown"    -> projects and breakdowns
//	"dela cruz dept:d-001"           -> one department
//	"juan status:inactive"           -> inactive records only
//	"budget url:x"                   -> unknown key, searched as text
