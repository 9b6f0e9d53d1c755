package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_AgencyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.index(t, IndexInput{
		EntityType:    EntityTypeAgency,
		EntityID:      "a1",
		PrimaryText:   "Finance Department",
		SecondaryText: "FIN",
	})
	resp := env.search(t, Request{Query: "finance"})
	require.Equal(t, []string{"a1"}, resultIDs(resp))
	assert.Equal(t, "finance-department-a1", resp.Results[0].Slug)

	// Rename: still findable by the shared word and by the new one.
	env.index(t, IndexInput{
		EntityType:    EntityTypeAgency,
		EntityID:      "a1",
		PrimaryText:   "Budget and Finance Office",
		SecondaryText: "FIN",
	})
	assert.Equal(t, []string{"a1"}, resultIDs(env.search(t, Request{Query: "finance"})))
	assert.Equal(t, []string{"a1"}, resultIDs(env.search(t, Request{Query: "budget"})))
	assert.Empty(t, env.search(t, Request{Query: "department"}).Results)
	assert.Equal(t, 1, env.store.Len())

	n, err := env.indexer.RemoveFromIndex(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, env.search(t, Request{Query: "finance"}).Results)
	assert.Empty(t, env.search(t, Request{Query: "budget"}).Results)
}

func TestService_CaseAndDiacriticInsensitive(t *testing.T) {
	env := newTestEnv(t)
	env.index(t, IndexInput{EntityType: EntityTypeUser, EntityID: "u1", PrimaryText: "Juan Dela Cruz", SecondaryText: "juan@ppdo.gov.ph"})
	env.index(t, IndexInput{EntityType: EntityTypeUser, EntityID: "u2", PrimaryText: "José Rizal"})

	assert.Equal(t, []string{"u1"}, resultIDs(env.search(t, Request{Query: "JUAN dela-cruz"})))
	assert.Equal(t, []string{"u2"}, resultIDs(env.search(t, Request{Query: "jose"})))
	assert.Equal(t, []string{"u2"}, resultIDs(env.search(t, Request{Query: "José"})))
}

func TestService_SoftDeletedNeverReturned(t *testing.T) {
	env := newTestEnv(t)
	env.index(t, IndexInput{EntityType: EntityTypeProject, EntityID: "p1", PrimaryText: "Road Repair"})
	env.index(t, IndexInput{EntityType: EntityTypeProject, EntityID: "p2", PrimaryText: "Road Widening", IsDeleted: true})

	assert.Equal(t, []string{"p1"}, resultIDs(env.search(t, Request{Query: "road"})))

	counts, err := env.service.CategoryCounts(context.Background(), CountsRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total)

	sugg, err := env.service.Suggestions(context.Background(), SuggestRequest{Query: "road wid"})
	require.NoError(t, err)
	assert.Empty(t, sugg)
}

func TestService_Filters(t *testing.T) {
	env := newTestEnv(t)
	env.index(t, IndexInput{EntityType: EntityTypeProject, EntityID: "p1", PrimaryText: "Road Repair", DepartmentID: "d1"})
	env.index(t, IndexInput{EntityType: EntityTypeBreakdown, EntityID: "b1", PrimaryText: "Road Drainage", DepartmentID: "d1"})
	env.index(t, IndexInput{EntityType: EntityTypeProject, EntityID: "p2", PrimaryText: "Road Lighting", DepartmentID: "d2", Status: StatusInactive})

	tests := []struct {
		name string
		req  Request
		want []string
	}{
		{name: "structured type", req: Request{Query: "road", EntityTypes: []EntityType{EntityTypeBreakdown}}, want: []string{"b1"}},
		{name: "query type", req: Request{Query: "road type:project"}, want: []string{"p1", "p2"}},
		{name: "department", req: Request{Query: "road", DepartmentID: "d2"}, want: []string{"p2"}},
		{name: "query department", req: Request{Query: "road dept:d1 type:project"}, want: []string{"p1"}},
		{name: "status", req: Request{Query: "road status:inactive"}, want: []string{"p2"}},
		{name: "intersecting types", req: Request{Query: "road type:project,breakdown", EntityTypes: []EntityType{EntityTypeBreakdown}}, want: []string{"b1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.search(t, tt.req)
			assert.Empty(t, resp.Error)
			assert.ElementsMatch(t, tt.want, resultIDs(resp))
		})
	}
}

func TestService_InvalidFiltersReturnMessage(t *testing.T) {
	env := newTestEnv(t)
	env.index(t, IndexInput{EntityType: EntityTypeProject, EntityID: "p1", PrimaryText: "Road Repair", DepartmentID: "d1"})

	tests := []struct {
		name string
		req  Request
	}{
		{name: "unknown query type", req: Request{Query: "road type:widget"}},
		{name: "unknown structured type", req: Request{Query: "road", EntityTypes: []EntityType{"widget"}}},
		{name: "unknown status", req: Request{Query: "road", Statuses: []Status{"retired"}}},
		{name: "conflicting departments", req: Request{Query: "road dept:d1", DepartmentID: "d2"}},
		{name: "disjoint types", req: Request{Query: "road type:user", EntityTypes: []EntityType{EntityTypeProject}}},
		{name: "department outside scope", req: Request{Query: "road", DepartmentID: "d2", Scope: Scope{DepartmentID: "d1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := env.service.Search(context.Background(), tt.req)
			require.NoError(t, err)
			assert.NotEmpty(t, resp.Error)
			assert.Empty(t, resp.Results)
			assert.NotNil(t, resp.Results)
		})
	}
}

func TestService_ScopeRestrictsResults(t *testing.T) {
	env := newTestEnv(t)
	env.index(t, IndexInput{EntityType: EntityTypeProject, EntityID: "p1", PrimaryText: "Road Repair", DepartmentID: "d1"})
	env.index(t, IndexInput{EntityType: EntityTypeProject, EntityID: "p2", PrimaryText: "Road Repair", DepartmentID: "d2"})

	resp := env.search(t, Request{Query: "road", Scope: Scope{DepartmentID: "d1"}})
	assert.Equal(t, []string{"p1"}, resultIDs(resp))

	resp = env.search(t, Request{Query: "road dept:d1", Scope: Scope{DepartmentID: "d1"}})
	assert.Equal(t, []string{"p1"}, resultIDs(resp))

	counts, err := env.service.CategoryCounts(context.Background(), CountsRequest{Query: "road", Scope: Scope{DepartmentID: "d2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total)
}

func TestService_EmptyQuery(t *testing.T) {
	env := newTestEnv(t)
	env.index(t, IndexInput{EntityType: EntityTypeProject, EntityID: "p1", PrimaryText: "Road Repair"})

	for _, q := range []string{"", "   ", "ang mga", "type:project"} {
		resp := env.search(t, Request{Query: q})
		assert.Empty(t, resp.Results, q)
		assert.Empty(t, resp.Error, q)
	}
}

func TestService_Pagination(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 25; i++ {
		env.index(t, IndexInput{
			EntityType:  EntityTypeProject,
			EntityID:    fmt.Sprintf("p%02d", i),
			PrimaryText: fmt.Sprintf("Road Project %02d", i),
			UpdatedAt:   testNow.Add(-time.Duration(i) * time.Hour),
		})
	}

	first := env.search(t, Request{Query: "road"})
	assert.Equal(t, 25, first.Total)
	assert.Len(t, first.Results, DefaultLimit)
	assert.Equal(t, "p00", first.Results[0].EntityID)

	second := env.search(t, Request{Query: "road", Offset: 20})
	assert.Len(t, second.Results, 5)
	assert.Equal(t, "p20", second.Results[0].EntityID)

	beyond := env.search(t, Request{Query: "road", Offset: 100})
	assert.Empty(t, beyond.Results)
	assert.Equal(t, 25, beyond.Total)

	clamped := env.search(t, Request{Query: "road", Limit: 1000})
	assert.Equal(t, MaxLimit, clamped.Limit)
	assert.Len(t, clamped.Results, 25)

	negative := env.search(t, Request{Query: "road", Limit: -5, Offset: -3})
	assert.Equal(t, DefaultLimit, negative.Limit)
	assert.Equal(t, 0, negative.Offset)
}

func TestService_CandidateCap(t *testing.T) {
	env := newTestEnv(t, WithMaxCandidates(5))
	for i := 0; i < 10; i++ {
		env.index(t, IndexInput{
			EntityType:  EntityTypeBudgetItem,
			EntityID:    fmt.Sprintf("b%d", i),
			PrimaryText: "Office Supplies",
			UpdatedAt:   testNow.Add(-time.Duration(i) * time.Minute),
		})
	}

	resp := env.search(t, Request{Query: "supplies"})
	assert.True(t, resp.Truncated)
	assert.Equal(t, 5, resp.Total)
	assert.Equal(t, []string{"b0", "b1", "b2", "b3", "b4"}, resultIDs(resp))

	counts, err := env.service.CategoryCounts(context.Background(), CountsRequest{Query: "supplies"})
	require.NoError(t, err)
	assert.Equal(t, 10, counts.Total, "badge counts are not bounded by the candidate cap")
}

func TestService_StoreFailureIsUnavailable(t *testing.T) {
	ranker, err := NewRanker(DefaultRankingConfig())
	require.NoError(t, err)
	svc := NewService(failingStore{}, ranker)
	ctx := context.Background()

	_, err = svc.Search(ctx, Request{Query: "finance"})
	assert.ErrorIs(t, err, ErrSearchUnavailable)

	_, err = svc.CategoryCounts(ctx, CountsRequest{})
	assert.ErrorIs(t, err, ErrSearchUnavailable)

	_, err = svc.CategoryCounts(ctx, CountsRequest{Query: "finance"})
	assert.ErrorIs(t, err, ErrSearchUnavailable)

	_, err = svc.Suggestions(ctx, SuggestRequest{Query: "fin"})
	assert.ErrorIs(t, err, ErrSearchUnavailable)
}

func TestService_CategoryCounts(t *testing.T) {
	env := newTestEnv(t)
	env.index(t, IndexInput{EntityType: EntityTypeAgency, EntityID: "a1", PrimaryText: "Finance Department"})
	env.index(t, IndexInput{EntityType: EntityTypeDepartment, EntityID: "d1", PrimaryText: "Finance Division"})
	env.index(t, IndexInput{EntityType: EntityTypeProject, EntityID: "p1", PrimaryText: "Road Repair", SecondaryText: "finance approved"})
	env.index(t, IndexInput{EntityType: EntityTypeProject, EntityID: "p2", PrimaryText: "Bridge Repair"})

	all, err := env.service.CategoryCounts(context.Background(), CountsRequest{})
	require.NoError(t, err)
	require.Len(t, all.Counts, len(AllEntityTypes()))
	assert.Equal(t, 4, all.Total)

	got := map[EntityType]int{}
	for i, c := range all.Counts {
		assert.Equal(t, AllEntityTypes()[i], c.EntityType)
		assert.Equal(t, c.EntityType.Label(), c.Label)
		got[c.EntityType] = c.Count
	}
	assert.Equal(t, 0, got[EntityTypeUser])
	assert.Equal(t, 2, got[EntityTypeProject])

	finance, err := env.service.CategoryCounts(context.Background(), CountsRequest{Query: "finance type:agency"})
	require.NoError(t, err)
	assert.Equal(t, 3, finance.Total, "type filters do not narrow counts")
	assert.Equal(t, 0, finance.Counts[0].Count)

	stop, err := env.service.CategoryCounts(context.Background(), CountsRequest{Query: "ang mga"})
	require.NoError(t, err)
	assert.Equal(t, 0, stop.Total)
	assert.Len(t, stop.Counts, len(AllEntityTypes()))

	bad, err := env.service.CategoryCounts(context.Background(), CountsRequest{Query: "status:retired"})
	require.NoError(t, err)
	assert.NotEmpty(t, bad.Error)
	assert.Len(t, bad.Counts, len(AllEntityTypes()))
}

func TestService_CategoryCountsCache(t *testing.T) {
	cache := newMemCountsCache()
	env := newTestEnv(t, WithCountsCache(cache))
	ctx := context.Background()
	env.index(t, IndexInput{EntityType: EntityTypeAgency, EntityID: "a1", PrimaryText: "Finance Department"})

	first, err := env.service.CategoryCounts(ctx, CountsRequest{Query: "finance"})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 1, first.Total)

	second, err := env.service.CategoryCounts(ctx, CountsRequest{Query: "finance"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, second.Total)

	env.index(t, IndexInput{EntityType: EntityTypeProject, EntityID: "p1", PrimaryText: "Finance Building"})

	third, err := env.service.CategoryCounts(ctx, CountsRequest{Query: "finance"})
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, third.Total)
	assert.Equal(t, 2, cache.bumps)
}

func TestService_Suggestions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.index(t, IndexInput{EntityType: EntityTypeAgency, EntityID: "a1", PrimaryText: "Finance Department"})
	env.index(t, IndexInput{EntityType: EntityTypeDepartment, EntityID: "d1", PrimaryText: "Finance Department"})
	env.index(t, IndexInput{EntityType: EntityTypeAgency, EntityID: "a2", PrimaryText: "Fine Arts Council"})
	env.index(t, IndexInput{EntityType: EntityTypeProject, EntityID: "p1", PrimaryText: "Road Finance Plan"})
	env.index(t, IndexInput{EntityType: EntityTypeProject, EntityID: "p2", PrimaryText: "Bridge Plan", SecondaryText: "financed by loan"})
	env.index(t, IndexInput{EntityType: EntityTypeUser, EntityID: "u1", PrimaryText: "Budget Officer"})

	got, err := env.service.Suggestions(ctx, SuggestRequest{Query: "fin"})
	require.NoError(t, err)
	texts := make([]string, 0, len(got))
	for _, s := range got {
		texts = append(texts, s.Text)
	}
	assert.ElementsMatch(t, []string{"Finance Department", "Fine Arts Council", "Road Finance Plan", "Bridge Plan"}, texts)
	assert.Equal(t, "Bridge Plan", texts[len(texts)-1], "secondary-only matches rank last")

	multi, err := env.service.Suggestions(ctx, SuggestRequest{Query: "road fin"})
	require.NoError(t, err)
	require.Len(t, multi, 1)
	assert.Equal(t, "p1", multi[0].EntityID)

	typed, err := env.service.Suggestions(ctx, SuggestRequest{Query: "fin", EntityTypes: []EntityType{EntityTypeProject}})
	require.NoError(t, err)
	assert.Len(t, typed, 2)

	limited, err := env.service.Suggestions(ctx, SuggestRequest{Query: "fin", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	empty, err := env.service.Suggestions(ctx, SuggestRequest{Query: "  "})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestService_SuggestionsTrailingStopWord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.index(t, IndexInput{EntityType: EntityTypeDepartment, EntityID: "d1", PrimaryText: "Department of Health"})
	env.index(t, IndexInput{EntityType: EntityTypeBudgetItem, EntityID: "bi1", PrimaryText: "Office Supplies"})

	for _, q := range []string{"department", "department of", "department of h"} {
		got, err := env.service.Suggestions(ctx, SuggestRequest{Query: q})
		require.NoError(t, err, q)
		require.Len(t, got, 1, q)
		assert.Equal(t, "d1", got[0].EntityID, q)
	}

	// A lone stop word is still a prefix of real words.
	got, err := env.service.Suggestions(ctx, SuggestRequest{Query: "of"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bi1", got[0].EntityID)
}

func TestService_SuggestionsInvalidatedOnWrite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.index(t, IndexInput{EntityType: EntityTypeAgency, EntityID: "a1", PrimaryText: "Finance Department"})

	before, err := env.service.Suggestions(ctx, SuggestRequest{Query: "fin"})
	require.NoError(t, err)
	require.Len(t, before, 1)

	// Mutating the returned slice must not leak into the cache.
	before[0].Text = "mutated"

	env.index(t, IndexInput{EntityType: EntityTypeAgency, EntityID: "a2", PrimaryText: "Finland Desk"})

	after, err := env.service.Suggestions(ctx, SuggestRequest{Query: "fin"})
	require.NoError(t, err)
	assert.Len(t, after, 2)
	for _, s := range after {
		assert.NotEqual(t, "mutated", s.Text)
	}

	_, err = env.indexer.RemoveFromIndex(ctx, "a2")
	require.NoError(t, err)
	final, err := env.service.Suggestions(ctx, SuggestRequest{Query: "fin"})
	require.NoError(t, err)
	assert.Len(t, final, 1)
}

func TestService_RankerReload(t *testing.T) {
	env := newTestEnv(t)
	env.index(t, IndexInput{EntityType: EntityTypeAgency, EntityID: "a1", PrimaryText: "Finance"})

	before := env.search(t, Request{Query: "finance"}).Results[0].Score

	cfg := DefaultRankingConfig()
	cfg.PrimaryWeight = 6
	require.NoError(t, env.service.Ranker().SetConfig(cfg))

	after := env.search(t, Request{Query: "finance"}).Results[0].Score
	assert.InDelta(t, before*2, after, 1e-9)
}
