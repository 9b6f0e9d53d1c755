package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/contextkeys"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/observability"
)

var searchTracer = observability.Tracer("search/service")

// ErrSearchUnavailable wraps index store failures on the read path. Callers
// must present it as "search temporarily unavailable", not as "no results".
var ErrSearchUnavailable = errors.New("search temporarily unavailable")

const (
	DefaultLimit            = 20
	MaxLimit                = 100
	DefaultSuggestionLimit  = 8
	MaxSuggestionLimit      = 20
	DefaultMaxCandidates    = 2000
	defaultSuggestCacheSize = 1024
	defaultSuggestCacheTTL  = 30 * time.Second
)

// Scope restricts a caller to part of the index. The zero Scope is unrestricted.
type Scope struct {
	DepartmentID string `json:"department_id,omitempty"`
}

// ScopeFromContext reads the caller scope set by the scope middleware.
func ScopeFromContext(ctx context.Context) Scope {
	return Scope{DepartmentID: contextkeys.GetDepartmentScope(ctx)}
}

// Request is a search query.
type Request struct {
	Query        string
	EntityTypes  []EntityType
	DepartmentID string
	Statuses     []Status
	Limit        int
	Offset       int
	Scope        Scope
}

// Result is one ranked hit with everything a UI needs to render it.
type Result struct {
	EntityType    EntityType `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	PrimaryText   string     `json:"primary_text"`
	SecondaryText string     `json:"secondary_text,omitempty"`
	Slug          string     `json:"slug"`
	DepartmentID  string     `json:"department_id,omitempty"`
	Status        Status     `json:"status"`
	Score         float64    `json:"score"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Response is a page of search results. Error is set, with no results, when
// the filters cannot be satisfied.
type Response struct {
	Results     []Result     `json:"results"`
	Total       int          `json:"total"`
	Limit       int          `json:"limit"`
	Offset      int          `json:"offset"`
	Query       string       `json:"query"`
	ParsedQuery *ParsedQuery `json:"parsed_query,omitempty"`
	// Truncated reports that the candidate scan hit its cap.
	Truncated bool   `json:"truncated,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CountsRequest asks for per-type badge counts.
type CountsRequest struct {
	Query string
	Scope Scope
}

// CategoryCount is the badge count of one entity type.
type CategoryCount struct {
	EntityType EntityType `json:"entity_type"`
	Label      string     `json:"label"`
	Count      int        `json:"count"`
}

// CategoryCounts holds one count per entity type, zeros included, in
// AllEntityTypes order.
type CategoryCounts struct {
	Query  string          `json:"query"`
	Counts []CategoryCount `json:"counts"`
	Total  int             `json:"total"`
	Cached bool            `json:"cached,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// SuggestRequest asks for type-ahead completions.
type SuggestRequest struct {
	Query       string
	Limit       int
	EntityTypes []EntityType
	Scope       Scope
}

// Suggestion is one type-ahead entry.
type Suggestion struct {
	Text       string     `json:"text"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Slug       string     `json:"slug"`
}

// CountsCache caches category counts under an index generation that every
// index write bumps, so stale entries are never read after a write.
type CountsCache interface {
	Generation(ctx context.Context) (int64, error)
	Bump(ctx context.Context) error
	Get(ctx context.Context, generation int64, key string) (map[EntityType]int, bool, error)
	Set(ctx context.Context, generation int64, key string, counts map[EntityType]int) error
}

// Service implements the query API over a Store.
type Service struct {
	store         Store
	ranker        *Ranker
	parser        *QueryParser
	logger        *observability.Logger
	metrics       *observability.Metrics
	counts        CountsCache
	suggestions   *expirable.LRU[string, []Suggestion]
	maxCandidates int
	now           func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *observability.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithServiceMetrics sets the Prometheus metrics.
func WithServiceMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithCountsCache enables the category counts cache.
func WithCountsCache(c CountsCache) ServiceOption {
	return func(s *Service) { s.counts = c }
}

// WithSuggestionCache sizes the in-process suggestion cache. size <= 0 disables it.
func WithSuggestionCache(size int, ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if size <= 0 {
			s.suggestions = nil
			return
		}
		s.suggestions = expirable.NewLRU[string, []Suggestion](size, nil, ttl)
	}
}

// WithMaxCandidates bounds the records scanned per query.
func WithMaxCandidates(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxCandidates = n
		}
	}
}

// WithServiceClock overrides the clock used for recency decay.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates the query API.
func NewService(store Store, ranker *Ranker, opts ...ServiceOption) *Service {
	s := &Service{
		store:         store,
		ranker:        ranker,
		parser:        NewQueryParser(),
		logger:        observability.NopLogger(),
		suggestions:   expirable.NewLRU[string, []Suggestion](defaultSuggestCacheSize, nil, defaultSuggestCacheTTL),
		maxCandidates: DefaultMaxCandidates,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe invalidates the service caches on every write made through idx.
func (s *Service) Subscribe(idx *Indexer) {
	idx.OnChange(func(ctx context.Context, ev ChangeEvent) {
		s.Invalidate(ctx)
	})
}

// Invalidate drops cached suggestions and bumps the counts generation.
func (s *Service) Invalidate(ctx context.Context) {
	if s.suggestions != nil {
		s.suggestions.Purge()
	}
	if s.counts != nil {
		if err := s.counts.Bump(ctx); err != nil {
			observability.FromContext(ctx, s.logger).WithError(err).Warn("Failed to bump counts cache generation")
		}
	}
}

// Ranker returns the ranker so its configuration can be reloaded.
func (s *Service) Ranker() *Ranker {
	return s.ranker
}

// resolveFilter merges structured filters, query filters and the caller scope.
// A non-empty message means the combination cannot match anything legitimately.
func resolveFilter(scope Scope, reqTypes []EntityType, reqDept string, reqStatuses []Status, parsed *ParsedQuery) (Filter, string) {
	for _, t := range reqTypes {
		if !t.Valid() {
			return Filter{}, fmt.Sprintf("unknown entity type %q", t)
		}
	}
	for _, st := range reqStatuses {
		if !st.Valid() {
			return Filter{}, fmt.Sprintf("unknown status %q", st)
		}
	}

	f := Filter{
		EntityTypes: mergeTypes(reqTypes, parsed.EntityTypes),
		Statuses:    mergeStatuses(reqStatuses, parsed.Statuses),
	}

	dept := reqDept
	if parsed.DepartmentID != "" {
		if dept != "" && dept != parsed.DepartmentID {
			return Filter{}, "conflicting department filters"
		}
		dept = parsed.DepartmentID
	}
	if scope.DepartmentID != "" {
		if dept != "" && dept != scope.DepartmentID {
			return Filter{}, fmt.Sprintf("department %q is outside the caller's scope", dept)
		}
		dept = scope.DepartmentID
	}
	f.DepartmentID = dept

	if (len(reqTypes) > 0 || len(parsed.EntityTypes) > 0) && len(f.EntityTypes) == 0 {
		return Filter{}, "entity type filters do not overlap"
	}
	if (len(reqStatuses) > 0 || len(parsed.Statuses) > 0) && len(f.Statuses) == 0 {
		return Filter{}, "status filters do not overlap"
	}
	return f, ""
}

func mergeTypes(a, b []EntityType) []EntityType {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	var out []EntityType
	for _, t := range a {
		if containsType(b, t) {
			out = appendUniqueType(out, t)
		}
	}
	return out
}

func mergeStatuses(a, b []Status) []Status {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	var out []Status
	for _, st := range a {
		if containsStatus(b, st) {
			out = appendUniqueStatus(out, st)
		}
	}
	return out
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// Search ranks the records matching req.Query. Unsatisfiable filters yield an
// empty Response with Error set and a nil error; store failures yield an
// error wrapping ErrSearchUnavailable.
func (s *Service) Search(ctx context.Context, req Request) (resp *Response, err error) {
	ctx, span := searchTracer.Start(ctx, "Search",
		trace.WithAttributes(
			attribute.String("query", req.Query),
			attribute.Int("limit", req.Limit),
			attribute.Int("offset", req.Offset),
		),
	)
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveSearch("search", outcome(resp, err), time.Since(start)) }()

	resp = &Response{
		Results: []Result{},
		Limit:   clampLimit(req.Limit, DefaultLimit, MaxLimit),
		Offset:  req.Offset,
		Query:   req.Query,
	}
	if resp.Offset < 0 {
		resp.Offset = 0
	}

	parsed, err := s.parser.Parse(req.Query)
	if err != nil {
		resp.Error = err.Error()
		span.SetStatus(codes.Ok, "invalid filter")
		return resp, nil
	}
	resp.ParsedQuery = parsed

	filter, msg := resolveFilter(req.Scope, req.EntityTypes, req.DepartmentID, req.Statuses, parsed)
	if msg != "" {
		resp.Error = msg
		span.SetStatus(codes.Ok, "invalid filter")
		return resp, nil
	}

	tokens := IndexTokens(parsed.Text)
	span.SetAttributes(
		attribute.Bool("has_filters", parsed.HasFilters()),
		attribute.Int("token_count", len(tokens)),
	)
	if len(tokens) == 0 {
		return resp, nil
	}

	ranked, truncated, err := s.rank(ctx, parsed.Text, tokens, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index read failed")
		observability.FromContext(ctx, s.logger).WithError(err).Error("Search failed")
		return nil, err
	}
	resp.Truncated = truncated

	ranked = dedupe(ranked)
	resp.Total = len(ranked)
	if resp.Offset < len(ranked) {
		end := resp.Offset + resp.Limit
		if end > len(ranked) {
			end = len(ranked)
		}
		for _, sr := range ranked[resp.Offset:end] {
			resp.Results = append(resp.Results, toResult(sr))
		}
	}

	span.SetAttributes(attribute.Int("total", resp.Total))
	span.SetStatus(codes.Ok, "search completed")
	return resp, nil
}

// rank gathers at most maxCandidates candidates and scores them.
func (s *Service) rank(ctx context.Context, text string, tokens []string, filter Filter) ([]ScoredRecord, bool, error) {
	candidates, err := s.store.Candidates(ctx, tokens, filter, s.maxCandidates+1)
	if err != nil {
		return nil, false, fmt.Errorf("%w: candidates: %w", ErrSearchUnavailable, err)
	}
	truncated := len(candidates) > s.maxCandidates
	if truncated {
		candidates = candidates[:s.maxCandidates]
	}
	s.metrics.ObserveCandidates(len(candidates))

	stats, err := s.store.CorpusStats(ctx, tokens)
	if err != nil {
		return nil, false, fmt.Errorf("%w: corpus stats: %w", ErrSearchUnavailable, err)
	}

	return s.ranker.Rank(text, candidates, stats, s.now()), truncated, nil
}

func dedupe(ranked []ScoredRecord) []ScoredRecord {
	seen := make(map[RecordKey]struct{}, len(ranked))
	out := ranked[:0]
	for _, sr := range ranked {
		key := sr.Record.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, sr)
	}
	return out
}

func toResult(sr ScoredRecord) Result {
	r := sr.Record
	return Result{
		EntityType:    r.EntityType,
		EntityID:      r.EntityID,
		PrimaryText:   r.PrimaryText,
		SecondaryText: r.SecondaryText,
		Slug:          r.Slug,
		DepartmentID:  r.DepartmentID,
		Status:        r.Status,
		Score:         sr.Score,
		UpdatedAt:     r.UpdatedAt,
	}
}

func outcome(resp interface{ errorText() string }, err error) string {
	switch {
	case err != nil:
		return "unavailable"
	case resp != nil && resp.errorText() != "":
		return "invalid"
	}
	return "ok"
}

func (r *Response) errorText() string {
	if r == nil {
		return ""
	}
	return r.Error
}

func (c *CategoryCounts) errorText() string {
	if c == nil {
		return ""
	}
	return c.Error
}

type suggestionList []Suggestion

func (suggestionList) errorText() string { return "" }

// CategoryCounts returns per-type counts of non-deleted records visible to
// the caller, restricted to records relevant to req.Query when it has text.
// Type filters in the query are ignored since the counts are the type facet.
func (s *Service) CategoryCounts(ctx context.Context, req CountsRequest) (resp *CategoryCounts, err error) {
	ctx, span := searchTracer.Start(ctx, "CategoryCounts",
		trace.WithAttributes(attribute.String("query", req.Query)),
	)
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveSearch("counts", outcome(resp, err), time.Since(start)) }()

	resp = &CategoryCounts{Query: req.Query}

	parsed, err := s.parser.Parse(req.Query)
	if err != nil {
		resp.Error = err.Error()
		resp.Counts = zeroCounts(nil)
		return resp, nil
	}
	filter, msg := resolveFilter(req.Scope, nil, "", nil, parsed)
	if msg != "" {
		resp.Error = msg
		resp.Counts = zeroCounts(nil)
		return resp, nil
	}
	filter.EntityTypes = nil

	tokens := IndexTokens(parsed.Text)
	if strings.TrimSpace(parsed.Text) != "" && len(tokens) == 0 {
		// Only stop words: nothing can match.
		resp.Counts = zeroCounts(nil)
		return resp, nil
	}

	key := countsCacheKey(tokens, filter)
	generation, cacheOK := s.cacheGeneration(ctx)
	if cacheOK {
		counts, hit, err := s.counts.Get(ctx, generation, key)
		if err != nil {
			observability.FromContext(ctx, s.logger).WithError(err).Warn("Counts cache read failed")
		}
		s.metrics.ObserveCache("category_counts", hit)
		if hit {
			resp.Counts, resp.Total = tally(counts)
			resp.Cached = true
			return resp, nil
		}
	}

	// Every record sharing a query token ranks above zero, so the store can
	// count matches directly without the candidate cap.
	counts, err := s.store.CountByType(ctx, filter, tokens)
	if err != nil {
		err = fmt.Errorf("%w: count by type: %w", ErrSearchUnavailable, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "index read failed")
		observability.FromContext(ctx, s.logger).WithError(err).Error("Category counts failed")
		return nil, err
	}

	if cacheOK {
		if err := s.counts.Set(ctx, generation, key, counts); err != nil {
			observability.FromContext(ctx, s.logger).WithError(err).Warn("Counts cache write failed")
		}
	}

	resp.Counts, resp.Total = tally(counts)
	span.SetStatus(codes.Ok, "counts completed")
	return resp, nil
}

func (s *Service) cacheGeneration(ctx context.Context) (int64, bool) {
	if s.counts == nil {
		return 0, false
	}
	gen, err := s.counts.Generation(ctx)
	if err != nil {
		observability.FromContext(ctx, s.logger).WithError(err).Warn("Counts cache unavailable")
		return 0, false
	}
	return gen, true
}

func countsCacheKey(tokens []string, f Filter) string {
	sorted := append([]string(nil), tokens...)
	sort.Strings(sorted)
	statuses := make([]string, len(f.Statuses))
	for i, st := range f.Statuses {
		statuses[i] = string(st)
	}
	sort.Strings(statuses)
	return "d=" + f.DepartmentID + "|s=" + strings.Join(statuses, ",") + "|q=" + strings.Join(sorted, " ")
}

func zeroCounts(counts map[EntityType]int) []CategoryCount {
	out, _ := tally(counts)
	return out
}

func tally(counts map[EntityType]int) ([]CategoryCount, int) {
	types := AllEntityTypes()
	out := make([]CategoryCount, 0, len(types))
	total := 0
	for _, t := range types {
		n := counts[t]
		total += n
		out = append(out, CategoryCount{EntityType: t, Label: t.Label(), Count: n})
	}
	return out, total
}

// Suggestions returns distinct primary texts for type-ahead. Every complete
// word of the query must match a record token exactly; the last word is
// matched as a prefix.
func (s *Service) Suggestions(ctx context.Context, req SuggestRequest) (resp []Suggestion, err error) {
	ctx, span := searchTracer.Start(ctx, "Suggestions",
		trace.WithAttributes(attribute.String("query", req.Query)),
	)
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveSearch("suggestions", outcome(suggestionList(resp), err), time.Since(start)) }()

	limit := clampLimit(req.Limit, DefaultSuggestionLimit, MaxSuggestionLimit)
	words := Normalize(req.Query)
	if len(words) == 0 {
		return []Suggestion{}, nil
	}
	for _, t := range req.EntityTypes {
		if !t.Valid() {
			return []Suggestion{}, nil
		}
	}

	cacheKey := suggestionCacheKey(req.Scope, req.EntityTypes, words, limit)
	if s.suggestions != nil {
		if cached, ok := s.suggestions.Get(cacheKey); ok {
			s.metrics.ObserveCache("suggestions", true)
			return append([]Suggestion(nil), cached...), nil
		}
		s.metrics.ObserveCache("suggestions", false)
	}

	prefix := words[len(words)-1]
	var required []string
	for _, w := range words[:len(words)-1] {
		if !IsStopWord(w) {
			required = append(required, w)
		}
	}

	filter := Filter{EntityTypes: req.EntityTypes, DepartmentID: req.Scope.DepartmentID}
	candidates, err := s.store.PrefixCandidates(ctx, prefix, filter, s.maxCandidates)
	if err == nil && IsStopWord(prefix) && len(required) > 0 {
		// Stop words are never indexed, so "department of" must still match
		// "Department of Health" through the words typed before it.
		var matched []*IndexRecord
		matched, err = s.store.Candidates(ctx, required, filter, s.maxCandidates)
		candidates = append(candidates, matched...)
	}
	if err != nil {
		err = fmt.Errorf("%w: prefix candidates: %w", ErrSearchUnavailable, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "index read failed")
		return nil, err
	}

	cfg := s.ranker.Config()
	now := s.now()
	type scored struct {
		rec   *IndexRecord
		score float64
	}
	var hits []scored
	keys := make(map[RecordKey]struct{}, len(candidates))
	for _, rec := range candidates {
		if _, dup := keys[rec.Key()]; dup {
			continue
		}
		keys[rec.Key()] = struct{}{}
		if rec.IsDeleted || !hasAllTokens(rec.Tokens, required) {
			continue
		}
		weight := cfg.SecondaryWeight
		if hasPrefixWord(Normalize(rec.PrimaryText), prefix) {
			weight = cfg.PrimaryWeight
		}
		hits = append(hits, scored{
			rec:   rec,
			score: weight * cfg.statusMultiplier(rec.Status) * cfg.recencyMultiplier(rec.UpdatedAt, now),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if !hits[i].rec.UpdatedAt.Equal(hits[j].rec.UpdatedAt) {
			return hits[i].rec.UpdatedAt.After(hits[j].rec.UpdatedAt)
		}
		return hits[i].rec.EntityID < hits[j].rec.EntityID
	})

	resp = make([]Suggestion, 0, limit)
	seen := make(map[string]struct{})
	for _, h := range hits {
		folded := FoldText(h.rec.PrimaryText)
		if _, dup := seen[folded]; dup || folded == "" {
			continue
		}
		seen[folded] = struct{}{}
		resp = append(resp, Suggestion{
			Text:       h.rec.PrimaryText,
			EntityType: h.rec.EntityType,
			EntityID:   h.rec.EntityID,
			Slug:       h.rec.Slug,
		})
		if len(resp) == limit {
			break
		}
	}

	if s.suggestions != nil {
		s.suggestions.Add(cacheKey, append([]Suggestion(nil), resp...))
	}
	span.SetAttributes(attribute.Int("suggestions", len(resp)))
	return resp, nil
}

func suggestionCacheKey(scope Scope, types []EntityType, words []string, limit int) string {
	ts := make([]string, len(types))
	for i, t := range types {
		ts[i] = string(t)
	}
	sort.Strings(ts)
	return scope.DepartmentID + "|" + strings.Join(ts, ",") + "|" + strconv.Itoa(limit) + "|" + strings.Join(words, " ")
}

func hasAllTokens(tokens, required []string) bool {
	for _, r := range required {
		found := false
		for _, t := range tokens {
			if t == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func hasPrefixWord(words []string, prefix string) bool {
	for _, w := range words {
		if strings.HasPrefix(w, prefix) {
			return true
		}
	}
	return false
}
