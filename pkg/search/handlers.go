package search

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/httputil"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/observability"
)

// Handlers exposes the query API and the indexing protocol over HTTP.
type Handlers struct {
	service   *Service
	indexer   *Indexer
	reindexer *Reindexer
	logger    *observability.Logger
}

// NewHandlers creates the HTTP handlers. reindexer may be nil, in which case
// the reindex route answers 503.
func NewHandlers(service *Service, indexer *Indexer, reindexer *Reindexer, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handlers{
		service:   service,
		indexer:   indexer,
		reindexer: reindexer,
		logger:    logger,
	}
}

// RegisterRoutes registers the search and index routes on router, which is
// expected to be mounted at /api/v1.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/search", h.search).Methods(http.MethodGet)
	router.HandleFunc("/search/counts", h.counts).Methods(http.MethodGet)
	router.HandleFunc("/search/suggestions", h.suggestions).Methods(http.MethodGet)
	router.HandleFunc("/index", h.indexEntity).Methods(http.MethodPost)
	router.HandleFunc("/index/reindex", h.reindex).Methods(http.MethodPost)
	router.HandleFunc("/index/{entityId}", h.removeEntity).Methods(http.MethodDelete)
}

// search handles GET /search?q=&type=&dept=&status=&limit=&offset=
func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", DefaultLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	req := Request{
		Query:        r.URL.Query().Get("q"),
		DepartmentID: r.URL.Query().Get("dept"),
		Limit:        limit,
		Offset:       offset,
		Scope:        ScopeFromContext(r.Context()),
	}

	var filterErrs []string
	for _, v := range httputil.ParseQueryList(r, "type") {
		t, err := ParseEntityType(v)
		if err != nil {
			filterErrs = append(filterErrs, err.Error())
			continue
		}
		req.EntityTypes = append(req.EntityTypes, t)
	}
	for _, v := range httputil.ParseQueryList(r, "status") {
		st, err := ParseStatus(v)
		if err != nil {
			filterErrs = append(filterErrs, err.Error())
			continue
		}
		req.Statuses = append(req.Statuses, st)
	}
	if len(filterErrs) > 0 {
		httputil.WriteSuccess(w, &Response{
			Results: []Result{},
			Limit:   limit,
			Offset:  offset,
			Query:   req.Query,
			Error:   strings.Join(filterErrs, "; "),
		})
		return
	}

	resp, err := h.service.Search(r.Context(), req)
	if err != nil {
		h.writeReadError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, resp)
}

// counts handles GET /search/counts?q=
func (h *Handlers) counts(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.CategoryCounts(r.Context(), CountsRequest{
		Query: r.URL.Query().Get("q"),
		Scope: ScopeFromContext(r.Context()),
	})
	if err != nil {
		h.writeReadError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, resp)
}

// suggestions handles GET /search/suggestions?q=&limit=&type=
func (h *Handlers) suggestions(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", DefaultSuggestionLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	req := SuggestRequest{
		Query: r.URL.Query().Get("q"),
		Limit: limit,
		Scope: ScopeFromContext(r.Context()),
	}
	for _, v := range httputil.ParseQueryList(r, "type") {
		t, err := ParseEntityType(v)
		if err != nil {
			httputil.WriteSuccess(w, map[string]interface{}{"suggestions": []Suggestion{}, "error": err.Error()})
			return
		}
		req.EntityTypes = append(req.EntityTypes, t)
	}

	out, err := h.service.Suggestions(r.Context(), req)
	if err != nil {
		h.writeReadError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"suggestions": out})
}

// indexEntity handles POST /index with an IndexInput body.
func (h *Handlers) indexEntity(w http.ResponseWriter, r *http.Request) {
	var in IndexInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}

	rec, err := h.indexer.IndexEntity(r.Context(), in)
	if err != nil {
		h.writeWriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, rec)
}

// removeEntity handles DELETE /index/{entityId}
func (h *Handlers) removeEntity(w http.ResponseWriter, r *http.Request) {
	entityID, ok := httputil.ParsePathStringOrError(w, r, "entityId")
	if !ok {
		return
	}

	n, err := h.indexer.RemoveFromIndex(r.Context(), entityID)
	if err != nil {
		h.writeWriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"entity_id": entityID, "removed": n})
}

type reindexRequest struct {
	Types []string `json:"types"`
	Prune bool     `json:"prune"`
}

// reindex handles POST /index/reindex and runs a backfill synchronously.
func (h *Handlers) reindex(w http.ResponseWriter, r *http.Request) {
	if h.reindexer == nil {
		httputil.WriteServiceUnavailable(w, "reindex is not configured")
		return
	}

	var body reindexRequest
	if r.ContentLength != 0 && !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	opts := ReindexOptions{Prune: body.Prune, Trigger: "api"}
	for _, v := range body.Types {
		t, err := ParseEntityType(v)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		opts.Types = append(opts.Types, t)
	}

	summary, err := h.reindexer.Run(r.Context(), opts)
	switch {
	case errors.Is(err, ErrReindexInProgress):
		httputil.WriteConflict(w, err.Error())
	case err != nil:
		observability.FromContext(r.Context(), h.logger).WithError(err).Error("Reindex request failed")
		httputil.WriteServiceUnavailable(w, "reindex interrupted")
	default:
		httputil.WriteSuccess(w, summary)
	}
}

func (h *Handlers) writeReadError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrSearchUnavailable) {
		httputil.WriteServiceUnavailable(w, ErrSearchUnavailable.Error())
		return
	}
	observability.FromContext(r.Context(), h.logger).WithError(err).Error("Search request failed")
	httputil.WriteInternalError(w, err)
}

func (h *Handlers) writeWriteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrIndexUnavailable):
		observability.FromContext(r.Context(), h.logger).WithError(err).Error("Index write failed")
		httputil.WriteServiceUnavailable(w, ErrIndexUnavailable.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
