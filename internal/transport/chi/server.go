// Package chi exposes the retrieval, search and indexing API over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/domain/index"
	"github.com/kailas-cloud/policyrag/internal/domain/search/request"
	"github.com/kailas-cloud/policyrag/internal/logger"
	healthuc "github.com/kailas-cloud/policyrag/internal/usecase/health"
	indexeruc "github.com/kailas-cloud/policyrag/internal/usecase/indexer"
	retrievaluc "github.com/kailas-cloud/policyrag/internal/usecase/retrieval"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server holds the HTTP handlers.
type Server struct {
	retrieval     Querier
	search        Searcher
	indexer       Indexer
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(retrieval Querier, search Searcher, indexer Indexer, health HealthChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		retrieval: retrieval,
		search:    search,
		indexer:   indexer,
		health:    health,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		detailHandler(domain.ErrInvalidQuery, http.StatusBadRequest, CodeInvalidQuery),
		detailHandler(domain.ErrValidation, http.StatusBadRequest, CodeInvalidQuery),
		detailHandler(domain.ErrPolicyNotFound, http.StatusNotFound, CodePolicyNotFound),
		sentinelHandler(domain.ErrIndexBusy, http.StatusConflict, CodeIndexBusy),
		sentinelHandler(domain.ErrKeywordSearchNotSupported, http.StatusNotImplemented, CodeKeywordSearchNotSupported),
		sentinelHandler(domain.ErrRetrievalUnavailable, http.StatusServiceUnavailable, CodeRetrievalUnavailable),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited),
		sentinelHandler(domain.ErrProvider, http.StatusBadGateway, CodeEmbeddingProviderError),
		sentinelHandler(domain.ErrProviderRejected, http.StatusBadGateway, CodeEmbeddingProviderError),
		sentinelHandler(domain.ErrStorage, http.StatusServiceUnavailable, CodeStorageUnavailable),
		sentinelHandler(context.DeadlineExceeded, http.StatusGatewayTimeout, CodeTimeout),
	}
	return s
}

// Register mounts every route on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", s.Query)
		r.Post("/search", s.Search)
		r.Post("/index", s.Index)
		r.Get("/index/status", s.IndexStatus)
		r.Get("/index/stats", s.IndexStats)
		r.Get("/policies/{id}/chunks", s.PolicyChunks)
		r.Post("/policies/{id}/reindex", s.ReindexPolicy)
		r.Delete("/policies/{id}", s.DeletePolicy)
	})
}

// Query handles POST /v1/query.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var q retrievaluc.Question
	if !decode(w, r, &q) {
		return
	}
	resp, err := s.retrieval.Query(r.Context(), q)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if resp.Degraded {
		w.Header().Set("X-Retrieval-Degraded", resp.FallbackReason)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Search handles POST /v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var body searchRequest
	if !decode(w, r, &body) {
		return
	}
	req, err := request.New(body.Query, body.Mode, body.Filters, body.TopK, body.MinSimilarity)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	resp, err := s.search.Search(r.Context(), &req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	out := searchResponse{
		Mode:             resp.Mode,
		Filters:          resp.Filters,
		InferredCategory: resp.Inferred.Category,
		Confidence:       resp.Inferred.Confidence,
		Backfilled:       resp.Backfilled,
		Results:          make([]resultJSON, len(resp.Results)),
	}
	for i := range resp.Results {
		out.Results[i] = resultToJSON(&resp.Results[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// PolicyChunks handles GET /v1/policies/{id}/chunks.
func (s *Server) PolicyChunks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	chunks, err := s.search.SearchByPolicy(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if len(chunks) == 0 {
		writeError(w, http.StatusNotFound, CodePolicyNotFound, "policy "+id+" has no indexed chunks")
		return
	}
	out := make([]chunkJSON, len(chunks))
	for i, c := range chunks {
		out[i] = chunkToJSON(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"policy_id": id, "chunks": out})
}

// Index handles POST /v1/index. An async request returns 202 immediately
// and the run continues in the background; poll /v1/index/status.
func (s *Server) Index(w http.ResponseWriter, r *http.Request) {
	var body indexRequest
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}
	opts := indexeruc.Options{PolicyIDs: body.PolicyIDs, Force: body.Force}

	if body.Async {
		if st := s.indexer.Status(); !st.State.Terminal() && st.State != index.StateIdle {
			s.handleDomainError(w, r, domain.ErrIndexBusy)
			return
		}
		ctx := context.WithoutCancel(r.Context())
		go func() {
			if _, err := s.indexer.IndexAll(ctx, opts); err != nil {
				logger.FromContext(ctx).Error("background index run failed", zap.Error(err))
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
		return
	}

	sum, err := s.indexer.IndexAll(r.Context(), opts)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if sum.Partial() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, summaryToJSON(sum))
}

// ReindexPolicy handles POST /v1/policies/{id}/reindex.
func (s *Server) ReindexPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	o, err := s.indexer.ReindexPolicy(r.Context(), id, force)
	if err != nil && (o.PolicyID() == "" || errors.Is(err, domain.ErrPolicyNotFound)) {
		s.handleDomainError(w, r, err)
		return
	}
	// A failed policy still reports its counts and cause.
	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, outcomeToJSON(o))
}

// DeletePolicy handles DELETE /v1/policies/{id}.
func (s *Server) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.indexer.DeletePolicy(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{PolicyID: id, Removed: n})
}

// IndexStatus handles GET /v1/index/status.
func (s *Server) IndexStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.indexer.Status()
	writeJSON(w, http.StatusOK, statusJSON{
		State:   st.State,
		Since:   st.Since,
		Error:   st.Error,
		LastRun: summaryToJSON(st.Last),
	})
}

// IndexStats handles GET /v1/index/stats.
func (s *Server) IndexStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.indexer.Stats(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, report)
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// sentinelHandler returns an errorHandler that answers with the sentinel text
// only, without exposing wrapped internals.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

// detailHandler is sentinelHandler for client errors whose full message is
// safe to return.
func detailHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, err.Error())
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	s.logger.Error("internal error", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
