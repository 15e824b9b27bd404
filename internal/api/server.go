// Package api exposes the scraping engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/pricewatch-cli/internal/job"
	"github.com/sells-group/pricewatch-cli/internal/model"
	"github.com/sells-group/pricewatch-cli/internal/store"
)

const (
	maxBodyBytes = 1 << 20
	// maxAnalysisProducts bounds how many stored products feed one analysis.
	maxAnalysisProducts = 10000
	maxListLimit        = 1000
)

// Jobs is the orchestrator surface the API relays. *job.Orchestrator
// satisfies it.
type Jobs interface {
	StartJob(ctx context.Context, req job.Request) (*model.Job, error)
	GetStatus(ctx context.Context, jobID string) (*model.Job, error)
	Cancel(jobID string) error
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
}

// Products reads stored products. store.Store satisfies it.
type Products interface {
	ListProducts(ctx context.Context, filter store.ProductFilter) ([]model.Product, error)
}

// Analyzer builds a competitive analysis. *analysis.Aggregator satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, records []model.Product) *model.CompetitiveAnalysis
}

// Server holds the HTTP handlers.
type Server struct {
	jobs     Jobs
	products Products
	analyzer Analyzer
}

// NewServer creates a Server.
func NewServer(jobs Jobs, products Products, analyzer Analyzer) *Server {
	return &Server{jobs: jobs, products: products, analyzer: analyzer}
}

// JobStatusResponse is the status payload for one job.
type JobStatusResponse struct {
	JobID           string            `json:"job_id"`
	Status          model.JobStatus   `json:"status"`
	Message         string            `json:"message"`
	Progress        float64           `json:"progress"`
	ProductsScraped int               `json:"products_scraped"`
	Errors          []model.SiteError `json:"errors"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// AnalysisResponse wraps a competitive analysis.
type AnalysisResponse struct {
	Analysis    *model.CompetitiveAnalysis `json:"analysis"`
	GeneratedAt time.Time                  `json:"generated_at"`
}

// Router builds the chi router. An empty origins list allows any origin;
// credentials are only allowed for an explicit origin list.
func (s *Server) Router(corsOrigins []string) http.Handler {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	credentials := !slices.Contains(corsOrigins, "*")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: credentials,
		MaxAge:           300,
	}))

	r.Get("/health", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Post("/scrape/start", s.startJob)
		r.Get("/scrape/status/{jobID}", s.jobStatus)
		r.Post("/scrape/{jobID}/cancel", s.cancelJob)
		r.Get("/jobs", s.listJobs)
		r.Get("/products", s.listProducts)
		r.Get("/analysis/competitive", s.competitiveAnalysis)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	var req job.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	j, err := s.jobs.StartJob(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := statusResponse(j)
	resp.Message = "Scraping job started successfully"
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.GetStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(j))
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.jobs.Cancel(jobID); err != nil {
		writeErr(w, err)
		return
	}
	j, err := s.jobs.GetStatus(r.Context(), jobID)
	if err != nil {
		writeErr(w, err)
		return
	}
	resp := statusResponse(j)
	if !j.Status.IsTerminal() {
		resp.Message = "Cancellation requested"
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	filter := store.JobFilter{
		Status: model.JobStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}
	switch filter.Status {
	case "", model.StatusPending, model.StatusRunning, model.StatusCompleted, model.StatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	jobs, err := s.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]JobStatusResponse, len(jobs))
	for i := range jobs {
		out[i] = statusResponse(&jobs[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	products, err := s.products.ListProducts(r.Context(), store.ProductFilter{
		JobID:  q.Get("job_id"),
		Site:   q.Get("site"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if products == nil {
		products = []model.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) competitiveAnalysis(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	products, err := s.products.ListProducts(r.Context(), store.ProductFilter{
		JobID: q.Get("job_id"),
		Site:  q.Get("site"),
		Limit: maxAnalysisProducts,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	a := s.analyzer.Analyze(r.Context(), products)
	writeJSON(w, http.StatusOK, AnalysisResponse{Analysis: a, GeneratedAt: a.GeneratedAt})
}

func statusResponse(j *model.Job) JobStatusResponse {
	errs := j.Errors
	if errs == nil {
		errs = []model.SiteError{}
	}
	return JobStatusResponse{
		JobID:           j.ID,
		Status:          j.Status,
		Message:         "Job " + string(j.Status),
		Progress:        j.Progress,
		ProductsScraped: j.ProductsScraped,
		Errors:          errs,
		ErrorMessage:    j.ErrorMessage(),
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}

func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	var err error
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 || limit > maxListLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
			return 0, 0, false
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "offset must be >= 0")
			return 0, 0, false
		}
	}
	return limit, offset, true
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	default:
		zap.L().Error("api: request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}
