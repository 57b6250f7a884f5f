package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stockdispatch/internal/bootstrap/logging"
	domaindispatch "stockdispatch/internal/domain/dispatch"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/ports"
	"stockdispatch/internal/usecase/dispatch"
)

const maxManifestBytes = 64 << 20

// Pipeline is the slice of the dispatch service exposed over HTTP.
type Pipeline interface {
	CreateRun(ctx context.Context, input dispatch.CreateRunInput) (dispatch.Run, error)
	GetRun(ctx context.Context, runID string) (dispatch.RunDetail, error)
	ListRuns(ctx context.Context, input dispatch.ListRunsInput) ([]dispatch.Run, error)
	DeleteRun(ctx context.Context, runID string) error
	MarkError(ctx context.Context, input dispatch.MarkErrorInput) (dispatch.Run, error)
	IngestManifest(ctx context.Context, input dispatch.IngestManifestInput) (dispatch.IngestManifestResult, error)
	CalculateStoreCounts(ctx context.Context, input dispatch.CalculateInput) (dispatch.CalculateResult, error)
	Allocate(ctx context.Context, input dispatch.AllocateInput) (dispatch.AllocateResult, error)
	GetProgress(ctx context.Context, runID string) ([]dispatch.Progress, error)
	ExportLineItems(ctx context.Context, runID string, w io.Writer) (int, error)
	ExportDistribution(ctx context.Context, runID string, w io.Writer) (int, error)
}

type Server struct {
	pipeline     Pipeline
	metrics      http.Handler
	health       func(ctx context.Context) error
	pollInterval time.Duration
}

type Option func(*Server)

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithHealthCheck makes /healthz answer 503 while check fails.
func WithHealthCheck(check func(ctx context.Context) error) Option {
	return func(s *Server) { s.health = check }
}

// WithPollInterval sets how often the progress stream re-reads the progress store.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func NewServer(pipeline Pipeline, opts ...Option) *Server {
	s := &Server{pipeline: pipeline, pollInterval: 500 * time.Millisecond}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.listRuns)
		r.Post("/", s.createRun)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Delete("/", s.deleteRun)
			r.Post("/manifest", s.ingestManifest)
			r.Post("/calculate", s.calculate)
			r.Post("/allocate", s.allocate)
			r.Post("/mark-error", s.markError)
			r.Get("/progress", s.progress)
			r.Get("/progress/ws", s.progressStream)
			r.Get("/exports/lines", s.exportLines)
			r.Get("/exports/distribution", s.exportDistribution)
		})
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			logging.Warn(r.Context(), "health check failed", slog.Any("err", errs.Loggable(err)))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRunRequest struct {
	Name  string `json:"name"`
	Actor string `json:"actor"`
}

type actorRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(r.Context(), w, errs.WithKind(errors.New("limit must be a non-negative integer"), errs.KindInput))
			return
		}
		limit = n
	}
	runs, err := s.pipeline.ListRuns(r.Context(), dispatch.ListRunsInput{
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	run, err := s.pipeline.CreateRun(r.Context(), dispatch.CreateRunInput{Name: req.Name, Actor: req.Actor})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRunResponse(run))
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	detail, err := s.pipeline.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, runDetailResponse{
		runResponse:       toRunResponse(detail.Run),
		LineItems:         detail.LineItems,
		AllocationRecords: detail.AllocationRecords,
		Progress:          detail.Progress,
	})
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.DeleteRun(r.Context(), chi.URLParam(r, "runID")); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ingestManifest(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxManifestBytes)
	defer func() { _ = body.Close() }()

	result, err := s.pipeline.IngestManifest(r.Context(), dispatch.IngestManifestInput{
		RunID:  chi.URLParam(r, "runID"),
		Reader: body,
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{
		RunID:              result.RunID,
		Rows:               result.Rows,
		Inserted:           result.Inserted,
		NotFound:           result.NotFound,
		NotFoundReferences: result.NotFoundReferences,
	})
}

func (s *Server) calculate(w http.ResponseWriter, r *http.Request) {
	result, err := s.pipeline.CalculateStoreCounts(r.Context(), dispatch.CalculateInput{RunID: chi.URLParam(r, "runID")})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":                 result.RunID,
		"processed":              result.Processed,
		"min_reference_quantity": result.Parameters.MinReferenceQuantity,
		"min_ean_quantity":       result.Parameters.MinEanQuantity,
	})
}

func (s *Server) allocate(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	result, err := s.pipeline.Allocate(r.Context(), dispatch.AllocateInput{RunID: chi.URLParam(r, "runID"), Actor: req.Actor})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":          result.RunID,
		"distribution_id": result.DistributionID,
		"records":         result.Records,
	})
}

func (s *Server) markError(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	run, err := s.pipeline.MarkError(r.Context(), dispatch.MarkErrorInput{
		RunID:  chi.URLParam(r, "runID"),
		Actor:  req.Actor,
		Reason: req.Reason,
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := s.pipeline.GetRun(r.Context(), runID); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	progress, err := s.pipeline.GetProgress(r.Context(), runID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if progress == nil {
		progress = []dispatch.Progress{}
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) exportLines(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, "lignes", s.pipeline.ExportLineItems)
}

func (s *Server) exportDistribution(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, "distribution", s.pipeline.ExportDistribution)
}

type exportFunc func(ctx context.Context, runID string, w io.Writer) (int, error)

// export buffers the document so a failed export still answers with a JSON error.
func (s *Server) export(w http.ResponseWriter, r *http.Request, name string, fn exportFunc) {
	runID := chi.URLParam(r, "runID")
	var buf bytes.Buffer
	if _, err := fn(r.Context(), runID, &buf); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+"_"+runID+`.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return errs.WithKind(errs.Wrap(err, "decode request body"), errs.KindInput)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Processed *int   `json:"processed,omitempty"`
	Total     *int   `json:"total,omitempty"`
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorResponse{Error: err.Error(), Kind: string(errs.KindOf(err))}

	var partial *domaindispatch.PartialError
	if errors.As(err, &partial) {
		body.Processed = &partial.Processed
		body.Total = &partial.Total
	}
	var collab *domaindispatch.CollaboratorError
	if errors.As(err, &collab) {
		body.Error = collab.Message
	}

	if status >= http.StatusInternalServerError {
		logging.Error(logging.WithAttrs(ctx, slog.String("component", "httpapi")), "request failed",
			slog.Int("status", status),
			slog.Any("err", errs.Loggable(err)),
		)
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	if errors.Is(err, ports.ErrRunNotFound) {
		return http.StatusNotFound
	}
	switch errs.KindOf(err) {
	case errs.KindInput, errs.KindResolution:
		return http.StatusBadRequest
	case errs.KindState:
		return http.StatusConflict
	case errs.KindCollaborator:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
