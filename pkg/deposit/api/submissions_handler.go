package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-deposit/pkg/deposit"
	"github.com/tendant/simple-deposit/pkg/deposit/service"
)

// Enqueuer schedules a deposit to run in the background
type Enqueuer interface {
	Enqueue(ctx context.Context, submissionID string) (string, error)
}

// SubmissionsHandler exposes the deposit pipeline over HTTP
type SubmissionsHandler struct {
	service  service.Service
	enqueuer Enqueuer
	logger   *slog.Logger
}

// HandlerOption configures a SubmissionsHandler
type HandlerOption func(*SubmissionsHandler)

// WithEnqueuer enables asynchronous deposits (POST .../deposit?async=true)
func WithEnqueuer(e Enqueuer) HandlerOption {
	return func(h *SubmissionsHandler) {
		h.enqueuer = e
	}
}

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *SubmissionsHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewSubmissionsHandler(svc service.Service, opts ...HandlerOption) *SubmissionsHandler {
	h := &SubmissionsHandler{service: svc, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router for submission endpoints. Submission
// identifiers are URIs, so {id} is expected path-escaped.
func (h *SubmissionsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}", h.GetSubmission)
	r.Get("/{id}/package", h.GetPackage)
	r.Post("/{id}/deposit", h.Deposit)
	return r
}

// ErrorResponse is the JSON body of failed requests
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// EnqueueResponse is returned for asynchronous deposits
type EnqueueResponse struct {
	SubmissionID string `json:"submission_id"`
	TaskID       string `json:"task_id"`
}

func submissionID(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "id")
	id, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("invalid submission id %q: %w", raw, err)
	}
	if deposit.NormalizeID(id) == "" {
		return "", errors.New("submission id is required")
	}
	return id, nil
}

// statusFor maps pipeline errors onto HTTP status codes
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, deposit.ErrSubmissionNotFound):
		return http.StatusNotFound, "submission_not_found"
	case errors.Is(err, deposit.ErrInvalidModel):
		return http.StatusUnprocessableEntity, "invalid_model"
	case errors.Is(err, deposit.ErrMissingReference):
		return http.StatusUnprocessableEntity, "missing_reference"
	case errors.Is(err, deposit.ErrIO):
		return http.StatusBadGateway, "package_io"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *SubmissionsHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: err.Error(), Code: code})
}

// GetSubmission returns the built submission model
func (h *SubmissionsHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := submissionID(r)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: err.Error(), Code: "bad_request"})
		return
	}

	sub, err := h.service.Build(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to build submission", "submission_id", id, "err", err)
		h.writeError(w, r, err)
		return
	}

	render.JSON(w, r, sub)
}

// trackingWriter records whether any bytes reached the client.
type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(p)
}

// GetPackage streams the package as the response body. A failure after the
// first byte aborts the connection so the client never sees a complete
// looking archive.
func (h *SubmissionsHandler) GetPackage(w http.ResponseWriter, r *http.Request) {
	id, err := submissionID(r)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: err.Error(), Code: "bad_request"})
		return
	}

	format := h.service.PackageFormat()
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(id)+format.Extension()))

	tw := &trackingWriter{ResponseWriter: w}
	pkg, err := h.service.Package(r.Context(), id, tw)
	if err != nil {
		h.logger.Error("Failed to stream package", "submission_id", id, "err", err)
		if tw.wrote {
			panic(http.ErrAbortHandler)
		}
		w.Header().Del("Content-Disposition")
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("Package streamed", "submission_id", id, "package_id", pkg.ID, "files", len(pkg.Resources))
}

// Deposit packages the submission into the outbox, or enqueues the deposit
// when async=true and an enqueuer is configured.
func (h *SubmissionsHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	id, err := submissionID(r)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: err.Error(), Code: "bad_request"})
		return
	}

	if r.URL.Query().Get("async") == "true" {
		if h.enqueuer == nil {
			render.Status(r, http.StatusNotImplemented)
			render.JSON(w, r, ErrorResponse{Error: "asynchronous deposits are not configured", Code: "not_implemented"})
			return
		}
		taskID, err := h.enqueuer.Enqueue(r.Context(), id)
		if err != nil {
			h.logger.Error("Failed to enqueue deposit", "submission_id", id, "err", err)
			h.writeError(w, r, err)
			return
		}
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, EnqueueResponse{SubmissionID: id, TaskID: taskID})
		return
	}

	receipt, err := h.service.Deposit(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to deposit submission", "submission_id", id, "err", err)
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, receipt)
}

func downloadName(id string) string {
	id = deposit.NormalizeID(id)
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, id)
	if id == "" {
		return "package"
	}
	return id
}
