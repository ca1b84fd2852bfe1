package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelforge/internal/apperr"
	"github.com/dunamismax/pixelforge/internal/cachekey"
	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/dunamismax/pixelforge/internal/queue"
	"github.com/dunamismax/pixelforge/internal/service"
	"github.com/dunamismax/pixelforge/internal/transform"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	maxJSONBodyBytes      = 1 << 20
	defaultMaxUploadBytes = 20 << 20
)

type imageService interface {
	Upload(ctx context.Context, filename string, data []byte) (domain.Image, error)
	Image(ctx context.Context, imageID string) (service.ImageDetails, error)
	Derive(ctx context.Context, req service.DeriveRequest) (domain.Derivative, error)
	DeriveImage(ctx context.Context, imageID string, spec transform.Spec) (domain.Derivative, error)
}

type queueEnqueuer interface {
	EnqueueWarmDerivative(ctx context.Context, payload queue.WarmDerivativePayload) (*asynq.TaskInfo, error)
}

type Options struct {
	Logger  *zap.Logger
	Service imageService
	// Queue enables the warm-up endpoint. When nil it answers 503.
	Queue                  queueEnqueuer
	RateLimiter            RateLimiter
	RateLimitSubjectHeader string
	MaxUploadBytes         int64
	// Registry receives the API collectors and is served on /metrics. The
	// caller may register further collectors on it.
	Registry *prometheus.Registry
}

type Server struct {
	logger                 *zap.Logger
	service                imageService
	queueClient            queueEnqueuer
	rateLimiter            RateLimiter
	rateLimitSubjectHeader string
	maxUploadBytes         int64
	metrics                *metrics
	tracer                 trace.Tracer
	validate               *validator.Validate
	router                 chi.Router
}

type transformURLRequest struct {
	SourceURL string            `json:"source_url" validate:"required,url"`
	Spec      transform.Request `json:"spec" validate:"-"`
}

type warmRequest struct {
	Spec       transform.Request `json:"spec" validate:"-"`
	WebhookURL string            `json:"webhook_url,omitempty" validate:"omitempty,url"`
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	subjectHeader := strings.TrimSpace(opts.RateLimitSubjectHeader)
	if subjectHeader == "" {
		subjectHeader = "X-Client-ID"
	}

	s := &Server{
		logger:                 logger,
		service:                opts.Service,
		queueClient:            opts.Queue,
		rateLimiter:            opts.RateLimiter,
		rateLimitSubjectHeader: subjectHeader,
		maxUploadBytes:         maxUpload,
		metrics:                newMetrics(opts.Registry),
		tracer:                 otel.Tracer("pixelforge/api"),
		validate:               validator.New(validator.WithRequiredStructEnabled()),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.withTracing)
	r.Use(s.metrics.withHTTPMetrics)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.With(s.withRateLimit(uploadCost(s.maxUploadBytes))).Post("/images", s.handleUpload)
		r.Get("/images/{id}", s.handleGetImage)
		r.With(s.withRateLimit(unitCost)).Post("/images/{id}/transform", s.handleTransformImage)
		r.With(s.withRateLimit(unitCost)).Post("/images/{id}/warm", s.handleWarmImage)
		r.With(s.withRateLimit(unitCost)).Post("/transform", s.handleTransformURL)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, apperr.NotFound("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody(apperr.KindValidation, "method not allowed"))
	})

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	filename, data, err := readUpload(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	img, err := s.service.Upload(r.Context(), filename, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.metrics.uploadBytes.Observe(float64(len(data)))
	writeJSON(w, http.StatusCreated, img)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	details, err := s.service.Image(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleTransformImage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBodyBytes))
	if err != nil {
		s.fail(w, r, apperr.Validation("could not read request body"))
		return
	}
	spec, err := transform.Parse(body)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	d, err := s.service.DeriveImage(r.Context(), chi.URLParam(r, "id"), spec)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleTransformURL(w http.ResponseWriter, r *http.Request) {
	var req transformURLRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	spec, err := transform.FromRequest(req.Spec)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	d, err := s.service.Derive(r.Context(), service.DeriveRequest{SourceURL: req.SourceURL, Spec: spec})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleWarmImage(w http.ResponseWriter, r *http.Request) {
	if s.queueClient == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody(apperr.KindInternal, "async queue is unavailable"))
		return
	}

	var req warmRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	spec, err := transform.FromRequest(req.Spec)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	details, err := s.service.Image(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	fingerprint := cachekey.Fingerprint(details.URL, spec)
	payload := queue.WarmDerivativePayload{
		ImageID:     details.ID,
		SourceURL:   details.URL,
		Fingerprint: fingerprint,
		Spec:        spec.Request(),
		WebhookURL:  req.WebhookURL,
		RequestedAt: time.Now().UTC(),
	}

	info, err := s.queueClient.EnqueueWarmDerivative(r.Context(), payload)
	if errors.Is(err, queue.ErrAlreadyQueued) {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"fingerprint": fingerprint,
			"task_id":     queue.TaskID(fingerprint),
			"state":       "already_queued",
		})
		return
	}
	if err != nil {
		s.logger.Error("enqueue warm-up failed", zap.String("image_id", details.ID), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorBody(apperr.KindInternal, "failed to enqueue warm-up"))
		return
	}

	s.metrics.queueEnqueued.WithLabelValues(info.Queue).Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"fingerprint": fingerprint,
		"queue":       info.Queue,
		"task_id":     info.ID,
		"state":       info.State.String(),
		"enqueued_at": info.NextProcessAt,
	})
}

func (s *Server) decodeAndValidate(r *http.Request, into any) error {
	if err := decodeJSON(r, into); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	if err := s.validate.Struct(into); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.Validation("%s is invalid (%s)", jsonFieldName(verrs[0].Field()), verrs[0].Tag())
		}
		return apperr.Validation("invalid request: %v", err)
	}
	return nil
}

func readUpload(r *http.Request) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return "", nil, uploadReadError(err)
		}
		return r.URL.Query().Get("filename"), data, nil
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", nil, uploadReadError(err)
		}
		return "", nil, apperr.Validation("multipart field \"file\" is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, uploadReadError(err)
	}
	return header.Filename, data, nil
}

func uploadReadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperr.Validation("file exceeds the %d byte upload limit", maxErr.Limit)
	}
	return apperr.Validation("could not read upload")
}

func decodeJSON(r *http.Request, into any) error {
	limited := io.LimitReader(r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func jsonFieldName(field string) string {
	switch field {
	case "SourceURL":
		return "source_url"
	case "WebhookURL":
		return "webhook_url"
	default:
		return strings.ToLower(field)
	}
}
