package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/pixelforge/internal/apperr"
	"github.com/dunamismax/pixelforge/internal/config"
	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/dunamismax/pixelforge/internal/queue"
	"github.com/dunamismax/pixelforge/internal/service"
	"github.com/dunamismax/pixelforge/internal/transform"
	"github.com/dunamismax/pixelforge/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const outcomeOK = "ok"

type Deriver interface {
	Derive(ctx context.Context, req service.DeriveRequest) (domain.Derivative, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Server struct {
	logger        *zap.Logger
	server        *asynq.Server
	deriver       Deriver
	webhookClient webhookSender
	metrics       *metrics
	tracer        trace.Tracer
}

// ReadyEvent is the webhook body sent once a warmed derivative is stored.
type ReadyEvent struct {
	ImageID     string            `json:"image_id,omitempty"`
	SourceURL   string            `json:"source_url"`
	Derivative  domain.Derivative `json:"derivative"`
	RequestedAt time.Time         `json:"requested_at"`
	CompletedAt time.Time         `json:"completed_at"`
}

// FailedEvent is the webhook body sent when a warm-up will not be retried.
type FailedEvent struct {
	ImageID     string    `json:"image_id,omitempty"`
	SourceURL   string    `json:"source_url"`
	Fingerprint string    `json:"fingerprint"`
	Kind        string    `json:"kind"`
	Detail      string    `json:"detail"`
	RequestedAt time.Time `json:"requested_at"`
	FailedAt    time.Time `json:"failed_at"`
}

func NewServer(
	logger *zap.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	deriver Deriver,
	webhookClient *webhook.Client,
	registry *prometheus.Registry,
) (*Server, error) {
	if deriver == nil {
		return nil, fmt.Errorf("deriver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				Logger:   logger.Named("asynq").Sugar(),
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Warn("task failed",
						zap.String("type", task.Type()),
						zap.Int("retry", retried),
						zap.Int("max_retry", maxRetry),
						zap.Error(err),
					)
				}),
			},
		),
		deriver: deriver,
		metrics: newMetrics(registry),
		tracer:  otel.Tracer("pixelforge/worker"),
	}
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	return s, nil
}

// Start begins processing in the background; pair it with Shutdown.
func (s *Server) Start() error {
	return s.server.Start(s.mux())
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeWarmDerivative, s.handleWarmDerivative)
	return mux
}

func (s *Server) handleWarmDerivative(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := string(apperr.KindInternal)

	payload, err := queue.ParseWarmDerivativePayload(task)
	if err != nil {
		s.metrics.tasksTotal.WithLabelValues(string(apperr.KindValidation)).Inc()
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.warm_derivative", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("pixelforge.image_id", payload.ImageID),
		attribute.String("pixelforge.fingerprint", payload.Fingerprint),
	)
	defer span.End()
	defer func() {
		s.metrics.taskDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.tasksTotal.WithLabelValues(outcome).Inc()
	}()

	s.metrics.activeTasks.Inc()
	defer s.metrics.activeTasks.Dec()

	s.logger.Info("warming derivative",
		zap.String("image_id", payload.ImageID),
		zap.String("fingerprint", payload.Fingerprint),
		zap.String("source_url", payload.SourceURL),
	)

	d, err := s.derive(ctx, payload)
	if err != nil {
		outcome = string(apperr.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)

		retryable := apperr.IsRetryable(err)
		if retryable && !finalAttempt(ctx) {
			return fmt.Errorf("derive: %w", err)
		}

		kind, detail := apperr.Public(err)
		_ = s.dispatchWebhook(ctx, payload, webhook.EventDerivativeFailed, FailedEvent{
			ImageID:     payload.ImageID,
			SourceURL:   payload.SourceURL,
			Fingerprint: payload.Fingerprint,
			Kind:        string(kind),
			Detail:      detail,
			RequestedAt: payload.RequestedAt,
			FailedAt:    time.Now().UTC(),
		})
		if retryable {
			return fmt.Errorf("derive: %w", err)
		}
		return fmt.Errorf("derive: %v: %w", err, asynq.SkipRetry)
	}

	s.logger.Info("derivative warmed",
		zap.String("fingerprint", d.Fingerprint),
		zap.String("url", d.StorageURL),
	)

	if err := s.dispatchWebhook(ctx, payload, webhook.EventDerivativeReady, ReadyEvent{
		ImageID:     payload.ImageID,
		SourceURL:   payload.SourceURL,
		Derivative:  d,
		RequestedAt: payload.RequestedAt,
		CompletedAt: time.Now().UTC(),
	}); err != nil {
		outcome = "webhook_failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = outcomeOK
	span.SetStatus(codes.Ok, "warmed")
	return nil
}

func (s *Server) derive(ctx context.Context, payload queue.WarmDerivativePayload) (domain.Derivative, error) {
	spec, err := transform.FromRequest(payload.Spec)
	if err != nil {
		return domain.Derivative{}, err
	}
	return s.deriver.Derive(ctx, service.DeriveRequest{
		ImageID:   payload.ImageID,
		SourceURL: payload.SourceURL,
		Spec:      spec,
	})
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.WarmDerivativePayload, event string, body any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		s.logger.Warn("webhook delivery failed",
			zap.String("fingerprint", payload.Fingerprint),
			zap.String("event", event),
			zap.Error(err),
		)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

// finalAttempt reports whether asynq will not retry the current task again.
// Outside asynq there is no retry budget, so every attempt is final.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return retried >= maxRetry
}
