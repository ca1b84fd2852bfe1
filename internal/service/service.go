// Package service turns (source, transform spec) pairs into stored
// derivatives. Each distinct fingerprint is processed and stored once.
package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/dunamismax/pixelforge/internal/apperr"
	"github.com/dunamismax/pixelforge/internal/cache"
	"github.com/dunamismax/pixelforge/internal/cachekey"
	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/dunamismax/pixelforge/internal/id"
	"github.com/dunamismax/pixelforge/internal/pipeline"
	"github.com/dunamismax/pixelforge/internal/storage"
	"github.com/dunamismax/pixelforge/internal/store"
	"github.com/dunamismax/pixelforge/internal/transform"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/dunamismax/pixelforge/internal/service"

type Options struct {
	Storage storage.Adapter
	Engine  *pipeline.Engine
	Cache   *cache.Cache
	Catalog store.Catalog
	Logger  *zap.Logger
	Metrics *Metrics
	// MaxConcurrency bounds concurrent pipeline executions. Zero means one
	// per CPU.
	MaxConcurrency int
}

type Service struct {
	storage storage.Adapter
	engine  *pipeline.Engine
	cache   *cache.Cache
	catalog store.Catalog
	pool    pond.ResultPool[pipeline.Result]
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *Metrics
	now     func() time.Time
}

type DeriveRequest struct {
	// ImageID links the derivative to a catalogued source. It may be empty
	// for ad-hoc source URLs.
	ImageID   string
	SourceURL string
	Spec      transform.Spec
}

// ImageDetails is a catalogued source together with its known derivatives.
type ImageDetails struct {
	domain.Image
	Derivatives []domain.Derivative `json:"derivatives"`
}

func New(opts Options) (*Service, error) {
	if opts.Storage == nil {
		return nil, errors.New("service requires a storage adapter")
	}
	if opts.Engine == nil {
		return nil, errors.New("service requires a pipeline engine")
	}
	if opts.Catalog == nil {
		return nil, errors.New("service requires a catalog")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Cache == nil {
		opts.Cache = cache.New(cache.NewMemoryStore(), opts.Logger.Named("cache"), nil)
	}

	workers := opts.MaxConcurrency
	if workers <= 0 {
		workers = defaultConcurrency()
	}

	return &Service{
		storage: opts.Storage,
		engine:  opts.Engine,
		cache:   opts.Cache,
		catalog: opts.Catalog,
		pool:    pond.NewResultPool[pipeline.Result](workers),
		logger:  opts.Logger,
		tracer:  otel.Tracer(tracerName),
		metrics: opts.Metrics,
		now:     time.Now,
	}, nil
}

// Close waits for queued pipeline executions and stops the worker pool.
func (s *Service) Close() {
	s.pool.StopAndWait()
}

// Derive returns the derivative for req, producing and storing it on first
// request. Concurrent requests for the same fingerprint share one execution.
func (s *Service) Derive(ctx context.Context, req DeriveRequest) (domain.Derivative, error) {
	sourceURL := strings.TrimSpace(req.SourceURL)
	if sourceURL == "" {
		return domain.Derivative{}, apperr.Validation("source_url is required")
	}
	if err := ctx.Err(); err != nil {
		return domain.Derivative{}, err
	}

	fingerprint := cachekey.Fingerprint(sourceURL, req.Spec)
	ctx, span := s.tracer.Start(ctx, "service.Derive", trace.WithAttributes(
		attribute.String("pixelforge.fingerprint", fingerprint),
		attribute.String("pixelforge.spec", req.Spec.String()),
	))
	defer span.End()

	started := time.Now()
	d, err := s.cache.GetOrCompute(ctx, fingerprint, func(ctx context.Context) (domain.Derivative, error) {
		return s.compute(ctx, fingerprint, sourceURL, req)
	})
	s.metrics.observeDerive(err, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
		return domain.Derivative{}, err
	}

	// Hits and shared flights are linked too; the flight that produced d may
	// have been started for another image or for a bare URL.
	if req.ImageID != "" {
		s.recordDerivative(ctx, req.ImageID, d)
	}

	span.SetAttributes(attribute.String("pixelforge.url", d.StorageURL))
	return d, nil
}

func (s *Service) recordDerivative(ctx context.Context, imageID string, d domain.Derivative) {
	if err := s.catalog.RecordDerivative(ctx, imageID, d); err != nil {
		s.logger.Warn("record derivative failed",
			zap.String("image_id", imageID),
			zap.String("fingerprint", d.Fingerprint),
			zap.Error(err),
		)
	}
}

// DeriveImage resolves a catalogued image to its stored URL and derives it.
func (s *Service) DeriveImage(ctx context.Context, imageID string, spec transform.Spec) (domain.Derivative, error) {
	img, err := s.lookupImage(ctx, imageID)
	if err != nil {
		return domain.Derivative{}, err
	}
	return s.Derive(ctx, DeriveRequest{ImageID: img.ID, SourceURL: img.URL, Spec: spec})
}

// Image returns a catalogued image and the derivatives recorded for it.
func (s *Service) Image(ctx context.Context, imageID string) (ImageDetails, error) {
	img, err := s.lookupImage(ctx, imageID)
	if err != nil {
		return ImageDetails{}, err
	}
	derivatives, err := s.catalog.ListDerivatives(ctx, img.ID)
	if err != nil {
		return ImageDetails{}, apperr.Wrap(apperr.KindInternal, "list derivatives", err)
	}
	if derivatives == nil {
		derivatives = []domain.Derivative{}
	}
	return ImageDetails{Image: img, Derivatives: derivatives}, nil
}

// Upload stores a PNG or JPEG source image and records it in the catalog.
func (s *Service) Upload(ctx context.Context, filename string, data []byte) (domain.Image, error) {
	ctx, span := s.tracer.Start(ctx, "service.Upload")
	defer span.End()

	if len(data) == 0 {
		return domain.Image{}, apperr.Validation("file is empty")
	}

	detected, width, height, err := pipeline.Probe(data)
	if err != nil {
		return domain.Image{}, apperr.Validation("invalid image format")
	}
	format, ok := transform.ParseFormat(detected)
	if !ok || (format != transform.FormatPNG && format != transform.FormatJPEG) {
		return domain.Image{}, apperr.Validation("invalid image format: only png and jpeg uploads are accepted")
	}

	imageID := id.New()
	key := fmt.Sprintf("sources/%s.%s", imageID, format.Ext())
	url, err := s.storage.Store(ctx, key, data, format.ContentType())
	if err != nil {
		span.RecordError(err)
		return domain.Image{}, apperr.Storage("store source image", err)
	}

	img := domain.Image{
		ID:        imageID,
		Filename:  cleanFilename(filename, imageID, format),
		ObjectKey: key,
		URL:       url,
		Format:    string(format),
		Width:     width,
		Height:    height,
		Bytes:     len(data),
		CreatedAt: s.now().UTC(),
	}
	if err := s.catalog.CreateImage(ctx, img); err != nil {
		span.RecordError(err)
		return domain.Image{}, apperr.Wrap(apperr.KindInternal, "record image", err)
	}

	span.SetAttributes(attribute.String("pixelforge.image_id", imageID))
	s.logger.Info("source image stored",
		zap.String("image_id", imageID),
		zap.String("format", img.Format),
		zap.Int("width", width),
		zap.Int("height", height),
	)
	return img, nil
}

func (s *Service) compute(ctx context.Context, fingerprint, sourceURL string, req DeriveRequest) (domain.Derivative, error) {
	ctx, span := s.tracer.Start(ctx, "service.compute")
	defer span.End()

	source, err := s.storage.Fetch(ctx, sourceURL)
	if err != nil {
		span.RecordError(err)
		return domain.Derivative{}, fetchError(sourceURL, err)
	}

	result, err := s.execute(ctx, source, req.Spec)
	if err != nil {
		span.RecordError(err)
		return domain.Derivative{}, err
	}
	for _, w := range result.Warnings {
		s.metrics.warnings.WithLabelValues(w.Code).Inc()
		s.logger.Warn("pipeline warning",
			zap.String("fingerprint", fingerprint),
			zap.String("code", w.Code),
			zap.String("detail", w.Detail),
		)
	}

	key := fmt.Sprintf("derivatives/%s.%s", fingerprint, result.Format.Ext())
	url, err := s.store(ctx, key, result)
	if err != nil {
		span.RecordError(err)
		return domain.Derivative{}, apperr.Storage("store derivative", err)
	}

	d := domain.Derivative{
		Fingerprint: fingerprint,
		StorageURL:  url,
		Format:      string(result.Format),
		Width:       result.Width,
		Height:      result.Height,
		Bytes:       len(result.Data),
		CreatedAt:   s.now().UTC(),
	}

	s.logger.Info("derivative stored",
		zap.String("fingerprint", fingerprint),
		zap.String("format", d.Format),
		zap.Int("bytes", d.Bytes),
	)
	return d, nil
}

// store writes the derivative unless another process already wrote the same
// key. Output is deterministic, so an existing object is the same bytes.
func (s *Service) store(ctx context.Context, key string, result pipeline.Result) (string, error) {
	if stater, ok := s.storage.(storage.Stater); ok {
		url, exists, err := stater.Stat(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn("derivative stat failed, writing", zap.String("key", key), zap.Error(err))
		case exists:
			s.metrics.reused.Inc()
			s.logger.Debug("derivative already stored", zap.String("key", key))
			return url, nil
		}
	}
	return s.storage.Store(ctx, key, result.Data, result.Format.ContentType())
}

// execute runs the engine on the worker pool so raster work never occupies
// the caller's goroutine.
func (s *Service) execute(ctx context.Context, source []byte, spec transform.Spec) (pipeline.Result, error) {
	task := s.pool.SubmitErr(func() (pipeline.Result, error) {
		return s.engine.Execute(ctx, source, spec)
	})
	result, err := task.Wait()
	if err != nil {
		var appErr *apperr.Error
		if !errors.As(err, &appErr) {
			return pipeline.Result{}, apperr.Processing("pipeline execution failed", err)
		}
		return pipeline.Result{}, err
	}
	return result, nil
}

func (s *Service) lookupImage(ctx context.Context, imageID string) (domain.Image, error) {
	if !id.Valid(imageID) {
		return domain.Image{}, apperr.NotFound("image not found")
	}
	img, ok, err := s.catalog.GetImage(ctx, imageID)
	if err != nil {
		return domain.Image{}, apperr.Wrap(apperr.KindInternal, "load image", err)
	}
	if !ok {
		return domain.Image{}, apperr.NotFound("image not found")
	}
	return img, nil
}

func fetchError(sourceURL string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound("source image not found: " + sourceURL)
	case errors.Is(err, storage.ErrUnsupportedURL):
		return apperr.Validation("source_url %q is not a supported location", sourceURL)
	default:
		return apperr.Storage("fetch source image", err)
	}
}

func cleanFilename(filename, imageID string, format transform.Format) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return imageID + "." + format.Ext()
	}
	return name
}
