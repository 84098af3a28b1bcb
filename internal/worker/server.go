package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelnorm/internal/config"
	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/dunamismax/pixelnorm/internal/pipeline"
	"github.com/dunamismax/pixelnorm/internal/queue"
	"github.com/dunamismax/pixelnorm/internal/sizespec"
	"github.com/dunamismax/pixelnorm/internal/storage"
	"github.com/dunamismax/pixelnorm/internal/store"
	"github.com/dunamismax/pixelnorm/internal/webhook"
	"github.com/dustin/go-humanize"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger          zerolog.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  *pipeline.Processor
	objectProcessor *pipeline.Processor
	defaults        domain.NormalizeSettings
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Options wires the worker. Storage may be nil, in which case only local_file and
// http_url jobs can run and every output is written under Worker.LocalOutputDir.
type Options struct {
	Logger    zerolog.Logger
	Queue     config.QueueConfig
	Worker    config.WorkerConfig
	Normalize config.NormalizeConfig
	Stages    *pipeline.Stages
	Storage   *storage.Client
	Webhook   *webhook.Client
	Jobs      store.JobStore
	Usage     store.UsageStore
}

func NewServer(opts Options) (*Server, error) {
	if opts.Stages == nil {
		return nil, errors.New("pipeline stages are required")
	}

	fetcher := pipeline.RoutingFetcher{
		domain.SourceTypeLocalFile: pipeline.LocalFileFetcher{},
		domain.SourceTypeHTTPURL: pipeline.URLFetcher{
			Client:   &http.Client{Timeout: opts.Normalize.FetchTimeout},
			MaxBytes: opts.Normalize.MaxSourceBytes,
		},
	}
	if opts.Storage != nil {
		fetcher[domain.SourceTypeS3Presigned] = pipeline.ObjectStoreFetcher{Storage: opts.Storage}
	}

	localProcessor, err := pipeline.NewProcessor(fetcher, pipeline.LocalFileEmitter{OutputDir: opts.Worker.LocalOutputDir}, opts.Stages)
	if err != nil {
		return nil, fmt.Errorf("initialize pipeline processor: %w", err)
	}

	var objectProcessor *pipeline.Processor
	if opts.Storage != nil {
		objectProcessor, err = pipeline.NewProcessor(
			fetcher,
			pipeline.ObjectStoreEmitter{Storage: opts.Storage, OutputPrefix: "outputs"},
			opts.Stages,
		)
		if err != nil {
			return nil, fmt.Errorf("initialize object-store processor: %w", err)
		}
	}

	usageStore := opts.Usage
	if usageStore == nil {
		if jobAndUsageStore, ok := opts.Jobs.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	var sender webhookSender
	if opts.Webhook != nil {
		sender = opts.Webhook
	}

	logger := opts.Logger.With().Str("component", "worker").Logger()
	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			opts.Queue.RedisClientOpt(),
			asynq.Config{
				Concurrency: opts.Worker.Concurrency,
				Queues: map[string]int{
					opts.Queue.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Warn().Err(err).
						Str("type", task.Type()).
						Int("retry", retried).
						Int("max_retry", maxRetry).
						Msg("task failed")
				}),
			},
		),
		sem:             make(chan struct{}, max(1, opts.Worker.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		defaults:        opts.Normalize.Defaults(),
		webhookClient:   sender,
		jobStore:        opts.Jobs,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("pixelnorm/worker"),
	}
	return s, nil
}

// Start begins consuming tasks in the background. Stop it with Shutdown.
func (s *Server) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeNormalizeImage, s.handleNormalizeImage)
	return s.server.Start(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// processorFor picks where outputs land. Local inputs stay local; everything else
// goes to object storage when it is configured.
func (s *Server) processorFor(sourceType string) *pipeline.Processor {
	if sourceType == domain.SourceTypeLocalFile || s.objectProcessor == nil {
		return s.localProcessor
	}
	return s.objectProcessor
}

func (s *Server) handleNormalizeImage(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseNormalizeImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.process(ctx, payload)
}

func (s *Server) process(ctx context.Context, payload queue.NormalizeImagePayload) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	ctx, span := s.tracer.Start(ctx, "worker.normalize_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.outputs", len(payload.Outputs)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	log := s.logger.With().Str("job_id", payload.JobID).Logger()
	log.Info().
		Str("source_type", payload.SourceType).
		Int("outputs", len(payload.Outputs)).
		Str("object_key", payload.ObjectKey).
		Msg("normalizing")

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	request := pipeline.Request{
		JobID:        payload.JobID,
		SourceType:   payload.SourceType,
		ObjectKey:    payload.ObjectKey,
		SourceURL:    payload.SourceURL,
		DeclaredType: payload.DeclaredType,
		Settings:     payload.Settings.WithDefaults(s.defaults),
		Outputs:      payload.Outputs,
	}

	result, err := s.processorFor(payload.SourceType).Process(ctx, request)
	if err != nil {
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		s.metrics.failuresTotal.WithLabelValues(failureKind(err)).Inc()
		_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"source_type":  payload.SourceType,
			"object_key":   payload.ObjectKey,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		if isPermanent(err) {
			return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run pipeline: %w", err)
	}

	log.Info().
		Int("outputs", len(result.Outputs)).
		Str("source_size", humanize.Bytes(uint64(result.SourceBytes))).
		Bool("exempt", result.Exempt).
		Bool("resized", result.Resized).
		Msg("normalized")
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)
	s.metrics.outputsTotal.Add(float64(len(result.Outputs)))
	if result.Exempt {
		s.metrics.exemptTotal.Inc()
	}
	s.recordUsage(ctx, payload, result, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"object_key":   payload.ObjectKey,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"exempt":       result.Exempt,
		"resized":      result.Resized,
		"outputs":      result.Outputs,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "normalized")
	return nil
}

// isPermanent reports failures that a retry cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, pipeline.ErrDecode) ||
		errors.Is(err, sizespec.ErrInvalidSize) ||
		errors.Is(err, pipeline.ErrUnsupportedSourceType) ||
		errors.Is(err, pipeline.ErrUnknownColorSpace)
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrDecode):
		return "decode"
	case errors.Is(err, pipeline.ErrEncode):
		return "encode"
	case errors.Is(err, sizespec.ErrInvalidSize):
		return "invalid_size"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Str("status", status).Msg("job status update failed")
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.NormalizeImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Warn().Err(err).Str("job_id", payload.JobID).Str("event", event).Msg("webhook delivery failed")
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, payload queue.NormalizeImagePayload, result pipeline.JobResult, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" && s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, payload.JobID)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", payload.JobID).Msg("usage lookup failed")
		} else if ok {
			userID = strings.TrimSpace(job.UserID)
		}
	}
	if userID == "" {
		userID = "anonymous"
	}

	var (
		pixelsProcessed  int64
		totalOutputBytes int64
	)
	for _, output := range result.Outputs {
		pixelsProcessed += int64(output.Width * output.Height)
		totalOutputBytes += int64(output.Bytes)
	}

	sourceBytes := int64(result.SourceBytes)
	bytesSaved := max(sourceBytes-totalOutputBytes, 0)
	computeTimeMS := max(computeDuration.Milliseconds(), 1)

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           payload.JobID,
		SourceBytes:     sourceBytes,
		OutputBytes:     totalOutputBytes,
		PixelsProcessed: pixelsProcessed,
		BytesSaved:      bytesSaved,
		ComputeTimeMS:   computeTimeMS,
		Exempt:          result.Exempt,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Warn().Err(err).Str("job_id", payload.JobID).Msg("usage log write failed")
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(bytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
