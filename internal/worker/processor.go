package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iago/fleet-reports/internal/blob"
	"github.com/iago/fleet-reports/internal/domain"
	"github.com/iago/fleet-reports/internal/queue"
	"github.com/iago/fleet-reports/internal/render"
	"github.com/iago/fleet-reports/internal/repository"
	"github.com/iago/fleet-reports/internal/service"
)

// Progress published at each render stage.
const (
	progressStarted   = 10
	progressValidated = 40
	progressCollected = 90
	progressDone      = 100
)

type Renderer interface {
	Render(ctx context.Context, kind string, scope map[string]string, onStage func(render.Stage)) (render.Document, error)
}

// Publisher receives every persisted job transition.
type Publisher interface {
	Publish(job domain.ReportJob)
}

type Config struct {
	Concurrency int
	MaxAttempts int
	// StepDelay pauses between stages so progress is observable on fast renders.
	StepDelay time.Duration
	Logger    *slog.Logger
}

// Processor consumes queued report jobs, renders them and persists every
// status transition.
type Processor struct {
	consumer  queue.Consumer
	repo      repository.JobsRepository
	renderer  Renderer
	blobs     blob.Store
	publisher Publisher
	config    Config
	logger    *slog.Logger
}

func NewProcessor(
	consumer queue.Consumer,
	repo repository.JobsRepository,
	renderer Renderer,
	blobs blob.Store,
	publisher Publisher,
	cfg Config,
) *Processor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Processor{
		consumer:  consumer,
		repo:      repo,
		renderer:  renderer,
		blobs:     blobs,
		publisher: publisher,
		config:    cfg,
		logger:    logger.With("component", "worker"),
	}
}

// Start blocks until ctx is done.
func (p *Processor) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.consumeLoop(ctx)
		}()
	}
	wg.Wait()
}

func (p *Processor) consumeLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logger.Error("consume loop error", "error", err)

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Processor) processMessage(ctx context.Context, message domain.QueueMessage) error {
	job, err := p.repo.GetJob(ctx, message.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", message.JobID, err)
	}
	if job.Status.Terminal() {
		p.logger.Debug("skip finished job", "job_id", job.ID, "status", job.Status)
		return nil
	}

	job.Attempts = message.Attempt + 1
	if err := p.advance(ctx, job, domain.JobStatusProcessing, progressStarted, "Validating report scope"); err != nil {
		return err
	}

	var stageErr error
	document, renderErr := p.renderer.Render(ctx, job.ReportKind, job.Scope, func(stage render.Stage) {
		if stageErr != nil {
			return
		}
		switch stage {
		case render.StageValidated:
			stageErr = p.advance(ctx, job, domain.JobStatusProcessing, progressValidated, "Collecting fleet data")
		case render.StageCollected:
			stageErr = p.advance(ctx, job, domain.JobStatusProcessing, progressCollected, "Rendering document")
		}
	})
	if stageErr != nil {
		return stageErr
	}
	if renderErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Render failures are deterministic; retrying would fail the same way.
		p.logger.Warn("report render failed", "job_id", job.ID, "report_kind", job.ReportKind, "error", renderErr)
		return p.fail(ctx, job, renderErr.Error())
	}

	key := service.ArtifactKey(job.ID, document.Filename)
	size, err := p.blobs.Put(ctx, key, document.Data, document.ContentType)
	if err != nil {
		if job.Attempts < p.config.MaxAttempts {
			return fmt.Errorf("store artifact %s: %w", key, err)
		}
		return p.fail(ctx, job, "could not store report: "+err.Error())
	}

	job.ArtifactKey = key
	job.ArtifactContentType = document.ContentType
	job.ArtifactFilename = document.Filename
	job.ArtifactSize = size
	if err := p.advance(ctx, job, domain.JobStatusCompleted, progressDone, "Report ready"); err != nil {
		return err
	}

	p.logger.Info("report job completed",
		"job_id", job.ID,
		"report_kind", job.ReportKind,
		"filename", document.Filename,
		"size_bytes", size,
	)
	return nil
}

func (p *Processor) advance(
	ctx context.Context,
	job *domain.ReportJob,
	status domain.JobStatus,
	progress int,
	message string,
) error {
	// A retried attempt replays early stages; progress never moves backwards.
	if status != domain.JobStatusCompleted && progress <= job.Progress {
		return nil
	}
	if p.config.StepDelay > 0 && status != domain.JobStatusCompleted {
		timer := time.NewTimer(p.config.StepDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	job.Status = status
	job.Progress = progress
	job.Message = message
	job.UpdatedAt = time.Now().UTC()
	if err := p.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark %s: %w", status, err)
	}
	p.publish(job)
	return nil
}

// fail keeps the last reached progress.
func (p *Processor) fail(ctx context.Context, job *domain.ReportJob, message string) error {
	job.Status = domain.JobStatusFailed
	job.Message = message
	job.UpdatedAt = time.Now().UTC()
	if err := p.repo.UpdateJob(context.WithoutCancel(ctx), job); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	p.publish(job)
	return nil
}

func (p *Processor) publish(job *domain.ReportJob) {
	if p.publisher == nil {
		return
	}
	p.publisher.Publish(*job)
}
