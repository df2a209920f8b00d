// Package reportclient requests generated reports from the backend: it submits
// a job, polls it to a terminal state and fetches the artifact, behind one
// cancellable call shared by every front end.
package reportclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/iago/fleet-reports/internal/reportapi"
)

// Transport is everything the client needs from the backend. The HTTP
// implementation lives in the transport package; tests substitute fakes.
type Transport interface {
	JobCreator
	StatusFetcher
	ArtifactFetcher
}

type Config struct {
	// Interval is the fixed wait between polls when Policy is nil.
	Interval time.Duration
	Policy   IntervalPolicy

	MaxAttempts int
	MaxDuration time.Duration

	Mode   Mode
	Opener Opener

	Logger *slog.Logger
}

// Client is safe for concurrent use. Each Start creates an independent
// Session with its own job.
type Client struct {
	submitter *Submitter
	poller    *Poller
	resolver  *Resolver
	logger    *slog.Logger
}

func New(transport Transport, config Config) *Client {
	if config.Policy == nil {
		config.Policy = FixedInterval(config.Interval)
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		submitter: NewSubmitter(transport),
		poller: NewPoller(transport, PollerConfig{
			Policy:      config.Policy,
			MaxAttempts: config.MaxAttempts,
			MaxDuration: config.MaxDuration,
		}),
		resolver: NewResolver(transport, config.Mode, config.Opener),
		logger:   config.Logger,
	}
}

// Start launches a report run and returns its handle at once. Cancelling ctx
// has the same effect as Session.Cancel.
func (c *Client) Start(
	ctx context.Context,
	reportKind string,
	scope map[string]string,
	onProgress ProgressFunc,
) *Session {
	session := newSession(ctx, reportKind, cloneScope(scope), onProgress)
	stopWatch := context.AfterFunc(ctx, session.Cancel)
	go func() {
		defer stopWatch()
		c.run(session)
	}()
	return session
}

// Generate runs a report to completion and returns its single outcome.
func (c *Client) Generate(
	ctx context.Context,
	reportKind string,
	scope map[string]string,
	onProgress ProgressFunc,
) (Artifact, error) {
	return c.Start(ctx, reportKind, scope, onProgress).Wait()
}

func (c *Client) run(s *Session) {
	artifact, phase, err := c.execute(s)
	s.finish(artifact, err, phase)

	attrs := []any{"report_kind", s.reportKind, "job_id", s.JobID(), "phase", s.Phase(), "polls", s.PollCount()}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	c.logger.Debug("report session finished", attrs...)
}

func (c *Client) execute(s *Session) (Artifact, Phase, error) {
	ctx := s.ctx

	if !c.transition(s, PhaseSubmitting) {
		return Artifact{}, PhaseCancelled, ErrCancelled
	}
	jobID, err := c.submitter.Submit(ctx, s.reportKind, s.scope)
	if err != nil {
		return Artifact{}, PhaseError, err
	}
	s.bindJob(jobID)

	if !c.transition(s, PhasePolling) {
		return Artifact{}, PhaseCancelled, ErrCancelled
	}
	final, err := c.poller.Poll(ctx, jobID, s.deliver)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Artifact{}, PhaseCancelled, ErrCancelled
		}
		return Artifact{}, PhaseError, err
	}
	if final.State == reportapi.StatusFailed {
		return Artifact{}, PhaseFailed, &GenerationFailedError{
			JobID:    jobID,
			Progress: final.Progress,
			Message:  final.Message,
		}
	}

	if !c.transition(s, PhaseResolving) {
		return Artifact{}, PhaseCancelled, ErrCancelled
	}
	artifact, err := c.resolver.Resolve(ctx, jobID, s.reportKind)
	if err != nil {
		return Artifact{}, PhaseError, err
	}
	return artifact, PhaseDone, nil
}

func (c *Client) transition(s *Session, phase Phase) bool {
	if !s.setPhase(phase) {
		return false
	}
	c.logger.Debug("report session phase", "report_kind", s.reportKind, "job_id", s.JobID(), "phase", phase)
	return true
}
