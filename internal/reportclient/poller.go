package reportclient

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/iago/fleet-reports/internal/reportapi"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 900
	DefaultMaxDuration = 30 * time.Minute
)

// StatusFetcher reads the current state of a job.
type StatusFetcher interface {
	JobStatus(ctx context.Context, jobID string) (reportapi.StatusResponse, error)
}

// IntervalPolicy builds the wait schedule for one polling run. Returning
// backoff.Stop from NextBackOff ends polling with a PollingTimeoutError.
type IntervalPolicy func() backoff.BackOff

// FixedInterval waits the same duration between every poll.
func FixedInterval(interval time.Duration) IntervalPolicy {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return func() backoff.BackOff {
		return backoff.NewConstantBackOff(interval)
	}
}

// ExponentialInterval grows the wait from initial up to maxInterval. It never stops on
// its own; the poller's attempt and duration bounds still apply.
func ExponentialInterval(initial, maxInterval time.Duration) IntervalPolicy {
	return func() backoff.BackOff {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = initial
		policy.MaxInterval = maxInterval
		policy.MaxElapsedTime = 0
		return policy
	}
}

type PollerConfig struct {
	Policy      IntervalPolicy
	MaxAttempts int
	MaxDuration time.Duration
}

// Poller issues strictly sequential status requests for one job until it
// reports COMPLETED or FAILED.
type Poller struct {
	fetcher     StatusFetcher
	policy      IntervalPolicy
	maxAttempts int
	maxDuration time.Duration
}

func NewPoller(fetcher StatusFetcher, config PollerConfig) *Poller {
	if config.Policy == nil {
		config.Policy = FixedInterval(DefaultInterval)
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.MaxDuration <= 0 {
		config.MaxDuration = DefaultMaxDuration
	}
	return &Poller{
		fetcher:     fetcher,
		policy:      config.Policy,
		maxAttempts: config.MaxAttempts,
		maxDuration: config.MaxDuration,
	}
}

// Poll calls emit with every snapshot, unchanged ones included. emit returning
// false aborts the run with context.Canceled. The returned snapshot is the
// terminal one.
func (p *Poller) Poll(ctx context.Context, jobID string, emit func(Snapshot) bool) (Snapshot, error) {
	schedule := p.policy()
	schedule.Reset()

	start := time.Now()
	var last Snapshot
	for attempt := 1; ; attempt++ {
		status, err := p.fetcher.JobStatus(ctx, jobID)
		if ctx.Err() != nil {
			return last, ctx.Err()
		}
		if err != nil {
			return last, &StatusError{
				JobID:      jobID,
				Poll:       attempt,
				StatusCode: statusCodeOf(err),
				Err:        err,
			}
		}

		last = snapshotFrom(jobID, attempt, status)
		if !emit(last) {
			return last, context.Canceled
		}
		if last.State.Terminal() {
			return last, nil
		}

		wait := schedule.NextBackOff()
		elapsed := time.Since(start)
		if attempt >= p.maxAttempts || wait == backoff.Stop || elapsed+wait > p.maxDuration {
			return last, &PollingTimeoutError{
				JobID:     jobID,
				Attempts:  attempt,
				Elapsed:   elapsed,
				LastState: last.State,
			}
		}

		if err := sleep(ctx, wait); err != nil {
			return last, err
		}
	}
}

func sleep(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func snapshotFrom(jobID string, poll int, status reportapi.StatusResponse) Snapshot {
	if status.JobID != "" {
		jobID = status.JobID
	}
	return Snapshot{
		JobID:      jobID,
		State:      status.Status,
		Progress:   status.Progress,
		Message:    status.Message,
		Poll:       poll,
		ObservedAt: time.Now().UTC(),
	}
}
