package reportclient

import (
	"context"
	"sync"
	"time"

	"github.com/iago/fleet-reports/internal/reportapi"
)

// Phase is the caller-visible state of a Session.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhaseSubmitting Phase = "SUBMITTING"
	PhasePolling    Phase = "POLLING"
	PhaseResolving  Phase = "RESOLVING"
	PhaseDone       Phase = "DONE"
	PhaseFailed     Phase = "FAILED"
	PhaseError      Phase = "ERROR"
	PhaseCancelled  Phase = "CANCELLED"
)

// Snapshot is one observed status response.
type Snapshot struct {
	JobID      string
	State      reportapi.Status
	Progress   int
	Message    string
	Poll       int
	ObservedAt time.Time

	// Changed is false when state, progress and message repeat the previous
	// snapshot. Snapshots are delivered either way.
	Changed bool
}

// ProgressFunc receives every snapshot in request order, on the session
// goroutine.
type ProgressFunc func(Snapshot)

// Session is one in-flight report request. It owns its own job and shares no
// mutable state with other sessions.
type Session struct {
	reportKind string
	scope      map[string]string
	onProgress ProgressFunc

	ctx  context.Context
	stop context.CancelFunc
	done chan struct{}

	mu        sync.Mutex
	phase     Phase
	cancelled bool
	finished  bool
	jobID     string
	pollCount int
	last      *Snapshot
	artifact  Artifact
	err       error
}

func newSession(parent context.Context, reportKind string, scope map[string]string, onProgress ProgressFunc) *Session {
	ctx, stop := context.WithCancel(parent)
	return &Session{
		reportKind: reportKind,
		scope:      scope,
		onProgress: onProgress,
		ctx:        ctx,
		stop:       stop,
		done:       make(chan struct{}),
		phase:      PhaseIdle,
	}
}

// Cancel stops the session and discards any in-flight response. Snapshots
// not yet handed to the callback are dropped; a callback already handed one
// may still be running when Cancel returns, but Wait returns only after it
// finished. Wait then reports ErrCancelled. Cancel after the session finished
// is a no-op.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.finished || s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.mu.Unlock()
	s.stop()
}

// Wait blocks until the session reaches its single terminal outcome.
func (s *Session) Wait() (Artifact, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact, s.err
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// JobID is empty until the backend accepted the submission.
func (s *Session) JobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobID
}

func (s *Session) PollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollCount
}

// LastSnapshot returns the most recent delivered snapshot.
func (s *Session) LastSnapshot() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Snapshot{}, false
	}
	return *s.last, true
}

func (s *Session) setPhase(phase Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return false
	}
	s.phase = phase
	return true
}

func (s *Session) bindJob(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobID = jobID
}

// deliver hands snapshot to the callback unless the session was cancelled.
// The cancellation check under mu is the ordering point. The callback itself
// runs unlocked so it may call Cancel, which means a Cancel on another
// goroutine can return before a callback that already passed the check.
func (s *Session) deliver(snapshot Snapshot) bool {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return false
	}
	snapshot.Changed = s.last == nil ||
		s.last.State != snapshot.State ||
		s.last.Progress != snapshot.Progress ||
		s.last.Message != snapshot.Message
	s.pollCount = snapshot.Poll
	stored := snapshot
	s.last = &stored
	s.mu.Unlock()

	if s.onProgress != nil {
		s.onProgress(snapshot)
	}
	return true
}

func (s *Session) finish(artifact Artifact, err error, phase Phase) {
	s.mu.Lock()
	// A done context without Cancel means the caller's parent context ended.
	if s.cancelled || s.ctx.Err() != nil {
		s.cancelled = true
		artifact, err, phase = Artifact{}, ErrCancelled, PhaseCancelled
	}
	s.artifact = artifact
	s.err = err
	s.phase = phase
	s.finished = true
	s.mu.Unlock()

	s.stop()
	close(s.done)
}
