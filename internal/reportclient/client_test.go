package reportclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/fleet-reports/internal/reportapi"
)

type statusCodeError struct {
	code int
}

func (e *statusCodeError) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *statusCodeError) HTTPStatus() int { return e.code }

type callWindow struct {
	jobID string
	start time.Time
	end   time.Time
}

// fakeTransport replays a scripted status sequence. The last status repeats
// once the script is exhausted.
type fakeTransport struct {
	mu sync.Mutex

	jobID     string
	submitErr error
	submitted []reportapi.SubmitRequest

	statuses   []reportapi.StatusResponse
	statusErr  error
	statusHook func(call int)
	windows    []callWindow
	inFlight   int
	maxFlight  int

	download      reportapi.Download
	downloadErr   error
	downloadCalls int

	grant    reportapi.ArtifactURLResponse
	grantErr error
	urlCalls int
}

func newFakeTransport(statuses ...reportapi.StatusResponse) *fakeTransport {
	return &fakeTransport{
		jobID:    "job-1",
		statuses: statuses,
		download: reportapi.Download{Data: []byte("%PDF-1.3"), ContentType: "application/pdf", Filename: "report.pdf"},
	}
}

func (f *fakeTransport) SubmitReport(
	_ context.Context,
	request reportapi.SubmitRequest,
) (reportapi.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, request)
	if f.submitErr != nil {
		return reportapi.SubmitResponse{}, f.submitErr
	}
	return reportapi.SubmitResponse{JobID: f.jobID, Status: reportapi.StatusStarting}, nil
}

func (f *fakeTransport) JobStatus(ctx context.Context, jobID string) (reportapi.StatusResponse, error) {
	f.mu.Lock()
	call := len(f.windows)
	f.windows = append(f.windows, callWindow{jobID: jobID, start: time.Now()})
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	hook := f.statusHook
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	f.windows[call].end = time.Now()
	if ctx.Err() != nil {
		return reportapi.StatusResponse{}, ctx.Err()
	}
	if f.statusErr != nil {
		return reportapi.StatusResponse{}, f.statusErr
	}
	index := call
	if index >= len(f.statuses) {
		index = len(f.statuses) - 1
	}
	return f.statuses[index], nil
}

func (f *fakeTransport) DownloadArtifact(_ context.Context, _ string) (reportapi.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloadCalls++
	if f.downloadErr != nil {
		return reportapi.Download{}, f.downloadErr
	}
	return f.download, nil
}

func (f *fakeTransport) ArtifactURL(_ context.Context, _ string) (reportapi.ArtifactURLResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urlCalls++
	if f.grantErr != nil {
		return reportapi.ArtifactURLResponse{}, f.grantErr
	}
	return f.grant, nil
}

func (f *fakeTransport) statusCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.windows)
}

func (f *fakeTransport) retrievalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloadCalls + f.urlCalls
}

type progressRecorder struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (r *progressRecorder) record(snapshot Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snapshot)
}

func (r *progressRecorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snapshots...)
}

func status(state reportapi.Status, progress int, message string) reportapi.StatusResponse {
	return reportapi.StatusResponse{JobID: "job-1", Status: state, Progress: progress, Message: message}
}

func newTestClient(transport Transport, config Config) *Client {
	if config.Interval == 0 && config.Policy == nil {
		config.Interval = time.Millisecond
	}
	return New(transport, config)
}

func TestGenerateCompletesAndReportsEveryPoll(t *testing.T) {
	transport := newFakeTransport(
		status(reportapi.StatusStarting, 0, ""),
		status(reportapi.StatusProcessing, 40, ""),
		status(reportapi.StatusProcessing, 90, ""),
		status(reportapi.StatusCompleted, 100, ""),
	)
	recorder := &progressRecorder{}

	artifact, err := newTestClient(transport, Config{}).
		Generate(context.Background(), "fleet-summary", nil, recorder.record)
	require.NoError(t, err)

	assert.Equal(t, ArtifactData, artifact.Kind)
	assert.Equal(t, "job-1", artifact.JobID)
	assert.Equal(t, "fleet-summary", artifact.ReportKind)
	assert.Equal(t, []byte("%PDF-1.3"), artifact.Data)
	assert.Equal(t, "report.pdf", artifact.Filename)

	snapshots := recorder.all()
	require.Len(t, snapshots, 4)
	wantStates := []reportapi.Status{
		reportapi.StatusStarting,
		reportapi.StatusProcessing,
		reportapi.StatusProcessing,
		reportapi.StatusCompleted,
	}
	wantProgress := []int{0, 40, 90, 100}
	for i, snapshot := range snapshots {
		assert.Equal(t, wantStates[i], snapshot.State, "snapshot %d", i)
		assert.Equal(t, wantProgress[i], snapshot.Progress, "snapshot %d", i)
		assert.Equal(t, i+1, snapshot.Poll)
	}
	assert.Nil(t, transport.submitted[0].Scope)
	assert.Equal(t, 1, transport.retrievalCalls())
}

func TestGenerateSurfacesBackendFailureMessage(t *testing.T) {
	transport := newFakeTransport(
		status(reportapi.StatusProcessing, 10, ""),
		status(reportapi.StatusFailed, 10, "template error"),
	)
	recorder := &progressRecorder{}

	_, err := newTestClient(transport, Config{}).
		Generate(context.Background(), "trips", map[string]string{"vehicleId": "V1"}, recorder.record)

	var failed *GenerationFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "template error", failed.Message)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.NotErrorIs(t, err, ErrRetrieval)
	assert.Len(t, recorder.all(), 2)
	assert.Equal(t, map[string]string{"vehicleId": "V1"}, transport.submitted[0].Scope)
	assert.Zero(t, transport.retrievalCalls())
}

func TestGenerateFailedOnFirstPollSkipsRetrieval(t *testing.T) {
	transport := newFakeTransport(status(reportapi.StatusFailed, 0, "no data"))

	_, err := newTestClient(transport, Config{}).Generate(context.Background(), "fuel", nil, nil)

	require.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, 1, transport.statusCalls())
	assert.Zero(t, transport.retrievalCalls())
}

func TestGenerateSubmissionFailureNeverPolls(t *testing.T) {
	transport := newFakeTransport(status(reportapi.StatusCompleted, 100, ""))
	transport.submitErr = &statusCodeError{code: 500}

	session := newTestClient(transport, Config{}).Start(context.Background(), "fleet-summary", nil, nil)
	_, err := session.Wait()

	var submission *SubmissionError
	require.ErrorAs(t, err, &submission)
	assert.Equal(t, 500, submission.StatusCode)
	assert.ErrorIs(t, err, ErrSubmission)
	assert.Equal(t, PhaseError, session.Phase())
	assert.Empty(t, session.JobID())
	assert.Zero(t, transport.statusCalls())
}

func TestGenerateRejectsBlankKindWithoutRequest(t *testing.T) {
	transport := newFakeTransport(status(reportapi.StatusCompleted, 100, ""))

	_, err := newTestClient(transport, Config{}).Generate(context.Background(), "  ", nil, nil)

	require.ErrorIs(t, err, ErrSubmission)
	assert.Empty(t, transport.submitted)
}

func TestGenerateRetrievalFailureIsDistinct(t *testing.T) {
	transport := newFakeTransport(status(reportapi.StatusCompleted, 100, ""))
	transport.downloadErr = &statusCodeError{code: 502}

	_, err := newTestClient(transport, Config{}).Generate(context.Background(), "fleet-summary", nil, nil)

	var retrieval *RetrievalError
	require.ErrorAs(t, err, &retrieval)
	assert.Equal(t, 502, retrieval.StatusCode)
	assert.Equal(t, ModeDownload, retrieval.Mode)
	assert.NotErrorIs(t, err, ErrGenerationFailed)
}

func TestCancelAfterFirstPollStopsEverything(t *testing.T) {
	transport := newFakeTransport(
		status(reportapi.StatusProcessing, 10, ""),
		status(reportapi.StatusProcessing, 20, ""),
		status(reportapi.StatusCompleted, 100, ""),
	)
	recorder := &progressRecorder{}
	firstSeen := make(chan struct{})
	var once sync.Once

	client := newTestClient(transport, Config{Interval: 200 * time.Millisecond})
	session := client.Start(context.Background(), "fleet-summary", nil, func(snapshot Snapshot) {
		recorder.record(snapshot)
		once.Do(func() { close(firstSeen) })
	})

	<-firstSeen
	session.Cancel()
	_, err := session.Wait()

	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, PhaseCancelled, session.Phase())

	time.Sleep(300 * time.Millisecond)
	assert.Len(t, recorder.all(), 1)
	assert.Equal(t, 1, transport.statusCalls())
	assert.Zero(t, transport.retrievalCalls())
}

func TestCancelDiscardsInFlightResponse(t *testing.T) {
	transport := newFakeTransport(status(reportapi.StatusCompleted, 100, ""))
	entered := make(chan struct{})
	release := make(chan struct{})
	transport.statusHook = func(int) {
		close(entered)
		<-release
	}
	recorder := &progressRecorder{}

	session := newTestClient(transport, Config{}).Start(context.Background(), "fleet-summary", nil, recorder.record)
	<-entered
	session.Cancel()
	close(release)

	_, err := session.Wait()
	require.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, recorder.all())
	assert.Zero(t, transport.retrievalCalls())
}

func TestCancelFromProgressCallback(t *testing.T) {
	transport := newFakeTransport(
		status(reportapi.StatusProcessing, 50, ""),
		status(reportapi.StatusCompleted, 100, ""),
	)
	recorder := &progressRecorder{}

	var session *Session
	started := make(chan struct{})
	session = newTestClient(transport, Config{}).Start(context.Background(), "trips", nil, func(snapshot Snapshot) {
		<-started
		recorder.record(snapshot)
		session.Cancel()
	})
	close(started)

	_, err := session.Wait()
	require.ErrorIs(t, err, ErrCancelled)
	assert.Len(t, recorder.all(), 1)
	assert.Equal(t, 1, transport.statusCalls())
}

func TestNoCallbackRunsAfterCancelledWaitReturns(t *testing.T) {
	for i := range 200 {
		transport := newFakeTransport(status(reportapi.StatusProcessing, 30, ""))
		var mu sync.Mutex
		waited := false
		late := false

		session := newTestClient(transport, Config{Interval: time.Microsecond}).Start(context.Background(), "trips", nil, func(Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			if waited {
				late = true
			}
		})
		time.Sleep(time.Duration(i%3) * time.Microsecond)
		go session.Cancel()
		_, err := session.Wait()
		require.ErrorIs(t, err, ErrCancelled)

		mu.Lock()
		waited = true
		mu.Unlock()
		time.Sleep(time.Millisecond)

		mu.Lock()
		assert.False(t, late, "callback ran after Wait returned")
		mu.Unlock()
	}
}

func TestParentContextCancellationCancelsSession(t *testing.T) {
	transport := newFakeTransport(status(reportapi.StatusProcessing, 5, ""))
	ctx, cancel := context.WithCancel(context.Background())

	session := newTestClient(transport, Config{Interval: time.Second}).Start(ctx, "fleet-summary", nil, nil)
	require.Eventually(t, func() bool { return transport.statusCalls() == 1 }, time.Second, time.Millisecond)
	cancel()

	_, err := session.Wait()
	require.ErrorIs(t, err, ErrCancelled)
}

func TestCancelAfterFinishKeepsOutcome(t *testing.T) {
	transport := newFakeTransport(status(reportapi.StatusCompleted, 100, ""))

	session := newTestClient(transport, Config{}).Start(context.Background(), "fleet-summary", nil, nil)
	artifact, err := session.Wait()
	require.NoError(t, err)
	session.Cancel()

	again, err := session.Wait()
	require.NoError(t, err)
	assert.Equal(t, artifact, again)
	assert.Equal(t, PhaseDone, session.Phase())
}

func TestPollsNeverOverlap(t *testing.T) {
	transport := newFakeTransport(
		status(reportapi.StatusStarting, 0, ""),
		status(reportapi.StatusProcessing, 30, ""),
		status(reportapi.StatusProcessing, 60, ""),
		status(reportapi.StatusProcessing, 90, ""),
		status(reportapi.StatusCompleted, 100, ""),
	)
	transport.statusHook = func(int) { time.Sleep(5 * time.Millisecond) }

	_, err := newTestClient(transport, Config{}).Generate(context.Background(), "fleet-summary", nil, nil)
	require.NoError(t, err)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Equal(t, 1, transport.maxFlight)
	for i := 1; i < len(transport.windows); i++ {
		assert.False(t, transport.windows[i].start.Before(transport.windows[i-1].end),
			"poll %d started before poll %d finished", i+1, i)
	}
}

func TestPollingTimeoutAfterMaxAttempts(t *testing.T) {
	transport := newFakeTransport(status(reportapi.StatusProcessing, 10, ""))
	recorder := &progressRecorder{}

	_, err := newTestClient(transport, Config{MaxAttempts: 3}).
		Generate(context.Background(), "fleet-summary", nil, recorder.record)

	var timeout *PollingTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 3, timeout.Attempts)
	assert.Equal(t, reportapi.StatusProcessing, timeout.LastState)
	assert.NotErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, 3, transport.statusCalls())
	assert.Len(t, recorder.all(), 3)
}

func TestPollingTimeoutAfterMaxDuration(t *testing.T) {
	transport := newFakeTransport(status(reportapi.StatusProcessing, 10, ""))

	_, err := newTestClient(transport, Config{Interval: 20 * time.Millisecond, MaxDuration: 50 * time.Millisecond}).
		Generate(context.Background(), "fleet-summary", nil, nil)

	require.ErrorIs(t, err, ErrPollingTimeout)
	assert.LessOrEqual(t, transport.statusCalls(), 3)
}

func TestUnknownStateKeepsPolling(t *testing.T) {
	transport := newFakeTransport(
		status("QUEUED", 0, ""),
		status("RENDERING", 50, ""),
		status(reportapi.StatusCompleted, 100, ""),
	)

	_, err := newTestClient(transport, Config{}).Generate(context.Background(), "fleet-summary", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, transport.statusCalls())
}

func TestNonMonotonicProgressIsDeliveredAsIs(t *testing.T) {
	transport := newFakeTransport(
		status(reportapi.StatusProcessing, 60, ""),
		status(reportapi.StatusProcessing, 40, "re-rendering"),
		status(reportapi.StatusProcessing, 40, "re-rendering"),
		status(reportapi.StatusCompleted, 100, ""),
	)
	recorder := &progressRecorder{}

	_, err := newTestClient(transport, Config{}).Generate(context.Background(), "fleet-summary", nil, recorder.record)
	require.NoError(t, err)

	snapshots := recorder.all()
	require.Len(t, snapshots, 4)
	assert.Equal(t, 40, snapshots[1].Progress)
	assert.True(t, snapshots[1].Changed)
	assert.False(t, snapshots[2].Changed)
	assert.True(t, snapshots[3].Changed)
}

func TestStatusRequestFailureIsNotRetried(t *testing.T) {
	transport := newFakeTransport(status(reportapi.StatusProcessing, 10, ""))
	transport.statusErr = &statusCodeError{code: 503}

	_, err := newTestClient(transport, Config{}).Generate(context.Background(), "fleet-summary", nil, nil)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 503, statusErr.StatusCode)
	assert.Equal(t, 1, statusErr.Poll)
	assert.Equal(t, 1, transport.statusCalls())
}

func TestURLModeHandsLinkToOpener(t *testing.T) {
	transport := newFakeTransport(status(reportapi.StatusCompleted, 100, ""))
	expires := time.Now().Add(time.Minute).UTC()
	transport.grant = reportapi.ArtifactURLResponse{URL: "https://files.example/r.pdf", ExpiresAt: expires}

	var opened []string
	opener := OpenerFunc(func(_ context.Context, url string) error {
		opened = append(opened, url)
		return nil
	})

	artifact, err := newTestClient(transport, Config{Mode: ModeURL, Opener: opener}).
		Generate(context.Background(), "fleet-summary", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, ArtifactURL, artifact.Kind)
	assert.Equal(t, "https://files.example/r.pdf", artifact.URL)
	assert.Equal(t, expires, artifact.ExpiresAt)
	assert.Equal(t, []string{"https://files.example/r.pdf"}, opened)
	assert.Zero(t, transport.downloadCalls)
}

func TestURLModeOpenerFailureIsRetrievalError(t *testing.T) {
	transport := newFakeTransport(status(reportapi.StatusCompleted, 100, ""))
	transport.grant = reportapi.ArtifactURLResponse{URL: "https://files.example/r.pdf"}
	opener := OpenerFunc(func(context.Context, string) error { return errors.New("no browser") })

	_, err := newTestClient(transport, Config{Mode: ModeURL, Opener: opener}).
		Generate(context.Background(), "fleet-summary", nil, nil)

	require.ErrorIs(t, err, ErrRetrieval)
	assert.Contains(t, err.Error(), "no browser")
}

func TestExponentialIntervalStillHonoursBounds(t *testing.T) {
	transport := newFakeTransport(status(reportapi.StatusProcessing, 10, ""))

	client := newTestClient(transport, Config{
		Policy:      ExponentialInterval(time.Millisecond, 4*time.Millisecond),
		MaxAttempts: 5,
	})
	_, err := client.Generate(context.Background(), "fleet-summary", nil, nil)

	require.ErrorIs(t, err, ErrPollingTimeout)
	assert.Equal(t, 5, transport.statusCalls())
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	pending := newFakeTransport(status(reportapi.StatusProcessing, 10, ""))
	client := newTestClient(pending, Config{Interval: time.Second})
	failing := newFakeTransport(status(reportapi.StatusFailed, 0, "boom"))
	failingClient := newTestClient(failing, Config{})

	ok := client.Start(context.Background(), "fleet-summary", nil, nil)
	bad := failingClient.Start(context.Background(), "trips", nil, nil)
	require.Eventually(t, func() bool { return pending.statusCalls() == 1 }, time.Second, time.Millisecond)
	ok.Cancel()

	_, okErr := ok.Wait()
	_, badErr := bad.Wait()
	assert.ErrorIs(t, okErr, ErrCancelled)
	assert.ErrorIs(t, badErr, ErrGenerationFailed)
}

func TestDescribeGivesEachKindItsOwnMessage(t *testing.T) {
	errs := []error{
		&SubmissionError{ReportKind: "trips", Err: errors.New("x")},
		&StatusError{JobID: "j", Poll: 1, Err: errors.New("x")},
		&GenerationFailedError{JobID: "j", Message: "template error"},
		&PollingTimeoutError{JobID: "j", Attempts: 3},
		&RetrievalError{JobID: "j", Mode: ModeDownload, Err: errors.New("x")},
		ErrCancelled,
	}

	seen := make(map[string]bool)
	for _, err := range errs {
		message := Describe(err)
		require.NotEmpty(t, message)
		assert.False(t, seen[message], "duplicate message %q", message)
		seen[message] = true
	}
	assert.Contains(t, Describe(errs[2]), "template error")
	assert.Empty(t, Describe(nil))
}
