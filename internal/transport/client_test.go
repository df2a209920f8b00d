package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/fleet-reports/internal/reportapi"
)

func newTestClient(t *testing.T, server *httptest.Server) *HTTPClient {
	t.Helper()
	client, err := NewHTTPClient(Config{
		BaseURL: server.URL + "/",
		Token:   "test-token",
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)
	return client
}

func TestSubmitReportSendsAuthAndFreshIdempotencyKey(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != reportapi.PathReports || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var request reportapi.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.ReportKind != "trips" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		keys = append(keys, r.Header.Get(reportapi.HeaderIdempotencyKey))
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"job-42","status":"STARTING","status_url":"/v1/jobs/job-42"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	for i := 0; i < 2; i++ {
		response, err := client.SubmitReport(context.Background(), reportapi.SubmitRequest{
			ReportKind: "trips",
			Scope:      map[string]string{"vehicleId": "V1"},
		})
		require.NoError(t, err)
		assert.Equal(t, "job-42", response.JobID)
		assert.Equal(t, reportapi.StatusStarting, response.Status)
	}

	require.Len(t, keys, 2)
	assert.NotEmpty(t, keys[0])
	assert.NotEqual(t, keys[0], keys[1])
}

func TestSubmitReportDecodesErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"unknown_report_kind","message":"unknown report kind \"x\""},"request_id":"req-1"}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).SubmitReport(context.Background(), reportapi.SubmitRequest{ReportKind: "x"})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, reportapi.CodeUnknownReportKind, httpErr.Code)
	assert.Equal(t, "req-1", httpErr.RequestID)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
}

func TestSubmitReportPlainTextErrorIsTruncated(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(long)
	}))
	defer server.Close()

	_, err := newTestClient(t, server).SubmitReport(context.Background(), reportapi.SubmitRequest{ReportKind: "trips"})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.HTTPStatus())
	assert.Len(t, httpErr.Message, maxErrorMessageBytes)
}

func TestJobStatusKeepsUnknownStates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/jobs/job-1", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get(reportapi.HeaderRequestID))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job_id":"job-1","status":"QUEUED","progress":5,"message":"waiting"}`))
	}))
	defer server.Close()

	status, err := newTestClient(t, server).JobStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, reportapi.Status("QUEUED"), status.Status)
	assert.False(t, status.Status.Terminal())
	assert.Equal(t, 5, status.Progress)
	assert.Equal(t, "waiting", status.Message)
}

func TestDownloadArtifactReadsBodyAndFilename(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/jobs/job-1/artifact", r.URL.Path)
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="fleet-summary.pdf"`)
		_, _ = w.Write([]byte("%PDF-1.3 body"))
	}))
	defer server.Close()

	download, err := newTestClient(t, server).DownloadArtifact(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.3 body"), download.Data)
	assert.Equal(t, "application/pdf", download.ContentType)
	assert.Equal(t, "fleet-summary.pdf", download.Filename)
}

func TestFilenameFromDispositionStripsDirectories(t *testing.T) {
	cases := map[string]string{
		`attachment; filename="trips-V1.csv"`:      "trips-V1.csv",
		`attachment; filename="../../etc/passwd"`:  "passwd",
		`attachment; filename="/var/tmp/fuel.pdf"`: "fuel.pdf",
		`attachment; filename="..\\..\\win.pdf"`:   "win.pdf",
		`attachment; filename=".."`:                "",
		`attachment; filename="/"`:                 "",
		`attachment`:                               "",
		``:                                         "",
	}
	for header, want := range cases {
		assert.Equal(t, want, filenameFromDisposition(header), header)
	}
}

func TestDownloadArtifactRejectsOversizedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer server.Close()

	client, err := NewHTTPClient(Config{BaseURL: server.URL, MaxDownloadBytes: 16})
	require.NoError(t, err)

	_, err = client.DownloadArtifact(context.Background(), "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestArtifactURLRequiresURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":""}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).ArtifactURL(context.Background(), "job-1")
	require.Error(t, err)
}

func TestCancelledContextAbortsRequest(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := newTestClient(t, server).JobStatus(ctx, "job-1")
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("request was not aborted by cancellation")
	}
}

func TestRateLimitPacesRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job_id":"job-1","status":"PROCESSING","progress":1}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(Config{BaseURL: server.URL, RequestsPerSecond: 20, Burst: 1})
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.JobStatus(context.Background(), "job-1")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestNewHTTPClientRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPClient(Config{})
	require.ErrorIs(t, err, ErrMissingBaseURL)
}
