// Package transport issues authenticated requests against the report backend.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/iago/fleet-reports/internal/reportapi"
)

const maxErrorMessageBytes = 700

var ErrMissingBaseURL = errors.New("transport: base url is required")

type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
	Logger     *slog.Logger

	// RequestsPerSecond paces every request issued through the client. Zero
	// disables pacing.
	RequestsPerSecond float64
	Burst             int

	// MaxDownloadBytes caps artifact bodies. Zero means 64 MiB.
	MaxDownloadBytes int64
}

// HTTPClient is the bearer-token transport for the report endpoints. It is
// safe for concurrent use; the token is only read.
type HTTPClient struct {
	baseURL          string
	token            string
	timeout          time.Duration
	httpClient       *http.Client
	userAgent        string
	limiter          *rate.Limiter
	maxDownloadBytes int64
	logger           *slog.Logger
}

func NewHTTPClient(config Config) (*HTTPClient, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if strings.TrimSpace(config.UserAgent) == "" {
		config.UserAgent = "fleet-reports-client/1"
	}
	if config.MaxDownloadBytes <= 0 {
		config.MaxDownloadBytes = 64 << 20
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return &HTTPClient{
		baseURL:          baseURL,
		token:            strings.TrimSpace(config.Token),
		timeout:          config.Timeout,
		httpClient:       config.HTTPClient,
		userAgent:        config.UserAgent,
		limiter:          limiter,
		maxDownloadBytes: config.MaxDownloadBytes,
		logger:           config.Logger,
	}, nil
}

func (c *HTTPClient) SubmitReport(
	ctx context.Context,
	request reportapi.SubmitRequest,
) (reportapi.SubmitResponse, error) {
	encoded, err := json.Marshal(request)
	if err != nil {
		return reportapi.SubmitResponse{}, fmt.Errorf("marshal submit payload: %w", err)
	}
	headers := http.Header{}
	headers.Set(reportapi.HeaderIdempotencyKey, uuid.NewString())

	var response reportapi.SubmitResponse
	if err := c.doJSON(ctx, http.MethodPost, reportapi.PathReports, encoded, headers, &response); err != nil {
		return reportapi.SubmitResponse{}, err
	}
	if strings.TrimSpace(response.JobID) == "" {
		return reportapi.SubmitResponse{}, errors.New("submit response without job_id")
	}
	return response, nil
}

func (c *HTTPClient) JobStatus(ctx context.Context, jobID string) (reportapi.StatusResponse, error) {
	var response reportapi.StatusResponse
	if err := c.doJSON(ctx, http.MethodGet, reportapi.JobStatusPath(jobID), nil, nil, &response); err != nil {
		return reportapi.StatusResponse{}, err
	}
	return response, nil
}

func (c *HTTPClient) ArtifactURL(ctx context.Context, jobID string) (reportapi.ArtifactURLResponse, error) {
	var response reportapi.ArtifactURLResponse
	if err := c.doJSON(ctx, http.MethodPost, reportapi.ArtifactURLPath(jobID), nil, nil, &response); err != nil {
		return reportapi.ArtifactURLResponse{}, err
	}
	if strings.TrimSpace(response.URL) == "" {
		return reportapi.ArtifactURLResponse{}, errors.New("artifact url response without url")
	}
	return response, nil
}

func (c *HTTPClient) DownloadArtifact(ctx context.Context, jobID string) (reportapi.Download, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("Accept", "*/*")
	httpResponse, err := c.send(timeoutCtx, http.MethodGet, reportapi.ArtifactPath(jobID), nil, headers)
	if err != nil {
		return reportapi.Download{}, err
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResponse.Body, c.maxDownloadBytes+1))
	if err != nil {
		return reportapi.Download{}, fmt.Errorf("read artifact body: %w", err)
	}
	if isFailureStatus(httpResponse.StatusCode) {
		return reportapi.Download{}, newHTTPError(httpResponse, body)
	}
	if int64(len(body)) > c.maxDownloadBytes {
		return reportapi.Download{}, fmt.Errorf("artifact exceeds %d bytes", c.maxDownloadBytes)
	}

	return reportapi.Download{
		Data:        body,
		ContentType: httpResponse.Header.Get("Content-Type"),
		Filename:    filenameFromDisposition(httpResponse.Header.Get("Content-Disposition")),
	}, nil
}

func (c *HTTPClient) doJSON(
	ctx context.Context,
	method string,
	path string,
	payload []byte,
	headers http.Header,
	out any,
) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpResponse, err := c.send(timeoutCtx, method, path, payload, headers)
	if err != nil {
		return err
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if isFailureStatus(httpResponse.StatusCode) {
		return newHTTPError(httpResponse, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *HTTPClient) send(
	ctx context.Context,
	method string,
	path string,
	payload []byte,
	headers http.Header,
) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for request slot: %w", err)
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range headers {
		for _, value := range values {
			httpRequest.Header.Add(key, value)
		}
	}
	requestID := uuid.NewString()
	if c.token != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+c.token)
	}
	httpRequest.Header.Set(reportapi.HeaderRequestID, requestID)
	httpRequest.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		httpRequest.Header.Set("Content-Type", "application/json")
	}
	if httpRequest.Header.Get("Accept") == "" {
		httpRequest.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("report api timeout: %w", err)
		}
		return nil, fmt.Errorf("report api transport error: %w", err)
	}
	c.logger.Debug("report api request",
		"method", method,
		"path", path,
		"status", httpResponse.StatusCode,
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return httpResponse, nil
}

func isFailureStatus(code int) bool {
	return code < 200 || code > 299
}

func filenameFromDisposition(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(value)
	if err != nil {
		return ""
	}
	return baseFilename(params["filename"])
}

// baseFilename drops any directory part a server put into the filename.
func baseFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	name = path.Base(name)
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return name
}
