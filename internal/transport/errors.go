package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/iago/fleet-reports/internal/reportapi"
)

// HTTPError is a non-2xx answer from the report backend.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("report api status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("report api status %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus exposes the status code to callers that only know the method.
func (e *HTTPError) HTTPStatus() int {
	return e.StatusCode
}

// StatusCode extracts the HTTP status of err, or 0 when err did not come from
// an HTTP answer.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

func newHTTPError(response *http.Response, body []byte) *HTTPError {
	httpErr := &HTTPError{
		StatusCode: response.StatusCode,
		RequestID:  response.Header.Get(reportapi.HeaderRequestID),
	}

	var envelope reportapi.ErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		httpErr.Code = envelope.Error.Code
		httpErr.Message = envelope.Error.Message
		if envelope.RequestID != "" {
			httpErr.RequestID = envelope.RequestID
		}
	} else {
		httpErr.Message = strings.TrimSpace(string(body))
	}

	if len(httpErr.Message) > maxErrorMessageBytes {
		httpErr.Message = httpErr.Message[:maxErrorMessageBytes]
	}
	if httpErr.Message == "" {
		httpErr.Message = http.StatusText(response.StatusCode)
	}
	return httpErr
}
