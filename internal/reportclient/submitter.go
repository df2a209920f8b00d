package reportclient

import (
	"context"
	"strings"

	"github.com/iago/fleet-reports/internal/reportapi"
)

// JobCreator creates report jobs on the backend.
type JobCreator interface {
	SubmitReport(ctx context.Context, request reportapi.SubmitRequest) (reportapi.SubmitResponse, error)
}

// Submitter starts one backend job per call. Calls are not idempotent.
type Submitter struct {
	creator JobCreator
}

func NewSubmitter(creator JobCreator) *Submitter {
	return &Submitter{creator: creator}
}

func (s *Submitter) Submit(ctx context.Context, reportKind string, scope map[string]string) (string, error) {
	reportKind = strings.TrimSpace(reportKind)
	if reportKind == "" {
		return "", &SubmissionError{Err: errEmptyReportKind}
	}

	response, err := s.creator.SubmitReport(ctx, reportapi.SubmitRequest{
		ReportKind: reportKind,
		Scope:      cloneScope(scope),
	})
	if err != nil {
		return "", &SubmissionError{
			ReportKind: reportKind,
			StatusCode: statusCodeOf(err),
			Err:        err,
		}
	}
	return response.JobID, nil
}

func cloneScope(scope map[string]string) map[string]string {
	if len(scope) == 0 {
		return nil
	}
	clone := make(map[string]string, len(scope))
	for key, value := range scope {
		clone[key] = value
	}
	return clone
}
