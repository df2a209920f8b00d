package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/iago/fleet-reports/internal/domain"
	"github.com/iago/fleet-reports/internal/reportapi"
)

const minIdempotencyKeyLength = 16

func (api *API) Reports(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		api.createReport(w, r)
	case http.MethodGet:
		api.listReports(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (api *API) createReport(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := strings.TrimSpace(r.Header.Get(reportapi.HeaderIdempotencyKey))
	if len(idempotencyKey) < minIdempotencyKeyLength {
		writeError(w, r, http.StatusBadRequest, reportapi.CodeInvalidRequest, "Idempotency-Key header is required")
		return
	}

	var request reportapi.SubmitRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, reportapi.CodeInvalidRequest, "invalid JSON payload")
		return
	}
	request.ReportKind = strings.TrimSpace(request.ReportKind)
	if request.ReportKind == "" {
		writeError(w, r, http.StatusBadRequest, reportapi.CodeInvalidRequest, "report_kind is required")
		return
	}

	payloadHash := hashPayload(request)
	for {
		entry, owner := api.idempotency.Reserve(idempotencyKey, payloadHash)
		if owner {
			break
		}
		if entry.PayloadHash != payloadHash {
			writeError(w, r, http.StatusConflict, reportapi.CodeIdempotencyConflict, "Idempotency-Key already used with different payload")
			return
		}
		if entry.pending() {
			select {
			case <-entry.ready:
				continue
			case <-r.Context().Done():
				return
			}
		}
		job, err := api.jobs.GetJob(r.Context(), entry.JobID)
		if err != nil {
			api.writeServiceError(w, r, err, "failed to load job")
			return
		}
		writeAccepted(w, job)
		return
	}

	job, err := api.jobs.Submit(r.Context(), request.ReportKind, request.Scope)
	if err != nil {
		api.idempotency.Release(idempotencyKey)
		api.writeServiceError(w, r, err, "failed to enqueue report job")
		return
	}
	api.idempotency.Complete(idempotencyKey, job.ID)
	writeAccepted(w, job)
}

func writeAccepted(w http.ResponseWriter, job *domain.ReportJob) {
	w.Header().Set("Location", reportapi.JobStatusPath(job.ID))
	w.Header().Set("Retry-After", "2")
	writeJSON(w, http.StatusAccepted, reportapi.SubmitResponse{
		JobID:      job.ID,
		Status:     reportapi.Status(job.Status),
		StatusURL:  reportapi.JobStatusPath(job.ID),
		AcceptedAt: job.CreatedAt,
	})
}

func (api *API) listReports(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("page_size"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	from, err := parseOptionalDateTime(query.Get("from"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, reportapi.CodeInvalidRequest, "invalid from date")
		return
	}
	to, err := parseOptionalDateTime(query.Get("to"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, reportapi.CodeInvalidRequest, "invalid to date")
		return
	}

	status := domain.JobStatus(strings.ToUpper(strings.TrimSpace(query.Get("status"))))
	switch status {
	case "", domain.JobStatusStarting, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed:
	default:
		writeError(w, r, http.StatusBadRequest, reportapi.CodeInvalidRequest, "invalid status filter")
		return
	}

	filter := domain.JobListFilter{
		ReportKind: strings.TrimSpace(query.Get("kind")),
		Status:     status,
		Page:       page,
		PageSize:   pageSize,
		From:       from,
		To:         to,
	}

	items, total, err := api.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		api.writeServiceError(w, r, err, "failed to list reports")
		return
	}

	response := reportapi.JobList{
		Items:    make([]reportapi.StatusResponse, 0, len(items)),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
	for i := range items {
		response.Items = append(response.Items, statusResponse(&items[i]))
	}
	writeJSON(w, http.StatusOK, response)
}
