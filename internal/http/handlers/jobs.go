package handlers

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/iago/fleet-reports/internal/reportapi"
	"github.com/iago/fleet-reports/internal/service"
)

// Jobs serves everything under /v1/jobs/{id}.
func (api *API) Jobs(w http.ResponseWriter, r *http.Request) {
	jobID, action, ok := reportapi.SplitJobPath(r.URL.EscapedPath())
	if !ok {
		writeError(w, r, http.StatusBadRequest, reportapi.CodeInvalidRequest, "job_id is required")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		api.jobStatus(w, r, jobID)
	case "artifact":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		api.jobArtifact(w, r, jobID)
	case "artifact-url":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		api.jobArtifactURL(w, r, jobID)
	case "events":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		api.jobEvents(w, r, jobID)
	default:
		writeError(w, r, http.StatusNotFound, reportapi.CodeNotFound, "unknown job resource")
	}
}

func (api *API) jobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := api.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		api.writeServiceError(w, r, err, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(job))
}

func (api *API) jobArtifact(w http.ResponseWriter, r *http.Request, jobID string) {
	artifact, err := api.jobs.OpenArtifact(r.Context(), jobID)
	if err != nil {
		api.writeServiceError(w, r, err, "failed to load artifact")
		return
	}
	writeArtifact(w, artifact)
}

func (api *API) jobArtifactURL(w http.ResponseWriter, r *http.Request, jobID string) {
	response, err := api.jobs.ArtifactURL(r.Context(), jobID, api.baseURL(r))
	if err != nil {
		api.writeServiceError(w, r, err, "failed to issue artifact url")
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (api *API) baseURL(r *http.Request) string {
	if api.publicBaseURL != "" {
		return api.publicBaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded == "http" || forwarded == "https" {
		scheme = forwarded
	}
	return scheme + "://" + r.Host
}

func writeArtifact(w http.ResponseWriter, artifact service.Artifact) {
	contentType := artifact.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	if artifact.Filename != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": artifact.Filename,
		}))
	}
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(artifact.Data)
}
