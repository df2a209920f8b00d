package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/iago/fleet-reports/internal/reportapi"
)

// Download serves signed artifact links. The token is the only credential.
func (api *API) Download(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	raw := strings.Trim(strings.TrimPrefix(r.URL.EscapedPath(), reportapi.PathDownloads), "/")
	token, err := url.PathUnescape(raw)
	if err != nil || token == "" {
		writeError(w, r, http.StatusNotFound, reportapi.CodeNotFound, "download link not found")
		return
	}

	artifact, err := api.jobs.OpenDownload(r.Context(), token)
	if err != nil {
		api.writeServiceError(w, r, err, "failed to open download")
		return
	}
	writeArtifact(w, artifact)
}
