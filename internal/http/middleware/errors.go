package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/iago/fleet-reports/internal/reportapi"
)

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(reportapi.ErrorEnvelope{
		Error:     reportapi.ErrorBody{Code: code, Message: message},
		RequestID: GetRequestID(r.Context()),
	})
}
