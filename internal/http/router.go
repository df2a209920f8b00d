package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/iago/fleet-reports/internal/http/handlers"
	"github.com/iago/fleet-reports/internal/http/middleware"
	"github.com/iago/fleet-reports/internal/reportapi"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *slog.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter wires the report routes behind the middleware chain. Background
// work owned by the chain stops when ctx is done.
func NewRouter(ctx context.Context, deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(reportapi.PathHealth, deps.API.Health)
	mux.HandleFunc(reportapi.PathReports, deps.API.Reports)
	mux.HandleFunc(reportapi.PathJobs, deps.API.Jobs)
	mux.HandleFunc(reportapi.PathDownloads, deps.API.Download)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken, reportapi.PathDownloads)(handler)
	handler = middleware.RateLimit(ctx, deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
