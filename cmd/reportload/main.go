// Command reportload measures end-to-end report latency: each sample is a
// full client session (submit, poll, download). Without -base-url it starts
// an in-process backend.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http/httptest"
	"os"
	"time"

	"github.com/iago/fleet-reports/internal/blob"
	httpserver "github.com/iago/fleet-reports/internal/http"
	"github.com/iago/fleet-reports/internal/http/handlers"
	"github.com/iago/fleet-reports/internal/linksign"
	"github.com/iago/fleet-reports/internal/queue"
	"github.com/iago/fleet-reports/internal/render"
	"github.com/iago/fleet-reports/internal/reportclient"
	"github.com/iago/fleet-reports/internal/repository"
	"github.com/iago/fleet-reports/internal/service"
	"github.com/iago/fleet-reports/internal/transport"
	"github.com/iago/fleet-reports/internal/worker"
)

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

var sampleVehicles = []string{"V1", "V2", "V3", "V4"}

func main() {
	total := flag.Int("total", 120, "report sessions per scenario")
	concurrency := flag.Int("concurrency", 16, "concurrent sessions")
	interval := flag.Duration("interval", 25*time.Millisecond, "client poll interval")
	baseURL := flag.String("base-url", "", "run against this backend instead of an in-process one")
	token := flag.String("token", "", "bearer token for -base-url")
	outputPath := flag.String("output", "", "optional path to persist results JSON")
	flag.Parse()

	environment := "remote"
	target := *baseURL
	if target == "" {
		server, cancel := startBenchmarkEnvironment()
		defer cancel()
		defer server.Close()
		target = server.URL
		environment = "local-httptest"
	}

	httpClient, err := transport.NewHTTPClient(transport.Config{BaseURL: target, Token: *token, Timeout: 10 * time.Second})
	if err != nil {
		log.Fatalf("failed to build transport: %v", err)
	}
	client := reportclient.New(httpClient, reportclient.Config{
		Interval:    *interval,
		MaxDuration: time.Minute,
	})

	generate := func(kind string, scope func(int) map[string]string) func(int) error {
		return func(index int) error {
			_, err := client.Generate(context.Background(), kind, scope(index), nil)
			return err
		}
	}
	byVehicle := func(format string) func(int) map[string]string {
		return func(index int) map[string]string {
			return map[string]string{
				"vehicleId": sampleVehicles[index%len(sampleVehicles)],
				"from":      "2026-01-01",
				"to":        "2026-02-28",
				"format":    format,
			}
		}
	}

	tripsCSV := runScenario("trips_csv_session", *total, *concurrency, generate("trips", byVehicle("csv")))
	fuelPDF := runScenario("fuel_pdf_session", *total, *concurrency, generate("fuel", byVehicle("pdf")))
	summary := runScenario("fleet_summary_pdf_session", *total, *concurrency, generate("fleet-summary", func(int) map[string]string {
		return map[string]string{"format": "pdf"}
	}))

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    environment,
		Results:        []scenarioResult{tripsCSV, fuelPDF, summary},
		SLOEvaluation: map[string]bool{
			"csv_session_p95_le_2000ms": tripsCSV.P95MS <= 2000,
			"pdf_session_p95_le_5000ms": fuelPDF.P95MS <= 5000 && summary.P95MS <= 5000,
			"no_session_errors":         tripsCSV.Errors+fuelPDF.Errors+summary.Errors == 0,
		},
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}
	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}
	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment() (*httptest.Server, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.DiscardHandler)

	repo := repository.NewMemoryJobsRepository()
	localQueue := queue.NewLocalQueue(4096, 3, logger)
	catalog := render.NewCatalog(nil)
	blobs := blob.NewMemoryStore()
	events := service.NewJobEvents()
	signer, err := linksign.NewSigner("reportload-secret")
	if err != nil {
		log.Fatalf("failed to build link signer: %v", err)
	}

	jobs := service.NewJobsService(service.Dependencies{
		Repo:     repo,
		Producer: localQueue,
		Catalog:  catalog,
		Blobs:    blobs,
		Links:    signer,
		Logger:   logger,
	})
	router := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            handlers.NewAPI(handlers.Options{Jobs: jobs, Events: events, Logger: logger}),
		Logger:         logger,
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	processor := worker.NewProcessor(localQueue, repo, catalog, blobs, events, worker.Config{
		Concurrency: 8,
		Logger:      logger,
	})
	go processor.Start(ctx)

	return httptest.NewServer(router), cancel
}
