// Command reportctl requests one report from the backend, prints progress as
// it polls and writes the artifact to disk.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/iago/fleet-reports/internal/config"
	"github.com/iago/fleet-reports/internal/reportclient"
	"github.com/iago/fleet-reports/internal/transport"
)

// scopeFlag collects repeated -scope key=value pairs.
type scopeFlag map[string]string

func (s scopeFlag) String() string {
	pairs := make([]string, 0, len(s))
	for key, value := range s {
		pairs = append(pairs, key+"="+value)
	}
	return strings.Join(pairs, ",")
}

func (s scopeFlag) Set(raw string) error {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("scope %q must be key=value", raw)
	}
	s[key] = strings.TrimSpace(value)
	return nil
}

type options struct {
	kind        string
	scope       scopeFlag
	out         string
	mode        string
	interval    time.Duration
	exponential bool
	timeout     time.Duration
	baseURL     string
	token       string
	verbose     bool
}

func parseFlags(args []string, cfg config.Config, output io.Writer) (options, error) {
	opts := options{scope: scopeFlag{}}
	fs := flag.NewFlagSet("reportctl", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.kind, "kind", "", "report kind (fleet-summary, trips, fuel, vehicles)")
	fs.Var(opts.scope, "scope", "scope entry key=value, repeatable (vehicleId, from, to, format)")
	fs.StringVar(&opts.out, "out", ".", "directory or file path for the downloaded artifact")
	fs.StringVar(&opts.mode, "mode", string(reportclient.ModeDownload), "download or url")
	fs.DurationVar(&opts.interval, "interval", time.Duration(cfg.ClientIntervalMS)*time.Millisecond, "wait between status polls")
	fs.BoolVar(&opts.exponential, "exponential", false, "grow the poll interval up to 8x")
	fs.DurationVar(&opts.timeout, "timeout", time.Duration(cfg.ClientMaxDuration)*time.Second, "give up polling after this long")
	fs.StringVar(&opts.baseURL, "base-url", cfg.ReportsBaseURL, "report backend base url")
	fs.StringVar(&opts.token, "token", cfg.AuthToken, "bearer token")
	fs.BoolVar(&opts.verbose, "v", false, "log client internals to stderr")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.kind = strings.TrimSpace(opts.kind)
	if opts.kind == "" {
		return options{}, errors.New("-kind is required")
	}
	switch reportclient.Mode(opts.mode) {
	case reportclient.ModeDownload, reportclient.ModeURL:
	default:
		return options{}, fmt.Errorf("-mode must be %s or %s", reportclient.ModeDownload, reportclient.ModeURL)
	}
	return opts, nil
}

func main() {
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		fmt.Fprintln(os.Stderr, "failed loading .env files:", err)
	}
	opts, err := parseFlags(os.Args[1:], config.Load(), os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, reportclient.Describe(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	httpClient, err := transport.NewHTTPClient(transport.Config{
		BaseURL: opts.baseURL,
		Token:   opts.token,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	clientConfig := reportclient.Config{
		Interval:    opts.interval,
		MaxDuration: opts.timeout,
		Mode:        reportclient.Mode(opts.mode),
		Logger:      logger,
	}
	if opts.exponential {
		clientConfig.Policy = reportclient.ExponentialInterval(opts.interval, 8*opts.interval)
	}
	client := reportclient.New(httpClient, clientConfig)

	artifact, err := client.Generate(ctx, opts.kind, opts.scope, func(snapshot reportclient.Snapshot) {
		if snapshot.Changed {
			fmt.Fprintln(stdout, formatSnapshot(snapshot))
		}
	})
	if err != nil {
		return err
	}

	if artifact.Kind == reportclient.ArtifactURL {
		fmt.Fprintf(stdout, "%s\n(expires %s)\n", artifact.URL, artifact.ExpiresAt.Local().Format(time.RFC1123))
		return nil
	}

	path := outputPath(opts.out, artifact)
	if err := os.WriteFile(path, artifact.Data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	fmt.Fprintf(stdout, "saved %s (%d bytes)\n", path, len(artifact.Data))
	return nil
}

func formatSnapshot(snapshot reportclient.Snapshot) string {
	line := fmt.Sprintf("[%3d%%] %s", snapshot.Progress, snapshot.State)
	if snapshot.Message != "" {
		line += ": " + snapshot.Message
	}
	return line
}

// outputPath treats out as a directory when it exists as one or ends in a
// separator. Only the base of the server supplied filename is used.
func outputPath(out string, artifact reportclient.Artifact) string {
	filename := filepath.Base(strings.ReplaceAll(artifact.Filename, `\`, "/"))
	switch filename {
	case ".", "..", "/":
		filename = artifact.JobID + ".bin"
	}
	if out == "" {
		return filename
	}
	if strings.HasSuffix(out, string(os.PathSeparator)) {
		return filepath.Join(out, filename)
	}
	if info, err := os.Stat(out); err == nil && info.IsDir() {
		return filepath.Join(out, filename)
	}
	return out
}
