package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/iago/fleet-reports/internal/config"
	"github.com/iago/fleet-reports/internal/migrations"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("component", "migrate")
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Warn("failed loading .env files", "error", err)
	}
	cfg := config.Load()

	databaseURL := flag.String("database-url", cfg.DatabaseURL, "postgres connection string")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [flags] <%s>\n", strings.Join(migrations.Commands, "|"))
		flag.PrintDefaults()
	}
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	logger.Info("running migrations", "command", command)
	if err := migrations.Run(command, *databaseURL); err != nil {
		logger.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
	logger.Info("migrations completed", "command", command)
}
