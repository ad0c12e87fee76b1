// Command migrate manages the database schema.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/musicroom/backend/internal/config"
	"github.com/musicroom/backend/internal/logging"
	"github.com/musicroom/backend/internal/migrate"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		command = fs.String("command", "up", "migrate command (up|status|down|reset)")
		timeout = fs.Duration("timeout", time.Minute, "command timeout")
		target  = fs.Int64("target", 0, "target version for down command (optional)")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewTextHandler(stderr, nil)).Error("failed to load config", "error", err)
		return 1
	}
	log := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)

	switch *command {
	case "up", "status", "down":
	case "reset":
		if cfg.IsProduction() {
			log.Error("refusing to reset schema in production")
			return 1
		}
	default:
		log.Error("unsupported command", "command", *command)
		return 1
	}

	runner, err := migrate.New(cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *command {
	case "up":
		err = runner.Up(ctx)
	case "status":
		err = runner.Status(ctx)
	case "down":
		err = runner.Down(ctx, *target)
	case "reset":
		err = runner.Reset(ctx)
	}
	if err != nil {
		log.Error("migration command failed",
			"command", *command,
			"error", logging.SanitizeError(err, cfg.DatabaseURL),
		)
		return 1
	}

	log.Info("migration command completed", "command", *command)
	return 0
}
