// Command createsuperuser creates the initial superuser from the
// SUPERADMIN_USERNAME, SUPERADMIN_EMAIL and SUPERADMIN_PASSWORD environment
// variables. Re-running it once the account exists is a no-op.
//
// Only a failure to initialize the runtime exits non-zero. A failed
// creation is logged and swallowed unless -strict is given.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/musicroom/backend/internal/app"
	"github.com/musicroom/backend/internal/bootstrap"
	"github.com/musicroom/backend/internal/config"
	"github.com/musicroom/backend/internal/logging"
)

type summary struct {
	RunID    string `json:"run_id"`
	Outcome  string `json:"outcome"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username"`
	Error    string `json:"error,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("createsuperuser", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		strict  = fs.Bool("strict", false, "Exit 1 when creation fails for a reason other than the account already existing")
		timeout = fs.Duration("timeout", 0, "Overall deadline (default BOOTSTRAP_TIMEOUT)")
		format  = fs.String("format", "none", "Summary output: none, text or json")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !validFormat(*format) {
		fmt.Fprintln(stderr, "invalid format; use none, text or json")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewTextHandler(stderr, nil)).Error("failed to load config", "error", err)
		return 1
	}

	logger := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)

	deadline := cfg.BootstrapTimeout
	if *timeout > 0 {
		deadline = *timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	rt, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		logger.Error(
			"failed to initialize runtime",
			slog.String("error", logging.SanitizeError(err, cfg.DatabaseURL, cfg.RedisURL)),
			slog.String("database_url", logging.RedactURL(cfg.DatabaseURL)),
			slog.String("redis_url", logging.RedactURL(cfg.RedisURL)),
		)
		return 1
	}
	defer rt.Close()

	res := bootstrap.Run(ctx, rt.BootstrapDeps(), bootstrap.CredentialsFromConfig(cfg.Superadmin))

	if err := writeSummary(stdout, *format, res); err != nil {
		logger.Warn("failed to write summary", slog.String("error", err.Error()))
	}

	logger.Info("bootstrap finished",
		slog.String("outcome", string(res.Outcome)),
		slog.Duration("duration", res.Duration.Round(time.Millisecond)),
	)

	return res.ExitCode(*strict)
}

func validFormat(format string) bool {
	switch strings.ToLower(format) {
	case "none", "text", "json":
		return true
	}
	return false
}

func writeSummary(w io.Writer, format string, res bootstrap.Result) error {
	out := summary{
		RunID:    res.RunID,
		Outcome:  string(res.Outcome),
		UserID:   res.UserID,
		Username: res.Username,
		Error:    res.Error(),
	}

	switch strings.ToLower(format) {
	case "text":
		line := fmt.Sprintf("%s username=%q", out.Outcome, out.Username)
		if out.UserID != "" {
			line += " user_id=" + out.UserID
		}
		if out.Error != "" {
			line += fmt.Sprintf(" error=%q", out.Error)
		}
		_, err := fmt.Fprintln(w, line)
		return err
	case "json":
		enc := json.NewEncoder(w)
		return enc.Encode(out)
	default:
		return nil
	}
}
