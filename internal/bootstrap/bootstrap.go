// Package bootstrap creates the initial superuser account.
//
// A run never fails its caller: every creation error is classified, logged
// and recorded, then swallowed so re-running the bootstrap is a no-op.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/musicroom/backend/internal/accounts"
	"github.com/musicroom/backend/internal/auth"
	"github.com/musicroom/backend/internal/config"
	"github.com/musicroom/backend/internal/metrics"
	"github.com/musicroom/backend/internal/model"
)

// DefaultLockTTL bounds how long a crashed run can block the next one.
const DefaultLockTTL = 30 * time.Second

// ErrLockHeld is returned by a Locker when another run holds the lock.
var ErrLockHeld = errors.New("bootstrap lock held")

// Outcome is the result class of a run.
type Outcome string

// Outcomes.
const (
	OutcomeCreated Outcome = "created"
	OutcomeExists  Outcome = "exists"
	OutcomeLocked  Outcome = "locked"
	OutcomeFailed  Outcome = "failed"
)

// Creator creates superuser accounts.
type Creator interface {
	CreateSuperuser(ctx context.Context, username, email, password string) (*model.User, error)
}

// Locker serializes concurrent runs. Release must be safe to call once.
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Credentials are the raw account values taken from the environment.
type Credentials struct {
	Username string
	Email    string
	Password string
}

// CredentialsFromConfig copies the superadmin values verbatim.
func CredentialsFromConfig(sa config.Superadmin) Credentials {
	return Credentials{
		Username: sa.Username,
		Email:    sa.Email,
		Password: sa.Password,
	}
}

// LogValue keeps the password out of logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("email", c.Email),
		slog.Bool("password_set", c.Password != ""),
	)
}

// Deps are the collaborators of a run. Only Users is required.
type Deps struct {
	Users   Creator
	Locker  Locker
	Metrics metrics.Recorder
	Logger  *slog.Logger
	LockTTL time.Duration
}

// Result describes what a run did.
type Result struct {
	RunID    string
	Outcome  Outcome
	UserID   string
	Username string
	Err      error
	Duration time.Duration
}

// Error returns the swallowed error text, or "".
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ExitCode maps the result to a process status. Without strict every
// outcome exits 0; with strict only a failure other than "exists" is 1.
func (r Result) ExitCode(strict bool) int {
	if strict && r.Outcome == OutcomeFailed {
		return 1
	}
	return 0
}

// Run attempts to create the superuser described by creds.
func Run(ctx context.Context, deps Deps, creds Credentials) (res Result) {
	deps = withDefaults(deps)
	start := time.Now()

	res = Result{
		RunID:    uuid.NewString(),
		Username: creds.Username,
	}
	log := deps.Logger.With(slog.String("run_id", res.RunID))

	defer func() {
		if rvr := recover(); rvr != nil {
			log.Error("panic recovered",
				slog.Any("panic", rvr),
				slog.String("stack", string(debug.Stack())),
			)
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("panic: %v", rvr)
			deps.Metrics.IncSuperuserFailed()
		}
		res.Duration = time.Since(start)
		deps.Metrics.ObserveBootstrapDuration(res.Duration)
	}()

	log.Info("bootstrapping superuser", slog.Any("credentials", creds))

	if deps.Locker != nil {
		release, err := deps.Locker.AcquireLock(ctx, lockName(creds.Username), deps.LockTTL)
		switch {
		case errors.Is(err, ErrLockHeld):
			log.Info("another bootstrap holds the lock, skipping")
			res.Outcome = OutcomeLocked
			deps.Metrics.IncSuperuserSkipped(metrics.SkipLocked)
			return res
		case err != nil:
			// The unique constraint still guards the insert.
			log.Warn("bootstrap lock unavailable, continuing without it", slog.String("error", err.Error()))
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					log.Warn("failed to release bootstrap lock", slog.String("error", err.Error()))
				}
			}()
		}
	}

	user, err := deps.Users.CreateSuperuser(ctx, creds.Username, creds.Email, creds.Password)
	switch {
	case err == nil:
		res.Outcome = OutcomeCreated
		res.UserID = user.ID
		deps.Metrics.IncSuperuserCreated()
		log.Info("superuser created", slog.String("user_id", user.ID))
	case errors.Is(err, accounts.ErrUserExists):
		res.Outcome = OutcomeExists
		res.Err = err
		deps.Metrics.IncSuperuserSkipped(metrics.SkipExists)
		log.Info("superuser already exists, nothing to do")
	default:
		res.Outcome = OutcomeFailed
		res.Err = err
		deps.Metrics.IncSuperuserFailed()
		log.Warn("superuser not created", slog.String("error", err.Error()))
	}

	return res
}

func withDefaults(deps Deps) Deps {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.LockTTL <= 0 {
		deps.LockTTL = DefaultLockTTL
	}
	return deps
}

// lockName hashes the normalized username, the same identity the unique
// constraint sees, so it never shows up in Redis keys.
func lockName(username string) string {
	return "superuser:" + auth.QuickHash(accounts.NormalizeUsername(username))
}
