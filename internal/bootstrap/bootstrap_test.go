package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/musicroom/backend/internal/accounts"
	"github.com/musicroom/backend/internal/config"
	"github.com/musicroom/backend/internal/metrics"
	"github.com/musicroom/backend/internal/model"
	"github.com/musicroom/backend/internal/testutil"
)

type fakeLocker struct {
	mu       sync.Mutex
	err      error
	acquired []string
	released int
	ttl      time.Duration
}

func (l *fakeLocker) AcquireLock(_ context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.acquired = append(l.acquired, name)
	l.ttl = ttl
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

type panickingCreator struct{}

func (panickingCreator) CreateSuperuser(context.Context, string, string, string) (*model.User, error) {
	panic("boom")
}

type testEnv struct {
	store   *testutil.MemoryStore
	metrics *metrics.InMemoryRecorder
	logs    *bytes.Buffer
	deps    Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := testutil.NewMemoryStore()
	rec := metrics.NewInMemory()
	logs := &bytes.Buffer{}
	return &testEnv{
		store:   store,
		metrics: rec,
		logs:    logs,
		deps: Deps{
			Users:   accounts.NewManager(store),
			Metrics: rec,
			Logger:  slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		},
	}
}

var adminCreds = Credentials{Username: "admin", Email: "admin@example.com", Password: "s3cret-pass"}

func TestRun_CreatesSuperuser(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	res := Run(ctx, env.deps, adminCreds)

	if res.Outcome != OutcomeCreated {
		t.Fatalf("Outcome = %q, want %q (err=%v)", res.Outcome, OutcomeCreated, res.Err)
	}
	if res.UserID == "" || res.RunID == "" {
		t.Errorf("expected user and run IDs, got %+v", res)
	}
	if env.store.Len() != 1 {
		t.Fatalf("store holds %d users, want 1", env.store.Len())
	}

	user, err := env.store.GetUserByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("created user not found: %v", err)
	}
	if !user.IsPrivileged() || !user.IsStaff {
		t.Errorf("created account is not a superuser: %+v", user)
	}
	if user.Email != "admin@example.com" {
		t.Errorf("Email = %q", user.Email)
	}

	if _, err := accounts.NewManager(env.store).Authenticate(ctx, "admin", "s3cret-pass"); err != nil {
		t.Errorf("created account should accept the supplied password: %v", err)
	}

	snap := env.metrics.Snapshot()
	if snap.SuperusersCreated != 1 || snap.BootstrapDurationCount != 1 {
		t.Errorf("unexpected metrics: %+v", snap)
	}
	if res.ExitCode(false) != 0 || res.ExitCode(true) != 0 {
		t.Error("created outcome must exit 0")
	}
}

func TestRun_Idempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	first := Run(ctx, env.deps, adminCreds)
	second := Run(ctx, env.deps, adminCreds)

	if first.Outcome != OutcomeCreated {
		t.Fatalf("first run Outcome = %q", first.Outcome)
	}
	if second.Outcome != OutcomeExists {
		t.Fatalf("second run Outcome = %q, want %q", second.Outcome, OutcomeExists)
	}
	if !errors.Is(second.Err, accounts.ErrUserExists) {
		t.Errorf("second run Err = %v, want ErrUserExists", second.Err)
	}
	if env.store.Len() != 1 {
		t.Errorf("store holds %d users, want 1", env.store.Len())
	}
	if second.ExitCode(false) != 0 || second.ExitCode(true) != 0 {
		t.Error("re-running must exit 0 even in strict mode")
	}
	if got := env.metrics.Snapshot().SuperusersSkippedExists; got != 1 {
		t.Errorf("SuperusersSkippedExists = %d, want 1", got)
	}
}

func TestRun_MissingVariables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		creds       Credentials
		wantOutcome Outcome
	}{
		{"all missing", Credentials{}, OutcomeFailed},
		{"username missing", Credentials{Email: "a@b.c", Password: "pw"}, OutcomeFailed},
		{"email missing", Credentials{Username: "admin", Password: "pw"}, OutcomeCreated},
		{"password missing", Credentials{Username: "admin", Email: "a@b.c"}, OutcomeCreated},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)

			res := Run(context.Background(), env.deps, tt.creds)
			if res.Outcome != tt.wantOutcome {
				t.Fatalf("Outcome = %q, want %q (err=%v)", res.Outcome, tt.wantOutcome, res.Err)
			}
			if res.ExitCode(false) != 0 {
				t.Error("missing variables must not change the exit status")
			}
		})
	}
}

func TestRun_MissingUsernameReportsReason(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	res := Run(context.Background(), env.deps, Credentials{})

	if !errors.Is(res.Err, accounts.ErrUsernameRequired) {
		t.Errorf("Err = %v, want ErrUsernameRequired", res.Err)
	}
	if res.ExitCode(true) != 1 {
		t.Error("strict mode should surface a non-exists failure")
	}
	if env.store.Len() != 0 {
		t.Error("no account should be stored")
	}
	if got := env.metrics.Snapshot().SuperusersFailed; got != 1 {
		t.Errorf("SuperusersFailed = %d, want 1", got)
	}
}

func TestRun_BackendFailureSwallowed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.store.CreateErr = errors.New("connection reset by peer")

	res := Run(context.Background(), env.deps, adminCreds)

	if res.Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %q, want %q", res.Outcome, OutcomeFailed)
	}
	if res.ExitCode(false) != 0 {
		t.Error("backend failure must exit 0 without strict")
	}
	if !strings.Contains(env.logs.String(), "connection reset by peer") {
		t.Error("failure should be logged with its cause")
	}
	if env.store.Len() != 0 {
		t.Error("failed creation must leave no record")
	}
}

func TestRun_RecoversPanic(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.deps.Users = panickingCreator{}

	res := Run(context.Background(), env.deps, adminCreds)

	if res.Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %q, want %q", res.Outcome, OutcomeFailed)
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "boom") {
		t.Errorf("Err = %v, want panic value", res.Err)
	}
	if res.ExitCode(false) != 0 {
		t.Error("panic must still exit 0 without strict")
	}
	if got := env.metrics.Snapshot().BootstrapDurationCount; got != 1 {
		t.Errorf("duration should be observed once, got %d", got)
	}
}

func TestRun_NeverLogsPassword(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.store.CreateErr = errors.New("insert failed")

	Run(context.Background(), env.deps, adminCreds)
	Run(context.Background(), env.deps, adminCreds)

	if strings.Contains(env.logs.String(), adminCreds.Password) {
		t.Fatalf("password leaked into logs:\n%s", env.logs.String())
	}
	if !strings.Contains(env.logs.String(), "password_set=true") {
		t.Error("logs should record that a password was provided")
	}
}

func TestRun_UsesLock(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	locker := &fakeLocker{}
	env.deps.Locker = locker
	env.deps.LockTTL = 5 * time.Second

	res := Run(context.Background(), env.deps, adminCreds)

	if res.Outcome != OutcomeCreated {
		t.Fatalf("Outcome = %q", res.Outcome)
	}
	if len(locker.acquired) != 1 || locker.released != 1 {
		t.Fatalf("lock acquired %d times, released %d times", len(locker.acquired), locker.released)
	}
	if locker.ttl != 5*time.Second {
		t.Errorf("lock TTL = %s, want 5s", locker.ttl)
	}
	if strings.Contains(locker.acquired[0], "admin") {
		t.Errorf("lock name should not contain the raw username: %q", locker.acquired[0])
	}
}

func TestRun_LockHeldSkips(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.deps.Locker = &fakeLocker{err: ErrLockHeld}

	res := Run(context.Background(), env.deps, adminCreds)

	if res.Outcome != OutcomeLocked {
		t.Fatalf("Outcome = %q, want %q", res.Outcome, OutcomeLocked)
	}
	if env.store.CreateCalls() != 0 {
		t.Error("a locked run must not attempt creation")
	}
	if res.ExitCode(true) != 0 {
		t.Error("locked outcome must exit 0 in strict mode")
	}
	if got := env.metrics.Snapshot().SuperusersSkippedLocked; got != 1 {
		t.Errorf("SuperusersSkippedLocked = %d, want 1", got)
	}
}

func TestRun_LockErrorContinues(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.deps.Locker = &fakeLocker{err: errors.New("redis: connection refused")}

	res := Run(context.Background(), env.deps, adminCreds)

	if res.Outcome != OutcomeCreated {
		t.Fatalf("Outcome = %q, want %q", res.Outcome, OutcomeCreated)
	}
}

func TestRun_NilOptionalDeps(t *testing.T) {
	t.Parallel()
	store := testutil.NewMemoryStore()

	res := Run(context.Background(), Deps{Users: accounts.NewManager(store)}, adminCreds)

	if res.Outcome != OutcomeCreated {
		t.Fatalf("Outcome = %q, want %q", res.Outcome, OutcomeCreated)
	}
}

func TestCredentialsFromConfig(t *testing.T) {
	t.Parallel()

	sa := config.Superadmin{Username: " admin ", Email: "A@B.C", Password: ""}
	got := CredentialsFromConfig(sa)
	want := Credentials{Username: " admin ", Email: "A@B.C", Password: ""}
	if got != want {
		t.Errorf("CredentialsFromConfig() = %+v, want %+v", got, want)
	}
}

func TestResult_ExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome Outcome
		strict  bool
		want    int
	}{
		{OutcomeCreated, false, 0},
		{OutcomeExists, false, 0},
		{OutcomeLocked, false, 0},
		{OutcomeFailed, false, 0},
		{OutcomeCreated, true, 0},
		{OutcomeExists, true, 0},
		{OutcomeLocked, true, 0},
		{OutcomeFailed, true, 1},
	}

	for _, tt := range tests {
		tt := tt
		if got := (Result{Outcome: tt.outcome}).ExitCode(tt.strict); got != tt.want {
			t.Errorf("ExitCode(%q, strict=%v) = %d, want %d", tt.outcome, tt.strict, got, tt.want)
		}
	}
}

func TestLockName_NormalizesUsername(t *testing.T) {
	t.Parallel()

	// U+FB01 LATIN SMALL LIGATURE FI is stored as "fi".
	if lockName("\ufb01sh") != lockName("fish") {
		t.Error("usernames that normalize to the same value must share a lock")
	}
	if lockName("fish") == lockName("fosh") {
		t.Error("different usernames must not share a lock")
	}
}

func TestRun_LockNameMatchesStoredUsername(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	locker := &fakeLocker{}
	env.deps.Locker = locker

	creds := Credentials{Username: "\ufb01sh", Password: "pw"}
	res := Run(context.Background(), env.deps, creds)
	if res.Outcome != OutcomeCreated {
		t.Fatalf("Outcome = %q (err=%v)", res.Outcome, res.Err)
	}

	user, err := env.store.GetUserByUsername(context.Background(), "fish")
	if err != nil {
		t.Fatalf("normalized user not found: %v", err)
	}
	if len(locker.acquired) != 1 || locker.acquired[0] != lockName(user.Username) {
		t.Errorf("lock %v does not guard stored username %q", locker.acquired, user.Username)
	}
}
