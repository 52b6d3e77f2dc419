package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nstogner/datachat/pkg/domain"
)

// Result represents the output of a sandbox code execution.
type Result struct {
	// Stdout is the standard output of the run.
	Stdout string `json:"stdout,omitempty"`
	// Stderr is the standard error of the run.
	Stderr string `json:"stderr,omitempty"`
	// ExitCode is the process exit status. Zero means success.
	ExitCode int `json:"exit_code"`
}

// Backend is a stateful execution environment with an explicit lifecycle.
// Implementations do not need to guard against misuse; Lease does that.
type Backend interface {
	// Start provisions the environment (e.g. creates and starts a container).
	Start(ctx context.Context) error

	// Stop tears the environment down.
	Stop(ctx context.Context) error

	// Run executes code written in the given language and returns its output.
	// A non-zero exit code is reported in the Result, not as an error.
	Run(ctx context.Context, code, language string) (*Result, error)
}

// Lease owns the lifecycle of one Backend for one session. Run is only allowed
// while leased, a second Start without Stop fails with domain.ErrAlreadyLeased,
// and Stop is a guarded no-op when nothing is leased.
type Lease struct {
	mu      sync.Mutex
	backend Backend
	leased  bool
}

// NewLease wraps a backend.
func NewLease(b Backend) *Lease {
	return &Lease{backend: b}
}

// Start acquires the lease by starting the backend.
func (l *Lease) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.leased {
		return domain.ErrAlreadyLeased
	}
	if err := l.backend.Start(ctx); err != nil {
		return fmt.Errorf("starting sandbox: %w", err)
	}
	l.leased = true
	slog.Debug("Sandbox leased")
	return nil
}

// Stop releases the lease. Calling it when not leased does nothing, so the
// backend is released at most once per Start.
func (l *Lease) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.leased {
		return nil
	}
	l.leased = false
	if err := l.backend.Stop(ctx); err != nil {
		return fmt.Errorf("stopping sandbox: %w", err)
	}
	slog.Debug("Sandbox released")
	return nil
}

// Leased reports whether the backend is currently started.
func (l *Lease) Leased() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leased
}

// Run executes code in the leased backend.
func (l *Lease) Run(ctx context.Context, code, language string) (*Result, error) {
	if !l.Leased() {
		return nil, domain.ErrSandboxNotReady
	}
	return l.backend.Run(ctx, code, language)
}

// Interpreter maps a code fence language tag to the command that runs it and
// the file extension the code is written with. Untagged blocks are python.
func Interpreter(language string) (command, ext string, ok bool) {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "", "python", "py", "python3":
		return "python", "py", true
	case "sh", "bash", "shell", "console":
		return "sh", "sh", true
	default:
		return "", "", false
	}
}
