// Package runner ties the pieces of a session together: it loads state from
// the store, leases a sandbox, runs the scheduler for one question and saves
// the state after every turn.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/nstogner/datachat/pkg/artifact"
	"github.com/nstogner/datachat/pkg/domain"
	"github.com/nstogner/datachat/pkg/model"
	"github.com/nstogner/datachat/pkg/participant"
	"github.com/nstogner/datachat/pkg/sandbox"
	"github.com/nstogner/datachat/pkg/scheduler"
	"github.com/nstogner/datachat/pkg/store"
	"github.com/nstogner/datachat/pkg/termination"
	"github.com/nstogner/datachat/pkg/transcript"
)

// ErrSessionBusy is returned when a question is asked while the session is
// still answering another one.
var ErrSessionBusy = errors.New("session busy")

// SandboxFactory creates the execution backend for one session. workDir is
// the host directory shared with the sandbox. Backends implementing io.Closer
// are closed after the run.
type SandboxFactory func(sessionID, workDir string) (sandbox.Backend, error)

// Options configures a Runner.
type Options struct {
	Provider model.Provider
	Model    string
	Store    store.SessionStore
	Sandbox  SandboxFactory

	// WorkDir holds one subdirectory per session.
	WorkDir string
	// DataMount is where datasets appear inside the sandbox.
	DataMount string

	MaxTurns    int
	MaxFailures int
	TurnTimeout time.Duration
	Sentinel    string

	// Sink receives the events of every session, in addition to the sink
	// passed to Ask.
	Sink transcript.Sink
}

// Runner coordinates sessions.
type Runner struct {
	opts Options

	mu     sync.Mutex
	active map[store.Token]bool
}

func New(opts Options) *Runner {
	if opts.DataMount == "" {
		opts.DataMount = "/mnt/data"
	}
	if opts.Sentinel == "" {
		opts.Sentinel = termination.DefaultSentinel
	}
	return &Runner{opts: opts, active: make(map[store.Token]bool)}
}

// Create starts a new session over dataset (a file name in the data dir).
func (r *Runner) Create(ctx context.Context, dataset string) (store.Token, error) {
	state := domain.NewSessionState()
	state.Dataset = dataset
	return r.opts.Store.Save(ctx, state)
}

// Load returns the saved state of a session.
func (r *Runner) Load(ctx context.Context, token store.Token) (*domain.SessionState, error) {
	return r.opts.Store.Load(ctx, token)
}

// List returns summaries of all saved sessions.
func (r *Runner) List(ctx context.Context) ([]store.Summary, error) {
	return r.opts.Store.List(ctx)
}

// WorkDir returns the host directory shared with the session's sandbox.
func (r *Runner) WorkDir(token store.Token) string {
	return filepath.Join(r.opts.WorkDir, string(token))
}

// Artifact resolves a file produced by a session.
func (r *Runner) Artifact(token store.Token, name string) (domain.Artifact, error) {
	return artifact.NewResolver(r.WorkDir(token)).Lookup(name)
}

// Ask runs question against the session identified by token, streaming
// events to sink. A finished session is reopened so the question becomes a
// follow-up on the same transcript. The state is saved after every turn and
// again however the run ends.
func (r *Runner) Ask(ctx context.Context, token store.Token, question string, sink transcript.Sink) (*domain.SessionState, error) {
	return r.run(ctx, token, &question, sink)
}

// Resume continues an interrupted session without asking anything new.
func (r *Runner) Resume(ctx context.Context, token store.Token, sink transcript.Sink) (*domain.SessionState, error) {
	return r.run(ctx, token, nil, sink)
}

func (r *Runner) run(ctx context.Context, token store.Token, question *string, sink transcript.Sink) (*domain.SessionState, error) {
	if !r.acquire(token) {
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, token)
	}
	defer r.release(token)

	sinks := transcript.NewMulti(r.opts.Sink, sink)
	setupFailed := func(err error) error {
		sinks.OnEvent(ctx, transcript.Event{
			Type:      transcript.EventError,
			SessionID: string(token),
			Time:      time.Now().UTC(),
			Error:     err.Error(),
		})
		return err
	}

	state, err := r.opts.Store.Load(ctx, token)
	if err != nil {
		return nil, setupFailed(fmt.Errorf("loading session: %w", err))
	}
	if question != nil && state.Terminated {
		state.Reset()
	}

	workDir := r.WorkDir(token)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return state, setupFailed(fmt.Errorf("creating work dir: %w", err))
	}
	backend, err := r.opts.Sandbox(state.ID, workDir)
	if err != nil {
		return state, setupFailed(fmt.Errorf("creating sandbox: %w", err))
	}
	if c, ok := backend.(io.Closer); ok {
		defer c.Close()
	}
	lease := sandbox.NewLease(backend)

	sched, err := scheduler.New(scheduler.Config{
		Participants: []participant.Participant{
			participant.NewReasoner(r.opts.Provider, participant.ReasonerOptions{
				Model:    r.opts.Model,
				Dataset:  path.Join(r.opts.DataMount, state.Dataset),
				Sentinel: r.opts.Sentinel,
			}),
			participant.NewExecutor(lease),
		},
		Lease:                  lease,
		Termination:            termination.Sentinel(r.opts.Sentinel),
		MaxTurns:               r.opts.MaxTurns,
		MaxConsecutiveFailures: r.opts.MaxFailures,
		TurnTimeout:            r.opts.TurnTimeout,
		Sink:                   transcript.NewMulti(r.checkpoint(ctx, state), sinks),
		Artifacts:              artifact.NewResolver(workDir),
	})
	if err != nil {
		return state, setupFailed(err)
	}

	var seq iter.Seq2[transcript.Event, error]
	if question != nil {
		slog.Info("Asking question", "sessionID", state.ID, "question", *question)
		seq = sched.Run(ctx, state, *question)
	} else {
		slog.Info("Resuming session", "sessionID", state.ID, "turns", state.Turns)
		seq = sched.Resume(ctx, state)
	}

	var runErr error
	for _, err := range seq {
		if err != nil {
			runErr = err
			break
		}
	}

	if _, err := r.opts.Store.Save(context.WithoutCancel(ctx), state); err != nil {
		slog.Error("Failed to save session", "sessionID", state.ID, "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("saving session: %w", err)
		}
	}
	return state, runErr
}

// checkpoint saves state after every turn. It runs ahead of the other sinks,
// so a client that loads the session after seeing an event also sees that
// event in the saved transcript.
func (r *Runner) checkpoint(ctx context.Context, state *domain.SessionState) transcript.Sink {
	return transcript.SinkFunc(func(_ context.Context, ev transcript.Event) {
		switch ev.Type {
		case transcript.EventTask, transcript.EventMessage, transcript.EventStop:
		default:
			return
		}
		if _, err := r.opts.Store.Save(context.WithoutCancel(ctx), state); err != nil {
			slog.Warn("Failed to checkpoint session", "sessionID", state.ID, "event", ev.Type, "error", err)
		}
	})
}

func (r *Runner) acquire(token store.Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[token] {
		return false
	}
	r.active[token] = true
	return true
}

func (r *Runner) release(token store.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, token)
}
