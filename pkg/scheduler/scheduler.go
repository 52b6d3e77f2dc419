// Package scheduler drives round-robin turn taking between participants,
// couples the sandbox lifecycle to the conversation and decides when to stop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/nstogner/datachat/pkg/artifact"
	"github.com/nstogner/datachat/pkg/domain"
	"github.com/nstogner/datachat/pkg/participant"
	"github.com/nstogner/datachat/pkg/sandbox"
	"github.com/nstogner/datachat/pkg/termination"
	"github.com/nstogner/datachat/pkg/transcript"
)

const (
	// DefaultMaxTurns bounds a session when Config.MaxTurns is zero.
	DefaultMaxTurns = 20
	// DefaultMaxConsecutiveFailures is used when Config.MaxConsecutiveFailures is zero.
	DefaultMaxConsecutiveFailures = 3
	// DefaultTurnGrace is used when Config.TurnGrace is zero.
	DefaultTurnGrace = 5 * time.Second
)

// Config configures a Scheduler.
type Config struct {
	// Participants speak in this order, starting at the state's cursor.
	Participants []participant.Participant
	// Lease is started before the first turn and stopped on exit.
	Lease *sandbox.Lease
	// Termination is evaluated after every turn, after the MaxTurns bound.
	Termination termination.Policy
	// MaxTurns bounds the turns per task. Negative disables the bound.
	MaxTurns int
	// MaxConsecutiveFailures aborts the session when one participant fails
	// this many times in a row.
	MaxConsecutiveFailures int
	// TurnTimeout bounds each participant turn. Zero means no limit.
	TurnTimeout time.Duration
	// TurnGrace is how long a timed-out participant has to return after its
	// context is cancelled before the next turn starts without it.
	TurnGrace time.Duration
	// Sink receives every event. Optional.
	Sink transcript.Sink
	// Artifacts resolves GENERATED: references in Reasoner messages. Optional.
	Artifacts *artifact.Resolver
}

// Scheduler runs conversations. It holds no per-session state, so one
// Scheduler can serve sequential sessions sharing the same participants.
type Scheduler struct {
	cfg    Config
	policy termination.Policy
}

// New validates cfg and returns a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if len(cfg.Participants) == 0 {
		return nil, fmt.Errorf("at least one participant is required")
	}
	if cfg.Lease == nil {
		return nil, fmt.Errorf("sandbox lease is required")
	}
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if cfg.TurnGrace <= 0 {
		cfg.TurnGrace = DefaultTurnGrace
	}
	if cfg.Sink == nil {
		cfg.Sink = transcript.Discard{}
	}
	return &Scheduler{
		cfg:    cfg,
		policy: termination.Any(termination.MaxTurns(cfg.MaxTurns), cfg.Termination),
	}, nil
}

// Run seeds task into state and runs the conversation. The returned sequence
// yields the task event, one event per turn and finally a stop event. Errors
// end the sequence. Breaking out of the loop stops the conversation and
// releases the sandbox.
func (s *Scheduler) Run(ctx context.Context, state *domain.SessionState, task string) iter.Seq2[transcript.Event, error] {
	return s.run(ctx, state, &task)
}

// Resume continues a suspended conversation without seeding a new task.
func (s *Scheduler) Resume(ctx context.Context, state *domain.SessionState) iter.Seq2[transcript.Event, error] {
	return s.run(ctx, state, nil)
}

func (s *Scheduler) run(ctx context.Context, state *domain.SessionState, task *string) iter.Seq2[transcript.Event, error] {
	return func(yield func(transcript.Event, error) bool) {
		if state.Terminated {
			yield(transcript.Event{}, fmt.Errorf("%w: %s", domain.ErrSessionTerminated, state.StopReason))
			return
		}

		emit := func(ev transcript.Event) bool {
			ev.SessionID = state.ID
			ev.Time = time.Now().UTC()
			s.cfg.Sink.OnEvent(ctx, ev)
			return yield(ev.Clone(), nil)
		}
		fail := func(err error) {
			slog.Error("Session aborted", "sessionID", state.ID, "error", err)
			s.cfg.Sink.OnEvent(ctx, transcript.Event{
				Type:      transcript.EventError,
				SessionID: state.ID,
				Time:      time.Now().UTC(),
				Error:     err.Error(),
			})
			yield(transcript.Event{}, err)
		}

		if task != nil {
			seed := domain.NewMessage(domain.User, *task, domain.KindText)
			state.Transcript = append(state.Transcript, seed)
			state.Turns = 0
			state.Cursor = 0
			if !emit(transcript.Event{Type: transcript.EventTask, Message: &seed}) {
				return
			}
		}

		// A resumed state may already be past the bound.
		if task == nil {
			if d := s.policy.Evaluate(state.Transcript); d.Stop {
				s.stop(state, d, emit)
				return
			}
		}

		// Registered before Start so every exit path releases the sandbox.
		defer func() {
			if err := s.cfg.Lease.Stop(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("Failed to release sandbox", "sessionID", state.ID, "error", err)
			}
		}()
		if err := s.cfg.Lease.Start(ctx); err != nil {
			fail(err)
			return
		}

		n := len(s.cfg.Participants)
		failures := make(map[domain.ParticipantID]int)
		for {
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}

			p := s.cfg.Participants[state.Cursor%n]
			msg, err := s.take(ctx, p, participant.NewTurn(state.ID, state.Transcript))
			if err != nil {
				if errors.Is(err, domain.ErrSandboxNotReady) || ctx.Err() != nil {
					fail(err)
					return
				}
				failures[p.ID()]++
				slog.Warn("Participant turn failed", "sessionID", state.ID, "participant", p.ID(),
					"consecutive", failures[p.ID()], "error", err)
				if failures[p.ID()] >= s.cfg.MaxConsecutiveFailures {
					fail(fmt.Errorf("%s failed %d times in a row: %w", p.ID(), failures[p.ID()], wrapUnavailable(err)))
					return
				}
				msg = domain.NewMessage(p.ID(), "Error: "+err.Error(), domain.KindObservation)
			} else {
				failures[p.ID()] = 0
			}

			state.Transcript = append(state.Transcript, msg)
			state.Turns++
			state.Cursor = state.Turns % n

			ev := transcript.Event{Type: transcript.EventMessage, Message: &msg}
			if msg.Source == domain.Reasoner && s.cfg.Artifacts != nil {
				ev.Artifacts, ev.Annotations = s.cfg.Artifacts.Resolve(msg.Content)
			}
			if !emit(ev) {
				slog.Info("Consumer stopped the conversation", "sessionID", state.ID, "turns", state.Turns)
				return
			}

			if d := s.policy.Evaluate(state.Transcript); d.Stop {
				s.stop(state, d, emit)
				return
			}
		}
	}
}

func (s *Scheduler) stop(state *domain.SessionState, d termination.Decision, emit func(transcript.Event) bool) {
	state.Terminated = true
	state.StopReason = d.Reason
	slog.Info("Conversation finished", "sessionID", state.ID, "reason", d.Reason, "turns", state.Turns)
	emit(transcript.Event{Type: transcript.EventStop, StopReason: d.Reason})
}

// take invokes p, bounded by the turn timeout when one is set.
func (s *Scheduler) take(ctx context.Context, p participant.Participant, turn participant.Turn) (domain.Message, error) {
	if s.cfg.TurnTimeout <= 0 {
		return p.Take(ctx, turn)
	}

	turnCtx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()

	type result struct {
		msg domain.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := p.Take(turnCtx, turn)
		done <- result{msg, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-turnCtx.Done():
		// Wait for the participant to observe the cancellation so two turns
		// never run at once.
		grace := time.NewTimer(s.cfg.TurnGrace)
		defer grace.Stop()
		select {
		case <-done:
		case <-grace.C:
			slog.Warn("Participant still running after cancellation", "participant", p.ID(), "grace", s.cfg.TurnGrace)
		}
		r.err = turnCtx.Err()
	}
	if r.err != nil && ctx.Err() == nil && errors.Is(turnCtx.Err(), context.DeadlineExceeded) {
		return domain.Message{}, fmt.Errorf("%w: %s turn timed out after %s", domain.ErrBackendUnavailable, p.ID(), s.cfg.TurnTimeout)
	}
	return r.msg, r.err
}

func wrapUnavailable(err error) error {
	if errors.Is(err, domain.ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
}
