package participant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nstogner/datachat/pkg/domain"
	"github.com/nstogner/datachat/pkg/sandbox"
)

// NothingToExecute is the observation produced when there is no code to run.
const NothingToExecute = "nothing to execute"

// NoOutput is the observation produced when code succeeds silently.
const NoOutput = "The script ran, but produced no output to console."

// Executor runs the latest proposed code in a leased sandbox.
type Executor struct {
	lease *sandbox.Lease
}

var _ Participant = (*Executor)(nil)

// NewExecutor creates an Executor that runs code through lease.
func NewExecutor(lease *sandbox.Lease) *Executor {
	return &Executor{lease: lease}
}

func (e *Executor) ID() domain.ParticipantID { return domain.Executor }

// Take runs every code block of the pending CODE message in order, stopping at
// the first failure, and reports the combined output as an observation.
func (e *Executor) Take(ctx context.Context, turn Turn) (domain.Message, error) {
	if turn.Code == nil {
		return domain.NewMessage(domain.Executor, NothingToExecute, domain.KindObservation), nil
	}
	blocks := ExtractCodeBlocks(turn.Code.Content)
	if len(blocks) == 0 {
		return domain.NewMessage(domain.Executor, NothingToExecute, domain.KindObservation), nil
	}
	if !e.lease.Leased() {
		return domain.Message{}, domain.ErrSandboxNotReady
	}

	var (
		out      strings.Builder
		exitCode int
	)
	for i, b := range blocks {
		res, err := e.lease.Run(ctx, b.Code, b.Language)
		if err != nil {
			if errors.Is(err, domain.ErrSandboxNotReady) {
				return domain.Message{}, err
			}
			return domain.Message{}, fmt.Errorf("%w: running block %d: %v", domain.ErrBackendUnavailable, i+1, err)
		}
		out.WriteString(res.Stdout)
		out.WriteString(res.Stderr)
		exitCode = res.ExitCode
		if exitCode != 0 {
			slog.Debug("Code block failed", "sessionID", turn.SessionID, "block", i+1, "exitCode", exitCode)
			break
		}
	}

	content := out.String()
	if exitCode == 0 && strings.TrimSpace(content) == "" {
		content = NoOutput
	}
	if exitCode != 0 {
		content = fmt.Sprintf("exitcode: %d (execution failed)\n%s", exitCode, content)
	}
	msg := domain.NewMessage(domain.Executor, content, domain.KindObservation)
	msg.ExitCode = &exitCode
	return msg, nil
}
