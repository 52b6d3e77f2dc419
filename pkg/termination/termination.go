// Package termination decides when a conversation is finished.
package termination

import (
	"fmt"
	"strings"

	"github.com/nstogner/datachat/pkg/domain"
)

// DefaultSentinel is the token the Reasoner is instructed to say when done.
const DefaultSentinel = "TERMINATE"

// ReasonMaxTurns is the stop reason reported by MaxTurns.
const ReasonMaxTurns = "max turns"

// Decision is the outcome of evaluating a transcript.
type Decision struct {
	Stop   bool
	Reason string
}

// Policy inspects a transcript and decides whether to stop. Policies must
// not modify the transcript.
type Policy interface {
	Evaluate(transcript []domain.Message) Decision
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(transcript []domain.Message) Decision

func (f PolicyFunc) Evaluate(transcript []domain.Message) Decision { return f(transcript) }

// MaxTurns stops once n participant turns have been taken since the latest
// seed task. n <= 0 disables the bound.
func MaxTurns(n int) Policy {
	return PolicyFunc(func(transcript []domain.Message) Decision {
		if n > 0 && domain.TurnsSinceSeed(transcript) >= n {
			return Decision{Stop: true, Reason: ReasonMaxTurns}
		}
		return Decision{}
	})
}

// Sentinel stops when the most recent message is a Reasoner message
// containing token anywhere. Matching is a case-sensitive substring check,
// so a token quoted inside code also counts.
func Sentinel(token string) Policy {
	reason := fmt.Sprintf("sentinel: %s mentioned", token)
	return PolicyFunc(func(transcript []domain.Message) Decision {
		if token == "" || len(transcript) == 0 {
			return Decision{}
		}
		last := transcript[len(transcript)-1]
		if last.Source == domain.Reasoner && strings.Contains(last.Content, token) {
			return Decision{Stop: true, Reason: reason}
		}
		return Decision{}
	})
}

// Any returns the first stopping decision of its policies, in order.
func Any(policies ...Policy) Policy {
	return PolicyFunc(func(transcript []domain.Message) Decision {
		for _, p := range policies {
			if p == nil {
				continue
			}
			if d := p.Evaluate(transcript); d.Stop {
				return d
			}
		}
		return Decision{}
	})
}
