package participant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nstogner/datachat/pkg/domain"
	"github.com/nstogner/datachat/pkg/model"
	"github.com/nstogner/datachat/pkg/termination"
)

// ReasonerOptions configures a Reasoner.
type ReasonerOptions struct {
	// Model is the backend model name.
	Model string
	// Dataset is the path of the dataset as seen from inside the sandbox.
	Dataset string
	// Sentinel is the token the Reasoner says when it is done.
	// Defaults to termination.DefaultSentinel.
	Sentinel string
	// Instructions overrides the generated system prompt.
	Instructions string
}

// Reasoner asks a language model for the next step of the analysis.
type Reasoner struct {
	provider     model.Provider
	model        string
	sentinel     string
	instructions string
}

var _ Participant = (*Reasoner)(nil)

// NewReasoner creates a Reasoner backed by provider.
func NewReasoner(provider model.Provider, opts ReasonerOptions) *Reasoner {
	if opts.Sentinel == "" {
		opts.Sentinel = termination.DefaultSentinel
	}
	if opts.Instructions == "" {
		opts.Instructions = Instructions(opts.Dataset, opts.Sentinel)
	}
	return &Reasoner{
		provider:     provider,
		model:        opts.Model,
		sentinel:     opts.Sentinel,
		instructions: opts.Instructions,
	}
}

func (r *Reasoner) ID() domain.ParticipantID { return domain.Reasoner }

// Take sends the whole transcript to the model and classifies the reply.
func (r *Reasoner) Take(ctx context.Context, turn Turn) (domain.Message, error) {
	msgs := make([]model.Message, 0, len(turn.Transcript))
	for _, m := range turn.Transcript {
		role := domain.RoleUser
		if m.Source == domain.Reasoner {
			role = domain.RoleAssistant
		}
		msgs = append(msgs, model.Message{Role: role, Text: m.Content})
	}

	reply, err := model.Complete(ctx, r.provider, r.model, r.instructions, msgs)
	if err != nil {
		return domain.Message{}, err
	}

	kind := Classify(reply.Text, r.sentinel)
	slog.Debug("Reasoner replied", "sessionID", turn.SessionID, "kind", kind, "length", len(reply.Text))
	return domain.NewMessage(domain.Reasoner, reply.Text, kind), nil
}

// Instructions returns the system prompt for analysing dataset.
func Instructions(dataset, sentinel string) string {
	return fmt.Sprintf("You are a data analysis agent. You will be given a csv file at '%s' and a question about it. "+
		"You develop python code to answer the question.\n"+
		"Always begin with your plan to answer the question, then write the code.\n"+
		"Always write code in a fenced code block with the language (python) specified. "+
		"If you need several code blocks, write one at a time.\n"+
		"You are working with a code executor. Once you have written a code block, wait for the executor to run it. "+
		"If it ran successfully you can continue; if it failed, fix the code and try again.\n"+
		"Use pandas to answer the question if possible. If a library is not installed, "+
		"install it with pip in a code block with the language (sh) specified.\n"+
		"If the user asks for a plot, use matplotlib, save it as a png file in the current directory, and once the executor "+
		"has run the code successfully say exactly \"GENERATED:<filename>\" (like \"GENERATED:plot.png\") on its own line "+
		"in your message, not in your code.\n"+
		"Once you have the execution results, give the final answer and then say exactly \"%s\" to end the conversation.",
		dataset, sentinel)
}
