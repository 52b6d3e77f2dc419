package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/nstogner/datachat/pkg/domain"
	"github.com/nstogner/datachat/pkg/transcript"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	reasonerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	executorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Bold(true)

	cursorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	selectedItemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1)
	warnStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// renderer turns transcript events into terminal output.
type renderer struct {
	md *glamour.TermRenderer
}

func newRenderer(width int) *renderer {
	if width < 20 {
		width = 80
	}
	// The standard style avoids terminal queries that leak into the input.
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return &renderer{}
	}
	return &renderer{md: md}
}

// Event renders one event with a styled header.
func (r *renderer) Event(ev transcript.Event) string {
	var sb strings.Builder
	switch ev.Type {
	case transcript.EventStop:
		sb.WriteString(titleStyle.Render("Stopped: " + ev.StopReason))
		sb.WriteString("\n")
		return sb.String()
	case transcript.EventError:
		sb.WriteString(errorStyle.Render("Error: " + ev.Error))
		sb.WriteString("\n")
		return sb.String()
	}
	if ev.Message == nil {
		return ""
	}

	sb.WriteString(header(ev.Message.Source))
	sb.WriteString("\n")
	sb.WriteString(r.markdown(messageMarkdown(*ev.Message)))
	for _, a := range ev.Artifacts {
		fmt.Fprintf(&sb, "  Artifact: %s (%s)\n", a.Name, a.Path)
	}
	for _, a := range ev.Annotations {
		sb.WriteString(warnStyle.Render("  Warning: " + a.Detail))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (r *renderer) markdown(s string) string {
	if r.md == nil {
		return s + "\n"
	}
	out, err := r.md.Render(s)
	if err != nil {
		return s + "\n"
	}
	return out
}

func header(source domain.ParticipantID) string {
	switch source {
	case domain.User:
		return userStyle.Render("User:")
	case domain.Reasoner:
		return reasonerStyle.Render("Reasoner:")
	default:
		return executorStyle.Render(string(source) + ":")
	}
}

// messageMarkdown returns the markdown shown for a message. Sandbox output is
// fenced so it keeps its layout.
func messageMarkdown(m domain.Message) string {
	if !m.Kind.Has(domain.KindObservation) || m.Source != domain.Executor {
		return m.Content
	}
	content := strings.TrimRight(m.Content, "\n")
	if m.ExitCode == nil {
		return content
	}
	return "```\n" + content + "\n```"
}
