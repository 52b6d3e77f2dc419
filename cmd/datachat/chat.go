package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nstogner/datachat/pkg/domain"
	"github.com/nstogner/datachat/pkg/store"
	"github.com/nstogner/datachat/pkg/transcript"
)

// ChatCmd opens the terminal UI.
type ChatCmd struct {
	Session string `short:"s" help:"Open this session directly" placeholder:"TOKEN"`
	LogFile string `default:"datachat.log" help:"Log file; the terminal is owned by the UI"`
}

func (c *ChatCmd) Run(cli *CLI) error {
	f, err := os.OpenFile(c.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := cli.newApp(ctx, f, true)
	if err != nil {
		return err
	}
	defer a.Close()

	m := newChatModel(ctx, a)
	if c.Session != "" {
		token := store.Token(c.Session)
		state, err := a.runner.Load(ctx, token)
		if err != nil {
			return fmt.Errorf("loading session %s: %w", token, err)
		}
		var cmd tea.Cmd
		m, cmd = m.enterChat(token, state)
		m.initCmd = cmd
	}

	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running terminal UI: %w", err)
	}
	return nil
}

type state int

const (
	stateMenu state = iota
	stateSelectingDataset
	stateSelectingSession
	stateChatting
	stateConfirmExit
)

type errMsg struct{ err error }

// eventMsg carries one transcript event from the session broadcaster.
type eventMsg transcript.Event

// askDoneMsg is sent when a question has been answered or has failed.
type askDoneMsg struct{ err error }

type sessionMsg struct {
	token store.Token
	state *domain.SessionState
}

type chatModel struct {
	ctx     context.Context
	app     *app
	initCmd tea.Cmd

	// State
	state      state
	datasets   []string
	sessions   []store.Summary
	cursor     int
	listOffset int
	width      int
	height     int
	err        error

	// Session
	token       store.Token
	dataset     string
	broadcaster *transcript.Broadcaster
	updates     <-chan transcript.Event
	unsubscribe func()
	events      []transcript.Event
	busy        bool
	cancelAsk   context.CancelFunc
	quitting    bool

	// UI Components
	viewport viewport.Model
	textarea textarea.Model
	renderer *renderer
}

func newChatModel(ctx context.Context, a *app) chatModel {
	ta := textarea.New()
	ta.Placeholder = "Ask a question about the dataset..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 2000

	ta.SetWidth(80)
	ta.SetHeight(3)

	// Remove cursor line styling
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)
	vp.SetContent("Welcome! Select an option.")

	return chatModel{
		ctx:      ctx,
		app:      a,
		state:    stateMenu,
		viewport: vp,
		textarea: ta,
		renderer: newRenderer(80),
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.initCmd)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var tiCmd, vpCmd tea.Cmd
	// Keys only reach the textarea while chatting so menu selections do not
	// leak into it.
	switch msg.(type) {
	case tea.KeyMsg:
		if m.state == stateChatting {
			m.textarea, tiCmd = m.textarea.Update(msg)
			cmds = append(cmds, tiCmd)
		}
	default:
		m.textarea, tiCmd = m.textarea.Update(msg)
		cmds = append(cmds, tiCmd)
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.textarea.SetWidth(msg.Width)
		m.viewport.Height = msg.Height - m.textarea.Height() - 3 // Header + margins
		if m.viewport.Height < 0 {
			m.viewport.Height = 0
		}
		m.viewport.YPosition = 2
		m.renderer = newRenderer(m.width - 4)
		if m.token != "" {
			m.refresh()
		}
		m.clampList()
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.state == stateConfirmExit {
				m.state = stateChatting
				return m, nil
			}
			if m.busy {
				m.state = stateConfirmExit
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEnter:
			switch m.state {
			case stateMenu:
				return m.selectMenu()
			case stateSelectingDataset:
				if len(m.datasets) == 0 {
					return m, nil
				}
				return m, m.createSessionCmd(m.datasets[m.cursor])
			case stateSelectingSession:
				if len(m.sessions) == 0 {
					return m, nil
				}
				return m, m.loadSessionCmd(m.sessions[m.cursor].Token)
			case stateChatting:
				m.err = nil
				return m.sendQuestion()
			}
		case tea.KeyUp:
			if m.cursor > 0 {
				m.cursor--
				m.clampList()
			}
		case tea.KeyDown:
			if m.cursor < m.listLen()-1 {
				m.cursor++
				m.clampList()
			}
		default:
			if m.state == stateConfirmExit {
				switch msg.String() {
				case "y", "Y":
					if !m.busy {
						return m, tea.Quit
					}
					// Wait for the run to save its state before quitting.
					m.quitting = true
					if m.cancelAsk != nil {
						m.cancelAsk()
					}
					return m, nil
				case "n", "N":
					m.state = stateChatting
					return m, nil
				}
			}
		}
	case sessionMsg:
		var cmd tea.Cmd
		m, cmd = m.enterChat(msg.token, msg.state)
		cmds = append(cmds, cmd)
	case eventMsg:
		slog.Debug("TUI received event", "type", msg.Type, "sessionID", msg.SessionID)
		m.events = append(m.events, transcript.Event(msg))
		m.refresh()
		cmds = append(cmds, waitForEvent(m.updates))
	case askDoneMsg:
		m.busy = false
		m.cancelAsk = nil
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.err = msg.err
		}
		if m.quitting {
			return m, tea.Quit
		}
		if m.state == stateConfirmExit {
			m.state = stateChatting
		}
	case errMsg:
		m.err = msg.err
	}
	return m, tea.Batch(cmds...)
}

func (m chatModel) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("\nError: %v", m.err))
	}

	switch m.state {
	case stateMenu:
		return m.listView("Main Menu", []string{"New Session", "Continue Session"}, errorView)
	case stateSelectingDataset:
		return m.listView("Select Dataset", m.datasets, errorView)
	case stateSelectingSession:
		items := make([]string, len(m.sessions))
		for i, s := range m.sessions {
			status := ""
			if s.Terminated {
				status = ", done"
			}
			items[i] = fmt.Sprintf("%s %s (%d messages%s, %s)", s.Token, s.Dataset, s.Messages, status, s.Modified.Local().Format(time.RFC822))
		}
		return m.listView("Select Session", items, errorView)
	case stateConfirmExit:
		prompt := "A question is still running. Stop it and quit? (y/n)"
		if m.quitting {
			prompt = "Stopping..."
		}
		return lipgloss.JoinVertical(
			lipgloss.Left,
			titleStyle.Render("Confirm Exit"),
			"",
			prompt,
			"The session is saved and can be resumed later.",
			errorView,
		)
	}

	title := fmt.Sprintf("datachat: %s", m.dataset)
	if m.busy {
		title += " (working...)"
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render(title),
		"",
		m.viewport.View(),
		"",
		errorView,
		m.textarea.View(),
	)
}

func (m chatModel) listView(title string, items []string, errorView string) string {
	maxViewable := m.maxViewable()
	start := m.listOffset
	end := start + maxViewable
	if end > len(items) {
		end = len(items)
	}

	var optionsView []string
	for i := start; i < end; i++ {
		cursor := " "
		line := items[i]
		if m.cursor == i {
			cursor = ">"
			line = selectedItemStyle.Render(line)
		}
		optionsView = append(optionsView, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), line))
	}
	list := lipgloss.JoinVertical(lipgloss.Left, optionsView...)
	footer := "Press Enter to select, Esc to quit."
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), "", list, "", footer, errorView)
}

func (m chatModel) maxViewable() int {
	// Header and footer take about seven lines.
	if n := m.height - 7; n > 0 {
		return n
	}
	return 1
}

func (m chatModel) listLen() int {
	switch m.state {
	case stateMenu:
		return 2
	case stateSelectingDataset:
		return len(m.datasets)
	case stateSelectingSession:
		return len(m.sessions)
	default:
		return 0
	}
}

// clampList keeps the cursor inside the visible window.
func (m *chatModel) clampList() {
	maxViewable := m.maxViewable()
	if m.cursor < m.listOffset {
		m.listOffset = m.cursor
	}
	if m.cursor >= m.listOffset+maxViewable {
		m.listOffset = m.cursor - maxViewable + 1
	}
	if m.listOffset < 0 {
		m.listOffset = 0
	}
}

// refresh re-renders the transcript into the viewport.
func (m *chatModel) refresh() {
	var sb strings.Builder
	for _, ev := range m.events {
		sb.WriteString(m.renderer.Event(ev))
	}
	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

// Actions

func (m chatModel) selectMenu() (chatModel, tea.Cmd) {
	choice := m.cursor
	m.cursor = 0
	m.listOffset = 0
	if choice == 0 {
		datasets, err := listDatasets(m.app.cfg.Sandbox.DataDir)
		if err != nil {
			m.err = err
			return m, nil
		}
		if len(datasets) == 0 {
			m.err = fmt.Errorf("no datasets found in %s", m.app.cfg.Sandbox.DataDir)
			return m, nil
		}
		m.datasets = datasets
		m.state = stateSelectingDataset
		return m, nil
	}

	sessions, err := m.app.runner.List(m.ctx)
	if err != nil {
		m.err = err
		return m, nil
	}
	if len(sessions) == 0 {
		m.err = errors.New("no existing sessions found")
		return m, nil
	}
	m.sessions = sessions
	m.state = stateSelectingSession
	return m, nil
}

func (m chatModel) createSessionCmd(dataset string) tea.Cmd {
	ctx, r := m.ctx, m.app.runner
	return func() tea.Msg {
		token, err := r.Create(ctx, dataset)
		if err != nil {
			return errMsg{err}
		}
		state, err := r.Load(ctx, token)
		if err != nil {
			return errMsg{err}
		}
		return sessionMsg{token: token, state: state}
	}
}

func (m chatModel) loadSessionCmd(token store.Token) tea.Cmd {
	ctx, r := m.ctx, m.app.runner
	return func() tea.Msg {
		state, err := r.Load(ctx, token)
		if err != nil {
			return errMsg{err}
		}
		return sessionMsg{token: token, state: state}
	}
}

func (m chatModel) enterChat(token store.Token, st *domain.SessionState) (chatModel, tea.Cmd) {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.token = token
	m.dataset = st.Dataset
	m.broadcaster = transcript.NewBroadcaster(256)
	m.updates, m.unsubscribe = m.broadcaster.Subscribe()
	m.events = transcript.Replay(st)
	m.state = stateChatting
	m.cursor = 0
	m.err = nil
	m.textarea.Focus()
	m.refresh()
	return m, waitForEvent(m.updates)
}

func (m chatModel) sendQuestion() (chatModel, tea.Cmd) {
	v := strings.TrimSpace(m.textarea.Value())
	if v == "" {
		return m, nil
	}
	if v == "/exit" {
		if m.busy {
			m.state = stateConfirmExit
			return m, nil
		}
		return m, tea.Quit
	}
	if m.busy {
		m.err = errors.New("still answering the previous question")
		return m, nil
	}

	m.textarea.Reset()
	m.busy = true
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelAsk = cancel

	r, token, sink := m.app.runner, m.token, m.broadcaster
	return m, func() tea.Msg {
		defer cancel()
		_, err := r.Ask(ctx, token, v, sink)
		return askDoneMsg{err: err}
	}
}

func waitForEvent(sub <-chan transcript.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}
