package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nstogner/datachat/pkg/runner"
	"github.com/nstogner/datachat/pkg/store"
	"github.com/nstogner/datachat/pkg/transcript"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const pingPeriod = 30 * time.Second

// handleChatWebSocket replays the session transcript, then streams events
// for every question the client sends as {"question": "..."}.
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	token := store.Token(r.PathValue("token"))
	if token == "" {
		http.Error(w, "Missing session token", http.StatusBadRequest)
		return
	}

	// Verify the session exists.
	if _, err := s.runner.Load(r.Context(), token); err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	// Subscribe, then load the state to replay. Every event is saved before
	// it is broadcast, so anything not in the loaded state arrives on
	// updates; events in both are dropped by seen.
	updates, unsubscribe := s.broadcaster(token).Subscribe()
	defer unsubscribe()

	state, err := s.runner.Load(r.Context(), token)
	if err != nil {
		slog.Error("Failed to load session for replay", "sessionID", token, "error", err)
		return
	}
	replay := transcript.Replay(state)
	seen := newReplayed(replay)
	for _, ev := range replay {
		if err := ws.WriteJSON(ev); err != nil {
			slog.Error("Failed initial sync", "error", err)
			return
		}
	}

	done := make(chan struct{})
	local := make(chan transcript.Event, 4)

	var wg sync.WaitGroup
	wg.Add(1)

	// Writer goroutine: the only writer on ws after the replay.
	go func() {
		defer wg.Done()
		defer ws.Close()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case ev, ok := <-updates:
				if !ok {
					return
				}
				if seen.covers(ev) {
					continue
				}
				if err := ws.WriteJSON(ev); err != nil {
					slog.Error("Failed to push event", "error", err)
					return
				}
			case ev := <-local:
				if err := ws.WriteJSON(ev); err != nil {
					return
				}
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop: receives questions.
	for {
		var msg struct {
			Question string `json:"question"`
		}
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket read error", "error", err)
			}
			break
		}
		if msg.Question == "" {
			continue
		}
		go s.ask(token, msg.Question, local)
	}

	close(done)
	wg.Wait()
}

// ask runs one question. Events reach subscribers through the session
// broadcaster; a rejected question is reported only to the asking client.
func (s *Server) ask(token store.Token, question string, local chan<- transcript.Event) {
	_, err := s.runner.Ask(s.ctx, token, question, s.broadcaster(token))
	if err == nil {
		return
	}
	slog.Warn("Question failed", "sessionID", token, "error", err)
	if errors.Is(err, runner.ErrSessionBusy) {
		select {
		case local <- transcript.Event{Type: transcript.EventError, SessionID: string(token), Time: time.Now().UTC(), Error: err.Error()}:
		default:
		}
	}
}

// replayed remembers what the initial replay sent so live events that
// raced with it are not delivered twice.
type replayed struct {
	ids  map[string]bool
	stop bool
}

func newReplayed(events []transcript.Event) *replayed {
	r := &replayed{ids: make(map[string]bool)}
	for _, ev := range events {
		if ev.Message != nil {
			r.ids[ev.Message.ID] = true
		}
		r.stop = r.stop || ev.Type == transcript.EventStop
	}
	return r
}

// covers reports whether ev was already sent by the replay.
func (r *replayed) covers(ev transcript.Event) bool {
	if ev.Message != nil {
		if r.ids[ev.Message.ID] {
			return true
		}
		// A new message starts activity the replay knows nothing about.
		r.stop = false
		return false
	}
	if ev.Type == transcript.EventStop && r.stop {
		r.stop = false
		return true
	}
	return false
}
