// Package jsonl stores each session as a JSONL file: a header line followed
// by one line per transcript message. An index.json next to the files lists
// every session with its status.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nstogner/datachat/pkg/domain"
	"github.com/nstogner/datachat/pkg/store"
)

const (
	typeSession = "session"
	typeMessage = "message"
	version     = 1
	indexFile   = "index.json"
)

// Header is the first line of a session file.
type Header struct {
	Type       string    `json:"type"`
	Version    int       `json:"version"`
	ID         string    `json:"id"`
	Dataset    string    `json:"dataset,omitempty"`
	Cursor     int       `json:"cursor"`
	Turns      int       `json:"turns"`
	Terminated bool      `json:"terminated"`
	StopReason string    `json:"stop_reason,omitempty"`
	Created    time.Time `json:"created"`
}

type messageLine struct {
	Type string `json:"type"`
	domain.Message
}

// Index represents the index.json structure
type Index struct {
	Sessions []store.Summary `json:"sessions"`
}

// Store implements store.SessionStore on a directory of JSONL files.
type Store struct {
	mu      sync.Mutex
	sessDir string
}

// Verify interface compliance at compile time.
var _ store.SessionStore = (*Store)(nil)

// New creates the sessions directory under rootDir.
func New(rootDir string) (*Store, error) {
	sessDir := filepath.Join(rootDir, "sessions")
	if err := os.MkdirAll(sessDir, 0755); err != nil {
		return nil, fmt.Errorf("creating sessions dir: %w", err)
	}
	return &Store{sessDir: sessDir}, nil
}

func (s *Store) path(token store.Token) (string, error) {
	name := string(token)
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid token %q", name)
	}
	return filepath.Join(s.sessDir, name+".jsonl"), nil
}

func (s *Store) Save(ctx context.Context, state *domain.SessionState) (store.Token, error) {
	if state.ID == "" {
		state.ID = uuid.New().String()
	}
	tok := store.Token(state.ID)
	path, err := s.path(tok)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	created := now
	for _, sum := range idx.Sessions {
		if sum.Token == tok {
			created = sum.Created
			break
		}
	}

	if err := writeSession(path, state, created); err != nil {
		return "", fmt.Errorf("writing session %s: %w", tok, err)
	}
	if err := s.updateIndex(idx, store.Summarize(state, created, now)); err != nil {
		return "", fmt.Errorf("updating index: %w", err)
	}
	return tok, nil
}

// writeSession replaces path atomically.
func writeSession(path string, state *domain.SessionState, created time.Time) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	if err := enc.Encode(Header{
		Type:       typeSession,
		Version:    version,
		ID:         state.ID,
		Dataset:    state.Dataset,
		Cursor:     state.Cursor,
		Turns:      state.Turns,
		Terminated: state.Terminated,
		StopReason: state.StopReason,
		Created:    created,
	}); err != nil {
		tmp.Close()
		return err
	}
	for _, m := range state.Transcript {
		if err := enc.Encode(messageLine{Type: typeMessage, Message: m}); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) Load(ctx context.Context, token store.Token) (*domain.SessionState, error) {
	path, err := s.path(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, token)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("session %s: empty file", token)
	}
	var h Header
	if err := json.Unmarshal(scanner.Bytes(), &h); err != nil {
		return nil, fmt.Errorf("failed to unmarshal header: %w", err)
	}
	if h.Type != typeSession {
		return nil, fmt.Errorf("session %s: unexpected header type %q", token, h.Type)
	}

	state := &domain.SessionState{
		ID:         h.ID,
		Dataset:    h.Dataset,
		Cursor:     h.Cursor,
		Turns:      h.Turns,
		Terminated: h.Terminated,
		StopReason: h.StopReason,
	}
	for scanner.Scan() {
		var line messageLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return nil, fmt.Errorf("session %s: line %d: %w", token, len(state.Transcript)+2, err)
		}
		if line.Type != typeMessage {
			continue
		}
		state.Transcript = append(state.Transcript, line.Message)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *Store) Delete(ctx context.Context, token store.Token) error {
	path, err := s.path(token)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", store.ErrNotFound, token)
		}
		return err
	}

	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	kept := idx.Sessions[:0]
	for _, sum := range idx.Sessions {
		if sum.Token != token {
			kept = append(kept, sum)
		}
	}
	idx.Sessions = kept
	return s.writeIndex(idx)
}

func (s *Store) List(ctx context.Context) ([]store.Summary, error) {
	s.mu.Lock()
	idx, err := s.readIndex()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	sort.Slice(idx.Sessions, func(i, j int) bool {
		return idx.Sessions[i].Modified.After(idx.Sessions[j].Modified)
	})
	return idx.Sessions, nil
}

// --- index ---

func (s *Store) readIndex() (Index, error) {
	var idx Index
	data, err := os.ReadFile(filepath.Join(s.sessDir, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return idx, err
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		return idx, fmt.Errorf("reading index: %w", err)
	}
	return idx, nil
}

func (s *Store) updateIndex(idx Index, sum store.Summary) error {
	found := false
	for i := range idx.Sessions {
		if idx.Sessions[i].Token == sum.Token {
			idx.Sessions[i] = sum
			found = true
			break
		}
	}
	if !found {
		idx.Sessions = append(idx.Sessions, sum)
	}
	return s.writeIndex(idx)
}

func (s *Store) writeIndex(idx Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.sessDir, indexFile), data, 0644)
}
