// Package storetest holds behaviour tests shared by every SessionStore
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/nstogner/datachat/pkg/domain"
	"github.com/nstogner/datachat/pkg/store"
)

func sampleState() *domain.SessionState {
	s := domain.NewSessionState()
	s.Dataset = "sales.csv"
	code := 1
	obs := domain.NewMessage(domain.Executor, "exitcode: 1 (execution failed)\nSyntaxError", domain.KindObservation)
	obs.ExitCode = &code
	s.Transcript = []domain.Message{
		domain.NewMessage(domain.User, "What are the columns?", domain.KindText),
		domain.NewMessage(domain.Reasoner, "```python\nprint(\n```", domain.KindCode),
		obs,
	}
	s.Turns = 2
	s.Cursor = 0
	return s
}

func assertEqual(t *testing.T, got, want *domain.SessionState) {
	t.Helper()
	if got.ID != want.ID || got.Dataset != want.Dataset || got.Cursor != want.Cursor ||
		got.Turns != want.Turns || got.Terminated != want.Terminated || got.StopReason != want.StopReason {
		t.Errorf("state = %+v, want %+v", got, want)
	}
	if len(got.Transcript) != len(want.Transcript) {
		t.Fatalf("transcript len = %d, want %d", len(got.Transcript), len(want.Transcript))
	}
	for i := range want.Transcript {
		g, w := got.Transcript[i], want.Transcript[i]
		if g.ID != w.ID || g.Source != w.Source || g.Content != w.Content || g.Kind != w.Kind || !g.Timestamp.Equal(w.Timestamp) {
			t.Errorf("message %d = %+v, want %+v", i, g, w)
		}
		if (g.ExitCode == nil) != (w.ExitCode == nil) || (g.ExitCode != nil && *g.ExitCode != *w.ExitCode) {
			t.Errorf("message %d exit code = %v, want %v", i, g.ExitCode, w.ExitCode)
		}
	}
}

// Run exercises s against the SessionStore contract.
func Run(t *testing.T, s store.SessionStore) {
	ctx := context.Background()

	t.Run("RoundTripInProgress", func(t *testing.T) {
		want := sampleState()
		tok, err := s.Save(ctx, want)
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if string(tok) != want.ID {
			t.Errorf("token = %q, want state ID %q", tok, want.ID)
		}
		got, err := s.Load(ctx, tok)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		assertEqual(t, got, want)
	})

	t.Run("RoundTripTerminated", func(t *testing.T) {
		want := sampleState()
		want.Transcript = append(want.Transcript, domain.NewMessage(domain.Reasoner, "Columns: a, b. TERMINATE", domain.KindText|domain.KindStopSignal))
		want.Turns = 3
		want.Cursor = 1
		want.Terminated = true
		want.StopReason = "sentinel: TERMINATE mentioned"
		tok, err := s.Save(ctx, want)
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := s.Load(ctx, tok)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		assertEqual(t, got, want)
	})

	t.Run("SaveOverwrites", func(t *testing.T) {
		st := sampleState()
		tok, err := s.Save(ctx, st)
		if err != nil {
			t.Fatal(err)
		}
		st.Transcript = st.Transcript[:1]
		st.Turns = 0
		if _, err := s.Save(ctx, st); err != nil {
			t.Fatal(err)
		}
		got, err := s.Load(ctx, tok)
		if err != nil {
			t.Fatal(err)
		}
		assertEqual(t, got, st)
	})

	t.Run("SaveAssignsID", func(t *testing.T) {
		st := &domain.SessionState{}
		tok, err := s.Save(ctx, st)
		if err != nil {
			t.Fatal(err)
		}
		if tok == "" || string(tok) != st.ID {
			t.Errorf("token = %q, state ID = %q", tok, st.ID)
		}
		got, err := s.Load(ctx, tok)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Transcript) != 0 || got.Terminated {
			t.Errorf("empty state loaded as %+v", got)
		}
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		st := sampleState()
		tok, err := s.Save(ctx, st)
		if err != nil {
			t.Fatal(err)
		}
		list, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		var found *store.Summary
		for i := range list {
			if list[i].Token == tok {
				found = &list[i]
			}
		}
		if found == nil {
			t.Fatalf("List missing %s", tok)
		}
		if found.Messages != 3 || found.Turns != 2 || found.Dataset != "sales.csv" {
			t.Errorf("summary = %+v", found)
		}

		if err := s.Delete(ctx, tok); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.Load(ctx, tok); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Load after delete err = %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, tok); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("second Delete err = %v, want ErrNotFound", err)
		}
	})

	t.Run("LoadUnknown", func(t *testing.T) {
		if _, err := s.Load(ctx, "no-such-token"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("SavedCopyIsIsolated", func(t *testing.T) {
		st := sampleState()
		tok, err := s.Save(ctx, st)
		if err != nil {
			t.Fatal(err)
		}
		st.Transcript[0].Content = "mutated"
		got, err := s.Load(ctx, tok)
		if err != nil {
			t.Fatal(err)
		}
		if got.Transcript[0].Content != "What are the columns?" {
			t.Error("saved state shares memory with the caller")
		}
	})
}
