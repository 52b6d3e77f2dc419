package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/nstogner/datachat/pkg/domain"
	"github.com/nstogner/datachat/pkg/server"
	"github.com/nstogner/datachat/pkg/store"
	"github.com/nstogner/datachat/pkg/transcript"
)

// AskCmd runs one question to completion and prints the conversation.
type AskCmd struct {
	Question string `arg:"" optional:"" help:"Question to ask; omit with --resume to continue an interrupted run"`
	Dataset  string `short:"d" help:"Dataset file name in the data directory"`
	Resume   string `short:"r" help:"Session token to continue instead of starting a new session" placeholder:"TOKEN"`
}

func (c *AskCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := cli.newApp(ctx, os.Stderr, true)
	if err != nil {
		return err
	}
	defer a.Close()

	token := store.Token(c.Resume)
	if token == "" {
		if c.Question == "" {
			return errors.New("a question is required for a new session")
		}
		if c.Dataset == "" {
			return errors.New("--dataset is required for a new session")
		}
		dataset, err := checkDataset(a.cfg.Sandbox.DataDir, c.Dataset)
		if err != nil {
			return err
		}
		token, err = a.runner.Create(ctx, dataset)
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
	} else if c.Dataset != "" {
		return errors.New("--dataset cannot be combined with --resume")
	}

	r := newRenderer(100)
	out := transcript.SinkFunc(func(ctx context.Context, ev transcript.Event) {
		fmt.Print(r.Event(ev))
	})

	var state *domain.SessionState
	if c.Question == "" {
		state, err = a.runner.Resume(ctx, token, out)
	} else {
		state, err = a.runner.Ask(ctx, token, c.Question, out)
	}
	fmt.Printf("\nSession: %s\n", token)
	if err != nil {
		return err
	}
	if !state.Terminated {
		fmt.Printf("Not finished; continue with: datachat ask --resume %s\n", token)
	}
	return nil
}

// ServeCmd runs the HTTP front-end.
type ServeCmd struct {
	Addr string `help:"Listen address (overrides server.addr)"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := cli.newApp(ctx, os.Stderr, true)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Server.Addr
	if c.Addr != "" {
		addr = c.Addr
	}

	srv := server.New(a.runner, a.provider, a.cfg.Sandbox.DataDir)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// SessionsCmd lists saved sessions.
type SessionsCmd struct{}

func (c *SessionsCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, err := cli.newApp(ctx, os.Stderr, false)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.runner.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tDATASET\tMESSAGES\tSTATUS\tMODIFIED")
	for _, s := range sessions {
		status := "open"
		if s.Terminated {
			status = "done: " + s.StopReason
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.Token, s.Dataset, s.Messages, status, s.Modified.Local().Format(time.RFC822))
	}
	return w.Flush()
}

// ModelsCmd lists the models of the configured provider.
type ModelsCmd struct{}

func (c *ModelsCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := cli.newApp(ctx, os.Stderr, true)
	if err != nil {
		return err
	}
	defer a.Close()

	models, err := a.provider.List(ctx)
	if err != nil {
		return fmt.Errorf("listing models: %w", err)
	}
	for _, m := range models {
		if m.Name != "" && m.Name != m.ID {
			fmt.Printf("%s\t%s\n", m.ID, m.Name)
		} else {
			fmt.Println(m.ID)
		}
	}
	return nil
}
