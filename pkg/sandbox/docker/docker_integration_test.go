package docker_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nstogner/datachat/pkg/sandbox"
	"github.com/nstogner/datachat/pkg/sandbox/docker"
)

func TestIntegration_DockerBackend_Run(t *testing.T) {
	// Check if DOCKER_HOST is set. If not, we skip.
	if os.Getenv("DOCKER_HOST") == "" {
		t.Skip("Skipping integration test: DOCKER_HOST not set")
	}

	dataDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dataDir, "data.csv"), []byte("a,b\n1,2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	b, err := docker.New(docker.Options{
		SessionID: uuid.New().String(),
		DataDir:   dataDir,
		WorkDir:   t.TempDir(),
	})
	if err != nil {
		t.Skipf("Skipping test: Docker not available or failed to init: %v", err)
	}
	defer b.Close()

	lease := sandbox.NewLease(b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := lease.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		lease.Stop(cleanupCtx)
	}()

	res, err := lease.Run(ctx, "import pandas as pd\nprint(list(pd.read_csv('/mnt/data/data.csv').columns))", "python")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 || !strings.Contains(res.Stdout, "'a', 'b'") {
		t.Errorf("unexpected result: %+v", res)
	}

	res, err = lease.Run(ctx, "print(", "python")
	if err != nil {
		t.Fatalf("Run with syntax error: %v", err)
	}
	if res.ExitCode == 0 || !strings.Contains(res.Stderr, "SyntaxError") {
		t.Errorf("expected SyntaxError, got %+v", res)
	}
}

func TestIntegration_DockerBackend_StartReplacesStaleContainer(t *testing.T) {
	if os.Getenv("DOCKER_HOST") == "" {
		t.Skip("Skipping integration test: DOCKER_HOST not set")
	}

	opts := docker.Options{
		SessionID: uuid.New().String(),
		WorkDir:   t.TempDir(),
	}
	crashed, err := docker.New(opts)
	if err != nil {
		t.Skipf("Skipping test: Docker not available or failed to init: %v", err)
	}
	defer crashed.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// The first backend never stops, like a process that died mid-session.
	if err := crashed.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	b, err := docker.New(opts)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start with a leftover container: %v", err)
	}
	defer b.Stop(context.Background())

	res, err := b.Run(ctx, "print('fresh')", "python")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 || !strings.Contains(res.Stdout, "fresh") {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestIntegration_DockerBackend_RunTimeoutKillsProcess(t *testing.T) {
	if os.Getenv("DOCKER_HOST") == "" {
		t.Skip("Skipping integration test: DOCKER_HOST not set")
	}

	workDir := t.TempDir()
	b, err := docker.New(docker.Options{
		SessionID:  uuid.New().String(),
		WorkDir:    workDir,
		RunTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Skipf("Skipping test: Docker not available or failed to init: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop(context.Background())

	code := "import time\ntime.sleep(5)\nopen('late.txt', 'w').write('x')"
	res, err := b.Run(ctx, code, "python")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 137 || !strings.Contains(res.Stderr, "killed") {
		t.Errorf("unexpected result: %+v", res)
	}

	time.Sleep(5 * time.Second)
	if _, err := os.Stat(filepath.Join(workDir, "late.txt")); err == nil {
		t.Error("timed-out process kept running and wrote late.txt")
	}
}
