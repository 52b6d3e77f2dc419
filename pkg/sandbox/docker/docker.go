package docker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/nstogner/datachat/pkg/sandbox"
)

const (
	// LabelManager is the label used to identify containers managed by this system.
	LabelManager = "manager"
	// LabelManagerValue is the value of the manager label.
	LabelManagerValue = "datachat"
	// LabelSessionID is the label used to identify which session a container belongs to.
	LabelSessionID = "session-id"
	// DefaultImage ships python with pandas preinstalled.
	DefaultImage = "amancevice/pandas:2.2.2"
	// DataMount is where the host dataset directory appears inside the container.
	DataMount = "/mnt/data"
	// WorkMount is the container working directory, shared with the host work dir.
	WorkMount = "/workspace"
	// stopTimeout is how long a container gets to exit before it is killed.
	stopTimeout = 10
	// killMargin is added to RunTimeout for the API call so the in-container
	// timeout fires first and the exit code is still collected.
	killMargin = 5 * time.Second
	// exitKilled is the exit code of a process killed with SIGKILL.
	exitKilled = 137
)

// Options configures a Docker sandbox for one session.
type Options struct {
	// SessionID names and labels the container.
	SessionID string
	// Image is the sandbox image. Defaults to DefaultImage.
	Image string
	// DataDir is the host dataset directory, mounted read-write at DataMount.
	DataDir string
	// WorkDir is the host directory mounted at WorkMount. Code files and
	// generated artifacts land here.
	WorkDir string
	// RunTimeout bounds a single Run call. Zero means no limit.
	RunTimeout time.Duration
}

// Backend implements sandbox.Backend with one Docker container per session.
// Code is written to the shared work directory and executed with docker exec.
type Backend struct {
	client      *client.Client
	opts        Options
	containerID string
}

// Verify interface compliance.
var _ sandbox.Backend = (*Backend)(nil)

// New creates a Docker sandbox backend. The container is not created until Start.
func New(opts Options) (*Backend, error) {
	if opts.Image == "" {
		opts.Image = DefaultImage
	}
	if opts.WorkDir == "" {
		return nil, fmt.Errorf("work dir is required")
	}
	for _, dir := range []*string{&opts.DataDir, &opts.WorkDir} {
		if *dir == "" {
			continue
		}
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", *dir, err)
		}
		if err := os.MkdirAll(abs, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", abs, err)
		}
		*dir = abs
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Backend{client: cli, opts: opts}, nil
}

// Close releases the Docker client resources.
func (b *Backend) Close() error {
	return b.client.Close()
}

// Start pulls the image if needed, removes any container a previous process
// left behind for this session, then creates and starts the container.
func (b *Backend) Start(ctx context.Context) error {
	if err := b.ensureImage(ctx); err != nil {
		return err
	}
	if err := b.removeStale(ctx); err != nil {
		return err
	}

	cfg := &container.Config{
		Image:      b.opts.Image,
		Entrypoint: []string{"/bin/sh", "-c"},
		Cmd:        []string{"sleep infinity"},
		WorkingDir: WorkMount,
		Labels: map[string]string{
			LabelManager:   LabelManagerValue,
			LabelSessionID: b.opts.SessionID,
		},
	}
	hostCfg := &container.HostConfig{
		Binds: binds(b.opts),
	}

	resp, err := b.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName(b.opts.SessionID))
	if err != nil {
		return fmt.Errorf("creating container: %w", err)
	}
	b.containerID = resp.ID

	if err := b.client.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		b.client.ContainerRemove(context.WithoutCancel(ctx), resp.ID, types.ContainerRemoveOptions{Force: true})
		b.containerID = ""
		return fmt.Errorf("starting container: %w", err)
	}
	slog.Info("Sandbox started", "sessionID", b.opts.SessionID, "container", resp.ID[:12], "image", b.opts.Image)
	return nil
}

// Stop stops and removes the container. It does nothing if Start never
// created one.
func (b *Backend) Stop(ctx context.Context) error {
	if b.containerID == "" {
		return nil
	}
	id := b.containerID
	b.containerID = ""

	timeout := stopTimeout
	if err := b.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		slog.Warn("Failed to stop container", "id", id, "error", err)
	}
	if err := b.client.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("removing container: %w", err)
	}
	slog.Info("Sandbox stopped", "sessionID", b.opts.SessionID)
	return nil
}

// Run writes code to the work directory and executes it inside the container.
func (b *Backend) Run(ctx context.Context, code, language string) (*sandbox.Result, error) {
	if b.containerID == "" {
		return nil, fmt.Errorf("container not created")
	}

	command, ext, ok := sandbox.Interpreter(language)
	if !ok {
		return &sandbox.Result{
			Stderr:   fmt.Sprintf("unknown language %q", language),
			ExitCode: 1,
		}, nil
	}

	if b.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.RunTimeout+killMargin)
		defer cancel()
	}

	filename := codeFilename(code, ext)
	if err := os.WriteFile(filepath.Join(b.opts.WorkDir, filename), []byte(code), 0644); err != nil {
		return nil, fmt.Errorf("writing code file: %w", err)
	}

	exec, err := b.client.ContainerExecCreate(ctx, b.containerID, types.ExecConfig{
		Cmd:          execCmd(command, filename, b.opts.RunTimeout),
		WorkingDir:   WorkMount,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating exec: %w", err)
	}

	attach, err := b.client.ContainerExecAttach(ctx, exec.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, fmt.Errorf("attaching exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copied <- err
	}()

	select {
	case <-ctx.Done():
		attach.Close()
		return nil, fmt.Errorf("running code: %w", ctx.Err())
	case err := <-copied:
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading exec output: %w", err)
		}
	}

	inspect, err := b.client.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("inspecting exec: %w", err)
	}

	if inspect.ExitCode == exitKilled && b.opts.RunTimeout > 0 {
		fmt.Fprintf(&stderr, "\nexecution killed after %s\n", b.opts.RunTimeout)
	}

	slog.Debug("Sandbox run finished", "sessionID", b.opts.SessionID, "file", filename, "exitCode", inspect.ExitCode)
	return &sandbox.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// --- internal helpers ---

func (b *Backend) ensureImage(ctx context.Context) error {
	_, _, err := b.client.ImageInspectWithRaw(ctx, b.opts.Image)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspecting image %s: %w", b.opts.Image, err)
	}

	slog.Info("Pulling sandbox image", "image", b.opts.Image)
	rc, err := b.client.ImagePull(ctx, b.opts.Image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", b.opts.Image, err)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pulling image %s: %w", b.opts.Image, err)
	}
	return nil
}

// removeStale force-removes containers labelled with this session, such as
// one left running by a process that crashed before Stop.
func (b *Backend) removeStale(ctx context.Context) error {
	stale, err := b.client.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: sessionFilter(b.opts.SessionID),
	})
	if err != nil {
		return fmt.Errorf("listing containers: %w", err)
	}
	for _, c := range stale {
		slog.Warn("Removing stale sandbox container", "sessionID", b.opts.SessionID, "id", c.ID, "state", c.State)
		if err := b.client.ContainerRemove(ctx, c.ID, types.ContainerRemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("removing stale container %s: %w", c.ID, err)
		}
	}
	return nil
}

func sessionFilter(sessionID string) filters.Args {
	return filters.NewArgs(
		filters.Arg("label", LabelManager+"="+LabelManagerValue),
		filters.Arg("label", LabelSessionID+"="+sessionID),
	)
}

// execCmd builds the exec command line. With a timeout the process runs
// under coreutils timeout so it is killed inside the container, not just
// detached from.
func execCmd(command, filename string, timeout time.Duration) []string {
	if timeout <= 0 {
		return []string{command, filename}
	}
	secs := int((timeout + time.Second - 1) / time.Second)
	return []string{"timeout", "-s", "KILL", strconv.Itoa(secs), command, filename}
}

func containerName(sessionID string) string {
	return "datachat-sandbox-" + sessionID
}

func binds(opts Options) []string {
	out := []string{opts.WorkDir + ":" + WorkMount + ":rw"}
	if opts.DataDir != "" {
		out = append(out, opts.DataDir+":"+DataMount+":rw")
	}
	return out
}

// codeFilename derives a stable file name from the code's content.
func codeFilename(code, ext string) string {
	sum := sha256.Sum256([]byte(code))
	return "tmp_code_" + hex.EncodeToString(sum[:8]) + "." + ext
}
