package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/google/uuid"
	"github.com/melih/lighthouse-runner/internal/core/domain"
	"github.com/melih/lighthouse-runner/internal/core/ports"
	"github.com/melih/lighthouse-runner/internal/logging"
	"github.com/sirupsen/logrus"
)

const (
	LabelManaged = "io.lighthouse.managed"
	LabelOwner   = "io.lighthouse.owner"
)

// Options configures the Docker adapter.
type Options struct {
	Host        string // empty means use DOCKER_HOST / defaults
	WorkDir     string // working directory inside every run, e.g. /workmate
	NetworkMode string
	StopTimeout time.Duration
}

// Adapter implements ports.ContainerRuntime using Docker SDK
type Adapter struct {
	cli  *client.Client
	opts Options
	log  *logrus.Entry
}

// NewAdapter creates a new Docker adapter instance
func NewAdapter(opts Options) (*Adapter, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}
	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if opts.WorkDir == "" {
		opts.WorkDir = "/workmate"
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = 10 * time.Second
	}
	return &Adapter{cli: cli, opts: opts, log: logging.Component("docker")}, nil
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

var nonNameChars = regexp.MustCompile(`[^a-zA-Z0-9-]`)

// containerName derives a readable, unique engine name from the image.
func containerName(img string) string {
	base := nonNameChars.ReplaceAllString(img, "")
	if base == "" {
		base = "run"
	}
	return base + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// PullImage pulls the image and waits for the pull to finish.
func (a *Adapter) PullImage(ctx context.Context, img string) error {
	reader, err := a.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	defer reader.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	return nil
}

// CreateContainer creates the container from a pulled image and copies the
// working directory skeleton with the inputs into it.
func (a *Adapter) CreateContainer(ctx context.Context, spec domain.RunSpec) (string, error) {
	labels := map[string]string{LabelManaged: "true", LabelOwner: spec.Owner}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	// 1. Create Container
	resp, err := a.cli.ContainerCreate(ctx, &container.Config{
		Image:      spec.Image,
		Env:        spec.Env,
		Tty:        true,
		WorkingDir: a.opts.WorkDir,
		Labels:     labels,
	}, &container.HostConfig{
		NetworkMode: container.NetworkMode(a.opts.NetworkMode),
	}, nil, nil, containerName(spec.Image))
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	// 2. Seed the working directory
	if err := a.seedWorkDir(ctx, resp.ID, spec.Inputs); err != nil {
		if rmErr := a.cli.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			a.log.WithError(rmErr).WithField("container_id", resp.ID).Warn("failed to remove half-created container")
		}
		return "", err
	}

	return resp.ID, nil
}

// seedWorkDir lays out logs/, outputs/ and input/input.json in a temp dir
// and copies it into the container as a tar stream.
func (a *Adapter) seedWorkDir(ctx context.Context, id string, inputs []byte) error {
	tmpDir, err := os.MkdirTemp("", "lighthouse-inputs-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	root := filepath.Join(tmpDir, strings.TrimPrefix(path.Clean(a.opts.WorkDir), "/"))
	for _, dir := range []string{"logs", "outputs", "input"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o777); err != nil {
			return fmt.Errorf("failed to prepare %s: %w", dir, err)
		}
	}
	if len(inputs) > 0 {
		if err := os.WriteFile(filepath.Join(root, "input", "input.json"), inputs, 0o666); err != nil {
			return fmt.Errorf("failed to write inputs: %w", err)
		}
	}

	tarball, err := archive.TarWithOptions(tmpDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to create input archive: %w", err)
	}
	defer tarball.Close()

	if err := a.cli.CopyToContainer(ctx, id, "/", tarball, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("failed to copy inputs into container: %w", err)
	}
	return nil
}

func (a *Adapter) wrap(op, id string, err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%s %s: %w", op, id, ports.ErrContainerNotFound)
	}
	return fmt.Errorf("failed to %s container %s: %w", op, id, err)
}

// StartContainer starts a created container
func (a *Adapter) StartContainer(ctx context.Context, id string) error {
	return a.wrap("start", id, a.cli.ContainerStart(ctx, id, container.StartOptions{}))
}

// InspectContainer maps the engine state onto the record lifecycle.
func (a *Adapter) InspectContainer(ctx context.Context, id string) (domain.RuntimeState, error) {
	info, err := a.cli.ContainerInspect(ctx, id)
	if err != nil {
		return domain.RuntimeState{}, a.wrap("inspect", id, err)
	}
	if info.State == nil {
		return domain.RuntimeState{}, fmt.Errorf("inspect %s: engine returned no state", id)
	}

	state := domain.RuntimeState{
		Status:   mapState(string(info.State.Status)),
		ExitCode: info.State.ExitCode,
	}
	state.StartedAt, _ = time.Parse(time.RFC3339Nano, info.State.StartedAt)
	state.FinishedAt, _ = time.Parse(time.RFC3339Nano, info.State.FinishedAt)
	return state, nil
}

func mapState(s string) domain.Status {
	switch s {
	case "created":
		return domain.StatusStarting
	case "running", "paused", "restarting":
		return domain.StatusRunning
	case "exited":
		return domain.StatusExited
	case "removing":
		return domain.StatusRemoved
	default: // dead
		return domain.StatusError
	}
}

// ReadFile copies one file out of the working directory. It works on stopped
// containers too, which is when most logs are read.
func (a *Adapter) ReadFile(ctx context.Context, id string, relPath string) ([]byte, error) {
	src := path.Join(a.opts.WorkDir, relPath)
	rc, _, err := a.cli.CopyFromContainer(ctx, id, src)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("%s in %s: %w", src, id, ports.ErrFileNotFound)
		}
		return nil, fmt.Errorf("failed to read %s from %s: %w", src, id, err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s in %s: %w", src, id, ports.ErrFileNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive for %s: %w", src, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", src, err)
		}
		return buf.Bytes(), nil
	}
}

// StopContainer stops a running container
func (a *Adapter) StopContainer(ctx context.Context, id string) error {
	timeout := int(a.opts.StopTimeout.Seconds())
	ctx, cancel := context.WithTimeout(ctx, a.opts.StopTimeout+5*time.Second)
	defer cancel()
	return a.wrap("stop", id, a.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}))
}

// KillContainer sends SIGKILL.
func (a *Adapter) KillContainer(ctx context.Context, id string) error {
	return a.wrap("kill", id, ignoreNotRunning(a.cli.ContainerKill(ctx, id, "SIGKILL")))
}

// ignoreNotRunning drops the conflict the engine reports when killing a
// container that has already exited.
func ignoreNotRunning(err error) error {
	if cerrdefs.IsConflict(err) {
		return nil
	}
	return err
}

// RemoveContainer force-removes the container and its anonymous volumes.
func (a *Adapter) RemoveContainer(ctx context.Context, id string) error {
	return a.wrap("remove", id, a.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}))
}

// ListContainers lists every container carrying the managed label, running or not.
func (a *Adapter) ListContainers(ctx context.Context) ([]domain.RuntimeContainer, error) {
	summaries, err := a.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: managedFilter(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list managed containers: %w", err)
	}
	out := make([]domain.RuntimeContainer, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, domain.RuntimeContainer{
			ID:        s.ID,
			Owner:     s.Labels[LabelOwner],
			CreatedAt: time.Unix(s.Created, 0).UTC(),
		})
	}
	return out, nil
}

func managedFilter() filters.Args {
	return filters.NewArgs(filters.Arg("label", LabelManaged+"=true"))
}
