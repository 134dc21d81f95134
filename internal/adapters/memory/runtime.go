package memory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/melih/lighthouse-runner/internal/core/domain"
	"github.com/melih/lighthouse-runner/internal/core/ports"
)

type fakeContainer struct {
	spec      domain.RunSpec
	state     domain.RuntimeState
	files     map[string][]byte
	createdAt time.Time
}

// Runtime is an in-memory container engine. It backs `runtime.driver: memory`
// for local development and drives the lifecycle tests deterministically.
type Runtime struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	calls      []string
	images     map[string]bool
	now        func() time.Time

	pullErr   error
	createErr error
	startErr  error
	stopErr   error
	startGate chan struct{}
	readDelay time.Duration
}

func NewRuntime() *Runtime {
	return &Runtime{
		containers: make(map[string]*fakeContainer),
		images:     make(map[string]bool),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Runtime) record(op, id string) {
	r.calls = append(r.calls, op+":"+id)
}

func (r *Runtime) PullImage(_ context.Context, image string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record("pull", image)
	if r.pullErr != nil {
		return r.pullErr
	}
	r.images[image] = true
	return nil
}

func (r *Runtime) CreateContainer(_ context.Context, spec domain.RunSpec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		return "", r.createErr
	}
	if !r.images[spec.Image] {
		return "", fmt.Errorf("no such image: %s", spec.Image)
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	c := &fakeContainer{
		spec:      spec,
		state:     domain.RuntimeState{Status: domain.StatusStarting},
		files:     make(map[string][]byte),
		createdAt: r.now(),
	}
	if len(spec.Inputs) > 0 {
		c.files["input/input.json"] = append([]byte(nil), spec.Inputs...)
	}
	r.containers[id] = c
	r.record("create", id)
	return id, nil
}

func (r *Runtime) StartContainer(ctx context.Context, id string) error {
	r.mu.Lock()
	gate := r.startGate
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.record("start", id)
	if r.startErr != nil {
		return r.startErr
	}
	c, ok := r.containers[id]
	if !ok {
		return ports.ErrContainerNotFound
	}
	now := r.now()
	c.state.Status = domain.StatusRunning
	c.state.StartedAt = now
	c.files["logs/run.log"] = []byte(fmt.Sprintf("%s container %s started from %s\n", now.Format(time.RFC3339), id, c.spec.Image))
	return nil
}

func (r *Runtime) InspectContainer(_ context.Context, id string) (domain.RuntimeState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.containers[id]
	if !ok {
		return domain.RuntimeState{}, ports.ErrContainerNotFound
	}
	return c.state, nil
}

func (r *Runtime) ReadFile(ctx context.Context, id string, relPath string) ([]byte, error) {
	r.mu.Lock()
	delay := r.readDelay
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.containers[id]
	if !ok {
		return nil, ports.ErrContainerNotFound
	}
	data, ok := c.files[path.Clean(relPath)]
	if !ok {
		return nil, ports.ErrFileNotFound
	}
	return append([]byte(nil), data...), nil
}

func (r *Runtime) terminate(id string, exitCode int) error {
	c, ok := r.containers[id]
	if !ok {
		return ports.ErrContainerNotFound
	}
	if c.state.Status == domain.StatusStarting || c.state.Status == domain.StatusRunning {
		c.state.Status = domain.StatusExited
		c.state.ExitCode = exitCode
		c.state.FinishedAt = r.now()
	}
	return nil
}

func (r *Runtime) StopContainer(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record("stop", id)
	if r.stopErr != nil {
		return r.stopErr
	}
	return r.terminate(id, 0)
}

func (r *Runtime) KillContainer(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record("kill", id)
	return r.terminate(id, 137)
}

func (r *Runtime) RemoveContainer(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record("remove", id)
	if _, ok := r.containers[id]; !ok {
		return ports.ErrContainerNotFound
	}
	delete(r.containers, id)
	return nil
}

// ListContainers returns every container in creation order.
func (r *Runtime) ListContainers(_ context.Context) ([]domain.RuntimeContainer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.RuntimeContainer, 0, len(r.containers))
	for id, c := range r.containers {
		out = append(out, domain.RuntimeContainer{ID: id, Owner: c.spec.Owner, CreatedAt: c.createdAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// FailPull makes every following PullImage call fail with err (nil resets).
func (r *Runtime) FailPull(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pullErr = err
}

// SetClock replaces the engine clock used for creation and state timestamps.
func (r *Runtime) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// FailCreate makes every following CreateContainer call fail with err (nil resets).
func (r *Runtime) FailCreate(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createErr = err
}

// FailStart makes every following StartContainer call fail with err (nil resets).
func (r *Runtime) FailStart(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startErr = err
}

// FailStop makes every following StopContainer call fail with err (nil resets).
func (r *Runtime) FailStop(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopErr = err
}

// HoldStart blocks StartContainer until the returned release func is called.
func (r *Runtime) HoldStart() (release func()) {
	gate := make(chan struct{})
	r.mu.Lock()
	r.startGate = gate
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.startGate = nil
			r.mu.Unlock()
			close(gate)
		})
	}
}

// SetReadDelay delays every ReadFile call.
func (r *Runtime) SetReadDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readDelay = d
}

// Exit simulates the container process exiting on its own.
func (r *Runtime) Exit(id string, exitCode int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminate(id, exitCode)
}

// Crash simulates the engine reporting a dead container.
func (r *Runtime) Crash(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.containers[id]
	if !ok {
		return ports.ErrContainerNotFound
	}
	c.state.Status = domain.StatusError
	return nil
}

// Forget drops a container without going through the lifecycle, as if removed out of band.
func (r *Runtime) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.containers, id)
}

// WriteFile places an artifact in the container working directory.
func (r *Runtime) WriteFile(id, relPath string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.containers[id]
	if !ok {
		return ports.ErrContainerNotFound
	}
	c.files[path.Clean(relPath)] = append([]byte(nil), data...)
	return nil
}

// Spec returns the RunSpec a container was created with.
func (r *Runtime) Spec(id string) (domain.RunSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.containers[id]
	if !ok {
		return domain.RunSpec{}, false
	}
	return c.spec, true
}

// Calls returns the engine operations seen so far as "op:id".
func (r *Runtime) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}
