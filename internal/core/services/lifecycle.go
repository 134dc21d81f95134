package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/melih/lighthouse-runner/internal/core/domain"
	"github.com/melih/lighthouse-runner/internal/core/ports"
	"github.com/melih/lighthouse-runner/internal/logging"
)

const (
	DefaultLogFile    = "run.log"
	DefaultOutputFile = "output.json"

	failedIDPrefix = "failed-"
	casAttempts    = 4
)

var artifactNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

var _ ports.ContainerService = (*ContainerManager)(nil)

// ManagerConfig tunes the lifecycle manager.
type ManagerConfig struct {
	// LogTimeout bounds every log or output read.
	LogTimeout time.Duration
	// RefreshConcurrency bounds how many records List refreshes in parallel.
	RefreshConcurrency int
}

// ContainerManager drives container records through the lifecycle state
// machine. The store is the source of truth, the runtime is only told what to do.
type ContainerManager struct {
	runtime   ports.ContainerRuntime
	store     ports.ContainerStore
	scenarios ports.ScenarioRepository
	cfg       ManagerConfig
	log       *logrus.Entry
	now       func() time.Time
}

// NewContainerManager wires a manager. scenarios may be nil.
func NewContainerManager(runtime ports.ContainerRuntime, store ports.ContainerStore, scenarios ports.ScenarioRepository, cfg ManagerConfig) *ContainerManager {
	if cfg.LogTimeout <= 0 {
		cfg.LogTimeout = 15 * time.Second
	}
	if cfg.RefreshConcurrency <= 0 {
		cfg.RefreshConcurrency = 8
	}
	return &ContainerManager{
		runtime:   runtime,
		store:     store,
		scenarios: scenarios,
		cfg:       cfg,
		log:       logging.Component("lifecycle"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func isFailedID(id string) bool {
	return strings.HasPrefix(id, failedIDPrefix)
}

// Start pulls the image, then creates and starts a container for req.Owner.
// The record is visible in starting as soon as the runtime has assigned an
// id, and in error if the image could not be pulled or the container created.
func (m *ContainerManager) Start(ctx context.Context, req domain.StartRequest) (*domain.Container, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	// a client that hangs up must not leave a half-started container behind
	ctx = context.WithoutCancel(ctx)

	settings := make(map[string]string, len(req.Settings))
	for k, v := range req.Settings {
		settings[k] = v
	}
	labels := map[string]string{}
	if req.ScenarioID != "" {
		labels["io.lighthouse.scenario"] = req.ScenarioID
	}

	now := m.now()
	record := &domain.Container{
		Name:       req.Image,
		Owner:      req.Owner,
		ScenarioID: req.ScenarioID,
		Status:     domain.StatusStarting,
		StartedAt:  now,
		UpdatedAt:  now,
		Settings:   settings,
	}
	log := m.log.WithFields(logrus.Fields{"owner": req.Owner, "image": req.Image})

	if err := m.runtime.PullImage(ctx, req.Image); err != nil {
		m.recordFailedStart(ctx, record, err, log)
		return nil, fmt.Errorf("%w: pull image %s: %v", domain.ErrRuntimeUnavailable, req.Image, err)
	}
	id, err := m.runtime.CreateContainer(ctx, domain.RunSpec{
		Image:  req.Image,
		Owner:  req.Owner,
		Env:    domain.EnvFromSettings(settings),
		Inputs: req.Inputs,
		Labels: labels,
	})
	if err != nil {
		m.recordFailedStart(ctx, record, err, log)
		return nil, fmt.Errorf("%w: create container from %s: %v", domain.ErrRuntimeUnavailable, req.Image, err)
	}

	record.ID = id
	log = log.WithField("container_id", id)
	if err := m.store.Insert(ctx, record); err != nil {
		if rmErr := m.runtime.RemoveContainer(ctx, id); rmErr != nil {
			log.WithError(rmErr).Warn("failed to remove unregistered container")
		}
		return nil, fmt.Errorf("failed to register container %s: %w", id, err)
	}
	log.Debug("container created")

	if startErr := m.runtime.StartContainer(ctx, id); startErr != nil {
		failed, err := m.store.CompareAndSwapStatus(ctx, id, domain.StatusStarting, domain.StatusChange{
			To:     domain.StatusError,
			At:     m.now(),
			Reason: startErr.Error(),
		})
		if err != nil && !errors.Is(err, domain.ErrStatusConflict) {
			log.WithError(err).Error("failed to record start failure")
		}
		if failed != nil && failed.Status == domain.StatusStopped {
			// stopped while starting; the start failure is moot
			return failed, nil
		}
		log.WithError(startErr).Warn("runtime could not start container")
		return nil, fmt.Errorf("%w: start container %s: %v", domain.ErrRuntimeUnavailable, id, startErr)
	}

	running, err := m.store.CompareAndSwapStatus(ctx, id, domain.StatusStarting, domain.StatusChange{
		To: domain.StatusRunning,
		At: m.now(),
	})
	switch {
	case err == nil:
		log.Info("container started")
		return running, nil
	case errors.Is(err, domain.ErrStatusConflict) && running != nil:
		m.settleAfterStart(ctx, running, log)
		return running, nil
	default:
		return nil, fmt.Errorf("failed to mark container %s running: %w", id, err)
	}
}

// recordFailedStart keeps a start the runtime never got to run visible to
// the owner as an error record under a synthetic id.
func (m *ContainerManager) recordFailedStart(ctx context.Context, record *domain.Container, cause error, log *logrus.Entry) {
	now := m.now()
	record.ID = failedIDPrefix + uuid.NewString()
	record.Status = domain.StatusError
	record.Reason = cause.Error()
	record.UpdatedAt = now
	record.FinishedAt = &now
	if err := m.store.Insert(ctx, record); err != nil {
		log.WithError(err).Error("failed to record failed start")
	}
	log.WithError(cause).WithField("container_id", record.ID).Warn("runtime could not create container")
}

// settleAfterStart re-applies a stop or remove that landed while the
// container was still starting, since the runtime may have started it since.
func (m *ContainerManager) settleAfterStart(ctx context.Context, current *domain.Container, log *logrus.Entry) {
	var err error
	switch current.Status {
	case domain.StatusStopped:
		err = m.runtime.StopContainer(ctx, current.ID)
	case domain.StatusRemoved:
		err = m.runtime.RemoveContainer(ctx, current.ID)
	default:
		return
	}
	if err != nil && !errors.Is(err, ports.ErrContainerNotFound) {
		log.WithError(err).Warn("failed to re-apply state requested during start")
		return
	}
	log.WithField("status", current.Status.String()).Info("state requested during start applied")
}

// Status returns the record for id, refreshed from the runtime while it is
// not terminal. Any caller that knows the id may read it.
func (m *ContainerManager) Status(ctx context.Context, id string) (*domain.ContainerDetails, error) {
	rec, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec = m.refresh(ctx, rec)
	return &domain.ContainerDetails{Container: rec, ScenarioName: m.scenarioName(rec.ScenarioID)}, nil
}

func (m *ContainerManager) get(ctx context.Context, id string) (*domain.Container, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: container id is required", domain.ErrInvalidArgument)
	}
	return m.store.Get(ctx, id)
}

func (m *ContainerManager) scenarioName(scenarioID string) string {
	if scenarioID == "" || m.scenarios == nil {
		return ""
	}
	sc, err := m.scenarios.Get(scenarioID)
	if err != nil {
		return ""
	}
	return sc.Name
}

// refresh folds the runtime's view into a non-terminal record. Runtime
// errors leave the record as stored.
func (m *ContainerManager) refresh(ctx context.Context, rec *domain.Container) *domain.Container {
	if rec.Status.IsTerminal() || isFailedID(rec.ID) {
		return rec
	}
	log := m.log.WithField("container_id", rec.ID)

	state, err := m.runtime.InspectContainer(ctx, rec.ID)
	var change domain.StatusChange
	switch {
	case errors.Is(err, ports.ErrContainerNotFound):
		change = domain.StatusChange{To: domain.StatusError, At: m.now(), Reason: "container no longer exists in runtime"}
	case err != nil:
		log.WithError(err).Warn("failed to inspect container")
		return rec
	case state.Status == rec.Status || !rec.Status.CanTransitionTo(state.Status):
		return rec
	default:
		exitCode := state.ExitCode
		at := state.FinishedAt
		if at.IsZero() {
			at = m.now()
		}
		change = domain.StatusChange{To: state.Status, At: at, ExitCode: &exitCode}
		if state.Status == domain.StatusError {
			change.Reason = "runtime reported container as dead"
		}
	}

	updated, err := m.store.CompareAndSwapStatus(ctx, rec.ID, rec.Status, change)
	switch {
	case err == nil:
		log.WithField("status", updated.Status.String()).Debug("container status refreshed")
		return updated
	case errors.Is(err, domain.ErrStatusConflict) && updated != nil:
		return updated
	default:
		log.WithError(err).Warn("failed to store refreshed status")
		return rec
	}
}

// List returns owner's containers in creation order, each refreshed from the runtime.
func (m *ContainerManager) List(ctx context.Context, owner string) ([]*domain.Container, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("%w: username is required", domain.ErrInvalidArgument)
	}
	records, err := m.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if err := m.refreshAll(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

// refreshAll refreshes records in place.
func (m *ContainerManager) refreshAll(ctx context.Context, records []*domain.Container) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.RefreshConcurrency)
	for i, rec := range records {
		if rec.Status.IsTerminal() {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i] = m.refresh(gctx, rec)
			return nil
		})
	}
	return g.Wait()
}

// SetState applies action on behalf of user. Ownership is checked before the
// runtime is touched. Acting on a container that already reached the
// action's outcome is a success that reports the current status.
func (m *ContainerManager) SetState(ctx context.Context, id, action, user string) (*domain.Container, error) {
	act, err := domain.ParseAction(action)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(user) == "" {
		return nil, fmt.Errorf("%w: username is required", domain.ErrInvalidArgument)
	}
	rec, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Owner != user {
		return nil, fmt.Errorf("%w: container %s belongs to another user", domain.ErrForbidden, id)
	}

	log := m.log.WithFields(logrus.Fields{"container_id": id, "owner": user, "action": string(act)})
	target := act.Target()

	for attempt := 0; ; attempt++ {
		if rec.Status == target || rec.Status == domain.StatusRemoved || (target != domain.StatusRemoved && rec.Status.IsTerminal()) {
			log.WithField("status", rec.Status.String()).Debug("nothing to do")
			return rec, nil
		}
		if attempt == casAttempts {
			return nil, fmt.Errorf("%w: container %s", domain.ErrStatusConflict, id)
		}
		updated, err := m.store.CompareAndSwapStatus(ctx, id, rec.Status, domain.StatusChange{
			To:     target,
			At:     m.now(),
			Reason: "requested by " + user,
		})
		if errors.Is(err, domain.ErrStatusConflict) && updated != nil {
			rec = updated
			continue
		}
		if err != nil {
			return nil, err
		}
		rec = updated
		break
	}

	if err := m.applyAction(ctx, act, id); err != nil {
		log.WithError(err).Error("runtime failed to apply action")
		return nil, fmt.Errorf("%w: %s container %s: %v", domain.ErrRuntimeUnavailable, act, id, err)
	}
	log.Info("container state changed")
	return rec, nil
}

func (m *ContainerManager) applyAction(ctx context.Context, act domain.Action, id string) error {
	if isFailedID(id) {
		return nil
	}
	var err error
	switch act {
	case domain.ActionStop:
		err = m.runtime.StopContainer(ctx, id)
	case domain.ActionKill:
		err = m.runtime.KillContainer(ctx, id)
	case domain.ActionRemove:
		err = m.runtime.RemoveContainer(ctx, id)
	}
	if errors.Is(err, ports.ErrContainerNotFound) {
		return nil
	}
	return err
}

func validateArtifactName(name string) error {
	if name == "." || name == ".." || strings.Contains(name, "..") || !artifactNamePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid file name %q", domain.ErrInvalidIdentifier, name)
	}
	return nil
}

// readArtifact reads dir/name from the container under the log timeout.
func (m *ContainerManager) readArtifact(ctx context.Context, id, dir, name, fallback string) (*domain.Container, []byte, error) {
	if name == "" {
		name = fallback
	}
	if err := validateArtifactName(name); err != nil {
		return nil, nil, err
	}
	rec, err := m.get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if isFailedID(rec.ID) {
		return nil, nil, fmt.Errorf("%w: container %s never started", domain.ErrLogUnavailable, id)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.LogTimeout)
	defer cancel()

	data, err := m.runtime.ReadFile(ctx, id, dir+"/"+name)
	switch {
	case err == nil:
		return rec, data, nil
	case errors.Is(err, ports.ErrFileNotFound):
		return nil, nil, fmt.Errorf("%w: %s/%s has not been written yet", domain.ErrLogUnavailable, dir, name)
	case errors.Is(err, ports.ErrContainerNotFound):
		return nil, nil, fmt.Errorf("%w: container %s no longer exists in runtime", domain.ErrLogUnavailable, id)
	case errors.Is(err, context.DeadlineExceeded):
		return nil, nil, fmt.Errorf("%w after %s reading %s/%s", domain.ErrLogTimeout, m.cfg.LogTimeout, dir, name)
	default:
		return nil, nil, fmt.Errorf("%w: read %s/%s: %v", domain.ErrRuntimeUnavailable, dir, name, err)
	}
}

// Logs returns logs/<logFile> from the container working directory.
func (m *ContainerManager) Logs(ctx context.Context, id, logFile string) ([]byte, error) {
	_, data, err := m.readArtifact(ctx, id, "logs", logFile, DefaultLogFile)
	return data, err
}

// Output returns outputs/<outputFile>, decoded as JSON when it parses.
func (m *ContainerManager) Output(ctx context.Context, id, outputFile string) (*domain.RunOutput, error) {
	rec, data, err := m.readArtifact(ctx, id, "outputs", outputFile, DefaultOutputFile)
	if err != nil {
		return nil, err
	}

	out := &domain.RunOutput{}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		out.Data = string(data)
		out.Warning = "output is not valid JSON, returned as text"
	} else {
		out.Data = decoded
	}
	if rec.ScenarioID != "" && m.scenarios != nil {
		if sc, err := m.scenarios.Get(rec.ScenarioID); err == nil {
			out.ScenarioOutputs = sc.Outputs
		}
	}
	return out, nil
}
