package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Container is the registry's record of one runtime container started by the service.
type Container struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"` // image the run was launched from
	Owner      string            `json:"owner"`
	ScenarioID string            `json:"scenarioId,omitempty"`
	Status     Status            `json:"status"`
	StartedAt  time.Time         `json:"startedAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
	ExitCode   int               `json:"exitCode"`
	Reason     string            `json:"reason,omitempty"`
	Settings   map[string]string `json:"settings,omitempty"`
}

// ExitStatus reports "Failure" for containers that exited with a non-zero code.
func (c *Container) ExitStatus() string {
	if c.Status == StatusExited && c.ExitCode != 0 {
		return "Failure"
	}
	return "Success"
}

// Clone returns a deep copy so callers never share the settings snapshot.
func (c *Container) Clone() *Container {
	if c == nil {
		return nil
	}
	out := *c
	if c.FinishedAt != nil {
		t := *c.FinishedAt
		out.FinishedAt = &t
	}
	if c.Settings != nil {
		out.Settings = make(map[string]string, len(c.Settings))
		for k, v := range c.Settings {
			out.Settings[k] = v
		}
	}
	return &out
}

// ContainerDetails is a record plus the display name of its scenario.
type ContainerDetails struct {
	*Container
	ScenarioName string
}

// StatusChange describes a transition applied through CompareAndSwapStatus.
type StatusChange struct {
	To       Status
	At       time.Time
	ExitCode *int
	Reason   string
}

// Apply moves the record to change.To, rejecting transitions the table forbids.
func (c *Container) Apply(change StatusChange) error {
	if !c.Status.CanTransitionTo(change.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, change.To)
	}
	at := change.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	c.Status = change.To
	c.UpdatedAt = at
	if change.ExitCode != nil {
		c.ExitCode = *change.ExitCode
	}
	if change.Reason != "" {
		c.Reason = change.Reason
	}
	if change.To.IsTerminal() && c.FinishedAt == nil {
		c.FinishedAt = &at
	}
	return nil
}

// StartRequest carries everything needed to launch a run.
type StartRequest struct {
	Image      string
	Owner      string
	ScenarioID string
	Settings   map[string]string
	Inputs     []byte
}

// Validate checks the required fields of a start request.
func (r StartRequest) Validate() error {
	if strings.TrimSpace(r.Image) == "" {
		return fmt.Errorf("%w: image is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(r.Owner) == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidArgument)
	}
	return nil
}

// RunSpec is what the runtime needs to create a container.
type RunSpec struct {
	Image  string
	Owner  string
	Env    []string
	Inputs []byte
	Labels map[string]string
}

// EnvFromSettings turns a settings snapshot into KEY=value pairs, keys upper-cased.
func EnvFromSettings(settings map[string]string) []string {
	env := make([]string, 0, len(settings))
	for k, v := range settings {
		env = append(env, strings.ToUpper(k)+"="+v)
	}
	sort.Strings(env)
	return env
}

// RuntimeState is what the engine reports about a container.
type RuntimeState struct {
	Status     Status
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// RuntimeContainer is an engine-side container carrying the managed label.
type RuntimeContainer struct {
	ID        string
	Owner     string
	CreatedAt time.Time
}

// RunOutput is the decoded output artifact of a run.
type RunOutput struct {
	Data            any    `json:"data"`
	Warning         string `json:"warning,omitempty"`
	ScenarioOutputs any    `json:"scenarioOutputs,omitempty"`
}

// CleanupReport summarises a cleanup pass.
type CleanupReport struct {
	CleanedCount int       `json:"cleanedCount"`
	CutoffTime   time.Time `json:"cutoffTime"`
}
