package ports

import (
	"context"
	"errors"
	"time"

	"github.com/melih/lighthouse-runner/internal/core/domain"
)

var (
	// ErrContainerNotFound is returned by a runtime when the engine has no such container.
	ErrContainerNotFound = errors.New("container not found in runtime")
	// ErrFileNotFound is returned by a runtime when the requested artifact does not exist.
	ErrFileNotFound = errors.New("file not found in container")
)

// ContainerRuntime is the only boundary that touches the container engine.
// This interface allows us to switch between Docker and an in-memory engine
// without changing the lifecycle logic.
type ContainerRuntime interface {
	// PullImage makes sure the image is present locally. It may take minutes.
	PullImage(ctx context.Context, image string) error
	// CreateContainer creates the container from an already pulled image and
	// seeds its working directory with the inputs. It returns the engine-native id.
	CreateContainer(ctx context.Context, spec domain.RunSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	InspectContainer(ctx context.Context, id string) (domain.RuntimeState, error)
	// ReadFile reads a path relative to the container working directory.
	ReadFile(ctx context.Context, id string, relPath string) ([]byte, error)
	StopContainer(ctx context.Context, id string) error
	KillContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
	// ListContainers returns every container the engine holds for this
	// service, whether or not a record exists for it.
	ListContainers(ctx context.Context) ([]domain.RuntimeContainer, error)
}

// ContainerStore owns the container records.
type ContainerStore interface {
	// Insert fails with domain.ErrAlreadyExists when the id is taken.
	Insert(ctx context.Context, c *domain.Container) error
	Get(ctx context.Context, id string) (*domain.Container, error)
	// ListByOwner returns the owner's records in creation order.
	ListByOwner(ctx context.Context, owner string) ([]*domain.Container, error)
	ListAll(ctx context.Context) ([]*domain.Container, error)
	// CompareAndSwapStatus applies change only while the stored status equals from.
	// It fails with domain.ErrStatusConflict otherwise and returns the stored record.
	CompareAndSwapStatus(ctx context.Context, id string, from domain.Status, change domain.StatusChange) (*domain.Container, error)
	Delete(ctx context.Context, id string) error
}

// ContainerService is the lifecycle API the transport layer drives.
type ContainerService interface {
	Start(ctx context.Context, req domain.StartRequest) (*domain.Container, error)
	Status(ctx context.Context, id string) (*domain.ContainerDetails, error)
	Logs(ctx context.Context, id, logFile string) ([]byte, error)
	Output(ctx context.Context, id, outputFile string) (*domain.RunOutput, error)
	List(ctx context.Context, owner string) ([]*domain.Container, error)
	SetState(ctx context.Context, id, action, user string) (*domain.Container, error)
	Cleanup(ctx context.Context, maxAge time.Duration) (domain.CleanupReport, error)
}
