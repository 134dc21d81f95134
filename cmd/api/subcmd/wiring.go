package subcmd

import (
	"context"
	"fmt"

	"github.com/melih/lighthouse-runner/internal/adapters/docker"
	"github.com/melih/lighthouse-runner/internal/adapters/memory"
	"github.com/melih/lighthouse-runner/internal/adapters/redis"
	"github.com/melih/lighthouse-runner/internal/config"
	"github.com/melih/lighthouse-runner/internal/core/ports"
)

// components holds the adapters selected by the configuration.
type components struct {
	runtime  ports.ContainerRuntime
	store    ports.ContainerStore
	settings ports.SettingsStore
	closers  []func() error
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i]()
	}
}

func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	comps := &components{}

	switch cfg.Runtime.Driver {
	case "memory":
		comps.runtime = memory.NewRuntime()
	default:
		adapter, err := docker.NewAdapter(docker.Options{
			Host:        cfg.Runtime.DockerHost,
			WorkDir:     cfg.Runtime.WorkDir,
			NetworkMode: cfg.Runtime.NetworkMode,
			StopTimeout: cfg.Runtime.StopTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Docker adapter: %w", err)
		}
		comps.runtime = adapter
		comps.closers = append(comps.closers, adapter.Close)
	}

	switch cfg.Store.Driver {
	case "redis":
		client, err := redis.NewClient(ctx, redis.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			comps.Close()
			return nil, err
		}
		comps.store = redis.NewContainerStore(client, cfg.Redis.KeyPrefix)
		comps.settings = redis.NewSettingsStore(client, cfg.Redis.KeyPrefix)
		comps.closers = append(comps.closers, client.Close)
	default:
		comps.store = memory.NewContainerStore()
		comps.settings = memory.NewSettingsStore()
	}
	return comps, nil
}
