package subcmd

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-runner/internal/adapters/memory"
	"github.com/melih/lighthouse-runner/internal/adapters/redis"
	"github.com/melih/lighthouse-runner/internal/config"
)

func TestBuildComponents_Memory(t *testing.T) {
	cfg := &config.Config{}
	cfg.Runtime.Driver = "memory"
	cfg.Store.Driver = "memory"

	comps, err := buildComponents(context.Background(), cfg)
	require.NoError(t, err)
	defer comps.Close()

	assert.IsType(t, &memory.Runtime{}, comps.runtime)
	assert.IsType(t, &memory.ContainerStore{}, comps.store)
	assert.IsType(t, &memory.SettingsStore{}, comps.settings)
}

func TestBuildComponents_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{}
	cfg.Runtime.Driver = "memory"
	cfg.Store.Driver = "redis"
	cfg.Redis.Address = mr.Addr()

	comps, err := buildComponents(context.Background(), cfg)
	require.NoError(t, err)
	defer comps.Close()

	assert.IsType(t, &redis.ContainerStore{}, comps.store)
	assert.IsType(t, &redis.SettingsStore{}, comps.settings)
}

func TestBuildComponents_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := &config.Config{}
	cfg.Runtime.Driver = "memory"
	cfg.Store.Driver = "redis"
	cfg.Redis.Address = addr

	_, err := buildComponents(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range RootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["cleanup"])
	assert.NotNil(t, RootCmd.PersistentFlags().Lookup("config"))
}

func TestCheckCleanupConfig(t *testing.T) {
	cases := []struct {
		runtime, store string
		ok             bool
	}{
		{"memory", "memory", false},
		{"memory", "redis", true},
		{"docker", "memory", true},
		{"docker", "redis", true},
	}
	for _, tc := range cases {
		cfg := &config.Config{}
		cfg.Runtime.Driver = tc.runtime
		cfg.Store.Driver = tc.store

		err := checkCleanupConfig(cfg)
		if tc.ok {
			assert.NoError(t, err, "%s/%s", tc.runtime, tc.store)
		} else {
			assert.Error(t, err, "%s/%s", tc.runtime, tc.store)
		}
	}
}
