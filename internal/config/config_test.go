package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1<<20, cfg.Store.ArenaBytes)
	assert.Equal(t, 2048, cfg.Store.Meshes)
	assert.Equal(t, 256, cfg.Store.Nodes)
	assert.Equal(t, 256, cfg.Store.SkinnedNodes)
	assert.Equal(t, 16, cfg.Store.InstancedNodes)
	assert.Equal(t, 256, cfg.Store.AnimatedNodes)
	assert.Zero(t, cfg.Store.CBuffers, "sized from the node pools")
	assert.Equal(t, float32(0), cfg.Cull.MinZ)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "oxy.toml", `
[window]
title = "bench"
width = 640

[render]
sort_policy = "back_to_front"
profile_interval = "2s"

[store]
nodes = 1024
virtual_arena = true

[assets]
paths = ["a.glb", "b.gltf"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bench", cfg.Window.Title)
	assert.Equal(t, 640, cfg.Window.Width)
	assert.Equal(t, 720, cfg.Window.Height, "missing keys keep defaults")
	assert.Equal(t, "back_to_front", cfg.Render.SortPolicy)
	assert.Equal(t, 2*time.Second, cfg.Render.ProfileInterval)
	assert.Equal(t, 1024, cfg.Store.Nodes)
	assert.True(t, cfg.Store.VirtualArena)
	assert.Equal(t, []string{"a.glb", "b.gltf"}, cfg.Assets.Paths)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "oxy.yaml", `
logging:
  level: debug
  format: json
cull:
  min_z: -1
render:
  profile_interval: 500ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, float32(-1), cfg.Cull.MinZ)
	assert.Equal(t, 500*time.Millisecond, cfg.Render.ProfileInterval)
	assert.Equal(t, 2048, cfg.Store.Meshes)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{"unknown extension", "oxy.ini", "x=1", "unknown file format"},
		{"bad toml", "oxy.toml", "[window\n", "parse config"},
		{"bad yaml", "oxy.yml", "window: [", "parse config"},
		{"node pool too large", "oxy.toml", "[store]\nnodes = 70000\n", "store.nodes"},
		{"cbuffer table below node pools", "oxy.toml", "[store]\ncbuffers = 512\n", "store.cbuffers"},
		{"bad sort policy", "oxy.yaml", "render:\n  sort_policy: random\n", "sort_policy"},
		{"bad near far", "oxy.toml", "[render]\nnear = 10.0\nfar = 1.0\n", "near/far"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "none.toml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestValidate_CBuffers(t *testing.T) {
	tests := []struct {
		name     string
		cbuffers int
		ok       bool
	}{
		{"derived", 0, true},
		{"exactly enough", 1 + 256 + 2*256 + 2*16, true},
		{"one short", 256 + 2*256 + 2*16, false},
		{"negative", -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Store.CBuffers = tt.cbuffers
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "store.cbuffers")
		})
	}
}
