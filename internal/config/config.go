// Package config loads the engine configuration from a TOML or YAML file layered over defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned for config files that are neither TOML nor YAML.
var ErrUnknownFormat = errors.New("config: unknown file format")

type Config struct {
	Window  WindowConfig  `toml:"window" yaml:"window"`
	Render  RenderConfig  `toml:"render" yaml:"render"`
	Store   StoreConfig   `toml:"store" yaml:"store"`
	Cull    CullConfig    `toml:"cull" yaml:"cull"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
	Assets  AssetsConfig  `toml:"assets" yaml:"assets"`
}

type WindowConfig struct {
	Title  string `toml:"title" yaml:"title"`
	Width  int    `toml:"width" yaml:"width"`
	Height int    `toml:"height" yaml:"height"`
}

type RenderConfig struct {
	PresentMode string     `toml:"present_mode" yaml:"present_mode"` // "fifo", "mailbox" or "immediate"
	SampleCount int        `toml:"sample_count" yaml:"sample_count"`
	ClearColor  [4]float64 `toml:"clear_color" yaml:"clear_color"`
	SortPolicy  string     `toml:"sort_policy" yaml:"sort_policy"` // "default" or "back_to_front"
	FOV         float32    `toml:"fov" yaml:"fov"`                 // vertical, degrees
	Near        float32    `toml:"near" yaml:"near"`
	Far         float32    `toml:"far" yaml:"far"`
	// ProfileInterval is how often the profiler logs frame statistics; zero disables it.
	ProfileInterval time.Duration `toml:"profile_interval" yaml:"profile_interval"`
}

type StoreConfig struct {
	ArenaBytes     int  `toml:"arena_bytes" yaml:"arena_bytes"`
	VirtualArena   bool `toml:"virtual_arena" yaml:"virtual_arena"`
	Meshes         int  `toml:"meshes" yaml:"meshes"`
	Nodes          int  `toml:"nodes" yaml:"nodes"`
	SkinnedNodes   int  `toml:"skinned_nodes" yaml:"skinned_nodes"`
	InstancedNodes int  `toml:"instanced_nodes" yaml:"instanced_nodes"`
	AnimatedNodes  int  `toml:"animated_nodes" yaml:"animated_nodes"`
	CBuffers       int  `toml:"cbuffers" yaml:"cbuffers"` // 0 sizes the table from the node pools
}

type CullConfig struct {
	MinZ float32 `toml:"min_z" yaml:"min_z"` // 0 for WebGPU depth, -1 for GL-style clip space
}

type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // "json" or "console"
	Caller bool   `toml:"caller" yaml:"caller"`
}

type AssetsConfig struct {
	Paths          []string `toml:"paths" yaml:"paths"`
	DefaultScene   bool     `toml:"default_scene" yaml:"default_scene"`
	Workers        int      `toml:"workers" yaml:"workers"`
	ScratchBytes   int      `toml:"scratch_bytes" yaml:"scratch_bytes"`
	VirtualScratch bool     `toml:"virtual_scratch" yaml:"virtual_scratch"`
}

// Load reads a config file, picking the decoder from its extension, and validates the result.
// Keys missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Window: WindowConfig{
			Title:  "oxy",
			Width:  1280,
			Height: 720,
		},
		Render: RenderConfig{
			PresentMode:     "fifo",
			SampleCount:     1,
			ClearColor:      [4]float64{0.02, 0.02, 0.04, 1},
			SortPolicy:      "default",
			FOV:             60,
			Near:            0.1,
			Far:             200,
			ProfileInterval: 5 * time.Second,
		},
		Store: StoreConfig{
			ArenaBytes:     1 << 20,
			Meshes:         2048,
			Nodes:          256,
			SkinnedNodes:   256,
			InstancedNodes: 16,
			AnimatedNodes:  256,
			CBuffers:       0,
		},
		Cull: CullConfig{
			MinZ: 0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Assets: AssetsConfig{
			DefaultScene: true,
			Workers:      4,
			ScratchBytes: 16 << 20,
		},
	}
}

// Validate checks value ranges the engine cannot recover from at startup.
func (c *Config) Validate() error {
	var errs []error
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		errs = append(errs, fmt.Errorf("window size %dx%d must be positive", c.Window.Width, c.Window.Height))
	}
	switch c.Render.PresentMode {
	case "fifo", "mailbox", "immediate":
	default:
		errs = append(errs, fmt.Errorf("render.present_mode %q is not fifo, mailbox or immediate", c.Render.PresentMode))
	}
	switch c.Render.SortPolicy {
	case "default", "back_to_front":
	default:
		errs = append(errs, fmt.Errorf("render.sort_policy %q is not default or back_to_front", c.Render.SortPolicy))
	}
	if c.Render.Near <= 0 || c.Render.Far <= c.Render.Near {
		errs = append(errs, fmt.Errorf("render near/far %g/%g must satisfy 0 < near < far", c.Render.Near, c.Render.Far))
	}
	if c.Render.SampleCount != 1 && c.Render.SampleCount != 4 {
		errs = append(errs, fmt.Errorf("render.sample_count %d must be 1 or 4", c.Render.SampleCount))
	}

	pools := []struct {
		name string
		v    int
		max  int
	}{
		{"store.meshes", c.Store.Meshes, 1 << 30},
		{"store.nodes", c.Store.Nodes, 0xffff},
		{"store.skinned_nodes", c.Store.SkinnedNodes, 0xffff},
		{"store.instanced_nodes", c.Store.InstancedNodes, 0xffff},
		{"store.animated_nodes", c.Store.AnimatedNodes, 1 << 30},
	}
	for _, p := range pools {
		if p.v <= 0 || p.v > p.max {
			errs = append(errs, fmt.Errorf("%s = %d out of range 1..%d", p.name, p.v, p.max))
		}
	}
	// One constant buffer per plain node, two per skinned or instanced node, plus the reserved entry.
	if need := 1 + c.Store.Nodes + 2*c.Store.SkinnedNodes + 2*c.Store.InstancedNodes; c.Store.CBuffers != 0 &&
		(c.Store.CBuffers < need || c.Store.CBuffers > 1<<30) {
		errs = append(errs, fmt.Errorf("store.cbuffers = %d out of range %d..%d (0 sizes it from the node pools)", c.Store.CBuffers, need, 1<<30))
	}
	if !c.Store.VirtualArena && c.Store.ArenaBytes <= 0 {
		errs = append(errs, fmt.Errorf("store.arena_bytes %d must be positive", c.Store.ArenaBytes))
	}
	if c.Cull.MinZ != 0 && c.Cull.MinZ != -1 {
		errs = append(errs, fmt.Errorf("cull.min_z %g must be 0 or -1", c.Cull.MinZ))
	}
	if c.Assets.Workers <= 0 {
		errs = append(errs, fmt.Errorf("assets.workers %d must be positive", c.Assets.Workers))
	}
	return errors.Join(errs...)
}
