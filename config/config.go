// Package config handles kestrel.toml engine configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/kestrel/vm"
)

// FileName is the name of the configuration file.
const FileName = "kestrel.toml"

// Config represents a kestrel.toml file.
type Config struct {
	Engine EngineConfig `toml:"engine"`
	GC     GCConfig     `toml:"gc"`
	Arena  ArenaConfig  `toml:"arena"`
	Log    LogConfig    `toml:"log"`

	// Dir is the directory containing the kestrel.toml file (set at load time).
	Dir string `toml:"-"`
}

// EngineConfig sizes the value stack and the call stack.
type EngineConfig struct {
	MaxStack  int `toml:"max-stack"`
	MaxFrames int `toml:"max-frames"`
	Instances int `toml:"instances"`
}

// GCConfig tunes automatic collection.
type GCConfig struct {
	MinThreshold int `toml:"min-threshold"`
	HardLimit    int `toml:"hard-limit"`
}

// ArenaConfig configures the block allocator.
type ArenaConfig struct {
	Bytes      int  `toml:"bytes"`
	ThreadSafe bool `toml:"thread-safe"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Default returns the configuration used when no kestrel.toml exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Engine.MaxStack == 0 {
		c.Engine.MaxStack = vm.DefaultMaxStack
	}
	if c.Engine.MaxFrames == 0 {
		c.Engine.MaxFrames = vm.DefaultMaxFrames
	}
	if c.Engine.Instances == 0 {
		c.Engine.Instances = 1
	}
	if c.GC.MinThreshold == 0 {
		c.GC.MinThreshold = vm.DefaultGCMinThreshold
	}
}

// Validate rejects negative sizes.
func (c *Config) Validate() error {
	checks := []struct {
		name string
		v    int
	}{
		{"engine.max-stack", c.Engine.MaxStack},
		{"engine.max-frames", c.Engine.MaxFrames},
		{"engine.instances", c.Engine.Instances},
		{"gc.min-threshold", c.GC.MinThreshold},
		{"gc.hard-limit", c.GC.HardLimit},
		{"arena.bytes", c.Arena.Bytes},
	}
	for _, ch := range checks {
		if ch.v < 0 {
			return fmt.Errorf("%s must not be negative (got %d)", ch.name, ch.v)
		}
	}
	if c.Engine.Instances > 1 && !c.Arena.ThreadSafe {
		return fmt.Errorf("engine.instances > 1 requires arena.thread-safe")
	}
	return nil
}

// Load parses a kestrel.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a kestrel.toml file,
// then loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// EngineOptions converts the configuration to engine options.
func (c *Config) EngineOptions() vm.Options {
	return vm.Options{
		MaxStack:       c.Engine.MaxStack,
		MaxFrames:      c.Engine.MaxFrames,
		GCMinThreshold: c.GC.MinThreshold,
		GCHardLimit:    c.GC.HardLimit,
		ArenaBytes:     c.Arena.Bytes,
		ThreadSafe:     c.Arena.ThreadSafe,
	}
}

// LogPath returns the log file path relative to Dir, or nil for stderr.
func (c *Config) LogPath() *string {
	if c.Log.Path == "" {
		return nil
	}
	p := c.Log.Path
	if !filepath.IsAbs(p) && c.Dir != "" {
		p = filepath.Join(c.Dir, p)
	}
	return &p
}
