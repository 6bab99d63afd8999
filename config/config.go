// Package config handles pairvm.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/pairvm/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "pairvm.toml"

// Config represents a pairvm.toml file.
type Config struct {
	Heap    Heap    `toml:"heap"`
	Log     Log     `toml:"log"`
	Journal Journal `toml:"journal"`
	Server  Server  `toml:"server"`

	// Path is the file the configuration was read from (set at load time).
	Path string `toml:"-"`
}

// Heap configures each VM instance.
type Heap struct {
	InitialThreshold int `toml:"initial-threshold"`
	MaxObjects       int `toml:"max-objects"`
	StackCapacity    int `toml:"stack-capacity"`
}

// Log configures the commonlog backend.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Journal configures the SQLite cycle journal. An empty path disables it.
type Journal struct {
	Path string `toml:"path"`
}

// Server configures the inspection server.
type Server struct {
	Addr string `toml:"addr"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Heap: Heap{
			InitialThreshold: vm.DefaultInitialThreshold,
			StackCapacity:    vm.DefaultStackCapacity,
		},
		Server: Server{
			Addr: ":4567",
		},
	}
}

// Load parses pairvm.toml from the given directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the given file. Keys missing from the file keep their
// defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}

	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a pairvm.toml file, then loads
// and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate rejects settings no VM can run with.
func (c *Config) Validate() error {
	if c.Heap.InitialThreshold < 0 {
		return fmt.Errorf("heap.initial-threshold must not be negative, got %d", c.Heap.InitialThreshold)
	}
	if c.Heap.MaxObjects < 0 {
		return fmt.Errorf("heap.max-objects must not be negative, got %d", c.Heap.MaxObjects)
	}
	if c.Heap.StackCapacity < 1 {
		return fmt.Errorf("heap.stack-capacity must be at least 1, got %d", c.Heap.StackCapacity)
	}
	return nil
}

// VMOptions converts the heap section into VM options.
func (c *Config) VMOptions() []vm.Option {
	return []vm.Option{
		vm.WithInitialThreshold(c.Heap.InitialThreshold),
		vm.WithMaxObjects(c.Heap.MaxObjects),
		vm.WithStackCapacity(c.Heap.StackCapacity),
	}
}

// LogFile returns the log file path, or nil to log to stderr.
func (c *Config) LogFile() *string {
	if c.Log.File == "" {
		return nil
	}
	return &c.Log.File
}
