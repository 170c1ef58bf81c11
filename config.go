package rvvm

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/rvvm/internal/hv"
	"github.com/tinyrange/rvvm/internal/hv/factory"
)

// DefaultMemBase is where guest RAM starts unless configured otherwise.
const DefaultMemBase = hv.DefaultMemBase

// Backend names accepted by Config.Backend.
const (
	BackendAuto   = factory.BackendAuto
	BackendSoft   = factory.BackendSoft
	BackendNative = factory.BackendNative
)

// Config describes a machine instance.
type Config struct {
	Harts   int    `yaml:"harts"`
	MemBase uint64 `yaml:"mem_base"`
	MemSize uint64 `yaml:"mem_size"`
	RV64    bool   `yaml:"rv64"`

	// Backend is "auto", "soft" or "native".
	Backend string `yaml:"backend"`
	// Library is the librvvm path for the native backend. Empty means
	// $RVVM_LIBRARY or the platform default.
	Library string `yaml:"library"`

	HotAttach      bool          `yaml:"hot_attach"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

// DefaultConfig returns the configuration used by Builder.
func DefaultConfig() Config {
	return Config{
		Harts:          1,
		MemBase:        DefaultMemBase,
		MemSize:        4096,
		Backend:        BackendAuto,
		UpdateInterval: hv.DefaultUpdateInterval,
	}
}

// ParseConfig decodes YAML on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("rvvm: parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("rvvm: read config: %w", err)
	}
	return ParseConfig(data)
}

func (c Config) validate() error {
	if c.Harts < 1 {
		return fmt.Errorf("rvvm: config: harts must be at least 1 (got %d)", c.Harts)
	}
	if c.MemSize == 0 {
		return fmt.Errorf("rvvm: config: mem_size must be non-zero")
	}
	if c.MemBase+c.MemSize < c.MemBase {
		return fmt.Errorf("rvvm: config: memory 0x%x+0x%x wraps the address space", c.MemBase, c.MemSize)
	}
	switch c.Backend {
	case BackendAuto, BackendSoft, BackendNative, "":
	default:
		return fmt.Errorf("rvvm: config: unknown backend %q", c.Backend)
	}
	if c.UpdateInterval < 0 {
		return fmt.Errorf("rvvm: config: update_interval must not be negative")
	}
	return nil
}

func (c Config) machineConfig() hv.MachineConfig {
	return hv.MachineConfig{
		Harts:          c.Harts,
		MemBase:        c.MemBase,
		MemSize:        c.MemSize,
		RV64:           c.RV64,
		HotAttach:      c.HotAttach,
		UpdateInterval: c.UpdateInterval,
	}
}
