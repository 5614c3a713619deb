package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// CompareMode selects how the content of two equally sized files is compared.
type CompareMode string

const (
	CompareBytes  CompareMode = "bytes"
	CompareXXHash CompareMode = "xxhash"
)

const DefaultBlockSize = 32 * 1024 // 32KB, matches the streaming buffer

var (
	ErrInvalidJobs        = errors.New("jobs must not be negative")
	ErrInvalidCompareMode = errors.New("unknown compare mode")
	ErrInvalidBlockSize   = errors.New("block size must be positive")
)

// Config is the user-facing configuration, read from YAML and overridden by flags.
type Config struct {
	Jobs               int         `yaml:"jobs"`
	CheckMtime         bool        `yaml:"check_mtime"`
	FollowSymlinks     bool        `yaml:"follow_symlinks"`
	FollowRootSymlinks bool        `yaml:"follow_root_symlinks"`
	Exclude            []string    `yaml:"exclude"`
	CompareMode        CompareMode `yaml:"compare_mode"`
	BlockSize          int         `yaml:"block_size"`
}

// RunConfiguration is the validated, immutable configuration of one run.
type RunConfiguration struct {
	Workers            int
	CheckMtime         bool
	FollowSymlinks     bool
	FollowRootSymlinks bool
	Exclude            []string
	CompareMode        CompareMode
	BlockSize          int
}

func DefaultConfig() *Config {
	return &Config{
		Jobs:        0,
		Exclude:     []string{},
		CompareMode: CompareBytes,
		BlockSize:   DefaultBlockSize,
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	// Initialize Exclude slice if nil (for empty configs)
	if cfg.Exclude == nil {
		cfg.Exclude = []string{}
	}

	return cfg, nil
}

// Resolve validates c and evaluates the worker count against the host once.
func (c *Config) Resolve() (RunConfiguration, error) {
	return c.resolve(runtime.NumCPU())
}

func (c *Config) resolve(numCPU int) (RunConfiguration, error) {
	if c.Jobs < 0 {
		return RunConfiguration{}, fmt.Errorf("%w: %d", ErrInvalidJobs, c.Jobs)
	}

	mode := c.CompareMode
	if mode == "" {
		mode = CompareBytes
	}
	if mode != CompareBytes && mode != CompareXXHash {
		return RunConfiguration{}, fmt.Errorf("%w: %q", ErrInvalidCompareMode, mode)
	}

	blockSize := c.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if blockSize < 0 {
		return RunConfiguration{}, fmt.Errorf("%w: %d", ErrInvalidBlockSize, blockSize)
	}

	workers := c.Jobs
	if workers == 0 {
		workers = numCPU
	}
	if workers < 1 {
		workers = 1
	}

	exclude := make([]string, len(c.Exclude))
	copy(exclude, c.Exclude)

	return RunConfiguration{
		Workers:            workers,
		CheckMtime:         c.CheckMtime,
		FollowSymlinks:     c.FollowSymlinks,
		FollowRootSymlinks: c.FollowRootSymlinks,
		Exclude:            exclude,
		CompareMode:        mode,
		BlockSize:          blockSize,
	}, nil
}
