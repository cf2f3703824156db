// Package cfg provides the TOML configuration file of prsync.
package cfg

import (
	"fmt"
	"io"
	"time"

	"github.com/pelletier/go-toml"
)

type Config struct {
	GithubAPIToken string `toml:"github_api_token"`
	Account        string `toml:"account"`
	Repository     string `toml:"repository"`
	// SnapshotDir is the directory in which snapshot files are stored when
	// no snapshot path is passed on the commandline.
	SnapshotDir string `toml:"snapshot_dir"`
	DBFile      string `toml:"db_file"`
	MetricsFile string `toml:"metrics_file"`

	LogFormat  string `toml:"log_format"`
	LogTimeKey string `toml:"log_time_key"`
	LogLevel   string `toml:"log_level"`

	Sync  Sync  `toml:"sync"`
	Retry Retry `toml:"retry"`
}

type Sync struct {
	PageSize      int `toml:"page_size"`
	MaxNoProgress int `toml:"max_no_progress"`
}

// Retry configures how failed requests to the GitHub API are retried.
// Intervals are duration strings, e.g. "1s" or "2m30s".
type Retry struct {
	MaxAttempts     uint   `toml:"max_attempts"`
	InitialInterval string `toml:"initial_interval"`
	MaxInterval     string `toml:"max_interval"`
}

// Default returns a Config with the default settings.
func Default() *Config {
	return &Config{
		SnapshotDir: ".",
		LogFormat:   "logfmt",
		LogTimeKey:  "time_iso8601",
		LogLevel:    "info",
		Sync: Sync{
			PageSize:      100,
			MaxNoProgress: 24,
		},
		Retry: Retry{
			MaxAttempts:     10,
			InitialInterval: "1s",
			MaxInterval:     "1m",
		},
	}
}

// Load reads a configuration from reader.
// Settings that are not defined in the file have the values of Default().
func Load(reader io.Reader) (*Config, error) {
	result := Default()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, result); err != nil {
		return nil, err
	}

	if err := result.validate(); err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Config) validate() error {
	if _, err := c.Retry.InitialIntervalDuration(); err != nil {
		return err
	}

	if _, err := c.Retry.MaxIntervalDuration(); err != nil {
		return err
	}

	if c.Sync.PageSize < 0 {
		return fmt.Errorf("sync.page_size is %d, must be >=0", c.Sync.PageSize)
	}

	if c.Sync.MaxNoProgress <= 0 {
		return fmt.Errorf("sync.max_no_progress is %d, must be >0", c.Sync.MaxNoProgress)
	}

	return nil
}

func (r *Retry) InitialIntervalDuration() (time.Duration, error) {
	d, err := time.ParseDuration(r.InitialInterval)
	if err != nil {
		return 0, fmt.Errorf("retry.initial_interval: %w", err)
	}

	return d, nil
}

func (r *Retry) MaxIntervalDuration() (time.Duration, error) {
	d, err := time.ParseDuration(r.MaxInterval)
	if err != nil {
		return 0, fmt.Errorf("retry.max_interval: %w", err)
	}

	return d, nil
}

func (c *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(c)
}
