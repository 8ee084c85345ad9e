package model

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"
)

const (
	DefaultCloneTimeout    = 180 * time.Second
	DefaultSignatureWindow = 10
	DefaultCancelGrace     = 500 * time.Millisecond
	DefaultBatchDelay      = time.Second
)

type Config struct {
	Tools     Tools     `mapstructure:"tools" yaml:"tools"`
	Workspace Workspace `mapstructure:"workspace" yaml:"workspace"`
	Clone     Clone     `mapstructure:"clone" yaml:"clone"`
	Scan      Scan      `mapstructure:"scan" yaml:"scan"`
	Service   Service   `mapstructure:"service" yaml:"service"`
	Signature Signature `mapstructure:"signature" yaml:"signature"`
	Cancel    Cancel    `mapstructure:"cancel" yaml:"cancel"`
	Batch     Batch     `mapstructure:"batch" yaml:"batch"`
	Git       Git       `mapstructure:"git" json:"-" yaml:"-"`
}

// LogValue renders the config section by section, git only says whether a
// token is set.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("tools", c.Tools),
		slog.Any("workspace", c.Workspace),
		slog.Any("clone", c.Clone),
		slog.Any("scan", c.Scan),
		slog.Any("service", c.Service),
		slog.Any("signature", c.Signature),
		slog.Any("cancel", c.Cancel),
		slog.Any("batch", c.Batch),
		slog.Any("git", c.Git),
	)
}

// Tools is the root of the per platform tool folders (linux, mac, win).
type Tools struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Workspace is where clones are materialized.
type Workspace struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

type Clone struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Depth   int           `mapstructure:"depth" yaml:"depth"`
}

// Scan holds the scanner timeout, zero means unbounded.
type Scan struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type Service struct {
	Verbose bool   `mapstructure:"verbose" yaml:"verbose"`
	Log     string `mapstructure:"log" yaml:"log"` // "stderr"|"stdout"|"discard"|path
}

type Signature struct {
	Window int `mapstructure:"window" yaml:"window"`
}

type Cancel struct {
	Grace time.Duration `mapstructure:"grace" yaml:"grace"`
}

type Batch struct {
	Delay time.Duration `mapstructure:"delay" yaml:"delay"`
}

// Git carries the access token. It is only ever read from the environment
// and never encoded, neither into the config file nor into a log record.
type Git struct {
	Token string `mapstructure:"token" json:"-" yaml:"-"`
}

// LogValue reports whether a token is set without its value.
func (g Git) LogValue() slog.Value {
	return slog.GroupValue(slog.Bool("token_set", g.Token != ""))
}

// SetDefaults registers the default values of all keys on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("tools.dir", "~/.sherlock/tools")
	v.SetDefault("workspace.dir", "~/.sherlock/workspace")
	v.SetDefault("clone.timeout", DefaultCloneTimeout)
	v.SetDefault("clone.depth", 0)
	v.SetDefault("scan.timeout", time.Duration(0))
	v.SetDefault("service.verbose", false)
	v.SetDefault("service.log", LogStderr)
	v.SetDefault("signature.window", DefaultSignatureWindow)
	v.SetDefault("cancel.grace", DefaultCancelGrace)
	v.SetDefault("batch.delay", DefaultBatchDelay)
	v.SetDefault("git.token", "")
}

// DefaultConfig returns the configuration written when no config file exists.
func DefaultConfig() Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return cfg
}

// LoadConfig decodes the configuration held by v, expands home relative
// directories and validates the result.
func LoadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	var err error
	cfg.Tools.Dir, err = homedir.Expand(cfg.Tools.Dir)
	if err != nil {
		return Config{}, fmt.Errorf("tools.dir: %w", err)
	}
	cfg.Workspace.Dir, err = homedir.Expand(cfg.Workspace.Dir)
	if err != nil {
		return Config{}, fmt.Errorf("workspace.dir: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Tools.Dir == "":
		return fmt.Errorf("tools.dir: must not be empty")
	case c.Workspace.Dir == "":
		return fmt.Errorf("workspace.dir: must not be empty")
	case c.Clone.Timeout <= 0:
		return fmt.Errorf("clone.timeout: must be positive, got %s", c.Clone.Timeout)
	case c.Clone.Depth < 0:
		return fmt.Errorf("clone.depth: must not be negative, got %d", c.Clone.Depth)
	case c.Scan.Timeout < 0:
		return fmt.Errorf("scan.timeout: must not be negative, got %s", c.Scan.Timeout)
	case c.Signature.Window <= 0:
		return fmt.Errorf("signature.window: must be positive, got %d", c.Signature.Window)
	case c.Cancel.Grace < 0:
		return fmt.Errorf("cancel.grace: must not be negative, got %s", c.Cancel.Grace)
	case c.Batch.Delay < 0:
		return fmt.Errorf("batch.delay: must not be negative, got %s", c.Batch.Delay)
	case c.Service.Log == "":
		return fmt.Errorf("service.log: must not be empty")
	}
	return nil
}
