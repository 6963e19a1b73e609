// Package config provides the YAML configuration of the review worker.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/activities"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the pipeline tuning loaded from review.yaml.
type Config struct {
	ArtifactRoot string                 `yaml:"artifact_root"`
	Stages       map[string]StageConfig `yaml:"stages"`
	Ledger       LedgerConfig           `yaml:"ledger"`
	Resolver     ResolverConfig         `yaml:"resolver"`
	Pipeline     PipelineConfig         `yaml:"pipeline"`
}

// StageConfig is the evaluator command of one stage.
type StageConfig struct {
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

type LedgerConfig struct {
	OutputDir string `yaml:"output_dir"`
	Namespace string `yaml:"namespace"`
	Endpoint  string `yaml:"endpoint"`
	Token     string `yaml:"token"`
}

type ResolverConfig struct {
	CacheDir        string        `yaml:"cache_dir"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	JanitorSchedule string        `yaml:"janitor_schedule"`
	// MaxDownload caps one remote ledger download, e.g. "64 MiB".
	MaxDownload string `yaml:"max_download"`
}

// MaxDownloadBytes returns MaxDownload in bytes, or 0 when it is unset.
func (r ResolverConfig) MaxDownloadBytes() (int64, error) {
	if r.MaxDownload == "" {
		return 0, nil
	}

	n, err := humanize.ParseBytes(r.MaxDownload)
	if err != nil {
		return 0, err
	}

	if n == 0 || n > 1<<62 {
		return 0, fmt.Errorf("out of range: %s", r.MaxDownload)
	}

	return int64(n), nil
}

type PipelineConfig struct {
	PersistTimeout time.Duration `yaml:"persist_timeout"`
	CommandBuffer  int           `yaml:"command_buffer"`
}

// Default returns a configuration that works without a file.
func Default() Config {
	return Config{
		ArtifactRoot: "./artifacts",
		Stages:       map[string]StageConfig{},
		Ledger: LedgerConfig{
			OutputDir: "./audit-ledger",
			Namespace: "agent-store",
		},
		Resolver: ResolverConfig{
			CacheDir:        "./.ledger-cache",
			CacheTTL:        7 * 24 * time.Hour,
			JanitorSchedule: "@hourly",
			MaxDownload:     "64 MiB",
		},
		Pipeline: PipelineConfig{
			PersistTimeout: 10 * time.Second,
			CommandBuffer:  64,
		},
	}
}

// Load reads path over the defaults, expanding ${ENV} references first.
// An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error

	if c.ArtifactRoot == "" {
		errs = append(errs, errors.New("artifact_root is required"))
	}

	if c.Ledger.OutputDir == "" {
		errs = append(errs, errors.New("ledger.output_dir is required"))
	}

	for name, stage := range c.Stages {
		parsed, err := models.ParseStageName(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("stages.%s: %w", name, err))

			continue
		}

		switch parsed {
		case models.StageSecurity, models.StageFunctional, models.StageJudge:
		default:
			errs = append(errs, fmt.Errorf("stages.%s: stage does not run an evaluator", name))
		}

		if len(stage.Command) == 0 {
			errs = append(errs, fmt.Errorf("stages.%s.command is required", name))
		}

		if stage.Timeout < 0 {
			errs = append(errs, fmt.Errorf("stages.%s.timeout must be positive", name))
		}
	}

	if c.Resolver.CacheTTL <= 0 {
		errs = append(errs, errors.New("resolver.cache_ttl must be positive"))
	}

	if c.Resolver.JanitorSchedule != "" {
		if _, err := cron.ParseStandard(c.Resolver.JanitorSchedule); err != nil {
			errs = append(errs, fmt.Errorf("resolver.janitor_schedule: %w", err))
		}
	}

	if _, err := c.Resolver.MaxDownloadBytes(); err != nil {
		errs = append(errs, fmt.Errorf("resolver.max_download: %w", err))
	}

	if c.Pipeline.PersistTimeout <= 0 {
		errs = append(errs, errors.New("pipeline.persist_timeout must be positive"))
	}

	if c.Pipeline.CommandBuffer <= 0 {
		errs = append(errs, errors.New("pipeline.command_buffer must be positive"))
	}

	return errors.Join(errs...)
}

// Activities converts the stage commands into the evaluator configuration.
func (c Config) Activities() activities.Config {
	evaluators := make(map[models.StageName]activities.CommandSpec, len(c.Stages))

	for name, stage := range c.Stages {
		evaluators[models.StageName(name)] = activities.CommandSpec{
			Command: stage.Command,
			Timeout: stage.Timeout,
		}
	}

	return activities.Config{
		ArtifactRoot: c.ArtifactRoot,
		Evaluators:   evaluators,
	}
}

// Relay returns the default ledger relay target, or nil when none is configured.
func (c Config) Relay() *models.RelayTarget {
	if c.Ledger.Endpoint == "" {
		return nil
	}

	return &models.RelayTarget{Endpoint: c.Ledger.Endpoint, Token: c.Ledger.Token}
}
