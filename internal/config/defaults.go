package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Defaults applied by WithDefaults when the corresponding fields are unset.
const (
	DefaultAddr            = ":8080"
	DefaultModelsDir       = "~/models"
	DefaultManifestName    = "models.json"
	DefaultEvictThreshold  = 0.90
	DefaultChunkSizeBytes  = 1 << 20
	DefaultMetricsInterval = 2 * time.Second
	DefaultStrategy        = "least_loaded"
	DefaultProgressRate    = 4.0
	DefaultNvidiaSMI       = "nvidia-smi"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"

	// LoaderFile reads weights into a host buffer. It is the only built-in kind.
	LoaderFile = "file"
	// LoaderAll applies a loader kind to every catalog entry.
	LoaderAll = "*"
)

var knownStrategies = map[string]bool{"least_loaded": true, "round_robin": true}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.ManifestPath == "" {
		c.ManifestPath = filepath.Join(c.ModelsDir, DefaultManifestName)
	}
	if c.MetricsInterval == "" {
		c.MetricsInterval = DefaultMetricsInterval.String()
	}
	if c.Residency.EvictThreshold == 0 {
		c.Residency.EvictThreshold = DefaultEvictThreshold
	}
	if c.Download.ChunkSizeBytes <= 0 {
		c.Download.ChunkSizeBytes = DefaultChunkSizeBytes
	}
	if c.Download.ProgressEventsPerSec <= 0 {
		c.Download.ProgressEventsPerSec = DefaultProgressRate
	}
	if c.Router.Strategy == "" {
		c.Router.Strategy = DefaultStrategy
	}
	if c.Accelerator.NvidiaSMI == "" {
		c.Accelerator.NvidiaSMI = DefaultNvidiaSMI
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Loaders == nil {
		c.Loaders = map[string]string{LoaderAll: LoaderFile}
	}
	return c
}

// Validate rejects values that cannot be used even after defaulting.
func (c Config) Validate() error {
	if t := c.Residency.EvictThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("residency.evict_threshold must be in (0,1], got %v", t)
	}
	if !knownStrategies[c.Router.Strategy] {
		return fmt.Errorf("unknown router.strategy %q", c.Router.Strategy)
	}
	if _, err := c.MetricsEvery(); err != nil {
		return err
	}
	if _, err := c.DownloadTimeout(); err != nil {
		return err
	}
	for id, kind := range c.Loaders {
		if kind != LoaderFile {
			return fmt.Errorf("loaders[%s]: unknown loader kind %q", id, kind)
		}
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

// MetricsEvery parses MetricsInterval.
func (c Config) MetricsEvery() (time.Duration, error) {
	if c.MetricsInterval == "" {
		return DefaultMetricsInterval, nil
	}
	d, err := time.ParseDuration(c.MetricsInterval)
	if err != nil {
		return 0, fmt.Errorf("metrics_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("metrics_interval must be positive, got %s", d)
	}
	return d, nil
}

// DownloadTimeout parses Download.Timeout; zero means unbounded.
func (c Config) DownloadTimeout() (time.Duration, error) {
	if c.Download.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Download.Timeout)
	if err != nil {
		return 0, fmt.Errorf("download.timeout: %w", err)
	}
	return d, nil
}
