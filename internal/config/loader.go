package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	ManifestPath string `json:"manifest_path" yaml:"manifest_path" toml:"manifest_path"`
	// Write models_manifest.json into ModelsDir at startup.
	SyncManifest bool `json:"sync_manifest" yaml:"sync_manifest" toml:"sync_manifest"`
	// Re-evaluate states when files appear or vanish under ModelsDir.
	WatchDisk bool `json:"watch_disk" yaml:"watch_disk" toml:"watch_disk"`
	// Interval of the hardware event stream, e.g. "2s".
	MetricsInterval string `json:"metrics_interval" yaml:"metrics_interval" toml:"metrics_interval"`

	Residency   ResidencyConfig   `json:"residency" yaml:"residency" toml:"residency"`
	Download    DownloadConfig    `json:"download" yaml:"download" toml:"download"`
	Router      RouterConfig      `json:"router" yaml:"router" toml:"router"`
	Accelerator AcceleratorConfig `json:"accelerator" yaml:"accelerator" toml:"accelerator"`
	Log         LogConfig         `json:"log" yaml:"log" toml:"log"`
	CORS        CORSConfig        `json:"cors" yaml:"cors" toml:"cors"`

	// Loaders maps a model id (or "*" for every model) to a loader kind.
	Loaders map[string]string `json:"loaders" yaml:"loaders" toml:"loaders"`
}

type ResidencyConfig struct {
	// Fraction of accelerator memory above which resident models are evicted.
	EvictThreshold float64 `json:"evict_threshold" yaml:"evict_threshold" toml:"evict_threshold"`
}

type DownloadConfig struct {
	ChunkSizeBytes int `json:"chunk_size_bytes" yaml:"chunk_size_bytes" toml:"chunk_size_bytes"`
	// Whole-transfer timeout, e.g. "2h". Empty means no timeout.
	Timeout              string  `json:"timeout" yaml:"timeout" toml:"timeout"`
	ProgressEventsPerSec float64 `json:"progress_events_per_sec" yaml:"progress_events_per_sec" toml:"progress_events_per_sec"`
}

type RouterConfig struct {
	// least_loaded or round_robin
	Strategy string `json:"strategy" yaml:"strategy" toml:"strategy"`
}

type AcceleratorConfig struct {
	// Force host-only (degraded) mode even when a device is present.
	Disabled    bool   `json:"disabled" yaml:"disabled" toml:"disabled"`
	DeviceIndex int    `json:"device_index" yaml:"device_index" toml:"device_index"`
	NvidiaSMI   string `json:"nvidia_smi" yaml:"nvidia_smi" toml:"nvidia_smi"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
