package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"vramd/internal/catalog"
	"vramd/internal/common/fsutil"
	"vramd/internal/config"
)

// flagValues mirrors the config keys that may be overridden on the command
// line. Only flags the user actually set are applied.
type flagValues struct {
	configPath     string
	addr           string
	modelsDir      string
	manifest       string
	syncManifest   bool
	watchDisk      bool
	evictThreshold float64
	strategy       string
	metricsEvery   string
	noAccelerator  bool
	deviceIndex    int
	logLevel       string
	logFormat      string
	corsOrigins    string
}

func bindFlags(cmd *cobra.Command, fv *flagValues) {
	f := cmd.PersistentFlags()
	f.StringVar(&fv.configPath, "config", os.Getenv("VRAMD_CONFIG"), "Config file (.yaml, .json, .toml); defaults VRAMD_CONFIG")
	f.StringVar(&fv.addr, "addr", "", "HTTP listen address (defaults VRAMD_ADDR or "+config.DefaultAddr+")")
	f.StringVar(&fv.modelsDir, "models-dir", "", "Directory holding model weights (defaults VRAMD_MODELS_DIR or "+config.DefaultModelsDir+")")
	f.StringVar(&fv.manifest, "manifest", "", "Model manifest JSON (defaults VRAMD_MANIFEST or <models-dir>/"+config.DefaultManifestName+")")
	f.BoolVar(&fv.syncManifest, "sync-manifest", false, "Write "+catalog.DerivedName+" into the models dir at startup")
	f.BoolVar(&fv.watchDisk, "watch-disk", false, "Re-evaluate model states when files change under the models dir")
	f.Float64Var(&fv.evictThreshold, "evict-threshold", 0, "Accelerator memory fraction above which resident models are evicted")
	f.StringVar(&fv.strategy, "strategy", "", "Default queue strategy: least_loaded|round_robin")
	f.StringVar(&fv.metricsEvery, "metrics-interval", "", "Period of the hardware event stream, e.g. 2s")
	f.BoolVar(&fv.noAccelerator, "no-accelerator", false, "Ignore accelerators and report host memory")
	f.IntVar(&fv.deviceIndex, "device-index", 0, "Accelerator index to monitor")
	f.StringVar(&fv.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	f.StringVar(&fv.logFormat, "log-format", "", "Log format: console|json")
	f.StringVar(&fv.corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins; enables CORS when set")
}

// resolveConfig layers defaults < file < environment < flags, then expands
// paths and validates.
func resolveConfig(cmd *cobra.Command, fv *flagValues) (config.Config, error) {
	var cfg config.Config
	if fv.configPath != "" {
		c, err := config.Load(fv.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	if v := os.Getenv("VRAMD_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("VRAMD_MODELS_DIR"); v != "" {
		cfg.ModelsDir = v
	}
	if v := os.Getenv("VRAMD_MANIFEST"); v != "" {
		cfg.ManifestPath = v
	}

	changed := cmd.Flags().Changed
	if changed("addr") {
		cfg.Addr = fv.addr
	}
	if changed("models-dir") {
		cfg.ModelsDir = fv.modelsDir
	}
	if changed("manifest") {
		cfg.ManifestPath = fv.manifest
	}
	if changed("sync-manifest") {
		cfg.SyncManifest = fv.syncManifest
	}
	if changed("watch-disk") {
		cfg.WatchDisk = fv.watchDisk
	}
	if changed("evict-threshold") {
		cfg.Residency.EvictThreshold = fv.evictThreshold
	}
	if changed("strategy") {
		cfg.Router.Strategy = fv.strategy
	}
	if changed("metrics-interval") {
		cfg.MetricsInterval = fv.metricsEvery
	}
	if changed("no-accelerator") {
		cfg.Accelerator.Disabled = fv.noAccelerator
	}
	if changed("device-index") {
		cfg.Accelerator.DeviceIndex = fv.deviceIndex
	}
	if changed("log-level") {
		cfg.Log.Level = fv.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = fv.logFormat
	}
	if changed("cors-origins") {
		cfg.CORS.Origins = splitCSV(fv.corsOrigins)
		cfg.CORS.Enabled = len(cfg.CORS.Origins) > 0
	}

	cfg = cfg.WithDefaults()
	var err error
	if cfg.ModelsDir, err = fsutil.ExpandHome(cfg.ModelsDir); err != nil {
		return cfg, err
	}
	if cfg.ManifestPath, err = fsutil.ExpandHome(cfg.ManifestPath); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// splitCSV splits a comma-separated list, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
