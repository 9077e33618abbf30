package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"vramd/internal/catalog"
	"vramd/internal/config"
	"vramd/internal/hardware"
	"vramd/internal/httpapi"
	"vramd/internal/loader"
	"vramd/internal/manager"
	"vramd/internal/router"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	fv := &flagValues{}
	root := &cobra.Command{
		Use:           "vramd",
		Short:         "Model resource manager: downloads, accelerator residency and queue routing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	bindFlags(root, fv)

	serveCmd := &cobra.Command{Use: "serve", Short: "Run the HTTP daemon (default)", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd, fv)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, newLogger(cfg.Log, nil))
	}}
	root.RunE = serveCmd.RunE

	manifestCmd := &cobra.Command{Use: "manifest", Short: "Inspect the model manifest", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("manifest requires a subcommand: validate|sync")
	}}
	validateCmd := &cobra.Command{Use: "validate", Short: "Parse the manifest and report skipped entries", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd, fv)
		if err != nil {
			return err
		}
		cat, err := catalog.Load(cfg.ManifestPath)
		if err != nil {
			return err
		}
		return reportCatalog(out, cat)
	}}
	syncCmd := &cobra.Command{Use: "sync", Short: "Write the derived manifest into the models dir", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd, fv)
		if err != nil {
			return err
		}
		cat, err := catalog.Load(cfg.ManifestPath)
		if err != nil {
			return err
		}
		path, err := catalog.WriteDerived(cfg.ModelsDir, cat)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %d models to %s\n", cat.Len(), path)
		return nil
	}}
	manifestCmd.AddCommand(validateCmd, syncCmd)
	root.AddCommand(serveCmd, manifestCmd)
	return root
}

func reportCatalog(w io.Writer, cat *catalog.Catalog) error {
	fmt.Fprintf(w, "%d models\n", cat.Len())
	skipped := cat.Skipped()
	ids := make([]string, 0, len(skipped))
	for id := range skipped {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "skipped %s: %s\n", id, skipped[id])
	}
	if len(ids) > 0 {
		return fmt.Errorf("%d invalid manifest entries", len(ids))
	}
	return nil
}

// serve wires the daemon together and blocks until ctx is canceled or the
// listener fails.
func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	component := func(name string) zerolog.Logger { return logger.With().Str("component", name).Logger() }

	cat, err := catalog.Load(cfg.ManifestPath)
	if err != nil {
		// keep serving hardware and queue endpoints; readiness reports the gap
		logger.Error().Err(err).Msg("manifest unusable; starting with an empty catalog")
		cat = catalog.Empty()
	}
	for id, reason := range cat.Skipped() {
		logger.Warn().Str("model", id).Str("reason", reason).Msg("manifest entry skipped")
	}
	if err := os.MkdirAll(cfg.ModelsDir, 0o755); err != nil {
		return fmt.Errorf("create models dir: %w", err)
	}
	if cfg.SyncManifest && cat.Len() > 0 {
		if path, err := catalog.WriteDerived(cfg.ModelsDir, cat); err != nil {
			logger.Warn().Err(err).Msg("write derived manifest")
		} else {
			logger.Info().Str("path", path).Msg("derived manifest written")
		}
	}

	hwOpts := hardware.Options{
		Accelerator: hardware.NvidiaSMI{Path: cfg.Accelerator.NvidiaSMI},
		DeviceIndex: cfg.Accelerator.DeviceIndex,
		Disabled:    cfg.Accelerator.Disabled,
		Logger:      component("hardware"),
	}
	if host, err := hardware.NewProcMeminfo(); err != nil {
		logger.Warn().Err(err).Msg("host memory probe unavailable")
	} else {
		hwOpts.Host = host
	}
	hw := hardware.New(ctx, hwOpts)

	timeout, _ := cfg.DownloadTimeout()
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Catalog:              cat,
		ModelsDir:            cfg.ModelsDir,
		Hardware:             hw,
		EvictThreshold:       cfg.Residency.EvictThreshold,
		ChunkSize:            cfg.Download.ChunkSizeBytes,
		DownloadTimeout:      timeout,
		ProgressEventsPerSec: cfg.Download.ProgressEventsPerSec,
		HTTPClient:           &http.Client{},
		Publisher:            manager.NewLogPublisher(component("events")),
		Logger:               component("manager"),
	})
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Warn().Err(err).Msg("manager close")
		}
	}()

	n, err := loader.RegisterConfigured(mgr, cat, cfg.ModelsDir, cfg.Loaders)
	if err != nil {
		return fmt.Errorf("register loaders: %w", err)
	}
	logger.Info().Int("loaders", n).Int("models", cat.Len()).Msg("catalog ready")
	if missing := mgr.MissingLoaders(); len(missing) > 0 {
		logger.Warn().Strs("models", missing).Msg("models without a loader cannot be loaded")
	}

	devs, err := hw.Devices(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("list accelerators for routing")
	}
	rt := router.New(devs, router.WithLister(hw), router.WithLogger(component("router")))

	if cfg.WatchDisk {
		if _, err := mgr.WatchDisk(ctx); err != nil {
			logger.Warn().Err(err).Msg("disk watcher disabled")
		}
	}

	interval, _ := cfg.MetricsEvery()
	httpapi.SetLogger(component("http"))
	httpapi.SetBaseContext(ctx)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)
	mux := httpapi.NewMux(mgr, hw, rt, httpapi.Options{
		DefaultStrategy: cfg.Router.Strategy,
		StreamInterval:  interval,
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Bool("accelerator", hw.HasAccelerator()).Msg("vramd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("vramd stopped")
	return nil
}
