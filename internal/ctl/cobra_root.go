package ctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"vramd/pkg/types"
)

// Config holds the persistent flags.
type Config struct {
	URL    string
	LogLvl string
	Out    io.Writer
}

func defaultConfig() *Config {
	return &Config{URL: envStr("VRAMCTL_URL", DefaultURL), LogLvl: envStr("VRAMCTL_LOG_LEVEL", "info"), Out: os.Stdout}
}

// buildRootCmdWith constructs the command tree. The client is created after
// flags are parsed.
func buildRootCmdWith(cfg *Config) *cobra.Command {
	var client *Client
	root := &cobra.Command{
		Use:           "vramctl",
		Short:         "Operate a vramd daemon: models, hardware and queues",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.URL, "url", cfg.URL, "Daemon base URL (defaults VRAMCTL_URL or "+DefaultURL+")")
	root.PersistentFlags().StringVar(&cfg.LogLvl, "log-level", cfg.LogLvl, "Log level: debug|info|warn|error (defaults VRAMCTL_LOG_LEVEL or info)")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		SetLogLevel(cfg.LogLvl)
		client = NewClient(cfg.URL, nil)
	}
	out := func() io.Writer { return cfg.Out }

	// models group
	modelsCmd := &cobra.Command{Use: "models", Short: "Inspect and manage models", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("models requires a subcommand: list|show|download|load|unload|delete")
	}}
	modelsList := &cobra.Command{Use: "list", Aliases: []string{"ls"}, Short: "List catalog models and states", RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client.Models(cmd.Context())
		if err != nil {
			return err
		}
		printModels(out(), res.Models)
		return nil
	}}
	modelsShow := &cobra.Command{Use: "show <id>", Short: "Show one model", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		st, err := client.Model(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printModels(out(), []types.ModelStatus{st})
		return nil
	}}
	modelsDownload := &cobra.Command{Use: "download <id>", Short: "Start downloading a model's weights", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		t, err := client.Download(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out(), "%s: %s (state %s)", t.ID, t.Status, t.State)
		if t.OperationID != "" {
			fmt.Fprintf(out(), " op=%s", t.OperationID)
		}
		fmt.Fprintln(out())
		return nil
	}}
	action := func(use, short string, fn func(ctx context.Context, id string) (types.ActionResponse, error)) *cobra.Command {
		return &cobra.Command{Use: use + " <id>", Short: short, Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
			res, err := fn(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out(), "%s: %s\n", res.ID, res.State)
			return nil
		}}
	}
	modelsCmd.AddCommand(modelsList, modelsShow, modelsDownload,
		action("load", "Load a model into accelerator memory", func(ctx context.Context, id string) (types.ActionResponse, error) { return client.Load(ctx, id) }),
		action("unload", "Release a resident model", func(ctx context.Context, id string) (types.ActionResponse, error) { return client.Unload(ctx, id) }),
		action("delete", "Delete a model's weights from disk", func(ctx context.Context, id string) (types.ActionResponse, error) { return client.Delete(ctx, id) }),
	)
	root.AddCommand(modelsCmd)

	// hardware group
	hwCmd := &cobra.Command{Use: "hardware", Aliases: []string{"hw"}, Short: "Accelerator telemetry", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("hardware requires a subcommand: show|watch")
	}}
	hwShow := &cobra.Command{Use: "show", Short: "Print one hardware snapshot", RunE: func(cmd *cobra.Command, args []string) error {
		s, err := client.Hardware(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(out(), formatSnapshot(s))
		return nil
	}}
	var frames int
	hwWatch := &cobra.Command{Use: "watch", Short: "Follow the live metrics stream", Example: "  vramctl hardware watch\n  vramctl hardware watch --count 5", RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		info("streaming from %s", cfg.URL)
		return client.Watch(ctx, frames, func(ev types.MetricsEvent) bool {
			fmt.Fprintln(out(), formatFrame(ev))
			return true
		})
	}}
	hwWatch.Flags().IntVar(&frames, "count", 0, "Stop after N frames (0 = until interrupted)")
	hwCmd.AddCommand(hwShow, hwWatch)
	root.AddCommand(hwCmd)

	// queues group
	qCmd := &cobra.Command{Use: "queues", Short: "Work-queue routing", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("queues requires a subcommand: status|best")
	}}
	qStatus := &cobra.Command{Use: "status", Short: "Show every queue", RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client.Queues(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out(), 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "QUEUE\tDEVICE\tACTIVE\tFREE\tTOTAL\tHEALTHY")
		for _, q := range res.Queues {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%t\n", q.Queue, q.Device, q.ActiveTasks, humanize.Bytes(q.FreeBytes), humanize.Bytes(q.TotalBytes), q.Healthy)
		}
		return tw.Flush()
	}}
	var strategy string
	qBest := &cobra.Command{Use: "best", Short: "Ask the router for a queue", RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client.BestQueue(cmd.Context(), strategy)
		if err != nil {
			return err
		}
		if res.Fallback {
			warn("no healthy queue, using fallback")
		}
		fmt.Fprintln(out(), res.Queue)
		return nil
	}}
	qBest.Flags().StringVar(&strategy, "strategy", "", "least_loaded|round_robin (daemon default when empty)")
	qCmd.AddCommand(qStatus, qBest)
	root.AddCommand(qCmd)

	// completion command
	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(out()) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(out()) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(out(), true) }})
	completionCmd.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenPowerShellCompletionWithDesc(out()) }})
	root.AddCommand(completionCmd)

	return root
}

func printModels(w io.Writer, models []types.ModelStatus) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tPROGRESS\tSIZE\tCATEGORY")
	for _, m := range models {
		progress := "-"
		if m.State == "downloading" {
			progress = fmt.Sprintf("%.0f%%", m.Progress*100)
		}
		size := m.SizeHuman
		if size == "" {
			size = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.State, progress, size, m.Category)
	}
	_ = tw.Flush()
}

func formatSnapshot(s types.HardwareSnapshot) string {
	if s.Degraded {
		msg := fmt.Sprintf("%s: no accelerator", s.Device)
		if s.Error != "" {
			msg += " (" + s.Error + ")"
		}
		return msg
	}
	return fmt.Sprintf("%s: %.1f%% used, %s free of %s", s.Device, s.Percent, humanize.Bytes(s.FreeBytes), humanize.Bytes(s.TotalBytes))
}

func formatFrame(ev types.MetricsEvent) string {
	ids := make([]string, 0, len(ev.Models))
	for id := range ev.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		p := id + "=" + ev.Models[id]
		if prog, ok := ev.DownloadProgress[id]; ok {
			p += fmt.Sprintf("(%.0f%%)", prog*100)
		}
		parts = append(parts, p)
	}
	return formatSnapshot(ev.Hardware) + " | " + strings.Join(parts, " ")
}
