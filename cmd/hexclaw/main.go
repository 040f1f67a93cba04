package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hexclaw/hexclaw/pkg/config"
	"github.com/hexclaw/hexclaw/pkg/daemon"
	"github.com/hexclaw/hexclaw/pkg/log"
	"github.com/hexclaw/hexclaw/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bare invocation runs the daemon.
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "run")
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hexclaw",
	Short: "HexClaw - autonomous security orchestration daemon",
	Long: `HexClaw orchestrates authorized security assessments: it plans jobs
from operator goals, dispatches skill chains against a local tool server,
caches and meters model inference, and keeps the operator in the loop
over Telegram with approval gates on every consequential action.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"HexClaw version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(monitorCmd)

	runCmd.Flags().Bool("once", false, "drain the queue and exit")
	runCmd.Flags().Bool("dry-run", false, "no tool calls, no Telegram, no alerts")
	runCmd.Flags().String("enqueue", "", "enqueue a job before starting, skill:target")

	monitorCmd.Flags().Bool("once", false, "poll every feed once and exit")
	monitorCmd.Flags().Bool("dry-run", false, "score and log but deliver nothing")
	monitorCmd.Flags().Bool("test-alert", false, "inject a synthetic critical alert")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the orchestration daemon",
	Long: `Start the full daemon: job queue heartbeat, dispatcher, approval
gate, threat monitor, and the Telegram operator channel. Interrupted jobs
from a previous process are requeued before the first heartbeat.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		enqueue, _ := cmd.Flags().GetString("enqueue")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		d, err := daemon.New(cfg, daemon.Options{Once: once, DryRun: dryRun})
		if err != nil {
			return fmt.Errorf("start daemon: %w", err)
		}

		if enqueue != "" {
			if err := enqueueJob(d, enqueue); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return d.Run(ctx)
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the threat monitor standalone",
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		testAlert, _ := cmd.Flags().GetBool("test-alert")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Monitor.Enabled = true

		return runMonitor(cfg, once, dryRun, testAlert)
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	metrics.SetVersion(Version)
	return cfg, nil
}

// enqueueJob parses "skill:target" and queues it before startup.
func enqueueJob(d *daemon.Daemon, spec string) error {
	skill, target, ok := strings.Cut(spec, ":")
	if !ok || skill == "" || target == "" {
		return fmt.Errorf("--enqueue wants skill:target, got %q", spec)
	}
	job, err := d.Enqueue(skill, map[string]any{"target": target})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", spec, err)
	}
	fmt.Printf("Queued job %s: %s on %s\n", job.ID, skill, target)
	return nil
}
