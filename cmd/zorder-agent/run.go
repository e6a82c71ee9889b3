package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/zorder/internal/agent"
	"github.com/BrandonDHaskell/zorder/internal/clock"
	"github.com/BrandonDHaskell/zorder/internal/vault"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the poll loop and trigger handler",
	Long:  "Triggers are read one per line from ZORDER_TRIGGER_FIFO when set, otherwise from stdin.",
	Args:  cobra.NoArgs,
	RunE:  runAgent,
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.RecordDir, 0o700); err != nil {
		return fmt.Errorf("record dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v := openVault(cfg, logger)
	if !v.HasCredentials() {
		logger.Warn("no credentials stored; triggers stay inert until `zorder-agent vault save`", "path", v.Path())
	}

	launcher := agent.FFmpegLauncher{Path: cfg.FFmpegPath}
	if err := launcher.Check(ctx); err != nil {
		logger.Warn("ffmpeg unavailable; recordings will fail", "err", err)
	}

	client := agent.NewClient(cfg.ServerURL, cfg.MachineID, cfg.HMACSecret)
	clk := clock.Real()
	rec := agent.NewRecorder(agent.RecorderConfig{
		Dir:       cfg.RecordDir,
		Duration:  cfg.RecordDuration(),
		Grace:     agent.DefaultStopGrace,
		MachineID: cfg.MachineID,
	}, launcher, client, clk, logger)

	a := agent.New(agent.Dependencies{
		Logger:       logger,
		Clock:        clk,
		Coordinator:  client,
		Credentials:  v,
		Typer:        agent.CommandTyper{Path: cfg.TyperPath},
		Recorder:     rec,
		PollInterval: cfg.PollEvery(),
		ArmDuration:  cfg.ArmWindow(),
	})

	logger.Info("agent configured", "server", cfg.ServerURL, "machine_id", cfg.MachineID)

	triggers := make(chan agent.Trigger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Run(gctx, triggers) })
	g.Go(func() error {
		if err := vault.Watch(gctx, v, logger); err != nil {
			logger.Warn("vault watcher disabled", "err", err)
		}
		return nil
	})

	if cfg.TriggerFIFO != "" {
		src := agent.NewFIFOSource(cfg.TriggerFIFO, logger)
		g.Go(func() error { return src.Run(gctx, triggers) })
	} else {
		// A blocked stdin read cannot be interrupted, so the group does
		// not wait for it.
		src := agent.NewReaderSource(os.Stdin, logger)
		go func() {
			if err := src.Run(gctx, triggers); err != nil {
				logger.Warn("stdin trigger source", "err", err)
			}
		}()
	}

	return g.Wait()
}
