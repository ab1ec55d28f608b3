package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/botvisor"
	"github.com/loykin/botvisor/internal/logger"
	"github.com/spf13/cobra"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the botvisor daemon",
		Long: `Start the daemon serving the bot API. Without a config file the defaults
apply: listen on :3000 (or $PORT), bots.json registry, logs/ directory.

Examples:
  botvisor serve                          # Defaults and BOTVISOR_* environment
  botvisor serve botvisor.toml            # Start with a specific config file
  botvisor serve --daemonize --pidfile=botvisor.pid --logfile=botvisor.out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(cmd.Context(), serveFlags, args)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")

	return cmd
}

func runServeCommand(ctx context.Context, flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}

	cfg, err := botvisor.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize {
		pid, err := daemonize(os.Args[1:], flags.PidFile, flags.LogFile)
		if err != nil {
			return err
		}
		fmt.Printf("Daemon started with PID %d\n", pid)
		return nil
	}
	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	closer, err := logger.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer func() { _ = closer.Close() }()

	if err := botvisor.RegisterMetricsDefault(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	app, err := botvisor.Open(ctx, cfg)
	if err != nil {
		return err
	}
	srv, err := app.NewHTTPServer()
	if err != nil {
		_ = app.Close(ctx)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Serve(ctx, srv)
}
