package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/gitdeploy/internal/server"
	"github.com/zulandar/gitdeploy/internal/updater"
)

func newServeCmd() *cobra.Command {
	var (
		configPath  string
		port        int
		noScheduler bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver, admin API and update scheduler",
		Long: `Serves the GitHub webhook endpoint, the JSON admin API and Prometheus
metrics, and runs the update sweep on the configured schedule until
interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, noScheduler)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default server.port)")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run scheduled update sweeps")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, noScheduler bool) error {
	a, err := openApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if port == 0 {
		port = a.cfg.Server.Port
	}
	out := cmd.OutOrStdout()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	if !noScheduler {
		sched, err := updater.NewScheduler(a.cfg.Scheduler.Schedule, a.checker, a.log)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Update sweep scheduled: %s\n", a.cfg.Scheduler.Schedule)
		wg.Go(func() { sched.Run(ctx) })
	}

	err = server.Start(ctx, server.StartOpts{
		Port:       port,
		AdminToken: a.cfg.Server.AdminToken,
		Repos:      a.repos,
		Deployer:   a.deployer,
		Checker:    a.checker,
		Webhook:    a.webhook,
		Gatherer:   a.registry,
		Log:        a.log,
		Out:        out,
	})
	cancel()
	wg.Wait()
	return err
}
