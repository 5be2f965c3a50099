package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/codedrop/internal/app"
	"github.com/dharsanguruparan/codedrop/internal/config"
	"github.com/dharsanguruparan/codedrop/internal/logging"
	"github.com/dharsanguruparan/codedrop/internal/queue"
)

// version is overridden at link time with -ldflags "-X main.version=...".
var version = "dev"

var envFile string

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codedrop",
		Short: "Share files and text behind six digit codes",
		Long: `codedrop runs the sharing API, the cleanup worker and one-off maintenance
tasks. Configuration is read from CODEDROP_* environment variables and an optional .env file.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file merged into the environment")
	cmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newSweepCmd(),
		newReconcileCmd(),
		newEnqueueSweepCmd(),
		newStatsCmd(),
		newVersionCmd(),
	)
	return cmd
}

func loadConfig() (*config.Config, *log.Logger, error) {
	if err := config.LoadDotenv(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.FromEnviron(os.Environ())
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat), nil
}

// withApp builds the App, runs fn and closes it again.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newServeCmd() *cobra.Command {
	var inProcess bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if cmd.Flags().Changed("sweep-in-process") {
					a.Config.SweepInProcess = inProcess
				}
				return a.RunServer(cmd.Context())
			})
		},
	}
	cmd.Flags().BoolVar(&inProcess, "sweep-in-process", false, "Run the cleanup sweeper inside the server")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the asynq cleanup worker and scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				return a.RunWorker(cmd.Context())
			})
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete the blobs of expired shares once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				res, err := a.Sweeper.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "deleted %d blob(s), removed %d schedule entr(ies), purged %d record(s) in %s\n",
					res.DeletedCount, res.RemovedEntries, res.PurgedRecords, res.Duration)
				printKeys(out, res.DeletedKeys)
				return nil
			})
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Delete uploads no live share can reference",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				res, err := a.Sweeper.Reconcile(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "scanned %d upload(s), deleted %d\n", res.Scanned, len(res.DeletedKeys))
				printKeys(out, res.DeletedKeys)
				return nil
			})
		},
	}
}

func newEnqueueSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue-sweep",
		Short: "Ask the worker to sweep now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("parse redis url: %w", err)
			}
			client := asynq.NewClient(redisOpt)
			defer client.Close()
			queued, err := queue.EnqueueSweep(cmd.Context(), client)
			if err != nil {
				return err
			}
			if !queued {
				fmt.Fprintln(cmd.OutOrStdout(), "a sweep is already queued")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sweep queued")
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the total number of shares created",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				total, err := a.Service.TotalShares(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s shares created\n", humanize.Comma(total))
				return nil
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func printKeys(w io.Writer, keys []string) {
	for _, k := range keys {
		fmt.Fprintf(w, "  %s\n", k)
	}
}
