package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kirillkom/file-organiser/internal/bootstrap"
	"github.com/kirillkom/file-organiser/internal/config"
	"github.com/kirillkom/file-organiser/internal/core/domain"
	"github.com/kirillkom/file-organiser/internal/infrastructure/queue/nats"
	"github.com/kirillkom/file-organiser/internal/observability/logging"
)

const service = "organizer-cli"

type rootOptions struct {
	envFile     string
	storageRoot string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "organizer",
		Short: "Administer tenant workspaces and run the annotation pipeline",
		Long: `organizer drives the document annotation pipeline from the command line.

Each tenant owns a workspace with queue, context and organized areas. Files
dropped into queue are extracted, annotated by the configured completion
service and moved into organized next to their .json annotation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	root.PersistentFlags().StringVar(&opts.storageRoot, "storage-root", "", "override STORAGE_ROOT")

	root.AddCommand(
		newTickCmd(opts),
		newRunCmd(opts),
		newStatsCmd(opts),
		newInitCmd(opts),
		newHistoryCmd(opts),
		newTriggerCmd(opts),
	)
	return root
}

func (o *rootOptions) load() (config.Config, *slog.Logger, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return config.Config{}, nil, err
	}
	cfg := config.Load()
	if o.storageRoot != "" {
		cfg.StorageRoot = o.storageRoot
	}
	// stdout carries command output, so logs stay at warn unless asked otherwise
	level := cfg.LogLevel
	if level == "info" {
		level = "warn"
	}
	logger, _ := logging.New(service, logging.Options{Level: level, File: cfg.LogFile})
	return cfg, logger, nil
}

func (o *rootOptions) app(ctx context.Context, processing bool) (*bootstrap.App, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, err
	}
	return bootstrap.New(ctx, cfg, bootstrap.Options{Service: service, Logger: logger, Processing: processing})
}

func newTickCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Process every tenant with queued files once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.app(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer app.Close()
			return printJSON(cmd.OutOrStdout(), app.Scheduler.Tick(cmd.Context()))
		},
	}
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <tenant>",
		Short: "Process one tenant queue now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := domain.ParseTenant(args[0])
			if err != nil {
				return err
			}
			app, err := opts.app(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer app.Close()
			report, err := app.Scheduler.Trigger(cmd.Context(), tenant)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [tenant]",
		Short: "Show queued and organized counts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			if len(args) == 0 {
				stats, err := app.Scheduler.AllStats(cmd.Context())
				if err != nil {
					return err
				}
				if stats == nil {
					stats = []domain.TenantStats{}
				}
				return printJSON(cmd.OutOrStdout(), stats)
			}
			tenant, err := domain.ParseTenant(args[0])
			if err != nil {
				return err
			}
			stats, err := app.Scheduler.Stats(cmd.Context(), tenant)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init <tenant>",
		Short: "Create a tenant workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()
			ws, err := app.Scheduler.EnsureTenant(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ws)
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <tenant>",
		Short: "List recent commits recorded in the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := domain.ParseTenant(args[0])
			if err != nil {
				return err
			}
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			ledger, db, err := bootstrap.OpenLedger(cmd.Context(), cfg.LedgerDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := ledger.ListRecent(cmd.Context(), tenant, limit)
			if err != nil {
				return err
			}
			if records == nil {
				records = []domain.CommitRecord{}
			}
			return printJSON(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")
	return cmd
}

func newTriggerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <tenant>",
		Short: "Ask running workers to process a tenant over NATS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := domain.ParseTenant(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.NATSURL == "" {
				return domain.WrapError(domain.ErrConfiguration, "trigger tenant", fmt.Errorf("NATS_URL is not set"))
			}
			retry := false
			bus, err := nats.New(cfg.NATSURL, nats.Options{
				TriggerSubject:       cfg.NATSTriggerSubject,
				EventSubject:         cfg.NATSEventSubject,
				RetryOnFailedConnect: &retry,
				Logger:               logger,
			})
			if err != nil {
				return err
			}
			defer bus.Close()
			if err := bus.PublishTenantTrigger(cmd.Context(), tenant); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trigger published for %s on %s\n", tenant, cfg.NATSTriggerSubject)
			return nil
		},
	}
}

func printJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
