// Command wheelodex runs the jobs that keep a wheel inventory in sync with
// PyPI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/git-pkgs/wheelodex"
	"github.com/git-pkgs/wheelodex/client"
	"github.com/git-pkgs/wheelodex/fetch"
	"github.com/git-pkgs/wheelodex/internal/config"
	"github.com/git-pkgs/wheelodex/internal/inspect"
	"github.com/git-pkgs/wheelodex/internal/inventory"
	"github.com/git-pkgs/wheelodex/internal/process"
	"github.com/git-pkgs/wheelodex/internal/pypi"
	"github.com/git-pkgs/wheelodex/internal/report"
	"github.com/git-pkgs/wheelodex/internal/scan"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// app carries what every subcommand needs once the config is loaded.
type app struct {
	configPath string
	logLevel   string

	cfg config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "wheelodex",
		Short:        "Manage a Wheelodex instance",
		Version:      wheelodex.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (default $"+config.EnvConfig+")")
	root.PersistentFlags().StringVarP(&a.logLevel, "log-level", "l", "", "Set logging level (overrides log_level)")

	root.AddCommand(
		a.initdbCmd(),
		a.scanPyPICmd(),
		a.scanChangelogCmd(),
		a.processQueueCmd(),
		a.processOrphansCmd(),
		a.purgeCmd(),
		a.dumpCmd(),
		a.loadCmd(),
		a.loadEntryPointsCmd(),
	)
	return root
}

func (a *app) setup(stderr io.Writer) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	w := stderr
	if cfg.HumanReadable {
		w = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339}
	}
	a.cfg = cfg
	a.log = zerolog.New(w).Level(level).With().Timestamp().Logger()
	return nil
}

// withInventory opens the inventory for the duration of fn.
func (a *app) withInventory(cmd *cobra.Command, fn func(ctx context.Context, inv *inventory.Inventory) error) error {
	inv, err := inventory.Open(a.cfg.Database.Inventory(),
		inventory.WithLogger(a.log.With().Str("component", "inventory").Logger()),
		inventory.WithVersion(wheelodex.Version),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := inv.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing inventory")
		}
	}()
	return fn(cmd.Context(), inv)
}

// locked runs fn while holding the sync lock.
func (a *app) locked(ctx context.Context, fn func() error) error {
	locker, closeLocker, err := a.cfg.Redis.Locker()
	if err != nil {
		return err
	}
	defer func() { _ = closeLocker() }()

	release, err := locker.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			a.log.Warn().Err(err).Msg("releasing sync lock")
		}
	}()
	return fn()
}

func (a *app) index() *pypi.Client {
	hc := client.NewClient(
		client.WithRetryPolicy(a.cfg.Retry.Policy()),
		client.WithUserAgentOption(a.cfg.PyPI.UserAgent),
	)
	return pypi.New(a.cfg.PyPI.BaseURL, hc, pypi.WithLogger(a.log.With().Str("component", "pypi").Logger()))
}

func (a *app) downloader() fetch.Downloader {
	f := fetch.NewFetcher(
		fetch.WithRetryPolicy(a.cfg.Retry.Policy()),
		fetch.WithUserAgent(a.cfg.PyPI.UserAgent),
	)
	return fetch.NewCircuitBreakerFetcher(f, 0)
}

func (a *app) scanOptions() []scan.Option {
	return []scan.Option{
		scan.WithLogger(a.log.With().Str("component", "scan").Logger()),
		scan.WithConcurrency(a.cfg.Scan.Concurrency),
		scan.WithContinueOnError(a.cfg.Scan.ContinueOnError),
	}
}

func (a *app) report(op string, stats any) {
	if err := report.Write(a.cfg.StatsLogDir, op, stats); err != nil {
		a.log.Warn().Err(err).Str("op", op).Msg("writing stats log")
	}
}

func (a *app) initdbCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "initdb",
		Short: "Initialize the database",
		Long: "Create the database tables and set the PyPI serial to 0. Nothing is done " +
			"if the database already has tables unless --force is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withInventory(cmd, func(ctx context.Context, inv *inventory.Inventory) error {
				tables, err := inv.Tables(ctx)
				if err != nil {
					return err
				}
				if len(tables) > 0 && !force {
					fmt.Fprintln(cmd.OutOrStdout(), "Database appears to already be initialized; doing nothing")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Initializing database ...")
				if err := inv.Migrate(ctx); err != nil {
					return err
				}
				return inv.SetSerial(ctx, 0)
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Force initialization")
	return cmd
}

func (a *app) scanPyPICmd() *cobra.Command {
	var catchUp bool
	cmd := &cobra.Command{
		Use:   "scan-pypi",
		Short: "Scan all PyPI projects for wheels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withInventory(cmd, func(ctx context.Context, inv *inventory.Inventory) error {
				return a.locked(ctx, func() error {
					index := a.index()
					stats, err := scan.NewScanner(index, inv, a.scanOptions()...).Scan(ctx)
					a.report("scan_pypi", stats)
					if err != nil || !catchUp {
						return err
					}
					applied, err := scan.NewApplier(index, inv, a.scanOptions()...).CatchUp(ctx)
					a.report("scan_changelog", applied)
					return err
				})
			})
		},
	}
	cmd.Flags().BoolVar(&catchUp, "catch-up", false, "Apply changelog events recorded during the scan afterwards")
	return cmd
}

func (a *app) scanChangelogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan-changelog",
		Short: "Scan the PyPI changelog for new wheels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withInventory(cmd, func(ctx context.Context, inv *inventory.Inventory) error {
				return a.locked(ctx, func() error {
					stats, err := scan.NewApplier(a.index(), inv, a.scanOptions()...).CatchUp(ctx)
					if errors.Is(err, scan.ErrNoSerial) {
						return fmt.Errorf("no saved state to update: %w", err)
					}
					a.report("scan_changelog", stats)
					return err
				})
			})
		},
	}
}

func (a *app) processQueueCmd() *cobra.Command {
	var maxSize int64
	cmd := &cobra.Command{
		Use:   "process-queue",
		Short: "Download and analyze queued wheels",
		Long: "Download and analyze wheels that have been registered but not analyzed yet. " +
			"Only wheels for the latest version with wheels of each project are analyzed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("max-wheel-size") {
				maxSize = a.cfg.MaxWheelSize
			}
			return a.withInventory(cmd, func(ctx context.Context, inv *inventory.Inventory) error {
				insp := inspect.NewCommand(a.cfg.Inspector.Command, a.cfg.Inspector.Version)
				p := process.New(inv, a.downloader(), insp,
					process.WithLogger(a.log.With().Str("component", "process").Logger()))
				stats, err := p.ProcessQueue(ctx, maxSize)
				a.report("process_queue", stats)
				return err
			})
		},
	}
	cmd.Flags().Int64VarP(&maxSize, "max-wheel-size", "S", 0, "Maximum size of wheels to process (0 = unlimited)")
	return cmd
}

func (a *app) processOrphansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process-orphan-wheels",
		Short: "Register or expire orphan wheels",
		Long: "Look up every orphan wheel on PyPI. Wheels that are found are registered and " +
			"no longer orphaned; those still missing after max_orphan_age are deleted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withInventory(cmd, func(ctx context.Context, inv *inventory.Inventory) error {
				stats, err := scan.NewResolver(a.index(), inv, a.scanOptions()...).ResolveAll(ctx, a.cfg.MaxOrphanAge)
				a.report("process_orphan_wheels", stats)
				return err
			})
		},
	}
}

type purgeStats struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Deleted int       `json:"deleted"`
}

func (a *app) purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-old-versions",
		Short: "Delete old versions from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withInventory(cmd, func(ctx context.Context, inv *inventory.Inventory) error {
				stats := purgeStats{Start: time.Now().UTC()}
				n, err := inv.PurgeOldVersions(ctx)
				stats.End, stats.Deleted = time.Now().UTC(), n
				a.report("purge_old_versions", stats)
				if err != nil {
					return err
				}
				a.log.Info().Int("deleted", n).Msg("old versions purged")
				return nil
			})
		},
	}
}
