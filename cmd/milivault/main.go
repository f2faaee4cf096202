// Command milivault runs the militaria listing crawler: a scheduler daemon,
// one-shot passes, and an interactive menu when invoked with no arguments.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/peposaru/milivault/avail"
	"github.com/peposaru/milivault/catalog"
	"github.com/peposaru/milivault/dbopen"
	"github.com/peposaru/milivault/detail"
	"github.com/peposaru/milivault/fetch"
	"github.com/peposaru/milivault/gallery"
	"github.com/peposaru/milivault/imagestore"
	"github.com/peposaru/milivault/profile"
	"github.com/peposaru/milivault/sched"
	"github.com/peposaru/milivault/selector"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	profilesDir string
	dbPath      string
	sites       string
	credentials string
	badList     string
	logLevel    string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:           "milivault",
		Short:         "Federated militaria listing crawler",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// No subcommand: the interactive menu.
			return runMenu(cmd.Context(), &flags)
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.profilesDir, "profiles", "profiles", "directory of site profile JSON files")
	pf.StringVar(&flags.dbPath, "db", "db/milivault.db", "catalog database path")
	pf.StringVar(&flags.sites, "sites", "", "site selection, e.g. 1,3-5,7 (empty = all)")
	pf.StringVar(&flags.credentials, "credentials", "", "S3 credentials JSON (empty disables imagery)")
	pf.StringVar(&flags.badList, "bad-images", "bad_images.txt", "known-bad image URL list")
	pf.StringVar(&flags.logLevel, "log-level", env("LOG_LEVEL", "info"), "debug|info|warn|error")

	cmd.AddCommand(newRunCmd(&flags))
	cmd.AddCommand(newScrapeCmd(&flags))
	cmd.AddCommand(newAvailCmd(&flags))
	cmd.AddCommand(newIntegrityCmd(&flags))
	cmd.AddCommand(newSitesCmd(&flags))
	cmd.SetContext(signalContext())
	return cmd
}

func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

// app is the wired pipeline shared by every subcommand.
type app struct {
	logger   *slog.Logger
	db       *sql.DB
	store    *catalog.Store
	profiles []*profile.SiteProfile
	fetcher  *fetch.Fetcher
	runner   *sched.PipelineRunner
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// setup loads profiles, opens the catalog, and wires the pipeline. Profiles
// that fail structural or selector validation are dropped with an error log;
// a bad profile never stops the rest.
func setup(flags *rootFlags) (*app, error) {
	logger := newLogger(flags.logLevel)

	profiles, err := profile.LoadDir(flags.profilesDir, logger)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	var usable []*profile.SiteProfile
	for _, p := range profiles {
		if !p.IsWorking {
			logger.Info("profile disabled", "site", p.SourceName, "desc", p.JSONDesc)
			continue
		}
		if err := selector.ValidateProfile(p, gallery.Known); err != nil {
			logger.Error("profile rejected", "site", p.SourceName, "err", err)
			continue
		}
		usable = append(usable, p)
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("no usable profiles in %s", flags.profilesDir)
	}

	selected, err := selectSites(usable, flags.sites)
	if err != nil {
		return nil, err
	}

	db, err := dbopen.Open(flags.dbPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(catalog.Schema))
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	store := catalog.NewStore(db)
	fetcher := fetch.New(fetch.Config{})
	a := &app{
		logger:   logger,
		db:       db,
		store:    store,
		profiles: selected,
		fetcher:  fetcher,
		runner: &sched.PipelineRunner{
			Fetcher: fetcher,
			Store:   store,
			Tracker: avail.New(fetcher, store, logger),
			Logger:  logger,
		},
	}

	if flags.credentials != "" {
		creds, err := imagestore.LoadCredentials(flags.credentials)
		if err != nil {
			a.close()
			return nil, err
		}
		bad, err := imagestore.LoadBadList(flags.badList)
		if err != nil {
			a.close()
			return nil, err
		}
		client := imagestore.NewClient(creds)
		a.runner.NewImages = func(p *profile.SiteProfile) detail.ImageAcquirer {
			return &imagestore.Uploader{
				Client:  client,
				Bucket:  creds.BucketName,
				Region:  creds.Region,
				Fetcher: fetcher,
				Store:   store,
				Bad:     bad,
				Workers: p.ImageWorkers,
				Logger:  logger,
			}
		}
	}
	return a, nil
}

func selectSites(profiles []*profile.SiteProfile, sel string) ([]*profile.SiteProfile, error) {
	idx, err := profile.ParseSelection(sel, len(profiles))
	if err != nil {
		return nil, fmt.Errorf("site selection: %w", err)
	}
	out := make([]*profile.SiteProfile, 0, len(idx))
	for _, i := range idx {
		out = append(out, profiles[i-1])
	}
	return out, nil
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	var (
		mode        string
		availEvery  time.Duration
		scrapeEvery time.Duration
		crossSite   int
		statusAddr  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := sched.ParseRunMode(mode)
			if err != nil {
				return err
			}
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()

			s := sched.New(sched.Config{
				Mode:              m,
				AvailabilityEvery: availEvery,
				ScrapeEvery:       scrapeEvery,
				CrossSiteLimit:    crossSite,
			}, a.profiles, a.runner, a.logger)

			if statusAddr != "" {
				srv := &http.Server{Addr: statusAddr, Handler: sched.StatusHandler(s, a.store)}
				go func() {
					a.logger.Info("statusz listening", "addr", statusAddr)
					if err := srv.ListenAndServe(); err != http.ErrServerClosed {
						a.logger.Error("statusz server", "err", err)
					}
				}()
				defer srv.Close()
			}

			a.logger.Info("scheduler starting", "mode", mode, "sites", len(a.profiles))
			if err := s.Run(cmd.Context()); err == context.Canceled {
				a.logger.Info("clean shutdown")
				return nil
			} else if err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "both", "availability|scrape|both|data_integrity")
	cmd.Flags().DurationVar(&availEvery, "availability-every", 12*time.Hour, "availability pass cadence")
	cmd.Flags().DurationVar(&scrapeEvery, "scrape-every", 24*time.Hour, "scrape pass cadence")
	cmd.Flags().IntVar(&crossSite, "cross-site-limit", 10, "max concurrent availability cohorts")
	cmd.Flags().StringVar(&statusAddr, "statusz", "", "serve /statusz on this address")
	return cmd
}

func newScrapeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "One-shot scrape pass over the selected sites",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()
			return scrapeAll(cmd.Context(), a, a.profiles)
		},
	}
}

func newAvailCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "avail",
		Short: "One-shot availability pass over the selected sites",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()
			return availAll(cmd.Context(), a, a.profiles)
		},
	}
}

func newIntegrityCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "integrity",
		Short: "Ping the catalog and repair invariant drift",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()
			return a.runner.Integrity(cmd.Context())
		},
	}
}

func newSitesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List the loaded site profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()
			for i, p := range a.profiles {
				archive := ""
				if p.IsSoldArchive {
					archive = " (sold archive)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%3d  %-30s %s%s\n", i+1, p.SourceName, p.JSONDesc, archive)
			}
			return nil
		},
	}
}

// scrapeAll runs the scrape path sequentially; per-site failures are logged
// and the next site proceeds.
func scrapeAll(ctx context.Context, a *app, profiles []*profile.SiteProfile) error {
	for _, p := range profiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.runner.Scrape(ctx, p); err != nil {
			a.logger.Error("scrape failed", "site", p.SourceName, "err", err)
		}
	}
	return nil
}

// availAll runs availability per cohort. Sold-archive profiles are routed
// to the scrape path instead: absence from a sold archive means nothing.
func availAll(ctx context.Context, a *app, profiles []*profile.SiteProfile) error {
	var live, archives []*profile.SiteProfile
	for _, p := range profiles {
		if p.IsSoldArchive {
			archives = append(archives, p)
		} else {
			live = append(live, p)
		}
	}
	for _, cohort := range profile.GroupBySource(live) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.runner.Availability(ctx, cohort); err != nil {
			a.logger.Error("availability failed", "site", cohort[0].SourceName, "err", err)
		}
	}
	return scrapeAll(ctx, a, archives)
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
