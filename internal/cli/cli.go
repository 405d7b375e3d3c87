// ============================================================================
// Importer CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for the import engine.
//
// Command Structure:
//   importd                        # Root command
//   ├── run                        # Start the engine (scheduler + pipeline)
//   │   └── --config, -c           # Specify config file
//   ├── create                     # Create an import job
//   │   ├── --source               # url | category
//   │   ├── --keywords, --departments, --date-begin, --date-end
//   │   ├── --medium, --geo, --classification
//   │   └── --max-items, --skip-upload, --skip-existing, --price
//   ├── status <job-id>            # Show one job
//   ├── list [--status]            # List jobs, FIFO
//   ├── pause <job-id>             # Request a user pause
//   ├── resume <job-id>            # Resume a paused job
//   ├── cancel <job-id>            # Cancel a non-terminal job
//   ├── --version                  # Display version information
//   └── --help                     # Display help information
//
// run Command:
//   1. Load config file and secrets
//   2. Open the store, journal, and image cache
//   3. Wire the governor, pipeline, and scheduler
//   4. Start the Metrics HTTP server (if enabled)
//   5. Listen for system signals (SIGINT, SIGTERM)
//   6. Cancel the scheduler context and shut down gracefully
//
// Control commands (pause/resume/cancel) write directly to the store; the
// running engine observes the change at its next between-items re-read.
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/artisedge/importer/internal/catalog"
	"github.com/artisedge/importer/internal/describe"
	"github.com/artisedge/importer/internal/imagecache"
	"github.com/artisedge/importer/internal/journal"
	"github.com/artisedge/importer/internal/metrics"
	"github.com/artisedge/importer/internal/pipeline"
	"github.com/artisedge/importer/internal/ratelimit"
	"github.com/artisedge/importer/internal/scheduler"
	"github.com/artisedge/importer/internal/store"
	"github.com/artisedge/importer/internal/storefront"
	"github.com/artisedge/importer/pkg/types"
)

var log = slog.Default()

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "importd",
		Short: "ArtisEdge importer: a rate-limited museum catalog import engine",
		Long: `ArtisEdge importer drives durable import jobs that pull public-domain
artwork records from a museum catalog API, enrich them with generated
descriptions and taxonomy labels, and publish them to a storefront.
Jobs survive restarts, pause under rate limits, and resume where they
left off.`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildCreateCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildListCommand())
	rootCmd.AddCommand(buildControlCommand("pause", "Request a pause of a running job",
		func(ctx context.Context, st *store.Store, id types.JobID) error {
			return st.RequestPause(ctx, id)
		}))
	rootCmd.AddCommand(buildControlCommand("resume", "Resume a paused job",
		func(ctx context.Context, st *store.Store, id types.JobID) error {
			return st.RequestResume(ctx, id, time.Now())
		}))
	rootCmd.AddCommand(buildControlCommand("cancel", "Cancel a job and keep its partial results",
		func(ctx context.Context, st *store.Store, id types.JobID) error {
			return st.RequestCancel(ctx, id)
		}))

	return rootCmd
}

// ============================================================================
// run
// ============================================================================

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the import engine",
		Long:  "Start the scheduler loop and process import jobs until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine()
		},
	}
}

func runEngine() error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("failed to open transition journal: %w", err)
		}
		defer jnl.Close()
	}

	images, err := imagecache.New(cfg.ImageCache.Dir)
	if err != nil {
		return fmt.Errorf("failed to prepare image cache: %w", err)
	}

	governor := ratelimit.NewGovernor(map[ratelimit.Service]ratelimit.Budget{
		ratelimit.ServiceCatalog: {
			MaxCalls: cfg.Catalog.Budget.MaxCalls,
			Window:   cfg.Catalog.Budget.Window(),
		},
		ratelimit.ServiceDescribe: {
			MaxCalls: cfg.Describe.Budget.MaxCalls,
			Window:   cfg.Describe.Budget.Window(),
			MaxUnits: cfg.Describe.Budget.MaxUnits,
		},
		ratelimit.ServiceStorefront: {
			MaxCalls: cfg.Storefront.Budget.MaxCalls,
			Window:   cfg.Storefront.Budget.Window(),
		},
	})

	pipe := pipeline.New(
		catalog.NewClient(cfg.Catalog.BaseURL),
		describe.NewClient(cfg.Describe.BaseURL, cfg.Describe.APIKey, cfg.Describe.Model),
		storefront.NewClient(cfg.Storefront.BaseURL, cfg.Storefront.APIToken),
		images,
		governor,
		st,
	)

	collector := metrics.NewCollector()
	if cfg.Metrics.Enabled {
		go func() {
			log.Info("metrics server starting", "port", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	sched := scheduler.New(st, pipe, jnl, collector, scheduler.Config{
		PollInterval: cfg.PollInterval(),
		ItemDelay:    cfg.ItemDelay(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("shutdown signal received", "signal", sig)
		cancel()
	}()

	log.Info("engine started", "config", configFile, "store", cfg.Store.Path)
	sched.Run(ctx)
	log.Info("engine stopped")
	return nil
}

// ============================================================================
// create
// ============================================================================

func buildCreateCommand() *cobra.Command {
	var (
		source         string
		keywords       string
		departments    []int
		dateBegin      int
		dateEnd        int
		medium         string
		geo            string
		classification string
		maxItems       int
		skipUpload     bool
		skipExisting   bool
		price          float64
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an import job",
		Long:  "Create a pending import job; the running engine picks it up in FIFO order",
		RunE: func(cmd *cobra.Command, args []string) error {
			src := types.JobSource(source)
			if src != types.SourceURL && src != types.SourceCategory {
				return fmt.Errorf("invalid source %q (want url or category)", source)
			}
			if keywords == "" && len(departments) == 0 {
				return fmt.Errorf("at least one of --keywords or --departments is required")
			}

			job := &types.Job{
				ID:     types.JobID(uuid.NewString()),
				Source: src,
				Query: types.JobQuery{
					Keywords:       keywords,
					DepartmentIDs:  departments,
					DateBegin:      dateBegin,
					DateEnd:        dateEnd,
					Medium:         medium,
					GeoLocation:    geo,
					Classification: classification,
				},
				Options: types.JobOptions{
					MaxItems:     maxItems,
					SkipUpload:   skipUpload,
					SkipExisting: skipExisting,
					DefaultPrice: price,
				},
			}

			return withStore(func(ctx context.Context, st *store.Store) error {
				if err := st.Create(ctx, job); err != nil {
					return err
				}
				fmt.Printf("Created job %s (pending)\n", job.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&source, "source", "category", "Job source: url or category")
	cmd.Flags().StringVar(&keywords, "keywords", "", "Search keywords")
	cmd.Flags().IntSliceVar(&departments, "departments", nil, "Department ids to search within")
	cmd.Flags().IntVar(&dateBegin, "date-begin", 0, "Earliest object year (inclusive)")
	cmd.Flags().IntVar(&dateEnd, "date-end", 0, "Latest object year (inclusive)")
	cmd.Flags().StringVar(&medium, "medium", "", "Medium filter (substring match)")
	cmd.Flags().StringVar(&geo, "geo", "", "Geographic filter, matched against country and culture")
	cmd.Flags().StringVar(&classification, "classification", "", "Classification filter (substring match)")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "Cap on the number of items (0 = no cap)")
	cmd.Flags().BoolVar(&skipUpload, "skip-upload", false, "Enrich without publishing to the storefront")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "Skip publishing objects already published")
	cmd.Flags().Float64Var(&price, "price", 0, "Default listing price for published items")

	return cmd
}

// ============================================================================
// status / list
// ============================================================================

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job's status and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				j, err := st.Get(ctx, types.JobID(args[0]))
				if err != nil {
					return err
				}
				printJob(j)
				return nil
			})
		},
	}
}

func buildListCommand() *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in creation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				jobs, err := st.List(ctx, types.JobStatus(statusFilter))
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Println("No jobs found")
					return nil
				}
				fmt.Printf("%-38s %-12s %-9s %9s  %s\n",
					"ID", "STATUS", "PROGRESS", "PROCESSED", "CREATED")
				for _, j := range jobs {
					fmt.Printf("%-38s %-12s %8d%% %4d/%-4d  %s\n",
						j.ID, describeStatus(j), j.Progress,
						len(j.ProcessedIDs), j.TotalObjects,
						j.CreatedAt.Local().Format("2006-01-02 15:04:05"))
				}

				stats, err := st.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Println()
				var parts []string
				for _, status := range []types.JobStatus{
					types.StatusPending, types.StatusInitializing, types.StatusInitialized,
					types.StatusProcessing, types.StatusPaused,
					types.StatusCompleted, types.StatusFailed,
				} {
					if n := stats[status]; n > 0 {
						parts = append(parts, fmt.Sprintf("%d %s", n, status))
					}
				}
				fmt.Printf("Total: %d (%s)\n", len(jobs), strings.Join(parts, ", "))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (pending, processing, paused, ...)")
	return cmd
}

func printJob(j *types.Job) {
	fmt.Printf("Job:        %s\n", j.ID)
	fmt.Printf("Status:     %s\n", describeStatus(j))
	fmt.Printf("Source:     %s\n", j.Source)
	if j.Query.Keywords != "" {
		fmt.Printf("Keywords:   %s\n", j.Query.Keywords)
	}
	fmt.Printf("Progress:   %d%% (%d processed, %d failed, %d total)\n",
		j.Progress, len(j.ProcessedIDs), len(j.FailedIDs), j.TotalObjects)
	if j.ResumeAfter != nil {
		fmt.Printf("Resumes:    %s\n", j.ResumeAfter.Local().Format(time.RFC1123))
	}
	if j.Error != "" {
		fmt.Printf("Error:      %s\n", j.Error)
	}
	fmt.Printf("Created:    %s\n", j.CreatedAt.Local().Format(time.RFC1123))
	if j.CompletedAt != nil {
		fmt.Printf("Completed:  %s\n", j.CompletedAt.Local().Format(time.RFC1123))
	}

	skipped := 0
	for _, r := range j.Results {
		if r.Skipped {
			skipped++
		}
	}
	if skipped > 0 {
		fmt.Printf("Skipped:    %d ineligible or vanished objects\n", skipped)
	}
}

func describeStatus(j *types.Job) string {
	if j.Status == types.StatusPaused && j.PauseReason != "" {
		return fmt.Sprintf("%s(%s)", j.Status, j.PauseReason)
	}
	return string(j.Status)
}

// ============================================================================
// pause / resume / cancel
// ============================================================================

func buildControlCommand(verb, short string,
	action func(ctx context.Context, st *store.Store, id types.JobID) error) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := types.JobID(args[0])
			return withStore(func(ctx context.Context, st *store.Store) error {
				if err := action(ctx, st, id); err != nil {
					return err
				}
				fmt.Printf("%s requested for job %s\n", capitalize(verb), id)
				return nil
			})
		},
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// withStore opens the configured store for a one-shot control command.
func withStore(fn func(ctx context.Context, st *store.Store) error) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return fn(ctx, st)
}
