package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/photo-intelligence/internal/feed"
	"github.com/fpang/photo-intelligence/internal/jobs"
	"github.com/fpang/photo-intelligence/internal/lambdaboot"
	"github.com/fpang/photo-intelligence/internal/pipeline"
)

// process flags
var (
	batchFlag int
	drainFlag bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Lease and run one batch of pending AI jobs",
	Long: `process runs the same batch the AI Worker Lambda runs. With --drain it
keeps leasing batches until one comes back short.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		batch := batchFlag
		if batch <= 0 {
			batch = cfg.Worker.BatchSize
		}
		w := lambdaboot.InitWorker(ctx, clients, cfg)
		var total pipeline.BatchStats
		for {
			stats, err := w.Worker.ProcessBatch(ctx, batch)
			total.Leased += stats.Leased
			total.Processed += stats.Processed
			total.Succeeded += stats.Succeeded
			total.Failed += stats.Failed
			total.Deferred += stats.Deferred
			if err != nil {
				return err
			}
			if !drainFlag || stats.Leased < batch || ctx.Err() != nil {
				break
			}
		}
		return printJSON(total)
	},
}

// sweep flags
var sweepRetriesFlag int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Requeue failed AI jobs that have retries left",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		retries := sweepRetriesFlag
		if retries <= 0 {
			retries = cfg.Sweep.MaxRetries
		}
		n, err := pipeline.NewSweeper(jobStore(), retries, cfg.Sweep.BatchSize).Run(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]int{"requeued": n})
	},
}

// enqueue flags
var enqueueUserFlag string

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <photoId>...",
	Short: "Create or reset the AI job for one or more photos",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		photos := lambdaboot.InitPhotos(ctx, clients.Config, cfg.Photos)
		queue := jobStore()
		var out []*pipeline.Job
		for _, id := range args {
			userID := enqueueUserFlag
			if userID == "" {
				p, err := photos.GetByID(ctx, id)
				if err != nil {
					return fmt.Errorf("look up photo %s: %w", id, err)
				}
				if p == nil {
					log.Warn().Str("photoId", id).Msg("Photo not found, skipping")
					continue
				}
				userID = p.UserID
			}
			job, err := queue.Enqueue(ctx, id, userID)
			if errors.Is(err, pipeline.ErrJobLeased) {
				log.Warn().Str("photoId", id).Msg("AI job is in flight, skipping")
				continue
			}
			if err != nil {
				return fmt.Errorf("enqueue %s: %w", id, err)
			}
			out = append(out, job)
		}
		return printJSON(out)
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and requeue AI jobs",
}

// jobs list flags
var (
	jobsStatusFlag string
	jobsLimitFlag  int
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs in one status, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		status := pipeline.Status(jobsStatusFlag)
		if !status.Valid() {
			return fmt.Errorf("unknown status %q", jobsStatusFlag)
		}
		list, err := jobStore().ListByStatus(ctx, status, jobsLimitFlag)
		if err != nil {
			return err
		}
		return printJSON(list)
	},
}

// jobs show flags
var jobsByPhotoFlag bool

var jobsShowCmd = &cobra.Command{
	Use:   "show <jobId>",
	Short: "Show one job, by job ID or with --photo by photo ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		var (
			job *pipeline.Job
			err error
		)
		if jobsByPhotoFlag {
			job, err = jobStore().GetJobByPhoto(ctx, args[0])
		} else {
			if !jobs.ValidID(jobs.AIJobPrefix, args[0]) {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			job, err = jobStore().GetJob(ctx, args[0])
		}
		if err != nil {
			return err
		}
		if job == nil {
			return errors.New("job not found")
		}
		return printJSON(job)
	},
}

var jobsRequeueCmd = &cobra.Command{
	Use:   "requeue <jobId>",
	Short: "Reset one job to pending unless a worker holds it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		if !jobs.ValidID(jobs.AIJobPrefix, args[0]) {
			return fmt.Errorf("invalid job id %q", args[0])
		}
		if err := jobStore().Requeue(ctx, args[0]); err != nil {
			return err
		}
		return printJSON(map[string]string{"id": args[0], "status": string(pipeline.StatusPending)})
	},
}

// feed flags
var (
	feedUserFlag   string
	feedModeFlag   string
	feedLimitFlag  int
	feedSeedFlag   string
	feedCursorFlag string
	feedYearFlag   int
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Render one Nostalgia Feed page for a user",
	Long: `feed calls the feed engine directly. The page is recorded in the
user's session exactly as an API call would record it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		queue := jobStore()
		svc := feed.NewService(
			lambdaboot.InitPhotos(ctx, clients.Config, cfg.Photos),
			lambdaboot.InitSessions(ctx, queue, cfg.Feed),
			feed.ServiceConfig{Lambda: &cfg.Feed.Lambda},
		)
		resp, err := svc.GetNostalgiaFeed(ctx, feedUserFlag, feed.Request{
			Mode:   feed.Mode(feedModeFlag),
			Limit:  feedLimitFlag,
			Seed:   feedSeedFlag,
			Cursor: feedCursorFlag,
			Year:   feedYearFlag,
		})
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

func init() {
	processCmd.Flags().IntVar(&batchFlag, "batch", 0, "Jobs per batch (0 = worker.batch_size)")
	processCmd.Flags().BoolVar(&drainFlag, "drain", false, "Keep processing until a batch comes back short")

	sweepCmd.Flags().IntVar(&sweepRetriesFlag, "max-retries", 0, "Retry cap (0 = sweep.max_retries)")

	enqueueCmd.Flags().StringVar(&enqueueUserFlag, "user", "", "Owner user ID (default: read from the photo)")

	jobsListCmd.Flags().StringVar(&jobsStatusFlag, "status", string(pipeline.StatusFailed), "pending|processing|completed|failed")
	jobsListCmd.Flags().IntVar(&jobsLimitFlag, "limit", 50, "Maximum jobs to list")
	jobsShowCmd.Flags().BoolVar(&jobsByPhotoFlag, "photo", false, "Treat the argument as a photo ID")
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsRequeueCmd)

	feedCmd.Flags().StringVarP(&feedUserFlag, "user", "u", "", "User ID (required)")
	feedCmd.Flags().StringVarP(&feedModeFlag, "mode", "m", string(feed.ModeNostalgia), "nostalgia|on_this_day|deep_dive_year|serendipity")
	feedCmd.Flags().IntVarP(&feedLimitFlag, "limit", "n", feed.DefaultLimit, "Items per page")
	feedCmd.Flags().StringVar(&feedSeedFlag, "seed", "", "Session seed (default: reuse the session's)")
	feedCmd.Flags().StringVar(&feedCursorFlag, "cursor", "", "Page cursor from a previous response")
	feedCmd.Flags().IntVar(&feedYearFlag, "year", 0, "Year for deep_dive_year")
	_ = feedCmd.MarkFlagRequired("user")
}
