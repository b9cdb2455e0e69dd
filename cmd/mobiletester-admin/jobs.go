package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mobiletester/mt-api/internal/bootstrap"
	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/data"
	"github.com/mobiletester/mt-api/internal/domain/model"
	"github.com/mobiletester/mt-api/internal/service"
	"github.com/mobiletester/mt-api/internal/util"
)

type listJobsOptions struct {
	OwnerID string
	Status  string
	Limit   int
	Active  bool
}

func parseListJobsFlags(args []string) (listJobsOptions, error) {
	fs := flag.NewFlagSet("list-jobs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts listJobsOptions
	fs.StringVar(&opts.OwnerID, "owner", "", "Owner ID to list jobs for (required unless --active)")
	fs.StringVar(&opts.Status, "status", "", "Optional status filter (queued|running|completed|failed)")
	fs.IntVar(&opts.Limit, "limit", 20, "Maximum rows to display")
	fs.BoolVar(&opts.Active, "active", false, "List queued and running jobs across all owners")

	if err := fs.Parse(args); err != nil {
		return listJobsOptions{}, err
	}

	opts.OwnerID = strings.TrimSpace(opts.OwnerID)
	opts.Status = strings.TrimSpace(opts.Status)
	if !opts.Active && opts.OwnerID == "" {
		return listJobsOptions{}, errors.New("--owner is required unless --active is set")
	}
	if opts.Active && opts.Status != "" {
		return listJobsOptions{}, errors.New("--status cannot be combined with --active")
	}
	if opts.Limit <= 0 {
		return listJobsOptions{}, errors.New("--limit must be greater than zero")
	}

	return opts, nil
}

func runListJobs(cmdCtx *commandContext, args []string) error {
	opts, err := parseListJobsFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, time.Minute)
	defer cancel()

	db, _, err := connectInfraWithOptions(&connectInfraOptions{
		Logger: cmdCtx.Logger,
		Config: &cmdCtx.Config,
		WantDB: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	repo := data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger})

	var jobs []*model.Job
	if opts.Active {
		jobs, err = repo.ListActive(ctx, opts.Limit)
	} else {
		query := &model.ListJobsQuery{OwnerID: opts.OwnerID, Limit: opts.Limit}
		if opts.Status != "" {
			status := model.JobStatus(opts.Status)
			if !status.Valid() {
				return fmt.Errorf("invalid status %q", opts.Status)
			}
			query.Status = &status
		}
		jobs, err = repo.List(ctx, query)
	}
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	return printJobRows(os.Stdout, jobs)
}

func printJobRows(w io.Writer, jobs []*model.Job) error {
	if len(jobs) == 0 {
		if err := writeln(w, "(no jobs found)"); err != nil {
			return fmt.Errorf("print empty jobs notice: %w", err)
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "ID\tOwner\tAPK\tStatus\tDevices\tDuration\tCreated"); err != nil {
		return fmt.Errorf("write jobs header: %w", err)
	}
	for _, job := range jobs {
		if err := writef(
			tw,
			"%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			job.ID,
			job.OwnerID,
			job.ArtifactName,
			job.Status,
			len(job.DeviceIDs),
			util.FormatProcessingDuration(jobDuration(job)),
			job.CreatedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("write job row %q: %w", job.ID, err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush jobs table: %w", err)
	}

	if err := writef(w, "\nTotal: %d\n", len(jobs)); err != nil {
		return fmt.Errorf("print jobs total: %w", err)
	}
	return nil
}

func jobDuration(job *model.Job) time.Duration {
	if job.DurationSeconds != nil {
		return time.Duration(*job.DurationSeconds) * time.Second
	}
	if job.StartedAt != nil && job.CompletedAt != nil {
		return job.CompletedAt.Sub(*job.StartedAt)
	}
	return 0
}

type reapOptions struct {
	Timeout time.Duration
}

func parseReapFlags(args []string) (reapOptions, error) {
	fs := flag.NewFlagSet("reap", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := reapOptions{Timeout: 5 * time.Minute}
	fs.DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "Maximum duration to wait for the cleanup pass")

	if err := fs.Parse(args); err != nil {
		return reapOptions{}, err
	}

	if opts.Timeout <= 0 {
		return reapOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func runReap(cmdCtx *commandContext, args []string) error {
	opts, err := parseReapFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	db, _, err := connectInfraWithOptions(&connectInfraOptions{
		Logger: cmdCtx.Logger,
		Config: &cmdCtx.Config,
		WantDB: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	var artifacts core.ArtifactStore
	store, storeErr := bootstrap.BuildArtifactStore(ctx, cmdCtx.Config.Artifacts, cmdCtx.Logger)
	if storeErr != nil {
		cmdCtx.Logger.Warn("artifact store unavailable, skipping artifact cleanup", "error", storeErr)
	} else {
		artifacts = store
	}

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:      data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger}),
		Config:    cmdCtx.Config.Reaper,
		Artifacts: artifacts,
		Logger:    cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("build reaper: %w", err)
	}

	cmdCtx.Logger.Info("running cleanup pass")
	if cleanupErr := reaper.RunCleanup(ctx); cleanupErr != nil {
		return fmt.Errorf("run cleanup: %w", cleanupErr)
	}

	cmdCtx.Logger.Info("cleanup pass completed")
	return nil
}
