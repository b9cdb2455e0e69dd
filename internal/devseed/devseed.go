// Package devseed populates a development database with demonstration jobs
// covering every lifecycle state, so the API and admin tooling have data to
// show without running a real device matrix.
package devseed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/data"
	"github.com/mobiletester/mt-api/internal/domain/model"
)

// DefaultOwnerID is the identity the seeded jobs belong to. It matches the
// default mock-auth identity so DEV=true setups see the data immediately.
const DefaultOwnerID = "dev-user"

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB   *sql.DB
	jobs core.JobRepository
}

// NewServices constructs the repositories required for seeding using the provided DB.
func NewServices(db *sql.DB) Services {
	return Services{
		DB:   db,
		jobs: data.NewJobRepo(db, data.RepoConfig{}),
	}
}

// Run executes the development seeding workflow. Seeding is skipped when the
// owner already has jobs, so repeated runs do not pile up duplicates.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	existing, err := svcs.jobs.List(ctx, &model.ListJobsQuery{OwnerID: DefaultOwnerID, Limit: 1})
	if err != nil {
		return fmt.Errorf("check existing jobs: %w", err)
	}
	if len(existing) > 0 {
		if logger != nil {
			logger.InfoContext(ctx, "seed data already present, skipping", "owner_id", DefaultOwnerID)
		}
		return nil
	}

	failures := 0
	for _, seed := range demoJobs() {
		if seedErr := createSeedJob(ctx, svcs.jobs, seed); seedErr != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to seed job", "apk", seed.Request.ArtifactName, "error", seedErr)
			}
			failures++
			continue
		}
		if logger != nil {
			logger.InfoContext(ctx, "seeded job", "apk", seed.Request.ArtifactName, "status", seed.TargetStatus)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

// seedJob describes one demo job and the lifecycle state to drive it to.
type seedJob struct {
	Request      model.CreateJobRequest
	TargetStatus model.JobStatus
	MatrixID     string
	Results      []model.TestResult
	Report       *model.Report
	Duration     int
	FailReason   string
}

func createSeedJob(ctx context.Context, jobs core.JobRepository, seed seedJob) error {
	job, err := jobs.Create(ctx, &seed.Request)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	if seed.TargetStatus == model.JobStatusQueued {
		return nil
	}

	claimed, err := jobs.MarkRunning(ctx, job.ID, seed.MatrixID)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if !claimed {
		return fmt.Errorf("job %s was not claimable", job.ID)
	}

	switch seed.TargetStatus {
	case model.JobStatusRunning:
		return nil
	case model.JobStatusCompleted:
		done, completeErr := jobs.CompleteRun(ctx, core.CompleteRunParams{
			ID:              job.ID,
			Results:         seed.Results,
			Report:          seed.Report,
			DurationSeconds: seed.Duration,
		})
		if completeErr != nil {
			return fmt.Errorf("complete: %w", completeErr)
		}
		if !done {
			return fmt.Errorf("job %s lost completion race", job.ID)
		}
		return nil
	case model.JobStatusFailed:
		done, failErr := jobs.FailRun(ctx, core.FailRunParams{
			ID:      job.ID,
			Reason:  seed.FailReason,
			Results: seed.Results,
		})
		if failErr != nil {
			return fmt.Errorf("fail: %w", failErr)
		}
		if !done {
			return fmt.Errorf("job %s lost failure race", job.ID)
		}
		return nil
	default:
		return fmt.Errorf("unsupported target status %q", seed.TargetStatus)
	}
}

func demoJobs() []seedJob {
	stringPtr := func(s string) *string { return &s }

	return []seedJob{
		{
			Request: model.CreateJobRequest{
				OwnerID:      DefaultOwnerID,
				ArtifactRef:  "apks/dev-user/shopping-demo.apk",
				ArtifactName: "shopping-demo.apk",
				Context:      "Checkout flow regression suite",
				DeviceIDs:    []string{"samsung_galaxy_s24", "pixel_8_pro"},
			},
			TargetStatus: model.JobStatusQueued,
		},
		{
			Request: model.CreateJobRequest{
				OwnerID:      DefaultOwnerID,
				ArtifactRef:  "apks/dev-user/media-player.apk",
				ArtifactName: "media-player.apk",
				DeviceIDs:    []string{"pixel_7"},
			},
			TargetStatus: model.JobStatusRunning,
			MatrixID:     "demo-matrix-running",
		},
		{
			Request: model.CreateJobRequest{
				OwnerID:      DefaultOwnerID,
				ArtifactRef:  "apks/dev-user/fitness-tracker.apk",
				ArtifactName: "fitness-tracker.apk",
				Context:      "Nightly smoke run",
				DeviceIDs:    []string{"samsung_galaxy_s24", "pixel_8_pro"},
			},
			TargetStatus: model.JobStatusCompleted,
			MatrixID:     "demo-matrix-completed",
			Duration:     412,
			Results: []model.TestResult{
				{
					DeviceID:        "samsung_galaxy_s24",
					Outcome:         model.OutcomePassed,
					DurationSeconds: 198,
					Log:             "All 42 instrumentation tests passed.",
				},
				{
					DeviceID:        "pixel_8_pro",
					Outcome:         model.OutcomeFailed,
					DurationSeconds: 214,
					Log:             "Test syncWorkoutHistory failed: timeout waiting for sync service.",
				},
			},
			Report: &model.Report{
				Summary:     "1 of 2 devices passed. Sync timeout on Pixel 8 Pro needs attention.",
				PassRate:    50,
				GeneratedBy: model.ReportSourceRules,
				Issues: []model.Issue{
					{
						Title:       "Sync timeout on Pixel 8 Pro",
						Description: "syncWorkoutHistory exceeded the 30s sync service deadline.",
						Severity:    model.SeverityHigh,
						Fix:         "Make the sync path tolerant of slow background restrictions.",
						DeviceID:    stringPtr("pixel_8_pro"),
					},
				},
			},
		},
		{
			Request: model.CreateJobRequest{
				OwnerID:      DefaultOwnerID,
				ArtifactRef:  "apks/dev-user/broken-build.apk",
				ArtifactName: "broken-build.apk",
				DeviceIDs:    []string{"samsung_galaxy_s23"},
			},
			TargetStatus: model.JobStatusFailed,
			MatrixID:     "demo-matrix-failed",
			FailReason:   "APK installation failed on all devices",
			Results: []model.TestResult{
				{
					DeviceID:        "samsung_galaxy_s23",
					Outcome:         model.OutcomeSkipped,
					DurationSeconds: 0,
					Log:             "INSTALL_PARSE_FAILED_NO_CERTIFICATES",
				},
			},
		},
	}
}
