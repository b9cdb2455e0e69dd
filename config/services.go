package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeOrchestrator runs the job orchestrator that drives test
	// matrices to completion.
	ServiceModeOrchestrator ServiceMode = "orchestrator"
	// ServiceModeReaper runs the job reaper for cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeOrchestrator,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeOrchestrator, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, orchestrator, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// OrchestratorConfig contains job orchestrator service configuration.
type OrchestratorConfig struct {
	// InitialPollDelay is how long after begin the first provider poll runs.
	InitialPollDelay time.Duration `env:"ORCHESTRATOR_INITIAL_POLL_DELAY" envDefault:"10s"`

	// PollInterval is the delay between provider polls for a running job.
	PollInterval time.Duration `env:"ORCHESTRATOR_POLL_INTERVAL" envDefault:"30s"`

	// TransientBackoff is the delay before retrying after a transient
	// provider failure.
	TransientBackoff time.Duration `env:"ORCHESTRATOR_TRANSIENT_BACKOFF" envDefault:"60s"`

	// RunCeiling is the wall-clock limit for a running job, measured from
	// its start. Jobs still running past this are failed with a timeout.
	RunCeiling time.Duration `env:"ORCHESTRATOR_RUN_CEILING" envDefault:"15m"`

	// TestTimeout is the provider-side per-execution timeout.
	TestTimeout time.Duration `env:"ORCHESTRATOR_TEST_TIMEOUT" envDefault:"10m"`

	// Concurrency is the number of workers starting queued jobs.
	Concurrency int `env:"ORCHESTRATOR_CONCURRENCY" envDefault:"4"`

	// ClaimBatchSize is the number of queued jobs fetched per dispatch pass.
	ClaimBatchSize int `env:"ORCHESTRATOR_CLAIM_BATCH_SIZE" envDefault:"25"`
}

// Sanitize applies guardrails to orchestrator configuration values.
func (o *OrchestratorConfig) Sanitize() {
	if o.InitialPollDelay < time.Second {
		o.InitialPollDelay = time.Second
	}
	if o.PollInterval < 5*time.Second {
		o.PollInterval = 5 * time.Second
	}
	if o.TransientBackoff < o.PollInterval {
		o.TransientBackoff = o.PollInterval
	}
	// The ceiling must leave room for at least one regular poll.
	if o.RunCeiling < 2*o.PollInterval {
		o.RunCeiling = 2 * o.PollInterval
	}
	if o.TestTimeout < 30*time.Second {
		o.TestTimeout = 30 * time.Second
	}
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.ClaimBatchSize < 1 {
		o.ClaimBatchSize = 1
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// QueuedMaxAge is the maximum age for queued jobs that were never begun.
	// Jobs stuck in queued status longer than this will be failed.
	QueuedMaxAge time.Duration `env:"REAPER_QUEUED_MAX_AGE" envDefault:"1h"`

	// RunningMaxAge is the maximum time since start for running jobs. This is
	// a safety net behind the orchestrator's own ceiling, so it should exceed
	// the ceiling by a comfortable grace period.
	RunningMaxAge time.Duration `env:"REAPER_RUNNING_MAX_AGE" envDefault:"30m"`

	// CompletedMaxAge is the maximum age for completed jobs before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"168h"` // 7 days

	// FailedMaxAge is the maximum age for failed jobs before deletion.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"168h"` // 7 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < time.Minute {
		r.Interval = time.Minute
	}
	if r.QueuedMaxAge < 5*time.Minute {
		r.QueuedMaxAge = 5 * time.Minute
	}
	if r.RunningMaxAge < 5*time.Minute {
		r.RunningMaxAge = 5 * time.Minute
	}
	if r.CompletedMaxAge < time.Hour {
		r.CompletedMaxAge = time.Hour
	}
	if r.FailedMaxAge < time.Hour {
		r.FailedMaxAge = time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
