package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: Session authentication configuration
//   - database.go: Database and session store configuration
//   - http.go: HTTP server configuration
//   - services.go: Service mode, orchestrator, and reaper configuration
//   - external.go: Device lab, analysis, and artifact storage configuration
type AppConfig struct {
	// IsDev controls development mode behavior (log level, mock auth).
	// Set DEV=true for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Authentication configuration
	Auth AuthConfig

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"http,orchestrator,reaper"`

	// Orchestrator configuration
	Orchestrator OrchestratorConfig

	// Reaper configuration
	Reaper ReaperConfig

	// External platform configuration
	TestLab   TestLabConfig  `envPrefix:"TESTLAB_"`
	Analysis  AnalysisConfig `envPrefix:"ANALYSIS_"`
	Artifacts ArtifactConfig `envPrefix:"ARTIFACT_"`

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Orchestrator.Sanitize()
	c.Reaper.Sanitize()
	c.TestLab.Sanitize()
	c.Analysis.Sanitize()
	c.Artifacts.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode checks both DEV and APP_ENV environment variables.
// This is called by Sanitize() to ensure IsDev is set correctly.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsOrchestratorEnabled returns true if the job orchestrator service is enabled.
func (c *AppConfig) IsOrchestratorEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeOrchestrator]
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReaper]
}
