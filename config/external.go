package config

import "strings"

// TestLabConfig contains device lab (test matrix provider) configuration.
type TestLabConfig struct {
	// ProjectID is the cloud project the test matrices are created under.
	ProjectID string `env:"PROJECT_ID"`

	// ResultsBucket is the storage bucket matrix results are written to.
	// Defaults to "<project>_test_results" when empty.
	ResultsBucket string `env:"RESULTS_BUCKET"`

	// BaseURL overrides the provider endpoint. Used for local stubs.
	BaseURL string `env:"BASE_URL"`

	// CredentialsFile is the path to a service account key file. When empty,
	// application default credentials are used.
	CredentialsFile string `env:"CREDENTIALS_FILE"`
}

// Sanitize normalises device lab configuration values.
func (t *TestLabConfig) Sanitize() {
	t.ProjectID = strings.TrimSpace(t.ProjectID)
	t.ResultsBucket = strings.TrimSpace(t.ResultsBucket)
	t.BaseURL = strings.TrimRight(strings.TrimSpace(t.BaseURL), "/")
}

// AnalysisConfig contains AI analysis configuration.
type AnalysisConfig struct {
	// APIKey authenticates against the completion endpoint. When empty the
	// rule-based fallback is used for every report.
	APIKey string `env:"API_KEY"`

	// Endpoint overrides the completion endpoint.
	Endpoint string `env:"ENDPOINT"`

	// Model is the completion model name.
	Model string `env:"MODEL" envDefault:"llama-3.1-8b-instant"`
}

// Sanitize normalises analysis configuration values.
func (a *AnalysisConfig) Sanitize() {
	a.APIKey = strings.TrimSpace(a.APIKey)
	a.Endpoint = strings.TrimSpace(a.Endpoint)
	if strings.TrimSpace(a.Model) == "" {
		a.Model = "llama-3.1-8b-instant"
	}
}

// ArtifactConfig contains artifact (APK) storage configuration.
type ArtifactConfig struct {
	// Bucket is the S3 bucket uploaded APKs are stored in.
	Bucket string `env:"BUCKET" envDefault:"mobiletester-apks"`

	// Region is the S3 region.
	Region string `env:"REGION" envDefault:"us-east-1"`

	// Endpoint overrides the S3 endpoint, for MinIO or other S3-compatible
	// stores in development.
	Endpoint string `env:"ENDPOINT"`

	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible stores.
	UsePathStyle bool `env:"USE_PATH_STYLE" envDefault:"false"`

	// AccessKeyID and SecretAccessKey are static credentials for
	// S3-compatible stores. When empty the default AWS credential chain
	// is used.
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
}

// Sanitize normalises artifact storage configuration values.
func (a *ArtifactConfig) Sanitize() {
	a.Bucket = strings.TrimSpace(a.Bucket)
	a.Endpoint = strings.TrimSpace(a.Endpoint)
	if a.Bucket == "" {
		a.Bucket = "mobiletester-apks"
	}
	if a.Endpoint != "" {
		a.UsePathStyle = true
	}
}
