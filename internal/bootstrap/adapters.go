package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/mobiletester/mt-api/config"
	"github.com/mobiletester/mt-api/internal/analysis"
	"github.com/mobiletester/mt-api/internal/artifact"
	"github.com/mobiletester/mt-api/internal/devices"
	"github.com/mobiletester/mt-api/internal/testlab"
)

// testLabScope is the OAuth scope required by the device lab API.
const testLabScope = "https://www.googleapis.com/auth/cloud-platform"

// BuildMatrixClient creates the device lab client with an authenticated
// HTTP client. Credentials come from the configured service account file or
// from application default credentials.
func BuildMatrixClient(
	ctx context.Context,
	cfg config.TestLabConfig,
	catalog *devices.Catalog,
	logger *slog.Logger,
) (*testlab.Client, error) {
	ts, err := testLabTokenSource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("device lab credentials: %w", err)
	}

	return testlab.NewClient(testlab.ClientOptions{
		HTTPClient: oauth2.NewClient(ctx, ts),
		ProjectID:  cfg.ProjectID,
		BucketName: cfg.ResultsBucket,
		BaseURL:    cfg.BaseURL,
		Catalog:    catalog,
		Logger:     logger,
	})
}

func testLabTokenSource(ctx context.Context, cfg config.TestLabConfig) (oauth2.TokenSource, error) {
	if cfg.CredentialsFile != "" {
		raw, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, raw, testLabScope)
		if err != nil {
			return nil, fmt.Errorf("parse credentials file: %w", err)
		}
		return creds.TokenSource, nil
	}

	creds, err := google.FindDefaultCredentials(ctx, testLabScope)
	if err != nil {
		return nil, fmt.Errorf("find default credentials: %w", err)
	}
	return creds.TokenSource, nil
}

// BuildAnalysisEngine creates the analysis engine. With no API key the
// engine still works, producing rule-based reports only.
func BuildAnalysisEngine(cfg config.AnalysisConfig, logger *slog.Logger) *analysis.Engine {
	if cfg.APIKey == "" && logger != nil {
		logger.Warn("analysis API key not configured, reports use the rule-based fallback")
	}
	return analysis.NewEngine(analysis.EngineOptions{
		APIKey:   cfg.APIKey,
		Endpoint: cfg.Endpoint,
		Model:    cfg.Model,
		Logger:   logger,
	})
}

// BuildArtifactStore creates the S3-backed APK store.
func BuildArtifactStore(ctx context.Context, cfg config.ArtifactConfig, logger *slog.Logger) (*artifact.Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return artifact.NewStore(artifact.StoreOptions{
		Client: client,
		Bucket: cfg.Bucket,
		Logger: logger,
	})
}
