// Package testlab adapts the orchestrator's intent ("run this artifact on
// these devices") to the device lab's test matrix API and normalizes provider
// states into the shapes the rest of the system understands.
package testlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/mobiletester/mt-api/internal/errors"

	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/devices"
	"github.com/mobiletester/mt-api/internal/domain/model"
)

const (
	defaultBaseURL        = "https://testing.googleapis.com/v1"
	defaultTimeoutSeconds = 600
	defaultLocale         = "en_US"
	defaultOrientation    = "portrait"
	// API level of the default provider model, used for catalog gaps.
	defaultVersionID = "29"
)

// ClientOptions holds the dependencies for creating a Client.
type ClientOptions struct {
	// HTTPClient must carry credentials for the provider API, typically an
	// oauth2 client built in bootstrap. Required.
	HTTPClient *http.Client
	ProjectID  string
	BucketName string
	// BaseURL overrides the provider endpoint, used in tests.
	BaseURL string
	Catalog *devices.Catalog
	Logger  *slog.Logger
}

// Client implements core.MatrixClient against the device lab REST API.
type Client struct {
	hc      *http.Client
	project string
	bucket  string
	baseURL string
	catalog *devices.Catalog
	logger  *slog.Logger
}

var _ core.MatrixClient = (*Client)(nil)

// NewClient creates a new device lab client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.HTTPClient == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	if opts.Catalog == nil {
		opts.Catalog = devices.NewCatalog()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.BucketName == "" {
		opts.BucketName = opts.ProjectID + "_test_results"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		hc:      opts.HTTPClient,
		project: opts.ProjectID,
		bucket:  opts.BucketName,
		baseURL: opts.BaseURL,
		catalog: opts.Catalog,
		logger:  opts.Logger.With("component", "testlab"),
	}, nil
}

// MustNewClient creates a new device lab client and panics on invalid options.
func MustNewClient(opts ClientOptions) *Client {
	c, err := NewClient(opts)
	if err != nil {
		panic(err)
	}
	return c
}

// Start creates a test matrix on the provider. Not idempotent: each call
// creates (and bills) a new matrix, so callers must not retry blindly.
func (c *Client) Start(ctx context.Context, params core.StartMatrixParams) (*model.StartedMatrix, error) {
	if params.ArtifactRef == "" {
		return nil, apperrors.Validation("artifact ref is required")
	}
	if len(params.DeviceIDs) == 0 {
		return nil, apperrors.Validation("at least one device is required")
	}

	timeout := params.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds
	}

	reqBody := testMatrixRequest{
		TestSpecification: testSpecification{
			AndroidInstrumentationTest: instrumentationTest{
				TestAPK:     fileReference{GCSPath: params.ArtifactRef},
				AppAPK:      fileReference{GCSPath: params.ArtifactRef},
				TestTimeout: strconv.Itoa(timeout) + "s",
			},
		},
		EnvironmentMatrix: environmentMatrix{
			AndroidDeviceList: androidDeviceList{
				AndroidDevices: c.deviceMatrix(params.DeviceIDs),
			},
		},
		ResultStorage: resultStorage{
			GoogleCloudStorage: googleCloudStorage{
				GCSPath: "gs://" + c.bucket + "/",
			},
		},
		ProjectID: c.project,
	}

	var resp testMatrixResponse
	status, err := c.do(ctx, http.MethodPost, c.matrixURL(""), &reqBody, &resp)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeProviderUnavailable, "device lab unreachable")
	}
	if status < 200 || status >= 300 {
		return nil, apperrors.ProviderRejectedf("device lab refused to start matrix (HTTP %d)", status)
	}
	if resp.TestMatrixID == "" {
		return nil, apperrors.ProviderRejected("device lab returned no matrix id")
	}

	c.logger.InfoContext(ctx, "test matrix started",
		"matrix_id", resp.TestMatrixID,
		"devices", len(params.DeviceIDs),
	)

	return &model.StartedMatrix{
		MatrixID: resp.TestMatrixID,
		State:    model.MatrixPending,
	}, nil
}

// Poll returns the matrix's normalized state, with per-device results once
// terminal. Transport and HTTP failures surface as ProviderUnavailable so the
// caller retries with backoff instead of failing the job.
func (c *Client) Poll(ctx context.Context, matrixID string) (*model.MatrixSnapshot, error) {
	if matrixID == "" {
		return nil, apperrors.Validation("matrix id is required")
	}

	var resp testMatrixResponse
	status, err := c.do(ctx, http.MethodGet, c.matrixURL("/"+matrixID), nil, &resp)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeProviderUnavailable, "device lab unreachable")
	}
	if status < 200 || status >= 300 {
		return nil, apperrors.ProviderUnavailable(
			fmt.Sprintf("device lab returned HTTP %d for matrix %s", status, matrixID))
	}

	snapshot := &model.MatrixSnapshot{
		State:  mapMatrixState(resp.State),
		Detail: resp.InvalidMatrix,
	}
	if snapshot.State.Terminal() {
		for i := range resp.TestExecutions {
			snapshot.Results = append(snapshot.Results, executionResult(&resp.TestExecutions[i]))
		}
	}
	return snapshot, nil
}

// Cancel requests provider-side cancellation of a matrix. Callers treat
// failures as best-effort.
func (c *Client) Cancel(ctx context.Context, matrixID string) error {
	if matrixID == "" {
		return apperrors.Validation("matrix id is required")
	}

	status, err := c.do(ctx, http.MethodPost, c.matrixURL("/"+matrixID+":cancel"), nil, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeProviderUnavailable, "device lab unreachable")
	}
	if status < 200 || status >= 300 {
		return apperrors.ProviderUnavailable(
			fmt.Sprintf("device lab returned HTTP %d cancelling matrix %s", status, matrixID))
	}
	return nil
}

// deviceMatrix translates the catalog selection into provider device specs.
// Unknown ids degrade to the default model rather than rejecting the job.
func (c *Client) deviceMatrix(ids []string) []androidDevice {
	specs := make([]androidDevice, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		code := c.catalog.ProviderCode(id)
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		version := defaultVersionID
		if d, ok := c.catalog.Lookup(id); ok {
			version = strconv.Itoa(d.APILevel)
		}
		specs = append(specs, androidDevice{
			AndroidModelID:   code,
			AndroidVersionID: version,
			Locale:           defaultLocale,
			Orientation:      defaultOrientation,
		})
	}
	return specs
}

func (c *Client) matrixURL(suffix string) string {
	return c.baseURL + "/projects/" + c.project + "/testMatrices" + suffix
}

// do executes one provider request and decodes the response into out when the
// status is 2xx and out is non-nil. It returns the HTTP status and transport
// errors only; callers map statuses to the error taxonomy.
func (c *Client) do(ctx context.Context, method, url string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	c.logger.DebugContext(ctx, "provider request",
		"method", method,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", decodeErr)
		}
	}
	return resp.StatusCode, nil
}
