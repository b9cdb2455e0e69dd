// Package artifact stores uploaded APK files in S3-compatible object storage
// and validates them before they reach the device lab.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	apperrors "github.com/mobiletester/mt-api/internal/errors"

	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/data"
)

const (
	// MinAPKSize rejects uploads too small to be a real APK.
	MinAPKSize = 1024
	// MaxAPKSize is the upload size limit.
	MaxAPKSize = 50 * 1024 * 1024

	defaultMimeType = "application/vnd.android.package-archive"
	keyPrefix       = "apks"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// S3API is the slice of the S3 client the store needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// StoreOptions holds the dependencies for creating a Store.
type StoreOptions struct {
	Client       S3API
	Bucket       string
	Logger       *slog.Logger
	TimeProvider data.TimeProvider
}

// Store implements core.ArtifactStore on S3-compatible object storage.
type Store struct {
	client       S3API
	bucket       string
	logger       *slog.Logger
	timeProvider data.TimeProvider
}

var _ core.ArtifactStore = (*Store)(nil)

// NewStore creates a new artifact store.
func NewStore(opts StoreOptions) (*Store, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	return &Store{
		client:       opts.Client,
		bucket:       opts.Bucket,
		logger:       opts.Logger.With("component", "artifact"),
		timeProvider: opts.TimeProvider,
	}, nil
}

// ValidateAPK checks an upload's name and size before it is stored.
func ValidateAPK(name string, size int64) error {
	if !strings.HasSuffix(strings.ToLower(name), ".apk") {
		return apperrors.ValidationField("file", "file must be an APK file (.apk extension)")
	}
	if size > MaxAPKSize {
		sizeMB := size / (1024 * 1024)
		return apperrors.ValidationField("file",
			fmt.Sprintf("file size (%dMB) exceeds the 50MB limit", sizeMB))
	}
	if size < MinAPKSize {
		return apperrors.ValidationField("file", "APK file appears to be too small or corrupted")
	}
	return nil
}

// Upload validates and stores the artifact, returning its object key. Keys
// are unique per upload, so the same file can be submitted repeatedly.
func (s *Store) Upload(ctx context.Context, params core.UploadArtifactParams) (string, error) {
	if params.OwnerID == "" {
		return "", apperrors.Validation("owner id is required")
	}
	if err := ValidateAPK(params.Name, int64(len(params.Body))); err != nil {
		return "", err
	}

	mimeType := params.MimeType
	if mimeType == "" {
		mimeType = defaultMimeType
	}

	key := s.objectKey(params.OwnerID, params.Name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(params.Body),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "store artifact")
	}

	s.logger.InfoContext(ctx, "artifact stored",
		"key", key,
		"owner_id", params.OwnerID,
		"size", len(params.Body),
	)
	return key, nil
}

// Delete removes the stored artifact. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, ref string) error {
	if ref == "" {
		return apperrors.Validation("artifact ref is required")
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "delete artifact")
	}

	s.logger.InfoContext(ctx, "artifact deleted", "key", ref)
	return nil
}

func (s *Store) objectKey(ownerID, name string) string {
	safe := unsafeNameChars.ReplaceAllString(name, "_")
	stamp := s.timeProvider.Now().UnixMilli()
	return fmt.Sprintf("%s/%s/%d_%s_%s", keyPrefix, ownerID, stamp, uuid.NewString()[:8], safe)
}
