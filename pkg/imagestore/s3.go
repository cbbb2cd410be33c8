// Package imagestore uploads chat images to Amazon S3 or an S3-compatible
// service (MinIO, Wasabi, etc.) and returns their public location. It
// implements the image collaborator interface consumed by the queue's
// image_upload handler.
package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/novakit/opqueue/pkg/handlers"
)

// Errors returned by the S3 store.
var (
	ErrInvalidConfig      = errors.New("bucket and region are required")
	ErrEmptyContent       = errors.New("image content cannot be empty")
	ErrAccessDenied       = errors.New("access denied to S3 bucket")
	ErrServiceUnavailable = errors.New("S3 service unavailable")
)

// S3Client is the subset of the AWS S3 API used by the store.
// Extracted as an interface so tests can substitute a mock.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config contains configuration for the S3 image store.
type Config struct {
	Bucket         string `env:"IMAGESTORE_BUCKET"`
	Region         string `env:"IMAGESTORE_REGION" envDefault:"us-east-1"`
	AccessKeyID    string `env:"IMAGESTORE_ACCESS_KEY_ID"`
	SecretKey      string `env:"IMAGESTORE_SECRET_KEY"`
	Endpoint       string `env:"IMAGESTORE_ENDPOINT"`         // for S3-compatible services
	BaseURL        string `env:"IMAGESTORE_BASE_URL"`         // public URL base for serving files
	ForcePathStyle bool   `env:"IMAGESTORE_FORCE_PATH_STYLE"` // for services like MinIO
}

// Option configures the store.
type Option func(*options)

type options struct {
	s3Client   S3Client
	httpClient *http.Client
	keyPrefix  string
}

// WithS3Client sets a pre-configured S3 client. Useful for testing with mocks.
func WithS3Client(client S3Client) Option {
	return func(o *options) { o.s3Client = client }
}

// WithHTTPClient sets a custom HTTP client for S3 requests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithKeyPrefix sets the key prefix for uploaded objects (default "uploads").
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = strings.Trim(prefix, "/")
		}
	}
}

// S3Store implements handlers.ImageUploader on S3. Safe for concurrent use.
type S3Store struct {
	client    S3Client
	bucket    string
	baseURL   string
	keyPrefix string
}

// New creates an S3 image store.
func New(ctx context.Context, cfg Config, opts ...Option) (*S3Store, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}

	o := &options{keyPrefix: "uploads"}
	for _, opt := range opts {
		opt(o)
	}

	client := o.s3Client
	if client == nil {
		awsOpts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(cfg.Region),
		}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
			))
		}
		if o.httpClient != nil {
			awsOpts = append(awsOpts, awsconfig.WithHTTPClient(o.httpClient))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		client = s3.NewFromConfig(awsCfg, func(so *s3.Options) {
			if cfg.Endpoint != "" {
				so.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			so.UsePathStyle = cfg.ForcePathStyle
		})
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Endpoint != "" {
			baseURL = fmt.Sprintf("%s/%s", strings.TrimSuffix(cfg.Endpoint, "/"), cfg.Bucket)
		} else {
			baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}

	return &S3Store{
		client:    client,
		bucket:    cfg.Bucket,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		keyPrefix: o.keyPrefix,
	}, nil
}

// Upload implements handlers.ImageUploader. The object key embeds a fresh
// uuid, so re-uploading the same logical image on redelivery stores a
// second copy rather than corrupting the first; the queue's at-least-once
// semantics make that the safe direction.
func (s *S3Store) Upload(ctx context.Context, filename string, content []byte, userID string) (*handlers.UploadedImage, error) {
	if len(content) == 0 {
		return nil, ErrEmptyContent
	}

	key := path.Join(s.keyPrefix, sanitizeSegment(userID), uuid.NewString()+"-"+sanitizeSegment(filename))

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(http.DetectContentType(content)),
	})
	if err != nil {
		return nil, classifyS3Error(err)
	}

	return &handlers.UploadedImage{
		URL:  s.baseURL + "/" + key,
		Path: key,
	}, nil
}

// sanitizeSegment strips path separators and traversal sequences from a
// user-controlled key segment.
func sanitizeSegment(s string) string {
	s = strings.ReplaceAll(s, "\\", "/")
	s = path.Base(path.Clean("/" + s))
	if s == "/" || s == "." || s == "" {
		return "unnamed"
	}
	return s
}

// classifyS3Error converts S3 errors to domain-specific errors.
func classifyS3Error(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("upload interrupted: %w", err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied":
			return fmt.Errorf("%w: %v", ErrAccessDenied, err)
		case "SlowDown", "ServiceUnavailable":
			return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
	}
	return fmt.Errorf("upload failed: %w", err)
}
