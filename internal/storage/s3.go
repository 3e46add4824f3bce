package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/rs/zerolog"
)

// S3Config holds the settings needed to reach the bucket.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// RequestObserver is notified of every store call.
type RequestObserver interface {
	RecordStoreRequest(op string, err error)
}

// S3Store implements ObjectStore on top of an S3-compatible bucket.
type S3Store struct {
	client   *s3.Client
	bucket   string
	region   string
	endpoint string
	observer RequestObserver
	logger   zerolog.Logger
}

var _ ObjectStore = (*S3Store)(nil)

// NewS3Store creates an S3 client for cfg. It returns ErrNotConfigured when
// the endpoint or bucket is missing. No network I/O is performed.
func NewS3Store(ctx context.Context, cfg S3Config, observer RequestObserver, logger zerolog.Logger) (*S3Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	endpoint := EndpointURL(cfg.Endpoint, cfg.UseSSL)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		// Retry policy belongs to the caller.
		awsconfig.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &S3Store{
		client:   client,
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		endpoint: endpoint,
		observer: observer,
		logger:   logger.With().Str("component", "s3_store").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

// Bucket returns the configured bucket name.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// Put uploads body under key and returns its public URL.
func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if s == nil || s.client == nil {
		return "", ErrNotConfigured
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	s.observe("put", err)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("object upload failed")
		return "", &UploadError{Op: "put", Key: key, Err: err}
	}

	url := PublicURL(s.endpoint, s.bucket, key)
	s.logger.Debug().Str("key", key).Int("size", len(body)).Str("url", url).Msg("object uploaded")
	return url, nil
}

// BucketExists reports whether the bucket exists.
func (s *S3Store) BucketExists(ctx context.Context) (bool, error) {
	if s == nil || s.client == nil {
		return false, ErrNotConfigured
	}

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		s.observe("head_bucket", nil)
		return true, nil
	}
	if isNotFound(err) {
		s.observe("head_bucket", nil)
		return false, nil
	}
	s.observe("head_bucket", err)
	return false, &UploadError{Op: "head_bucket", Key: s.bucket, Err: err}
}

// EnsureBucket creates the bucket when it does not exist.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.BucketExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	if s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}

	_, err = s.client.CreateBucket(ctx, input)
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			s.observe("create_bucket", nil)
			return nil
		}
		s.observe("create_bucket", err)
		return &UploadError{Op: "create_bucket", Key: s.bucket, Err: err}
	}

	s.observe("create_bucket", nil)
	s.logger.Info().Msg("bucket created")
	return nil
}

func (s *S3Store) observe(op string, err error) {
	if s.observer != nil {
		s.observer.RecordStoreRequest(op, err)
	}
}

// isNotFound reports whether err is a 404 from the store.
func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return true
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
