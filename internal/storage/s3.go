package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"mediarecon/internal/resilience"
)

// S3Options configures an S3-compatible store.
type S3Options struct {
	Bucket        string
	Region        string
	Endpoint      string
	PublicBaseURL string
	PathStyle     bool
	AccessKey     string
	SecretKey     string
	Timeout       time.Duration
	CacheControl  string
	// Retry applies to each upload. The zero policy makes a single attempt.
	Retry resilience.RetryPolicy
}

type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes media to an S3-compatible bucket.
type S3Store struct {
	client        s3PutAPI
	bucket        string
	publicBaseURL string
	timeout       time.Duration
	cacheControl  string
	retry         resilience.RetryPolicy
}

// NewS3Store builds a store using the default AWS credential chain unless
// static keys are provided.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("storage: s3 bucket is required")
	}
	loaders := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loaders = append(loaders, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return newS3Store(client, opts), nil
}

func newS3Store(client s3PutAPI, opts S3Options) *S3Store {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	base := strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/")
	if base == "" {
		switch {
		case opts.Endpoint != "":
			base = strings.TrimRight(opts.Endpoint, "/") + "/" + opts.Bucket
		case opts.Region != "":
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, opts.Region)
		default:
			base = fmt.Sprintf("https://%s.s3.amazonaws.com", opts.Bucket)
		}
	}
	cacheControl := opts.CacheControl
	if cacheControl == "" {
		cacheControl = "public, max-age=31536000, immutable"
	}
	return &S3Store{
		client:        client,
		bucket:        opts.Bucket,
		publicBaseURL: base,
		timeout:       timeout,
		cacheControl:  cacheControl,
		retry:         opts.Retry,
	}
}

func (s *S3Store) Provider() string      { return ProviderS3 }
func (s *S3Store) Bucket() string        { return s.bucket }
func (s *S3Store) PublicBaseURL() string { return s.publicBaseURL }

// Put uploads data under key. Transport failures are marked transient and
// retried under the store's retry policy, each attempt with its own timeout.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	_, err = resilience.WithRetry(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.putOnce(ctx, cleanKey, data, contentType)
	})
	if err != nil {
		return "", err
	}
	return joinURL(s.publicBaseURL, cleanKey), nil
}

func (s *S3Store) putOnce(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		CacheControl:  aws.String(s.cacheControl),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return &WriteError{Key: key, Err: resilience.Transient(err)}
	}
	return nil
}

func (s *S3Store) KeyFromURL(rawURL string) (string, bool) {
	return keyUnderBase(s.publicBaseURL, rawURL)
}

var _ Store = (*S3Store)(nil)
