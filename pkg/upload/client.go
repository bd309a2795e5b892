package upload

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of S3 the uploader needs
type S3API interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
}

// ClientFactory builds S3 clients for a region
type ClientFactory interface {
	S3(ctx context.Context, region string) (S3API, error)
}

// ClientOptions tunes the SDK clients built by NewClientFactory
type ClientOptions struct {
	// Endpoint overrides the S3 endpoint, e.g. a local S3-compatible store.
	// Path-style addressing is used when set.
	Endpoint string

	// Profile selects a shared config profile
	Profile string

	// AccessKeyID and SecretAccessKey replace the default credential chain when both are set
	AccessKeyID     string
	SecretAccessKey string
}

// NewClientFactory returns a factory backed by the AWS SDK default config chain
func NewClientFactory(opts ClientOptions) ClientFactory {
	return awsClientFactory{opts: opts}
}

type awsClientFactory struct {
	opts ClientOptions
}

func (f awsClientFactory) S3(ctx context.Context, region string) (S3API, error) {
	if region == "" {
		return nil, fmt.Errorf("region is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if f.opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(f.opts.Profile))
	}
	if f.opts.AccessKeyID != "" && f.opts.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(f.opts.AccessKeyID, f.opts.SecretAccessKey, "")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(creds))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if f.opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(f.opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return awsS3Client{client: client}, nil
}

type awsS3Client struct {
	client *s3.Client
}

func (c awsS3Client) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	if c.client == nil {
		return fmt.Errorf("s3 client is nil")
	}
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	return err
}
