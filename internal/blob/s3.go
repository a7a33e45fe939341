package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store maps logical buckets to key prefixes inside one S3 bucket.
type S3Store struct {
	client     *s3.Client
	bucket     string
	region     string
	publicBase string
}

// NewS3Store loads the default AWS credential chain. publicBase, when set
// (a CDN domain for instance), replaces the virtual-hosted S3 URL.
func NewS3Store(ctx context.Context, region, bucket, publicBase string) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Store{
		client:     s3.NewFromConfig(cfg),
		bucket:     bucket,
		region:     region,
		publicBase: strings.TrimRight(publicBase, "/"),
	}, nil
}

func (s *S3Store) key(bucket, path string) string { return bucket + "/" + path }

func (s *S3Store) Upload(ctx context.Context, bucket, path string, body io.Reader, size int64, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(bucket, path)),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		in.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3 put %s: %w", s.key(bucket, path), err)
	}
	return nil
}

func (s *S3Store) PublicURL(bucket, path string) string {
	key := escapePath(s.key(bucket, path))
	if s.publicBase != "" {
		return s.publicBase + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
