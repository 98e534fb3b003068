package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by the archive.
// Used for testing with mock implementations.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Archive stores archived messages as objects in an S3 bucket.
type S3Archive struct {
	client S3API
	bucket string
	region string
}

// NewS3Archive creates an S3Archive over the given bucket.
func NewS3Archive(client S3API, bucket, region string) *S3Archive {
	return &S3Archive{
		client: client,
		bucket: bucket,
		region: region,
	}
}

// Put writes content under path. Metadata values must already be sanitized
// by the caller; S3 rejects non-ASCII user metadata.
func (a *S3Archive) Put(ctx context.Context, path string, content []byte, metadata map[string]string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("message/rfc822"),
		Metadata:    metadata,
	})
	if err != nil {
		return fmt.Errorf("putting object %s: %w", path, err)
	}
	return nil
}

// EnsureContainerExists creates the bucket if it does not exist yet.
// A bucket already owned by this account is not an error.
func (a *S3Archive) EnsureContainerExists(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err == nil {
		return nil
	}

	input := &s3.CreateBucketInput{
		Bucket: aws.String(a.bucket),
	}
	// us-east-1 is the only region that rejects an explicit location constraint.
	if a.region != "" && a.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(a.region),
		}
	}

	_, err = a.client.CreateBucket(ctx, input)
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("creating bucket %s: %w", a.bucket, err)
	}
	return nil
}
