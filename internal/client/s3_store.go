package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/config"
)

// deleteBatchSize is the S3 limit for one DeleteObjects call.
const deleteBatchSize = 1000

// ObjectInfo describes one listed object or, for non-recursive listings, a common prefix.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	IsPrefix     bool      `json:"isPrefix,omitempty"`
}

// ObjectStore defines the interface for object storage operations.
// Every failure is an apperrors storage failure; a missing object also matches
// apperrors.ErrNotFound.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	DeleteBatch(ctx context.Context, keys []string) error
	Copy(ctx context.Context, srcKey, dstKey string) error
	EnsureBucket(ctx context.Context) error
	Bucket() string
}

// S3Store implements ObjectStore for any S3-compatible endpoint
type S3Store struct {
	s3Client *s3.Client
	uploader *manager.Uploader
	bucket   string
	region   string
}

// NewS3Store creates a new S3 object store client
func NewS3Store(cfg *config.StorageConfig) (*S3Store, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("storage configuration incomplete")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{
		s3Client: s3Client,
		uploader: manager.NewUploader(s3Client),
		bucket:   cfg.Bucket,
		region:   cfg.Region,
	}, nil
}

// Bucket returns the bucket name
func (c *S3Store) Bucket() string {
	return c.bucket
}

// Put creates or overwrites an object. Bodies that cannot seek are streamed
// as a multipart upload in part-sized chunks.
func (c *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return c.wrap("s3.Upload", key, err)
	}
	return nil
}

// Get opens an object for reading. The caller closes the stream.
func (c *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, c.wrap("s3.GetObject", key, err)
	}
	return out.Body, nil
}

// List returns the objects under prefix. A non-recursive listing stops at the
// next "/" and reports deeper levels as prefixes.
func (c *S3Store) List(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}
	if !recursive {
		input.Delimiter = aws.String("/")
	}

	var objects []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, c.wrap("s3.ListObjectsV2", prefix, err)
		}
		for _, p := range page.CommonPrefixes {
			objects = append(objects, ObjectInfo{Key: aws.ToString(p.Prefix), IsPrefix: true})
		}
		for _, o := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
	}
	return objects, nil
}

// Delete removes an object
func (c *S3Store) Delete(ctx context.Context, key string) error {
	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return c.wrap("s3.DeleteObject", key, err)
	}
	return nil
}

// DeleteBatch removes many objects, chunked to the service limit.
func (c *S3Store) DeleteBatch(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := c.s3Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return c.wrap("s3.DeleteObjects", keys[start], err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return apperrors.Storage("s3.DeleteObjects", aws.ToString(e.Key),
				fmt.Errorf("%s: %s (%d failed)", aws.ToString(e.Code), aws.ToString(e.Message), len(out.Errors)))
		}
	}
	return nil
}

// Copy duplicates an object inside the bucket
func (c *S3Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	source := c.bucket + "/" + (&url.URL{Path: srcKey}).EscapedPath()
	_, err := c.s3Client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(source),
	})
	if err != nil {
		return c.wrap("s3.CopyObject", srcKey, err)
	}
	return nil
}

// EnsureBucket creates the bucket when it does not exist yet
func (c *S3Store) EnsureBucket(ctx context.Context) error {
	_, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return apperrors.Storage("s3.HeadBucket", c.bucket, err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(c.bucket)}
	if c.region != "" && c.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.region),
		}
	}
	if _, err := c.s3Client.CreateBucket(ctx, input); err != nil {
		return apperrors.Storage("s3.CreateBucket", c.bucket, err)
	}
	return nil
}

func (c *S3Store) wrap(op, key string, err error) error {
	if isNotFound(err) {
		return apperrors.Storage(op, key, apperrors.NotFound("object", key))
	}
	return apperrors.Storage(op, key, err)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}
