package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Client abstracts the S3 API operations used by [S3].
// The [s3.Client] type satisfies this interface.
type S3Client interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds connection settings for an S3 or S3-compatible (MinIO, R2) endpoint.
type S3Config struct {
	Region          string
	Endpoint        string // custom endpoint; enables path-style addressing
	AccessKeyID     string // empty for anonymous access
	SecretAccessKey string
}

// NewS3Client builds an s3.Client from static settings.
func NewS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{Region: cfg.Region}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	if cfg.AccessKeyID != "" {
		creds := aws.Credentials{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Source:          "shashin config",
		}
		opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) { return creds, nil }))
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}
	return s3.New(opts)
}

// S3 lists images under a bucket prefix. References have the form s3://bucket/key.
type S3 struct {
	client S3Client
	bucket string
	prefix string
	filter
}

// NewS3 creates an S3-backed source. Prefix limits listing to keys under it; pass "" for
// the whole bucket.
func NewS3(client S3Client, bucket, prefix string, opts ...Option) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix, filter: newFilter(opts)}
}

func (s *S3) ref(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func (s *S3) key(ref string) (string, bool) {
	return strings.CutPrefix(ref, "s3://"+s.bucket+"/")
}

// List returns matching object references in key order, bounded by the sample size.
func (s *S3) List(ctx context.Context) ([]string, error) {
	refs, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	return s.bound(refs), nil
}

func (s *S3) all(ctx context.Context) ([]string, error) {
	var refs []string
	in := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if s.prefix != "" {
		in.Prefix = aws.String(s.prefix)
	}
	for {
		out, err := s.client.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, s.prefix, err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") || !s.matches(key) {
				continue
			}
			refs = append(refs, s.ref(key))
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		in.ContinuationToken = out.NextContinuationToken
	}
	return refs, nil
}

// Open streams the referenced object via GetObject.
func (s *S3) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	key, ok := s.key(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not in bucket %s", ErrNotFound, ref, s.bucket)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, err
	}
	return out.Body, nil
}

// Info counts matching objects. A missing bucket reports Exists=false.
func (s *S3) Info(ctx context.Context) (Info, error) {
	info := Info{Location: "s3://" + s.bucket + "/" + s.prefix}
	refs, err := s.all(ctx)
	if err != nil {
		if isS3NotFound(err) {
			return info, nil
		}
		return info, err
	}
	info.Exists = true
	info.ImageCount = len(refs)
	return info, nil
}

// isS3NotFound reports whether err indicates the bucket or object does not exist.
func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

var (
	_ Source = (*S3)(nil)
	_ Source = (*Local)(nil)
)
