// Package storage keeps KV snapshots and console archive exports in an
// S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	awstrace "github.com/DataDog/dd-trace-go/contrib/aws/aws-sdk-go/v2/aws"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

const contentTypeJSONL = "application/x-jsonlines"

// ErrObjectNotFound is returned when a key does not exist in the bucket
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the part of the bucket the snapshot and retention code uses
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// S3Client stores objects in an S3-compatible bucket
type S3Client struct {
	client *s3.S3
	bucket string
}

var _ ObjectStore = (*S3Client)(nil)

// NewS3Client creates a client for config.Bucket
func NewS3Client(config *Config) (*S3Client, error) {
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(config.Endpoint),
		Region:           aws.String(config.Region),
		Credentials:      credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(config.PathStyle),
		DisableSSL:       aws.Bool(config.DisableSSL),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if config.Traced {
		sess = awstrace.WrapSession(sess)
	}

	return &S3Client{
		client: s3.New(sess),
		bucket: config.Bucket,
	}, nil
}

// Put uploads data as a JSONL object
func (s *S3Client) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	meta := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		meta[k] = aws.String(v)
	}

	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		Metadata:    meta,
		ContentType: aws.String(contentTypeJSONL),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Get opens an object for reading. The caller closes it.
func (s *S3Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return result.Body, nil
}

// List returns the keys under prefix
func (s *S3Client) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	return keys, nil
}

// Delete removes an object
func (s *S3Client) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// SnapshotKey is the object key of a namespace snapshot taken at t
func SnapshotKey(deploymentID, namespace string, t time.Time) string {
	return fmt.Sprintf("kv-snapshots/%s/%s/%s.jsonl", deploymentID, namespace, t.UTC().Format("20060102T150405.000000000Z"))
}

// ArchiveKey is the object key of a console archive export covering
// messages received before cutoff
func ArchiveKey(cutoff time.Time) string {
	return fmt.Sprintf("console-archives/%s/%s.jsonl", cutoff.UTC().Format("2006-01-02"), cutoff.UTC().Format("150405.000000000"))
}
