// Package storage fetches firmware images from S3 for the publisher.
package storage

import (
	"context"
	"hash/crc32"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/matt-g-everett/logger/pkg/errors"
)

// Client provides S3 storage operations
type Client struct {
	s3Client *s3.Client
	bucket   string
}

// NewClient creates a new S3 client for anonymous access
func NewClient(ctx context.Context, bucket, region string) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", region)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return &Client{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucket,
	}, nil
}

// Image describes a firmware image copied to local disk.
type Image struct {
	LocalPath string
	Checksum  uint32
	Size      int64
}

// Fetch downloads a firmware image and computes its CRC-32 while streaming.
func (c *Client) Fetch(ctx context.Context, key, localPath string) (*Image, error) {
	slog.Info("s3_fetch_start", "bucket", c.bucket, "key", key)

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "key", key, "error", err)
		return nil, errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	img, err := copyImage(result.Body, localPath)
	if err != nil {
		slog.Error("s3_fetch_failed", "key", key, "error", err)
		return nil, err
	}

	slog.Info("s3_fetch_complete",
		"key", key,
		"size_kb", img.Size/1024,
		"local_path", localPath,
		"crc32", img.Checksum)

	return img, nil
}

// ListObjects lists all objects in the bucket with a given prefix
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	slog.Info("s3_list_start", "bucket", c.bucket, "prefix", prefix)

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("s3_list_failed", "prefix", prefix, "error", err)
			return nil, errors.Wrap(err, "failed to list objects")
		}

		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	slog.Info("s3_list_complete", "prefix", prefix, "object_count", len(keys))
	return keys, nil
}

// Checksum reads a local image and returns its size and CRC-32.
func Checksum(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image")
	}
	defer f.Close()

	h := crc32.NewIEEE()
	size, err := io.Copy(h, f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image")
	}

	return &Image{LocalPath: path, Checksum: h.Sum32(), Size: size}, nil
}

func copyImage(src io.Reader, localPath string) (*Image, error) {
	f, err := os.Create(localPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create local file")
	}
	defer f.Close()

	h := crc32.NewIEEE()
	size, err := io.Copy(io.MultiWriter(f, h), src)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download image")
	}

	return &Image{LocalPath: localPath, Checksum: h.Sum32(), Size: size}, nil
}
