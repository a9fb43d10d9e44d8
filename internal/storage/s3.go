// Package storage archives reports in S3 and fetches record batches from it.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const defaultRegion = "eu-west-1"

type S3Client struct {
	bucket     string
	prefix     string
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	s3Svc      *s3.S3
	logger     *zap.Logger
}

// Option configures an S3Client.
type Option func(*S3Client)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *S3Client) { c.logger = l }
}

func NewS3Client(bucket, prefix, region string, opts ...Option) (*S3Client, error) {
	if region == "" {
		region = defaultRegion
	}
	return NewS3ClientWithConfig(bucket, prefix, &aws.Config{Region: aws.String(region)}, opts...)
}

// NewS3ClientWithConfig allows a custom endpoint or credentials, e.g. for
// S3-compatible stores.
func NewS3ClientWithConfig(bucket, prefix string, cfg *aws.Config, opts ...Option) (*S3Client, error) {
	if bucket == "" {
		return nil, eris.New("S3 bucket name is required")
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create AWS session")
	}

	svc := s3.New(sess)
	c := &S3Client{
		bucket:     bucket,
		prefix:     strings.Trim(prefix, "/"),
		uploader:   s3manager.NewUploaderWithClient(svc),
		downloader: s3manager.NewDownloaderWithClient(svc),
		s3Svc:      svc,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *S3Client) UploadFile(ctx context.Context, localPath, s3Key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return eris.Wrapf(err, "failed to open file %s", localPath)
	}
	defer file.Close()

	return c.upload(ctx, file, s3Key)
}

func (c *S3Client) UploadContent(ctx context.Context, content []byte, s3Key string) error {
	return c.upload(ctx, bytes.NewReader(content), s3Key)
}

func (c *S3Client) upload(ctx context.Context, body io.Reader, s3Key string) error {
	key := c.buildKey(s3Key)
	_, err := c.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return eris.Wrapf(err, "failed to upload to s3://%s/%s", c.bucket, key)
	}
	c.logger.Debug("uploaded object", zap.String("bucket", c.bucket), zap.String("key", key))
	return nil
}

// UploadDirectory uploads every regular file under localDir, keeping the
// relative layout below s3Prefix.
func (c *S3Client) UploadDirectory(ctx context.Context, localDir, s3Prefix string) ([]string, error) {
	var uploaded []string

	err := filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return eris.Wrap(err, "failed to get relative path")
		}
		s3Key := path.Join(s3Prefix, filepath.ToSlash(rel))

		if err := c.UploadFile(ctx, p, s3Key); err != nil {
			return err
		}
		uploaded = append(uploaded, s3Key)
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to upload directory")
	}
	return uploaded, nil
}

func (c *S3Client) DownloadFile(ctx context.Context, s3Key, localPath string) error {
	key := c.buildKey(s3Key)

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return eris.Wrap(err, "failed to create directory")
	}

	file, err := os.Create(localPath)
	if err != nil {
		return eris.Wrapf(err, "failed to create file %s", localPath)
	}
	defer file.Close()

	_, err = c.downloader.DownloadWithContext(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return eris.Wrapf(err, "failed to download s3://%s/%s", c.bucket, key)
	}
	return nil
}

func (c *S3Client) DownloadContent(ctx context.Context, s3Key string) ([]byte, error) {
	key := c.buildKey(s3Key)

	buf := &aws.WriteAtBuffer{}
	_, err := c.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to download s3://%s/%s", c.bucket, key)
	}
	return buf.Bytes(), nil
}

// DownloadDirectory mirrors every object under s3Prefix into localDir.
// Objects that fail to download are logged and skipped; finding nothing at
// all is an error.
func (c *S3Client) DownloadDirectory(ctx context.Context, s3Prefix, localDir string) ([]string, error) {
	keys, err := c.ListFiles(ctx, s3Prefix)
	if err != nil {
		return nil, err
	}

	prefix := c.buildKey(s3Prefix)
	var downloaded []string
	for _, key := range keys {
		rel := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		localPath := filepath.Join(localDir, filepath.FromSlash(rel))

		if err := c.DownloadFile(ctx, c.relativeKey(key), localPath); err != nil {
			c.logger.Warn("skipping object", zap.String("key", key), zap.Error(err))
			continue
		}
		downloaded = append(downloaded, localPath)
	}

	if len(downloaded) == 0 {
		return nil, eris.Errorf("no files found in s3://%s/%s", c.bucket, prefix)
	}
	return downloaded, nil
}

// ListFiles returns the full keys of every object under s3Prefix.
func (c *S3Client) ListFiles(ctx context.Context, s3Prefix string) ([]string, error) {
	var files []string

	prefix := c.buildKey(s3Prefix)
	err := c.s3Svc.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			files = append(files, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to list objects in s3://%s/%s", c.bucket, prefix)
	}
	return files, nil
}

func (c *S3Client) FileExists(ctx context.Context, s3Key string) (bool, error) {
	key := c.buildKey(s3Key)
	_, err := c.s3Svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == "NotFound" || aerr.Code() == s3.ErrCodeNoSuchKey) {
			return false, nil
		}
		return false, eris.Wrapf(err, "failed to check s3://%s/%s", c.bucket, key)
	}
	return true, nil
}

func (c *S3Client) GetBucket() string {
	return c.bucket
}

func (c *S3Client) GetPrefix() string {
	return c.prefix
}

func (c *S3Client) buildKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if c.prefix == "" {
		return key
	}
	return path.Join(c.prefix, key)
}

// relativeKey undoes buildKey for keys returned by a listing.
func (c *S3Client) relativeKey(fullKey string) string {
	if c.prefix == "" {
		return fullKey
	}
	return strings.TrimPrefix(fullKey, c.prefix+"/")
}

func (c *S3Client) GetS3URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", c.bucket, c.buildKey(key))
}
