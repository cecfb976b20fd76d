// Package repo moves package files to and from a remote repository kept
// in an S3 compatible bucket such as Cloudflare R2.
package repo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenk/backoff"
	"github.com/rs/zerolog"

	"rpmkit/internal/logging"
	"rpmkit/internal/rpmerr"
)

// API is the part of the S3 client the repository uses.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// Object is one listed key.
type Object struct {
	Key  string
	Size int64
}

// Client talks to one bucket.
type Client struct {
	API    API
	Bucket string
	// Retries bounds how often a failed fetch is retried.
	Retries uint64
	// InitialInterval is the first retry delay; it doubles from there.
	InitialInterval time.Duration
	Log             zerolog.Logger
}

// Settings are the bucket coordinates and credentials.
type Settings struct {
	AccountID string
	AccessKey string
	SecretKey string
	Bucket    string
	// Endpoint overrides the R2 endpoint derived from AccountID.
	Endpoint string
	Debug    bool
}

// SettingsFrom reads the R2_* keys of a configuration map.
func SettingsFrom(values map[string]string) Settings {
	return Settings{
		AccountID: values["R2_ACCOUNT_ID"],
		AccessKey: values["R2_ACCESS_KEY_ID"],
		SecretKey: values["R2_SECRET_ACCESS_KEY"],
		Bucket:    values["R2_BUCKET_NAME"],
		Endpoint:  values["R2_ENDPOINT"],
	}
}

// New builds a client for the bucket described by st.
func New(ctx context.Context, st Settings) (*Client, error) {
	if (st.AccountID == "" && st.Endpoint == "") || st.AccessKey == "" || st.SecretKey == "" || st.Bucket == "" {
		return nil, rpmerr.New(rpmerr.ErrRemote,
			"remote credentials missing in configuration (R2_ACCOUNT_ID, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY, R2_BUCKET_NAME)")
	}
	endpoint := st.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", st.AccountID)
	}

	options := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(st.AccessKey, st.SecretKey, "")),
		config.WithRegion("auto"),
	}
	if st.Debug {
		options = append(options, config.WithClientLogMode(aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, rpmerr.Wrap(err, rpmerr.ErrRemote, "failed to load remote config")
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return NewWithAPI(api, st.Bucket), nil
}

// NewWithAPI wraps an existing S3 client.
func NewWithAPI(api API, bucket string) *Client {
	return &Client{
		API:             api,
		Bucket:          bucket,
		Retries:         4,
		InitialInterval: 500 * time.Millisecond,
		Log:             logging.GetLogger("repo"),
	}
}

func (c *Client) backOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.InitialInterval
	exp.MaxInterval = 30 * time.Second
	exp.Multiplier = 2.0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, c.Retries)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// Fetch downloads key into dest, retrying transient failures with
// exponential backoff. A missing key is not retried.
func (c *Client) Fetch(ctx context.Context, key, dest string) error {
	attempt := 0
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		err := c.fetchOnce(ctx, key, dest)
		if err == nil {
			return nil
		}
		if isNotFound(err) || rpmerr.IsCode(err, rpmerr.ErrFilesystem) {
			return backoff.Permanent(err)
		}
		c.Log.Warn().Err(err).Str("key", key).Int("attempt", attempt).Msg("fetch failed, retrying")
		return err
	}
	err := backoff.Retry(op, c.backOff())
	if err == nil {
		c.Log.Info().Str("key", key).Str("dest", dest).Msg("fetched")
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if isNotFound(err) {
		return rpmerr.Wrapf(err, rpmerr.ErrNotFound, "%s not found in bucket %s", key, c.Bucket).WithDetail("key", key)
	}
	if rpmerr.IsCode(err, rpmerr.ErrFilesystem) {
		return err
	}
	return rpmerr.Wrapf(err, rpmerr.ErrRemote, "failed to fetch %s", key).WithDetail("key", key)
}

// fetchOnce writes to a temporary file next to dest and renames it into
// place so a failed download never leaves a truncated package behind.
func (c *Client) fetchOnce(ctx context.Context, key, dest string) error {
	out, err := c.API.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "cannot create %s", filepath.Dir(dest))
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".part-")
	if err != nil {
		return rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "cannot create temporary file for %s", dest)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "cannot write %s", dest)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "cannot move %s into place", dest)
	}
	return nil
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".rpm"):
		return "application/x-rpm"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	}
	return "application/octet-stream"
}

// Publish uploads the file at path under key.
func (c *Client) Publish(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return rpmerr.Wrapf(err, rpmerr.ErrNotFound, "cannot open %s", path)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "cannot stat %s", path)
	}

	_, err = c.API.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
		ContentType:   aws.String(contentType(key)),
	})
	if err != nil {
		return rpmerr.Wrapf(err, rpmerr.ErrRemote, "failed to publish %s", key).WithDetail("key", key)
	}
	c.Log.Info().Str("key", key).Int64("size", st.Size()).Msg("published")
	return nil
}

// Delete removes key from the bucket.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.API.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return rpmerr.Wrapf(err, rpmerr.ErrRemote, "failed to delete %s", key).WithDetail("key", key)
	}
	return nil
}

// List returns every object whose key starts with prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(c.API, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, rpmerr.Wrapf(err, rpmerr.ErrRemote, "failed to list %s", prefix)
		}
		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return objects, nil
}

// KeyFor is the bucket key a package file is published under: binary
// packages by architecture, source packages under SRPMS.
func KeyFor(path, arch string, source bool) string {
	base := filepath.Base(path)
	if source {
		return "SRPMS/" + base
	}
	return "RPMS/" + arch + "/" + base
}
