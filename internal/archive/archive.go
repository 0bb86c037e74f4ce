// Package archive keeps a compressed copy of every published page revision in
// an S3-compatible bucket.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"
)

// Options configures the S3 connection.
type Options struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	Bucket         string
	ForcePathStyle bool
}

// Archive writes zstd-compressed page revisions to S3.
type Archive struct {
	api    *s3.Client
	bucket string
	enc    *zstd.Encoder
}

// New creates an Archive from opts.
func New(ctx context.Context, opts Options) (*Archive, error) {
	if opts.Bucket == "" {
		return nil, errors.New("archive: bucket is required")
	}
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("archive: endpoint is required")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.ForcePathStyle
		o.BaseEndpoint = aws.String(endpoint)
	})

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("archive: zstd encoder: %w", err)
	}
	return &Archive{api: client, bucket: opts.Bucket, enc: enc}, nil
}

// Key returns the object key of a revision.
func Key(repo, revision string) string {
	return path.Join(repo, revision+".html.zst")
}

// Compress returns the zstd frame of body. The encoder is safe for concurrent
// EncodeAll calls.
func (a *Archive) Compress(body []byte) []byte {
	return a.enc.EncodeAll(body, make([]byte, 0, len(body)/3))
}

// Put stores body under the revision key of repo.
func (a *Archive) Put(ctx context.Context, repo, revision string, body []byte) error {
	compressed := a.Compress(body)
	sum := sha256.Sum256(compressed)
	checksum := base64.StdEncoding.EncodeToString(sum[:])
	size := int64(len(compressed))

	_, err := a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(a.bucket),
		Key:               aws.String(Key(repo, revision)),
		Body:              bytes.NewReader(compressed),
		ContentLength:     &size,
		ContentType:       aws.String("text/html"),
		ContentEncoding:   aws.String("zstd"),
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    &checksum,
		Metadata: map[string]string{
			"revision": revision,
		},
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", Key(repo, revision), err)
	}
	return nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
