// Package s3store implements the blob store SPI on S3. Document ciphertext
// is opaque to the store; signed GET URLs back the vendor download path.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/chirino/vault-service/internal/config"
	registryblob "github.com/chirino/vault-service/internal/registry/blob"
)

func init() {
	registryblob.Register(registryblob.Plugin{
		Name:   "s3",
		Loader: load,
	})
}

func load(ctx context.Context) (registryblob.BlobStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3store: S3_BUCKET is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("s3store: load AWS config: %w", err)
	}
	usePathStyle := cfg.S3UsePathStyle
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
	})
	presigner := s3.NewPresignClient(client)
	return &S3BlobStore{
		client:           client,
		presigner:        presigner,
		bucket:           cfg.S3Bucket,
		prefix:           strings.Trim(strings.TrimSpace(cfg.S3Prefix), "/"),
		externalEndpoint: strings.TrimSpace(cfg.S3ExternalEndpoint),
	}, nil
}

type S3BlobStore struct {
	client           *s3.Client
	presigner        *s3.PresignClient
	bucket           string
	prefix           string
	externalEndpoint string
}

// s3Key returns the actual S3 object key for a storage path, applying the
// prefix if set. The prefix is applied at access time and never persisted.
func (s *S3BlobStore) s3Key(path string) string {
	if s.prefix != "" {
		return s.prefix + "/" + path
	}
	return path
}

func (s *S3BlobStore) Put(ctx context.Context, path string, data []byte) error {
	return s.put(ctx, path, data, false)
}

func (s *S3BlobStore) PutUpsert(ctx context.Context, path string, data []byte) error {
	return s.put(ctx, path, data, true)
}

func (s *S3BlobStore) put(ctx context.Context, path string, data []byte, upsert bool) error {
	key := s.s3Key(path)
	contentType := "application/octet-stream"
	input := &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   &contentType,
	}
	if !upsert {
		input.IfNoneMatch = aws.String("*")
	}
	_, err := s.client.PutObject(ctx, input, func(o *s3.Options) {
		o.APIOptions = append(o.APIOptions, v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware)
	})
	if err != nil {
		return fmt.Errorf("s3store: put object: %w", err)
	}
	return nil
}

func (s *S3BlobStore) Get(ctx context.Context, path string) ([]byte, error) {
	key := s.s3Key(path)
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("s3store: blob %s not found", path)
		}
		return nil, fmt.Errorf("s3store: get object: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("s3store: read object body: %w", err)
	}
	return data, nil
}

func (s *S3BlobStore) Delete(ctx context.Context, path string) error {
	key := s.s3Key(path)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	return err
}

func (s *S3BlobStore) SignedGet(ctx context.Context, path string, ttl time.Duration) (*registryblob.SignedURL, error) {
	key := s.s3Key(path)
	resp, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, fmt.Errorf("s3store: presign: %w", err)
	}
	signed := resp.URL
	if s.externalEndpoint != "" {
		rewritten, err := rewriteEndpoint(signed, s.externalEndpoint)
		if err != nil {
			return nil, err
		}
		signed = rewritten
	}
	return &registryblob.SignedURL{URL: signed, ExpiresAt: time.Now().Add(ttl)}, nil
}

// rewriteEndpoint swaps the presigned URL's scheme/host for the externally
// reachable endpoint (e.g. a MinIO behind a proxy).
func rewriteEndpoint(signed, external string) (string, error) {
	parsed, err := url.Parse(signed)
	if err != nil {
		return "", err
	}
	ext, err := url.Parse(external)
	if err != nil {
		return "", fmt.Errorf("s3store: parse external endpoint: %w", err)
	}
	parsed.Scheme = ext.Scheme
	parsed.Host = ext.Host
	if strings.TrimSpace(ext.Path) != "" && ext.Path != "/" {
		parsed.Path = strings.TrimRight(ext.Path, "/") + parsed.Path
	}
	return parsed.String(), nil
}
