package datanode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrObjectNotFound is returned by ObjectStore.Read for missing objects.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the blob interface region engines persist through. Keys
// use forward slashes regardless of platform.
type ObjectStore interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// NewObjectStore constructs the provider selected by cfg, rooted at
// dataHome for the file provider.
func NewObjectStore(ctx context.Context, dataHome string, cfg ObjectStoreConfig) (ObjectStore, error) {
	switch cfg.Type {
	case StoreTypeFile, "":
		return newFsStore(dataHome), nil
	case StoreTypeS3:
		return newS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown object store type %q", cfg.Type)
	}
}

// fsStore keeps objects as plain files under a root directory.
type fsStore struct {
	root string
}

func newFsStore(root string) *fsStore {
	return &fsStore{root: root}
}

func (s *fsStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *fsStore) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("failed to write object %q: %w", key, err)
	}
	return nil
}

func (s *fsStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", key, err)
	}
	return data, nil
}

func (s *fsStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}
	return nil
}

// s3Store persists objects in an S3 (or S3-compatible) bucket.
type s3Store struct {
	client *s3.Client
	bucket string
	root   string
}

func newS3Store(ctx context.Context, cfg S3Config) (*s3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 object store requires a bucket")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &s3Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		root:   cfg.Root,
	}, nil
}

func (s *s3Store) key(key string) string {
	if s.root == "" {
		return key
	}
	return path.Join(s.root, key)
}

func (s *s3Store) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 put object %q: %w", key, err)
	}
	return nil
}

func (s *s3Store) Read(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get object %q: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read object %q: %w", key, err)
	}
	return data, nil
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete object %q: %w", key, err)
	}
	return nil
}
