package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// RemoteBackend is a pure blob put/get against one object-storage
// destination. It never participates in Plan computation or the
// revert algorithm — only Store's local files are ever read for that
// (spec Section 4.4: "[ADDED] On-disk + remote backup ... this is a
// pure backup/restore convenience").
type RemoteBackend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Export uploads the snapshot with id from store to the object-storage
// location named by remoteURI ("s3://bucket/key" or
// "gs://bucket/key"), selecting the backend by URI scheme.
func Export(ctx context.Context, store *Store, id, remoteURI string) error {
	snap, err := store.Load(id)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	backend, key, err := backendFor(ctx, remoteURI)
	if err != nil {
		return err
	}
	return backend.Put(ctx, key, data)
}

// Import downloads a snapshot from remoteURI and saves it into store,
// returning the recovered snapshot.
func Import(ctx context.Context, store *Store, remoteURI string) (*Snapshot, error) {
	backend, key, err := backendFor(ctx, remoteURI)
	if err != nil {
		return nil, err
	}

	data, err := backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse remote snapshot: %w", err)
	}
	if err := store.Save(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// backendFor parses remoteURI ("s3://bucket/key..." or
// "gs://bucket/key...") into a RemoteBackend and the object key within
// that bucket.
func backendFor(ctx context.Context, remoteURI string) (RemoteBackend, string, error) {
	u, err := url.Parse(remoteURI)
	if err != nil {
		return nil, "", fmt.Errorf("parse remote snapshot uri: %w", err)
	}

	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")

	switch u.Scheme {
	case "s3":
		backend, err := newS3Backend(ctx, bucket)
		return backend, key, err
	case "gs":
		backend, err := newGCSBackend(ctx, bucket)
		return backend, key, err
	default:
		return nil, "", fmt.Errorf("unsupported remote snapshot scheme %q (want s3:// or gs://)", u.Scheme)
	}
}

// s3Backend stores snapshots in an S3 bucket.
type s3Backend struct {
	client *s3.Client
	bucket string
}

func newS3Backend(ctx context.Context, bucket string) (*s3Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &s3Backend{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (b *s3Backend) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(string(data)),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func (b *s3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s/%s: %w", b.bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

// gcsBackend stores snapshots in a GCS bucket.
type gcsBackend struct {
	client *storage.Client
	bucket string
}

func newGCSBackend(ctx context.Context, bucket string) (*gcsBackend, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &gcsBackend{client: client, bucket: bucket}, nil
}

func (b *gcsBackend) Put(ctx context.Context, key string, data []byte) error {
	w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %s/%s: %w", b.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close %s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func (b *gcsBackend) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs get %s/%s: %w", b.bucket, key, err)
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}
