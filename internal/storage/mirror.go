package storage

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Mirror copies a finished task's output directory to secondary storage.
type Mirror interface {
	MirrorTask(ctx context.Context, taskID, dir string) (int, error)
	RemoveTask(ctx context.Context, taskID string) error
}

type MinioConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
}

// MinioMirror stores objects as <bucket>/<task>/<relative path>.
type MinioMirror struct {
	client *minio.Client
	bucket string
}

func NewMinioMirror(ctx context.Context, cfg MinioConfig) (*MinioMirror, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioMirror{client: mc, bucket: cfg.Bucket}, nil
}

func (m *MinioMirror) MirrorTask(ctx context.Context, taskID, dir string) (int, error) {
	uploaded := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		object := path.Join(taskID, filepath.ToSlash(rel))
		opts := minio.PutObjectOptions{ContentType: contentTypeFor(p)}
		if _, err := m.client.FPutObject(ctx, m.bucket, object, p, opts); err != nil {
			return fmt.Errorf("upload %s: %w", object, err)
		}
		uploaded++
		return nil
	})
	return uploaded, err
}

func (m *MinioMirror) RemoveTask(ctx context.Context, taskID string) error {
	objects := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: taskID + "/", Recursive: true})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("list %s: %w", taskID, obj.Err)
		}
		if err := m.client.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", obj.Key, err)
		}
	}
	return nil
}

func contentTypeFor(p string) string {
	switch filepath.Ext(p) {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".json":
		return "application/json"
	}
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
