package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ceolin/mobilidade/backend/go-services/internal/config"
	"github.com/ceolin/mobilidade/backend/go-services/internal/document"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	snapshotPrefix = "snapshots/"
	stampLayout    = "20060102T150405Z"
)

// Snapshot describes one archived copy of the document.
type Snapshot struct {
	Key      string           `json:"key"`
	Version  document.Version `json:"sha"`
	Size     int64            `json:"size"`
	Modified time.Time        `json:"modified"`
}

// SnapshotArchive keeps a copy of every committed document in a MinIO bucket.
type SnapshotArchive struct {
	client *minio.Client
	bucket string
}

// NewSnapshotArchive creates a MinIO client and ensures the bucket exists.
func NewSnapshotArchive(ctx context.Context, cfg config.MinIOConfig) (*SnapshotArchive, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio config missing")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	s := &SnapshotArchive{client: mc, bucket: cfg.Bucket}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		// ignore "already exists" style errors
		exist, xerr := mc.BucketExists(ctx, s.bucket)
		if xerr != nil || !exist {
			return nil, fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	return s, nil
}

// Archive stores content under a key derived from the commit time and version.
func (s *SnapshotArchive) Archive(ctx context.Context, res *document.WriteResult, content []byte) error {
	key := SnapshotKey(res.CommittedAt, res.Version)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{"version": string(res.Version), "commit": res.CommitID},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// List returns archived snapshots, newest first. limit <= 0 means all.
func (s *SnapshotArchive) List(ctx context.Context, limit int) ([]Snapshot, error) {
	var out []Snapshot
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: snapshotPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		out = append(out, Snapshot{Key: obj.Key, Version: VersionFromKey(obj.Key), Size: obj.Size, Modified: obj.LastModified})
	}
	// keys embed a sortable timestamp
	sort.Slice(out, func(i, j int) bool { return out[i].Key > out[j].Key })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Download returns the archived content stored at key.
func (s *SnapshotArchive) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	// perform a stat to ensure object exists
	if _, err := obj.Stat(); err != nil {
		return nil, err
	}
	return io.ReadAll(obj)
}

// PresignedURL returns a presigned GET URL valid for the given duration.
func (s *SnapshotArchive) PresignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, expires, make(url.Values))
	if err != nil {
		return "", err
	}
	return presigned.String(), nil
}

// SnapshotKey is snapshots/<UTC timestamp>-<version>.json.
func SnapshotKey(at time.Time, v document.Version) string {
	if at.IsZero() {
		at = time.Now()
	}
	return fmt.Sprintf("%s%s-%s.json", snapshotPrefix, at.UTC().Format(stampLayout), v)
}

// VersionFromKey recovers the version from a key built by SnapshotKey.
func VersionFromKey(key string) document.Version {
	name := strings.TrimSuffix(strings.TrimPrefix(key, snapshotPrefix), ".json")
	if len(name) <= len(stampLayout)+1 || name[len(stampLayout)] != '-' {
		return ""
	}
	return document.Version(name[len(stampLayout)+1:])
}
