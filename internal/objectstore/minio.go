package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig は MinioBlobs の接続設定です。
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool

	// Client が指定された場合は接続情報より優先されます。
	Client *minio.Client
	// Logger には移植できないキーの警告が出力されます。
	Logger logLike
}

func (c MinioConfig) validate() error {
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if c.Client == nil && c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	return nil
}

// MinioBlobs は S3 互換ストレージに保存する Blobs 実装です。
// PutObject はサーバ側で原子的に置き換わるため一時オブジェクトは使いません。
// キーはエスケープしないので、ファイル名として移植できない文字を含むキーは警告を出して拒否します。
type MinioBlobs struct {
	client *minio.Client
	bucket string
	prefix string
	logger logLike
}

// NewMinioBlobs は MinioBlobs を作成し、バケットが無ければ作成します。
func NewMinioBlobs(ctx context.Context, cfg MinioConfig) (*MinioBlobs, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid minio config: %w", err)
	}
	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
	}
	ok, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !ok {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioBlobs{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: cfg.Logger,
	}, nil
}

// Put はオブジェクトを保存します。
func (m *MinioBlobs) Put(ctx context.Context, key string, data []byte) error {
	name, err := m.objectKey(key)
	if err != nil {
		return err
	}
	_, err = m.client.PutObject(ctx, m.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return ioErr("put", key, err)
}

// Get はオブジェクトを読み出します。
func (m *MinioBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	name, err := m.objectKey(key)
	if err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinio("get", key, err)
	}
	defer func() {
		_ = obj.Close()
	}()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateMinio("get", key, err)
	}
	return data, nil
}

// Delete はオブジェクトを削除します。
func (m *MinioBlobs) Delete(ctx context.Context, key string) error {
	name, err := m.objectKey(key)
	if err != nil {
		return err
	}
	err = m.client.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{})
	if err = translateMinio("delete", key, err); errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Has はオブジェクトが存在するかを返します。
func (m *MinioBlobs) Has(ctx context.Context, key string) (bool, error) {
	name, err := m.objectKey(key)
	if err != nil {
		return false, err
	}
	_, err = m.client.StatObject(ctx, m.bucket, name, minio.StatObjectOptions{})
	switch err = translateMinio("stat", key, err); {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (m *MinioBlobs) objectKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrIllegalKey)
	}
	if hasIllegal(key) || key == "." || key == ".." {
		if m.logger != nil {
			m.logger.Warn("objectstore.key.unportable", "key", key, "bucket", m.bucket)
		}
		return "", fmt.Errorf("%w: %q contains characters that are not portable", ErrIllegalKey, key)
	}
	if m.prefix == "" {
		return key, nil
	}
	return m.prefix + "/" + key, nil
}

func translateMinio(op, key string, err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return ErrNotFound
	}
	return ioErr(op, key, fmt.Errorf("minio: %w", err))
}
