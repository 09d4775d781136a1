package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// FileBlobs は go-billy のファイルシステム上に 1 キー 1 ファイルで保存する Blobs 実装です。
//
// Storage layout:
//
//	dir/
//	  <escaped key>           (committed record)
//	  <escaped key>.tempFile  (in-flight write, renamed over the record on commit)
type FileBlobs struct {
	fs     billy.Filesystem
	dir    string
	raw    bool
	logger logLike
}

// FileOption は FileBlobs のオプションを設定する関数です。
type FileOption func(*FileBlobs)

// WithRawNames はキーのエスケープを無効にします。
// 禁止文字を含むキーは警告ログを出したうえで ErrIllegalKey として拒否されます。
func WithRawNames() FileOption {
	return func(b *FileBlobs) { b.raw = true }
}

// WithFileLogger は FileBlobs のロガーを設定するオプションです。
func WithFileLogger(l logLike) FileOption {
	return func(b *FileBlobs) { b.logger = l }
}

// NewFileBlobs は bfs 上の dir 配下にレコードを保存する FileBlobs を作成します。
func NewFileBlobs(bfs billy.Filesystem, dir string, opts ...FileOption) (*FileBlobs, error) {
	b := &FileBlobs{fs: bfs, dir: dir}
	for _, o := range opts {
		o(b)
	}
	if err := bfs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return b, nil
}

// OpenDir は OS 上のディレクトリ root をストレージとして開きます。
func OpenDir(root string, opts ...FileOption) (*FileBlobs, error) {
	return NewFileBlobs(osfs.New(root), ".", opts...)
}

// Put は一時ファイルに書き込んでから rename で置き換えます。
func (b *FileBlobs) Put(_ context.Context, key string, data []byte) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	tmp := path + TempSuffix

	f, err := b.fs.Create(tmp)
	if err != nil {
		return ioErr("put", key, fmt.Errorf("create temp file: %w", err))
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = b.fs.Remove(tmp)
		return ioErr("put", key, fmt.Errorf("write temp file: %w", err))
	}
	if s, ok := f.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			_ = f.Close()
			_ = b.fs.Remove(tmp)
			return ioErr("put", key, fmt.Errorf("sync temp file: %w", err))
		}
	}
	if err := f.Close(); err != nil {
		_ = b.fs.Remove(tmp)
		return ioErr("put", key, fmt.Errorf("close temp file: %w", err))
	}
	if err := b.fs.Rename(tmp, path); err != nil {
		_ = b.fs.Remove(tmp)
		return ioErr("put", key, fmt.Errorf("rename temp file: %w", err))
	}
	if b.logger != nil {
		b.logger.Debug("objectstore.put", "key", key, "bytes", len(data))
	}
	return nil
}

// Get はレコードを読み出します。
func (b *FileBlobs) Get(_ context.Context, key string) ([]byte, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := util.ReadFile(b.fs, path)
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, ioErr("get", key, err)
	}
	return data, nil
}

// Delete はレコードを削除します。
func (b *FileBlobs) Delete(_ context.Context, key string) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	if err := b.fs.Remove(path); err != nil && !isNotExist(err) {
		return ioErr("delete", key, err)
	}
	return nil
}

// Has はレコードが存在するかを返します。
func (b *FileBlobs) Has(_ context.Context, key string) (bool, error) {
	path, err := b.path(key)
	if err != nil {
		return false, err
	}
	_, err = b.fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if isNotExist(err) {
		return false, nil
	}
	return false, ioErr("stat", key, err)
}

// Keys は保存済みのキー一覧を返します。書き込み途中の一時ファイルは含みません。
func (b *FileBlobs) Keys(_ context.Context) ([]string, error) {
	infos, err := b.fs.ReadDir(b.dir)
	if err != nil {
		return nil, ioErr("list", b.dir, err)
	}
	keys := make([]string, 0, len(infos))
	for _, fi := range infos {
		name := fi.Name()
		if fi.IsDir() || strings.HasSuffix(name, TempSuffix) {
			continue
		}
		if b.raw {
			keys = append(keys, name)
			continue
		}
		k, err := UnescapeName(name)
		if err != nil {
			if b.logger != nil {
				b.logger.Warn("objectstore.list.skip", "name", name, "err", err)
			}
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (b *FileBlobs) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrIllegalKey)
	}
	if strings.HasSuffix(key, TempSuffix) {
		return "", fmt.Errorf("%w: %q uses the reserved suffix %s", ErrIllegalKey, key, TempSuffix)
	}
	name := key
	if b.raw {
		if hasIllegal(key) || key == "." || key == ".." {
			if b.logger != nil {
				b.logger.Warn("objectstore.key.unportable", "key", key)
			}
			return "", fmt.Errorf("%w: %q contains characters that are not portable", ErrIllegalKey, key)
		}
	} else {
		name = EscapeName(key)
	}
	return b.fs.Join(b.dir, name), nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err)
}
