package objectstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound はキーに対応するレコードが存在しないことを表します。
	ErrNotFound = errors.New("objectstore: not found")
	// ErrStoreIO はシリアライズまたはファイルシステムの失敗を表します。
	ErrStoreIO = errors.New("objectstore: i/o failure")
	// ErrIllegalKey はファイル名として使えないキーを表します。
	ErrIllegalKey = errors.New("objectstore: illegal key")
)

// StoreError はストア操作の失敗を表します。errors.Is(err, ErrStoreIO) が成立します。
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("objectstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is は StoreError を ErrStoreIO として扱います。
func (e *StoreError) Is(target error) bool { return target == ErrStoreIO }

func ioErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Key: key, Err: err}
}
