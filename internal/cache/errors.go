package cache

import "errors"

var (
	// ErrNotFound は ID がメモリにもストアにも存在しないことを表します。
	ErrNotFound = errors.New("cache: not found")
	// ErrContextInUse は使用中のエントリを破棄・退避しようとしたことを表します。
	ErrContextInUse = errors.New("cache: context in use")
	// ErrNotInUse は使用中でないエントリを release しようとしたことを表します。
	ErrNotInUse = errors.New("cache: entry is not in use")
	// ErrStopped は停止済みのキャッシュへの操作を表します。
	ErrStopped = errors.New("cache: stopped")

	// ErrNoGroups はグループ協調者なしでグループ操作を行ったことを表します。
	ErrNoGroups = errors.New("cache: no group coordinator configured")
	// ErrGroupNotFound は未知のグループ ID を表します。
	ErrGroupNotFound = errors.New("cache: group not found")
	// ErrGroupMismatch は別のグループに所属済みのエントリを割り当てようとしたことを表します。
	ErrGroupMismatch = errors.New("cache: entry belongs to another group")
	// ErrDuplicateName は同じ名前のキャッシュが既にグループ協調者に登録されていることを表します。
	ErrDuplicateName = errors.New("cache: duplicate cache name")
)
