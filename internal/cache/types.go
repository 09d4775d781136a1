package cache

import (
	"sync"
	"time"
)

type entryState uint8

const (
	stateLoading entryState = iota
	stateResident
	stateGone
)

// Entry はキャッシュが管理するインスタンスのハンドルです。
// 同一 ID でも passivation と activation を経ると別の Entry になります。
type Entry[T any] struct {
	id    string
	value T // activation 完了前に一度だけ設定される

	mu       sync.Mutex
	state    entryState
	inUse    int
	lastUsed time.Time
	pending  bool // 期限切れ時に使用中だったため次回以降の sweep で退避対象
	group    string
}

// ID はエントリの ID を返します。
func (e *Entry[T]) ID() string { return e.id }

// Value はインスタンスを返します。
func (e *Entry[T]) Value() T { return e.value }

// Group は所属するグループの ID を返します。未所属の場合は空文字列です。
func (e *Entry[T]) Group() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.group
}

func (e *Entry[T]) info() EntryInfo {
	return EntryInfo{
		ID:       e.id,
		LastUsed: e.lastUsed,
		InUse:    e.inUse,
		Group:    e.group,
		Pending:  e.pending,
	}
}

// EntryInfo は退避判定に渡されるエントリのスナップショットです。
type EntryInfo struct {
	ID       string
	LastUsed time.Time
	InUse    int
	Group    string
	Pending  bool
}

// EntryStat は診断用のエントリ状態です。
type EntryStat struct {
	ID                 string    `json:"id"`
	Resident           bool      `json:"resident"`
	InUse              int       `json:"in_use"`
	LastUsed           time.Time `json:"last_used,omitempty"`
	PassivationPending bool      `json:"passivation_pending"`
	Group              string    `json:"group,omitempty"`
}
