package metrics

import (
	"sync/atomic"
)

// Interface はメトリクス更新用抽象
type Interface interface {
	IncCreated()
	IncGetHit()
	IncGetMiss()
	IncActivated()
	IncPassivated()
	IncPassivationFailed()
	IncRemoved()
	SetResident(n int)
}

// Noop は何もしないメトリクス実装
type Noop struct{}

// IncCreated は何もしないメトリクス実装
func (Noop) IncCreated() {}

// IncGetHit は何もしないメトリクス実装
func (Noop) IncGetHit() {}

// IncGetMiss は何もしないメトリクス実装
func (Noop) IncGetMiss() {}

// IncActivated は何もしないメトリクス実装
func (Noop) IncActivated() {}

// IncPassivated は何もしないメトリクス実装
func (Noop) IncPassivated() {}

// IncPassivationFailed は何もしないメトリクス実装
func (Noop) IncPassivationFailed() {}

// IncRemoved は何もしないメトリクス実装
func (Noop) IncRemoved() {}

// SetResident は何もしないメトリクス実装
func (Noop) SetResident(_ int) {}

// Simple はシンプルなメトリクス実装です。
type Simple struct {
	Created           atomic.Uint64
	GetHit            atomic.Uint64
	GetMiss           atomic.Uint64
	Activated         atomic.Uint64
	Passivated        atomic.Uint64
	PassivationFailed atomic.Uint64
	Removed           atomic.Uint64
	Resident          atomic.Uint64
}

// NewSimple は新しい Simple メトリクスを作成します。
func NewSimple() *Simple { return &Simple{} }

// IncCreated はインスタンスの生成をカウントします。
func (m *Simple) IncCreated() { m.Created.Add(1) }

// IncGetHit はメモリ上のエントリへのヒットをカウントします。
func (m *Simple) IncGetHit() { m.GetHit.Add(1) }

// IncGetMiss は未知 ID へのアクセスをカウントします。
func (m *Simple) IncGetMiss() { m.GetMiss.Add(1) }

// IncActivated はストアからの復元をカウントします。
func (m *Simple) IncActivated() { m.Activated.Add(1) }

// IncPassivated はストアへの退避をカウントします。
func (m *Simple) IncPassivated() { m.Passivated.Add(1) }

// IncPassivationFailed は退避の失敗をカウントします。
func (m *Simple) IncPassivationFailed() { m.PassivationFailed.Add(1) }

// IncRemoved はエントリの破棄をカウントします。
func (m *Simple) IncRemoved() { m.Removed.Add(1) }

// SetResident はメモリ上のエントリ数を設定します。
func (m *Simple) SetResident(n int) {
	if n >= 0 {
		m.Resident.Store(uint64(n))
	}
}
