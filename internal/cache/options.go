package cache

import (
	"time"

	"github.com/amakane-hakari/nemuri/internal/metrics"
)

const (
	// DefaultSessionTimeout は未指定時のアイドルタイムアウトです。
	DefaultSessionTimeout = 5 * time.Minute
	// DefaultSweepInterval は未指定時の sweep 間隔です。
	DefaultSweepInterval = time.Second
)

type logLike interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Clock は現在時刻を返します。テストで時間を進めるために差し替えます。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config はキャッシュの設定を表します。
type Config struct {
	Name           string
	SessionTimeout time.Duration // 0 で release 時に即退避、負で退避しない
	SweepInterval  time.Duration // SessionTimeout より長い場合は SessionTimeout に切り詰める
	Shards         int           // 2 の冪推奨。0/未指定なら 16
	Logger         logLike
	Metrics        metrics.Interface
	Policy         EvictPolicy
	Groups         *Groups
	Clock          Clock
}

// Option はキャッシュのオプションを設定する関数です。
type Option func(*Config)

// WithName はキャッシュ名を設定するオプションです。グループ内で一意である必要があります。
func WithName(name string) Option {
	return func(c *Config) { c.Name = name }
}

// WithSessionTimeout はアイドルタイムアウトを設定するオプションです。
func WithSessionTimeout(d time.Duration) Option {
	return func(c *Config) { c.SessionTimeout = d }
}

// WithSweepInterval は sweep の間隔を設定するオプションです。
func WithSweepInterval(d time.Duration) Option {
	return func(c *Config) { c.SweepInterval = d }
}

// WithShards はシャード数を設定するオプションです。
func WithShards(n int) Option {
	return func(c *Config) { c.Shards = n }
}

// WithLogger はロガーを設定するオプションです。
func WithLogger(l logLike) Option {
	return func(c *Config) { c.Logger = l }
}

// WithMetrics はメトリクスを設定するオプションです。
func WithMetrics(m metrics.Interface) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithEvictPolicy は退避判定の戦略を設定するオプションです。
func WithEvictPolicy(p EvictPolicy) Option {
	return func(c *Config) { c.Policy = p }
}

// WithGroups はグループ化 passivation の協調者を設定するオプションです。
func WithGroups(g *Groups) Option {
	return func(c *Config) { c.Groups = g }
}

// WithClock は時刻の取得元を設定するオプションです。
func WithClock(clk Clock) Option {
	return func(c *Config) { c.Clock = clk }
}

func defaultConfig() Config {
	return Config{
		Name:           "default",
		SessionTimeout: DefaultSessionTimeout,
		SweepInterval:  DefaultSweepInterval,
		Shards:         16,
		Metrics:        metrics.Noop{},
		Clock:          realClock{},
	}
}

func (c *Config) sweepInterval() time.Duration {
	iv := c.SweepInterval
	if iv <= 0 {
		iv = DefaultSweepInterval
	}
	if c.SessionTimeout > 0 && c.SessionTimeout < iv {
		iv = c.SessionTimeout
	}
	return iv
}
