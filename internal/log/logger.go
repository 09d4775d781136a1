package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger は各コンポーネントが利用する構造化ロガーです。
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type Slog struct {
	l *slog.Logger
}

// New は LOG_LEVEL 環境変数に従って標準出力へ書き出すロガーを作成します。
func New() *Slog {
	return NewWithWriter(os.Stdout, os.Getenv("LOG_LEVEL"))
}

// NewWithWriter は出力先とレベル名を指定してロガーを作成します。
func NewWithWriter(w io.Writer, level string) *Slog {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return &Slog{l: slog.New(h)}
}

// With は属性を付与した子ロガーを返します。
func (s *Slog) With(args ...any) *Slog { return &Slog{l: s.l.With(args...)} }

func (s *Slog) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *Slog) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *Slog) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *Slog) Error(msg string, args ...any) { s.l.Error(msg, args...) }

func parseLevel(s string) slog.Level {
	switch {
	case strings.EqualFold(s, "debug"):
		return slog.LevelDebug
	case strings.EqualFold(s, "warn"):
		return slog.LevelWarn
	case strings.EqualFold(s, "error"):
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
