package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/amakane-hakari/nemuri/internal/cache"
	"github.com/amakane-hakari/nemuri/internal/objectstore"
	"github.com/amakane-hakari/nemuri/internal/pool"
	"github.com/amakane-hakari/nemuri/internal/session"
)

// AppError は API が返すエラーです。エラーエンベロープにそのまま書き出されます。
type AppError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Meta    any    `json:"meta,omitempty"`
}

// エラーコード
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeInvalidJSON   = "INVALID_JSON"
	CodeNotFound      = "NOT_FOUND"
	CodeInUse         = "IN_USE"
	CodeFinished      = "FINISHED"
	CodeTimeout       = "TIMEOUT"
	CodeCanceled      = "CANCELED"
	CodeUnavailable   = "UNAVAILABLE"
	CodeStorage       = "STORAGE_ERROR"
	CodeInternalError = "INTERNAL_ERROR"
)

func (e *AppError) Error() string { return e.Code + ": " + e.Message }

// NewAppError は新しい AppError を作成します。
func NewAppError(status int, code, message string, meta any) *AppError {
	return &AppError{Status: status, Code: code, Message: message, Meta: meta}
}

// BadRequest は 400 を表す AppError を作成します。
func BadRequest(msg string) *AppError {
	return NewAppError(http.StatusBadRequest, CodeBadRequest, msg, nil)
}

// NotFound は 404 を表す AppError を作成します。
func NotFound(msg string) *AppError {
	return NewAppError(http.StatusNotFound, CodeNotFound, msg, nil)
}

// Internal は 500 を表す AppError を作成します。
func Internal(msg string) *AppError {
	return NewAppError(http.StatusInternalServerError, CodeInternalError, msg, nil)
}

// InvalidJSON は不正な JSON による 400 を表す AppError を作成します。
func InvalidJSON(msg string) *AppError {
	return NewAppError(http.StatusBadRequest, CodeInvalidJSON, msg, nil)
}

// errorMappings はドメインのエラーと API エラーの対応です。先頭から順に errors.Is で照合します。
var errorMappings = []struct {
	targets []error
	status  int
	code    string
	message string
}{
	{[]error{cache.ErrNotFound, cache.ErrGroupNotFound}, http.StatusNotFound, CodeNotFound, "entry not found"},
	{[]error{cache.ErrContextInUse}, http.StatusConflict, CodeInUse, "entry is in use"},
	{[]error{session.ErrFinished}, http.StatusConflict, CodeFinished, "session already finished"},
	{[]error{cache.ErrStopped, session.ErrCheckoutClosed, pool.ErrClosed}, http.StatusServiceUnavailable, CodeUnavailable, "shutting down"},
	{[]error{objectstore.ErrStoreIO}, http.StatusInternalServerError, CodeStorage, "storage failure"},
	{[]error{context.Canceled}, http.StatusRequestTimeout, CodeCanceled, "request canceled"},
	{[]error{context.DeadlineExceeded}, http.StatusRequestTimeout, CodeTimeout, "request timeout"},
}

// FromStdError は error を AppError に変換します。対応のないエラーは 500 になります。
func FromStdError(err error) *AppError {
	if err == nil {
		return nil
	}
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	for _, m := range errorMappings {
		for _, target := range m.targets {
			if errors.Is(err, target) {
				return NewAppError(m.status, m.code, m.message, nil)
			}
		}
	}
	return Internal("unexpected error")
}
