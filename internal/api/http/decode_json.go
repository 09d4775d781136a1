package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxBodyBytes はリクエストボディの上限です。
const maxBodyBytes = 64 << 10

// decodeBody はリクエストボディを T としてデコードします。未知のフィールドと後続の値は拒否します。
func decodeBody[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var v T
	if r.Body == nil || r.Body == http.NoBody {
		return v, InvalidJSON("empty body")
	}
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer func() { _ = body.Close() }()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, decodeError(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return v, InvalidJSON("multiple JSON values")
	}
	return v, nil
}

func decodeError(err error) *AppError {
	var (
		se  *json.SyntaxError
		ute *json.UnmarshalTypeError
		mbe *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return InvalidJSON("empty body")
	case errors.Is(err, io.ErrUnexpectedEOF), errors.As(err, &se):
		return InvalidJSON("malformed JSON")
	case errors.As(err, &ute):
		return NewAppError(http.StatusBadRequest, CodeInvalidJSON,
			fmt.Sprintf("field %q must be %s", ute.Field, ute.Type), map[string]string{"field": ute.Field})
	case errors.As(err, &mbe):
		return NewAppError(http.StatusRequestEntityTooLarge, CodeInvalidJSON,
			fmt.Sprintf("body exceeds %d bytes", mbe.Limit), nil)
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return NewAppError(http.StatusBadRequest, CodeInvalidJSON, "unknown field "+field, map[string]string{"field": field})
	default:
		return InvalidJSON("invalid JSON")
	}
}
