// Package httpx holds the JSON codec, error mapping and middleware shared by
// the main and tutor APIs.
package httpx

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"metalearn/api/internal/logging"
)

const maxBodyBytes = 1 << 20

// ISOTimeLayout matches JavaScript's Date.prototype.toISOString.
const ISOTimeLayout = "2006-01-02T15:04:05.000Z"

// ISOTime formats t in UTC with millisecond precision.
func ISOTime(t time.Time) string {
	return t.UTC().Format(ISOTimeLayout)
}

// WriteJSON writes payload with status. Nil payloads and 204 write no body.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if status == http.StatusNoContent || payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError writes the {code, message} error envelope. Non-nil details go
// under "errors".
func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":    code,
		"message": message,
	}
	if details != nil {
		response["errors"] = details
	}
	WriteJSON(w, status, response)
}

// Fail maps err to a response. Server errors are logged with the request id.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := MapError(err)
	if status >= http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	WriteError(w, status, code, message, details)
}

// DecodeBody decodes a JSON body into target. An empty body leaves target
// untouched.
func DecodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return BadRequest("invalid JSON body")
	}
	return nil
}

// BearerToken returns the token of an "Authorization: Bearer" header. ok is
// false when the header is absent or uses another scheme.
func BearerToken(r *http.Request) (token string, ok bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")), true
}
