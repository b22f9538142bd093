package httpx

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"metalearn/api/internal/auth"
	"metalearn/api/internal/logging"
	"metalearn/api/internal/rbac"
)

type verifierFunc func(ctx context.Context, token string) (auth.Principal, error)

func (f verifierFunc) Verify(ctx context.Context, token string) (auth.Principal, error) {
	return f(ctx, token)
}

func decodeMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	message, _ := body["message"].(string)
	return message
}

func TestRequireAuthMessages(t *testing.T) {
	verifier := verifierFunc(func(_ context.Context, token string) (auth.Principal, error) {
		if token == "good" {
			return auth.Principal{UserID: "u1", Role: "tutor"}, nil
		}
		return auth.Principal{}, auth.ErrInvalidToken
	})
	handler := RequireAuth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFrom(r.Context())
		if !ok {
			t.Fatal("expected principal in context")
		}
		WriteJSON(w, http.StatusOK, map[string]string{"userId": principal.UserID})
	}))

	tests := []struct {
		name    string
		header  string
		status  int
		message string
	}{
		{"missing header", "", http.StatusUnauthorized, "Authorization header is missing"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "Authorization header is missing"},
		{"empty token", "Bearer    ", http.StatusUnauthorized, "Access token is missing"},
		{"invalid token", "Bearer bad", http.StatusUnauthorized, "Invalid or expired access token"},
		{"valid token", "Bearer good", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header["Authorization"] = []string{tt.header}
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.status, rr.Body.String())
			}
			if tt.message != "" {
				if got := decodeMessage(t, rr); got != tt.message {
					t.Fatalf("message = %q, want %q", got, tt.message)
				}
			}
		})
	}
}

func TestRequireActionRejectsLearner(t *testing.T) {
	handler := RequireAction(rbac.ActionTeach, "Tutor access required")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for role, want := range map[string]int{
		"learner": http.StatusForbidden,
		"":        http.StatusForbidden,
		"tutor":   http.StatusNoContent,
		"admin":   http.StatusNoContent,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithPrincipal(req.Context(), auth.Principal{UserID: "u", Role: role}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("role %q status = %d, want %d", role, rr.Code, want)
		}
		if want == http.StatusForbidden && decodeMessage(t, rr) != "Tutor access required" {
			t.Fatalf("unexpected forbidden body %s", rr.Body.String())
		}
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{NewError(http.StatusTeapot, "TEAPOT", "short and stout", nil), http.StatusTeapot, "TEAPOT"},
		{fmt.Errorf("wrapped: %w", Forbidden("nope")), http.StatusForbidden, "FORBIDDEN"},
		{fmt.Errorf("get course: %w", sql.ErrNoRows), http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("verify: %w", auth.ErrExpiredToken), http.StatusUnauthorized, "UNAUTHORIZED"},
		{errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tt := range tests {
		status, code, _, _ := MapError(tt.err)
		if status != tt.status || code != tt.code {
			t.Fatalf("MapError(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func TestWriteErrorIncludesDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid payload", map[string]any{"fieldErrors": map[string][]string{"email": {"is required"}}})

	var body struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Errors  map[string]any `json:"errors"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "VALIDATION_ERROR" || body.Message != "Invalid payload" || body.Errors["fieldErrors"] == nil {
		t.Fatalf("unexpected body %+v", body)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestDecodeBody(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ada"}`))
	if err := DecodeBody(req, &target); err != nil || target.Name != "ada" {
		t.Fatalf("DecodeBody() = %v, %+v", err, target)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := DecodeBody(req, &target); err != nil {
		t.Fatalf("DecodeBody(empty) error = %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
	err := DecodeBody(req, &target)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Message != "invalid JSON body" {
		t.Fatalf("DecodeBody(malformed) error = %v", err)
	}
}

func TestMountWithAPIPrefix(t *testing.T) {
	r := chi.NewRouter()
	MountWithAPIPrefix(r, func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	})

	for _, path := range []string{"/health", "/api/health"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, rr.Code)
		}
	}
}

func TestRequestLoggerPropagatesRequestID(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequestLogger("test"))
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get(RequestIDHeader); got != "req-123" {
		t.Fatalf("request id header = %q", got)
	}
}

func TestRequestLoggerGeneratesIDAndLogsResponse(t *testing.T) {
	var buf bytes.Buffer
	logging.Init(logging.Config{Level: "info", Format: "json", Output: &buf})
	t.Cleanup(func() { logging.Init(logging.DefaultConfig()) })

	r := chi.NewRouter()
	r.Use(RequestLogger("test"))
	r.Get("/teapot", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})
	r.Get("/implicit", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/teapot", nil))
	requestID := rr.Header().Get(RequestIDHeader)
	if requestID == "" {
		t.Fatalf("request id header missing")
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log %q: %v", buf.String(), err)
	}
	if line["request_id"] != requestID || line["status"] != float64(http.StatusTeapot) || line["bytes"] != float64(len("short and stout")) {
		t.Fatalf("log line = %v", line)
	}

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/implicit", nil))
	if !strings.Contains(buf.String(), `"status":200`) {
		t.Fatalf("implicit status log = %q", buf.String())
	}
}

func TestRateLimitByIP(t *testing.T) {
	handler := RateLimitByIP(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", last)
	}
}

func TestISOTime(t *testing.T) {
	ts := time.Date(2024, 3, 5, 8, 9, 10, 123456789, time.FixedZone("X", 3600))
	if got := ISOTime(ts); got != "2024-03-05T07:09:10.123Z" {
		t.Fatalf("ISOTime() = %q", got)
	}
}

func TestOptionalAuth(t *testing.T) {
	verifier := verifierFunc(func(_ context.Context, token string) (auth.Principal, error) {
		if token == "good" {
			return auth.Principal{UserID: "u1"}, nil
		}
		return auth.Principal{}, auth.ErrInvalidToken
	})
	handler := OptionalAuth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := PrincipalFrom(r.Context())
		WriteJSON(w, http.StatusOK, map[string]string{"userId": principal.UserID})
	}))

	for header, want := range map[string]string{"": "", "Bearer bad": "", "Bearer good": "u1"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		var body map[string]string
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if rr.Code != http.StatusOK || body["userId"] != want {
			t.Fatalf("header %q: status %d userId %q, want %q", header, rr.Code, body["userId"], want)
		}
	}
}
