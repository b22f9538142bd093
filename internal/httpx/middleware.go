package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"metalearn/api/internal/auth"
	"metalearn/api/internal/logging"
	"metalearn/api/internal/metrics"
	"metalearn/api/internal/rbac"
)

// RequestIDHeader carries the request id in both directions. chi's
// middleware.RequestID reads the same header, matched case-insensitively.
const RequestIDHeader = "X-Request-ID"

// RequestLogger tags each request with an id, logs one line when it
// completes and records request metrics under service. An incoming
// X-Request-ID is reused, otherwise chi generates one.
func RequestLogger(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := middleware.GetReqID(r.Context())
			r = r.WithContext(logging.WithRequestID(r.Context(), requestID))

			started := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Header().Set(RequestIDHeader, requestID)

			next.ServeHTTP(ww, r)

			elapsed := time.Since(started)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			metrics.RecordHTTPRequest(service, r.Method, route, status, elapsed)
			logging.Ctx(r.Context()).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Int64("duration_ms", elapsed.Milliseconds()).
				Msg("request")
		}))
	}
}

// CORS allows credentialed requests from allowedOrigins and exposes the
// request id header to browsers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// RateLimitByIP limits requests per client IP. A non-positive limit
// disables it.
func RateLimitByIP(requests int, window time.Duration) func(http.Handler) http.Handler {
	if requests <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, please try again later", nil)
		}),
	)
}

// Verifier checks an access token and returns its principal.
type Verifier interface {
	Verify(ctx context.Context, accessToken string) (auth.Principal, error)
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying principal.
func WithPrincipal(ctx context.Context, principal auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom returns the principal attached by RequireAuth or
// OptionalAuth.
func PrincipalFrom(ctx context.Context) (auth.Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(auth.Principal)
	return principal, ok
}

// RequireAuth rejects requests without a valid bearer access token.
func RequireAuth(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header is missing", nil)
				return
			}
			if token == "" {
				WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Access token is missing", nil)
				return
			}
			principal, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logging.Ctx(r.Context()).Debug().Err(err).Msg("access token rejected")
				WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired access token", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// OptionalAuth attaches the principal when a valid bearer token is sent and
// serves the request anonymously otherwise.
func OptionalAuth(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := BearerToken(r); ok && token != "" {
				if principal, err := verifier.Verify(r.Context(), token); err == nil {
					r = r.WithContext(WithPrincipal(r.Context(), principal))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAction rejects principals whose role may not perform action.
func RequireAction(action rbac.Action, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFrom(r.Context())
			if !ok || principal.Role == "" || !rbac.Can(rbac.Role(principal.Role), action) {
				WriteError(w, http.StatusForbidden, "FORBIDDEN", message, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MountWithAPIPrefix registers routes at the root and again under /api.
func MountWithAPIPrefix(r chi.Router, routes func(chi.Router)) {
	r.Group(routes)
	r.Route("/api", routes)
}
