package app

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"metalearn/api/internal/auth"
	"metalearn/api/internal/httpx"
	"metalearn/api/internal/rbac"
)

const serviceName = "course-platform"

// RouterConfig carries the HTTP-level settings of the main API.
type RouterConfig struct {
	AllowedOrigins []string
	AuthRequests   int
	AuthWindow     time.Duration
}

type HTTPServer struct {
	service *Service
	cfg     RouterConfig
}

func NewHTTPServer(service *Service, cfg RouterConfig) *HTTPServer {
	return &HTTPServer{service: service, cfg: cfg}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httpx.RequestLogger(serviceName))
	r.Use(httpx.CORS(s.cfg.AllowedOrigins))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "Course Platform API"})
	})
	r.Handle("/metrics", promhttp.Handler())

	httpx.MountWithAPIPrefix(r, s.routes)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	return r
}

func (s *HTTPServer) routes(r chi.Router) {
	requireAuth := httpx.RequireAuth(s.service)
	optionalAuth := httpx.OptionalAuth(s.service)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", s.handleHealth)
		r.Get("/ready", s.handleReady)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httpx.RateLimitByIP(s.cfg.AuthRequests, s.cfg.AuthWindow))
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
		})
		r.Post("/logout", s.handleLogout)
		r.With(requireAuth).Get("/me", s.handleMe)
	})

	r.Route("/users", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/me", s.handleMe)
	})

	r.Route("/cart", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/", s.handleCart)
		r.Post("/", s.handleAddToCart)
		r.Post("/checkout", s.handleCheckout)
		r.Delete("/{courseId}", s.handleRemoveFromCart)
	})

	r.Route("/lessons", func(r chi.Router) {
		r.Use(optionalAuth)
		r.Get("/courses/{courseId}/topics", s.handleListTopics)
		r.Get("/topics/{topicId}", s.handleTopicContent)
		r.Get("/topics/{topicId}/media", s.handleTopicMedia)
	})

	r.Route("/courses", func(r chi.Router) {
		r.With(optionalAuth).Get("/", s.handleListCourses)
		r.With(optionalAuth).Get("/search", s.handleSearchCourses)
		r.With(optionalAuth).Get("/{courseRef}", s.handleCourseDetail)
		r.With(requireAuth).Post("/{courseRef}/enroll", s.handleEnroll)
		r.With(requireAuth).Get("/{courseRef}/certificate", s.handleCertificate)
	})

	r.Route("/assistant", func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(httpx.RateLimitByIP(s.cfg.AuthRequests, s.cfg.AuthWindow))
		r.Post("/", s.handleAssistant)
	})

	r.Route("/quiz", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/courses/{courseId}/modules/{moduleNo}", s.handleQuizQuestions)
		r.Post("/courses/{courseId}/modules/{moduleNo}/submit", s.handleQuizSubmit)
	})

	r.Route("/activity", func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/events", s.handleRecordActivity)
		r.Group(func(r chi.Router) {
			r.Use(httpx.RequireAction(rbac.ActionTeach, "Tutor access required"))
			r.Get("/courses/{courseId}/learners", s.handleCourseActivity)
			r.Get("/courses/{courseId}/learners/{userId}/history", s.handleLearnerHistory)
		})
	})

	r.Route("/dashboard", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/", s.handleDashboard)
	})

	r.With(httpx.RateLimitByIP(s.cfg.AuthRequests, s.cfg.AuthWindow)).Post("/tutor-applications", s.handleSubmitApplication)

	r.Route("/admin", func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(httpx.RequireAction(rbac.ActionManage, "Admin access required"))
		s.adminRoutes(r)
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   serviceName,
		"timestamp": httpx.ISOTime(time.Now()),
	})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	httpx.WriteJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// respond writes payload with status, or the mapped error.
func respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, status, payload)
}

// principal returns the authenticated caller. Routes behind RequireAuth
// always have one.
func principal(r *http.Request) auth.Principal {
	p, _ := httpx.PrincipalFrom(r.Context())
	return p
}

func optionalPrincipal(r *http.Request) *auth.Principal {
	if p, ok := httpx.PrincipalFrom(r.Context()); ok {
		return &p
	}
	return nil
}

func pathModuleNo(r *http.Request) (int, error) {
	moduleNo, err := strconv.Atoi(chi.URLParam(r, "moduleNo"))
	if err != nil || moduleNo < 0 {
		return 0, httpx.BadRequest("moduleNo must be a non-negative integer")
	}
	return moduleNo, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
