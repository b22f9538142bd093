package tutor

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"metalearn/api/internal/applications"
	"metalearn/api/internal/auth"
	"metalearn/api/internal/httpx"
	"metalearn/api/internal/rbac"
)

const serviceName = "tutor-backend"

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

	r.Handle("/metrics", promhttp.Handler())
	httpx.MountWithAPIPrefix(r, s.routes)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	return r
}

func (s *HTTPServer) routes(r chi.Router) {
	limited := httpx.RateLimitByIP(s.cfg.AuthRequests, s.cfg.AuthWindow)

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)

	r.With(limited).Post("/tutors/login", s.handleLogin)
	r.With(limited).Post("/auth/refresh", s.handleRefresh)
	r.Post("/auth/logout", s.handleLogout)
	r.With(limited).Post("/tutor-applications", s.handleSubmitApplication)

	r.Group(func(r chi.Router) {
		r.Use(httpx.RequireAuth(s.service))
		r.Use(httpx.RequireAction(rbac.ActionTeach, "Tutor access required"))

		r.Post("/tutors/assistant/query", s.handleAssistantQuery)
		r.Get("/tutors/me/courses", s.handleMyCourses)
		r.Get("/tutors/{courseId}/enrollments", s.handleEnrollments)
		r.Get("/tutors/{courseId}/progress", s.handleProgress)
		r.Get("/tutors/{courseId}/activity", s.handleActivity)
		r.Get("/tutors/{courseId}/learners/{userId}/history", s.handleLearnerHistory)
	})
}

func respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, status, payload)
}

func principal(r *http.Request) auth.Principal {
	p, _ := httpx.PrincipalFrom(r.Context())
	return p
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
	if err := s.service.Ping(ctx); err != nil {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "status": "not_ready", "error": err.Error()})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ready"})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httpx.DecodeBody(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	payload, err := s.service.Login(r.Context(), req.Email, req.Password)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := httpx.DecodeBody(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	payload, err := s.service.Refresh(r.Context(), req.RefreshToken)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := httpx.BearerToken(r)
	if err := s.service.Logout(r.Context(), token); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleAssistantQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CourseID string `json:"courseId"`
		Question string `json:"question"`
	}
	if err := httpx.DecodeBody(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	payload, err := s.service.AskAssistant(r.Context(), principal(r), req.CourseID, req.Question)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleMyCourses(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.MyCourses(r.Context(), principal(r))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleEnrollments(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.Enrollments(r.Context(), principal(r), chi.URLParam(r, "courseId"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.Progress(r.Context(), principal(r), chi.URLParam(r, "courseId"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.Activity(r.Context(), principal(r), chi.URLParam(r, "courseId"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleLearnerHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	payload, err := s.service.LearnerHistory(r.Context(), principal(r), chi.URLParam(r, "courseId"), chi.URLParam(r, "userId"), limit)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleSubmitApplication(w http.ResponseWriter, r *http.Request) {
	var in applications.Input
	if err := httpx.DecodeBody(r, &in); err != nil {
		httpx.Fail(w, r, httpx.NewError(http.StatusBadRequest, "VALIDATION_ERROR", applications.InvalidPayloadMessage, nil))
		return
	}
	payload, err := s.service.SubmitApplication(r.Context(), in)
	respond(w, r, http.StatusCreated, payload, err)
}
