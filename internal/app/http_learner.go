package app

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"metalearn/api/internal/activity"
	"metalearn/api/internal/applications"
	"metalearn/api/internal/authpw"
	"metalearn/api/internal/httpx"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httpx.DecodeBody(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	payload, err := s.service.Register(r.Context(), authpw.SignUpRequest{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
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

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.Me(r.Context(), principal(r).UserID)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleCart(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.Cart(r.Context(), principal(r).UserID)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CourseID string `json:"courseId"`
	}
	if err := httpx.DecodeBody(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.CourseID) == "" {
		httpx.Fail(w, r, httpx.BadRequest("courseId is required"))
		return
	}
	payload, err := s.service.AddToCart(r.Context(), principal(r).UserID, req.CourseID)
	respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.RemoveFromCart(r.Context(), principal(r).UserID, chi.URLParam(r, "courseId"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleCheckout(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.Checkout(r.Context(), principal(r).UserID)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleListCourses(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListCourses(r.Context(), optionalPrincipal(r))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleSearchCourses(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	resp := s.service.SearchCourses(
		r.Context(),
		optionalPrincipal(r),
		strings.TrimSpace(query.Get("q")),
		queryInt(r, "limit", 20),
		queryInt(r, "offset", 0),
	)
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleCourseDetail(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.CourseDetail(r.Context(), optionalPrincipal(r), chi.URLParam(r, "courseRef"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleEnroll(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.Enroll(r.Context(), principal(r).UserID, chi.URLParam(r, "courseRef"))
	respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleCertificate(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Certificate(r.Context(), principal(r).UserID, chi.URLParam(r, "courseRef"))
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleListTopics(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListTopics(r.Context(), chi.URLParam(r, "courseId"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleTopicContent(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.TopicContent(r.Context(), optionalPrincipal(r), chi.URLParam(r, "topicId"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleTopicMedia(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.TopicMedia(r.Context(), optionalPrincipal(r), chi.URLParam(r, "topicId"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleAssistant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TopicID  string `json:"topicId"`
		Question string `json:"question"`
	}
	if err := httpx.DecodeBody(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	p := principal(r)
	payload, err := s.service.AskAssistant(r.Context(), &p, req.TopicID, req.Question)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleQuizQuestions(w http.ResponseWriter, r *http.Request) {
	moduleNo, err := pathModuleNo(r)
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	p := principal(r)
	payload, err := s.service.QuizQuestions(r.Context(), &p, chi.URLParam(r, "courseId"), moduleNo)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleQuizSubmit(w http.ResponseWriter, r *http.Request) {
	moduleNo, err := pathModuleNo(r)
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	var req struct {
		Answers map[string]int `json:"answers"`
	}
	if err := httpx.DecodeBody(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	p := principal(r)
	result, err := s.service.SubmitQuiz(r.Context(), &p, chi.URLParam(r, "courseId"), moduleNo, req.Answers)
	respond(w, r, http.StatusOK, map[string]any{"result": result}, err)
}

func (s *HTTPServer) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	var event activity.Event
	if err := httpx.DecodeBody(r, &event); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	payload, err := s.service.RecordActivity(r.Context(), principal(r), event)
	respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleCourseActivity(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.CourseActivity(r.Context(), principal(r), chi.URLParam(r, "courseId"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleLearnerHistory(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.LearnerHistory(
		r.Context(),
		principal(r),
		chi.URLParam(r, "courseId"),
		chi.URLParam(r, "userId"),
		queryInt(r, "limit", 0),
	)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.Dashboard(r.Context(), principal(r).UserID)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleSubmitApplication(w http.ResponseWriter, r *http.Request) {
	var in applications.Input
	if err := httpx.DecodeBody(r, &in); err != nil {
		httpx.Fail(w, r, invalidPayload(applications.InvalidPayloadMessage, nil))
		return
	}
	payload, err := s.service.SubmitApplication(r.Context(), in)
	respond(w, r, http.StatusCreated, payload, err)
}
