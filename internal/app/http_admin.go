package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"metalearn/api/internal/httpx"
)

func (s *HTTPServer) adminRoutes(r chi.Router) {
	r.Post("/courses", s.handleCreateCourse)
	r.Patch("/courses/{courseId}", s.handleUpdateCourse)
	r.Post("/courses/{courseId}/topics", s.handleCreateTopic)
	r.Post("/courses/{courseId}/modules/{moduleNo}/questions", s.handleCreateQuestion)
	r.Post("/courses/{courseId}/tutors", s.handleAssignTutor)
	r.Put("/topics/{topicId}/content", s.handleSaveTopicContent)
	r.Get("/topics/{topicId}/history", s.handleTopicHistory)
	r.Get("/tutor-applications", s.handleListApplications)
	r.Post("/tutor-applications/{applicationId}/approve", s.handleApproveApplication)
	r.Post("/tutor-applications/{applicationId}/reject", s.handleRejectApplication)
}

func (s *HTTPServer) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var in CourseInput
	if err := httpx.DecodeBody(r, &in); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	payload, err := s.service.CreateCourse(r.Context(), in)
	respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleUpdateCourse(w http.ResponseWriter, r *http.Request) {
	var patch CoursePatch
	if err := httpx.DecodeBody(r, &patch); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	payload, err := s.service.UpdateCourse(r.Context(), chi.URLParam(r, "courseId"), patch)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var in TopicInput
	if err := httpx.DecodeBody(r, &in); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	payload, err := s.service.CreateTopic(r.Context(), chi.URLParam(r, "courseId"), in)
	respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	moduleNo, err := pathModuleNo(r)
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	var in QuestionInput
	if err := httpx.DecodeBody(r, &in); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	payload, err := s.service.CreateQuestion(r.Context(), chi.URLParam(r, "courseId"), moduleNo, in)
	respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleAssignTutor(w http.ResponseWriter, r *http.Request) {
	var in AssignTutorInput
	if err := httpx.DecodeBody(r, &in); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	payload, err := s.service.AssignTutor(r.Context(), chi.URLParam(r, "courseId"), in)
	respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleSaveTopicContent(w http.ResponseWriter, r *http.Request) {
	var in TopicContentInput
	if err := httpx.DecodeBody(r, &in); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	payload, err := s.service.SaveTopicContent(r.Context(), principal(r), chi.URLParam(r, "topicId"), in)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleTopicHistory(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.TopicHistory(r.Context(), chi.URLParam(r, "topicId"), queryInt(r, "limit", defaultHistoryLimit))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleListApplications(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListApplications(r.Context(), r.URL.Query().Get("status"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleApproveApplication(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ApproveApplication(r.Context(), chi.URLParam(r, "applicationId"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleRejectApplication(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.RejectApplication(r.Context(), chi.URLParam(r, "applicationId"))
	respond(w, r, http.StatusOK, payload, err)
}
