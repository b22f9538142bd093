package app

import (
	"net/http"

	"metalearn/api/internal/httpx"
)

var (
	errCourseNotFound  = httpx.NotFound("Course not found")
	errTopicNotFound   = httpx.NotFound("Topic not found")
	errLearnerNotFound = httpx.NotFound("Learner not found")
	errLessonLocked    = httpx.Forbidden("Enroll in this course to unlock this lesson")
	errNotEnrolled     = httpx.Forbidden("Enroll in this course first")
	errNotCompleted    = httpx.Forbidden("Course not completed yet")
	errExportDown      = httpx.Unavailable("Certificate export is unavailable")
	errContentMissing  = httpx.NotFound("Lesson content has not been published yet")
	errApplicationSeen = httpx.Conflict("Tutor application was already reviewed")
)

func invalidPayload(message string, details any) *httpx.DomainError {
	return httpx.NewError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}
