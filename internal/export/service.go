package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"metalearn/api/internal/insights"
	"metalearn/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetCourseCompletion(ctx context.Context, userID, courseID string) (store.CourseCompletion, error)
}

// Service issues completion certificates.
type Service struct {
	store DataStore
	print Printer
	now   func() time.Time
}

func NewService(ds DataStore) *Service {
	return &Service{store: ds, print: ChromePDF, now: time.Now}
}

// WithPrinter swaps the PDF backend.
func (s *Service) WithPrinter(p Printer) *Service {
	s.print = p
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Prepare checks completion and assembles the certificate without printing it.
func (s *Service) Prepare(ctx context.Context, req Request) (Certificate, error) {
	completion, err := s.store.GetCourseCompletion(ctx, req.UserID, req.CourseID)
	if err != nil {
		if store.IsNotFound(err) {
			return Certificate{}, ErrNotEnrolled
		}
		return Certificate{}, fmt.Errorf("get completion: %w", err)
	}
	if completion.TotalModules == 0 ||
		insights.CompletionPercent(completion.CompletedModules, completion.TotalModules) < 100 {
		return Certificate{}, ErrNotCompleted
	}

	user, err := s.store.GetUserByID(ctx, req.UserID)
	if err != nil {
		return Certificate{}, fmt.Errorf("get user: %w", err)
	}

	return Certificate{
		LearnerName:  user.FullName,
		CourseTitle:  completion.Course.Title,
		CourseSlug:   completion.Course.Slug,
		TotalModules: completion.TotalModules,
		EnrolledAt:   completion.EnrolledAt,
		IssuedAt:     s.now().UTC(),
		Serial:       serial(req.UserID, req.CourseID),
	}, nil
}

// Export renders and prints the certificate.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	cert, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	html, err := RenderCertificateHTML(cert)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	data, err := s.print(ctx, html)
	if err != nil {
		return nil, err
	}

	return &Result{
		Data:     data,
		Filename: sanitizeFilename(cert.CourseSlug+" certificate") + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

// serial is stable per learner and course so reissued certificates match.
func serial(userID, courseID string) string {
	sum := sha256.Sum256([]byte(userID + ":" + courseID))
	return strings.ToUpper(hex.EncodeToString(sum[:6]))
}
