// Package export renders course completion certificates as PDF.
package export

import (
	"errors"
	"time"
)

// Request identifies the learner and course a certificate is issued for.
type Request struct {
	UserID   string
	CourseID string
}

// Certificate is what gets printed on the page.
type Certificate struct {
	LearnerName  string
	CourseTitle  string
	CourseSlug   string
	TotalModules int
	EnrolledAt   time.Time
	IssuedAt     time.Time
	Serial       string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrNotCompleted is returned while the learner has modules left.
	ErrNotCompleted = errors.New("Course not completed yet")
	// ErrNotEnrolled indicates the learner holds no active enrollment.
	ErrNotEnrolled = errors.New("Enroll in this course to get a certificate")
	// ErrPDFDependencyMissing indicates no Chromium binary could be found.
	ErrPDFDependencyMissing = errors.New("Certificate export is unavailable")
)
