package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type TutorProfile struct {
	TutorID     string
	UserID      string
	DisplayName string
	Headline    string
	Bio         string
}

// TutorAccount is a user joined with its tutor profile, if any.
type TutorAccount struct {
	User
	TutorID     *string
	DisplayName *string
}

type Course struct {
	ID          string
	Slug        string
	Title       string
	Description *string
	PriceCents  int
	IsPublished bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TutorCourse is a course seen through an active tutor assignment.
type TutorCourse struct {
	Course
	Role string
}

type CourseTutor struct {
	ID       string
	CourseID string
	TutorID  string
	Role     string
	IsActive bool
}

type Topic struct {
	ID          string
	CourseID    string
	ModuleNo    int
	ModuleName  string
	TopicNumber int
	TopicName   string
	VideoURL    string
	MediaKey    string
	IsPreview   bool
}

type Enrollment struct {
	ID         string
	CourseID   string
	UserID     string
	Status     string
	EnrolledAt time.Time
	FullName   string
	Email      string
}

type ModuleProgress struct {
	CourseID   string
	UserID     string
	ModuleNo   int
	QuizPassed bool
	QuizScore  int
	UpdatedAt  *time.Time
}

type QuizQuestion struct {
	ID            string
	CourseID      string
	ModuleNo      int
	Prompt        string
	Options       []string
	CorrectOption int
}

type ActivityEvent struct {
	ID            string
	UserID        string
	CourseID      string
	ModuleNo      *int
	TopicID       *string
	TopicTitle    *string
	EventType     string
	Payload       json.RawMessage
	DerivedStatus *string
	StatusReason  *string
	CreatedAt     time.Time
}

type TutorApplication struct {
	ID                string
	FullName          string
	Email             string
	Phone             *string
	Headline          string
	CourseTitle       string
	CourseDescription string
	TargetAudience    string
	ExpertiseArea     string
	ExperienceYears   *int
	Availability      string
	Status            string
	ReviewedAt        *time.Time
	CreatedAt         time.Time
}

type CartItem struct {
	CourseID   string
	Slug       string
	Title      string
	PriceCents int
	AddedAt    time.Time
}

// CourseCompletion is one row of a learner's dashboard.
type CourseCompletion struct {
	Course           Course
	EnrolledAt       time.Time
	CompletedModules int
	TotalModules     int
}
