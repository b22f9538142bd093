// Package insights turns a course's enrollment and quiz-progress rows into
// the roster digest shown to tutors and fed to the assistant prompt.
package insights

import (
	"fmt"
	"math"
	"strings"
	"time"

	"metalearn/api/internal/store"
)

const (
	// RosterLimit caps the learners listed in a formatted snapshot.
	RosterLimit = 40
	// ActiveWindowDays is the look-back used for new and active learners.
	ActiveWindowDays = 7
	// AtRiskBelowPercent flags learners under this completion.
	AtRiskBelowPercent = 50

	dateLayout = "Jan 2, 2006"
)

type CourseSummary struct {
	CourseID    string  `json:"courseId"`
	Title       string  `json:"title"`
	Slug        string  `json:"slug"`
	Description *string `json:"description"`
}

type Stats struct {
	TotalEnrollments  int `json:"totalEnrollments"`
	NewThisWeek       int `json:"newThisWeek"`
	AverageCompletion int `json:"averageCompletion"`
	ActiveThisWeek    int `json:"activeThisWeek"`
	AtRiskLearners    int `json:"atRiskLearners"`
}

type Learner struct {
	UserID           string     `json:"userId"`
	FullName         string     `json:"fullName"`
	Email            string     `json:"email"`
	EnrolledAt       time.Time  `json:"enrolledAt"`
	CompletedModules int        `json:"completedModules"`
	TotalModules     int        `json:"totalModules"`
	Percent          int        `json:"percent"`
	LastActivity     *time.Time `json:"lastActivity,omitempty"`
}

type Snapshot struct {
	Course   CourseSummary `json:"course"`
	Stats    Stats         `json:"stats"`
	Learners []Learner     `json:"learners"`
}

type userProgress struct {
	passed       map[int]struct{}
	lastActivity *time.Time
}

func groupProgress(rows []store.ModuleProgress) map[string]*userProgress {
	byUser := make(map[string]*userProgress)
	for _, row := range rows {
		entry := byUser[row.UserID]
		if entry == nil {
			entry = &userProgress{passed: map[int]struct{}{}}
			byUser[row.UserID] = entry
		}
		if row.QuizPassed {
			entry.passed[row.ModuleNo] = struct{}{}
		}
		if row.UpdatedAt != nil && (entry.lastActivity == nil || row.UpdatedAt.After(*entry.lastActivity)) {
			ts := *row.UpdatedAt
			entry.lastActivity = &ts
		}
	}
	return byUser
}

// Build aggregates enrollments (oldest first) and progress rows as of now.
func Build(course store.Course, totalModules int, enrollments []store.Enrollment, rows []store.ModuleProgress, now time.Time) Snapshot {
	byUser := groupProgress(rows)

	learners := make([]Learner, 0, len(enrollments))
	for _, enrollment := range enrollments {
		completed := 0
		var lastActivity *time.Time
		if progress := byUser[enrollment.UserID]; progress != nil {
			completed = len(progress.passed)
			lastActivity = progress.lastActivity
		}
		if lastActivity == nil {
			enrolled := enrollment.EnrolledAt
			lastActivity = &enrolled
		}
		learners = append(learners, Learner{
			UserID:           enrollment.UserID,
			FullName:         enrollment.FullName,
			Email:            enrollment.Email,
			EnrolledAt:       enrollment.EnrolledAt,
			CompletedModules: completed,
			TotalModules:     totalModules,
			Percent:          percentRounded(completed, totalModules),
			LastActivity:     lastActivity,
		})
	}

	stats := Stats{TotalEnrollments: len(learners)}
	sum := 0
	for _, learner := range learners {
		if daysBetween(now, learner.EnrolledAt) <= ActiveWindowDays {
			stats.NewThisWeek++
		}
		if learner.LastActivity != nil && daysBetween(now, *learner.LastActivity) <= ActiveWindowDays {
			stats.ActiveThisWeek++
		}
		if learner.Percent < AtRiskBelowPercent {
			stats.AtRiskLearners++
		}
		sum += learner.Percent
	}
	if len(learners) > 0 {
		stats.AverageCompletion = int(math.Round(float64(sum) / float64(len(learners))))
	}

	return Snapshot{
		Course: CourseSummary{
			CourseID:    course.ID,
			Title:       course.Title,
			Slug:        course.Slug,
			Description: course.Description,
		},
		Stats:    stats,
		Learners: learners,
	}
}

// Format renders the snapshot as plain-text prompt context.
func Format(snapshot Snapshot) string {
	lines := []string{fmt.Sprintf("Course: %s (slug: %s)", snapshot.Course.Title, snapshot.Course.Slug)}
	if d := snapshot.Course.Description; d != nil && *d != "" {
		lines = append(lines, "Description: "+*d)
	}
	s := snapshot.Stats
	lines = append(lines,
		fmt.Sprintf("Stats: total learners %d, new this week %d, average completion %d%%, active in last 7 days %d, at risk %d.",
			s.TotalEnrollments, s.NewThisWeek, s.AverageCompletion, s.ActiveThisWeek, s.AtRiskLearners),
		fmt.Sprintf("Learner roster (top %d):", RosterLimit),
	)

	roster := snapshot.Learners
	if len(roster) > RosterLimit {
		roster = roster[:RosterLimit]
	}
	if len(roster) == 0 {
		lines = append(lines, "No learners yet.")
	}
	for i, learner := range roster {
		lastActivity := "unknown"
		if learner.LastActivity != nil {
			lastActivity = formatDate(*learner.LastActivity)
		}
		lines = append(lines, fmt.Sprintf("%d. %s (%s) – %d%% complete (%d/%d modules). Enrolled %s. Last activity %s.",
			i+1, learner.FullName, learner.Email, learner.Percent, learner.CompletedModules, learner.TotalModules,
			formatDate(learner.EnrolledAt), lastActivity))
	}
	return strings.Join(lines, "\n")
}

// Prompt appends the tutor's question to the formatted snapshot.
func Prompt(snapshot Snapshot, question string) string {
	return strings.Join([]string{
		Format(snapshot),
		"",
		"Tutor question: " + question,
		"Answer:",
	}, "\n")
}

type LearnerProgress struct {
	UserID           string    `json:"userId"`
	FullName         string    `json:"fullName"`
	Email            string    `json:"email"`
	EnrolledAt       time.Time `json:"enrolledAt"`
	CompletedModules int       `json:"completedModules"`
	TotalModules     int       `json:"totalModules"`
	Percent          int       `json:"percent"`
}

// Progress builds the per-learner completion table. Percentages are floored
// here, unlike the rounded snapshot figures.
func Progress(totalModules int, enrollments []store.Enrollment, rows []store.ModuleProgress) []LearnerProgress {
	passed := make(map[string]map[int]struct{})
	for _, row := range rows {
		if !row.QuizPassed {
			continue
		}
		if passed[row.UserID] == nil {
			passed[row.UserID] = map[int]struct{}{}
		}
		passed[row.UserID][row.ModuleNo] = struct{}{}
	}

	learners := make([]LearnerProgress, 0, len(enrollments))
	for _, enrollment := range enrollments {
		completed := len(passed[enrollment.UserID])
		percent := 0
		if totalModules > 0 {
			percent = min(100, completed*100/totalModules)
		}
		learners = append(learners, LearnerProgress{
			UserID:           enrollment.UserID,
			FullName:         enrollment.FullName,
			Email:            enrollment.Email,
			EnrolledAt:       enrollment.EnrolledAt,
			CompletedModules: completed,
			TotalModules:     totalModules,
			Percent:          percent,
		})
	}
	return learners
}

// CompletionPercent is the rounded completion used by dashboards and
// certificates.
func CompletionPercent(completed, total int) int {
	return percentRounded(completed, total)
}

func percentRounded(completed, total int) int {
	if total == 0 {
		return 0
	}
	return min(100, int(math.Round(float64(completed)/float64(total)*100)))
}

// daysBetween counts whole days from then to now, truncated toward zero.
func daysBetween(now, then time.Time) int {
	return int(now.Sub(then) / (24 * time.Hour))
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}
