package app

import (
	"context"
	"math"

	"github.com/goccy/go-json"

	"metalearn/api/internal/activity"
	"metalearn/api/internal/auth"
	"metalearn/api/internal/httpx"
	"metalearn/api/internal/logging"
	"metalearn/api/internal/store"
)

// PassingScore is the minimum percentage that passes a module quiz.
const PassingScore = 70

var errQuizNotFound = httpx.NotFound("Quiz not found")

func (s *Service) requireQuizAccess(ctx context.Context, principal *auth.Principal, courseID string) error {
	if _, err := s.requireCourse(ctx, courseID); err != nil {
		return err
	}
	ok, err := s.canAccessCourse(ctx, principal, courseID)
	if err != nil {
		return err
	}
	if !ok {
		return errNotEnrolled
	}
	return nil
}

// QuizQuestions lists a module's questions without their answers.
func (s *Service) QuizQuestions(ctx context.Context, principal *auth.Principal, courseID string, moduleNo int) (map[string]any, error) {
	if err := s.requireQuizAccess(ctx, principal, courseID); err != nil {
		return nil, err
	}
	questions, err := s.store.ListQuizQuestions(ctx, courseID, moduleNo)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, errQuizNotFound
	}
	items := make([]map[string]any, 0, len(questions))
	for _, q := range questions {
		items = append(items, map[string]any{
			"questionId": q.ID,
			"prompt":     q.Prompt,
			"options":    q.Options,
		})
	}
	return map[string]any{"moduleNo": moduleNo, "questions": items}, nil
}

// QuizResult is the outcome of one attempt.
type QuizResult struct {
	Score      int  `json:"score"`
	Correct    int  `json:"correct"`
	Total      int  `json:"total"`
	Passed     bool `json:"passed"`
	QuizPassed bool `json:"quizPassed"`
}

// ScoreQuiz grades answers keyed by question id. Unanswered questions count
// as wrong.
func ScoreQuiz(questions []store.QuizQuestion, answers map[string]int) QuizResult {
	result := QuizResult{Total: len(questions)}
	for _, q := range questions {
		if choice, ok := answers[q.ID]; ok && choice == q.CorrectOption {
			result.Correct++
		}
	}
	if result.Total > 0 {
		result.Score = int(math.Round(float64(result.Correct) / float64(result.Total) * 100))
	}
	result.Passed = result.Total > 0 && result.Score >= PassingScore
	return result
}

// SubmitQuiz scores the attempt, records module progress and emits a
// quiz.pass or quiz.fail activity event.
func (s *Service) SubmitQuiz(ctx context.Context, principal *auth.Principal, courseID string, moduleNo int, answers map[string]int) (QuizResult, error) {
	if err := s.requireQuizAccess(ctx, principal, courseID); err != nil {
		return QuizResult{}, err
	}
	questions, err := s.store.ListQuizQuestions(ctx, courseID, moduleNo)
	if err != nil {
		return QuizResult{}, err
	}
	if len(questions) == 0 {
		return QuizResult{}, errQuizNotFound
	}

	result := ScoreQuiz(questions, answers)
	saved, err := s.store.UpsertModuleProgress(ctx, store.ModuleProgress{
		CourseID:   courseID,
		UserID:     principal.UserID,
		ModuleNo:   moduleNo,
		QuizPassed: result.Passed,
		QuizScore:  result.Score,
	})
	if err != nil {
		return QuizResult{}, err
	}
	result.QuizPassed = saved.QuizPassed

	eventType := "quiz.fail"
	if result.Passed {
		eventType = "quiz.pass"
	}
	payload, _ := json.Marshal(map[string]any{"score": result.Score, "correct": result.Correct, "total": result.Total})
	module := moduleNo
	if _, err := s.activity.Record(ctx, principal.UserID, activity.Event{
		CourseID:  courseID,
		ModuleNo:  &module,
		EventType: eventType,
		Payload:   payload,
	}); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("course_id", courseID).Msg("record quiz activity")
	}
	return result, nil
}
