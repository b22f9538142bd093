package rbac

type Role string
type Action string

const (
	RoleLearner Role = "learner"
	RoleTutor   Role = "tutor"
	RoleAdmin   Role = "admin"
)

const (
	// ActionLearn covers enrolling, taking quizzes and sending telemetry.
	ActionLearn Action = "learn"
	// ActionTeach covers rosters, progress, activity and the tutor assistant.
	ActionTeach Action = "teach"
	// ActionManage covers course authoring and tutor application review.
	ActionManage Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleTutor:
		return action == ActionLearn || action == ActionTeach
	case RoleLearner:
		return action == ActionLearn
	default:
		return false
	}
}

// Normalize maps unknown or empty roles to learner.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleLearner, RoleTutor, RoleAdmin:
		return Role(role)
	default:
		return RoleLearner
	}
}

// IsStaff reports whether role may use the tutor API.
func IsStaff(role string) bool {
	return Role(role) == RoleTutor || Role(role) == RoleAdmin
}
