package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "learner learn", role: RoleLearner, action: ActionLearn, allow: true},
		{name: "learner teach", role: RoleLearner, action: ActionTeach, allow: false},
		{name: "learner manage", role: RoleLearner, action: ActionManage, allow: false},
		{name: "tutor teach", role: RoleTutor, action: ActionTeach, allow: true},
		{name: "tutor learn", role: RoleTutor, action: ActionLearn, allow: true},
		{name: "tutor manage", role: RoleTutor, action: ActionManage, allow: false},
		{name: "admin manage", role: RoleAdmin, action: ActionManage, allow: true},
		{name: "unknown learn", role: Role("guest"), action: ActionLearn, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("tutor"); got != RoleTutor {
		t.Fatalf("Normalize(tutor) = %q", got)
	}
	if got := Normalize(""); got != RoleLearner {
		t.Fatalf("Normalize(\"\") = %q", got)
	}
	if got := Normalize("superuser"); got != RoleLearner {
		t.Fatalf("Normalize(superuser) = %q", got)
	}
}

func TestIsStaff(t *testing.T) {
	for role, want := range map[string]bool{"tutor": true, "admin": true, "learner": false, "": false} {
		if got := IsStaff(role); got != want {
			t.Fatalf("IsStaff(%q) = %v, want %v", role, got, want)
		}
	}
}
