package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

const (
	ActionRead Action = "read"
	// ActionWrite covers element and page mutations and title edits.
	ActionWrite Action = "write"
	// ActionManage covers role changes and document deletion.
	ActionManage Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionWrite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleOwner:
		return Role(role)
	default:
		return RoleViewer
	}
}

// Joinable maps the role a client asks for on join to the role it may hold.
// Ownership is fixed at document creation and never granted on join.
func Joinable(role string) Role {
	if Role(role) == RoleEditor {
		return RoleEditor
	}
	return RoleViewer
}

// Assignable reports whether role may be set through a role change.
func Assignable(role string) bool {
	return Role(role) == RoleEditor || Role(role) == RoleViewer
}
