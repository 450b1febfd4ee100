package enums

import "fmt"

// MemberRole captures what a CMS account may do with listing media.
type MemberRole string

const (
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleEditor MemberRole = "editor"
	MemberRoleViewer MemberRole = "viewer"
)

var validMemberRoles = []MemberRole{
	MemberRoleAdmin,
	MemberRoleEditor,
	MemberRoleViewer,
}

// String returns the literal string for the role.
func (m MemberRole) String() string {
	return string(m)
}

// IsValid reports whether the role is known.
func (m MemberRole) IsValid() bool {
	for _, candidate := range validMemberRoles {
		if candidate == m {
			return true
		}
	}
	return false
}

// CanMutateMedia reports whether the role may change listing media.
func (m MemberRole) CanMutateMedia() bool {
	return m == MemberRoleAdmin || m == MemberRoleEditor
}

// ParseMemberRole converts raw input into a MemberRole.
func ParseMemberRole(value string) (MemberRole, error) {
	for _, candidate := range validMemberRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid member role %q", value)
}
