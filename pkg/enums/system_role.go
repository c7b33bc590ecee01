package enums

// SystemRole differentiates regular accounts from operators.
type SystemRole string

const (
	SystemRoleUser  SystemRole = "user"
	SystemRoleAdmin SystemRole = "admin"
)

func (r SystemRole) String() string {
	return string(r)
}

// IsValid reports whether the role is one of the known values.
func (r SystemRole) IsValid() bool {
	switch r {
	case SystemRoleUser, SystemRoleAdmin:
		return true
	default:
		return false
	}
}

// ParseSystemRole converts a raw string into a SystemRole.
func ParseSystemRole(value string) (SystemRole, bool) {
	role := SystemRole(value)
	if role.IsValid() {
		return role, true
	}
	return "", false
}
