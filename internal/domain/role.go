package domain

// Role is a closed set of account roles. Parsing happens once at the
// boundary; everything past it carries a validated Role value.
type Role string

const (
	RoleRider     Role = "rider"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleRider, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// ParseRole maps a stored or transmitted role string onto the closed set.
// Unknown values degrade to RoleRider rather than granting anything.
func ParseRole(s string) Role {
	r := Role(s)
	if !r.Valid() {
		return RoleRider
	}
	return r
}
