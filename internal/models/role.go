package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Role is a level in the fixed hierarchy User < SuperUser < Admin. Levels
// are spaced by powers of ten so intermediate roles can be added later.
type Role int

const (
	RoleNone      Role = 0
	RoleUser      Role = 1
	RoleSuperUser Role = 10
	RoleAdmin     Role = 100
)

var roleNames = map[string]Role{
	"User":      RoleUser,
	"SuperUser": RoleSuperUser,
	"Admin":     RoleAdmin,
}

func (r Role) String() string {
	for name, level := range roleNames {
		if level == r {
			return name
		}
	}
	return strconv.Itoa(int(r))
}

// Valid reports whether r is one of the known levels.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleSuperUser || r == RoleAdmin
}

// Satisfies reports whether r is at or above required in the hierarchy.
func (r Role) Satisfies(required Role) bool {
	if required <= RoleNone {
		return true
	}
	if !r.Valid() || !required.Valid() {
		return false
	}
	return r >= required
}

// ParseRole normalizes a role given either by canonical name ("Admin") or by
// numeric level (100, "100"). Unknown names and levels are rejected.
func ParseRole(v any) (Role, bool) {
	var role Role
	switch val := v.(type) {
	case Role:
		role = val
	case int:
		role = Role(val)
	case int64:
		role = Role(val)
	case float64:
		if val != math.Trunc(val) || math.Abs(val) > math.MaxInt32 {
			return RoleNone, false
		}
		role = Role(val)
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return RoleNone, false
		}
		role = Role(n)
	case string:
		s := strings.TrimSpace(val)
		if level, ok := roleNames[s]; ok {
			return level, true
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return RoleNone, false
		}
		role = Role(n)
	default:
		return RoleNone, false
	}
	if !role.Valid() {
		return RoleNone, false
	}
	return role, true
}

// Satisfies normalizes actual and compares it against required. Anything
// that does not normalize to a known role satisfies only RoleNone.
func Satisfies(actual any, required Role) bool {
	if required <= RoleNone {
		return true
	}
	role, ok := ParseRole(actual)
	if !ok {
		return false
	}
	return role.Satisfies(required)
}
