// Package access answers navigation questions from the current identity.
// Nothing here holds state.
package access

import (
	"fmt"

	"github.com/qcom/librarian/internal/models"
)

// IsAuthorized reports whether identity holds at least the required role.
// A nil identity is never authorized.
func IsAuthorized(identity *models.Identity, required models.Role) bool {
	if identity == nil {
		return false
	}
	return models.Satisfies(identity.Role, required)
}

func IsAdmin(identity *models.Identity) bool {
	return IsAuthorized(identity, models.RoleAdmin)
}

func IsSuperUserOrHigher(identity *models.Identity) bool {
	return IsAuthorized(identity, models.RoleSuperUser)
}

func IsUser(identity *models.Identity) bool {
	return IsAuthorized(identity, models.RoleUser)
}

type Outcome int

const (
	Allow Outcome = iota
	Wait
	RedirectLogin
	Redirect
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Wait:
		return "wait"
	case RedirectLogin:
		return "redirect-login"
	case Redirect:
		return "redirect"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Decision is the guard's answer. Target is set for both redirects.
type Decision struct {
	Outcome Outcome
	Target  string
}

const LoginPath = "/login"

// Guard decides a navigation to a route needing required. Insufficient
// roles are sent to fallback, "/" when empty.
func Guard(loading bool, identity *models.Identity, required models.Role, fallback string) Decision {
	switch {
	case loading:
		return Decision{Outcome: Wait}
	case identity == nil:
		return Decision{Outcome: RedirectLogin, Target: LoginPath}
	case !IsAuthorized(identity, required):
		if fallback == "" {
			fallback = "/"
		}
		return Decision{Outcome: Redirect, Target: fallback}
	default:
		return Decision{Outcome: Allow}
	}
}
