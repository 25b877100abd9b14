package access

import (
	"sort"

	"github.com/qcom/librarian/internal/models"
)

type Route struct {
	Path     string
	Required models.Role
	// Fallback is where an identity without the role is sent.
	Fallback string
}

// Routes are the protected screens of the application. RoleNone still
// requires a signed-in identity.
var Routes = map[string]Route{
	"/":           {Path: "/", Required: models.RoleNone},
	"/books":      {Path: "/books", Required: models.RoleNone},
	"/requests":   {Path: "/requests", Required: models.RoleNone},
	"/categories": {Path: "/categories", Required: models.RoleSuperUser, Fallback: "/"},
	"/users":      {Path: "/users", Required: models.RoleAdmin, Fallback: "/"},
}

// Lookup returns the route registered at path.
func Lookup(path string) (Route, bool) {
	r, ok := Routes[path]
	return r, ok
}

// Paths lists the registered routes in order.
func Paths() []string {
	paths := make([]string, 0, len(Routes))
	for p := range Routes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// GuardRoute applies Guard with the route's requirement.
func GuardRoute(loading bool, identity *models.Identity, route Route) Decision {
	return Guard(loading, identity, route.Required, route.Fallback)
}
