// Package roleroute maps a session's active role to the landing screen the
// shell should render. It only reads session state; screen layout and
// navigation chrome live with the host application.
package roleroute

import (
	"github.com/lessonhub/go-authclient/session"
	"github.com/lessonhub/go-authclient/users"
)

// Route names a landing screen.
type Route string

const (
	RouteLogin          Route = "login"
	RouteUserHome       Route = "user_home"
	RouteInstructorHome Route = "instructor_home"
	RouteAdminHome      Route = "admin_home"
)

// LandingRoute picks the landing screen for the current session.
func LandingRoute(sess session.Session) Route {
	if !sess.Authenticated {
		return RouteLogin
	}
	switch sess.ActiveRole {
	case users.RoleAdmin:
		return RouteAdminHome
	case users.RoleInstructor:
		return RouteInstructorHome
	default:
		return RouteUserHome
	}
}
