package core

// Default navigation targets
const (
	LoginPath   = "/login"
	LandingPath = "/data-explorer"
)

// Route describes the access rules of a navigable page
type Route struct {
	Name         string
	Path         string
	RequiresAuth bool
	AdminOnly    bool
	GuestOnly    bool // the login page: authenticated users are sent to the landing page
}

// Decision is the outcome of a guard check
type Decision struct {
	Allow      bool
	RedirectTo string
}

// Routes is the navigable page table of the dashboard
var Routes = map[string]Route{
	"Home":         {Name: "Home", Path: "/home"},
	"Login":        {Name: "Login", Path: LoginPath, GuestOnly: true},
	"Dashboard":    {Name: "Dashboard", Path: "/dashboard", RequiresAuth: true},
	"Profile":      {Name: "Profile", Path: "/profile", RequiresAuth: true},
	"ManageUsers":  {Name: "ManageUsers", Path: "/manage-users", RequiresAuth: true, AdminOnly: true},
	"DataExplorer": {Name: "DataExplorer", Path: LandingPath},
	"Heatmap":      {Name: "Heatmap", Path: "/heatmap"},
	"ManageData":   {Name: "ManageData", Path: "/manage-data"},
	"Reports":      {Name: "Reports", Path: "/reports"},
}

// Guard decides whether a route may be entered.
//
// hasToken reports whether a token is present in persisted storage.
func Guard(route Route, session Session, hasToken bool) Decision {
	signedIn := session.Authenticated && session.Token != "" && hasToken

	switch {
	case route.GuestOnly:
		if signedIn {
			return Decision{RedirectTo: LandingPath}
		}
	case route.RequiresAuth:
		if !signedIn {
			return Decision{RedirectTo: LoginPath}
		}
		if route.AdminOnly && !session.IsAdmin {
			return Decision{RedirectTo: LandingPath}
		}
	}
	return Decision{Allow: true}
}
