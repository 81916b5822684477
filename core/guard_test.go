package core

import (
	"errors"
	"fmt"
	"testing"
)

// Requirement: guarded routes need an authenticated session, a persisted token and, when admin-only, the admin flag.
func TestGuard(t *testing.T) {
	guest := Session{}
	member := Session{Token: "tok", Authenticated: true}
	admin := Session{Token: "tok", Authenticated: true, IsAdmin: true}

	tests := []struct {
		name     string
		route    string
		session  Session
		hasToken bool
		want     Decision
	}{
		{name: "public page as guest", route: "DataExplorer", session: guest, want: Decision{Allow: true}},
		{name: "dashboard as guest", route: "Dashboard", session: guest, want: Decision{RedirectTo: LoginPath}},
		{name: "dashboard as member", route: "Dashboard", session: member, hasToken: true, want: Decision{Allow: true}},
		{name: "dashboard without persisted token", route: "Dashboard", session: member, hasToken: false, want: Decision{RedirectTo: LoginPath}},
		{name: "manage users as member", route: "ManageUsers", session: member, hasToken: true, want: Decision{RedirectTo: LandingPath}},
		{name: "manage users as admin", route: "ManageUsers", session: admin, hasToken: true, want: Decision{Allow: true}},
		{name: "manage users as guest", route: "ManageUsers", session: guest, want: Decision{RedirectTo: LoginPath}},
		{name: "login as member", route: "Login", session: member, hasToken: true, want: Decision{RedirectTo: LandingPath}},
		{name: "login as guest", route: "Login", session: guest, want: Decision{Allow: true}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			route, ok := Routes[test.route]
			if !ok {
				t.Fatalf("route %q not in table", test.route)
			}
			if got := Guard(route, test.session, test.hasToken); got != test.want {
				t.Errorf("Guard() = %+v, want %+v", got, test.want)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: &RequestError{Op: "login", Err: ErrNetworkUnreachable}, want: MsgNetworkError},
		{err: &RequestError{Op: "login", Status: 400, Err: ErrAuthenticationRejected}, want: MsgBadCredential},
		{err: fmt.Errorf("users: %w", ErrAuthorizationDenied), want: MsgNotAuthorised},
		{err: &RequestError{Op: "users", Status: 500, Err: ErrServerError}, want: MsgGenericError},
		{err: errors.New("boom"), want: MsgGenericError},
	}

	for _, test := range tests {
		if got := UserMessage(test.err); got != test.want {
			t.Errorf("UserMessage(%v) = %q, want %q", test.err, got, test.want)
		}
	}
}

func TestRequestError(t *testing.T) {
	err := &RequestError{Op: "fetch sightings", Status: 503, Err: ErrServerError}

	if !errors.Is(err, ErrServerError) {
		t.Error("RequestError should unwrap to its cause")
	}
	if got, want := err.Error(), "fetch sightings: status 503: server rejected request"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
