package store

import (
	"fmt"
	"slices"
	"time"

	"github.com/lborres/acartia/core"
)

// Mutation is a named, synchronous state change. Only this package defines
// mutations, so every write to State goes through one of the types below.
type Mutation interface {
	apply(s *State, now time.Time) (rerender bool, err error)
}

// ============================================
// LOADING / ERROR
// ============================================

type SetLoading struct{ Loading bool }

func (m SetLoading) apply(s *State, _ time.Time) (bool, error) {
	s.Loading = m.Loading
	return false, nil
}

type SetError struct{ Err error }

func (m SetError) apply(s *State, _ time.Time) (bool, error) {
	s.Err = m.Err
	return false, nil
}

// ============================================
// SESSION
// ============================================

// Restore marks a persisted token as an authenticated session without
// re-validating it against the backend.
type Restore struct{ Token string }

func (m Restore) apply(s *State, _ time.Time) (bool, error) {
	if m.Token == "" {
		return false, fmt.Errorf("%w: empty token", core.ErrValidationFailure)
	}
	s.Session.Authenticated = true
	s.Session.Token = m.Token
	return false, nil
}

// Authenticate records a successful login. IsAdmin is derived here and
// nowhere else.
type Authenticate struct{ Details core.UserDetails }

func (m Authenticate) apply(s *State, _ time.Time) (bool, error) {
	if m.Details.Token == "" {
		return false, fmt.Errorf("%w: login returned no token", core.ErrValidationFailure)
	}
	s.Session = core.Session{
		Token:         m.Details.Token,
		Authenticated: true,
		IsAdmin:       m.Details.User.Role == "admin",
		UserDetails:   m.Details,
	}
	return false, nil
}

// ClearCredentials drops any partial session after a failed login
type ClearCredentials struct{}

func (ClearCredentials) apply(s *State, _ time.Time) (bool, error) {
	s.Session = core.Session{}
	return false, nil
}

// ClearSession resets the session and drops the sightings dataset
type ClearSession struct{}

func (ClearSession) apply(s *State, _ time.Time) (bool, error) {
	s.Session = core.Session{}
	s.Sightings = nil
	s.FilteredSightings = nil
	return true, nil
}

// ============================================
// DATASET
// ============================================

// ReplaceDataset swaps in a normalized dataset and re-applies the map filters
type ReplaceDataset struct{ Dataset core.Dataset }

func (m ReplaceDataset) apply(s *State, _ time.Time) (bool, error) {
	s.Sightings = m.Dataset.Sightings
	s.LastSighting = m.Dataset.Last
	s.MapOptions = m.Dataset.Options
	s.FilteredSightings = core.Apply(s.Sightings, s.MapFilters)
	return true, nil
}

// SetSightings replaces the dataset and shows it unfiltered
type SetSightings struct{ Sightings []core.Sighting }

func (m SetSightings) apply(s *State, _ time.Time) (bool, error) {
	s.Sightings = m.Sightings
	s.FilteredSightings = m.Sightings
	return true, nil
}

// ============================================
// MAP FILTERS
// ============================================

// ApplyMapFilters recomputes the filtered projection from the map criteria
type ApplyMapFilters struct{}

func (ApplyMapFilters) apply(s *State, _ time.Time) (bool, error) {
	if err := core.ValidateCriteria(s.MapFilters, s.MapOptions); err != nil {
		return false, err
	}
	s.FilteredSightings = core.Apply(s.Sightings, s.MapFilters)
	return true, nil
}

// ResetMapFilters restores the default 7-day window and re-applies it
type ResetMapFilters struct{}

func (ResetMapFilters) apply(s *State, now time.Time) (bool, error) {
	s.MapFilters = core.DefaultCriteria(now)
	s.FilteredSightings = core.Apply(s.Sightings, s.MapFilters)
	return true, nil
}

type SetMapFilterSpecies struct{ Species string }

func (m SetMapFilterSpecies) apply(s *State, _ time.Time) (bool, error) {
	if err := checkOption(m.Species, core.AllSpecies, s.MapOptions.Species); err != nil {
		return false, err
	}
	s.MapFilters.Species = m.Species
	return false, nil
}

type SetMapFilterContributor struct{ Contributor string }

func (m SetMapFilterContributor) apply(s *State, _ time.Time) (bool, error) {
	if err := checkOption(m.Contributor, core.AllContributors, s.MapOptions.Contributors); err != nil {
		return false, err
	}
	s.MapFilters.Contributor = m.Contributor
	return false, nil
}

type SetMapFilterDateBegin struct{ Date time.Time }

func (m SetMapFilterDateBegin) apply(s *State, _ time.Time) (bool, error) {
	s.MapFilters.DateBegin = m.Date
	return false, nil
}

type SetMapFilterDateEnd struct{ Date time.Time }

func (m SetMapFilterDateEnd) apply(s *State, _ time.Time) (bool, error) {
	s.MapFilters.DateEnd = m.Date
	return false, nil
}

type SetMapFilterVerifiedOnly struct{ VerifiedOnly bool }

func (m SetMapFilterVerifiedOnly) apply(s *State, _ time.Time) (bool, error) {
	s.MapFilters.VerifiedOnly = m.VerifiedOnly
	return false, nil
}

type SetActiveMapLayer struct{ Layer string }

func (m SetActiveMapLayer) apply(s *State, _ time.Time) (bool, error) {
	s.ActiveMapLayer = m.Layer
	return true, nil
}

// ============================================
// TABLE FILTERS
// ============================================

type SetTableFilterSpecies struct{ Species string }

func (m SetTableFilterSpecies) apply(s *State, _ time.Time) (bool, error) {
	if err := checkOption(m.Species, core.AllSpecies, s.MapOptions.Species); err != nil {
		return false, err
	}
	s.TableFilters.Species = m.Species
	return false, nil
}

type SetTableFilterContributor struct{ Contributor string }

func (m SetTableFilterContributor) apply(s *State, _ time.Time) (bool, error) {
	if err := checkOption(m.Contributor, core.AllContributors, s.MapOptions.Contributors); err != nil {
		return false, err
	}
	s.TableFilters.Contributor = m.Contributor
	return false, nil
}

type SetTableFilterDateBegin struct{ Date time.Time }

func (m SetTableFilterDateBegin) apply(s *State, _ time.Time) (bool, error) {
	s.TableFilters.DateBegin = m.Date
	return false, nil
}

type SetTableFilterDateEnd struct{ Date time.Time }

func (m SetTableFilterDateEnd) apply(s *State, _ time.Time) (bool, error) {
	s.TableFilters.DateEnd = m.Date
	return false, nil
}

// ============================================
// ACCOUNTS
// ============================================

type SetUserRequests struct{ Users []core.User }

func (m SetUserRequests) apply(s *State, _ time.Time) (bool, error) {
	s.UserRequests = m.Users
	return false, nil
}

type SetUsers struct{ Users []core.User }

func (m SetUsers) apply(s *State, _ time.Time) (bool, error) {
	s.Users = m.Users
	return false, nil
}

type SetTokens struct{ Tokens []core.APIToken }

func (m SetTokens) apply(s *State, _ time.Time) (bool, error) {
	s.Tokens = m.Tokens
	return false, nil
}

type SetProfile struct{ Profile *core.Profile }

func (m SetProfile) apply(s *State, _ time.Time) (bool, error) {
	s.Profile = m.Profile
	return false, nil
}

// ============================================
// REPLICATION
// ============================================

type SetReplicationStatus struct{ Status core.ReplicationStatus }

func (m SetReplicationStatus) apply(s *State, _ time.Time) (bool, error) {
	s.Replication = m.Status
	return false, nil
}

func checkOption(value, all string, known []string) error {
	if value == all || slices.Contains(known, value) {
		return nil
	}
	return fmt.Errorf("%w: %q is not a known option", core.ErrValidationFailure, value)
}
