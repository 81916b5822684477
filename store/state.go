package store

import (
	"slices"

	"github.com/lborres/acartia/core"
)

// State is everything the store owns. Values handed out by the store are
// copies; only mutations committed through Store.Commit change it.
type State struct {
	Session core.Session

	Sightings         []core.Sighting
	FilteredSightings []core.Sighting
	LastSighting      core.Sighting

	MapFilters   core.FilterCriteria
	TableFilters core.FilterCriteria
	MapOptions   core.MapOptions

	ActiveMapLayer string

	UserRequests []core.User
	Users        []core.User
	Tokens       []core.APIToken
	Profile      *core.Profile

	Replication core.ReplicationStatus

	Loading bool
	Err     error
}

func initialState(defaults core.FilterCriteria, layer string) State {
	return State{
		MapFilters:     defaults,
		TableFilters:   defaults,
		MapOptions:     core.MapOptions{Species: []string{}, Contributors: []string{}},
		ActiveMapLayer: layer,
		Replication:    core.ReplicationStatus{State: core.StateDisconnected},
	}
}

// clone copies every slice so callers cannot reach the store's backing arrays
func (s State) clone() State {
	out := s
	out.Sightings = slices.Clone(s.Sightings)
	out.FilteredSightings = slices.Clone(s.FilteredSightings)
	out.MapOptions = core.MapOptions{
		Species:      slices.Clone(s.MapOptions.Species),
		Contributors: slices.Clone(s.MapOptions.Contributors),
	}
	out.UserRequests = slices.Clone(s.UserRequests)
	out.Users = slices.Clone(s.Users)
	out.Tokens = slices.Clone(s.Tokens)
	if s.Profile != nil {
		p := *s.Profile
		out.Profile = &p
	}
	return out
}
