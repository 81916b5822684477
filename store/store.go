package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/pkg/logging"
)

// Options configures a Store
type Options struct {
	Source core.SightingSource
	Render core.RenderSink
	Layer  string
	Logger *slog.Logger
	Now    func() time.Time
}

// Store is the single owner of client state.
//
// Mutations are applied atomically under one lock; network calls made by
// actions such as Refresh happen outside it, so overlapping actions
// interleave only between whole mutations.
type Store struct {
	mu    sync.RWMutex
	state State
	gen   uint64 // bumped by every rendering commit

	// renderMu orders sink calls; rendered is the generation last shown
	renderMu sync.Mutex
	rendered uint64

	source core.SightingSource
	render core.RenderSink
	logger *slog.Logger
	now    func() time.Time
}

func New(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Layer == "" {
		opts.Layer = core.DefaultMapLayer
	}

	return &Store{
		state:  initialState(core.DefaultCriteria(opts.Now()), opts.Layer),
		source: opts.Source,
		render: opts.Render,
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// Commit applies mutations in order as one step. If any mutation fails the
// state is left exactly as it was and the error is returned.
func (st *Store) Commit(mutations ...Mutation) error {
	st.mu.Lock()
	next := st.state
	now := st.now()
	rerender := false
	for _, m := range mutations {
		r, err := m.apply(&next, now)
		if err != nil {
			st.mu.Unlock()
			return err
		}
		rerender = rerender || r
	}
	st.state = next

	if !rerender || st.render == nil {
		st.mu.Unlock()
		return nil
	}
	st.gen++
	gen := st.gen
	layer := next.ActiveMapLayer
	fc := core.ToFeatureCollection(next.FilteredSightings)
	st.mu.Unlock()

	st.deliver(gen, layer, fc)
	return nil
}

// deliver renders outside the state lock. A payload older than the one
// already shown is dropped, so the sink ends on the latest commit.
func (st *Store) deliver(gen uint64, layer string, fc core.FeatureCollection) {
	st.renderMu.Lock()
	defer st.renderMu.Unlock()
	if gen < st.rendered {
		st.logger.Debug("stale render dropped", "generation", gen, "shown", st.rendered)
		return
	}
	st.rendered = gen
	st.render.Render(layer, fc)
}

// State returns a copy of the whole state
func (st *Store) State() State {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state.clone()
}

func (st *Store) Session() core.Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state.Session
}

// FetchToken is the bearer used for sighting fetches. Only an interactive
// login sets it; a restored session keeps reading the public listing.
func (st *Store) FetchToken() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state.Session.UserDetails.Token
}

func (st *Store) Sightings() []core.Sighting {
	return st.State().Sightings
}

func (st *Store) FilteredSightings() []core.Sighting {
	return st.State().FilteredSightings
}

func (st *Store) FilteredCount() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.state.FilteredSightings)
}

func (st *Store) LastSighting() core.Sighting {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state.LastSighting
}

func (st *Store) MapFilters() core.FilterCriteria {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state.MapFilters
}

func (st *Store) TableFilters() core.FilterCriteria {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state.TableFilters
}

// TableRows is the tabular view: the dataset narrowed by the table criteria
func (st *Store) TableRows() []core.Sighting {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return core.Apply(st.state.Sightings, st.state.TableFilters)
}

func (st *Store) MapOptions() core.MapOptions {
	return st.State().MapOptions
}

// SpeciesLegend lists the species visible in the filtered projection
func (st *Store) SpeciesLegend() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return core.ExtractOptions(st.state.FilteredSightings).Species
}

// MapData is the payload currently shown on the map layer
func (st *Store) MapData() core.FeatureCollection {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return core.ToFeatureCollection(st.state.FilteredSightings)
}

func (st *Store) Loading() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state.Loading
}

func (st *Store) Err() error {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state.Err
}

func (st *Store) Replication() core.ReplicationStatus {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state.Replication
}
