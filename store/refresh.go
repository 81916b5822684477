package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/pkg/metrics"
)

var errNoSource = errors.New("store has no sighting source")

// Refresh reloads the dataset from the backend.
//
// The loading flag is cleared whatever happens. On failure the error is
// recorded and the previous dataset is kept. Overlapping refreshes are not
// sequenced: whichever finishes last wins.
func (st *Store) Refresh(ctx context.Context) (err error) {
	start := time.Now()
	_ = st.Commit(SetLoading{Loading: true})
	defer func() {
		_ = st.Commit(SetLoading{Loading: false})
		metrics.ObserveRefresh(err, time.Since(start))
	}()

	if st.source == nil {
		_ = st.Commit(SetError{Err: errNoSource})
		return errNoSource
	}

	raw, err := st.source.FetchSightings(ctx, st.FetchToken())
	if err != nil {
		st.logger.Error("refresh failed", "error", err)
		_ = st.Commit(SetError{Err: err})
		return err
	}

	dataset := core.Normalize(raw, st.logger)
	if err = st.Commit(ReplaceDataset{Dataset: dataset}, SetError{Err: nil}); err != nil {
		_ = st.Commit(SetError{Err: err})
		return err
	}
	metrics.SetDatasetSize("api", len(dataset.Sightings))

	st.logger.Info("dataset refreshed",
		"sightings", len(dataset.Sightings),
		"dropped", len(raw)-len(dataset.Sightings),
		"visible", st.FilteredCount())
	return nil
}

// ApplySnapshot replaces the dataset with the documents of a replicated
// collection. It is called by the replication participant only.
func (st *Store) ApplySnapshot(_ context.Context, docs []json.RawMessage) error {
	dataset := core.Normalize(docs, st.logger)
	if err := st.Commit(ReplaceDataset{Dataset: dataset}); err != nil {
		return err
	}
	metrics.SetDatasetSize("peer", len(dataset.Sightings))
	st.logger.Info("dataset replaced from peer snapshot", "documents", len(docs), "sightings", len(dataset.Sightings))
	return nil
}

// ReportReplication records the participant's diagnostic status
func (st *Store) ReportReplication(status core.ReplicationStatus) {
	_ = st.Commit(SetReplicationStatus{Status: status})
}
