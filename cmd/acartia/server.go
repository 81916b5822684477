package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/pkg/metrics"
)

// replicaStatus is the part of a participant the status endpoint reads
type replicaStatus interface {
	Status() core.ReplicationStatus
	Peers() []core.PeerInfo
}

type statusResponse struct {
	Replication core.ReplicationStatus `json:"replication"`
	Peers       []core.PeerInfo        `json:"peers"`
}

// routes serves prometheus metrics and the replication status
func routes(replica replicaStatus) chi.Router {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statusResponse{
			Replication: replica.Status(),
			Peers:       replica.Peers(),
		})
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// serveStatus runs the status server until ctx is done
func serveStatus(ctx context.Context, addr string, replica replicaStatus, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           routes(replica),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
