package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lborres/acartia"
	"github.com/lborres/acartia/adapters/badger"
	fiberadapter "github.com/lborres/acartia/adapters/fiber"
	"github.com/lborres/acartia/adapters/memory"
	pgxadapter "github.com/lborres/acartia/adapters/pgx"
	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/pkg/logging"
	"github.com/lborres/acartia/replication"
)

// storage is what every driver provides
type storage interface {
	core.TokenStorage
	core.ReplicaStorage
}

// app holds everything a command needs; close releases it
type app struct {
	cfg     Config
	logger  *slog.Logger
	storage storage
	client  *acartia.Client
	closers []func() error
}

func newApp(ctx context.Context, cfg Config) (*app, error) {
	a := &app{cfg: cfg}

	logCfg, err := cfg.loggingConfig()
	if err != nil {
		return nil, err
	}
	l, err := logging.New(logCfg)
	if err != nil {
		// the logger still writes to stderr
		l.Warn("log file disabled", "error", err)
	}
	a.logger = l.Logger
	a.closers = append(a.closers, l.Close)

	if err := a.openStorage(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.client, err = acartia.New(acartia.Config{
		BaseURL:     cfg.API.BaseURL,
		MasterKey:   cfg.API.MasterKey,
		HTTPTimeout: cfg.API.Timeout,
		Tokens:      a.storage,
		Logger:      a.logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case "memory":
		a.storage = memory.New()

	case "badger":
		s, err := badger.Open(badger.Config{
			Path:       expandHome(a.cfg.Storage.Path),
			SyncWrites: true,
			Logger:     a.logger,
		})
		if err != nil {
			return err
		}
		a.storage = s
		a.closers = append(a.closers, s.Close)

	case "postgres":
		pool, err := pgxadapter.Connect(ctx, a.cfg.Storage.DatabaseURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		adapter := pgxadapter.New(pool)
		if err := adapter.Migrate(ctx); err != nil {
			return err
		}
		a.storage = adapter

	default:
		return fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}

	a.logger.Debug("storage opened", "driver", a.cfg.Storage.Driver)
	return nil
}

// replica builds a participant. withNode adds a listening peer node, so
// other peers can pull from and announce to this process.
func (a *app) replica(withNode bool) (*replication.Participant, error) {
	r := a.cfg.Replication
	cfg := acartia.ReplicaConfig{
		Collection:   r.Collection,
		Bootstrap:    r.Bootstrap,
		Storage:      a.storage,
		SyncInterval: r.SyncInterval,
		Transport: fiberadapter.NewTransport(fiberadapter.TransportConfig{
			SwarmKey: r.SwarmKey,
			Logger:   a.logger,
		}),
	}
	if withNode {
		cfg.Node = fiberadapter.NewNode(fiberadapter.NodeConfig{
			Listen:       r.Listen,
			AdvertiseURL: r.AdvertiseURL,
			SwarmKey:     r.SwarmKey,
			RateLimit:    r.RateLimit,
			Burst:        r.Burst,
			Logger:       a.logger,
		})
	}
	return a.client.NewReplica(cfg)
}

// close runs closers in reverse order
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
