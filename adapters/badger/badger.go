// Package badger persists the session token and replica entries in an
// embedded BadgerDB.
//
// Key layout:
//
//	session/token               bearer token
//	entry/<address>/<hash>      JSON encoded log entry
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/lborres/acartia/core"
)

var ErrPathRequired = errors.New("path is required for persistent database")

var tokenKey = []byte("session/token")

type Config struct {
	// Path is the database directory; ignored when InMemory is true
	Path     string
	InMemory bool

	// SyncWrites fsyncs every commit
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// Storage implements core.TokenStorage and core.ReplicaStorage
type Storage struct {
	db *badger.DB
}

var (
	_ core.TokenStorage   = (*Storage)(nil)
	_ core.ReplicaStorage = (*Storage)(nil)
)

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens the database at cfg.Path, creating the directory if needed.
// The caller must Close it.
func Open(cfg Config) (*Storage, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, ErrPathRequired
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// ============================================
// TOKEN
// ============================================

func (s *Storage) GetToken(context.Context) (string, error) {
	var token string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tokenKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			token = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", core.ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return token, nil
}

func (s *Storage) SetToken(_ context.Context, token string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tokenKey, []byte(token))
	})
	if err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

func (s *Storage) ClearToken(context.Context) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(tokenKey)
	})
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// ============================================
// REPLICA
// ============================================

func entryPrefix(address string) []byte {
	return []byte("entry/" + address + "/")
}

// PutEntries writes entries in one batch. Entries are immutable, so
// rewriting a known hash is harmless.
func (s *Storage) PutEntries(_ context.Context, address string, entries []*core.Entry) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	prefix := entryPrefix(address)
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", e.Hash, err)
		}
		key := append(append([]byte(nil), prefix...), e.Hash...)
		if err := wb.Set(key, b); err != nil {
			return fmt.Errorf("write entry %s: %w", e.Hash, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush entries: %w", err)
	}
	return nil
}

func (s *Storage) LoadEntries(ctx context.Context, address string) ([]*core.Entry, error) {
	var entries []*core.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := entryPrefix(address)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var e core.Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return fmt.Errorf("decode entry %s: %w", it.Item().Key(), err)
				}
				entries = append(entries, &e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	return entries, nil
}
