// store.go: Durable backends for the keychain ledger
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	goerrors "github.com/agilira/go-errors"
	"github.com/google/renameio/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Ledger backends accepted by OpenLedgerStore.
const (
	BackendNone    = "none"
	BackendFile    = "file"
	BackendLevelDB = "leveldb"
)

// LedgerStore persists keychain snapshots. Load on a store that was never
// written returns an empty snapshot.
type LedgerStore interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
	Close() error
}

// OpenLedgerStore opens the backend named by cfg. It returns a nil store
// when persistence is disabled.
func OpenLedgerStore(cfg LedgerConfig) (LedgerStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendNone:
		return nil, nil
	case BackendFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: ledger.path is required for the file backend", ErrInvalidConfig)
		}
		return NewFileStore(cfg.Path), nil
	case BackendLevelDB:
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: ledger.path is required for the leveldb backend", ErrInvalidConfig)
		}
		store, err := OpenLevelDBStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown ledger backend %q", ErrInvalidConfig, cfg.Backend)
	}
}

// hostRecord is the persisted form of one host's ledger:
// "source+dest" -> [key, RFC 3339 timestamp].
type hostRecord map[string][]string

func encodeHost(pairs map[Pair]Entry) hostRecord {
	rec := make(hostRecord, len(pairs))
	for p, e := range pairs {
		rec[p.String()] = []string{e.Key, e.EnrolledAt.UTC().Format(time.RFC3339Nano)}
	}
	return rec
}

func decodeHost(host string, rec hostRecord) (map[Pair]Entry, error) {
	pairs := make(map[Pair]Entry, len(rec))
	for composite, value := range rec {
		source, dest, found := strings.Cut(composite, pairSeparator)
		if !found {
			return nil, fmt.Errorf("%w: host %q: pair %q lacks %q separator",
				ErrMalformedLedger, host, composite, pairSeparator)
		}
		if len(value) != 2 {
			return nil, fmt.Errorf("%w: host %q: pair %q has %d fields, want 2",
				ErrMalformedLedger, host, composite, len(value))
		}
		ts, err := time.Parse(time.RFC3339Nano, value[1])
		if err != nil {
			return nil, fmt.Errorf("%w: host %q: pair %q: %w", ErrMalformedLedger, host, composite, err)
		}
		pairs[Pair{Source: source, Dest: dest}] = Entry{Key: value[0], EnrolledAt: ts}
	}
	return pairs, nil
}

// FileStore keeps the ledger in one JSON document, replaced atomically on
// every save.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the ledger file. A missing file is an empty ledger.
func (s *FileStore) Load() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		richErr := goerrors.Wrap(err, ErrCodeStorageUnavailable, "failed to read ledger file")
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, richErr)
	}

	var doc map[string]hostRecord
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedLedger, err)
	}
	snap := make(Snapshot, len(doc))
	for host, rec := range doc {
		pairs, err := decodeHost(host, rec)
		if err != nil {
			return nil, err
		}
		snap[host] = pairs
	}
	return snap, nil
}

// Save writes snap through a temporary file and rename, so readers never
// see a partially written ledger.
func (s *FileStore) Save(snap Snapshot) error {
	doc := make(map[string]hostRecord, len(snap))
	for host, pairs := range snap {
		doc[host] = encodeHost(pairs)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

// LevelDBStore keeps one record per host in a LevelDB database, using
// synchronous batch writes.
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDBStore opens or creates the database directory at path.
func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		richErr := goerrors.Wrap(err, ErrCodeStorageUnavailable, "failed to open leveldb")
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, richErr)
	}
	return &LevelDBStore{db: db}, nil
}

// Load reads every host record.
func (s *LevelDBStore) Load() (Snapshot, error) {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	snap := Snapshot{}
	for iter.Next() {
		host := string(iter.Key())
		var rec hostRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("%w: host %q: %w", ErrMalformedLedger, host, err)
		}
		pairs, err := decodeHost(host, rec)
		if err != nil {
			return nil, err
		}
		snap[host] = pairs
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return snap, nil
}

// Save writes all host records in one synchronous batch.
func (s *LevelDBStore) Save(snap Snapshot) error {
	batch := new(leveldb.Batch)
	for host, pairs := range snap {
		data, err := json.Marshal(encodeHost(pairs))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		batch.Put([]byte(host), data)
	}
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Close closes the database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
