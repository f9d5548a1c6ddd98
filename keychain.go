// keychain.go: Keychain ledger of reconciled keys per host and party pair
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	goerrors "github.com/agilira/go-errors"
	"go.uber.org/zap"
)

// Pair is an ordered (source, destination) party pair.
type Pair struct {
	Source string
	Dest   string
}

// pairSeparator joins source and destination in persisted records.
const pairSeparator = "+"

// String returns the persisted composite form "source+dest".
func (p Pair) String() string {
	return p.Source + pairSeparator + p.Dest
}

// Entry is the most recently agreed key for a pair on one host.
type Entry struct {
	Key        string
	EnrolledAt time.Time
}

// Snapshot is a detached copy of the ledger: host -> pair -> entry.
type Snapshot map[string]map[Pair]Entry

// Clone returns an independent deep copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for host, pairs := range s {
		out[host] = clonePairs(pairs)
	}
	return out
}

func clonePairs(pairs map[Pair]Entry) map[Pair]Entry {
	out := make(map[Pair]Entry, len(pairs))
	for p, e := range pairs {
		out[p] = e
	}
	return out
}

// Validation is the outcome of comparing a committed digest with the
// locally stored key.
type Validation struct {
	Match bool
	// Given is the display prefix of the committed digest.
	Given string
	// Stored is the display prefix of the stored key's digest; empty when
	// HasStored is false.
	Stored    string
	HasStored bool
}

// KeyChain is the process-wide ledger of reconciled keys. It is safe for
// concurrent use. Callers only ever receive copies.
//
// When a store is configured every enrollment is flushed to it. Storage is a
// warm-restart cache: failures are logged and the in-memory ledger stays
// authoritative.
type KeyChain struct {
	mu    sync.RWMutex
	hosts map[string]map[Pair]Entry
	rev   uint64

	persistMu    sync.Mutex
	persistedRev uint64

	store  LedgerStore
	logger *zap.Logger
	now    func() time.Time
}

// KeyChainOption configures a KeyChain.
type KeyChainOption func(*KeyChain)

// WithStore sets the backing store used for persistence.
func WithStore(store LedgerStore) KeyChainOption {
	return func(kc *KeyChain) { kc.store = store }
}

// WithLogger sets the logger used to report swallowed storage failures.
func WithLogger(logger *zap.Logger) KeyChainOption {
	return func(kc *KeyChain) {
		if logger != nil {
			kc.logger = logger
		}
	}
}

// WithClock overrides the enrollment timestamp source.
func WithClock(now func() time.Time) KeyChainOption {
	return func(kc *KeyChain) {
		if now != nil {
			kc.now = now
		}
	}
}

// NewKeyChain creates an empty ledger.
func NewKeyChain(opts ...KeyChainOption) *KeyChain {
	kc := &KeyChain{
		hosts:  make(map[string]map[Pair]Entry),
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(kc)
	}
	return kc
}

// Load replaces the in-memory ledger with the store's contents. A missing
// backing file yields an empty ledger. A malformed record fails the whole
// load and leaves the ledger untouched.
func (kc *KeyChain) Load() error {
	if kc.store == nil {
		return nil
	}
	snap, err := kc.store.Load()
	if err != nil {
		return fmt.Errorf("keychain load failed: %w", err)
	}

	kc.mu.Lock()
	defer kc.mu.Unlock()
	kc.hosts = map[string]map[Pair]Entry(snap.Clone())
	kc.rev++
	kc.persistMu.Lock()
	kc.persistedRev = kc.rev
	kc.persistMu.Unlock()
	return nil
}

// Enroll stores key for (host, source, dest), replacing any previous key,
// and returns the new entry.
func (kc *KeyChain) Enroll(host, source, dest, key string) Entry {
	kc.mu.Lock()
	pairs, ok := kc.hosts[host]
	if !ok {
		pairs = make(map[Pair]Entry)
		kc.hosts[host] = pairs
	}
	entry := Entry{Key: key, EnrolledAt: kc.now()}
	pairs[Pair{Source: source, Dest: dest}] = entry
	kc.rev++
	rev := kc.rev
	var snap Snapshot
	if kc.store != nil {
		snap = kc.snapshotLocked()
	}
	kc.mu.Unlock()

	if snap != nil {
		if err := kc.persist(rev, snap); err != nil {
			kc.logger.Warn("keychain persistence failed; continuing in memory",
				zap.Error(err),
				zap.Uint64("revision", rev),
				zap.String("host", host))
		}
	}
	return entry
}

// Query returns the entry for (host, source, dest). ok is false when the
// host is unknown or the pair was never enrolled.
func (kc *KeyChain) Query(host, source, dest string) (entry Entry, ok bool) {
	kc.mu.RLock()
	defer kc.mu.RUnlock()

	pairs, exists := kc.hosts[host]
	if !exists {
		return Entry{}, false
	}
	entry, ok = pairs[Pair{Source: source, Dest: dest}]
	return entry, ok
}

// LocalView returns a copy of every entry held by host. ok is false when the
// host has no ledger yet; an existing but empty ledger returns an empty map.
func (kc *KeyChain) LocalView(host string) (view map[Pair]Entry, ok bool) {
	kc.mu.RLock()
	defer kc.mu.RUnlock()

	pairs, exists := kc.hosts[host]
	if !exists {
		return nil, false
	}
	return clonePairs(pairs), true
}

// Hosts returns the known hosts in sorted order.
func (kc *KeyChain) Hosts() []string {
	kc.mu.RLock()
	defer kc.mu.RUnlock()

	hosts := make([]string, 0, len(kc.hosts))
	for h := range kc.hosts {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// Snapshot returns a deep copy of the whole ledger.
func (kc *KeyChain) Snapshot() Snapshot {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.snapshotLocked()
}

// Validate compares committedDigest with the digest of the key the source
// party holds for (source, dest).
func (kc *KeyChain) Validate(committedDigest, source, dest string) Validation {
	v := Validation{Given: DigestPrefix(committedDigest)}

	entry, ok := kc.Query(source, source, dest)
	if !ok {
		return v
	}
	stored := Digest(entry.Key)
	v.HasStored = true
	v.Stored = DigestPrefix(stored)
	v.Match = stored == committedDigest
	return v
}

// Flush writes the current ledger to the store, if any.
func (kc *KeyChain) Flush() error {
	if kc.store == nil {
		return nil
	}
	kc.mu.RLock()
	rev := kc.rev
	snap := kc.snapshotLocked()
	kc.mu.RUnlock()
	return kc.persist(rev, snap)
}

// Close flushes and closes the store.
func (kc *KeyChain) Close() error {
	if kc.store == nil {
		return nil
	}
	flushErr := kc.Flush()
	closeErr := kc.store.Close()
	return errors.Join(flushErr, closeErr)
}

func (kc *KeyChain) snapshotLocked() Snapshot {
	return Snapshot(kc.hosts).Clone()
}

// persist writes snap unless a newer revision is already on disk, so
// concurrent enrollments never roll the store back.
func (kc *KeyChain) persist(rev uint64, snap Snapshot) error {
	kc.persistMu.Lock()
	defer kc.persistMu.Unlock()

	if rev <= kc.persistedRev {
		return nil
	}
	if err := kc.store.Save(snap); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeStorageUnavailable, "failed to save ledger")
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, richErr)
	}
	kc.persistedRev = rev
	return nil
}

// Row is one line of a host's keychain listing.
type Row struct {
	Pair       Pair
	Entry      Entry
	Validation Validation
}

// Describe lists host's entries ordered by pair, each validated against the
// key its source party holds. ok is false when the host has no ledger.
func (kc *KeyChain) Describe(host string) (rows []Row, ok bool) {
	view, ok := kc.LocalView(host)
	if !ok {
		return nil, false
	}
	rows = make([]Row, 0, len(view))
	for p, e := range view {
		rows = append(rows, Row{
			Pair:       p,
			Entry:      e,
			Validation: kc.Validate(Digest(e.Key), p.Source, p.Dest),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Pair.Source != rows[j].Pair.Source {
			return rows[i].Pair.Source < rows[j].Pair.Source
		}
		return rows[i].Pair.Dest < rows[j].Pair.Dest
	})
	return rows, true
}
