// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state persists vault records to a key-value database.
package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"

	"github.com/luxfi/vault/auction"
	"github.com/luxfi/vault/bridge"
	"github.com/luxfi/vault/fractions"
	"github.com/luxfi/vault/wrapper"
)

var (
	ErrStateCorrupted = errors.New("state corrupted")

	// Database prefixes
	prefixToken   = []byte("token:")
	prefixListing = []byte("listing:")
	prefixAuction = []byte("auction:")
	keyPool       = []byte("pool")
)

// Store writes vault records as JSON values under per-kind prefixes. One
// record per token, listing and auction, plus a single pool snapshot.
type Store struct {
	mu sync.Mutex
	db database.Database
}

// New creates a store over db. The caller namespaces db (prefixdb) when the
// database is shared.
func New(db database.Database) *Store {
	return &Store{db: db}
}

func tokenKey(id uint64) []byte   { return recordKey(prefixToken, id) }
func listingKey(id uint64) []byte { return recordKey(prefixListing, id) }
func auctionKey(id uint64) []byte { return recordKey(prefixAuction, id) }

func recordKey(prefix []byte, id uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}

// PutToken persists a surrogate token record.
func (s *Store) PutToken(t wrapper.Token) error {
	return s.put(tokenKey(t.ID), t)
}

// DeleteToken removes a burned token record.
func (s *Store) DeleteToken(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete(tokenKey(id))
}

// PutListing persists a live listing record.
func (s *Store) PutListing(l bridge.Listing) error {
	return s.put(listingKey(l.TokenID), l)
}

// DeleteListing removes a settled or cancelled listing record.
func (s *Store) DeleteListing(tokenID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete(listingKey(tokenID))
}

// PutAuction persists an auction record.
func (s *Store) PutAuction(a auction.Auction) error {
	return s.put(auctionKey(a.TokenID), a)
}

// PutPool persists the share pool snapshot.
func (s *Store) PutPool(snap fractions.Snapshot) error {
	return s.put(keyPool, snap)
}

func (s *Store) put(key []byte, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Put(key, data)
}

// Load replays every persisted record into the given engines. Missing pool
// state is not an error; an empty database restores an empty vault.
func (s *Store) Load(
	w *wrapper.Wrapper,
	b *bridge.Bridge,
	p *fractions.Pool,
	e *auction.Engine,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	iter := s.db.NewIteratorWithPrefix(prefixToken)
	defer iter.Release()
	for iter.Next() {
		var t wrapper.Token
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return fmt.Errorf("%w: token record: %s", ErrStateCorrupted, err)
		}
		w.RestoreToken(t)
	}
	if err := iter.Error(); err != nil {
		return err
	}

	lIter := s.db.NewIteratorWithPrefix(prefixListing)
	defer lIter.Release()
	for lIter.Next() {
		var l bridge.Listing
		if err := json.Unmarshal(lIter.Value(), &l); err != nil {
			return fmt.Errorf("%w: listing record: %s", ErrStateCorrupted, err)
		}
		b.RestoreListing(l)
	}
	if err := lIter.Error(); err != nil {
		return err
	}

	aIter := s.db.NewIteratorWithPrefix(prefixAuction)
	defer aIter.Release()
	for aIter.Next() {
		var a auction.Auction
		if err := json.Unmarshal(aIter.Value(), &a); err != nil {
			return fmt.Errorf("%w: auction record: %s", ErrStateCorrupted, err)
		}
		e.RestoreAuction(a)
	}
	if err := aIter.Error(); err != nil {
		return err
	}

	poolBytes, err := s.db.Get(keyPool)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	var snap fractions.Snapshot
	if err := json.Unmarshal(poolBytes, &snap); err != nil {
		return fmt.Errorf("%w: pool record: %s", ErrStateCorrupted, err)
	}
	p.Restore(snap)
	return nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
