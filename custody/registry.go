// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package custody defines the capability interface the vault requires from
// the external custody registry holding the underlying items.
package custody

import (
	"errors"
	"sync"

	"github.com/luxfi/ids"
)

var (
	ErrItemNotFound    = errors.New("custody item not found")
	ErrItemNotReleased = errors.New("custody item not releasable")
)

// Registry is the vault's view of the external custody registry. The
// registry holds the physical items; the vault only needs approval queries,
// release instructions and an account to settle sale proceeds to.
type Registry interface {
	// HasTransferApproval reports whether caller holds transfer approval
	// over quantity contiguous items starting at startID.
	HasTransferApproval(caller ids.ShortID, startID uint64, quantity uint64) bool

	// ReleaseItem instructs the registry to hand the underlying item back
	// out of custody to the given recipient.
	ReleaseItem(itemID uint64, to ids.ShortID) error

	// SettlementAccount is the registry account that receives fixed-price
	// sale proceeds net of the marketplace fee.
	SettlementAccount() ids.ShortID
}

// SimpleRegistry is an in-memory registry for testing.
type SimpleRegistry struct {
	mu         sync.RWMutex
	settlement ids.ShortID
	approvals  map[ids.ShortID]map[uint64]bool // caller -> item -> approved
	released   map[uint64]ids.ShortID          // item -> recipient
}

// NewSimpleRegistry creates a new in-memory registry settling to the given
// account.
func NewSimpleRegistry(settlement ids.ShortID) *SimpleRegistry {
	return &SimpleRegistry{
		settlement: settlement,
		approvals:  make(map[ids.ShortID]map[uint64]bool),
		released:   make(map[uint64]ids.ShortID),
	}
}

// Approve grants caller transfer approval over quantity contiguous items
// starting at startID.
func (r *SimpleRegistry) Approve(caller ids.ShortID, startID uint64, quantity uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, ok := r.approvals[caller]
	if !ok {
		items = make(map[uint64]bool)
		r.approvals[caller] = items
	}
	for i := uint64(0); i < quantity; i++ {
		items[startID+i] = true
	}
}

func (r *SimpleRegistry) HasTransferApproval(caller ids.ShortID, startID uint64, quantity uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items, ok := r.approvals[caller]
	if !ok {
		return false
	}
	for i := uint64(0); i < quantity; i++ {
		if !items[startID+i] {
			return false
		}
	}
	return true
}

func (r *SimpleRegistry) ReleaseItem(itemID uint64, to ids.ShortID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.released[itemID]; done {
		return ErrItemNotReleased
	}
	r.released[itemID] = to
	return nil
}

func (r *SimpleRegistry) SettlementAccount() ids.ShortID {
	return r.settlement
}

// ReleasedTo returns the recipient an item was released to, if any.
func (r *SimpleRegistry) ReleasedTo(itemID uint64) (ids.ShortID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	to, ok := r.released[itemID]
	return to, ok
}
