// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package settle defines the fungible settlement-asset interface used for
// auction escrow, refunds and fixed-price proceeds.
package settle

import (
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/ids"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient settlement balance")
	ErrInsufficientAllowance = errors.New("insufficient settlement allowance")
	ErrInvalidAmount         = errors.New("invalid settlement amount")
)

// Asset is a generic fungible-balance interface. It must support
// allowance-based pulls (TransferFrom) and direct pushes (Transfer).
type Asset interface {
	BalanceOf(addr ids.ShortID) *big.Int

	// Transfer pushes amount from one account to another.
	Transfer(from, to ids.ShortID, amount *big.Int) error

	// TransferFrom pulls amount from owner to recipient on behalf of
	// spender, consuming spender's allowance.
	TransferFrom(spender, owner, to ids.ShortID, amount *big.Int) error
}

// SimpleAsset is an in-memory settlement asset for testing.
type SimpleAsset struct {
	mu         sync.RWMutex
	balances   map[ids.ShortID]*big.Int
	allowances map[ids.ShortID]map[ids.ShortID]*big.Int // owner -> spender -> allowance
}

// NewSimpleAsset creates an empty in-memory asset.
func NewSimpleAsset() *SimpleAsset {
	return &SimpleAsset{
		balances:   make(map[ids.ShortID]*big.Int),
		allowances: make(map[ids.ShortID]map[ids.ShortID]*big.Int),
	}
}

// Mint credits amount to addr.
func (a *SimpleAsset) Mint(addr ids.ShortID, amount *big.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.credit(addr, amount)
}

// Approve sets spender's allowance over owner's balance.
func (a *SimpleAsset) Approve(owner, spender ids.ShortID, amount *big.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	spenders, ok := a.allowances[owner]
	if !ok {
		spenders = make(map[ids.ShortID]*big.Int)
		a.allowances[owner] = spenders
	}
	spenders[spender] = new(big.Int).Set(amount)
}

// Allowance returns spender's remaining allowance over owner's balance.
func (a *SimpleAsset) Allowance(owner, spender ids.ShortID) *big.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if spenders, ok := a.allowances[owner]; ok {
		if allowance, ok := spenders[spender]; ok {
			return new(big.Int).Set(allowance)
		}
	}
	return new(big.Int)
}

func (a *SimpleAsset) BalanceOf(addr ids.ShortID) *big.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if balance, ok := a.balances[addr]; ok {
		return new(big.Int).Set(balance)
	}
	return new(big.Int)
}

func (a *SimpleAsset) Transfer(from, to ids.ShortID, amount *big.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if err := a.debit(from, amount); err != nil {
		return err
	}
	a.credit(to, amount)
	return nil
}

func (a *SimpleAsset) TransferFrom(spender, owner, to ids.ShortID, amount *big.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	// The allowance is consumed only once the debit succeeds, so a failed
	// pull leaves both the balance and the allowance untouched.
	var allowance *big.Int
	if spender != owner {
		spenders, ok := a.allowances[owner]
		if !ok {
			return ErrInsufficientAllowance
		}
		allowance, ok = spenders[spender]
		if !ok || allowance.Cmp(amount) < 0 {
			return ErrInsufficientAllowance
		}
	}
	if err := a.debit(owner, amount); err != nil {
		return err
	}
	if allowance != nil {
		allowance.Sub(allowance, amount)
	}
	a.credit(to, amount)
	return nil
}

func (a *SimpleAsset) credit(addr ids.ShortID, amount *big.Int) {
	balance, ok := a.balances[addr]
	if !ok {
		balance = new(big.Int)
		a.balances[addr] = balance
	}
	balance.Add(balance, amount)
}

func (a *SimpleAsset) debit(addr ids.ShortID, amount *big.Int) error {
	balance, ok := a.balances[addr]
	if !ok || balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	balance.Sub(balance, amount)
	return nil
}
