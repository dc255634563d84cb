// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fractions implements the fungible-share pool minted against
// locked surrogate tokens.
package fractions

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	safemath "github.com/luxfi/math"

	"github.com/luxfi/vault/config"
	"github.com/luxfi/vault/wrapper"
)

var (
	ErrInvalidLength                = errors.New("fraction count must be positive")
	ErrInitialFractionalisationOnly = errors.New("auction parameters may only be set at the initial fractionalisation")
	ErrMissingFractionalisation     = errors.New("auction parameters required for the initial fractionalisation")
	ErrInvalidFractionsAmount       = errors.New("shares per token out of range")
	ErrInvalidExitPrice             = errors.New("exit price must be positive")
	ErrInvalidPercentage            = errors.New("unlock threshold exceeds 10000 basis points")
	ErrInsufficientShares           = errors.New("insufficient liquid share balance")
	ErrAlreadyFractionalised        = errors.New("token already fractionalised")
)

// Params are the auction parameters bound to a batch at its first
// fractionalisation. Zero-valued optional fields are replaced by protocol
// defaults at binding time; the resolved values are stored, never the raw
// zeros. ExitPrice has no default and must always be supplied.
type Params struct {
	SharesPerToken     uint64        `json:"sharesPerToken"`
	ExitPrice          *big.Int      `json:"exitPrice"`
	Duration           time.Duration `json:"duration"`
	UnlockThresholdBps uint16        `json:"unlockThresholdBps"`
	TopBidLockTime     time.Duration `json:"topBidLockTime"`
}

// MintResult reports an accepted fractionalisation.
type MintResult struct {
	TokenIDs     []uint64 `json:"tokenIDs"`
	SharesMinted uint64   `json:"sharesMinted"`
	// ParamsBound is true only on the initial fractionalisation of the
	// batch.
	ParamsBound bool   `json:"paramsBound"`
	Params      Params `json:"params"`
}

// Pool is the fungible-share ledger for one fractionalised batch. Total
// supply always equals shares-per-token times the number of fractionalised
// tokens; liquid supply excludes shares escrowed in active auctions.
type Pool struct {
	mu  sync.RWMutex
	cfg config.Config
	log log.Logger

	wrapper *wrapper.Wrapper

	initialized bool
	params      Params

	totalSupply  uint64
	liquidSupply uint64
	balances     map[ids.ShortID]uint64
	locked       map[uint64]bool // fractionalised token ids
}

// New creates an empty pool over the given wrapper.
func New(cfg config.Config, logger log.Logger, w *wrapper.Wrapper) *Pool {
	return &Pool{
		cfg:      cfg,
		log:      logger,
		wrapper:  w,
		balances: make(map[ids.ShortID]uint64),
		locked:   make(map[uint64]bool),
	}
}

// MintFractions locks count contiguous tokens starting at tokenID into
// wrapper custody and mints shares-per-token fungible shares per token to
// the caller. Auction parameters are accepted only on the very first call
// for the batch; later calls reuse the stored resolved values.
func (p *Pool) MintFractions(caller ids.ShortID, tokenID uint64, count uint64, params *Params) (*MintResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if count == 0 {
		return nil, ErrInvalidLength
	}
	switch {
	case params != nil && p.initialized:
		return nil, ErrInitialFractionalisationOnly
	case params == nil && !p.initialized:
		return nil, ErrMissingFractionalisation
	}

	bound := p.params
	if params != nil {
		resolved, err := p.resolveParams(*params)
		if err != nil {
			return nil, err
		}
		bound = resolved
	}

	// Validate every token before the first side effect.
	for i := uint64(0); i < count; i++ {
		id := tokenID + i
		if p.locked[id] {
			return nil, ErrAlreadyFractionalised
		}
		t, err := p.wrapper.GetToken(id)
		if err != nil {
			return nil, err
		}
		if t.State != wrapper.Verified || t.Owner != caller {
			return nil, wrapper.ErrInvalidStateOrCaller
		}
	}

	minted, err := safemath.Mul64(count, bound.SharesPerToken)
	if err != nil {
		return nil, err
	}
	newTotal, err := safemath.Add64(p.totalSupply, minted)
	if err != nil {
		return nil, err
	}

	for i := uint64(0); i < count; i++ {
		id := tokenID + i
		if err := p.wrapper.EscrowToCustody(id, caller); err != nil {
			return nil, err
		}
		p.locked[id] = true
	}

	paramsBound := params != nil
	if paramsBound {
		p.params = bound
		p.initialized = true
	}
	p.totalSupply = newTotal
	p.liquidSupply += minted
	p.balances[caller] += minted

	tokenIDs := make([]uint64, 0, count)
	for i := uint64(0); i < count; i++ {
		tokenIDs = append(tokenIDs, tokenID+i)
	}

	p.log.Info("tokens fractionalised",
		"startID", tokenID,
		"count", count,
		"sharesMinted", minted,
		"initial", paramsBound,
	)
	return &MintResult{
		TokenIDs:     tokenIDs,
		SharesMinted: minted,
		ParamsBound:  paramsBound,
		Params:       bound,
	}, nil
}

// resolveParams validates supplied parameters and substitutes protocol
// defaults for zero-valued optional fields. Executed once, at the first
// binding.
func (p *Pool) resolveParams(params Params) (Params, error) {
	if params.SharesPerToken < p.cfg.MinFractions || params.SharesPerToken > p.cfg.MaxFractions {
		return Params{}, ErrInvalidFractionsAmount
	}
	if params.ExitPrice == nil || params.ExitPrice.Sign() <= 0 {
		return Params{}, ErrInvalidExitPrice
	}
	if params.UnlockThresholdBps > 10000 {
		return Params{}, ErrInvalidPercentage
	}

	resolved := Params{
		SharesPerToken:     params.SharesPerToken,
		ExitPrice:          new(big.Int).Set(params.ExitPrice),
		Duration:           params.Duration,
		UnlockThresholdBps: params.UnlockThresholdBps,
		TopBidLockTime:     params.TopBidLockTime,
	}
	if resolved.Duration == 0 {
		resolved.Duration = p.cfg.DefaultAuctionDuration
	}
	if resolved.UnlockThresholdBps == 0 {
		resolved.UnlockThresholdBps = p.cfg.DefaultUnlockThresholdBps
	}
	if resolved.TopBidLockTime == 0 {
		resolved.TopBidLockTime = p.cfg.DefaultTopBidLockTime
	}
	return resolved, nil
}

// Initialized reports whether the batch parameters are bound.
func (p *Pool) Initialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized
}

// Params returns the resolved batch parameters.
func (p *Pool) Params() Params {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.params
}

// SharesPerToken returns the fixed shares minted per fractionalised token.
func (p *Pool) SharesPerToken() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.params.SharesPerToken
}

// TotalSupply returns the total share supply.
func (p *Pool) TotalSupply() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalSupply
}

// LiquidSupply returns the supply not escrowed in active auctions.
func (p *Pool) LiquidSupply() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.liquidSupply
}

// BalanceOf returns addr's liquid share balance.
func (p *Pool) BalanceOf(addr ids.ShortID) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balances[addr]
}

// FractionalisedCount returns the number of tokens locked in the batch.
func (p *Pool) FractionalisedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.locked)
}

// IsFractionalised reports whether the token is locked in this batch.
func (p *Pool) IsFractionalised(tokenID uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.locked[tokenID]
}

// TransferShares moves liquid shares between holders.
func (p *Pool) TransferShares(from, to ids.ShortID, amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.balances[from] < amount {
		return ErrInsufficientShares
	}
	p.balances[from] -= amount
	p.balances[to] += amount
	return nil
}

// LockShares escrows amount of owner's liquid shares into an auction.
func (p *Pool) LockShares(owner ids.ShortID, amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.balances[owner] < amount {
		return ErrInsufficientShares
	}
	p.balances[owner] -= amount
	p.liquidSupply -= amount
	return nil
}

// UnlockShares returns previously escrowed shares to owner.
func (p *Pool) UnlockShares(owner ids.ShortID, amount uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.balances[owner] += amount
	p.liquidSupply += amount
}

// BurnEscrowedShares destroys shares escrowed in a resolved auction. The
// shares were already excluded from the liquid supply by LockShares.
func (p *Pool) BurnEscrowedShares(amount uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalSupply -= amount
}

// BurnShares destroys liquid shares held by owner, used when redeeming
// shares against a finalized buyout.
func (p *Pool) BurnShares(owner ids.ShortID, amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.balances[owner] < amount {
		return ErrInsufficientShares
	}
	p.balances[owner] -= amount
	p.liquidSupply -= amount
	p.totalSupply -= amount
	return nil
}

// Unfractionalise removes a bought-out token from the batch.
func (p *Pool) Unfractionalise(tokenID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.locked, tokenID)
}

// BalanceEntry is one holder's share balance in a pool snapshot.
type BalanceEntry struct {
	Holder ids.ShortID `json:"holder"`
	Shares uint64      `json:"shares"`
}

// Snapshot is the serializable image of the pool ledger.
type Snapshot struct {
	Initialized    bool           `json:"initialized"`
	Params         Params         `json:"params"`
	TotalSupply    uint64         `json:"totalSupply"`
	LiquidSupply   uint64         `json:"liquidSupply"`
	Balances       []BalanceEntry `json:"balances"`
	Fractionalised []uint64       `json:"fractionalised"`
}

// Snapshot captures the pool ledger for persistence.
func (p *Pool) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := Snapshot{
		Initialized:  p.initialized,
		Params:       p.params,
		TotalSupply:  p.totalSupply,
		LiquidSupply: p.liquidSupply,
	}
	if p.params.ExitPrice != nil {
		snap.Params.ExitPrice = new(big.Int).Set(p.params.ExitPrice)
	}
	for holder, shares := range p.balances {
		if shares == 0 {
			continue
		}
		snap.Balances = append(snap.Balances, BalanceEntry{Holder: holder, Shares: shares})
	}
	for id := range p.locked {
		snap.Fractionalised = append(snap.Fractionalised, id)
	}
	return snap
}

// Restore replaces the pool ledger with a persisted snapshot. Used by the
// store on startup.
func (p *Pool) Restore(snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.initialized = snap.Initialized
	p.params = snap.Params
	if snap.Params.ExitPrice != nil {
		p.params.ExitPrice = new(big.Int).Set(snap.Params.ExitPrice)
	}
	p.totalSupply = snap.TotalSupply
	p.liquidSupply = snap.LiquidSupply
	p.balances = make(map[ids.ShortID]uint64, len(snap.Balances))
	for _, e := range snap.Balances {
		p.balances[e.Holder] = e.Shares
	}
	p.locked = make(map[uint64]bool, len(snap.Fractionalised))
	for _, id := range snap.Fractionalised {
		p.locked[id] = true
	}
}
