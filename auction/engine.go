// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package auction implements the per-token buyout auction over locked
// fractional shares: bidding, outbid refunds and timer logic.
package auction

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/vault/config"
	"github.com/luxfi/vault/fractions"
	"github.com/luxfi/vault/settle"
	"github.com/luxfi/vault/utils/timer/mockable"
	"github.com/luxfi/vault/wrapper"
)

var (
	ErrNoAuction          = errors.New("no auction for token")
	ErrInvalidPrice       = errors.New("bid price must be positive")
	ErrBidTooLow          = errors.New("bid does not exceed current max bid")
	ErrAuctionOver        = errors.New("auction already ended")
	ErrNotFinalizable     = errors.New("auction not finalizable")
	ErrTimerNotExpired    = errors.New("auction timer not expired")
	ErrNotFinalized       = errors.New("auction not finalized")
	ErrNothingToClaim     = errors.New("no shares outstanding to claim")
	ErrBidNotLapsable     = errors.New("top bid not lapsable")
	ErrVotingNotAvailable = errors.New("vote-backed bids not available")
	ErrUnlockNotAvailable = errors.New("threshold unlock not available")
)

// State is the lifecycle state of a single buyout auction.
type State uint8

const (
	NotStarted State = iota
	Ongoing
	Ended
	Finalized
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Ongoing:
		return "ongoing"
	case Ended:
		return "ended"
	case Finalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Auction is the buyout record for one fractionalised token. LockedBidAmount
// always equals the cash actually escrowed by MaxBidder, and LockedFractions
// the shares escrowed by MaxBidder.
type Auction struct {
	TokenID uint64 `json:"tokenID"`
	State   State  `json:"state"`

	// Timer is the absolute unix deadline. While NotStarted it is the
	// top-bid lock window; while Ongoing it is the auction deadline.
	Timer int64 `json:"timer"`

	MaxBid          *big.Int    `json:"maxBid"`
	MaxBidder       ids.ShortID `json:"maxBidder"`
	LockedFractions uint64      `json:"lockedFractions"`
	LockedBidAmount *big.Int    `json:"lockedBidAmount"`
	HasBid          bool        `json:"hasBid"`

	// Set at finalisation: shares still redeemable against the winning
	// escrow, and the cash remaining for them.
	ClaimableShares uint64   `json:"claimableShares"`
	ClaimableCash   *big.Int `json:"claimableCash"`
}

// BidResult reports an accepted bid.
type BidResult struct {
	TokenID       uint64      `json:"tokenID"`
	Bidder        ids.ShortID `json:"bidder"`
	Price         *big.Int    `json:"price"`
	FractionsUsed uint64      `json:"fractionsUsed"`
	CashDue       *big.Int    `json:"cashDue"`

	// Started is true when this bid moved the auction to Ongoing.
	Started bool  `json:"started"`
	Timer   int64 `json:"timer"`

	// Outbid refund, when a previous bidder existed.
	Refunded          bool        `json:"refunded"`
	RefundedBidder    ids.ShortID `json:"refundedBidder,omitempty"`
	RefundedCash      *big.Int    `json:"refundedCash,omitempty"`
	RefundedFractions uint64      `json:"refundedFractions,omitempty"`
}

// FinalizeResult reports a resolved buyout.
type FinalizeResult struct {
	TokenID         uint64      `json:"tokenID"`
	Winner          ids.ShortID `json:"winner"`
	Paid            *big.Int    `json:"paid"`
	BurnedFractions uint64      `json:"burnedFractions"`
	ClaimableShares uint64      `json:"claimableShares"`
}

// Engine runs one buyout auction per fractionalised token, sharing the
// batch's share pool and cash escrow account.
type Engine struct {
	mu    sync.Mutex
	cfg   config.Config
	log   log.Logger
	clock *mockable.Clock

	pool    *fractions.Pool
	wrapper *wrapper.Wrapper
	asset   settle.Asset
	// escrow holds bid cash between acceptance and refund/claim.
	escrow ids.ShortID

	auctions map[uint64]*Auction
}

// New creates an auction engine over the given pool and wrapper. Bid cash
// is escrowed in the escrow account; bidders must grant it an allowance on
// the settlement asset.
func New(
	cfg config.Config,
	logger log.Logger,
	clock *mockable.Clock,
	pool *fractions.Pool,
	w *wrapper.Wrapper,
	asset settle.Asset,
	escrow ids.ShortID,
) *Engine {
	return &Engine{
		cfg:      cfg,
		log:      logger,
		clock:    clock,
		pool:     pool,
		wrapper:  w,
		asset:    asset,
		escrow:   escrow,
		auctions: make(map[uint64]*Auction),
	}
}

// Register creates the NotStarted auction for a freshly fractionalised
// token. Called once per token, at fractionalisation.
func (e *Engine) Register(tokenID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.auctions[tokenID]; ok {
		return
	}
	e.auctions[tokenID] = &Auction{
		TokenID:         tokenID,
		State:           NotStarted,
		MaxBid:          new(big.Int),
		LockedBidAmount: new(big.Int),
	}
}

// GetAuction returns a copy of the auction record for a token.
func (e *Engine) GetAuction(tokenID uint64) (Auction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.auctions[tokenID]
	if !ok {
		return Auction{}, ErrNoAuction
	}
	return copyAuction(a), nil
}

// AuctionCount returns the number of registered auctions.
func (e *Engine) AuctionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.auctions)
}

// Bid places a buyout bid denominated partly in cash and partly in the
// token's own shares. Offering more than one token's worth of shares is
// silently capped. The cash due is
//
//	price * (sharesPerToken - fractionsUsed) / sharesPerToken
//
// floor-divided. A previous bidder is refunded in full within the same
// step, unconditionally; a self-outbid round-trips through the refund.
func (e *Engine) Bid(bidder ids.ShortID, tokenID uint64, price *big.Int, fractionsOffered uint64) (*BidResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	a, ok := e.auctions[tokenID]
	if !ok {
		return nil, ErrNoAuction
	}

	now := e.clock.Unix()
	switch a.State {
	case Ended, Finalized:
		return nil, ErrAuctionOver
	case Ongoing:
		// The deadline instant belongs to Finalize, not to bidding.
		if now >= a.Timer {
			return nil, ErrAuctionOver
		}
	}
	if a.HasBid && price.Cmp(a.MaxBid) <= 0 {
		return nil, ErrBidTooLow
	}

	params := e.pool.Params()
	sharesPerToken := params.SharesPerToken

	fractionsUsed := fractionsOffered
	if fractionsUsed > sharesPerToken {
		fractionsUsed = sharesPerToken
	}

	cashDue := new(big.Int).SetUint64(sharesPerToken - fractionsUsed)
	cashDue.Mul(cashDue, price)
	cashDue.Div(cashDue, new(big.Int).SetUint64(sharesPerToken))

	// Escrow the new bid first. If the cash pull fails the share lock is
	// rolled back, leaving no state change.
	if err := e.pool.LockShares(bidder, fractionsUsed); err != nil {
		return nil, err
	}
	if cashDue.Sign() > 0 {
		if err := e.asset.TransferFrom(e.escrow, bidder, e.escrow, cashDue); err != nil {
			e.pool.UnlockShares(bidder, fractionsUsed)
			return nil, err
		}
	}

	result := &BidResult{
		TokenID:       tokenID,
		Bidder:        bidder,
		Price:         new(big.Int).Set(price),
		FractionsUsed: fractionsUsed,
		CashDue:       new(big.Int).Set(cashDue),
	}

	// Refund the displaced bidder in full. The escrow account holds the
	// locked amount by invariant, so this transfer cannot fail.
	if a.HasBid {
		if a.LockedBidAmount.Sign() > 0 {
			if err := e.asset.Transfer(e.escrow, a.MaxBidder, a.LockedBidAmount); err != nil {
				return nil, err
			}
		}
		e.pool.UnlockShares(a.MaxBidder, a.LockedFractions)

		result.Refunded = true
		result.RefundedBidder = a.MaxBidder
		result.RefundedCash = new(big.Int).Set(a.LockedBidAmount)
		result.RefundedFractions = a.LockedFractions
	}

	a.MaxBid = new(big.Int).Set(price)
	a.MaxBidder = bidder
	a.LockedFractions = fractionsUsed
	a.LockedBidAmount = new(big.Int).Set(cashDue)
	a.HasBid = true

	switch a.State {
	case NotStarted:
		if price.Cmp(params.ExitPrice) >= 0 {
			a.State = Ongoing
			a.Timer = now + int64(params.Duration/time.Second)
			result.Started = true
		} else {
			// Below the exit price the bid only locks in for a grace
			// window; it may lapse unchallenged after the timer.
			a.Timer = now + int64(params.TopBidLockTime/time.Second)
		}
	case Ongoing:
		buffer := int64(e.cfg.AuctionEndBuffer / time.Second)
		if a.Timer-now <= buffer {
			a.Timer = now + buffer
		}
	}
	result.Timer = a.Timer

	e.log.Info("bid accepted",
		"tokenID", tokenID,
		"bidder", bidder,
		"price", price,
		"fractionsUsed", fractionsUsed,
		"cashDue", cashDue,
		"started", result.Started,
	)
	return result, nil
}

// Finalize resolves an Ongoing auction whose deadline passed: the locked
// token leaves wrapper custody to the max bidder, the escrowed fractions
// are burned, and the winning cash remains claimable by the outstanding
// shareholders.
func (e *Engine) Finalize(tokenID uint64) (*FinalizeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.auctions[tokenID]
	if !ok {
		return nil, ErrNoAuction
	}
	if a.State != Ongoing {
		return nil, ErrNotFinalizable
	}
	if e.clock.Unix() < a.Timer {
		return nil, ErrTimerNotExpired
	}

	// The auction stays Ongoing until every side effect lands, so a failed
	// release can be retried.
	if err := e.wrapper.ReleaseFromCustody(tokenID, a.MaxBidder); err != nil {
		return nil, err
	}
	sharesPerToken := e.pool.SharesPerToken()
	e.pool.BurnEscrowedShares(a.LockedFractions)
	e.pool.Unfractionalise(tokenID)

	a.ClaimableShares = sharesPerToken - a.LockedFractions
	a.ClaimableCash = new(big.Int).Set(a.LockedBidAmount)
	a.State = Finalized

	e.log.Info("auction finalized",
		"tokenID", tokenID,
		"winner", a.MaxBidder,
		"paid", a.LockedBidAmount,
		"claimableShares", a.ClaimableShares,
	)
	return &FinalizeResult{
		TokenID:         tokenID,
		Winner:          a.MaxBidder,
		Paid:            new(big.Int).Set(a.LockedBidAmount),
		BurnedFractions: a.LockedFractions,
		ClaimableShares: a.ClaimableShares,
	}, nil
}

// Claim redeems shares against a finalized buyout pro rata.
func (e *Engine) Claim(holder ids.ShortID, tokenID uint64, shares uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.auctions[tokenID]
	if !ok {
		return nil, ErrNoAuction
	}
	if a.State != Finalized {
		return nil, ErrNotFinalized
	}
	if shares == 0 || a.ClaimableShares == 0 || shares > a.ClaimableShares {
		return nil, ErrNothingToClaim
	}

	amount := new(big.Int).SetUint64(shares)
	amount.Mul(amount, a.ClaimableCash)
	amount.Div(amount, new(big.Int).SetUint64(a.ClaimableShares))

	if err := e.pool.BurnShares(holder, shares); err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		if err := e.asset.Transfer(e.escrow, holder, amount); err != nil {
			return nil, err
		}
	}
	a.ClaimableShares -= shares
	a.ClaimableCash.Sub(a.ClaimableCash, amount)

	e.log.Debug("buyout shares claimed",
		"tokenID", tokenID,
		"holder", holder,
		"shares", shares,
		"amount", amount,
	)
	return amount, nil
}

// LapseBid releases a below-exit-price top bid whose lock window expired
// unchallenged, refunding the bidder in full and resetting the auction.
func (e *Engine) LapseBid(tokenID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.auctions[tokenID]
	if !ok {
		return ErrNoAuction
	}
	if a.State != NotStarted || !a.HasBid {
		return ErrBidNotLapsable
	}
	if e.clock.Unix() < a.Timer {
		return ErrTimerNotExpired
	}

	if a.LockedBidAmount.Sign() > 0 {
		if err := e.asset.Transfer(e.escrow, a.MaxBidder, a.LockedBidAmount); err != nil {
			return err
		}
	}
	e.pool.UnlockShares(a.MaxBidder, a.LockedFractions)

	e.log.Info("top bid lapsed",
		"tokenID", tokenID,
		"bidder", a.MaxBidder,
		"refunded", a.LockedBidAmount,
	)

	a.MaxBid = new(big.Int)
	a.MaxBidder = ids.ShortID{}
	a.LockedFractions = 0
	a.LockedBidAmount = new(big.Int)
	a.HasBid = false
	a.Timer = 0
	return nil
}

// BidWithVotes is the governance-style bid path. Its transition rules are
// not defined yet; it always fails.
func (e *Engine) BidWithVotes(ids.ShortID, uint64, *big.Int, uint64) (*BidResult, error) {
	return nil, ErrVotingNotAvailable
}

// UnlockLiquidSupply is the threshold-triggered unlock path. Its transition
// rules are not defined yet; it always fails.
func (e *Engine) UnlockLiquidSupply(uint64) error {
	return ErrUnlockNotAvailable
}

// RestoreAuction reinstates a persisted auction record. Used by the store
// on startup.
func (e *Engine) RestoreAuction(a Auction) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := copyAuction(&a)
	e.auctions[a.TokenID] = &cp
}

func copyAuction(a *Auction) Auction {
	cp := *a
	if a.MaxBid != nil {
		cp.MaxBid = new(big.Int).Set(a.MaxBid)
	} else {
		cp.MaxBid = new(big.Int)
	}
	if a.LockedBidAmount != nil {
		cp.LockedBidAmount = new(big.Int).Set(a.LockedBidAmount)
	} else {
		cp.LockedBidAmount = new(big.Int)
	}
	if a.ClaimableCash != nil {
		cp.ClaimableCash = new(big.Int).Set(a.ClaimableCash)
	}
	return cp
}
