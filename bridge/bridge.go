// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bridge posts custody-escrowed tokens to an external fixed-price
// order protocol and settles the resulting sales.
package bridge

import (
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/vault/config"
	"github.com/luxfi/vault/settle"
	"github.com/luxfi/vault/wrapper"
)

var (
	ErrZeroPrice      = errors.New("order price must be positive")
	ErrLengthMismatch = errors.New("tokenIDs, prices and endTimes length mismatch")
	ErrInvalidRoyalty = errors.New("royalty schedule exceeds maximum")
	ErrAlreadyListed  = errors.New("token already listed")
	ErrNotListed      = errors.New("token not listed")
	ErrNotSeller      = errors.New("caller is not the listing seller")
	ErrNotWrapped     = errors.New("token not in wrapped state")
	ErrListingExpired = errors.New("listing past its end time")
)

// RoyaltyShare routes a basis-point cut of each sale to a beneficiary.
// Royalty schedules are ordered; cuts are paid out in schedule order.
type RoyaltyShare struct {
	Beneficiary ids.ShortID `json:"beneficiary"`
	Bps         uint16      `json:"bps"`
}

// Listing is one live fixed-price sell order. The token sits in wrapper
// custody for the lifetime of the listing. An EndTime of zero means the
// listing never expires.
type Listing struct {
	TokenID       uint64         `json:"tokenID"`
	Seller        ids.ShortID    `json:"seller"`
	Price         *big.Int       `json:"price"`
	OrderID       ids.ID         `json:"orderID"`
	ExchangeAsset ids.ID         `json:"exchangeAsset"`
	EndTime       int64          `json:"endTime,omitempty"`
	Royalties     []RoyaltyShare `json:"royalties,omitempty"`
	CreatedAt     int64          `json:"createdAt"`
}

// Bridge maintains the listings and mediates between the wrapper and the
// external order protocol.
type Bridge struct {
	mu  sync.Mutex
	cfg config.Config
	log log.Logger

	wrapper  *wrapper.Wrapper
	protocol OrderProtocol
	asset    settle.Asset

	listings map[uint64]*Listing
	byOrder  map[ids.ID]uint64
}

func New(
	cfg config.Config,
	logger log.Logger,
	w *wrapper.Wrapper,
	protocol OrderProtocol,
	asset settle.Asset,
) *Bridge {
	return &Bridge{
		cfg:      cfg,
		log:      logger,
		wrapper:  w,
		protocol: protocol,
		asset:    asset,
		listings: make(map[uint64]*Listing),
		byOrder:  make(map[ids.ID]uint64),
	}
}

// ListFixedPriceOrders escrows each token into wrapper custody and posts a
// sell order for it. Every token must be in the Wrapped state and owned by
// the caller. endTimes may be nil, or parallel to tokenIDs with zero entries
// for open-ended listings; royalties may be nil, or parallel to tokenIDs
// with nil entries for royalty-free listings. The batch is all-or-nothing:
// any failure leaves no listing and no token in custody.
func (b *Bridge) ListFixedPriceOrders(
	caller ids.ShortID,
	tokenIDs []uint64,
	prices []*big.Int,
	endTimes []int64,
	royalties [][]RoyaltyShare,
	exchangeAsset ids.ID,
	now int64,
) ([]Listing, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(tokenIDs) != len(prices) {
		return nil, ErrLengthMismatch
	}
	if endTimes != nil && len(endTimes) != len(tokenIDs) {
		return nil, ErrLengthMismatch
	}
	if royalties != nil && len(royalties) != len(tokenIDs) {
		return nil, ErrLengthMismatch
	}
	for i, price := range prices {
		if price == nil || price.Sign() <= 0 {
			return nil, ErrZeroPrice
		}
		if royalties != nil {
			total := uint64(0)
			for _, r := range royalties[i] {
				total += uint64(r.Bps)
			}
			if total > uint64(b.cfg.MaxRoyaltyBps) {
				return nil, ErrInvalidRoyalty
			}
		}
	}
	for _, id := range tokenIDs {
		if _, ok := b.listings[id]; ok {
			return nil, ErrAlreadyListed
		}
		t, err := b.wrapper.GetToken(id)
		if err != nil {
			return nil, err
		}
		if t.State != wrapper.Wrapped {
			return nil, ErrNotWrapped
		}
		if t.Owner != caller {
			return nil, wrapper.ErrInvalidOwner
		}
	}

	out := make([]Listing, 0, len(tokenIDs))
	for i, id := range tokenIDs {
		if err := b.wrapper.EscrowToCustody(id, caller); err != nil {
			b.unwindListings(out, caller)
			return nil, err
		}
		orderID, err := b.protocol.CreateOrder(caller, id, prices[i])
		if err != nil {
			_ = b.wrapper.ReleaseFromCustody(id, caller)
			b.unwindListings(out, caller)
			return nil, err
		}

		l := &Listing{
			TokenID:       id,
			Seller:        caller,
			Price:         new(big.Int).Set(prices[i]),
			OrderID:       orderID,
			ExchangeAsset: exchangeAsset,
			CreatedAt:     now,
		}
		if endTimes != nil {
			l.EndTime = endTimes[i]
		}
		if royalties != nil && len(royalties[i]) > 0 {
			l.Royalties = make([]RoyaltyShare, len(royalties[i]))
			copy(l.Royalties, royalties[i])
		}
		b.listings[id] = l
		b.byOrder[orderID] = id
		out = append(out, copyListing(l))

		b.log.Info("fixed-price order listed",
			"tokenID", id,
			"seller", caller,
			"price", prices[i],
			"orderID", orderID,
		)
	}
	return out, nil
}

// unwindListings reverses already-applied listings after a mid-batch
// failure, returning their tokens to the seller.
func (b *Bridge) unwindListings(created []Listing, seller ids.ShortID) {
	for _, l := range created {
		_ = b.protocol.CancelOrder(l.OrderID)
		_ = b.wrapper.ReleaseFromCustody(l.TokenID, seller)
		delete(b.byOrder, l.OrderID)
		delete(b.listings, l.TokenID)
	}
}

// CancelFixedPriceOrders withdraws the caller's orders, cancelling them on
// the protocol and returning the tokens from custody to the seller. Every
// order is validated before any is cancelled. Returns the cancelled
// listings.
func (b *Bridge) CancelFixedPriceOrders(caller ids.ShortID, orderIDs []ids.ID) ([]Listing, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, orderID := range orderIDs {
		tokenID, ok := b.byOrder[orderID]
		if !ok {
			return nil, ErrNotListed
		}
		if b.listings[tokenID].Seller != caller {
			return nil, ErrNotSeller
		}
	}
	out := make([]Listing, 0, len(orderIDs))
	for _, orderID := range orderIDs {
		tokenID := b.byOrder[orderID]
		l := b.listings[tokenID]
		if err := b.protocol.CancelOrder(orderID); err != nil {
			return out, err
		}
		if err := b.wrapper.ReleaseFromCustody(tokenID, caller); err != nil {
			return out, err
		}
		delete(b.byOrder, orderID)
		delete(b.listings, tokenID)
		out = append(out, copyListing(l))

		b.log.Info("fixed-price order cancelled", "tokenID", tokenID, "seller", caller)
	}
	return out, nil
}

// SettleSale executes a live order against a buyer: the buyer pays the
// listed price, the royalty cuts go straight to their beneficiaries in
// schedule order, and the remainder accrues to the token as sale proceeds.
// The token moves from custody to the buyer and the listing closes.
func (b *Bridge) SettleSale(buyer ids.ShortID, orderID ids.ID, now int64) (*Listing, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tokenID, ok := b.byOrder[orderID]
	if !ok {
		return nil, ErrNotListed
	}
	l := b.listings[tokenID]
	if l.EndTime != 0 && now > l.EndTime {
		return nil, ErrListingExpired
	}

	custody := b.wrapper.CustodyAccount()
	if err := b.asset.TransferFrom(custody, buyer, custody, l.Price); err != nil {
		return nil, err
	}

	net := new(big.Int).Set(l.Price)
	for _, r := range l.Royalties {
		cut := new(big.Int).Mul(l.Price, big.NewInt(int64(r.Bps)))
		cut.Div(cut, big.NewInt(10000))
		if cut.Sign() > 0 {
			if err := b.asset.Transfer(custody, r.Beneficiary, cut); err != nil {
				return nil, err
			}
			net.Sub(net, cut)
		}
	}

	if err := b.wrapper.CompleteSale(tokenID, buyer, net); err != nil {
		return nil, err
	}
	if err := b.protocol.FillOrder(orderID); err != nil {
		return nil, err
	}

	settled := copyListing(l)
	delete(b.byOrder, orderID)
	delete(b.listings, tokenID)

	b.log.Info("fixed-price sale settled",
		"tokenID", tokenID,
		"buyer", buyer,
		"price", l.Price,
		"netProceeds", net,
	)
	return &settled, nil
}

// GetListing returns a copy of the live listing for a token.
func (b *Bridge) GetListing(tokenID uint64) (Listing, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.listings[tokenID]
	if !ok {
		return Listing{}, ErrNotListed
	}
	return copyListing(l), nil
}

// ListingCount returns the number of live listings.
func (b *Bridge) ListingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listings)
}

// RestoreListing reinstates a persisted listing. Used by the store on
// startup.
func (b *Bridge) RestoreListing(l Listing) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := copyListing(&l)
	b.listings[l.TokenID] = &cp
	b.byOrder[l.OrderID] = l.TokenID
}

func copyListing(l *Listing) Listing {
	cp := *l
	cp.Price = new(big.Int).Set(l.Price)
	if len(l.Royalties) > 0 {
		cp.Royalties = make([]RoyaltyShare, len(l.Royalties))
		copy(cp.Royalties, l.Royalties)
	}
	return cp
}
