// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vault ties the custody wrapper, the fixed-price bridge, the share
// pool and the buyout auctions into one engine with persistence, metrics
// and an event feed.
package vault

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"github.com/gorilla/rpc/v2"
	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/luxfi/pubsub"

	"github.com/luxfi/vault/api"
	"github.com/luxfi/vault/auction"
	"github.com/luxfi/vault/bridge"
	"github.com/luxfi/vault/config"
	"github.com/luxfi/vault/custody"
	"github.com/luxfi/vault/fractions"
	"github.com/luxfi/vault/metrics"
	"github.com/luxfi/vault/settle"
	"github.com/luxfi/vault/state"
	"github.com/luxfi/vault/utils/json"
	"github.com/luxfi/vault/utils/timer/mockable"
	"github.com/luxfi/vault/wrapper"
)

var statePrefix = []byte("vault")

// Params collects everything a vault needs at construction.
type Params struct {
	Config config.Config
	DB     database.Database
	Log    log.Logger

	Registry       custody.Registry
	RegistryCaller ids.ShortID
	Operator       ids.ShortID
	CustodyAccount ids.ShortID

	Asset    settle.Asset
	Protocol bridge.OrderProtocol

	// Registerer is optional; a fresh registry is created when nil.
	Registerer metric.Registerer
}

// Vault is the root engine. All mutating operations persist their outcome
// before returning and publish an event on the /events feed.
type Vault struct {
	cfg   config.Config
	log   log.Logger
	clock mockable.Clock

	wrapper  *wrapper.Wrapper
	bridge   *bridge.Bridge
	pool     *fractions.Pool
	auctions *auction.Engine
	asset    settle.Asset

	store   *state.Store
	metrics metrics.Metrics
	pubsub  *pubsub.Server
}

// New builds a vault over the given database and replays any persisted
// state into it.
func New(p Params) (*Vault, error) {
	registerer := p.Registerer
	if registerer == nil {
		registerer = metric.NewRegistry()
	}
	m, err := metrics.New(registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	v := &Vault{
		cfg:     p.Config,
		log:     p.Log,
		asset:   p.Asset,
		store:   state.New(prefixdb.New(statePrefix, p.DB)),
		metrics: m,
		pubsub:  pubsub.New(p.Log),
	}
	v.wrapper = wrapper.New(
		p.Config,
		p.Log,
		&v.clock,
		p.Registry,
		p.RegistryCaller,
		p.Operator,
		p.CustodyAccount,
	)
	v.pool = fractions.New(p.Config, p.Log, v.wrapper)
	v.bridge = bridge.New(p.Config, p.Log, v.wrapper, p.Protocol, p.Asset)
	v.auctions = auction.New(
		p.Config,
		p.Log,
		&v.clock,
		v.pool,
		v.wrapper,
		p.Asset,
		p.CustodyAccount,
	)

	if err := v.store.Load(v.wrapper, v.bridge, v.pool, v.auctions); err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return v, nil
}

// Clock exposes the engine clock, mockable for tests.
func (v *Vault) Clock() *mockable.Clock { return &v.clock }

// CustodyAccount returns the address tokens and cash are escrowed under.
func (v *Vault) CustodyAccount() ids.ShortID { return v.wrapper.CustodyAccount() }

/*
 ******************************************************************************
 ********************************** Wrapping **********************************
 ******************************************************************************
 */

// Wrap mints surrogate tokens for a contiguous run of custody items.
func (v *Vault) Wrap(caller ids.ShortID, startID, quantity uint64, recipient ids.ShortID) ([]wrapper.Token, error) {
	tokens, err := v.wrapper.Wrap(caller, startID, quantity, recipient)
	if err != nil {
		return nil, err
	}
	tokenIDs := make([]uint64, len(tokens))
	for i, t := range tokens {
		if err := v.store.PutToken(t); err != nil {
			return nil, err
		}
		tokenIDs[i] = t.ID
	}
	v.metrics.AddWrapped(len(tokens))
	v.publish(&Event{
		Type:     EventWrapped,
		TokenIDs: tokenIDs,
		Accounts: []ids.ShortID{recipient},
	})
	return tokens, nil
}

// PushToNextTokenState advances a token one step along its lifecycle.
func (v *Vault) PushToNextTokenState(caller ids.ShortID, id uint64, expected wrapper.TokenState) (wrapper.Token, error) {
	t, err := v.wrapper.PushToNextTokenState(caller, id, expected)
	if err != nil {
		return wrapper.Token{}, err
	}
	if t.State == wrapper.CheckedOut {
		err = v.store.DeleteToken(id)
	} else {
		err = v.store.PutToken(t)
	}
	if err != nil {
		return wrapper.Token{}, err
	}
	v.metrics.IncStateTransitions()
	v.publish(&Event{
		Type:     EventStateTransition,
		TokenIDs: []uint64{id},
		Accounts: []ids.ShortID{t.Owner},
		Detail:   t.State.String(),
	})
	return t, nil
}

// TransferToken moves a token to a new owner, subject to the state guard
// and the transfer validator.
func (v *Vault) TransferToken(caller ids.ShortID, id uint64, to ids.ShortID) error {
	if err := v.wrapper.Transfer(caller, id, to); err != nil {
		return err
	}
	return v.persistToken(id)
}

// SetTransferValidator replaces the wrapper's transfer-validator hook.
func (v *Vault) SetTransferValidator(caller ids.ShortID, tv wrapper.TransferValidator) error {
	return v.wrapper.SetTransferValidator(caller, tv)
}

// SetRevisedMetadata attaches a revised metadata reference to a token.
func (v *Vault) SetRevisedMetadata(caller ids.ShortID, id uint64, ref string) error {
	if err := v.wrapper.SetRevisedMetadata(caller, id, ref); err != nil {
		return err
	}
	return v.persistToken(id)
}

// UnwrapToSelf returns the underlying item to the calling owner, settling
// any accrued proceeds to them.
func (v *Vault) UnwrapToSelf(caller ids.ShortID, id uint64, minProceeds *big.Int) (wrapper.Token, error) {
	t, err := v.wrapper.UnwrapToSelf(caller, id, v.asset, minProceeds)
	if err != nil {
		return wrapper.Token{}, err
	}
	if err := v.store.PutToken(t); err != nil {
		return wrapper.Token{}, err
	}
	v.publish(&Event{
		Type:     EventUnwrapped,
		TokenIDs: []uint64{id},
		Accounts: []ids.ShortID{caller},
	})
	return t, nil
}

// UnwrapFixedPriced settles a sold token's proceeds to the registry and
// releases the underlying item to the buyer.
func (v *Vault) UnwrapFixedPriced(caller ids.ShortID, id uint64) (wrapper.Token, *big.Int, error) {
	t, net, err := v.wrapper.UnwrapFixedPriced(caller, id, v.asset)
	if err != nil {
		return wrapper.Token{}, nil, err
	}
	if err := v.store.PutToken(t); err != nil {
		return wrapper.Token{}, nil, err
	}
	v.publish(&Event{
		Type:     EventUnwrapped,
		TokenIDs: []uint64{id},
		Accounts: []ids.ShortID{t.Owner},
		Amount:   net,
	})
	return t, net, nil
}

/*
 ******************************************************************************
 ******************************* Bridge orders ********************************
 ******************************************************************************
 */

// ListFixedPriceOrders escrows tokens into custody and posts fixed-price
// sell orders for them. The batch is all-or-nothing: any failure leaves no
// listing behind.
func (v *Vault) ListFixedPriceOrders(
	caller ids.ShortID,
	tokenIDs []uint64,
	prices []*big.Int,
	endTimes []int64,
	royalties [][]bridge.RoyaltyShare,
	exchangeAsset ids.ID,
) ([]bridge.Listing, error) {
	listings, err := v.bridge.ListFixedPriceOrders(caller, tokenIDs, prices, endTimes, royalties, exchangeAsset, v.clock.Unix())
	if err != nil {
		return nil, err
	}
	for _, l := range listings {
		if err := v.store.PutListing(l); err != nil {
			return nil, err
		}
		if err := v.persistToken(l.TokenID); err != nil {
			return nil, err
		}
	}
	v.metrics.AddListed(len(listings))
	listedIDs := make([]uint64, len(listings))
	for i, l := range listings {
		listedIDs[i] = l.TokenID
	}
	v.publish(&Event{
		Type:     EventListed,
		TokenIDs: listedIDs,
		Accounts: []ids.ShortID{caller},
	})
	return listings, nil
}

// CancelFixedPriceOrders withdraws the caller's orders and returns the
// tokens from custody.
func (v *Vault) CancelFixedPriceOrders(caller ids.ShortID, orderIDs []ids.ID) error {
	cancelled, err := v.bridge.CancelFixedPriceOrders(caller, orderIDs)
	if err != nil {
		return err
	}
	cancelledIDs := make([]uint64, len(cancelled))
	for i, l := range cancelled {
		if err := v.store.DeleteListing(l.TokenID); err != nil {
			return err
		}
		if err := v.persistToken(l.TokenID); err != nil {
			return err
		}
		cancelledIDs[i] = l.TokenID
	}
	v.publish(&Event{
		Type:     EventListingCancelled,
		TokenIDs: cancelledIDs,
		Accounts: []ids.ShortID{caller},
	})
	return nil
}

// SettleSale executes a live order against a buyer.
func (v *Vault) SettleSale(buyer ids.ShortID, orderID ids.ID) (*bridge.Listing, error) {
	settled, err := v.bridge.SettleSale(buyer, orderID, v.clock.Unix())
	if err != nil {
		return nil, err
	}
	if err := v.store.DeleteListing(settled.TokenID); err != nil {
		return nil, err
	}
	if err := v.persistToken(settled.TokenID); err != nil {
		return nil, err
	}
	v.metrics.IncSalesSettled()
	v.publish(&Event{
		Type:     EventSaleSettled,
		TokenIDs: []uint64{settled.TokenID},
		Accounts: []ids.ShortID{buyer, settled.Seller},
		Amount:   settled.Price,
	})
	return settled, nil
}

/*
 ******************************************************************************
 **************************** Fractions and buyout ****************************
 ******************************************************************************
 */

// MintFractions locks verified tokens into the share pool and opens a
// buyout auction for each of them.
func (v *Vault) MintFractions(caller ids.ShortID, tokenID, count uint64, params *fractions.Params) (*fractions.MintResult, error) {
	result, err := v.pool.MintFractions(caller, tokenID, count, params)
	if err != nil {
		return nil, err
	}
	for _, id := range result.TokenIDs {
		v.auctions.Register(id)
		a, err := v.auctions.GetAuction(id)
		if err != nil {
			return nil, err
		}
		if err := v.store.PutAuction(a); err != nil {
			return nil, err
		}
		if err := v.persistToken(id); err != nil {
			return nil, err
		}
	}
	if err := v.store.PutPool(v.pool.Snapshot()); err != nil {
		return nil, err
	}
	v.metrics.AddFractionalised(len(result.TokenIDs))
	v.publish(&Event{
		Type:     EventFractionalised,
		TokenIDs: result.TokenIDs,
		Accounts: []ids.ShortID{caller},
	})
	return result, nil
}

// TransferShares moves liquid shares between holders.
func (v *Vault) TransferShares(from, to ids.ShortID, amount uint64) error {
	if err := v.pool.TransferShares(from, to, amount); err != nil {
		return err
	}
	return v.store.PutPool(v.pool.Snapshot())
}

// Bid places a buyout bid on a fractionalised token.
func (v *Vault) Bid(bidder ids.ShortID, tokenID uint64, price *big.Int, fractionsOffered uint64) (*auction.BidResult, error) {
	result, err := v.auctions.Bid(bidder, tokenID, price, fractionsOffered)
	if err != nil {
		return nil, err
	}
	if err := v.persistAuction(tokenID); err != nil {
		return nil, err
	}
	v.metrics.IncBids()
	if result.Refunded {
		v.metrics.IncBidRefunds()
	}
	if result.Started {
		v.metrics.IncAuctionsStarted()
	}
	for _, event := range bidEvents(tokenID, result) {
		v.publish(event)
	}
	return result, nil
}

// bidEvents builds the notifications for an accepted bid: the auction-start
// event when the bid moved the auction to Ongoing, then the bid event
// itself.
func bidEvents(tokenID uint64, result *auction.BidResult) []*Event {
	accounts := []ids.ShortID{result.Bidder}
	if result.Refunded {
		accounts = append(accounts, result.RefundedBidder)
	}
	events := make([]*Event, 0, 2)
	if result.Started {
		events = append(events, &Event{
			Type:     EventAuctionStarted,
			TokenIDs: []uint64{tokenID},
			Accounts: []ids.ShortID{result.Bidder},
			Amount:   result.Price,
		})
	}
	return append(events, &Event{
		Type:     EventBid,
		TokenIDs: []uint64{tokenID},
		Accounts: accounts,
		Amount:   result.Price,
	})
}

// Finalize resolves an expired buyout auction.
func (v *Vault) Finalize(tokenID uint64) (*auction.FinalizeResult, error) {
	result, err := v.auctions.Finalize(tokenID)
	if err != nil {
		return nil, err
	}
	if err := v.persistAuction(tokenID); err != nil {
		return nil, err
	}
	if err := v.persistToken(tokenID); err != nil {
		return nil, err
	}
	v.metrics.IncAuctionsFinalized()
	v.publish(&Event{
		Type:     EventAuctionFinalized,
		TokenIDs: []uint64{tokenID},
		Accounts: []ids.ShortID{result.Winner},
		Amount:   result.Paid,
	})
	return result, nil
}

// Claim redeems shares against a finalized buyout.
func (v *Vault) Claim(holder ids.ShortID, tokenID uint64, shares uint64) (*big.Int, error) {
	amount, err := v.auctions.Claim(holder, tokenID, shares)
	if err != nil {
		return nil, err
	}
	if err := v.persistAuction(tokenID); err != nil {
		return nil, err
	}
	v.metrics.IncClaims()
	v.publish(&Event{
		Type:     EventClaimed,
		TokenIDs: []uint64{tokenID},
		Accounts: []ids.ShortID{holder},
		Amount:   amount,
	})
	return amount, nil
}

// LapseBid releases an expired below-exit-price top bid.
func (v *Vault) LapseBid(tokenID uint64) error {
	a, err := v.auctions.GetAuction(tokenID)
	if err != nil {
		return err
	}
	bidder := a.MaxBidder
	if err := v.auctions.LapseBid(tokenID); err != nil {
		return err
	}
	if err := v.persistAuction(tokenID); err != nil {
		return err
	}
	v.metrics.IncBidRefunds()
	v.publish(&Event{
		Type:     EventBidLapsed,
		TokenIDs: []uint64{tokenID},
		Accounts: []ids.ShortID{bidder},
	})
	return nil
}

// BidWithVotes is reserved; it always fails.
func (v *Vault) BidWithVotes(bidder ids.ShortID, tokenID uint64, price *big.Int, votes uint64) (*auction.BidResult, error) {
	return v.auctions.BidWithVotes(bidder, tokenID, price, votes)
}

// UnlockLiquidSupply is reserved; it always fails.
func (v *Vault) UnlockLiquidSupply(tokenID uint64) error {
	return v.auctions.UnlockLiquidSupply(tokenID)
}

/*
 ******************************************************************************
 ********************************** Queries ***********************************
 ******************************************************************************
 */

func (v *Vault) GetToken(id uint64) (wrapper.Token, error) {
	return v.wrapper.GetToken(id)
}

func (v *Vault) GetListing(tokenID uint64) (bridge.Listing, error) {
	return v.bridge.GetListing(tokenID)
}

func (v *Vault) GetAuction(tokenID uint64) (auction.Auction, error) {
	return v.auctions.GetAuction(tokenID)
}

func (v *Vault) PoolSnapshot() fractions.Snapshot {
	return v.pool.Snapshot()
}

func (v *Vault) ShareBalance(holder ids.ShortID) uint64 {
	return v.pool.BalanceOf(holder)
}

/*
 ******************************************************************************
 ****************************** Handlers, health ******************************
 ******************************************************************************
 */

// CreateHandlers returns the HTTP handlers: the JSON-RPC service at the
// root and the event feed at /events.
func (v *Vault) CreateHandlers() (map[string]http.Handler, error) {
	codec := json.NewCodec()

	rpcServer := rpc.NewServer()
	rpcServer.RegisterCodec(codec, "application/json")
	rpcServer.RegisterCodec(codec, "application/json;charset=UTF-8")
	rpcServer.RegisterInterceptFunc(v.metrics.InterceptRequest)
	rpcServer.RegisterAfterFunc(v.metrics.AfterRequest)
	if err := rpcServer.RegisterService(api.NewService(v), "vault"); err != nil {
		return nil, err
	}

	return map[string]http.Handler{
		"":        rpcServer,
		"/events": v.pubsub,
	}, nil
}

// HealthCheck reports engine liveness and basic counters.
func (v *Vault) HealthCheck(context.Context) (interface{}, error) {
	return map[string]interface{}{
		"tokens":   v.wrapper.TokenCount(),
		"listings": v.bridge.ListingCount(),
		"auctions": v.auctions.AuctionCount(),
	}, nil
}

// Shutdown flushes and closes the store.
func (v *Vault) Shutdown() error {
	return v.store.Close()
}

func (v *Vault) persistToken(id uint64) error {
	t, err := v.wrapper.GetToken(id)
	if err != nil {
		return err
	}
	return v.store.PutToken(t)
}

func (v *Vault) persistAuction(tokenID uint64) error {
	a, err := v.auctions.GetAuction(tokenID)
	if err != nil {
		return err
	}
	if err := v.store.PutAuction(a); err != nil {
		return err
	}
	return v.store.PutPool(v.pool.Snapshot())
}

func (v *Vault) publish(event *Event) {
	v.pubsub.Publish(NewEventFilterer(event))
}
