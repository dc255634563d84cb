// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/vault/config"
	"github.com/luxfi/vault/custody"
	"github.com/luxfi/vault/settle"
	"github.com/luxfi/vault/utils/timer/mockable"
	"github.com/luxfi/vault/wrapper"
)

type testEnv struct {
	bridge   *Bridge
	wrapper  *wrapper.Wrapper
	protocol *SimpleOrderProtocol
	asset    *settle.SimpleAsset

	registryCaller ids.ShortID
	operator       ids.ShortID
	custodyAccount ids.ShortID
	seller         ids.ShortID
	exchangeAsset  ids.ID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		protocol:       NewSimpleOrderProtocol(),
		asset:          settle.NewSimpleAsset(),
		registryCaller: ids.GenerateTestShortID(),
		operator:       ids.GenerateTestShortID(),
		custodyAccount: ids.GenerateTestShortID(),
		seller:         ids.GenerateTestShortID(),
		exchangeAsset:  ids.GenerateTestID(),
	}
	registry := custody.NewSimpleRegistry(ids.GenerateTestShortID())
	cfg := config.DefaultConfig()
	env.wrapper = wrapper.New(
		cfg,
		log.NoLog{},
		&mockable.Clock{},
		registry,
		env.registryCaller,
		env.operator,
		env.custodyAccount,
	)
	env.bridge = New(cfg, log.NoLog{}, env.wrapper, env.protocol, env.asset)

	registry.Approve(env.registryCaller, 1, 5)
	_, err := env.wrapper.Wrap(env.registryCaller, 1, 5, env.seller)
	require.NoError(t, err)
	return env
}

func (env *testEnv) list(tokenIDs []uint64, prices []*big.Int) ([]Listing, error) {
	return env.bridge.ListFixedPriceOrders(env.seller, tokenIDs, prices, nil, nil, env.exchangeAsset, 0)
}

func (env *testEnv) newBuyer(amount int64) ids.ShortID {
	buyer := ids.GenerateTestShortID()
	env.asset.Mint(buyer, big.NewInt(amount))
	env.asset.Approve(buyer, env.custodyAccount, big.NewInt(1<<62))
	return buyer
}

func TestListValidation(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	_, err := env.list([]uint64{1, 2}, []*big.Int{big.NewInt(100)})
	require.ErrorIs(err, ErrLengthMismatch)

	_, err = env.bridge.ListFixedPriceOrders(
		env.seller,
		[]uint64{1},
		[]*big.Int{big.NewInt(100)},
		[]int64{100, 200},
		nil,
		env.exchangeAsset,
		0,
	)
	require.ErrorIs(err, ErrLengthMismatch)

	_, err = env.bridge.ListFixedPriceOrders(
		env.seller,
		[]uint64{1},
		[]*big.Int{big.NewInt(100)},
		nil,
		[][]RoyaltyShare{nil, nil},
		env.exchangeAsset,
		0,
	)
	require.ErrorIs(err, ErrLengthMismatch)

	_, err = env.list([]uint64{1}, []*big.Int{big.NewInt(0)})
	require.ErrorIs(err, ErrZeroPrice)

	_, err = env.list([]uint64{1}, []*big.Int{nil})
	require.ErrorIs(err, ErrZeroPrice)

	// The royalty cap applies to the schedule's sum.
	schedule := []RoyaltyShare{
		{Beneficiary: ids.GenerateTestShortID(), Bps: 600},
		{Beneficiary: ids.GenerateTestShortID(), Bps: 500},
	}
	_, err = env.bridge.ListFixedPriceOrders(
		env.seller,
		[]uint64{1},
		[]*big.Int{big.NewInt(100)},
		nil,
		[][]RoyaltyShare{schedule},
		env.exchangeAsset,
		0,
	)
	require.ErrorIs(err, ErrInvalidRoyalty)

	_, err = env.bridge.ListFixedPriceOrders(ids.GenerateTestShortID(), []uint64{1}, []*big.Int{big.NewInt(100)}, nil, nil, env.exchangeAsset, 0)
	require.ErrorIs(err, wrapper.ErrInvalidOwner)

	_, err = env.list([]uint64{99}, []*big.Int{big.NewInt(100)})
	require.ErrorIs(err, wrapper.ErrTokenNotFound)

	require.Zero(env.bridge.ListingCount())
}

func TestListRequiresWrappedState(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	// Move token 1 through verification; its provenance is settled but it
	// no longer qualifies for a fixed-price listing.
	_, err := env.wrapper.PushToNextTokenState(env.seller, 1, wrapper.Unwrapping)
	require.NoError(err)
	_, err = env.wrapper.PushToNextTokenState(env.registryCaller, 1, wrapper.Unverified)
	require.NoError(err)
	_, err = env.wrapper.PushToNextTokenState(env.operator, 1, wrapper.Verified)
	require.NoError(err)

	_, err = env.list([]uint64{1}, []*big.Int{big.NewInt(100)})
	require.ErrorIs(err, ErrNotWrapped)

	// A batch mixing wrapped and verified tokens is rejected whole.
	_, err = env.list([]uint64{2, 1}, []*big.Int{big.NewInt(100), big.NewInt(200)})
	require.ErrorIs(err, ErrNotWrapped)
	require.Zero(env.bridge.ListingCount())

	owner, err := env.wrapper.OwnerOf(2)
	require.NoError(err)
	require.Equal(env.seller, owner)
}

func TestListEscrowsTokens(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	listings, err := env.bridge.ListFixedPriceOrders(
		env.seller,
		[]uint64{1, 2},
		[]*big.Int{big.NewInt(100), big.NewInt(200)},
		[]int64{500, 0},
		nil,
		env.exchangeAsset,
		42,
	)
	require.NoError(err)
	require.Len(listings, 2)
	require.Equal(2, env.bridge.ListingCount())

	for _, l := range listings {
		require.Equal(env.seller, l.Seller)
		require.Equal(env.exchangeAsset, l.ExchangeAsset)
		require.Equal(int64(42), l.CreatedAt)
		owner, err := env.wrapper.OwnerOf(l.TokenID)
		require.NoError(err)
		require.Equal(env.custodyAccount, owner)
		status, err := env.protocol.OrderStatus(l.OrderID)
		require.NoError(err)
		require.Equal(OrderOpen, status)
	}
	require.Equal(int64(500), listings[0].EndTime)
	require.Zero(listings[1].EndTime)

	_, err = env.list([]uint64{2}, []*big.Int{big.NewInt(100)})
	require.ErrorIs(err, ErrAlreadyListed)
}

// flakyProtocol fails order creation after a set number of successes.
type flakyProtocol struct {
	*SimpleOrderProtocol
	remaining int
	created   []ids.ID
}

var errProtocolDown = errors.New("order protocol unavailable")

func (p *flakyProtocol) CreateOrder(seller ids.ShortID, tokenID uint64, price *big.Int) (ids.ID, error) {
	if p.remaining == 0 {
		return ids.ID{}, errProtocolDown
	}
	p.remaining--
	orderID, err := p.SimpleOrderProtocol.CreateOrder(seller, tokenID, price)
	if err == nil {
		p.created = append(p.created, orderID)
	}
	return orderID, err
}

func TestListBatchUnwindsOnFailure(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	protocol := &flakyProtocol{SimpleOrderProtocol: env.protocol, remaining: 1}
	b := New(config.DefaultConfig(), log.NoLog{}, env.wrapper, protocol, env.asset)

	listings, err := b.ListFixedPriceOrders(
		env.seller,
		[]uint64{1, 2},
		[]*big.Int{big.NewInt(100), big.NewInt(200)},
		nil,
		nil,
		env.exchangeAsset,
		0,
	)
	require.ErrorIs(err, errProtocolDown)
	require.Nil(listings)
	require.Zero(b.ListingCount())

	// Token 1 was escrowed and listed before the failure; the batch rolled
	// it all the way back.
	for id := uint64(1); id <= 2; id++ {
		owner, err := env.wrapper.OwnerOf(id)
		require.NoError(err)
		require.Equal(env.seller, owner)
	}
	require.Len(protocol.created, 1)
	status, err := protocol.OrderStatus(protocol.created[0])
	require.NoError(err)
	require.Equal(OrderCancelled, status)
}

func TestCancelRestoresSeller(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	listings, err := env.list([]uint64{1, 2}, []*big.Int{big.NewInt(100), big.NewInt(200)})
	require.NoError(err)

	_, err = env.bridge.CancelFixedPriceOrders(env.seller, []ids.ID{ids.GenerateTestID()})
	require.ErrorIs(err, ErrNotListed)
	_, err = env.bridge.CancelFixedPriceOrders(ids.GenerateTestShortID(), []ids.ID{listings[0].OrderID})
	require.ErrorIs(err, ErrNotSeller)

	// List then cancel nets out to the starting position.
	cancelled, err := env.bridge.CancelFixedPriceOrders(env.seller, []ids.ID{listings[0].OrderID, listings[1].OrderID})
	require.NoError(err)
	require.Len(cancelled, 2)
	require.Zero(env.bridge.ListingCount())
	for _, l := range listings {
		owner, err := env.wrapper.OwnerOf(l.TokenID)
		require.NoError(err)
		require.Equal(env.seller, owner)
		status, err := env.protocol.OrderStatus(l.OrderID)
		require.NoError(err)
		require.Equal(OrderCancelled, status)
	}
}

func TestSettleSale(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	buyer := env.newBuyer(1_000_000)
	first := ids.GenerateTestShortID()
	second := ids.GenerateTestShortID()

	price := big.NewInt(100_000)
	schedule := []RoyaltyShare{
		{Beneficiary: first, Bps: 500},  // 5%
		{Beneficiary: second, Bps: 250}, // 2.5%
	}
	listings, err := env.bridge.ListFixedPriceOrders(
		env.seller,
		[]uint64{1},
		[]*big.Int{price},
		nil,
		[][]RoyaltyShare{schedule},
		env.exchangeAsset,
		0,
	)
	require.NoError(err)

	settled, err := env.bridge.SettleSale(buyer, listings[0].OrderID, 0)
	require.NoError(err)
	require.Equal(uint64(1), settled.TokenID)
	require.Zero(env.bridge.ListingCount())

	// Buyer paid the full price; both royalty cuts went straight out.
	require.Equal(big.NewInt(900_000), env.asset.BalanceOf(buyer))
	require.Equal(big.NewInt(5_000), env.asset.BalanceOf(first))
	require.Equal(big.NewInt(2_500), env.asset.BalanceOf(second))
	require.Equal(big.NewInt(92_500), env.asset.BalanceOf(env.custodyAccount))

	// The token moved to the buyer with the net proceeds accrued.
	token, err := env.wrapper.GetToken(1)
	require.NoError(err)
	require.Equal(buyer, token.Owner)
	require.True(token.SoldFixedPrice)
	require.Equal(big.NewInt(92_500), token.SaleProceeds)

	status, err := env.protocol.OrderStatus(settled.OrderID)
	require.NoError(err)
	require.Equal(OrderFilled, status)

	_, err = env.bridge.SettleSale(buyer, settled.OrderID, 0)
	require.ErrorIs(err, ErrNotListed)
}

func TestSettleSaleExpired(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	buyer := env.newBuyer(1_000_000)

	listings, err := env.bridge.ListFixedPriceOrders(
		env.seller,
		[]uint64{1},
		[]*big.Int{big.NewInt(100_000)},
		[]int64{100},
		nil,
		env.exchangeAsset,
		0,
	)
	require.NoError(err)

	_, err = env.bridge.SettleSale(buyer, listings[0].OrderID, 101)
	require.ErrorIs(err, ErrListingExpired)
	require.Equal(1, env.bridge.ListingCount())

	// At the end time itself the listing still settles.
	_, err = env.bridge.SettleSale(buyer, listings[0].OrderID, 100)
	require.NoError(err)
}

func TestSettleSaleInsufficientFunds(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	buyer := env.newBuyer(10)

	listings, err := env.list([]uint64{1}, []*big.Int{big.NewInt(100_000)})
	require.NoError(err)

	_, err = env.bridge.SettleSale(buyer, listings[0].OrderID, 0)
	require.ErrorIs(err, settle.ErrInsufficientBalance)

	// The listing stays live.
	require.Equal(1, env.bridge.ListingCount())
	owner, err := env.wrapper.OwnerOf(1)
	require.NoError(err)
	require.Equal(env.custodyAccount, owner)
}
