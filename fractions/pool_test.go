// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fractions

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/vault/config"
	"github.com/luxfi/vault/custody"
	"github.com/luxfi/vault/utils/timer/mockable"
	"github.com/luxfi/vault/wrapper"
)

type testEnv struct {
	pool    *Pool
	wrapper *wrapper.Wrapper

	registryCaller ids.ShortID
	operator       ids.ShortID
	custodyAccount ids.ShortID
	holder         ids.ShortID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		registryCaller: ids.GenerateTestShortID(),
		operator:       ids.GenerateTestShortID(),
		custodyAccount: ids.GenerateTestShortID(),
		holder:         ids.GenerateTestShortID(),
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
	env.pool = New(cfg, log.NoLog{}, env.wrapper)

	// Mint a batch of verified tokens for the holder.
	registry.Approve(env.registryCaller, 1, 10)
	_, err := env.wrapper.Wrap(env.registryCaller, 1, 10, env.holder)
	require.NoError(t, err)
	for id := uint64(1); id <= 10; id++ {
		_, err := env.wrapper.PushToNextTokenState(env.holder, id, wrapper.Unwrapping)
		require.NoError(t, err)
		_, err = env.wrapper.PushToNextTokenState(env.registryCaller, id, wrapper.Unverified)
		require.NoError(t, err)
		_, err = env.wrapper.PushToNextTokenState(env.operator, id, wrapper.Verified)
		require.NoError(t, err)
	}
	return env
}

func testParams() *Params {
	return &Params{
		SharesPerToken: 1000,
		ExitPrice:      big.NewInt(1_000_000),
	}
}

func TestMintFractionsParamsBinding(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	// The first fractionalisation must carry parameters.
	_, err := env.pool.MintFractions(env.holder, 1, 1, nil)
	require.ErrorIs(err, ErrMissingFractionalisation)

	result, err := env.pool.MintFractions(env.holder, 1, 1, testParams())
	require.NoError(err)
	require.True(result.ParamsBound)
	require.True(env.pool.Initialized())

	// Later fractionalisations must not.
	_, err = env.pool.MintFractions(env.holder, 2, 1, testParams())
	require.ErrorIs(err, ErrInitialFractionalisationOnly)

	result, err = env.pool.MintFractions(env.holder, 2, 1, nil)
	require.NoError(err)
	require.False(result.ParamsBound)
	require.Equal(uint64(1000), result.Params.SharesPerToken)
}

func TestMintFractionsValidation(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	_, err := env.pool.MintFractions(env.holder, 1, 0, testParams())
	require.ErrorIs(err, ErrInvalidLength)

	params := testParams()
	params.SharesPerToken = 1
	_, err = env.pool.MintFractions(env.holder, 1, 1, params)
	require.ErrorIs(err, ErrInvalidFractionsAmount)

	params = testParams()
	params.SharesPerToken = 2_000_000
	_, err = env.pool.MintFractions(env.holder, 1, 1, params)
	require.ErrorIs(err, ErrInvalidFractionsAmount)

	params = testParams()
	params.ExitPrice = nil
	_, err = env.pool.MintFractions(env.holder, 1, 1, params)
	require.ErrorIs(err, ErrInvalidExitPrice)

	params = testParams()
	params.ExitPrice = big.NewInt(0)
	_, err = env.pool.MintFractions(env.holder, 1, 1, params)
	require.ErrorIs(err, ErrInvalidExitPrice)

	params = testParams()
	params.UnlockThresholdBps = 10_001
	_, err = env.pool.MintFractions(env.holder, 1, 1, params)
	require.ErrorIs(err, ErrInvalidPercentage)

	// Nothing was bound by the failed attempts.
	require.False(env.pool.Initialized())
}

func TestMintFractionsDefaults(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	cfg := config.DefaultConfig()

	result, err := env.pool.MintFractions(env.holder, 1, 1, testParams())
	require.NoError(err)
	require.Equal(cfg.DefaultAuctionDuration, result.Params.Duration)
	require.Equal(cfg.DefaultUnlockThresholdBps, result.Params.UnlockThresholdBps)
	require.Equal(cfg.DefaultTopBidLockTime, result.Params.TopBidLockTime)

	bound := env.pool.Params()
	require.Equal(result.Params, bound)
}

func TestMintFractionsExplicitParams(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	params := testParams()
	params.Duration = 48 * time.Hour
	params.UnlockThresholdBps = 7500
	params.TopBidLockTime = 6 * time.Hour

	result, err := env.pool.MintFractions(env.holder, 1, 1, params)
	require.NoError(err)
	require.Equal(48*time.Hour, result.Params.Duration)
	require.Equal(uint16(7500), result.Params.UnlockThresholdBps)
	require.Equal(6*time.Hour, result.Params.TopBidLockTime)
}

func TestMintFractionsSupply(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	result, err := env.pool.MintFractions(env.holder, 1, 3, testParams())
	require.NoError(err)
	require.Equal([]uint64{1, 2, 3}, result.TokenIDs)
	require.Equal(uint64(3000), result.SharesMinted)
	require.Equal(uint64(3000), env.pool.TotalSupply())
	require.Equal(uint64(3000), env.pool.LiquidSupply())
	require.Equal(uint64(3000), env.pool.BalanceOf(env.holder))
	require.Equal(3, env.pool.FractionalisedCount())

	// The tokens moved into wrapper custody.
	for id := uint64(1); id <= 3; id++ {
		require.True(env.pool.IsFractionalised(id))
		owner, err := env.wrapper.OwnerOf(id)
		require.NoError(err)
		require.Equal(env.custodyAccount, owner)
	}

	_, err = env.pool.MintFractions(env.holder, 3, 1, nil)
	require.ErrorIs(err, ErrAlreadyFractionalised)
}

func TestMintFractionsRequiresVerifiedOwnership(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	// Not the holder of the tokens.
	_, err := env.pool.MintFractions(ids.GenerateTestShortID(), 1, 1, testParams())
	require.ErrorIs(err, wrapper.ErrInvalidStateOrCaller)

	// Not a wrapped token at all.
	_, err = env.pool.MintFractions(env.holder, 100, 1, testParams())
	require.ErrorIs(err, wrapper.ErrTokenNotFound)
}

func TestShareLedger(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	other := ids.GenerateTestShortID()

	_, err := env.pool.MintFractions(env.holder, 1, 1, testParams())
	require.NoError(err)

	require.NoError(env.pool.TransferShares(env.holder, other, 400))
	require.Equal(uint64(600), env.pool.BalanceOf(env.holder))
	require.Equal(uint64(400), env.pool.BalanceOf(other))

	err = env.pool.TransferShares(other, env.holder, 401)
	require.ErrorIs(err, ErrInsufficientShares)

	// Locking removes shares from the liquid supply without burning.
	require.NoError(env.pool.LockShares(other, 400))
	require.Equal(uint64(600), env.pool.LiquidSupply())
	require.Equal(uint64(1000), env.pool.TotalSupply())
	require.Zero(env.pool.BalanceOf(other))

	env.pool.UnlockShares(other, 400)
	require.Equal(uint64(1000), env.pool.LiquidSupply())
	require.Equal(uint64(400), env.pool.BalanceOf(other))

	require.NoError(env.pool.BurnShares(other, 400))
	require.Equal(uint64(600), env.pool.TotalSupply())
	require.Equal(uint64(600), env.pool.LiquidSupply())
}

func TestSnapshotRoundTrip(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	_, err := env.pool.MintFractions(env.holder, 1, 2, testParams())
	require.NoError(err)

	snap := env.pool.Snapshot()
	restored := New(config.DefaultConfig(), log.NoLog{}, env.wrapper)
	restored.Restore(snap)

	require.True(restored.Initialized())
	require.Equal(env.pool.Params(), restored.Params())
	require.Equal(env.pool.TotalSupply(), restored.TotalSupply())
	require.Equal(env.pool.LiquidSupply(), restored.LiquidSupply())
	require.Equal(env.pool.BalanceOf(env.holder), restored.BalanceOf(env.holder))
	require.True(restored.IsFractionalised(1))
	require.True(restored.IsFractionalised(2))
	require.False(restored.IsFractionalised(3))
}
