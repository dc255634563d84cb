// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package settle

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
)

func TestTransfer(t *testing.T) {
	require := require.New(t)
	asset := NewSimpleAsset()
	from := ids.GenerateTestShortID()
	to := ids.GenerateTestShortID()

	asset.Mint(from, big.NewInt(100))

	require.ErrorIs(asset.Transfer(from, to, big.NewInt(101)), ErrInsufficientBalance)
	require.ErrorIs(asset.Transfer(from, to, big.NewInt(-1)), ErrInvalidAmount)

	require.NoError(asset.Transfer(from, to, big.NewInt(60)))
	require.Equal(big.NewInt(40), asset.BalanceOf(from))
	require.Equal(big.NewInt(60), asset.BalanceOf(to))
}

func TestTransferFromAllowance(t *testing.T) {
	require := require.New(t)
	asset := NewSimpleAsset()
	owner := ids.GenerateTestShortID()
	spender := ids.GenerateTestShortID()
	to := ids.GenerateTestShortID()

	asset.Mint(owner, big.NewInt(100))

	err := asset.TransferFrom(spender, owner, to, big.NewInt(50))
	require.ErrorIs(err, ErrInsufficientAllowance)

	asset.Approve(owner, spender, big.NewInt(50))
	require.NoError(asset.TransferFrom(spender, owner, to, big.NewInt(30)))
	require.Equal(big.NewInt(20), asset.Allowance(owner, spender))
	require.Equal(big.NewInt(30), asset.BalanceOf(to))

	err = asset.TransferFrom(spender, owner, to, big.NewInt(21))
	require.ErrorIs(err, ErrInsufficientAllowance)

	// An owner spends their own balance without an allowance.
	require.NoError(asset.TransferFrom(owner, owner, to, big.NewInt(70)))
	require.Zero(asset.BalanceOf(owner).Sign())
}

func TestTransferFromFailedDebitKeepsAllowance(t *testing.T) {
	require := require.New(t)
	asset := NewSimpleAsset()
	owner := ids.GenerateTestShortID()
	spender := ids.GenerateTestShortID()
	to := ids.GenerateTestShortID()

	asset.Mint(owner, big.NewInt(10))
	asset.Approve(owner, spender, big.NewInt(100))

	// The allowance covers the pull but the balance does not; the failed
	// pull must leave the allowance untouched.
	err := asset.TransferFrom(spender, owner, to, big.NewInt(50))
	require.ErrorIs(err, ErrInsufficientBalance)
	require.Equal(big.NewInt(100), asset.Allowance(owner, spender))
	require.Equal(big.NewInt(10), asset.BalanceOf(owner))
	require.Zero(asset.BalanceOf(to).Sign())

	require.NoError(asset.TransferFrom(spender, owner, to, big.NewInt(10)))
	require.Equal(big.NewInt(90), asset.Allowance(owner, spender))
}
