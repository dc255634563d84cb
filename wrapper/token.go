// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wrapper

import (
	"math/big"

	"github.com/luxfi/ids"
)

// TokenState is the lifecycle state of a surrogate token. States advance in
// declaration order and never move backwards.
type TokenState uint8

const (
	Wrapped TokenState = iota
	Unwrapping
	Unverified
	Verified
	CheckedIn
	CheckedOut
)

func (s TokenState) String() string {
	switch s {
	case Wrapped:
		return "wrapped"
	case Unwrapping:
		return "unwrapping"
	case Unverified:
		return "unverified"
	case Verified:
		return "verified"
	case CheckedIn:
		return "checked_in"
	case CheckedOut:
		return "checked_out"
	default:
		return "unknown"
	}
}

// Next returns the successor state, or false if the state is terminal.
func (s TokenState) Next() (TokenState, bool) {
	if s >= CheckedOut {
		return s, false
	}
	return s + 1, true
}

// Token is a surrogate token minted against a custody-registry item. The
// token id equals the underlying item id.
type Token struct {
	ID    uint64      `json:"id"`
	Owner ids.ShortID `json:"owner"`
	// Depositor receives the underlying item back when the token unwraps,
	// regardless of who owns the token by then.
	Depositor ids.ShortID `json:"depositor"`
	State     TokenState  `json:"state"`

	// RevisedMetadataRef optionally overrides the registry's metadata
	// reference for this token.
	RevisedMetadataRef string `json:"revisedMetadataRef,omitempty"`

	// SaleProceeds is cash accrued to this token by a fixed-price sale,
	// held by the wrapper until an unwrap settles it.
	SaleProceeds *big.Int `json:"saleProceeds"`

	// SoldFixedPrice is set once a bridge sale completes. Irreversible.
	SoldFixedPrice bool `json:"soldFixedPrice"`
	// Redeemed is set once the underlying item left custody through
	// UnwrapToSelf.
	Redeemed bool `json:"redeemed"`

	CreatedAt int64 `json:"createdAt"`
}
