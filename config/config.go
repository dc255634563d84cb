// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines configuration parameters for the custody vault.
package config

import "time"

// Config contains protocol parameters for the vault engines.
type Config struct {
	// MarketplaceFeeBps is the fee retained from fixed-price sale proceeds,
	// in basis points (100 = 1%).
	MarketplaceFeeBps uint16 `json:"marketplaceFeeBps"`
	// MaxRoyaltyBps caps the sum of a listing's royalty schedule.
	MaxRoyaltyBps uint16 `json:"maxRoyaltyBps"`

	// MinFractions and MaxFractions bound the shares minted per token at
	// fractionalisation.
	MinFractions uint64 `json:"minFractions"`
	MaxFractions uint64 `json:"maxFractions"`

	// DefaultAuctionDuration is substituted for a zero duration at the first
	// fractionalisation of a batch.
	DefaultAuctionDuration time.Duration `json:"defaultAuctionDuration"`
	// DefaultUnlockThresholdBps is substituted for a zero unlock threshold.
	DefaultUnlockThresholdBps uint16 `json:"defaultUnlockThresholdBps"`
	// DefaultTopBidLockTime is substituted for a zero top-bid lock time.
	DefaultTopBidLockTime time.Duration `json:"defaultTopBidLockTime"`

	// AuctionEndBuffer is the anti-sniping window: a qualifying bid landing
	// within this distance of the deadline pushes the deadline out to
	// now + AuctionEndBuffer.
	AuctionEndBuffer time.Duration `json:"auctionEndBuffer"`
}

// DefaultConfig returns the default vault configuration.
func DefaultConfig() Config {
	return Config{
		MarketplaceFeeBps: 250,  // 2.5%
		MaxRoyaltyBps:     1000, // 10%

		MinFractions: 100,
		MaxFractions: 1_000_000,

		DefaultAuctionDuration:    7 * 24 * time.Hour,
		DefaultUnlockThresholdBps: 5000, // 50%
		DefaultTopBidLockTime:     24 * time.Hour,

		AuctionEndBuffer: 15 * time.Minute,
	}
}
