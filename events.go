// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"math/big"

	"github.com/luxfi/ids"
	"github.com/luxfi/pubsub"
)

// Event kinds published on the /events feed.
const (
	EventWrapped          = "wrapped"
	EventStateTransition  = "state_transition"
	EventListed           = "listed"
	EventListingCancelled = "listing_cancelled"
	EventSaleSettled      = "sale_settled"
	EventUnwrapped        = "unwrapped"
	EventFractionalised   = "fractionalised"
	EventAuctionStarted   = "auction_started"
	EventBid              = "bid"
	EventBidLapsed        = "bid_lapsed"
	EventAuctionFinalized = "auction_finalized"
	EventClaimed          = "claimed"
)

// Event is the payload delivered to /events subscribers.
type Event struct {
	Type     string        `json:"type"`
	TokenIDs []uint64      `json:"tokenIDs,omitempty"`
	Accounts []ids.ShortID `json:"accounts,omitempty"`
	Amount   *big.Int      `json:"amount,omitempty"`
	Detail   string        `json:"detail,omitempty"`
}

type eventFilterer struct {
	event *Event
}

// NewEventFilterer wraps an event for address-filtered publication.
func NewEventFilterer(event *Event) pubsub.Filterer {
	return &eventFilterer{event: event}
}

// Filter matches subscribers whose address filter covers any account
// involved in the event.
func (f *eventFilterer) Filter(filters []pubsub.Filter) ([]bool, interface{}) {
	resp := make([]bool, len(filters))
	for i, filter := range filters {
		for _, addr := range f.event.Accounts {
			if filter.Check(addr[:]) {
				resp[i] = true
				break
			}
		}
	}
	return resp, f.event
}
