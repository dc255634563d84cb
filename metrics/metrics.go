// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"errors"

	"github.com/luxfi/metric"
)

var _ Metrics = (*metricsImpl)(nil)

type Metrics interface {
	metric.APIInterceptor

	AddWrapped(n int)
	IncStateTransitions()
	AddListed(n int)
	IncSalesSettled()
	AddFractionalised(n int)
	IncBids()
	IncBidRefunds()
	IncAuctionsStarted()
	IncAuctionsFinalized()
	IncClaims()
}

type metricsImpl struct {
	numWrapped, numStateTransitions metric.Counter
	numListed, numSalesSettled      metric.Counter
	numFractionalised               metric.Counter
	numBids, numBidRefunds          metric.Counter
	numAuctionsStarted              metric.Counter
	numAuctionsFinalized            metric.Counter
	numClaims                       metric.Counter

	metric.APIInterceptor
}

func (m *metricsImpl) AddWrapped(n int)        { m.numWrapped.Add(float64(n)) }
func (m *metricsImpl) IncStateTransitions()    { m.numStateTransitions.Inc() }
func (m *metricsImpl) AddListed(n int)         { m.numListed.Add(float64(n)) }
func (m *metricsImpl) IncSalesSettled()        { m.numSalesSettled.Inc() }
func (m *metricsImpl) AddFractionalised(n int) { m.numFractionalised.Add(float64(n)) }
func (m *metricsImpl) IncBids()                { m.numBids.Inc() }
func (m *metricsImpl) IncBidRefunds()          { m.numBidRefunds.Inc() }
func (m *metricsImpl) IncAuctionsStarted()     { m.numAuctionsStarted.Inc() }
func (m *metricsImpl) IncAuctionsFinalized()   { m.numAuctionsFinalized.Inc() }
func (m *metricsImpl) IncClaims()              { m.numClaims.Inc() }

func New(registerer metric.Registerer) (Metrics, error) {
	registry, ok := registerer.(metric.Registry)
	if !ok {
		return nil, errors.New("registerer must implement metric.Registry")
	}

	m := &metricsImpl{}

	m.numWrapped = metric.NewCounter(metric.CounterOpts{
		Name: "tokens_wrapped",
		Help: "Number of surrogate tokens minted",
	})
	m.numStateTransitions = metric.NewCounter(metric.CounterOpts{
		Name: "state_transitions",
		Help: "Number of accepted token state transitions",
	})
	m.numListed = metric.NewCounter(metric.CounterOpts{
		Name: "orders_listed",
		Help: "Number of fixed-price orders listed on the bridge",
	})
	m.numSalesSettled = metric.NewCounter(metric.CounterOpts{
		Name: "sales_settled",
		Help: "Number of fixed-price sales settled",
	})
	m.numFractionalised = metric.NewCounter(metric.CounterOpts{
		Name: "tokens_fractionalised",
		Help: "Number of tokens locked into the share pool",
	})
	m.numBids = metric.NewCounter(metric.CounterOpts{
		Name: "auction_bids",
		Help: "Number of accepted buyout bids",
	})
	m.numBidRefunds = metric.NewCounter(metric.CounterOpts{
		Name: "auction_bid_refunds",
		Help: "Number of outbid or lapsed bids refunded",
	})
	m.numAuctionsStarted = metric.NewCounter(metric.CounterOpts{
		Name: "auctions_started",
		Help: "Number of auctions moved to ongoing by an at-exit-price bid",
	})
	m.numAuctionsFinalized = metric.NewCounter(metric.CounterOpts{
		Name: "auctions_finalized",
		Help: "Number of buyouts finalized",
	})
	m.numClaims = metric.NewCounter(metric.CounterOpts{
		Name: "buyout_claims",
		Help: "Number of pro-rata buyout claims paid",
	})

	apiRequestMetric, err := metric.NewAPIInterceptor(registry)
	m.APIInterceptor = apiRequestMetric
	// Metrics are self-registering when created with NewCounter etc.
	return m, err
}
