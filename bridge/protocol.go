// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/ids"
)

var ErrOrderNotFound = errors.New("order not found")

// OrderStatus tracks an order on the external protocol.
type OrderStatus uint8

const (
	OrderOpen OrderStatus = iota
	OrderCancelled
	OrderFilled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderCancelled:
		return "cancelled"
	case OrderFilled:
		return "filled"
	default:
		return "unknown"
	}
}

// OrderProtocol is the external fixed-price order book the bridge posts
// sell orders to. Implementations own order id allocation.
type OrderProtocol interface {
	CreateOrder(seller ids.ShortID, tokenID uint64, price *big.Int) (ids.ID, error)
	CancelOrder(orderID ids.ID) error
	FillOrder(orderID ids.ID) error
	OrderStatus(orderID ids.ID) (OrderStatus, error)
}

type protocolOrder struct {
	seller  ids.ShortID
	tokenID uint64
	price   *big.Int
	status  OrderStatus
}

// SimpleOrderProtocol is an in-memory order book satisfying OrderProtocol.
type SimpleOrderProtocol struct {
	mu     sync.Mutex
	orders map[ids.ID]*protocolOrder
}

func NewSimpleOrderProtocol() *SimpleOrderProtocol {
	return &SimpleOrderProtocol{orders: make(map[ids.ID]*protocolOrder)}
}

func (p *SimpleOrderProtocol) CreateOrder(seller ids.ShortID, tokenID uint64, price *big.Int) (ids.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	orderID := ids.GenerateTestID()
	p.orders[orderID] = &protocolOrder{
		seller:  seller,
		tokenID: tokenID,
		price:   new(big.Int).Set(price),
		status:  OrderOpen,
	}
	return orderID, nil
}

func (p *SimpleOrderProtocol) CancelOrder(orderID ids.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok || o.status != OrderOpen {
		return ErrOrderNotFound
	}
	o.status = OrderCancelled
	return nil
}

func (p *SimpleOrderProtocol) FillOrder(orderID ids.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok || o.status != OrderOpen {
		return ErrOrderNotFound
	}
	o.status = OrderFilled
	return nil
}

func (p *SimpleOrderProtocol) OrderStatus(orderID ids.ID) (OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return 0, ErrOrderNotFound
	}
	return o.status, nil
}
