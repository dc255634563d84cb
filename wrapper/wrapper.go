// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wrapper implements the surrogate-token state machine and its
// custody-transfer semantics.
package wrapper

import (
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/constants"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/vault/config"
	"github.com/luxfi/vault/custody"
	"github.com/luxfi/vault/settle"
	"github.com/luxfi/vault/utils/timer/mockable"
)

var (
	ErrUnauthorizedCaller    = errors.New("caller not authorized")
	ErrInvalidStateOrCaller  = errors.New("invalid token state or caller for transition")
	ErrTokenNotFound         = errors.New("token not found")
	ErrTokenExists           = errors.New("token already wrapped")
	ErrInvalidOwner          = errors.New("token not held by expected owner")
	ErrInvalidUnwrap         = errors.New("token already unwrapped to seller")
	ErrSameTransferValidator = errors.New("transfer validator unchanged")
	ErrProceedsTooLow        = errors.New("accrued proceeds below minimum")
	ErrMetadataTooLarge      = errors.New("metadata reference too large")
	ErrInvalidQuantity       = errors.New("invalid wrap quantity")
)

// MaxMetadataRefSize caps a revised metadata reference.
const MaxMetadataRefSize = constants.KiB

// TransferValidator is an optional hook consulted before any transfer that
// is not a mint, a burn, or a privileged custody-registry move. A non-nil
// error aborts the transfer.
type TransferValidator interface {
	ValidateTransfer(from, to ids.ShortID, tokenID uint64) error
}

// Wrapper owns every surrogate token's lifecycle. All mutations are
// serialized under a single lock; an operation either completes fully or
// leaves no local state change.
type Wrapper struct {
	mu    sync.RWMutex
	cfg   config.Config
	log   log.Logger
	clock *mockable.Clock

	registry custody.Registry

	// registryCaller is the custody registry's delegated caller, the only
	// account allowed to wrap.
	registryCaller ids.ShortID
	// operator is the marketplace/verification authority.
	operator ids.ShortID
	// custodyAccount holds escrowed tokens and accrued sale cash.
	custodyAccount ids.ShortID

	validator TransferValidator
	tokens    map[uint64]*Token
}

// New creates a wrapper bound to the given custody registry and privileged
// accounts.
func New(
	cfg config.Config,
	logger log.Logger,
	clock *mockable.Clock,
	registry custody.Registry,
	registryCaller ids.ShortID,
	operator ids.ShortID,
	custodyAccount ids.ShortID,
) *Wrapper {
	return &Wrapper{
		cfg:            cfg,
		log:            logger,
		clock:          clock,
		registry:       registry,
		registryCaller: registryCaller,
		operator:       operator,
		custodyAccount: custodyAccount,
		tokens:         make(map[uint64]*Token),
	}
}

// CustodyAccount returns the account holding escrowed tokens and proceeds.
func (w *Wrapper) CustodyAccount() ids.ShortID {
	return w.custodyAccount
}

// Wrap mints quantity surrogate tokens for the contiguous item range
// starting at startID, owned by recipient. Only the registry's delegated
// caller holding transfer approval over the range may wrap.
func (w *Wrapper) Wrap(caller ids.ShortID, startID uint64, quantity uint64, recipient ids.ShortID) ([]Token, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if quantity == 0 {
		return nil, ErrInvalidQuantity
	}
	if caller != w.registryCaller {
		return nil, ErrUnauthorizedCaller
	}
	if !w.registry.HasTransferApproval(caller, startID, quantity) {
		return nil, ErrUnauthorizedCaller
	}
	for i := uint64(0); i < quantity; i++ {
		if _, exists := w.tokens[startID+i]; exists {
			return nil, ErrTokenExists
		}
	}

	now := w.clock.Unix()
	minted := make([]Token, 0, quantity)
	for i := uint64(0); i < quantity; i++ {
		t := &Token{
			ID:           startID + i,
			Owner:        recipient,
			Depositor:    recipient,
			State:        Wrapped,
			SaleProceeds: new(big.Int),
			CreatedAt:    now,
		}
		w.tokens[t.ID] = t
		minted = append(minted, *t)
	}

	w.log.Info("wrapped tokens",
		"startID", startID,
		"quantity", quantity,
		"recipient", recipient,
	)
	return minted, nil
}

// GetToken returns a copy of the token.
func (w *Wrapper) GetToken(id uint64) (Token, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	t, ok := w.tokens[id]
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	return *t, nil
}

// OwnerOf returns the current owner of a token.
func (w *Wrapper) OwnerOf(id uint64) (ids.ShortID, error) {
	t, err := w.GetToken(id)
	return t.Owner, err
}

// StateOf returns the current lifecycle state of a token.
func (w *Wrapper) StateOf(id uint64) (TokenState, error) {
	t, err := w.GetToken(id)
	return t.State, err
}

// TokenCount returns the number of live surrogate tokens.
func (w *Wrapper) TokenCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.tokens)
}

func (w *Wrapper) roleOf(caller ids.ShortID, t *Token) Role {
	switch {
	case caller == w.registryCaller:
		return RoleRegistry
	case caller == w.operator:
		return RoleOperator
	case t != nil && caller == t.Owner:
		return RoleOwner
	default:
		return RoleNone
	}
}

// PushToNextTokenState advances a token exactly one state forward. The
// expected state must equal the token's successor and the caller must hold
// a role the transition table allows for that edge. Reaching CheckedOut
// burns the token.
func (w *Wrapper) PushToNextTokenState(caller ids.ShortID, id uint64, expected TokenState) (Token, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.tokens[id]
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	next, ok := t.State.Next()
	if !ok || expected != next {
		return Token{}, ErrInvalidStateOrCaller
	}
	role := w.roleOf(caller, t)
	if !transitionAllowed(t.State, next, role) {
		return Token{}, ErrInvalidStateOrCaller
	}

	t.State = next
	if next == CheckedOut {
		delete(w.tokens, id)
		w.log.Info("token checked out and burned", "tokenID", id)
	} else {
		w.log.Debug("token state advanced",
			"tokenID", id,
			"state", next,
			"role", role,
		)
	}
	return *t, nil
}

// Transfer moves a token between accounts. While a token is Wrapped or
// Unverified its provenance is not settled, so every transfer other than
// the sanctioned custody paths is rejected.
func (w *Wrapper) Transfer(caller ids.ShortID, id uint64, to ids.ShortID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.transferLocked(caller, id, to)
}

func (w *Wrapper) transferLocked(caller ids.ShortID, id uint64, to ids.ShortID) error {
	t, ok := w.tokens[id]
	if !ok {
		return ErrTokenNotFound
	}
	if caller != t.Owner && caller != w.registryCaller {
		return ErrInvalidStateOrCaller
	}
	if (t.State == Wrapped || t.State == Unverified) && caller != w.registryCaller {
		return ErrInvalidStateOrCaller
	}
	if w.validator != nil && caller != w.registryCaller {
		if err := w.validator.ValidateTransfer(t.Owner, to, id); err != nil {
			return err
		}
	}
	t.Owner = to
	return nil
}

// EscrowToCustody moves a token from its expected owner into the wrapper's
// custody account. This is a sanctioned internal path used by the
// fixed-price bridge and the share pool; the transfer guard does not apply.
func (w *Wrapper) EscrowToCustody(id uint64, expectedOwner ids.ShortID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.tokens[id]
	if !ok {
		return ErrTokenNotFound
	}
	if t.Owner != expectedOwner {
		return ErrInvalidOwner
	}
	t.Owner = w.custodyAccount
	return nil
}

// ReleaseFromCustody hands a custody-held token to the given recipient.
func (w *Wrapper) ReleaseFromCustody(id uint64, to ids.ShortID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.tokens[id]
	if !ok {
		return ErrTokenNotFound
	}
	if t.Owner != w.custodyAccount {
		return ErrInvalidOwner
	}
	t.Owner = to
	return nil
}

// CompleteSale records a settled fixed-price sale: the custody-held token
// moves to the buyer, the net proceeds accrue to the token, and the sale
// becomes irreversible.
func (w *Wrapper) CompleteSale(id uint64, buyer ids.ShortID, netProceeds *big.Int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.tokens[id]
	if !ok {
		return ErrTokenNotFound
	}
	if t.Owner != w.custodyAccount {
		return ErrInvalidOwner
	}
	t.Owner = buyer
	t.SoldFixedPrice = true
	t.SaleProceeds.Add(t.SaleProceeds, netProceeds)

	w.log.Info("fixed-price sale completed",
		"tokenID", id,
		"buyer", buyer,
		"proceeds", netProceeds,
	)
	return nil
}

// UnwrapToSelf returns custody of the underlying item to the token's
// original depositor. The token must be Wrapped; it passes through
// Unwrapping and lands in Unverified. Any proceeds accrued to the token are
// settled to the calling owner and must meet minProceeds.
func (w *Wrapper) UnwrapToSelf(caller ids.ShortID, id uint64, asset settle.Asset, minProceeds *big.Int) (Token, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.tokens[id]
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	if t.Owner != caller {
		return Token{}, ErrInvalidStateOrCaller
	}
	if t.State != Wrapped {
		return Token{}, ErrInvalidStateOrCaller
	}
	if minProceeds != nil && t.SaleProceeds.Cmp(minProceeds) < 0 {
		return Token{}, ErrProceedsTooLow
	}

	if err := w.registry.ReleaseItem(id, t.Depositor); err != nil {
		return Token{}, err
	}
	if t.SaleProceeds.Sign() > 0 {
		if err := asset.Transfer(w.custodyAccount, caller, t.SaleProceeds); err != nil {
			return Token{}, err
		}
		t.SaleProceeds = new(big.Int)
	}

	// The unwrap passes through Unwrapping within the same atomic step.
	t.State = Unwrapping
	t.State = Unverified
	t.Redeemed = true

	w.log.Info("token unwrapped to owner", "tokenID", id, "owner", caller)
	return *t, nil
}

// UnwrapFixedPriced settles a completed bridge sale: accrued proceeds minus
// the marketplace fee go to the custody registry's settlement account and
// the underlying item is released to the original depositor. Callable by
// the registry or the operator only.
func (w *Wrapper) UnwrapFixedPriced(caller ids.ShortID, id uint64, asset settle.Asset) (Token, *big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.tokens[id]
	if !ok {
		return Token{}, nil, ErrTokenNotFound
	}
	role := w.roleOf(caller, t)
	if role != RoleRegistry && role != RoleOperator {
		return Token{}, nil, ErrInvalidStateOrCaller
	}
	if t.Redeemed {
		return Token{}, nil, ErrInvalidUnwrap
	}
	if !t.SoldFixedPrice {
		return Token{}, nil, ErrInvalidOwner
	}
	if t.State != Wrapped {
		return Token{}, nil, ErrInvalidStateOrCaller
	}

	fee := new(big.Int).Mul(t.SaleProceeds, big.NewInt(int64(w.cfg.MarketplaceFeeBps)))
	fee.Div(fee, big.NewInt(10000))
	net := new(big.Int).Sub(t.SaleProceeds, fee)

	if err := w.registry.ReleaseItem(id, t.Depositor); err != nil {
		return Token{}, nil, err
	}
	if net.Sign() > 0 {
		if err := asset.Transfer(w.custodyAccount, w.registry.SettlementAccount(), net); err != nil {
			return Token{}, nil, err
		}
	}
	t.SaleProceeds = new(big.Int)

	// Same pass-through as UnwrapToSelf.
	t.State = Unwrapping
	t.State = Unverified
	t.Redeemed = true

	w.log.Info("fixed-priced token unwrapped",
		"tokenID", id,
		"netProceeds", net,
		"fee", fee,
	)
	return *t, net, nil
}

// SetTransferValidator replaces the transfer-validator hook. A nil
// validator disables the hook. Replacing the validator with the identical
// one fails.
func (w *Wrapper) SetTransferValidator(caller ids.ShortID, v TransferValidator) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if caller != w.operator {
		return ErrUnauthorizedCaller
	}
	if v == w.validator {
		return ErrSameTransferValidator
	}
	w.validator = v
	return nil
}

// SetRevisedMetadata sets or clears the metadata override for a token.
func (w *Wrapper) SetRevisedMetadata(caller ids.ShortID, id uint64, ref string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if caller != w.operator {
		return ErrUnauthorizedCaller
	}
	t, ok := w.tokens[id]
	if !ok {
		return ErrTokenNotFound
	}
	if len(ref) > MaxMetadataRefSize {
		return ErrMetadataTooLarge
	}
	t.RevisedMetadataRef = ref
	return nil
}

// RestoreToken reinstates a persisted token. Used by the store on startup.
func (w *Wrapper) RestoreToken(t Token) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cp := t
	if cp.SaleProceeds == nil {
		cp.SaleProceeds = new(big.Int)
	}
	w.tokens[cp.ID] = &cp
}
