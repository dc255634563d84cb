// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api provides the JSON-RPC handlers for the vault.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/luxfi/ids"

	"github.com/luxfi/vault/auction"
	"github.com/luxfi/vault/bridge"
	"github.com/luxfi/vault/fractions"
	"github.com/luxfi/vault/utils/json"
	"github.com/luxfi/vault/wrapper"
)

var ErrInvalidRequest = errors.New("invalid request")

// Vault is the engine surface the RPC service exposes.
type Vault interface {
	GetToken(id uint64) (wrapper.Token, error)
	GetListing(tokenID uint64) (bridge.Listing, error)
	GetAuction(tokenID uint64) (auction.Auction, error)
	PoolSnapshot() fractions.Snapshot
	ShareBalance(holder ids.ShortID) uint64
	Finalize(tokenID uint64) (*auction.FinalizeResult, error)
	LapseBid(tokenID uint64) error
}

// Service provides the RPC API for the vault.
type Service struct {
	vault Vault
}

// NewService creates a new API service.
func NewService(v Vault) *Service {
	return &Service{vault: v}
}

// PingReply is the reply for the Ping API.
type PingReply struct {
	Success bool `json:"success"`
}

// Ping returns a simple health check response.
func (s *Service) Ping(_ *http.Request, _ *struct{}, reply *PingReply) error {
	reply.Success = true
	return nil
}

// GetTokenArgs is the argument for the GetToken API.
type GetTokenArgs struct {
	TokenID json.Uint64 `json:"tokenID"`
}

// GetTokenReply is the reply for the GetToken API.
type GetTokenReply struct {
	Token wrapper.Token `json:"token"`
}

// GetToken returns a surrogate token record.
func (s *Service) GetToken(_ *http.Request, args *GetTokenArgs, reply *GetTokenReply) error {
	t, err := s.vault.GetToken(uint64(args.TokenID))
	if err != nil {
		return err
	}
	reply.Token = t
	return nil
}

// GetListingArgs is the argument for the GetListing API.
type GetListingArgs struct {
	TokenID json.Uint64 `json:"tokenID"`
}

// GetListingReply is the reply for the GetListing API.
type GetListingReply struct {
	Listing bridge.Listing `json:"listing"`
}

// GetListing returns the live fixed-price listing for a token.
func (s *Service) GetListing(_ *http.Request, args *GetListingArgs, reply *GetListingReply) error {
	l, err := s.vault.GetListing(uint64(args.TokenID))
	if err != nil {
		return err
	}
	reply.Listing = l
	return nil
}

// GetAuctionArgs is the argument for the GetAuction API.
type GetAuctionArgs struct {
	TokenID json.Uint64 `json:"tokenID"`
}

// GetAuctionReply is the reply for the GetAuction API.
type GetAuctionReply struct {
	Auction auction.Auction `json:"auction"`
}

// GetAuction returns the buyout auction record for a token.
func (s *Service) GetAuction(_ *http.Request, args *GetAuctionArgs, reply *GetAuctionReply) error {
	a, err := s.vault.GetAuction(uint64(args.TokenID))
	if err != nil {
		return err
	}
	reply.Auction = a
	return nil
}

// GetPoolReply is the reply for the GetPool API.
type GetPoolReply struct {
	Pool fractions.Snapshot `json:"pool"`
}

// GetPool returns the share pool ledger.
func (s *Service) GetPool(_ *http.Request, _ *struct{}, reply *GetPoolReply) error {
	reply.Pool = s.vault.PoolSnapshot()
	return nil
}

// GetShareBalanceArgs is the argument for the GetShareBalance API.
type GetShareBalanceArgs struct {
	Holder string `json:"holder"`
}

// GetShareBalanceReply is the reply for the GetShareBalance API.
type GetShareBalanceReply struct {
	Balance json.Uint64 `json:"balance"`
}

// GetShareBalance returns a holder's liquid share balance.
func (s *Service) GetShareBalance(_ *http.Request, args *GetShareBalanceArgs, reply *GetShareBalanceReply) error {
	holder, err := ids.ShortFromString(args.Holder)
	if err != nil {
		return fmt.Errorf("%w: holder: %s", ErrInvalidRequest, err)
	}
	reply.Balance = json.Uint64(s.vault.ShareBalance(holder))
	return nil
}

// FinalizeAuctionArgs is the argument for the FinalizeAuction API.
type FinalizeAuctionArgs struct {
	TokenID json.Uint64 `json:"tokenID"`
}

// FinalizeAuctionReply is the reply for the FinalizeAuction API.
type FinalizeAuctionReply struct {
	Winner          ids.ShortID `json:"winner"`
	Paid            string      `json:"paid"`
	ClaimableShares json.Uint64 `json:"claimableShares"`
}

// FinalizeAuction resolves an expired buyout auction. Finalization is
// permissionless.
func (s *Service) FinalizeAuction(_ *http.Request, args *FinalizeAuctionArgs, reply *FinalizeAuctionReply) error {
	result, err := s.vault.Finalize(uint64(args.TokenID))
	if err != nil {
		return err
	}
	reply.Winner = result.Winner
	reply.Paid = result.Paid.String()
	reply.ClaimableShares = json.Uint64(result.ClaimableShares)
	return nil
}

// LapseBidArgs is the argument for the LapseBid API.
type LapseBidArgs struct {
	TokenID json.Uint64 `json:"tokenID"`
}

// LapseBidReply is the reply for the LapseBid API.
type LapseBidReply struct {
	Success bool `json:"success"`
}

// LapseBid releases an expired below-exit-price top bid. Lapsing is
// permissionless.
func (s *Service) LapseBid(_ *http.Request, args *LapseBidArgs, reply *LapseBidReply) error {
	if err := s.vault.LapseBid(uint64(args.TokenID)); err != nil {
		return err
	}
	reply.Success = true
	return nil
}
