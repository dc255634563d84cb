// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wrapper

// Role is the privilege level a caller holds over a token's state edges.
type Role uint8

const (
	RoleNone Role = iota
	RoleOwner
	RoleOperator
	RoleRegistry
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleOperator:
		return "operator"
	case RoleRegistry:
		return "registry"
	default:
		return "none"
	}
}

type edge struct {
	from TokenState
	to   TokenState
	role Role
}

// allowedTransitions is the complete transition table. Anything not in the
// table is rejected; there are no conditional role checks outside it.
var allowedTransitions = map[edge]struct{}{
	// An owner starts an unwrap of their own token; the operator starts it
	// on behalf of a completed marketplace sale.
	{Wrapped, Unwrapping, RoleOwner}:    {},
	{Wrapped, Unwrapping, RoleOperator}: {},

	// The registry confirms the physical release.
	{Unwrapping, Unverified, RoleRegistry}: {},
	{Unwrapping, Unverified, RoleOperator}: {},

	// Only the verification authority advances past Unverified.
	{Unverified, Verified, RoleOperator}: {},

	{Verified, CheckedIn, RoleOperator}: {},
	{Verified, CheckedIn, RoleRegistry}: {},

	// Checkout burns the token; only custody-side callers may do it.
	{CheckedIn, CheckedOut, RoleRegistry}: {},
	{CheckedIn, CheckedOut, RoleOperator}: {},
}

func transitionAllowed(from, to TokenState, role Role) bool {
	_, ok := allowedTransitions[edge{from: from, to: to, role: role}]
	return ok
}
