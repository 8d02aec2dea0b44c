package engine

import (
	"fmt"
	"strings"
)

// ListingNotFoundError indicates the listing id does not exist.
type ListingNotFoundError struct {
	ListingID string
}

func (e ListingNotFoundError) Error() string {
	return fmt.Sprintf("listing %s not found", e.ListingID)
}

// ListingNotActiveError indicates the listing exists but already reached a
// terminal status. Re-settling or re-cancelling yields this, never a no-op
// success.
type ListingNotActiveError struct {
	ListingID string
	Status    string
}

func (e ListingNotActiveError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("listing %s is not active", e.ListingID)
	}
	return fmt.Sprintf("listing %s is not active (status %s)", e.ListingID, e.Status)
}

// OwnListingError indicates a seller acting as buyer on their own listing.
type OwnListingError struct {
	ListingID string
}

func (e OwnListingError) Error() string {
	return fmt.Sprintf("cannot accept or bid on your own listing %s", e.ListingID)
}

// AccountsNotOwnedError carries the offending account ids.
type AccountsNotOwnedError struct {
	AccountIDs []string
}

func (e AccountsNotOwnedError) Error() string {
	return fmt.Sprintf("accounts not owned by caller: %s", strings.Join(e.AccountIDs, ", "))
}

// InsufficientItemsError reports the first aggregate shortfall found, in
// price order.
type InsufficientItemsError struct {
	Item     string
	Held     int
	Required int
}

func (e InsufficientItemsError) Error() string {
	return fmt.Sprintf("insufficient %s: have %d, need %d", e.Item, e.Held, e.Required)
}

// AllocationInfeasibleError means the aggregate check passed but the greedy
// pass still could not cover the price. That combination signals an
// inventory inconsistency, not user error.
type AllocationInfeasibleError struct {
	ListingID string
}

func (e AllocationInfeasibleError) Error() string {
	return fmt.Sprintf("unable to cover payment for listing %s from available accounts", e.ListingID)
}

// OfferNotFoundError indicates the offer id does not exist.
type OfferNotFoundError struct {
	OfferID string
}

func (e OfferNotFoundError) Error() string {
	return fmt.Sprintf("offer %s not found", e.OfferID)
}

// OfferNotPendingError indicates the offer already reached a terminal status.
type OfferNotPendingError struct {
	OfferID string
	Status  string
}

func (e OfferNotPendingError) Error() string {
	return fmt.Sprintf("offer %s is not pending (status %s)", e.OfferID, e.Status)
}

// AccountListedError blocks account use while an active listing holds it.
type AccountListedError struct {
	AccountID string
	ListingID string
}

func (e AccountListedError) Error() string {
	return fmt.Sprintf("account %s is committed to active listing %s; cancel it first", e.AccountID, e.ListingID)
}

// SettlementError wraps a storage failure surfaced at the transaction
// boundary. The settlement had no partial effect.
type SettlementError struct {
	Err error
}

func (e SettlementError) Error() string {
	return fmt.Sprintf("settlement failed: %v", e.Err)
}

func (e SettlementError) Unwrap() error { return e.Err }
