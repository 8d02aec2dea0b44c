package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"realmexchange/internal/config"
	"realmexchange/internal/domain"
	"realmexchange/internal/events"
	"realmexchange/internal/inventory"
	"realmexchange/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) marketplaceID() string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Marketplace.ID
}

// AccountRegisterOptions are parameters for registering a game account into
// the directory.
type AccountRegisterOptions struct {
	ID         string
	OwnerID    string
	Name       string
	Credential string
	Seasonal   bool
}

// RegisterAccount inserts an unverified directory row. Inventory stays empty
// until verification attaches the snapshot from the game service.
func (e Engine) RegisterAccount(ctx context.Context, opts AccountRegisterOptions) (domain.Account, error) {
	if e.Config == nil {
		return domain.Account{}, errors.New("config not loaded")
	}
	if opts.OwnerID == "" {
		return domain.Account{}, errors.New("owner is required")
	}
	if opts.Name == "" {
		return domain.Account{}, errors.New("account name is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	a := domain.Account{
		ID:         id,
		OwnerID:    opts.OwnerID,
		Name:       opts.Name,
		Seasonal:   opts.Seasonal,
		Credential: opts.Credential,
		CreatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUser(ctx, tx, opts.OwnerID, now); err != nil {
		return domain.Account{}, fmt.Errorf("ensure user: %w", err)
	}
	if err := e.Repo.InsertAccountTx(ctx, tx, a); err != nil {
		return domain.Account{}, fmt.Errorf("insert account: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "account.registered", e.marketplaceID(), "account", a.ID, opts.OwnerID, events.EventPayload{"name": a.Name}); err != nil {
		return domain.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

// VerifyAccount attaches the externally-loaded inventory snapshot and marks
// the account verified. Identity and item vocabulary are immutable afterwards.
func (e Engine) VerifyAccount(ctx context.Context, accountID string, items []string, seasonal bool, actorID string) (domain.Account, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, err
	}
	defer tx.Rollback()
	a, err := e.Repo.GetAccountTx(ctx, tx, accountID)
	if err != nil {
		return domain.Account{}, err
	}
	if a.OwnerID != actorID {
		return domain.Account{}, AccountsNotOwnedError{AccountIDs: []string{accountID}}
	}
	if a.Verified {
		return domain.Account{}, fmt.Errorf("account %s already verified", accountID)
	}
	if err := e.Repo.MarkAccountVerifiedTx(ctx, tx, accountID, items, seasonal); err != nil {
		return domain.Account{}, err
	}
	if err := e.Events.Append(ctx, tx, "account.verified", e.marketplaceID(), "account", accountID, actorID, events.EventPayload{"items": len(items)}); err != nil {
		return domain.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Account{}, err
	}
	a.Verified = true
	a.Items = items
	a.Seasonal = seasonal
	return a, nil
}

// AccountSession returns the play credential for an account, refusing while
// any active listing commits the account. Handing out the credential during
// a live listing would let the seller mutate inventory mid-trade.
func (e Engine) AccountSession(ctx context.Context, accountID, callerID string) (string, error) {
	a, err := e.Repo.GetAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	if a.OwnerID != callerID {
		return "", AccountsNotOwnedError{AccountIDs: []string{accountID}}
	}
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	blocking, err := e.conflictingListingTx(ctx, tx, []string{accountID})
	if err != nil {
		return "", err
	}
	if blocking != "" {
		return "", AccountListedError{AccountID: accountID, ListingID: blocking}
	}
	return a.Credential, nil
}

// HasConflict reports whether any of the given accounts is already committed
// to an active listing or to a pending offer on an active listing. Read-only
// advisory scan; the settlement transaction re-validates at commit time.
func (e Engine) HasConflict(ctx context.Context, accountIDs []string) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	blocking, err := e.conflictingListingTx(ctx, tx, accountIDs)
	if err != nil {
		return false, err
	}
	return blocking != "", nil
}

// conflictingListingTx returns the id of the first active listing (or the
// listing behind a pending offer) overlapping the queried set, or "".
func (e Engine) conflictingListingTx(ctx context.Context, tx *sql.Tx, accountIDs []string) (string, error) {
	queried := map[string]bool{}
	for _, id := range accountIDs {
		queried[id] = true
	}
	active, err := e.Repo.ActiveListingsTx(ctx, tx)
	if err != nil {
		return "", err
	}
	for _, l := range active {
		for _, id := range l.AccountIDs {
			if queried[id] {
				return l.ID, nil
			}
		}
	}
	pending, err := e.Repo.PendingOffersForActiveListingsTx(ctx, tx)
	if err != nil {
		return "", err
	}
	for _, o := range pending {
		for _, id := range o.AccountIDs {
			if queried[id] {
				return o.ListingID, nil
			}
		}
	}
	return "", nil
}

// ListingCreateOptions are parameters for creating a listing.
type ListingCreateOptions struct {
	ID         string
	SellerID   string
	AccountIDs []string
	Price      []domain.RequiredItem
}

func (e Engine) CreateListing(ctx context.Context, opts ListingCreateOptions) (domain.Listing, error) {
	if e.Config == nil {
		return domain.Listing{}, errors.New("config not loaded")
	}
	if opts.SellerID == "" {
		return domain.Listing{}, errors.New("seller is required")
	}
	accountIDs := dedupe(opts.AccountIDs)
	if len(accountIDs) == 0 {
		return domain.Listing{}, errors.New("at least one account is required")
	}
	if max := e.Config.Limits.MaxAccountsPerListing; max > 0 && len(accountIDs) > max {
		return domain.Listing{}, fmt.Errorf("listing exceeds %d accounts", max)
	}
	if err := inventory.ValidatePrice(opts.Price); err != nil {
		return domain.Listing{}, err
	}
	if max := e.Config.Limits.MaxPriceLines; max > 0 && len(opts.Price) > max {
		return domain.Listing{}, fmt.Errorf("price exceeds %d lines", max)
	}
	for _, line := range opts.Price {
		if !e.Config.KnownItem(line.Item) {
			return domain.Listing{}, fmt.Errorf("unknown item type %s", line.Item)
		}
	}

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	l := domain.Listing{
		ID:         id,
		SellerID:   opts.SellerID,
		AccountIDs: accountIDs,
		Price:      opts.Price,
		Status:     domain.ListingActive,
		CreatedAt:  now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Listing{}, err
	}
	defer tx.Rollback()

	var notOwned []string
	for _, accID := range accountIDs {
		a, err := e.Repo.GetAccountTx(ctx, tx, accID)
		if errors.Is(err, repo.ErrNotFound) {
			notOwned = append(notOwned, accID)
			continue
		}
		if err != nil {
			return domain.Listing{}, err
		}
		if a.OwnerID != opts.SellerID {
			notOwned = append(notOwned, accID)
			continue
		}
		if e.Config.Trading.RequireVerified && !a.Verified {
			return domain.Listing{}, fmt.Errorf("account %s is not verified", accID)
		}
		if a.Seasonal && !e.Config.Trading.AllowSeasonal {
			return domain.Listing{}, fmt.Errorf("seasonal account %s cannot be listed", accID)
		}
	}
	if len(notOwned) > 0 {
		return domain.Listing{}, AccountsNotOwnedError{AccountIDs: notOwned}
	}
	blocking, err := e.conflictingListingTx(ctx, tx, accountIDs)
	if err != nil {
		return domain.Listing{}, err
	}
	if blocking != "" {
		return domain.Listing{}, AccountListedError{AccountID: firstOverlap(accountIDs, blocking), ListingID: blocking}
	}
	if err := e.Repo.InsertListingTx(ctx, tx, l); err != nil {
		return domain.Listing{}, fmt.Errorf("insert listing: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "listing.created", e.marketplaceID(), "listing", l.ID, opts.SellerID, events.EventPayload{
		"accounts": len(accountIDs),
		"price":    opts.Price,
	}); err != nil {
		return domain.Listing{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Listing{}, err
	}
	return l, nil
}

// firstOverlap is only for error messages; the blocking listing id is what
// callers act on.
func firstOverlap(accountIDs []string, _ string) string {
	if len(accountIDs) > 0 {
		return accountIDs[0]
	}
	return ""
}

// CancelListing moves an active listing to cancelled. Seller-only; terminal
// statuses reject rather than no-op.
func (e Engine) CancelListing(ctx context.Context, listingID, callerID string) (domain.Listing, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Listing{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetListingTx(ctx, tx, listingID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Listing{}, ListingNotFoundError{ListingID: listingID}
	}
	if err != nil {
		return domain.Listing{}, err
	}
	if l.SellerID != callerID {
		// Same response as a missing listing so callers cannot probe
		// other sellers' listings.
		return domain.Listing{}, ListingNotFoundError{ListingID: listingID}
	}
	ok, err := e.Repo.CancelListingTx(ctx, tx, listingID)
	if err != nil {
		return domain.Listing{}, err
	}
	if !ok {
		return domain.Listing{}, ListingNotActiveError{ListingID: listingID, Status: l.Status}
	}
	if err := e.Events.Append(ctx, tx, "listing.cancelled", e.marketplaceID(), "listing", listingID, callerID, nil); err != nil {
		return domain.Listing{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Listing{}, err
	}
	l.Status = domain.ListingCancelled
	return l, nil
}

// MakeOffer persists a pending offer. No ownership moves here; only the
// settlement transaction transfers custody.
func (e Engine) MakeOffer(ctx context.Context, listingID, buyerID string, accountIDs []string) (domain.Offer, error) {
	accountIDs = dedupe(accountIDs)
	if len(accountIDs) == 0 {
		return domain.Offer{}, errors.New("at least one account is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Offer{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetListingTx(ctx, tx, listingID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Offer{}, ListingNotFoundError{ListingID: listingID}
	}
	if err != nil {
		return domain.Offer{}, err
	}
	if l.Status != domain.ListingActive {
		return domain.Offer{}, ListingNotActiveError{ListingID: listingID, Status: l.Status}
	}
	if l.SellerID == buyerID {
		return domain.Offer{}, OwnListingError{ListingID: listingID}
	}
	if notOwned := e.accountsNotOwnedTx(ctx, tx, accountIDs, buyerID); len(notOwned) > 0 {
		return domain.Offer{}, AccountsNotOwnedError{AccountIDs: notOwned}
	}
	blocking, err := e.conflictingListingTx(ctx, tx, accountIDs)
	if err != nil {
		return domain.Offer{}, err
	}
	if blocking != "" {
		return domain.Offer{}, AccountListedError{AccountID: accountIDs[0], ListingID: blocking}
	}

	now := e.now().UTC().Format(time.RFC3339)
	o := domain.Offer{
		ID:         uuid.New().String(),
		ListingID:  listingID,
		BuyerID:    buyerID,
		AccountIDs: accountIDs,
		Status:     domain.OfferPending,
		CreatedAt:  now,
	}
	if err := e.Repo.EnsureUser(ctx, tx, buyerID, now); err != nil {
		return domain.Offer{}, fmt.Errorf("ensure user: %w", err)
	}
	if err := e.Repo.InsertOfferTx(ctx, tx, o); err != nil {
		return domain.Offer{}, fmt.Errorf("insert offer: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "offer.created", e.marketplaceID(), "offer", o.ID, buyerID, events.EventPayload{
		"listing_id": listingID,
		"accounts":   len(accountIDs),
	}); err != nil {
		return domain.Offer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Offer{}, err
	}
	return o, nil
}

// RejectOffer terminally rejects a pending offer. Seller-only.
func (e Engine) RejectOffer(ctx context.Context, offerID, callerID string) (domain.Offer, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Offer{}, err
	}
	defer tx.Rollback()

	o, err := e.Repo.GetOfferTx(ctx, tx, offerID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Offer{}, OfferNotFoundError{OfferID: offerID}
	}
	if err != nil {
		return domain.Offer{}, err
	}
	l, err := e.Repo.GetListingTx(ctx, tx, o.ListingID)
	if err != nil {
		return domain.Offer{}, err
	}
	if l.SellerID != callerID {
		return domain.Offer{}, OfferNotFoundError{OfferID: offerID}
	}
	ok, err := e.Repo.SetOfferStatusTx(ctx, tx, offerID, domain.OfferRejected)
	if err != nil {
		return domain.Offer{}, err
	}
	if !ok {
		return domain.Offer{}, OfferNotPendingError{OfferID: offerID, Status: o.Status}
	}
	if err := e.Events.Append(ctx, tx, "offer.rejected", e.marketplaceID(), "offer", offerID, callerID, nil); err != nil {
		return domain.Offer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Offer{}, err
	}
	o.Status = domain.OfferRejected
	return o, nil
}

// SettlementResult is the success payload of a settlement.
type SettlementResult struct {
	Listing           domain.Listing
	BuyerID           string
	PaymentAccountIDs []string
}

// AcceptListing is the settlement entry point for a buyer. With explicit
// payment accounts it is the counter-offer path; without, the allocator
// selects payment from the caller's holdings. Preconditions run against the
// same transactional snapshot the commit uses.
func (e Engine) AcceptListing(ctx context.Context, listingID, callerID string, explicitPaymentAccounts []string) (SettlementResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SettlementResult{}, SettlementError{Err: err}
	}
	defer tx.Rollback()

	l, err := e.Repo.GetListingTx(ctx, tx, listingID)
	if errors.Is(err, repo.ErrNotFound) {
		return SettlementResult{}, ListingNotFoundError{ListingID: listingID}
	}
	if err != nil {
		return SettlementResult{}, SettlementError{Err: err}
	}
	if l.Status != domain.ListingActive {
		return SettlementResult{}, ListingNotActiveError{ListingID: listingID, Status: l.Status}
	}
	if l.SellerID == callerID {
		return SettlementResult{}, OwnListingError{ListingID: listingID}
	}

	var payment []string
	if explicitPaymentAccounts != nil {
		payment = dedupe(explicitPaymentAccounts)
		if notOwned := e.accountsNotOwnedTx(ctx, tx, payment, callerID); len(notOwned) > 0 {
			return SettlementResult{}, AccountsNotOwnedError{AccountIDs: notOwned}
		}
	} else {
		buyerAccounts, err := e.Repo.ListAccountsByOwnerTx(ctx, tx, callerID)
		if err != nil {
			return SettlementResult{}, SettlementError{Err: err}
		}
		// Aggregate sufficiency is checked independently of the greedy
		// walk so the shortfall message reflects true totals.
		if line, held, short := inventory.Shortfall(buyerAccounts, l.Price); short {
			return SettlementResult{}, InsufficientItemsError{Item: line.Item, Held: held, Required: line.Quantity}
		}
		selected, ok := inventory.Allocate(buyerAccounts, l.Price)
		if !ok {
			return SettlementResult{}, AllocationInfeasibleError{ListingID: listingID}
		}
		payment = selected
	}

	if err := e.settleTx(ctx, tx, l, callerID, payment); err != nil {
		return SettlementResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return SettlementResult{}, SettlementError{Err: err}
	}
	l.Status = domain.ListingCompleted
	return SettlementResult{Listing: l, BuyerID: callerID, PaymentAccountIDs: payment}, nil
}

// AcceptOffer settles a listing against a specific pending offer's account
// set. Either the seller or the offering buyer may trigger it; payment
// ownership is always validated against the offer's buyer.
func (e Engine) AcceptOffer(ctx context.Context, offerID, callerID string) (SettlementResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SettlementResult{}, SettlementError{Err: err}
	}
	defer tx.Rollback()

	o, err := e.Repo.GetOfferTx(ctx, tx, offerID)
	if errors.Is(err, repo.ErrNotFound) {
		return SettlementResult{}, OfferNotFoundError{OfferID: offerID}
	}
	if err != nil {
		return SettlementResult{}, SettlementError{Err: err}
	}
	if o.Status != domain.OfferPending {
		return SettlementResult{}, OfferNotPendingError{OfferID: offerID, Status: o.Status}
	}
	l, err := e.Repo.GetListingTx(ctx, tx, o.ListingID)
	if errors.Is(err, repo.ErrNotFound) {
		return SettlementResult{}, ListingNotFoundError{ListingID: o.ListingID}
	}
	if err != nil {
		return SettlementResult{}, SettlementError{Err: err}
	}
	if l.Status != domain.ListingActive {
		return SettlementResult{}, ListingNotActiveError{ListingID: l.ID, Status: l.Status}
	}
	if callerID != l.SellerID && callerID != o.BuyerID {
		return SettlementResult{}, OfferNotFoundError{OfferID: offerID}
	}
	if notOwned := e.accountsNotOwnedTx(ctx, tx, o.AccountIDs, o.BuyerID); len(notOwned) > 0 {
		return SettlementResult{}, AccountsNotOwnedError{AccountIDs: notOwned}
	}

	if err := e.settleTx(ctx, tx, l, o.BuyerID, o.AccountIDs); err != nil {
		return SettlementResult{}, err
	}
	ok, err := e.Repo.SetOfferStatusTx(ctx, tx, offerID, domain.OfferAccepted)
	if err != nil {
		return SettlementResult{}, SettlementError{Err: err}
	}
	if !ok {
		return SettlementResult{}, OfferNotPendingError{OfferID: offerID, Status: o.Status}
	}
	if err := e.Events.Append(ctx, tx, "offer.accepted", e.marketplaceID(), "offer", offerID, callerID, events.EventPayload{"listing_id": l.ID}); err != nil {
		return SettlementResult{}, SettlementError{Err: err}
	}
	if err := tx.Commit(); err != nil {
		return SettlementResult{}, SettlementError{Err: err}
	}
	l.Status = domain.ListingCompleted
	return SettlementResult{Listing: l, BuyerID: o.BuyerID, PaymentAccountIDs: o.AccountIDs}, nil
}

// settleTx performs the indivisible exchange: compare-and-set the listing to
// completed, move every listed account to the buyer, move every payment
// account to the seller. All inside the caller's transaction; any failure
// rolls the whole exchange back.
func (e Engine) settleTx(ctx context.Context, tx *sql.Tx, l domain.Listing, buyerID string, payment []string) error {
	if err := e.Repo.EnsureUser(ctx, tx, buyerID, e.now().UTC().Format(time.RFC3339)); err != nil {
		return SettlementError{Err: err}
	}
	ok, err := e.Repo.CompleteListingTx(ctx, tx, l.ID)
	if err != nil {
		return SettlementError{Err: err}
	}
	if !ok {
		return ListingNotActiveError{ListingID: l.ID}
	}
	for _, accID := range l.AccountIDs {
		if err := e.Repo.UpdateAccountOwnerTx(ctx, tx, accID, l.SellerID, buyerID); err != nil {
			return SettlementError{Err: fmt.Errorf("transfer %s to buyer: %w", accID, err)}
		}
	}
	for _, accID := range payment {
		if err := e.Repo.UpdateAccountOwnerTx(ctx, tx, accID, buyerID, l.SellerID); err != nil {
			return SettlementError{Err: fmt.Errorf("transfer %s to seller: %w", accID, err)}
		}
	}
	return e.appendSettled(ctx, tx, l, buyerID, payment)
}

func (e Engine) appendSettled(ctx context.Context, tx *sql.Tx, l domain.Listing, buyerID string, payment []string) error {
	err := e.Events.Append(ctx, tx, "trade.settled", e.marketplaceID(), "listing", l.ID, buyerID, events.EventPayload{
		"seller_id":        l.SellerID,
		"buyer_id":         buyerID,
		"sold_accounts":    l.AccountIDs,
		"payment_accounts": payment,
	})
	if err != nil {
		return SettlementError{Err: err}
	}
	return nil
}

// accountsNotOwnedTx returns the queried ids that are missing or not owned
// by ownerID, using the transaction's snapshot.
func (e Engine) accountsNotOwnedTx(ctx context.Context, tx *sql.Tx, accountIDs []string, ownerID string) []string {
	var notOwned []string
	for _, id := range accountIDs {
		a, err := e.Repo.GetAccountTx(ctx, tx, id)
		if err != nil || a.OwnerID != ownerID {
			notOwned = append(notOwned, id)
		}
	}
	return notOwned
}

// --- helpers ---

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

