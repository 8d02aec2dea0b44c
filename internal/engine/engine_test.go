package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"realmexchange/internal/config"
	"realmexchange/internal/db"
	"realmexchange/internal/domain"
	"realmexchange/internal/engine"
	"realmexchange/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("realm-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.Repo.UpsertMarketplaceConfig(ctx, "realm-1", cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

// seedAccount registers and verifies an account with the given inventory.
func seedAccount(t *testing.T, env testEnv, id, owner string, items ...string) {
	t.Helper()
	_, err := env.Engine.RegisterAccount(env.Ctx, engine.AccountRegisterOptions{
		ID:         id,
		OwnerID:    owner,
		Name:       id,
		Credential: "secret-" + id,
	})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	if _, err := env.Engine.VerifyAccount(env.Ctx, id, items, false, owner); err != nil {
		t.Fatalf("verify %s: %v", id, err)
	}
}

func listing(t *testing.T, env testEnv, seller string, accountIDs []string, price []domain.RequiredItem) domain.Listing {
	t.Helper()
	l, err := env.Engine.CreateListing(env.Ctx, engine.ListingCreateOptions{
		SellerID:   seller,
		AccountIDs: accountIDs,
		Price:      price,
	})
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return l
}

func owner(t *testing.T, env testEnv, accountID string) string {
	t.Helper()
	a, err := env.Engine.Repo.GetAccount(env.Ctx, accountID)
	if err != nil {
		t.Fatalf("get account %s: %v", accountID, err)
	}
	return a.OwnerID
}

func TestSettlementSingleAccountPayment(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env, "acc-x", "seller")
	seedAccount(t, env, "acc-y", "buyer", "Potion of Attack", "Potion of Attack", "Sword")

	l := listing(t, env, "seller", []string{"acc-x"}, []domain.RequiredItem{{Item: "Potion of Attack", Quantity: 2}})

	res, err := env.Engine.AcceptListing(env.Ctx, l.ID, "buyer", nil)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Listing.Status != domain.ListingCompleted {
		t.Fatalf("listing status = %s", res.Listing.Status)
	}
	if len(res.PaymentAccountIDs) != 1 || res.PaymentAccountIDs[0] != "acc-y" {
		t.Fatalf("payment = %v", res.PaymentAccountIDs)
	}
	if got := owner(t, env, "acc-x"); got != "buyer" {
		t.Fatalf("acc-x owner = %s", got)
	}
	if got := owner(t, env, "acc-y"); got != "seller" {
		t.Fatalf("acc-y owner = %s", got)
	}
	stored, err := env.Engine.Repo.GetListing(env.Ctx, l.ID)
	if err != nil || stored.Status != domain.ListingCompleted {
		t.Fatalf("stored listing %s status %s err %v", l.ID, stored.Status, err)
	}
}

func TestSettlementInsufficientItems(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env, "acc-x", "seller")
	seedAccount(t, env, "acc-y", "buyer", "Potion of Attack")

	l := listing(t, env, "seller", []string{"acc-x"}, []domain.RequiredItem{{Item: "Potion of Attack", Quantity: 2}})

	_, err := env.Engine.AcceptListing(env.Ctx, l.ID, "buyer", nil)
	var insufficient engine.InsufficientItemsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientItemsError, got %v", err)
	}
	if insufficient.Item != "Potion of Attack" || insufficient.Held != 1 || insufficient.Required != 2 {
		t.Fatalf("shortfall = %+v", insufficient)
	}
	if got := owner(t, env, "acc-x"); got != "seller" {
		t.Fatalf("acc-x owner changed to %s", got)
	}
	stored, _ := env.Engine.Repo.GetListing(env.Ctx, l.ID)
	if stored.Status != domain.ListingActive {
		t.Fatalf("listing status changed to %s", stored.Status)
	}
}

func TestSettlementSpansPaymentAccounts(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env, "acc-x", "seller")
	seedAccount(t, env, "acc-y1", "buyer", "Potion of Attack")
	seedAccount(t, env, "acc-y2", "buyer", "Potion of Attack")

	l := listing(t, env, "seller", []string{"acc-x"}, []domain.RequiredItem{{Item: "Potion of Attack", Quantity: 2}})

	res, err := env.Engine.AcceptListing(env.Ctx, l.ID, "buyer", nil)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(res.PaymentAccountIDs) != 2 {
		t.Fatalf("payment = %v", res.PaymentAccountIDs)
	}
	for _, id := range []string{"acc-y1", "acc-y2"} {
		if got := owner(t, env, id); got != "seller" {
			t.Fatalf("%s owner = %s", id, got)
		}
	}
	if got := owner(t, env, "acc-x"); got != "buyer" {
		t.Fatalf("acc-x owner = %s", got)
	}
}

func TestConcurrentAcceptOneWins(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env, "acc-x", "seller")
	seedAccount(t, env, "acc-b1", "buyer1", "Gem")
	seedAccount(t, env, "acc-b2", "buyer2", "Gem")

	l := listing(t, env, "seller", []string{"acc-x"}, []domain.RequiredItem{{Item: "Gem", Quantity: 1}})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, buyer := range []string{"buyer1", "buyer2"} {
		wg.Add(1)
		go func(i int, buyer string) {
			defer wg.Done()
			_, errs[i] = env.Engine.AcceptListing(env.Ctx, l.ID, buyer, nil)
		}(i, buyer)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		var notActive engine.ListingNotActiveError
		switch {
		case err == nil:
			wins++
		case errors.As(err, &notActive):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("wins=%d losses=%d", wins, losses)
	}
	if got := owner(t, env, "acc-x"); got != "buyer1" && got != "buyer2" {
		t.Fatalf("acc-x owner = %s", got)
	}
	// The losing buyer's payment account never moved.
	winner := owner(t, env, "acc-x")
	for _, pair := range [][2]string{{"buyer1", "acc-b1"}, {"buyer2", "acc-b2"}} {
		want := pair[0]
		if pair[0] == winner {
			want = "seller"
		}
		if got := owner(t, env, pair[1]); got != want {
			t.Fatalf("%s owner = %s, want %s", pair[1], got, want)
		}
	}
}

func TestAcceptOwnListing(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env, "acc-x", "seller", "Gem")

	l := listing(t, env, "seller", []string{"acc-x"}, []domain.RequiredItem{{Item: "Gem", Quantity: 1}})

	_, err := env.Engine.AcceptListing(env.Ctx, l.ID, "seller", nil)
	var own engine.OwnListingError
	if !errors.As(err, &own) {
		t.Fatalf("expected OwnListingError, got %v", err)
	}
	stored, _ := env.Engine.Repo.GetListing(env.Ctx, l.ID)
	if stored.Status != domain.ListingActive {
		t.Fatalf("listing status = %s", stored.Status)
	}
}

func TestAcceptListingIdempotence(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env, "acc-x", "seller")
	seedAccount(t, env, "acc-y", "buyer", "Gem")

	l := listing(t, env, "seller", []string{"acc-x"}, []domain.RequiredItem{{Item: "Gem", Quantity: 1}})

	if _, err := env.Engine.AcceptListing(env.Ctx, l.ID, "buyer", nil); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	_, err := env.Engine.AcceptListing(env.Ctx, l.ID, "buyer", nil)
	var notActive engine.ListingNotActiveError
	if !errors.As(err, &notActive) {
		t.Fatalf("expected ListingNotActiveError, got %v", err)
	}
}

func TestAcceptMissingListing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.AcceptListing(env.Ctx, "no-such", "buyer", nil)
	var notFound engine.ListingNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ListingNotFoundError, got %v", err)
	}
}

func TestExplicitPaymentOwnershipChecked(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env, "acc-x", "seller")
	seedAccount(t, env, "acc-other", "someone-else", "Gem")

	l := listing(t, env, "seller", []string{"acc-x"}, []domain.RequiredItem{{Item: "Gem", Quantity: 1}})

	_, err := env.Engine.AcceptListing(env.Ctx, l.ID, "buyer", []string{"acc-other", "acc-missing"})
	var notOwned engine.AccountsNotOwnedError
	if !errors.As(err, &notOwned) {
		t.Fatalf("expected AccountsNotOwnedError, got %v", err)
	}
	if len(notOwned.AccountIDs) != 2 {
		t.Fatalf("offending ids = %v", notOwned.AccountIDs)
	}
}

// Explicit payment skips the adequacy check: the counter-offer path trades
// whatever set the buyer names, even below asking price, at the seller's
// discretion via AcceptOffer or the buyer's own direct accept.
func TestExplicitPaymentBypassesAllocator(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env, "acc-x", "seller")
	seedAccount(t, env, "acc-y", "buyer", "Sword")

	l := listing(t, env, "seller", []string{"acc-x"}, []domain.RequiredItem{{Item: "Gem", Quantity: 3}})

	res, err := env.Engine.AcceptListing(env.Ctx, l.ID, "buyer", []string{"acc-y"})
	if err != nil {
		t.Fatalf("accept with explicit payment: %v", err)
	}
	if got := owner(t, env, "acc-y"); got != "seller" {
		t.Fatalf("acc-y owner = %s", got)
	}
	if res.Listing.Status != domain.ListingCompleted {
		t.Fatalf("status = %s", res.Listing.Status)
	}
}

func TestActiveListingsStayDisjoint(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env, "acc-x", "seller")
	listing(t, env, "seller", []string{"acc-x"}, []domain.RequiredItem{{Item: "Gem", Quantity: 1}})

	_, err := env.Engine.CreateListing(env.Ctx, engine.ListingCreateOptions{
		SellerID:   "seller",
		AccountIDs: []string{"acc-x"},
		Price:      []domain.RequiredItem{{Item: "Sword", Quantity: 1}},
	})
	var listed engine.AccountListedError
	if !errors.As(err, &listed) {
		t.Fatalf("expected AccountListedError, got %v", err)
	}
}

func TestCancelListingLifecycle(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env, "acc-x", "seller")
	seedAccount(t, env, "acc-y", "buyer", "Gem")
	l := listing(t, env, "seller", []string{"acc-x"}, []domain.RequiredItem{{Item: "Gem", Quantity: 1}})

	// non-seller cannot cancel, and cannot tell the listing exists
	_, err := env.Engine.CancelListing(env.Ctx, l.ID, "buyer")
	var notFound engine.ListingNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ListingNotFoundError, got %v", err)
	}

	cancelled, err := env.Engine.CancelListing(env.Ctx, l.ID, "seller")
	if err != nil || cancelled.Status != domain.ListingCancelled {
		t.Fatalf("cancel: %v status %s", err, cancelled.Status)
	}

	// cancelled is terminal for both cancel and accept
	_, err = env.Engine.CancelListing(env.Ctx, l.ID, "seller")
	var notActive engine.ListingNotActiveError
	if !errors.As(err, &notActive) {
		t.Fatalf("expected ListingNotActiveError, got %v", err)
	}
	_, err = env.Engine.AcceptListing(env.Ctx, l.ID, "buyer", nil)
	if !errors.As(err, &notActive) {
		t.Fatalf("expected ListingNotActiveError, got %v", err)
	}

	// the account is free to list again
	if _, err := env.Engine.CreateListing(env.Ctx, engine.ListingCreateOptions{
		SellerID:   "seller",
		AccountIDs: []string{"acc-x"},
		Price:      []domain.RequiredItem{{Item: "Gem", Quantity: 1}},
	}); err != nil {
		t.Fatalf("relist after cancel: %v", err)
	}
}

func TestOfferLifecycle(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env, "acc-x", "seller")
	seedAccount(t, env, "acc-y", "buyer", "Sword")
	l := listing(t, env, "seller", []string{"acc-x"}, []domain.RequiredItem{{Item: "Gem", Quantity: 2}})

	o, err := env.Engine.MakeOffer(env.Ctx, l.ID, "buyer", []string{"acc-y"})
	if err != nil {
		t.Fatalf("make offer: %v", err)
	}
	if o.Status != domain.OfferPending {
		t.Fatalf("offer status = %s", o.Status)
	}

	// only the seller may reject
	_, err = env.Engine.RejectOffer(env.Ctx, o.ID, "buyer")
	var offerNotFound engine.OfferNotFoundError
	if !errors.As(err, &offerNotFound) {
		t.Fatalf("expected OfferNotFoundError, got %v", err)
	}
	rejected, err := env.Engine.RejectOffer(env.Ctx, o.ID, "seller")
	if err != nil || rejected.Status != domain.OfferRejected {
		t.Fatalf("reject: %v status %s", err, rejected.Status)
	}

	// rejected is terminal
	_, err = env.Engine.AcceptOffer(env.Ctx, o.ID, "seller")
	var notPending engine.OfferNotPendingError
	if !errors.As(err, &notPending) {
		t.Fatalf("expected OfferNotPendingError, got %v", err)
	}
}

func TestAcceptOfferSettles(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env, "acc-x", "seller")
	seedAccount(t, env, "acc-y", "buyer", "Sword")
	l := listing(t, env, "seller", []string{"acc-x"}, []domain.RequiredItem{{Item: "Gem", Quantity: 2}})

	o, err := env.Engine.MakeOffer(env.Ctx, l.ID, "buyer", []string{"acc-y"})
	if err != nil {
		t.Fatalf("make offer: %v", err)
	}
	res, err := env.Engine.AcceptOffer(env.Ctx, o.ID, "seller")
	if err != nil {
		t.Fatalf("accept offer: %v", err)
	}
	if res.BuyerID != "buyer" {
		t.Fatalf("buyer = %s", res.BuyerID)
	}
	if got := owner(t, env, "acc-x"); got != "buyer" {
		t.Fatalf("acc-x owner = %s", got)
	}
	if got := owner(t, env, "acc-y"); got != "seller" {
		t.Fatalf("acc-y owner = %s", got)
	}
	stored, _ := env.Engine.Repo.GetOffer(env.Ctx, o.ID)
	if stored.Status != domain.OfferAccepted {
		t.Fatalf("offer status = %s", stored.Status)
	}
	// settling the listing closes the door on further accepts
	_, err = env.Engine.AcceptListing(env.Ctx, l.ID, "buyer", nil)
	var notActive engine.ListingNotActiveError
	if !errors.As(err, &notActive) {
		t.Fatalf("expected ListingNotActiveError, got %v", err)
	}
}

func TestOfferedAccountBlocksSession(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env, "acc-x", "seller")
	seedAccount(t, env, "acc-y", "buyer", "Sword")
	l := listing(t, env, "seller", []string{"acc-x"}, []domain.RequiredItem{{Item: "Gem", Quantity: 1}})

	// listed account: no session for the seller
	_, err := env.Engine.AccountSession(env.Ctx, "acc-x", "seller")
	var listed engine.AccountListedError
	if !errors.As(err, &listed) {
		t.Fatalf("expected AccountListedError, got %v", err)
	}

	// unencumbered account hands out its credential
	cred, err := env.Engine.AccountSession(env.Ctx, "acc-y", "buyer")
	if err != nil || cred != "secret-acc-y" {
		t.Fatalf("session: %v cred %q", err, cred)
	}

	// a pending offer encumbers the payment account too
	if _, err := env.Engine.MakeOffer(env.Ctx, l.ID, "buyer", []string{"acc-y"}); err != nil {
		t.Fatalf("make offer: %v", err)
	}
	_, err = env.Engine.AccountSession(env.Ctx, "acc-y", "buyer")
	if !errors.As(err, &listed) {
		t.Fatalf("expected AccountListedError, got %v", err)
	}
}

func TestCreateListingValidation(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env, "acc-x", "seller")

	// unknown item type rejected against the catalog
	_, err := env.Engine.CreateListing(env.Ctx, engine.ListingCreateOptions{
		SellerID:   "seller",
		AccountIDs: []string{"acc-x"},
		Price:      []domain.RequiredItem{{Item: "Cursed Orb", Quantity: 1}},
	})
	if err == nil {
		t.Fatal("expected unknown item error")
	}

	// accounts the seller does not own
	_, err = env.Engine.CreateListing(env.Ctx, engine.ListingCreateOptions{
		SellerID:   "seller",
		AccountIDs: []string{"acc-x", "acc-ghost"},
		Price:      []domain.RequiredItem{{Item: "Gem", Quantity: 1}},
	})
	var notOwned engine.AccountsNotOwnedError
	if !errors.As(err, &notOwned) {
		t.Fatalf("expected AccountsNotOwnedError, got %v", err)
	}

	// unverified account refused while trading.require_verified is on
	if _, err := env.Engine.RegisterAccount(env.Ctx, engine.AccountRegisterOptions{
		ID: "acc-raw", OwnerID: "seller", Name: "acc-raw",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = env.Engine.CreateListing(env.Ctx, engine.ListingCreateOptions{
		SellerID:   "seller",
		AccountIDs: []string{"acc-raw"},
		Price:      []domain.RequiredItem{{Item: "Gem", Quantity: 1}},
	})
	if err == nil {
		t.Fatal("expected unverified account error")
	}

	// duplicate ids collapse to one
	l := listing(t, env, "seller", []string{"acc-x", "acc-x"}, []domain.RequiredItem{{Item: "Gem", Quantity: 1}})
	if len(l.AccountIDs) != 1 {
		t.Fatalf("account ids = %v", l.AccountIDs)
	}
}

// Zero-price listings settle with no payment accounts at all.
func TestFreeListingSettles(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env, "acc-x", "seller")

	l := listing(t, env, "seller", []string{"acc-x"}, nil)
	res, err := env.Engine.AcceptListing(env.Ctx, l.ID, "buyer", nil)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(res.PaymentAccountIDs) != 0 {
		t.Fatalf("payment = %v", res.PaymentAccountIDs)
	}
	if got := owner(t, env, "acc-x"); got != "buyer" {
		t.Fatalf("acc-x owner = %s", got)
	}
}

func TestSettlementEventRecorded(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env, "acc-x", "seller")
	seedAccount(t, env, "acc-y", "buyer", "Gem")
	l := listing(t, env, "seller", []string{"acc-x"}, []domain.RequiredItem{{Item: "Gem", Quantity: 1}})

	if _, err := env.Engine.AcceptListing(env.Ctx, l.ID, "buyer", nil); err != nil {
		t.Fatalf("accept: %v", err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "realm-1", "trade.settled", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 1 || evts[0].EntityID != l.ID {
		t.Fatalf("settled events = %+v", evts)
	}
}

func TestVerifyAccountCommitsWithEvent(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RegisterAccount(env.Ctx, engine.AccountRegisterOptions{
		ID:      "acc-v",
		OwnerID: "seller",
		Name:    "acc-v",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Non-owner cannot verify; the row and the event log stay untouched.
	_, err := env.Engine.VerifyAccount(env.Ctx, "acc-v", []string{"Gem"}, false, "stranger")
	var notOwned engine.AccountsNotOwnedError
	if !errors.As(err, &notOwned) {
		t.Fatalf("expected AccountsNotOwnedError, got %v", err)
	}
	a, err := env.Engine.Repo.GetAccount(env.Ctx, "acc-v")
	if err != nil || a.Verified {
		t.Fatalf("account after rejected verify: %+v, %v", a, err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "realm-1", "account.verified", "", "")
	if err != nil || len(evts) != 0 {
		t.Fatalf("events after rejected verify = %+v, %v", evts, err)
	}

	if _, err := env.Engine.VerifyAccount(env.Ctx, "acc-v", []string{"Gem"}, false, "seller"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	a, err = env.Engine.Repo.GetAccount(env.Ctx, "acc-v")
	if err != nil || !a.Verified || len(a.Items) != 1 {
		t.Fatalf("account after verify: %+v, %v", a, err)
	}
	evts, err = env.Engine.Repo.LatestEvents(env.Ctx, 10, "realm-1", "account.verified", "account", "acc-v")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("verified events = %+v", evts)
	}

	// Verification is one-shot.
	if _, err := env.Engine.VerifyAccount(env.Ctx, "acc-v", []string{"Sword"}, false, "seller"); err == nil {
		t.Fatal("re-verify succeeded")
	}
}

func TestHasConflict(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env, "acc-x", "seller")
	seedAccount(t, env, "acc-y", "buyer", "Gem")
	seedAccount(t, env, "acc-z", "seller")

	l := listing(t, env, "seller", []string{"acc-x"}, []domain.RequiredItem{{Item: "Gem", Quantity: 1}})
	if _, err := env.Engine.MakeOffer(env.Ctx, l.ID, "buyer", []string{"acc-y"}); err != nil {
		t.Fatalf("offer: %v", err)
	}

	for id, want := range map[string]bool{
		"acc-x": true,  // listed
		"acc-y": true,  // committed to a pending offer
		"acc-z": false, // idle
	} {
		got, err := env.Engine.HasConflict(env.Ctx, []string{id})
		if err != nil {
			t.Fatalf("conflict %s: %v", id, err)
		}
		if got != want {
			t.Fatalf("conflict(%s) = %v, want %v", id, got, want)
		}
	}

	if _, err := env.Engine.CancelListing(env.Ctx, l.ID, "seller"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, err := env.Engine.HasConflict(env.Ctx, []string{"acc-x", "acc-y"})
	if err != nil {
		t.Fatalf("conflict after cancel: %v", err)
	}
	if got {
		t.Fatal("cancelled listing still reported as conflict")
	}
}
