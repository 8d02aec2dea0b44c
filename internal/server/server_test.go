package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"realmexchange/internal/config"
	"realmexchange/internal/db"
	"realmexchange/internal/engine"
	"realmexchange/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("realm-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if err := e.Repo.UpsertMarketplaceConfig(context.Background(), cfg.Marketplace.ID, cfg); err != nil {
		t.Fatalf("seed marketplace config: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:             "test-secret",
			AllowLegacyUserHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asUser(userID string) map[string]string {
	return map[string]string{"X-User-Id": userID}
}

func seedVerifiedAccount(t *testing.T, srv *testServer, owner, id string, items []string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/accounts", map[string]any{
		"id":         id,
		"name":       id,
		"credential": "secret-" + id,
	}, asUser(owner))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: %d %s", id, res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/accounts/"+id+"/verify", map[string]any{
		"items": items,
	}, asUser(owner))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify %s: %d %s", id, res.StatusCode, string(data))
	}
}

func TestTradeSettlesOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	seedVerifiedAccount(t, srv, "seller", "acc-x", nil)
	seedVerifiedAccount(t, srv, "buyer", "acc-y", []string{"Potion of Attack", "Potion of Attack", "Sword"})

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/listings", map[string]any{
		"account_ids": []string{"acc-x"},
		"price":       []map[string]any{{"item": "Potion of Attack", "quantity": 2}},
	}, asUser("seller"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create listing: %d %s", res.StatusCode, string(data))
	}
	var created ListingResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal listing: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/listings/"+created.ID+"/accept", map[string]any{}, asUser("buyer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", res.StatusCode, string(data))
	}
	var settled SettlementResponse
	if err := json.Unmarshal(data, &settled); err != nil {
		t.Fatalf("unmarshal settlement: %v", err)
	}
	if settled.Listing.Status != "completed" {
		t.Fatalf("status = %s", settled.Listing.Status)
	}
	if len(settled.PaymentAccountIDs) != 1 || settled.PaymentAccountIDs[0] != "acc-y" {
		t.Fatalf("payment = %v", settled.PaymentAccountIDs)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/accounts/acc-x", nil, asUser("buyer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get account: %d %s", res.StatusCode, string(data))
	}
	var acc AccountResponse
	_ = json.Unmarshal(data, &acc)
	if acc.OwnerID != "buyer" {
		t.Fatalf("acc-x owner = %s", acc.OwnerID)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	seedVerifiedAccount(t, srv, "seller", "acc-x", nil)
	seedVerifiedAccount(t, srv, "buyer", "acc-y", []string{"Gem"})

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/listings", map[string]any{
		"account_ids": []string{"acc-x"},
		"price":       []map[string]any{{"item": "Gem", "quantity": 3}},
	}, asUser("seller"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create listing: %d %s", res.StatusCode, string(data))
	}
	var created ListingResponse
	_ = json.Unmarshal(data, &created)

	// seller accepting own listing
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/listings/"+created.ID+"/accept", map[string]any{}, asUser("seller"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("own listing: %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "own_listing" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}

	// buyer short on items, shortfall carried in details
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/listings/"+created.ID+"/accept", map[string]any{}, asUser("buyer"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("insufficient: %d %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "insufficient_items" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
	if envelope.Error.Details["held"] != float64(1) || envelope.Error.Details["required"] != float64(3) {
		t.Fatalf("details = %v", envelope.Error.Details)
	}

	// unknown listing
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/listings/no-such/accept", map[string]any{}, asUser("buyer"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing listing: %d %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "listing_not_found" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
}

func TestOfferFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	seedVerifiedAccount(t, srv, "seller", "acc-x", nil)
	seedVerifiedAccount(t, srv, "buyer", "acc-y", []string{"Sword"})

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/listings", map[string]any{
		"account_ids": []string{"acc-x"},
		"price":       []map[string]any{{"item": "Gem", "quantity": 2}},
	}, asUser("seller"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create listing: %d %s", res.StatusCode, string(data))
	}
	var created ListingResponse
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/listings/"+created.ID+"/offers", map[string]any{
		"account_ids": []string{"acc-y"},
	}, asUser("buyer"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("make offer: %d %s", res.StatusCode, string(data))
	}
	var offer OfferResponse
	_ = json.Unmarshal(data, &offer)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/offers/"+offer.ID+"/accept", nil, asUser("seller"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept offer: %d %s", res.StatusCode, string(data))
	}
	var settled SettlementResponse
	_ = json.Unmarshal(data, &settled)
	if settled.BuyerID != "buyer" || settled.Listing.Status != "completed" {
		t.Fatalf("settlement = %+v", settled)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/listings", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}

	// health stays open
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}

	// dev login mints a working bearer token
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"user_id": "tester",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("token: %v %s", err, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.UserID != "tester" || who.Source != "jwt" {
		t.Fatalf("who = %+v", who)
	}
}

func TestSessionBlockedWhileListed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	seedVerifiedAccount(t, srv, "seller", "acc-x", nil)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/listings", map[string]any{
		"account_ids": []string{"acc-x"},
		"price":       []map[string]any{{"item": "Gem", "quantity": 1}},
	}, asUser("seller"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create listing: %d %s", res.StatusCode, string(data))
	}
	var created ListingResponse
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/accounts/acc-x/session", nil, asUser("seller"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("session while listed: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/listings/"+created.ID+"/cancel", nil, asUser("seller"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cancel: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/accounts/acc-x/session", nil, asUser("seller"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("session after cancel: %d %s", res.StatusCode, string(data))
	}
	var session SessionResponse
	_ = json.Unmarshal(data, &session)
	if session.Credential != "secret-acc-x" {
		t.Fatalf("credential = %q", session.Credential)
	}
}

func TestListingDetailExpandsAccounts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	seedVerifiedAccount(t, srv, "seller", "acc-x", []string{"Sword"})
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/listings", map[string]any{
		"account_ids": []string{"acc-x"},
		"price":       []map[string]any{{"item": "Gem", "quantity": 1}},
	}, asUser("seller"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create listing: %d %s", res.StatusCode, string(data))
	}
	var created ListingResponse
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/listings/"+created.ID, nil, asUser("buyer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get listing: %d %s", res.StatusCode, string(data))
	}
	var detail ListingDetailResponse
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if len(detail.Accounts) != 1 || detail.Accounts[0].ID != "acc-x" {
		t.Fatalf("accounts = %+v", detail.Accounts)
	}
	if len(detail.Accounts[0].Items) != 1 || !detail.Accounts[0].Locked {
		t.Fatalf("expanded account = %+v", detail.Accounts[0])
	}

	// The owner's account list carries the same lock state.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/accounts", nil, asUser("seller"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list accounts: %d %s", res.StatusCode, string(data))
	}
	var accounts []AccountResponse
	if err := json.Unmarshal(data, &accounts); err != nil {
		t.Fatalf("unmarshal accounts: %v", err)
	}
	if len(accounts) != 1 || !accounts[0].Locked {
		t.Fatalf("accounts = %+v", accounts)
	}
}

func TestAPIKeyDeleteScopedToOwner(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{
		"name": "ci",
	}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key: %d %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil || key.ID == "" {
		t.Fatalf("key: %v %s", err, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/api-keys/"+key.ID, nil, asUser("mallory"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-user delete: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/api-keys", nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list keys: %d %s", res.StatusCode, string(data))
	}
	var keys []APIKeyResponse
	_ = json.Unmarshal(data, &keys)
	if len(keys) != 1 {
		t.Fatalf("key gone after cross-user delete: %+v", keys)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/api-keys/"+key.ID, nil, asUser("alice"))
	if res.StatusCode >= http.StatusMultipleChoices {
		t.Fatalf("owner delete: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/api-keys", nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list keys: %d %s", res.StatusCode, string(data))
	}
	keys = nil
	_ = json.Unmarshal(data, &keys)
	if len(keys) != 0 {
		t.Fatalf("keys after owner delete: %+v", keys)
	}
}
