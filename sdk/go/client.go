package realmexchangesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Realmexchange HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// PriceLine is one item requirement of a listing price.
type PriceLine struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

// Account represents the API account model (credential never included).
type Account struct {
	ID       string   `json:"id"`
	OwnerID  string   `json:"owner_id"`
	Name     string   `json:"name"`
	Items    []string `json:"items"`
	Seasonal bool     `json:"seasonal"`
	Verified bool     `json:"verified"`
}

// Listing represents the API listing model.
type Listing struct {
	ID         string      `json:"id"`
	SellerID   string      `json:"seller_id"`
	AccountIDs []string    `json:"account_ids"`
	Price      []PriceLine `json:"price"`
	Status     string      `json:"status"`
	CreatedAt  string      `json:"created_at"`
}

// Offer represents the API offer model.
type Offer struct {
	ID         string   `json:"id"`
	ListingID  string   `json:"listing_id"`
	BuyerID    string   `json:"buyer_id"`
	AccountIDs []string `json:"account_ids"`
	Status     string   `json:"status"`
	CreatedAt  string   `json:"created_at"`
}

// Settlement is the outcome of accepting a listing or an offer.
type Settlement struct {
	Listing           Listing  `json:"listing"`
	BuyerID           string   `json:"buyer_id"`
	PaymentAccountIDs []string `json:"payment_account_ids"`
}

// Event represents a log entry.
type Event struct {
	ID            int64          `json:"id"`
	TS            string         `json:"ts"`
	Type          string         `json:"type"`
	MarketplaceID string         `json:"marketplace_id"`
	EntityID      string         `json:"entity_id"`
	EntityKind    string         `json:"entity_kind"`
	ActorID       string         `json:"actor_id"`
	Payload       map[string]any `json:"payload"`
}

// Session carries a play credential.
type Session struct {
	AccountID  string `json:"account_id"`
	Credential string `json:"credential"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// RegisterAccount registers a game account owned by the caller.
func (c *Client) RegisterAccount(ctx context.Context, name, credential string, seasonal bool) (Account, error) {
	body := map[string]any{
		"name":       name,
		"credential": credential,
		"seasonal":   seasonal,
	}
	var resp Account
	err := c.do(ctx, http.MethodPost, "v0/accounts", body, &resp)
	return resp, err
}

// VerifyAccount freezes an account's inventory snapshot.
func (c *Client) VerifyAccount(ctx context.Context, accountID string, items []string, seasonal bool) (Account, error) {
	body := map[string]any{
		"items":    items,
		"seasonal": seasonal,
	}
	var resp Account
	endpoint := fmt.Sprintf("v0/accounts/%s/verify", url.PathEscape(accountID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ListAccounts returns the caller's accounts.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var resp []Account
	err := c.do(ctx, http.MethodGet, "v0/accounts", nil, &resp)
	return resp, err
}

// AccountSession fetches the play credential for an account not locked by a trade.
func (c *Client) AccountSession(ctx context.Context, accountID string) (Session, error) {
	var resp Session
	endpoint := fmt.Sprintf("v0/accounts/%s/session", url.PathEscape(accountID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CreateListing lists accounts for sale against an item price.
func (c *Client) CreateListing(ctx context.Context, accountIDs []string, price []PriceLine) (Listing, error) {
	body := map[string]any{
		"account_ids": accountIDs,
		"price":       price,
	}
	var resp Listing
	err := c.do(ctx, http.MethodPost, "v0/listings", body, &resp)
	return resp, err
}

// Listings returns listings filtered by status (empty means active).
func (c *Client) Listings(ctx context.Context, status string) ([]Listing, error) {
	endpoint := "v0/listings"
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []Listing
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetListing fetches a listing by id.
func (c *Client) GetListing(ctx context.Context, id string) (Listing, error) {
	var resp Listing
	endpoint := fmt.Sprintf("v0/listings/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CancelListing cancels the caller's listing.
func (c *Client) CancelListing(ctx context.Context, id string) (Listing, error) {
	var resp Listing
	endpoint := fmt.Sprintf("v0/listings/%s/cancel", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// AcceptListing settles a listing, letting the server pick payment accounts.
func (c *Client) AcceptListing(ctx context.Context, id string) (Settlement, error) {
	var resp Settlement
	endpoint := fmt.Sprintf("v0/listings/%s/accept", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// AcceptListingWith settles a listing paying with explicit accounts.
func (c *Client) AcceptListingWith(ctx context.Context, id string, paymentAccountIDs []string) (Settlement, error) {
	body := map[string]any{
		"payment_account_ids": paymentAccountIDs,
	}
	var resp Settlement
	endpoint := fmt.Sprintf("v0/listings/%s/accept", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// MakeOffer proposes payment accounts against a listing.
func (c *Client) MakeOffer(ctx context.Context, listingID string, accountIDs []string) (Offer, error) {
	body := map[string]any{
		"account_ids": accountIDs,
	}
	var resp Offer
	endpoint := fmt.Sprintf("v0/listings/%s/offers", url.PathEscape(listingID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ListOffers returns offers on a listing.
func (c *Client) ListOffers(ctx context.Context, listingID string) ([]Offer, error) {
	var resp []Offer
	endpoint := fmt.Sprintf("v0/listings/%s/offers", url.PathEscape(listingID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AcceptOffer settles the trade against an offer's payment accounts.
func (c *Client) AcceptOffer(ctx context.Context, offerID string) (Settlement, error) {
	var resp Settlement
	endpoint := fmt.Sprintf("v0/offers/%s/accept", url.PathEscape(offerID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RejectOffer rejects an offer.
func (c *Client) RejectOffer(ctx context.Context, offerID string) (Offer, error) {
	var resp Offer
	endpoint := fmt.Sprintf("v0/offers/%s/reject", url.PathEscape(offerID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
