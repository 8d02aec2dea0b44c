package server

import (
	"encoding/json"

	"realmexchange/internal/config"
	"realmexchange/internal/domain"
	"realmexchange/internal/engine"
)

// Request payloads

type RegisterAccountRequest struct {
	ID         *string `json:"id,omitempty"`
	Name       string  `json:"name"`
	Credential *string `json:"credential,omitempty"`
	Seasonal   bool    `json:"seasonal,omitempty"`
}

type VerifyAccountRequest struct {
	Items    []string `json:"items"`
	Seasonal bool     `json:"seasonal,omitempty"`
}

type CreateListingRequest struct {
	ID         *string               `json:"id,omitempty"`
	AccountIDs []string              `json:"account_ids"`
	Price      []domain.RequiredItem `json:"price,omitempty"`
}

type AcceptListingRequest struct {
	PaymentAccountIDs []string `json:"payment_account_ids,omitempty"`
}

type MakeOfferRequest struct {
	AccountIDs []string `json:"account_ids"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Response payloads

type AccountResponse struct {
	ID        string   `json:"id"`
	OwnerID   string   `json:"owner_id"`
	Name      string   `json:"name"`
	Items     []string `json:"items"`
	Seasonal  bool     `json:"seasonal"`
	Verified  bool     `json:"verified"`
	Locked    bool     `json:"locked" doc:"Committed to an active listing or a pending offer on one."`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type SessionResponse struct {
	AccountID  string `json:"account_id"`
	Credential string `json:"credential"`
}

type ListingResponse struct {
	ID         string                `json:"id"`
	SellerID   string                `json:"seller_id"`
	AccountIDs []string              `json:"account_ids"`
	Price      []domain.RequiredItem `json:"price"`
	Status     string                `json:"status" enum:"active,completed,cancelled"`
	CreatedAt  string                `json:"created_at" format:"date-time"`
}

// ListingDetailResponse expands the listed accounts so buyers see the
// inventories behind the asking price.
type ListingDetailResponse struct {
	ListingResponse
	Accounts []AccountResponse `json:"accounts"`
}

type OfferResponse struct {
	ID         string   `json:"id"`
	ListingID  string   `json:"listing_id"`
	BuyerID    string   `json:"buyer_id"`
	AccountIDs []string `json:"account_ids"`
	Status     string   `json:"status" enum:"pending,accepted,rejected"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
}

type SettlementResponse struct {
	Listing           ListingResponse `json:"listing"`
	BuyerID           string          `json:"buyer_id"`
	PaymentAccountIDs []string        `json:"payment_account_ids"`
}

type EventResponse struct {
	ID            int64          `json:"id"`
	TS            string         `json:"ts" format:"date-time"`
	Type          string         `json:"type"`
	MarketplaceID string         `json:"marketplace_id,omitempty"`
	EntityKind    string         `json:"entity_kind"`
	EntityID      string         `json:"entity_id,omitempty"`
	ActorID       string         `json:"actor_id"`
	Payload       map[string]any `json:"payload"`
}

type WhoAmIResponse struct {
	UserID    string `json:"user_id"`
	Source    string `json:"source"`
	Username  string `json:"username,omitempty"`
	CreatedAt string `json:"created_at,omitempty" format:"date-time"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type MarketplaceConfigResponse struct {
	Marketplace marketplaceConfigSection `json:"marketplace"`
	Items       itemsConfigSection       `json:"items"`
	Limits      limitsConfigSection      `json:"limits"`
	Trading     tradingConfigSection     `json:"trading"`
}

type marketplaceConfigSection struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type itemsConfigSection struct {
	Catalog map[string]struct {
		Description string `json:"description"`
	} `json:"catalog"`
}

type limitsConfigSection struct {
	MaxAccountsPerListing int `json:"max_accounts_per_listing"`
	MaxPriceLines         int `json:"max_price_lines"`
}

type tradingConfigSection struct {
	RequireVerified bool `json:"require_verified"`
	AllowSeasonal   bool `json:"allow_seasonal"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func accountResponse(a domain.Account) AccountResponse {
	return AccountResponse{
		ID:        a.ID,
		OwnerID:   a.OwnerID,
		Name:      a.Name,
		Items:     nonNilSlice(a.Items),
		Seasonal:  a.Seasonal,
		Verified:  a.Verified,
		CreatedAt: a.CreatedAt,
	}
}

func listingResponse(l domain.Listing) ListingResponse {
	return ListingResponse{
		ID:         l.ID,
		SellerID:   l.SellerID,
		AccountIDs: nonNilSlice(l.AccountIDs),
		Price:      nonNilSlice(l.Price),
		Status:     l.Status,
		CreatedAt:  l.CreatedAt,
	}
}

func offerResponse(o domain.Offer) OfferResponse {
	return OfferResponse{
		ID:         o.ID,
		ListingID:  o.ListingID,
		BuyerID:    o.BuyerID,
		AccountIDs: nonNilSlice(o.AccountIDs),
		Status:     o.Status,
		CreatedAt:  o.CreatedAt,
	}
}

func settlementResponse(res engine.SettlementResult) SettlementResponse {
	return SettlementResponse{
		Listing:           listingResponse(res.Listing),
		BuyerID:           res.BuyerID,
		PaymentAccountIDs: nonNilSlice(res.PaymentAccountIDs),
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:            e.ID,
		TS:            e.TS,
		Type:          e.Type,
		MarketplaceID: e.MarketplaceID,
		EntityKind:    e.EntityKind,
		EntityID:      e.EntityID,
		ActorID:       e.ActorID,
		Payload:       decodeJSONMap(e.Payload),
	}
}

func configResponse(cfg *config.Config) MarketplaceConfigResponse {
	res := MarketplaceConfigResponse{
		Marketplace: marketplaceConfigSection{
			ID:   cfg.Marketplace.ID,
			Kind: cfg.Marketplace.Kind,
		},
		Items: itemsConfigSection{
			Catalog: map[string]struct {
				Description string `json:"description"`
			}{},
		},
		Limits: limitsConfigSection{
			MaxAccountsPerListing: cfg.Limits.MaxAccountsPerListing,
			MaxPriceLines:         cfg.Limits.MaxPriceLines,
		},
		Trading: tradingConfigSection{
			RequireVerified: cfg.Trading.RequireVerified,
			AllowSeasonal:   cfg.Trading.AllowSeasonal,
		},
	}
	for k, v := range cfg.Items.Catalog {
		res.Items.Catalog[k] = struct {
			Description string `json:"description"`
		}{Description: v.Description}
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
