package domain

type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Account is a game account registered into the directory. OwnerID is the
// only field that changes once the account is verified; the identity and the
// inventory snapshot are fixed from that point on.
type Account struct {
	ID         string   `json:"id"`
	OwnerID    string   `json:"owner_id"`
	Name       string   `json:"name"`
	Items      []string `json:"items"`
	Seasonal   bool     `json:"seasonal"`
	Verified   bool     `json:"verified"`
	Credential string   `json:"-"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
}

// RequiredItem is one line of an asking price.
type RequiredItem struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity" minimum:"1"`
}

const (
	ListingActive    = "active"
	ListingCompleted = "completed"
	ListingCancelled = "cancelled"
)

type Listing struct {
	ID         string         `json:"id"`
	SellerID   string         `json:"seller_id"`
	AccountIDs []string       `json:"account_ids"`
	Price      []RequiredItem `json:"price"`
	Status     string         `json:"status" enum:"active,completed,cancelled"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
}

const (
	OfferPending  = "pending"
	OfferAccepted = "accepted"
	OfferRejected = "rejected"
)

type Offer struct {
	ID         string   `json:"id"`
	ListingID  string   `json:"listing_id"`
	BuyerID    string   `json:"buyer_id"`
	AccountIDs []string `json:"account_ids"`
	Status     string   `json:"status" enum:"pending,accepted,rejected"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
}

type Event struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	Type          string `json:"type"`
	MarketplaceID string `json:"marketplace_id,omitempty"`
	EntityKind    string `json:"entity_kind"`
	EntityID      string `json:"entity_id,omitempty"`
	ActorID       string `json:"actor_id"`
	Payload       string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
