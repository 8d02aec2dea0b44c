package repo

import (
	"context"
	"database/sql"

	"realmexchange/internal/domain"
)

const offerColumns = `id,listing_id,buyer_id,account_ids_json,status,created_at`

func scanOffer(scan func(dest ...any) error) (domain.Offer, error) {
	var o domain.Offer
	var accountsJSON string
	err := scan(&o.ID, &o.ListingID, &o.BuyerID, &accountsJSON, &o.Status, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.AccountIDs, err = decodeStrings(accountsJSON)
	return o, err
}

func (r Repo) InsertOfferTx(ctx context.Context, tx *sql.Tx, o domain.Offer) error {
	accountsJSON, err := encodeStrings(o.AccountIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO offers(id,listing_id,buyer_id,account_ids_json,status,created_at) VALUES (?,?,?,?,?,?)`,
		o.ID, o.ListingID, o.BuyerID, accountsJSON, o.Status, o.CreatedAt)
	return err
}

func (r Repo) GetOffer(ctx context.Context, id string) (domain.Offer, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id=?`, id)
	return scanOffer(row.Scan)
}

func (r Repo) GetOfferTx(ctx context.Context, tx *sql.Tx, id string) (domain.Offer, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id=?`, id)
	return scanOffer(row.Scan)
}

func (r Repo) ListOffersByListing(ctx context.Context, listingID string) ([]domain.Offer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE listing_id=? ORDER BY created_at ASC, id ASC`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOffers(rows)
}

func (r Repo) ListOffersByBuyer(ctx context.Context, buyerID string) ([]domain.Offer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE buyer_id=? ORDER BY created_at DESC, id DESC`, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOffers(rows)
}

// PendingOffersForActiveListingsTx feeds the conflict guard: only offers
// attached to a still-active listing keep their accounts committed.
func (r Repo) PendingOffersForActiveListingsTx(ctx context.Context, tx *sql.Tx) ([]domain.Offer, error) {
	rows, err := tx.QueryContext(ctx, `SELECT o.id,o.listing_id,o.buyer_id,o.account_ids_json,o.status,o.created_at
FROM offers o JOIN listings l ON l.id=o.listing_id
WHERE o.status=? AND l.status=?`, domain.OfferPending, domain.ListingActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOffers(rows)
}

func collectOffers(rows *sql.Rows) ([]domain.Offer, error) {
	var res []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// SetOfferStatusTx transitions a pending offer to a terminal status. false
// means the offer was not pending anymore.
func (r Repo) SetOfferStatusTx(ctx context.Context, tx *sql.Tx, id, status string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE offers SET status=? WHERE id=? AND status=?`,
		status, id, domain.OfferPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
