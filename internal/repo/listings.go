package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"realmexchange/internal/domain"
)

const listingColumns = `id,seller_id,account_ids_json,price_json,status,created_at`

func (r Repo) CountListingsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM listings GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanListing(scan func(dest ...any) error) (domain.Listing, error) {
	var l domain.Listing
	var accountsJSON, priceJSON string
	err := scan(&l.ID, &l.SellerID, &accountsJSON, &priceJSON, &l.Status, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if l.AccountIDs, err = decodeStrings(accountsJSON); err != nil {
		return l, err
	}
	if priceJSON != "" {
		if err := json.Unmarshal([]byte(priceJSON), &l.Price); err != nil {
			return l, err
		}
	}
	return l, nil
}

func (r Repo) InsertListingTx(ctx context.Context, tx *sql.Tx, l domain.Listing) error {
	accountsJSON, err := encodeStrings(l.AccountIDs)
	if err != nil {
		return err
	}
	price := l.Price
	if price == nil {
		price = []domain.RequiredItem{}
	}
	priceJSON, err := json.Marshal(price)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO listings(id,seller_id,account_ids_json,price_json,status,created_at) VALUES (?,?,?,?,?,?)`,
		l.ID, l.SellerID, accountsJSON, string(priceJSON), l.Status, l.CreatedAt)
	return err
}

func (r Repo) GetListing(ctx context.Context, id string) (domain.Listing, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id=?`, id)
	return scanListing(row.Scan)
}

func (r Repo) GetListingTx(ctx context.Context, tx *sql.Tx, id string) (domain.Listing, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id=?`, id)
	return scanListing(row.Scan)
}

func (r Repo) ListListingsByStatus(ctx context.Context, status string) ([]domain.Listing, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE status=? ORDER BY created_at DESC, id DESC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectListings(rows)
}

func (r Repo) ListListingsBySeller(ctx context.Context, sellerID string) ([]domain.Listing, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE seller_id=? ORDER BY created_at DESC, id DESC`, sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectListings(rows)
}

func (r Repo) ActiveListingsTx(ctx context.Context, tx *sql.Tx) ([]domain.Listing, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE status=? ORDER BY created_at DESC, id DESC`, domain.ListingActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectListings(rows)
}

func collectListings(rows *sql.Rows) ([]domain.Listing, error) {
	var res []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// CompleteListingTx is the settlement compare-and-set: the listing moves to
// completed only if this transaction still observes it active. false means
// another transaction already left the active state.
func (r Repo) CompleteListingTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE listings SET status=? WHERE id=? AND status=?`,
		domain.ListingCompleted, id, domain.ListingActive)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CancelListingTx uses the same conditional form so a cancel racing a
// settlement cannot resurrect a completed listing.
func (r Repo) CancelListingTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE listings SET status=? WHERE id=? AND status=?`,
		domain.ListingCancelled, id, domain.ListingActive)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
