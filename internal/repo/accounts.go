package repo

import (
	"context"
	"database/sql"

	"realmexchange/internal/domain"
	"realmexchange/internal/inventory"
)

const accountColumns = `id,owner_id,name,items_raw,seasonal,verified,COALESCE(credential,''),created_at`

func scanAccount(scan func(dest ...any) error) (domain.Account, error) {
	var a domain.Account
	var itemsRaw string
	var seasonal, verified int
	err := scan(&a.ID, &a.OwnerID, &a.Name, &itemsRaw, &seasonal, &verified, &a.Credential, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Items = inventory.ParseRaw(itemsRaw)
	a.Seasonal = seasonal == 1
	a.Verified = verified == 1
	return a, nil
}

func (r Repo) InsertAccountTx(ctx context.Context, tx *sql.Tx, a domain.Account) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO accounts(id,owner_id,name,items_raw,seasonal,verified,credential,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.OwnerID, a.Name, inventory.EncodeRaw(a.Items), boolInt(a.Seasonal), boolInt(a.Verified), nullable(a.Credential), a.CreatedAt)
	return err
}

func (r Repo) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=?`, id)
	return scanAccount(row.Scan)
}

func (r Repo) GetAccountTx(ctx context.Context, tx *sql.Tx, id string) (domain.Account, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=?`, id)
	return scanAccount(row.Scan)
}

func (r Repo) GetAccountByName(ctx context.Context, name string) (domain.Account, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE name=?`, name)
	return scanAccount(row.Scan)
}

// ListAccountsByOwner returns the owner's accounts in ascending id order.
// Allocation walks accounts in this order, so it must stay deterministic.
func (r Repo) ListAccountsByOwner(ctx context.Context, ownerID string) ([]domain.Account, error) {
	return r.listAccounts(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id=? ORDER BY id ASC`, ownerID)
}

func (r Repo) ListAccountsByOwnerTx(ctx context.Context, tx *sql.Tx, ownerID string) ([]domain.Account, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id=? ORDER BY id ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func (r Repo) ListAccountsByIDs(ctx context.Context, ids []string) ([]domain.Account, error) {
	var res []domain.Account
	for _, id := range ids {
		a, err := r.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

func (r Repo) listAccounts(ctx context.Context, query string, args ...any) ([]domain.Account, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func collectAccounts(rows *sql.Rows) ([]domain.Account, error) {
	var res []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// UpdateAccountOwnerTx reassigns custody of one account inside a settlement
// transaction. The previous owner is part of the predicate so a row changed
// under the transaction's feet surfaces as ErrNotFound instead of a silent
// double transfer.
func (r Repo) UpdateAccountOwnerTx(ctx context.Context, tx *sql.Tx, accountID, fromOwnerID, toOwnerID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE accounts SET owner_id=? WHERE id=? AND owner_id=?`, toOwnerID, accountID, fromOwnerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAccountVerifiedTx attaches the inventory snapshot and flips the
// verified flag, inside the caller's transaction so the event append commits
// with it. Only callable while the account is still unverified.
func (r Repo) MarkAccountVerifiedTx(ctx context.Context, tx *sql.Tx, id string, items []string, seasonal bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE accounts SET verified=1, items_raw=?, seasonal=? WHERE id=? AND verified=0`,
		inventory.EncodeRaw(items), boolInt(seasonal), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
