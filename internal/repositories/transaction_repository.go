package repositories

import (
	"context"
	"database/sql"
	"errors"
	"stakeledger/internal/models"
	"time"

	"github.com/jmoiron/sqlx"
)

type TransactionRepository struct {
	Db *sqlx.DB
}

func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{
		Db: db,
	}
}

// Save records the transaction. Recording the same (type, hash) twice is a no-op
// and reports false.
func (r *TransactionRepository) Save(ctx context.Context, t *models.Transaction) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.Db.Beginx()
	if err != nil {
		log.Error("Error starting transaction: ", err)
		return false, err
	}
	defer tx.Rollback()

	query, args, err := tx.BindNamed(
		`insert into transactions (user_id, wallet_address, tx_type, amount, tx_hash, block_number, invoice_id)
		 values (:user_id, :wallet_address, :tx_type, :amount, :tx_hash, :block_number, :invoice_id)
		 on conflict (tx_type, tx_hash) do nothing
		 returning id, created_at`,
		t,
	)
	if err != nil {
		log.Error("Error creating query: ", err)
		return false, err
	}
	if err := tx.QueryRowxContext(ctx, query, args...).Scan(&t.Id, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		log.Error("Error saving transaction: ", err)
		return false, err
	}

	if err := commit(tx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *TransactionRepository) FindByWallet(ctx context.Context, wallet string, offset, limit int) ([]models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	txs := make([]models.Transaction, 0)
	if err := r.Db.SelectContext(
		ctx,
		&txs,
		"select * from transactions where wallet_address=$1 order by id desc limit $2 offset $3",
		wallet,
		limit,
		offset,
	); err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *TransactionRepository) CountByType(ctx context.Context, txType string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var count int
	if err := r.Db.QueryRowxContext(ctx, "select count(*) from transactions where tx_type=$1", txType).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
