package repositories

import (
	"context"
	"fmt"
	"stakeledger/internal/models"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type StakeRepository struct {
	db *sqlx.DB
}

func NewStakeRepository(db *sqlx.DB) *StakeRepository {
	return &StakeRepository{
		db: db,
	}
}

// NextStakeId draws the next human readable id from a sequence.
func (r *StakeRepository) NextStakeId(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var n int64
	if err := r.db.QueryRowxContext(ctx, "select nextval('stake_human_id_seq')").Scan(&n); err != nil {
		log.Error("Failed to draw stake id: ", err)
		return "", err
	}
	return fmt.Sprintf("STK-%06d", n), nil
}

// Save inserts the stake. A stake with the same origin tx hash yields ErrDuplicate.
func (r *StakeRepository) Save(ctx context.Context, stake *models.Stake) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := r.db.Beginx()
	if err != nil {
		log.Error(err)
		return err
	}
	defer tx.Rollback()

	query, args, err := tx.BindNamed(
		`insert into stake (stake_id, user_id, wallet_address, amount, apy, lock_days, start_date, end_date, plan, origin, tx_hash, chain_stake_index, status)
		 values (:stake_id, :user_id, :wallet_address, :amount, :apy, :lock_days, :start_date, :end_date, :plan, :origin, :tx_hash, :chain_stake_index, :status)
		 returning id, created_at`,
		stake,
	)
	if err != nil {
		log.Error("Failed insert stake ", err)
		return err
	}

	if err := tx.QueryRowxContext(ctx, query, args...).Scan(&stake.Id, &stake.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		log.Error("Failed save stake ", err)
		return err
	}

	return commit(tx)
}

func (r *StakeRepository) FindByStakeId(ctx context.Context, stakeId string) (*models.Stake, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var stake models.Stake
	if err := r.db.GetContext(ctx, &stake, "select * from stake where stake_id=$1", stakeId); err != nil {
		return nil, notFound(err)
	}
	return &stake, nil
}

func (r *StakeRepository) FindByTxHash(ctx context.Context, txHash string) (*models.Stake, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var stake models.Stake
	if err := r.db.GetContext(ctx, &stake, "select * from stake where tx_hash=$1", txHash); err != nil {
		return nil, notFound(err)
	}
	return &stake, nil
}

func (r *StakeRepository) FindActiveByWallet(ctx context.Context, wallet string) ([]models.Stake, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stakes := make([]models.Stake, 0)
	if err := r.db.SelectContext(
		ctx,
		&stakes,
		"select * from stake where wallet_address=$1 and status=$2 order by id",
		wallet,
		models.StakeStatusActive,
	); err != nil {
		log.Error("Failed find active stakes ", err)
		return nil, err
	}
	return stakes, nil
}

// ActiveWallets lists every wallet holding at least one active stake.
func (r *StakeRepository) ActiveWallets(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	wallets := make([]string, 0)
	if err := r.db.SelectContext(
		ctx,
		&wallets,
		"select distinct wallet_address from stake where status=$1 order by wallet_address",
		models.StakeStatusActive,
	); err != nil {
		log.Error("Failed find active wallets ", err)
		return nil, err
	}
	return wallets, nil
}

// CompleteMatured flips active stakes whose end date has passed.
func (r *StakeRepository) CompleteMatured(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(
		ctx,
		"update stake set status=$1 where status=$2 and end_date <= $3",
		models.StakeStatusCompleted,
		models.StakeStatusActive,
		now,
	)
	if err != nil {
		log.Error("Failed complete matured stakes ", err)
		return 0, err
	}
	return res.RowsAffected()
}

// ActiveCardPrincipal sums principal of active stakes created by the card path.
func (r *StakeRepository) ActiveCardPrincipal(ctx context.Context) (decimal.Decimal, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var row struct {
		Total decimal.Decimal `db:"total"`
		Count int             `db:"cnt"`
	}
	if err := r.db.GetContext(
		ctx,
		&row,
		"select coalesce(sum(amount), 0) as total, count(*) as cnt from stake where status=$1 and origin=$2",
		models.StakeStatusActive,
		models.StakeOriginCard,
	); err != nil {
		log.Error("Failed sum card stakes ", err)
		return decimal.Zero, 0, err
	}
	return row.Total, row.Count, nil
}
