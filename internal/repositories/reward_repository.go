package repositories

import (
	"context"
	"stakeledger/internal/models"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type RewardRepository struct {
	db *sqlx.DB
}

func NewRewardRepository(db *sqlx.DB) *RewardRepository {
	return &RewardRepository{
		db: db,
	}
}

func (r *RewardRepository) Save(ctx context.Context, reward *models.PendingReward) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.Beginx()
	if err != nil {
		log.Error(err)
		return err
	}
	defer tx.Rollback()

	query, args, err := tx.BindNamed(
		`insert into pending_reward (user_id, wallet_address, reward_type, amount, status, source_id, metadata)
		 values (:user_id, :wallet_address, :reward_type, :amount, :status, :source_id, :metadata)
		 returning id, created_at, updated_at`,
		reward,
	)
	if err != nil {
		log.Error("Failed insert reward ", err)
		return err
	}
	if err := tx.QueryRowxContext(ctx, query, args...).Scan(&reward.Id, &reward.CreatedAt, &reward.UpdatedAt); err != nil {
		log.Error("Failed save reward ", err)
		return err
	}

	return commit(tx)
}

// UpsertAPY writes the pending APY row for (user, source) in one statement,
// updating the amount in place when the row exists. It reports whether a row was created.
func (r *RewardRepository) UpsertAPY(ctx context.Context, reward *models.PendingReward) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	reward.RewardType = models.RewardAPY
	reward.Status = models.RewardStatusPending

	query, args, err := r.db.BindNamed(
		`insert into pending_reward (user_id, wallet_address, reward_type, amount, status, source_id, metadata)
		 values (:user_id, :wallet_address, :reward_type, :amount, :status, :source_id, :metadata)
		 on conflict (user_id, source_id) where reward_type = 'APY_REWARD' and status = 'pending'
		 do update set amount = excluded.amount, metadata = pending_reward.metadata || excluded.metadata, updated_at = now()
		 returning id, created_at, updated_at, (xmax = 0) as inserted`,
		reward,
	)
	if err != nil {
		log.Error("Failed bind apy upsert ", err)
		return false, err
	}

	var inserted bool
	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&reward.Id, &reward.CreatedAt, &reward.UpdatedAt, &inserted); err != nil {
		log.Error("Failed upsert apy reward ", err)
		return false, err
	}
	return inserted, nil
}

func (r *RewardRepository) FindPending(ctx context.Context, wallet string, types ...models.RewardType) ([]models.PendingReward, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rewards := make([]models.PendingReward, 0)
	if err := r.db.SelectContext(
		ctx,
		&rewards,
		"select * from pending_reward where wallet_address=$1 and status=$2 and reward_type = any($3) order by id",
		wallet,
		models.RewardStatusPending,
		pq.Array(typeNames(types)),
	); err != nil {
		log.Error("Failed find pending rewards ", err)
		return nil, err
	}
	return rewards, nil
}

// MarkClaimed settles every pending row of the given types for the wallet.
func (r *RewardRepository) MarkClaimed(ctx context.Context, wallet string, types []models.RewardType, txHash string, at time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.Beginx()
	if err != nil {
		log.Error(err)
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(
		ctx,
		`update pending_reward set status=$1, claim_tx_hash=$2, claimed_at=$3, updated_at=now()
		 where wallet_address=$4 and status=$5 and reward_type = any($6)`,
		models.RewardStatusClaimed,
		txHash,
		at,
		wallet,
		models.RewardStatusPending,
		pq.Array(typeNames(types)),
	)
	if err != nil {
		log.Error("Failed mark rewards claimed ", err)
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return n, commit(tx)
}

// Totals returns the claimed and pending sums for a wallet.
func (r *RewardRepository) Totals(ctx context.Context, wallet string) (claimed decimal.Decimal, pending decimal.Decimal, err error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var row struct {
		Claimed decimal.Decimal `db:"claimed"`
		Pending decimal.Decimal `db:"pending"`
	}
	err = r.db.GetContext(
		ctx,
		&row,
		`select coalesce(sum(amount) filter (where status='claimed'), 0) as claimed,
		        coalesce(sum(amount) filter (where status='pending'), 0) as pending
		 from pending_reward where wallet_address=$1`,
		wallet,
	)
	if err != nil {
		log.Error("Failed sum rewards ", err)
		return decimal.Zero, decimal.Zero, err
	}
	return row.Claimed, row.Pending, nil
}

// SumPending totals pending rows of the given types across all wallets.
func (r *RewardRepository) SumPending(ctx context.Context, types ...models.RewardType) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var total decimal.Decimal
	if err := r.db.QueryRowxContext(
		ctx,
		"select coalesce(sum(amount), 0) from pending_reward where status=$1 and reward_type = any($2)",
		models.RewardStatusPending,
		pq.Array(typeNames(types)),
	).Scan(&total); err != nil {
		log.Error("Failed sum pending rewards ", err)
		return decimal.Zero, err
	}
	return total, nil
}

func typeNames(types []models.RewardType) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
