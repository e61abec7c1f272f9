package repositories

import (
	"context"
	"stakeledger/internal/models"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type ReferralRepository struct {
	db *sqlx.DB
}

func NewReferralRepository(db *sqlx.DB) *ReferralRepository {
	return &ReferralRepository{
		db: db,
	}
}

// AddEarnings creates the (referrer, referred) pair on first use and adds amount
// to its accumulator atomically.
func (r *ReferralRepository) AddEarnings(ctx context.Context, referrerId, referredId int64, amount decimal.Decimal) (*models.Referral, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.Beginx()
	if err != nil {
		log.Error(err)
		return nil, err
	}
	defer tx.Rollback()

	var ref models.Referral
	if err := tx.QueryRowxContext(
		ctx,
		`insert into referral (referrer_user_id, referred_user_id, earnings)
		 values ($1, $2, $3)
		 on conflict (referrer_user_id, referred_user_id)
		 do update set earnings = referral.earnings + excluded.earnings, updated_at = now()
		 returning *`,
		referrerId,
		referredId,
		amount,
	).StructScan(&ref); err != nil {
		log.Error("Failed upsert referral ", err)
		return nil, err
	}

	if err := commit(tx); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *ReferralRepository) FindByReferrer(ctx context.Context, referrerId int64) ([]models.Referral, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	refs := make([]models.Referral, 0)
	if err := r.db.SelectContext(ctx, &refs, "select * from referral where referrer_user_id=$1 order by id", referrerId); err != nil {
		log.Error("Failed find referrals ", err)
		return nil, err
	}
	return refs, nil
}

type ReferralConfigRepository struct {
	db *sqlx.DB
}

func NewReferralConfigRepository(db *sqlx.DB) *ReferralConfigRepository {
	return &ReferralConfigRepository{
		db: db,
	}
}

// Get returns the singleton config row, creating it with defaults on first read.
func (r *ReferralConfigRepository) Get(ctx context.Context) (*models.ReferralConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, "insert into referral_config (id) values (1) on conflict (id) do nothing"); err != nil {
		log.Error("Failed seed referral config ", err)
		return nil, err
	}

	var cfg models.ReferralConfig
	if err := r.db.GetContext(
		ctx,
		&cfg,
		"select referral_percentage, referrer_percentage, paused, synced_at from referral_config where id=1",
	); err != nil {
		log.Error("Failed read referral config ", err)
		return nil, err
	}
	return &cfg, nil
}

func (r *ReferralConfigRepository) Save(ctx context.Context, cfg *models.ReferralConfig) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := r.db.NamedExecContext(
		ctx,
		`insert into referral_config (id, referral_percentage, referrer_percentage, paused, synced_at)
		 values (1, :referral_percentage, :referrer_percentage, :paused, :synced_at)
		 on conflict (id) do update set
		   referral_percentage = excluded.referral_percentage,
		   referrer_percentage = excluded.referrer_percentage,
		   paused = excluded.paused,
		   synced_at = excluded.synced_at`,
		cfg,
	)
	if err != nil {
		log.Error("Failed save referral config ", err)
	}
	return err
}
