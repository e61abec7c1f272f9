package repositories

import (
	"context"
	"errors"
	"stakeledger/internal/config"
	"stakeledger/internal/models"
	"time"

	"github.com/jmoiron/sqlx"
)

var log = config.InitLogger()

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{
		db: db,
	}
}

// Create inserts the user unless the wallet is already known. The second result
// is false when another writer got there first; the stored row is returned then.
func (u *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := u.db.Beginx()
	if err != nil {
		log.Error(err)
		return nil, false, err
	}
	defer tx.Rollback()

	query, args, err := tx.BindNamed(
		`insert into usr (wallet_address, referral_code, referred_by, referral_skipped, status)
		 values (:wallet_address, :referral_code, :referred_by, :referral_skipped, :status)
		 on conflict do nothing
		 returning *`,
		user,
	)
	if err != nil {
		log.Error("Failed insert user ", err)
		return nil, false, err
	}

	var saved models.User
	err = tx.QueryRowxContext(ctx, query, args...).StructScan(&saved)
	if err != nil && !errors.Is(notFound(err), ErrNotFound) {
		log.Error("Failed save user ", err)
		return nil, false, err
	}
	if err == nil {
		if err := commit(tx); err != nil {
			return nil, false, err
		}
		return &saved, true, nil
	}

	// lost the race on wallet_address, or the referral code collided
	existing, err := u.FindByWallet(ctx, user.WalletAddress)
	if errors.Is(err, ErrNotFound) {
		return nil, false, ErrDuplicate
	}
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (u *UserRepository) FindByWallet(ctx context.Context, wallet string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var user models.User
	if err := u.db.GetContext(ctx, &user, "select * from usr where wallet_address=$1", wallet); err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (u *UserRepository) FindById(ctx context.Context, id int64) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var user models.User
	if err := u.db.GetContext(ctx, &user, "select * from usr where id=$1", id); err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (u *UserRepository) FindByReferralCode(ctx context.Context, code string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var user models.User
	if err := u.db.GetContext(ctx, &user, "select * from usr where referral_code=$1", code); err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// SetReferredBy stores the referrer code once. It reports false if a code was
// already set or the user opted out.
func (u *UserRepository) SetReferredBy(ctx context.Context, userId int64, code string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := u.db.ExecContext(
		ctx,
		"update usr set referred_by=$2 where id=$1 and referred_by is null and referral_skipped=false",
		userId,
		code,
	)
	if err != nil {
		log.Error("failed set referred_by: ", err)
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (u *UserRepository) SkipReferral(ctx context.Context, userId int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := u.db.ExecContext(
		ctx,
		"update usr set referral_skipped=true where id=$1 and referred_by is null",
		userId,
	)
	if err != nil {
		log.Error("failed skip referral: ", err)
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
