package services

import (
	"context"
	"errors"
	"fmt"
	"stakeledger/internal/models"
	"stakeledger/internal/repositories"
	"stakeledger/internal/util"

	"github.com/ethereum/go-ethereum/common"
)

// attempts at minting a unique referral code before giving up
const referralCodeAttempts = 3

type UserService struct {
	userRepo UserStore
}

func NewUserService(userRepo UserStore) *UserService {
	return &UserService{
		userRepo: userRepo,
	}
}

// ValidateWallet normalises an EVM address.
func ValidateWallet(wallet string) (string, error) {
	wallet = util.NormalizeWallet(wallet)
	if !common.IsHexAddress(wallet) {
		return "", ErrInvalidWallet
	}
	return wallet, nil
}

// GetOrCreate returns the user for the wallet, creating it on first contact.
// Concurrent first contacts all receive the same row.
func (s *UserService) GetOrCreate(ctx context.Context, wallet string) (*models.User, error) {
	wallet, err := ValidateWallet(wallet)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByWallet(ctx, wallet)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}

	for i := 0; i < referralCodeAttempts; i++ {
		user, created, err := s.userRepo.Create(ctx, &models.User{
			WalletAddress: wallet,
			ReferralCode:  util.GenerateReferralCode(),
			Status:        models.UserStatusActive,
		})
		if errors.Is(err, repositories.ErrDuplicate) {
			// referral code collision
			continue
		}
		if err != nil {
			return nil, err
		}
		if created {
			log.WithField("wallet", wallet).Info("Registered new wallet")
		}
		return user, nil
	}

	return nil, fmt.Errorf("failed to mint a unique referral code for %s", wallet)
}

func (s *UserService) GetByWallet(ctx context.Context, wallet string) (*models.User, error) {
	wallet, err := ValidateWallet(wallet)
	if err != nil {
		return nil, err
	}
	user, err := s.userRepo.FindByWallet(ctx, wallet)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// ApplyReferralCode links the wallet to a referrer. The code can be set once,
// only by a user who has not opted out.
func (s *UserService) ApplyReferralCode(ctx context.Context, wallet, code string) (*models.User, error) {
	user, err := s.GetOrCreate(ctx, wallet)
	if err != nil {
		return nil, err
	}

	code = util.NormalizeReferralCode(code)
	if code == "" {
		return nil, ErrInvalidReferralCode
	}
	if code == user.ReferralCode {
		return nil, ErrOwnReferralCode
	}
	if user.ReferredBy.Valid || user.ReferralSkipped {
		return nil, ErrReferralAlreadySet
	}

	if _, err := s.userRepo.FindByReferralCode(ctx, code); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidReferralCode
		}
		return nil, err
	}

	ok, err := s.userRepo.SetReferredBy(ctx, user.Id, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReferralAlreadySet
	}

	return s.userRepo.FindById(ctx, user.Id)
}

func (s *UserService) SkipReferral(ctx context.Context, wallet string) (*models.User, error) {
	user, err := s.GetOrCreate(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if user.ReferralSkipped {
		return user, nil
	}

	ok, err := s.userRepo.SkipReferral(ctx, user.Id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReferralAlreadySet
	}
	return s.userRepo.FindById(ctx, user.Id)
}
