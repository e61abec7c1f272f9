package services

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrIntentNotFound       = errors.New("payment intent not found")
	ErrInvalidWallet        = errors.New("invalid wallet address")
	ErrInvalidEmail         = errors.New("invalid email address")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrInvalidClaimType     = errors.New("invalid claim type")
	ErrReferralPaused       = errors.New("referral system is paused")
	ErrInvalidReferralCode  = errors.New("referral code not found")
	ErrOwnReferralCode      = errors.New("cannot use own referral code")
	ErrReferralAlreadySet   = errors.New("referral already set or skipped")
	ErrContractPaused       = errors.New("staking contract is paused")
	ErrStakeNotOnChain      = errors.New("stake not found on chain")
)
