package models

import (
	"fmt"
	"strings"
)

type RewardType string

const (
	RewardInstantCashback RewardType = "INSTANT_CASHBACK"
	RewardAPY             RewardType = "APY_REWARD"
	RewardReferral        RewardType = "REFERRAL_REWARD"
)

func ParseRewardType(s string) (RewardType, error) {
	switch RewardType(strings.ToUpper(strings.TrimSpace(s))) {
	case RewardInstantCashback:
		return RewardInstantCashback, nil
	case RewardAPY:
		return RewardAPY, nil
	case RewardReferral:
		return RewardReferral, nil
	}
	return "", fmt.Errorf("unknown reward type %q", s)
}

type RewardStatus string

const (
	RewardStatusPending RewardStatus = "pending"
	RewardStatusClaimed RewardStatus = "claimed"
)

// ClaimType selects which pending rows a claim settles. APY rewards are claimed
// together with the stake and never through this path.
type ClaimType string

const (
	ClaimInstant  ClaimType = "INSTANT_CASHBACK"
	ClaimReferral ClaimType = "REFERRAL_REWARD"
	ClaimAll      ClaimType = "ALL"
)

func ParseClaimType(s string) (ClaimType, error) {
	switch ClaimType(strings.ToUpper(strings.TrimSpace(s))) {
	case ClaimInstant:
		return ClaimInstant, nil
	case ClaimReferral:
		return ClaimReferral, nil
	case ClaimAll:
		return ClaimAll, nil
	}
	return "", fmt.Errorf("unknown claim type %q", s)
}

// RewardTypes returns the ledger reward types marked claimed by a claim of this type.
func (c ClaimType) RewardTypes() []RewardType {
	switch c {
	case ClaimInstant:
		return []RewardType{RewardInstantCashback}
	case ClaimReferral:
		return []RewardType{RewardReferral}
	case ClaimAll:
		return []RewardType{RewardInstantCashback, RewardReferral}
	}
	return nil
}

// metadata keys written on ledger rows
const (
	MetaRole               = "role"
	MetaReferrerPercentage = "referrerPercentage"
	MetaReferralPercentage = "referralPercentage"
	MetaInstantRewardBps   = "instantRewardBps"
	MetaStakeIndex         = "stakeIndex"
	MetaSyncedAt           = "syncedAt"
)

const (
	RoleReferrer = "referrer"
	RoleBonus    = "bonus"
)
