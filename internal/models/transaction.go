package models

const (
	// transaction types
	TX_STAKE           = "stake"           // crypto stake observed on chain
	TX_CARD_SETTLEMENT = "card_settlement" // admin stake created for a paid invoice
	TX_CLAIM           = "claim"           // cashback or referral claim
	TX_REWARD_TRANSFER = "reward_transfer" // admin payout from the reward pool
)
