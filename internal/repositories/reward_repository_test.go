package repositories

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"stakeledger/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, repo *UserRepository, wallet string) *models.User {
	t.Helper()
	user, _, err := repo.Create(context.Background(), newUser(wallet, "C-"+wallet))
	require.NoError(t, err)
	return user
}

func TestRewardRepository_UpsertAPYKeepsOneRow(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepository(db)
	rewards := NewRewardRepository(db)
	ctx := context.Background()
	user := seedUser(t, users, "0xapy")

	apy := func(amount string) *models.PendingReward {
		return &models.PendingReward{
			UserId:        user.Id,
			WalletAddress: user.WalletAddress,
			Amount:        decimal.RequireFromString(amount),
			SourceId:      sql.NullString{String: "STK-000001", Valid: true},
			Metadata:      models.Metadata{models.MetaStakeIndex: 0},
		}
	}

	inserted, err := rewards.UpsertAPY(ctx, apy("1.5"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = rewards.UpsertAPY(ctx, apy("2.25"))
	require.NoError(t, err)
	assert.False(t, inserted)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rewards.UpsertAPY(ctx, apy("3"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rows, err := rewards.FindPending(ctx, user.WalletAddress, models.RewardAPY)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Amount.Equal(decimal.NewFromInt(3)))
}

func TestRewardRepository_MarkClaimedIsTypeScoped(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepository(db)
	rewards := NewRewardRepository(db)
	ctx := context.Background()
	user := seedUser(t, users, "0xclaim")

	for _, rt := range []models.RewardType{models.RewardInstantCashback, models.RewardInstantCashback, models.RewardReferral} {
		require.NoError(t, rewards.Save(ctx, &models.PendingReward{
			UserId:        user.Id,
			WalletAddress: user.WalletAddress,
			RewardType:    rt,
			Amount:        decimal.NewFromInt(10),
			Status:        models.RewardStatusPending,
		}))
	}

	n, err := rewards.MarkClaimed(ctx, user.WalletAddress, models.ClaimInstant.RewardTypes(), "0xhash", time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	pending, err := rewards.FindPending(ctx, user.WalletAddress, models.RewardInstantCashback, models.RewardReferral)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.RewardReferral, pending[0].RewardType)

	claimed, open, err := rewards.Totals(ctx, user.WalletAddress)
	require.NoError(t, err)
	assert.True(t, claimed.Equal(decimal.NewFromInt(20)))
	assert.True(t, open.Equal(decimal.NewFromInt(10)))

	sum, err := rewards.SumPending(ctx, models.RewardInstantCashback, models.RewardReferral)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(10)))
}

func TestReferralRepository_AccumulatesEarnings(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepository(db)
	referrals := NewReferralRepository(db)
	ctx := context.Background()
	referrer := seedUser(t, users, "0xreferrer")
	referred := seedUser(t, users, "0xreferred")

	_, err := referrals.AddEarnings(ctx, referrer.Id, referred.Id, decimal.NewFromInt(20))
	require.NoError(t, err)
	ref, err := referrals.AddEarnings(ctx, referrer.Id, referred.Id, decimal.RequireFromString("5.5"))
	require.NoError(t, err)
	assert.True(t, ref.Earnings.Equal(decimal.RequireFromString("25.5")))

	all, err := referrals.FindByReferrer(ctx, referrer.Id)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReferralConfigRepository_UpsertOnFirstRead(t *testing.T) {
	repo := NewReferralConfigRepository(newTestDB(t))
	ctx := context.Background()

	cfg, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.True(t, cfg.ReferralPercentage.IsZero())
	assert.False(t, cfg.Paused)

	cfg.ReferralPercentage = decimal.NewFromInt(5)
	cfg.ReferrerPercentage = decimal.NewFromInt(2)
	cfg.SyncedAt = sql.NullTime{Time: time.Now(), Valid: true}
	require.NoError(t, repo.Save(ctx, cfg))

	again, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.True(t, again.ReferralPercentage.Equal(decimal.NewFromInt(5)))
	assert.True(t, again.ReferrerPercentage.Equal(decimal.NewFromInt(2)))
}
