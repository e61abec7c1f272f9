package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"stakeledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cryptoStake mines a 1000 token stake at 12% with 5% cashback and returns the
// request a frontend would send for it.
func cryptoStake(e *testEnv, w, txHash string) CryptoStakeRequest {
	e.chain.mineStake(w, txHash, dec("1000"), 30, 1200, 500)
	return CryptoStakeRequest{
		Wallet: w,
		Plan:   "flex",
		TxHash: txHash,
	}
}

func TestStakeService_RecordCryptoStakePaysCashback(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	res, err := e.stakeSvc.RecordCryptoStake(ctx, cryptoStake(e, wallet(1), "0xABC"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.False(t, res.Degraded)
	assertDecimal(t, "50", res.Cashback)
	assert.Equal(t, "0xabc", res.Stake.TxHash)
	assert.Equal(t, models.StakeOriginCrypto, res.Stake.Origin)
	assertDecimal(t, "12", res.Stake.APY)
	assert.Equal(t, e.clock.Now().Add(30*24*time.Hour), res.Stake.EndDate)
	assert.Equal(t, "no referrer", res.Attribution.Skipped)

	rows := e.rewards.byWallet(wallet(1))
	require.Len(t, rows, 1)
	assert.Equal(t, models.RewardInstantCashback, rows[0].RewardType)
	assert.Equal(t, res.Stake.StakeId, rows[0].SourceId.String)
	assertDecimal(t, "50", rows[0].Amount)

	txs := e.txs.byType(models.TX_STAKE)
	require.Len(t, txs, 1)
	assert.EqualValues(t, 42, txs[0].BlockNumber)
}

func TestStakeService_DuplicateTxHashIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	first, err := e.stakeSvc.RecordCryptoStake(ctx, cryptoStake(e, wallet(1), "0xdup"))
	require.NoError(t, err)

	again, err := e.stakeSvc.RecordCryptoStake(ctx, CryptoStakeRequest{Wallet: wallet(1), TxHash: "0xDUP"})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Stake.StakeId, again.Stake.StakeId)
	assert.Len(t, e.stakes.all(), 1)
	assert.Len(t, e.rewards.byWallet(wallet(1)), 1)
}

func TestStakeService_ConcurrentDuplicatesStoreOnce(t *testing.T) {
	e := newTestEnv(t)
	req := cryptoStake(e, wallet(1), "0xrace")

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.stakeSvc.RecordCryptoStake(context.Background(), req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, e.stakes.all(), 1)
	assert.Equal(t, 1, e.users.count())
}

func TestStakeService_StakeIndexComesFromEvent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.chain.stakeCounts[wallet(1)] = 2
	res, err := e.stakeSvc.RecordCryptoStake(ctx, cryptoStake(e, wallet(1), "0x1"))
	require.NoError(t, err)
	require.True(t, res.Stake.ChainStakeIndex.Valid)
	assert.EqualValues(t, 2, res.Stake.ChainStakeIndex.Int64)

	res, err = e.stakeSvc.RecordCryptoStake(ctx, cryptoStake(e, wallet(2), "0x2"))
	require.NoError(t, err)
	require.True(t, res.Stake.ChainStakeIndex.Valid)
	assert.EqualValues(t, 0, res.Stake.ChainStakeIndex.Int64)
}

func TestStakeService_RejectsInvalidRequests(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	bad := []func(*CryptoStakeRequest){
		func(r *CryptoStakeRequest) { r.Wallet = "0x123" },
		func(r *CryptoStakeRequest) { r.TxHash = " " },
		func(r *CryptoStakeRequest) { r.Amount = dec("-1") },
	}
	for i, mutate := range bad {
		req := cryptoStake(e, wallet(1), "0xbad")
		mutate(&req)
		_, err := e.stakeSvc.RecordCryptoStake(ctx, req)
		assert.Error(t, err, "case %d", i)
	}
	assert.Empty(t, e.stakes.all())
}

func TestStakeService_UsesOnChainValuesOnly(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// a stake the contract never saw cannot be recorded, whatever the client claims
	_, err := e.stakeSvc.RecordCryptoStake(ctx, CryptoStakeRequest{
		Wallet: wallet(1),
		Amount: dec("1000000000"),
		TxHash: "0xnot-a-real-transaction",
	})
	assert.ErrorIs(t, err, ErrStakeNotOnChain)

	// someone else's stake
	e.chain.mineStake(wallet(2), "0xother", dec("500"), 30, 1200, 10000)
	_, err = e.stakeSvc.RecordCryptoStake(ctx, CryptoStakeRequest{Wallet: wallet(1), TxHash: "0xother"})
	assert.ErrorIs(t, err, ErrStakeNotOnChain)

	// inflated amount
	e.chain.mineStake(wallet(1), "0xsmall", dec("10"), 30, 1200, 500)
	_, err = e.stakeSvc.RecordCryptoStake(ctx, CryptoStakeRequest{Wallet: wallet(1), Amount: dec("1000000000"), TxHash: "0xsmall"})
	assert.ErrorIs(t, err, ErrStakeNotOnChain)

	assert.Empty(t, e.stakes.all())
	assert.Empty(t, e.rewards.rows)

	l, err := e.treasury.ComputeLiabilities(ctx)
	require.NoError(t, err)
	assertDecimal(t, "0", l.OffChainPending)

	res, err := e.stakeSvc.RecordCryptoStake(ctx, CryptoStakeRequest{Wallet: wallet(1), Amount: dec("10"), TxHash: "0xsmall"})
	require.NoError(t, err)
	assertDecimal(t, "10", res.Stake.Amount)
	assertDecimal(t, "0.5", res.Cashback)
}

func TestStakeService_ChainReadFailureStoresNothing(t *testing.T) {
	e := newTestEnv(t)
	e.chain.stakeByTxErr = errBoom
	req := cryptoStake(e, wallet(1), "0xdown")

	_, err := e.stakeSvc.RecordCryptoStake(context.Background(), req)
	assert.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, ErrStakeNotOnChain)
	assert.Empty(t, e.stakes.all())
}

func TestStakeService_FollowUpFailuresDegrade(t *testing.T) {
	e := newTestEnv(t)
	e.refCfg.cfg = models.ReferralConfig{ReferralPercentage: dec("5"), ReferrerPercentage: dec("2")}
	referredPair(t, e)
	e.rewards.saveErr = errBoom
	ctx := context.Background()

	res, err := e.stakeSvc.RecordCryptoStake(ctx, cryptoStake(e, wallet(2), "0xdeg"))
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.NotNil(t, res.Stake)
	assert.Equal(t, []string{GapCashbackRecordFailed, GapAttributionFailed}, e.recon.kinds())
	assert.Len(t, e.stakes.all(), 1)
}

func TestStakeService_CardStakeEarnsNothing(t *testing.T) {
	e := newTestEnv(t)
	e.refCfg.cfg = models.ReferralConfig{ReferralPercentage: dec("5"), ReferrerPercentage: dec("2")}
	_, user := referredPair(t, e)
	ctx := context.Background()

	stake, err := e.stakeSvc.CreateCardStake(ctx, CardStakeRequest{
		User:       user,
		Amount:     dec("10000"),
		APY:        dec("12"),
		LockDays:   90,
		Plan:       "card-2",
		TxHash:     "0xcard",
		StakeIndex: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StakeOriginCard, stake.Origin)
	assert.True(t, stake.ChainStakeIndex.Valid)
	assert.Empty(t, e.rewards.rows)

	again, err := e.stakeSvc.CreateCardStake(ctx, CardStakeRequest{User: user, Amount: dec("10000"), LockDays: 90, TxHash: "0xcard", StakeIndex: -1})
	require.NoError(t, err)
	assert.Equal(t, stake.StakeId, again.StakeId)
}

func TestStakeService_CompleteMatured(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.stakeSvc.RecordCryptoStake(ctx, cryptoStake(e, wallet(1), "0xm1"))
	require.NoError(t, err)
	e.chain.mineStake(wallet(1), "0xm2", dec("1000"), 365, 1200, 500)
	_, err = e.stakeSvc.RecordCryptoStake(ctx, CryptoStakeRequest{Wallet: wallet(1), TxHash: "0xm2"})
	require.NoError(t, err)

	n, err := e.stakeSvc.CompleteMatured(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	e.clock.Advance(31 * 24 * time.Hour)
	n, err = e.stakeSvc.CompleteMatured(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	active, err := e.stakeSvc.ActiveStakes(ctx, wallet(1))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "0xm2", active[0].TxHash)
}
