package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"stakeledger/internal/cache"
	"stakeledger/internal/chain"
	"stakeledger/internal/gateway"
	"stakeledger/internal/models"
	"stakeledger/internal/notify"
	"stakeledger/internal/repositories"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

// In-memory stores. Each keeps the same conditional-update guarantees as the
// SQL behind it, so race tests exercise the real service logic.

type fakeUsers struct {
	mu     sync.Mutex
	nextId int64
	rows   map[int64]*models.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{rows: map[int64]*models.User{}}
}

func (f *fakeUsers) Create(_ context.Context, user *models.User) (*models.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.rows {
		if u.WalletAddress == user.WalletAddress {
			cp := *u
			return &cp, false, nil
		}
	}
	for _, u := range f.rows {
		if u.ReferralCode == user.ReferralCode {
			return nil, false, repositories.ErrDuplicate
		}
	}
	f.nextId++
	stored := *user
	stored.Id = f.nextId
	stored.CreatedAt = time.Now()
	f.rows[stored.Id] = &stored
	cp := stored
	return &cp, true, nil
}

func (f *fakeUsers) find(match func(*models.User) bool) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.rows {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeUsers) FindByWallet(_ context.Context, wallet string) (*models.User, error) {
	return f.find(func(u *models.User) bool { return u.WalletAddress == wallet })
}

func (f *fakeUsers) FindById(_ context.Context, id int64) (*models.User, error) {
	return f.find(func(u *models.User) bool { return u.Id == id })
}

func (f *fakeUsers) FindByReferralCode(_ context.Context, code string) (*models.User, error) {
	return f.find(func(u *models.User) bool { return u.ReferralCode == code })
}

func (f *fakeUsers) SetReferredBy(_ context.Context, userId int64, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.rows[userId]
	if !ok || u.ReferredBy.Valid || u.ReferralSkipped {
		return false, nil
	}
	u.ReferredBy = sql.NullString{String: code, Valid: true}
	return true, nil
}

func (f *fakeUsers) SkipReferral(_ context.Context, userId int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.rows[userId]
	if !ok || u.ReferredBy.Valid || u.ReferralSkipped {
		return false, nil
	}
	u.ReferralSkipped = true
	return true, nil
}

func (f *fakeUsers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeStakes struct {
	mu   sync.Mutex
	seq  int64
	rows []*models.Stake
}

func (f *fakeStakes) NextStakeId(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("STK-%06d", f.seq), nil
}

func (f *fakeStakes) Save(_ context.Context, stake *models.Stake) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.TxHash == stake.TxHash || s.StakeId == stake.StakeId {
			return repositories.ErrDuplicate
		}
	}
	stake.Id = int64(len(f.rows) + 1)
	stake.CreatedAt = time.Now()
	cp := *stake
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeStakes) find(match func(*models.Stake) bool) (*models.Stake, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if match(s) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeStakes) FindByStakeId(_ context.Context, stakeId string) (*models.Stake, error) {
	return f.find(func(s *models.Stake) bool { return s.StakeId == stakeId })
}

func (f *fakeStakes) FindByTxHash(_ context.Context, txHash string) (*models.Stake, error) {
	return f.find(func(s *models.Stake) bool { return s.TxHash == txHash })
}

func (f *fakeStakes) FindActiveByWallet(_ context.Context, wallet string) ([]models.Stake, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Stake, 0)
	for _, s := range f.rows {
		if s.WalletAddress == wallet && s.Status == models.StakeStatusActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStakes) ActiveWallets(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	out := make([]string, 0)
	for _, s := range f.rows {
		if s.Status == models.StakeStatusActive && !seen[s.WalletAddress] {
			seen[s.WalletAddress] = true
			out = append(out, s.WalletAddress)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStakes) CompleteMatured(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.rows {
		if s.IsMatured(now) {
			s.Status = models.StakeStatusCompleted
			n++
		}
	}
	return n, nil
}

func (f *fakeStakes) ActiveCardPrincipal(_ context.Context) (decimal.Decimal, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := decimal.Zero
	count := 0
	for _, s := range f.rows {
		if s.Status == models.StakeStatusActive && s.Origin == models.StakeOriginCard {
			total = total.Add(s.Amount)
			count++
		}
	}
	return total, count, nil
}

func (f *fakeStakes) all() []models.Stake {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Stake, 0, len(f.rows))
	for _, s := range f.rows {
		out = append(out, *s)
	}
	return out
}

type fakeRewards struct {
	mu      sync.Mutex
	rows    []*models.PendingReward
	saveErr error
	markErr error
}

func (f *fakeRewards) Save(_ context.Context, reward *models.PendingReward) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	reward.Id = int64(len(f.rows) + 1)
	reward.CreatedAt = time.Now()
	reward.UpdatedAt = reward.CreatedAt
	cp := *reward
	cp.Metadata = reward.Metadata.Clone()
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeRewards) UpsertAPY(_ context.Context, reward *models.PendingReward) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.RewardType == models.RewardAPY && r.Status == models.RewardStatusPending &&
			r.UserId == reward.UserId && r.SourceId == reward.SourceId {
			r.Amount = reward.Amount
			for k, v := range reward.Metadata {
				r.Metadata[k] = v
			}
			r.UpdatedAt = time.Now()
			return false, nil
		}
	}
	reward.Id = int64(len(f.rows) + 1)
	cp := *reward
	cp.Metadata = reward.Metadata.Clone()
	f.rows = append(f.rows, &cp)
	return true, nil
}

func (f *fakeRewards) FindPending(_ context.Context, wallet string, types ...models.RewardType) ([]models.PendingReward, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PendingReward, 0)
	for _, r := range f.rows {
		if r.WalletAddress == wallet && r.Status == models.RewardStatusPending && hasType(types, r.RewardType) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRewards) MarkClaimed(_ context.Context, wallet string, types []models.RewardType, txHash string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return 0, f.markErr
	}
	var n int64
	for _, r := range f.rows {
		if r.WalletAddress == wallet && r.Status == models.RewardStatusPending && hasType(types, r.RewardType) {
			r.Status = models.RewardStatusClaimed
			r.ClaimTxHash = sql.NullString{String: txHash, Valid: true}
			r.ClaimedAt = sql.NullTime{Time: at, Valid: true}
			n++
		}
	}
	return n, nil
}

func (f *fakeRewards) Totals(_ context.Context, wallet string) (decimal.Decimal, decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	claimed, pending := decimal.Zero, decimal.Zero
	for _, r := range f.rows {
		if r.WalletAddress != wallet {
			continue
		}
		if r.Status == models.RewardStatusClaimed {
			claimed = claimed.Add(r.Amount)
		} else {
			pending = pending.Add(r.Amount)
		}
	}
	return claimed, pending, nil
}

func (f *fakeRewards) SumPending(_ context.Context, types ...models.RewardType) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := decimal.Zero
	for _, r := range f.rows {
		if r.Status == models.RewardStatusPending && hasType(types, r.RewardType) {
			total = total.Add(r.Amount)
		}
	}
	return total, nil
}

func (f *fakeRewards) byWallet(wallet string) []models.PendingReward {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PendingReward, 0)
	for _, r := range f.rows {
		if r.WalletAddress == wallet {
			out = append(out, *r)
		}
	}
	return out
}

func hasType(types []models.RewardType, t models.RewardType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

type fakeReferrals struct {
	mu   sync.Mutex
	rows map[[2]int64]*models.Referral
}

func (f *fakeReferrals) AddEarnings(_ context.Context, referrerId, referredId int64, amount decimal.Decimal) (*models.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows == nil {
		f.rows = map[[2]int64]*models.Referral{}
	}
	key := [2]int64{referrerId, referredId}
	r, ok := f.rows[key]
	if !ok {
		r = &models.Referral{Id: int64(len(f.rows) + 1), ReferrerUserId: referrerId, ReferredUserId: referredId}
		f.rows[key] = r
	}
	r.Earnings = r.Earnings.Add(amount)
	cp := *r
	return &cp, nil
}

func (f *fakeReferrals) FindByReferrer(_ context.Context, referrerId int64) ([]models.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Referral, 0)
	for _, r := range f.rows {
		if r.ReferrerUserId == referrerId {
			out = append(out, *r)
		}
	}
	return out, nil
}

type fakeReferralConfig struct {
	mu      sync.Mutex
	cfg     models.ReferralConfig
	saveErr error
}

func (f *fakeReferralConfig) Get(_ context.Context) (*models.ReferralConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.cfg
	return &cp, nil
}

func (f *fakeReferralConfig) Save(_ context.Context, cfg *models.ReferralConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.cfg = *cfg
	return nil
}

type fakeIntents struct {
	mu   sync.Mutex
	rows map[string]*models.PaymentIntent
}

func newFakeIntents() *fakeIntents {
	return &fakeIntents{rows: map[string]*models.PaymentIntent{}}
}

func (f *fakeIntents) Save(_ context.Context, intent *models.PaymentIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[intent.InvoiceId]; ok {
		return repositories.ErrDuplicate
	}
	intent.Id = int64(len(f.rows) + 1)
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}
	cp := *intent
	cp.Metadata = intent.Metadata.Clone()
	f.rows[intent.InvoiceId] = &cp
	return nil
}

func (f *fakeIntents) get(invoiceId string) *models.PaymentIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.rows[invoiceId]
	if !ok {
		return nil
	}
	cp := *i
	cp.Metadata = i.Metadata.Clone()
	return &cp
}

func (f *fakeIntents) FindByInvoiceId(_ context.Context, invoiceId string) (*models.PaymentIntent, error) {
	if i := f.get(invoiceId); i != nil {
		return i, nil
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeIntents) update(invoiceId string, fn func(*models.PaymentIntent) bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.rows[invoiceId]
	if !ok {
		return false
	}
	return fn(i)
}

func (f *fakeIntents) SetGatewayIntent(_ context.Context, invoiceId, gatewayIntentId string) error {
	f.update(invoiceId, func(i *models.PaymentIntent) bool {
		i.GatewayIntentId = gatewayIntentId
		return true
	})
	return nil
}

func (f *fakeIntents) ClaimSettlement(_ context.Context, invoiceId string, at time.Time) (bool, error) {
	return f.update(invoiceId, func(i *models.PaymentIntent) bool {
		if i.Status != models.PaymentPending || i.SettlementStartedAt.Valid {
			return false
		}
		i.SettlementStartedAt = sql.NullTime{Time: at, Valid: true}
		return true
	}), nil
}

func (f *fakeIntents) ReleaseSettlement(_ context.Context, invoiceId string) error {
	f.update(invoiceId, func(i *models.PaymentIntent) bool {
		if i.Status == models.PaymentPending {
			i.SettlementStartedAt = sql.NullTime{}
		}
		return true
	})
	return nil
}

func (f *fakeIntents) MarkSuccess(_ context.Context, invoiceId, stakeId, txHash string) (bool, error) {
	return f.update(invoiceId, func(i *models.PaymentIntent) bool {
		if i.Status != models.PaymentPending {
			return false
		}
		i.Status = models.PaymentSuccess
		i.StakeId = sql.NullString{String: stakeId, Valid: true}
		i.TxHash = sql.NullString{String: txHash, Valid: true}
		i.Error = sql.NullString{}
		return true
	}), nil
}

func (f *fakeIntents) MarkTerminal(_ context.Context, invoiceId string, status models.PaymentStatus, errMsg, txHash string, meta models.Metadata) (bool, error) {
	return f.update(invoiceId, func(i *models.PaymentIntent) bool {
		if i.Status != models.PaymentPending {
			return false
		}
		i.Status = status
		i.Error = sql.NullString{String: errMsg, Valid: errMsg != ""}
		if txHash != "" {
			i.TxHash = sql.NullString{String: txHash, Valid: true}
		}
		mergeMeta(i, meta)
		return true
	}), nil
}

func (f *fakeIntents) MarkDeclined(_ context.Context, invoiceId string, status models.PaymentStatus, meta models.Metadata) (bool, error) {
	return f.update(invoiceId, func(i *models.PaymentIntent) bool {
		if i.Status != models.PaymentPending || i.SettlementStartedAt.Valid {
			return false
		}
		i.Status = status
		mergeMeta(i, meta)
		return true
	}), nil
}

func (f *fakeIntents) MergeMetadata(_ context.Context, invoiceId string, meta models.Metadata) error {
	f.update(invoiceId, func(i *models.PaymentIntent) bool {
		mergeMeta(i, meta)
		return true
	})
	return nil
}

func (f *fakeIntents) SetFlagOnce(_ context.Context, invoiceId, key string) (bool, error) {
	return f.update(invoiceId, func(i *models.PaymentIntent) bool {
		if i.Metadata.Bool(key) {
			return false
		}
		mergeMeta(i, models.Metadata{key: true})
		return true
	}), nil
}

func (f *fakeIntents) FindStalePending(_ context.Context, before time.Time, limit int) ([]models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PaymentIntent, 0)
	for _, i := range f.rows {
		if i.Status == models.PaymentPending && !i.SettlementStartedAt.Valid && i.CreatedAt.Before(before) && len(out) < limit {
			out = append(out, *i)
		}
	}
	return out, nil
}

func (f *fakeIntents) FindStuckSettlements(_ context.Context, before time.Time) ([]models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PaymentIntent, 0)
	for _, i := range f.rows {
		if i.Status == models.PaymentPending && i.SettlementStartedAt.Valid && i.SettlementStartedAt.Time.Before(before) {
			cp := *i
			cp.Metadata = i.Metadata.Clone()
			out = append(out, cp)
		}
	}
	return out, nil
}

func mergeMeta(i *models.PaymentIntent, meta models.Metadata) {
	if i.Metadata == nil {
		i.Metadata = models.Metadata{}
	}
	for k, v := range meta {
		i.Metadata[k] = v
	}
}

type fakeTransactions struct {
	mu      sync.Mutex
	rows    []models.Transaction
	saveErr error
}

func (f *fakeTransactions) Save(_ context.Context, t *models.Transaction) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return false, f.saveErr
	}
	for _, r := range f.rows {
		if r.TxType == t.TxType && r.TxHash == t.TxHash {
			return false, nil
		}
	}
	t.Id = int64(len(f.rows) + 1)
	f.rows = append(f.rows, *t)
	return true, nil
}

func (f *fakeTransactions) byType(txType string) []models.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Transaction, 0)
	for _, r := range f.rows {
		if r.TxType == txType {
			out = append(out, r)
		}
	}
	return out
}

type fakeReconciliations struct {
	mu   sync.Mutex
	rows []models.ReconciliationEvent
}

func (f *fakeReconciliations) Save(_ context.Context, ev *models.ReconciliationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.Id = int64(len(f.rows) + 1)
	f.rows = append(f.rows, *ev)
	return nil
}

func (f *fakeReconciliations) FindOpen(_ context.Context, limit int) ([]models.ReconciliationEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ReconciliationEvent, 0)
	for _, r := range f.rows {
		if !r.ResolvedAt.Valid && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReconciliations) CountOpen(ctx context.Context) (int, error) {
	open, err := f.FindOpen(ctx, 1<<30)
	return len(open), err
}

func (f *fakeReconciliations) Resolve(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].Id == id && !f.rows[i].ResolvedAt.Valid {
			f.rows[i].ResolvedAt = sql.NullTime{Time: time.Now(), Valid: true}
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeReconciliations) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.rows))
	for _, r := range f.rows {
		out = append(out, r.Kind)
	}
	return out
}

// fakeChain is a scriptable staking contract.
type fakeChain struct {
	mu sync.Mutex

	pending      map[string]decimal.Decimal
	pendingErr   map[string]error
	claimable    map[string]chain.ClaimableRewards
	claimableErr error
	available    decimal.Decimal
	balance      decimal.Decimal
	staked       decimal.Decimal
	paused       bool
	referral     chain.ReferralConfig
	setRefErr    error
	amounts      map[int64]chain.AmountConfig
	locks        map[int64]chain.LockConfig
	lockErr      error
	stakeCounts  map[string]int64
	onChain      map[string]chain.StakeEvent
	stakeByTxErr error
	createErr    error
	createDelay  time.Duration
	txCounter    int

	createCalls atomic.Int32
	pendingRead atomic.Int32
	claims      []string
	created     []chain.CreateStakeRequest
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		pending:     map[string]decimal.Decimal{},
		pendingErr:  map[string]error{},
		claimable:   map[string]chain.ClaimableRewards{},
		amounts:     map[int64]chain.AmountConfig{1: {Id: 1, USDAmount: decimal.NewFromInt(100), Active: true}},
		locks:       map[int64]chain.LockConfig{2: {Id: 2, LockDays: 90, APRBps: 1200, Active: true}},
		stakeCounts: map[string]int64{},
		onChain:     map[string]chain.StakeEvent{},
	}
}

// mineStake records a user stake as the contract would have, under the next
// per-wallet index.
func (c *fakeChain) mineStake(wallet, txHash string, amount decimal.Decimal, lockDays int, aprBps, instantBps int64) chain.StakeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	txHash = strings.ToLower(txHash)
	if event, ok := c.onChain[txHash]; ok {
		return event
	}
	idx := c.stakeCounts[wallet]
	c.stakeCounts[wallet] = idx + 1
	event := chain.StakeEvent{
		TxHash:           txHash,
		BlockNumber:      42,
		Wallet:           wallet,
		StakeIndex:       idx,
		Amount:           amount,
		LockDays:         lockDays,
		APRBps:           aprBps,
		InstantRewardBps: instantBps,
	}
	c.onChain[txHash] = event
	return event
}

func pendingKey(wallet string, idx int64) string {
	return fmt.Sprintf("%s/%d", wallet, idx)
}

func (c *fakeChain) setPending(wallet string, idx int64, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[pendingKey(wallet, idx)] = amount
}

func (c *fakeChain) nextTx() string {
	c.txCounter++
	return fmt.Sprintf("0x%064x", c.txCounter)
}

func (c *fakeChain) PendingReward(_ context.Context, wallet string, stakeIndex int64) (decimal.Decimal, error) {
	c.pendingRead.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.pendingErr[wallet]; err != nil {
		return decimal.Zero, err
	}
	return c.pending[pendingKey(wallet, stakeIndex)], nil
}

func (c *fakeChain) GetClaimableRewards(_ context.Context, wallet string) (chain.ClaimableRewards, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimableErr != nil {
		return chain.ClaimableRewards{}, c.claimableErr
	}
	return c.claimable[wallet], nil
}

func (c *fakeChain) TotalStaked(_ context.Context) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.staked, nil
}

func (c *fakeChain) AvailableRewards(_ context.Context) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available, nil
}

func (c *fakeChain) ContractBalance(_ context.Context) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, nil
}

func (c *fakeChain) Paused(_ context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused, nil
}

func (c *fakeChain) GetReferralConfig(_ context.Context) (chain.ReferralConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.referral, nil
}

func (c *fakeChain) GetAmountConfig(_ context.Context, id int64) (chain.AmountConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.amounts[id]
	if !ok {
		return chain.AmountConfig{Id: id}, nil
	}
	return cfg, nil
}

func (c *fakeChain) GetLockConfig(_ context.Context, id int64) (chain.LockConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lockErr != nil {
		return chain.LockConfig{}, c.lockErr
	}
	cfg, ok := c.locks[id]
	if !ok {
		return chain.LockConfig{Id: id}, nil
	}
	return cfg, nil
}

func (c *fakeChain) StakeCount(_ context.Context, wallet string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stakeCounts[wallet], nil
}

func (c *fakeChain) StakeByTx(_ context.Context, txHash string) (*chain.StakeEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stakeByTxErr != nil {
		return nil, c.stakeByTxErr
	}
	event, ok := c.onChain[strings.ToLower(txHash)]
	if !ok {
		return nil, fmt.Errorf("stakeByTx: %w: %s", chain.ErrTxNotFound, txHash)
	}
	return &event, nil
}

func (c *fakeChain) AdminCreateStake(_ context.Context, req chain.CreateStakeRequest) (*chain.Receipt, error) {
	c.createCalls.Add(1)
	c.mu.Lock()
	delay, err := c.createDelay, c.createErr
	c.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.stakeCounts[req.Wallet]
	c.stakeCounts[req.Wallet] = idx + 1
	c.created = append(c.created, req)
	return &chain.Receipt{TxHash: c.nextTx(), BlockNumber: 100 + uint64(c.txCounter), StakeIndex: idx}, nil
}

func (c *fakeChain) TransferRewards(_ context.Context, _ string, amount decimal.Decimal) (*chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = c.available.Sub(amount)
	return &chain.Receipt{TxHash: c.nextTx(), BlockNumber: 200, StakeIndex: -1}, nil
}

func (c *fakeChain) claim(kind, wallet string) (*chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims = append(c.claims, kind+":"+wallet)
	return &chain.Receipt{TxHash: c.nextTx(), BlockNumber: 300, StakeIndex: -1}, nil
}

func (c *fakeChain) ClaimInstantRewardsFor(_ context.Context, wallet string) (*chain.Receipt, error) {
	return c.claim("instant", wallet)
}

func (c *fakeChain) ClaimReferralRewardsFor(_ context.Context, wallet string) (*chain.Receipt, error) {
	return c.claim("referral", wallet)
}

func (c *fakeChain) ClaimAllRewardsFor(_ context.Context, wallet string) (*chain.Receipt, error) {
	return c.claim("all", wallet)
}

func (c *fakeChain) SetReferralConfig(_ context.Context, cfg chain.ReferralConfig) (*chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setRefErr != nil {
		return nil, c.setRefErr
	}
	c.referral = cfg
	return &chain.Receipt{TxHash: c.nextTx(), BlockNumber: 400, StakeIndex: -1}, nil
}

type fakeGateway struct {
	mu        sync.Mutex
	statuses  map[string]string
	createErr error
	getErr    error
	block     bool
	nextId    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: map[string]string{}}
}

func (g *fakeGateway) CreateIntent(ctx context.Context, req *gateway.CreateIntentRequest) (*gateway.Intent, error) {
	g.mu.Lock()
	block, err := g.block, g.createErr
	g.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextId++
	id := fmt.Sprintf("pi_%d", g.nextId)
	g.statuses[id] = "requires_payment"
	return &gateway.Intent{Id: id, ReferenceId: req.ReferenceId, Status: "requires_payment", CheckoutURL: "https://pay.example/" + id}, nil
}

func (g *fakeGateway) GetIntent(_ context.Context, intentId string) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return nil, g.getErr
	}
	status, ok := g.statuses[intentId]
	if !ok {
		return nil, &gateway.StatusError{Code: 404, Body: "not found"}
	}
	return &gateway.Intent{Id: intentId, Status: status}, nil
}

func (g *fakeGateway) setStatus(intentId, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[intentId] = status
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *fakeNotifier) Dispatch(msg notify.Notification) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return true
}

func (n *fakeNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.sent {
		if m.Kind == kind {
			c++
		}
	}
	return c
}

type testEnv struct {
	clock    *clockwork.FakeClock
	users    *fakeUsers
	stakes   *fakeStakes
	rewards  *fakeRewards
	refs     *fakeReferrals
	refCfg   *fakeReferralConfig
	intents  *fakeIntents
	txs      *fakeTransactions
	recon    *fakeReconciliations
	chain    *fakeChain
	gateway  *fakeGateway
	notifier *fakeNotifier
	cache    cache.Cache

	reconciler *Reconciler
	userSvc    *UserService
	rewardSvc  *RewardService
	refSvc     *ReferralService
	stakeSvc   *StakeService
	paySvc     *PaymentService
	treasury   *TreasuryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	e := &testEnv{
		clock:    clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		users:    newFakeUsers(),
		stakes:   &fakeStakes{},
		rewards:  &fakeRewards{},
		refs:     &fakeReferrals{},
		refCfg:   &fakeReferralConfig{},
		intents:  newFakeIntents(),
		txs:      &fakeTransactions{},
		recon:    &fakeReconciliations{},
		chain:    newFakeChain(),
		gateway:  newFakeGateway(),
		notifier: &fakeNotifier{},
	}
	e.cache = cache.NewMemory(e.clock)

	e.reconciler = NewReconciler(e.recon, e.notifier)
	e.treasury = NewTreasuryService(e.stakes, e.rewards, e.txs, e.chain, e.cache, e.reconciler, 5*time.Minute, e.clock)
	e.userSvc = NewUserService(e.users)
	e.rewardSvc = NewRewardService(e.rewards, e.stakes, e.users, e.txs, e.chain, e.reconciler, e.treasury, e.clock)
	e.refSvc = NewReferralService(e.users, e.refs, e.refCfg, e.rewardSvc, e.chain, e.reconciler, e.clock)
	e.stakeSvc = NewStakeService(e.userSvc, e.stakes, e.txs, e.rewardSvc, e.refSvc, e.chain, e.reconciler, e.treasury, e.clock)
	e.paySvc = NewPaymentService(e.intents, e.userSvc, e.stakeSvc, e.txs, e.gateway, e.chain, e.reconciler, e.notifier, e.treasury, e.clock,
		PaymentOptions{TokenUSDPrice: decimal.RequireFromString("0.01"), GatewayTimeout: 200 * time.Millisecond})
	return e
}

func wallet(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

var errBoom = errors.New("boom")

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("expected %s, got %s", want, got)
	}
}
