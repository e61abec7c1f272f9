package chain

import (
	"context"
	"crypto/ecdsa"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"stakeledger/internal/config"
	"stakeledger/internal/metrics"
	"stakeledger/internal/util"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var log = config.InitLogger()

//go:embed abi/staking.json
var stakingABI string

//go:embed abi/erc20.json
var erc20ABI string

// EVMClient talks to the staking contract through a JSON-RPC node. All writes
// are signed by one admin key.
type EVMClient struct {
	eth          *ethclient.Client
	contract     *bind.BoundContract
	token        *bind.BoundContract
	contractABI  abi.ABI
	contractAddr common.Address

	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int

	timeout time.Duration
	limiter *rate.Limiter
	retry   util.RetryConfig
	// one in-flight submission at a time so nonces are taken in order
	writes *semaphore.Weighted
}

func Dial(ctx context.Context, cfg *config.ChainConfig) (*EVMClient, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	eth, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}

	chainID, err := eth.ChainID(dialCtx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if chainID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("%w: node reports chain %s, expected %d", ErrWrongNetwork, chainID, cfg.ChainID)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.AdminPrivateKey, "0x"))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("invalid admin key: %w", err)
	}

	if !common.IsHexAddress(cfg.StakingContract) {
		eth.Close()
		return nil, fmt.Errorf("invalid staking contract address %q", cfg.StakingContract)
	}

	c, err := newEVMClient(eth, common.HexToAddress(cfg.StakingContract), key, chainID, cfg.Timeout, cfg.RateLimit)
	if err != nil {
		eth.Close()
		return nil, err
	}

	tokenAddr, err := c.tokenAddress(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("failed to resolve staking token: %w", err)
	}
	tokenABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("failed to parse erc20 ABI: %w", err)
	}
	c.token = bind.NewBoundContract(tokenAddr, tokenABI, eth, eth, eth)

	log.WithFields(logrus.Fields{
		"chainId":  chainID.String(),
		"contract": c.contractAddr.Hex(),
		"token":    tokenAddr.Hex(),
		"admin":    c.from.Hex(),
	}).Info("Connected to staking contract")

	return c, nil
}

func newEVMClient(eth *ethclient.Client, addr common.Address, key *ecdsa.PrivateKey, chainID *big.Int, timeout time.Duration, rps float64) (*EVMClient, error) {
	parsed, err := abi.JSON(strings.NewReader(stakingABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse staking ABI: %w", err)
	}

	return &EVMClient{
		eth:          eth,
		contract:     bind.NewBoundContract(addr, parsed, eth, eth, eth),
		contractABI:  parsed,
		contractAddr: addr,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		chainID:      chainID,
		timeout:      timeout,
		limiter:      rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		retry:        util.DefaultRetryConfig(),
		writes:       semaphore.NewWeighted(1),
	}, nil
}

func (c *EVMClient) Close() {
	c.eth.Close()
}

// call performs a throttled, retried read against bc.
func (c *EVMClient) call(ctx context.Context, bc *bind.BoundContract, method string, args ...any) ([]any, error) {
	start := time.Now()
	var out []any

	err := util.Retry(ctx, c.retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		out = nil
		return bc.Call(&bind.CallOpts{Context: callCtx}, &out, method, args...)
	})

	metrics.ChainCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ChainCallsTotal.WithLabelValues(method, "error").Inc()
		return nil, classify(method, err)
	}
	metrics.ChainCallsTotal.WithLabelValues(method, "ok").Inc()
	return out, nil
}

// transact submits a write and waits for it to be mined. Writes are never retried.
func (c *EVMClient) transact(ctx context.Context, method string, args ...any) (*types.Transaction, *types.Receipt, error) {
	start := time.Now()
	defer func() {
		metrics.ChainCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	tx, err := c.submit(ctx, method, args...)
	if err != nil {
		metrics.ChainCallsTotal.WithLabelValues(method, "error").Inc()
		return nil, nil, classify(method, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.eth, tx)
	if err != nil {
		metrics.ChainCallsTotal.WithLabelValues(method, "unconfirmed").Inc()
		log.WithFields(logrus.Fields{
			"method": method,
			"txHash": tx.Hash().Hex(),
		}).Warn("Contract transaction broadcast but not confirmed: ", err)
		return tx, nil, &UnconfirmedError{Method: method, TxHash: tx.Hash().Hex(), Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		metrics.ChainCallsTotal.WithLabelValues(method, "reverted").Inc()
		return tx, receipt, fmt.Errorf("%s: %w: %s", method, ErrReverted, tx.Hash().Hex())
	}

	metrics.ChainCallsTotal.WithLabelValues(method, "ok").Inc()
	log.WithFields(logrus.Fields{
		"method": method,
		"txHash": tx.Hash().Hex(),
		"block":  receipt.BlockNumber.Uint64(),
	}).Info("Contract transaction mined")

	return tx, receipt, nil
}

func (c *EVMClient) submit(ctx context.Context, method string, args ...any) (*types.Transaction, error) {
	if err := c.writes.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.writes.Release(1)

	submitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	auth, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, err
	}
	auth.Context = submitCtx

	return c.contract.Transact(auth, method, args...)
}

func receiptOf(tx *types.Transaction, r *types.Receipt) *Receipt {
	return &Receipt{
		TxHash:      tx.Hash().Hex(),
		BlockNumber: r.BlockNumber.Uint64(),
		StakeIndex:  -1,
	}
}

func (c *EVMClient) tokenAddress(ctx context.Context) (common.Address, error) {
	out, err := c.call(ctx, c.contract, "token")
	if err != nil {
		return common.Address{}, err
	}
	return outAddress(out, 0)
}

func (c *EVMClient) PendingReward(ctx context.Context, wallet string, stakeIndex int64) (decimal.Decimal, error) {
	out, err := c.call(ctx, c.contract, "pendingReward", common.HexToAddress(wallet), big.NewInt(stakeIndex))
	if err != nil {
		return decimal.Zero, err
	}
	v, err := outBig(out, 0)
	return FromWei(v), err
}

func (c *EVMClient) GetClaimableRewards(ctx context.Context, wallet string) (ClaimableRewards, error) {
	out, err := c.call(ctx, c.contract, "getClaimableRewards", common.HexToAddress(wallet))
	if err != nil {
		return ClaimableRewards{}, err
	}
	instant, err := outBig(out, 0)
	if err != nil {
		return ClaimableRewards{}, err
	}
	referral, err := outBig(out, 1)
	if err != nil {
		return ClaimableRewards{}, err
	}
	return ClaimableRewards{Instant: FromWei(instant), Referral: FromWei(referral)}, nil
}

func (c *EVMClient) TotalStaked(ctx context.Context) (decimal.Decimal, error) {
	return c.readAmount(ctx, "totalStaked")
}

func (c *EVMClient) AvailableRewards(ctx context.Context) (decimal.Decimal, error) {
	return c.readAmount(ctx, "availableRewards")
}

func (c *EVMClient) ContractBalance(ctx context.Context) (decimal.Decimal, error) {
	out, err := c.call(ctx, c.token, "balanceOf", c.contractAddr)
	if err != nil {
		return decimal.Zero, err
	}
	v, err := outBig(out, 0)
	return FromWei(v), err
}

func (c *EVMClient) Paused(ctx context.Context) (bool, error) {
	out, err := c.call(ctx, c.contract, "paused")
	if err != nil {
		return false, err
	}
	return outBool(out, 0)
}

func (c *EVMClient) GetReferralConfig(ctx context.Context) (ReferralConfig, error) {
	var cfg ReferralConfig

	out, err := c.call(ctx, c.contract, "referralPercentage")
	if err != nil {
		return cfg, err
	}
	referral, err := outBig(out, 0)
	if err != nil {
		return cfg, err
	}

	out, err = c.call(ctx, c.contract, "referrerPercentage")
	if err != nil {
		return cfg, err
	}
	referrer, err := outBig(out, 0)
	if err != nil {
		return cfg, err
	}

	out, err = c.call(ctx, c.contract, "referralPaused")
	if err != nil {
		return cfg, err
	}
	paused, err := outBool(out, 0)
	if err != nil {
		return cfg, err
	}

	cfg.ReferralPercentage = bpsToPercent(referral)
	cfg.ReferrerPercentage = bpsToPercent(referrer)
	cfg.Paused = paused
	return cfg, nil
}

func (c *EVMClient) GetAmountConfig(ctx context.Context, id int64) (AmountConfig, error) {
	out, err := c.call(ctx, c.contract, "getAmountConfig", big.NewInt(id))
	if err != nil {
		return AmountConfig{}, err
	}
	cents, err := outBig(out, 0)
	if err != nil {
		return AmountConfig{}, err
	}
	active, err := outBool(out, 1)
	if err != nil {
		return AmountConfig{}, err
	}
	return AmountConfig{
		Id:        id,
		USDAmount: decimal.NewFromBigInt(cents, -2),
		Active:    active,
	}, nil
}

func (c *EVMClient) GetLockConfig(ctx context.Context, id int64) (LockConfig, error) {
	out, err := c.call(ctx, c.contract, "getLockConfig", big.NewInt(id))
	if err != nil {
		return LockConfig{}, err
	}
	days, err := outBig(out, 0)
	if err != nil {
		return LockConfig{}, err
	}
	apr, err := outBig(out, 1)
	if err != nil {
		return LockConfig{}, err
	}
	active, err := outBool(out, 2)
	if err != nil {
		return LockConfig{}, err
	}
	return LockConfig{
		Id:       id,
		LockDays: int(days.Int64()),
		APRBps:   apr.Int64(),
		Active:   active,
	}, nil
}

func (c *EVMClient) StakeCount(ctx context.Context, wallet string) (int64, error) {
	out, err := c.call(ctx, c.contract, "stakeCount", common.HexToAddress(wallet))
	if err != nil {
		return 0, err
	}
	v, err := outBig(out, 0)
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

func (c *EVMClient) AdminCreateStake(ctx context.Context, req CreateStakeRequest) (*Receipt, error) {
	tx, receipt, err := c.transact(
		ctx,
		"adminCreateStake",
		common.HexToAddress(req.Wallet),
		ToWei(req.Amount),
		big.NewInt(int64(req.LockDays)),
		big.NewInt(req.APRBps),
		big.NewInt(req.InstantRewardBps),
	)
	if err != nil {
		return nil, err
	}

	res := receiptOf(tx, receipt)
	if event, ok := parseStakeCreated(c.contractABI, c.contractAddr, receipt.Logs); ok {
		res.StakeIndex = event.StakeIndex
	} else {
		log.WithField("txHash", res.TxHash).Warn("StakeCreated event missing from receipt")
	}
	return res, nil
}

func (c *EVMClient) TransferRewards(ctx context.Context, to string, amount decimal.Decimal) (*Receipt, error) {
	tx, receipt, err := c.transact(ctx, "transferRewards", common.HexToAddress(to), ToWei(amount))
	if err != nil {
		return nil, err
	}
	return receiptOf(tx, receipt), nil
}

func (c *EVMClient) ClaimInstantRewardsFor(ctx context.Context, wallet string) (*Receipt, error) {
	return c.claimFor(ctx, "claimInstantRewardsFor", wallet)
}

func (c *EVMClient) ClaimReferralRewardsFor(ctx context.Context, wallet string) (*Receipt, error) {
	return c.claimFor(ctx, "claimReferralRewardsFor", wallet)
}

func (c *EVMClient) ClaimAllRewardsFor(ctx context.Context, wallet string) (*Receipt, error) {
	return c.claimFor(ctx, "claimAllRewardsFor", wallet)
}

func (c *EVMClient) claimFor(ctx context.Context, method, wallet string) (*Receipt, error) {
	tx, receipt, err := c.transact(ctx, method, common.HexToAddress(wallet))
	if err != nil {
		return nil, err
	}
	return receiptOf(tx, receipt), nil
}

func (c *EVMClient) SetReferralConfig(ctx context.Context, cfg ReferralConfig) (*Receipt, error) {
	tx, receipt, err := c.transact(
		ctx,
		"setReferralConfig",
		percentToBps(cfg.ReferralPercentage),
		percentToBps(cfg.ReferrerPercentage),
		cfg.Paused,
	)
	if err != nil {
		return nil, err
	}
	return receiptOf(tx, receipt), nil
}

func (c *EVMClient) readAmount(ctx context.Context, method string) (decimal.Decimal, error) {
	out, err := c.call(ctx, c.contract, method)
	if err != nil {
		return decimal.Zero, err
	}
	v, err := outBig(out, 0)
	return FromWei(v), err
}

// StakeByTx loads the receipt of txHash and decodes the StakeCreated event this
// contract emitted in it.
func (c *EVMClient) StakeByTx(ctx context.Context, txHash string) (*StakeEvent, error) {
	if !isTxHash(txHash) {
		return nil, fmt.Errorf("stakeByTx: %w: malformed hash %q", ErrTxNotFound, txHash)
	}
	hash := common.HexToHash(txHash)

	start := time.Now()
	var receipt *types.Receipt
	err := util.Retry(ctx, c.retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var err error
		receipt, err = c.eth.TransactionReceipt(callCtx, hash)
		return err
	})
	metrics.ChainCallDuration.WithLabelValues("stakeByTx").Observe(time.Since(start).Seconds())
	if errors.Is(err, ethereum.NotFound) {
		metrics.ChainCallsTotal.WithLabelValues("stakeByTx", "not_found").Inc()
		return nil, fmt.Errorf("stakeByTx: %w: %s", ErrTxNotFound, hash.Hex())
	}
	if err != nil {
		metrics.ChainCallsTotal.WithLabelValues("stakeByTx", "error").Inc()
		return nil, classify("stakeByTx", err)
	}
	metrics.ChainCallsTotal.WithLabelValues("stakeByTx", "ok").Inc()

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("stakeByTx: %w: %s", ErrReverted, hash.Hex())
	}
	event, ok := parseStakeCreated(c.contractABI, c.contractAddr, receipt.Logs)
	if !ok {
		return nil, fmt.Errorf("stakeByTx: %w: %s", ErrNoStakeEvent, hash.Hex())
	}
	event.TxHash = strings.ToLower(hash.Hex())
	if receipt.BlockNumber != nil {
		event.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return &event, nil
}

func isTxHash(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 2*common.HashLength {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

// parseStakeCreated decodes the first StakeCreated log emitted by contract.
func parseStakeCreated(parsed abi.ABI, contract common.Address, logs []*types.Log) (StakeEvent, bool) {
	event, ok := parsed.Events["StakeCreated"]
	if !ok {
		return StakeEvent{}, false
	}
	for _, l := range logs {
		if l == nil || l.Address != contract || len(l.Topics) < 3 || l.Topics[0] != event.ID {
			continue
		}
		values, err := event.Inputs.NonIndexed().Unpack(l.Data)
		if err != nil || len(values) < 4 {
			log.WithField("txHash", l.TxHash.Hex()).Warn("Undecodable StakeCreated event: ", err)
			continue
		}
		amount, _ := values[0].(*big.Int)
		lockDays, _ := values[1].(*big.Int)
		aprBps, _ := values[2].(*big.Int)
		instantBps, _ := values[3].(*big.Int)
		if amount == nil || lockDays == nil || aprBps == nil || instantBps == nil {
			continue
		}
		return StakeEvent{
			Wallet:           strings.ToLower(common.BytesToAddress(l.Topics[1].Bytes()).Hex()),
			StakeIndex:       new(big.Int).SetBytes(l.Topics[2].Bytes()).Int64(),
			Amount:           FromWei(amount),
			LockDays:         int(lockDays.Int64()),
			APRBps:           aprBps.Int64(),
			InstantRewardBps: instantBps.Int64(),
		}, true
	}
	return StakeEvent{}, false
}

func outBig(out []any, i int) (*big.Int, error) {
	if len(out) <= i {
		return nil, ErrUnexpectedOutput
	}
	v, ok := out[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: value %d is %T", ErrUnexpectedOutput, i, out[i])
	}
	return v, nil
}

func outBool(out []any, i int) (bool, error) {
	if len(out) <= i {
		return false, ErrUnexpectedOutput
	}
	v, ok := out[i].(bool)
	if !ok {
		return false, fmt.Errorf("%w: value %d is %T", ErrUnexpectedOutput, i, out[i])
	}
	return v, nil
}

func outAddress(out []any, i int) (common.Address, error) {
	if len(out) <= i {
		return common.Address{}, ErrUnexpectedOutput
	}
	v, ok := out[i].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: value %d is %T", ErrUnexpectedOutput, i, out[i])
	}
	return v, nil
}
