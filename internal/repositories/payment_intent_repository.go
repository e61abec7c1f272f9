package repositories

import (
	"context"
	"stakeledger/internal/models"
	"time"

	"github.com/jmoiron/sqlx"
)

type PaymentIntentRepository struct {
	db *sqlx.DB
}

func NewPaymentIntentRepository(db *sqlx.DB) *PaymentIntentRepository {
	return &PaymentIntentRepository{
		db: db,
	}
}

func (r *PaymentIntentRepository) Save(ctx context.Context, intent *models.PaymentIntent) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.Beginx()
	if err != nil {
		log.Error(err)
		return err
	}
	defer tx.Rollback()

	query, args, err := tx.BindNamed(
		`insert into payment_intent (invoice_id, gateway_intent_id, wallet_address, email, name, usd_amount, token_amount, amount_config_id, lock_config_id, status, metadata)
		 values (:invoice_id, :gateway_intent_id, :wallet_address, :email, :name, :usd_amount, :token_amount, :amount_config_id, :lock_config_id, :status, :metadata)
		 returning id, created_at, updated_at`,
		intent,
	)
	if err != nil {
		log.Error("Failed insert payment intent ", err)
		return err
	}
	if err := tx.QueryRowxContext(ctx, query, args...).Scan(&intent.Id, &intent.CreatedAt, &intent.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		log.Error("Failed save payment intent ", err)
		return err
	}

	return commit(tx)
}

func (r *PaymentIntentRepository) FindByInvoiceId(ctx context.Context, invoiceId string) (*models.PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var intent models.PaymentIntent
	if err := r.db.GetContext(ctx, &intent, "select * from payment_intent where invoice_id=$1", invoiceId); err != nil {
		return nil, notFound(err)
	}
	return &intent, nil
}

func (r *PaymentIntentRepository) SetGatewayIntent(ctx context.Context, invoiceId, gatewayIntentId string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(
		ctx,
		"update payment_intent set gateway_intent_id=$2, updated_at=now() where invoice_id=$1",
		invoiceId,
		gatewayIntentId,
	)
	if err != nil {
		log.Error("Failed set gateway intent ", err)
	}
	return err
}

// ClaimSettlement marks the intent as being settled by the caller. Only one
// caller can win for a given intent; the rest get false.
func (r *PaymentIntentRepository) ClaimSettlement(ctx context.Context, invoiceId string, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(
		ctx,
		`update payment_intent set settlement_started_at=$2, updated_at=now()
		 where invoice_id=$1 and status='PENDING' and settlement_started_at is null`,
		invoiceId,
		at,
	)
	if err != nil {
		log.Error("Failed claim settlement ", err)
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseSettlement gives up a claim taken by ClaimSettlement before anything
// irreversible happened, so another trigger can retry.
func (r *PaymentIntentRepository) ReleaseSettlement(ctx context.Context, invoiceId string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(
		ctx,
		"update payment_intent set settlement_started_at=null, updated_at=now() where invoice_id=$1 and status='PENDING'",
		invoiceId,
	)
	if err != nil {
		log.Error("Failed release settlement ", err)
	}
	return err
}

// MarkSuccess moves a pending intent to SUCCESS. It reports false if the intent
// had already left PENDING.
func (r *PaymentIntentRepository) MarkSuccess(ctx context.Context, invoiceId, stakeId, txHash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(
		ctx,
		`update payment_intent set status='SUCCESS', stake_id=$2, tx_hash=$3, error=null, updated_at=now()
		 where invoice_id=$1 and status='PENDING'`,
		invoiceId,
		stakeId,
		txHash,
	)
	if err != nil {
		log.Error("Failed mark intent success ", err)
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkTerminal moves a pending intent to FAILED or CANCELLED, merging meta into
// its metadata. txHash is kept when an on-chain stake already exists.
func (r *PaymentIntentRepository) MarkTerminal(ctx context.Context, invoiceId string, status models.PaymentStatus, errMsg string, txHash string, meta models.Metadata) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(
		ctx,
		`update payment_intent set status=$2, error=nullif($3, ''), tx_hash=coalesce(nullif($4, ''), tx_hash),
		        metadata = metadata || $5::jsonb, updated_at=now()
		 where invoice_id=$1 and status='PENDING'`,
		invoiceId,
		status,
		errMsg,
		txHash,
		meta,
	)
	if err != nil {
		log.Error("Failed mark intent terminal ", err)
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkDeclined records a gateway-reported FAILED or CANCELLED status. An intent
// whose settlement is already running is left to the settling caller.
func (r *PaymentIntentRepository) MarkDeclined(ctx context.Context, invoiceId string, status models.PaymentStatus, meta models.Metadata) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(
		ctx,
		`update payment_intent set status=$2, metadata = metadata || $3::jsonb, updated_at=now()
		 where invoice_id=$1 and status='PENDING' and settlement_started_at is null`,
		invoiceId,
		status,
		meta,
	)
	if err != nil {
		log.Error("Failed mark intent declined ", err)
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PaymentIntentRepository) MergeMetadata(ctx context.Context, invoiceId string, meta models.Metadata) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(
		ctx,
		"update payment_intent set metadata = metadata || $2::jsonb, updated_at=now() where invoice_id=$1",
		invoiceId,
		meta,
	)
	if err != nil {
		log.Error("Failed merge intent metadata ", err)
	}
	return err
}

// SetFlagOnce sets a boolean metadata flag and reports whether this call set it.
func (r *PaymentIntentRepository) SetFlagOnce(ctx context.Context, invoiceId, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(
		ctx,
		`update payment_intent set metadata = jsonb_set(metadata, array[$2::text], 'true'::jsonb, true), updated_at=now()
		 where invoice_id=$1 and coalesce((metadata->>$2)::boolean, false) = false`,
		invoiceId,
		key,
	)
	if err != nil {
		log.Error("Failed set intent flag ", err)
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// FindStalePending lists intents still PENDING and unclaimed that were created before the cutoff.
func (r *PaymentIntentRepository) FindStalePending(ctx context.Context, before time.Time, limit int) ([]models.PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	intents := make([]models.PaymentIntent, 0)
	if err := r.db.SelectContext(
		ctx,
		&intents,
		`select * from payment_intent
		 where status='PENDING' and settlement_started_at is null and created_at < $1
		 order by created_at limit $2`,
		before,
		limit,
	); err != nil {
		log.Error("Failed find stale intents ", err)
		return nil, err
	}
	return intents, nil
}

// FindStuckSettlements lists intents whose settlement started before the cutoff but never finished.
func (r *PaymentIntentRepository) FindStuckSettlements(ctx context.Context, before time.Time) ([]models.PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	intents := make([]models.PaymentIntent, 0)
	if err := r.db.SelectContext(
		ctx,
		&intents,
		"select * from payment_intent where status='PENDING' and settlement_started_at < $1 order by settlement_started_at",
		before,
	); err != nil {
		log.Error("Failed find stuck settlements ", err)
		return nil, err
	}
	return intents, nil
}
