package repositories

import (
	"context"
	"stakeledger/internal/models"
	"time"

	"github.com/jmoiron/sqlx"
)

type ReconciliationRepository struct {
	db *sqlx.DB
}

func NewReconciliationRepository(db *sqlx.DB) *ReconciliationRepository {
	return &ReconciliationRepository{
		db: db,
	}
}

func (r *ReconciliationRepository) Save(ctx context.Context, ev *models.ReconciliationEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query, args, err := r.db.BindNamed(
		`insert into reconciliation_events (kind, wallet_address, amount, tx_hash, reference, detail)
		 values (:kind, :wallet_address, :amount, :tx_hash, :reference, :detail)
		 returning id, created_at`,
		ev,
	)
	if err != nil {
		return err
	}
	return r.db.QueryRowxContext(ctx, query, args...).Scan(&ev.Id, &ev.CreatedAt)
}

func (r *ReconciliationRepository) FindOpen(ctx context.Context, limit int) ([]models.ReconciliationEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	events := make([]models.ReconciliationEvent, 0)
	if err := r.db.SelectContext(
		ctx,
		&events,
		"select * from reconciliation_events where resolved_at is null order by id desc limit $1",
		limit,
	); err != nil {
		log.Error("Failed find open reconciliation events ", err)
		return nil, err
	}
	return events, nil
}

func (r *ReconciliationRepository) CountOpen(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var count int
	if err := r.db.QueryRowxContext(ctx, "select count(*) from reconciliation_events where resolved_at is null").Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ReconciliationRepository) Resolve(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(ctx, "update reconciliation_events set resolved_at=now() where id=$1 and resolved_at is null", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
