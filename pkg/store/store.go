// Package store persists bridge jobs and NAV snapshots in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

var ErrJobNotFound = errors.New("bridge job not found")

type pgStore struct {
	db *bun.DB
}

// NewStore creates a new postgres implementation of the bridge job store
func NewStore(db *bun.DB) *pgStore {
	return &pgStore{db: db}
}

func (s *pgStore) CreateJob(ctx context.Context, job *BridgeJob) error {
	dao := toJobDao(job)

	_, err := s.db.NewInsert().
		Model(dao).
		Returning("id, created_at, updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create bridge job: %w", err)
	}

	job.ID = dao.ID
	job.CreatedAt = dao.CreatedAt
	job.UpdatedAt = dao.UpdatedAt
	return nil
}

func (s *pgStore) Job(ctx context.Context, id int64) (*BridgeJob, error) {
	dao := new(BridgeJobDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get bridge job: %w", err)
	}
	return toJob(dao), nil
}

// PendingJobs returns all non-terminal jobs ordered by creation time.
func (s *pgStore) PendingJobs(ctx context.Context) ([]*BridgeJob, error) {
	var daos []BridgeJobDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("state NOT IN (?)", bun.In([]string{string(StateDepositedToPool), string(StateFailed)})).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	jobs := make([]*BridgeJob, len(daos))
	for i := range daos {
		jobs[i] = toJob(&daos[i])
	}
	return jobs, nil
}

func (s *pgStore) ListJobs(ctx context.Context, limit int) ([]*BridgeJob, error) {
	var daos []BridgeJobDao
	err := s.db.NewSelect().
		Model(&daos).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	jobs := make([]*BridgeJob, len(daos))
	for i := range daos {
		jobs[i] = toJob(&daos[i])
	}
	return jobs, nil
}

// ApplyTransition moves a job to the next state and persists exactly the
// fields the transition carries. Terminal rows are never touched.
func (s *pgStore) ApplyTransition(ctx context.Context, id int64, next State, tr Transition) error {
	q := s.db.NewUpdate().
		Model((*BridgeJobDao)(nil)).
		Set("state = ?", string(next)).
		Set("retry_count = 0").
		Set("error = NULL").
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Where("state NOT IN (?)", bun.In([]string{string(StateDepositedToPool), string(StateFailed)}))

	switch t := tr.(type) {
	case Approved:
		q = q.Set("approve_tx_hash = ?", t.ApproveTxHash)
	case BurnSubmitted:
		q = q.Set("burn_tx_hash = ?", t.BurnTxHash)
	case BurnConfirmed:
		q = q.Set("cctp_nonce = ?", t.CCTPNonce).
			Set("message_hash = ?", t.MessageHash).
			Set("message = ?", t.Message)
	case AttestationRequested, MintConfirmed:
		// state change only
	case AttestationReceived:
		q = q.Set("attestation = ?", t.Attestation)
	case MintSubmitted:
		q = q.Set("mint_tx_hash = ?", t.MintTxHash)
	case Deposited:
		q = q.Set("deposit_tx_hash = ?", t.DepositTxHash).
			Set("net_deposited_usdc = ?", t.NetDepositedUSDC)
	default:
		return fmt.Errorf("unknown transition type %T", tr)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply transition to %s: %w", next, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// RecordRetry persists a failed attempt without changing the job's state.
func (s *pgStore) RecordRetry(ctx context.Context, id int64, retryCount int, reason string) error {
	_, err := s.db.NewUpdate().
		Model((*BridgeJobDao)(nil)).
		Set("retry_count = ?", retryCount).
		Set("error = ?", reason).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record retry: %w", err)
	}
	return nil
}

// FailJob moves a job to the terminal FAILED state.
func (s *pgStore) FailJob(ctx context.Context, id int64, reason string) error {
	_, err := s.db.NewUpdate().
		Model((*BridgeJobDao)(nil)).
		Set("state = ?", string(StateFailed)).
		Set("error = ?", reason).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Where("state != ?", string(StateDepositedToPool)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

// BridgedTotalSince sums the USDC amounts of non-failed jobs created after
// the cutoff. Feeds the daily bridge cap.
func (s *pgStore) BridgedTotalSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := s.db.NewSelect().
		Model((*BridgeJobDao)(nil)).
		ColumnExpr("SUM(amount_usdc)").
		Where("state != ?", string(StateFailed)).
		Where("created_at >= ?", since).
		Scan(ctx, &total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum bridged amounts: %w", err)
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func (s *pgStore) InsertNAVSnapshot(ctx context.Context, navUSD decimal.Decimal) error {
	dao := &NAVSnapshotDao{NAVUSD: navUSD}
	_, err := s.db.NewInsert().
		Model(dao).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert NAV snapshot: %w", err)
	}
	return nil
}

// NAVWindow returns the earliest and latest NAV snapshot captured after the
// cutoff. ok is false when fewer than two snapshots exist in the window.
func (s *pgStore) NAVWindow(ctx context.Context, since time.Time) (first, last decimal.Decimal, ok bool, err error) {
	var daos []NAVSnapshotDao
	err = s.db.NewSelect().
		Model(&daos).
		Where("captured_at >= ?", since).
		Order("captured_at ASC").
		Scan(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, false, fmt.Errorf("failed to load NAV window: %w", err)
	}
	if len(daos) < 2 {
		return decimal.Zero, decimal.Zero, false, nil
	}
	return daos[0].NAVUSD, daos[len(daos)-1].NAVUSD, true, nil
}
