package store

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// BridgeJobDao is a data access object that maps directly to the
// 'inv_bridge_jobs' table in PostgreSQL.
type BridgeJobDao struct {
	bun.BaseModel    `bun:"table:inv_bridge_jobs,alias:bj"`
	ID               int64            `bun:"id,pk,autoincrement"`
	AmountUSDC       decimal.Decimal  `bun:"amount_usdc,notnull,type:numeric(20,6)"`
	AmountRaw        int64            `bun:"amount_raw,notnull"`
	State            string           `bun:"state,notnull,type:varchar(32)"`
	RetryCount       int              `bun:"retry_count,notnull,default:0"`
	Error            *string          `bun:"error,type:text"`
	ApproveTxHash    *string          `bun:"approve_tx_hash,type:varchar(128)"`
	BurnTxHash       *string          `bun:"burn_tx_hash,type:varchar(128)"`
	CCTPNonce        *int64           `bun:"cctp_nonce"`
	MessageHash      *string          `bun:"message_hash,type:varchar(66)"`
	Message          *string          `bun:"message,type:text"`
	Attestation      *string          `bun:"attestation,type:text"`
	MintTxHash       *string          `bun:"mint_tx_hash,type:varchar(128)"`
	DepositTxHash    *string          `bun:"deposit_tx_hash,type:varchar(128)"`
	NetDepositedUSDC *decimal.Decimal `bun:"net_deposited_usdc,type:numeric(20,6)"`
	CreatedAt        time.Time        `bun:"created_at,nullzero,default:current_timestamp"`
	UpdatedAt        time.Time        `bun:"updated_at,nullzero,default:current_timestamp"`
}

// NAVSnapshotDao is a data access object that maps directly to the
// 'inv_nav_snapshots' table in PostgreSQL.
type NAVSnapshotDao struct {
	bun.BaseModel `bun:"table:inv_nav_snapshots,alias:ns"`
	ID            int64           `bun:"id,pk,autoincrement"`
	NAVUSD        decimal.Decimal `bun:"nav_usd,notnull,type:numeric(20,2)"`
	CapturedAt    time.Time       `bun:"captured_at,nullzero,default:current_timestamp"`
}

// toJobDao converts a BridgeJob to BridgeJobDao.
func toJobDao(job *BridgeJob) *BridgeJobDao {
	return &BridgeJobDao{
		ID:               job.ID,
		AmountUSDC:       job.AmountUSDC,
		AmountRaw:        job.AmountRaw,
		State:            string(job.State),
		RetryCount:       job.RetryCount,
		Error:            job.Error,
		ApproveTxHash:    job.ApproveTxHash,
		BurnTxHash:       job.BurnTxHash,
		CCTPNonce:        job.CCTPNonce,
		MessageHash:      job.MessageHash,
		Message:          job.Message,
		Attestation:      job.Attestation,
		MintTxHash:       job.MintTxHash,
		DepositTxHash:    job.DepositTxHash,
		NetDepositedUSDC: job.NetDepositedUSDC,
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
	}
}

// toJob converts a BridgeJobDao to BridgeJob.
func toJob(dao *BridgeJobDao) *BridgeJob {
	return &BridgeJob{
		ID:               dao.ID,
		AmountUSDC:       dao.AmountUSDC,
		AmountRaw:        dao.AmountRaw,
		State:            State(dao.State),
		RetryCount:       dao.RetryCount,
		Error:            dao.Error,
		ApproveTxHash:    dao.ApproveTxHash,
		BurnTxHash:       dao.BurnTxHash,
		CCTPNonce:        dao.CCTPNonce,
		MessageHash:      dao.MessageHash,
		Message:          dao.Message,
		Attestation:      dao.Attestation,
		MintTxHash:       dao.MintTxHash,
		DepositTxHash:    dao.DepositTxHash,
		NetDepositedUSDC: dao.NetDepositedUSDC,
		CreatedAt:        dao.CreatedAt,
		UpdatedAt:        dao.UpdatedAt,
	}
}
