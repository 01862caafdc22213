package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// State identifies a bridge job's position in the transfer lifecycle.
type State string

const (
	StateFeeCollected         State = "FEE_COLLECTED"
	StateUSDCApproved         State = "USDC_APPROVED"
	StateBurnSubmitted        State = "BURN_SUBMITTED"
	StateBurnConfirmed        State = "BURN_CONFIRMED"
	StateAttestationRequested State = "ATTESTATION_REQUESTED"
	StateAttestationReceived  State = "ATTESTATION_RECEIVED"
	StateMintSubmitted        State = "MINT_SUBMITTED"
	StateMintConfirmed        State = "MINT_CONFIRMED"
	StateDepositedToPool      State = "DEPOSITED_TO_POOL"
	StateFailed               State = "FAILED"
)

// stateOrder is the forward progression of a healthy transfer.
var stateOrder = []State{
	StateFeeCollected,
	StateUSDCApproved,
	StateBurnSubmitted,
	StateBurnConfirmed,
	StateAttestationRequested,
	StateAttestationReceived,
	StateMintSubmitted,
	StateMintConfirmed,
	StateDepositedToPool,
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateDepositedToPool || s == StateFailed
}

// Rank returns the position of s in the forward ordering, or -1 for FAILED
// and unknown values.
func (s State) Rank() int {
	for i, st := range stateOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// BridgeJob is one fee transfer from Base to the Solana reward pool.
type BridgeJob struct {
	ID               int64
	AmountUSDC       decimal.Decimal
	AmountRaw        int64
	State            State
	RetryCount       int
	Error            *string
	ApproveTxHash    *string
	BurnTxHash       *string
	CCTPNonce        *int64
	MessageHash      *string
	Message          *string
	Attestation      *string
	MintTxHash       *string
	DepositTxHash    *string
	NetDepositedUSDC *decimal.Decimal
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewBridgeJob creates a job in the initial state. The raw amount is fixed
// here and never recomputed.
func NewBridgeJob(amountUSDC decimal.Decimal) *BridgeJob {
	return &BridgeJob{
		AmountUSDC: amountUSDC,
		AmountRaw:  RawFromUSDC(amountUSDC),
		State:      StateFeeCollected,
	}
}

// RawFromUSDC converts a human USDC amount to micro-USDC (6 decimals).
func RawFromUSDC(amount decimal.Decimal) int64 {
	return amount.Shift(6).Round(0).IntPart()
}

// USDCFromRaw converts micro-USDC back to a human amount.
func USDCFromRaw(raw int64) decimal.Decimal {
	return decimal.New(raw, -6)
}

// NAVSnapshot is a point-in-time portfolio valuation used by the loss limiter.
type NAVSnapshot struct {
	ID         int64
	NAVUSD     decimal.Decimal
	CapturedAt time.Time
}
