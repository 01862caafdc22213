package store

import "github.com/shopspring/decimal"

// Transition carries exactly the fields one state handler populated. The
// persistence layer matches on the concrete type, so a handler can never
// smuggle an update into a column it does not own.
type Transition interface {
	// Fields returns the populated values for event payloads.
	Fields() map[string]any
}

// Approved is produced leaving FEE_COLLECTED.
type Approved struct {
	ApproveTxHash string
}

// BurnSubmitted is produced leaving USDC_APPROVED.
type BurnSubmitted struct {
	BurnTxHash string
}

// BurnConfirmed is produced leaving BURN_SUBMITTED. Nonce and message hash
// are set together exactly once and never change afterward.
type BurnConfirmed struct {
	CCTPNonce   int64
	MessageHash string
	Message     string
}

// AttestationRequested is produced leaving BURN_CONFIRMED; it records
// readiness only.
type AttestationRequested struct{}

// AttestationReceived is produced leaving ATTESTATION_REQUESTED.
type AttestationReceived struct {
	Attestation string
}

// MintSubmitted is produced leaving ATTESTATION_RECEIVED.
type MintSubmitted struct {
	MintTxHash string
}

// MintConfirmed is produced leaving MINT_SUBMITTED.
type MintConfirmed struct{}

// Deposited is produced leaving MINT_CONFIRMED and completes the job.
type Deposited struct {
	DepositTxHash    string
	NetDepositedUSDC decimal.Decimal
}

func (t Approved) Fields() map[string]any {
	return map[string]any{"approve_tx_hash": t.ApproveTxHash}
}

func (t BurnSubmitted) Fields() map[string]any {
	return map[string]any{"burn_tx_hash": t.BurnTxHash}
}

func (t BurnConfirmed) Fields() map[string]any {
	return map[string]any{
		"cctp_nonce":   t.CCTPNonce,
		"message_hash": t.MessageHash,
	}
}

func (t AttestationRequested) Fields() map[string]any {
	return map[string]any{}
}

func (t AttestationReceived) Fields() map[string]any {
	return map[string]any{"attestation": t.Attestation}
}

func (t MintSubmitted) Fields() map[string]any {
	return map[string]any{"mint_tx_hash": t.MintTxHash}
}

func (t MintConfirmed) Fields() map[string]any {
	return map[string]any{}
}

func (t Deposited) Fields() map[string]any {
	return map[string]any{
		"deposit_tx_hash":    t.DepositTxHash,
		"net_deposited_usdc": t.NetDepositedUSDC.String(),
	}
}
