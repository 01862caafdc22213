package bridge

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kr8tiv/cctp-relayer/internal/metrics"
	"github.com/kr8tiv/cctp-relayer/pkg/retry"
	"github.com/kr8tiv/cctp-relayer/pkg/store"
)

// Each handler performs the work for one state and returns the next state
// plus the transition payload to persist. Dry-run mode short-circuits every
// chain interaction with synthetic values so the whole machine can be walked
// without touching a wallet.

func (c *Controller) handleFeeCollected(ctx context.Context, job *store.BridgeJob) (store.State, store.Transition, error) {
	if c.config.DryRun {
		return store.StateUSDCApproved, store.Approved{
			ApproveTxHash: fmt.Sprintf("0xdry_run_approve_%d", job.ID),
		}, nil
	}

	amount := big.NewInt(job.AmountRaw)
	allowance, err := c.base.Allowance(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read allowance: %w", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return store.StateUSDCApproved, store.Approved{ApproveTxHash: "allowance_sufficient"}, nil
	}

	txHash, err := c.base.Approve(ctx, amount)
	if err != nil {
		return "", nil, err
	}
	return store.StateUSDCApproved, store.Approved{ApproveTxHash: txHash}, nil
}

func (c *Controller) handleUSDCApproved(ctx context.Context, job *store.BridgeJob) (store.State, store.Transition, error) {
	if c.config.DryRun {
		return store.StateBurnSubmitted, store.BurnSubmitted{
			BurnTxHash: fmt.Sprintf("0xdry_run_burn_%d", job.ID),
		}, nil
	}

	txHash, err := c.base.DepositForBurn(ctx, big.NewInt(job.AmountRaw), c.sol.MintRecipient())
	if err != nil {
		return "", nil, err
	}
	return store.StateBurnSubmitted, store.BurnSubmitted{BurnTxHash: txHash}, nil
}

func (c *Controller) handleBurnSubmitted(ctx context.Context, job *store.BridgeJob) (store.State, store.Transition, error) {
	if c.config.DryRun {
		return store.StateBurnConfirmed, store.BurnConfirmed{
			CCTPNonce:   job.ID,
			MessageHash: fmt.Sprintf("0xdry_run_message_hash_%d", job.ID),
			Message:     "0xdry_run_message",
		}, nil
	}

	if job.BurnTxHash == nil {
		return "", nil, retry.Terminal(fmt.Errorf("job %d has no burn tx hash", job.ID))
	}
	proof, err := c.base.ConfirmBurn(ctx, *job.BurnTxHash)
	if err != nil {
		return "", nil, err
	}
	return store.StateBurnConfirmed, store.BurnConfirmed{
		CCTPNonce:   int64(proof.Nonce),
		MessageHash: proof.MessageHash.Hex(),
		Message:     "0x" + hex.EncodeToString(proof.Message),
	}, nil
}

func (c *Controller) handleBurnConfirmed(_ context.Context, _ *store.BridgeJob) (store.State, store.Transition, error) {
	// Bookkeeping step: the attestation service indexes burns on its own, so
	// there is nothing to submit.
	return store.StateAttestationRequested, store.AttestationRequested{}, nil
}

func (c *Controller) handleAttestationRequested(ctx context.Context, job *store.BridgeJob) (store.State, store.Transition, error) {
	if c.config.DryRun {
		return store.StateAttestationReceived, store.AttestationReceived{
			Attestation: "0xdry_run_attestation",
		}, nil
	}

	if job.MessageHash == nil {
		return "", nil, retry.Terminal(fmt.Errorf("job %d has no message hash", job.ID))
	}

	start := time.Now()
	deadline := start.Add(c.circleConfig.PollTimeout)
	for {
		attestation, ready, err := c.attestations.Attestation(ctx, *job.MessageHash)
		if err != nil {
			c.logger.Warn("Attestation poll failed",
				zap.Int64("job_id", job.ID),
				zap.Error(err))
		} else if ready {
			metrics.AttestationWait.Observe(time.Since(start).Seconds())
			return store.StateAttestationReceived, store.AttestationReceived{Attestation: attestation}, nil
		}

		if time.Now().After(deadline) {
			return "", nil, fmt.Errorf("attestation not ready after %s", c.circleConfig.PollTimeout)
		}
		if err := c.sleep(ctx, c.circleConfig.PollInterval); err != nil {
			return "", nil, retry.Terminal(err)
		}
	}
}

func (c *Controller) handleAttestationReceived(ctx context.Context, job *store.BridgeJob) (store.State, store.Transition, error) {
	if c.config.DryRun {
		return store.StateMintSubmitted, store.MintSubmitted{
			MintTxHash: fmt.Sprintf("dry_run_mint_%d", job.ID),
		}, nil
	}

	if job.Message == nil || job.Attestation == nil {
		return "", nil, retry.Terminal(fmt.Errorf("job %d is missing message or attestation", job.ID))
	}
	message, err := decodeHex(*job.Message)
	if err != nil {
		return "", nil, retry.Terminal(fmt.Errorf("malformed stored message: %w", err))
	}
	attestation, err := decodeHex(*job.Attestation)
	if err != nil {
		return "", nil, retry.Terminal(fmt.Errorf("malformed stored attestation: %w", err))
	}

	signature, err := c.sol.ReceiveMessage(ctx, message, attestation)
	if err != nil {
		return "", nil, err
	}
	return store.StateMintSubmitted, store.MintSubmitted{MintTxHash: signature}, nil
}

func (c *Controller) handleMintSubmitted(ctx context.Context, job *store.BridgeJob) (store.State, store.Transition, error) {
	if c.config.DryRun {
		return store.StateMintConfirmed, store.MintConfirmed{}, nil
	}

	if job.MintTxHash == nil {
		return "", nil, retry.Terminal(fmt.Errorf("job %d has no mint signature", job.ID))
	}
	if err := c.sol.ConfirmTransaction(ctx, *job.MintTxHash); err != nil {
		return "", nil, err
	}
	return store.StateMintConfirmed, store.MintConfirmed{}, nil
}

func (c *Controller) handleMintConfirmed(ctx context.Context, job *store.BridgeJob) (store.State, store.Transition, error) {
	if c.config.DryRun {
		return store.StateDepositedToPool, store.Deposited{
			DepositTxHash:    fmt.Sprintf("dry_run_deposit_%d", job.ID),
			NetDepositedUSDC: job.AmountUSDC,
		}, nil
	}

	signature, err := c.sol.TransferToPool(ctx, uint64(job.AmountRaw))
	if err != nil {
		return "", nil, err
	}
	// Solana transaction fees are paid in SOL, so the USDC amount arrives
	// whole.
	return store.StateDepositedToPool, store.Deposited{
		DepositTxHash:    signature,
		NetDepositedUSDC: job.AmountUSDC,
	}, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
