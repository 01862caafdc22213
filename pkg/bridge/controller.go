// Package bridge owns the CCTP transfer state machine, the trigger that
// decides when to start one, and the engine that schedules both.
package bridge

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kr8tiv/cctp-relayer/internal/metrics"
	"github.com/kr8tiv/cctp-relayer/pkg/config"
	"github.com/kr8tiv/cctp-relayer/pkg/evm"
	"github.com/kr8tiv/cctp-relayer/pkg/retry"
	"github.com/kr8tiv/cctp-relayer/pkg/store"
)

// JobStore defines the interface for bridge job persistence
type JobStore interface {
	CreateJob(ctx context.Context, job *store.BridgeJob) error
	Job(ctx context.Context, id int64) (*store.BridgeJob, error)
	PendingJobs(ctx context.Context) ([]*store.BridgeJob, error)
	ApplyTransition(ctx context.Context, id int64, next store.State, tr store.Transition) error
	RecordRetry(ctx context.Context, id int64, retryCount int, reason string) error
	FailJob(ctx context.Context, id int64, reason string) error
}

// BaseChain defines the interface for Base (EVM) interactions
type BaseChain interface {
	Allowance(ctx context.Context) (*big.Int, error)
	Approve(ctx context.Context, amount *big.Int) (string, error)
	DepositForBurn(ctx context.Context, amount *big.Int, mintRecipient [32]byte) (string, error)
	ConfirmBurn(ctx context.Context, txHash string) (*evm.BurnProof, error)
	USDCBalance(ctx context.Context) (*big.Int, error)
	BaseFee(ctx context.Context) (*big.Int, error)
}

// SolanaChain defines the interface for Solana interactions
type SolanaChain interface {
	MintRecipient() [32]byte
	ReceiveMessage(ctx context.Context, message, attestation []byte) (string, error)
	ConfirmTransaction(ctx context.Context, signature string) error
	TransferToPool(ctx context.Context, amountRaw uint64) (string, error)
}

// AttestationClient defines the interface for the attestation oracle
type AttestationClient interface {
	Attestation(ctx context.Context, messageHash string) (attestation string, ready bool, err error)
}

// Publisher defines the interface for event fan-out
type Publisher interface {
	PublishTransition(ctx context.Context, jobID int64, state store.State, data map[string]any) error
	Alert(ctx context.Context, message string) error
}

// Controller drives a bridge job through the ten-state transfer machine.
// Only the controller signs with the operator wallets, and only inside the
// serialized advance loop.
type Controller struct {
	config       *config.BridgeConfig
	circleConfig *config.CircleConfig
	store        JobStore
	base         BaseChain
	sol          SolanaChain
	attestations AttestationClient
	events       Publisher
	logger       *zap.Logger

	// sleep is replaced in tests to skip real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController creates a new bridge controller
func NewController(
	cfg *config.BridgeConfig,
	circleCfg *config.CircleConfig,
	jobStore JobStore,
	base BaseChain,
	sol SolanaChain,
	attestations AttestationClient,
	events Publisher,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		config:       cfg,
		circleConfig: circleCfg,
		store:        jobStore,
		base:         base,
		sol:          sol,
		attestations: attestations,
		events:       events,
		logger:       logger,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StartBridge creates a new job in FEE_COLLECTED for the given USDC amount.
func (c *Controller) StartBridge(ctx context.Context, amountUSDC decimal.Decimal) (*store.BridgeJob, error) {
	job := store.NewBridgeJob(amountUSDC)
	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	metrics.JobsTotal.WithLabelValues(string(job.State)).Inc()
	amountFloat, _ := amountUSDC.Float64()
	metrics.AmountUSDC.Observe(amountFloat)

	c.logger.Info("Bridge job created",
		zap.Int64("job_id", job.ID),
		zap.String("amount_usdc", amountUSDC.String()),
		zap.Bool("dry_run", c.config.DryRun))

	if err := c.events.PublishTransition(ctx, job.ID, job.State, map[string]any{
		"amount_usdc": amountUSDC.String(),
		"amount_raw":  job.AmountRaw,
	}); err != nil {
		c.logger.Error("Failed to publish job creation event", zap.Error(err))
	}
	return job, nil
}

// Advance runs the handler for the job's current state until the job moves
// forward or fails. Transient handler errors retry the same state with
// exponential backoff; terminal ones and exhausted retries move the job to
// FAILED. Terminal jobs are never touched.
func (c *Controller) Advance(ctx context.Context, id int64) (*store.BridgeJob, error) {
	job, err := c.store.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State.Terminal() {
		return job, nil
	}

	for {
		next, tr, err := c.dispatch(ctx, job)
		if err == nil {
			if err := c.store.ApplyTransition(ctx, job.ID, next, tr); err != nil {
				return nil, err
			}
			metrics.Transitions.WithLabelValues(string(job.State), string(next)).Inc()
			c.logger.Info("Bridge job advanced",
				zap.Int64("job_id", job.ID),
				zap.String("from", string(job.State)),
				zap.String("to", string(next)))

			if err := c.events.PublishTransition(ctx, job.ID, next, tr.Fields()); err != nil {
				c.logger.Error("Failed to publish transition event", zap.Error(err))
			}
			return c.store.Job(ctx, job.ID)
		}

		metrics.RPCErrors.WithLabelValues(chainForState(job.State), string(job.State)).Inc()

		if retry.IsTerminal(err) {
			c.logger.Error("Bridge job hit a permanent error",
				zap.Int64("job_id", job.ID),
				zap.String("state", string(job.State)),
				zap.Error(err))
			return c.failJob(ctx, job, err.Error())
		}

		job.RetryCount++
		if job.RetryCount >= c.config.MaxRetries {
			return c.failJob(ctx, job, fmt.Sprintf("retries exhausted in %s: %s", job.State, err.Error()))
		}

		if err := c.store.RecordRetry(ctx, job.ID, job.RetryCount, err.Error()); err != nil {
			return nil, err
		}
		metrics.Retries.WithLabelValues(string(job.State)).Inc()

		delay := retry.Backoff(c.config.RetryBaseDelay, job.RetryCount)
		c.logger.Warn("Bridge step failed, retrying",
			zap.Int64("job_id", job.ID),
			zap.String("state", string(job.State)),
			zap.Int("retry", job.RetryCount),
			zap.Duration("backoff", delay),
			zap.Error(err))

		if err := c.sleep(ctx, delay); err != nil {
			return job, err
		}
	}
}

// AdvanceAllPending advances every non-terminal job in creation order,
// strictly sequentially: two jobs signing from the same wallet concurrently
// would corrupt nonce sequencing.
func (c *Controller) AdvanceAllPending(ctx context.Context) error {
	pending, err := c.store.PendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending jobs: %w", err)
	}

	for _, job := range pending {
		if _, err := c.Advance(ctx, job.ID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("Failed to advance job",
				zap.Int64("job_id", job.ID),
				zap.Error(err))
		}
	}
	return nil
}

func (c *Controller) failJob(ctx context.Context, job *store.BridgeJob, reason string) (*store.BridgeJob, error) {
	if err := c.store.FailJob(ctx, job.ID, reason); err != nil {
		return nil, err
	}
	metrics.Failures.WithLabelValues(string(job.State)).Inc()

	if err := c.events.PublishTransition(ctx, job.ID, store.StateFailed, map[string]any{
		"error":      reason,
		"from_state": string(job.State),
	}); err != nil {
		c.logger.Error("Failed to publish failure event", zap.Error(err))
	}

	// Dry runs never alert: no real transfer failed.
	if !c.config.DryRun {
		msg := fmt.Sprintf("Bridge job %d FAILED in %s: %s", job.ID, job.State, reason)
		if err := c.events.Alert(ctx, msg); err != nil {
			c.logger.Error("Failed to publish failure alert", zap.Error(err))
		}
	}

	return c.store.Job(ctx, job.ID)
}

func (c *Controller) dispatch(ctx context.Context, job *store.BridgeJob) (store.State, store.Transition, error) {
	switch job.State {
	case store.StateFeeCollected:
		return c.handleFeeCollected(ctx, job)
	case store.StateUSDCApproved:
		return c.handleUSDCApproved(ctx, job)
	case store.StateBurnSubmitted:
		return c.handleBurnSubmitted(ctx, job)
	case store.StateBurnConfirmed:
		return c.handleBurnConfirmed(ctx, job)
	case store.StateAttestationRequested:
		return c.handleAttestationRequested(ctx, job)
	case store.StateAttestationReceived:
		return c.handleAttestationReceived(ctx, job)
	case store.StateMintSubmitted:
		return c.handleMintSubmitted(ctx, job)
	case store.StateMintConfirmed:
		return c.handleMintConfirmed(ctx, job)
	default:
		return "", nil, retry.Terminal(fmt.Errorf("no handler for state %s", job.State))
	}
}

func chainForState(state store.State) string {
	switch state {
	case store.StateFeeCollected, store.StateUSDCApproved, store.StateBurnSubmitted:
		return "base"
	case store.StateBurnConfirmed, store.StateAttestationRequested:
		return "circle"
	default:
		return "solana"
	}
}
