// Package safety gates every financial action: portfolio limits, the sticky
// loss limiter, bridge caps, the kill switch, and idempotency leases.
package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kr8tiv/cctp-relayer/pkg/config"
)

const (
	killSwitchKey = "safety:kill_switch"
	lossHaltKey   = "safety:loss_halt"
	leasePrefix   = "safety:lease:"

	lossWindow   = 24 * time.Hour
	bridgeWindow = 24 * time.Hour
)

// KV is the key-value store behind flags and leases.
type KV interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Del(ctx context.Context, key string) error
}

// LimitStore supplies the rolling windows the caps and the loss limiter
// evaluate against.
type LimitStore interface {
	BridgedTotalSince(ctx context.Context, since time.Time) (decimal.Decimal, error)
	NAVWindow(ctx context.Context, since time.Time) (first, last decimal.Decimal, ok bool, err error)
}

// Alerter delivers out-of-band operator alerts.
type Alerter interface {
	Alert(ctx context.Context, message string) error
}

// System evaluates safety policy. Checks return (ok, reason) for expected
// failures; only unexpected store errors surface as errors, and callers must
// treat those as "not safe to proceed".
type System struct {
	config *config.SafetyConfig
	kv     KV
	store  LimitStore
	events Alerter
	logger *zap.Logger
}

// NewSystem creates a new safety system
func NewSystem(cfg *config.SafetyConfig, kv KV, store LimitStore, events Alerter, logger *zap.Logger) *System {
	return &System{
		config: cfg,
		kv:     kv,
		store:  store,
		events: events,
		logger: logger,
	}
}

// CheckPortfolioLimits validates a proposed allocation against the current
// one. Weights are fractions summing to ~1. Pure; consults no stores.
func (s *System) CheckPortfolioLimits(proposed, current map[string]decimal.Decimal) (bool, string) {
	maxSingle := decimal.NewFromFloat(s.config.MaxSingleAllocation)
	for asset, weight := range proposed {
		if weight.GreaterThan(maxSingle) {
			return false, fmt.Sprintf("allocation for %s is %s, above the %s single-asset cap",
				asset, weight.String(), maxSingle.String())
		}
	}

	if s.config.AnchorAsset != "" {
		anchorMin := decimal.NewFromFloat(s.config.AnchorMinWeight)
		if proposed[s.config.AnchorAsset].LessThan(anchorMin) {
			return false, fmt.Sprintf("anchor asset %s at %s, below the %s floor",
				s.config.AnchorAsset, proposed[s.config.AnchorAsset].String(), anchorMin.String())
		}
	}

	// Turnover is half the L1 distance between the two allocation vectors.
	l1 := decimal.Zero
	changed := 0
	for asset, next := range proposed {
		prev := current[asset]
		l1 = l1.Add(next.Sub(prev).Abs())
		if prev.IsZero() != next.IsZero() {
			changed++
		}
	}
	for asset, prev := range current {
		if _, ok := proposed[asset]; !ok {
			l1 = l1.Add(prev.Abs())
			if !prev.IsZero() {
				changed++
			}
		}
	}
	turnover := l1.Div(decimal.NewFromInt(2))
	if turnover.GreaterThan(decimal.NewFromFloat(s.config.MaxTurnover)) {
		return false, fmt.Sprintf("turnover %s exceeds the %v cap", turnover.String(), s.config.MaxTurnover)
	}
	if changed > s.config.MaxChangedAssets {
		return false, fmt.Sprintf("%d assets added or removed, limit is %d", changed, s.config.MaxChangedAssets)
	}

	return true, ""
}

// CheckLossLimits compares the earliest and latest NAV snapshot in the
// trailing 24h window. A breach sets a halt flag that persists until
// ClearLossHalt, so the check stays failed even if NAV recovers.
func (s *System) CheckLossLimits(ctx context.Context) (bool, string, error) {
	if _, halted, err := s.kv.Get(ctx, lossHaltKey); err != nil {
		return false, "", fmt.Errorf("failed to read loss halt flag: %w", err)
	} else if halted {
		return false, "loss halt active, clear it manually after review", nil
	}

	first, last, ok, err := s.store.NAVWindow(ctx, time.Now().Add(-lossWindow))
	if err != nil {
		return false, "", err
	}
	if !ok || first.IsZero() {
		return true, "", nil
	}

	drop := first.Sub(last).Div(first)
	limit := decimal.NewFromFloat(s.config.LossLimit)
	if drop.LessThanOrEqual(limit) {
		return true, "", nil
	}

	reason := fmt.Sprintf("NAV dropped %s%% in 24h, limit is %s%%",
		drop.Mul(decimal.NewFromInt(100)).StringFixed(2),
		limit.Mul(decimal.NewFromInt(100)).StringFixed(0))

	if err := s.kv.Set(ctx, lossHaltKey, reason); err != nil {
		return false, "", fmt.Errorf("failed to set loss halt flag: %w", err)
	}
	s.logger.Error("Loss limit breached, halting", zap.String("reason", reason))
	if err := s.events.Alert(ctx, "LOSS LIMIT BREACHED: "+reason); err != nil {
		s.logger.Error("Failed to publish loss alert", zap.Error(err))
	}
	return false, reason, nil
}

// ClearLossHalt removes the sticky loss halt flag.
func (s *System) ClearLossHalt(ctx context.Context) error {
	if err := s.kv.Del(ctx, lossHaltKey); err != nil {
		return fmt.Errorf("failed to clear loss halt flag: %w", err)
	}
	s.logger.Warn("Loss halt cleared")
	return nil
}

// CheckBridgeLimits rejects amounts over the per-transfer cap or pushing the
// trailing-24h total of non-failed bridges over the daily cap.
func (s *System) CheckBridgeLimits(ctx context.Context, amount, maxSingle, maxDaily decimal.Decimal) (bool, string, error) {
	if amount.GreaterThan(maxSingle) {
		return false, fmt.Sprintf("amount %s exceeds single-bridge cap %s",
			amount.String(), maxSingle.String()), nil
	}

	total, err := s.store.BridgedTotalSince(ctx, time.Now().Add(-bridgeWindow))
	if err != nil {
		return false, "", err
	}
	if total.Add(amount).GreaterThan(maxDaily) {
		return false, fmt.Sprintf("amount %s plus %s bridged in 24h exceeds daily cap %s",
			amount.String(), total.String(), maxDaily.String()), nil
	}

	return true, "", nil
}

// IsKilled reports whether the global kill switch is active.
func (s *System) IsKilled(ctx context.Context) (bool, error) {
	_, found, err := s.kv.Get(ctx, killSwitchKey)
	if err != nil {
		return false, fmt.Errorf("failed to read kill switch: %w", err)
	}
	return found, nil
}

// ActivateKillSwitch halts all new financial actions.
func (s *System) ActivateKillSwitch(ctx context.Context, reason string) error {
	if err := s.kv.Set(ctx, killSwitchKey, reason); err != nil {
		return fmt.Errorf("failed to activate kill switch: %w", err)
	}
	s.logger.Error("KILL SWITCH ACTIVATED", zap.String("reason", reason))
	if err := s.events.Alert(ctx, "KILL SWITCH ACTIVATED: "+reason); err != nil {
		s.logger.Error("Failed to publish kill switch alert", zap.Error(err))
	}
	return nil
}

// DeactivateKillSwitch re-enables financial actions.
func (s *System) DeactivateKillSwitch(ctx context.Context) error {
	if err := s.kv.Del(ctx, killSwitchKey); err != nil {
		return fmt.Errorf("failed to deactivate kill switch: %w", err)
	}
	s.logger.Warn("Kill switch deactivated")
	return nil
}

// CheckIdempotency claims a lease on an operation key. It returns true only
// when no lease exists; the lease self-expires after the configured TTL.
func (s *System) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	ttl := s.config.IdempotencyTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	claimed, err := s.kv.SetNX(ctx, leasePrefix+key, "running", ttl)
	if err != nil {
		return false, fmt.Errorf("failed to claim idempotency lease: %w", err)
	}
	return claimed, nil
}

// ClearIdempotency releases a lease before its TTL expires.
func (s *System) ClearIdempotency(ctx context.Context, key string) error {
	if err := s.kv.Del(ctx, leasePrefix+key); err != nil {
		return fmt.Errorf("failed to clear idempotency lease: %w", err)
	}
	return nil
}
