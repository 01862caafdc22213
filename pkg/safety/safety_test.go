package safety

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kr8tiv/cctp-relayer/pkg/config"
)

type memKV struct {
	values map[string]string
}

func newMemKV() *memKV {
	return &memKV{values: make(map[string]string)}
}

func (m *memKV) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	return true, nil
}

func (m *memKV) Set(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	value, ok := m.values[key]
	return value, ok, nil
}

func (m *memKV) Del(_ context.Context, key string) error {
	delete(m.values, key)
	return nil
}

type mockLimitStore struct {
	BridgedTotalSinceFunc func(ctx context.Context, since time.Time) (decimal.Decimal, error)
	NAVWindowFunc         func(ctx context.Context, since time.Time) (decimal.Decimal, decimal.Decimal, bool, error)
}

func (m *mockLimitStore) BridgedTotalSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	if m.BridgedTotalSinceFunc != nil {
		return m.BridgedTotalSinceFunc(ctx, since)
	}
	return decimal.Zero, nil
}

func (m *mockLimitStore) NAVWindow(ctx context.Context, since time.Time) (decimal.Decimal, decimal.Decimal, bool, error) {
	if m.NAVWindowFunc != nil {
		return m.NAVWindowFunc(ctx, since)
	}
	return decimal.Zero, decimal.Zero, false, nil
}

type mockAlerter struct {
	alerts []string
}

func (m *mockAlerter) Alert(_ context.Context, message string) error {
	m.alerts = append(m.alerts, message)
	return nil
}

func testConfig() *config.SafetyConfig {
	return &config.SafetyConfig{
		MaxSingleAllocation: 0.30,
		AnchorAsset:         "USDC",
		AnchorMinWeight:     0.05,
		MaxTurnover:         0.25,
		MaxChangedAssets:    4,
		LossLimit:           0.15,
		IdempotencyTTL:      time.Hour,
	}
}

func newTestSystem(store LimitStore) (*System, *memKV, *mockAlerter) {
	kv := newMemKV()
	alerter := &mockAlerter{}
	if store == nil {
		store = &mockLimitStore{}
	}
	return NewSystem(testConfig(), kv, store, alerter, zap.NewNop()), kv, alerter
}

func weights(pairs map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(pairs))
	for asset, w := range pairs {
		out[asset] = decimal.NewFromFloat(w)
	}
	return out
}

func TestCheckPortfolioLimits_SingleAssetCap(t *testing.T) {
	s, _, _ := newTestSystem(nil)

	ok, reason := s.CheckPortfolioLimits(
		weights(map[string]float64{"SOL": 0.35, "USDC": 0.65}),
		weights(map[string]float64{"SOL": 0.30, "USDC": 0.70}),
	)
	if ok {
		t.Fatal("expected rejection for 35% single allocation")
	}
	if reason == "" {
		t.Error("expected a reason")
	}
}

func TestCheckPortfolioLimits_ApprovesSmallChange(t *testing.T) {
	s, _, _ := newTestSystem(nil)

	// Two assets changed, 10% total delta, everything at most 0.28.
	ok, reason := s.CheckPortfolioLimits(
		weights(map[string]float64{"SOL": 0.28, "ETH": 0.24, "USDC": 0.48}),
		weights(map[string]float64{"SOL": 0.23, "ETH": 0.29, "USDC": 0.48}),
	)
	if !ok {
		t.Fatalf("expected approval, got: %s", reason)
	}
}

func TestCheckPortfolioLimits_AnchorFloor(t *testing.T) {
	s, _, _ := newTestSystem(nil)

	ok, _ := s.CheckPortfolioLimits(
		weights(map[string]float64{"SOL": 0.30, "ETH": 0.30, "BTC": 0.30, "USDC": 0.04}),
		weights(map[string]float64{"SOL": 0.30, "ETH": 0.30, "BTC": 0.28, "USDC": 0.06}),
	)
	if ok {
		t.Fatal("expected rejection when anchor drops below 5%")
	}
}

func TestCheckPortfolioLimits_Turnover(t *testing.T) {
	s, _, _ := newTestSystem(nil)

	ok, _ := s.CheckPortfolioLimits(
		weights(map[string]float64{"SOL": 0.30, "ETH": 0.30, "USDC": 0.40}),
		weights(map[string]float64{"SOL": 0.00, "ETH": 0.00, "USDC": 1.00}),
	)
	if ok {
		t.Fatal("expected rejection for 60% turnover")
	}
}

func TestCheckPortfolioLimits_ChangedAssets(t *testing.T) {
	s, _, _ := newTestSystem(nil)

	ok, _ := s.CheckPortfolioLimits(
		weights(map[string]float64{"A": 0.04, "B": 0.04, "C": 0.04, "D": 0.04, "E": 0.04, "USDC": 0.80}),
		weights(map[string]float64{"USDC": 1.00}),
	)
	if ok {
		t.Fatal("expected rejection for 5 added assets")
	}
}

func TestCheckLossLimits_Sticky(t *testing.T) {
	nav := &mockLimitStore{
		NAVWindowFunc: func(_ context.Context, _ time.Time) (decimal.Decimal, decimal.Decimal, bool, error) {
			return decimal.NewFromInt(1000), decimal.NewFromInt(800), true, nil
		},
	}
	s, kv, alerter := newTestSystem(nav)
	ctx := context.Background()

	ok, reason, err := s.CheckLossLimits(ctx)
	if err != nil {
		t.Fatalf("CheckLossLimits failed: %v", err)
	}
	if ok {
		t.Fatal("expected rejection for a 20% drop")
	}
	if reason == "" {
		t.Error("expected a reason")
	}
	if len(alerter.alerts) != 1 {
		t.Errorf("expected one alert, got %d", len(alerter.alerts))
	}
	if _, halted, _ := kv.Get(ctx, lossHaltKey); !halted {
		t.Fatal("expected loss halt flag to be set")
	}

	// NAV recovers but the halt is sticky.
	nav.NAVWindowFunc = func(_ context.Context, _ time.Time) (decimal.Decimal, decimal.Decimal, bool, error) {
		return decimal.NewFromInt(1000), decimal.NewFromInt(1100), true, nil
	}
	ok, _, err = s.CheckLossLimits(ctx)
	if err != nil {
		t.Fatalf("CheckLossLimits failed: %v", err)
	}
	if ok {
		t.Fatal("expected halt to persist after NAV recovery")
	}

	if err := s.ClearLossHalt(ctx); err != nil {
		t.Fatalf("ClearLossHalt failed: %v", err)
	}
	ok, _, err = s.CheckLossLimits(ctx)
	if err != nil {
		t.Fatalf("CheckLossLimits failed: %v", err)
	}
	if !ok {
		t.Fatal("expected pass after halt cleared and NAV recovered")
	}
}

func TestCheckLossLimits_WithinLimit(t *testing.T) {
	nav := &mockLimitStore{
		NAVWindowFunc: func(_ context.Context, _ time.Time) (decimal.Decimal, decimal.Decimal, bool, error) {
			return decimal.NewFromInt(1000), decimal.NewFromInt(900), true, nil
		},
	}
	s, _, alerter := newTestSystem(nav)

	ok, _, err := s.CheckLossLimits(context.Background())
	if err != nil {
		t.Fatalf("CheckLossLimits failed: %v", err)
	}
	if !ok {
		t.Fatal("10% drop should pass a 15% limit")
	}
	if len(alerter.alerts) != 0 {
		t.Errorf("expected no alerts, got %d", len(alerter.alerts))
	}
}

func TestCheckBridgeLimits(t *testing.T) {
	limits := &mockLimitStore{
		BridgedTotalSinceFunc: func(_ context.Context, _ time.Time) (decimal.Decimal, error) {
			return decimal.NewFromInt(4500), nil
		},
	}
	s, _, _ := newTestSystem(limits)
	ctx := context.Background()
	maxSingle := decimal.NewFromInt(1000)
	maxDaily := decimal.NewFromInt(5000)

	if ok, _, _ := s.CheckBridgeLimits(ctx, decimal.NewFromInt(1500), maxSingle, maxDaily); ok {
		t.Error("expected rejection above single cap")
	}
	if ok, _, _ := s.CheckBridgeLimits(ctx, decimal.NewFromInt(600), maxSingle, maxDaily); ok {
		t.Error("expected rejection when daily cap would be exceeded")
	}
	if ok, reason, _ := s.CheckBridgeLimits(ctx, decimal.NewFromInt(400), maxSingle, maxDaily); !ok {
		t.Errorf("expected approval within caps, got: %s", reason)
	}
}

func TestKillSwitch(t *testing.T) {
	s, _, alerter := newTestSystem(nil)
	ctx := context.Background()

	killed, err := s.IsKilled(ctx)
	if err != nil {
		t.Fatalf("IsKilled failed: %v", err)
	}
	if killed {
		t.Fatal("kill switch should start inactive")
	}

	if err := s.ActivateKillSwitch(ctx, "manual halt"); err != nil {
		t.Fatalf("ActivateKillSwitch failed: %v", err)
	}
	if killed, _ = s.IsKilled(ctx); !killed {
		t.Fatal("kill switch should be active")
	}
	if len(alerter.alerts) != 1 {
		t.Errorf("expected one alert, got %d", len(alerter.alerts))
	}

	if err := s.DeactivateKillSwitch(ctx); err != nil {
		t.Fatalf("DeactivateKillSwitch failed: %v", err)
	}
	if killed, _ = s.IsKilled(ctx); killed {
		t.Fatal("kill switch should be inactive again")
	}
}

func TestCheckIdempotency(t *testing.T) {
	s, _, _ := newTestSystem(nil)
	ctx := context.Background()

	claimed, err := s.CheckIdempotency(ctx, "bridge_trigger")
	if err != nil {
		t.Fatalf("CheckIdempotency failed: %v", err)
	}
	if !claimed {
		t.Fatal("first claim should succeed")
	}

	claimed, _ = s.CheckIdempotency(ctx, "bridge_trigger")
	if claimed {
		t.Fatal("second claim should fail while lease is held")
	}

	if err := s.ClearIdempotency(ctx, "bridge_trigger"); err != nil {
		t.Fatalf("ClearIdempotency failed: %v", err)
	}
	claimed, _ = s.CheckIdempotency(ctx, "bridge_trigger")
	if !claimed {
		t.Fatal("claim should succeed after release")
	}
}
