package bridge

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kr8tiv/cctp-relayer/pkg/evm"
	"github.com/kr8tiv/cctp-relayer/pkg/store"
)

var errUnexpectedCall = errors.New("unexpected call")

// fakeStore is an in-memory JobStore mirroring the postgres store's
// transition semantics.
type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*store.BridgeJob
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[int64]*store.BridgeJob)}
}

func cloneJob(job *store.BridgeJob) *store.BridgeJob {
	copied := *job
	return &copied
}

func (f *fakeStore) CreateJob(_ context.Context, job *store.BridgeJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	job.ID = f.nextID
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	f.jobs[job.ID] = cloneJob(job)
	return nil
}

func (f *fakeStore) Job(_ context.Context, id int64) (*store.BridgeJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (f *fakeStore) PendingJobs(_ context.Context) ([]*store.BridgeJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []*store.BridgeJob
	for id := int64(1); id <= f.nextID; id++ {
		if job, ok := f.jobs[id]; ok && !job.State.Terminal() {
			pending = append(pending, cloneJob(job))
		}
	}
	return pending, nil
}

func (f *fakeStore) ApplyTransition(_ context.Context, id int64, next store.State, tr store.Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.State.Terminal() {
		return store.ErrJobNotFound
	}
	job.State = next
	job.RetryCount = 0
	job.Error = nil
	job.UpdatedAt = time.Now()

	switch v := tr.(type) {
	case store.Approved:
		job.ApproveTxHash = &v.ApproveTxHash
	case store.BurnSubmitted:
		job.BurnTxHash = &v.BurnTxHash
	case store.BurnConfirmed:
		job.CCTPNonce = &v.CCTPNonce
		job.MessageHash = &v.MessageHash
		job.Message = &v.Message
	case store.AttestationRequested:
	case store.AttestationReceived:
		job.Attestation = &v.Attestation
	case store.MintSubmitted:
		job.MintTxHash = &v.MintTxHash
	case store.MintConfirmed:
	case store.Deposited:
		job.DepositTxHash = &v.DepositTxHash
		job.NetDepositedUSDC = &v.NetDepositedUSDC
	}
	return nil
}

func (f *fakeStore) RecordRetry(_ context.Context, id int64, retryCount int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	job.RetryCount = retryCount
	job.Error = &reason
	return nil
}

func (f *fakeStore) FailJob(_ context.Context, id int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if job.State == store.StateDepositedToPool {
		return store.ErrJobNotFound
	}
	job.State = store.StateFailed
	job.Error = &reason
	return nil
}

type mockBase struct {
	AllowanceFunc      func(ctx context.Context) (*big.Int, error)
	ApproveFunc        func(ctx context.Context, amount *big.Int) (string, error)
	DepositForBurnFunc func(ctx context.Context, amount *big.Int, mintRecipient [32]byte) (string, error)
	ConfirmBurnFunc    func(ctx context.Context, txHash string) (*evm.BurnProof, error)
	USDCBalanceFunc    func(ctx context.Context) (*big.Int, error)
	BaseFeeFunc        func(ctx context.Context) (*big.Int, error)
}

func (m *mockBase) Allowance(ctx context.Context) (*big.Int, error) {
	if m.AllowanceFunc != nil {
		return m.AllowanceFunc(ctx)
	}
	return nil, errUnexpectedCall
}

func (m *mockBase) Approve(ctx context.Context, amount *big.Int) (string, error) {
	if m.ApproveFunc != nil {
		return m.ApproveFunc(ctx, amount)
	}
	return "", errUnexpectedCall
}

func (m *mockBase) DepositForBurn(ctx context.Context, amount *big.Int, mintRecipient [32]byte) (string, error) {
	if m.DepositForBurnFunc != nil {
		return m.DepositForBurnFunc(ctx, amount, mintRecipient)
	}
	return "", errUnexpectedCall
}

func (m *mockBase) ConfirmBurn(ctx context.Context, txHash string) (*evm.BurnProof, error) {
	if m.ConfirmBurnFunc != nil {
		return m.ConfirmBurnFunc(ctx, txHash)
	}
	return nil, errUnexpectedCall
}

func (m *mockBase) USDCBalance(ctx context.Context) (*big.Int, error) {
	if m.USDCBalanceFunc != nil {
		return m.USDCBalanceFunc(ctx)
	}
	return nil, errUnexpectedCall
}

func (m *mockBase) BaseFee(ctx context.Context) (*big.Int, error) {
	if m.BaseFeeFunc != nil {
		return m.BaseFeeFunc(ctx)
	}
	return nil, errUnexpectedCall
}

type mockSolana struct {
	MintRecipientFunc      func() [32]byte
	ReceiveMessageFunc     func(ctx context.Context, message, attestation []byte) (string, error)
	ConfirmTransactionFunc func(ctx context.Context, signature string) error
	TransferToPoolFunc     func(ctx context.Context, amountRaw uint64) (string, error)
}

func (m *mockSolana) MintRecipient() [32]byte {
	if m.MintRecipientFunc != nil {
		return m.MintRecipientFunc()
	}
	return [32]byte{}
}

func (m *mockSolana) ReceiveMessage(ctx context.Context, message, attestation []byte) (string, error) {
	if m.ReceiveMessageFunc != nil {
		return m.ReceiveMessageFunc(ctx, message, attestation)
	}
	return "", errUnexpectedCall
}

func (m *mockSolana) ConfirmTransaction(ctx context.Context, signature string) error {
	if m.ConfirmTransactionFunc != nil {
		return m.ConfirmTransactionFunc(ctx, signature)
	}
	return errUnexpectedCall
}

func (m *mockSolana) TransferToPool(ctx context.Context, amountRaw uint64) (string, error) {
	if m.TransferToPoolFunc != nil {
		return m.TransferToPoolFunc(ctx, amountRaw)
	}
	return "", errUnexpectedCall
}

type mockAttestations struct {
	AttestationFunc func(ctx context.Context, messageHash string) (string, bool, error)
}

func (m *mockAttestations) Attestation(ctx context.Context, messageHash string) (string, bool, error) {
	if m.AttestationFunc != nil {
		return m.AttestationFunc(ctx, messageHash)
	}
	return "", false, errUnexpectedCall
}

type publishedEvent struct {
	jobID int64
	state store.State
	data  map[string]any
}

type mockPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	alerts []string
}

func (m *mockPublisher) PublishTransition(_ context.Context, jobID int64, state store.State, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, publishedEvent{jobID: jobID, state: state, data: data})
	return nil
}

func (m *mockPublisher) Alert(_ context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, message)
	return nil
}

type mockSafety struct {
	IsKilledFunc          func(ctx context.Context) (bool, error)
	CheckBridgeLimitsFunc func(ctx context.Context, amount, maxSingle, maxDaily decimal.Decimal) (bool, string, error)
	CheckIdempotencyFunc  func(ctx context.Context, key string) (bool, error)
	ClearIdempotencyFunc  func(ctx context.Context, key string) error

	clearedKeys []string
}

func (m *mockSafety) IsKilled(ctx context.Context) (bool, error) {
	if m.IsKilledFunc != nil {
		return m.IsKilledFunc(ctx)
	}
	return false, nil
}

func (m *mockSafety) CheckBridgeLimits(ctx context.Context, amount, maxSingle, maxDaily decimal.Decimal) (bool, string, error) {
	if m.CheckBridgeLimitsFunc != nil {
		return m.CheckBridgeLimitsFunc(ctx, amount, maxSingle, maxDaily)
	}
	return true, "", nil
}

func (m *mockSafety) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	if m.CheckIdempotencyFunc != nil {
		return m.CheckIdempotencyFunc(ctx, key)
	}
	return true, nil
}

func (m *mockSafety) ClearIdempotency(ctx context.Context, key string) error {
	m.clearedKeys = append(m.clearedKeys, key)
	if m.ClearIdempotencyFunc != nil {
		return m.ClearIdempotencyFunc(ctx, key)
	}
	return nil
}

type mockStarter struct {
	StartBridgeFunc func(ctx context.Context, amountUSDC decimal.Decimal) (*store.BridgeJob, error)
	started         []decimal.Decimal
}

func (m *mockStarter) StartBridge(ctx context.Context, amountUSDC decimal.Decimal) (*store.BridgeJob, error) {
	m.started = append(m.started, amountUSDC)
	if m.StartBridgeFunc != nil {
		return m.StartBridgeFunc(ctx, amountUSDC)
	}
	job := store.NewBridgeJob(amountUSDC)
	job.ID = int64(len(m.started))
	return job, nil
}
