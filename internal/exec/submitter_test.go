package exec

import (
	"context"
	"errors"
	"sync"
	"testing"

	"defi-agent-engine/internal/ledger"
	"defi-agent-engine/internal/strategy"

	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

type fakeLedger struct {
	mu      sync.Mutex
	calls   int
	errs    []error
	receipt ledger.Receipt
}

func (f *fakeLedger) Submit(_ context.Context, _ ledger.SubmissionRequest) (ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return ledger.Receipt{}, err
		}
	}
	return f.receipt, nil
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testSubmission(t *testing.T, decisionID string) ledger.SubmissionRequest {
	t.Helper()
	plan := &strategy.ActionPlan{Steps: []strategy.ActionStep{
		{Action: strategy.ActionBuy, Asset: "ETH/USDC", AmountUSD: 1000, Priority: 1},
	}}
	req, err := ledger.NewSubmissionRequest("0x1234567890abcdef1234567890abcdef12345678", decisionID, "arb", "arbitrage", plan)
	if err != nil {
		t.Fatalf("build submission: %v", err)
	}
	return req
}

func TestSubmitIdempotentPerDecision(t *testing.T) {
	fake := &fakeLedger{receipt: ledger.Receipt{TxID: "0xaaa", Status: "confirmed"}}
	sub := NewSubmitter(fake, newMemoryStore(), nil, 3, zap.NewNop())

	req := testSubmission(t, "d-1")
	for i := 0; i < 3; i++ {
		txID, err := sub.Submit(context.Background(), req)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if txID != "0xaaa" {
			t.Fatalf("submit %d: tx %s, want 0xaaa", i, txID)
		}
	}
	if fake.callCount() != 1 {
		t.Fatalf("ledger called %d times for one decision, want 1", fake.callCount())
	}
}

func TestSubmitReadsPersistedTxID(t *testing.T) {
	store := newMemoryStore()
	store.Set(context.Background(), "decision:d-2", "0xbbb")
	fake := &fakeLedger{receipt: ledger.Receipt{TxID: "0xccc"}}
	sub := NewSubmitter(fake, store, nil, 3, zap.NewNop())

	txID, err := sub.Submit(context.Background(), testSubmission(t, "d-2"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if txID != "0xbbb" {
		t.Fatalf("tx %s, want persisted 0xbbb", txID)
	}
	if fake.callCount() != 0 {
		t.Fatalf("ledger called %d times for a persisted decision, want 0", fake.callCount())
	}
}

func TestSubmitRetriesCongestion(t *testing.T) {
	fake := &fakeLedger{
		errs:    []error{ledger.ErrNetworkCongestion, ledger.ErrNetworkCongestion, nil},
		receipt: ledger.Receipt{TxID: "0xddd"},
	}
	sub := NewSubmitter(fake, newMemoryStore(), nil, 3, zap.NewNop())

	txID, err := sub.Submit(context.Background(), testSubmission(t, "d-3"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if txID != "0xddd" {
		t.Fatalf("tx %s, want 0xddd", txID)
	}
	if fake.callCount() != 3 {
		t.Fatalf("ledger called %d times, want 3", fake.callCount())
	}
}

func TestSubmitExhaustsRetries(t *testing.T) {
	fake := &fakeLedger{
		errs: []error{ledger.ErrNetworkCongestion, ledger.ErrNetworkCongestion, ledger.ErrNetworkCongestion},
	}
	sub := NewSubmitter(fake, newMemoryStore(), nil, 3, zap.NewNop())

	_, err := sub.Submit(context.Background(), testSubmission(t, "d-4"))
	if !errors.Is(err, ledger.ErrNetworkCongestion) {
		t.Fatalf("err %v, want wrapped ErrNetworkCongestion", err)
	}
	if fake.callCount() != 3 {
		t.Fatalf("ledger called %d times, want exactly maxRetries", fake.callCount())
	}
}

func TestSubmitNoRetryOnInsufficientFunds(t *testing.T) {
	fake := &fakeLedger{errs: []error{ledger.ErrInsufficientFunds}}
	sub := NewSubmitter(fake, newMemoryStore(), nil, 3, zap.NewNop())

	_, err := sub.Submit(context.Background(), testSubmission(t, "d-5"))
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("err %v, want ErrInsufficientFunds", err)
	}
	if fake.callCount() != 1 {
		t.Fatalf("ledger called %d times, want 1 (no retry)", fake.callCount())
	}
}

func TestSubmitSerializesPerAccount(t *testing.T) {
	fake := &fakeLedger{receipt: ledger.Receipt{TxID: "0xeee"}}
	sub := NewSubmitter(fake, newMemoryStore(), nil, 3, zap.NewNop())

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sub.Submit(context.Background(), testSubmission(t, "d-6"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent submit: %v", err)
		}
	}
	if fake.callCount() != 1 {
		t.Fatalf("ledger called %d times for one decision under contention, want 1", fake.callCount())
	}
}
