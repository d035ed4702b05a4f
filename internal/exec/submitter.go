package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"defi-agent-engine/internal/ledger"
	"defi-agent-engine/internal/metrics"
	"defi-agent-engine/internal/state"

	"go.uber.org/zap"
)

type LedgerClient interface {
	Submit(ctx context.Context, req ledger.SubmissionRequest) (ledger.Receipt, error)
}

// Submitter pushes submissions to the ledger exactly once per decision.
// A decision id that already produced a transaction is answered from the
// cache, so a crashed-and-restarted agent cannot double-spend.
type Submitter struct {
	client     LedgerClient
	store      state.Store
	metrics    *metrics.Metrics
	log        *zap.Logger
	maxRetries int

	mu    sync.Mutex
	cache map[string]string

	accountsMu sync.Mutex
	accounts   map[string]*sync.Mutex
}

func NewSubmitter(client LedgerClient, store state.Store, m *metrics.Metrics, maxRetries int, log *zap.Logger) *Submitter {
	if m == nil {
		m = metrics.NewNoop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Submitter{
		client:     client,
		store:      store,
		metrics:    m,
		log:        log,
		maxRetries: maxRetries,
		cache:      make(map[string]string),
		accounts:   make(map[string]*sync.Mutex),
	}
}

func (s *Submitter) Submit(ctx context.Context, req ledger.SubmissionRequest) (string, error) {
	if req.DecisionID == "" {
		return "", errors.New("decision id is required")
	}
	cacheKey := "decision:" + req.DecisionID

	s.mu.Lock()
	if txID, ok := s.cache[cacheKey]; ok {
		s.mu.Unlock()
		return txID, nil
	}
	s.mu.Unlock()
	if s.store != nil {
		if txID, ok, err := s.store.Get(ctx, cacheKey); err != nil {
			return "", err
		} else if ok {
			s.mu.Lock()
			s.cache[cacheKey] = txID
			s.mu.Unlock()
			return txID, nil
		}
	}

	// One in-flight submission per account. Steps of concurrent agents on
	// the same account must not interleave at the ledger.
	lock := s.accountLock(req.Account)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	if txID, ok := s.cache[cacheKey]; ok {
		s.mu.Unlock()
		return txID, nil
	}
	s.mu.Unlock()

	s.metrics.ActionsSubmitted.Inc()
	txID, err := s.submitWithRetry(ctx, req)
	if err != nil {
		s.metrics.SubmissionsFailed.Inc()
		return "", err
	}
	if s.store != nil {
		if err := s.store.Set(ctx, cacheKey, txID); err != nil {
			s.log.Warn("failed to persist tx id", zap.Error(err))
		}
	}
	s.mu.Lock()
	s.cache[cacheKey] = txID
	s.mu.Unlock()
	return txID, nil
}

func (s *Submitter) submitWithRetry(ctx context.Context, req ledger.SubmissionRequest) (string, error) {
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		receipt, err := s.client.Submit(ctx, req)
		if err == nil {
			if receipt.TxID == "" {
				return "", errors.New("empty tx id")
			}
			return receipt.TxID, nil
		}
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return "", err
		}
		lastErr = err
		if attempt == s.maxRetries-1 {
			break
		}
		if s.log != nil {
			s.log.Warn("submission attempt failed",
				zap.String("decision_id", req.DecisionID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return "", fmt.Errorf("submission failed after %d attempts: %w", s.maxRetries, lastErr)
}

func (s *Submitter) accountLock(account string) *sync.Mutex {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()
	lock, ok := s.accounts[account]
	if !ok {
		lock = &sync.Mutex{}
		s.accounts[account] = lock
	}
	return lock
}
