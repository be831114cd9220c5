package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryTx struct {
	id        string
	kind      string
	status    string
	createdAt time.Time
	legs      map[string]int64
}

type inMemoryLedger struct {
	mu           sync.RWMutex
	balances     map[string]int64
	transactions map[string]*memoryTx
	order        []*memoryTx
}

// NewInMemory creates a concurrency-safe in-memory ledger used by tests and local development.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		balances:     make(map[string]int64),
		transactions: make(map[string]*memoryTx),
	}
}

func (l *inMemoryLedger) EnsureAccount(_ context.Context, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.balances[code]; !exists {
		l.balances[code] = 0
	}
	return nil
}

func (l *inMemoryLedger) Balance(_ context.Context, code string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance, exists := l.balances[code]
	if !exists {
		return 0, ErrAccountNotFound
	}
	return balance, nil
}

func (l *inMemoryLedger) Transfer(_ context.Context, fromCode, toCode, kind, clientTxID string, amount int64) (TransactionResult, error) {
	if amount <= 0 {
		return TransactionResult{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, exists := l.transactions[kind+":"+clientTxID]; exists {
		return TransactionResult{
			TransactionID: existing.id,
			FromBalance:   l.balances[fromCode],
			ToBalance:     l.balances[toCode],
		}, ErrDuplicateTransaction
	}

	tx, err := l.post(kind, clientTxID, StatusCompleted, fromCode, toCode, amount)
	if err != nil {
		return TransactionResult{}, err
	}
	return TransactionResult{
		TransactionID: tx.id,
		FromBalance:   l.balances[fromCode],
		ToBalance:     l.balances[toCode],
	}, nil
}

func (l *inMemoryLedger) Inflow(_ context.Context, rail, code, clientTxID string, amount int64) (FundingResult, error) {
	return l.fund(inflowKind(rail), clientTxID, SuspenseAccount(rail), code, code, amount)
}

func (l *inMemoryLedger) Outflow(_ context.Context, rail, code, clientTxID string, amount int64) (FundingResult, error) {
	return l.fund(outflowKind(rail), clientTxID, code, SuspenseAccount(rail), code, amount)
}

func (l *inMemoryLedger) FindInflow(_ context.Context, rail, code, clientTxID string) (FundingResult, error) {
	return l.find(inflowKind(rail), clientTxID, code)
}

func (l *inMemoryLedger) FindOutflow(_ context.Context, rail, code, clientTxID string) (FundingResult, error) {
	return l.find(outflowKind(rail), clientTxID, code)
}

func (l *inMemoryLedger) find(kind, clientTxID, subject string) (FundingResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.transactions[kind+":"+clientTxID]
	if !ok {
		return FundingResult{}, ErrTransactionNotFound
	}
	return FundingResult{TransactionID: tx.id, AccountBalance: l.balances[subject], Status: tx.status}, nil
}

func (l *inMemoryLedger) fund(kind, clientTxID, fromCode, toCode, subject string, amount int64) (FundingResult, error) {
	if amount <= 0 {
		return FundingResult{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, exists := l.transactions[kind+":"+clientTxID]; exists {
		return FundingResult{TransactionID: existing.id, AccountBalance: l.balances[subject], Status: existing.status}, ErrDuplicateTransaction
	}
	// Rail suspense accounts are created lazily.
	for _, code := range []string{fromCode, toCode} {
		if _, ok := l.balances[code]; !ok && IsSystemAccount(code) {
			l.balances[code] = 0
		}
	}

	tx, err := l.post(kind, clientTxID, StatusPendingSettlement, fromCode, toCode, amount)
	if err != nil {
		return FundingResult{}, err
	}
	return FundingResult{TransactionID: tx.id, AccountBalance: l.balances[subject], Status: tx.status}, nil
}

// post must be called with l.mu held.
func (l *inMemoryLedger) post(kind, clientTxID, status, fromCode, toCode string, amount int64) (*memoryTx, error) {
	fromBalance, ok := l.balances[fromCode]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if _, ok := l.balances[toCode]; !ok {
		return nil, ErrAccountNotFound
	}
	if !IsSystemAccount(fromCode) && fromBalance < amount {
		return nil, ErrInsufficientFunds
	}

	l.balances[fromCode] -= amount
	l.balances[toCode] += amount

	tx := &memoryTx{
		id:        uuid.NewString(),
		kind:      kind,
		status:    status,
		createdAt: time.Now().UTC(),
		legs:      map[string]int64{fromCode: -amount, toCode: amount},
	}
	l.transactions[kind+":"+clientTxID] = tx
	l.order = append(l.order, tx)
	return tx, nil
}

func (l *inMemoryLedger) History(_ context.Context, code string, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.balances[code]; !ok {
		return nil, ErrAccountNotFound
	}
	var out []Entry
	for i := len(l.order) - 1; i >= 0; i-- {
		tx := l.order[i]
		if amount, ok := tx.legs[code]; ok {
			out = append(out, Entry{TransactionID: tx.id, Kind: tx.kind, Status: tx.status, Amount: amount, CreatedAt: tx.createdAt})
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// sum returns the total of all balances; zero for a consistent ledger.
func (l *inMemoryLedger) sum() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total int64
	for _, b := range l.balances {
		total += b
	}
	return total
}
