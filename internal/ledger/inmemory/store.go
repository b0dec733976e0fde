// Package inmemory provides a mutex-guarded ledger store. It backs tests
// and single-process local runs; data is lost on restart. The durable
// implementation is in the bigquery package.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/welthapp/jobs/internal/domain"
	"github.com/welthapp/jobs/internal/ledger"
)

// Store keeps all rows in maps under one mutex, so every multi-row write
// is trivially atomic with respect to every reader.
type Store struct {
	mu           sync.RWMutex
	users        map[string]*domain.User
	accounts     map[string]*domain.Account
	transactions map[string]*domain.Transaction
	budgets      map[string]*domain.Budget // keyed by user ID
}

// NewStore creates an empty in-memory ledger.
func NewStore() *Store {
	return &Store{
		users:        make(map[string]*domain.User),
		accounts:     make(map[string]*domain.Account),
		transactions: make(map[string]*domain.Transaction),
		budgets:      make(map[string]*domain.Budget),
	}
}

func (s *Store) GetTransaction(ctx context.Context, id, userID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok || tx.UserID != userID {
		return nil, ledger.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *Store) ListDueRecurring(ctx context.Context, now time.Time) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*domain.Transaction
	for _, tx := range s.transactions {
		if !tx.IsRecurring || tx.Status != domain.StatusCompleted {
			continue
		}
		if tx.LastProcessed == nil || (tx.NextRecurringDate != nil && !tx.NextRecurringDate.After(now)) {
			cp := *tx
			due = append(due, &cp)
		}
	}
	// Deterministic order for tests and logs.
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (s *Store) ApplyRecurring(ctx context.Context, app ledger.RecurringApplication) error {
	if app.Occurrence == nil || app.Occurrence.ID == "" {
		return fmt.Errorf("inmemory: occurrence row is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[app.AccountID]
	if !ok {
		return ledger.ErrNotFound
	}
	tmpl, ok := s.transactions[app.TemplateID]
	if !ok || tmpl.UserID != app.UserID {
		return ledger.ErrNotFound
	}
	if _, exists := s.transactions[app.Occurrence.ID]; exists {
		return fmt.Errorf("inmemory: occurrence %s already exists", app.Occurrence.ID)
	}

	occ := *app.Occurrence
	s.transactions[occ.ID] = &occ

	acct.Balance = acct.Balance.Add(app.BalanceDelta)

	lp := app.LastProcessed
	nr := app.NextRecurring
	tmpl.LastProcessed = &lp
	tmpl.NextRecurringDate = &nr

	return nil
}

func (s *Store) DeactivateRecurring(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok || tx.UserID != userID {
		return ledger.ErrNotFound
	}
	tx.IsRecurring = false
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *acct
	return &cp, nil
}

func (s *Store) GetDefaultAccount(ctx context.Context, userID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acct := range s.accounts {
		if acct.UserID == userID && acct.IsDefault {
			cp := *acct
			return &cp, nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (s *Store) SetDefaultAccount(ctx context.Context, userID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.accounts[accountID]
	if !ok || target.UserID != userID {
		return ledger.ErrNotFound
	}
	for _, acct := range s.accounts {
		if acct.UserID == userID {
			acct.IsDefault = false
		}
	}
	target.IsDefault = true
	return nil
}

func (s *Store) SumExpenses(ctx context.Context, userID, accountID string, from, to time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, tx := range s.transactions {
		if tx.UserID != userID || tx.AccountID != accountID || tx.Type != domain.TypeExpense {
			continue
		}
		if tx.Date.Before(from) || !tx.Date.Before(to) {
			continue
		}
		total = total.Add(tx.Amount)
	}
	return total, nil
}

func (s *Store) ListBudgets(ctx context.Context) ([]*domain.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Budget, 0, len(s.budgets))
	for _, b := range s.budgets {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) MarkAlertSent(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.budgets[userID]
	if !ok {
		return ledger.ErrNotFound
	}
	t := at
	b.LastAlertSent = &t
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Transaction
	for _, tx := range s.transactions {
		if tx.UserID != userID {
			continue
		}
		if tx.Date.Before(from) || !tx.Date.Before(to) {
			continue
		}
		cp := *tx
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) DeleteTransactions(ctx context.Context, userID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Net the reversed effects per account before touching anything, so a
	// bad ID aborts the whole batch.
	deltas := make(map[string]decimal.Decimal)
	for _, id := range ids {
		tx, ok := s.transactions[id]
		if !ok || tx.UserID != userID {
			return ledger.ErrNotFound
		}
		deltas[tx.AccountID] = deltas[tx.AccountID].Sub(tx.SignedAmount())
	}
	for accountID := range deltas {
		if _, ok := s.accounts[accountID]; !ok {
			return ledger.ErrNotFound
		}
	}

	for _, id := range ids {
		delete(s.transactions, id)
	}
	for accountID, delta := range deltas {
		acct := s.accounts[accountID]
		acct.Balance = acct.Balance.Add(delta)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		return fmt.Errorf("inmemory: user ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	if a.ID == "" {
		return fmt.Errorf("inmemory: account ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.IsDefault {
		for _, acct := range s.accounts {
			if acct.UserID == a.UserID {
				acct.IsDefault = false
			}
		}
	}
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *Store) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	if t.ID == "" {
		return fmt.Errorf("inmemory: transaction ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.transactions[t.ID] = &cp
	return nil
}

func (s *Store) PutBudget(ctx context.Context, b *domain.Budget) error {
	if b.UserID == "" {
		return fmt.Errorf("inmemory: budget user ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.budgets[b.UserID] = &cp
	return nil
}

// Ensure Store implements the ledger contract.
var _ ledger.Store = (*Store)(nil)
