// Package ledger defines the storage contract the background jobs run
// against: reads over accounts, transactions and budgets, plus the atomic
// multi-row writes that keep balances consistent with transaction history.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/welthapp/jobs/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("ledger: not found")

// RecurringApplication is the atomic unit that materializes one occurrence
// of a recurring template: the occurrence row is inserted, the account
// balance is adjusted, and the template's schedule is advanced. A store
// must commit all three or none; partial application would either
// double-credit the account on retry or strand the template.
type RecurringApplication struct {
	// Occurrence is the fully built non-recurring row to insert.
	Occurrence *domain.Transaction

	// AccountID and BalanceDelta describe the balance adjustment.
	AccountID    string
	BalanceDelta decimal.Decimal

	// TemplateID/UserID identify the template whose schedule advances.
	TemplateID    string
	UserID        string
	LastProcessed time.Time
	NextRecurring time.Time
}

// Store is the ledger collaborator consumed by the job pipeline. Durable
// implementations live in the bigquery subpackage; the inmemory subpackage
// backs tests and local runs.
type Store interface {
	// GetTransaction fetches one transaction scoped to its owner.
	// Returns ErrNotFound if absent.
	GetTransaction(ctx context.Context, id, userID string) (*domain.Transaction, error)

	// ListDueRecurring returns completed recurring templates that are due
	// at the given instant: never processed, or scheduled at or before it.
	ListDueRecurring(ctx context.Context, now time.Time) ([]*domain.Transaction, error)

	// ApplyRecurring commits one RecurringApplication atomically.
	ApplyRecurring(ctx context.Context, app RecurringApplication) error

	// DeactivateRecurring clears the recurring flag on a template, leaving
	// its historical row intact. Used when the owning account is gone.
	DeactivateRecurring(ctx context.Context, id, userID string) error

	GetAccount(ctx context.Context, id string) (*domain.Account, error)

	// GetDefaultAccount returns the user's default account, or ErrNotFound
	// if the user has none.
	GetDefaultAccount(ctx context.Context, userID string) (*domain.Account, error)

	// SetDefaultAccount marks one account as the user's default, clearing
	// the flag on all their other accounts in the same atomic operation.
	SetDefaultAccount(ctx context.Context, userID, accountID string) error

	// SumExpenses totals EXPENSE amounts for the account in [from, to).
	SumExpenses(ctx context.Context, userID, accountID string, from, to time.Time) (decimal.Decimal, error)

	ListBudgets(ctx context.Context) ([]*domain.Budget, error)

	// MarkAlertSent stamps the user's budget with the alert time.
	MarkAlertSent(ctx context.Context, userID string, at time.Time) error

	// GetUser returns one user by ID, or ErrNotFound.
	GetUser(ctx context.Context, id string) (*domain.User, error)

	ListUsers(ctx context.Context) ([]*domain.User, error)

	// ListTransactions returns the user's transactions dated in [from, to).
	ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]*domain.Transaction, error)

	// DeleteTransactions removes the given transactions and nets the
	// reversed signed effects into each touched account's balance, all
	// atomically per account.
	DeleteTransactions(ctx context.Context, userID string, ids []string) error

	CreateUser(ctx context.Context, u *domain.User) error
	CreateAccount(ctx context.Context, a *domain.Account) error
	CreateTransaction(ctx context.Context, t *domain.Transaction) error
	PutBudget(ctx context.Context, b *domain.Budget) error
}
