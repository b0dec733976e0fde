// Package bigquery implements the ledger store on BigQuery. Reads go
// through parameterized queries; the atomic multi-row writes run as
// multi-statement transaction scripts so balance, occurrence and schedule
// always move together.
package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"github.com/welthapp/jobs/internal/domain"
	"github.com/welthapp/jobs/internal/ledger"
)

const (
	transactionsTable = "transactions"
	accountsTable     = "accounts"
	budgetsTable      = "budgets"
	usersTable        = "users"
)

const transactionColumns = `
	transaction_id,
	user_id,
	account_id,
	type,
	amount,
	description,
	category,
	transaction_date,
	status,
	is_recurring,
	recurring_interval,
	next_recurring_date,
	last_processed,
	created_ts`

// Store is the BigQuery-backed ledger. It holds a shared client to avoid
// creating a new connection per operation.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewStore creates a ledger store against the given project and dataset
// using Application Default Credentials.
func NewStore(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	return &Store{client: client, projectID: projectID, datasetID: datasetID}, nil
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.projectID, s.datasetID, name)
}

func (s *Store) GetTransaction(ctx context.Context, id, userID string) (*domain.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE transaction_id = @transaction_id AND user_id = @user_id
		LIMIT 1
	`, transactionColumns, s.table(transactionsTable))

	q := s.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: id},
		{Name: "user_id", Value: userID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: reading query: %w", err)
	}

	var row TransactionRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: iterating: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListDueRecurring(ctx context.Context, now time.Time) ([]*domain.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE is_recurring = TRUE
		  AND status = 'COMPLETED'
		  AND (last_processed IS NULL OR next_recurring_date <= @now)
		ORDER BY transaction_id
	`, transactionColumns, s.table(transactionsTable))

	q := s.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{{Name: "now", Value: now}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListDueRecurring: reading query: %w", err)
	}

	var due []*domain.Transaction
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListDueRecurring: iterating: %w", err)
		}
		due = append(due, row.toDomain())
	}
	return due, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	query := fmt.Sprintf(`
		SELECT account_id, user_id, account_name, account_type, balance, is_default, created_ts
		FROM %s
		WHERE account_id = @account_id
		LIMIT 1
	`, s.table(accountsTable))

	q := s.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{{Name: "account_id", Value: id}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetAccount: reading query: %w", err)
	}

	var row AccountRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetAccount: iterating: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetDefaultAccount(ctx context.Context, userID string) (*domain.Account, error) {
	query := fmt.Sprintf(`
		SELECT account_id, user_id, account_name, account_type, balance, is_default, created_ts
		FROM %s
		WHERE user_id = @user_id AND is_default = TRUE
		LIMIT 1
	`, s.table(accountsTable))

	q := s.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetDefaultAccount: reading query: %w", err)
	}

	var row AccountRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetDefaultAccount: iterating: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) SumExpenses(ctx context.Context, userID, accountID string, from, to time.Time) (decimal.Decimal, error) {
	query := fmt.Sprintf(`
		SELECT IFNULL(SUM(amount), NUMERIC '0') AS total
		FROM %s
		WHERE user_id = @user_id
		  AND account_id = @account_id
		  AND type = 'EXPENSE'
		  AND transaction_date >= @from_date
		  AND transaction_date < @to_date
	`, s.table(transactionsTable))

	q := s.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "account_id", Value: accountID},
		{Name: "from_date", Value: civil.DateOf(from)},
		{Name: "to_date", Value: civil.DateOf(to)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("SumExpenses: reading query: %w", err)
	}

	var row struct {
		Total *big.Rat `bigquery:"total"`
	}
	if err := it.Next(&row); err != nil && err != iterator.Done {
		return decimal.Zero, fmt.Errorf("SumExpenses: iterating: %w", err)
	}
	return ratToDecimal(row.Total), nil
}

func (s *Store) ListBudgets(ctx context.Context) ([]*domain.Budget, error) {
	query := fmt.Sprintf(`
		SELECT user_id, amount, last_alert_sent
		FROM %s
		ORDER BY user_id
	`, s.table(budgetsTable))

	it, err := s.client.Query(query).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListBudgets: reading query: %w", err)
	}

	var budgets []*domain.Budget
	for {
		var row BudgetRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListBudgets: iterating: %w", err)
		}
		budgets = append(budgets, row.toDomain())
	}
	return budgets, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	query := fmt.Sprintf(`
		SELECT user_id, email, name
		FROM %s
		WHERE user_id = @user_id
		LIMIT 1
	`, s.table(usersTable))

	q := s.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: id}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetUser: reading query: %w", err)
	}

	var row UserRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetUser: iterating: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	query := fmt.Sprintf(`
		SELECT user_id, email, name
		FROM %s
		ORDER BY user_id
	`, s.table(usersTable))

	it, err := s.client.Query(query).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListUsers: reading query: %w", err)
	}

	var users []*domain.User
	for {
		var row UserRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListUsers: iterating: %w", err)
		}
		users = append(users, row.toDomain())
	}
	return users, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]*domain.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE user_id = @user_id
		  AND transaction_date >= @from_date
		  AND transaction_date < @to_date
		ORDER BY transaction_date
	`, transactionColumns, s.table(transactionsTable))

	q := s.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "from_date", Value: civil.DateOf(from)},
		{Name: "to_date", Value: civil.DateOf(to)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: reading query: %w", err)
	}

	var txs []*domain.Transaction
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: iterating: %w", err)
		}
		txs = append(txs, row.toDomain())
	}
	return txs, nil
}

// Ensure Store implements the ledger contract.
var _ ledger.Store = (*Store)(nil)
