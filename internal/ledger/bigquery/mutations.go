package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/welthapp/jobs/internal/domain"
	"github.com/welthapp/jobs/internal/ledger"
)

// runScript executes a multi-statement transaction script and waits for
// the job to finish, surfacing the job-level error.
func (s *Store) runScript(ctx context.Context, script string, params []bigquery.QueryParameter) error {
	q := s.client.Query(script)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("runScript: starting job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("runScript: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("runScript: job failed: %w", err)
	}
	return nil
}

// ApplyRecurring commits the occurrence insert, the balance adjustment and
// the schedule advance as one BigQuery transaction. A crash between
// statements rolls the whole script back, so the template stays eligible
// for exactly one more pass.
func (s *Store) ApplyRecurring(ctx context.Context, app ledger.RecurringApplication) error {
	if app.Occurrence == nil || app.Occurrence.ID == "" {
		return fmt.Errorf("ApplyRecurring: occurrence row is required")
	}
	occ := app.Occurrence

	script := fmt.Sprintf(`
		BEGIN TRANSACTION;

		INSERT INTO %[1]s
			(transaction_id, user_id, account_id, type, amount, description,
			 category, transaction_date, status, is_recurring, created_ts)
		VALUES
			(@occurrence_id, @user_id, @account_id, @type, @amount, @description,
			 @category, @occurrence_date, @status, FALSE, CURRENT_TIMESTAMP());

		UPDATE %[2]s
		SET balance = balance + @balance_delta
		WHERE account_id = @account_id;

		UPDATE %[1]s
		SET last_processed = @last_processed,
		    next_recurring_date = @next_recurring
		WHERE transaction_id = @template_id AND user_id = @user_id;

		COMMIT TRANSACTION;
	`, s.table(transactionsTable), s.table(accountsTable))

	params := []bigquery.QueryParameter{
		{Name: "occurrence_id", Value: occ.ID},
		{Name: "user_id", Value: app.UserID},
		{Name: "account_id", Value: app.AccountID},
		{Name: "type", Value: string(occ.Type)},
		{Name: "amount", Value: occ.Amount.Rat()},
		{Name: "description", Value: occ.Description},
		{Name: "category", Value: occ.Category},
		{Name: "occurrence_date", Value: civil.DateOf(occ.Date)},
		{Name: "status", Value: string(occ.Status)},
		{Name: "balance_delta", Value: app.BalanceDelta.Rat()},
		{Name: "last_processed", Value: app.LastProcessed},
		{Name: "next_recurring", Value: app.NextRecurring},
		{Name: "template_id", Value: app.TemplateID},
	}

	if err := s.runScript(ctx, script, params); err != nil {
		return fmt.Errorf("ApplyRecurring: %w", err)
	}
	return nil
}

func (s *Store) DeactivateRecurring(ctx context.Context, id, userID string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET is_recurring = FALSE
		WHERE transaction_id = @transaction_id AND user_id = @user_id
	`, s.table(transactionsTable))

	params := []bigquery.QueryParameter{
		{Name: "transaction_id", Value: id},
		{Name: "user_id", Value: userID},
	}
	if err := s.runScript(ctx, query, params); err != nil {
		return fmt.Errorf("DeactivateRecurring: %w", err)
	}
	return nil
}

// SetDefaultAccount clears the default flag across the user's accounts and
// sets it on the target in one transaction, preserving the one-default-per-
// user invariant.
func (s *Store) SetDefaultAccount(ctx context.Context, userID, accountID string) error {
	script := fmt.Sprintf(`
		BEGIN TRANSACTION;

		UPDATE %[1]s
		SET is_default = FALSE
		WHERE user_id = @user_id AND is_default = TRUE;

		UPDATE %[1]s
		SET is_default = TRUE
		WHERE user_id = @user_id AND account_id = @account_id;

		COMMIT TRANSACTION;
	`, s.table(accountsTable))

	params := []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "account_id", Value: accountID},
	}
	if err := s.runScript(ctx, script, params); err != nil {
		return fmt.Errorf("SetDefaultAccount: %w", err)
	}
	return nil
}

func (s *Store) MarkAlertSent(ctx context.Context, userID string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET last_alert_sent = @at
		WHERE user_id = @user_id
	`, s.table(budgetsTable))

	params := []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "at", Value: at},
	}
	if err := s.runScript(ctx, query, params); err != nil {
		return fmt.Errorf("MarkAlertSent: %w", err)
	}
	return nil
}

// DeleteTransactions removes the rows and nets the reversed signed effects
// into each touched account's balance in one transaction.
func (s *Store) DeleteTransactions(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	script := fmt.Sprintf(`
		BEGIN TRANSACTION;

		UPDATE %[2]s a
		SET balance = a.balance - IFNULL((
			SELECT SUM(CASE WHEN t.type = 'EXPENSE' THEN -t.amount ELSE t.amount END)
			FROM %[1]s t
			WHERE t.user_id = @user_id
			  AND t.transaction_id IN UNNEST(@ids)
			  AND t.account_id = a.account_id
		), NUMERIC '0')
		WHERE a.account_id IN (
			SELECT DISTINCT account_id
			FROM %[1]s
			WHERE user_id = @user_id AND transaction_id IN UNNEST(@ids)
		);

		DELETE FROM %[1]s
		WHERE user_id = @user_id AND transaction_id IN UNNEST(@ids);

		COMMIT TRANSACTION;
	`, s.table(transactionsTable), s.table(accountsTable))

	params := []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "ids", Value: ids},
	}
	if err := s.runScript(ctx, script, params); err != nil {
		return fmt.Errorf("DeleteTransactions: %w", err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	row := &UserRow{UserID: u.ID, Email: u.Email, Name: u.Name}
	inserter := s.client.DatasetInProject(s.projectID, s.datasetID).Table(usersTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("CreateUser: inserting row: %w", err)
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	row := &AccountRow{
		AccountID:   a.ID,
		UserID:      a.UserID,
		AccountName: a.Name,
		AccountType: string(a.Type),
		Balance:     a.Balance.Rat(),
		IsDefault:   a.IsDefault,
		CreatedTS:   time.Now().UTC(),
	}
	inserter := s.client.DatasetInProject(s.projectID, s.datasetID).Table(accountsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("CreateAccount: inserting row: %w", err)
	}
	return nil
}

func (s *Store) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	row := transactionRowFromDomain(t)
	inserter := s.client.DatasetInProject(s.projectID, s.datasetID).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("CreateTransaction: inserting row: %w", err)
	}
	return nil
}

func (s *Store) PutBudget(ctx context.Context, b *domain.Budget) error {
	script := fmt.Sprintf(`
		MERGE %s b
		USING (SELECT @user_id AS user_id) src
		ON b.user_id = src.user_id
		WHEN MATCHED THEN
			UPDATE SET amount = @amount
		WHEN NOT MATCHED THEN
			INSERT (user_id, amount) VALUES (@user_id, @amount)
	`, s.table(budgetsTable))

	params := []bigquery.QueryParameter{
		{Name: "user_id", Value: b.UserID},
		{Name: "amount", Value: b.Amount.Rat()},
	}
	if err := s.runScript(ctx, script, params); err != nil {
		return fmt.Errorf("PutBudget: %w", err)
	}
	return nil
}
