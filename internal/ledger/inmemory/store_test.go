package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/welthapp/jobs/internal/domain"
	"github.com/welthapp/jobs/internal/ledger"
)

func mustCreateAccount(t *testing.T, s *Store, a *domain.Account) {
	t.Helper()
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
}

func mustCreateTransaction(t *testing.T, s *Store, tx *domain.Transaction) {
	t.Helper()
	if err := s.CreateTransaction(context.Background(), tx); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
}

func TestApplyRecurring_Atomic(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	mustCreateAccount(t, s, &domain.Account{ID: "acc1", UserID: "u1", Balance: decimal.NewFromInt(1000)})

	next := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	mustCreateTransaction(t, s, &domain.Transaction{
		ID: "tmpl", UserID: "u1", AccountID: "acc1",
		Type: domain.TypeExpense, Amount: decimal.NewFromInt(100),
		Status: domain.StatusCompleted, IsRecurring: true,
		RecurringInterval: domain.IntervalMonthly, NextRecurringDate: &next,
	})

	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	err := s.ApplyRecurring(ctx, ledger.RecurringApplication{
		Occurrence: &domain.Transaction{
			ID: "occ1", UserID: "u1", AccountID: "acc1",
			Type: domain.TypeExpense, Amount: decimal.NewFromInt(100),
			Date: now, Status: domain.StatusCompleted,
		},
		AccountID:     "acc1",
		BalanceDelta:  decimal.NewFromInt(-100),
		TemplateID:    "tmpl",
		UserID:        "u1",
		LastProcessed: now,
		NextRecurring: now.AddDate(0, 1, 0),
	})
	if err != nil {
		t.Fatalf("ApplyRecurring: %v", err)
	}

	acct, err := s.GetAccount(ctx, "acc1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !acct.Balance.Equal(decimal.NewFromInt(900)) {
		t.Errorf("balance = %s, want 900", acct.Balance)
	}

	tmpl, err := s.GetTransaction(ctx, "tmpl", "u1")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tmpl.LastProcessed == nil || !tmpl.LastProcessed.Equal(now) {
		t.Errorf("LastProcessed = %v, want %v", tmpl.LastProcessed, now)
	}
	if tmpl.NextRecurringDate == nil || !tmpl.NextRecurringDate.Equal(now.AddDate(0, 1, 0)) {
		t.Errorf("NextRecurringDate = %v, want %v", tmpl.NextRecurringDate, now.AddDate(0, 1, 0))
	}

	if _, err := s.GetTransaction(ctx, "occ1", "u1"); err != nil {
		t.Errorf("occurrence row missing: %v", err)
	}
}

func TestApplyRecurring_MissingAccount(t *testing.T) {
	s := NewStore()
	mustCreateTransaction(t, s, &domain.Transaction{ID: "tmpl", UserID: "u1", AccountID: "gone"})

	err := s.ApplyRecurring(context.Background(), ledger.RecurringApplication{
		Occurrence: &domain.Transaction{ID: "occ1"},
		AccountID:  "gone", TemplateID: "tmpl", UserID: "u1",
	})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListDueRecurring(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -1)
	future := now.AddDate(0, 0, 1)
	processed := now.AddDate(0, -1, 0)

	mustCreateTransaction(t, s, &domain.Transaction{
		ID: "never-processed", UserID: "u1", IsRecurring: true, Status: domain.StatusCompleted,
	})
	mustCreateTransaction(t, s, &domain.Transaction{
		ID: "due", UserID: "u1", IsRecurring: true, Status: domain.StatusCompleted,
		LastProcessed: &processed, NextRecurringDate: &past,
	})
	mustCreateTransaction(t, s, &domain.Transaction{
		ID: "not-yet", UserID: "u1", IsRecurring: true, Status: domain.StatusCompleted,
		LastProcessed: &processed, NextRecurringDate: &future,
	})
	mustCreateTransaction(t, s, &domain.Transaction{
		ID: "pending-status", UserID: "u1", IsRecurring: true, Status: domain.StatusPending,
	})
	mustCreateTransaction(t, s, &domain.Transaction{
		ID: "one-off", UserID: "u1", Status: domain.StatusCompleted,
	})

	due, err := s.ListDueRecurring(ctx, now)
	if err != nil {
		t.Fatalf("ListDueRecurring: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due templates, want 2", len(due))
	}
	if due[0].ID != "due" || due[1].ID != "never-processed" {
		t.Errorf("due IDs = [%s %s], want [due never-processed]", due[0].ID, due[1].ID)
	}
}

func TestDeleteTransactions_NetsPerAccount(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	mustCreateAccount(t, s, &domain.Account{ID: "a1", UserID: "u1", Balance: decimal.NewFromInt(500)})
	mustCreateAccount(t, s, &domain.Account{ID: "a2", UserID: "u1", Balance: decimal.NewFromInt(500)})

	// a1: an expense of 100 and an income of 30; reversing nets +70.
	mustCreateTransaction(t, s, &domain.Transaction{
		ID: "t1", UserID: "u1", AccountID: "a1", Type: domain.TypeExpense, Amount: decimal.NewFromInt(100),
	})
	mustCreateTransaction(t, s, &domain.Transaction{
		ID: "t2", UserID: "u1", AccountID: "a1", Type: domain.TypeIncome, Amount: decimal.NewFromInt(30),
	})
	// a2: an income of 200; reversing nets -200.
	mustCreateTransaction(t, s, &domain.Transaction{
		ID: "t3", UserID: "u1", AccountID: "a2", Type: domain.TypeIncome, Amount: decimal.NewFromInt(200),
	})

	if err := s.DeleteTransactions(ctx, "u1", []string{"t1", "t2", "t3"}); err != nil {
		t.Fatalf("DeleteTransactions: %v", err)
	}

	a1, _ := s.GetAccount(ctx, "a1")
	if !a1.Balance.Equal(decimal.NewFromInt(570)) {
		t.Errorf("a1 balance = %s, want 570", a1.Balance)
	}
	a2, _ := s.GetAccount(ctx, "a2")
	if !a2.Balance.Equal(decimal.NewFromInt(300)) {
		t.Errorf("a2 balance = %s, want 300", a2.Balance)
	}
	if _, err := s.GetTransaction(ctx, "t1", "u1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("t1 still present after delete")
	}
}

func TestDeleteTransactions_UnknownIDAbortsBatch(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	mustCreateAccount(t, s, &domain.Account{ID: "a1", UserID: "u1", Balance: decimal.NewFromInt(500)})
	mustCreateTransaction(t, s, &domain.Transaction{
		ID: "t1", UserID: "u1", AccountID: "a1", Type: domain.TypeExpense, Amount: decimal.NewFromInt(100),
	})

	err := s.DeleteTransactions(ctx, "u1", []string{"t1", "missing"})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	// Nothing applied.
	if _, err := s.GetTransaction(ctx, "t1", "u1"); err != nil {
		t.Errorf("t1 was deleted despite aborted batch")
	}
	a1, _ := s.GetAccount(ctx, "a1")
	if !a1.Balance.Equal(decimal.NewFromInt(500)) {
		t.Errorf("a1 balance = %s, want unchanged 500", a1.Balance)
	}
}

func TestSetDefaultAccount_SingleDefault(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	mustCreateAccount(t, s, &domain.Account{ID: "a1", UserID: "u1", IsDefault: true})
	mustCreateAccount(t, s, &domain.Account{ID: "a2", UserID: "u1"})
	mustCreateAccount(t, s, &domain.Account{ID: "b1", UserID: "u2", IsDefault: true})

	if err := s.SetDefaultAccount(ctx, "u1", "a2"); err != nil {
		t.Fatalf("SetDefaultAccount: %v", err)
	}

	def, err := s.GetDefaultAccount(ctx, "u1")
	if err != nil {
		t.Fatalf("GetDefaultAccount: %v", err)
	}
	if def.ID != "a2" {
		t.Errorf("default = %s, want a2", def.ID)
	}
	a1, _ := s.GetAccount(ctx, "a1")
	if a1.IsDefault {
		t.Error("a1 still flagged default")
	}
	// Other user untouched.
	b1, _ := s.GetAccount(ctx, "b1")
	if !b1.IsDefault {
		t.Error("u2's default was cleared")
	}
}

func TestSumExpenses_WindowAndType(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	mustCreateAccount(t, s, &domain.Account{ID: "a1", UserID: "u1"})

	from := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	mk := func(id string, typ domain.TransactionType, amount int64, date time.Time) {
		mustCreateTransaction(t, s, &domain.Transaction{
			ID: id, UserID: "u1", AccountID: "a1", Type: typ,
			Amount: decimal.NewFromInt(amount), Date: date,
		})
	}
	mk("e1", domain.TypeExpense, 500, from.AddDate(0, 0, 3))
	mk("e2", domain.TypeExpense, 350, from.AddDate(0, 0, 20))
	mk("income", domain.TypeIncome, 900, from.AddDate(0, 0, 10))
	mk("prev-month", domain.TypeExpense, 100, from.AddDate(0, 0, -1))
	mk("next-month", domain.TypeExpense, 100, to)

	sum, err := s.SumExpenses(ctx, "u1", "a1", from, to)
	if err != nil {
		t.Fatalf("SumExpenses: %v", err)
	}
	if !sum.Equal(decimal.NewFromInt(850)) {
		t.Errorf("sum = %s, want 850", sum)
	}
}

func TestMarkAlertSent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if err := s.PutBudget(ctx, &domain.Budget{UserID: "u1", Amount: decimal.NewFromInt(1000)}); err != nil {
		t.Fatalf("PutBudget: %v", err)
	}

	at := time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC)
	if err := s.MarkAlertSent(ctx, "u1", at); err != nil {
		t.Fatalf("MarkAlertSent: %v", err)
	}

	budgets, _ := s.ListBudgets(ctx)
	if len(budgets) != 1 {
		t.Fatalf("got %d budgets, want 1", len(budgets))
	}
	if budgets[0].LastAlertSent == nil || !budgets[0].LastAlertSent.Equal(at) {
		t.Errorf("LastAlertSent = %v, want %v", budgets[0].LastAlertSent, at)
	}

	if err := s.MarkAlertSent(ctx, "nobody", at); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
