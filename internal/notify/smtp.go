package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wneessen/go-mail"
)

// SMTPConfig carries the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPNotifier renders payloads to plain-text mail and sends them through
// an SMTP relay.
type SMTPNotifier struct {
	cfg SMTPConfig
}

// NewSMTPNotifier creates a notifier for the given relay.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

func (n *SMTPNotifier) send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(n.cfg.From); err != nil {
		return fmt.Errorf("notify: from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("notify: to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	client, err := mail.NewClient(n.cfg.Host,
		mail.WithPort(n.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(n.cfg.Username),
		mail.WithPassword(n.cfg.Password),
	)
	if err != nil {
		return fmt.Errorf("notify: create smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("notify: send mail: %w", err)
	}
	return nil
}

// SendBudgetAlert implements the Notifier interface.
func (n *SMTPNotifier) SendBudgetAlert(ctx context.Context, alert BudgetAlert) error {
	subject := fmt.Sprintf("Budget Alert for %s", alert.AccountName)

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", alert.User.Name)
	fmt.Fprintf(&b, "You've used %s%% of your monthly budget.\n\n", alert.PercentageUsed.StringFixed(1))
	fmt.Fprintf(&b, "Budget: $%s\n", alert.BudgetAmount.StringFixed(2))
	fmt.Fprintf(&b, "Spent so far: $%s\n", alert.TotalExpenses.StringFixed(2))
	fmt.Fprintf(&b, "Remaining: $%s\n", alert.BudgetAmount.Sub(alert.TotalExpenses).StringFixed(2))

	return n.send(ctx, alert.User.Email, subject, b.String())
}

// SendMonthlyReport implements the Notifier interface.
func (n *SMTPNotifier) SendMonthlyReport(ctx context.Context, report MonthlyReport) error {
	subject := fmt.Sprintf("Your Monthly Financial Report - %s", report.MonthName)

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", report.User.Name)
	fmt.Fprintf(&b, "Here is your financial summary for %s:\n\n", report.MonthName)
	fmt.Fprintf(&b, "Total Income: $%s\n", report.Stats.TotalIncome.StringFixed(2))
	fmt.Fprintf(&b, "Total Expenses: $%s\n", report.Stats.TotalExpenses.StringFixed(2))
	fmt.Fprintf(&b, "Net: $%s\n", report.Stats.Net().StringFixed(2))
	fmt.Fprintf(&b, "Transactions: %d\n", report.Stats.TransactionCount)

	if len(report.Stats.ByCategory) > 0 {
		b.WriteString("\nExpenses by category:\n")
		categories := make([]string, 0, len(report.Stats.ByCategory))
		for c := range report.Stats.ByCategory {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		for _, c := range categories {
			fmt.Fprintf(&b, "  %s: $%s\n", c, report.Stats.ByCategory[c].StringFixed(2))
		}
	}

	if len(report.Insights) > 0 {
		b.WriteString("\nInsights:\n")
		for _, insight := range report.Insights {
			fmt.Fprintf(&b, "  - %s\n", insight)
		}
	}

	return n.send(ctx, report.User.Email, subject, b.String())
}

// Ensure SMTPNotifier implements the Notifier interface.
var _ Notifier = (*SMTPNotifier)(nil)
