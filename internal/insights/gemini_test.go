package insights

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/welthapp/jobs/internal/domain"
)

func TestParseInsights(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{
			name: "plain array",
			raw:  `["cut back on eating out", "automate savings", "review subscriptions"]`,
			want: 3,
		},
		{
			name: "fenced json",
			raw:  "```json\n[\"a\", \"b\", \"c\"]\n```",
			want: 3,
		},
		{
			name: "fenced without language",
			raw:  "```\n[\"a\", \"b\"]\n```",
			want: 2,
		},
		{
			name: "surrounding prose",
			raw:  "Here you go: [\"a\", \"b\", \"c\"] hope that helps!",
			want: 3,
		},
		{
			name:    "not json",
			raw:     "1. spend less\n2. save more\n3. budget",
			wantErr: true,
		},
		{
			name:    "empty array",
			raw:     `[]`,
			wantErr: true,
		},
		{
			name:    "blank insight",
			raw:     `["a", "   ", "c"]`,
			wantErr: true,
		},
		{
			name:    "wrong element type",
			raw:     `[{"insight": "a"}]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInsights(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseInsights() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && len(got) != tt.want {
				t.Errorf("parseInsights() returned %d insights, want %d", len(got), tt.want)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	stats := domain.MonthlyStats{
		TotalIncome:   decimal.NewFromInt(500),
		TotalExpenses: decimal.NewFromInt(50),
		ByCategory: map[string]decimal.Decimal{
			"Food":      decimal.NewFromInt(30),
			"Transport": decimal.NewFromInt(20),
		},
		TransactionCount: 3,
	}

	prompt := buildPrompt(stats, "June")

	for _, want := range []string{
		"Financial Data for June",
		"Total Income: $500.00",
		"Total Expenses: $50.00",
		"Net Income: $450.00",
		"Food: $30.00",
		"Transport: $20.00",
		"JSON array of strings",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}

	// Categories must appear in stable sorted order.
	if strings.Index(prompt, "Food") > strings.Index(prompt, "Transport") {
		t.Error("expected categories sorted alphabetically in prompt")
	}
}

func TestFallback(t *testing.T) {
	got := Fallback()
	if len(got) != 3 {
		t.Fatalf("Fallback() returned %d insights, want 3", len(got))
	}
	for i, s := range got {
		if strings.TrimSpace(s) == "" {
			t.Errorf("fallback insight %d is blank", i)
		}
	}
}
