package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/welthapp/jobs/internal/domain"
)

// DefaultModelName is the Gemini model used for insight generation.
const DefaultModelName = "gemini-1.5-flash"

// GeminiGenerator asks Gemini for exactly three insights as a strict JSON
// array of strings.
type GeminiGenerator struct {
	model string
}

// NewGeminiGenerator creates a generator for the given model, defaulting
// to DefaultModelName. Credentials come from the environment (GEMINI_API_KEY
// or Application Default Credentials).
func NewGeminiGenerator(model string) *GeminiGenerator {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiGenerator{model: model}
}

// Generate implements the Generator interface.
func (g *GeminiGenerator) Generate(ctx context.Context, stats domain.MonthlyStats, monthName string) ([]string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("insights: create genai client: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: buildPrompt(stats, monthName)},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("insights: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("insights: empty response from model")
	}

	return parseInsights(rawText)
}

func buildPrompt(stats domain.MonthlyStats, monthName string) string {
	var b strings.Builder
	b.WriteString("Analyze this financial data and provide 3 concise, actionable insights.\n")
	b.WriteString("Focus on spending patterns and practical advice.\n")
	b.WriteString("Keep it friendly and conversational.\n\n")

	fmt.Fprintf(&b, "Financial Data for %s:\n", monthName)
	fmt.Fprintf(&b, "- Total Income: $%s\n", stats.TotalIncome.StringFixed(2))
	fmt.Fprintf(&b, "- Total Expenses: $%s\n", stats.TotalExpenses.StringFixed(2))
	fmt.Fprintf(&b, "- Net Income: $%s\n", stats.Net().StringFixed(2))

	// Stable category order keeps prompts reproducible.
	categories := make([]string, 0, len(stats.ByCategory))
	for c := range stats.ByCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	parts := make([]string, 0, len(categories))
	for _, c := range categories {
		parts = append(parts, fmt.Sprintf("%s: $%s", c, stats.ByCategory[c].StringFixed(2)))
	}
	fmt.Fprintf(&b, "- Expense Categories: %s\n\n", strings.Join(parts, ", "))

	b.WriteString("Format the response as a JSON array of strings, like this:\n")
	b.WriteString(`["insight 1", "insight 2", "insight 3"]` + "\n")
	b.WriteString("Return ONLY valid raw JSON. Do NOT wrap the response in code fences.\n")
	return b.String()
}

// parseInsights parses the model output into a non-empty list of strings,
// tolerating Markdown fences the model was told not to emit.
func parseInsights(raw string) ([]string, error) {
	clean := cleanModelJSON(raw)

	var list []string
	if err := json.Unmarshal([]byte(clean), &list); err != nil {
		return nil, fmt.Errorf("insights: unmarshal JSON: %w\nraw response: %s", err, raw)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("insights: model returned an empty list")
	}
	for _, item := range list {
		if strings.TrimSpace(item) == "" {
			return nil, fmt.Errorf("insights: model returned a blank insight")
		}
	}
	return list, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only the first '[' to the last ']' if junk surrounds the array.
	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}

// Ensure GeminiGenerator implements the Generator interface.
var _ Generator = (*GeminiGenerator)(nil)
