package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/concierge-go/internal/budget"
	"github.com/54b3r/concierge-go/internal/logging"
)

const (
	// CategoryCount is the number of categories requested per research.
	CategoryCount = 5
	// QueriesPerCategory is the number of search phrases requested per category.
	QueriesPerCategory = 20
)

// ErrMalformedCategories is returned when the model's answer cannot be read
// as a non-empty category list.
var ErrMalformedCategories = errors.New("research: malformed category list")

// Category is one item category with its search phrases.
type Category struct {
	// Name is the item category, e.g. "Cases & Covers".
	Name string `json:"item_category"`
	// Queries are the search phrases for the category.
	Queries []string `json:"queries"`
}

// CategoryGenerator derives item categories and search phrases from a
// shopping intent.
type CategoryGenerator interface {
	Generate(ctx context.Context, intent string) ([]Category, error)
}

// GenerateWithRetry calls g and, if the answer was malformed, calls it once
// more. Any other error is returned immediately.
func GenerateWithRetry(ctx context.Context, g CategoryGenerator, intent string) ([]Category, error) {
	cats, err := g.Generate(ctx, intent)
	if !errors.Is(err, ErrMalformedCategories) {
		return cats, err
	}
	logging.FromContext(ctx).Warn("research: malformed categories, retrying once", slog.Any("error", err))
	return g.Generate(ctx, intent)
}

const categorySystemPrompt = `You are a knowledgeable shopper's concierge on an e-commerce site with millions of items.

Create a list of {{.categories}} diverse and interesting item categories that help find a wide
variety of items for the user's intent. Avoid similar categories. For each category, write
{{.queries}} diverse search queries.

Answer with a JSON array only, like this example:

[
  {"item_category": "Pixel 7 smartphone", "queries": ["query string1", "query string2"]},
  {"item_category": "Cases & Covers", "queries": ["query string1", "query string2"]}
]

Examples of item categories:
- For "Warm clothes for winter": Coats & Outerwear, Sweaters & Knits, Accessories,
  Wear for winter sports, Loungewear & cozy comfort
- For "Birthday present for my son": Creative Toys & Arts, Active Play & Outdoor Fun,
  Educational Toys & Games, Role Play & Pretend Play, Books & Media`

// LLMCategoryGenerator asks a chat model for categories through a compiled
// Eino chain, so registered callbacks (Langfuse tracing) observe the call.
type LLMCategoryGenerator struct {
	// chain renders the prompt and invokes the chat model.
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewLLMCategoryGenerator compiles the prompt and chat model into a chain.
func NewLLMCategoryGenerator(ctx context.Context, cm model.BaseChatModel) (*LLMCategoryGenerator, error) {
	if cm == nil {
		return nil, fmt.Errorf("research: chat model must not be nil")
	}
	tpl := prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(categorySystemPrompt),
		schema.UserMessage("User intent: {{.intent}}"),
	)
	chain, err := compose.NewChain[map[string]any, *schema.Message]().
		AppendChatTemplate(tpl).
		AppendChatModel(cm).
		Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("research: compile category chain: %w", err)
	}
	return &LLMCategoryGenerator{chain: chain}, nil
}

// Generate implements CategoryGenerator.
func (g *LLMCategoryGenerator) Generate(ctx context.Context, intent string) ([]Category, error) {
	msg, err := g.chain.Invoke(ctx, map[string]any{
		"intent":     budget.TruncateTokens(intent, budget.DefaultMaxIntentTokens),
		"categories": CategoryCount,
		"queries":    QueriesPerCategory,
	})
	if err != nil {
		return nil, fmt.Errorf("research: generate categories: %w", err)
	}
	logging.FromContext(ctx).Debug("research: category answer received",
		slog.Int("estimated_tokens", budget.EstimateMessages([]*schema.Message{msg})))
	return parseCategories(msg.Content)
}

// parseCategories reads the JSON array from a model answer, tolerating code
// fences and surrounding prose. Blank queries are dropped; a category left
// without a name or queries makes the whole answer malformed.
func parseCategories(answer string) ([]Category, error) {
	start := strings.IndexByte(answer, '[')
	end := strings.LastIndexByte(answer, ']')
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON array in answer", ErrMalformedCategories)
	}

	var cats []Category
	if err := json.Unmarshal([]byte(answer[start:end+1]), &cats); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCategories, err)
	}
	if len(cats) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrMalformedCategories)
	}

	for i := range cats {
		cats[i].Name = strings.TrimSpace(cats[i].Name)
		queries := cats[i].Queries[:0]
		for _, q := range cats[i].Queries {
			if q = strings.TrimSpace(q); q != "" {
				queries = append(queries, q)
			}
		}
		cats[i].Queries = queries
		if cats[i].Name == "" || len(queries) == 0 {
			return nil, fmt.Errorf("%w: category %d incomplete", ErrMalformedCategories, i)
		}
	}
	return cats, nil
}
