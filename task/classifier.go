package task

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/model"
)

// Rule maps keywords (single words or phrases) to one intent tag.
type Rule struct {
	Tag      string   `yaml:"tag" json:"tag"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// DefaultRules is the built-in keyword table.
var DefaultRules = []Rule{
	{Tag: "analytics", Keywords: []string{"analytics", "roi", "return on investment", "revenue", "metrics", "kpi", "conversion", "traffic", "report", "dashboard", "growth", "performance"}},
	{Tag: "support", Keywords: []string{"help", "issue", "problem", "error", "bug", "broken", "support", "refund", "cancel", "password", "login"}},
	{Tag: "sales", Keywords: []string{"price", "pricing", "quote", "buy", "purchase", "upgrade", "discount", "demo", "subscription"}},
	{Tag: "content", Keywords: []string{"write", "blog", "post", "copy", "article", "email", "caption", "headline", "newsletter"}},
	{Tag: "scheduling", Keywords: []string{"schedule", "meeting", "calendar", "appointment", "reminder", "reschedule"}},
}

// KeywordClassifier derives intents from a keyword table. Tags are returned in
// rule order so the output is deterministic.
type KeywordClassifier struct {
	rules []Rule
}

// NewKeywordClassifier creates a classifier; without rules DefaultRules is used.
func NewKeywordClassifier(rules ...Rule) *KeywordClassifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &KeywordClassifier{rules: rules}
}

// Classify implements core.Classifier.
func (c *KeywordClassifier) Classify(ctx context.Context, message string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Padded token string so phrases only match on word boundaries.
	text := " " + strings.Join(tokenize(message), " ") + " "

	var tags []string

	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			phrase := " " + strings.Join(tokenize(kw), " ") + " "
			if strings.TrimSpace(phrase) == "" {
				continue
			}
			if strings.Contains(text, phrase) {
				tags = append(tags, r.Tag)
				break
			}
		}
	}

	return NormalizeTags(tags), nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ModelClassifier asks a language model for intent tags restricted to a fixed
// vocabulary. Tags outside the vocabulary are dropped.
type ModelClassifier struct {
	llm        model.Model
	vocabulary []string
}

// NewModelClassifier creates a model-backed classifier. Without an explicit
// vocabulary the tags of DefaultRules plus the general tag are used.
func NewModelClassifier(llm model.Model, vocabulary ...string) *ModelClassifier {
	if len(vocabulary) == 0 {
		for _, r := range DefaultRules {
			vocabulary = append(vocabulary, r.Tag)
		}
		vocabulary = append(vocabulary, core.CapabilityGeneral)
	}
	return &ModelClassifier{llm: llm, vocabulary: NormalizeTags(vocabulary)}
}

// Classify implements core.Classifier.
func (c *ModelClassifier) Classify(ctx context.Context, message string) ([]string, error) {
	resp, err := c.llm.Generate(ctx, model.Request{
		Instructions: fmt.Sprintf(
			"Classify the user's message into one or more of these intent tags: %s. "+
				"Reply with the matching tags only, comma separated, most relevant first.",
			strings.Join(c.vocabulary, ", "),
		),
		Messages:  []model.Message{{Role: model.RoleUser, Content: message}},
		MaxTokens: 32,
	})
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	allowed := make(map[string]struct{}, len(c.vocabulary))
	for _, v := range c.vocabulary {
		allowed[v] = struct{}{}
	}

	var tags []string

	for _, raw := range strings.FieldsFunc(resp.Text, func(r rune) bool { return r == ',' || r == '\n' || r == ';' }) {
		tag := strings.ToLower(strings.Trim(strings.TrimSpace(raw), ".\"'`*-"))
		if _, ok := allowed[tag]; ok {
			tags = append(tags, tag)
		}
	}

	return NormalizeTags(tags), nil
}

var (
	_ core.Classifier = (*KeywordClassifier)(nil)
	_ core.Classifier = (*ModelClassifier)(nil)
)
