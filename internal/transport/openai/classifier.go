package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/policyrag/internal/domain"
)

const classifierSystemPrompt = "You are an insurance underwriting assistant. " +
	"Classify underwriting questions onto policy categories."

// Classifier maps questions onto policy categories with a chat model.
type Classifier struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// ClassifierConfig holds the chat model settings.
type ClassifierConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewClassifier creates a chat-completion classifier.
func NewClassifier(cfg *ClassifierConfig) *Classifier {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		client: newClient(cfg.APIKey, cfg.BaseURL, cfg.HTTPClient),
		model:  cfg.Model,
		logger: logger,
	}
}

// Classify asks the model for a JSON classification of question.
func (c *Classifier) Classify(ctx context.Context, question string, categories []string) (domain.CategoryGuess, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifierSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: classifierPrompt(question, categories)},
		},
		Temperature: 0.1,
		MaxTokens:   200,
	})
	if err != nil {
		return domain.CategoryGuess{}, classifyError(err, 0)
	}
	if len(resp.Choices) == 0 {
		return domain.CategoryGuess{}, errors.New("classifier returned no choices")
	}

	guess, err := parseGuess(resp.Choices[0].Message.Content)
	if err != nil {
		return domain.CategoryGuess{}, err
	}
	c.logger.Debug("Classifier answered",
		zap.String("category", guess.Category),
		zap.Float64("confidence", guess.Confidence),
	)
	return guess, nil
}

func classifierPrompt(question string, categories []string) string {
	var b strings.Builder
	b.WriteString("Analyze this underwriting query and identify the most relevant policy category.\n\n")
	fmt.Fprintf(&b, "Query: %q\n\n", question)
	fmt.Fprintf(&b, "Available categories: %s\n\n", strings.Join(categories, ", "))
	b.WriteString("Respond with a JSON object:\n")
	b.WriteString(`{"category": "one of the available categories or empty", "subcategory": "snake_case subcategory or empty", ` +
		`"risk_level": "Low, Moderate, High or empty", "confidence": 0.0}` + "\n")
	b.WriteString("Respond with valid JSON only.")
	return b.String()
}

// parseGuess decodes the model answer, tolerating a markdown code fence.
func parseGuess(content string) (domain.CategoryGuess, error) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		if _, rest, ok := strings.Cut(text, "\n"); ok {
			text = rest
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	var g domain.CategoryGuess
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &g); err != nil {
		return domain.CategoryGuess{}, fmt.Errorf("decode classifier answer: %w", err)
	}
	g.Category = strings.TrimSpace(g.Category)
	g.Subcategory = strings.TrimSpace(g.Subcategory)
	switch g.RiskLevel {
	case "Low", "Moderate", "High":
	default:
		g.RiskLevel = ""
	}
	return g, nil
}
