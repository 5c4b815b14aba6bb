package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/retail-insights/backend/pkg/circuitbreaker"
	"github.com/retail-insights/backend/pkg/logger"
	"github.com/retail-insights/backend/pkg/retry"
)

// Client wraps the OpenAI chat API behind the two pipeline capabilities:
// natural-language-to-SQL generation and result summarization.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(apiKey, model string, temperature float32, maxTokens, timeoutSec int) *Client {
	client := openai.NewClient(apiKey)

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    2,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	timeout := time.Duration(timeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	logger.Info("LLM client initialized", zap.String("model", model))

	return &Client{
		client:      client,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

// GenerateSQL converts a natural-language request into a single read-only
// SQL statement over the cleaned sales table described by schemaContext.
func (c *Client) GenerateSQL(ctx context.Context, userRequest, schemaContext string) (string, error) {
	systemPrompt := fmt.Sprintf(`You are an expert SQL query generator for a retail analytics database.

%s

Convert the natural language request into a single valid read-only SQL query.
Use only the table and columns above. Always include appropriate WHERE clauses
and LIMIT results to reasonable numbers. Return only the SQL query without any
explanation or markdown fences.`, schemaContext)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userRequest,
		Temperature:  0.1,
		MaxTokens:    500,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate SQL: %w", err)
	}

	sql := stripCodeFences(resp.Content)

	logger.Info("SQL generated from request",
		zap.Int("sql_length", len(sql)),
	)

	return sql, nil
}

// SummarizeResults turns a bounded sample of query result rows into a
// business-facing narrative for the original request.
func (c *Client) SummarizeResults(ctx context.Context, userRequest string, rows []map[string]string) (string, error) {
	sample, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("failed to encode result sample: %w", err)
	}

	systemPrompt := `You are a retail analytics expert. Summarize query results in a clear,
business-friendly format. Focus on key findings, notable trends, and
actionable recommendations. Keep the summary under 200 words.`

	userPrompt := fmt.Sprintf(`Original Request: %s

Number of records: %d
Result rows: %s

Provide a concise summary with key findings and recommendations.`, userRequest, len(rows), sample)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.3,
		MaxTokens:    300,
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize results: %w", err)
	}

	logger.Info("Results summarized", zap.Int("summary_length", len(resp.Content)))

	return resp.Content, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
