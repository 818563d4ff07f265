package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/quietloop/engram/pkg/types"
)

const extractionSystemPrompt = `You extract durable personal memory from conversation excerpts.
Return a JSON array. Each element has:
  "category": one of fact, preference, event, insight, relationship, commitment
  "content": a single self-contained sentence in the third person
  "target": who a commitment was made to, or "" if not a commitment
  "due_phrase": the verbatim time phrase for a commitment ("tomorrow", "by Friday"), or ""
  "importance": 0.0 to 1.0
Only include information worth remembering weeks later. Return [] if there is none.
Return only the JSON array, no prose.`

const summarySystemPrompt = `You condense related personal memories into one insight.
Reply with a single sentence that preserves the durable pattern across the inputs.
No preamble, no quotes.`

// OpenAIClient implements Client against the OpenAI API (or any
// compatible endpoint via a custom base URL).
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
	timeout        time.Duration
	maxRetries     int
	limiter        *rate.Limiter
}

// OpenAIOptions configures NewOpenAIClient.
type OpenAIOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	RequestTimeout time.Duration
	MaxRetries     int
	RatePerMinute  int
}

// NewOpenAIClient builds a client. The API key is required.
func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm: OpenAI API key is required")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	if opts.EmbeddingModel == "" {
		opts.EmbeddingModel = string(openai.SmallEmbedding3)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = 60
	}

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(cfg),
		model:          opts.Model,
		embeddingModel: opts.EmbeddingModel,
		timeout:        opts.RequestTimeout,
		maxRetries:     opts.MaxRetries,
		limiter:        rate.NewLimiter(rate.Limit(float64(opts.RatePerMinute)/60.0), opts.RatePerMinute/6+1),
	}, nil
}

// Extract asks the model for memory candidates in the excerpt.
func (c *OpenAIClient) Extract(ctx context.Context, excerpt string) ([]types.ExtractedCandidate, error) {
	raw, err := c.chat(ctx, extractionSystemPrompt, excerpt)
	if err != nil {
		return nil, err
	}
	candidates, err := parseCandidates(raw)
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

// Summarize condenses related memory contents into one sentence.
func (c *OpenAIClient) Summarize(ctx context.Context, contents []string) (string, error) {
	if len(contents) == 0 {
		return "", fmt.Errorf("%w: nothing to summarize", ErrBadResponse)
	}
	var b strings.Builder
	for i, content := range contents {
		fmt.Fprintf(&b, "%d. %s\n", i+1, content)
	}
	raw, err := c.chat(ctx, summarySystemPrompt, b.String())
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(raw)
	if summary == "" {
		return "", ErrBadResponse
	}
	return summary, nil
}

// Embed produces a vector for the text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrBadResponse)
	}

	var resp openai.EmbeddingResponse
	err := c.withRetry(ctx, func(callCtx context.Context) error {
		var callErr error
		resp, callErr = c.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(c.embeddingModel),
		})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrBadResponse
	}
	return resp.Data[0].Embedding, nil
}

func (c *OpenAIClient) chat(ctx context.Context, system, user string) (string, error) {
	var resp openai.ChatCompletionResponse
	err := c.withRetry(ctx, func(callCtx context.Context) error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:       c.model,
			Temperature: 0.1,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrBadResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// withRetry runs fn under the rate limiter with exponential backoff.
func (c *OpenAIClient) withRetry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			slog.Debug("llm retry", "attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		lastErr = fn(callCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// parseCandidates decodes the model's JSON array, tolerating markdown
// code fences around it.
func parseCandidates(raw string) ([]types.ExtractedCandidate, error) {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return nil, ErrBadResponse
	}

	var decoded []struct {
		Category   string  `json:"category"`
		Content    string  `json:"content"`
		Target     string  `json:"target"`
		DuePhrase  string  `json:"due_phrase"`
		Importance float64 `json:"importance"`
	}
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	candidates := make([]types.ExtractedCandidate, 0, len(decoded))
	for _, d := range decoded {
		category, err := types.ParseCategory(d.Category)
		if err != nil || category == "" {
			// Skip rather than fail the batch on one bad element.
			slog.Debug("llm: skipping candidate with bad category", "category", d.Category)
			continue
		}
		content := strings.TrimSpace(d.Content)
		if content == "" {
			continue
		}
		importance := d.Importance
		if importance < 0 {
			importance = 0
		}
		if importance > 1 {
			importance = 1
		}
		candidates = append(candidates, types.ExtractedCandidate{
			Category:   category,
			Content:    content,
			Target:     strings.TrimSpace(d.Target),
			DuePhrase:  strings.TrimSpace(d.DuePhrase),
			Importance: importance,
		})
	}
	return candidates, nil
}

// stripFences removes a surrounding markdown code fence if present and
// trims to the outermost JSON array.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return ""
}
