package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openbotdefense/kestrel/internal/domain"
	"github.com/openbotdefense/kestrel/internal/metrics"
)

const llmSystemPrompt = `You classify HTTP requests as automated or human. ` +
	`You receive one request's metadata as JSON. Respond with exactly one JSON object ` +
	`and nothing else: {"is_bot": <true|false>, "confidence": <number between 0 and 1>}.`

// llmConfidenceFloor is the minimum confidence to accept a verdict; anything
// below is treated as unknown and the cascade moves on.
const llmConfidenceFloor = 0.5

// LocalLLM classifies requests through an OpenAI-compatible completion
// endpoint, typically a self-hosted model. Anything the model says that is
// not a parseable high-confidence verdict degrades to unknown.
type LocalLLM struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewLocalLLM creates the local inference gateway.
func NewLocalLLM(cfg domain.LocalInferenceConfig) *LocalLLM {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	timeout := time.Duration(cfg.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &LocalLLM{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: timeout,
	}
}

func (g *LocalLLM) Name() string { return "local_llm" }

// Classify asks the model for a verdict on one request.
func (g *LocalLLM) Classify(ctx context.Context, meta *domain.RequestMetadata) (*bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("local llm: marshal metadata: %w", err)
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: llmSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
	})
	if err != nil {
		countFailure("local_llm", err)
		return nil, fmt.Errorf("local llm: %w", err)
	}
	if len(resp.Choices) == 0 {
		metrics.DependencyFailures.WithLabelValues("local_llm", metrics.KindDecode).Inc()
		return nil, fmt.Errorf("local llm: empty completion")
	}

	verdict, err := parseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		metrics.DependencyFailures.WithLabelValues("local_llm", metrics.KindDecode).Inc()
		return nil, fmt.Errorf("local llm: %w", err)
	}

	if verdict.Confidence < llmConfidenceFloor {
		return nil, nil
	}
	return verdict.IsBot, nil
}

type llmVerdict struct {
	IsBot      *bool   `json:"is_bot"`
	Confidence float64 `json:"confidence"`
}

// parseVerdict extracts the verdict object from the completion text. Models
// sometimes wrap the JSON in prose or code fences, so parsing starts at the
// first brace and ends at the last.
func parseVerdict(content string) (*llmVerdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in completion %q", truncate(content, 80))
	}

	var v llmVerdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("parse verdict: %w", err)
	}
	if v.IsBot == nil {
		return nil, fmt.Errorf("verdict missing is_bot field")
	}
	return &v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
