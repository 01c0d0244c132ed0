package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"orderflow.app/engine/core/config"
	"orderflow.app/engine/internal/flow"
)

const systemPrompt = `You phrase messages for an ordering assistant.
Rewrite the draft naturally and warmly in the customer's language.
Keep the customer details section before the order progress section.
Keep every fact exactly as given: names, dates, counts, prices.
Never invent details, never change prices, never promise approvals.`

// renderedMessage is the structured response schema. A single field keeps
// the model from attaching commentary around the message.
type renderedMessage struct {
	Message string `json:"message" jsonschema_description:"The final message to send to the customer"`
}

var renderedSchema = generateSchema[renderedMessage]()

// LLM phrases outbound messages through a chat-completion backend with a
// strict JSON schema response format.
type LLM struct {
	client    openai.Client
	model     string
	maxTokens int
}

func NewLLM(cfg config.RenderConfig) (*LLM, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("render API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1000
	}

	return &LLM{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

var _ Renderer = (*LLM)(nil)

func (l *LLM) Render(ctx context.Context, action flow.OutboundAction) (string, error) {
	userPrompt, err := json.Marshal(action.Context)
	if err != nil {
		return "", fmt.Errorf("encoding render context: %w", err)
	}

	params := openai.ChatCompletionNewParams{
		Model: l.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(string(userPrompt)),
		},
		MaxTokens: openai.Int(int64(l.maxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "rendered_message",
					Description: openai.String("Phrased customer message"),
					Schema:      renderedSchema,
					Strict:      openai.Bool(true),
				},
			},
		},
	}

	start := time.Now()
	resp, err := l.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("rendering message: %w", err)
	}

	slog.DebugContext(ctx, "render completed",
		"model", l.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in render response")
	}

	var rendered renderedMessage
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &rendered); err != nil {
		return "", fmt.Errorf("unmarshal render response: %w", err)
	}
	if rendered.Message == "" {
		return "", fmt.Errorf("empty render response")
	}
	return rendered.Message, nil
}

// IsRetryable classifies render errors for the delivery retry loop.
// Rendering is best-effort either way: callers fall back to the composed
// text when retries are exhausted.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return true
		case apiErr.StatusCode >= 500:
			return true
		default:
			slog.DebugContext(ctx, "render client error, not retryable",
				"status_code", apiErr.StatusCode,
				"error_type", apiErr.Type)
			return false
		}
	}

	// Network errors with no API response are generally retryable.
	return true
}

func generateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}
