package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"google.golang.org/genai"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o"
const defaultGeminiModel = "gemini-2.0-flash"

// Completer performs one completion call: a system instruction plus a user
// prompt in, raw reply text out. Implementations are provider-specific and
// do no retrying of their own.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// LLMUsage accumulates token counts across gateway calls.
type LLMUsage struct {
	InputTokens  int64
	OutputTokens int64
}

func (u LLMUsage) TotalTokens() int64 { return u.InputTokens + u.OutputTokens }

func (u *LLMUsage) Add(other LLMUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// usageReporter is satisfied by completers that track cumulative token usage
// across calls; the runner records the totals on the run row.
type usageReporter interface {
	Usage() LLMUsage
}

// newCompleter builds the configured provider's Completer and its retry
// preset. Provider selection is purely a construction concern; everything
// downstream sees only the Gateway.
func newCompleter(cfg Config) (Completer, RetryPolicy, error) {
	switch cfg.LLMProvider {
	case "anthropic":
		return &anthropicCompleter{apiKey: cfg.AnthropicAPIKey, model: orDefault(cfg.LLMModel, defaultAnthropicModel)}, DefaultRetryPolicy(), nil
	case "openai":
		return &openAICompleter{apiKey: cfg.OpenAIAPIKey, model: orDefault(cfg.LLMModel, defaultOpenAIModel)}, DefaultRetryPolicy(), nil
	case "gemini":
		return &geminiCompleter{apiKey: cfg.GeminiAPIKey, model: orDefault(cfg.LLMModel, defaultGeminiModel)}, GeminiRetryPolicy(), nil
	default:
		return nil, RetryPolicy{}, fmt.Errorf("unknown llm_provider %q", cfg.LLMProvider)
	}
}

func orDefault(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}

// --- Anthropic ---

type anthropicCompleter struct {
	apiKey string
	model  string
	usage  LLMUsage
}

func (a *anthropicCompleter) Usage() LLMUsage { return a.usage }

func (a *anthropicCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	client := anthropic.NewClient(option.WithAPIKey(a.apiKey))

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	a.usage.Add(LLMUsage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	})

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d", len(block.Text), message.Usage.InputTokens, message.Usage.OutputTokens)
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in anthropic response")
}

// --- OpenAI ---

type openAICompleter struct {
	apiKey string
	model  string
	usage  LLMUsage
}

func (o *openAICompleter) Usage() LLMUsage { return o.usage }

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (o *openAICompleter) Complete(ctx context.Context, system, user string) (string, error) {
	reqBody := openAIRequest{
		Model: o.model,
		Messages: []openAIMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.openai.com/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := externalHTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parsing openai response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openai API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in openai response")
	}
	if parsed.Usage != nil {
		o.usage.Add(LLMUsage{InputTokens: parsed.Usage.PromptTokens, OutputTokens: parsed.Usage.CompletionTokens})
	}

	content := parsed.Choices[0].Message.Content
	log.Printf("llm openai response size=%d", len(content))
	return content, nil
}

// --- Gemini ---

type geminiCompleter struct {
	apiKey string
	model  string
	client *genai.Client
	usage  LLMUsage
}

func (g *geminiCompleter) Usage() LLMUsage { return g.usage }

func (g *geminiCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	if g.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return "", fmt.Errorf("creating gemini client: %w", err)
		}
		g.client = client
	}

	temperature := float32(0)
	config := &genai.GenerateContentConfig{
		Temperature: &temperature,
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(user), config)
	if err != nil {
		return "", fmt.Errorf("gemini API error: %w", err)
	}
	if result == nil {
		return "", fmt.Errorf("empty gemini response")
	}
	if result.UsageMetadata != nil {
		g.usage.Add(LLMUsage{
			InputTokens:  int64(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(result.UsageMetadata.CandidatesTokenCount),
		})
	}

	text := result.Text()
	log.Printf("llm gemini response size=%d", len(text))
	// A reply with no text (e.g. a safety block) is a failure for this
	// attempt, not a success.
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("gemini response without text")
	}
	return text, nil
}
