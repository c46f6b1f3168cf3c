package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"newsbrief-backend/pkg/config"
	"newsbrief-backend/pkg/errutil"
)

// HTTPSummarizer speaks the OpenAI-compatible chat-completions format, which
// also covers Ollama, LocalAI and most gateway services.
type HTTPSummarizer struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

func NewHTTPSummarizer(cfg *config.Config) *HTTPSummarizer {
	timeout := cfg.Summarizer.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &HTTPSummarizer{
		baseURL: cfg.Summarizer.BaseURL,
		model:   cfg.Summarizer.Model,
		apiKey:  cfg.Summarizer.ApiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

func (s *HTTPSummarizer) Summarize(ctx context.Context, req Request) (*Result, error) {
	body := chatCompletionRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a news editor writing short, factual briefings. Plain prose, no headlines, no bullet points."},
			{Role: "user", Content: fmt.Sprintf(
				"Write a summary of today's most important %q news for the %s market in about %d words.",
				req.Topic, req.Locale, req.TargetWords,
			)},
		},
		Stream: false,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	endpoint := s.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, errutil.BadGateway("summarizer request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, errutil.BadGateway(fmt.Sprintf("summarizer returned status %d: %s", resp.StatusCode, string(raw)), nil)
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, errutil.BadGateway("failed to decode summarizer response", err)
	}

	if len(completion.Choices) == 0 {
		return nil, errutil.BadGateway("summarizer returned no choices", nil)
	}

	metadata := map[string]any{
		"model": completion.Model,
	}
	if completion.Usage != nil {
		metadata["prompt_tokens"] = completion.Usage.PromptTokens
		metadata["completion_tokens"] = completion.Usage.CompletionTokens
	}

	return &Result{
		Summary:  completion.Choices[0].Message.Content,
		Metadata: metadata,
	}, nil
}
