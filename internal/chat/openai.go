package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider talks to the OpenAI chat completions API.
type OpenAIProvider struct {
	apiKey          string
	baseURL         string
	model           string
	logger          *slog.Logger
	httpClient      *http.Client
	streamingClient *http.Client
}

func NewOpenAIProvider(log *slog.Logger, apiKey, baseURL, model string, timeout time.Duration) *OpenAIProvider {
	if log == nil {
		log = slog.Default()
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIProvider{
		apiKey:          apiKey,
		baseURL:         strings.TrimRight(baseURL, "/"),
		model:           model,
		logger:          log.With(slog.String("provider", "openai")),
		httpClient:      &http.Client{Timeout: timeout},
		streamingClient: &http.Client{},
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type openAIRequest struct {
	Model         string           `json:"model"`
	Messages      []Message        `json:"messages"`
	Stream        bool             `json:"stream,omitempty"`
	StreamOptions *openAIStreamOpt `json:"stream_options,omitempty"`
	Temperature   *float32         `json:"temperature,omitempty"`
	MaxTokens     *int             `json:"max_tokens,omitempty"`
}

type openAIStreamOpt struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		Delta        Message `json:"delta"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (Result, error) {
	body := openAIRequest{
		Model:       p.resolveModel(req),
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	respBody, err := p.post(ctx, p.httpClient, body, false)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		_ = respBody.Close()
	}()

	raw, err := io.ReadAll(respBody)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	result := Result{
		Content:      parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		Provider:     p.Name(),
		FinishReason: parsed.Choices[0].FinishReason,
	}
	if parsed.Usage != nil {
		result.Usage = *parsed.Usage
	}
	return result, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error) {
	chunkCh := make(chan StreamChunk)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		defer close(errCh)

		body := openAIRequest{
			Model:         p.resolveModel(req),
			Messages:      req.Messages,
			Stream:        true,
			StreamOptions: &openAIStreamOpt{IncludeUsage: true},
			Temperature:   req.Temperature,
			MaxTokens:     req.MaxTokens,
		}
		respBody, err := p.post(ctx, p.streamingClient, body, true)
		if err != nil {
			errCh <- err
			return
		}
		defer func() {
			_ = respBody.Close()
		}()

		scanner := bufio.NewScanner(respBody)
		scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}
			var parsed openAIResponse
			if err := json.Unmarshal([]byte(data), &parsed); err != nil {
				p.logger.Warn("skip unparseable stream chunk", slog.Any("error", err))
				continue
			}
			chunk := StreamChunk{Usage: parsed.Usage}
			if len(parsed.Choices) > 0 {
				chunk.Content = parsed.Choices[0].Delta.Content
				chunk.FinishReason = parsed.Choices[0].FinishReason
			}
			if chunk.Content == "" && chunk.FinishReason == "" && chunk.Usage == nil {
				continue
			}
			select {
			case chunkCh <- chunk:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- fmt.Errorf("read stream: %w", err)
		}
	}()

	return chunkCh, errCh
}

func (p *OpenAIProvider) resolveModel(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.model
}

func (p *OpenAIProvider) post(ctx context.Context, client *http.Client, payload openAIRequest, stream bool) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call openai: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("openai status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp.Body, nil
}
