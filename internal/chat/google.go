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

// GoogleProvider talks to the Gemini generative language API.
type GoogleProvider struct {
	apiKey          string
	baseURL         string
	model           string
	logger          *slog.Logger
	httpClient      *http.Client
	streamingClient *http.Client
}

func NewGoogleProvider(log *slog.Logger, apiKey, baseURL, model string, timeout time.Duration) *GoogleProvider {
	if log == nil {
		log = slog.Default()
	}
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if model == "" {
		model = "gemini-1.5-pro"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GoogleProvider{
		apiKey:          apiKey,
		baseURL:         strings.TrimRight(baseURL, "/"),
		model:           model,
		logger:          log.With(slog.String("provider", "google")),
		httpClient:      &http.Client{Timeout: timeout},
		streamingClient: &http.Client{},
	}
}

func (p *GoogleProvider) Name() string { return "google" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  *struct {
		Temperature     *float32 `json:"temperature,omitempty"`
		MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// buildRequest maps the unified history onto Gemini's contents format, where
// assistant turns use role "model" and system prompts ride separately.
func (p *GoogleProvider) buildRequest(req Request) geminiRequest {
	var out geminiRequest
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			if out.SystemInstruction == nil {
				out.SystemInstruction = &geminiContent{}
			}
			out.SystemInstruction.Parts = append(out.SystemInstruction.Parts, geminiPart{Text: msg.Content})
		case "assistant":
			out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: msg.Content}}})
		default:
			out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: msg.Content}}})
		}
	}
	if req.Temperature != nil || req.MaxTokens != nil {
		out.GenerationConfig = &struct {
			Temperature     *float32 `json:"temperature,omitempty"`
			MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
		}{Temperature: req.Temperature, MaxOutputTokens: req.MaxTokens}
	}
	return out
}

func (p *GoogleProvider) resolveModel(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.model
}

func (p *GoogleProvider) Complete(ctx context.Context, req Request) (Result, error) {
	model := p.resolveModel(req)
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)
	respBody, err := p.post(ctx, p.httpClient, url, p.buildRequest(req), false)
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
	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	text := collectGeminiText(parsed)
	if text == "" {
		return Result{}, fmt.Errorf("%w: no candidate text", ErrMalformedResponse)
	}

	finish := ""
	if len(parsed.Candidates) > 0 {
		finish = parsed.Candidates[0].FinishReason
	}
	return Result{
		Content:      text,
		Model:        model,
		Provider:     p.Name(),
		FinishReason: finish,
		Usage: Usage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func (p *GoogleProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error) {
	chunkCh := make(chan StreamChunk)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		defer close(errCh)

		model := p.resolveModel(req)
		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", p.baseURL, model, p.apiKey)
		respBody, err := p.post(ctx, p.streamingClient, url, p.buildRequest(req), true)
		if err != nil {
			errCh <- err
			return
		}
		defer func() {
			_ = respBody.Close()
		}()

		var usage Usage
		finish := ""
		scanner := bufio.NewScanner(respBody)
		scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			var parsed geminiResponse
			if err := json.Unmarshal([]byte(data), &parsed); err != nil {
				p.logger.Warn("skip unparseable stream chunk", slog.Any("error", err))
				continue
			}
			usage = Usage{
				PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
				CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
			}
			if len(parsed.Candidates) > 0 && parsed.Candidates[0].FinishReason != "" {
				finish = parsed.Candidates[0].FinishReason
			}
			if text := collectGeminiText(parsed); text != "" {
				select {
				case chunkCh <- StreamChunk{Content: text}:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- fmt.Errorf("read stream: %w", err)
			return
		}
		final := StreamChunk{FinishReason: finish}
		if usage.TotalTokens > 0 {
			final.Usage = &usage
		}
		select {
		case chunkCh <- final:
		case <-ctx.Done():
		}
	}()

	return chunkCh, errCh
}

func collectGeminiText(resp geminiResponse) string {
	var text strings.Builder
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
		}
		break
	}
	return text.String()
}

func (p *GoogleProvider) post(ctx context.Context, client *http.Client, url string, payload geminiRequest, stream bool) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call gemini: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp.Body, nil
}
