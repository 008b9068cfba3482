// Package llm abstracts the provider APIs behind a single completion
// interface so the router never speaks a vendor wire format directly.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"agentworks/internal/catalog"
)

type Request struct {
	Provider    catalog.Provider
	Model       string
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
}

type Response struct {
	Content string
}

// Client completes a prompt against a provider. Implementations must
// honor context cancellation so an in-flight call can be aborted.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

type TimeoutError struct {
	Provider string
	Timeout  time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out after %s", e.Provider, e.Timeout)
}

type ProviderCallError struct {
	Provider string
	Err      error
}

func (e ProviderCallError) Error() string {
	return fmt.Sprintf("provider %s call failed: %v", e.Provider, e.Err)
}

func (e ProviderCallError) Unwrap() error { return e.Err }

// HTTPClient speaks the real provider HTTP APIs. API keys come from the
// environment: ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY.
type HTTPClient struct {
	HTTP *http.Client
	// Keys overrides environment lookup, keyed by provider API kind.
	Keys map[string]string
}

func (c *HTTPClient) key(api string) string {
	if v, ok := c.Keys[api]; ok {
		return v
	}
	switch api {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "google":
		return os.Getenv("GOOGLE_API_KEY")
	}
	return ""
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (Response, error) {
	timeout := time.Duration(req.Provider.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, parse, err := c.buildRequest(ctx, req)
	if err != nil {
		return Response{}, err
	}
	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, TimeoutError{Provider: req.Provider.ID, Timeout: timeout}
		}
		return Response{}, ProviderCallError{Provider: req.Provider.ID, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Response{}, ProviderCallError{Provider: req.Provider.ID, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, ProviderCallError{Provider: req.Provider.ID, Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200))}
	}
	content, err := parse(body)
	if err != nil {
		return Response{}, ProviderCallError{Provider: req.Provider.ID, Err: err}
	}
	return Response{Content: content}, nil
}

type parseFunc func(body []byte) (string, error)

func (c *HTTPClient) buildRequest(ctx context.Context, req Request) (*http.Request, parseFunc, error) {
	base := req.Provider.BaseURL
	api := req.Provider.API
	key := c.key(api)
	switch api {
	case "anthropic":
		payload := map[string]any{
			"model":      req.Model,
			"max_tokens": maxTokensOr(req.MaxTokens, 4096),
			"messages":   []map[string]string{{"role": "user", "content": req.Prompt}},
		}
		if req.System != "" {
			payload["system"] = req.System
		}
		if req.Temperature > 0 {
			payload["temperature"] = req.Temperature
		}
		httpReq, err := jsonRequest(ctx, base+"/v1/messages", payload)
		if err != nil {
			return nil, nil, err
		}
		httpReq.Header.Set("x-api-key", key)
		httpReq.Header.Set("anthropic-version", "2023-06-01")
		return httpReq, parseAnthropic, nil
	case "openai":
		messages := []map[string]string{}
		if req.System != "" {
			messages = append(messages, map[string]string{"role": "system", "content": req.System})
		}
		messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})
		payload := map[string]any{
			"model":       req.Model,
			"messages":    messages,
			"temperature": req.Temperature,
		}
		if req.MaxTokens > 0 {
			payload["max_tokens"] = req.MaxTokens
		}
		httpReq, err := jsonRequest(ctx, base+"/v1/chat/completions", payload)
		if err != nil {
			return nil, nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+key)
		return httpReq, parseOpenAI, nil
	case "google":
		parts := []map[string]string{{"text": req.Prompt}}
		payload := map[string]any{
			"contents": []map[string]any{{"parts": parts}},
		}
		if req.System != "" {
			payload["systemInstruction"] = map[string]any{"parts": []map[string]string{{"text": req.System}}}
		}
		endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", base, req.Model, url.QueryEscape(key))
		httpReq, err := jsonRequest(ctx, endpoint, payload)
		if err != nil {
			return nil, nil, err
		}
		return httpReq, parseGoogle, nil
	}
	return nil, nil, fmt.Errorf("unsupported provider api %q", api)
}

func jsonRequest(ctx context.Context, endpoint string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func parseAnthropic(body []byte) (string, error) {
	var out struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if len(out.Content) == 0 {
		return "", fmt.Errorf("empty response")
	}
	return out.Content[0].Text, nil
}

func parseOpenAI(body []byte) (string, error) {
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("empty response")
	}
	return out.Choices[0].Message.Content, nil
}

func parseGoogle(body []byte) (string, error) {
	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response")
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

func maxTokensOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
