// Package ai sends code to a language model and returns its review.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ysxu666/llm-mr-reviewer/internal/retry"
)

// ErrEmptyResponse is returned when the model answers without any choice.
var ErrEmptyResponse = errors.New("empty AI response")

// Reviewer produces review text for a prompt.
type Reviewer interface {
	Review(ctx context.Context, prompt string) (string, error)
}

// StatusError is a non-2xx answer from the chat completions endpoint.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ai request failed: %s - %s", e.Status, e.Body)
}

// Options configures Client.
type Options struct {
	APIURL      string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	Retry       retry.Config
	HTTPClient  *http.Client
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	apiKey      string
	url         string
	model       string
	temperature float64
	retry       retry.Config
	httpClient  *http.Client
	logger      zerolog.Logger
}

// NewClient creates a new AI client. APIURL may be the full chat
// completions URL or the API base it lives under.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		apiKey:      strings.TrimSpace(opts.APIKey),
		url:         completionsURL(opts.APIURL),
		model:       opts.Model,
		temperature: opts.Temperature,
		retry:       opts.Retry,
		httpClient:  httpClient,
		logger:      logger.With().Str("component", "ai").Str("model", opts.Model).Logger(),
	}
}

func completionsURL(raw string) string {
	u := strings.TrimSpace(raw)
	if strings.HasSuffix(u, "/chat/completions") {
		return u
	}
	return strings.TrimRight(u, "/") + "/chat/completions"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionsRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type completionsResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// FirstContent returns the first choice's message, or false if there is
// no choice at all.
func (c completionsResponse) FirstContent() (string, bool) {
	if len(c.Choices) == 0 {
		return "", false
	}
	return c.Choices[0].Message.Content, true
}

// Review sends prompt as a single user message and returns the first
// choice's content. Transient failures are retried.
func (c *Client) Review(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(completionsRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	c.logger.Debug().Int("prompt_bytes", len(prompt)).Msg("Calling model")

	var content string
	result := retry.Do(ctx, c.retry, c.logger, func(ctx context.Context) error {
		var err error
		content, err = c.send(ctx, body)
		return err
	})
	if !result.Success {
		return "", result.LastError
	}

	c.logger.Debug().
		Int("attempts", result.Attempts).
		Dur("duration", result.TotalDuration).
		Int("response_bytes", len(content)).
		Msg("Model responded")
	return content, nil
}

func (c *Client) send(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(buf)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", statusErr
		}
		return "", retry.Permanent(statusErr)
	}

	var parsed completionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	content, ok := parsed.FirstContent()
	if !ok {
		return "", retry.Permanent(ErrEmptyResponse)
	}
	return content, nil
}
