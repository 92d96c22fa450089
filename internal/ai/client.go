// Package ai implements the optional Gemini-backed ask command. The
// client is nil when no API key is configured and the command is
// simply not registered.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/lbento/warden/internal/config"
)

// Client wraps the genai SDK with bounded retries.
type Client struct {
	genaiClient *genai.Client
	logger      *slog.Logger
	model       string
	timeout     time.Duration
	maxRetries  int
	retryDelay  time.Duration
}

// NewClient creates a Gemini client from configuration. Returns
// (nil, nil) when no API key is configured.
func NewClient(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	log := logger.With("component", "ai_client")
	log.Info("AI client initialized", "model", cfg.Model)

	return &Client{
		genaiClient: gi,
		logger:      log,
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
	}, nil
}

// Ask sends one prompt and returns the model's text reply.
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents := []*genai.Content{
		{Role: genai.RoleUser, Parts: []*genai.Part{{Text: prompt}}},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		resp, err := c.genaiClient.Models.GenerateContent(ctx, c.model, contents, nil)
		if err != nil {
			lastErr = err
			c.logger.WarnContext(ctx, "AI request failed",
				"attempt", attempt+1, "max_retries", c.maxRetries, "error", err)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", err
			}
			continue
		}

		text := responseText(resp)
		if text == "" {
			lastErr = errors.New("empty response from model")
			continue
		}
		return text, nil
	}

	return "", fmt.Errorf("ai request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}
