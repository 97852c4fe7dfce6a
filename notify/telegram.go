package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"
)

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramProvider sends messages through the Telegram Bot API.
type TelegramProvider struct {
	limiter    *rate.Limiter
	client     *http.Client
	logger     *slog.Logger
	apiURL     string
	token      string
	retryDelay time.Duration
}

// TelegramOption configures a TelegramProvider.
type TelegramOption func(*TelegramProvider)

// WithAPIURL overrides the Bot API base URL.
func WithAPIURL(u string) TelegramOption {
	return func(p *TelegramProvider) { p.apiURL = u }
}

// WithRateLimit sets the outbound message rate.
func WithRateLimit(perSecond float64, burst int) TelegramOption {
	return func(p *TelegramProvider) { p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithRetryDelay sets the base delay between send attempts.
func WithRetryDelay(d time.Duration) TelegramOption {
	return func(p *TelegramProvider) { p.retryDelay = d }
}

// NewTelegramProvider creates a provider for the bot identified by token.
func NewTelegramProvider(token string, logger *slog.Logger, opts ...TelegramOption) *TelegramProvider {
	p := &TelegramProvider{
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		apiURL:     DefaultTelegramAPI,
		token:      token,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	OK          bool   `json:"ok"`
}

// Send posts text to chatID with Markdown formatting.
func (p *TelegramProvider) Send(ctx context.Context, chatID, text string) error {
	jsonData, err := json.Marshal(sendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", p.apiURL, p.token)

	return retry.Do(
		func() error {
			if err := p.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(fmt.Errorf("rate limiter: %w", err))
			}

			p.logger.Info("Telegram API request starting",
				"method", "POST",
				"endpoint", "sendMessage",
				"chat_id", chatID)

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := p.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				// The message may have been delivered before the reply was lost.
				// Only the next cycle retries it.
				p.logger.Warn("Telegram API request failed",
					"chat_id", chatID,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return retry.Unrecoverable(fmt.Errorf("send request: %w", err))
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					p.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("read response: %w", err))
			}

			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				p.logger.Warn("Telegram API returned retryable status, will retry",
					"status_code", resp.StatusCode,
					"chat_id", chatID)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return retry.Unrecoverable(fmt.Errorf("HTTP %d: %s", resp.StatusCode, describe(body)))
			}

			var out apiResponse
			if err := json.Unmarshal(body, &out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
			}
			if !out.OK {
				return retry.Unrecoverable(fmt.Errorf("telegram rejected message: %s", out.Description))
			}

			p.logger.Info("Telegram API request completed",
				"endpoint", "sendMessage",
				"chat_id", chatID,
				"duration_ms", duration.Milliseconds(),
				"status", "success")
			return nil
		},
		retry.Attempts(3),
		retry.Delay(p.retryDelay),
		retry.MaxDelay(time.Minute),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("Retrying Telegram send after error", "attempt", n, "error", err)
		}),
	)
}

func describe(body []byte) string {
	var out apiResponse
	if err := json.Unmarshal(body, &out); err == nil && out.Description != "" {
		return out.Description
	}
	return string(body)
}
