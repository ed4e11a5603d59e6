package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TelegramSink posts notifications through the Telegram bot API. It is a
// stateless fire-and-forget transport: no retry, bounded timeout.
type TelegramSink struct {
	botToken string
	baseURL  string
	client   *http.Client
}

// NewTelegramSink creates the sink. With an empty token, Send makes no
// request and returns a not-configured error, which keeps local setups
// alert-free but functional.
func NewTelegramSink(botToken string) *TelegramSink {
	return &TelegramSink{
		botToken: botToken,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers one message to a chat
func (s *TelegramSink) Send(ctx context.Context, chatID int64, text string) error {
	if s.botToken == "" {
		return fmt.Errorf("telegram bot token not configured")
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("failed to encode telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("telegram HTTP %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
