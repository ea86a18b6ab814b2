package notifier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/krobus00/order-executor/internal/config"
)

// TelegramNotifier sends operator messages through the Telegram bot
// API.
type TelegramNotifier struct {
	botToken   string
	chatID     string
	httpClient *http.Client
}

func NewTelegramNotifier(telegramConfig config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken:   strings.TrimSpace(telegramConfig.BotToken),
		chatID:     strings.TrimSpace(telegramConfig.ChatID),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *TelegramNotifier) Notify(ctx context.Context, message string) error {
	if n.botToken == "" || n.chatID == "" {
		return fmt.Errorf("telegram credentials are missing in config")
	}

	values := url.Values{}
	values.Set("chat_id", n.chatID)
	values.Set("text", message)

	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram send failed: status=%d body=%s", resp.StatusCode, string(body))
	}
	return nil
}
