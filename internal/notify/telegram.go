package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"walletScope/internal/model"
)

const telegramAPI = "https://api.telegram.org"

// TelegramConfig configures the Telegram sink.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	ThreadID int
	BaseURL  string
}

// TelegramSink posts one MarkdownV2 message per record.
type TelegramSink struct {
	cfg      TelegramConfig
	renderer *Renderer
	client   *http.Client
}

func NewTelegramSink(cfg TelegramConfig, renderer *Renderer) (*TelegramSink, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram bot-token and chat-id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = telegramAPI
	}
	return &TelegramSink{
		cfg:      cfg,
		renderer: renderer,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	MessageThreadID       int    `json:"message_thread_id,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (s *TelegramSink) Send(ctx context.Context, records []model.PnLRecord) error {
	for _, rec := range records {
		if err := s.send(ctx, s.renderer.Render(ctx, rec)); err != nil {
			return fmt.Errorf("send record %s: %w", rec.ID, err)
		}
	}
	return nil
}

func (s *TelegramSink) send(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                s.cfg.ChatID,
		Text:                  text,
		ParseMode:             "MarkdownV2",
		MessageThreadID:       s.cfg.ThreadID,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.cfg.BaseURL, s.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var out sendMessageResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if !out.OK {
		return fmt.Errorf("telegram error (status %d): %s", resp.StatusCode, out.Description)
	}
	return nil
}
