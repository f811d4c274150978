package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/contestradar/crawler-http-service/common"
	"github.com/contestradar/crawler-http-service/common/config"
	"github.com/rs/zerolog/log"
)

const (
	telegramAPIBase = "https://api.telegram.org"

	// Telegram caps message text at 4096 characters and media captions at 1024
	telegramMessageLimit = 4096
	telegramCaptionLimit = 1024
)

// markdownV2Escapes matches every character MarkdownV2 requires escaping
var markdownV2Escapes = regexp.MustCompile("([_*\\[\\]()~`>#+\\-=|{}.!])")

// EscapeMarkdownV2 backslash-escapes MarkdownV2 control characters
func EscapeMarkdownV2(s string) string {
	return markdownV2Escapes.ReplaceAllString(s, `\$1`)
}

// TelegramSender delivers notifications to one Telegram chat, optionally into
// a forum topic thread
type TelegramSender struct {
	id       string
	token    string
	chatID   string
	threadID int
	baseURL  string
	client   *http.Client
}

// NewTelegramSender creates a sender from a configured channel
func NewTelegramSender(cfg config.ChannelConfig) (*TelegramSender, error) {
	if cfg.Token == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("%w: telegram channel %s is missing token or chat id", common.ErrInvalidConfig, cfg.ID)
	}

	threadID := 0
	if cfg.ThreadID != "" {
		parsed, err := strconv.Atoi(cfg.ThreadID)
		if err != nil {
			return nil, fmt.Errorf("telegram channel %s has invalid thread id %q", cfg.ID, cfg.ThreadID)
		}
		threadID = parsed
	}

	return &TelegramSender{
		id:       cfg.ID,
		token:    cfg.Token,
		chatID:   cfg.ChatID,
		threadID: threadID,
		baseURL:  telegramAPIBase,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// ID returns the channel identifier
func (t *TelegramSender) ID() string {
	return t.id
}

// Send delivers one payload. Long messages are split to fit Telegram's
// limits; when an image is present the first chunk becomes its caption.
// A MarkdownV2 parse rejection is retried once as plain text so a stray
// character never loses a notification.
func (t *TelegramSender) Send(ctx context.Context, payload Payload) error {
	text := EscapeMarkdownV2(payload.Message)

	if imageURL, ok := payload.ImageURL.Get(); ok {
		chunks := splitMessage(text, telegramCaptionLimit)
		if err := t.sendWithFallback(ctx, func(markup bool) error {
			caption := chunks[0]
			if !markup {
				caption = splitMessage(payload.Message, telegramCaptionLimit)[0]
			}
			return t.sendPhoto(ctx, imageURL, caption, payload.Silent, markup)
		}); err != nil {
			return err
		}
		return t.sendTextChunks(ctx, chunks[1:], payload)
	}

	chunks := splitMessage(text, telegramMessageLimit)
	return t.sendTextChunks(ctx, chunks, payload)
}

func (t *TelegramSender) sendTextChunks(ctx context.Context, chunks []string, payload Payload) error {
	for _, chunk := range chunks {
		chunk := chunk
		if err := t.sendWithFallback(ctx, func(markup bool) error {
			text := chunk
			if !markup {
				// Drop the escape backslashes when resending as plain text
				text = strings.ReplaceAll(text, `\`, "")
			}
			return t.sendMessage(ctx, text, payload.Silent, markup)
		}); err != nil {
			return err
		}
	}
	return nil
}

// sendWithFallback runs a send with markup enabled and retries once without
// it when Telegram rejects the entity parsing
func (t *TelegramSender) sendWithFallback(ctx context.Context, send func(markup bool) error) error {
	err := send(true)
	if err == nil {
		return nil
	}
	if !strings.Contains(strings.ToLower(err.Error()), "parse") {
		return err
	}

	log.Warn().Err(err).Str("channel", t.id).Msg("Markup rejected, retrying notification as plain text")
	return send(false)
}

func (t *TelegramSender) sendMessage(ctx context.Context, text string, silent, markup bool) error {
	body := map[string]interface{}{
		"chat_id":              t.chatID,
		"text":                 text,
		"disable_notification": silent,
	}
	if markup {
		body["parse_mode"] = "MarkdownV2"
	}
	if t.threadID != 0 {
		body["message_thread_id"] = t.threadID
	}

	return t.call(ctx, "sendMessage", body)
}

func (t *TelegramSender) sendPhoto(ctx context.Context, photoURL, caption string, silent, markup bool) error {
	body := map[string]interface{}{
		"chat_id":              t.chatID,
		"photo":                photoURL,
		"caption":              caption,
		"disable_notification": silent,
	}
	if markup {
		body["parse_mode"] = "MarkdownV2"
	}
	if t.threadID != 0 {
		body["message_thread_id"] = t.threadID
	}

	return t.call(ctx, "sendPhoto", body)
}

// telegramResponse is the envelope every Bot API call returns
type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramSender) call(ctx context.Context, method string, body map[string]interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading telegram %s response: %w", method, err)
	}

	var tgResp telegramResponse
	if err := json.Unmarshal(raw, &tgResp); err != nil {
		return fmt.Errorf("decoding telegram %s response: %w", method, err)
	}
	if !tgResp.OK {
		if tgResp.Description == "" {
			tgResp.Description = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("telegram %s failed: %s", method, tgResp.Description)
	}

	return nil
}

// splitMessage breaks text into chunks of at most limit characters, cutting
// on newlines where possible so entities stay readable. Cuts always land on
// rune boundaries, a chunk must never carry half a multi-byte character.
func splitMessage(text string, limit int) []string {
	if text == "" {
		return []string{""}
	}

	var chunks []string
	remaining := text
	for utf8.RuneCountInString(remaining) > limit {
		cut := runeOffset(remaining, limit)
		if idx := strings.LastIndex(remaining[:cut], "\n"); idx > 0 {
			cut = idx
		}
		chunks = append(chunks, remaining[:cut])
		remaining = strings.TrimPrefix(remaining[cut:], "\n")
	}
	chunks = append(chunks, remaining)

	return chunks
}

// runeOffset returns the byte offset of the n-th rune in s
func runeOffset(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}

// SetupSenders builds one sender per configured channel. Unsupported channel
// types are an error so a typo never silently drops a channel.
func SetupSenders(cfg config.NotifyConfig) ([]Sender, error) {
	senders := make([]Sender, 0, len(cfg.Channels))
	for _, channel := range cfg.Channels {
		switch channel.Type {
		case "telegram":
			sender, err := NewTelegramSender(channel)
			if err != nil {
				return nil, err
			}
			senders = append(senders, sender)
		default:
			return nil, fmt.Errorf("%w: unsupported notification channel type %q", common.ErrInvalidConfig, channel.Type)
		}
	}
	return senders, nil
}
