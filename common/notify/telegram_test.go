package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/contestradar/crawler-http-service/common/config"
	"github.com/samber/mo"
)

type telegramCall struct {
	Method string
	Body   map[string]interface{}
}

// fakeTelegram records Bot API calls and lets tests script failures
type fakeTelegram struct {
	mu    sync.Mutex
	calls []telegramCall
	// failParseOnce rejects the next markup request with a parse error
	failParseOnce bool
}

func (f *fakeTelegram) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.calls = append(f.calls, telegramCall{Method: method, Body: body})
		shouldFail := f.failParseOnce && body["parse_mode"] == "MarkdownV2"
		if shouldFail {
			f.failParseOnce = false
		}
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if shouldFail {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"ok":          false,
				"description": "Bad Request: can't parse entities",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}
}

func (f *fakeTelegram) recorded() []telegramCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]telegramCall(nil), f.calls...)
}

func newTestSender(t *testing.T, api *fakeTelegram) (*TelegramSender, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	sender, err := NewTelegramSender(config.ChannelConfig{
		ID:       "it_main",
		Type:     "telegram",
		Token:    "test-token",
		ChatID:   "-100123",
		ThreadID: "77",
	})
	if err != nil {
		t.Fatal(err)
	}
	sender.baseURL = server.URL
	return sender, server
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"50% off (really!)", `50% off \(really\!\)`},
		{"a_b*c[d]e", `a\_b\*c\[d\]e`},
		{"1.5-2", `1\.5\-2`},
	}

	for _, tt := range tests {
		if got := EscapeMarkdownV2(tt.in); got != tt.want {
			t.Errorf("EscapeMarkdownV2(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSendTextMessage(t *testing.T) {
	api := &fakeTelegram{}
	sender, _ := newTestSender(t, api)

	err := sender.Send(context.Background(), Payload{Message: "New contest!", Silent: true})
	if err != nil {
		t.Fatal(err)
	}

	calls := api.recorded()
	if len(calls) != 1 {
		t.Fatalf("Expected 1 call, got %d", len(calls))
	}
	call := calls[0]
	if call.Method != "sendMessage" {
		t.Errorf("Expected sendMessage, got %s", call.Method)
	}
	if call.Body["text"] != `New contest\!` {
		t.Errorf("Expected escaped text, got %q", call.Body["text"])
	}
	if call.Body["disable_notification"] != true {
		t.Error("Expected disable_notification to be set")
	}
	if call.Body["message_thread_id"] != float64(77) {
		t.Errorf("Expected thread id 77, got %v", call.Body["message_thread_id"])
	}
	if call.Body["parse_mode"] != "MarkdownV2" {
		t.Errorf("Expected MarkdownV2 parse mode, got %v", call.Body["parse_mode"])
	}
}

func TestSendWithImage(t *testing.T) {
	api := &fakeTelegram{}
	sender, _ := newTestSender(t, api)

	err := sender.Send(context.Background(), Payload{
		Message:  "Win a trip",
		ImageURL: mo.Some("https://example.com/prize.jpg"),
	})
	if err != nil {
		t.Fatal(err)
	}

	calls := api.recorded()
	if len(calls) != 1 {
		t.Fatalf("Expected 1 call, got %d", len(calls))
	}
	if calls[0].Method != "sendPhoto" {
		t.Errorf("Expected sendPhoto, got %s", calls[0].Method)
	}
	if calls[0].Body["photo"] != "https://example.com/prize.jpg" {
		t.Errorf("Unexpected photo: %v", calls[0].Body["photo"])
	}
	if calls[0].Body["caption"] != "Win a trip" {
		t.Errorf("Unexpected caption: %v", calls[0].Body["caption"])
	}
}

func TestSendLongMessageIsChunked(t *testing.T) {
	api := &fakeTelegram{}
	sender, _ := newTestSender(t, api)

	// Build a message longer than one chunk, with newlines as cut points
	line := strings.Repeat("a", 100)
	message := strings.TrimSuffix(strings.Repeat(line+"\n", 50), "\n")

	err := sender.Send(context.Background(), Payload{Message: message})
	if err != nil {
		t.Fatal(err)
	}

	calls := api.recorded()
	if len(calls) < 2 {
		t.Fatalf("Expected message to be split, got %d calls", len(calls))
	}
	for i, call := range calls {
		text, _ := call.Body["text"].(string)
		if len(text) > telegramMessageLimit {
			t.Errorf("Chunk %d exceeds limit: %d chars", i, len(text))
		}
		if text == "" {
			t.Errorf("Chunk %d is empty", i)
		}
	}
}

func TestSendParseErrorFallsBackToPlainText(t *testing.T) {
	api := &fakeTelegram{failParseOnce: true}
	sender, _ := newTestSender(t, api)

	err := sender.Send(context.Background(), Payload{Message: "broken *markup"})
	if err != nil {
		t.Fatal(err)
	}

	calls := api.recorded()
	if len(calls) != 2 {
		t.Fatalf("Expected retry after parse error, got %d calls", len(calls))
	}
	if _, hasMode := calls[1].Body["parse_mode"]; hasMode {
		t.Error("Expected retry without parse_mode")
	}
	if calls[1].Body["text"] != "broken *markup" {
		t.Errorf("Expected unescaped text on retry, got %q", calls[1].Body["text"])
	}
}

func TestNewTelegramSenderValidation(t *testing.T) {
	if _, err := NewTelegramSender(config.ChannelConfig{ID: "x", ChatID: "1"}); err == nil {
		t.Error("Expected error for missing token")
	}
	if _, err := NewTelegramSender(config.ChannelConfig{ID: "x", Token: "t", ChatID: "1", ThreadID: "abc"}); err == nil {
		t.Error("Expected error for non-numeric thread id")
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		limit  int
		chunks int
	}{
		{"empty", "", 10, 1},
		{"fits", "short", 10, 1},
		{"exact", "1234567890", 10, 1},
		{"splits without newline", strings.Repeat("x", 25), 10, 3},
		{"multi-byte runes stay whole", strings.Repeat("è", 25), 10, 3},
		{"emoji stay whole", strings.Repeat("🎉", 7), 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitMessage(tt.text, tt.limit)
			if len(got) != tt.chunks {
				t.Fatalf("Expected %d chunks, got %d", tt.chunks, len(got))
			}
			for _, chunk := range got {
				if !utf8.ValidString(chunk) {
					t.Errorf("Chunk is not valid UTF-8: %q", chunk)
				}
			}
			if strings.Join(got, "") != strings.ReplaceAll(tt.text, "\n", "") {
				t.Error("Chunks do not reassemble to the input")
			}
		})
	}
}
