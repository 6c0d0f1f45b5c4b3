package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fink5984/telefeed/internal/domain"
)

const testToken = "42:secret"

type apiCall struct {
	Method string
	Form   map[string]string
}

// fakeBotAPI serves the subset of the Bot API the transport uses.
type fakeBotAPI struct {
	mu        sync.Mutex
	calls     []apiCall
	limitOnce map[string]bool // methods that answer 429 once
	badToken  bool
	updates   string
	served    bool
}

func (f *fakeBotAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		method := parts[len(parts)-1]

		form := make(map[string]string)
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}

		f.mu.Lock()
		f.calls = append(f.calls, apiCall{Method: method, Form: form})
		limited := f.limitOnce[method]
		delete(f.limitOnce, method)
		badToken := f.badToken
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case badToken:
			fmt.Fprint(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
		case limited:
			fmt.Fprint(w, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 1","parameters":{"retry_after":1}}`)
		case method == "getMe":
			fmt.Fprint(w, `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"relay","username":"relaybot"}}`)
		case method == "getUpdates":
			f.mu.Lock()
			first := !f.served
			f.served = true
			f.mu.Unlock()
			if first && f.updates != "" {
				fmt.Fprintf(w, `{"ok":true,"result":%s}`, f.updates)
				return
			}
			time.Sleep(20 * time.Millisecond)
			fmt.Fprint(w, `{"ok":true,"result":[]}`)
		case method == "sendMessage" && form["text"] == "fail":
			fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
		default:
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":9,"date":0,"chat":{"id":1,"type":"channel"}}}`)
		}
	}
}

func (f *fakeBotAPI) callsTo(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func newTestTelegram(t *testing.T, api *fakeBotAPI) *Telegram {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return NewTelegram(TelegramConfig{
		APIEndpoint: srv.URL + "/bot%s/%s",
		PollTimeout: 1,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func botAccount() domain.Account {
	return domain.Account{Name: "alpha", Enabled: true, Credential: domain.Credential{BotToken: testToken}}
}

func connect(t *testing.T, tg *Telegram) domain.Session {
	t.Helper()
	sess, err := tg.Connect(context.Background(), botAccount())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Disconnect() })
	return sess
}

func TestTelegram_ConnectRequiresBotToken(t *testing.T) {
	tg := newTestTelegram(t, &fakeBotAPI{})
	_, err := tg.Connect(context.Background(), domain.Account{
		Name:       "user",
		Credential: domain.Credential{SessionString: "abc"},
	})
	require.Error(t, err)
	assert.True(t, domain.IsAuth(err))
	assert.ErrorIs(t, err, domain.ErrNeedsManualAuth)
}

func TestTelegram_ConnectBadToken(t *testing.T) {
	tg := newTestTelegram(t, &fakeBotAPI{badToken: true})
	_, err := tg.Connect(context.Background(), botAccount())
	require.Error(t, err)
	assert.True(t, domain.IsAuth(err))
}

func TestTelegram_IsAuthorized(t *testing.T) {
	api := &fakeBotAPI{}
	sess := connect(t, newTestTelegram(t, api))

	ok, err := sess.IsAuthorized(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	api.mu.Lock()
	api.badToken = true
	api.mu.Unlock()
	ok, err = sess.IsAuthorized(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTelegram_Forward(t *testing.T) {
	api := &fakeBotAPI{}
	sess := connect(t, newTestTelegram(t, api))

	err := sess.Forward(context.Background(), -100200, domain.Message{ChatID: -100100, MessageID: 77})
	require.NoError(t, err)

	calls := api.callsTo("forwardMessage")
	require.Len(t, calls, 1)
	assert.Equal(t, "-100200", calls[0].Form["chat_id"])
	assert.Equal(t, "-100100", calls[0].Form["from_chat_id"])
	assert.Equal(t, "77", calls[0].Form["message_id"])
}

func TestTelegram_SendMedia(t *testing.T) {
	api := &fakeBotAPI{}
	sess := connect(t, newTestTelegram(t, api))
	ctx := context.Background()

	require.NoError(t, sess.SendMedia(ctx, 200, domain.Media{Kind: domain.MediaPhoto, FileID: "ph1"}, "NEWS caption"))
	require.NoError(t, sess.SendMedia(ctx, 200, domain.Media{Kind: domain.MediaVoice, FileID: "vo1"}, ""))
	require.NoError(t, sess.SendMedia(ctx, 200, domain.Media{Kind: "sticker", FileID: "st1"}, ""))

	photos := api.callsTo("sendPhoto")
	require.Len(t, photos, 1)
	assert.Equal(t, "ph1", photos[0].Form["photo"])
	assert.Equal(t, "NEWS caption", photos[0].Form["caption"])

	voices := api.callsTo("sendVoice")
	require.Len(t, voices, 1)
	assert.Equal(t, "vo1", voices[0].Form["voice"])

	docs := api.callsTo("sendDocument")
	require.Len(t, docs, 1)
	assert.Equal(t, "st1", docs[0].Form["document"])
}

func TestTelegram_SendTextError(t *testing.T) {
	api := &fakeBotAPI{}
	sess := connect(t, newTestTelegram(t, api))

	require.NoError(t, sess.SendText(context.Background(), 200, "hello"))
	err := sess.SendText(context.Background(), 200, "fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegram_RetriesRateLimit(t *testing.T) {
	api := &fakeBotAPI{limitOnce: map[string]bool{"sendMessage": true}}
	sess := connect(t, newTestTelegram(t, api))

	start := time.Now()
	require.NoError(t, sess.SendText(context.Background(), 200, "hello"))
	assert.Len(t, api.callsTo("sendMessage"), 2)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestTelegram_RateLimitHonorsContext(t *testing.T) {
	api := &fakeBotAPI{limitOnce: map[string]bool{"sendMessage": true}}
	sess := connect(t, newTestTelegram(t, api))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := sess.SendText(ctx, 200, "hello")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTelegram_Subscribe(t *testing.T) {
	api := &fakeBotAPI{updates: `[
		{"update_id": 1, "message": {"message_id": 5, "date": 1700000000, "chat": {"id": 100, "type": "group"}, "from": {"id": 7, "is_bot": false, "first_name": "u"}, "text": "hello"}},
		{"update_id": 2, "channel_post": {"message_id": 6, "date": 1700000001, "chat": {"id": -1001, "type": "channel"}, "caption": "pic", "photo": [{"file_id": "small", "file_unique_id": "a", "width": 1, "height": 1}, {"file_id": "big", "file_unique_id": "b", "width": 9, "height": 9}]}}
	]`}
	sess := connect(t, newTestTelegram(t, api))

	stream, err := sess.Subscribe(context.Background())
	require.NoError(t, err)

	var got []domain.Message
	for len(got) < 2 {
		select {
		case msg := <-stream:
			got = append(got, msg)
		case <-time.After(3 * time.Second):
			t.Fatal("no update received")
		}
	}

	assert.Equal(t, int64(100), got[0].ChatID)
	assert.Equal(t, 5, got[0].MessageID)
	assert.Equal(t, int64(7), got[0].SenderID)
	assert.Equal(t, "hello", got[0].Text)
	assert.False(t, got[0].HasMedia())

	assert.Equal(t, int64(-1001), got[1].ChatID)
	assert.Equal(t, "pic", got[1].Text)
	require.True(t, got[1].HasMedia())
	assert.Equal(t, domain.Media{Kind: domain.MediaPhoto, FileID: "big"}, *got[1].Media)

	_, err = sess.Subscribe(context.Background())
	assert.Error(t, err, "second subscription on one session")

	require.NoError(t, sess.Disconnect())
	require.NoError(t, sess.Disconnect())
}

func TestToMessage(t *testing.T) {
	_, ok := toMessage(nil)
	assert.False(t, ok)
	_, ok = toMessage(&tgbotapi.Message{MessageID: 1})
	assert.False(t, ok, "message without chat")

	msg, ok := toMessage(&tgbotapi.Message{
		MessageID:  3,
		Chat:       &tgbotapi.Chat{ID: 10},
		SenderChat: &tgbotapi.Chat{ID: 10},
		Text:       "ignored for media",
		Caption:    "doc caption",
		Document:   &tgbotapi.Document{FileID: "d1"},
	})
	require.True(t, ok)
	assert.Equal(t, int64(10), msg.SenderID)
	assert.Equal(t, "doc caption", msg.Text)
	assert.Equal(t, domain.MediaDocument, msg.Media.Kind)
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitText("short", 10))

	chunks := splitText(strings.Repeat("a", 25), 10)
	assert.Equal(t, []string{strings.Repeat("a", 10), strings.Repeat("a", 10), strings.Repeat("a", 5)}, chunks)

	chunks = splitText("line one\nline two is long", 12)
	assert.Equal(t, "line one\n", chunks[0])
	assert.Equal(t, "line two is long", strings.Join(chunks[1:], ""))

	// multi-byte runes are never split
	chunks = splitText(strings.Repeat("ש", 15), 10)
	require.Len(t, chunks, 2)
	assert.Equal(t, 10, len([]rune(chunks[0])))
}
