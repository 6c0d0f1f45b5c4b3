// Package channel implements domain.Transport on top of the Telegram Bot API.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/fink5984/telefeed/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	defaultPollTimeout     = 30
)

// TelegramConfig configures the Telegram transport.
type TelegramConfig struct {
	// APIEndpoint is a format string taking the token and the method, as
	// tgbotapi.APIEndpoint. Empty means the public Bot API.
	APIEndpoint string
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
	Logger      *slog.Logger
}

// Telegram connects bot-token accounts to the Telegram Bot API.
type Telegram struct {
	endpoint    string
	pollTimeout int
	logger      *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	tgbotapi.SetLogger(botLogger{cfg.Logger})
	return &Telegram{
		endpoint:    cfg.APIEndpoint,
		pollTimeout: cfg.PollTimeout,
		logger:      cfg.Logger,
	}
}

// Connect logs the account's bot in. Accounts without a bot token would need
// an interactive user login, which the Bot API cannot perform.
func (t *Telegram) Connect(ctx context.Context, account domain.Account) (domain.Session, error) {
	if account.Credential.BotToken == "" {
		return nil, domain.AuthError(domain.ErrNeedsManualAuth, "account %s has no bot token", account.Name)
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(account.Credential.BotToken, t.endpoint)
	if err != nil {
		return nil, domain.AuthError(err, "telegram bot login for %s", account.Name)
	}
	logger := t.logger.With("account", account.Name)
	logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	return &telegramSession{
		bot:         bot,
		pollTimeout: t.pollTimeout,
		logger:      logger,
		closed:      make(chan struct{}),
	}, nil
}

type telegramSession struct {
	bot         *tgbotapi.BotAPI
	pollTimeout int
	logger      *slog.Logger

	subscribed bool
	mu         sync.Mutex
	closeOnce  sync.Once
	closed     chan struct{}
}

func (s *telegramSession) IsAuthorized(ctx context.Context) (bool, error) {
	if _, err := s.bot.GetMe(); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 401 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Subscribe starts long polling. Only messages and channel posts are
// requested; edits are ignored.
func (s *telegramSession) Subscribe(ctx context.Context) (<-chan domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed {
		return nil, errors.New("telegram session already subscribed")
	}
	select {
	case <-s.closed:
		return nil, errors.New("telegram session disconnected")
	default:
	}
	s.subscribed = true

	u := tgbotapi.NewUpdate(0)
	u.Timeout = s.pollTimeout
	u.AllowedUpdates = []string{"message", "channel_post"}
	updates := s.bot.GetUpdatesChan(u)

	out := make(chan domain.Message)
	go func() {
		defer close(out)
		for update := range updates {
			m := update.Message
			if m == nil {
				m = update.ChannelPost
			}
			msg, ok := toMessage(m)
			if !ok {
				continue
			}
			select {
			case out <- msg:
			case <-s.closed:
				return
			}
		}
	}()
	s.logger.Info("telegram polling started")
	return out, nil
}

// toMessage converts a Bot API message. The largest photo size is used.
func toMessage(m *tgbotapi.Message) (domain.Message, bool) {
	if m == nil || m.Chat == nil {
		return domain.Message{}, false
	}
	msg := domain.Message{
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		Text:      m.Text,
		Timestamp: time.Unix(int64(m.Date), 0),
	}
	if m.From != nil {
		msg.SenderID = m.From.ID
	} else if m.SenderChat != nil {
		msg.SenderID = m.SenderChat.ID
	}

	switch {
	case len(m.Photo) > 0:
		msg.Media = &domain.Media{Kind: domain.MediaPhoto, FileID: m.Photo[len(m.Photo)-1].FileID}
	case m.Animation != nil:
		msg.Media = &domain.Media{Kind: domain.MediaAnimation, FileID: m.Animation.FileID}
	case m.Video != nil:
		msg.Media = &domain.Media{Kind: domain.MediaVideo, FileID: m.Video.FileID}
	case m.Document != nil:
		msg.Media = &domain.Media{Kind: domain.MediaDocument, FileID: m.Document.FileID}
	case m.Audio != nil:
		msg.Media = &domain.Media{Kind: domain.MediaAudio, FileID: m.Audio.FileID}
	case m.Voice != nil:
		msg.Media = &domain.Media{Kind: domain.MediaVoice, FileID: m.Voice.FileID}
	}
	if msg.Media != nil {
		msg.Text = m.Caption
	}
	return msg, true
}

func (s *telegramSession) Forward(ctx context.Context, dest int64, msg domain.Message) error {
	return s.send(ctx, tgbotapi.NewForward(dest, msg.ChatID, msg.MessageID))
}

func (s *telegramSession) SendMedia(ctx context.Context, dest int64, media domain.Media, caption string) error {
	file := tgbotapi.FileID(media.FileID)
	var c tgbotapi.Chattable
	switch media.Kind {
	case domain.MediaPhoto:
		p := tgbotapi.NewPhoto(dest, file)
		p.Caption = caption
		c = p
	case domain.MediaVideo:
		v := tgbotapi.NewVideo(dest, file)
		v.Caption = caption
		c = v
	case domain.MediaAudio:
		a := tgbotapi.NewAudio(dest, file)
		a.Caption = caption
		c = a
	case domain.MediaVoice:
		v := tgbotapi.NewVoice(dest, file)
		v.Caption = caption
		c = v
	case domain.MediaAnimation:
		a := tgbotapi.NewAnimation(dest, file)
		a.Caption = caption
		c = a
	default:
		d := tgbotapi.NewDocument(dest, file)
		d.Caption = caption
		c = d
	}
	return s.send(ctx, c)
}

// SendText sends text, split into chunks under the Bot API message limit.
func (s *telegramSession) SendText(ctx context.Context, dest int64, text string) error {
	for _, chunk := range splitText(text, telegramMaxMsgLen) {
		if err := s.send(ctx, tgbotapi.NewMessage(dest, chunk)); err != nil {
			return err
		}
	}
	return nil
}

// splitText cuts text into pieces of at most maxLen runes, preferring to cut
// after a newline in the second half of a piece.
func splitText(text string, maxLen int) []string {
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	runes := []rune(text)
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}
		cutAt := maxLen
		if nl := strings.LastIndex(string(runes[:maxLen]), "\n"); nl >= 0 {
			if n := utf8.RuneCountInString(string(runes[:maxLen])[:nl]) + 1; n >= maxLen/2 {
				cutAt = n
			}
		}
		chunks = append(chunks, string(runes[:cutAt]))
		runes = runes[cutAt:]
	}
	return chunks
}

// send performs one Bot API call, waiting out rate limits.
func (s *telegramSession) send(ctx context.Context, c tgbotapi.Chattable) error {
	for attempt := 0; ; attempt++ {
		_, err := s.bot.Send(c)
		if err == nil {
			return nil
		}

		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) || apiErr.Code != 429 || attempt >= telegramMaxSendRetries {
			return err
		}

		retryAfter := time.Duration(apiErr.RetryAfter) * time.Second
		if retryAfter <= 0 {
			retryAfter = time.Duration(attempt+1) * 3 * time.Second
		}
		s.logger.Warn("telegram rate limited, backing off", "retry_after", retryAfter, "attempt", attempt+1)

		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limited: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// Disconnect stops polling. Calling StopReceivingUpdates twice panics, so it
// runs at most once.
func (s *telegramSession) Disconnect() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		subscribed := s.subscribed
		s.mu.Unlock()
		if subscribed {
			s.bot.StopReceivingUpdates()
		}
		s.logger.Info("telegram session closed")
	})
	return nil
}

// botLogger routes tgbotapi's internal logging to slog.
type botLogger struct {
	l *slog.Logger
}

func (b botLogger) Println(v ...interface{}) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintln(v...)), "component", "tgbotapi")
}

func (b botLogger) Printf(format string, v ...interface{}) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "tgbotapi")
}
