// Package telegram connects the assistant to a Telegram bot: incoming text
// goes to the command handler, and Send delivers notifications.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"

	"github.com/notexe/assistant-bot/internal/delivery"
)

// Handler answers one incoming message.
type Handler interface {
	Handle(ctx context.Context, ownerID int64, text string) string
}

// Config configures the bot.
type Config struct {
	Token       string
	PollTimeout time.Duration
	// SendTimeout bounds each sendMessage call. Keep it below the delivery
	// attempt timeout so a call never outlives the attempt that made it.
	SendTimeout time.Duration
	// APIURL overrides the Bot API endpoint; empty means api.telegram.org.
	APIURL string
}

// Bot is a long-polling Telegram bot.
type Bot struct {
	bot *tele.Bot
	// sender shares the token but uses a short-timeout HTTP client; the
	// poller's client has to outlast long polls.
	sender *tele.Bot
	log    zerolog.Logger

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a bot. It validates the token against the Telegram API.
func New(cfg Config, logger zerolog.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:    cfg.APIURL,
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	sender, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: sendTimeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram sender: %w", err)
	}
	return &Bot{bot: b, sender: sender, log: logger.With().Str("comp", "telegram").Logger()}, nil
}

// Start begins polling and routes text messages to h.
func (b *Bot) Start(ctx context.Context, h Handler) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return errors.New("telegram bot already running")
	}
	rctx, cancel := context.WithCancel(ctx)
	b.running = true
	b.cancel = cancel

	b.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		if !strings.HasPrefix(m.Text, "/") {
			_ = c.Notify(tele.Typing)
		}
		reply := h.Handle(rctx, m.Chat.ID, m.Text)
		if reply == "" {
			return nil
		}
		if err := b.sendChunks(rctx, m.Chat, reply); err != nil {
			b.log.Warn().Err(err).Int64("chat_id", m.Chat.ID).Msg("reply failed")
		}
		return nil
	})

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		go func() {
			<-rctx.Done()
			b.bot.Stop()
		}()
		b.log.Info().Str("username", b.bot.Me.Username).Msg("polling started")
		b.bot.Start() // blocks until Stop
	}()
	return nil
}

// Stop ends polling, bounded by ctx.
func (b *Bot) Stop(ctx context.Context) error {
	b.runMu.Lock()
	cancel := b.cancel
	wasRunning := b.running
	b.running = false
	b.cancel = nil
	b.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.log.Info().Msg("polling stopped")
		return nil
	case <-ctx.Done():
		b.log.Warn().Err(ctx.Err()).Msg("telegram stop cancelled")
		return ctx.Err()
	}
}

// Send delivers text to the chat ownerID. It implements delivery.Transport.
// Send returns only once no API call is in flight. Each call is bounded by
// the sender's client timeout; ctx is checked between chunks. A failure
// after the first chunk went out wraps delivery.ErrPartial.
func (b *Bot) Send(ctx context.Context, ownerID int64, text string) error {
	return b.sendChunks(ctx, &tele.Chat{ID: ownerID}, text)
}

func (b *Bot) sendChunks(ctx context.Context, chat *tele.Chat, text string) error {
	chunks := splitText(text, textLimit)
	for i, chunk := range chunks {
		err := ctx.Err()
		if err == nil {
			_, err = b.sender.Send(chat, chunk)
		}
		if err == nil {
			continue
		}
		err = fmt.Errorf("failed to send message to %d: %w", chat.ID, err)
		if i > 0 {
			return fmt.Errorf("%w (%d of %d chunks sent): %w", delivery.ErrPartial, i, len(chunks), err)
		}
		return err
	}
	return nil
}
