package source

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"pushbridge/internal/event"
	logx "pushbridge/pkg/logx"
)

// TelegramConfig controls the long-polling bot.
type TelegramConfig struct {
	Token          string
	PollTimeout    time.Duration // default 10s
	AllowedChatIDs []int64       // empty accepts all chats
}

// Telegram turns incoming bot messages into events. Useful for ad-hoc
// forwarding: any text sent to the bot becomes a notification candidate.
type Telegram struct {
	cfg  TelegramConfig
	sink Sink
	log  logx.Logger

	bot     *tele.Bot
	allowed map[int64]struct{}
}

func NewTelegram(cfg TelegramConfig, sink Sink, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	t := &Telegram{cfg: cfg, sink: sink, log: log, bot: b}
	if len(cfg.AllowedChatIDs) > 0 {
		t.allowed = make(map[int64]struct{}, len(cfg.AllowedChatIDs))
		for _, id := range cfg.AllowedChatIDs {
			t.allowed[id] = struct{}{}
		}
	}
	return t, nil
}

func (t *Telegram) Run(ctx context.Context) error {
	t.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil {
			return nil
		}
		if t.allowed != nil {
			if _, ok := t.allowed[m.Chat.ID]; !ok {
				t.log.Debug("telegram message from unlisted chat ignored",
					logx.Int64("chat_id", m.Chat.ID),
				)
				return nil
			}
		}
		payload := map[string]any{
			"text":    m.Text,
			"chat_id": m.Chat.ID,
		}
		if m.Sender != nil {
			payload["username"] = m.Sender.Username
		}
		t.sink.Enqueue(event.New("telegram", payload))
		return nil
	})

	go func() {
		<-ctx.Done()
		t.bot.Stop()
	}()

	t.log.Info("telegram polling started")
	// Start blocks until Stop.
	t.bot.Start()
	return nil
}
