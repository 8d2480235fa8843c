package service

import (
	"context"
	"sync"

	"futures_bot/internal/models"
	"futures_bot/internal/modules/config"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type botAPI interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	GetUpdatesChan(u tgbot.UpdateConfig) tgbot.UpdatesChannel
	StopReceivingUpdates()
}

// Reporter: короткая сводка состояния для /status.
type Reporter interface {
	Summary() string
}

// Telegram: алерты риск-монитора в чат и ответ на /status.
// Без токена: выключен, Deliver ничего не делает.
type Telegram struct {
	bot    botAPI
	chatID int64
	log    *zap.Logger

	mu       sync.RWMutex
	reporter Reporter

	wg sync.WaitGroup
}

func NewTelegram(cfg *config.Config, log *zap.Logger) (*Telegram, error) {
	t := &Telegram{
		chatID: cfg.Telegram.ChatID,
		log:    log.Named("telegram"),
	}
	if cfg.Telegram.Token == "" {
		t.log.Info("telegram disabled: no token")
		return t, nil
	}
	b, err := tgbot.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot")
	}
	t.bot = b
	return t, nil
}

func (t *Telegram) SetReporter(r Reporter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reporter = r
}

func (t *Telegram) Enabled() bool { return t.bot != nil && t.chatID != 0 }

func (t *Telegram) Name() string { return "telegram" }

// Deliver отправляет алерт в настроенный чат.
func (t *Telegram) Deliver(_ context.Context, ev models.RiskEvent, _ []byte) error {
	if !t.Enabled() {
		return nil
	}
	msg := tgbot.NewMessage(t.chatID, formatRiskEvent(ev))
	msg.ParseMode = tgbot.ModeMarkdown
	_, err := t.bot.Send(msg)
	return errors.Wrap(err, "telegram send")
}

// Start запускает цикл апдейтов: /status и /start.
func (t *Telegram) Start() {
	if t.bot == nil {
		return
	}
	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for update := range updates {
			t.handleUpdate(update)
		}
	}()
}

func (t *Telegram) Stop() {
	if t.bot == nil {
		return
	}
	t.bot.StopReceivingUpdates()
	t.wg.Wait()
}

func (t *Telegram) handleUpdate(update tgbot.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	var text string
	switch command(update.Message.Text) {
	case "start":
		text = "Бот риск-алертов. /status: состояние."
	case "status":
		t.mu.RLock()
		r := t.reporter
		t.mu.RUnlock()
		if r == nil {
			return
		}
		text = r.Summary()
	default:
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(chatID, text)); err != nil {
		t.log.Warn("reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
