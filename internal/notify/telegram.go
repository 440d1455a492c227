// Package notify sends operator alerts for events that need a human, such
// as a connection that requires the user to re-authorize.
package notify

import (
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/logging"
)

// Notifier delivers alerts to a Telegram chat. A zero configuration
// (empty token) produces a disabled notifier whose methods are no-ops, so
// callers never branch on whether notifications are configured.
type Notifier struct {
	cfg    config.NotifyConfig
	logger *logging.Logger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// New creates a notifier. The Telegram API is contacted lazily on first
// send, not here, so startup never blocks on Telegram availability.
func New(cfg config.NotifyConfig, logger *logging.Logger) *Notifier {
	return &Notifier{cfg: cfg, logger: logger}
}

// Enabled reports whether a Telegram destination is configured.
func (n *Notifier) Enabled() bool {
	return n.cfg.TelegramToken != "" && n.cfg.TelegramChatID != 0
}

// ReauthRequired alerts that a principal's credential died and the user must
// reconnect. Fire-and-forget: failures are logged, never propagated.
func (n *Notifier) ReauthRequired(principalID string) {
	n.send(fmt.Sprintf("⚠️ Connection for %s needs re-authorization. The stored credential was rejected by the provider.", principalID))
}

// ProviderDown alerts that the circuit to the provider opened.
func (n *Notifier) ProviderDown(target string) {
	n.send(fmt.Sprintf("🔴 Circuit open for %s: provider calls are failing fast.", target))
}

func (n *Notifier) send(text string) {
	if !n.Enabled() {
		return
	}

	go func() {
		bot, err := n.botAPI()
		if err != nil {
			n.logger.Warn("telegram bot init failed", "error", err.Error())
			return
		}

		msg := tgbotapi.NewMessage(n.cfg.TelegramChatID, text)
		if _, err := bot.Send(msg); err != nil {
			n.logger.Warn("telegram notification failed", "error", err.Error())
		}
	}()
}

func (n *Notifier) botAPI() (*tgbotapi.BotAPI, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.bot != nil {
		return n.bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(n.cfg.TelegramToken)
	if err != nil {
		return nil, err
	}
	n.bot = bot
	return bot, nil
}
