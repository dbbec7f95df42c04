// Package notify pushes trade and redemption events to Telegram.
// Fully optional: a nil notifier is safe to call.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyagent/updown/internal/activity"
)

// Telegram sends one-way messages to a configured chat
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates the notifier, or nil when not configured
func NewTelegram(token string, chatID int64) *Telegram {
	if token == "" || chatID == 0 {
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Warn().Err(err).Msg("📣 Telegram disabled: bot init failed")
		return nil
	}
	log.Info().Str("bot", bot.Self.UserName).Msg("📣 Telegram notifications enabled")
	return &Telegram{bot: bot, chatID: chatID}
}

// NotifyTrade announces an order attempt
func (t *Telegram) NotifyTrade(trade activity.Trade) {
	if trade.Success() {
		t.send(fmt.Sprintf("🎯 %s $%s @ %s\n%s",
			trade.Side, trade.Size.StringFixed(2), trade.Price.StringFixed(3), trade.Question))
		return
	}
	t.send(fmt.Sprintf("❌ Order failed: %s\n%s", trade.Error, trade.Question))
}

// NotifyRedemption announces a claim outcome
func (t *Telegram) NotifyRedemption(question, status string, payout decimal.Decimal) {
	switch status {
	case "redeemed":
		t.send(fmt.Sprintf("💰 Redeemed $%s\n%s", payout.StringFixed(2), question))
	case "no_payout":
		t.send(fmt.Sprintf("💸 Lost position\n%s", question))
	default:
		t.send(fmt.Sprintf("⚠️ Redemption %s\n%s", status, question))
	}
}

// NotifyKillSwitch announces kill switch changes
func (t *Telegram) NotifyKillSwitch(engaged bool) {
	if engaged {
		t.send("🛑 Kill switch ENGAGED - trading halted")
		return
	}
	t.send("🟢 Kill switch released - trading resumed")
}

func (t *Telegram) send(text string) {
	if t == nil {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		log.Debug().Err(err).Msg("Telegram send failed")
	}
}
