// Package reply picks the chatbot for a customer message and sends the
// chatbot's answer back through the platform.
package reply

import (
	"github.com/zulandar/signalbox/internal/chatbot"
	"github.com/zulandar/signalbox/internal/models"
)

// Route reasons for not replying.
const (
	ReasonChannelDisabled = "channel_disabled"
	ReasonNoBotConfig     = "no_bot_config"
	ReasonNoBotEnabled    = "no_bot_enabled"
)

// Route selects the chatbot that answers on an account. channelEnabled is
// the owner's kill switch for the platform. When both bots are enabled the
// mobile bot wins. An empty Bot comes with the reason no reply is sent.
func Route(channelEnabled bool, cfg *models.BotConfig) (chatbot.Bot, string) {
	switch {
	case !channelEnabled:
		return "", ReasonChannelDisabled
	case cfg == nil:
		return "", ReasonNoBotConfig
	case cfg.MobileEnabled:
		return chatbot.Mobile, ""
	case cfg.CustomEnabled:
		return chatbot.Custom, ""
	default:
		return "", ReasonNoBotEnabled
	}
}
