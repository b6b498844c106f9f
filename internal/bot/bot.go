package bot

import (
	"fmt"

	"github.com/bowerhall/kindred/internal/persona"
)

func New(cfg Config, responder Responder) (Bot, error) {
	if cfg.OwnerID == "" {
		return nil, fmt.Errorf("bot %s: owner id is required", cfg.Provider)
	}

	c := newChat(cfg, responder)
	switch cfg.Provider {
	case "telegram":
		return newTelegram(cfg.Token, c)
	case "discord":
		return newDiscord(cfg.Token, c)
	default:
		return nil, fmt.Errorf("unknown bot provider: %s", cfg.Provider)
	}
}

func NewTelegram(token string, cfg Config, responder Responder) (Bot, error) {
	cfg.Provider = "telegram"
	cfg.Token = token
	return New(cfg, responder)
}

func NewDiscord(token string, cfg Config, responder Responder) (Bot, error) {
	cfg.Provider = "discord"
	cfg.Token = token
	return New(cfg, responder)
}

var _ Responder = (*persona.Responder)(nil)
