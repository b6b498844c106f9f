package bot

import (
	"context"

	"github.com/bowerhall/kindred/internal/persona"
)

// Bot relays chat platform messages to the persona until ctx is done.
type Bot interface {
	Start(ctx context.Context) error
}

type Responder interface {
	Respond(ctx context.Context, req persona.Request) (*persona.Response, error)
}

type Config struct {
	Provider string
	Token    string
	OwnerID  string // whose persona answers
	Voice    bool   // attach a spoken reply when a voice profile exists
}
