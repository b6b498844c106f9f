// Package persona answers a counterpart in the owner's voice, grounded in
// their personality model and retrieved memories.
package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bowerhall/kindred/internal/llm"
	"github.com/bowerhall/kindred/internal/logger"
	"github.com/bowerhall/kindred/internal/retrieval"
	"github.com/bowerhall/kindred/internal/store"
	"github.com/bowerhall/kindred/internal/voice"
)

var (
	ErrPersonaNotReady     = errors.New("persona not ready: no personality model yet")
	ErrEmptyGeneration     = errors.New("generation returned no text")
	ErrEmptyMessage        = errors.New("message is empty")
	ErrForeignConversation = store.ErrForeignConversation
)

const (
	DefaultHistoryLimit = 20
	Stage               = "conversation"
)

type Personalities interface {
	Get(ctx context.Context, ownerID string) (*store.Personality, error)
}

type Retriever interface {
	Select(ctx context.Context, ownerID, query string) ([]retrieval.Snippet, error)
}

type Store interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
	AppendTurn(ctx context.Context, conversationID string, turn store.Turn) (*store.Conversation, error)
	PrimaryVoice(ctx context.Context, ownerID string) (*store.VoiceProfile, error)
}

// AudioSink persists a synthesized clip and returns a reference to it.
type AudioSink interface {
	PutAudio(ctx context.Context, conversationID string, data []byte, contentType string) (string, error)
}

type Options struct {
	HistoryLimit int
	// Voice and Audio are optional; without Voice no audio is produced and
	// without Audio clips are returned inline but not stored.
	Voice voice.Synthesizer
	Audio AudioSink
}

type Responder struct {
	store        Store
	personas     Personalities
	retriever    Retriever
	model        llm.LLM
	voice        voice.Synthesizer
	audio        AudioSink
	historyLimit int
}

type Request struct {
	OwnerID         string `json:"-"`
	Message         string `json:"message"`
	ConversationID  string `json:"conversation_id,omitempty"`
	CounterpartID   string `json:"counterpart_id,omitempty"`
	CounterpartName string `json:"counterpart_name,omitempty"`
	WantAudio       bool   `json:"want_audio,omitempty"`
}

type Response struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id"`
	Audio          []byte `json:"audio,omitempty"`
	AudioRef       string `json:"audio_ref,omitempty"`
	AudioMIME      string `json:"audio_mime,omitempty"`
	Memories       int    `json:"memories"`
}

func NewResponder(st Store, personas Personalities, retriever Retriever, model llm.LLM, opts Options) *Responder {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	return &Responder{
		store:        st,
		personas:     personas,
		retriever:    retriever,
		model:        model,
		voice:        opts.Voice,
		audio:        opts.Audio,
		historyLimit: opts.HistoryLimit,
	}
}

// Respond generates the persona's reply to one counterpart message and
// records the turn. Nothing is written unless generation succeeds and ctx is
// still live.
func (r *Responder) Respond(ctx context.Context, req Request) (*Response, error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return nil, ErrEmptyMessage
	}

	p, err := r.personas.Get(ctx, req.OwnerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("owner %s: %w", req.OwnerID, ErrPersonaNotReady)
	}
	if err != nil {
		return nil, fmt.Errorf("load personality: %w", err)
	}

	conversationID := req.ConversationID
	counterpart := req.CounterpartName
	var past []store.Message

	if conversationID == "" {
		conversationID = uuid.NewString()
	} else {
		conv, err := r.store.GetConversation(ctx, conversationID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// first turn of a caller-chosen conversation id
		case err != nil:
			return nil, fmt.Errorf("load conversation: %w", err)
		case conv.OwnerID != req.OwnerID:
			return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrForeignConversation)
		default:
			if counterpart == "" {
				counterpart = conv.CounterpartName
			}
			past, err = r.store.RecentMessages(ctx, conversationID, r.historyLimit)
			if err != nil {
				return nil, fmt.Errorf("load history: %w", err)
			}
		}
	}

	memories, err := r.retriever.Select(ctx, req.OwnerID, req.Message)
	if err != nil {
		return nil, fmt.Errorf("retrieve memories: %w", err)
	}

	messages := append(history(past), llm.Message{Role: llm.RoleUser, Content: req.Message})
	resp, err := r.model.Chat(llm.WithStage(ctx, Stage), buildDirective(p, counterpart, memories), messages)
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return nil, ErrEmptyGeneration
	}

	out := &Response{
		Text:           text,
		ConversationID: conversationID,
		Memories:       len(memories),
	}

	if req.WantAudio {
		r.render(ctx, req.OwnerID, conversationID, out)
	}

	_, err = r.store.AppendTurn(ctx, conversationID, store.Turn{
		Conversation: store.Conversation{
			OwnerID:         req.OwnerID,
			CounterpartID:   req.CounterpartID,
			CounterpartName: req.CounterpartName,
		},
		Counterpart: req.Message,
		Persona:     text,
		AudioRef:    out.AudioRef,
	})
	if err != nil {
		return nil, fmt.Errorf("save turn: %w", err)
	}

	logger.Debug("persona replied", "owner", req.OwnerID, "conversation", conversationID,
		"history", len(past), "memories", len(memories), "audio", out.Audio != nil)
	return out, nil
}

// render attaches synthesized audio to out. Failures are logged and dropped.
func (r *Responder) render(ctx context.Context, ownerID, conversationID string, out *Response) {
	if r.voice == nil {
		return
	}

	profile, err := r.store.PrimaryVoice(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Debug("no primary voice, replying without audio", "owner", ownerID)
		return
	}
	if err != nil {
		logger.Warn("voice lookup failed", "owner", ownerID, "error", fmt.Errorf("%w: %v", voice.ErrSynthesisFailed, err))
		return
	}

	audio, err := r.voice.Synthesize(ctx, profile.ExternalVoiceRef, out.Text)
	if err != nil {
		logger.Warn("voice synthesis failed", "owner", ownerID, "conversation", conversationID, "error", err)
		return
	}

	out.Audio = audio
	out.AudioMIME = voice.MIMEType

	if r.audio == nil {
		return
	}
	ref, err := r.audio.PutAudio(ctx, conversationID, audio, voice.MIMEType)
	if err != nil {
		logger.Warn("audio upload failed", "owner", ownerID, "conversation", conversationID,
			"error", fmt.Errorf("%w: %v", voice.ErrSynthesisFailed, err))
		return
	}
	out.AudioRef = ref
}
