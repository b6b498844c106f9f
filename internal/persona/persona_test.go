package persona_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowerhall/kindred/internal/llm"
	"github.com/bowerhall/kindred/internal/llm/llmtest"
	"github.com/bowerhall/kindred/internal/persona"
	"github.com/bowerhall/kindred/internal/personality"
	"github.com/bowerhall/kindred/internal/retrieval"
	"github.com/bowerhall/kindred/internal/store"
	"github.com/bowerhall/kindred/internal/voice"
)

const owner = "owner-1"

type fakeVoice struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeVoice) Synthesize(ctx context.Context, voiceRef, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("mp3:" + voiceRef), nil
}

type fakeSink struct {
	err error
}

func (f *fakeSink) PutAudio(ctx context.Context, conversationID string, data []byte, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "audio/" + conversationID + "/clip.mp3", nil
}

type harness struct {
	store *store.Store
	model *llmtest.Stub
	voice *fakeVoice
	sink  *fakeSink
	r     *persona.Responder
}

func newHarness(t *testing.T, withPersona bool) *harness {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for i := 0; i < 3; i++ {
		r := &store.Reflection{OwnerID: owner, Question: fmt.Sprintf("Question %d", i+1), RawContent: fmt.Sprintf("Memory number %d", i+1)}
		require.NoError(t, s.CreateReflection(ctx, r))
		_, err := s.SaveEssence(ctx, r.ID, store.Essence{Summary: "s"})
		require.NoError(t, err)
	}

	if withPersona {
		_, err := s.UpsertPersonality(ctx, &store.Personality{
			OwnerID:                    owner,
			GenerationDirective:        "Talk like a retired sailor.",
			TotalReflectionsConsidered: 3,
		})
		require.NoError(t, err)
	}

	cache, err := personality.NewCache(s, time.Minute)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	h := &harness{
		store: s,
		model: &llmtest.Stub{ChatFunc: llmtest.Reply("Ahoy, good to hear from you.")},
		voice: &fakeVoice{},
		sink:  &fakeSink{},
	}
	h.r = persona.NewResponder(s, cache, retrieval.NewSelector(s, h.model, 15), h.model, persona.Options{
		Voice: h.voice,
		Audio: h.sink,
	})
	return h
}

func TestRespondPersonaNotReady(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.r.Respond(context.Background(), persona.Request{OwnerID: owner, Message: "Hi", ConversationID: "c1"})

	assert.ErrorIs(t, err, persona.ErrPersonaNotReady)
	assert.Empty(t, h.model.Calls())
	_, err = h.store.GetConversation(context.Background(), "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRespondCreatesConversation(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	resp, err := h.r.Respond(ctx, persona.Request{OwnerID: owner, Message: "Hi grandpa", CounterpartName: "Maya"})
	require.NoError(t, err)

	assert.Equal(t, "Ahoy, good to hear from you.", resp.Text)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, 3, resp.Memories)
	assert.Nil(t, resp.Audio)

	conv, err := h.store.GetConversation(ctx, resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 2, conv.MessageCount)
	assert.Equal(t, "Maya", conv.CounterpartName)

	call := h.model.Calls()[0]
	assert.Contains(t, call.System, "Talk like a retired sailor.")
	assert.Contains(t, call.System, "You are talking with Maya")
	assert.Contains(t, call.System, "Memory number 2")
	require.Len(t, call.Messages, 1)
	assert.Equal(t, llm.RoleUser, call.Messages[0].Role)
}

func TestRespondHistoryOrderedAndCapped(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		_, err := h.store.AppendTurn(ctx, "c1", store.Turn{
			Conversation: store.Conversation{OwnerID: owner},
			Counterpart:  fmt.Sprintf("question %d", i),
			Persona:      fmt.Sprintf("answer %d", i),
		})
		require.NoError(t, err)
	}

	_, err := h.r.Respond(ctx, persona.Request{OwnerID: owner, Message: "newest", ConversationID: "c1"})
	require.NoError(t, err)

	msgs := h.model.Calls()[0].Messages
	require.Len(t, msgs, persona.DefaultHistoryLimit+1)
	assert.Equal(t, "question 5", msgs[0].Content, "window keeps the latest 20 messages")
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, "answer 14", msgs[19].Content)
	assert.Equal(t, llm.RoleAssistant, msgs[19].Role)
	assert.Equal(t, "newest", msgs[20].Content)

	conv, _ := h.store.GetConversation(ctx, "c1")
	assert.Equal(t, 32, conv.MessageCount)
}

func TestRespondWantAudioWithoutVoiceProfile(t *testing.T) {
	h := newHarness(t, true)

	resp, err := h.r.Respond(context.Background(), persona.Request{OwnerID: owner, Message: "Sing", WantAudio: true})
	require.NoError(t, err)

	assert.Nil(t, resp.Audio)
	assert.Empty(t, resp.AudioRef)
	assert.Equal(t, 0, h.voice.calls)
}

func TestRespondWithAudio(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.store.PutVoiceProfile(ctx, store.VoiceProfile{OwnerID: owner, ExternalVoiceRef: "v-1", IsPrimary: true}))

	resp, err := h.r.Respond(ctx, persona.Request{OwnerID: owner, Message: "Sing", WantAudio: true, ConversationID: "c9"})
	require.NoError(t, err)

	assert.Equal(t, []byte("mp3:v-1"), resp.Audio)
	assert.Equal(t, voice.MIMEType, resp.AudioMIME)
	assert.Equal(t, "audio/c9/clip.mp3", resp.AudioRef)

	msgs, err := h.store.RecentMessages(ctx, "c9", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[0].AudioRef)
	assert.Equal(t, "audio/c9/clip.mp3", msgs[1].AudioRef)
}

func TestRespondVoiceFailureIsSwallowed(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.store.PutVoiceProfile(ctx, store.VoiceProfile{OwnerID: owner, ExternalVoiceRef: "v-1", IsPrimary: true}))
	h.voice.err = fmt.Errorf("%w: status 500", voice.ErrSynthesisFailed)

	resp, err := h.r.Respond(ctx, persona.Request{OwnerID: owner, Message: "Sing", WantAudio: true})
	require.NoError(t, err)
	assert.Nil(t, resp.Audio)
	assert.Equal(t, "Ahoy, good to hear from you.", resp.Text)
}

func TestRespondUploadFailureKeepsInlineAudio(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.store.PutVoiceProfile(ctx, store.VoiceProfile{OwnerID: owner, ExternalVoiceRef: "v-1", IsPrimary: true}))
	h.sink.err = errors.New("minio unreachable")

	resp, err := h.r.Respond(ctx, persona.Request{OwnerID: owner, Message: "Sing", WantAudio: true})
	require.NoError(t, err)
	assert.NotNil(t, resp.Audio)
	assert.Empty(t, resp.AudioRef)
}

func TestRespondEmptyGenerationWritesNothing(t *testing.T) {
	h := newHarness(t, true)
	h.model.ChatFunc = llmtest.Reply("   \n")

	_, err := h.r.Respond(context.Background(), persona.Request{OwnerID: owner, Message: "Hello?", ConversationID: "c1"})
	assert.ErrorIs(t, err, persona.ErrEmptyGeneration)

	_, err = h.store.GetConversation(context.Background(), "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRespondGenerationErrorsSurface(t *testing.T) {
	h := newHarness(t, true)
	h.model.ChatFunc = func(context.Context, string, []llm.Message) (*llm.ChatResponse, error) {
		return nil, fmt.Errorf("claude: %w", llm.ErrRateLimited)
	}

	_, err := h.r.Respond(context.Background(), persona.Request{OwnerID: owner, Message: "Hello?"})
	assert.ErrorIs(t, err, llm.ErrRateLimited)
}

func TestRespondAbandonedRequestWritesNothing(t *testing.T) {
	h := newHarness(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	h.model.ChatFunc = func(context.Context, string, []llm.Message) (*llm.ChatResponse, error) {
		cancel()
		return &llm.ChatResponse{Content: "too late"}, nil
	}

	_, err := h.r.Respond(ctx, persona.Request{OwnerID: owner, Message: "Hello?", ConversationID: "c1"})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = h.store.GetConversation(context.Background(), "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRespondRejectsForeignConversation(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	_, err := h.store.AppendTurn(ctx, "c1", store.Turn{Conversation: store.Conversation{OwnerID: "someone-else"}, Counterpart: "a", Persona: "b"})
	require.NoError(t, err)

	_, err = h.r.Respond(ctx, persona.Request{OwnerID: owner, Message: "Hello?", ConversationID: "c1"})
	assert.ErrorIs(t, err, persona.ErrForeignConversation)
}

func TestRespondEmptyMessage(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.r.Respond(context.Background(), persona.Request{OwnerID: owner, Message: "  "})
	assert.ErrorIs(t, err, persona.ErrEmptyMessage)
}
