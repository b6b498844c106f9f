package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrForeignConversation = errors.New("conversation belongs to another owner")
)

type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
)

func (m Modality) Valid() bool {
	switch m {
	case ModalityText, ModalityAudio, ModalityVideo:
		return true
	}
	return false
}

// Reflection is one submitted answer to a prompt. Empty Transcript and Summary
// mean the columns are NULL.
type Reflection struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Question   string    `json:"question,omitempty"`
	Category   string    `json:"category,omitempty"`
	RawContent string    `json:"raw_content"`
	Modality   Modality  `json:"modality"`
	Transcript string    `json:"transcript,omitempty"`
	Values     []string  `json:"extracted_values,omitempty"`
	Emotions   []string  `json:"extracted_emotions,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	WordCount  int       `json:"word_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Processed reports whether Extraction has written the essence.
func (r *Reflection) Processed() bool {
	return r.Summary != ""
}

// BestText prefers the transcript over the raw content.
func (r *Reflection) BestText() string {
	if r.Transcript != "" {
		return r.Transcript
	}
	return r.RawContent
}

// Essence is the Extraction result written back onto a reflection.
type Essence struct {
	Values   []string
	Emotions []string
	Summary  string
	// Transcript is stored only when the reflection has none yet.
	Transcript string
}

type Personality struct {
	OwnerID                    string    `json:"owner_id"`
	Facets                     Facets    `json:"facets"`
	GenerationDirective        string    `json:"generation_directive"`
	ConfidenceScore            float64   `json:"confidence_score"`
	TotalReflectionsConsidered int       `json:"total_reflections_considered"`
	LastBuiltAt                time.Time `json:"last_built_at"`
}

// Facets are the structured parts of a personality model.
type Facets struct {
	Traits             []Trait            `json:"traits"`
	ValuesHierarchy    []RankedValue      `json:"values_hierarchy"`
	Beliefs            []Belief           `json:"beliefs"`
	CommunicationStyle CommunicationStyle `json:"communication_style"`
	EmotionalPatterns  EmotionalPatterns  `json:"emotional_patterns"`
	HumorStyle         string             `json:"humor_style"`
	KeyStories         []Story            `json:"key_stories"`
	LifeLessons        []string           `json:"life_lessons"`
	ImportantPeople    []Person           `json:"important_people"`
}

type Trait struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Strength    float64 `json:"strength"`
}

type RankedValue struct {
	Value    string `json:"value"`
	Rank     int    `json:"rank"`
	Evidence string `json:"evidence,omitempty"`
}

type Belief struct {
	Statement     string `json:"statement"`
	Conviction    string `json:"conviction,omitempty"`
	Contradiction string `json:"contradiction,omitempty"`
}

type CommunicationStyle struct {
	Tone              string   `json:"tone"`
	Vocabulary        string   `json:"vocabulary,omitempty"`
	SentenceStructure string   `json:"sentence_structure,omitempty"`
	Phrases           []string `json:"phrases,omitempty"`
}

type EmotionalPatterns struct {
	Dominant []string `json:"dominant"`
	Triggers []string `json:"triggers,omitempty"`
	Coping   []string `json:"coping,omitempty"`
}

type Story struct {
	Title        string `json:"title"`
	Summary      string `json:"summary"`
	Significance string `json:"significance,omitempty"`
}

type Person struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Significance string `json:"significance,omitempty"`
}

type Role string

const (
	RoleCounterpart Role = "counterpart"
	RolePersona     Role = "persona"
)

type Conversation struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	CounterpartID   string     `json:"counterpart_id,omitempty"`
	CounterpartName string     `json:"counterpart_name,omitempty"`
	MessageCount    int        `json:"message_count"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	AudioRef       string    `json:"audio_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Turn is one counterpart message and the persona's reply, written together.
type Turn struct {
	Conversation Conversation // used only when the conversation does not exist yet
	Counterpart  string
	Persona      string
	AudioRef     string
}

type VoiceProfile struct {
	OwnerID          string `json:"owner_id"`
	ExternalVoiceRef string `json:"external_voice_ref"`
	IsPrimary        bool   `json:"is_primary"`
}
