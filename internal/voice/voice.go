// Package voice renders text as speech through an ElevenLabs-compatible API.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrSynthesisFailed wraps every failure; callers treat it as non-fatal.
var ErrSynthesisFailed = errors.New("audio synthesis failed")

const (
	MIMEType       = "audio/mpeg"
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_multilingual_v2"
	defaultTimeout = 30 * time.Second

	// responses larger than this are treated as a broken stream
	maxAudioBytes = 20 << 20
)

type Synthesizer interface {
	Synthesize(ctx context.Context, voiceRef, text string) ([]byte, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type Client struct {
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
	http    *http.Client
}

type ttsRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type apiError struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

func New(cfg Config) *Client {
	c := &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		http:    &http.Client{},
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	return c
}

// Synthesize returns mp3 audio of text spoken in the given voice.
func (c *Client) Synthesize(ctx context.Context, voiceRef, text string) ([]byte, error) {
	if voiceRef == "" {
		return nil, fmt.Errorf("%w: empty voice reference", ErrSynthesisFailed)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrSynthesisFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(ttsRequest{
		Text:          text,
		ModelID:       c.model,
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	endpoint := c.baseURL + "/v1/text-to-speech/" + url.PathEscape(voiceRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", MIMEType)
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", ErrSynthesisFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Detail.Message != "" {
			return nil, fmt.Errorf("%w: status %d: %s", ErrSynthesisFailed, resp.StatusCode, apiErr.Detail.Message)
		}
		return nil, fmt.Errorf("%w: status %d", ErrSynthesisFailed, resp.StatusCode)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty audio", ErrSynthesisFailed)
	}
	if len(data) > maxAudioBytes {
		return nil, fmt.Errorf("%w: audio exceeds %d bytes", ErrSynthesisFailed, maxAudioBytes)
	}

	return data, nil
}
