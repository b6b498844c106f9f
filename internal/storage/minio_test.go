package storage

import (
	"strings"
	"testing"
)

func TestAudioKey(t *testing.T) {
	key := AudioKey("telegram-42", "clip")
	if key != "audio/telegram-42/clip.mp3" {
		t.Errorf("unexpected key %s", key)
	}
}

func TestNewClientRequiresBucket(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error without bucket")
	}

	c, err := NewClient(Config{Endpoint: "localhost:9000", AccessKey: "k", SecretKey: "s", Bucket: "kindred-audio"})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if c.Bucket() != "kindred-audio" {
		t.Errorf("unexpected bucket %s", c.Bucket())
	}
}

func TestAudioKeysAreUniquePerClip(t *testing.T) {
	a := AudioKey("conv", "1")
	b := AudioKey("conv", "2")
	if a == b || !strings.HasPrefix(a, "audio/conv/") {
		t.Errorf("unexpected keys %s %s", a, b)
	}
}
