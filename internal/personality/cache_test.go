package personality

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowerhall/kindred/internal/store"
)

// gatedLoader hands out the current model, optionally holding the first
// load until released.
type gatedLoader struct {
	mu      sync.Mutex
	current *store.Personality
	loaded  chan struct{}
	release chan struct{}
	calls   int
}

func (g *gatedLoader) GetPersonality(ctx context.Context, ownerID string) (*store.Personality, error) {
	g.mu.Lock()
	p := g.current
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()

	if first && g.release != nil {
		close(g.loaded)
		<-g.release
	}
	return p, nil
}

func (g *gatedLoader) set(p *store.Personality) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = p
}

func TestCacheIgnoresLoadRacingInvalidate(t *testing.T) {
	loader := &gatedLoader{
		current: &store.Personality{OwnerID: "owner-1", GenerationDirective: "old"},
		loaded:  make(chan struct{}),
		release: make(chan struct{}),
	}
	c, err := NewCache(loader, time.Hour)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	done := make(chan *store.Personality)
	go func() {
		p, err := c.Get(ctx, "owner-1")
		assert.NoError(t, err)
		done <- p
	}()

	<-loader.loaded
	loader.set(&store.Personality{OwnerID: "owner-1", GenerationDirective: "new"})
	c.Invalidate("owner-1")
	close(loader.release)

	assert.Equal(t, "old", (<-done).GenerationDirective)
	c.Wait()

	p, err := c.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "new", p.GenerationDirective)
}

func TestCacheServesHitsWithinGeneration(t *testing.T) {
	loader := &gatedLoader{current: &store.Personality{OwnerID: "owner-1", GenerationDirective: "v1"}}
	c, err := NewCache(loader, time.Hour)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	_, err = c.Get(ctx, "owner-1")
	require.NoError(t, err)
	c.Wait()
	_, err = c.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls)
}
