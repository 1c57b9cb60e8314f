package playback

import (
	"context"
	"errors"
	"sync"
)

// ErrPlayerDestroyed is returned by Load on a destroyed player.
var ErrPlayerDestroyed = errors.New("player destroyed")

// RemotePlayer stands in for the HLS player running in the browser. Load
// records the manifest the page should attach; the page reports what its
// player does through EmitLoaded and EmitError.
type RemotePlayer struct {
	mu        sync.Mutex
	url       string
	loads     int
	destroyed bool

	errs   listeners[PlayerError]
	loaded listeners[struct{}]
}

// NewRemotePlayer returns an empty player.
func NewRemotePlayer() *RemotePlayer {
	return &RemotePlayer{}
}

// Load implements Player.
func (p *RemotePlayer) Load(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return ErrPlayerDestroyed
	}
	p.url = url
	p.loads++
	return nil
}

// OnError implements Player.
func (p *RemotePlayer) OnError(fn func(PlayerError)) func() {
	return p.errs.add(fn)
}

// OnLoaded implements Player.
func (p *RemotePlayer) OnLoaded(fn func()) func() {
	return p.loaded.add(func(struct{}) { fn() })
}

// Destroy implements Player. All callbacks are dropped.
func (p *RemotePlayer) Destroy() {
	p.mu.Lock()
	p.destroyed = true
	p.mu.Unlock()
	p.errs.clear()
	p.loaded.clear()
}

// EmitError delivers a player failure to the registered callbacks.
func (p *RemotePlayer) EmitError(e PlayerError) {
	for _, fn := range p.errs.snapshot() {
		fn(e)
	}
}

// EmitLoaded signals that the manifest metadata was loaded.
func (p *RemotePlayer) EmitLoaded() {
	for _, fn := range p.loaded.snapshot() {
		fn(struct{}{})
	}
}

// URL returns the last loaded manifest URL.
func (p *RemotePlayer) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Loads returns how many times Load succeeded.
func (p *RemotePlayer) Loads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads
}

// Listeners returns the number of registered callbacks.
func (p *RemotePlayer) Listeners() int {
	return p.errs.len() + p.loaded.len()
}
