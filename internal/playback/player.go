package playback

import (
	"context"
	"fmt"
	"sync"

	"hls-viewer/internal/validation"
)

// PlayerError is a failure reported by the player while streaming.
// HTTPStatus is set when the player saw the status of a failed sub-request.
type PlayerError struct {
	Code       int    `json:"code"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Network    bool   `json:"network,omitempty"`
}

func (e PlayerError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("player error %d", e.Code)
	}
	return fmt.Sprintf("player error %d: %s", e.Code, e.Detail)
}

// Player is the external HLS-capable player. Callback registration returns a
// function that removes the callback; after removal it is never invoked.
type Player interface {
	Load(ctx context.Context, url string) error
	OnError(fn func(PlayerError)) (remove func())
	OnLoaded(fn func()) (remove func())
	Destroy()
}

// PlayerFactory creates a fresh player for each session.
type PlayerFactory func() Player

// ClassifyPlayerError maps a player failure onto the validation vocabulary.
// Without enough detail the result is Unknown and keeps the native code.
func ClassifyPlayerError(e PlayerError) validation.Result {
	switch {
	case e.HTTPStatus >= 400:
		return validation.HTTPStatusResult(e.HTTPStatus)
	case e.Network:
		return validation.NetworkResult()
	}
	return validation.Result{
		Kind:    validation.Unknown,
		Message: fmt.Sprintf("Playback failed (%s)", e.Error()),
	}
}

// listeners is a small callback registry shared by player implementations.
type listeners[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners[T]) snapshot() []func(T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		out = append(out, fn)
	}
	return out
}

func (l *listeners[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

func (l *listeners[T]) clear() {
	l.mu.Lock()
	l.fns = nil
	l.mu.Unlock()
}
