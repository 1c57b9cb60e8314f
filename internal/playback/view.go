package playback

import (
	"context"
	"log/slog"
	"sync"
)

// View holds at most one active Session. Starting a new load tears down the
// previous session first, so its callbacks can never fire again.
type View struct {
	id      string
	factory PlayerFactory
	notify  Notifier
	log     *slog.Logger

	mu      sync.Mutex
	current *Session
	closed  bool
	onStart func(sessionID string)
}

// NewView returns an empty view. notify and log may be nil.
func NewView(id string, factory PlayerFactory, notify Notifier, log *slog.Logger) *View {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &View{id: id, factory: factory, notify: notify, log: log}
}

// OnSessionStart registers fn to learn each new session id before its player
// loads, so notifications of earlier sessions can be told apart. fn runs with
// the view locked and must not call back into it.
func (v *View) OnSessionStart(fn func(sessionID string)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onStart = fn
}

// ID returns the view identifier.
func (v *View) ID() string { return v.id }

// Load starts a session for url. The returned session is current even when
// the player refused the URL; its snapshot then carries the failure.
func (v *View) Load(ctx context.Context, url string) (*Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrViewClosed
	}

	if v.current != nil {
		v.current.close()
		v.current = nil
	}

	s := newSession(v.id, url, v.factory(), v.notify, v.log)
	v.current = s
	if v.onStart != nil {
		v.onStart(s.id)
	}
	v.log.Info("playback load",
		slog.String("view_id", v.id),
		slog.String("session_id", s.id),
		slog.String("url", url))

	return s, s.start(ctx)
}

// Current returns the active session or nil.
func (v *View) Current() *Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Close tears down the active session. Later loads fail with ErrViewClosed.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	if v.current != nil {
		v.current.close()
		v.current = nil
	}
}
