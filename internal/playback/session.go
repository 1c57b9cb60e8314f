package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"hls-viewer/internal/validation"
)

// Status is the lifecycle position of a Session.
type Status string

const (
	StatusLoading Status = "loading"
	StatusPlaying Status = "playing"
	StatusFailed  Status = "failed"
	StatusClosed  Status = "closed"
)

// ErrViewClosed is returned by Load after the view was torn down.
var ErrViewClosed = errors.New("view closed")

// Notification is raised when playback fails after load. It is meant to be
// shown as a blocking message, not inline form text.
type Notification struct {
	ViewID    string            `json:"view_id"`
	SessionID string            `json:"session_id"`
	URL       string            `json:"url"`
	Result    validation.Result `json:"result"`
	At        time.Time         `json:"at"`
}

// Notifier receives playback notifications.
type Notifier func(Notification)

// Session is one load of one URL. It owns its player exclusively.
type Session struct {
	id        string
	viewID    string
	url       string
	player    Player
	startedAt time.Time
	notify    Notifier
	log       *slog.Logger

	mu       sync.Mutex
	status   Status
	result   *validation.Result
	removers []func()
}

// Snapshot is a read-only copy of a Session.
type Snapshot struct {
	ID        string             `json:"id"`
	URL       string             `json:"url"`
	Status    Status             `json:"status"`
	Result    *validation.Result `json:"result,omitempty"`
	StartedAt time.Time          `json:"started_at"`
}

func newSession(viewID, url string, p Player, notify Notifier, log *slog.Logger) *Session {
	s := &Session{
		id:        uuid.NewString(),
		viewID:    viewID,
		url:       url,
		player:    p,
		startedAt: time.Now().UTC(),
		notify:    notify,
		log:       log,
		status:    StatusLoading,
	}
	s.removers = append(s.removers,
		p.OnError(s.handleError),
		p.OnLoaded(s.handleLoaded),
	)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Player returns the player owned by the session.
func (s *Session) Player() Player { return s.player }

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{ID: s.id, URL: s.url, Status: s.status, StartedAt: s.startedAt}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	return snap
}

func (s *Session) start(ctx context.Context) error {
	if err := s.player.Load(ctx, s.url); err != nil {
		s.fail(validation.Result{
			Kind:    validation.Unknown,
			Message: fmt.Sprintf("Playback failed (%s)", err.Error()),
		})
		return fmt.Errorf("load %s: %w", s.url, err)
	}
	return nil
}

func (s *Session) handleError(e PlayerError) {
	s.fail(ClassifyPlayerError(e))
}

func (s *Session) handleLoaded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusLoading {
		s.status = StatusPlaying
		s.log.Debug("playback started", slog.String("session_id", s.id), slog.String("url", s.url))
	}
}

func (s *Session) fail(res validation.Result) {
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return
	}
	s.status = StatusFailed
	s.result = &res
	s.mu.Unlock()

	s.log.Warn("playback failed",
		slog.String("view_id", s.viewID),
		slog.String("session_id", s.id),
		slog.String("url", s.url),
		slog.String("kind", res.Kind.String()),
		slog.String("message", res.Message))

	if s.notify != nil {
		s.notify(Notification{
			ViewID:    s.viewID,
			SessionID: s.id,
			URL:       s.url,
			Result:    res,
			At:        time.Now().UTC(),
		})
	}
}

// close removes the session's listeners and destroys its player.
func (s *Session) close() {
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return
	}
	s.status = StatusClosed
	removers := s.removers
	s.removers = nil
	s.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
	s.player.Destroy()
}
