package viewer

import (
	"errors"
	"fmt"

	"hls-viewer/internal/playback"
	"hls-viewer/internal/validation"
)

var (
	// ErrFormNotFound is returned for an unknown or closed form id.
	ErrFormNotFound = errors.New("form not found")

	// ErrViewNotFound is returned for an unknown or closed view id.
	ErrViewNotFound = errors.New("view not found")

	// ErrSubmitRejected is returned when the validation state does not allow
	// saving the stream.
	ErrSubmitRejected = errors.New("submission rejected")

	// ErrPlaybackBlocked is returned when a load is refused by pre-flight
	// validation and no override was given.
	ErrPlaybackBlocked = errors.New("playback blocked")

	// ErrSessionMismatch is returned when a player event names a session that
	// is no longer the view's active one.
	ErrSessionMismatch = errors.New("session is not active")

	// ErrInvalidEvent is returned for an unknown player event type.
	ErrInvalidEvent = errors.New("invalid player event")
)

// RejectedError carries the validation result behind a refusal.
// It matches ErrSubmitRejected or ErrPlaybackBlocked with errors.Is.
type RejectedError struct {
	Kind   error
	Phase  validation.Phase
	Result *validation.Result
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Reason)
}

func (e *RejectedError) Is(target error) bool { return target == e.Kind }

// StreamInput is the body of a create request.
type StreamInput struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
	Override    bool   `json:"override"`
}

// SubmitInput is the body of a form submission.
type SubmitInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Override    bool   `json:"override"`
}

// LoadInput selects what a view should play: a saved stream or a raw URL.
type LoadInput struct {
	StreamID string `json:"stream_id"`
	URL      string `json:"url"`
	Override bool   `json:"override"`
}

// Player event types reported by the page.
const (
	EventLoaded = "loaded"
	EventError  = "error"
)

// PlayerEvent is what the page's player reports for the active session.
type PlayerEvent struct {
	SessionID  string `json:"session_id"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	Detail     string `json:"detail"`
	HTTPStatus int    `json:"http_status"`
	Network    bool   `json:"network"`
}

// FormView is the JSON shape of a form.
type FormView struct {
	ID        string           `json:"id"`
	State     validation.State `json:"state"`
	CanSubmit bool             `json:"can_submit"`
}

// ViewState is the JSON shape of a player view.
type ViewState struct {
	ID           string                 `json:"id"`
	Session      *playback.Snapshot     `json:"session,omitempty"`
	Notification *playback.Notification `json:"notification,omitempty"`
}
