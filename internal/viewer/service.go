package viewer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hls-viewer/internal/platform/metrics"
	"hls-viewer/internal/playback"
	"hls-viewer/internal/registry"
	"hls-viewer/internal/validation"
)

// Checker runs one stream check.
type Checker interface {
	Check(ctx context.Context, raw string, opts ...validation.CheckOption) validation.Result
}

// Service ties stream checks, saved streams and player views together.
// Forms and views live in memory and are keyed by uuid.
type Service struct {
	repo     registry.Repository
	checker  Checker
	log      *slog.Logger
	metrics  *metrics.Metrics
	debounce time.Duration
	players  playback.PlayerFactory

	mu    sync.Mutex
	forms map[string]*form
	views map[string]*viewEntry
}

type form struct {
	id      string
	machine *validation.Machine
}

type viewEntry struct {
	view *playback.View

	mu     sync.Mutex
	active string
	note   *playback.Notification
}

// Option configures a Service.
type Option func(*Service)

// WithDebounce sets the form input debounce. Zero checks on every input.
func WithDebounce(d time.Duration) Option {
	return func(s *Service) { s.debounce = d }
}

// WithMetrics records submissions and playback on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithPlayers overrides the player factory used by new views.
func WithPlayers(f playback.PlayerFactory) Option {
	return func(s *Service) { s.players = f }
}

// NewService returns a Service backed by repo and c. log may be nil.
func NewService(repo registry.Repository, c Checker, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Service{
		repo:     repo,
		checker:  c,
		log:      log,
		debounce: validation.DefaultDebounce,
		players:  func() playback.Player { return playback.NewRemotePlayer() },
		forms:    make(map[string]*form),
		views:    make(map[string]*viewEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks raw once, outside any form.
func (s *Service) Validate(ctx context.Context, raw string, secure bool) validation.Result {
	return s.checker.Check(ctx, raw, validation.WithOrigin(secure))
}

// ListStreams returns all saved streams, newest first.
func (s *Service) ListStreams(ctx context.Context) ([]registry.Record, error) {
	return s.repo.List(ctx)
}

// GetStream returns one saved stream.
func (s *Service) GetStream(ctx context.Context, id string) (registry.Record, error) {
	return s.repo.Get(ctx, id)
}

// CreateStream checks in.URL and saves the stream if the check allows it.
// The returned result is the check that decided.
func (s *Service) CreateStream(ctx context.Context, in StreamInput, secure bool) (registry.Record, validation.Result, error) {
	res := s.checker.Check(ctx, in.URL, validation.WithOrigin(secure))
	if err := s.admit(ErrSubmitRejected, resultPhase(res), res, in.Override); err != nil {
		return registry.Record{}, res, err
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	rec, err := s.create(ctx, registry.Record{
		Name:        in.Name,
		URL:         in.URL,
		Description: in.Description,
		IsActive:    active,
	}, res, in.Override)
	return rec, res, err
}

// UpdateStream applies f. A changed URL is checked first, under the same
// rules as CreateStream.
func (s *Service) UpdateStream(ctx context.Context, id string, f registry.Fields, override, secure bool) (registry.Record, *validation.Result, error) {
	var checked *validation.Result
	if f.URL != nil {
		cur, err := s.repo.Get(ctx, id)
		if err != nil {
			return registry.Record{}, nil, err
		}
		if strings.TrimSpace(*f.URL) != cur.URL {
			res := s.checker.Check(ctx, *f.URL, validation.WithOrigin(secure))
			checked = &res
			if err := s.admit(ErrSubmitRejected, resultPhase(res), res, override); err != nil {
				return registry.Record{}, checked, err
			}
		}
	}
	rec, err := s.repo.Update(ctx, id, f)
	return rec, checked, err
}

// DeleteStream removes a saved stream.
func (s *Service) DeleteStream(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// admit decides whether a check result allows saving or playing. Valid
// always passes. Invalid passes only with override, and never for a
// malformed URL since there is nothing to save or play.
func (s *Service) admit(kind error, phase validation.Phase, res validation.Result, override bool) error {
	if phase == validation.Valid {
		return nil
	}

	r := res
	rejected := &RejectedError{Kind: kind, Phase: phase, Result: &r}
	switch {
	case phase != validation.Invalid:
		rejected.Result = nil
		rejected.Reason = "stream check has not finished"
	case res.Kind == validation.MalformedURL:
		rejected.Reason = res.Message
	case override:
		s.log.Warn("stream accepted despite failed check",
			slog.String("kind", res.Kind.String()),
			slog.String("message", res.Message))
		return nil
	default:
		rejected.Reason = res.Message
	}

	if kind == ErrSubmitRejected && s.metrics != nil {
		s.metrics.IncSubmitRejected(phase.String())
	}
	return rejected
}

func resultPhase(res validation.Result) validation.Phase {
	if res.OK() {
		return validation.Valid
	}
	return validation.Invalid
}

func (s *Service) create(ctx context.Context, r registry.Record, res validation.Result, override bool) (registry.Record, error) {
	rec, err := s.repo.Create(ctx, r)
	if err != nil {
		return registry.Record{}, err
	}
	s.log.Info("stream created",
		slog.String("id", rec.ID),
		slog.String("url", rec.URL),
		slog.String("kind", res.Kind.String()),
		slog.Bool("override", override && !res.OK()))
	if s.metrics != nil {
		s.metrics.IncStreamsCreated()
	}
	return rec, nil
}

// OpenForm starts a validation form. secure selects the page origin used for
// mixed content checks.
func (s *Service) OpenForm(secure bool) FormView {
	id := uuid.NewString()
	m := validation.NewMachine(s.checker,
		validation.WithDebounce(s.debounce),
		validation.WithCheckOptions(validation.WithOrigin(secure)),
		validation.WithOnChange(func(st validation.State) {
			s.log.Debug("form state",
				slog.String("form_id", id),
				slog.String("phase", st.Phase.String()),
				slog.Uint64("generation", st.Generation))
		}),
	)

	s.mu.Lock()
	s.forms[id] = &form{id: id, machine: m}
	s.mu.Unlock()

	return formView(id, m.State())
}

// FormInput records new input on a form and returns the resulting state.
func (s *Service) FormInput(id, raw string) (FormView, error) {
	f, err := s.form(id)
	if err != nil {
		return FormView{}, err
	}
	f.machine.Input(raw)
	return formView(id, f.machine.State()), nil
}

// FormState returns a form's state. With wait set it blocks until the check
// for the current input is done or ctx ends.
func (s *Service) FormState(ctx context.Context, id string, wait bool) (FormView, error) {
	f, err := s.form(id)
	if err != nil {
		return FormView{}, err
	}
	if !wait {
		return formView(id, f.machine.State()), nil
	}
	st, err := f.machine.Await(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return FormView{}, err
	}
	return formView(id, st), nil
}

// SubmitForm saves the form's current input. A rejected submission leaves the
// form open and its state untouched; a successful one closes the form.
func (s *Service) SubmitForm(ctx context.Context, id string, in SubmitInput) (registry.Record, error) {
	f, err := s.form(id)
	if err != nil {
		return registry.Record{}, err
	}

	st := f.machine.State()
	var res validation.Result
	if st.Result != nil {
		res = *st.Result
	}
	if err := s.admit(ErrSubmitRejected, st.Phase, res, in.Override); err != nil {
		return registry.Record{}, err
	}

	rec, err := s.create(ctx, registry.Record{
		Name:        in.Name,
		URL:         st.Input,
		Description: in.Description,
		IsActive:    true,
	}, res, in.Override)
	if err != nil {
		return registry.Record{}, err
	}
	s.CloseForm(id)
	return rec, nil
}

// CloseForm stops a form's pending checks and forgets it.
func (s *Service) CloseForm(id string) bool {
	s.mu.Lock()
	f, ok := s.forms[id]
	delete(s.forms, id)
	s.mu.Unlock()
	if ok {
		f.machine.Close()
	}
	return ok
}

func (s *Service) form(id string) (*form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.forms[id]
	if !ok {
		return nil, ErrFormNotFound
	}
	return f, nil
}

func formView(id string, st validation.State) FormView {
	return FormView{ID: id, State: st, CanSubmit: st.Phase == validation.Valid}
}

// LoadView starts playback in view id, creating the view on first use. The
// URL comes from in.StreamID or in.URL. A failed pre-flight check blocks the
// load unless in.Override is set. The returned result is that check.
func (s *Service) LoadView(ctx context.Context, id string, in LoadInput, secure bool) (ViewState, validation.Result, error) {
	target := in.URL
	if in.StreamID != "" {
		rec, err := s.repo.Get(ctx, in.StreamID)
		if err != nil {
			return ViewState{}, validation.Result{}, err
		}
		target = rec.URL
	}

	res := s.checker.Check(ctx, target, validation.WithOrigin(secure))
	if err := s.admit(ErrPlaybackBlocked, resultPhase(res), res, in.Override); err != nil {
		return ViewState{}, res, err
	}

	e := s.view(id)

	// The player is handed the same string the check parsed.
	sess, err := e.view.Load(ctx, strings.TrimSpace(target))
	if errors.Is(err, playback.ErrViewClosed) {
		return ViewState{}, res, ErrViewNotFound
	}
	if s.metrics != nil && sess != nil {
		s.metrics.IncPlaybackLoads()
	}
	if err != nil {
		s.log.Warn("player refused stream", slog.String("view_id", id), slog.String("error", err.Error()))
	}
	return s.viewState(id, e), res, nil
}

// ReportEvent feeds a player event from the page into the view's active
// session. Events for any other session are refused.
func (s *Service) ReportEvent(id string, ev PlayerEvent) (ViewState, error) {
	e, err := s.existingView(id)
	if err != nil {
		return ViewState{}, err
	}
	sess := e.view.Current()
	if sess == nil || sess.ID() != ev.SessionID {
		return ViewState{}, ErrSessionMismatch
	}
	rp, ok := sess.Player().(*playback.RemotePlayer)
	if !ok {
		return ViewState{}, ErrInvalidEvent
	}

	switch ev.Type {
	case EventLoaded:
		rp.EmitLoaded()
	case EventError:
		rp.EmitError(playback.PlayerError{
			Code:       ev.Code,
			Detail:     ev.Detail,
			HTTPStatus: ev.HTTPStatus,
			Network:    ev.Network,
		})
	default:
		return ViewState{}, ErrInvalidEvent
	}
	return s.viewState(id, e), nil
}

// View returns a view's state.
func (s *Service) View(id string) (ViewState, error) {
	e, err := s.existingView(id)
	if err != nil {
		return ViewState{}, err
	}
	return s.viewState(id, e), nil
}

// DismissNotification clears the view's pending notification.
func (s *Service) DismissNotification(id string) (ViewState, error) {
	e, err := s.existingView(id)
	if err != nil {
		return ViewState{}, err
	}
	e.mu.Lock()
	e.note = nil
	e.mu.Unlock()
	return s.viewState(id, e), nil
}

// CloseView tears down a view and its session.
func (s *Service) CloseView(id string) bool {
	s.mu.Lock()
	e, ok := s.views[id]
	delete(s.views, id)
	s.mu.Unlock()
	if ok {
		e.view.Close()
	}
	return ok
}

func (s *Service) view(id string) *viewEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.views[id]; ok {
		return e
	}
	e := &viewEntry{}
	e.view = playback.NewView(id, s.players, func(n playback.Notification) {
		e.mu.Lock()
		if n.SessionID != e.active {
			e.mu.Unlock()
			s.log.Debug("dropped notification of superseded session",
				slog.String("view_id", id),
				slog.String("session_id", n.SessionID))
			return
		}
		e.note = &n
		e.mu.Unlock()
		if s.metrics != nil {
			s.metrics.IncPlaybackFailure(n.Result.Kind.String())
		}
	}, s.log)
	// A new session replaces the pending notification and becomes the only
	// one allowed to raise the next.
	e.view.OnSessionStart(func(sessionID string) {
		e.mu.Lock()
		e.active = sessionID
		e.note = nil
		e.mu.Unlock()
	})
	s.views[id] = e
	return e
}

func (s *Service) existingView(id string) (*viewEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.views[id]
	if !ok {
		return nil, ErrViewNotFound
	}
	return e, nil
}

func (s *Service) viewState(id string, e *viewEntry) ViewState {
	vs := ViewState{ID: id}
	if sess := e.view.Current(); sess != nil {
		snap := sess.Snapshot()
		vs.Session = &snap
	}
	e.mu.Lock()
	if e.note != nil {
		n := *e.note
		vs.Notification = &n
	}
	e.mu.Unlock()
	return vs
}

// Counts returns the number of open forms and views.
func (s *Service) Counts() (forms, views int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.forms), len(s.views)
}

// Close tears down every form and view.
func (s *Service) Close() {
	s.mu.Lock()
	forms, views := s.forms, s.views
	s.forms = make(map[string]*form)
	s.views = make(map[string]*viewEntry)
	s.mu.Unlock()

	for _, f := range forms {
		f.machine.Close()
	}
	for _, e := range views {
		e.view.Close()
	}
}
