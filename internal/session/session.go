// Package session owns the socket for one channel and keeps it bound to a single project.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/crmlive/internal/credentials"
	"github.com/ehrlich-b/crmlive/internal/dispatch"
	"github.com/ehrlich-b/crmlive/internal/protocol"
	"github.com/ehrlich-b/crmlive/internal/ws"
)

var (
	ErrAuthRequired    = errors.New("session: no credentials available")
	ErrProjectRequired = errors.New("session: project id required")
	ErrDegraded        = errors.New("session: reconnect attempts exhausted")
	ErrNotConnected    = errors.New("session: not connected")

	errStale = errors.New("session: superseded")
)

// Options configure a Session.
type Options struct {
	Channel     Channel
	URL         string
	Credentials credentials.Provider
	Dialer      ws.Dialer
	Policy      ws.Policy

	// Bind installs the channel's handlers. It runs on every (re)connect,
	// against a dispatcher that has just been cleared.
	Bind func(d *dispatch.Dispatcher)

	// OnStateChange observes every transition.
	OnStateChange func(state State, err error)
	// OnFatal receives auth-class errors. The session has already stopped.
	OnFatal func(err error)
	// OnTeardown runs after the transport for a project is torn down
	// (project switch, Disconnect, fatal error).
	OnTeardown func(projectID int64)
}

// Session is one (channel, project) connection with its own lifecycle.
// A Session is safe for concurrent use.
type Session struct {
	opts Options

	// After returns a channel that fires after d. Tests replace it.
	After func(d time.Duration) <-chan time.Time

	mu         sync.Mutex
	id         string
	projectID  int64
	state      State
	lastErr    error
	gen        uint64
	cancel     context.CancelFunc
	conn       ws.Conn
	dispatcher *dispatch.Dispatcher
	ready      chan struct{}
	readyDone  bool
	done       chan struct{}
}

func New(opts Options) *Session {
	if opts.Policy.Attempts == 0 && opts.Policy.BaseDelay == 0 {
		opts.Policy = ws.DefaultPolicy()
	}
	if opts.Dialer == nil {
		opts.Dialer = &ws.WebSocketDialer{}
	}
	return &Session{
		opts:  opts,
		After: time.After,
		state: Disconnected,
	}
}

func (s *Session) Channel() Channel { return s.opts.Channel }

// ID identifies the current (channel, project) binding. It changes on every
// Connect that starts a new binding.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error recorded with the last transition, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ProjectID returns the bound project, or 0 when unbound.
func (s *Session) ProjectID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

// Connect binds the session to projectID and starts connecting in the background.
// A live session for the same project is reused as is. A session for another
// project is torn down first. Use WaitReady to wait for the server's ready frame.
func (s *Session) Connect(projectID int64) error {
	if projectID <= 0 {
		return ErrProjectRequired
	}
	if s.opts.Credentials == nil {
		return ErrAuthRequired
	}
	if _, ok := s.opts.Credentials.Credentials(); !ok {
		return ErrAuthRequired
	}

	s.mu.Lock()
	if s.state.live() && s.projectID == projectID {
		s.mu.Unlock()
		return nil
	}

	var oldProject int64
	var release func()
	if s.cancel != nil {
		oldProject = s.projectID
		release = s.teardownLocked()
	}

	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.id = uuid.NewString()
	s.cancel = cancel
	s.projectID = projectID
	s.state = Connecting
	s.lastErr = nil
	s.dispatcher = dispatch.New()
	s.ready = make(chan struct{})
	s.readyDone = false
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	if release != nil {
		release()
		if oldProject != projectID {
			slog.Info("session: switched project", "channel", s.opts.Channel, "from", oldProject, "to", projectID)
		} else {
			slog.Info("session: restarting", "channel", s.opts.Channel, "project", projectID)
		}
		s.teardownHook(oldProject)
	}
	s.notify(Connecting, nil)

	go s.run(ctx, gen, projectID, done)
	return nil
}

// Disconnect unbinds every handler, closes the transport and clears the project.
// Safe to call when already disconnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	project := s.projectID
	prev := s.state
	release := s.teardownLocked()
	s.projectID = 0
	s.state = Disconnected
	s.lastErr = nil
	s.mu.Unlock()
	release()

	slog.Info("session: disconnected", "channel", s.opts.Channel, "project", project)
	s.teardownHook(project)
	if prev != Disconnected {
		s.notify(Disconnected, nil)
	}
}

// teardownLocked invalidates the current generation and drops its handlers.
// The returned func closes the transport and must be called after unlocking,
// so handlers are always gone before the socket closes.
func (s *Session) teardownLocked() (release func()) {
	s.gen++
	if s.dispatcher != nil {
		s.dispatcher.UnbindAll()
	}
	conn, cancel := s.conn, s.cancel
	s.conn, s.cancel = nil, nil
	return func() {
		if conn != nil {
			conn.Close()
		}
		if cancel != nil {
			cancel()
		}
	}
}

// Ready returns a channel closed when the server's ready frame arrives for the
// current binding. It is nil before the first Connect.
func (s *Session) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// WaitReady blocks until the server has armed the channel, the session gives
// up (degraded or fatal), or ctx is done.
func (s *Session) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	ready, done := s.ready, s.done
	s.mu.Unlock()
	if ready == nil {
		return ErrNotConnected
	}

	select {
	case <-ready:
		return nil
	default:
	}
	select {
	case <-ready:
		return nil
	case <-done:
		select {
		case <-ready:
			return nil
		default:
		}
		if err := s.Err(); err != nil {
			return err
		}
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Emit sends a client event on the current transport.
func (s *Session) Emit(ctx context.Context, event string, data any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	f, err := protocol.NewFrame(event, data)
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(ctx, f); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

func (s *Session) run(ctx context.Context, gen uint64, projectID int64, done chan struct{}) {
	defer close(done)

	bo := s.opts.Policy.Backoff()
	retries := 0
	for {
		armed, err := s.serve(ctx, gen, projectID)
		if ctx.Err() != nil || errors.Is(err, errStale) || s.stale(gen) {
			return
		}
		if isFatal(err) {
			s.fail(gen, err)
			return
		}
		if armed {
			bo.Reset()
			retries = 0
		}
		if retries >= s.opts.Policy.Attempts {
			slog.Warn("session: giving up", "channel", s.opts.Channel, "project", projectID, "attempts", retries, "err", err)
			s.setState(gen, Degraded, fmt.Errorf("%w: %v", ErrDegraded, err))
			return
		}
		retries++
		delay := bo.Next()
		slog.Info("session: reconnecting", "channel", s.opts.Channel, "project", projectID, "attempt", retries, "delay", delay, "err", err)
		s.setState(gen, Reconnecting, err)

		select {
		case <-ctx.Done():
			return
		case <-s.After(delay):
		}
	}
}

// serve dials once and reads until the transport fails. armed reports whether
// the server's ready frame was seen on this transport.
func (s *Session) serve(ctx context.Context, gen uint64, projectID int64) (armed bool, err error) {
	creds, ok := s.opts.Credentials.Credentials()
	if !ok {
		return false, ErrAuthRequired
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, s.opts.Policy.ConnectTimeout)
	defer cancelConnect()

	conn, err := s.opts.Dialer.Dial(connectCtx, s.opts.URL, protocol.AuthPayload{
		Token:     creds.Token,
		ProjectID: projectID,
	})
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.gen != gen {
		// a handshake that finished after the project changed is dropped
		s.mu.Unlock()
		conn.Close()
		return false, errStale
	}
	s.conn = conn
	d := s.dispatcher
	s.mu.Unlock()

	d.UnbindAll()
	if s.opts.Bind != nil {
		s.opts.Bind(d)
	}

	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		conn.Close()
	}()

	readCtx := connectCtx
	for {
		f, err := conn.ReadFrame(readCtx)
		if err != nil {
			if !armed && connectCtx.Err() != nil && ctx.Err() == nil {
				return false, fmt.Errorf("connect timeout: %w", err)
			}
			return armed, err
		}
		if s.stale(gen) {
			return armed, errStale
		}

		switch f.Event {
		case protocol.EventReady:
			if !armed {
				armed = true
				readCtx = ctx
				s.markReady(gen)
			}
		case protocol.EventError:
			var p protocol.ErrorPayload
			if f.Decode(&p) == nil {
				if perr := protocol.FromPayload(p); perr.Fatal() {
					d.Dispatch(f)
					return armed, perr
				}
			}
		}
		d.Dispatch(f)
	}
}

func (s *Session) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen
}

func (s *Session) markReady(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if !s.readyDone {
		close(s.ready)
		s.readyDone = true
	}
	s.state = Connected
	s.lastErr = nil
	s.mu.Unlock()
	s.notify(Connected, nil)
}

func (s *Session) setState(gen uint64, st State, err error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.lastErr = err
	s.mu.Unlock()
	s.notify(st, err)
}

// fail stops the session after an auth-class error.
func (s *Session) fail(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	project := s.projectID
	release := s.teardownLocked()
	s.projectID = 0
	s.state = Disconnected
	s.lastErr = err
	s.mu.Unlock()
	release()

	slog.Warn("session: fatal error", "channel", s.opts.Channel, "project", project, "err", err)
	s.teardownHook(project)
	s.notify(Disconnected, err)
	if s.opts.OnFatal != nil {
		s.opts.OnFatal(err)
	}
}

func (s *Session) notify(st State, err error) {
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(st, err)
	}
}

func (s *Session) teardownHook(projectID int64) {
	if s.opts.OnTeardown != nil {
		s.opts.OnTeardown(projectID)
	}
}

func isFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthRequired) || errors.Is(err, ws.ErrAuthRejected) {
		return true
	}
	var perr *protocol.Error
	return errors.As(err, &perr) && perr.Fatal()
}
