// Package chat is the chat channel: one session, the conversation store
// it feeds, and the outgoing message path.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/crmlive/internal/conversation"
	"github.com/ehrlich-b/crmlive/internal/credentials"
	"github.com/ehrlich-b/crmlive/internal/dispatch"
	"github.com/ehrlich-b/crmlive/internal/protocol"
	"github.com/ehrlich-b/crmlive/internal/session"
	"github.com/ehrlich-b/crmlive/internal/ws"
)

// ErrSessionClosed fails sends whose transport went away before a result arrived.
var ErrSessionClosed = errors.New("chat: session closed before send completed")

// ErrNoHydrator is returned by Hydrate when no REST fallback is configured.
var ErrNoHydrator = errors.New("chat: no REST client configured")

// ErrNoProject is returned by Hydrate before Connect has bound a project.
var ErrNoProject = errors.New("chat: no project bound")

const defaultPageSize = 20

// Hydrator fetches conversation data for one project over REST.
// *rest.Client satisfies it.
type Hydrator interface {
	ListConversations(ctx context.Context, projectID int64, limit int, cursor string) (*protocol.ConversationsListPayload, error)
	ListMessages(ctx context.Context, projectID, conversationID int64, limit int, cursor string) (*protocol.MessagesListPayload, error)
}

type Options struct {
	URL         string
	Credentials credentials.Provider
	Dialer      ws.Dialer
	Policy      ws.Policy
	Hydrator    Hydrator
	PageSize    int

	OnStateChange func(state session.State, err error)
	OnFatal       func(err error)
	// OnError receives scoped and transient error frames.
	OnError func(err *protocol.Error)
}

type Client struct {
	opts   Options
	sess   *session.Session
	store  *conversation.Store
	outbox *outbox

	mu      sync.Mutex
	project int64                // project Connect last asked for
	held    int64                // project the store's contents belong to
	offline *dispatch.Dispatcher // feeds REST hydration through the store's handlers
}

func New(opts Options) *Client {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	c := &Client{
		opts:    opts,
		store:   conversation.New(),
		outbox:  newOutbox(),
		offline: dispatch.New(),
	}
	c.store.Bind(c.offline)
	c.sess = session.New(session.Options{
		Channel:       session.ChannelChat,
		URL:           opts.URL,
		Credentials:   opts.Credentials,
		Dialer:        opts.Dialer,
		Policy:        opts.Policy,
		Bind:          c.bind,
		OnStateChange: c.stateChanged,
		OnFatal:       opts.OnFatal,
		OnTeardown:    c.teardown,
	})
	return c
}

func (c *Client) Session() *session.Session { return c.sess }
func (c *Client) Store() *conversation.Store { return c.store }

// Connect binds the chat channel to projectID. Switching projects clears the
// store once the previous transport is down and before the new one binds, so
// nothing from the previous project survives.
func (c *Client) Connect(projectID int64) error {
	c.mu.Lock()
	prev := c.project
	c.project = projectID
	c.mu.Unlock()

	if c.sess.State() == session.Disconnected {
		// nothing to tear down, so OnTeardown will not run
		c.settle()
	}
	if err := c.sess.Connect(projectID); err != nil {
		c.mu.Lock()
		if c.project == projectID {
			c.project = prev
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// Disconnect closes the chat socket. The store keeps its contents until a
// different project is connected.
func (c *Client) Disconnect() {
	c.sess.Disconnect()
}

// settle resets the store when it holds a project other than the one being
// connected. No transport for the old project may be bound when it runs.
func (c *Client) settle() {
	c.mu.Lock()
	if c.project == 0 || c.project == c.held {
		c.mu.Unlock()
		return
	}
	from, to := c.held, c.project
	c.held = to
	c.mu.Unlock()
	if from == 0 {
		return
	}

	slog.Debug("chat: clearing store for project switch", "from", from, "to", to)
	c.store.Reset()
	offline := dispatch.New()
	c.store.Bind(offline)
	c.mu.Lock()
	c.offline = offline
	c.mu.Unlock()
}

// WaitReady blocks until the chat socket is armed.
func (c *Client) WaitReady(ctx context.Context) error {
	return c.sess.WaitReady(ctx)
}

func (c *Client) bind(d *dispatch.Dispatcher) {
	c.store.Bind(d)
	d.Bind(protocol.EventReady, func(protocol.Frame) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.LoadConversations(ctx, ""); err != nil {
			slog.Warn("chat: request conversations", "err", err)
		}
	})
	dispatch.On(d, protocol.EventMessageResult, func(p protocol.MessageResultPayload) {
		if !c.outbox.resolve(p) {
			slog.Debug("chat: unmatched message result", "temp_id", p.TempMessageID)
		}
	})
	dispatch.On(d, protocol.EventError, func(p protocol.ErrorPayload) {
		perr := protocol.FromPayload(p)
		switch perr.Class() {
		case protocol.ClassSend:
			if c.outbox.failOldest(perr) {
				return
			}
		case protocol.ClassFatal:
			// the session stops itself and reports through OnFatal
			return
		}
		slog.Warn("chat: server error", "code", perr.Code, "message", perr.Message)
		if c.opts.OnError != nil {
			c.opts.OnError(perr)
		}
	})
}

func (c *Client) stateChanged(st session.State, err error) {
	if st != session.Connected {
		if n := c.outbox.failAll(ErrSessionClosed); n > 0 {
			slog.Info("chat: failed pending sends", "count", n, "state", st)
		}
	}
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(st, err)
	}
}

// teardown runs after the old transport is closed and its handlers unbound.
func (c *Client) teardown(int64) {
	c.outbox.failAll(ErrSessionClosed)
	c.settle()
}

// SendMessage emits a message and waits for the server's result. A rejected
// send returns a *protocol.Error with code MESSAGE_SEND_FAILED.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, typ protocol.MessageType, content string) (*protocol.MessageResultPayload, error) {
	if conversationID <= 0 {
		return nil, fmt.Errorf("chat: conversation id required")
	}
	if typ == "" {
		typ = protocol.MessageText
	}
	tempID := uuid.NewString()
	wait := c.outbox.add(tempID)

	err := c.sess.Emit(ctx, protocol.EventSendMessage, protocol.SendMessagePayload{
		ConversationID: conversationID,
		Type:           typ,
		Content:        content,
		TempMessageID:  tempID,
	})
	if err != nil {
		c.outbox.remove(tempID)
		return nil, err
	}

	select {
	case r := <-wait:
		if r.err != nil {
			return nil, r.err
		}
		return &r.res, nil
	case <-ctx.Done():
		c.outbox.remove(tempID)
		return nil, ctx.Err()
	}
}

// Pending returns the number of sends awaiting a result.
func (c *Client) Pending() int {
	return c.outbox.len()
}

// LoadConversations requests a page of conversations. An empty cursor asks for
// the first page, which replaces the store's list.
func (c *Client) LoadConversations(ctx context.Context, cursor string) error {
	return c.sess.Emit(ctx, protocol.EventGetConversations, protocol.GetConversationsPayload{
		Limit:  c.opts.PageSize,
		Cursor: cursor,
	})
}

// LoadMessages requests a page of a conversation's messages.
func (c *Client) LoadMessages(ctx context.Context, conversationID int64, cursor string) error {
	return c.sess.Emit(ctx, protocol.EventGetMessages, protocol.GetMessagesPayload{
		ConversationID: conversationID,
		Limit:          c.opts.PageSize,
		Cursor:         cursor,
	})
}

// MarkAsRead asks the server to mark a conversation read. The store changes
// when the server answers with messagesMarkedRead.
func (c *Client) MarkAsRead(ctx context.Context, conversationID int64) error {
	return c.sess.Emit(ctx, protocol.EventMarkAsRead, protocol.MarkAsReadPayload{ConversationID: conversationID})
}

// Open makes conversationID the one on screen and marks it read.
// Passing 0 closes the view.
func (c *Client) Open(ctx context.Context, conversationID int64) error {
	c.store.SetOpen(conversationID)
	if conversationID == 0 {
		return nil
	}
	return c.MarkAsRead(ctx, conversationID)
}

// Hydrate loads the bound project's first conversation page over REST and
// applies it through the store's handlers. Call it after Connect.
func (c *Client) Hydrate(ctx context.Context) error {
	if c.opts.Hydrator == nil {
		return ErrNoHydrator
	}
	project, d := c.target()
	if project == 0 {
		return ErrNoProject
	}
	page, err := c.opts.Hydrator.ListConversations(ctx, project, c.opts.PageSize, "")
	if err != nil {
		return fmt.Errorf("hydrate conversations: %w", err)
	}
	return feed(d, protocol.EventConversationsList, page)
}

// HydrateMessages loads the latest messages of one conversation over REST.
func (c *Client) HydrateMessages(ctx context.Context, conversationID int64) error {
	if c.opts.Hydrator == nil {
		return ErrNoHydrator
	}
	project, d := c.target()
	if project == 0 {
		return ErrNoProject
	}
	page, err := c.opts.Hydrator.ListMessages(ctx, project, conversationID, c.opts.PageSize, "")
	if err != nil {
		return fmt.Errorf("hydrate messages: %w", err)
	}
	return feed(d, protocol.EventMessagesList, page)
}

// target returns the bound project and the dispatcher feeding its store.
// If the project changes while a request is out, the store resets and that
// dispatcher's late result is dropped.
func (c *Client) target() (int64, *dispatch.Dispatcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.project, c.offline
}

func feed(d *dispatch.Dispatcher, event string, payload any) error {
	f, err := protocol.NewFrame(event, payload)
	if err != nil {
		return err
	}
	d.Dispatch(f)
	return nil
}
