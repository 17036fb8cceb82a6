// Package conversation keeps the local projection of conversations and their
// messages. It is mutated only by dispatcher callbacks installed with Bind.
package conversation

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/ehrlich-b/crmlive/internal/dispatch"
	"github.com/ehrlich-b/crmlive/internal/protocol"
)

// ChangeKind says what part of the projection moved.
type ChangeKind string

const (
	ChangeList     ChangeKind = "list"
	ChangeMessages ChangeKind = "messages"
	ChangeRead     ChangeKind = "read"
)

// Change is reported after every applied event.
type Change struct {
	Kind           ChangeKind
	ConversationID int64 // 0 for list-wide changes
}

// Page is the paging cursor the server last returned.
type Page struct {
	NextCursor string
	HasMore    bool
}

type entry struct {
	conv     protocol.Conversation
	messages []protocol.ChatMessage // ordered by (sentAt, id)
	ids      map[int64]struct{}
	page     Page
}

// Store is the single owner of conversation state for a session.
type Store struct {
	// OnChange, if set, is called after each applied event, outside the lock.
	OnChange func(Change)

	mu       sync.RWMutex
	epoch    uint64 // bumped by Reset; handlers bound earlier go quiet
	convs    map[int64]*entry
	openID   int64
	listPage Page
}

func New() *Store {
	return &Store{convs: make(map[int64]*entry)}
}

// Bind installs the store's handlers on d. Handlers bound before a Reset
// drop whatever they receive afterwards, including frames already in flight;
// bind again to feed the reset store.
func (s *Store) Bind(d *dispatch.Dispatcher) {
	s.mu.RLock()
	epoch := s.epoch
	s.mu.RUnlock()
	dispatch.On(d, protocol.EventConversationsList, func(p protocol.ConversationsListPayload) {
		s.applyConversations(epoch, p)
	})
	dispatch.On(d, protocol.EventMessagesList, func(p protocol.MessagesListPayload) {
		s.applyMessages(epoch, p)
	})
	dispatch.On(d, protocol.EventNewMessage, func(p protocol.NewMessagePayload) {
		s.applyNewMessage(epoch, p)
	})
	dispatch.On(d, protocol.EventMessagesMarkedRead, func(p protocol.MessagesMarkedReadPayload) {
		s.applyMarkedRead(epoch, p)
	})
}

// lockEpoch takes the write lock and reports whether epoch is still current.
// On false the lock is not held.
func (s *Store) lockEpoch(epoch uint64) bool {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	return true
}

// SetOpen records which conversation the user is looking at (0 for none).
// Incoming messages for the open conversation do not count as unread.
func (s *Store) SetOpen(id int64) {
	s.mu.Lock()
	s.openID = id
	s.mu.Unlock()
}

func (s *Store) Open() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openID
}

// Reset forgets everything. Used when the bound project changes.
func (s *Store) Reset() {
	s.mu.Lock()
	s.epoch++
	s.convs = make(map[int64]*entry)
	s.openID = 0
	s.listPage = Page{}
	s.mu.Unlock()
	s.changed(Change{Kind: ChangeList})
}

// Conversations returns a copy of all conversations, most recent activity first.
func (s *Store) Conversations() []protocol.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.Conversation, 0, len(s.convs))
	for _, e := range s.convs {
		out = append(out, copyConversation(e.conv))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		return a.ID > b.ID
	})
	return out
}

func (s *Store) Conversation(id int64) (protocol.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.convs[id]
	if !ok {
		return protocol.Conversation{}, false
	}
	return copyConversation(e.conv), true
}

// Messages returns a copy of the cached messages of a conversation in (sentAt, id) order.
func (s *Store) Messages(id int64) []protocol.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.convs[id]
	if !ok {
		return nil
	}
	out := make([]protocol.ChatMessage, len(e.messages))
	copy(out, e.messages)
	return out
}

// MessagePage returns the cursor for the next page of a conversation's messages.
func (s *Store) MessagePage(id int64) Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.convs[id]; ok {
		return e.page
	}
	return Page{}
}

// ListPage returns the cursor for the next page of conversations.
func (s *Store) ListPage() Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPage
}

// UnreadTotal sums unread counts across conversations.
func (s *Store) UnreadTotal() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.convs {
		n += e.conv.UnreadCount
	}
	return n
}

func (s *Store) applyConversations(epoch uint64, p protocol.ConversationsListPayload) {
	if !s.lockEpoch(epoch) {
		return
	}
	first := p.Cursor == nil || *p.Cursor == ""
	seen := make(map[int64]bool, len(p.Conversations))
	for _, c := range p.Conversations {
		if c.ID == 0 {
			continue
		}
		seen[c.ID] = true
		e := s.entryLocked(c.ID)
		mergeConversation(&e.conv, c, true)
	}
	if first {
		// conversations touched after the snapshot was taken survive it
		for id, e := range s.convs {
			if seen[id] {
				continue
			}
			if p.Timestamp.IsZero() || !e.conv.LastActivityAt.After(p.Timestamp) {
				delete(s.convs, id)
			}
		}
	}
	s.listPage = page(p.NextCursor, p.HasMore)
	s.mu.Unlock()
	s.changed(Change{Kind: ChangeList})
}

func (s *Store) applyMessages(epoch uint64, p protocol.MessagesListPayload) {
	if p.ConversationID == 0 {
		return
	}
	if !s.lockEpoch(epoch) {
		return
	}
	e := s.entryLocked(p.ConversationID)
	for _, m := range p.Messages {
		if m.ConversationID == 0 {
			m.ConversationID = p.ConversationID
		}
		if m.ConversationID != p.ConversationID {
			continue
		}
		if err := m.Validate(); err != nil {
			slog.Warn("conversation: dropping message", "err", err)
			continue
		}
		insertMessage(e, m)
	}
	e.page = page(p.NextCursor, p.HasMore)
	s.mu.Unlock()
	s.changed(Change{Kind: ChangeMessages, ConversationID: p.ConversationID})
}

func (s *Store) applyNewMessage(epoch uint64, p protocol.NewMessagePayload) {
	m := p.Message
	if err := m.Validate(); err != nil {
		slog.Warn("conversation: dropping message", "err", err)
		return
	}

	if !s.lockEpoch(epoch) {
		return
	}
	e := s.entryLocked(m.ConversationID)
	if p.Conversation != nil && p.Conversation.ID == m.ConversationID {
		mergeConversation(&e.conv, *p.Conversation, false)
	}

	if !insertMessage(e, m) {
		s.mu.Unlock()
		s.changed(Change{Kind: ChangeMessages, ConversationID: m.ConversationID})
		return
	}

	c := &e.conv
	if c.LastMessage == nil || !m.Before(*c.LastMessage) {
		lm := m
		c.LastMessage = &lm
	}
	if m.SentAt.After(c.LastActivityAt) {
		c.LastActivityAt = m.SentAt
	}
	if m.Direction == protocol.Incoming && c.ID != s.openID && m.ID > c.LastReadMessageID {
		c.UnreadCount++
	}
	s.mu.Unlock()
	s.changed(Change{Kind: ChangeMessages, ConversationID: m.ConversationID})
}

func (s *Store) applyMarkedRead(epoch uint64, p protocol.MessagesMarkedReadPayload) {
	if !s.lockEpoch(epoch) {
		return
	}
	e, ok := s.convs[p.ConversationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	c := &e.conv
	latest := c.LastReadMessageID
	if c.LastMessage != nil && c.LastMessage.ID > latest {
		latest = c.LastMessage.ID
	}
	for _, m := range e.messages {
		if m.ID > latest {
			latest = m.ID
		}
	}
	c.LastReadMessageID = latest
	c.UnreadCount = 0
	s.mu.Unlock()
	s.changed(Change{Kind: ChangeRead, ConversationID: p.ConversationID})
}

func (s *Store) entryLocked(id int64) *entry {
	e, ok := s.convs[id]
	if !ok {
		e = &entry{conv: protocol.Conversation{ID: id}, ids: make(map[int64]struct{})}
		s.convs[id] = e
	}
	return e
}

func (s *Store) changed(c Change) {
	if s.OnChange != nil {
		s.OnChange(c)
	}
}

// insertMessage places m in order. A message already present only takes the
// new delivery status. Reports whether m was new.
func insertMessage(e *entry, m protocol.ChatMessage) bool {
	if _, dup := e.ids[m.ID]; dup {
		for i := range e.messages {
			if e.messages[i].ID == m.ID {
				e.messages[i].Status = m.Status
				break
			}
		}
		if lm := e.conv.LastMessage; lm != nil && lm.ID == m.ID {
			lm.Status = m.Status
		}
		return false
	}
	i := sort.Search(len(e.messages), func(i int) bool { return m.Before(e.messages[i]) })
	e.messages = append(e.messages, protocol.ChatMessage{})
	copy(e.messages[i+1:], e.messages[i:])
	e.messages[i] = m
	e.ids[m.ID] = struct{}{}
	return true
}

// mergeConversation folds in into dst. Descriptive fields always follow in;
// activity fields follow whichever side has the later LastActivityAt, so a
// stale snapshot cannot roll back a newer incremental update. When
// takeCounts is false (incremental events) unread accounting stays local.
func mergeConversation(dst *protocol.Conversation, in protocol.Conversation, takeCounts bool) {
	if in.MemberID != 0 {
		dst.MemberID = in.MemberID
	}
	if in.CustomerID != nil || takeCounts {
		dst.CustomerID = in.CustomerID
	}
	if in.Platform != "" {
		dst.Platform = in.Platform
	}
	if in.PlatformConversation != "" {
		dst.PlatformConversation = in.PlatformConversation
	}
	if in.DisplayName != "" {
		dst.DisplayName = in.DisplayName
	}
	if in.AvatarURL != "" {
		dst.AvatarURL = in.AvatarURL
	}
	if in.Status != "" {
		dst.Status = in.Status
	}

	if in.LastActivityAt.Before(dst.LastActivityAt) {
		return
	}
	dst.LastActivityAt = in.LastActivityAt
	if in.LastMessage != nil {
		lm := *in.LastMessage
		dst.LastMessage = &lm
	}
	if in.LastReadMessageID > dst.LastReadMessageID {
		dst.LastReadMessageID = in.LastReadMessageID
	}
	if takeCounts {
		dst.UnreadCount = max(in.UnreadCount, 0)
	}
}

func page(next *string, hasMore bool) Page {
	p := Page{HasMore: hasMore}
	if next != nil {
		p.NextCursor = *next
	}
	return p
}

func copyConversation(c protocol.Conversation) protocol.Conversation {
	if c.LastMessage != nil {
		lm := *c.LastMessage
		c.LastMessage = &lm
	}
	if c.CustomerID != nil {
		id := *c.CustomerID
		c.CustomerID = &id
	}
	return c
}
