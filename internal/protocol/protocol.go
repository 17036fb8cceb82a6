package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Server → client events.
const (
	EventReady              = "ready"
	EventNewMessage         = "newMessage"
	EventConversationsList  = "conversationsList"
	EventMessagesList       = "messagesList"
	EventMessageResult      = "messageResult"
	EventMessagesMarkedRead = "messagesMarkedRead"
	EventNewNotification    = "newNotification"
	EventError              = "error"
)

// Client → server events.
const (
	EventAuth                 = "auth"
	EventGetConversations     = "getConversations"
	EventGetMessages          = "getMessages"
	EventSendMessage          = "sendMessage"
	EventMarkAsRead           = "markAsRead"
	EventMarkNotificationRead = "markNotificationRead"
)

var serverEvents = map[string]bool{
	EventReady:              true,
	EventNewMessage:         true,
	EventConversationsList:  true,
	EventMessagesList:       true,
	EventMessageResult:      true,
	EventMessagesMarkedRead: true,
	EventNewNotification:    true,
	EventError:              true,
}

// Known reports whether name is a server → client event this client understands.
func Known(name string) bool {
	return serverEvents[name]
}

// Frame wraps every socket message with an event name for routing.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals data into a frame for event.
func NewFrame(event string, data any) (Frame, error) {
	f := Frame{Event: event}
	if data == nil {
		return f, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s: %w", event, err)
	}
	f.Data = raw
	return f, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s: empty payload", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", f.Event, err)
	}
	return nil
}

// AuthPayload is the handshake sent as the first frame on every connection.
type AuthPayload struct {
	Token     string `json:"token"`
	ProjectID int64  `json:"projectId"`
}

type Platform string

const (
	PlatformKakao     Platform = "kakao"
	PlatformLine      Platform = "line"
	PlatformTelegram  Platform = "telegram"
	PlatformInstagram Platform = "instagram"
)

type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationClosed ConversationStatus = "closed"
)

// Conversation is one external contact thread.
type Conversation struct {
	ID                   int64              `json:"id"`
	MemberID             int64              `json:"memberId"`
	CustomerID           *int64             `json:"customerId,omitempty"`
	Platform             Platform           `json:"platform"`
	PlatformConversation string             `json:"platformConversationId"`
	DisplayName          string             `json:"displayName"`
	AvatarURL            string             `json:"avatarUrl,omitempty"`
	Status               ConversationStatus `json:"status"`
	LastReadMessageID    int64              `json:"lastReadMessageId"`
	LastActivityAt       time.Time          `json:"lastActivityAt"`
	LastMessage          *ChatMessage       `json:"lastMessage,omitempty"`
	UnreadCount          int                `json:"unreadCount"`
}

// NewMessagePayload is pushed for every message in or out of a conversation.
type NewMessagePayload struct {
	Conversation      *Conversation `json:"conversation,omitempty"`
	Message           ChatMessage   `json:"message"`
	IsNewConversation bool          `json:"isNewConversation"`
	Timestamp         time.Time     `json:"timestamp"`
}

// ConversationsListPayload answers getConversations.
type ConversationsListPayload struct {
	Conversations []Conversation `json:"conversations"`
	Limit         int            `json:"limit"`
	Cursor        *string        `json:"cursor,omitempty"`
	NextCursor    *string        `json:"nextCursor,omitempty"`
	HasMore       bool           `json:"hasMore"`
	Timestamp     time.Time      `json:"timestamp"`
}

// MessagesListPayload answers getMessages.
type MessagesListPayload struct {
	ConversationID int64         `json:"conversationId"`
	Messages       []ChatMessage `json:"messages"`
	Limit          int           `json:"limit"`
	Cursor         *string       `json:"cursor,omitempty"`
	NextCursor     *string       `json:"nextCursor,omitempty"`
	HasMore        bool          `json:"hasMore"`
	Timestamp      time.Time     `json:"timestamp"`
}

// MessageResultPayload answers sendMessage. TempMessageID correlates with the request.
type MessageResultPayload struct {
	Success        bool      `json:"success"`
	MessageID      *int64    `json:"messageId,omitempty"`
	TempMessageID  string    `json:"tempMessageId,omitempty"`
	ConversationID int64     `json:"conversationId"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type MessagesMarkedReadPayload struct {
	ConversationID int64     `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}

type NotificationType string

const (
	NotificationNotice             NotificationType = "notice"
	NotificationCustomerAssignment NotificationType = "customer_assignment"
)

// NotificationEvent is a server-side notification record.
type NotificationEvent struct {
	ID        int64            `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Content   string           `json:"content"`
	IsRead    bool             `json:"isRead"`
	CreatedAt time.Time        `json:"createdAt"`
}

type NewNotificationPayload struct {
	Notification NotificationEvent `json:"notification"`
}

// ErrorPayload is the body of an error frame.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Client → server payloads.

type GetConversationsPayload struct {
	Limit  int    `json:"limit"`
	Cursor string `json:"cursor,omitempty"`
}

type GetMessagesPayload struct {
	ConversationID int64  `json:"conversationId"`
	Limit          int    `json:"limit"`
	Cursor         string `json:"cursor,omitempty"`
}

type SendMessagePayload struct {
	ConversationID int64       `json:"conversationId"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content,omitempty"`
	TempMessageID  string      `json:"tempMessageId"`
}

type MarkAsReadPayload struct {
	ConversationID int64 `json:"conversationId"`
}

type MarkNotificationReadPayload struct {
	ID int64 `json:"id"`
}
