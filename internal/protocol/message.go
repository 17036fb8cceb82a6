package protocol

import (
	"fmt"
	"time"
)

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageAudio    MessageType = "audio"
	MessageFile     MessageType = "file"
	MessageSticker  MessageType = "sticker"
	MessageLocation MessageType = "location"
	MessageSystem   MessageType = "system"
)

type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

type DeliveryStatus string

const (
	StatusDone        DeliveryStatus = "done"
	StatusFailed      DeliveryStatus = "failed"
	StatusUnsupported DeliveryStatus = "unsupported"
)

// ChatMessage is a single message in a conversation. Exactly one payload group
// is populated, chosen by Type.
type ChatMessage struct {
	ID             int64          `json:"id"`
	ConversationID int64          `json:"conversationId"`
	Type           MessageType    `json:"type"`
	Direction      Direction      `json:"direction"`
	Status         DeliveryStatus `json:"status"`
	Content        string         `json:"content,omitempty"`
	File           *FileMeta      `json:"file,omitempty"`
	Sticker        *StickerMeta   `json:"sticker,omitempty"`
	Location       *LocationMeta  `json:"location,omitempty"`
	SentAt         time.Time      `json:"sentAt"`
	CreatedAt      time.Time      `json:"createdAt"`
}

type FileMeta struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type StickerMeta struct {
	PackageID string `json:"packageId"`
	StickerID string `json:"stickerId"`
	URL       string `json:"url,omitempty"`
}

type LocationMeta struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Before reports whether m sorts before o in the (sentAt, id) order.
func (m ChatMessage) Before(o ChatMessage) bool {
	if !m.SentAt.Equal(o.SentAt) {
		return m.SentAt.Before(o.SentAt)
	}
	return m.ID < o.ID
}

// Validate checks identity fields and that payload groups match Type.
func (m ChatMessage) Validate() error {
	if m.ID == 0 {
		return fmt.Errorf("message: id required")
	}
	if m.ConversationID == 0 {
		return fmt.Errorf("message %d: conversationId required", m.ID)
	}
	if m.Direction != Incoming && m.Direction != Outgoing {
		return fmt.Errorf("message %d: bad direction %q", m.ID, m.Direction)
	}

	set := 0
	if m.File != nil {
		set++
	}
	if m.Sticker != nil {
		set++
	}
	if m.Location != nil {
		set++
	}
	if set > 1 {
		return fmt.Errorf("message %d: more than one payload group", m.ID)
	}

	switch m.Type {
	case MessageText, MessageSystem:
		if set != 0 {
			return fmt.Errorf("message %d: %s carries attachment", m.ID, m.Type)
		}
	case MessageImage, MessageVideo, MessageAudio, MessageFile:
		if m.Sticker != nil || m.Location != nil {
			return fmt.Errorf("message %d: %s carries non-file payload", m.ID, m.Type)
		}
	case MessageSticker:
		if m.File != nil || m.Location != nil {
			return fmt.Errorf("message %d: sticker carries non-sticker payload", m.ID)
		}
	case MessageLocation:
		if m.File != nil || m.Sticker != nil {
			return fmt.Errorf("message %d: location carries non-location payload", m.ID)
		}
	default:
		return fmt.Errorf("message %d: unknown type %q", m.ID, m.Type)
	}
	return nil
}
