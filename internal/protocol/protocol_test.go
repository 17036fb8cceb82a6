package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewFrameDecode(t *testing.T) {
	f, err := NewFrame(EventMarkAsRead, MarkAsReadPayload{ConversationID: 42})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	if f.Event != EventMarkAsRead {
		t.Errorf("Event = %q, want %q", f.Event, EventMarkAsRead)
	}

	var p MarkAsReadPayload
	if err := f.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.ConversationID != 42 {
		t.Errorf("ConversationID = %d, want 42", p.ConversationID)
	}
}

func TestNewFrameNilData(t *testing.T) {
	f, err := NewFrame(EventReady, nil)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"event":"ready"}` {
		t.Errorf("got %s", data)
	}
	var v struct{}
	if err := f.Decode(&v); err == nil {
		t.Error("expected error decoding empty payload")
	}
}

func TestDecodeServerFrame(t *testing.T) {
	raw := `{"event":"newMessage","data":{"message":{"id":7,"conversationId":3,"type":"text","direction":"incoming","status":"done","content":"hi","sentAt":"2026-02-07T12:00:00Z","createdAt":"2026-02-07T12:00:01Z"},"isNewConversation":false,"timestamp":"2026-02-07T12:00:01Z"}}`
	var f Frame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	var p NewMessagePayload
	if err := f.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Conversation != nil {
		t.Errorf("conversation should be absent")
	}
	if p.Message.ID != 7 || p.Message.Content != "hi" {
		t.Errorf("message = %+v", p.Message)
	}
	want := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)
	if !p.Message.SentAt.Equal(want) {
		t.Errorf("SentAt = %v, want %v", p.Message.SentAt, want)
	}
}

func TestKnown(t *testing.T) {
	for _, ev := range []string{EventReady, EventNewMessage, EventConversationsList, EventMessagesList,
		EventMessageResult, EventMessagesMarkedRead, EventNewNotification, EventError} {
		if !Known(ev) {
			t.Errorf("%s should be known", ev)
		}
	}
	if Known("typing") {
		t.Error("typing should not be known")
	}
	if Known(EventSendMessage) {
		t.Error("client events are not server events")
	}
}

func TestClassify(t *testing.T) {
	cases := map[ErrorCode]Class{
		ErrAuthTokenRequired:      ClassFatal,
		ErrInvalidToken:           ClassFatal,
		ErrProjectIDRequired:      ClassFatal,
		ErrNotProjectMember:       ClassFatal,
		ErrUnauthorizedRoomAccess: ClassFatal,
		ErrProjectNotFound:        ClassScoped,
		ErrConversationNotFound:   ClassScoped,
		ErrValidation:             ClassScoped,
		ErrMessageSendFailed:      ClassSend,
		ErrUnknown:                ClassTransient,
	}
	for code, want := range cases {
		if got := Classify(code); got != want {
			t.Errorf("Classify(%s) = %s, want %s", code, got, want)
		}
	}
	if Classify("SOMETHING_NEW") != ClassTransient {
		t.Error("unrecognised codes should be transient")
	}
}

func TestErrorAs(t *testing.T) {
	var err error = FromPayload(ErrorPayload{Code: ErrInvalidToken, Message: "expired"})
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatal("errors.As failed")
	}
	if !pe.Fatal() {
		t.Error("INVALID_TOKEN should be fatal")
	}
	if err.Error() != "INVALID_TOKEN: expired" {
		t.Errorf("Error() = %q", err.Error())
	}
	if FromPayload(ErrorPayload{}).Code != ErrUnknown {
		t.Error("empty code should map to UNKNOWN_ERROR")
	}
}

func TestMessageBefore(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := ChatMessage{ID: 2, SentAt: t0}
	b := ChatMessage{ID: 1, SentAt: t0.Add(time.Second)}
	c := ChatMessage{ID: 3, SentAt: t0}
	if !a.Before(b) {
		t.Error("earlier sentAt should sort first")
	}
	if !a.Before(c) || c.Before(a) {
		t.Error("equal sentAt should tie-break on id")
	}
}

func TestMessageValidate(t *testing.T) {
	ok := []ChatMessage{
		{ID: 1, ConversationID: 1, Type: MessageText, Direction: Incoming, Content: "x"},
		{ID: 2, ConversationID: 1, Type: MessageImage, Direction: Outgoing, File: &FileMeta{URL: "u"}},
		{ID: 3, ConversationID: 1, Type: MessageSticker, Direction: Incoming, Sticker: &StickerMeta{PackageID: "p", StickerID: "s"}},
		{ID: 4, ConversationID: 1, Type: MessageLocation, Direction: Incoming, Location: &LocationMeta{Latitude: 37.5}},
	}
	for _, m := range ok {
		if err := m.Validate(); err != nil {
			t.Errorf("message %d: %v", m.ID, err)
		}
	}

	bad := []ChatMessage{
		{ConversationID: 1, Type: MessageText, Direction: Incoming},
		{ID: 1, Type: MessageText, Direction: Incoming},
		{ID: 1, ConversationID: 1, Type: MessageText, Direction: "sideways"},
		{ID: 1, ConversationID: 1, Type: MessageText, Direction: Incoming, File: &FileMeta{}},
		{ID: 1, ConversationID: 1, Type: MessageFile, Direction: Incoming, File: &FileMeta{}, Sticker: &StickerMeta{}},
		{ID: 1, ConversationID: 1, Type: MessageSticker, Direction: Incoming, Location: &LocationMeta{}},
		{ID: 1, ConversationID: 1, Type: "hologram", Direction: Incoming},
	}
	for i, m := range bad {
		if err := m.Validate(); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}
