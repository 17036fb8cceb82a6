package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ehrlich-b/crmlive/internal/protocol"
)

// Permission mirrors the OS notification permission states.
type Permission string

const (
	PermissionDefault Permission = "default" // not asked yet
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// NotificationSink is the host's notification center.
//
// Show with a tag that is already visible replaces that notification rather
// than adding a second one.
type NotificationSink interface {
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	Show(tag, title, body string) (Shown, error)
	OnClick(fn func(tag string))
}

// EventSink is implemented by sinks that want the whole event, for example to
// choose a priority by notification type.
type EventSink interface {
	ShowEvent(tag string, ev protocol.NotificationEvent) (Shown, error)
}

// Shown is a visible notification.
type Shown interface {
	Close()
}

// LogSink prints notifications to a writer. It is always granted.
type LogSink struct {
	W io.Writer

	mu      sync.Mutex
	visible map[string]bool
	onClick func(tag string)
}

func NewLogSink(w io.Writer) *LogSink {
	return &LogSink{W: w, visible: make(map[string]bool)}
}

func (s *LogSink) Permission() Permission { return PermissionGranted }

func (s *LogSink) RequestPermission(context.Context) (Permission, error) {
	return PermissionGranted, nil
}

func (s *LogSink) Show(tag, title, body string) (Shown, error) {
	s.mu.Lock()
	replaced := s.visible[tag]
	s.visible[tag] = true
	s.mu.Unlock()

	verb := "notify"
	if replaced {
		verb = "replace"
	}
	if _, err := fmt.Fprintf(s.W, "[%s %s] %s: %s\n", verb, tag, title, body); err != nil {
		return nil, err
	}
	return &logShown{sink: s, tag: tag}, nil
}

func (s *LogSink) OnClick(fn func(tag string)) {
	s.mu.Lock()
	s.onClick = fn
	s.mu.Unlock()
}

// Click simulates the user clicking the notification with tag.
func (s *LogSink) Click(tag string) {
	s.mu.Lock()
	fn := s.onClick
	ok := s.visible[tag]
	s.mu.Unlock()
	if ok && fn != nil {
		fn(tag)
	}
}

// Visible returns how many notifications are on screen.
func (s *LogSink) Visible() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visible)
}

type logShown struct {
	sink *LogSink
	tag  string
}

func (l *logShown) Close() {
	l.sink.mu.Lock()
	delete(l.sink.visible, l.tag)
	l.sink.mu.Unlock()
}

// Off is a sink with permission denied. Notifications still reach Signals.
func Off() NotificationSink { return offSink{} }

type offSink struct{}

func (offSink) Permission() Permission { return PermissionDenied }

func (offSink) RequestPermission(context.Context) (Permission, error) {
	return PermissionDenied, nil
}

func (offSink) Show(tag, title, body string) (Shown, error) {
	return nil, fmt.Errorf("notify: notifications are off")
}

func (offSink) OnClick(func(string)) {}
