// Package notify turns pushed notification events into host notifications.
package notify

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/crmlive/internal/dispatch"
	"github.com/ehrlich-b/crmlive/internal/protocol"
)

const (
	DefaultDismissAfter    = 5 * time.Second
	DefaultPermissionDelay = time.Second
)

// Options configure a Bridge.
type Options struct {
	Sink    NotificationSink
	Signals *Signals // optional

	// Focus brings the application window forward when a notification is clicked.
	Focus func()
	// OnClicked receives the id of a clicked notification.
	OnClicked func(id int64)

	DismissAfter    time.Duration
	PermissionDelay time.Duration

	// OnShown observes every notification handed to the sink.
	OnShown func(ev protocol.NotificationEvent)
}

// Bridge surfaces each notification id at most once per process.
type Bridge struct {
	opts Options

	// AfterFunc schedules f after d. Tests replace it.
	AfterFunc func(d time.Duration, f func()) func() bool

	mu        sync.Mutex
	requested bool
	seen      map[int64]bool
	visible   map[string]Shown
	timers    map[string]func() bool
	pending   func() bool
}

func NewBridge(opts Options) *Bridge {
	if opts.DismissAfter == 0 {
		opts.DismissAfter = DefaultDismissAfter
	}
	if opts.PermissionDelay == 0 {
		opts.PermissionDelay = DefaultPermissionDelay
	}
	b := &Bridge{
		opts:    opts,
		seen:    make(map[int64]bool),
		visible: make(map[string]Shown),
		timers:  make(map[string]func() bool),
		AfterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
	opts.Sink.OnClick(b.clicked)
	return b
}

// Tag is the dedup key for a notification id.
func Tag(id int64) string {
	return "notification-" + strconv.FormatInt(id, 10)
}

// Start schedules the one-time permission request shortly after startup.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	if b.pending != nil || b.requested {
		b.mu.Unlock()
		return
	}
	b.pending = b.AfterFunc(b.opts.PermissionDelay, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := b.RequestPermission(ctx); err != nil {
			slog.Warn("notify: permission request failed", "err", err)
		}
	})
	b.mu.Unlock()
}

// RequestPermission asks the sink for permission the first time it is called and
// never again. Already decided permissions are not re-asked.
func (b *Bridge) RequestPermission(ctx context.Context) (Permission, error) {
	b.mu.Lock()
	if b.requested {
		b.mu.Unlock()
		return b.opts.Sink.Permission(), nil
	}
	b.requested = true
	b.mu.Unlock()

	if p := b.opts.Sink.Permission(); p != PermissionDefault {
		return p, nil
	}
	return b.opts.Sink.RequestPermission(ctx)
}

// Bind installs the newNotification handler on d.
func (b *Bridge) Bind(d *dispatch.Dispatcher) {
	dispatch.On(d, protocol.EventNewNotification, func(p protocol.NewNotificationPayload) {
		b.Deliver(p.Notification)
	})
}

// Deliver handles one pushed notification. Redeliveries of a seen id are ignored.
func (b *Bridge) Deliver(ev protocol.NotificationEvent) {
	if ev.ID == 0 {
		return
	}
	b.mu.Lock()
	if b.seen[ev.ID] {
		b.mu.Unlock()
		return
	}
	b.seen[ev.ID] = true
	b.mu.Unlock()

	if b.opts.Signals != nil {
		b.opts.Signals.Publish(ev)
	}

	if b.opts.Sink.Permission() != PermissionGranted {
		return
	}

	tag := Tag(ev.ID)
	var shown Shown
	var err error
	if es, ok := b.opts.Sink.(EventSink); ok {
		shown, err = es.ShowEvent(tag, ev)
	} else {
		shown, err = b.opts.Sink.Show(tag, ev.Title, ev.Content)
	}
	if err != nil {
		slog.Warn("notify: show failed", "id", ev.ID, "err", err)
		return
	}

	b.mu.Lock()
	if old, ok := b.visible[tag]; ok && old != shown {
		old.Close()
	}
	if stop, ok := b.timers[tag]; ok {
		stop()
	}
	b.visible[tag] = shown
	b.timers[tag] = b.AfterFunc(b.opts.DismissAfter, func() { b.dismiss(tag) })
	b.mu.Unlock()

	if b.opts.OnShown != nil {
		b.opts.OnShown(ev)
	}
}

// Visible returns the number of notifications currently shown by this bridge.
func (b *Bridge) Visible() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.visible)
}

func (b *Bridge) clicked(tag string) {
	if b.opts.Focus != nil {
		b.opts.Focus()
	}
	b.dismiss(tag)
	if b.opts.OnClicked == nil {
		return
	}
	if s, ok := strings.CutPrefix(tag, "notification-"); ok {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			b.opts.OnClicked(id)
		}
	}
}

func (b *Bridge) dismiss(tag string) {
	b.mu.Lock()
	shown := b.visible[tag]
	delete(b.visible, tag)
	if stop, ok := b.timers[tag]; ok {
		stop()
		delete(b.timers, tag)
	}
	b.mu.Unlock()
	if shown != nil {
		shown.Close()
	}
}

// Close dismisses everything and cancels pending timers.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.pending != nil {
		b.pending()
	}
	tags := make([]string, 0, len(b.visible))
	for tag := range b.visible {
		tags = append(tags, tag)
	}
	b.mu.Unlock()
	for _, tag := range tags {
		b.dismiss(tag)
	}
}
