package notify

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ehrlich-b/crmlive/internal/dispatch"
	"github.com/ehrlich-b/crmlive/internal/protocol"
)

type fakeSink struct {
	mu       sync.Mutex
	perm     Permission
	answer   Permission
	requests int
	shows    []string
	closed   []string
	onClick  func(string)
}

func (f *fakeSink) Permission() Permission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perm
}

func (f *fakeSink) RequestPermission(context.Context) (Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	f.perm = f.answer
	return f.perm, nil
}

func (f *fakeSink) Show(tag, title, body string) (Shown, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shows = append(f.shows, tag)
	return &fakeShown{sink: f, tag: tag}, nil
}

func (f *fakeSink) OnClick(fn func(string)) { f.onClick = fn }

type fakeShown struct {
	sink *fakeSink
	tag  string
}

func (s *fakeShown) Close() {
	s.sink.mu.Lock()
	s.sink.closed = append(s.sink.closed, s.tag)
	s.sink.mu.Unlock()
}

// manualTimers records scheduled funcs so tests can fire them.
type manualTimers struct {
	mu    sync.Mutex
	funcs []func()
	delay []time.Duration
}

func (m *manualTimers) after(d time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.funcs)
	m.funcs = append(m.funcs, f)
	m.delay = append(m.delay, d)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		stopped := m.funcs[idx] != nil
		m.funcs[idx] = nil
		return stopped
	}
}

func (m *manualTimers) fire(i int) {
	m.mu.Lock()
	f := m.funcs[i]
	m.funcs[i] = nil
	m.mu.Unlock()
	if f != nil {
		f()
	}
}

func newTestBridge(sink *fakeSink, opts Options) (*Bridge, *manualTimers) {
	opts.Sink = sink
	b := NewBridge(opts)
	timers := &manualTimers{}
	b.AfterFunc = timers.after
	return b, timers
}

func notificationFrame(t *testing.T, ev protocol.NotificationEvent) protocol.Frame {
	t.Helper()
	f, err := protocol.NewFrame(protocol.EventNewNotification, protocol.NewNotificationPayload{Notification: ev})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestPermissionRequestedOnce(t *testing.T) {
	sink := &fakeSink{perm: PermissionDefault, answer: PermissionDenied}
	b, _ := newTestBridge(sink, Options{})

	for i := 0; i < 3; i++ {
		p, err := b.RequestPermission(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if p != PermissionDenied {
			t.Fatalf("got %q", p)
		}
	}
	if sink.requests != 1 {
		t.Fatalf("prompted %d times, want 1", sink.requests)
	}
}

func TestPermissionNotAskedWhenDecided(t *testing.T) {
	sink := &fakeSink{perm: PermissionGranted}
	b, _ := newTestBridge(sink, Options{})
	if _, err := b.RequestPermission(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sink.requests != 0 {
		t.Fatalf("prompted %d times for granted sink", sink.requests)
	}
}

func TestStartDefersPermission(t *testing.T) {
	sink := &fakeSink{perm: PermissionDefault, answer: PermissionGranted}
	b, timers := newTestBridge(sink, Options{PermissionDelay: 2 * time.Second})

	b.Start(context.Background())
	b.Start(context.Background())
	if len(timers.funcs) != 1 {
		t.Fatalf("scheduled %d requests, want 1", len(timers.funcs))
	}
	if timers.delay[0] != 2*time.Second {
		t.Fatalf("delay = %v", timers.delay[0])
	}
	if sink.requests != 0 {
		t.Fatal("prompted before delay elapsed")
	}
	timers.fire(0)
	if sink.requests != 1 || sink.Permission() != PermissionGranted {
		t.Fatalf("requests=%d perm=%q", sink.requests, sink.Permission())
	}
}

func TestRedeliveryShownOnce(t *testing.T) {
	sink := &fakeSink{perm: PermissionGranted}
	b, _ := newTestBridge(sink, Options{})
	d := dispatch.New()
	b.Bind(d)

	ev := protocol.NotificationEvent{ID: 42, Type: protocol.NotificationNotice, Title: "Notice", Content: "maintenance tonight"}
	d.Dispatch(notificationFrame(t, ev))
	d.Dispatch(notificationFrame(t, ev))

	if len(sink.shows) != 1 || sink.shows[0] != "notification-42" {
		t.Fatalf("shows = %v", sink.shows)
	}
}

func TestDeniedShowsNothing(t *testing.T) {
	sink := &fakeSink{perm: PermissionDenied}
	sig := NewSignals()
	ch, unsub := sig.Subscribe(4)
	defer unsub()
	b, _ := newTestBridge(sink, Options{Signals: sig})

	b.Deliver(protocol.NotificationEvent{ID: 1, Title: "x"})
	if len(sink.shows) != 0 {
		t.Fatalf("shows = %v", sink.shows)
	}
	select {
	case ev := <-ch:
		if ev.ID != 1 {
			t.Fatalf("got id %d", ev.ID)
		}
	default:
		t.Fatal("signal not published for denied sink")
	}
}

func TestAutoDismiss(t *testing.T) {
	sink := &fakeSink{perm: PermissionGranted}
	b, timers := newTestBridge(sink, Options{})

	b.Deliver(protocol.NotificationEvent{ID: 7, Title: "x"})
	if b.Visible() != 1 {
		t.Fatalf("visible = %d", b.Visible())
	}
	if timers.delay[0] != DefaultDismissAfter {
		t.Fatalf("dismiss after %v", timers.delay[0])
	}
	timers.fire(0)
	if b.Visible() != 0 {
		t.Fatalf("visible after dismiss = %d", b.Visible())
	}
	if len(sink.closed) != 1 || sink.closed[0] != "notification-7" {
		t.Fatalf("closed = %v", sink.closed)
	}
}

func TestClickFocusesAndDismisses(t *testing.T) {
	sink := &fakeSink{perm: PermissionGranted}
	focused := 0
	var clickedID int64
	b, timers := newTestBridge(sink, Options{
		Focus:     func() { focused++ },
		OnClicked: func(id int64) { clickedID = id },
	})

	b.Deliver(protocol.NotificationEvent{ID: 3, Title: "x"})
	sink.onClick("notification-3")

	if focused != 1 || clickedID != 3 {
		t.Fatalf("focused %d times, clicked id %d", focused, clickedID)
	}
	if b.Visible() != 0 {
		t.Fatal("still visible after click")
	}
	// the dismiss timer was cancelled, firing it is a no-op
	timers.fire(0)
	if len(sink.closed) != 1 {
		t.Fatalf("closed = %v", sink.closed)
	}
}

func TestCloseDismissesAll(t *testing.T) {
	sink := &fakeSink{perm: PermissionGranted}
	b, _ := newTestBridge(sink, Options{})
	b.Deliver(protocol.NotificationEvent{ID: 1})
	b.Deliver(protocol.NotificationEvent{ID: 2})
	b.Close()
	if b.Visible() != 0 || len(sink.closed) != 2 {
		t.Fatalf("visible=%d closed=%v", b.Visible(), sink.closed)
	}
}

func TestOnShown(t *testing.T) {
	sink := &fakeSink{perm: PermissionGranted}
	var got []int64
	b, _ := newTestBridge(sink, Options{OnShown: func(ev protocol.NotificationEvent) { got = append(got, ev.ID) }})
	b.Deliver(protocol.NotificationEvent{ID: 5})
	b.Deliver(protocol.NotificationEvent{ID: 5})
	b.Deliver(protocol.NotificationEvent{ID: 0})
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("got %v", got)
	}
}

func TestSignalsNonBlocking(t *testing.T) {
	sig := NewSignals()
	full, unsubFull := sig.Subscribe(0)
	roomy, unsubRoomy := sig.Subscribe(1)
	defer unsubFull()
	defer unsubRoomy()

	sig.Publish(protocol.NotificationEvent{ID: 1})
	select {
	case <-full:
		t.Fatal("unbuffered subscriber should have missed the event")
	default:
	}
	if ev := <-roomy; ev.ID != 1 {
		t.Fatalf("got %d", ev.ID)
	}
}

func TestSignalsUnsubscribeCloses(t *testing.T) {
	sig := NewSignals()
	ch, unsub := sig.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open")
	}
	sig.Publish(protocol.NotificationEvent{ID: 1})
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(&buf)
	clicked := ""
	s.OnClick(func(tag string) { clicked = tag })

	shown, err := s.Show("notification-1", "Title", "Body")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Show("notification-1", "Title", "Body"); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "[notify notification-1] Title: Body") || !strings.Contains(out, "[replace notification-1]") {
		t.Fatalf("output = %q", out)
	}
	s.Click("notification-1")
	if clicked != "notification-1" {
		t.Fatalf("clicked = %q", clicked)
	}
	shown.Close()
	if s.Visible() != 0 {
		t.Fatalf("visible = %d", s.Visible())
	}
	clicked = ""
	s.Click("notification-1")
	if clicked != "" {
		t.Fatal("click fired for closed notification")
	}
}

func TestOffSinkStillSignals(t *testing.T) {
	sig := NewSignals()
	ch, unsub := sig.Subscribe(1)
	defer unsub()
	b := NewBridge(Options{Sink: Off(), Signals: sig})
	b.Deliver(protocol.NotificationEvent{ID: 8})
	if b.Visible() != 0 {
		t.Fatal("off sink showed a notification")
	}
	if ev := <-ch; ev.ID != 8 {
		t.Fatalf("got %d", ev.ID)
	}
}
