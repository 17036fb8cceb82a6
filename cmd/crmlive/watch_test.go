package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ehrlich-b/crmlive/internal/credentials"
	"github.com/ehrlich-b/crmlive/internal/protocol"
	"github.com/ehrlich-b/crmlive/internal/session"
	"github.com/ehrlich-b/crmlive/internal/ws"
)

// stubConn answers the auth handshake with ready and then stays quiet.
type stubConn struct {
	in     chan protocol.Frame
	closed chan struct{}
	once   sync.Once
}

func (c *stubConn) ReadFrame(ctx context.Context) (protocol.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return protocol.Frame{}, io.EOF
	case <-ctx.Done():
		return protocol.Frame{}, ctx.Err()
	}
}

func (c *stubConn) WriteFrame(ctx context.Context, f protocol.Frame) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
		return nil
	}
}

func (c *stubConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type stubDialer struct {
	mu       sync.Mutex
	projects map[string][]int64 // url -> project of each dial
}

func (d *stubDialer) Dial(ctx context.Context, url string, auth protocol.AuthPayload) (ws.Conn, error) {
	d.mu.Lock()
	if d.projects == nil {
		d.projects = make(map[string][]int64)
	}
	d.projects[url] = append(d.projects[url], auth.ProjectID)
	d.mu.Unlock()
	c := &stubConn{in: make(chan protocol.Frame, 1), closed: make(chan struct{})}
	c.in <- protocol.Frame{Event: protocol.EventReady}
	return c, nil
}

// conversationAPI serves one conversation per project, id 100+project, and
// records the project header of every request.
type conversationAPI struct {
	mu       sync.Mutex
	projects []string
}

func (a *conversationAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	project := r.Header.Get("X-Project-Id")
	a.mu.Lock()
	a.projects = append(a.projects, project)
	a.mu.Unlock()
	if r.URL.Path != "/chat/conversations" {
		http.NotFound(w, r)
		return
	}
	id, _ := strconv.ParseInt(project, 10, 64)
	now := time.Now()
	json.NewEncoder(w).Encode(protocol.ConversationsListPayload{
		Conversations: []protocol.Conversation{{ID: 100 + id, LastActivityAt: now.Add(-time.Minute)}},
		Timestamp:     now,
	})
}

func (a *conversationAPI) seen() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.projects...)
}

func newTestWatcher(t *testing.T, loggedIn int64) (*watcher, *conversationAPI, *stubDialer) {
	t.Helper()
	api := &conversationAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfg := testConfig(t)
	cfg.ChatURL = "ws://chat.test"
	cfg.NotificationURL = "ws://notifications.test"
	cfg.APIURL = srv.URL
	cfg.Notify.Sink = "none"
	cfg.Reconnect.BaseDelay = time.Millisecond
	cfg.Reconnect.MaxDelay = time.Millisecond

	j, err := openJournal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	d := &stubDialer{}
	w := newWatcher(ctx, cfg, credentials.NewStatic("tok", loggedIn), j, d)
	t.Cleanup(func() {
		w.close()
		cancel()
	})
	return w, api, d
}

func conversationIDs(w *watcher) []int64 {
	var ids []int64
	for _, c := range w.chat.Store().Conversations() {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestWatchHydratesBoundProject(t *testing.T) {
	w, api, d := newTestWatcher(t, 3)

	if err := w.connect(7); err != nil {
		t.Fatal(err)
	}
	if ids := conversationIDs(w); len(ids) != 1 || ids[0] != 107 {
		t.Fatalf("conversations = %v, want [107]", ids)
	}
	if seen := api.seen(); len(seen) != 1 || seen[0] != "7" {
		t.Errorf("REST project headers = %v, want [7]", seen)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.chat.WaitReady(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.notif.WaitReady(ctx); err != nil {
		t.Fatal(err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for url, projects := range d.projects {
		for _, p := range projects {
			if p != 7 {
				t.Errorf("%s dialed project %d, want 7", url, p)
			}
		}
	}
}

func TestWatchFollowsProjectSwitch(t *testing.T) {
	w, api, _ := newTestWatcher(t, 3)
	if err := w.connect(3); err != nil {
		t.Fatal(err)
	}
	if ids := conversationIDs(w); len(ids) != 1 || ids[0] != 103 {
		t.Fatalf("conversations = %v, want [103]", ids)
	}

	w.credentialsChanged(credentials.Credentials{Token: "tok", ProjectID: 8})

	if ids := conversationIDs(w); len(ids) != 1 || ids[0] != 108 {
		t.Fatalf("after switch conversations = %v, want [108]", ids)
	}
	if got := w.chat.Session().ProjectID(); got != 8 {
		t.Errorf("chat project = %d", got)
	}
	if got := w.notif.ProjectID(); got != 8 {
		t.Errorf("notification project = %d", got)
	}
	if seen := api.seen(); len(seen) != 2 || seen[1] != "8" {
		t.Errorf("REST project headers = %v, want [3 8]", seen)
	}
}

func TestWatchTokenRefreshKeepsProject(t *testing.T) {
	w, api, _ := newTestWatcher(t, 3)
	if err := w.connect(3); err != nil {
		t.Fatal(err)
	}
	w.credentialsChanged(credentials.Credentials{Token: "tok2", ProjectID: 3})
	w.credentialsChanged(credentials.Credentials{Token: "tok3"})

	if got := w.chat.Session().ProjectID(); got != 3 {
		t.Errorf("chat project = %d", got)
	}
	if seen := api.seen(); len(seen) != 1 {
		t.Errorf("token refresh hydrated again: %v", seen)
	}
}

func TestWatchLogoutDisconnects(t *testing.T) {
	w, _, _ := newTestWatcher(t, 3)
	if err := w.connect(3); err != nil {
		t.Fatal(err)
	}
	w.credentialsChanged(credentials.Credentials{})

	if st := w.chat.Session().State(); st != session.Disconnected {
		t.Errorf("chat state = %s", st)
	}
	if st := w.notif.State(); st != session.Disconnected {
		t.Errorf("notification state = %s", st)
	}
}

func TestWatchJournalsTransitions(t *testing.T) {
	w, _, _ := newTestWatcher(t, 3)
	if err := w.connect(3); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.chat.WaitReady(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		ts, err := w.journal.ListTransitions(string(session.ChannelChat), 10)
		if err != nil {
			t.Fatal(err)
		}
		if n := len(ts); n > 0 && ts[n-1].State == string(session.Connected) {
			if ts[n-1].ProjectID != 3 {
				t.Errorf("transition project = %d", ts[n-1].ProjectID)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("journal transitions = %+v", ts)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
