package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/crmlive/internal/chat"
	"github.com/ehrlich-b/crmlive/internal/config"
	"github.com/ehrlich-b/crmlive/internal/conversation"
	"github.com/ehrlich-b/crmlive/internal/credentials"
	"github.com/ehrlich-b/crmlive/internal/dispatch"
	"github.com/ehrlich-b/crmlive/internal/journal"
	"github.com/ehrlich-b/crmlive/internal/notify"
	"github.com/ehrlich-b/crmlive/internal/protocol"
	"github.com/ehrlich-b/crmlive/internal/session"
	"github.com/ehrlich-b/crmlive/internal/ws"
)

func watchCmd(get func() *config.Config) *cobra.Command {
	var projectFlag int64

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and report chat and notification activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := get()
			if err := cfg.RequireRealtime(); err != nil {
				return err
			}
			p, fp, err := provider(cfg)
			if err != nil {
				return err
			}
			project := projectFlag
			if project == 0 {
				if project, err = projectFor(cfg, p); err != nil {
					return err
				}
			}

			j, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer j.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			w := newWatcher(ctx, cfg, p, j, nil)
			defer w.close()

			if err := w.connect(project); err != nil {
				return err
			}
			fmt.Printf("watching project %d (chat %s, notifications %s)\n", project, cfg.ChatURL, cfg.NotificationURL)

			if fp != nil && projectFlag == 0 {
				go func() {
					err := fp.Watch(ctx, w.credentialsChanged)
					if err != nil && !errors.Is(err, context.Canceled) {
						slog.Warn("watch: token file watcher stopped", "err", err)
					}
				}()
			}

			select {
			case <-ctx.Done():
				return nil
			case err := <-w.fatal:
				return fmt.Errorf("session ended: %w — run: crmlive login", err)
			}
		},
	}
	cmd.Flags().Int64Var(&projectFlag, "project", 0, "project to watch (default: the logged-in project)")
	return cmd
}

func openJournal(cfg *config.Config) (*journal.Journal, error) {
	if cfg.DBPath != ":memory:" {
		if err := config.EnsureConfigDir(cfg.DBPath); err != nil {
			return nil, err
		}
	}
	j, err := journal.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return j, nil
}

// watcher owns both channels for one running `crmlive watch`.
type watcher struct {
	ctx     context.Context
	journal *journal.Journal
	chat    *chat.Client
	notif   *session.Session
	bridge  *notify.Bridge
	signals *notify.Signals
	fatal   chan error

	mu      sync.Mutex
	project int64
	unread  int
}

// newWatcher wires both channels. A nil dialer uses coder/websocket.
func newWatcher(ctx context.Context, cfg *config.Config, p credentials.Provider, j *journal.Journal, dialer ws.Dialer) *watcher {
	w := &watcher{
		ctx:     ctx,
		journal: j,
		signals: notify.NewSignals(),
		fatal:   make(chan error, 2),
	}

	var hydrator chat.Hydrator
	if rc, err := restClient(cfg, p); err == nil {
		hydrator = rc
	}
	w.chat = chat.New(chat.Options{
		URL:         cfg.ChatURL,
		Credentials: p,
		Dialer:      dialer,
		Policy:      policy(cfg),
		Hydrator:    hydrator,
		OnStateChange: func(st session.State, err error) {
			w.record(w.chat.Session(), st, err)
		},
		OnFatal: w.onFatal,
		OnError: func(e *protocol.Error) {
			fmt.Printf("chat error: %s\n", e)
		},
	})
	w.chat.Store().OnChange = w.storeChanged

	w.bridge = notify.NewBridge(notify.Options{
		Sink:            sink(cfg),
		Signals:         w.signals,
		DismissAfter:    cfg.Notify.DismissAfter,
		PermissionDelay: cfg.Notify.PermissionDelay,
		OnShown: func(ev protocol.NotificationEvent) {
			if _, err := j.RecordNotification(ev, time.Now()); err != nil {
				slog.Warn("watch: journal notification", "id", ev.ID, "err", err)
			}
		},
		OnClicked: func(id int64) {
			if err := w.notif.Emit(ctx, protocol.EventMarkNotificationRead, protocol.MarkNotificationReadPayload{ID: id}); err != nil {
				slog.Warn("watch: mark notification read", "id", id, "err", err)
			}
		},
	})

	w.notif = session.New(session.Options{
		Channel:     session.ChannelNotification,
		URL:         cfg.NotificationURL,
		Credentials: p,
		Dialer:      dialer,
		Policy:      policy(cfg),
		Bind: func(d *dispatch.Dispatcher) {
			w.bridge.Bind(d)
			dispatch.On(d, protocol.EventError, func(p protocol.ErrorPayload) {
				if perr := protocol.FromPayload(p); !perr.Fatal() {
					fmt.Printf("notification error: %s\n", perr)
				}
			})
		},
		OnStateChange: func(st session.State, err error) {
			w.record(w.notif, st, err)
		},
		OnFatal: w.onFatal,
	})

	events, _ := w.signals.Subscribe(16)
	go func() {
		for ev := range events {
			fmt.Printf("notification %d [%s] %s\n", ev.ID, ev.Type, ev.Title)
		}
	}()

	w.bridge.Start(ctx)
	return w
}

// connect binds both channels to project. The REST page is fetched after
// chat.Connect so it lands in the store of the project now bound.
func (w *watcher) connect(project int64) error {
	w.mu.Lock()
	moved := w.project != project
	w.mu.Unlock()

	if err := w.chat.Connect(project); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	w.mu.Lock()
	w.project = project
	w.mu.Unlock()
	if moved {
		if err := w.chat.Hydrate(w.ctx); err != nil && !errors.Is(err, chat.ErrNoHydrator) {
			slog.Warn("watch: REST hydration failed", "project", project, "err", err)
		}
	}
	if err := w.notif.Connect(project); err != nil {
		return fmt.Errorf("notifications: %w", err)
	}
	return nil
}

// credentialsChanged follows login, logout and project switches made while
// watch is running.
func (w *watcher) credentialsChanged(c credentials.Credentials) {
	if !c.Usable(time.Now()) {
		fmt.Println("logged out, disconnecting")
		w.chat.Disconnect()
		w.notif.Disconnect()
		return
	}
	w.mu.Lock()
	same := c.ProjectID == 0 || c.ProjectID == w.project
	project := w.project
	w.mu.Unlock()
	if !same {
		project = c.ProjectID
		fmt.Printf("switching to project %d\n", project)
	}
	// Connect reuses live sessions, so a token refresh for the same project is a no-op
	// unless the sessions had stopped.
	if err := w.connect(project); err != nil {
		slog.Warn("watch: reconnect after credentials change", "err", err)
	}
}

func (w *watcher) onFatal(err error) {
	select {
	case w.fatal <- err:
	default:
	}
}

func (w *watcher) record(s *session.Session, st session.State, err error) {
	t := journal.Transition{
		SessionID: s.ID(),
		Channel:   string(s.Channel()),
		ProjectID: s.ProjectID(),
		State:     string(st),
	}
	if err != nil {
		msg := err.Error()
		t.Detail = &msg
	}
	if jerr := w.journal.AppendTransition(t); jerr != nil {
		slog.Warn("watch: journal transition", "err", jerr)
	}
	switch st {
	case session.Connected, session.Degraded:
		fmt.Printf("%s: %s\n", s.Channel(), st)
	}
}

func (w *watcher) storeChanged(c conversation.Change) {
	total := w.chat.Store().UnreadTotal()
	w.mu.Lock()
	changed := total != w.unread
	w.unread = total
	w.mu.Unlock()
	if changed {
		fmt.Printf("unread messages: %d\n", total)
	}
	if c.Kind == conversation.ChangeMessages {
		if conv, ok := w.chat.Store().Conversation(c.ConversationID); ok && conv.LastMessage != nil {
			m := conv.LastMessage
			if m.Direction == protocol.Incoming {
				slog.Debug("watch: message", "conversation", conv.ID, "from", conv.DisplayName, "id", m.ID)
			}
		}
	}
}

func (w *watcher) close() {
	w.chat.Disconnect()
	w.notif.Disconnect()
	w.bridge.Close()
}
