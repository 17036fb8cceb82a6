package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/crmlive/internal/config"
	"github.com/ehrlich-b/crmlive/internal/notify"
	"github.com/ehrlich-b/crmlive/internal/protocol"
)

func notifyTestCmd(get func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "notify-test",
		Short: "Send a test notification through the configured sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := get()
			s := sink(cfg)
			b := notify.NewBridge(notify.Options{Sink: s, DismissAfter: cfg.Notify.DismissAfter})
			defer b.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			perm, err := b.RequestPermission(ctx)
			if err != nil {
				return err
			}
			if perm != notify.PermissionGranted {
				return fmt.Errorf("notification permission is %s (sink %q)", perm, cfg.Notify.Sink)
			}

			b.Deliver(protocol.NotificationEvent{
				ID:        time.Now().Unix(),
				Type:      protocol.NotificationNotice,
				Title:     "crmlive test",
				Content:   "Notifications are working!",
				CreatedAt: time.Now(),
			})
			if b.Visible() == 0 {
				return fmt.Errorf("sink %q did not show the notification", cfg.Notify.Sink)
			}
			fmt.Println("sent")
			return nil
		},
	}
}
