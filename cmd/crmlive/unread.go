package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/crmlive/internal/config"
)

func unreadCmd(get func() *config.Config) *cobra.Command {
	var list bool
	var limit int

	cmd := &cobra.Command{
		Use:   "unread",
		Short: "Show the unread notification count",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := get()
			p, _, err := provider(cfg)
			if err != nil {
				return err
			}
			rc, err := restClient(cfg, p)
			if err != nil {
				return err
			}
			n, err := rc.UnreadCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%d unread\n", n)
			if !list || n == 0 {
				return nil
			}
			items, err := rc.ListNotifications(cmd.Context(), true, limit)
			if err != nil {
				return err
			}
			for _, ev := range items {
				fmt.Printf("  %d  %s  [%s] %s\n", ev.ID, ev.CreatedAt.Local().Format("01-02 15:04"), ev.Type, ev.Title)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list unread notifications")
	cmd.Flags().IntVar(&limit, "limit", 20, "max notifications to list")
	return cmd
}

func readCmd(get func() *config.Config) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "read [notification-id]",
		Short: "Mark a notification (or all of them) as read",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("give a notification id or --all")
			}
			cfg := get()
			p, _, err := provider(cfg)
			if err != nil {
				return err
			}
			rc, err := restClient(cfg, p)
			if err != nil {
				return err
			}
			if all {
				n, err := rc.MarkAllRead(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("marked %d read\n", n)
				return nil
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("bad notification id %q", args[0])
			}
			if err := rc.MarkRead(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("marked %d read\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "mark every notification read")
	return cmd
}
