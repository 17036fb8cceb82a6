package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/crmlive/internal/config"
)

func journalCmd(get func() *config.Config) *cobra.Command {
	var channel string
	var limit int
	var notifications bool

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recorded session transitions and surfaced notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal(get())
			if err != nil {
				return err
			}
			defer j.Close()

			if notifications {
				items, err := j.ListNotifications(limit)
				if err != nil {
					return err
				}
				for _, n := range items {
					fmt.Printf("%s  %d  [%s] %s\n", n.SurfacedAt.Local().Format("2006-01-02 15:04:05"), n.ID, n.Type, n.Title)
				}
				return nil
			}

			items, err := j.ListTransitions(channel, limit)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("no transitions recorded")
				return nil
			}
			for _, t := range items {
				line := fmt.Sprintf("%s  %-12s project=%d  %-12s", t.At.Local().Format("2006-01-02 15:04:05"), t.Channel, t.ProjectID, t.State)
				if t.Detail != nil {
					line += "  " + *t.Detail
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "only this channel (chat or notification)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries")
	cmd.Flags().BoolVar(&notifications, "notifications", false, "list surfaced notifications instead")
	return cmd
}
