package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/crmlive/internal/config"
	"github.com/ehrlich-b/crmlive/internal/logger"
)

func main() {
	var configPath string
	var cfg *config.Config

	root := &cobra.Command{
		Use:          "crmlive",
		Short:        "crmlive — realtime chat and notifications for the CRM console",
		Long:         "Keeps the chat and notification sockets of one CRM project open, tracks conversations and unread counts, and surfaces notifications.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}
			c, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := logger.Init(c.Logging.Level, c.Logging.File, os.Stderr); err != nil {
				return err
			}
			cfg = c
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Close()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.crmlive/config.yaml)")

	get := func() *config.Config { return cfg }
	root.AddCommand(
		watchCmd(get),
		loginCmd(get),
		logoutCmd(get),
		unreadCmd(get),
		readCmd(get),
		journalCmd(get),
		notifyTestCmd(get),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
