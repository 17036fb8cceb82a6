package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ehrlich-b/crmlive/internal/config"
	"github.com/ehrlich-b/crmlive/internal/credentials"
)

func loginCmd(get func() *config.Config) *cobra.Command {
	var projectFlag int64
	var tokenFlag string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an access token and select a project",
		Long:  "Saves the CRM access token to the token file. A running `crmlive watch` picks the change up immediately.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := get()
			fp, err := credentials.NewFileProvider(cfg.TokenFile)
			if err != nil {
				return err
			}

			token := tokenFlag
			if token == "" {
				if token, err = readToken(); err != nil {
					return err
				}
			}
			if token == "" {
				return fmt.Errorf("empty token")
			}
			if credentials.TokenExpired(token, time.Now()) {
				return fmt.Errorf("token has already expired")
			}

			project := projectFlag
			if project == 0 {
				if cur, ok := fp.Credentials(); ok {
					project = cur.ProjectID
				}
			}
			if project == 0 {
				project = cfg.ProjectID
			}

			if err := fp.Save(credentials.Credentials{Token: token, ProjectID: project}); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			if project == 0 {
				fmt.Printf("logged in (no project selected; use --project)\n")
			} else {
				fmt.Printf("logged in to project %d\n", project)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&projectFlag, "project", 0, "project id to bind")
	cmd.Flags().StringVar(&tokenFlag, "token", "", "access token (prompted when omitted)")
	return cmd
}

func logoutCmd(get func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := credentials.NewFileProvider(get().TokenFile)
			if err != nil {
				return err
			}
			if err := fp.Delete(); err != nil {
				return err
			}
			fmt.Println("logged out")
			return nil
		},
	}
}

// readToken prompts without echo on a terminal and reads one line otherwise.
func readToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "access token: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}
