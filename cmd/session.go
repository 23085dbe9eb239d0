package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eventflow/faasctl/console"
	"github.com/eventflow/faasctl/session"
)

const (
	userIDFlag   = "user-id"
	usernameFlag = "username"
	emailFlag    = "email"
)

func newLoginCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and persist the session",
		Long: `Log in as the given user. The previous session and everything shown for it are
discarded first, even if the new login fails.`,
		Args: cobra.NoArgs,
	}

	flags := cmd.Flags()
	flags.String(userIDFlag, session.DefaultIdentity.UserID, "user to log in as")
	flags.String(usernameFlag, session.DefaultIdentity.Username, "display name of the user")
	flags.String(emailFlag, session.DefaultIdentity.Email, "email of the user")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		id := session.Identity{}
		id.UserID, _ = flags.GetString(userIDFlag)
		id.Username, _ = flags.GetString(usernameFlag)
		id.Email, _ = flags.GetString(emailFlag)

		return a.withConsole(func(c *console.Console) error {
			sess, err := c.Login(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (namespace %s).\n", sess.Username, sess.Namespace)
			return nil
		})
	}
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withConsole(func(c *console.Console) error {
				if err := c.Logout(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
				return nil
			})
		},
	}
}

func newWhoamiCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withConsole(func(c *console.Console) error {
				sess, err := c.Whoami()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "User:      %s (%s)\n", sess.Username, sess.UserID)
				if sess.Email != "" {
					fmt.Fprintf(out, "Email:     %s\n", sess.Email)
				}
				fmt.Fprintf(out, "Namespace: %s\n", sess.Namespace)
				if expires, ok := sess.ExpiresAt(); ok {
					fmt.Fprintf(out, "Expires:   %s\n", expires.Local().Format("2006-01-02 15:04:05"))
				}
				return nil
			})
		},
	}
}
