package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"gwi.com/coach-client/internal/core"
)

// readPassword takes the flag value, or one line from in when it is empty.
func readPassword(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fmt.Fprint(cmd.OutOrStdout(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	return password, nil
}

func (c *cli) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			if err := c.app.session.Login(cmd.Context(), email, pw); err != nil {
				return errors.New(c.app.session.Snapshot().LastError)
			}
			printSession(cmd.OutOrStdout(), c.app.session.Snapshot())
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) registerCmd() *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			if err := c.app.session.Register(cmd.Context(), email, pw, name); err != nil {
				return errors.New(c.app.session.Snapshot().LastError)
			}
			printSession(cmd.OutOrStdout(), c.app.session.Snapshot())
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted when omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Full name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.app.session.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("Logged out."))
			return nil
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account, restoring the session if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.app.session.InitializeSession(cmd.Context())
			snap := c.app.session.Snapshot()
			if !snap.IsAuthenticated {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("Not logged in."))
				return nil
			}
			printSession(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func printSession(w io.Writer, snap core.Session) {
	if snap.User == nil {
		return
	}
	name := snap.User.FullName
	if name == "" {
		name = snap.User.Email
	}
	fmt.Fprintf(w, "Logged in as %s %s\n", titleStyle.Render(name), idStyle.Render("<"+snap.User.Email+">"))

	switch {
	case snap.OnboardingStatusError != "":
		fmt.Fprintln(w, errorStyle.Render("Onboarding status unavailable: "+snap.OnboardingStatusError))
	case snap.OnboardingStatus != "":
		fmt.Fprintf(w, "Onboarding: %s\n", mutedStyle.Render(string(snap.OnboardingStatus)))
	}
}
