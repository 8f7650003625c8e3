package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"gwi.com/coach-client/internal/config"
	"gwi.com/coach-client/internal/core"
	"gwi.com/coach-client/internal/logger"
	"gwi.com/coach-client/internal/store"
	"gwi.com/coach-client/internal/transport"
)

var (
	errNotLoggedIn = errors.New("not logged in, run `coach login` first")
	errNoSelection = errors.New("no conversation selected, run `coach conversations use <id>`")
)

// app is one process worth of client state, wired the same way for every
// command.
type app struct {
	db      *store.SQLiteStore
	client  *transport.Client
	session *core.SessionStore
	chats   *core.ConversationStore

	stopReset func()
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open client database: %w", err)
	}
	jar, err := store.NewPersistentJar(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load cookies: %w", err)
	}
	client, err := transport.New(cfg.APIBaseURL,
		transport.WithCookieJar(jar),
		transport.WithTimeout(cfg.HTTPTimeout),
	)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &app{
		db:      db,
		client:  client,
		session: core.NewSessionStore(client, db),
		chats:   core.NewConversationStore(client, db),
	}
	a.stopReset = core.ResetOnLogout(a.session, a.chats)

	if err := a.session.Rehydrate(ctx); err != nil {
		logger.Logger.Warn("Ignoring unreadable saved session", "err", err)
	}
	if err := a.chats.RestoreSelection(ctx); err != nil {
		logger.Logger.Warn("Ignoring unreadable saved selection", "err", err)
	}
	return a, nil
}

func (a *app) Close() {
	a.stopReset()
	if err := a.db.Close(); err != nil {
		logger.Logger.Warn("Failed to close client database", "err", err)
	}
}

func (a *app) requireSession() error {
	if !a.session.Snapshot().IsAuthenticated {
		return errNotLoggedIn
	}
	return nil
}

// currentConversation loads the list and resolves the saved selection.
func (a *app) currentConversation(ctx context.Context) (*store.Conversation, error) {
	if err := a.requireSession(); err != nil {
		return nil, err
	}
	if err := a.chats.LoadConversations(ctx); err != nil {
		return nil, err
	}
	conv := a.chats.CurrentConversation()
	if conv == nil {
		return nil, errNoSelection
	}
	return conv, nil
}

type cli struct {
	verbose bool
	app     *app
}

// execute builds a fresh command tree, so tests can run it repeatedly.
func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	c := &cli{}
	defer func() {
		if c.app != nil {
			c.app.Close()
		}
	}()

	root := c.rootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	return root.ExecuteContext(ctx)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coach",
		Short: "Chat with your AI coach from the terminal",
		Long: `A terminal client for the coaching chat backend.

Quick Start:
  coach register --email you@example.com --name "Your Name"
  coach conversations create "Career goals"
  coach chat`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			level := cfg.LogLevel
			if c.verbose {
				level = "DEBUG"
			}
			logger.Configure(level, cmd.ErrOrStderr())

			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		c.loginCmd(),
		c.registerCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.conversationsCmd(),
		c.messagesCmd(),
		c.sendCmd(),
		c.chatCmd(),
	)
	return root
}
