package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"gwi.com/coach-client/internal/store"
)

const (
	defaultProvider = "openai"
	defaultModel    = "gpt-4"
)

func (c *cli) conversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage conversations",
	}
	cmd.AddCommand(
		c.conversationsListCmd(),
		c.conversationsCreateCmd(),
		c.conversationsRenameCmd(),
		c.conversationsDeleteCmd(),
		c.conversationsUseCmd(),
	)
	return cmd
}

func (c *cli) conversationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.requireSession(); err != nil {
				return err
			}
			if err := c.app.chats.LoadConversations(cmd.Context()); err != nil {
				return err
			}
			snap := c.app.chats.Snapshot()
			renderConversations(cmd.OutOrStdout(), snap.Conversations, snap.CurrentConversationID)
			return nil
		},
	}
}

func (c *cli) conversationsCreateCmd() *cobra.Command {
	var provider, model, systemPrompt string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Start a conversation and select it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.requireSession(); err != nil {
				return err
			}
			req := store.CreateConversationRequest{
				Title:      strings.Join(args, " "),
				AIProvider: provider,
				AIModel:    model,
			}
			if systemPrompt != "" {
				req.SystemPrompt = &systemPrompt
			}
			conv, err := c.app.chats.CreateConversation(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderConversation(*conv, true))
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", defaultProvider, "AI provider, fixed for the conversation's lifetime")
	cmd.Flags().StringVar(&model, "model", defaultModel, "AI model, fixed for the conversation's lifetime")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "Optional system prompt")
	return cmd
}

func (c *cli) conversationsRenameCmd() *cobra.Command {
	var systemPrompt string
	cmd := &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Change a conversation's title (and optionally its system prompt)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.requireSession(); err != nil {
				return err
			}
			title := strings.Join(args[1:], " ")
			patch := store.UpdateConversationRequest{Title: &title}
			if cmd.Flags().Changed("system-prompt") {
				patch.SystemPrompt = &systemPrompt
			}
			conv, err := c.app.chats.UpdateConversation(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderConversation(*conv, conv.ID == c.app.chats.Snapshot().CurrentConversationID))
			return nil
		},
	}
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "New system prompt")
	return cmd
}

func (c *cli) conversationsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.requireSession(); err != nil {
				return err
			}
			if err := c.app.chats.DeleteConversation(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("Deleted "+args[0]+"."))
			return nil
		},
	}
}

func (c *cli) conversationsUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Select the conversation that messages, send and chat work on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.requireSession(); err != nil {
				return err
			}
			if err := c.app.chats.LoadConversations(cmd.Context()); err != nil {
				return err
			}
			found := false
			for _, conv := range c.app.chats.Snapshot().Conversations {
				if conv.ID == args[0] {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("no conversation with id %s", args[0])
			}
			c.app.chats.SelectConversation(cmd.Context(), args[0])
			fmt.Fprintln(cmd.OutOrStdout(), renderConversation(*c.app.chats.CurrentConversation(), true))
			return nil
		},
	}
}
