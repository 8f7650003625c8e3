package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"gwi.com/coach-client/internal/logger"
)

func (c *cli) messagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "messages",
		Short: "Print the selected conversation's history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := c.app.currentConversation(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.app.chats.LoadMessages(cmd.Context(), conv.ID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), headerStyle.Render(conv.Title))
			renderMessages(cmd.OutOrStdout(), c.app.chats.Snapshot().Messages)
			return nil
		},
	}
}

func (c *cli) sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <text>",
		Short: "Send one message to the selected conversation and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.app.currentConversation(cmd.Context()); err != nil {
				return err
			}
			return c.send(cmd.Context(), cmd.OutOrStdout(), strings.Join(args, " "))
		},
	}
}

// send prints the outcome of one exchange: the reply, or the failed message.
func (c *cli) send(ctx context.Context, w io.Writer, content string) error {
	err := c.app.chats.SendMessage(ctx, content)
	msgs := c.app.chats.Snapshot().Messages
	if err != nil {
		if m, ok := lastFailed(msgs); ok {
			fmt.Fprintln(w, renderMessage(m))
		}
		return err
	}
	if n := len(msgs); n > 0 {
		fmt.Fprintln(w, renderMessage(msgs[n-1]))
	}
	return nil
}

func (c *cli) chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively in the selected conversation",
		Long: `Chat interactively in the selected conversation.

Commands:
  /retry    resend the last failed message
  /remove   drop the last failed message
  /quit     leave the chat`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conv, err := c.app.currentConversation(ctx)
			if err != nil {
				return err
			}
			if err := c.app.chats.LoadMessages(ctx, conv.ID); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render(conv.Title), mutedStyle.Render(conv.AIProvider+"/"+conv.AIModel))
			renderMessages(out, c.app.chats.Snapshot().Messages)
			return c.repl(ctx, cmd.InOrStdin(), out)
		},
	}
}

func (c *cli) repl(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, userStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/retry":
			m, ok := lastFailed(c.app.chats.Snapshot().Messages)
			if !ok {
				fmt.Fprintln(out, mutedStyle.Render("Nothing to retry."))
				continue
			}
			if err := c.app.chats.RetryMessage(ctx, m.ID); err != nil {
				logger.Logger.Debug("retry failed", "message", m.ID, "err", err)
				if again, ok := findMessage(c.app.chats.Snapshot().Messages, m.ID); ok {
					fmt.Fprintln(out, renderMessage(again))
				}
				continue
			}
			msgs := c.app.chats.Snapshot().Messages
			fmt.Fprintln(out, renderMessage(msgs[len(msgs)-1]))
		case "/remove":
			m, ok := lastFailed(c.app.chats.Snapshot().Messages)
			if !ok {
				fmt.Fprintln(out, mutedStyle.Render("Nothing to remove."))
				continue
			}
			c.app.chats.RemoveMessage(m.ID)
			fmt.Fprintln(out, mutedStyle.Render("Removed."))
		default:
			if strings.HasPrefix(line, "/") {
				fmt.Fprintln(out, mutedStyle.Render("Unknown command "+line+". Try /retry, /remove or /quit."))
				continue
			}
			// Failures stay in the list for /retry; keep chatting.
			if err := c.send(ctx, out, line); err != nil {
				logger.Logger.Debug("send failed", "err", err)
			}
		}
		c.app.chats.ClearError()
	}
}
