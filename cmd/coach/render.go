package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"gwi.com/coach-client/internal/store"
)

var (
	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	assistantStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("135"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

const dateLayout = "2006-01-02 15:04"

func renderConversations(w io.Writer, list []store.Conversation, currentID string) {
	if len(list) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No conversations yet. Create one with `coach conversations create <title>`."))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%d conversation(s)", len(list))))
	for _, c := range list {
		fmt.Fprintln(w, renderConversation(c, c.ID == currentID))
	}
}

func renderConversation(c store.Conversation, current bool) string {
	marker := "  "
	if current {
		marker = userStyle.Render("* ")
	}
	return fmt.Sprintf("%s%s %s %s %s",
		marker,
		titleStyle.Render(c.Title),
		mutedStyle.Render(c.AIProvider+"/"+c.AIModel),
		mutedStyle.Render(c.UpdatedAt.Local().Format(dateLayout)),
		idStyle.Render(c.ID),
	)
}

func renderMessages(w io.Writer, msgs []store.Message) {
	for _, m := range msgs {
		fmt.Fprintln(w, renderMessage(m))
	}
}

func renderMessage(m store.Message) string {
	var who string
	switch m.Role {
	case store.RoleUser:
		who = userStyle.Render("you")
	case store.RoleAssistant:
		who = assistantStyle.Render("coach")
	default:
		who = mutedStyle.Render(string(m.Role))
	}

	line := who + ": " + strings.TrimSpace(m.Content)
	switch m.Status {
	case store.DeliverySending:
		line += " " + mutedStyle.Render("(sending...)")
	case store.DeliveryFailed:
		line = errorStyle.Render(line) + " " + errorStyle.Render("(failed: "+m.ErrorMessage+")")
	}
	return line
}

// lastFailed returns the most recent failed message, if any.
func lastFailed(msgs []store.Message) (store.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Status == store.DeliveryFailed {
			return msgs[i], true
		}
	}
	return store.Message{}, false
}

func findMessage(msgs []store.Message, id string) (store.Message, bool) {
	for _, m := range msgs {
		if m.ID == id {
			return m, true
		}
	}
	return store.Message{}, false
}
