package engine

import (
	"context"
	"fmt"
	"strings"
)

const (
	NotifyRemoved   = "removed"
	NotifyWarned    = "warned"
	NotifyThrottled = "throttled"
)

// What happened to a submission, as reported to moderators out-of-band.
type Notification struct {
	// one of NotifyRemoved, NotifyWarned, NotifyThrottled
	Kind       string
	Submission *Submission
	Decision   *Decision
	// set for removals
	CommentID string
}

// Interface for a type that can handle sending notifications
type Notifier interface {
	SendDecision(ctx context.Context, n Notification) error
}

func notificationHeader(kind string) string {
	switch kind {
	case NotifyRemoved:
		return "🧹 Submission Removed 🧹\n"
	case NotifyWarned:
		return "⚠️ Submission Warning ⚠️\n"
	case NotifyThrottled:
		return "🛑 Removal Throttled (daily quota reached) 🛑\n"
	default:
		return fmt.Sprintf("AWB %s\n", kind)
	}
}

// Plain-text message body shared by the webhook notifiers. link formats a (label, url) pair in the sink's markup.
func notificationBody(n Notification, link func(label, url string) string) string {
	sub := n.Submission
	msg := notificationHeader(n.Kind)
	msg += fmt.Sprintf("`%s` / r/%s / u/%s / %s\n",
		sub.ID,
		sub.Subreddit,
		sub.Author,
		link("post", "https://redd.it/"+sub.ID),
	)
	if sub.Title != "" {
		msg += fmt.Sprintf("Title: %s\n", sub.Title)
	}
	if n.Decision != nil {
		if len(n.Decision.Fragments) > 0 {
			msg += fmt.Sprintf("Removal reasons: %d\n", len(n.Decision.Fragments))
		}
		if len(n.Decision.WarningRules) > 0 {
			msg += fmt.Sprintf("Warnings: `%s`\n", strings.Join(n.Decision.WarningRules, ", "))
		}
		for _, w := range n.Decision.Warnings {
			msg += strings.TrimSpace(w) + "\n"
		}
	}
	if n.CommentID != "" {
		msg += fmt.Sprintf("Comment: `%s`\n", n.CommentID)
	}
	return msg
}
