package engine

import (
	"fmt"
	"strings"

	"github.com/LZ58840/AnimewallpaperBot/automod/helpers"
	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
)

type Action string

const (
	ActionSkip   Action = "skip"
	ActionRemove Action = "remove"
	ActionClear  Action = "clear"
)

// Outcome of one orchestrated evaluation of a submission.
type Decision struct {
	Action Action
	// composed removal comment; only set for ActionRemove
	Comment string
	// removal fragments, in priority order (flair section first)
	Fragments []string
	// warning-only fragments, in priority order
	Warnings []string
	// names of the rules which produced Warnings
	WarningRules []string
	Errors       []*RuleError
	// set when a human or other automation acted on the submission mid-evaluation
	Halted     bool
	HaltStatus platform.Status
	// set when the evaluation context was cancelled before every rule finished; such a decision must not be acted on
	Aborted bool
	// free-form explanation for skips, for logging
	Reason string
}

const (
	commentHeader    = "Thank you for contributing to r/%s! Unfortunately, your submission was removed for the following reason%s:"
	commentSignature = "\n\n*I am a bot, and this was performed automatically. Please [contact the moderators of this subreddit](https://reddit.com/message/compose/?to=/r/%s) if you have any questions or concerns.*"
)

// Composes the removal comment: header, removal fragments, any warning fragments, then signature.
func ComposeComment(subreddit string, fragments, warnings []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, commentHeader, subreddit, helpers.Plural(len(fragments)))
	for _, f := range fragments {
		sb.WriteString(f)
	}
	for _, w := range warnings {
		sb.WriteString(w)
	}
	fmt.Fprintf(&sb, commentSignature, subreddit)
	return sb.String()
}

func skipDecision(reason string) *Decision {
	return &Decision{Action: ActionSkip, Reason: reason}
}
