package settings

import (
	"encoding/json"
)

// Default settings document: moderation and every rule disabled, with all recognized parameters present (so moderators can see what is configurable).
func defaultDocument() map[string]any {
	return map[string]any{
		"enabled": false,
		"flairs":  map[string]any{},
		"ResolutionAny": map[string]any{
			"enabled": false,
		},
		"ResolutionMismatch": map[string]any{
			"enabled": false,
		},
		"ResolutionBad": map[string]any{
			"enabled":    false,
			"horizontal": nil,
			"vertical":   nil,
			"square":     nil,
		},
		"AspectRatioBad": map[string]any{
			"enabled":    false,
			"horizontal": nil,
			"vertical":   nil,
		},
		"RateLimitAny": map[string]any{
			"enabled":        false,
			"interval_hours": nil,
			"frequency":      nil,
			"incl_deleted":   false,
		},
		"SourceCommentAny": map[string]any{
			"enabled":     false,
			"timeout_hrs": nil,
		},
		"RepostAny": map[string]any{
			"enabled":      false,
			"threshold":    0.75,
			"months":       0,
			"report_only":  false,
			"timeout_mins": 10,
		},
	}
}

func Defaults() *Settings {
	b, err := json.Marshal(defaultDocument())
	if err != nil {
		panic(err)
	}
	s, err := Parse(b)
	if err != nil {
		panic(err)
	}
	return s
}
