package rules

import (
	"encoding/json"

	"github.com/LZ58840/AnimewallpaperBot/automod/engine"
)

// The rule catalogue. Order is priority: removal comment fragments appear in this order.
func DefaultRules() engine.RuleSet {
	rules := engine.RuleSet{
		Entries: []engine.RuleEntry{
			{Name: ResolutionAnyName, New: NewResolutionAny},
			{Name: ResolutionMismatchName, New: NewResolutionMismatch},
			{Name: ResolutionBadName, New: NewResolutionBad},
			{Name: AspectRatioBadName, New: NewAspectRatioBad},
			{Name: RateLimitAnyName, New: NewRateLimitAny},
			{Name: SourceCommentAnyName, New: NewSourceCommentAny},
			{Name: RepostAnyName, New: NewRepostAny},
		},
	}
	return rules
}

// Rule with no parameters beyond "enabled".
type simpleRule struct {
	name string
	eval func(c *engine.RuleContext) (*engine.Outcome, error)
}

func (r *simpleRule) Name() string {
	return r.name
}

func (r *simpleRule) Evaluate(c *engine.RuleContext) (*engine.Outcome, error) {
	return r.eval(c)
}

func newSimpleRule(name string, eval func(c *engine.RuleContext) (*engine.Outcome, error)) func(json.RawMessage) (engine.Rule, error) {
	return func(json.RawMessage) (engine.Rule, error) {
		return &simpleRule{name: name, eval: eval}, nil
	}
}
