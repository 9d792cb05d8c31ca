package engine

import (
	"encoding/json"
	"fmt"
)

// A single independently-evaluable moderation check, constructed from its per-community configuration block.
//
// Evaluate returns nil when the rule has no opinion. A non-nil Outcome carries the comment fragment explaining the problem; unless it is a warning, it also means the submission should be removed.
type Rule interface {
	Name() string
	Evaluate(c *RuleContext) (*Outcome, error)
}

type Outcome struct {
	// markdown fragment appended to the removal comment (starts with a blank line and a list item)
	Fragment string
	// warning-only outcomes never cause removal
	Warning bool
}

func Remove(fragment string) *Outcome {
	return &Outcome{Fragment: fragment}
}

func Warn(fragment string) *Outcome {
	return &Outcome{Fragment: fragment, Warning: true}
}

// Catalogue entry: a rule name (matching its settings block) and a constructor.
type RuleEntry struct {
	Name string
	New  func(cfg json.RawMessage) (Rule, error)
}

// Ordered rule catalogue. Order is priority: fragments are composed in this order.
type RuleSet struct {
	Entries []RuleEntry
}

func (rs *RuleSet) Lookup(name string) (RuleEntry, bool) {
	for _, e := range rs.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return RuleEntry{}, false
}

func (rs *RuleSet) Names() []string {
	out := make([]string, len(rs.Entries))
	for i, e := range rs.Entries {
		out[i] = e.Name
	}
	return out
}

// Error from constructing or evaluating a single rule. Never aborts sibling rules.
type RuleError struct {
	Rule string
	Err  error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.Rule, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// What one rule produced during an evaluation.
type Result struct {
	Rule    string
	Outcome *Outcome
	Err     *RuleError
}

// Helper for rule constructors: decodes a configuration block into a typed struct.
func DecodeConfig[T any](cfg json.RawMessage) (*T, error) {
	var out T
	if len(cfg) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(cfg, &out); err != nil {
		return nil, fmt.Errorf("invalid rule configuration: %w", err)
	}
	return &out, nil
}
