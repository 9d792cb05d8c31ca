// Per-community moderation settings: which rules are enabled, their parameters, and the flair policy.
//
// Settings are authored by community moderators as YAML on a wiki page, normalized to JSON, and stored alongside the community record. The engine only ever reads them.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var ErrMalformed = errors.New("malformed settings")

// Flair policy value which exempts a submission from moderation entirely.
const FlairSkip = "skip"

type Settings struct {
	Enabled bool
	// flair label to either FlairSkip or a comma-separated list of allowed orientations
	Flairs map[string]string
	// rule name to raw rule configuration block; always contains an "enabled" field when valid
	Rules map[string]json.RawMessage
}

type ruleToggle struct {
	Enabled bool `json:"enabled"`
}

func (s *Settings) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := Settings{
		Flairs: make(map[string]string),
		Rules:  make(map[string]json.RawMessage),
	}
	for k, v := range raw {
		switch k {
		case "enabled":
			if err := json.Unmarshal(v, &out.Enabled); err != nil {
				return fmt.Errorf("field 'enabled': %w", err)
			}
		case "flairs":
			var flairs map[string]string
			if err := json.Unmarshal(v, &flairs); err != nil {
				return fmt.Errorf("field 'flairs': %w", err)
			}
			for label, policy := range flairs {
				out.Flairs[label] = policy
			}
		default:
			out.Rules[k] = v
		}
	}
	*s = out
	return nil
}

func (s Settings) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(s.Rules)+2)
	for k, v := range s.Rules {
		m[k] = v
	}
	m["enabled"] = s.Enabled
	flairs := s.Flairs
	if flairs == nil {
		flairs = map[string]string{}
	}
	m["flairs"] = flairs
	return json.Marshal(m)
}

// Parses a normalized JSON settings document.
func Parse(raw []byte) (*Settings, error) {
	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &s, nil
}

// Returns the configuration block for a rule, and whether that rule is enabled. Missing or unparseable blocks are treated as disabled.
func (s *Settings) RuleConfig(name string) (json.RawMessage, bool) {
	if s == nil {
		return nil, false
	}
	block, ok := s.Rules[name]
	if !ok {
		return nil, false
	}
	var toggle ruleToggle
	if err := json.Unmarshal(block, &toggle); err != nil {
		return nil, false
	}
	return block, toggle.Enabled
}

func (s *Settings) RuleEnabled(name string) bool {
	_, enabled := s.RuleConfig(name)
	return enabled
}

// Names of all enabled rule blocks, sorted.
func (s *Settings) EnabledRules() []string {
	var out []string
	for name := range s.Rules {
		if s.RuleEnabled(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
