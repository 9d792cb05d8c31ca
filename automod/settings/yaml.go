package settings

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parses a moderator-authored YAML document, merged over the defaults: top-level keys replace defaults, and rule blocks are merged key by key.
func FromYAML(content string) (*Settings, error) {
	doc := defaultDocument()
	if strings.TrimSpace(content) != "" {
		var user map[string]any
		if err := yaml.Unmarshal([]byte(content), &user); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		for k, v := range user {
			um, uok := v.(map[string]any)
			dm, dok := doc[k].(map[string]any)
			if uok && dok && k != "flairs" {
				for bk, bv := range um {
					dm[bk] = bv
				}
				continue
			}
			doc[k] = v
		}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return Parse(b)
}

// Renders settings as the YAML document moderators edit.
func ToYAML(s *Settings) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return "", err
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func DefaultYAML() string {
	out, err := ToYAML(Defaults())
	if err != nil {
		panic(err)
	}
	return out
}
