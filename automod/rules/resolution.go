package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/LZ58840/AnimewallpaperBot/automod/engine"
	"github.com/LZ58840/AnimewallpaperBot/automod/helpers"
)

const (
	ResolutionAnyName      = "ResolutionAny"
	ResolutionMismatchName = "ResolutionMismatch"
	ResolutionBadName      = "ResolutionBad"
)

const resolutionAnyComment = "\n\n- **Missing resolution in title.** " +
	"Please state the exact resolution of your image in the submission title, " +
	"enclosed in (parentheses) or [brackets]. If you are submitting a collection, " +
	"ensure all unique resolutions are tagged separately."

// Title must carry at least one "(WxH)" or "[WxH]" tag.
var NewResolutionAny = newSimpleRule(ResolutionAnyName, func(c *engine.RuleContext) (*engine.Outcome, error) {
	if helpers.HasResolutionTag(c.Submission.Title) {
		return nil, nil
	}
	return engine.Remove(resolutionAnyComment), nil
})

// Every image must have one of the resolutions tagged in the title. Untagged titles are left to ResolutionAny.
var NewResolutionMismatch = newSimpleRule(ResolutionMismatchName, func(c *engine.RuleContext) (*engine.Outcome, error) {
	tagged := helpers.ExtractResolutionTags(c.Submission.Title)
	if len(tagged) == 0 {
		return nil, nil
	}
	isTagged := make(map[helpers.Resolution]bool, len(tagged))
	for _, r := range tagged {
		isTagged[r] = true
	}

	var mismatched []string
	for _, img := range c.Submission.Images {
		res := helpers.Resolution{Width: img.Width, Height: img.Height}
		if !isTagged[res] {
			mismatched = append(mismatched, res.String())
		}
	}
	if len(mismatched) == 0 {
		return nil, nil
	}

	taggedStr := make([]string, len(tagged))
	for i, r := range tagged {
		taggedStr[i] = r.String()
	}
	many := ""
	single := "es"
	if len(tagged) > 1 {
		many = "s"
		single = ""
	}
	return engine.Remove(fmt.Sprintf("\n\n- **Mismatched resolution%[1]s in title.** "+
		"Please ensure the resolution%[1]s tagged in the title exactly match%[2]s "+
		"the resolution%[1]s of your submitted image%[1]s.\n"+
		"\n\t- Tagged resolution%[1]s in title: %[3]s\n\n\t- Mismatched resolution%[1]s: %[4]s",
		many, single, strings.Join(taggedStr, ", "), strings.Join(mismatched, ", "))), nil
})

type resolutionBadConfig struct {
	Horizontal *string `json:"horizontal"`
	Vertical   *string `json:"vertical"`
	Square     *string `json:"square"`
}

// Per-orientation minimum resolutions. Orientations without a threshold are not checked.
type ResolutionBad struct {
	minimums map[string]helpers.Resolution
}

func NewResolutionBad(raw json.RawMessage) (engine.Rule, error) {
	cfg, err := engine.DecodeConfig[resolutionBadConfig](raw)
	if err != nil {
		return nil, err
	}
	r := &ResolutionBad{minimums: make(map[string]helpers.Resolution)}
	for orientation, val := range map[string]*string{
		helpers.Horizontal: cfg.Horizontal,
		helpers.Vertical:   cfg.Vertical,
		helpers.Square:     cfg.Square,
	} {
		if val == nil || strings.TrimSpace(*val) == "" {
			continue
		}
		res, err := helpers.ParseResolution(*val)
		if err != nil {
			return nil, fmt.Errorf("%s threshold: %w", orientation, err)
		}
		r.minimums[orientation] = res
	}
	return r, nil
}

func (r *ResolutionBad) Name() string {
	return ResolutionBadName
}

func (r *ResolutionBad) Evaluate(c *engine.RuleContext) (*engine.Outcome, error) {
	var sb strings.Builder
	for _, orientation := range helpers.Orientations {
		minRes, ok := r.minimums[orientation]
		if !ok {
			continue
		}
		var bad []imageRef
		for i, img := range c.Submission.Images {
			if helpers.OrientationOf(img.Width, img.Height) != orientation {
				continue
			}
			if img.Width < minRes.Width || img.Height < minRes.Height {
				bad = append(bad, imageRef{N: i + 1, Image: img})
			}
		}
		if len(bad) == 0 {
			continue
		}
		links := joinLinks(bad, func(ref imageRef) string {
			return helpers.Resolution{Width: ref.Image.Width, Height: ref.Image.Height}.String()
		})
		fmt.Fprintf(&sb, "\n\n\t- %s images must be at least **%s**.\n\n\t\t- %s %s too small.",
			capitalize(orientation), minRes, links, helpers.IsAre(len(bad)))
	}
	if sb.Len() == 0 {
		return nil, nil
	}
	return engine.Remove("\n\n- **Bad resolution.**" + sb.String()), nil
}
