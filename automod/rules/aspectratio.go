package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/LZ58840/AnimewallpaperBot/automod/engine"
	"github.com/LZ58840/AnimewallpaperBot/automod/helpers"
)

const AspectRatioBadName = "AspectRatioBad"

type aspectRatioBadConfig struct {
	Horizontal *string `json:"horizontal"`
	Vertical   *string `json:"vertical"`
}

// Aspect ratio bounds for horizontal and vertical images ("a:b to c:d"). Square images are never checked.
type AspectRatioBad struct {
	ranges map[string]helpers.RatioRange
}

func NewAspectRatioBad(raw json.RawMessage) (engine.Rule, error) {
	cfg, err := engine.DecodeConfig[aspectRatioBadConfig](raw)
	if err != nil {
		return nil, err
	}
	r := &AspectRatioBad{ranges: make(map[string]helpers.RatioRange)}
	if cfg.Horizontal != nil {
		r.ranges[helpers.Horizontal] = helpers.ParseRatioRange(*cfg.Horizontal)
	}
	if cfg.Vertical != nil {
		r.ranges[helpers.Vertical] = helpers.ParseRatioRange(*cfg.Vertical)
	}
	return r, nil
}

func (r *AspectRatioBad) Name() string {
	return AspectRatioBadName
}

func ratioDetail(ref imageRef) string {
	return helpers.FormatRatio(helpers.AspectRatio(ref.Image.Width, ref.Image.Height)) + ":1"
}

func (r *AspectRatioBad) Evaluate(c *engine.RuleContext) (*engine.Outcome, error) {
	var sb strings.Builder
	for _, orientation := range []string{helpers.Horizontal, helpers.Vertical} {
		rr, ok := r.ranges[orientation]
		if !ok || rr.IsOpen() {
			continue
		}
		var tall, wide []imageRef
		for i, img := range c.Submission.Images {
			if helpers.OrientationOf(img.Width, img.Height) != orientation {
				continue
			}
			switch rr.Check(helpers.AspectRatio(img.Width, img.Height)) {
			case "tall":
				tall = append(tall, imageRef{N: i + 1, Image: img})
			case "wide":
				wide = append(wide, imageRef{N: i + 1, Image: img})
			}
		}
		if len(tall) == 0 && len(wide) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n\n\t- %s images must have an aspect ratio **%s**.", capitalize(orientation), rr.Describe())
		if len(tall) > 0 {
			fmt.Fprintf(&sb, "\n\n\t\t- %s %s too tall.", joinLinks(tall, ratioDetail), helpers.IsAre(len(tall)))
		}
		if len(wide) > 0 {
			fmt.Fprintf(&sb, "\n\n\t\t- %s %s too wide.", joinLinks(wide, ratioDetail), helpers.IsAre(len(wide)))
		}
	}
	if sb.Len() == 0 {
		return nil, nil
	}
	return engine.Remove("\n\n- **Bad aspect ratio.**" + sb.String()), nil
}
