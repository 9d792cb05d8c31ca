package helpers

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	Horizontal = "horizontal"
	Vertical   = "vertical"
	Square     = "square"
)

// ordering used whenever images are grouped by orientation in a comment
var Orientations = []string{Horizontal, Vertical, Square}

func OrientationOf(width, height int) string {
	switch {
	case width > height:
		return Horizontal
	case width < height:
		return Vertical
	default:
		return Square
	}
}

// Parses a comma-separated list of orientations, as used in flair policies. Unknown entries are dropped.
func ParseOrientations(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		o := strings.ToLower(strings.TrimSpace(part))
		switch o {
		case Horizontal, Vertical, Square:
			out = append(out, o)
		}
	}
	return DedupeStrings(out)
}

type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Parses "WxH" (eg, "1920x1080").
func ParseResolution(raw string) (Resolution, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(raw)), "x", 2)
	if len(parts) != 2 {
		return Resolution{}, fmt.Errorf("invalid resolution: %q", raw)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid resolution width: %q", raw)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid resolution height: %q", raw)
	}
	return Resolution{Width: w, Height: h}, nil
}

var resolutionTagRegex = regexp.MustCompile(`[(\[]\s?([0-9]{3,})\s?[Xx×]\s?([0-9]{3,})\s?[)\]]`)

// Extracts every "(WxH)" or "[WxH]" tag from a submission title, in order of appearance.
func ExtractResolutionTags(title string) []Resolution {
	var out []Resolution
	for _, m := range resolutionTagRegex.FindAllStringSubmatch(title, -1) {
		w, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		h, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		out = append(out, Resolution{Width: w, Height: h})
	}
	return out
}

func HasResolutionTag(title string) bool {
	return resolutionTagRegex.MatchString(title)
}

// Rounds half away from zero (for positive values, half up) to the given number of decimal places.
func NormalRound(num float64, ndigits int) float64 {
	if ndigits == 0 {
		return math.Floor(num + 0.5)
	}
	scale := math.Pow(10, float64(ndigits))
	return math.Floor(num*scale+0.5) / scale
}

// width/height, rounded to three decimal places
func AspectRatio(width, height int) float64 {
	if height == 0 {
		return 0
	}
	return NormalRound(float64(width)/float64(height), 3)
}

// Formats a ratio value the way it appears in removal comments (always at least one decimal place).
func FormatRatio(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

type Ratio struct {
	A     int
	B     int
	Value float64
}

func (r Ratio) String() string {
	return fmt.Sprintf("%d:%d (%s:1)", r.A, r.B, FormatRatio(r.Value))
}

// Parses "a:b". Returns nil for anything unparseable, including a zero denominator.
func ParseRatio(raw string) *Ratio {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 3)
	if len(parts) < 2 {
		return nil
	}
	a, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil
	}
	b, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || b == 0 {
		return nil
	}
	return &Ratio{A: a, B: b, Value: NormalRound(float64(a)/float64(b), 3)}
}

// Aspect ratio bounds for one orientation. Images with a ratio below Tall are too tall, above Wide are too wide. Either side may be open (nil).
type RatioRange struct {
	Tall *Ratio
	Wide *Ratio
}

// Parses "a:b to c:d".
func ParseRatioRange(raw string) RatioRange {
	if strings.TrimSpace(raw) == "" {
		return RatioRange{}
	}
	parts := strings.SplitN(raw, " to ", 3)
	rr := RatioRange{Tall: ParseRatio(parts[0])}
	if len(parts) > 1 {
		rr.Wide = ParseRatio(parts[1])
	}
	return rr
}

func (rr RatioRange) IsOpen() bool {
	return rr.Tall == nil && rr.Wide == nil
}

// Returns "tall", "wide", or empty string if the ratio is within bounds.
func (rr RatioRange) Check(ratio float64) string {
	if rr.Tall != nil && ratio < rr.Tall.Value {
		return "tall"
	}
	if rr.Wide != nil && ratio > rr.Wide.Value {
		return "wide"
	}
	return ""
}

// Human-readable description of the bounds, or empty string if both sides are open.
func (rr RatioRange) Describe() string {
	switch {
	case rr.Tall != nil && rr.Wide != nil:
		return fmt.Sprintf("between %s and %s", rr.Tall, rr.Wide)
	case rr.Tall != nil:
		return fmt.Sprintf("wider than %s", rr.Tall)
	case rr.Wide != nil:
		return fmt.Sprintf("taller than %s", rr.Wide)
	}
	return ""
}
