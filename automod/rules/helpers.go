package rules

import (
	"fmt"
	"strings"

	"github.com/LZ58840/AnimewallpaperBot/models"
)

// A problem image, numbered by its position in the submission (starting at one).
type imageRef struct {
	N     int
	Image models.Image
}

// "[Image #2 (1920x1080)](url)"; detail may be empty
func (r imageRef) Link(detail string) string {
	if detail == "" {
		return fmt.Sprintf("[Image #%d](%s)", r.N, r.Image.URL)
	}
	return fmt.Sprintf("[Image #%d (%s)](%s)", r.N, detail, r.Image.URL)
}

func joinLinks(refs []imageRef, detail func(imageRef) string) string {
	links := make([]string, len(refs))
	for i, r := range refs {
		d := ""
		if detail != nil {
			d = detail(r)
		}
		links[i] = r.Link(d)
	}
	return strings.Join(links, ", ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func submissionLink(id string) string {
	return "https://redd.it/" + id
}
