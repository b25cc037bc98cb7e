package publisher

import (
	"fmt"
	"html"
	"path"
	"regexp"
	"strings"

	"illustrated_answer/media"
)

var placeholderPattern = regexp.MustCompile(`\[\[\[(.+?)\]\]\]`)

// Extract maps each distinct placeholder token in text to the filename it
// names. Repeated tokens yield a single entry.
func Extract(text string) map[string]string {
	out := map[string]string{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		out[m[0]] = m[1]
	}
	return out
}

type matchTier int

const (
	tierExact matchTier = iota
	tierContains
	tierStem
)

func (t matchTier) String() string {
	switch t {
	case tierExact:
		return "exact"
	case tierContains:
		return "contains"
	default:
		return "stem"
	}
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func stem(s string) string {
	return strings.TrimSuffix(s, path.Ext(s))
}

func (t matchTier) match(name, title string) bool {
	switch t {
	case tierExact:
		return name == title
	case tierContains:
		return strings.Contains(title, name) || strings.Contains(name, title)
	default:
		return stem(name) == stem(title)
	}
}

// Resolve finds the image a model-written filename refers to. Tiers are tried
// in order (exact, containment, extension-stripped) across all images, so an
// exact title later in the list beats an earlier image that only contains the
// name. Within a tier the first image in admission order wins.
func Resolve(filename string, images []media.ProcessedImage) (media.ProcessedImage, bool) {
	img, _, ok := resolve(filename, images)
	return img, ok
}

func resolve(filename string, images []media.ProcessedImage) (media.ProcessedImage, matchTier, bool) {
	name := normalizeName(filename)
	if name == "" {
		return media.ProcessedImage{}, 0, false
	}
	for _, tier := range []matchTier{tierExact, tierContains, tierStem} {
		for _, img := range images {
			title := normalizeName(img.Title)
			if title == "" {
				continue
			}
			if tier.match(name, title) {
				return img, tier, true
			}
		}
	}
	return media.ProcessedImage{}, 0, false
}

// Substitution is the outcome of replacing placeholders in one text.
type Substitution struct {
	Text       string
	Resolved   map[string]string // token -> image title
	Unresolved []string
}

// Substitute replaces the first occurrence of each resolvable placeholder
// with a media block. Repeats of a token and unresolved tokens stay in the
// text as written.
func Substitute(text string, images []media.ProcessedImage) Substitution {
	sub := Substitution{Resolved: map[string]string{}}
	blocks := map[string]string{}
	seen := map[string]bool{}

	for token, filename := range Extract(text) {
		if img, _, ok := resolve(filename, images); ok {
			blocks[token] = MediaBlock(img)
			sub.Resolved[token] = img.Title
		}
	}
	sub.Text = placeholderPattern.ReplaceAllStringFunc(text, func(token string) string {
		if seen[token] {
			return token
		}
		seen[token] = true
		if b, ok := blocks[token]; ok {
			return "\n\n" + b + "\n\n"
		}
		sub.Unresolved = append(sub.Unresolved, token)
		return token
	})
	return sub
}

var altReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func escapeAttr(s string) string {
	return html.EscapeString(altReplacer.Replace(strings.TrimSpace(s)))
}

// MediaBlock renders one image as a figure with its license and attribution.
// The block is a single line so markdown keeps it as one HTML block.
func MediaBlock(img media.ProcessedImage) string {
	license := strings.TrimSpace(img.License)
	if license == "" {
		license = media.UnknownLicense
	}
	var sb strings.Builder
	sb.WriteString("<figure>")
	fmt.Fprintf(&sb, `<img src="%s" alt="%s">`, img.PayloadData, escapeAttr(img.AltText))
	sb.WriteString("<figcaption>")
	sb.WriteString("License: " + escapeAttr(license))
	if attr := strings.TrimSpace(img.Attribution); attr != "" {
		sb.WriteString("<br>Attribution: " + escapeAttr(attr))
	}
	sb.WriteString("</figcaption></figure>")
	return sb.String()
}
