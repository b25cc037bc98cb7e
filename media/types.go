package media

import (
	"path"
	"regexp"
	"strings"
	"unicode/utf8"
)

// UnknownLicense is used when the repository reports no license.
const UnknownLicense = "unknown"

const maxAltRunes = 200

// Candidate is a search hit, resolved to an ImageDetail right away.
type Candidate struct {
	Title  string
	PageID int64
}

// ImageDetail is the metadata of one repository image.
type ImageDetail struct {
	URL            string `json:"url"`
	AltText        string `json:"alt_text"`
	Title          string `json:"title"`
	License        string `json:"license"`
	Attribution    string `json:"attribution,omitempty"`
	MIME           string `json:"mime,omitempty"`
	DescriptionURL string `json:"description_url,omitempty"`
}

// ProcessedImage is an admitted image with its inline payload.
type ProcessedImage struct {
	ImageDetail
	// PayloadData is a data URL ("data:<mime>;base64,<...>").
	PayloadData         string `json:"-"`
	PayloadMIME         string `json:"payload_mime"`
	Data                []byte `json:"-"`
	PayloadByteEstimate int64  `json:"payload_bytes"`
}

// Extension returns the lowercase extension of the image URL, without the dot.
func (d ImageDetail) Extension() string {
	u := d.URL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(u)), ".")
}

func (d ImageDetail) IsGIF() bool {
	return d.Extension() == "gif" || strings.EqualFold(d.MIME, "image/gif")
}

func (d ImageDetail) IsSVG() bool {
	return d.Extension() == "svg" || strings.HasPrefix(strings.ToLower(d.MIME), "image/svg")
}

var unsafeFilename = regexp.MustCompile(`[^a-z0-9._-]+`)

// NormalizeTitle turns "File:Perceptron Diagram.PNG" into "perceptron_diagram.png".
func NormalizeTitle(title string) string {
	t := strings.TrimSpace(title)
	if i := strings.IndexByte(t, ':'); i >= 0 && strings.EqualFold(t[:i], "file") {
		t = t[i+1:]
	}
	t = strings.ToLower(strings.TrimSpace(t))
	t = unsafeFilename.ReplaceAllString(t, "_")
	return strings.Trim(t, "_")
}

// ReplaceExt swaps the extension of a normalized filename.
func ReplaceExt(name, ext string) string {
	return strings.TrimSuffix(name, path.Ext(name)) + "." + ext
}

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// StripTags removes markup from extmetadata values and collapses whitespace.
func StripTags(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'", "&nbsp;", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// AltText picks the first non-empty of description, object name, categories
// and title, truncated to 200 characters.
func AltText(description, objectName, categories, title string) string {
	alt := ""
	for _, c := range []string{description, objectName, categories, title} {
		if c = StripTags(c); c != "" {
			alt = c
			break
		}
	}
	if utf8.RuneCountInString(alt) > maxAltRunes {
		alt = string([]rune(alt)[:maxAltRunes]) + "..."
	}
	return alt
}
