package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"illustrated_answer/logger"
)

const (
	defaultAPIURL    = "https://commons.wikimedia.org/w/api.php"
	defaultUA        = "illustrated-answer/0.1"
	defaultPerTerm   = 3
	searchFormatHint = "filetype:bitmap|drawing -filemime:gif"
)

// ErrTooLarge is returned by Download when the body exceeds the limit.
var ErrTooLarge = errors.New("media: payload exceeds limit")

// Client talks to a MediaWiki file repository (Wikimedia Commons by default).
type Client struct {
	apiURL  string
	ua      string
	perTerm int
	http    *http.Client
	log     *logger.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithAPIURL overrides the api.php endpoint (useful for testing).
func WithAPIURL(u string) Option {
	return func(c *Client) { c.apiURL = strings.TrimSpace(u) }
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithUserAgent sets the User-Agent header. Commons rejects generic agents.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.ua = ua }
}

// WithResultsPerTerm caps search hits per term.
func WithResultsPerTerm(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.perTerm = n
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		apiURL:  defaultAPIURL,
		ua:      defaultUA,
		perTerm: defaultPerTerm,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     logger.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search returns up to perTerm file candidates for term. Failures are logged
// and yield an empty list so one bad term never aborts a run.
func (c *Client) Search(ctx context.Context, term string) []Candidate {
	q := url.Values{}
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("formatversion", "2")
	q.Set("list", "search")
	q.Set("srnamespace", "6")
	q.Set("srsearch", strings.TrimSpace(term)+" "+searchFormatHint)
	q.Set("srlimit", strconv.Itoa(c.perTerm))

	body, err := c.getJSON(ctx, q)
	if err != nil {
		c.log.Warn("image search failed", "term", term, "error", err)
		return nil
	}
	if !gjson.ValidBytes(body) {
		c.log.Warn("image search returned malformed json", "term", term)
		return nil
	}
	hits := gjson.GetBytes(body, "query.search").Array()
	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		title := h.Get("title").String()
		if title == "" {
			continue
		}
		out = append(out, Candidate{Title: title, PageID: h.Get("pageid").Int()})
		if len(out) >= c.perTerm {
			break
		}
	}
	return out
}

// Detail resolves a file title to its metadata. ok is false when the file is
// gone or the metadata is unusable.
func (c *Client) Detail(ctx context.Context, title string) (ImageDetail, bool) {
	q := url.Values{}
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("formatversion", "2")
	q.Set("prop", "imageinfo")
	q.Set("iiprop", "url|extmetadata|mime|size")
	q.Set("titles", title)

	body, err := c.getJSON(ctx, q)
	if err != nil {
		c.log.Warn("image detail failed", "title", title, "error", err)
		return ImageDetail{}, false
	}
	return parseDetail(body, title)
}

func parseDetail(body []byte, title string) (ImageDetail, bool) {
	if !gjson.ValidBytes(body) {
		return ImageDetail{}, false
	}
	page := gjson.GetBytes(body, "query.pages.0")
	if !page.Exists() || page.Get("missing").Bool() || page.Get("invalid").Bool() {
		return ImageDetail{}, false
	}
	info := page.Get("imageinfo.0")
	imageURL := strings.TrimSpace(info.Get("url").String())
	if !info.Exists() || imageURL == "" {
		return ImageDetail{}, false
	}
	if t := page.Get("title").String(); t != "" {
		title = t
	}
	meta := info.Get("extmetadata")
	value := func(key string) string { return meta.Get(key + ".value").String() }

	bare := strings.TrimPrefix(title, "File:")
	license := StripTags(value("LicenseShortName"))
	if license == "" {
		license = UnknownLicense
	}
	return ImageDetail{
		URL:            imageURL,
		AltText:        AltText(value("ImageDescription"), value("ObjectName"), strings.ReplaceAll(value("Categories"), "|", ", "), bare),
		Title:          title,
		License:        license,
		Attribution:    StripTags(value("Artist")),
		MIME:           info.Get("mime").String(),
		DescriptionURL: info.Get("descriptionurl").String(),
	}, true
}

// Probe issues a HEAD request. known is false when the server does not
// report a Content-Length.
func (c *Client) Probe(ctx context.Context, rawURL string) (size int64, known bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("User-Agent", c.ua)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, false, fmt.Errorf("probe http %d", resp.StatusCode)
	}
	if resp.ContentLength < 0 {
		return 0, false, nil
	}
	return resp.ContentLength, true, nil
}

// Download fetches the full body, failing with ErrTooLarge past limit bytes
// (limit <= 0 means unbounded). mime comes from the response header, falling
// back to content sniffing.
func (c *Client) Download(ctx context.Context, rawURL string, limit int64) (data []byte, mime string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", c.ua)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download http %d", resp.StatusCode)
	}

	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	data, err = io.ReadAll(r)
	if err != nil {
		return nil, "", err
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, "", ErrTooLarge
	}

	mime = strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

func (c *Client) getJSON(ctx context.Context, q url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.ua)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("commons http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}
