// Package admission decides which candidate images are sent to the vision
// model. Admission is strictly sequential: the running byte total is only
// correct when each check happens after the previous image was counted.
package admission

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"illustrated_answer/logger"
	"illustrated_answer/media"
)

// Fetcher is the subset of the media client admission needs.
type Fetcher interface {
	Probe(ctx context.Context, rawURL string) (size int64, known bool, err error)
	Download(ctx context.Context, rawURL string, limit int64) ([]byte, string, error)
}

// Limits bounds what a single model request may carry.
type Limits struct {
	MaxImageBytes int64
	MaxTotalBytes int64
	MaxImages     int
}

type Pipeline struct {
	fetch     Fetcher
	limits    Limits
	log       *logger.Logger
	rasterize func([]byte) ([]byte, error)
}

func New(fetch Fetcher, limits Limits, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		fetch:     fetch,
		limits:    limits,
		log:       log.With("component", "admission"),
		rasterize: Rasterize,
	}
}

var (
	errGIF         = errors.New("animated format excluded")
	errOverCeiling = errors.New("over per-image ceiling")
	errOverBudget  = errors.New("over total budget")
	errNotAnImage  = errors.New("payload is not an image")
)

// Admit evaluates details in order and returns the admitted prefix-ordered
// subset. notify (may be nil) is called for every accepted image. A failure
// on one image never stops the pass.
func (p *Pipeline) Admit(ctx context.Context, details []media.ImageDetail, notify func(media.ProcessedImage)) []media.ProcessedImage {
	var (
		admitted []media.ProcessedImage
		total    int64
	)
	for i, d := range details {
		if ctx.Err() != nil {
			p.log.Warn("admission interrupted", "evaluated", i, "error", ctx.Err())
			break
		}
		if p.limits.MaxImages > 0 && len(admitted) >= p.limits.MaxImages {
			break
		}
		img, err := p.process(ctx, d)
		if err != nil {
			p.log.Info("image skipped", "title", d.Title, "url", d.URL, "reason", err)
			continue
		}
		if p.limits.MaxTotalBytes > 0 && total+img.PayloadByteEstimate > p.limits.MaxTotalBytes {
			p.log.Info("image skipped", "title", img.Title, "reason", errOverBudget,
				"estimate", img.PayloadByteEstimate, "total", total)
			continue
		}
		total += img.PayloadByteEstimate
		admitted = append(admitted, img)
		p.log.Debug("image admitted", "title", img.Title, "estimate", img.PayloadByteEstimate, "total", total)
		if notify != nil {
			notify(img)
		}
	}
	if p.limits.MaxImages > 0 && len(admitted) > p.limits.MaxImages {
		admitted = admitted[:p.limits.MaxImages]
	}
	return admitted
}

// process runs the per-image checks that do not depend on the running total.
func (p *Pipeline) process(ctx context.Context, d media.ImageDetail) (media.ProcessedImage, error) {
	if d.IsGIF() {
		return media.ProcessedImage{}, errGIF
	}

	size, known, err := p.fetch.Probe(ctx, d.URL)
	switch {
	case err != nil:
		p.log.Debug("size probe failed, continuing", "url", d.URL, "error", err)
	case known && p.limits.MaxImageBytes > 0 && size > p.limits.MaxImageBytes:
		return media.ProcessedImage{}, fmt.Errorf("%w: %d bytes", errOverCeiling, size)
	}

	data, mime, err := p.fetch.Download(ctx, d.URL, p.limits.MaxImageBytes)
	if err != nil {
		if errors.Is(err, media.ErrTooLarge) {
			return media.ProcessedImage{}, errOverCeiling
		}
		return media.ProcessedImage{}, fmt.Errorf("download: %w", err)
	}

	title := media.NormalizeTitle(d.Title)
	if d.IsSVG() {
		if !svgMIME(mime) {
			return media.ProcessedImage{}, fmt.Errorf("%w: %s", errNotAnImage, mime)
		}
		data, err = p.rasterize(data)
		if err != nil {
			return media.ProcessedImage{}, fmt.Errorf("rasterize: %w", err)
		}
		mime = "image/png"
		title = media.ReplaceExt(title, "png")
	} else {
		mime = payloadMIME(mime, data)
		switch {
		case mime == "image/gif":
			return media.ProcessedImage{}, errGIF
		case !strings.HasPrefix(mime, "image/"):
			return media.ProcessedImage{}, fmt.Errorf("%w: %s", errNotAnImage, mime)
		case !inlineMIMEs[mime]:
			data, err = Transcode(data, mime)
			if err != nil {
				return media.ProcessedImage{}, err
			}
			mime = "image/png"
			title = media.ReplaceExt(title, "png")
		}
	}

	b64 := base64.StdEncoding.EncodeToString(data)
	estimate := int64(len(b64)) * 3 / 4
	if p.limits.MaxImageBytes > 0 && estimate > p.limits.MaxImageBytes {
		return media.ProcessedImage{}, fmt.Errorf("%w: %d bytes", errOverCeiling, estimate)
	}

	detail := d
	detail.Title = title
	return media.ProcessedImage{
		ImageDetail:         detail,
		PayloadData:         "data:" + mime + ";base64," + b64,
		PayloadMIME:         mime,
		Data:                data,
		PayloadByteEstimate: estimate,
	}, nil
}

// payloadMIME prefers what the bytes say over the declared header.
// DetectContentType has no TIFF signature, so that one is checked here.
func payloadMIME(declared string, data []byte) string {
	if bytes.HasPrefix(data, []byte("II*\x00")) || bytes.HasPrefix(data, []byte("MM\x00*")) {
		return "image/tiff"
	}
	sniffed := canonicalMIME(http.DetectContentType(data))
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return canonicalMIME(declared)
}

// svgMIME accepts what upload servers send for SVG files and rejects types
// that are clearly something else, such as an HTML error page.
func svgMIME(declared string) bool {
	m := canonicalMIME(declared)
	switch {
	case m == "", m == "application/octet-stream", m == "text/plain":
		return true
	case strings.Contains(m, "svg"), strings.HasSuffix(m, "/xml"):
		return true
	}
	return false
}
