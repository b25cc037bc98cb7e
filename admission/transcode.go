package admission

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

const maxBitmapSide = 8192

var errUnsupportedFormat = errors.New("unsupported image format")

// inlineMIMEs are the formats both the model and the sanitizer accept as
// inline data.
var inlineMIMEs = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

type bitmapDecoder struct {
	config func([]byte) (image.Config, error)
	decode func([]byte) (image.Image, error)
}

var transcoders = map[string]bitmapDecoder{
	"image/tiff": {
		config: func(b []byte) (image.Config, error) { return tiff.DecodeConfig(bytes.NewReader(b)) },
		decode: func(b []byte) (image.Image, error) { return tiff.Decode(bytes.NewReader(b)) },
	},
	"image/bmp": {
		config: func(b []byte) (image.Config, error) { return bmp.DecodeConfig(bytes.NewReader(b)) },
		decode: func(b []byte) (image.Image, error) { return bmp.Decode(bytes.NewReader(b)) },
	},
}

func canonicalMIME(m string) string {
	m = strings.ToLower(strings.TrimSpace(strings.Split(m, ";")[0]))
	switch m {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	case "image/x-ms-bmp", "image/x-bmp":
		return "image/bmp"
	case "image/x-tiff":
		return "image/tiff"
	}
	return m
}

// Transcode re-encodes TIFF and BMP bitmaps as PNG. It reports
// errUnsupportedFormat for any other type.
func Transcode(data []byte, mime string) ([]byte, error) {
	dec, ok := transcoders[canonicalMIME(mime)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnsupportedFormat, mime)
	}
	cfg, err := dec.config(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mime, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxBitmapSide || cfg.Height > maxBitmapSide {
		return nil, fmt.Errorf("%w: %dx%d", errCanvasTooLarge, cfg.Width, cfg.Height)
	}
	img, err := dec.decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mime, err)
	}
	var buf bytes.Buffer
	if err := gg.NewContextForImage(img).EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
