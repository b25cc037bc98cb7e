package admission

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/fogleman/gg"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"
)

const (
	defaultCanvasSize = 300
	maxCanvasSide     = 4096
)

var (
	errCanvasTooLarge = errors.New("svg canvas too large")
	errNotSVG         = errors.New("document root is not <svg>")
	errNoShapes       = errors.New("svg has no drawable shapes")
)

// Rasterize renders an SVG document onto an opaque white canvas at the
// document's intrinsic size and returns PNG bytes. Documents whose root is
// not <svg>, or that decode to nothing drawable, are rejected.
func Rasterize(svg []byte) ([]byte, error) {
	if err := checkSVGRoot(svg); err != nil {
		return nil, err
	}
	// Unsupported elements (metadata, text, editor namespaces) are common in
	// Commons drawings and are skipped rather than failing the whole file.
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("decode svg: %w", err)
	}
	if len(icon.SVGPaths) == 0 {
		return nil, errNoShapes
	}
	w, h := canvasSize(icon.ViewBox.W, icon.ViewBox.H)
	if w > maxCanvasSide || h > maxCanvasSide {
		return nil, fmt.Errorf("%w: %dx%d", errCanvasTooLarge, w, h)
	}

	if icon.ViewBox.W <= 0 || icon.ViewBox.H <= 0 {
		icon.ViewBox.W, icon.ViewBox.H = float64(w), float64(h)
	}
	icon.SetTarget(0, 0, float64(w), float64(h))
	layer := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, layer, layer.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1)

	dc := gg.NewContext(w, h)
	dc.SetColor(color.White)
	dc.Clear()
	canvas, ok := dc.Image().(*image.RGBA)
	if !ok {
		return nil, errors.New("unexpected canvas type")
	}
	draw.Draw(canvas, canvas.Bounds(), layer, image.Point{}, draw.Over)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func canvasSize(w, h float64) (int, int) {
	if w <= 0 || h <= 0 || math.IsNaN(w) || math.IsNaN(h) {
		return defaultCanvasSize, defaultCanvasSize
	}
	return int(math.Ceil(w)), int(math.Ceil(h))
}

// checkSVGRoot reads tokens up to the first element and requires it to be
// <svg>. The encoding declaration is ignored; only the element name matters.
func checkSVGRoot(doc []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }
	for {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", errNotSVG, err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			if se.Name.Local != "svg" {
				return fmt.Errorf("%w: found <%s>", errNotSVG, se.Name.Local)
			}
			return nil
		}
	}
}
