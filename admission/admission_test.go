package admission

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"illustrated_answer/media"
)

type fakeAsset struct {
	size     int64
	known    bool
	probeErr error
	data     []byte
	mime     string
	err      error
}

type fakeFetcher struct {
	assets    map[string]fakeAsset
	downloads []string
}

func (f *fakeFetcher) Probe(_ context.Context, u string) (int64, bool, error) {
	a := f.assets[u]
	return a.size, a.known, a.probeErr
}

func (f *fakeFetcher) Download(_ context.Context, u string, limit int64) ([]byte, string, error) {
	f.downloads = append(f.downloads, u)
	a, ok := f.assets[u]
	if !ok {
		return nil, "", errors.New("404")
	}
	if a.err != nil {
		return nil, "", a.err
	}
	if limit > 0 && int64(len(a.data)) > limit {
		return nil, "", media.ErrTooLarge
	}
	return a.data, a.mime, nil
}

func jpeg(n int) []byte {
	// not a real JPEG; the declared MIME is used when sniffing finds nothing
	return bytes.Repeat([]byte{'x'}, n)
}

func detail(name string) media.ImageDetail {
	return media.ImageDetail{
		URL:     "https://upload.example/" + name,
		Title:   "File:" + name,
		AltText: name,
		License: media.UnknownLicense,
	}
}

func TestAdmit_BudgetExhaustion(t *testing.T) {
	f := &fakeFetcher{assets: map[string]fakeAsset{
		"https://upload.example/A.jpg": {size: 900, known: true, data: jpeg(900), mime: "image/jpeg"},
		"https://upload.example/B.jpg": {size: 900, known: true, data: jpeg(900), mime: "image/jpeg"},
		"https://upload.example/C.jpg": {size: 900, known: true, data: jpeg(900), mime: "image/jpeg"},
	}}
	p := New(f, Limits{MaxImageBytes: 1000, MaxTotalBytes: 2500, MaxImages: 8}, nil)

	var previews []string
	got := p.Admit(context.Background(), []media.ImageDetail{detail("A.jpg"), detail("B.jpg"), detail("C.jpg")},
		func(img media.ProcessedImage) { previews = append(previews, img.Title) })

	if len(got) != 2 {
		t.Fatalf("admitted %d images, want 2", len(got))
	}
	if got[0].Title != "a.jpg" || got[1].Title != "b.jpg" {
		t.Fatalf("unexpected order: %s, %s", got[0].Title, got[1].Title)
	}
	if strings.Join(previews, ",") != "a.jpg,b.jpg" {
		t.Fatalf("previews = %v", previews)
	}
	var total int64
	for _, img := range got {
		if img.PayloadByteEstimate > 1000 {
			t.Fatalf("%s exceeds per-image ceiling: %d", img.Title, img.PayloadByteEstimate)
		}
		total += img.PayloadByteEstimate
	}
	if total > 2500 {
		t.Fatalf("total %d exceeds budget", total)
	}
}

func TestAdmit_LaterSmallerImageStillFits(t *testing.T) {
	f := &fakeFetcher{assets: map[string]fakeAsset{
		"https://upload.example/A.jpg": {data: jpeg(900), mime: "image/jpeg"},
		"https://upload.example/B.jpg": {data: jpeg(900), mime: "image/jpeg"},
		"https://upload.example/C.jpg": {data: jpeg(300), mime: "image/jpeg"},
	}}
	p := New(f, Limits{MaxImageBytes: 1000, MaxTotalBytes: 1300, MaxImages: 8}, nil)

	got := p.Admit(context.Background(), []media.ImageDetail{detail("A.jpg"), detail("B.jpg"), detail("C.jpg")}, nil)
	if len(got) != 2 || got[0].Title != "a.jpg" || got[1].Title != "c.jpg" {
		t.Fatalf("admitted %+v", titles(got))
	}
}

func TestAdmit_RejectsGIFWithoutFetching(t *testing.T) {
	f := &fakeFetcher{assets: map[string]fakeAsset{
		"https://upload.example/Anim.gif":   {data: []byte("GIF89a...."), mime: "image/gif"},
		"https://upload.example/Ok.jpg":     {data: jpeg(10), mime: "image/jpeg"},
		"https://upload.example/Sneaky.jpg": {data: []byte("GIF89a\x01\x00\x01\x00"), mime: "image/jpeg"},
	}}
	p := New(f, Limits{MaxImageBytes: 1000, MaxTotalBytes: 5000, MaxImages: 8}, nil)

	got := p.Admit(context.Background(), []media.ImageDetail{detail("Anim.gif"), detail("Ok.jpg"), detail("Sneaky.jpg")}, nil)
	if len(got) != 1 || got[0].Title != "ok.jpg" {
		t.Fatalf("admitted %v", titles(got))
	}
	for _, u := range f.downloads {
		if strings.HasSuffix(u, ".gif") {
			t.Fatalf("gif url should never be downloaded: %s", u)
		}
	}
	for _, img := range got {
		if img.PayloadMIME == "image/gif" {
			t.Fatalf("gif admitted: %s", img.Title)
		}
	}
}

func TestAdmit_ProbeCeilingAndUnknownSize(t *testing.T) {
	f := &fakeFetcher{assets: map[string]fakeAsset{
		"https://upload.example/Huge.jpg":    {size: 5000, known: true, data: jpeg(10), mime: "image/jpeg"},
		"https://upload.example/Unknown.jpg": {known: false, data: jpeg(2000), mime: "image/jpeg"},
		"https://upload.example/NoHead.jpg":  {probeErr: errors.New("405"), data: jpeg(50), mime: "image/jpeg"},
	}}
	p := New(f, Limits{MaxImageBytes: 1000, MaxTotalBytes: 5000, MaxImages: 8}, nil)

	got := p.Admit(context.Background(), []media.ImageDetail{detail("Huge.jpg"), detail("Unknown.jpg"), detail("NoHead.jpg")}, nil)
	if len(got) != 1 || got[0].Title != "nohead.jpg" {
		t.Fatalf("admitted %v", titles(got))
	}
	for _, u := range f.downloads {
		if strings.HasSuffix(u, "Huge.jpg") {
			t.Fatal("image over the probed ceiling should not be downloaded")
		}
	}
}

func TestAdmit_TruncatesToMaxImagesKeepingPrefix(t *testing.T) {
	f := &fakeFetcher{assets: map[string]fakeAsset{}}
	var in []media.ImageDetail
	for _, n := range []string{"A.jpg", "B.jpg", "C.jpg", "D.jpg"} {
		f.assets["https://upload.example/"+n] = fakeAsset{data: jpeg(10), mime: "image/jpeg"}
		in = append(in, detail(n))
	}
	p := New(f, Limits{MaxImageBytes: 1000, MaxTotalBytes: 1 << 20, MaxImages: 2}, nil)

	got := p.Admit(context.Background(), in, nil)
	if strings.Join(titles(got), ",") != "a.jpg,b.jpg" {
		t.Fatalf("admitted %v", titles(got))
	}
}

func TestAdmit_ErrorsAreSkipped(t *testing.T) {
	f := &fakeFetcher{assets: map[string]fakeAsset{
		"https://upload.example/Broken.jpg": {err: errors.New("connection reset")},
		"https://upload.example/Bad.svg":    {data: []byte("<svg><g></svg"), mime: "image/svg+xml"},
		"https://upload.example/Text.jpg":   {data: []byte("<html>not an image</html>"), mime: "text/html"},
		"https://upload.example/Fine.jpg":   {data: jpeg(10), mime: "image/jpeg"},
	}}
	p := New(f, Limits{MaxImageBytes: 1000, MaxTotalBytes: 5000, MaxImages: 8}, nil)

	got := p.Admit(context.Background(), []media.ImageDetail{
		detail("Broken.jpg"), detail("Bad.svg"), detail("Text.jpg"), detail("Fine.jpg"),
	}, nil)
	if len(got) != 1 || got[0].Title != "fine.jpg" {
		t.Fatalf("admitted %v", titles(got))
	}
}

func TestAdmit_SVGIsRasterized(t *testing.T) {
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 40 20"><rect x="0" y="0" width="20" height="20" fill="#000"/></svg>`)
	f := &fakeFetcher{assets: map[string]fakeAsset{
		"https://upload.example/Perceptron Diagram.svg": {data: svg, mime: "image/svg+xml"},
	}}
	p := New(f, Limits{MaxImageBytes: 1 << 20, MaxTotalBytes: 1 << 21, MaxImages: 8}, nil)

	got := p.Admit(context.Background(), []media.ImageDetail{detail("Perceptron Diagram.svg")}, nil)
	if len(got) != 1 {
		t.Fatalf("admitted %d", len(got))
	}
	img := got[0]
	if img.Title != "perceptron_diagram.png" || img.PayloadMIME != "image/png" {
		t.Fatalf("title/mime = %q/%q", img.Title, img.PayloadMIME)
	}
	if !strings.HasPrefix(img.PayloadData, "data:image/png;base64,") {
		t.Fatalf("payload prefix = %q", img.PayloadData[:30])
	}
	decoded, err := png.Decode(bytes.NewReader(img.Data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 40 || b.Dy() != 20 {
		t.Fatalf("canvas = %v, want 40x20", b)
	}
	r, g, bl, a := decoded.At(35, 10).RGBA()
	if r != 0xffff || g != 0xffff || bl != 0xffff || a != 0xffff {
		t.Fatalf("background should be opaque white, got %v %v %v %v", r, g, bl, a)
	}
}

func TestAdmit_BrokenSVGIsSkipped(t *testing.T) {
	f := &fakeFetcher{assets: map[string]fakeAsset{
		"https://upload.example/Error page.svg": {data: []byte("<html>nope</html>"), mime: "image/svg+xml"},
		"https://upload.example/Plain.svg":      {data: []byte("nothing here at all"), mime: "image/svg+xml"},
		"https://upload.example/Empty.svg":      {data: []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><metadata/></svg>`), mime: "image/svg+xml"},
		"https://upload.example/Served.svg":     {data: []byte(`<svg xmlns="http://www.w3.org/2000/svg"><rect width="4" height="4"/></svg>`), mime: "text/html"},
		"https://upload.example/Good.svg":       {data: []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg" width="8" height="8"><rect width="4" height="4"/></svg>`), mime: "image/svg+xml"},
	}}
	p := New(f, Limits{MaxImageBytes: 1 << 20, MaxTotalBytes: 1 << 21, MaxImages: 8}, nil)

	got := p.Admit(context.Background(), []media.ImageDetail{
		detail("Error page.svg"), detail("Plain.svg"), detail("Empty.svg"), detail("Served.svg"), detail("Good.svg"),
	}, nil)
	if strings.Join(titles(got), ",") != "good.png" {
		t.Fatalf("admitted %v", titles(got))
	}
}

func TestRasterizeRejectsNonSVG(t *testing.T) {
	for _, doc := range []string{"<html>nope</html>", "", "<svg>"} {
		if _, err := Rasterize([]byte(doc)); err == nil {
			t.Errorf("%q: expected error", doc)
		}
	}
	if err := checkSVGRoot([]byte(`<?xml version="1.0" encoding="ISO-8859-1"?><!-- drawn --><!DOCTYPE svg><svg/>`)); err != nil {
		t.Fatalf("latin-1 declaration: %v", err)
	}
}

func testBitmap() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 6, 4))
	for x := 0; x < 6; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	return img
}

func TestAdmit_TIFFAndBMPAreTranscoded(t *testing.T) {
	var tif, bm bytes.Buffer
	if err := tiff.Encode(&tif, testBitmap(), nil); err != nil {
		t.Fatal(err)
	}
	if err := bmp.Encode(&bm, testBitmap()); err != nil {
		t.Fatal(err)
	}
	f := &fakeFetcher{assets: map[string]fakeAsset{
		"https://upload.example/Scan.tif":    {data: tif.Bytes(), mime: "image/tiff"},
		"https://upload.example/Old.bmp":     {data: bm.Bytes(), mime: "image/bmp"},
		"https://upload.example/Icon.ico":    {data: jpeg(20), mime: "image/x-icon"},
		"https://upload.example/Corrupt.tif": {data: []byte("II*\x00garbage"), mime: "image/tiff"},
	}}
	p := New(f, Limits{MaxImageBytes: 1 << 20, MaxTotalBytes: 1 << 21, MaxImages: 8}, nil)

	got := p.Admit(context.Background(), []media.ImageDetail{
		detail("Scan.tif"), detail("Old.bmp"), detail("Icon.ico"), detail("Corrupt.tif"),
	}, nil)
	if strings.Join(titles(got), ",") != "scan.png,old.png" {
		t.Fatalf("admitted %v", titles(got))
	}
	for _, img := range got {
		if img.PayloadMIME != "image/png" || !strings.HasPrefix(img.PayloadData, "data:image/png;base64,") {
			t.Fatalf("%s: mime %q", img.Title, img.PayloadMIME)
		}
		decoded, err := png.Decode(bytes.NewReader(img.Data))
		if err != nil {
			t.Fatalf("%s: %v", img.Title, err)
		}
		if b := decoded.Bounds(); b.Dx() != 6 || b.Dy() != 4 {
			t.Fatalf("%s: bounds %v", img.Title, b)
		}
		if n := int64(len(img.Data)); img.PayloadByteEstimate < n || img.PayloadByteEstimate > n+2 {
			t.Fatalf("%s: estimate %d for %d png bytes", img.Title, img.PayloadByteEstimate, n)
		}
	}
}

func TestRasterizeDefaultCanvas(t *testing.T) {
	out, err := Rasterize([]byte(`<svg xmlns="http://www.w3.org/2000/svg"><circle cx="5" cy="5" r="4"/></svg>`))
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if b := decoded.Bounds(); b.Dx() != 300 || b.Dy() != 300 {
		t.Fatalf("canvas = %v, want 300x300", b)
	}
}

func titles(imgs []media.ProcessedImage) []string {
	out := make([]string, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, img.Title)
	}
	return out
}
