package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := NewClient(WithAPIURL(srv.URL+"/w/api.php"), WithUserAgent("test-agent/1.0"))
	return c, srv
}

func TestSearch_Success(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("list") != "search" || q.Get("srnamespace") != "6" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		if q.Get("srlimit") != "3" {
			t.Fatalf("srlimit = %q", q.Get("srlimit"))
		}
		if s := q.Get("srsearch"); !strings.HasPrefix(s, "perceptron diagram ") || !strings.Contains(s, "-filemime:gif") {
			t.Fatalf("srsearch = %q", s)
		}
		if ua := r.Header.Get("User-Agent"); ua != "test-agent/1.0" {
			t.Fatalf("user agent = %q", ua)
		}
		_, _ = w.Write([]byte(`{"query":{"search":[
			{"ns":6,"title":"File:Perceptron.png","pageid":1},
			{"ns":6,"title":"File:Neuron.svg","pageid":2},
			{"ns":6,"title":"File:Layer.jpg","pageid":3},
			{"ns":6,"title":"File:Extra.jpg","pageid":4}]}}`))
	}
	c, srv := newTestClient(t, handler)
	defer srv.Close()

	got := c.Search(context.Background(), "perceptron diagram")
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	if got[0].Title != "File:Perceptron.png" || got[1].PageID != 2 {
		t.Fatalf("unexpected candidates: %+v", got)
	}
}

func TestSearch_ErrorYieldsEmpty(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	defer srv.Close()

	if got := c.Search(context.Background(), "x"); len(got) != 0 {
		t.Fatalf("expected no candidates, got %+v", got)
	}
}

func TestDetail_ParsesMetadata(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("titles") != "File:Perceptron.png" {
			t.Fatalf("titles = %q", r.URL.Query().Get("titles"))
		}
		_, _ = w.Write([]byte(`{"query":{"pages":[{"pageid":1,"title":"File:Perceptron.png","imageinfo":[{
			"url":"https://upload.example/Perceptron.png","mime":"image/png",
			"descriptionurl":"https://commons.example/wiki/File:Perceptron.png",
			"extmetadata":{
				"ImageDescription":{"value":"<p>A single-layer <b>perceptron</b></p>"},
				"LicenseShortName":{"value":"CC BY-SA 4.0"},
				"Artist":{"value":"<a href=\"//x\">Jane Doe</a>"}}}]}]}}`))
	}
	c, srv := newTestClient(t, handler)
	defer srv.Close()

	d, ok := c.Detail(context.Background(), "File:Perceptron.png")
	if !ok {
		t.Fatal("expected detail")
	}
	if d.URL != "https://upload.example/Perceptron.png" || d.MIME != "image/png" {
		t.Fatalf("detail = %+v", d)
	}
	if d.AltText != "A single-layer perceptron" {
		t.Fatalf("alt = %q", d.AltText)
	}
	if d.License != "CC BY-SA 4.0" || d.Attribution != "Jane Doe" {
		t.Fatalf("license/attribution = %q/%q", d.License, d.Attribution)
	}
}

func TestDetail_MissingAndMalformed(t *testing.T) {
	cases := map[string]string{
		"missing":    `{"query":{"pages":[{"title":"File:Gone.png","missing":true}]}}`,
		"no-info":    `{"query":{"pages":[{"title":"File:Odd.png"}]}}`,
		"empty-url":  `{"query":{"pages":[{"title":"File:Odd.png","imageinfo":[{"url":""}]}]}}`,
		"not-json":   `<html>oops</html>`,
		"empty-body": ``,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, ok := parseDetail([]byte(body), "File:X.png"); ok {
				t.Fatalf("expected no detail for %s", name)
			}
		})
	}
}

func TestDetail_Defaults(t *testing.T) {
	body := `{"query":{"pages":[{"title":"File:Plain.jpg","imageinfo":[{"url":"https://u/Plain.jpg","extmetadata":{}}]}]}}`
	d, ok := parseDetail([]byte(body), "File:Plain.jpg")
	if !ok {
		t.Fatal("expected detail")
	}
	if d.License != UnknownLicense {
		t.Fatalf("license = %q", d.License)
	}
	if d.Attribution != "" {
		t.Fatalf("attribution = %q", d.Attribution)
	}
	if d.AltText != "Plain.jpg" {
		t.Fatalf("alt should fall back to title, got %q", d.AltText)
	}
}

func TestProbeAndDownload(t *testing.T) {
	payload := []byte("\x89PNG\r\n\x1a\nfake-png-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()
	c := NewClient()

	size, known, err := c.Probe(context.Background(), srv.URL+"/a.png")
	if err != nil || !known || size != int64(len(payload)) {
		t.Fatalf("probe = %d %v %v", size, known, err)
	}

	data, mime, err := c.Download(context.Background(), srv.URL+"/a.png", 1<<20)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if mime != "image/png" || string(data) != string(payload) {
		t.Fatalf("download = %q %q", mime, data)
	}

	if _, _, err := c.Download(context.Background(), srv.URL+"/a.png", 4); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}
