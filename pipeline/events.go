package pipeline

import "illustrated_answer/media"

type EventKind string

const (
	EventTerms         EventKind = "terms"
	EventCandidates    EventKind = "candidates"
	EventDetails       EventKind = "details"
	EventImageAdmitted EventKind = "image_admitted"
	EventModelCall     EventKind = "model_call"
	EventDone          EventKind = "done"
)

// Event reports progress to a presentation layer. Image is set only for
// EventImageAdmitted.
type Event struct {
	Kind  EventKind             `json:"kind"`
	Terms []string              `json:"terms,omitempty"`
	Count int                   `json:"count"`
	Image *media.ProcessedImage `json:"image,omitempty"`
}

// Preview is the part of an admitted image a UI shows while the answer is
// still being generated.
type Preview struct {
	Title   string `json:"title"`
	AltText string `json:"alt_text"`
	License string `json:"license"`
	Src     string `json:"src"`
}

func (e Event) Preview() (Preview, bool) {
	if e.Image == nil {
		return Preview{}, false
	}
	return Preview{
		Title:   e.Image.Title,
		AltText: e.Image.AltText,
		License: e.Image.License,
		Src:     e.Image.PayloadData,
	}, true
}
