// Package store persists shared answers and counts their views.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("share not found")

// Share is a composed answer saved under a public id.
type Share struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	AnswerHTML string    `json:"answer_html"`
	Summary    string    `json:"summary,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Views      int64     `json:"views"`
}

type ViewCounter interface {
	IncrementViews(ctx context.Context, id string) (int64, error)
}

type ShareRepo interface {
	Insert(ctx context.Context, s Share) error
	Get(ctx context.Context, id string) (Share, error)
	ViewCounter
}

// NewShare fills in an id and timestamp.
func NewShare(question, answerHTML, summary string) Share {
	return Share{
		ID:         uuid.NewString(),
		Question:   strings.TrimSpace(question),
		AnswerHTML: answerHTML,
		Summary:    summary,
		CreatedAt:  time.Now().UTC(),
	}
}

// ValidID reports whether id looks like one NewShare produced.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
