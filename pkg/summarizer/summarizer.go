// Package summarizer wraps the external AI service that turns a topic into
// brief-ready prose. Callers treat it as a black box: one request, one
// generated artifact, errors surfaced as upstream failures.
package summarizer

import (
	"context"
	"time"

	"newsbrief-backend/pkg/config"

	"go.uber.org/fx"
)

type Request struct {
	Topic       string
	TargetWords int
	Locale      string
}

type Source struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Origin      string    `json:"origin"`
	PublishedAt time.Time `json:"published_at"`
}

type Result struct {
	Summary  string
	Metadata map[string]any
	Sources  []Source
}

type Summarizer interface {
	Summarize(ctx context.Context, req Request) (*Result, error)
}

var Module = fx.Module("summarizer",
	fx.Provide(New),
)

func New(cfg *config.Config) Summarizer {
	return NewHTTPSummarizer(cfg)
}
