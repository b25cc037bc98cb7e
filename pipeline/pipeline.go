// Package pipeline runs one question through search, admission, the vision
// model and composition.
package pipeline

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"illustrated_answer/apperr"
	"illustrated_answer/generator"
	"illustrated_answer/logger"
	"illustrated_answer/media"
	"illustrated_answer/publisher"
	"illustrated_answer/vision"
)

const (
	defaultConcurrency   = 8
	defaultMaxCandidates = 15
)

type TermSource interface {
	Generate(ctx context.Context, question string) ([]string, error)
}

// ImageSource finds candidates and resolves them. Neither call returns an
// error; a failed lookup is an empty result.
type ImageSource interface {
	Search(ctx context.Context, term string) []media.Candidate
	Detail(ctx context.Context, title string) (media.ImageDetail, bool)
}

type Admitter interface {
	Admit(ctx context.Context, details []media.ImageDetail, notify func(media.ProcessedImage)) []media.ProcessedImage
}

type Composer interface {
	Compose(raw string, images []media.ProcessedImage) (publisher.Answer, error)
}

type Deps struct {
	// Terms is optional; without it terms come from the vision model using
	// the run's own strategy and key.
	Terms     TermSource
	Images    ImageSource
	Admission Admitter
	Invoker   vision.Answerer
	Composer  Composer
	Log       *logger.Logger
}

type Settings struct {
	Concurrency   int
	MaxCandidates int
}

type Pipeline struct {
	deps     Deps
	settings Settings
	log      *logger.Logger
	tracer   trace.Tracer
}

func New(deps Deps, settings Settings) (*Pipeline, error) {
	if deps.Images == nil || deps.Admission == nil || deps.Invoker == nil || deps.Composer == nil {
		return nil, errors.New("pipeline: images, admission, invoker and composer are required")
	}
	if settings.Concurrency <= 0 {
		settings.Concurrency = defaultConcurrency
	}
	if settings.MaxCandidates <= 0 {
		settings.MaxCandidates = defaultMaxCandidates
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		deps:     deps,
		settings: settings,
		log:      log,
		tracer:   otel.Tracer("illustrated_answer/pipeline"),
	}, nil
}

// Request is one run. Strategy and APIKey are per run; nothing is shared
// between runs.
type Request struct {
	Question string
	APIKey   string
	Strategy vision.Strategy
}

type Result struct {
	Terms     []string               `json:"terms"`
	Images    []media.ProcessedImage `json:"images"`
	RawAnswer string                 `json:"raw_answer"`
	Answer    publisher.Answer       `json:"answer"`
}

// Run executes the pipeline. observer may be nil; it is called from the
// calling goroutine only.
func (p *Pipeline) Run(ctx context.Context, req Request, observer func(Event)) (res Result, err error) {
	emit := func(e Event) {
		if observer != nil {
			observer(e)
		}
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Result{}, apperr.Validation("question is required")
	}
	if req.Strategy == vision.DirectOnly && strings.TrimSpace(req.APIKey) == "" {
		return Result{}, apperr.Validation("an API key is required when the relay is disabled")
	}
	opts := vision.Options{Strategy: req.Strategy, APIKey: req.APIKey}

	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("strategy", req.Strategy.String())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	terms, err := p.generateTerms(ctx, question, opts)
	if err != nil {
		return Result{}, err
	}
	res.Terms = terms
	emit(Event{Kind: EventTerms, Terms: terms, Count: len(terms)})

	candidates := p.search(ctx, terms)
	emit(Event{Kind: EventCandidates, Count: len(candidates)})

	details := p.details(ctx, candidates)
	emit(Event{Kind: EventDetails, Count: len(details)})
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(details) == 0 {
		return Result{}, apperr.EmptyResult()
	}

	res.Images = p.admit(ctx, details, emit)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(res.Images) == 0 {
		return Result{}, apperr.EmptyResult()
	}

	emit(Event{Kind: EventModelCall, Count: len(res.Images)})
	res.RawAnswer, err = p.invoke(ctx, question, res.Images, opts)
	if err != nil {
		return Result{}, err
	}

	res.Answer, err = p.deps.Composer.Compose(res.RawAnswer, res.Images)
	if err != nil {
		return Result{}, err
	}
	emit(Event{Kind: EventDone, Count: len(res.Images)})
	return res, nil
}

func (p *Pipeline) generateTerms(ctx context.Context, question string, opts vision.Options) ([]string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.terms")
	defer span.End()

	src := p.deps.Terms
	if src == nil {
		g, err := generator.NewTermGenerator(vision.TermClient{Invoker: p.deps.Invoker, Options: opts})
		if err != nil {
			return nil, err
		}
		src = g
	}
	terms, err := src.Generate(ctx, question)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("terms", len(terms)))
	p.log.Info("search terms", "terms", terms)
	return terms, nil
}

// search looks up every term with bounded concurrency. Results keep term
// order and are capped at MaxCandidates.
func (p *Pipeline) search(ctx context.Context, terms []string) []media.Candidate {
	ctx, span := p.tracer.Start(ctx, "pipeline.search")
	defer span.End()

	perTerm := make([][]media.Candidate, len(terms))
	var g errgroup.Group
	g.SetLimit(p.settings.Concurrency)
	for i, term := range terms {
		i, term := i, term
		g.Go(func() error {
			perTerm[i] = p.deps.Images.Search(ctx, term)
			return nil
		})
	}
	_ = g.Wait()

	var out []media.Candidate
	for _, c := range perTerm {
		out = append(out, c...)
	}
	if len(out) > p.settings.MaxCandidates {
		out = out[:p.settings.MaxCandidates]
	}
	span.SetAttributes(attribute.Int("candidates", len(out)))
	return out
}

func (p *Pipeline) details(ctx context.Context, candidates []media.Candidate) []media.ImageDetail {
	ctx, span := p.tracer.Start(ctx, "pipeline.details")
	defer span.End()

	type slot struct {
		detail media.ImageDetail
		ok     bool
	}
	slots := make([]slot, len(candidates))
	var g errgroup.Group
	g.SetLimit(p.settings.Concurrency)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			d, ok := p.deps.Images.Detail(ctx, c.Title)
			slots[i] = slot{detail: d, ok: ok}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]media.ImageDetail, 0, len(slots))
	for i, s := range slots {
		if !s.ok {
			p.log.Debug("no detail for candidate", "title", candidates[i].Title)
			continue
		}
		out = append(out, s.detail)
	}
	span.SetAttributes(attribute.Int("details", len(out)))
	return out
}

func (p *Pipeline) admit(ctx context.Context, details []media.ImageDetail, emit func(Event)) []media.ProcessedImage {
	ctx, span := p.tracer.Start(ctx, "pipeline.admission")
	defer span.End()

	images := p.deps.Admission.Admit(ctx, details, func(img media.ProcessedImage) {
		emit(Event{Kind: EventImageAdmitted, Image: &img})
	})
	span.SetAttributes(attribute.Int("admitted", len(images)))
	return images
}

func (p *Pipeline) invoke(ctx context.Context, question string, images []media.ProcessedImage, opts vision.Options) (string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.model_call")
	defer span.End()

	raw, err := p.deps.Invoker.Invoke(ctx, vision.BuildRequest(question, images), opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return raw, nil
}
