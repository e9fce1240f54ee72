// Package metadata recovers book metadata from an uploaded EPUB through an
// ordered set of fail-soft stages.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kevinaaaquil/booknook/backend/metrics"
	"github.com/kevinaaaquil/booknook/backend/models"
	"github.com/kevinaaaquil/booknook/backend/service"
	"github.com/kevinaaaquil/booknook/backend/signature"
	"github.com/kevinaaaquil/booknook/backend/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// ErrStageSkipped means a stage had nothing to contribute.
var ErrStageSkipped = errors.New("metadata: stage skipped")

const defaultStageTimeout = 15 * time.Second

// BookFinder is the store query the internal cross-reference stage needs.
type BookFinder interface {
	FindBooks(ctx context.Context, q store.BookQuery) ([]models.Book, error)
}

// Input is one file to extract from.
type Input struct {
	Filename string
	Data     []byte
	// Viewer scopes the internal cross-reference to books the uploader can see.
	Viewer primitive.ObjectID
	// Exclude keeps a book from matching itself on refresh.
	Exclude []primitive.ObjectID
}

// Partial is what one stage contributes.
type Partial struct {
	Fields Fields
	// Provisional marks the filename seed; any later stage may replace it.
	Provisional bool
	// Override replaces prior fields instead of filling gaps.
	Override       bool
	Confidence     float64
	Methods        []string
	ContentTitle   string
	ContentAuthor  string
	Cover          []byte
	CoverMediaType string
	Sample         string
}

// view is the read-only snapshot a stage runs against.
type view struct {
	Fields
	provisionalTitle  bool
	provisionalAuthor bool
	sample            string
	in                Input
}

type stage struct {
	name string
	run  func(ctx context.Context, v view) (*Partial, error)
}

type Options struct {
	Catalog      service.Catalog
	Books        BookFinder
	Signatures   *signature.Registry
	StageTimeout time.Duration
	Logger       *zap.Logger
}

// Pipeline runs the extraction stages in order. It is safe for concurrent use.
type Pipeline struct {
	catalog    service.Catalog
	books      BookFinder
	signatures *signature.Registry
	timeout    time.Duration
	log        *zap.Logger
	stages     []stage
}

func New(opts Options) *Pipeline {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = defaultStageTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	p := &Pipeline{
		catalog:    opts.Catalog,
		books:      opts.Books,
		signatures: opts.Signatures,
		timeout:    opts.StageTimeout,
		log:        opts.Logger.Named("metadata"),
	}
	p.stages = []stage{
		{"filename", p.filenameStage},
		{"structure", p.structureStage},
		{"package", p.packageStage},
		{"signature", p.signatureStage},
		{"catalog", p.catalogStage},
		{"internal", p.internalStage},
		{"analysis", p.analysisStage},
	}
	return p
}

// Extract never fails: a stage that errors, panics or times out is skipped
// and the result always carries a title and an author.
func (p *Pipeline) Extract(ctx context.Context, in Input) *Result {
	start := time.Now()
	res := &Result{}
	var sample string
	for _, s := range p.stages {
		v := view{
			Fields:            res.Fields,
			provisionalTitle:  res.provisionalTitle,
			provisionalAuthor: res.provisionalAuthor,
			sample:            sample,
			in:                in,
		}
		part, err := p.runStage(ctx, s, v)
		switch {
		case errors.Is(err, ErrStageSkipped):
			metrics.ExtractionStages.WithLabelValues(s.name, "skipped").Inc()
			continue
		case err != nil:
			metrics.ExtractionStages.WithLabelValues(s.name, "failed").Inc()
			p.log.Warn("extraction stage failed",
				zap.String("stage", s.name),
				zap.String("file", in.Filename),
				zap.Error(err))
			continue
		case part == nil:
			metrics.ExtractionStages.WithLabelValues(s.name, "skipped").Inc()
			continue
		}
		metrics.ExtractionStages.WithLabelValues(s.name, "applied").Inc()
		if part.Sample != "" {
			sample = part.Sample
		}
		res.apply(part)
	}
	res.ensureFloor(in.Filename)
	metrics.ExtractionDuration.Observe(time.Since(start).Seconds())
	p.log.Debug("metadata extracted",
		zap.String("file", in.Filename),
		zap.String("title", res.Title),
		zap.Strings("methods", res.ExtractionMethods))
	return res
}

func (r *Result) apply(part *Partial) {
	switch {
	case part.Provisional:
		if part.Fields.Title != "" {
			r.Title = part.Fields.Title
			r.provisionalTitle = true
		}
		if part.Fields.Author != "" {
			r.Author = part.Fields.Author
			r.provisionalAuthor = true
		}
	case part.Override:
		r.override(part.Fields)
	default:
		r.fill(part.Fields)
	}
	if part.Confidence > 0 {
		r.Confidence = part.Confidence
	}
	if part.ContentTitle != "" {
		r.ContentExtractedTitle = part.ContentTitle
	}
	if part.ContentAuthor != "" {
		r.ContentExtractedAuthor = part.ContentAuthor
	}
	if len(part.Cover) > 0 {
		r.Cover = part.Cover
		r.CoverMediaType = part.CoverMediaType
	}
	r.addMethods(part.Methods...)
}

// runStage bounds one stage by the stage timeout and turns a panic into an error.
func (p *Pipeline) runStage(ctx context.Context, s stage, v view) (*Partial, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type outcome struct {
		part *Partial
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("stage %s panicked: %v", s.name, r)}
			}
		}()
		part, err := s.run(ctx, v)
		done <- outcome{part: part, err: err}
	}()

	select {
	case o := <-done:
		return o.part, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
