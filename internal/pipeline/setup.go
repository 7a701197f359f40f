package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/phenorank/internal/builder"
	"github.com/dshills/phenorank/internal/embedder"
	"github.com/dshills/phenorank/internal/signature"
	"github.com/dshills/phenorank/internal/termembed"
)

// DefaultKinds are the signature collections Setup builds
var DefaultKinds = []signature.Kind{signature.KindAverage, signature.KindOrgan}

// SetupOptions controls Setup
type SetupOptions struct {
	IngestTerms bool             // Embed ontology terms into the term collection first
	Force       bool             // Rebuild collections that already hold vectors
	Kinds       []signature.Kind // Defaults to DefaultKinds
}

// SetupReport summarises a Setup run
type SetupReport struct {
	Ingest   *termembed.IngestStats // Nil unless IngestTerms was set
	Builds   []*builder.Statistics
	Duration time.Duration
}

// Setup optionally ingests term embeddings and then builds the disease
// signature collections
func (p *Pipeline) Setup(ctx context.Context, opts SetupOptions) (*SetupReport, error) {
	start := time.Now()
	report := &SetupReport{}

	if opts.IngestTerms {
		stats, err := p.IngestTerms(ctx, opts.Force)
		if err != nil {
			return nil, err
		}
		report.Ingest = stats
	}

	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = DefaultKinds
	}
	for _, kind := range kinds {
		stats, err := p.Build(ctx, kind, opts.Force)
		if err != nil {
			return nil, err
		}
		report.Builds = append(report.Builds, stats)
	}

	report.Duration = time.Since(start)
	return report, nil
}

// IngestTerms embeds the ontology's terms into the term collection. A
// populated collection is kept unless force is set.
func (p *Pipeline) IngestTerms(ctx context.Context, force bool) (*termembed.IngestStats, error) {
	if p.embedder == nil {
		return nil, embedder.ErrNoProviderEnabled
	}
	ont, err := p.loadedOntology()
	if err != nil {
		return nil, err
	}

	stats, err := termembed.Ingest(ctx, p.store, p.embedder, ont, termembed.IngestOptions{
		Collection: p.cfg.Collections.Term,
		Metric:     p.cfg.Metric(),
		BatchSize:  p.cfg.Embedding.BatchSize,
		Force:      force,
		Logger:     p.logger.Named("ingest"),
	})
	if err != nil {
		return nil, err
	}
	if !stats.Existing {
		p.resetTermCache()
	}
	return stats, nil
}

// Build computes the signatures of kind for every annotated disease and
// writes them to the kind's collection
func (p *Pipeline) Build(ctx context.Context, kind signature.Kind, force bool) (*builder.Statistics, error) {
	agg, err := p.aggregator(ctx, kind)
	if err != nil {
		return nil, err
	}
	idx, err := p.annotations(ctx)
	if err != nil {
		return nil, err
	}

	stats, err := p.builder.Build(ctx, agg, idx, &builder.Config{
		Collection:      p.cfg.CollectionFor(kind),
		Metric:          p.cfg.Metric(),
		MaxQueryResults: p.cfg.Collections.MaxQueryResults,
		BatchSize:       p.cfg.Build.BatchSize,
		Workers:         p.cfg.Build.Workers,
		Force:           force,
	})
	if err != nil {
		return nil, err
	}
	if !stats.Existing || stats.Reconfigured {
		p.ranker.InvalidateCache()
	}

	p.logger.Info("signature collection ready",
		zap.String("kind", string(kind)),
		zap.String("collection", stats.Collection),
		zap.Int("diseases", stats.Diseases),
		zap.Int("skipped", stats.Skipped),
		zap.Bool("existing", stats.Existing))
	return stats, nil
}
