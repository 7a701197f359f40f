package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/phenorank/internal/annotation"
	"github.com/dshills/phenorank/internal/builder"
	"github.com/dshills/phenorank/internal/config"
	"github.com/dshills/phenorank/internal/embedder"
	"github.com/dshills/phenorank/internal/ontology"
	"github.com/dshills/phenorank/internal/ranker"
	"github.com/dshills/phenorank/internal/signature"
	"github.com/dshills/phenorank/internal/storage"
	"github.com/dshills/phenorank/internal/termembed"
	"github.com/dshills/phenorank/pkg/types"
)

// Options configures a Pipeline
type Options struct {
	Config   *config.Config
	Store    storage.Storage
	Embedder embedder.Embedder // Needed only for term ingestion
	Logger   *zap.Logger
}

// Pipeline loads the ranking inputs once and serves builds and queries
type Pipeline struct {
	cfg      *config.Config
	store    storage.Storage
	embedder embedder.Embedder
	logger   *zap.Logger
	builder  *builder.Builder
	ranker   *ranker.Ranker

	mu         sync.Mutex
	terms      *termembed.Cache
	index      *annotation.Index
	ontology   *ontology.Ontology
	classifier *ontology.Classifier
}

// New creates a pipeline. Nothing is loaded until first use or Initialize.
func New(opts Options) (*Pipeline, error) {
	if opts.Config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if opts.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		cfg:      opts.Config,
		store:    opts.Store,
		embedder: opts.Embedder,
		logger:   logger,
		builder:  builder.New(opts.Store, logger.Named("builder")),
		ranker: ranker.NewRanker(opts.Store, ranker.Options{
			ProbeLowerBound: opts.Config.Query.ProbeLowerBound,
			CacheSize:       opts.Config.Query.CacheSize,
			Logger:          logger.Named("ranker"),
		}),
	}, nil
}

// Config returns the pipeline configuration
func (p *Pipeline) Config() *config.Config {
	return p.cfg
}

// Initialize loads the term embeddings, the disease annotations and the
// ontology with its organ-system classifier
func (p *Pipeline) Initialize(ctx context.Context) error {
	start := time.Now()

	cache, err := p.termCache(ctx)
	if err != nil {
		return err
	}
	idx, err := p.annotations(ctx)
	if err != nil {
		return err
	}
	cls, err := p.organClassifier()
	if err != nil {
		return err
	}

	p.logger.Info("pipeline initialized",
		zap.Int("terms", cache.Len()),
		zap.Int("diseases", idx.Len()),
		zap.Int("clusters", len(cls.Clusters())),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Building reports whether a signature build is running
func (p *Pipeline) Building() bool {
	return p.builder.Building()
}

// termCache loads the term collection once. A failed load is retried on the
// next call with a fresh cache.
func (p *Pipeline) termCache(ctx context.Context) (*termembed.Cache, error) {
	p.mu.Lock()
	if p.terms == nil {
		p.terms = termembed.NewCache(p.store, p.cfg.Collections.Term, p.logger.Named("terms"))
	}
	cache := p.terms
	p.mu.Unlock()

	if err := cache.Load(ctx); err != nil {
		p.mu.Lock()
		if p.terms == cache {
			p.terms = nil
		}
		p.mu.Unlock()
		return nil, fmt.Errorf("failed to load term embeddings: %w", err)
	}
	return cache, nil
}

// resetTermCache drops loaded term embeddings so the next use reloads them
func (p *Pipeline) resetTermCache() {
	p.mu.Lock()
	p.terms = nil
	p.mu.Unlock()
}

func (p *Pipeline) loadedOntology() (*ontology.Ontology, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadOntologyLocked()
}

func (p *Pipeline) loadOntologyLocked() (*ontology.Ontology, error) {
	if p.ontology != nil {
		return p.ontology, nil
	}
	if p.cfg.Data.Ontology == "" {
		return nil, errors.New("data.ontology is not configured")
	}
	start := time.Now()
	ont, err := ontology.LoadFile(p.cfg.Data.Ontology)
	if err != nil {
		return nil, err
	}
	p.ontology = ont
	p.logger.Info("loaded ontology",
		zap.String("path", p.cfg.Data.Ontology),
		zap.Int("terms", ont.Len()),
		zap.Duration("duration", time.Since(start)))
	return ont, nil
}

func (p *Pipeline) organClassifier() (*ontology.Classifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.classifier != nil {
		return p.classifier, nil
	}
	ont, err := p.loadOntologyLocked()
	if err != nil {
		return nil, err
	}
	cls, err := ontology.NewClassifier(ont, ontology.ClassifierOptions{
		Root:     types.TermID(p.cfg.Data.ClusterRoot),
		Clusters: p.cfg.Clusters(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create organ classifier: %w", err)
	}
	p.classifier = cls
	return cls, nil
}

// annotations loads the disease-to-terms index from the annotation file, or
// from the annotation collection when no file is configured
func (p *Pipeline) annotations(ctx context.Context) (*annotation.Index, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.index != nil {
		return p.index, nil
	}

	start := time.Now()
	var idx *annotation.Index
	var source string
	if path := p.cfg.Data.Annotations; path != "" {
		loaded, err := annotation.LoadFile(path, annotation.ParseOptions{
			DiseasePrefixes: p.cfg.Data.DiseasePrefixes,
			ExcludeNegated:  p.cfg.Data.ExcludeNegated,
		})
		if err != nil {
			return nil, err
		}
		idx, source = loaded, path
	} else {
		name := p.cfg.Data.AnnotationCollection
		coll, err := p.store.GetCollection(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("annotation collection %q: %w", name, err)
		}
		records, err := p.store.ListVectors(ctx, coll.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list annotation records: %w", err)
		}
		idx = annotation.FromRecords(records)
		if idx.Len() == 0 {
			return nil, fmt.Errorf("%q: %w", name, annotation.ErrEmptyIndex)
		}
		source = name
	}

	p.index = idx
	p.logger.Info("loaded disease annotations",
		zap.String("source", source),
		zap.Int("diseases", idx.Len()),
		zap.Int("annotations", idx.Annotations()),
		zap.Duration("duration", time.Since(start)))
	return idx, nil
}

// aggregator returns the signature strategy for kind over the loaded terms
func (p *Pipeline) aggregator(ctx context.Context, kind signature.Kind) (signature.Aggregator, error) {
	cache, err := p.termCache(ctx)
	if err != nil {
		return nil, err
	}
	switch kind {
	case signature.KindAverage:
		return signature.NewMean(cache), nil
	case signature.KindOrgan:
		cls, err := p.organClassifier()
		if err != nil {
			return nil, err
		}
		return signature.NewClustered(cache, cls), nil
	default:
		return nil, fmt.Errorf("unknown signature kind %q", kind)
	}
}
