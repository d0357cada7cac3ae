package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecfs/internal/resource"
)

// DefaultEmbeddingID is the id given to embeddings generated without one.
const DefaultEmbeddingID = "KE"

// Generator produces resource embeddings from a provider bound to one model.
type Generator struct {
	provider Provider
	model    string
	logger   *zap.Logger
	metrics  *Metrics
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithLogger sets the generator logger.
func WithLogger(l *zap.Logger) GeneratorOption {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) GeneratorOption {
	return func(g *Generator) { g.metrics = m }
}

// NewGenerator wraps provider. model names the vectors it produces and is
// recorded on every resource embedded with it.
func NewGenerator(provider Provider, model string, opts ...GeneratorOption) (*Generator, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is nil", ErrInvalidConfig)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: model name required", ErrInvalidConfig)
	}
	g := &Generator{provider: provider, model: model, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = NewMetrics(g.logger)
	}
	return g, nil
}

// NewGeneratorFromConfig builds the provider described by cfg and wraps it.
func NewGeneratorFromConfig(cfg ProviderConfig, opts ...GeneratorOption) (*Generator, error) {
	p, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		switch cfg.Provider {
		case "hashing":
			model = HashingModel
		default:
			model = "BAAI/bge-small-en-v1.5"
		}
	}
	return NewGenerator(p, model, opts...)
}

// Model returns the model name.
func (g *Generator) Model() string { return g.model }

// Dimension returns the vector size of the underlying provider.
func (g *Generator) Dimension() int { return g.provider.Dimension() }

// Close releases the provider.
func (g *Generator) Close() error { return g.provider.Close() }

// GenerateEmbedding embeds a query text under the given embedding id.
func (g *Generator) GenerateEmbedding(ctx context.Context, text, id string) (resource.Embedding, error) {
	start := time.Now()
	vec, err := g.provider.EmbedQuery(ctx, text)
	err = classify(err)
	g.metrics.RecordGeneration(ctx, g.model, "query", time.Since(start), 1, err)
	if err != nil {
		g.logger.Debug("query embedding failed", zap.String("model", g.model), zap.Error(err))
		return resource.Embedding{}, err
	}
	return resource.Embedding{ID: id, Vector: vec}, nil
}

// GenerateEmbeddingDefault embeds text under DefaultEmbeddingID.
func (g *Generator) GenerateEmbeddingDefault(ctx context.Context, text string) (resource.Embedding, error) {
	return g.GenerateEmbedding(ctx, text, DefaultEmbeddingID)
}

// GenerateEmbeddings embeds a batch of document texts. Results keep input
// order and carry ids[i] when ids is non-nil.
func (g *Generator) GenerateEmbeddings(ctx context.Context, texts, ids []string) ([]resource.Embedding, error) {
	if ids != nil && len(ids) != len(texts) {
		return nil, fmt.Errorf("%w: %d ids for %d texts", ErrInvalidConfig, len(ids), len(texts))
	}
	start := time.Now()
	vecs, err := g.provider.EmbedDocuments(ctx, texts)
	if err == nil && len(vecs) != len(texts) {
		err = fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vecs), len(texts))
	}
	err = classify(err)
	g.metrics.RecordGeneration(ctx, g.model, "documents", time.Since(start), len(texts), err)
	if err != nil {
		return nil, err
	}
	out := make([]resource.Embedding, len(vecs))
	for i, v := range vecs {
		out[i].Vector = v
		if ids != nil {
			out[i].ID = ids[i]
		}
	}
	return out, nil
}

// BuildDocument embeds chunks into a new document resource. The resource
// embedding covers the name, description and the leading chunks.
func (g *Generator) BuildDocument(ctx context.Context, name, description, source string, chunks []string) (*resource.Resource, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no content for %q", ErrEmptyInput, name)
	}
	res := resource.New(resource.CleanName(name), description, source, resource.KindDocument)
	embs, err := g.GenerateEmbeddings(ctx, chunks, nil)
	if err != nil {
		return nil, err
	}
	for i, e := range embs {
		if err := res.AppendText("", chunks[i], e.Vector, nil); err != nil {
			return nil, err
		}
	}

	summary := []string{res.Name}
	if description != "" {
		summary = append(summary, description)
	}
	for i := 0; i < len(chunks) && i < 3; i++ {
		summary = append(summary, chunks[i])
	}
	header, err := g.GenerateEmbeddingDefault(ctx, strings.Join(summary, "\n"))
	if err != nil {
		return nil, err
	}
	if err := res.SetEmbedding(header.Vector, g.model); err != nil {
		return nil, err
	}
	res.UpdateMerkleRoot()
	return res, nil
}

func classify(err error) error {
	if err == nil || errors.Is(err, ErrEmbeddingFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
}
