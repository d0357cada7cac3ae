package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecfs/internal/resource"
)

func TestHashingProvider(t *testing.T) {
	ctx := context.Background()

	_, err := NewHashingProvider(0)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	p, err := NewHashingProvider(512)
	require.NoError(t, err)
	assert.Equal(t, 512, p.Dimension())

	a, err := p.EmbedQuery(ctx, "Shinkai is built by a distributed team")
	require.NoError(t, err)
	b, err := p.EmbedQuery(ctx, "Shinkai is built by a distributed team")
	require.NoError(t, err)
	assert.Equal(t, a, b, "vectors must be deterministic")
	assert.Len(t, a, 512)

	related, err := p.EmbedQuery(ctx, "Who is building Shinkai?")
	require.NoError(t, err)
	unrelated, err := p.EmbedQuery(ctx, "banana bread recipe with walnuts")
	require.NoError(t, err)
	assert.Greater(t, resource.CosineSimilarity(a, related), resource.CosineSimilarity(a, unrelated))

	_, err = p.EmbedQuery(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = p.EmbedDocuments(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	docs, err := p.EmbedDocuments(ctx, []string{"one", "two"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestHashingProviderNormalized(t *testing.T) {
	p, err := NewHashingProvider(64)
	require.NoError(t, err)
	v, err := p.EmbedQuery(context.Background(), "vector resources in folders")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, resource.CosineSimilarity(v, v), 1e-5)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-4)
}

func newTEIServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") == "Bearer bad" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req struct {
			Inputs json.RawMessage `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var batch []string
		if err := json.Unmarshal(req.Inputs, &batch); err != nil {
			batch = []string{""}
		}
		out := make([][]float32, len(batch))
		for i := range out {
			out[i] = make([]float32, dim)
			out[i][i%dim] = 1
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
}

func TestServiceEmbeds(t *testing.T) {
	srv := newTEIServer(t, 4)
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL, Model: "BAAI/bge-small-en-v1.5"})
	require.NoError(t, err)

	vecs, err := svc.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{0, 1, 0, 0}, vecs[1])

	q, err := svc.EmbedQuery(context.Background(), "query")
	require.NoError(t, err)
	assert.Len(t, q, 4)

	_, err = svc.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestServiceSplitsBatches(t *testing.T) {
	var requests atomic.Int32
	inner := newTEIServer(t, 4)
	defer inner.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		inner.Config.Handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL + "/", MaxBatch: 2})
	require.NoError(t, err)

	vecs, err := svc.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, []float32{1, 0, 0, 0}, vecs[2], "third text is first of the second batch")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.EmbedDocuments(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewService(Config{BaseURL: srv.URL, MaxBatch: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestServiceErrors(t *testing.T) {
	srv := newTEIServer(t, 4)
	defer srv.Close()

	_, err := NewService(Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	svc, err := NewService(Config{BaseURL: srv.URL, APIKey: "bad"})
	require.NoError(t, err)
	_, err = svc.EmbedQuery(context.Background(), "query")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "401")
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	p, err := NewProvider(ProviderConfig{Provider: "hashing", Dimension: 32})
	require.NoError(t, err)
	assert.Equal(t, 32, p.Dimension())

	p, err = NewProvider(ProviderConfig{Provider: "hashing", Model: "BAAI/bge-base-en-v1.5"})
	require.NoError(t, err)
	assert.Equal(t, 768, p.Dimension())

	p, err = NewProvider(ProviderConfig{Provider: "tei", BaseURL: "http://localhost:1", Model: "BAAI/bge-small-en-v1.5"})
	require.NoError(t, err)
	assert.Equal(t, 384, p.Dimension())
	assert.NoError(t, p.Close())

	p, err = NewProvider(ProviderConfig{Provider: "hashing", Dimension: 8, RateLimit: 100, Burst: 2})
	require.NoError(t, err)
	_, ok := p.(*RateLimited)
	assert.True(t, ok)
}

func TestRateLimitedHonorsContext(t *testing.T) {
	inner, err := NewHashingProvider(8)
	require.NoError(t, err)
	rl := NewRateLimited(inner, 0.001, 1)

	_, err = rl.EmbedQuery(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = rl.EmbedQuery(ctx, "second")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Equal(t, 8, rl.Dimension())
}

type failingProvider struct{ *HashingProvider }

func (failingProvider) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, errors.New("model crashed")
}

func TestGenerator(t *testing.T) {
	ctx := context.Background()
	p, err := NewHashingProvider(32)
	require.NoError(t, err)

	_, err = NewGenerator(nil, "m")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewGenerator(p, "")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	g, err := NewGenerator(p, HashingModel, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	assert.Equal(t, HashingModel, g.Model())
	assert.Equal(t, 32, g.Dimension())

	e, err := g.GenerateEmbeddingDefault(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, DefaultEmbeddingID, e.ID)
	assert.Len(t, e.Vector, 32)

	embs, err := g.GenerateEmbeddings(ctx, []string{"a b", "c d"}, []string{"x", "y"})
	require.NoError(t, err)
	require.Len(t, embs, 2)
	assert.Equal(t, "y", embs[1].ID)

	_, err = g.GenerateEmbeddings(ctx, []string{"a"}, []string{"x", "y"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad, err := NewGenerator(failingProvider{p}, "broken")
	require.NoError(t, err)
	_, err = bad.GenerateEmbeddingDefault(ctx, "anything")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestGeneratorBuildDocument(t *testing.T) {
	g, err := NewGeneratorFromConfig(ProviderConfig{Provider: "hashing", Dimension: 64})
	require.NoError(t, err)
	assert.Equal(t, HashingModel, g.Model())

	res, err := g.BuildDocument(context.Background(), "shinkai_intro.pdf", "intro", "upload",
		[]string{"Shinkai is an AI platform.", "It is built by the Shinkai team.", "Agents run locally."})
	require.NoError(t, err)
	assert.Equal(t, "shinkai_intro", res.Name)
	assert.Equal(t, 3, res.NodeCount())
	assert.Equal(t, HashingModel, res.EmbeddingModel)
	assert.Equal(t, "RE", res.Embedding.ID)
	assert.True(t, res.VerifyMerkleRoot())

	_, err = g.BuildDocument(context.Background(), "empty", "", "", nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestMetricsRecordGeneration(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m := NewMetricsWithMeter(mp.Meter("test"), zap.NewNop())
	ctx := context.Background()
	m.RecordGeneration(ctx, "model", "query", 5*time.Millisecond, 1, nil)
	m.RecordGeneration(ctx, "model", "query", 5*time.Millisecond, 1, errors.New("boom"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			names[md.Name] = true
			if md.Name == "vecfs.embedding.errors_total" {
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1)
				assert.Equal(t, int64(1), sum.DataPoints[0].Value)
			}
		}
	}
	assert.True(t, names["vecfs.embedding.duration_seconds"])
	assert.True(t, names["vecfs.embedding.batch_size"])
	assert.True(t, names["vecfs.embedding.errors_total"])

	var nilMetrics *Metrics
	nilMetrics.RecordGeneration(ctx, "m", "op", time.Second, 1, nil)
}
