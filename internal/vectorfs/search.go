package vectorfs

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/vecfs/internal/resource"
	"github.com/fyrsmithlabs/vecfs/internal/vrpath"
)

// ScoredItem is an item found by header search. Only the header of the
// resource is exposed.
type ScoredItem struct {
	Path   vrpath.Path     `json:"path"`
	Name   string          `json:"name"`
	Header resource.Header `json:"header"`
	Score  float32         `json:"score"`
}

// RetrievedNode is a resource node found by deep search together with the
// path of the item holding it.
type RetrievedNode struct {
	resource.RetrievedNode
	Path vrpath.Path `json:"path"`
}

// GenerateQueryEmbedding embeds query with the store embedder.
func (s *Store) GenerateQueryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrEmbeddingGeneration)
	}
	e, err := s.embedder.GenerateEmbeddingDefault(ctx, query)
	if err != nil {
		if errors.Is(err, ErrEmbeddingGeneration) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingGeneration, err)
	}
	return e.Vector, nil
}

func (s *Store) recordSearch(ctx context.Context, kind string, start time.Time) {
	if s.searchLatency != nil {
		s.searchLatency.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// rankItems scores every item under r.Path() that keep accepts, in traversal
// order, and sorts them by descending score keeping that order for ties.
func rankItems(in *internals, r *Reader, query []float32, keep func(*Item) bool) ([]*Item, []float32, error) {
	e, ok := entryAt(in.Root, r.path)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, r.path)
	}
	var items []*Item
	switch e := e.(type) {
	case *Folder:
		e.walkItems(func(it *Item) {
			if keep(it) {
				items = append(items, it)
			}
		})
	case *Item:
		if keep(e) {
			items = append(items, e)
		}
	}
	scores := make([]float32, len(items))
	for i, it := range items {
		scores[i] = it.Resource.ScoreHeader(query)
	}
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	sortedItems := make([]*Item, len(items))
	sortedScores := make([]float32, len(items))
	for i, idx := range order {
		sortedItems[i] = items[idx]
		sortedScores[i] = scores[idx]
	}
	return sortedItems, sortedScores, nil
}

func truncate(n, length int) int {
	if n > 0 && n < length {
		return n
	}
	return length
}

// VectorSearchFSItem embeds query and runs VectorSearchFSItemWithEmbedding.
func (s *Store) VectorSearchFSItem(ctx context.Context, r *Reader, query string, n int) ([]ScoredItem, error) {
	vec, err := s.GenerateQueryEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.VectorSearchFSItemWithEmbedding(ctx, r, vec, n)
}

// VectorSearchFSItemWithEmbedding ranks the headers of every item under
// r.Path() visible to the reader and returns the top n. A non-positive n
// returns all of them.
func (s *Store) VectorSearchFSItemWithEmbedding(ctx context.Context, r *Reader, query []float32, n int) (out []ScoredItem, err error) {
	ctx, span := s.start(ctx, "vector_search_fs_item", r.profile, r.path)
	defer func() { s.finish(ctx, span, "vector_search_fs_item", err) }()
	defer s.recordSearch(ctx, "header", time.Now())

	err = s.view(ctx, r.profile, func(in *internals) error {
		items, scores, err := rankItems(in, r, query, func(it *Item) bool {
			return in.Index.HeaderVisible(r.requester, it.Path)
		})
		if err != nil {
			return err
		}
		limit := truncate(n, len(items))
		out = make([]ScoredItem, 0, limit)
		for i := 0; i < limit; i++ {
			out = append(out, ScoredItem{
				Path:   items[i].Path,
				Name:   items[i].Name,
				Header: items[i].Header(),
				Score:  scores[i],
			})
		}
		return nil
	})
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, err
}

// VectorSearchHeader is VectorSearchFSItem returning only the headers.
func (s *Store) VectorSearchHeader(ctx context.Context, r *Reader, query string, n int) ([]resource.Header, error) {
	items, err := s.VectorSearchFSItem(ctx, r, query, n)
	if err != nil {
		return nil, err
	}
	out := make([]resource.Header, len(items))
	for i, it := range items {
		out[i] = it.Header
	}
	return out, nil
}

// VectorSearchResource embeds query and returns the n resources under
// r.Path() with the best matching headers among those whose content the
// reader may read.
func (s *Store) VectorSearchResource(ctx context.Context, r *Reader, query string, n int) ([]*resource.Resource, error) {
	vec, err := s.GenerateQueryEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.VectorSearchResourceWithEmbedding(ctx, r, vec, n)
}

// VectorSearchResourceWithEmbedding is VectorSearchResource for a precomputed
// query embedding.
func (s *Store) VectorSearchResourceWithEmbedding(ctx context.Context, r *Reader, query []float32, n int) (out []*resource.Resource, err error) {
	ctx, span := s.start(ctx, "vector_search_resource", r.profile, r.path)
	defer func() { s.finish(ctx, span, "vector_search_resource", err) }()
	defer s.recordSearch(ctx, "resource", time.Now())

	err = s.view(ctx, r.profile, func(in *internals) error {
		items, _, err := rankItems(in, r, query, func(it *Item) bool {
			return in.Index.CanReadAt(r.requester, it.Path)
		})
		if err != nil {
			return err
		}
		limit := truncate(n, len(items))
		out = make([]*resource.Resource, limit)
		for i := 0; i < limit; i++ {
			out[i] = items[i].Resource.Clone()
		}
		return nil
	})
	return out, err
}

// DeepVectorSearch embeds query and runs DeepVectorSearchWithEmbedding.
func (s *Store) DeepVectorSearch(ctx context.Context, r *Reader, query string, maxFilesToScan, maxResults int) ([]RetrievedNode, error) {
	vec, err := s.GenerateQueryEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.DeepVectorSearchWithEmbedding(ctx, r, vec, maxFilesToScan, maxResults)
}

// DeepVectorSearchWithEmbedding takes the maxFilesToScan best header matches
// under r.Path(), keeps those whose content the reader may read, and scores
// every node inside them. A node score gains a bonus of a fifth of its item
// header score, capped at 0.2. The best maxResults nodes across all scanned
// items are returned; ties keep item rank then node order.
func (s *Store) DeepVectorSearchWithEmbedding(ctx context.Context, r *Reader, query []float32, maxFilesToScan, maxResults int) (out []RetrievedNode, err error) {
	ctx, span := s.start(ctx, "deep_vector_search", r.profile, r.path)
	defer func() { s.finish(ctx, span, "deep_vector_search", err) }()
	defer s.recordSearch(ctx, "deep", time.Now())

	err = s.view(ctx, r.profile, func(in *internals) error {
		items, scores, err := rankItems(in, r, query, func(it *Item) bool {
			return in.Index.HeaderVisible(r.requester, it.Path)
		})
		if err != nil {
			return err
		}
		limit := truncate(maxFilesToScan, len(items))
		items, scores = items[:limit], scores[:limit]

		perItem := make([][]RetrievedNode, len(items))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i, it := range items {
			if !in.Index.CanReadAt(r.requester, it.Path) {
				continue
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				nodes := it.Resource.ExhaustiveSearch(query)
				found := make([]RetrievedNode, len(nodes))
				for j, n := range nodes {
					n.Score = resource.HeaderWeightedScore(n.Score, scores[i])
					found[j] = RetrievedNode{RetrievedNode: n, Path: it.Path}
				}
				perItem[i] = found
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for _, nodes := range perItem {
			out = append(out, nodes...)
		}
		sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
		if maxResults > 0 && len(out) > maxResults {
			out = out[:maxResults]
		}
		return nil
	})
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, err
}
