package vectorfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/vecfs/internal/permission"
	"github.com/fyrsmithlabs/vecfs/internal/resource"
	"github.com/fyrsmithlabs/vecfs/internal/vrpath"
)

func seedLibrary(f *fixture) {
	f.t.Helper()
	f.mkdir("/", "library")
	f.mkdir("/library", "kitchen")
	f.save("/library", shinkaiIntro(f))
	f.save("/library/kitchen", f.doc("pasta.md",
		"Boil salted water and cook the pasta until al dente.",
		"Toss with olive oil, garlic and parmesan.",
	))
	f.save("/library", f.doc("weather",
		"Tomorrow brings heavy rain over the northern coast.",
		"Temperatures drop below freezing overnight.",
	))
}

func (f *fixture) readerAs(id permission.Identity, path string) (*Reader, error) {
	return f.store.NewReader(f.ctx, id, vrpath.MustParse(path), testProfile)
}

func TestHeaderSearchRanksRelevantItemFirst(t *testing.T) {
	f := newFixture(t)
	seedLibrary(f)

	found, err := f.store.VectorSearchFSItem(f.ctx, f.reader("/"), "Who is building Shinkai?", 10)
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, "/library/shinkai_intro", found[0].Path.String())
	assert.Equal(t, "shinkai_intro", found[0].Header.Name)
	for i := 1; i < len(found); i++ {
		assert.GreaterOrEqual(t, found[i-1].Score, found[i].Score)
	}

	top, err := f.store.VectorSearchFSItem(f.ctx, f.reader("/"), "pasta with garlic", 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "/library/kitchen/pasta", top[0].Path.String())

	headers, err := f.store.VectorSearchHeader(f.ctx, f.reader("/library/kitchen"), "pasta", 0)
	require.NoError(t, err)
	require.Len(t, headers, 1, "search is scoped to the reader path")
	assert.Equal(t, "pasta", headers[0].Name)

	resources, err := f.store.VectorSearchResource(f.ctx, f.reader("/"), "rain and freezing temperatures", 1)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "weather", resources[0].Name)
	assert.Equal(t, 2, resources[0].NodeCount())
}

func TestSearchFromItemPath(t *testing.T) {
	f := newFixture(t)
	seedLibrary(f)

	found, err := f.store.VectorSearchFSItem(f.ctx, f.reader("/library/weather"), "shinkai", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "/library/weather", found[0].Path.String())
}

func TestDeepSearch(t *testing.T) {
	f := newFixture(t)
	seedLibrary(f)

	nodes, err := f.store.DeepVectorSearch(f.ctx, f.reader("/"), "Who is building Shinkai?", 3, 10)
	require.NoError(t, err)
	require.NotEmpty(t, nodes)
	assert.Equal(t, "/library/shinkai_intro", nodes[0].Path.String())
	assert.Contains(t, nodes[0].Node.Text, "Shinkai")
	assert.Len(t, nodes, 7, "every node of the three scanned items")
	for i := 1; i < len(nodes); i++ {
		assert.GreaterOrEqual(t, nodes[i-1].Score, nodes[i].Score)
	}

	limited, err := f.store.DeepVectorSearch(f.ctx, f.reader("/"), "Who is building Shinkai?", 1, 10)
	require.NoError(t, err)
	assert.Len(t, limited, 3, "only the best matching item is scanned")
	for _, n := range limited {
		assert.Equal(t, "/library/shinkai_intro", n.Path.String())
	}

	capped, err := f.store.DeepVectorSearch(f.ctx, f.reader("/"), "Who is building Shinkai?", 3, 2)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
	assert.Equal(t, nodes[:2], capped)
}

func TestDeepSearchWeightsHeaderScore(t *testing.T) {
	f := newFixture(t)
	seedLibrary(f)

	query, err := f.store.GenerateQueryEmbedding(f.ctx, "Who is building Shinkai?")
	require.NoError(t, err)

	items, err := f.store.VectorSearchFSItemWithEmbedding(f.ctx, f.reader("/"), query, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	res, err := f.store.RetrieveResource(f.ctx, f.reader(items[0].Path.String()))
	require.NoError(t, err)

	var best float32 = -2
	for _, n := range res.ExhaustiveSearch(query) {
		if s := resource.HeaderWeightedScore(n.Score, items[0].Score); s > best {
			best = s
		}
	}
	nodes, err := f.store.DeepVectorSearchWithEmbedding(f.ctx, f.reader("/"), query, 1, 1)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.InDelta(t, best, nodes[0].Score, 1e-6)
}

func TestRetrieveFolderHidesUngrantedContent(t *testing.T) {
	f := newFixture(t)
	f.mkdir("/", "a")
	sources := resource.SourceFileMap{"doc.txt": {Name: "doc.txt", Type: "text/plain", Data: []byte("secret body text")}}
	_, err := f.store.SaveResource(f.ctx, f.writer("/a"), f.doc("doc", "secret body text"), sources)
	require.NoError(t, err)
	f.save("/a", f.doc("open", "public notes"))

	require.NoError(t, f.store.SetWhitelistPermission(f.ctx, f.writer("/a"), bob, permission.Read))
	require.NoError(t, f.store.SetWhitelistPermission(f.ctx, f.writer("/a/open"), bob, permission.Read))

	folder, err := f.readerAs(bob, "/a")
	require.NoError(t, err)
	got, err := f.store.RetrieveFolder(f.ctx, folder)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)

	hidden := got.Items["doc"]
	assert.Equal(t, "doc", hidden.Resource.Name)
	assert.NotEmpty(t, hidden.Resource.MerkleRoot)
	assert.Empty(t, hidden.Resource.Nodes)
	assert.Nil(t, hidden.Sources)

	assert.Equal(t, 1, got.Items["open"].Resource.NodeCount())

	full, err := f.store.RetrieveFolder(f.ctx, f.reader("/a"))
	require.NoError(t, err)
	assert.Equal(t, 1, full.Items["doc"].Resource.NodeCount())
	assert.Len(t, full.Items["doc"].Sources, 1)
}

func TestReadTiers(t *testing.T) {
	f := newFixture(t)
	f.mkdir("/", "a")
	f.save("/a", f.doc("doc", "Shinkai agents run locally."))

	_, err := f.readerAs(bob, "/")
	require.ErrorIs(t, err, ErrPermissionDenied, "root is private")
	_, err = f.readerAs(bob, "/a/doc")
	require.ErrorIs(t, err, ErrPermissionDenied)

	require.NoError(t, f.store.SetWhitelistPermission(f.ctx, f.writer("/a"), bob, permission.Read))

	folder, err := f.readerAs(bob, "/a")
	require.NoError(t, err)
	found, err := f.store.VectorSearchFSItem(f.ctx, folder, "shinkai", 5)
	require.NoError(t, err)
	require.Len(t, found, 1, "headers are visible through the folder grant")
	assert.Equal(t, "/a/doc", found[0].Path.String())

	nodes, err := f.store.DeepVectorSearch(f.ctx, folder, "shinkai", 5, 5)
	require.NoError(t, err)
	assert.Empty(t, nodes, "content needs a grant at the item itself")

	resources, err := f.store.VectorSearchResource(f.ctx, folder, "shinkai", 5)
	require.NoError(t, err)
	assert.Empty(t, resources)

	item, err := f.readerAs(bob, "/a/doc")
	require.NoError(t, err)
	assert.Equal(t, AccessHeader, item.Access())
	_, err = f.store.RetrieveResource(f.ctx, item)
	require.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.store.RetrieveKaiInFolder(f.ctx, folder, "doc")
	require.ErrorIs(t, err, ErrPermissionDenied)

	header, err := f.store.RetrieveItem(f.ctx, item)
	require.NoError(t, err)
	assert.Equal(t, "doc", header.Resource.Name)
	assert.Empty(t, header.Resource.Nodes)

	require.NoError(t, f.store.SetWhitelistPermission(f.ctx, f.writer("/a/doc"), bob, permission.Read))

	nodes, err = f.store.DeepVectorSearch(f.ctx, folder, "shinkai", 5, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, nodes)

	item, err = f.readerAs(bob, "/a/doc")
	require.NoError(t, err)
	assert.Equal(t, AccessContent, item.Access())
	res, err := f.store.RetrieveResource(f.ctx, item)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NodeCount())

	res, err = f.store.RetrieveResourceInFolder(f.ctx, folder, "doc")
	require.NoError(t, err)
	assert.Equal(t, "doc", res.Name)

	require.NoError(t, f.store.RemoveWhitelistPermission(f.ctx, f.writer("/a"), bob))
	_, err = f.readerAs(bob, "/a")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestWriteWalk(t *testing.T) {
	f := newFixture(t)
	f.mkdir("/", "pub")
	f.mkdir("/pub", "open")
	f.mkdir("/pub", "locked")
	require.NoError(t, f.store.SetPathPermission(f.ctx, f.writer("/pub"), permission.Whitelist, permission.Public))
	require.NoError(t, f.store.SetPathPermission(f.ctx, f.writer("/pub/locked"), permission.Whitelist, permission.Private))

	writerAs := func(path string) (*Writer, error) {
		return f.store.NewWriter(f.ctx, bob, vrpath.MustParse(path), testProfile)
	}

	w, err := writerAs("/pub/open")
	require.NoError(t, err, "a whitelist record without bob defers to the public parent")
	_, err = f.store.CreateFolder(f.ctx, w, "bobs")
	require.NoError(t, err)

	_, err = writerAs("/pub/not/yet/there")
	require.NoError(t, err)

	_, err = writerAs("/pub/locked")
	assert.ErrorIs(t, err, ErrPermissionDenied, "a private record stops the walk")
	_, err = writerAs("/")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	w, err = writerAs("/pub")
	require.NoError(t, err)
	err = f.store.SetPathPermission(f.ctx, w, permission.Public, permission.Public)
	assert.ErrorIs(t, err, ErrPermissionDenied, "only the owner manages permissions")

	f.mkdir("/", "private")
	src, err := writerAs("/pub/open/bobs")
	require.NoError(t, err)
	_, err = f.store.MoveFolder(f.ctx, src, vrpath.MustParse("/private"))
	assert.ErrorIs(t, err, ErrPermissionDenied, "moves need write access at the destination")
	f.consistent()
}

func TestPermissionQueries(t *testing.T) {
	f := newFixture(t)
	f.mkdir("/", "pub")
	f.mkdir("/pub", "inner")
	f.mkdir("/", "secret")
	require.NoError(t, f.store.SetPathPermission(f.ctx, f.writer("/pub"), permission.Public, permission.Private))
	require.NoError(t, f.store.SetPathPermission(f.ctx, f.writer("/secret"), permission.Private, permission.Private))

	err := f.store.SetPathPermission(f.ctx, f.writer("/missing"), permission.Public, permission.Public)
	assert.ErrorIs(t, err, ErrNotFound)
	err = f.store.SetPathPermission(f.ctx, f.writer("/pub"), permission.Policy("everyone"), permission.Public)
	assert.Error(t, err)

	rec, err := f.store.PathPermission(f.ctx, f.reader("/pub"))
	require.NoError(t, err)
	assert.Equal(t, permission.Public, rec.Read)
	assert.Equal(t, permission.Private, rec.Write)

	paths, err := f.store.FindPathsWithReadPermissions(f.ctx, f.reader("/"), permission.Public)
	require.NoError(t, err)
	assert.Equal(t, []vrpath.Path{vrpath.MustParse("/pub")}, paths)

	paths, err = f.store.FindPathsWithWritePermissions(f.ctx, f.reader("/"), permission.Private)
	require.NoError(t, err)
	var got []string
	for _, p := range paths {
		got = append(got, p.String())
	}
	assert.ElementsMatch(t, []string{"/", "/pub", "/secret"}, got)

	stranger, err := f.readerAs(bob, "/pub")
	require.NoError(t, err)
	paths, err = f.store.FindPathsWithReadPermissions(f.ctx, stranger, permission.Private, permission.Whitelist, permission.Public)
	require.NoError(t, err)
	got = got[:0]
	for _, p := range paths {
		got = append(got, p.String())
	}
	assert.ElementsMatch(t, []string{"/pub", "/pub/inner"}, got)
}

func TestSearchMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	f := newFixture(t, func(o *Options) { o.MeterProvider = mp })
	seedLibrary(f)
	_, err := f.store.VectorSearchFSItem(f.ctx, f.reader("/"), "shinkai", 3)
	require.NoError(t, err)
	_, err = f.store.DeepVectorSearch(f.ctx, f.reader("/"), "shinkai", 3, 3)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var searches uint64
	var ops int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "vecfs.store.search_duration_seconds":
				hist, ok := md.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				for _, dp := range hist.DataPoints {
					searches += dp.Count
				}
			case "vecfs.store.operations_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					ops += dp.Value
				}
			}
		}
	}
	assert.Equal(t, uint64(2), searches)
	assert.GreaterOrEqual(t, ops, int64(7))
}

func TestSearchCancelled(t *testing.T) {
	f := newFixture(t)
	seedLibrary(f)
	query, err := f.store.GenerateQueryEmbedding(f.ctx, "shinkai")
	require.NoError(t, err)
	r := f.reader("/")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.store.DeepVectorSearchWithEmbedding(ctx, r, query, 3, 3)
	assert.ErrorIs(t, err, context.Canceled)
}
