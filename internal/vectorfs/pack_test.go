package vectorfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vecfs/internal/container"
	"github.com/fyrsmithlabs/vecfs/internal/permission"
	"github.com/fyrsmithlabs/vecfs/internal/resource"
	"github.com/fyrsmithlabs/vecfs/internal/vrpath"
)

func seedDocs(f *fixture) {
	f.t.Helper()
	f.mkdir("/", "docs")
	f.mkdir("/docs", "sub")
	f.mkdir("/docs", "empty")
	f.save("/docs", f.doc("a.txt", "first document"))
	f.save("/docs", f.doc("b", "second document", "with two chunks"))
	f.save("/docs/sub", f.doc("c", "nested document"))
}

func merkleByPath(pack *container.Pack) map[string]string {
	out := map[string]string{}
	for _, e := range pack.UnpackAll() {
		out[e.Path.String()] = e.Kai.Resource.MerkleRoot
	}
	return out
}

func TestPackRoundTrip(t *testing.T) {
	f := newFixture(t)
	seedDocs(f)
	f.mkdir("/", "imports")

	pack, err := f.store.RetrievePack(f.ctx, f.reader("/docs"))
	require.NoError(t, err)
	assert.Equal(t, "docs", pack.Name)
	assert.Equal(t, 3, pack.Len())
	assert.Equal(t, []vrpath.Path{vrpath.MustParse("/empty"), vrpath.MustParse("/sub")}, pack.Folders())

	data, err := pack.Encode()
	require.NoError(t, err)
	decoded, err := container.DecodePack(data)
	require.NoError(t, err)

	out, err := f.store.ExtractPack(f.ctx, f.writer("/imports"), decoded)
	require.NoError(t, err)
	assert.Equal(t, "/imports/docs", out.String())
	assert.True(t, f.store.IsFolder(f.ctx, f.reader("/imports/docs/empty")))

	again, err := f.store.RetrievePack(f.ctx, f.reader(out.String()))
	require.NoError(t, err)
	assert.Equal(t, merkleByPath(pack), merkleByPath(again))
	assert.Equal(t, pack.Folders(), again.Folders())

	for _, e := range pack.UnpackAll() {
		moved, err := again.Get(e.Path)
		require.NoError(t, err)
		assert.NotEqual(t, e.Kai.Resource.ReferenceID, moved.Resource.ReferenceID, e.Path.String())
	}

	orig, err := f.store.RetrieveFolder(f.ctx, f.reader("/docs"))
	require.NoError(t, err)
	copied, err := f.store.RetrieveFolder(f.ctx, f.reader("/imports/docs"))
	require.NoError(t, err)
	assert.Equal(t, orig.MerkleRoot(), copied.MerkleRoot())
	assert.Equal(t, orig.NodeCount(), copied.NodeCount())

	_, err = f.store.ExtractPack(f.ctx, f.writer("/imports"), decoded)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	f.consistent()
}

func TestExtractPackKeepsEntryPaths(t *testing.T) {
	f := newFixture(t)
	f.mkdir("/", "imports")

	pack := container.NewPack("bundle")
	require.NoError(t, pack.Insert(container.NewKai(f.doc("intro.pdf", "welcome text"), nil), vrpath.Root()))
	require.NoError(t, pack.Insert(container.NewKai(f.doc("notes.md", "meeting notes"), nil), vrpath.MustParse("/sub")))
	err := pack.Insert(container.NewKai(f.doc("intro", "other text"), nil), vrpath.Root())
	require.ErrorIs(t, err, container.ErrEntryExists)

	data, err := pack.Encode()
	require.NoError(t, err)
	decoded, err := container.DecodePack(data)
	require.NoError(t, err)

	out, err := f.store.ExtractPack(f.ctx, f.writer("/imports"), decoded)
	require.NoError(t, err)
	assert.True(t, f.store.IsItem(f.ctx, f.reader("/imports/bundle/intro")))
	assert.True(t, f.store.IsItem(f.ctx, f.reader("/imports/bundle/sub/notes")))

	again, err := f.store.RetrievePack(f.ctx, f.reader(out.String()))
	require.NoError(t, err)
	assert.Equal(t, merkleByPath(pack), merkleByPath(again))
	f.consistent()
}

func TestRootPackIsNamedAfterProfile(t *testing.T) {
	f := newFixture(t)
	seedDocs(f)

	pack, err := f.store.RetrievePack(f.ctx, f.reader("/"))
	require.NoError(t, err)
	assert.Equal(t, testProfile, pack.Name)
	_, err = pack.Get(vrpath.MustParse("/docs/sub/c"))
	assert.NoError(t, err)

	_, err = f.store.RetrievePack(f.ctx, f.reader("/docs/a"))
	assert.ErrorIs(t, err, ErrWrongEntryKind)
}

func TestPackHonoursContentTier(t *testing.T) {
	f := newFixture(t)
	seedDocs(f)
	require.NoError(t, f.store.SetWhitelistPermission(f.ctx, f.writer("/docs"), bob, permission.Read))
	require.NoError(t, f.store.SetWhitelistPermission(f.ctx, f.writer("/docs/b"), bob, permission.Read))

	r, err := f.store.NewReader(f.ctx, bob, vrpath.MustParse("/docs"), testProfile)
	require.NoError(t, err)
	pack, err := f.store.RetrievePack(f.ctx, r)
	require.NoError(t, err)
	require.Equal(t, 1, pack.Len())
	assert.Equal(t, "/b", pack.UnpackAll()[0].Path.String())
	assert.Equal(t, 2, pack.FolderCount())
}

func TestExtractPackIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.mkdir("/", "target")
	before := f.projection("/")

	pack := container.NewPack("bundle")
	good := f.doc("good", "fine content")
	bad := f.doc("bad", "foreign content")
	bad.EmbeddingModel = "other/model"
	require.NoError(t, pack.Insert(container.NewKai(good, nil), vrpath.Root()))
	require.NoError(t, pack.CreateFolder("deep", vrpath.Root()))
	require.NoError(t, pack.Insert(container.NewKai(bad, resource.SourceFileMap{}), vrpath.MustParse("/deep")))

	_, err := f.store.ExtractPack(f.ctx, f.writer("/target"), pack)
	require.ErrorIs(t, err, ErrUnsupportedEmbeddingModel)
	assert.Equal(t, before, f.projection("/"))
	f.consistent()

	_, err = f.store.ExtractPack(f.ctx, f.writer("/target"), nil)
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestSaveAndRetrieveKai(t *testing.T) {
	f := newFixture(t)
	sources := resource.SourceFileMap{"intro.pdf": {Name: "intro.pdf", Type: "pdf", Data: []byte("%PDF-1.7")}}
	kai := container.NewKai(shinkaiIntro(f), sources)

	it, err := f.store.SaveKai(f.ctx, f.writer("/"), kai)
	require.NoError(t, err)
	assert.True(t, it.HasSources())

	got, err := f.store.RetrieveKai(f.ctx, f.reader("/shinkai_intro"))
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), got.Sources["intro.pdf"].Data)
	assert.Equal(t, it.ReferenceID(), got.Resource.ReferenceID)

	got.Sources["intro.pdf"].Data[0] = 'X'
	again, err := f.store.RetrieveKai(f.ctx, f.reader("/shinkai_intro"))
	require.NoError(t, err)
	assert.Equal(t, byte('%'), again.Sources["intro.pdf"].Data[0], "retrieval hands out copies")

	bare, err := f.store.RetrieveItem(f.ctx, f.reader("/shinkai_intro"))
	require.NoError(t, err)
	assert.Nil(t, bare.Sources)
	assert.Equal(t, 3, bare.NodeCount())
}
