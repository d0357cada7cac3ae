package container

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vecfs/internal/resource"
	"github.com/fyrsmithlabs/vecfs/internal/vrpath"
)

func testResource(t *testing.T, name, model string, header []float32, nodes ...[]float32) *resource.Resource {
	t.Helper()
	r := resource.New(name, name+" description", "unit-test", resource.KindDocument)
	require.NoError(t, r.SetEmbedding(header, model))
	for i, v := range nodes {
		require.NoError(t, r.AppendText("", name+" node "+string(rune('a'+i)), v, map[string]string{"i": string(rune('0' + i))}))
	}
	return r
}

func TestKaiRoundTrip(t *testing.T) {
	res := testResource(t, "camel_facts", "m1", []float32{1, 0}, []float32{1, 0}, []float32{0, 1})
	kai := NewKai(res, resource.SourceFileMap{"camel_facts.pdf": {Name: "camel_facts.pdf", Type: "pdf", Data: []byte("%PDF")}})

	data, err := kai.Encode()
	require.NoError(t, err)
	assert.True(t, IsKai(data))
	assert.False(t, IsPack(data))

	got, err := DecodeKai(data)
	require.NoError(t, err)
	if diff := cmp.Diff(kai, got, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Fatalf("kai round trip mismatch (-want +got):\n%s", diff)
	}

	text, err := kai.EncodeBase64()
	require.NoError(t, err)
	fromText, err := DecodeKaiBase64(text)
	require.NoError(t, err)
	assert.Equal(t, kai.Resource.MerkleRoot, fromText.Resource.MerkleRoot)
}

func TestKaiVectorSearch(t *testing.T) {
	kai := NewKai(testResource(t, "doc", "m1", []float32{1, 0}, []float32{0, 1}, []float32{1, 0}), nil)
	results := kai.VectorSearch([]float32{1, 0}, 1)
	require.Len(t, results, 1)
	assert.Equal(t, "doc node b", results[0].Node.Text)
}

func TestDecodeKai_Errors(t *testing.T) {
	_, err := DecodeKai([]byte("definitely not a kai"))
	assert.ErrorIs(t, err, ErrSerialization)

	_, err = DecodeKaiBase64("!!!")
	assert.ErrorIs(t, err, ErrSerialization)

	pack := NewPack("p")
	data, err := pack.Encode()
	require.NoError(t, err)
	_, err = DecodeKai(data)
	assert.ErrorIs(t, err, ErrSerialization, "a pack is not a kai")

	_, err = (&Kai{Version: VersionV1}).Encode()
	assert.ErrorIs(t, err, ErrSerialization)
}

func buildPack(t *testing.T) *Pack {
	t.Helper()
	p := NewPack("exported")
	require.NoError(t, p.CreateFolder("empty", vrpath.Root()))
	require.NoError(t, p.Insert(NewKai(testResource(t, "intro", "m1", []float32{1, 0}, []float32{1, 0}), nil), vrpath.Root()))
	require.NoError(t, p.Insert(NewKai(testResource(t, "camels", "m1", []float32{0, 1}, []float32{0, 1}, []float32{0.7, 0.7}), nil), vrpath.MustParse("/animals")))
	require.NoError(t, p.Insert(NewKai(testResource(t, "deep", "m1", []float32{0.5, 0.5}, []float32{0.6, 0.4}), nil), vrpath.MustParse("/animals/mammals")))
	return p
}

func TestPackInsertAndFolders(t *testing.T) {
	p := buildPack(t)

	assert.Equal(t, 3, p.Len())
	assert.Equal(t, 3, p.FolderCount())
	folders := p.Folders()
	require.Len(t, folders, 3)
	assert.Equal(t, "/animals", folders[0].String())
	assert.Equal(t, "/empty", folders[1].String())
	assert.Equal(t, "/animals/mammals", folders[2].String())
	assert.Equal(t, []string{"m1"}, p.Models())
	assert.Equal(t, 3, p.EmbeddingModels["m1"])

	err := p.Insert(NewKai(testResource(t, "intro", "m1", []float32{1, 0}), nil), vrpath.Root())
	assert.ErrorIs(t, err, ErrEntryExists)
	assert.ErrorIs(t, p.CreateFolder("animals", vrpath.Root()), ErrEntryExists)
	assert.ErrorIs(t, p.CreateFolder("x", vrpath.MustParse("/intro")), ErrEntryExists, "a resource cannot hold folders")

	kai, err := p.Get(vrpath.MustParse("/animals/camels"))
	require.NoError(t, err)
	assert.Equal(t, "camels", kai.Name())

	_, err = p.Get(vrpath.MustParse("/animals/none"))
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestPackUnpackAll(t *testing.T) {
	p := buildPack(t)
	unpacked := p.UnpackAll()

	require.Len(t, unpacked, 3)
	assert.Equal(t, "/intro", unpacked[0].Path.String())
	assert.Equal(t, "/", unpacked[0].Parent().String())
	assert.Equal(t, "/animals/camels", unpacked[1].Path.String())
	assert.Equal(t, "/animals/mammals/deep", unpacked[2].Path.String())
}

func TestPackRemove(t *testing.T) {
	p := buildPack(t)

	require.NoError(t, p.Remove(vrpath.MustParse("/animals")))
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 1, p.FolderCount())
	assert.Equal(t, 1, p.EmbeddingModels["m1"])

	require.NoError(t, p.Remove(vrpath.MustParse("/intro")))
	assert.Empty(t, p.EmbeddingModels)
	assert.ErrorIs(t, p.Remove(vrpath.MustParse("/intro")), ErrEntryNotFound)
	assert.ErrorIs(t, p.Remove(vrpath.Root()), ErrEntryNotFound)
}

func TestPackRoundTrip(t *testing.T) {
	p := buildPack(t)
	p.Metadata = map[string]string{"exported_by": "@@node1.shinkai/main"}

	data, err := p.Encode()
	require.NoError(t, err)
	assert.True(t, IsPack(data))

	got, err := DecodePack(data)
	require.NoError(t, err)

	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.Metadata, got.Metadata)
	assert.Equal(t, p.EmbeddingModels, got.EmbeddingModels)
	require.Len(t, got.Entries, p.Len())
	for i := range p.Entries {
		assert.True(t, p.Entries[i].Path.Equal(got.Entries[i].Path))
		if diff := cmp.Diff(p.Entries[i].Kai, got.Entries[i].Kai, cmpopts.EquateApproxTime(0)); diff != "" {
			t.Errorf("entry %s mismatch (-want +got):\n%s", p.Entries[i].Path, diff)
		}
	}
	require.Len(t, got.FolderPaths, p.FolderCount())

	text, err := p.EncodeBase64()
	require.NoError(t, err)
	fromText, err := DecodePackBase64(text)
	require.NoError(t, err)
	assert.Equal(t, p.Len(), fromText.Len())
}

func TestPackVectorSearch(t *testing.T) {
	p := buildPack(t)
	results := p.VectorSearch([]float32{0, 1}, 2)

	require.Len(t, results, 2)
	assert.Equal(t, "camels", results[0].Kai.Name())
	assert.Equal(t, "deep", results[1].Kai.Name())
}

func TestPackDeepVectorSearch(t *testing.T) {
	p := buildPack(t)

	results, err := p.DeepVectorSearch(context.Background(), []float32{0, 1}, 1, 10)
	require.NoError(t, err)
	require.Len(t, results, 2, "only the best entry is scanned")
	assert.Equal(t, "/animals/camels", results[0].Path.String())
	assert.Equal(t, "camels node a", results[0].Node.Text)
	assert.InDelta(t, 1.2, results[0].Score, 1e-5)

	results, err = p.DeepVectorSearch(context.Background(), []float32{0, 1}, 3, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	require.NoError(t, p.Insert(NewKai(testResource(t, "other_model", "m2", []float32{1, 0}, []float32{1, 0}), nil), vrpath.Root()))
	_, err = p.DeepVectorSearch(context.Background(), []float32{0, 1}, 3, 2)
	assert.ErrorIs(t, err, ErrMixedEmbeddingModels)
}

func TestDecodePack_Errors(t *testing.T) {
	kai := NewKai(testResource(t, "x", "m1", []float32{1}), nil)
	data, err := kai.Encode()
	require.NoError(t, err)

	_, err = DecodePack(data)
	assert.ErrorIs(t, err, ErrSerialization)

	_, err = DecodePack(nil)
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestPackInsertCleansNames(t *testing.T) {
	p := NewPack("bundle")
	res := testResource(t, "intro.pdf", "m1", []float32{1, 0}, []float32{1, 0})
	require.NoError(t, p.Insert(NewKai(res, nil), vrpath.Root()))
	assert.Equal(t, "intro.pdf", res.Name, "the caller's resource is left alone")

	kai, err := p.Get(vrpath.MustParse("/intro"))
	require.NoError(t, err)
	assert.Equal(t, "intro", kai.Name())
	assert.Equal(t, res.MerkleRoot, kai.Resource.MerkleRoot)

	err = p.Insert(NewKai(testResource(t, "intro", "m1", []float32{0, 1}), nil), vrpath.Root())
	assert.ErrorIs(t, err, ErrEntryExists)
	assert.Equal(t, 1, p.Len())
}

func TestDecodePack_RejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
	}{
		{name: "extension in entry name", entries: []string{"/intro.pdf"}},
		{name: "duplicate paths", entries: []string{"/intro", "/intro"}},
		{name: "root entry", entries: []string{"/"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPack("bundle")
			for _, path := range tt.entries {
				kai := NewKai(testResource(t, "intro", "m1", []float32{1, 0}), nil)
				p.Entries = append(p.Entries, PackEntry{Path: vrpath.MustParse(path), Kai: kai})
			}
			data, err := p.Encode()
			require.NoError(t, err)
			_, err = DecodePack(data)
			assert.ErrorIs(t, err, ErrSerialization)
		})
	}
}
