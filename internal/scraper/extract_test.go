package scraper

import (
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/rizkirmdhn/teledl/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func img(src string) models.Node {
	return models.ElementNode("img", map[string]string{"src": src})
}

func ids(refs []models.MediaReference) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.FileID
	}
	return out
}

func TestExtractDocumentOrder(t *testing.T) {
	tree := []models.Node{
		models.ElementNode("figure", nil,
			img("/file/a.jpg"),
			models.ElementNode("figcaption", nil, models.TextNode("caption")),
		),
		models.ElementNode("video", map[string]string{"src": "/file/b.mp4"}),
	}

	refs, err := Extract(tree...)
	require.NoError(t, err)
	require.Len(t, refs, 2)

	assert.Equal(t, "a.jpg", refs[0].FileID)
	assert.Equal(t, 0, refs[0].SequenceIndex)
	assert.Equal(t, "img", refs[0].Tag)
	assert.Equal(t, "/file/a.jpg", refs[0].RawSrc)

	assert.Equal(t, "b.mp4", refs[1].FileID)
	assert.Equal(t, 1, refs[1].SequenceIndex)
	assert.Equal(t, "video", refs[1].Tag)
}

func TestExtractDeepNesting(t *testing.T) {
	// p > blockquote > figure > img, repeated at several depths.
	tree := []models.Node{
		img("/file/1.jpg"),
		models.ElementNode("p", nil,
			models.TextNode("intro"),
			models.ElementNode("blockquote", nil,
				models.ElementNode("figure", nil, img("/file/2.png")),
				img("/file/3.jpg"),
			),
		),
		models.ElementNode("p", nil, models.ElementNode("a", map[string]string{"href": "/x"}, img("/file/4.webp"))),
		img("/file/5.jpg"),
	}

	refs, err := Extract(tree...)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.jpg", "2.png", "3.jpg", "4.webp", "5.jpg"}, ids(refs))
	for i, r := range refs {
		assert.Equal(t, i, r.SequenceIndex)
	}
}

func TestExtractMatchesAllMediaAtAnyDepth(t *testing.T) {
	var build func(depth int) models.Node
	var want []string
	n := 0
	build = func(depth int) models.Node {
		n++
		if depth == 0 {
			id := string(rune('a'+n%26)) + ".jpg"
			want = append(want, id)
			return img("/file/" + id)
		}
		return models.ElementNode("div", nil, build(depth-1), models.TextNode("t"), build(depth-1))
	}
	root := build(6)

	refs, err := Extract(root)
	require.NoError(t, err)

	got := ids(refs)
	sort.Strings(got)
	sort.Strings(want)
	assert.Equal(t, want, got)
}

func TestExtractSkipsMediaWithoutSrcAndOtherTags(t *testing.T) {
	tree := []models.Node{
		models.ElementNode("img", nil),
		models.ElementNode("iframe", map[string]string{"src": "/embed/youtube"}),
		models.ElementNode("a", map[string]string{"src": "/file/not-media.jpg"}),
		models.TextNode("plain"),
	}

	refs, err := Extract(tree...)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestExtractRejectsInvalidNode(t *testing.T) {
	_, err := Extract(models.ElementNode("p", nil, models.Node{}))

	var malformed *models.MalformedContentError
	require.True(t, errors.As(err, &malformed))
}

func TestExtractRejectsUnnamedSrc(t *testing.T) {
	_, err := Extract(img("/file/"))

	var malformed *models.MalformedContentError
	require.True(t, errors.As(err, &malformed))
}

func TestExtractFromJSON(t *testing.T) {
	raw := `[
		{"tag":"p","children":["Hello ",{"tag":"b","children":["world"]}]},
		{"tag":"figure","children":[{"tag":"img","attrs":{"src":"/file/abc123.jpg"}},{"tag":"figcaption","children":[""]}]},
		{"tag":"figure","children":[{"tag":"video","attrs":{"src":"/file/clip.mp4"}}]}
	]`
	var content []models.Node
	require.NoError(t, json.Unmarshal([]byte(raw), &content))

	refs, err := Extract(content...)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc123.jpg", "clip.mp4"}, ids(refs))
}

func TestExtractFromJSONIgnoresOddShapes(t *testing.T) {
	raw := `[
		{"tag":"p","children":"caption"},
		{"tag":"a","attrs":{"href":"x","data-n":5},"children":[{"tag":"img","attrs":{"src":"/file/a.jpg"}}]},
		{"tag":"img","attrs":{"src":"/file/b.png","width":640}}
	]`
	var content []models.Node
	require.NoError(t, json.Unmarshal([]byte(raw), &content))

	refs, err := Extract(content...)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.png"}, ids(refs))
}

func TestExtractFromJSONRejectsNonStringMediaSrc(t *testing.T) {
	var content []models.Node
	err := json.Unmarshal([]byte(`[{"tag":"figure","children":[{"tag":"img","attrs":{"src":42}}]}]`), &content)

	var malformed *models.MalformedContentError
	require.True(t, errors.As(err, &malformed))
}

func TestFileID(t *testing.T) {
	tests := []struct {
		src     string
		want    string
		wantErr bool
	}{
		{src: "/file/abc.jpg", want: "abc.jpg"},
		{src: "abc.jpg", want: "abc.jpg"},
		{src: "https://telegra.ph/file/abc.jpg?size=large", want: "abc.jpg"},
		{src: "/file/abc.png#frag", want: "abc.png"},
		{src: "/file/", wantErr: true},
		{src: "/file/..", wantErr: true},
		{src: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := FileID(tt.src)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractStats(t *testing.T) {
	tree := []models.Node{
		models.ElementNode("p", nil, models.TextNode("a"), img("/file/1.jpg")),
		models.ElementNode("video", nil),
	}

	st, err := ExtractStats(tree...)
	require.NoError(t, err)
	assert.Equal(t, TreeStats{Nodes: 4, Elements: 3, Text: 1, Media: 1}, st)
}

func TestDedupe(t *testing.T) {
	refs, err := Extract(
		img("/file/a.jpg"),
		img("/file/b.jpg"),
		img("/file/a.jpg"),
		img("https://cdn.example.com/a.jpg"),
	)
	require.NoError(t, err)

	out := Dedupe(refs)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"a.jpg", "b.jpg", "a.jpg"}, ids(out))
	assert.Equal(t, "https://cdn.example.com/a.jpg", out[2].RawSrc)
	for i, r := range out {
		assert.Equal(t, i, r.SequenceIndex)
	}
}
