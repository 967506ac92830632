package downloader

import (
	"path/filepath"
	"testing"

	"github.com/rizkirmdhn/teledl/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDestinationFor(t *testing.T) {
	a := models.MediaReference{FileID: "x.jpg", SequenceIndex: 3}
	b := models.MediaReference{FileID: "x.jpg", SequenceIndex: 7}

	t.Run("ordered", func(t *testing.T) {
		da := DestinationFor(a, "out", models.ModeOrdered)
		db := DestinationFor(b, "out", models.ModeOrdered)
		assert.Equal(t, filepath.Join("out", "3_x.jpg"), da)
		assert.Equal(t, filepath.Join("out", "7_x.jpg"), db)
		assert.NotEqual(t, da, db)
	})

	t.Run("fast collides", func(t *testing.T) {
		da := DestinationFor(a, "out", models.ModeFast)
		db := DestinationFor(b, "out", models.ModeFast)
		assert.Equal(t, filepath.Join("out", "x.jpg"), da)
		assert.Equal(t, da, db)
	})
}

func TestResolveURL(t *testing.T) {
	base := "https://telegra.ph/file/"

	assert.Equal(t, "https://telegra.ph/file/abc.jpg",
		ResolveURL(base, models.MediaReference{RawSrc: "/file/abc.jpg", FileID: "abc.jpg"}))
	assert.Equal(t, "https://cdn.example.com/v/abc.mp4",
		ResolveURL(base, models.MediaReference{RawSrc: "https://cdn.example.com/v/abc.mp4", FileID: "abc.mp4"}))
	assert.Equal(t, "https://cdn.example.com/abc.png",
		ResolveURL(base, models.MediaReference{RawSrc: "//cdn.example.com/abc.png", FileID: "abc.png"}))
	assert.Equal(t, "http://localhost/file/abc.jpg",
		ResolveURL("http://localhost/file", models.MediaReference{RawSrc: "/file/abc.jpg", FileID: "abc.jpg"}))
}

func TestResolveURLKeepsQuery(t *testing.T) {
	base := "https://telegra.ph/file/"

	assert.Equal(t, "https://telegra.ph/file/abc.jpg?v=2&s=1",
		ResolveURL(base, models.MediaReference{RawSrc: "/file/abc.jpg?v=2&s=1", FileID: "abc.jpg"}))
	assert.Equal(t, "https://telegra.ph/file/abc.jpg?v=2",
		ResolveURL(base, models.MediaReference{RawSrc: "/file/abc.jpg?v=2#top", FileID: "abc.jpg"}))
	assert.Equal(t, "https://telegra.ph/file/abc.jpg",
		ResolveURL(base, models.MediaReference{RawSrc: "/file/abc.jpg#x?y", FileID: "abc.jpg"}))
}

func TestBuildTasks(t *testing.T) {
	refs := []models.MediaReference{
		{RawSrc: "/file/a.jpg", FileID: "a.jpg", SequenceIndex: 0, Tag: "img"},
		{RawSrc: "/file/b.mp4", FileID: "b.mp4", SequenceIndex: 1, Tag: "video"},
		{RawSrc: "/file/c.PNG", FileID: "c.PNG", SequenceIndex: 2, Tag: "img"},
	}

	t.Run("plain", func(t *testing.T) {
		tasks := BuildTasks(refs, TaskOptions{Folder: "out", Mode: models.ModeOrdered, FileBase: "https://telegra.ph/file/"})
		require.Len(t, tasks, 3)
		for i, task := range tasks {
			assert.Equal(t, i, task.Ref.SequenceIndex)
			assert.False(t, task.Transcode)
		}
		assert.Equal(t, filepath.Join("out", "1_b.mp4"), tasks[1].Destination)
		assert.Equal(t, "https://telegra.ph/file/b.mp4", tasks[1].URL)
	})

	t.Run("compress only touches images", func(t *testing.T) {
		tasks := BuildTasks(refs, TaskOptions{Folder: "out", Mode: models.ModeOrdered, Compress: true})
		require.Len(t, tasks, 3)

		assert.True(t, tasks[0].Transcode)
		assert.Equal(t, filepath.Join("out", "0_a.webp"), tasks[0].Destination)

		assert.False(t, tasks[1].Transcode)
		assert.Equal(t, filepath.Join("out", "1_b.mp4"), tasks[1].Destination)

		assert.True(t, tasks[2].Transcode)
		assert.Equal(t, filepath.Join("out", "2_c.webp"), tasks[2].Destination)
	})

	t.Run("default folder", func(t *testing.T) {
		tasks := BuildTasks(refs[:1], TaskOptions{Mode: models.ModeFast})
		assert.Equal(t, "a.jpg", tasks[0].Destination)
	})
}
