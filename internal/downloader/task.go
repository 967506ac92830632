package downloader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rizkirmdhn/teledl/internal/transcoder"
	"github.com/rizkirmdhn/teledl/pkg/models"
)

// TaskOptions controls how references become download tasks.
type TaskOptions struct {
	Folder   string
	Mode     models.Mode
	FileBase string
	Compress bool
}

// DestinationFor names the local file of ref. Ordered mode prefixes the
// sequence index; fast mode uses the bare file id, so two references with the
// same file id share a destination.
func DestinationFor(ref models.MediaReference, folder string, mode models.Mode) string {
	name := ref.FileID
	if mode != models.ModeFast {
		name = fmt.Sprintf("%d_%s", ref.SequenceIndex, ref.FileID)
	}
	return filepath.Join(folder, name)
}

// ResolveURL returns the absolute URL of ref. Absolute srcs are used as they
// are; anything else is looked up by file id under fileBase, keeping the
// query of the src.
func ResolveURL(fileBase string, ref models.MediaReference) string {
	src := ref.RawSrc
	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return src
	case strings.HasPrefix(src, "//"):
		return "https:" + src
	}
	if !strings.HasSuffix(fileBase, "/") {
		fileBase += "/"
	}

	if i := strings.IndexByte(src, '#'); i >= 0 {
		src = src[:i]
	}
	var query string
	if i := strings.IndexByte(src, '?'); i >= 0 {
		query = src[i:]
	}
	return fileBase + ref.FileID + query
}

// BuildTasks creates one task per reference, in sequence order. With
// Compress set, image destinations get the .webp extension and are marked for
// transcoding; other media is downloaded as is.
func BuildTasks(refs []models.MediaReference, opts TaskOptions) []models.DownloadTask {
	folder := opts.Folder
	if folder == "" {
		folder = "."
	}

	tasks := make([]models.DownloadTask, 0, len(refs))
	for _, ref := range refs {
		task := models.DownloadTask{
			Ref:         ref,
			URL:         ResolveURL(opts.FileBase, ref),
			Destination: DestinationFor(ref, folder, opts.Mode),
		}
		if opts.Compress && transcoder.IsImage(ref.FileID) {
			task.Transcode = true
			task.Destination = transcoder.TargetPath(task.Destination)
		}
		tasks = append(tasks, task)
	}
	return tasks
}
