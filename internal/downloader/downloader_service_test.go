package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rizkirmdhn/teledl/internal/common/config"
	"github.com/rizkirmdhn/teledl/internal/common/events"
	"github.com/rizkirmdhn/teledl/pkg/models"
	"github.com/rizkirmdhn/teledl/pkg/utils"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fileServer serves /file/<name> with a body derived from the name. It
// counts requests and the highest number served at once.
type fileServer struct {
	*httptest.Server
	hits     atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
	delay    time.Duration
	missing  map[string]bool
}

func newFileServer(t *testing.T, delay time.Duration, missing ...string) *fileServer {
	t.Helper()
	fs := &fileServer{delay: delay, missing: map[string]bool{}}
	for _, m := range missing {
		fs.missing[m] = true
	}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		cur := fs.inFlight.Add(1)
		defer fs.inFlight.Add(-1)
		for {
			prev := fs.maxSeen.Load()
			if cur <= prev || fs.maxSeen.CompareAndSwap(prev, cur) {
				break
			}
		}

		if fs.delay > 0 {
			time.Sleep(fs.delay)
		}
		name := strings.TrimPrefix(r.URL.Path, "/file/")
		if fs.missing[name] {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body(name))
	}))
	t.Cleanup(fs.Close)
	return fs
}

func body(name string) string {
	return strings.Repeat(name+";", 64)
}

func refs(names ...string) []models.MediaReference {
	out := make([]models.MediaReference, len(names))
	for i, n := range names {
		out[i] = models.MediaReference{RawSrc: "/file/" + n, FileID: n, SequenceIndex: i, Tag: "img"}
	}
	return out
}

func newService(t *testing.T, srv *fileServer, concurrency int, opts ...Option) *DownloaderService {
	t.Helper()
	log, _ := test.NewNullLogger()
	cfg := &config.DownloaderConfig{Concurrency: concurrency}
	return NewDownloaderService(cfg, srv.Client(), log, opts...)
}

func assertNoPartFiles(t *testing.T, dir string) {
	t.Helper()
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		require.NoError(t, err)
		assert.False(t, strings.HasSuffix(path, ".part"), "leftover temp file %s", path)
		return nil
	})
	require.NoError(t, err)
}

func TestRunDownloadsAllFiles(t *testing.T) {
	srv := newFileServer(t, 0)
	dir := filepath.Join(t.TempDir(), "nested", "out")
	rec := &events.Recorder{}
	s := newService(t, srv, 4, WithSink(rec))

	tasks := BuildTasks(refs("a.jpg", "b.jpg", "c.mp4"), TaskOptions{Folder: dir, FileBase: srv.URL + "/file/"})
	results := s.Run(context.Background(), tasks)

	require.Len(t, results, 3)
	for i, res := range results {
		require.NoError(t, res.Err)
		assert.Equal(t, models.StatusDownloaded, res.Status)
		assert.Equal(t, tasks[i], res.Task)

		data, err := os.ReadFile(tasks[i].Destination)
		require.NoError(t, err)
		assert.Equal(t, body(tasks[i].Ref.FileID), string(data))
		assert.Equal(t, int64(len(data)), res.Bytes)
	}
	assert.FileExists(t, filepath.Join(dir, "0_a.jpg"))
	assert.FileExists(t, filepath.Join(dir, "2_c.mp4"))
	assertNoPartFiles(t, dir)

	var dirEvents, terminal int
	for _, e := range rec.Events() {
		if e.Kind == models.EventDirectory {
			dirEvents++
		}
		if e.Terminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, dirEvents)
	assert.Equal(t, 3, terminal)
}

func TestRunIsIdempotent(t *testing.T) {
	srv := newFileServer(t, 0)
	dir := t.TempDir()
	s := newService(t, srv, 2)
	tasks := BuildTasks(refs("1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg"), TaskOptions{Folder: dir, FileBase: srv.URL + "/file/"})

	first := s.Run(context.Background(), tasks)
	for _, res := range first {
		require.Equal(t, models.StatusDownloaded, res.Status)
	}
	require.Equal(t, int64(5), srv.hits.Load())

	second := s.Run(context.Background(), tasks)
	for _, res := range second {
		assert.Equal(t, models.StatusSkipped, res.Status)
	}
	assert.Equal(t, int64(5), srv.hits.Load(), "second run must not fetch")
}

func TestRunRefetchesEmptyFiles(t *testing.T) {
	srv := newFileServer(t, 0)
	dir := t.TempDir()
	s := newService(t, srv, 2)
	tasks := BuildTasks(refs("a.jpg"), TaskOptions{Folder: dir, FileBase: srv.URL + "/file/"})

	require.NoError(t, os.WriteFile(tasks[0].Destination, nil, 0644))

	results := s.Run(context.Background(), tasks)
	assert.Equal(t, models.StatusDownloaded, results[0].Status)
	assert.Equal(t, int64(1), srv.hits.Load())
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	srv := newFileServer(t, 50*time.Millisecond)
	dir := t.TempDir()
	s := newService(t, srv, 2)
	tasks := BuildTasks(refs("1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg"), TaskOptions{Folder: dir, FileBase: srv.URL + "/file/"})

	results := s.Run(context.Background(), tasks)
	for _, res := range results {
		require.NoError(t, res.Err)
	}
	assert.Equal(t, int64(5), srv.hits.Load())
	assert.LessOrEqual(t, srv.maxSeen.Load(), int64(2))
	assert.Equal(t, int64(2), srv.maxSeen.Load())
}

func TestRunIsolatesFailures(t *testing.T) {
	srv := newFileServer(t, 0, "b.jpg")
	dir := t.TempDir()
	s := newService(t, srv, 3)
	tasks := BuildTasks(refs("a.jpg", "b.jpg", "c.jpg"), TaskOptions{Folder: dir, FileBase: srv.URL + "/file/"})

	results := s.Run(context.Background(), tasks)

	assert.Equal(t, models.StatusDownloaded, results[0].Status)
	assert.Equal(t, models.StatusDownloaded, results[2].Status)

	require.Equal(t, models.StatusFailed, results[1].Status)
	var netErr *models.NetworkError
	require.True(t, errors.As(results[1].Err, &netErr))
	assert.Equal(t, http.StatusNotFound, netErr.StatusCode)
	assert.NoFileExists(t, tasks[1].Destination)
	assertNoPartFiles(t, dir)
}

func TestRunSizeAccounting(t *testing.T) {
	srv := newFileServer(t, 0)
	dir := t.TempDir()
	s := newService(t, srv, 4)
	tasks := BuildTasks(refs("a.jpg", "bb.jpg", "ccc.mp4", "dddd.png"), TaskOptions{Folder: dir, FileBase: srv.URL + "/file/"})

	// One file is already there and must be skipped.
	require.NoError(t, os.WriteFile(tasks[0].Destination, []byte("existing"), 0644))

	before, err := utils.SizeOf(dir)
	require.NoError(t, err)

	results := s.Run(context.Background(), tasks)

	after, err := utils.SizeOf(dir)
	require.NoError(t, err)

	var written int64
	for _, res := range results {
		if res.Status == models.StatusDownloaded {
			written += res.Bytes
		}
	}
	assert.Equal(t, models.StatusSkipped, results[0].Status)
	assert.Equal(t, written, after-before)
}

func TestRunFastModeCollision(t *testing.T) {
	srv := newFileServer(t, 0)
	dir := t.TempDir()
	s := newService(t, srv, 1)

	rs := []models.MediaReference{
		{RawSrc: "/file/x.jpg", FileID: "x.jpg", SequenceIndex: 0},
		{RawSrc: "/file/x.jpg", FileID: "x.jpg", SequenceIndex: 1},
	}
	tasks := BuildTasks(rs, TaskOptions{Folder: dir, Mode: models.ModeFast, FileBase: srv.URL + "/file/"})
	require.Equal(t, tasks[0].Destination, tasks[1].Destination)

	results := s.Run(context.Background(), tasks)
	for _, res := range results {
		assert.NotEqual(t, models.StatusFailed, res.Status)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunCancelled(t *testing.T) {
	srv := newFileServer(t, 0)
	dir := t.TempDir()
	rec := &events.Recorder{}
	s := newService(t, srv, 2, WithSink(rec))
	tasks := BuildTasks(refs("a.jpg", "b.jpg"), TaskOptions{Folder: dir, FileBase: srv.URL + "/file/"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := s.Run(ctx, tasks)
	for _, res := range results {
		assert.Equal(t, models.StatusFailed, res.Status)
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
	assert.Equal(t, int64(0), srv.hits.Load())
	assert.Len(t, rec.Events(), 2)
}

type recordingTranscoder struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (r *recordingTranscoder) Transcode(_ context.Context, task models.DownloadTask, data []byte) (int64, error) {
	r.mu.Lock()
	r.calls = append(r.calls, task.Ref.FileID)
	r.mu.Unlock()
	if r.fail {
		return 0, &models.TranscodeError{Path: task.Destination, Err: errors.New("bad image")}
	}
	return utils.WriteFileAtomic(task.Destination, strings.NewReader("webp:"+string(data[:4])))
}

func TestRunTranscodeGating(t *testing.T) {
	srv := newFileServer(t, 0)
	dir := t.TempDir()
	tc := &recordingTranscoder{}
	rec := &events.Recorder{}
	s := newService(t, srv, 4, WithTranscoder(tc, 2), WithSink(rec))

	rs := refs("a.jpg", "clip.mp4", "b.png")
	rs[1].Tag = "video"
	tasks := BuildTasks(rs, TaskOptions{Folder: dir, FileBase: srv.URL + "/file/", Compress: true})

	results := s.Run(context.Background(), tasks)

	assert.ElementsMatch(t, []string{"a.jpg", "b.png"}, tc.calls)

	assert.True(t, results[0].Transcoded)
	assert.FileExists(t, filepath.Join(dir, "0_a.webp"))
	assert.NoFileExists(t, filepath.Join(dir, "0_a.jpg"))

	assert.False(t, results[1].Transcoded)
	assert.Equal(t, models.StatusDownloaded, results[1].Status)
	assert.FileExists(t, filepath.Join(dir, "1_clip.mp4"))

	var transcoded int
	for _, e := range rec.Events() {
		if e.Kind == models.EventTranscoded {
			transcoded++
		}
	}
	assert.Equal(t, 2, transcoded)
}

func TestRunTranscodeFailureIsIsolated(t *testing.T) {
	srv := newFileServer(t, 0)
	dir := t.TempDir()
	s := newService(t, srv, 2, WithTranscoder(&recordingTranscoder{fail: true}, 1))

	rs := refs("a.jpg", "clip.mp4")
	tasks := BuildTasks(rs, TaskOptions{Folder: dir, FileBase: srv.URL + "/file/", Compress: true})

	results := s.Run(context.Background(), tasks)

	var tErr *models.TranscodeError
	require.True(t, errors.As(results[0].Err, &tErr))
	assert.Equal(t, models.StatusFailed, results[0].Status)
	assert.Equal(t, models.StatusDownloaded, results[1].Status)
}

func TestRunRateLimit(t *testing.T) {
	srv := newFileServer(t, 0)
	dir := t.TempDir()
	log, _ := test.NewNullLogger()
	s := NewDownloaderService(&config.DownloaderConfig{Concurrency: 4, RateLimit: 20}, srv.Client(), log)
	tasks := BuildTasks(refs("1.jpg", "2.jpg", "3.jpg"), TaskOptions{Folder: dir, FileBase: srv.URL + "/file/"})

	start := time.Now()
	results := s.Run(context.Background(), tasks)
	for _, res := range results {
		require.NoError(t, res.Err)
	}
	// Burst of one at 20 rps: the third request waits about 100ms.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
