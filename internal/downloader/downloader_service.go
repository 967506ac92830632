// Package downloader fetches media files with a bounded number of requests
// in flight and writes each one atomically.
package downloader

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rizkirmdhn/teledl/internal/common/config"
	"github.com/rizkirmdhn/teledl/internal/common/events"
	"github.com/rizkirmdhn/teledl/internal/transcoder"
	"github.com/rizkirmdhn/teledl/pkg/models"
	"github.com/rizkirmdhn/teledl/pkg/utils"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

// DefaultConcurrency is used when the config does not set a positive value.
const DefaultConcurrency = 50

// Transcoder turns image bytes into the file at task.Destination.
type Transcoder interface {
	Transcode(ctx context.Context, task models.DownloadTask, data []byte) (int64, error)
}

// DownloaderService runs download tasks.
type DownloaderService struct {
	config           *config.DownloaderConfig
	log              *logrus.Logger
	httpClient       *http.Client
	userAgent        string
	limiter          *hostLimiter
	transcoder       Transcoder
	transcodeWorkers int
	sink             events.Sink
}

// Option configures a DownloaderService.
type Option func(*DownloaderService)

// WithTranscoder routes tasks marked for transcoding through t, with at most
// workers encodes running at once.
func WithTranscoder(t Transcoder, workers int) Option {
	return func(s *DownloaderService) {
		s.transcoder = t
		s.transcodeWorkers = workers
	}
}

// WithSink sets where task events go.
func WithSink(sink events.Sink) Option {
	return func(s *DownloaderService) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithUserAgent sets the User-Agent header of media requests.
func WithUserAgent(ua string) Option {
	return func(s *DownloaderService) {
		s.userAgent = ua
	}
}

// NewDownloaderService creates a DownloaderService. httpClient is shared
// across all tasks.
func NewDownloaderService(cfg *config.DownloaderConfig, httpClient *http.Client, log *logrus.Logger, opts ...Option) *DownloaderService {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	s := &DownloaderService{
		config:     cfg,
		log:        log,
		httpClient: httpClient,
		limiter:    newHostLimiter(cfg.RateLimit),
		sink:       events.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transcodeWorkers <= 0 {
		s.transcodeWorkers = 1
	}
	return s
}

func (s *DownloaderService) concurrency() int {
	if s.config.Concurrency > 0 {
		return s.config.Concurrency
	}
	return DefaultConcurrency
}

// Run executes tasks and returns one result per task, in task order.
//
// Tasks whose destination already holds a non-empty file are skipped without
// a request. The rest are dispatched in order, each holding one of N slots
// from before its request until its file is written. A failing task does not
// stop the others. Once ctx is done no further task is dispatched and the
// remaining ones are reported as failed.
func (s *DownloaderService) Run(ctx context.Context, tasks []models.DownloadTask) []models.Result {
	results := make([]models.Result, len(tasks))
	sem := make(chan struct{}, s.concurrency())

	var transcodes *pool.Pool
	if s.transcoder != nil {
		transcodes = pool.New().WithMaxGoroutines(s.transcodeWorkers)
	}

	var (
		wg   sync.WaitGroup
		dirs sync.Map
	)

	s.log.WithFields(logrus.Fields{
		"component": "downloader",
		"tasks":     len(tasks),
		"workers":   cap(sem),
	}).Debug("Starting downloads")

dispatch:
	for i, task := range tasks {
		if size, ok := existing(task.Destination); ok {
			results[i] = models.Result{Task: task, Status: models.StatusSkipped, Bytes: size}
			s.emit(results[i])
			continue
		}

		if err := ctx.Err(); err != nil {
			s.abandon(tasks[i:], results[i:], err)
			break dispatch
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			s.abandon(tasks[i:], results[i:], ctx.Err())
			break dispatch
		}

		wg.Add(1)
		go func(i int, task models.DownloadTask) {
			defer wg.Done()

			var once sync.Once
			release := func() { once.Do(func() { <-sem }) }
			defer release()

			res, data := s.download(ctx, task, &dirs)
			if data == nil {
				results[i] = res
				release()
				s.emit(res)
				return
			}

			// The slot is held until the encode is queued, so a full
			// transcode pool slows down fetching.
			transcodes.Go(func() {
				results[i] = s.transcode(ctx, task, data)
				s.emit(results[i])
			})
		}(i, task)
	}

	wg.Wait()
	if transcodes != nil {
		transcodes.Wait()
	}
	return results
}

// abandon marks tasks that were never dispatched as failed.
func (s *DownloaderService) abandon(tasks []models.DownloadTask, results []models.Result, err error) {
	for j, task := range tasks {
		if size, ok := existing(task.Destination); ok {
			results[j] = models.Result{Task: task, Status: models.StatusSkipped, Bytes: size}
		} else {
			results[j] = models.Result{Task: task, Status: models.StatusFailed, Err: err}
		}
		s.emit(results[j])
	}
}

// download fetches one task. For a task that needs transcoding it returns the
// fetched bytes instead of writing them; otherwise data is nil and the result
// is final.
func (s *DownloaderService) download(ctx context.Context, task models.DownloadTask, dirs *sync.Map) (res models.Result, data []byte) {
	start := time.Now()
	res = models.Result{Task: task, Status: models.StatusFailed}

	dir := filepath.Dir(task.Destination)
	created, err := utils.EnsureDirectory(dir)
	if err != nil {
		res.Err = &models.FilesystemError{Op: "mkdir", Path: dir, Err: err}
		return res, nil
	}
	if _, seen := dirs.LoadOrStore(dir, struct{}{}); created && !seen {
		s.sink.Emit(models.Event{Kind: models.EventDirectory, File: dir, Index: task.Ref.SequenceIndex})
	}

	resp, err := s.fetch(ctx, task.URL)
	if err != nil {
		res.Err = err
		return res, nil
	}
	defer resp.Body.Close()

	body := &trackingReader{r: resp.Body}

	if task.Transcode && s.transcoder != nil && transcoder.IsImage(task.Ref.FileID) {
		data, err := io.ReadAll(body)
		if err != nil {
			res.Err = &models.NetworkError{URL: task.URL, Err: err}
			return res, nil
		}
		return res, data
	}

	n, err := utils.WriteFileAtomic(task.Destination, body)
	if err != nil {
		if body.err != nil {
			res.Err = &models.NetworkError{URL: task.URL, Err: body.err}
		} else {
			res.Err = &models.FilesystemError{Op: "write", Path: task.Destination, Err: err}
		}
		return res, nil
	}

	s.log.WithFields(logrus.Fields{
		"component": "downloader",
		"file":      task.Destination,
		"bytes":     n,
		"took":      time.Since(start).Round(time.Millisecond),
	}).Debug("File written")

	res.Status = models.StatusDownloaded
	res.Bytes = n
	return res, nil
}

func (s *DownloaderService) transcode(ctx context.Context, task models.DownloadTask, data []byte) models.Result {
	n, err := s.transcoder.Transcode(ctx, task, data)
	if err != nil {
		return models.Result{Task: task, Status: models.StatusFailed, Err: err}
	}
	return models.Result{Task: task, Status: models.StatusDownloaded, Bytes: n, Transcoded: true}
}

// fetch issues the GET for url. A non-2xx status is returned as a
// NetworkError with the body already closed.
func (s *DownloaderService) fetch(ctx context.Context, url string) (*http.Response, error) {
	if err := s.limiter.Wait(ctx, url); err != nil {
		return nil, &models.NetworkError{URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &models.NetworkError{URL: url, Err: err}
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &models.NetworkError{URL: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &models.NetworkError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func (s *DownloaderService) emit(res models.Result) {
	e := models.Event{
		File:  res.Task.Destination,
		Index: res.Task.Ref.SequenceIndex,
		Bytes: res.Bytes,
	}
	switch {
	case res.Status == models.StatusSkipped:
		e.Kind = models.EventSkipped
	case res.Status == models.StatusFailed:
		e.Kind = models.EventFailed
		e.Error = res.Error()
	case res.Transcoded:
		e.Kind = models.EventTranscoded
	default:
		e.Kind = models.EventDownloaded
	}
	s.sink.Emit(e)
}

// existing reports the size of path when it is a non-empty regular file.
func existing(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return 0, false
	}
	return info.Size(), true
}

// trackingReader remembers a read error so a failed copy can be blamed on
// the network rather than the disk.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
