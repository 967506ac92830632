// Package app runs one download job end to end: resolve the page, extract
// its media, download it and report what happened.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rizkirmdhn/teledl/internal/common/config"
	"github.com/rizkirmdhn/teledl/internal/common/events"
	"github.com/rizkirmdhn/teledl/internal/downloader"
	"github.com/rizkirmdhn/teledl/internal/scraper"
	"github.com/rizkirmdhn/teledl/internal/transcoder"
	"github.com/rizkirmdhn/teledl/pkg/models"
	"github.com/rizkirmdhn/teledl/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Options describes one job.
type Options struct {
	Link     string
	Folder   string
	Mode     models.Mode
	Compress bool
	ByTitle  bool
	Dedupe   bool
}

// OptionsFromConfig builds job options for link from the loaded config.
func OptionsFromConfig(cfg *config.Config, link string) (Options, error) {
	mode, err := models.ParseMode(cfg.Downloader.Mode)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Link:     link,
		Folder:   cfg.Downloader.Folder,
		Mode:     mode,
		Compress: cfg.Transcode.Enabled,
		ByTitle:  cfg.Downloader.ByTitle,
		Dedupe:   cfg.Downloader.Dedupe,
	}, nil
}

// OptionsFromCommand builds job options for a queued or HTTP command. The
// command's folder is kept inside the configured download folder.
func OptionsFromCommand(cfg *config.Config, cmd models.DownloadCommand) (Options, error) {
	if err := cmd.Validate(); err != nil {
		return Options{}, err
	}
	opts, err := OptionsFromConfig(cfg, cmd.Link)
	if err != nil {
		return Options{}, err
	}
	if cmd.Folder != "" {
		opts.Folder = filepath.Join(opts.Folder, filepath.Clean("/"+cmd.Folder))
	}
	if cmd.Mode != "" {
		opts.Mode, _ = models.ParseMode(cmd.Mode)
	}
	opts.Compress = opts.Compress || cmd.Compress
	return opts, nil
}

// Report is the outcome of one job.
type Report struct {
	JobID      string           `json:"job_id,omitempty"`
	Title      string           `json:"title"`
	Slug       string           `json:"slug"`
	Folder     string           `json:"folder"`
	SizeBefore int64            `json:"size_before"`
	SizeAfter  int64            `json:"size_after"`
	Stats      models.Stats     `json:"stats"`
	Results    []models.Result  `json:"results"`
	Failures   []FailureSummary `json:"failures,omitempty"`
}

// FailureSummary is a failed task in a form that serializes.
type FailureSummary struct {
	Index int    `json:"index"`
	File  string `json:"file"`
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Err returns an error when at least one task failed.
func (r *Report) Err() error {
	if r.Stats.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d downloads failed", r.Stats.Failed, r.Stats.Found)
}

// Pipeline wires the page client, downloader and transcoder together.
type Pipeline struct {
	cfg        *config.Config
	log        *logrus.Logger
	httpClient *http.Client
	client     *scraper.Client
	transcoder *transcoder.Service
}

// NewHTTPClient returns the client shared by page and media requests. Idle
// connections per host match the download concurrency; the timeout bounds
// connecting and waiting for headers, not reading large bodies.
func NewHTTPClient(cfg *config.Config) *http.Client {
	timeout := cfg.Downloader.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.Downloader.Concurrency
	transport.ResponseHeaderTimeout = timeout
	transport.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &http.Client{Transport: transport}
}

// New creates a Pipeline from the loaded config.
func New(cfg *config.Config, log *logrus.Logger) (*Pipeline, error) {
	return NewWithClient(cfg, log, NewHTTPClient(cfg))
}

// NewWithClient creates a Pipeline that uses httpClient for every request.
func NewWithClient(cfg *config.Config, log *logrus.Logger, httpClient *http.Client) (*Pipeline, error) {
	tc, err := transcoder.New(cfg.GetTranscodeConfig(), log)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:        cfg,
		log:        log,
		httpClient: httpClient,
		client:     scraper.NewClient(cfg.GetTelegraphConfig(), httpClient, log),
		transcoder: tc,
	}, nil
}

// Resolve fetches the page behind link and extracts its media references.
func (p *Pipeline) Resolve(ctx context.Context, link string, dedupe bool) (*models.Page, []models.MediaReference, error) {
	slug, err := p.client.ExtractSlug(link)
	if err != nil {
		return nil, nil, err
	}

	page, err := p.client.Fetch(ctx, slug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch page %s: %w", slug, err)
	}

	refs, err := scraper.Extract(page.Content...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to extract media from %s: %w", slug, err)
	}
	if dedupe {
		refs = scraper.Dedupe(refs)
	}
	return page, refs, nil
}

// Run executes one job. The returned error covers problems that stop the job
// before any download starts; per-file failures are in the report.
func (p *Pipeline) Run(ctx context.Context, jobID string, opts Options, sink events.Sink) (*Report, error) {
	if sink == nil {
		sink = events.Discard
	}
	sink = events.WithJob(sink, jobID)
	start := time.Now()

	page, refs, err := p.Resolve(ctx, opts.Link, opts.Dedupe)
	if err != nil {
		sink.Emit(models.Event{Kind: models.EventError, Error: err.Error()})
		return nil, err
	}

	folder := opts.Folder
	if folder == "" {
		folder = "."
	}
	if opts.ByTitle {
		folder = filepath.Join(folder, utils.SanitizeName(page.Title))
	}

	tasks := downloader.BuildTasks(refs, downloader.TaskOptions{
		Folder:   folder,
		Mode:     opts.Mode,
		FileBase: p.cfg.Telegraph.FileBase,
		Compress: opts.Compress,
	})

	before := p.sizeOf(folder)
	sink.Emit(models.Event{Kind: models.EventStart, Title: page.Title, File: folder, Total: len(tasks)})

	svcOpts := []downloader.Option{
		downloader.WithSink(sink),
		downloader.WithUserAgent(p.cfg.Telegraph.UserAgent),
	}
	if opts.Compress {
		svcOpts = append(svcOpts, downloader.WithTranscoder(p.transcoder, p.cfg.Transcode.Workers))
	}
	svc := downloader.NewDownloaderService(p.cfg.GetDownloaderConfig(), p.httpClient, p.log, svcOpts...)

	results := svc.Run(ctx, tasks)
	after := p.sizeOf(folder)

	report := &Report{
		JobID:      jobID,
		Title:      page.Title,
		Slug:       page.Slug,
		Folder:     folder,
		SizeBefore: before,
		SizeAfter:  after,
		Results:    results,
	}
	report.Stats.Found = len(refs)
	for _, res := range results {
		report.Stats.Add(res)
		if res.Status == models.StatusFailed {
			report.Failures = append(report.Failures, FailureSummary{
				Index: res.Task.Ref.SequenceIndex,
				File:  res.Task.Destination,
				URL:   res.Task.URL,
				Error: res.Error(),
			})
		}
	}
	report.Stats.Duration = time.Since(start)

	stats := report.Stats
	sink.Emit(models.Event{Kind: models.EventSummary, Title: page.Title, File: folder, Total: len(tasks), Bytes: after - before, Stats: &stats})

	return report, nil
}

func (p *Pipeline) sizeOf(path string) int64 {
	n, err := utils.SizeOf(path)
	if err != nil {
		p.log.WithError(err).WithField("path", path).Warn("Failed to measure folder size")
	}
	return n
}
