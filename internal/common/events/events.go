// Package events carries the per-job log: one start line, directory lines,
// one terminal line per task and a closing summary.
package events

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rizkirmdhn/teledl/pkg/models"
	"github.com/rizkirmdhn/teledl/pkg/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// Sink receives job events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(models.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(models.Event)

func (f SinkFunc) Emit(e models.Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(models.Event) {})

type multi []Sink

func (m multi) Emit(e models.Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Multi fans an event out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// WithJob stamps the job id and a timestamp onto every event passing through.
func WithJob(sink Sink, jobID string) Sink {
	return SinkFunc(func(e models.Event) {
		if e.JobID == "" {
			e.JobID = jobID
		}
		if e.Time.IsZero() {
			e.Time = time.Now()
		}
		sink.Emit(e)
	})
}

// Recorder keeps every event in memory. Used by tests and the web panel's
// job history.
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *Recorder) Emit(e models.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Event, len(r.events))
	copy(out, r.events)
	return out
}

// LogSink writes each event as one structured log line.
type LogSink struct {
	Log logrus.FieldLogger
}

func (s LogSink) Emit(e models.Event) {
	fields := logrus.Fields{"event": e.Kind}
	if e.JobID != "" {
		fields["job"] = e.JobID
	}
	if e.File != "" {
		fields["file"] = e.File
	}

	entry := s.Log.WithFields(fields)
	switch e.Kind {
	case models.EventStart:
		entry.WithField("total", e.Total).Infof("Downloading %q", e.Title)
	case models.EventDirectory:
		entry.Info("Created directory")
	case models.EventDownloaded:
		entry.WithFields(logrus.Fields{
			"index": e.Index,
			"size":  utils.FormatBytes(e.Bytes),
		}).Info("Downloaded")
	case models.EventTranscoded:
		entry.WithFields(logrus.Fields{
			"index": e.Index,
			"size":  utils.FormatBytes(e.Bytes),
		}).Info("Transcoded")
	case models.EventSkipped:
		entry.WithField("index", e.Index).Info("Already exists, skipping")
	case models.EventFailed:
		entry.WithField("index", e.Index).Error(e.Error)
	case models.EventError:
		entry.Error(e.Error)
	case models.EventSummary:
		if e.Stats != nil {
			entry = entry.WithFields(logrus.Fields{
				"found":      e.Stats.Found,
				"downloaded": e.Stats.Downloaded,
				"skipped":    e.Stats.Skipped,
				"failed":     e.Stats.Failed,
				"transcoded": e.Stats.Transcoded,
				"written":    utils.FormatBytes(e.Stats.BytesWritten),
				"duration":   e.Stats.Duration.Round(time.Millisecond),
			})
		}
		entry.Info("Done")
	default:
		entry.Debug("Event")
	}
}

// Publisher is the part of the messaging client a PublisherSink needs.
type Publisher interface {
	PublishJSON(ctx context.Context, exchange, routingKey string, data interface{}) error
}

// LogRoutingKey is the routing key job events are published with.
const LogRoutingKey = "downloader.log"

// PublisherSink forwards events to the log exchange. Publish failures are
// logged and otherwise ignored.
type PublisherSink struct {
	Client   Publisher
	Exchange string
	Log      logrus.FieldLogger
	Timeout  time.Duration
}

func (s PublisherSink) Emit(e models.Event) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.Client.PublishJSON(ctx, s.Exchange, LogRoutingKey, e); err != nil && s.Log != nil {
		s.Log.WithError(err).WithField("event", e.Kind).Warn("Failed to publish event")
	}
}

// ProgressSink drives a terminal progress bar. The bar is created on the
// start event and advanced on each terminal event.
type ProgressSink struct {
	mu  sync.Mutex
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewProgressSink draws on out, usually os.Stderr.
func NewProgressSink(out io.Writer) *ProgressSink {
	return &ProgressSink{out: out}
}

func (p *ProgressSink) Emit(e models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case e.Kind == models.EventStart:
		p.bar = progressbar.NewOptions(e.Total,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription(e.Title),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionClearOnFinish(),
		)
	case e.Terminal():
		if p.bar != nil {
			_ = p.bar.Add(1)
		}
	case e.Kind == models.EventSummary:
		if p.bar != nil {
			_ = p.bar.Finish()
			p.bar = nil
		}
	}
}
