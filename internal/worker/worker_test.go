package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rizkirmdhn/teledl/internal/app"
	"github.com/rizkirmdhn/teledl/internal/common/config"
	"github.com/rizkirmdhn/teledl/internal/common/events"
	"github.com/rizkirmdhn/teledl/internal/common/messaging"
	"github.com/rizkirmdhn/teledl/pkg/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange, key string
	data          interface{}
}

type fakeClient struct {
	mu        sync.Mutex
	declared  []string
	bound     map[string]string
	published []published
	handler   messaging.Handler
	workers   int
}

func newFakeClient() *fakeClient {
	return &fakeClient{bound: map[string]string{}}
}

func (f *fakeClient) PublishJSON(_ context.Context, exchange, routingKey string, data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{exchange, routingKey, data})
	return nil
}

func (f *fakeClient) DeclareQueue(name string) error {
	f.declared = append(f.declared, name)
	return nil
}

func (f *fakeClient) BindQueue(queue, exchange, key string) error {
	f.bound[queue] = exchange + "/" + key
	return nil
}

func (f *fakeClient) ConsumeWithContext(_ context.Context, _ string, workers int, h messaging.Handler) error {
	f.handler = h
	f.workers = workers
	return nil
}

func (f *fakeClient) Close() error { return nil }

type fakeRunner struct {
	mu    sync.Mutex
	calls []app.Options
	ids   []string
	err   error
}

func (r *fakeRunner) Run(ctx context.Context, jobID string, opts app.Options, sink events.Sink) (*app.Report, error) {
	r.mu.Lock()
	r.calls = append(r.calls, opts)
	r.ids = append(r.ids, jobID)
	r.mu.Unlock()

	sink = events.WithJob(sink, jobID)
	if r.err != nil {
		sink.Emit(models.Event{Kind: models.EventError, Error: r.err.Error()})
		return nil, r.err
	}
	sink.Emit(models.Event{Kind: models.EventStart, Total: 1})
	sink.Emit(models.Event{Kind: models.EventDownloaded, Index: 0})
	sink.Emit(models.Event{Kind: models.EventSummary, Stats: &models.Stats{Found: 1, Downloaded: 1}})
	return &app.Report{Stats: models.Stats{Found: 1, Downloaded: 1}}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Downloader: config.DownloaderConfig{Folder: "/data", Mode: "ordered"},
		RabbitMq: config.RabbitMQConfig{
			Exchange: config.ExchangeNames{Task: "teledl.task", Log: "teledl.log"},
			Queue:    config.QueueNames{DownloaderQueue: "teledl_downloader", LogQueue: "teledl_log"},
		},
		Worker: config.WorkerConfig{Jobs: 3},
	}
}

func startWorker(t *testing.T, runner Runner) (*Worker, *fakeClient) {
	t.Helper()
	log, _ := test.NewNullLogger()
	client := newFakeClient()
	w := NewWorker(testConfig(), log, client, runner)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w, client
}

func TestStartDeclaresQueues(t *testing.T) {
	_, client := startWorker(t, &fakeRunner{})

	assert.ElementsMatch(t, []string{"teledl_downloader", "teledl_log"}, client.declared)
	assert.Equal(t, "teledl.task/downloader.task", client.bound["teledl_downloader"])
	assert.Equal(t, "teledl.log/downloader.log", client.bound["teledl_log"])
	assert.Equal(t, 3, client.workers)
	require.NotNil(t, client.handler)
}

func TestHandleCommandRunsJobAndPublishesEvents(t *testing.T) {
	runner := &fakeRunner{}
	_, client := startWorker(t, runner)

	body, _ := json.Marshal(models.DownloadCommand{JobID: "j1", Link: "Sample", Folder: "trip", Mode: "fast"})
	require.NoError(t, client.handler(body, RoutingTaskDownload))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "j1", runner.ids[0])
	assert.Equal(t, "/data/trip", runner.calls[0].Folder)
	assert.Equal(t, models.ModeFast, runner.calls[0].Mode)

	require.Len(t, client.published, 3)
	for _, p := range client.published {
		assert.Equal(t, "teledl.log", p.exchange)
		assert.Equal(t, RoutingLogDownload, p.key)
		assert.Equal(t, "j1", p.data.(models.Event).JobID)
	}
}

func TestHandleCommandAssignsJobID(t *testing.T) {
	runner := &fakeRunner{}
	_, client := startWorker(t, runner)

	require.NoError(t, client.handler([]byte(`{"link":"Sample"}`), RoutingTaskDownload))
	require.Len(t, runner.ids, 1)
	assert.NotEmpty(t, runner.ids[0])
}

func TestHandleCommandRejectsMalformed(t *testing.T) {
	runner := &fakeRunner{}
	_, client := startWorker(t, runner)

	err := client.handler([]byte(`not json`), RoutingTaskDownload)
	assert.True(t, messaging.IsReject(err))

	err = client.handler([]byte(`{"link":""}`), RoutingTaskDownload)
	assert.True(t, messaging.IsReject(err))

	err = client.handler([]byte(`{"link":"x","mode":"sideways"}`), RoutingTaskDownload)
	assert.True(t, messaging.IsReject(err))

	assert.Empty(t, runner.calls)
}

func TestHandleCommandAcksFailedJobs(t *testing.T) {
	runner := &fakeRunner{err: &models.NetworkError{URL: "https://api.telegra.ph/getPage/x", StatusCode: 404}}
	_, client := startWorker(t, runner)

	err := client.handler([]byte(`{"link":"x"}`), RoutingTaskDownload)
	assert.NoError(t, err)
	require.Len(t, client.published, 1)
	assert.Equal(t, models.EventError, client.published[0].data.(models.Event).Kind)
}

func TestHandleCommandRequeuesOnShutdown(t *testing.T) {
	runner := &fakeRunner{err: context.Canceled}
	log, _ := test.NewNullLogger()
	client := newFakeClient()
	w := NewWorker(testConfig(), log, client, runner)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	err := client.handler([]byte(`{"link":"x"}`), RoutingTaskDownload)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, messaging.IsReject(err))
}
