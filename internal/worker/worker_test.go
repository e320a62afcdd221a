package worker_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KKami91/zonos-worker/internal/job"
	"github.com/KKami91/zonos-worker/internal/worker"
)

const (
	jobsSubject    = "zonos.jobs.test"
	resultsSubject = "zonos.results.test"
	requestTimeout = 5 * time.Second
)

// mockHandler records the jobs it receives.
type mockHandler struct {
	mu   sync.Mutex
	jobs []job.Job
}

func (m *mockHandler) Handle(_ context.Context, j job.Job) job.Output {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs = append(m.jobs, j)

	if _, ok := j.Input["reference_audio"]; !ok {
		return job.Output{Error: "Reference audio is required for voice cloning"}
	}

	return job.Success("UklGRg==", 44100, "")
}

func (m *mockHandler) received() []job.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]job.Job(nil), m.jobs...)
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

// startWorker runs a worker until the test ends.
func startWorker(t *testing.T, opts worker.Options) (*nats.Conn, *mockHandler) {
	t.Helper()

	natsConnection := createTestNatsClient(t)
	handler := &mockHandler{}

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	workerInstance, err := worker.NewNatsWorker(natsConnection, handler, opts, testLogger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	select {
	case <-workerInstance.Ready():
	case err := <-errChan:
		t.Fatalf("worker stopped before subscribing: %v", err)
	case <-time.After(requestTimeout):
		t.Fatal("worker did not subscribe in time")
	}

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
		_ = testLogger.Close()
	})

	return natsConnection, handler
}

func request(t *testing.T, natsConnection *nats.Conn, payload []byte) worker.ResultEnvelope {
	t.Helper()

	replyMsg, err := natsConnection.Request(jobsSubject, payload, requestTimeout)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var result worker.ResultEnvelope

	require.NoError(t, json.Unmarshal(replyMsg.Data, &result))

	return result
}

func TestNatsWorker_RepliesWithOutput(t *testing.T) {
	t.Parallel()

	natsConnection, handler := startWorker(t, worker.Options{Subject: jobsSubject, QueueGroup: "zonos-workers"})

	header := events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
		UserID:     "user-1",
		TenantID:   "tenant-1",
	}

	payload, err := json.Marshal(worker.JobEnvelope{
		Header: header,
		ID:     "job-1",
		Input:  job.Input{"text": "Hello", "reference_audio": "UklGRg==", "seed": 421},
	})
	require.NoError(t, err)

	result := request(t, natsConnection, payload)

	assert.Equal(t, "job-1", result.ID)
	assert.Equal(t, job.Output{Audio: "UklGRg==", SamplingRate: 44100}, result.Output)
	assert.Equal(t, header.WorkflowID, result.Header.WorkflowID)
	assert.Equal(t, header.TenantID, result.Header.TenantID)
	assert.NotEqual(t, header.EventID, result.Header.EventID)

	jobs := handler.received()
	require.Len(t, jobs, 1)
	assert.Equal(t, "Hello", jobs[0].Input["text"])
	assert.Equal(t, json.Number("421"), jobs[0].Input["seed"])
}

func TestNatsWorker_GeneratesMissingID(t *testing.T) {
	t.Parallel()

	natsConnection, handler := startWorker(t, worker.Options{Subject: jobsSubject})

	result := request(t, natsConnection, []byte(`{"input":{"text":"no reference"}}`))

	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "Reference audio is required for voice cloning", result.Output.Error)
	assert.NotEmpty(t, result.Header.WorkflowID)

	jobs := handler.received()
	require.Len(t, jobs, 1)
	assert.Equal(t, result.ID, jobs[0].ID)
}

func TestNatsWorker_RejectsInvalidEnvelope(t *testing.T) {
	t.Parallel()

	natsConnection, handler := startWorker(t, worker.Options{Subject: jobsSubject})

	for _, payload := range []string{"not json", `{"id":"job-2"}`} {
		result := request(t, natsConnection, []byte(payload))
		assert.Contains(t, result.Output.Error, worker.ErrInvalidEnvelope.Error())
	}

	assert.Empty(t, handler.received())
}

func TestNatsWorker_PublishesResults(t *testing.T) {
	t.Parallel()

	natsConnection, _ := startWorker(t, worker.Options{Subject: jobsSubject, ResultsSubject: resultsSubject})

	results, err := natsConnection.SubscribeSync(resultsSubject)
	require.NoError(t, err)
	require.NoError(t, natsConnection.Flush())

	require.NoError(t, natsConnection.Publish(jobsSubject,
		[]byte(`{"id":"job-3","input":{"reference_audio":"UklGRg=="}}`)))

	msg, err := results.NextMsg(requestTimeout)
	require.NoError(t, err)

	var result worker.ResultEnvelope

	require.NoError(t, json.Unmarshal(msg.Data, &result))
	assert.Equal(t, "job-3", result.ID)
	assert.Equal(t, 44100, result.Output.SamplingRate)
}

func TestNewNatsWorker_RequiresSubject(t *testing.T) {
	t.Parallel()

	_, err := worker.NewNatsWorker(nil, &mockHandler{}, worker.Options{}, nil)
	require.ErrorIs(t, err, worker.ErrSubjectEmpty)
}

// gatedHandler blocks every job until release is closed.
type gatedHandler struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedHandler) Handle(_ context.Context, j job.Job) job.Output {
	close(g.started)
	<-g.release

	return job.Success("UklGRg==", 44100, j.ID)
}

func TestNatsWorker_ShutdownWaitsForInFlightJob(t *testing.T) {
	t.Parallel()

	natsConnection := createTestNatsClient(t)
	handler := &gatedHandler{started: make(chan struct{}), release: make(chan struct{})}

	workerConnection, err := nats.Connect(natsConnection.ConnectedUrl())
	require.NoError(t, err)
	t.Cleanup(workerConnection.Close)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	workerInstance, err := worker.NewNatsWorker(workerConnection, handler, worker.Options{
		Subject:    jobsSubject,
		JobTimeout: requestTimeout,
	}, testLogger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)

	go func() {
		runErr <- workerInstance.Run(ctx)
	}()

	<-workerInstance.Ready()

	type reply struct {
		msg *nats.Msg
		err error
	}

	replies := make(chan reply, 1)

	go func() {
		msg, requestErr := natsConnection.Request(jobsSubject,
			[]byte(`{"id":"job-inflight","input":{"reference_audio":"UklGRg=="}}`), requestTimeout)
		replies <- reply{msg: msg, err: requestErr}
	}()

	select {
	case <-handler.started:
	case <-time.After(requestTimeout):
		t.Fatal("job was never delivered to the handler")
	}

	cancel()

	select {
	case err := <-runErr:
		close(handler.release)
		t.Fatalf("Run returned before the in-flight job finished: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(handler.release)

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(requestTimeout):
		t.Fatal("Run did not return after the in-flight job finished")
	}

	// The process closes its connection as soon as Run returns.
	workerConnection.Close()

	got := <-replies
	require.NoError(t, got.err)

	var result worker.ResultEnvelope

	require.NoError(t, json.Unmarshal(got.msg.Data, &result))
	assert.Equal(t, "job-inflight", result.ID)
	assert.Equal(t, "UklGRg==", result.Output.Audio)
}
