// Package worker provides a NATS worker that processes voice-cloning jobs.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/KKami91/zonos-worker/internal/job"
)

const (
	defaultJobTimeout = 10 * time.Minute
	drainGrace        = 5 * time.Second
	drainPollInterval = 10 * time.Millisecond
)

var (
	// ErrSubjectEmpty indicates that no jobs subject was configured.
	ErrSubjectEmpty = errors.New("jobs subject cannot be empty")
	// ErrInvalidEnvelope indicates a message that is not a job envelope.
	ErrInvalidEnvelope = errors.New("invalid job envelope")
	// ErrDrainTimeout indicates that in-flight jobs did not finish while draining.
	ErrDrainTimeout = errors.New("timed out draining the jobs subscription")
)

// JobHandler runs a single job.
//
// Handle must not panic and must honor ctx: the worker cancels it once the
// job timeout elapses. Failures are reported through the returned Output,
// never through a Go error, so every job gets exactly one reply.
type JobHandler interface {
	Handle(ctx context.Context, j job.Job) job.Output
}

// JobEnvelope is the message a client publishes on the jobs subject.
type JobEnvelope struct {
	// Header carries the workflow and tenant the result is attributed to.
	Header events.EventHeader `json:"header"`
	// ID identifies the job. A random UUID is assigned when it is empty.
	ID string `json:"id"`
	// Input holds the raw job parameters, decoded with json.Number.
	Input job.Input `json:"input"`
}

// ResultEnvelope is the reply, and the message published on the results subject.
type ResultEnvelope struct {
	// Header is derived from the job header with a fresh event id and timestamp.
	Header events.EventHeader `json:"header"`
	// ID echoes the job id. It is empty for messages that were not envelopes.
	ID string `json:"id"`
	// Output is the job result, or an Output whose Error field is set.
	Output job.Output `json:"output"`
}

// Options configure the subjects the worker uses.
type Options struct {
	// Subject is the subject jobs are requested on. It is required.
	Subject string
	// QueueGroup, when set, load-balances jobs across workers in the group.
	QueueGroup string
	// ResultsSubject, when set, also receives every result envelope.
	ResultsSubject string
	// JobTimeout bounds a single job. It defaults to ten minutes.
	JobTimeout time.Duration
}

// NatsWorker listens for jobs on a NATS subject and answers each one.
type NatsWorker struct {
	natsConnection *nats.Conn
	handler        JobHandler
	opts           Options
	log            *logger.Logger
	ready          chan struct{}
	// inflight is read-locked for the whole of each message callback.
	inflight sync.RWMutex
}

// NewNatsWorker creates a new instance of a NATS worker.
//
// The connection is owned by the caller and must outlive Run. The worker does
// not subscribe until Run is called. ErrSubjectEmpty is returned when
// opts.Subject is empty.
func NewNatsWorker(
	natsConnection *nats.Conn,
	handler JobHandler,
	opts Options,
	log *logger.Logger,
) (*NatsWorker, error) {
	if opts.Subject == "" {
		return nil, ErrSubjectEmpty
	}

	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		handler:        handler,
		opts:           opts,
		log:            log,
		ready:          make(chan struct{}),
	}, nil
}

// Ready is closed once Run has subscribed.
func (w *NatsWorker) Ready() <-chan struct{} {
	return w.ready
}

// Run subscribes and processes messages until ctx is cancelled.
//
// Messages are handled one at a time on the subscription's callback
// goroutine, and each reply goes to the request's reply subject. Ready is
// closed once the subscription has been flushed to the server.
//
// On cancellation the subscription is drained: no new messages are delivered,
// messages already buffered are still handled, and Run only returns after the
// last callback, including its reply, has finished. The caller may therefore
// close the connection as soon as Run returns. ErrDrainTimeout is returned if
// draining takes longer than the job timeout plus a short grace period.
func (w *NatsWorker) Run(ctx context.Context) error {
	var (
		sub *nats.Subscription
		err error
	)

	if w.opts.QueueGroup != "" {
		sub, err = w.natsConnection.QueueSubscribe(w.opts.Subject, w.opts.QueueGroup, w.handleMessage)
	} else {
		sub, err = w.natsConnection.Subscribe(w.opts.Subject, w.handleMessage)
	}

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.opts.Subject, err)
	}

	err = w.natsConnection.Flush()
	if err != nil {
		return fmt.Errorf("failed to flush subscription to %s: %w", w.opts.Subject, err)
	}

	w.log.System("Listening for jobs on subject %s (queue group '%s')", w.opts.Subject, w.opts.QueueGroup)
	close(w.ready)

	<-ctx.Done()

	return w.drain(sub)
}

// drain stops delivery and waits for buffered and running callbacks.
func (w *NatsWorker) drain(sub *nats.Subscription) error {
	w.log.System("Draining jobs subscription on %s", w.opts.Subject)

	err := sub.Drain()
	if err != nil {
		return fmt.Errorf("failed to drain subscription: %w", err)
	}

	deadline := time.Now().Add(w.opts.JobTimeout + drainGrace)
	for sub.IsValid() {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrDrainTimeout, w.opts.Subject)
		}

		time.Sleep(drainPollInterval)
	}

	// The subscription is invalidated before the last callback returns.
	w.inflight.Lock()
	w.inflight.Unlock()

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	w.inflight.RLock()
	defer w.inflight.RUnlock()

	envelope, err := parseEnvelope(msg.Data)
	if err != nil {
		w.log.Error("Rejected message on %s: %v", msg.Subject, err)
		w.reply(msg, &ResultEnvelope{Header: newHeader(events.EventHeader{}), Output: job.Failure(err)})

		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.opts.JobTimeout)
	defer cancel()

	output := w.handler.Handle(ctx, job.Job{ID: envelope.ID, Input: envelope.Input})

	w.reply(msg, &ResultEnvelope{
		Header: newHeader(envelope.Header),
		ID:     envelope.ID,
		Output: output,
	})
}

// reply answers the request, if it has a reply subject, and publishes the
// result on the results subject when one is configured.
func (w *NatsWorker) reply(msg *nats.Msg, result *ResultEnvelope) {
	data, err := json.Marshal(result)
	if err != nil {
		w.log.Error("Failed to marshal result for job %s: %v", result.ID, err)

		return
	}

	if msg.Reply != "" {
		respondErr := msg.Respond(data)
		if respondErr != nil {
			w.log.Error("Failed to reply for job %s: %v", result.ID, respondErr)
		}
	}

	if w.opts.ResultsSubject != "" {
		publishErr := w.natsConnection.Publish(w.opts.ResultsSubject, data)
		if publishErr != nil {
			w.log.Error("Failed to publish result for job %s to %s: %v", result.ID, w.opts.ResultsSubject, publishErr)
		}
	}
}

// parseEnvelope decodes a job envelope. Numbers stay json.Number so integer
// seeds are not rounded through float64.
func parseEnvelope(data []byte) (*JobEnvelope, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var envelope JobEnvelope

	err := decoder.Decode(&envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}

	if envelope.Input == nil {
		return nil, fmt.Errorf("%w: missing input", ErrInvalidEnvelope)
	}

	if envelope.ID == "" {
		envelope.ID = uuid.NewString()
	}

	return &envelope, nil
}

// newHeader derives the result header from the job header: the workflow and
// tenant are kept, the event gets a fresh id and timestamp.
func newHeader(parent events.EventHeader) events.EventHeader {
	header := parent
	header.EventID = uuid.NewString()
	header.Timestamp = time.Now()

	if header.WorkflowID == "" {
		header.WorkflowID = uuid.NewString()
	}

	return header
}
