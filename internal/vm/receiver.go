package vm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/flowgate/internal/processing"
	"github.com/sungwon/flowgate/internal/queue"
	"github.com/sungwon/flowgate/internal/retry"
)

// Handler processes one delivered message. A non-nil reply is dispatched to
// the message's ReplyTo queue, when it has one.
type Handler func(ctx context.Context, msg *Message) (*Message, error)

// DeadLetterQueue receives messages whose deliveries kept failing.
type DeadLetterQueue interface {
	MoveToDLQ(ctx context.Context, msg *Message, reason string) error
}

type failure struct {
	count   int
	lastErr string
}

// Receiver polls one endpoint queue with a pool of workers and feeds each
// message through a processing sink to the handler.
type Receiver struct {
	mgr        *queue.Manager
	dispatcher *Dispatcher
	strategy   *processing.Strategy
	handler    Handler
	dlq        DeadLetterQueue
	template   *TransactionTemplate
	retry      *retry.Strategy
	cfg        ReceiverConfig
	log        zerolog.Logger

	sink   *processing.Sink
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu       sync.Mutex
	failures map[string]*failure
}

// NewReceiver creates a Receiver for cfg.Endpoint. dlq may be nil, in which
// case failing messages are retried indefinitely.
func NewReceiver(
	mgr *queue.Manager,
	dispatcher *Dispatcher,
	strategy *processing.Strategy,
	handler Handler,
	dlq DeadLetterQueue,
	cfg ReceiverConfig,
	log zerolog.Logger,
) (*Receiver, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("vm: receiver endpoint is required")
	}
	policy, err := ParseTxPolicy(cfg.TxPolicy)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	log = log.With().Str("endpoint", cfg.Endpoint).Logger()
	return &Receiver{
		mgr:        mgr,
		dispatcher: dispatcher,
		strategy:   strategy,
		handler:    handler,
		dlq:        dlq,
		template:   NewTransactionTemplate(policy, cfg.TxTimeout, log),
		retry:      retry.New(cfg.MaxRetries),
		cfg:        cfg,
		log:        log,
		failures:   make(map[string]*failure),
	}, nil
}

// Endpoint returns the queue this receiver consumes.
func (r *Receiver) Endpoint() string { return r.cfg.Endpoint }

// Start creates the endpoint's sink and launches the workers.
func (r *Receiver) Start(ctx context.Context) error {
	sink, err := r.strategy.CreateSink(r.cfg.Endpoint,
		r.strategy.OnPipeline(r.cfg.Endpoint, r.pipeline, nil))
	if err != nil {
		return err
	}
	r.sink = sink

	ctx, r.cancel = context.WithCancel(ctx)
	for i := range r.cfg.WorkerCount {
		r.wg.Add(1)
		go r.runWorker(ctx, fmt.Sprintf("worker-%d", i))
	}

	r.log.Info().
		Int("worker_count", r.cfg.WorkerCount).
		Str("tx_policy", r.template.Policy().String()).
		Msg("Receiver started")
	return nil
}

// Stop signals the workers to stop, waits up to the shutdown timeout for
// them and disposes the sink.
func (r *Receiver) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(r.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
		r.log.Info().Msg("Receiver stopped gracefully")
	case <-timer.C:
		r.log.Warn().Msg("Receiver shutdown timed out")
	case <-ctx.Done():
		return ctx.Err()
	}

	disposeCtx, cancel := context.WithTimeout(ctx, r.cfg.ShutdownTimeout)
	defer cancel()
	return r.sink.Dispose(disposeCtx)
}

func (r *Receiver) runWorker(ctx context.Context, worker string) {
	defer r.wg.Done()
	r.log.Debug().Str("worker", worker).Msg("Worker started")

	attempt := 0
	for {
		if ctx.Err() != nil {
			r.log.Debug().Str("worker", worker).Msg("Worker stopping")
			return
		}

		err := r.poll(ctx)
		switch {
		case err == nil:
			attempt = 0
			continue
		case ctx.Err() != nil:
			continue
		case errors.Is(err, queue.ErrStopped):
			// Manager restarting; wait for it.
		case errors.Is(err, processing.ErrCapacityExceeded):
			DeliveriesTotal.WithLabelValues(r.cfg.Endpoint, "rejected").Inc()
		default:
			r.log.Error().Err(err).Str("worker", worker).Msg("Delivery failed")
		}

		if werr := r.retry.Wait(ctx, attempt); werr != nil {
			continue
		}
		attempt++
	}
}

// poll takes at most one message and delivers it. A nil result means the
// take was settled: delivered, dead-lettered or nothing to take.
func (r *Receiver) poll(ctx context.Context) error {
	s := r.mgr.Session()
	var (
		data      []byte
		msg       *Message
		delivered bool
		inTx      bool
	)

	err := r.template.Execute(ctx, s, func(ctx context.Context) error {
		q, err := s.Queue(ctx, r.cfg.Endpoint)
		if err != nil {
			return err
		}
		var ok bool
		data, ok, err = q.Poll(ctx, r.cfg.PollTimeout)
		if err != nil || !ok {
			return err
		}
		inTx = s.InTransaction()

		msg, err = DecodeMessage(data)
		if err != nil {
			return r.deadLetterUndecodable(ctx, data, err)
		}

		err = r.deliver(ctx, msg)
		if err == nil {
			delivered = true
			return nil
		}
		if errors.Is(err, processing.ErrCapacityExceeded) || errors.Is(err, processing.ErrSinkDisposed) {
			return err
		}
		return r.recordFailure(ctx, msg, err)
	})

	if err != nil && data != nil && !inTx {
		if uerr := r.untake(ctx, data); uerr != nil {
			return errors.Join(err, uerr)
		}
	}
	if err == nil && delivered {
		r.forget(msg.ID)
		r.dispatcher.Release(ctx, msg)
	}
	return err
}

func (r *Receiver) untake(ctx context.Context, data []byte) error {
	q, err := r.mgr.Session().Queue(ctx, r.cfg.Endpoint)
	if err != nil {
		return err
	}
	return q.Untake(context.WithoutCancel(ctx), data)
}

// deliver runs msg through the sink on the caller's goroutine and dispatches
// the reply in the same session.
func (r *Receiver) deliver(ctx context.Context, msg *Message) error {
	start := time.Now()
	defer func() {
		DeliveryDuration.WithLabelValues(r.cfg.Endpoint).Observe(time.Since(start).Seconds())
	}()

	if err := r.dispatcher.Resolve(ctx, msg); err != nil {
		return err
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	ev := processing.NewEvent(data)
	ev.ID = msg.ID
	ev.CorrelationID = msg.CorrelationID

	processCtx, cancel := context.WithTimeout(ctx, r.cfg.ProcessTimeout)
	defer cancel()
	out, err := r.sink.Accept(processCtx, ev)
	if err != nil {
		return err
	}

	if msg.ReplyTo == "" || out == nil || out.Payload == nil {
		DeliveriesTotal.WithLabelValues(r.cfg.Endpoint, "delivered").Inc()
		return nil
	}
	reply, err := DecodeMessage(out.Payload)
	if err != nil {
		return err
	}
	if reply.CorrelationID == "" {
		reply.CorrelationID = msg.ID
	}
	err = r.dispatcher.Reply(ctx, msg.ReplyTo, reply)
	if errors.Is(err, ErrReplyQueueGone) {
		DeliveriesTotal.WithLabelValues(r.cfg.Endpoint, "reply_dropped").Inc()
		r.log.Warn().
			Str("message_id", msg.ID).
			Str("reply_to", msg.ReplyTo).
			Msg("Reply queue gone, dropping reply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reply to %q: %w", msg.ReplyTo, err)
	}
	DeliveriesTotal.WithLabelValues(r.cfg.Endpoint, "delivered").Inc()
	return nil
}

// pipeline adapts the handler to the processing sink. The event carries the
// encoded message and, on the way out, the encoded reply.
func (r *Receiver) pipeline(ctx context.Context, ev *processing.Event) (*processing.Event, error) {
	msg, err := DecodeMessage(ev.Payload)
	if err != nil {
		return nil, err
	}
	reply, err := r.handler(ctx, msg)
	if err != nil || reply == nil {
		return nil, err
	}
	data, err := reply.Encode()
	if err != nil {
		return nil, err
	}
	out := processing.NewEvent(data)
	out.ID = reply.ID
	out.CorrelationID = msg.ID
	return out, nil
}

// recordFailure counts a failed delivery. Within the retry budget it
// returns the error so the take is undone; past it the message is
// dead-lettered and the take is kept.
func (r *Receiver) recordFailure(ctx context.Context, msg *Message, cause error) error {
	r.mu.Lock()
	f, ok := r.failures[msg.ID]
	if !ok {
		f = &failure{}
		r.failures[msg.ID] = f
	}
	f.count++
	f.lastErr = cause.Error()
	count, reason := f.count, f.lastErr
	r.mu.Unlock()

	DeliveriesTotal.WithLabelValues(r.cfg.Endpoint, "failed").Inc()
	r.log.Warn().
		Err(cause).
		Str("message_id", msg.ID).
		Int("failures", count).
		Msg("Message delivery failed")

	if r.retry.ShouldRetry(count - 1) {
		return cause
	}
	if r.dlq == nil {
		r.log.Warn().
			Str("message_id", msg.ID).
			Int("failures", count).
			Msg("Retries exhausted and no dead letter queue configured, retrying")
		return cause
	}

	dead := *msg
	dead.Headers = maps.Clone(msg.Headers)
	dead.SetHeader(HeaderEndpoint, r.cfg.Endpoint)
	dead.SetHeader(HeaderError, reason)
	dead.RetryCount = msg.RetryCount + count
	if dead.PayloadRef != "" {
		dead.Payload = nil
	}
	if err := r.dlq.MoveToDLQ(ctx, &dead, reason); err != nil {
		return errors.Join(cause, fmt.Errorf("move %s to dlq: %w", msg.ID, err))
	}
	r.forget(msg.ID)
	DeliveriesTotal.WithLabelValues(r.cfg.Endpoint, "dead_lettered").Inc()
	r.log.Warn().Str("message_id", msg.ID).Msg("Message moved to dead letter queue")
	return nil
}

func (r *Receiver) deadLetterUndecodable(ctx context.Context, data []byte, cause error) error {
	if r.dlq == nil {
		r.log.Error().Err(cause).Msg("Dropping undecodable message")
		return nil
	}
	wrapped := NewMessage(data)
	wrapped.SetHeader(HeaderEndpoint, r.cfg.Endpoint)
	wrapped.SetHeader(HeaderError, cause.Error())
	if err := r.dlq.MoveToDLQ(ctx, wrapped, "decode: "+cause.Error()); err != nil {
		return err
	}
	DeliveriesTotal.WithLabelValues(r.cfg.Endpoint, "dead_lettered").Inc()
	return nil
}

func (r *Receiver) forget(id string) {
	r.mu.Lock()
	delete(r.failures, id)
	r.mu.Unlock()
}

// Failures returns the recorded failure count for a message ID.
func (r *Receiver) Failures(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.failures[id]; ok {
		return f.count
	}
	return 0
}
