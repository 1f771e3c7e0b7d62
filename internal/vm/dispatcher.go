package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/flowgate/internal/payload"
	"github.com/sungwon/flowgate/internal/queue"
)

// Dispatcher delivers messages to vm endpoint queues.
type Dispatcher struct {
	mgr      *queue.Manager
	cfg      Config
	payloads payload.Store
	log      zerolog.Logger
}

// NewDispatcher creates a Dispatcher. payloads may be nil, in which case
// bodies always travel inline.
func NewDispatcher(mgr *queue.Manager, cfg Config, payloads payload.Store, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		mgr:      mgr,
		cfg:      cfg,
		payloads: payloads,
		log:      log,
	}
}

// Dispatch enqueues msg on endpoint. It joins the session carried by ctx, if
// any, so the put becomes part of that session's transaction; otherwise the
// put is immediate. If the endpoint stays full for the dispatch timeout the
// result is a *QueueFullError and nothing is enqueued.
func (d *Dispatcher) Dispatch(ctx context.Context, endpoint string, msg *Message) error {
	s, ok := SessionFromContext(ctx)
	if !ok {
		s = d.mgr.Session()
	}
	return d.dispatch(ctx, s, endpoint, msg)
}

// Reply enqueues a reply on replyTo. Unlike Dispatch it never creates the
// queue: a reply queue that is gone belongs to a Send that already gave up,
// and the result is ErrReplyQueueGone.
func (d *Dispatcher) Reply(ctx context.Context, replyTo string, reply *Message) error {
	s, ok := SessionFromContext(ctx)
	if !ok {
		s = d.mgr.Session()
	}
	q, err := s.ExistingQueue(replyTo)
	if err != nil {
		DispatchTotal.WithLabelValues(replyTo, "reply_gone").Inc()
		return fmt.Errorf("%w: %w", ErrReplyQueueGone, err)
	}
	err = d.offer(ctx, q, replyTo, reply)
	if errors.Is(err, queue.ErrDisposed) {
		return fmt.Errorf("%w: %w", ErrReplyQueueGone, err)
	}
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, s *queue.Session, endpoint string, msg *Message) error {
	q, err := s.Queue(ctx, endpoint)
	if err != nil {
		DispatchTotal.WithLabelValues(endpoint, "error").Inc()
		return err
	}
	return d.offer(ctx, q, endpoint, msg)
}

func (d *Dispatcher) offer(ctx context.Context, q *queue.Queue, endpoint string, msg *Message) error {
	out := *msg
	externalized, err := d.externalize(ctx, &out)
	if err != nil {
		DispatchTotal.WithLabelValues(endpoint, "error").Inc()
		return err
	}
	data, err := out.Encode()
	if err != nil {
		d.dropPayload(ctx, externalized, out.PayloadRef)
		DispatchTotal.WithLabelValues(endpoint, "error").Inc()
		return err
	}

	accepted, err := q.Offer(ctx, data, d.cfg.DispatchTimeout)
	if err != nil {
		d.dropPayload(ctx, externalized, out.PayloadRef)
		DispatchTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("dispatch to %q: %w", endpoint, err)
	}
	if !accepted {
		d.dropPayload(ctx, externalized, out.PayloadRef)
		DispatchTotal.WithLabelValues(endpoint, "full").Inc()
		d.log.Warn().
			Str("endpoint", endpoint).
			Str("message_id", msg.ID).
			Dur("timeout", d.cfg.DispatchTimeout).
			Msg("Endpoint queue full, dispatch refused")
		return &QueueFullError{Queue: endpoint, Size: q.Size(ctx)}
	}

	DispatchTotal.WithLabelValues(endpoint, "ok").Inc()
	d.log.Debug().
		Str("endpoint", endpoint).
		Str("message_id", msg.ID).
		Bool("claim_check", externalized).
		Msg("Message dispatched")
	return nil
}

// Send dispatches msg and waits for the reply on a private reply queue. It
// always uses a fresh session so the request is visible to the receiver
// before the reply is awaited. The reply queue name is unique per call, so
// concurrent sends of the same message never share one.
func (d *Dispatcher) Send(ctx context.Context, endpoint string, msg *Message) (*Message, error) {
	replyQueue := d.cfg.ReplyQueuePrefix + msg.ID + "." + uuid.NewString()
	if err := d.mgr.SetQueueConfig(replyQueue, queue.DefaultConfig()); err != nil {
		return nil, err
	}
	defer d.mgr.ResetQueueConfig(replyQueue)

	s := d.mgr.Session()
	q, err := s.Queue(ctx, replyQueue)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := q.Dispose(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, queue.ErrDisposed) {
			d.log.Warn().Err(err).Str("queue", replyQueue).Msg("Failed to dispose reply queue")
		}
	}()

	out := *msg
	out.ReplyTo = replyQueue
	if err := d.dispatch(ctx, s, endpoint, &out); err != nil {
		return nil, err
	}

	data, ok, err := q.Poll(ctx, d.cfg.ResponseTimeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		ResponseTimeoutsTotal.Inc()
		return nil, fmt.Errorf("%w: no reply from %q within %s", ErrResponseTimeout, endpoint, d.cfg.ResponseTimeout)
	}
	reply, err := DecodeMessage(data)
	if err != nil {
		return nil, err
	}
	if err := d.Resolve(ctx, reply); err != nil {
		return nil, err
	}
	d.Release(ctx, reply)
	return reply, nil
}

// Resolve loads an externalized body back into msg.Payload. The reference is
// kept so Release can delete the stored copy.
func (d *Dispatcher) Resolve(ctx context.Context, msg *Message) error {
	if msg.HasInlineBody() {
		return nil
	}
	if d.payloads == nil {
		return fmt.Errorf("vm: message %s references payload %s but no payload store is configured", msg.ID, msg.PayloadRef)
	}
	body, err := d.payloads.Get(ctx, msg.PayloadRef)
	if err != nil {
		return fmt.Errorf("resolve payload %s: %w", msg.PayloadRef, err)
	}
	msg.Payload = body
	return nil
}

// Release deletes the stored body of a consumed message.
func (d *Dispatcher) Release(ctx context.Context, msg *Message) {
	if msg.PayloadRef == "" || d.payloads == nil {
		return
	}
	if err := d.payloads.Delete(ctx, msg.PayloadRef); err != nil {
		d.log.Warn().Err(err).Str("payload_ref", msg.PayloadRef).Msg("Failed to delete payload")
	}
}

func (d *Dispatcher) externalize(ctx context.Context, msg *Message) (bool, error) {
	if d.payloads == nil || d.cfg.ClaimCheckThreshold <= 0 ||
		!msg.HasInlineBody() || len(msg.Payload) <= d.cfg.ClaimCheckThreshold {
		return false, nil
	}
	if err := d.payloads.Put(ctx, msg.ID, msg.Payload); err != nil {
		return false, fmt.Errorf("store payload for %s: %w", msg.ID, err)
	}
	msg.PayloadRef = msg.ID
	msg.Payload = nil
	ClaimCheckTotal.Inc()
	return true, nil
}

func (d *Dispatcher) dropPayload(ctx context.Context, externalized bool, ref string) {
	if !externalized {
		return
	}
	if err := d.payloads.Delete(context.WithoutCancel(ctx), ref); err != nil {
		d.log.Warn().Err(err).Str("payload_ref", ref).Msg("Failed to delete orphaned payload")
	}
}
