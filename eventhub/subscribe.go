package eventhub

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"pack.ag/amqp"

	"github.com/telemetry-tools/hubtap/common"
	"github.com/telemetry-tools/hubtap/common/commonamqp"
)

// DefaultConsumerGroup is the consumer group used
// unless WithSubscribeConsumerGroup is given.
const DefaultConsumerGroup = "$Default"

// Event is a received telemetry message.
type Event struct {
	*common.Message
}

// BatchHandler handles batches of received events.
//
// It's invoked synchronously, the subscription doesn't dispatch the
// next batch until the handler returns. A non-nil error terminates
// the subscription.
type BatchHandler func(events []*Event) error

// ErrorHandler is notified about the error that terminated a subscription.
type ErrorHandler func(err error)

type subscription struct {
	group     string
	since     time.Time
	batchSize int
	onError   ErrorHandler
}

// SubscribeOption is a subscription option.
type SubscribeOption func(s *subscription)

// WithSubscribeConsumerGroup overrides the default consumer group.
func WithSubscribeConsumerGroup(group string) SubscribeOption {
	return func(s *subscription) {
		s.group = group
	}
}

// WithSubscribeSince skips events enqueued before the given time.
func WithSubscribeSince(t time.Time) SubscribeOption {
	return func(s *subscription) {
		s.since = t
	}
}

// WithSubscribeBatchSize caps the number of events delivered
// in a single handler invocation.
func WithSubscribeBatchSize(n int) SubscribeOption {
	return func(s *subscription) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithSubscribeErrorHandler registers an error callback.
func WithSubscribeErrorHandler(fn ErrorHandler) SubscribeOption {
	return func(s *subscription) {
		s.onError = fn
	}
}

// Subscribe streams events of all partitions of the entity to the
// given handler until the context is cancelled or an error occurs.
//
// Events are not checkpointed anywhere, every subscription starts
// reading from its configured position.
func (c *Client) Subscribe(ctx context.Context, fn BatchHandler, opts ...SubscribeOption) error {
	sub := &subscription{
		group:     DefaultConsumerGroup,
		batchSize: 16,
	}
	for _, opt := range opts {
		opt(sub)
	}

	sess, err := c.conn.NewSession()
	if err != nil {
		return err
	}
	defer sess.Close(context.Background())

	ids, err := c.partitionIDs(ctx, sess)
	if err != nil {
		return err
	}
	c.logger.Debugf("%s partitions: %v", c.entityPath, ids)

	// attach every partition link before spawning anything so a
	// failed attach leaves no receive loops behind
	recvs := make([]*amqp.Receiver, 0, len(ids))
	for _, id := range ids {
		linkOpts := []amqp.LinkOption{
			amqp.LinkSourceAddress(fmt.Sprintf(
				"/%s/ConsumerGroups/%s/Partitions/%s", c.entityPath, sub.group, id,
			)),
		}
		if !sub.since.IsZero() {
			linkOpts = append(linkOpts, amqp.LinkSelectorFilter(fmt.Sprintf(
				"amqp.annotation.x-opt-enqueuedtimeutc > '%d'",
				sub.since.UnixNano()/int64(time.Millisecond),
			)))
		}
		recv, err := sess.NewReceiver(linkOpts...)
		if err != nil {
			for _, r := range recvs {
				r.Close(context.Background())
			}
			return err
		}
		recvs = append(recvs, recv)
	}

	g, ctx := errgroup.WithContext(ctx)
	msgc := make(chan *amqp.Message, sub.batchSize)
	for _, recv := range recvs {
		recv := recv
		g.Go(func() error {
			defer recv.Close(context.Background())
			return receiveMessages(ctx, recv, (*amqp.Message).Accept, msgc)
		})
	}
	g.Go(func() error {
		return dispatchBatches(ctx, msgc, sub.batchSize, fn)
	})

	if err = g.Wait(); err != nil {
		if sub.onError != nil {
			sub.onError(err)
		}
		return err
	}
	return nil
}

type messageReceiver interface {
	Receive(ctx context.Context) (*amqp.Message, error)
}

// receiveMessages pumps accepted messages into msgc until the
// receiver fails or the context is cancelled.
func receiveMessages(
	ctx context.Context,
	recv messageReceiver,
	accept func(*amqp.Message) error,
	msgc chan<- *amqp.Message,
) error {
	for {
		msg, err := recv.Receive(ctx)
		if err != nil {
			return err
		}
		if err = accept(msg); err != nil {
			return err
		}
		select {
		case msgc <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatchBatches accumulates ready messages into batches and invokes
// the handler once per batch, preserving delivery order. The next batch
// is not collected until the handler completes.
func dispatchBatches(
	ctx context.Context,
	msgc <-chan *amqp.Message,
	size int,
	fn BatchHandler,
) error {
	for {
		var msg *amqp.Message
		select {
		case msg = <-msgc:
		case <-ctx.Done():
			return ctx.Err()
		}

		batch := make([]*Event, 0, size)
		batch = append(batch, newEvent(msg))
	drain:
		for len(batch) < size {
			select {
			case msg = <-msgc:
				batch = append(batch, newEvent(msg))
			default:
				break drain
			}
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
}

func newEvent(msg *amqp.Message) *Event {
	return &Event{commonamqp.FromAMQPMessage(msg)}
}
