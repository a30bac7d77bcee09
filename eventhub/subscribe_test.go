package eventhub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"pack.ag/amqp"
)

// fakeReceiver yields its queued messages, then the configured error,
// or blocks until cancellation when there's nothing left to deliver.
type fakeReceiver struct {
	msgs []*amqp.Message
	err  error
}

func (r *fakeReceiver) Receive(ctx context.Context) (*amqp.Message, error) {
	if len(r.msgs) == 0 {
		if r.err != nil {
			return nil, r.err
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func TestReceiveMessages(t *testing.T) {
	t.Parallel()

	recv := &fakeReceiver{
		msgs: []*amqp.Message{
			{Data: [][]byte{[]byte("one")}},
			{Data: [][]byte{[]byte("two")}},
		},
		err: errStop,
	}
	msgc := make(chan *amqp.Message, 8)
	accepted := 0
	err := receiveMessages(context.Background(), recv, func(*amqp.Message) error {
		accepted++
		return nil
	}, msgc)
	if err != errStop {
		t.Fatalf("receiveMessages error = %v, want %v", err, errStop)
	}
	if accepted != 2 {
		t.Errorf("accepted %d messages, want 2", accepted)
	}
	if len(msgc) != 2 {
		t.Errorf("delivered %d messages, want 2", len(msgc))
	}
}

func TestReceiveMessages_GroupTeardown(t *testing.T) {
	defer leaktest.Check(t)()

	g, ctx := errgroup.WithContext(context.Background())
	msgc := make(chan *amqp.Message, 8)
	accept := func(*amqp.Message) error { return nil }

	// one loop fails, the idle sibling must unblock via the group context
	g.Go(func() error {
		return receiveMessages(ctx, &fakeReceiver{err: errStop}, accept, msgc)
	})
	g.Go(func() error {
		return receiveMessages(ctx, &fakeReceiver{}, accept, msgc)
	})

	if err := g.Wait(); err != errStop {
		t.Fatalf("Wait = %v, want %v", err, errStop)
	}
}

var errStop = errors.New("stop")

func TestDispatchBatches(t *testing.T) {
	t.Parallel()

	msgc := make(chan *amqp.Message, 8)
	for _, payload := range []string{"one", "two", "three"} {
		msgc <- &amqp.Message{
			Data: [][]byte{[]byte(payload)},
			ApplicationProperties: map[string]interface{}{
				"origin": payload,
			},
			Annotations: map[interface{}]interface{}{
				"iothub-connection-device-id": "mydev",
			},
		}
	}

	var batches [][]*Event
	err := dispatchBatches(context.Background(), msgc, 8, func(events []*Event) error {
		batches = append(batches, events)
		return errStop
	})
	if err != errStop {
		t.Fatalf("dispatchBatches error = %v, want %v", err, errStop)
	}

	if len(batches) != 1 {
		t.Fatalf("handler invoked %d times, want 1", len(batches))
	}
	if len(batches[0]) != 3 {
		t.Fatalf("batch size = %d, want 3", len(batches[0]))
	}
	for i, want := range []string{"one", "two", "three"} {
		ev := batches[0][i]
		if string(ev.Payload) != want {
			t.Errorf("events[%d].Payload = %q, want %q", i, ev.Payload, want)
		}
		if diff := cmp.Diff(map[string]string{"origin": want}, ev.Properties); diff != "" {
			t.Errorf("events[%d].Properties mismatch (-want +got):\n%s", i, diff)
		}
		if ev.DeviceID() != "mydev" {
			t.Errorf("events[%d].DeviceID() = %q, want %q", i, ev.DeviceID(), "mydev")
		}
	}
}

func TestDispatchBatches_SizeCap(t *testing.T) {
	t.Parallel()

	msgc := make(chan *amqp.Message, 8)
	for i := 0; i < 5; i++ {
		msgc <- &amqp.Message{Data: [][]byte{[]byte("x")}}
	}

	var sizes []int
	err := dispatchBatches(context.Background(), msgc, 2, func(events []*Event) error {
		sizes = append(sizes, len(events))
		if len(sizes) == 3 {
			return errStop
		}
		return nil
	})
	if err != errStop {
		t.Fatalf("dispatchBatches error = %v, want %v", err, errStop)
	}
	if want := []int{2, 2, 1}; !cmp.Equal(want, sizes) {
		t.Errorf("batch sizes = %v, want %v", sizes, want)
	}
}

func TestDispatchBatches_ContextCancel(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	msgc := make(chan *amqp.Message)
	errc := make(chan error, 1)
	go func() {
		errc <- dispatchBatches(ctx, msgc, 8, func([]*Event) error {
			return nil
		})
	}()

	cancel()
	select {
	case err := <-errc:
		if err != context.Canceled {
			t.Fatalf("dispatchBatches error = %v, want %v", err, context.Canceled)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dispatchBatches didn't return after cancellation")
	}
}

func TestCheckMessageResponse(t *testing.T) {
	t.Parallel()

	if err := checkMessageResponse(&amqp.Message{
		ApplicationProperties: map[string]interface{}{"status-code": int32(200)},
	}); err != nil {
		t.Errorf("checkMessageResponse(200) = %v, want nil", err)
	}

	if err := checkMessageResponse(&amqp.Message{
		ApplicationProperties: map[string]interface{}{
			"status-code":        int32(404),
			"status-description": "not found",
		},
	}); err == nil {
		t.Error("checkMessageResponse(404) returned no error")
	}

	if err := checkMessageResponse(&amqp.Message{}); err == nil {
		t.Error("checkMessageResponse without status-code returned no error")
	}
}
