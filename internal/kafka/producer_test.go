package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ariefcatur/farmgoods/internal/events"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducer_EmitFlushesOnClose(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, 8, nil)
	p.Start(context.Background())

	env, err := events.New(events.EventOrderPlaced, "test", "order-1", events.OrderPlacedPayload{OrderID: "order-1"})
	require.NoError(t, err)
	require.NoError(t, p.Emit(context.Background(), events.TopicOrderPlaced, events.PartitionKey("order-1"), env))

	p.Close()
	p.WaitClosed()

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, events.TopicOrderPlaced, m.Topic)
	assert.Equal(t, []byte("order-1"), m.Key)
	assert.Equal(t, "x-event-type", m.Headers[0].Key)
	assert.Equal(t, []byte(events.EventOrderPlaced), m.Headers[0].Value)
	assert.True(t, w.closed)

	decoded, err := UnmarshalEnvelope(m.Value)
	require.NoError(t, err)
	payload, err := UnwrapPayload[events.OrderPlacedPayload](decoded.Payload)
	require.NoError(t, err)
	assert.Equal(t, "order-1", payload.OrderID)
}

func TestProducer_PublishReportsFullInbox(t *testing.T) {
	p := newProducer(&recordingWriter{}, 1, nil)
	// not started: nothing drains the inbox
	require.NoError(t, p.Publish("t", nil, []byte("a")))
	assert.ErrorIs(t, p.Publish("t", nil, []byte("b")), ErrInboxFull)
}

func TestProducer_PublishAfterCloseIsRejected(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, 8, nil)
	p.Start(context.Background())
	p.Close()
	p.WaitClosed()

	env, err := events.New(events.EventPaymentSettled, "test", "order-1", events.PaymentSettledPayload{OrderID: "order-1"})
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		err = p.Emit(context.Background(), events.TopicPaymentSettled, events.PartitionKey("order-1"), env)
	})
	assert.ErrorIs(t, err, ErrProducerClosed)
	assert.NotPanics(t, p.Close)
	assert.Empty(t, w.msgs)
}

func TestProducer_ConcurrentPublishDuringClose(t *testing.T) {
	p := newProducer(&recordingWriter{}, 64, nil)
	p.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := p.Publish("t", nil, []byte("x"))
				if err != nil && !errors.Is(err, ErrProducerClosed) && !errors.Is(err, ErrInboxFull) {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}()
	}
	p.Close()
	wg.Wait()
	p.WaitClosed()
}
