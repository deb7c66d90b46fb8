package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edumarket/api/config"
)

func TestBusDispatchesByName(t *testing.T) {
	bus := NewBus()
	var got []Name
	unsub := bus.Subscribe(Conversion, func(_ context.Context, e Event) { got = append(got, e.Name) })
	all := &Recorder{}
	bus.SubscribeAll(func(ctx context.Context, e Event) { all.Publish(ctx, e) })

	ctx := WithVisitor(context.Background(), "v1")
	bus.Publish(ctx, Event{Name: Conversion})
	bus.Publish(ctx, Event{Name: RetargetingDisplay})

	assert.Equal(t, []Name{Conversion}, got)
	require.Len(t, all.Events(), 2)
	assert.Equal(t, "v1", all.Events()[0].VisitorID)
	assert.False(t, all.Events()[0].Timestamp.IsZero())

	unsub()
	bus.Publish(ctx, Event{Name: Conversion})
	assert.Len(t, got, 1)
}

func TestBusSurvivesPanickingHandler(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(Conversion, func(context.Context, Event) { panic("boom") })
	called := false
	bus.Subscribe(Conversion, func(context.Context, Event) { called = true })

	assert.NotPanics(t, func() { bus.Publish(context.Background(), Event{Name: Conversion}) })
	assert.True(t, called)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	w.msgs = append(w.msgs, msgs...)
	w.mu.Unlock()
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaForwarderRoutesTopics(t *testing.T) {
	assert.Nil(t, NewKafkaForwarder(config.KafkaConfig{}))

	f := NewKafkaForwarder(config.KafkaConfig{
		Brokers: []string{"localhost:9092"},
		Topics:  map[string]string{"conversion": "edumarket.conversions"},
	})
	require.NotNil(t, f)
	require.NoError(t, f.Close())

	conv, other := &fakeWriter{}, &fakeWriter{}
	f.writers = map[string]messageWriter{"edumarket.conversions": conv, DefaultTopic: other}

	f.Publish(context.Background(), Event{Name: Conversion, VisitorID: "v1", Data: map[string]any{"value": 10}})
	f.Publish(context.Background(), Event{Name: RetargetingDisplay, VisitorID: "v2"})

	require.Len(t, conv.msgs, 1)
	require.Len(t, other.msgs, 1)
	assert.Equal(t, "v1", string(conv.msgs[0].Key))

	var decoded Event
	require.NoError(t, json.Unmarshal(conv.msgs[0].Value, &decoded))
	assert.Equal(t, Conversion, decoded.Name)
	assert.Equal(t, "retargeting-display", string(other.msgs[0].Headers[0].Value))
}
