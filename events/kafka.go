package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"edumarket/api/config"
)

// DefaultTopic receives events whose name has no topic of its own.
const DefaultTopic = "edumarket.events"

// messageWriter is the part of *kafka.Writer the forwarder uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaForwarder mirrors bus events to Kafka, keyed by visitor id.
type KafkaForwarder struct {
	writers map[string]messageWriter
	topics  map[string]string
}

// NewKafkaForwarder returns nil when no brokers are configured.
func NewKafkaForwarder(cfg config.KafkaConfig) *KafkaForwarder {
	if len(cfg.Brokers) == 0 {
		return nil
	}
	topics := map[string]string{"events": DefaultTopic}
	for name, topic := range cfg.Topics {
		topics[name] = topic
	}

	writers := make(map[string]messageWriter, len(topics))
	for _, topic := range topics {
		if _, ok := writers[topic]; ok {
			continue
		}
		writers[topic] = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: 100 * time.Millisecond,
			Async:        true,
		}
	}
	return &KafkaForwarder{writers: writers, topics: topics}
}

func (f *KafkaForwarder) topicFor(name Name) string {
	if t, ok := f.topics[string(name)]; ok {
		return t
	}
	return f.topics["events"]
}

// Publish satisfies Publisher so the forwarder can be subscribed to a Bus.
func (f *KafkaForwarder) Publish(ctx context.Context, e Event) {
	if err := f.Forward(ctx, e); err != nil {
		log.Error().Err(err).Str("event", string(e.Name)).Msg("Failed to forward event to Kafka")
	}
}

func (f *KafkaForwarder) Forward(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	w := f.writers[f.topicFor(e.Name)]
	return w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.VisitorID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(e.Name)},
		},
	})
}

func (f *KafkaForwarder) Close() error {
	for _, w := range f.writers {
		w.Close()
	}
	return nil
}
