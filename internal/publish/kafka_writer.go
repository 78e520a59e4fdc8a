package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaWriter drains the Hub's unified stream and writes JSON-encoded
// records to a Kafka topic, keyed by exchange:symbol so per-symbol ordering
// survives partitioning.
type KafkaWriter struct {
	writer *kafka.Writer
	feed   <-chan *Record
	log    zerolog.Logger
}

// NewKafkaWriter creates a writer for the given brokers and topic, reading
// from the Hub's SubscribeAll channel.
func NewKafkaWriter(brokers []string, topic string, feed <-chan *Record, log zerolog.Logger) *KafkaWriter {
	return &KafkaWriter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		feed: feed,
		log:  log.With().Str("component", "kafka").Logger(),
	}
}

// Run consumes the feed until ctx is cancelled. Write failures are logged
// and the record is dropped; the next snapshot anchor repairs consumer
// state.
func (kw *KafkaWriter) Run(ctx context.Context) error {
	defer kw.writer.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-kw.feed:
			if !ok {
				return nil
			}
			if err := kw.write(ctx, rec); err != nil {
				kw.log.Error().Err(err).
					Str("symbol", rec.Symbol).
					Str("stream", string(rec.Stream)).
					Msg("kafka write failed")
			}
		}
	}
}

func (kw *KafkaWriter) write(ctx context.Context, rec *Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	key := fmt.Sprintf("%s:%s", rec.Exchange, rec.Symbol)
	return kw.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
}
