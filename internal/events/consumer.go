package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Envelope is a transcript event read back from a topic. Payload holds the event as
// published so consumers can forward it untouched.
type Envelope struct {
	Topic       string
	EventType   string
	RecordingID string
	CaseID      string
	Payload     json.RawMessage
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	// Since rewinds partition 0 to messages newer than now minus Since. Zero reads new messages only.
	Since time.Duration
}

// Consumer reads transcript events from a single topic partition.
type Consumer struct {
	reader *kafka.Reader
	topic  string
	since  time.Duration
}

// NewConsumer creates a partition reader without a consumer group.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:   cfg.Brokers,
			Topic:     cfg.Topic,
			Partition: 0,
			MinBytes:  1,
			MaxBytes:  10e6,
		}),
		topic: cfg.Topic,
		since: cfg.Since,
	}
}

// Run delivers every decodable event to fn until ctx is done. Malformed messages are
// logged and skipped; read errors are retried after a second.
func (c *Consumer) Run(ctx context.Context, fn func(Envelope)) error {
	rewound := false
	if c.since > 0 {
		if err := c.reader.SetOffsetAt(ctx, time.Now().Add(-c.since)); err != nil {
			log.Warn().Err(err).Str("topic", c.topic).Msg("Kafka rewind failed, reading new events only")
		} else {
			rewound = true
		}
	}
	if !rewound {
		if err := c.reader.SetOffset(kafka.LastOffset); err != nil {
			return fmt.Errorf("kafka: seek %s: %w", c.topic, err)
		}
	}

	log.Info().Str("topic", c.topic).Dur("since", c.since).Msg("Consuming transcript events")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("topic", c.topic).Msg("Kafka read failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		env, err := decodeEnvelope(msg.Topic, msg.Value)
		if err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("Skipping transcript event")
			continue
		}
		fn(env)
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

var errNoRecording = errors.New("event has no recordingId")

func decodeEnvelope(topic string, value []byte) (Envelope, error) {
	var head struct {
		EventType   string `json:"eventType"`
		RecordingID string `json:"recordingId"`
		CaseID      string `json:"caseId"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return Envelope{}, fmt.Errorf("decode: %w", err)
	}
	if head.RecordingID == "" {
		return Envelope{}, errNoRecording
	}
	return Envelope{
		Topic:       topic,
		EventType:   head.EventType,
		RecordingID: head.RecordingID,
		CaseID:      head.CaseID,
		Payload:     json.RawMessage(value),
	}, nil
}
