// Package kafka publishes archive transition outcomes for downstream
// consumers such as catalogue indexers.
package kafka

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

const (
	headerSource      = "source"
	headerContentType = "content_type"
)

// Producer writes one message per transition attempt. Messages are keyed by
// object key, so every event for an object lands on the same partition in
// the order it was attempted.
type Producer struct {
	writer *kafkago.Writer
	source string
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafkago.Compression
	RequiredAcks kafkago.RequiredAcks
	MaxAttempts  int
	// Source is stamped on every message; usually the app name.
	Source string
}

// NewProducer validates cfg and constructs a Producer.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	return &Producer{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafkago.Hash{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			RequiredAcks: cfg.RequiredAcks,
			Compression:  cfg.Compression,
			MaxAttempts:  cfg.MaxAttempts,
		},
		source: cfg.Source,
	}, nil
}

// Publish writes a JSON event keyed by object key.
func (p *Producer) Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error {
	return p.writer.WriteMessages(ctx, p.message(key, value, headers, time.Now().UTC()))
}

// message builds the Kafka message. Headers are sorted by name so identical
// events produce identical records.
func (p *Producer) message(key, value []byte, headers map[string]string, at time.Time) kafkago.Message {
	all := map[string]string{headerContentType: "application/json"}
	if p.source != "" {
		all[headerSource] = p.source
	}
	for k, v := range headers {
		all[k] = v
	}

	names := make([]string, 0, len(all))
	for k := range all {
		names = append(names, k)
	}
	slices.Sort(names)

	msg := kafkago.Message{Key: key, Value: value, Time: at}
	for _, k := range names {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(all[k])})
	}
	return msg
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close(ctx context.Context) error {
	return p.writer.Close()
}

// CompressionFromString maps a codec name to its kafka-go value, defaulting
// to snappy.
func CompressionFromString(name string) kafkago.Compression {
	switch strings.ToLower(name) {
	case "gzip":
		return kafkago.Gzip
	case "lz4":
		return kafkago.Lz4
	case "zstd":
		return kafkago.Zstd
	default:
		return kafkago.Snappy
	}
}
