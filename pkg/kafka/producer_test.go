package kafka

import (
	"context"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionFromString(t *testing.T) {
	cases := map[string]kafkago.Compression{
		"gzip":    kafkago.Gzip,
		"LZ4":     kafkago.Lz4,
		"zstd":    kafkago.Zstd,
		"snappy":  kafkago.Snappy,
		"unknown": kafkago.Snappy,
	}
	for name, want := range cases {
		assert.Equal(t, want, CompressionFromString(name), name)
	}
}

func TestNewProducerValidates(t *testing.T) {
	_, err := NewProducer(ProducerConfig{Topic: "t"})
	assert.Error(t, err)

	_, err = NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

func TestNewProducerConfiguresWriter(t *testing.T) {
	p, err := NewProducer(ProducerConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "arch-mgr.transitions",
		BatchSize:    1,
		BatchTimeout: time.Second,
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  3,
	})
	require.NoError(t, err)

	assert.Equal(t, "arch-mgr.transitions", p.writer.Topic)
	assert.IsType(t, &kafkago.Hash{}, p.writer.Balancer)
	assert.NoError(t, p.Close(context.Background()))
}

func TestMessageStampsSourceAndSortsHeaders(t *testing.T) {
	p, err := NewProducer(ProducerConfig{
		Brokers: []string{"localhost:9092"},
		Topic:   "arch-mgr.transitions",
		Source:  "arch-mgr",
	})
	require.NoError(t, err)
	defer p.Close(context.Background())

	at := time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC)
	msg := p.message([]byte("reels/a.mov"), []byte(`{"state":"DONE"}`), map[string]string{
		"event_type": "archive.transition.done",
		"event_id":   "e-1",
	}, at)

	assert.Equal(t, []byte("reels/a.mov"), msg.Key)
	assert.Equal(t, at, msg.Time)
	var names, values []string
	for _, h := range msg.Headers {
		names = append(names, h.Key)
		values = append(values, string(h.Value))
	}
	assert.Equal(t, []string{"content_type", "event_id", "event_type", "source"}, names)
	assert.Equal(t, []string{"application/json", "e-1", "archive.transition.done", "arch-mgr"}, values)
}

func TestMessageWithoutSource(t *testing.T) {
	p, err := NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}, Topic: "t"})
	require.NoError(t, err)
	defer p.Close(context.Background())

	msg := p.message([]byte("k"), nil, nil, time.Now())
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "content_type", msg.Headers[0].Key)
}
