package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const defaultScanWindow = 10 * time.Second

// KafkaSource returns the newest export stored under key on a compacted
// topic. Exports are pushed there by an upstream job as one message each.
type KafkaSource struct {
	key       []byte
	window    time.Duration
	newReader func() messageReader
}

// messageReader abstracts kafka.Reader for testability.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewKafkaSource scans partition 0 of topic from the start. window bounds
// how long a scan may wait for further messages once the log is drained.
func NewKafkaSource(brokers []string, topic, key string, window time.Duration) *KafkaSource {
	if window <= 0 {
		window = defaultScanWindow
	}
	return &KafkaSource{
		key:    []byte(key),
		window: window,
		newReader: func() messageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:   brokers,
				Topic:     topic,
				Partition: 0,
				MinBytes:  1,
				MaxBytes:  10e6,
			})
		},
	}
}

// NewKafkaSourceWith is only for tests to inject a fake reader.
func NewKafkaSourceWith(key string, window time.Duration, r messageReader) *KafkaSource {
	return &KafkaSource{key: []byte(key), window: window, newReader: func() messageReader { return r }}
}

func (k *KafkaSource) Name() string { return "kafka" }

func (k *KafkaSource) Fetch(ctx context.Context) (string, error) {
	r := k.newReader()
	defer r.Close()

	scanCtx, cancel := context.WithTimeout(ctx, k.window)
	defer cancel()

	var (
		last  []byte
		found bool
	)
	for {
		m, err := r.ReadMessage(scanCtx)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if scanCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return "", fmt.Errorf("read kafka: %w", err)
		}
		if string(m.Key) != string(k.key) {
			continue
		}
		// a tombstone clears any earlier export
		last, found = m.Value, m.Value != nil
	}
	if !found {
		return "", fmt.Errorf("%w %q", ErrNoExport, k.key)
	}
	return string(last), nil
}
