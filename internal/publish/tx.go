package publish

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/goccy/go-json"

	"bizdash/internal/logging"
)

// TxPublisher writes each event in its own Kafka transaction, so consumers
// reading with isolation.level=read_committed never see a half-written one.
type TxPublisher struct {
	mu    sync.Mutex
	p     txProducer
	topic string
}

// txProducer is the part of *ck.Producer the publisher uses.
type txProducer interface {
	BeginTransaction() error
	Produce(msg *ck.Message, deliveryChan chan ck.Event) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	Close()
}

func NewTxPublisher(ctx context.Context, brokers []string, topic, txID string) (*TxPublisher, error) {
	prod, err := ck.NewProducer(&ck.ConfigMap{
		"bootstrap.servers":  strings.Join(brokers, ","),
		"enable.idempotence": true,
		"acks":               "all",
		"transactional.id":   txID,
	})
	if err != nil {
		return nil, fmt.Errorf("producer: %w", err)
	}
	if err := prod.InitTransactions(ctx); err != nil {
		prod.Close()
		return nil, fmt.Errorf("init tx: %w", err)
	}
	return &TxPublisher{p: prod, topic: topic}, nil
}

// NewTxPublisherWith is only for tests to inject a fake producer.
func NewTxPublisherWith(p txProducer, topic string) *TxPublisher {
	return &TxPublisher{p: p, topic: topic}
}

func (t *TxPublisher) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.p.BeginTransaction(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	msg := &ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &t.topic, Partition: ck.PartitionAny},
		Key:            []byte(ev.Dataset),
		Value:          b,
	}
	if err := t.p.Produce(msg, nil); err != nil {
		t.abort(ctx)
		return fmt.Errorf("produce: %w", err)
	}
	if err := t.p.CommitTransaction(ctx); err != nil {
		t.abort(ctx)
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (t *TxPublisher) abort(ctx context.Context) {
	if err := t.p.AbortTransaction(ctx); err != nil {
		logging.Warn().Err(err).Msg("abort transaction failed")
	}
}

func (t *TxPublisher) Close() error {
	t.p.Close()
	return nil
}
