package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"citegraph/internal/provenance"
)

// KafkaTerminalPublisher mirrors terminal job events onto a Kafka topic so
// downstream consumers (warehouses, notifiers) can react without holding an
// SSE stream open.
type KafkaTerminalPublisher struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaTerminalPublisher builds a publisher from a comma-separated broker
// list.
func NewKafkaTerminalPublisher(brokers, topic string) (*KafkaTerminalPublisher, error) {
	brokers = strings.TrimSpace(brokers)
	if brokers == "" {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	list := strings.Split(brokers, ",")
	for i := range list {
		list[i] = strings.TrimSpace(list[i])
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(list...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &KafkaTerminalPublisher{writer: w, topic: topic}, nil
}

func (p *KafkaTerminalPublisher) PublishTerminal(ctx context.Context, ev provenance.ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.JobID),
		Value: payload,
	})
}

// Close flushes and closes the writer.
func (p *KafkaTerminalPublisher) Close() error { return p.writer.Close() }
