// Package kafka streams committed compliance audit entries to a broker topic
// for long-retention storage and SIEM consumption. The ledger row remains the
// source of truth; this publisher is fail-open and delivery is at-least-once.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"phivault/internal/audit"
)

// Publisher delivers compliance entries to a Kafka topic keyed by vault id so
// per-record history stays ordered within a partition.
type Publisher struct {
	client *kgo.Client
	topic  string
}

// New connects to the given brokers. Returns an error if the client cannot be
// constructed; broker unavailability surfaces later on Publish.
func New(brokers []string, topic string) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchMaxBytes(1<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Publisher{client: client, topic: topic}, nil
}

// wireEntry is the JSON structure published to the topic.
type wireEntry struct {
	ID          string            `json:"id"`
	Sequence    int64             `json:"sequence"`
	Timestamp   string            `json:"timestamp"`
	Action      string            `json:"action"`
	ActorID     string            `json:"actor_id"`
	VaultID     string            `json:"vault_id,omitempty"`
	ProcedureID string            `json:"procedure_id,omitempty"`
	Detail      string            `json:"detail,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
}

// Publish sends one entry synchronously. Callers treat failures as
// non-fatal; the entry is already durable in the ledger.
func (p *Publisher) Publish(ctx context.Context, entry audit.Entry) error {
	wire := wireEntry{
		ID:        entry.ID.String(),
		Sequence:  entry.Sequence,
		Timestamp: entry.Timestamp.Format(time.RFC3339Nano),
		Action:    string(entry.Action),
		ActorID:   entry.ActorID,
		Detail:    entry.Detail,
		Metadata:  entry.Metadata,
		RequestID: entry.RequestID,
	}
	key := entry.ID.String()
	if entry.VaultID != nil {
		wire.VaultID = entry.VaultID.String()
		key = wire.VaultID
	}
	if entry.ProcedureID != nil {
		wire.ProcedureID = entry.ProcedureID.String()
	}

	value, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(key),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit entry: %w", err)
	}
	return nil
}

// Close flushes buffered records and releases the client.
func (p *Publisher) Close() {
	p.client.Close()
}
