package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"articlerec/repository"

	"github.com/segmentio/kafka-go"
)

var _ repository.EventPublisher = (*KafkaClient)(nil)

type KafkaClient struct {
	writer *kafka.Writer
	url    string
	topic  string
}

// NewClient creates a new Kafka client publishing to topic on the given broker.
func NewClient(url, topic string) (*KafkaClient, error) {
	if url == "" {
		return nil, fmt.Errorf("kafka URL cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(url),
		Balancer:               &kafka.Hash{},
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}

	client := &KafkaClient{
		writer: writer,
		url:    url,
		topic:  topic,
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to kafka: %w", err)
	}
	conn.Close()

	return client, nil
}

// PublishVectorized announces a committed batch, keyed by run id so that a
// run's events stay on one partition.
func (k *KafkaClient) PublishVectorized(ctx context.Context, ev repository.VectorizedEvent) error {
	msg, err := vectorizedMessage(k.topic, ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", k.topic, err)
	}
	return nil
}

func vectorizedMessage(topic string, ev repository.VectorizedEvent) (kafka.Message, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: encode event: %w", err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(ev.RunID),
		Value: body,
		Time:  ev.At,
	}, nil
}

// Close gracefully closes the Kafka writer
func (k *KafkaClient) Close() error {
	if k.writer != nil {
		return k.writer.Close()
	}
	return nil
}
