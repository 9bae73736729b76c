package stream

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/opensource-marketplace/kestrel/internal/domain"
)

// KafkaStream consumes one partition of the event topic. Offsets are
// committed through the offset manager only on Ack, so an unacknowledged
// batch is redelivered after a restart.
type KafkaStream struct {
	client    sarama.Client
	consumer  sarama.Consumer
	partition sarama.PartitionConsumer
	offsets   sarama.OffsetManager
	pom       sarama.PartitionOffsetManager

	topic        string
	partitionNum int32
}

// NewKafkaStream connects to the brokers and resumes from the last committed
// offset for the consumer group.
func NewKafkaStream(cfg domain.StreamConfig) (*KafkaStream, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	if cfg.KafkaVersion != "" {
		version, err := sarama.ParseKafkaVersion(cfg.KafkaVersion)
		if err != nil {
			return nil, fmt.Errorf("parsing kafka version: %w", err)
		}
		saramaCfg.Version = version
	}

	group := cfg.KafkaGroup
	if group == "" {
		group = "kestrel"
	}

	client, err := sarama.NewClient(cfg.KafkaBrokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to kafka: %w", err)
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("creating consumer: %w", err)
	}

	offsets, err := sarama.NewOffsetManagerFromClient(group, client)
	if err != nil {
		consumer.Close()
		client.Close()
		return nil, fmt.Errorf("creating offset manager: %w", err)
	}

	pom, err := offsets.ManagePartition(cfg.KafkaTopic, cfg.KafkaPartition)
	if err != nil {
		offsets.Close()
		consumer.Close()
		client.Close()
		return nil, fmt.Errorf("managing partition offsets: %w", err)
	}

	resumeAt, _ := pom.NextOffset()
	if resumeAt < 0 {
		resumeAt = sarama.OffsetOldest
	}

	partition, err := consumer.ConsumePartition(cfg.KafkaTopic, cfg.KafkaPartition, resumeAt)
	if err != nil {
		pom.Close()
		offsets.Close()
		consumer.Close()
		client.Close()
		return nil, fmt.Errorf("consuming partition: %w", err)
	}

	return &KafkaStream{
		client:       client,
		consumer:     consumer,
		partition:    partition,
		offsets:      offsets,
		pom:          pom,
		topic:        cfg.KafkaTopic,
		partitionNum: cfg.KafkaPartition,
	}, nil
}

// Pull returns up to maxBatch records, waiting at most maxWait for the first.
func (s *KafkaStream) Pull(ctx context.Context, maxBatch int, maxWait time.Duration) ([]domain.StreamRecord, error) {
	if maxBatch <= 0 {
		maxBatch = 1
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	var batch []domain.StreamRecord
	select {
	case msg, ok := <-s.partition.Messages():
		if !ok {
			return nil, fmt.Errorf("partition consumer closed")
		}
		batch = append(batch, toRecord(msg))
	case err := <-s.partition.Errors():
		return nil, fmt.Errorf("consuming %s/%d: %w", s.topic, s.partitionNum, err)
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for len(batch) < maxBatch {
		select {
		case msg, ok := <-s.partition.Messages():
			if !ok {
				return batch, nil
			}
			batch = append(batch, toRecord(msg))
		default:
			return batch, nil
		}
	}
	return batch, nil
}

func toRecord(msg *sarama.ConsumerMessage) domain.StreamRecord {
	return domain.StreamRecord{
		ID:        fmt.Sprintf("%d/%d", msg.Partition, msg.Offset),
		Partition: strconv.FormatInt(int64(msg.Partition), 10),
		Offset:    msg.Offset,
		Data:      msg.Value,
	}
}

// Ack commits the offset after the given record.
func (s *KafkaStream) Ack(_ context.Context, upTo domain.StreamRecord) error {
	s.pom.MarkOffset(upTo.Offset+1, "")
	return nil
}

// Ping verifies broker connectivity.
func (s *KafkaStream) Ping(_ context.Context) error {
	brokers := s.client.Brokers()
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers")
	}
	return s.client.RefreshMetadata(s.topic)
}

// Close commits outstanding offsets and tears down the consumer.
func (s *KafkaStream) Close() error {
	s.partition.Close()
	s.pom.Close()
	s.offsets.Close()
	s.consumer.Close()
	return s.client.Close()
}
