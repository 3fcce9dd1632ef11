package generator

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	// submissionPartitions matches the gateway's ingest worker count so
	// product keys spread evenly without reshuffling downstream.
	submissionPartitions = 4

	topicReadyAttempts = 5
	topicReadyInterval = 200 * time.Millisecond
)

// BrokerConn is the slice of *kafka.Conn the ensurer needs.
type BrokerConn interface {
	Controller() (kafka.Broker, error)
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// DialFunc opens a broker connection.
type DialFunc func(ctx context.Context, network, address string) (BrokerConn, error)

// DialBroker dials with the default Kafka dialer.
func DialBroker(ctx context.Context, network, address string) (BrokerConn, error) {
	conn, err := kafka.DefaultDialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// TopicEnsurer creates the submissions topic on the cluster controller and
// waits for its partitions to appear, so the simulator never produces into a
// topic that broker auto-creation would shape differently.
type TopicEnsurer struct {
	logger *zap.Logger
	dial   DialFunc
	clock  Clock
}

func NewTopicEnsurer(logger *zap.Logger, dial DialFunc, clock Clock) *TopicEnsurer {
	return &TopicEnsurer{logger: logger, dial: dial, clock: clock}
}

// Ensure creates the topic and polls until its partitions are visible. A
// failure here costs the partition-count guarantee, not the run; callers
// decide whether to continue.
func (e *TopicEnsurer) Ensure(ctx context.Context, brokers []string, topic string) error {
	conn, err := e.dialAny(ctx, brokers)
	if err != nil {
		return fmt.Errorf("dial brokers: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("resolve controller: %w", err)
	}

	controllerConn, err := e.dial(ctx, "tcp",
		net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     submissionPartitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		// Usually "topic already exists"; the readiness poll below decides.
		e.logger.Info("Topic creation returned", zap.String("topic", topic), zap.Error(err))
	}

	return e.waitReady(conn, topic)
}

func (e *TopicEnsurer) dialAny(ctx context.Context, brokers []string) (BrokerConn, error) {
	var lastErr error
	for _, addr := range brokers {
		conn, err := e.dial(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no brokers configured")
	}
	return nil, lastErr
}

func (e *TopicEnsurer) waitReady(conn BrokerConn, topic string) error {
	for attempt := 0; attempt < topicReadyAttempts; attempt++ {
		e.clock.Sleep(topicReadyInterval)
		partitions, err := conn.ReadPartitions(topic)
		if err == nil && len(partitions) > 0 {
			e.logger.Info("Submissions topic ready",
				zap.String("topic", topic), zap.Int("partitions", len(partitions)))
			return nil
		}
	}
	return fmt.Errorf("topic %s not ready after %d checks", topic, topicReadyAttempts)
}
