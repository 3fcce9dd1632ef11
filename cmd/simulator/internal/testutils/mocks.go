package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dzmarkets/pricewire/cmd/simulator/internal/generator"
)

// MockSubmissionWriter records produced messages.
type MockSubmissionWriter struct {
	Mu         sync.Mutex
	Messages   []kafka.Message
	ShouldFail bool
}

func (m *MockSubmissionWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka unavailable")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

// MockClock advances instantly so loops run at test speed.
type MockClock struct {
	Mu      sync.Mutex
	Elapsed time.Duration
}

func (m *MockClock) Sleep(d time.Duration) {
	m.Mu.Lock()
	m.Elapsed += d
	m.Mu.Unlock()
}

// MockRand returns fixed values.
type MockRand struct {
	ValInt   int
	ValFloat float64
}

func (m *MockRand) Intn(n int) int   { return m.ValInt }
func (m *MockRand) Float64() float64 { return m.ValFloat }

// MockBrokerConn reports the topic ready only after ReadyAfter polls, so
// tests can drive the ensurer's retry loop.
type MockBrokerConn struct {
	CreatedTopics []string
	ReadyAfter    int
	polls         int
}

func (m *MockBrokerConn) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}

func (m *MockBrokerConn) Close() error { return nil }

func (m *MockBrokerConn) CreateTopics(topics ...kafka.TopicConfig) error {
	for _, t := range topics {
		m.CreatedTopics = append(m.CreatedTopics, t.Topic)
	}
	return nil
}

func (m *MockBrokerConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	m.polls++
	if m.polls <= m.ReadyAfter {
		return nil, nil
	}
	return []kafka.Partition{{ID: 0}, {ID: 1}, {ID: 2}, {ID: 3}}, nil
}

// Dial hands out this conn for every address.
func (m *MockBrokerConn) Dial() generator.DialFunc {
	return func(ctx context.Context, network, address string) (generator.BrokerConn, error) {
		return m, nil
	}
}
