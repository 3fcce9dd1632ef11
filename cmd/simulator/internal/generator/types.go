package generator

import (
	"context"
	"math/rand"
	"time"

	"github.com/segmentio/kafka-go"
)

// Clock abstracts pacing so tests can drive the loops without real sleeps.
type Clock interface {
	Sleep(d time.Duration)
}

type SystemClock struct{}

func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Rand is the fluctuation source for synthetic prices.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// NewSeededRand returns a time-seeded source for production runs.
func NewSeededRand() Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// SubmissionWriter is the producer side of the submissions topic.
type SubmissionWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}
