package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-marketplace/kestrel/internal/domain"
)

// MemoryStream is a single-partition in-process stream backed by a buffered
// channel. Records are assigned monotonically increasing offsets on push.
type MemoryStream struct {
	mu      sync.Mutex
	records chan domain.StreamRecord
	next    int64
	acked   int64
	closed  bool
}

// NewMemoryStream creates a memory stream with the given buffer size.
func NewMemoryStream(bufferSize int) *MemoryStream {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &MemoryStream{
		records: make(chan domain.StreamRecord, bufferSize),
		acked:   -1,
	}
}

// Push appends a raw event payload to the stream. Blocks when the buffer is
// full, which applies backpressure to producers.
func (s *MemoryStream) Push(ctx context.Context, data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("stream closed")
	}
	offset := s.next
	s.next++
	s.mu.Unlock()

	rec := domain.StreamRecord{
		ID:        fmt.Sprintf("0/%d", offset),
		Partition: "0",
		Offset:    offset,
		Data:      data,
	}

	select {
	case s.records <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pull returns up to maxBatch records, waiting at most maxWait for the first.
func (s *MemoryStream) Pull(ctx context.Context, maxBatch int, maxWait time.Duration) ([]domain.StreamRecord, error) {
	if maxBatch <= 0 {
		maxBatch = 1
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	var batch []domain.StreamRecord
	select {
	case rec, ok := <-s.records:
		if !ok {
			return nil, fmt.Errorf("stream closed")
		}
		batch = append(batch, rec)
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// First record arrived; drain whatever else is already buffered.
	for len(batch) < maxBatch {
		select {
		case rec, ok := <-s.records:
			if !ok {
				return batch, nil
			}
			batch = append(batch, rec)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

// Ack records terminal progress through the given record.
func (s *MemoryStream) Ack(_ context.Context, upTo domain.StreamRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if upTo.Offset > s.acked {
		s.acked = upTo.Offset
	}
	return nil
}

// AckedOffset returns the highest acknowledged offset, -1 when none.
func (s *MemoryStream) AckedOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked
}

// Ping reports stream health.
func (s *MemoryStream) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream closed")
	}
	return nil
}

// Close shuts the stream down. Pending records are discarded.
func (s *MemoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.records)
	}
	return nil
}
