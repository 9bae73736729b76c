package stream

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-marketplace/kestrel/internal/domain"
)

func TestMemoryStreamPullBatch(t *testing.T) {
	s := NewMemoryStream(16)
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.Push(ctx, []byte{byte(i)}); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	batch, err := s.Pull(ctx, 3, time.Second)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("batch size = %d, want 3", len(batch))
	}
	for i, rec := range batch {
		if rec.Offset != int64(i) {
			t.Fatalf("record %d offset = %d, want %d", i, rec.Offset, i)
		}
	}

	rest, err := s.Pull(ctx, 10, time.Second)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("remaining batch size = %d, want 2", len(rest))
	}
}

func TestMemoryStreamPullTimesOutEmpty(t *testing.T) {
	s := NewMemoryStream(4)
	defer s.Close()

	start := time.Now()
	batch, err := s.Pull(context.Background(), 10, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if batch != nil {
		t.Fatalf("empty stream returned records: %v", batch)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("Pull returned before maxWait elapsed")
	}
}

func TestMemoryStreamAckAdvances(t *testing.T) {
	s := NewMemoryStream(4)
	defer s.Close()

	ctx := context.Background()
	s.Push(ctx, []byte("a"))
	s.Push(ctx, []byte("b"))

	batch, err := s.Pull(ctx, 2, time.Second)
	if err != nil || len(batch) != 2 {
		t.Fatalf("Pull: %v (%d records)", err, len(batch))
	}

	if err := s.Ack(ctx, batch[1]); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if got := s.AckedOffset(); got != 1 {
		t.Fatalf("acked offset = %d, want 1", got)
	}

	// Acking an earlier record must not move the offset backwards.
	if err := s.Ack(ctx, batch[0]); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if got := s.AckedOffset(); got != 1 {
		t.Fatalf("acked offset moved backwards: %d", got)
	}
}

func TestMemoryStreamPullCancellation(t *testing.T) {
	s := NewMemoryStream(4)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := s.Pull(ctx, 1, time.Minute)
	if err != context.Canceled {
		t.Fatalf("Pull error = %v, want context.Canceled", err)
	}
}

func TestMemoryStreamClosed(t *testing.T) {
	s := NewMemoryStream(4)
	s.Close()

	if err := s.Push(context.Background(), []byte("x")); err == nil {
		t.Fatal("Push on closed stream succeeded")
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("Ping on closed stream succeeded")
	}
}

func TestNewSelectsImplementation(t *testing.T) {
	s, err := New(domain.StreamConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := s.(*MemoryStream); !ok {
		t.Fatalf("got %T, want *MemoryStream", s)
	}
	s.Close()

	if _, err := New(domain.StreamConfig{Type: "carrier-pigeon"}); err == nil {
		t.Fatal("unknown stream type accepted")
	}
}
