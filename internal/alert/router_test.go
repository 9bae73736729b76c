package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/opensource-marketplace/kestrel/internal/domain"
)

type fakeBus struct {
	domain.AlertBus
	published map[string][][]byte
	failures  map[string]int // remaining publish failures per topic
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: make(map[string][][]byte),
		failures:  make(map[string]int),
	}
}

func (b *fakeBus) Publish(_ context.Context, topic string, payload []byte) error {
	if b.failures[topic] > 0 {
		b.failures[topic]--
		return errors.New("bus unavailable")
	}
	b.published[topic] = append(b.published[topic], payload)
	return nil
}

type fakeStore struct {
	domain.Store
	deadLetters []*domain.DeadLetter
	saveErr     error
}

func (s *fakeStore) SaveDeadLetter(_ context.Context, dl *domain.DeadLetter) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.deadLetters = append(s.deadLetters, dl)
	return nil
}

func quickRetry(attempts int) domain.RetryConfig {
	return domain.RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func testRouter(bus *fakeBus, store *fakeStore, cfg domain.AlertConfig) *Router {
	return NewRouter(bus, store, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testInsight() *domain.Insight {
	return &domain.Insight{
		ID:         "ins-1",
		EntityID:   "s1",
		EntityType: domain.EntityStudent,
		RiskScore:  85,
	}
}

func TestRouteExactlyOneChannel(t *testing.T) {
	tests := []struct {
		severity domain.Severity
		channel  string
	}{
		{domain.SeverityInfo, domain.TopicAlertInfo},
		{domain.SeverityWarning, domain.TopicAlertWarning},
		{domain.SeverityCritical, domain.TopicAlertCritical},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			bus := newFakeBus()
			store := &fakeStore{}
			r := testRouter(bus, store, domain.AlertConfig{Retry: quickRetry(3)})

			env, err := r.Route(context.Background(), testInsight(), tt.severity)
			if err != nil {
				t.Fatalf("Route: %v", err)
			}
			if env == nil || env.Channel != tt.channel {
				t.Fatalf("envelope channel = %v, want %s", env, tt.channel)
			}

			total := 0
			for topic, msgs := range bus.published {
				total += len(msgs)
				if topic != tt.channel {
					t.Fatalf("unexpected publish on %s", topic)
				}
			}
			if total != 1 {
				t.Fatalf("published %d messages, want exactly 1", total)
			}
			if len(store.deadLetters) != 0 {
				t.Fatalf("unexpected dead letters: %d", len(store.deadLetters))
			}
		})
	}
}

func TestRouteStampsSeverityOnInsight(t *testing.T) {
	bus := newFakeBus()
	r := testRouter(bus, &fakeStore{}, domain.AlertConfig{Retry: quickRetry(1)})

	ins := testInsight()
	if _, err := r.Route(context.Background(), ins, domain.SeverityCritical); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if ins.Severity != domain.SeverityCritical {
		t.Fatalf("insight severity = %s, want critical", ins.Severity)
	}
}

func TestRouteRetriesTransientFailure(t *testing.T) {
	bus := newFakeBus()
	bus.failures[domain.TopicAlertWarning] = 2
	store := &fakeStore{}
	r := testRouter(bus, store, domain.AlertConfig{Retry: quickRetry(3)})

	env, err := r.Route(context.Background(), testInsight(), domain.SeverityWarning)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if env.AttemptCount != 3 {
		t.Fatalf("attempts = %d, want 3", env.AttemptCount)
	}
	if len(bus.published[domain.TopicAlertWarning]) != 1 {
		t.Fatal("alert not delivered after retries")
	}
	if len(store.deadLetters) != 0 {
		t.Fatalf("unexpected dead letters: %d", len(store.deadLetters))
	}
}

func TestRouteDeadLettersAfterExhaustedRetries(t *testing.T) {
	bus := newFakeBus()
	bus.failures[domain.TopicAlertCritical] = 10
	store := &fakeStore{}
	r := testRouter(bus, store, domain.AlertConfig{Retry: quickRetry(3)})

	env, err := r.Route(context.Background(), testInsight(), domain.SeverityCritical)
	if err != nil {
		t.Fatalf("Route returned error, want dead-lettered success: %v", err)
	}
	if env.AttemptCount != 3 {
		t.Fatalf("attempts = %d, want 3", env.AttemptCount)
	}

	if len(store.deadLetters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(store.deadLetters))
	}
	dl := store.deadLetters[0]
	if dl.Kind != domain.DeadLetterAlert || dl.RefID != env.ID || dl.Attempts != 3 {
		t.Fatalf("unexpected dead letter: %+v", dl)
	}

	if len(bus.published[domain.TopicDeadLetter]) != 1 {
		t.Fatal("dead-letter topic not notified")
	}
	if len(bus.published[domain.TopicAlertCritical]) != 0 {
		t.Fatal("critical channel received a message despite failures")
	}
}

func TestRouteSurfacesDeadLetterStoreFailure(t *testing.T) {
	bus := newFakeBus()
	bus.failures[domain.TopicAlertCritical] = 10
	store := &fakeStore{saveErr: errors.New("disk full")}
	r := testRouter(bus, store, domain.AlertConfig{Retry: quickRetry(2)})

	_, err := r.Route(context.Background(), testInsight(), domain.SeverityCritical)
	if err == nil {
		t.Fatal("expected error when dead-letter persistence fails")
	}
}

func TestRouteMinSeveritySuppression(t *testing.T) {
	bus := newFakeBus()
	r := testRouter(bus, &fakeStore{}, domain.AlertConfig{
		Retry:       quickRetry(1),
		MinSeverity: domain.SeverityWarning,
	})

	env, err := r.Route(context.Background(), testInsight(), domain.SeverityInfo)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if env != nil {
		t.Fatalf("suppressed alert returned envelope: %+v", env)
	}
	if len(bus.published) != 0 {
		t.Fatal("suppressed alert was published")
	}

	if _, err := r.Route(context.Background(), testInsight(), domain.SeverityWarning); err != nil {
		t.Fatalf("Route warning: %v", err)
	}
	if len(bus.published[domain.TopicAlertWarning]) != 1 {
		t.Fatal("warning alert not published")
	}
}
