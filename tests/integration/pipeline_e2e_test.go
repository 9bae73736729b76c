// Package integration exercises the complete Kestrel pipeline in-process:
//
//	raw event → validation → aggregation → features → inference → severity → alert
//
// Everything runs on the community-tier stack (sqlite store, memory stream,
// channel bus) with no remote inference providers configured, so insight
// production falls through to the deterministic rule tier. No external
// services are required.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-marketplace/kestrel/internal/aggregate"
	"github.com/opensource-marketplace/kestrel/internal/alert"
	"github.com/opensource-marketplace/kestrel/internal/bus"
	"github.com/opensource-marketplace/kestrel/internal/domain"
	"github.com/opensource-marketplace/kestrel/internal/feature"
	"github.com/opensource-marketplace/kestrel/internal/inference"
	"github.com/opensource-marketplace/kestrel/internal/pipeline"
	"github.com/opensource-marketplace/kestrel/internal/repository"
	"github.com/opensource-marketplace/kestrel/internal/rules"
	"github.com/opensource-marketplace/kestrel/internal/severity"
	"github.com/opensource-marketplace/kestrel/internal/stream"
	"github.com/opensource-marketplace/kestrel/internal/validator"
)

type testStack struct {
	store  domain.Store
	bus    *bus.ChannelBus
	stream *stream.MemoryStream
	runner *pipeline.Runner
}

// newStack wires the full community-tier pipeline with only the fallback
// inference tier, mirroring a deployment where every remote provider is down.
func newStack(t *testing.T) *testStack {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := repository.New(domain.StoreConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-e2e.db"),
	})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	alertBus := bus.NewChannelBus(256)
	t.Cleanup(func() { alertBus.Close() })

	memStream := stream.NewMemoryStream(256)
	t.Cleanup(func() { memStream.Close() })

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	if err := engine.LoadRules(rules.DefaultRules()); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	cfg := domain.DefaultConfig()
	cfg.Pipeline.MaxWait = 50 * time.Millisecond
	cfg.Pipeline.EventRetry = domain.RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}

	inferEngine := inference.NewEngine(logger, inference.ConfiguredTier{
		Tier: inference.NewFallbackTier(engine, cfg.Inference.FallbackModelID),
	})
	router := alert.NewRouter(alertBus, store, cfg.Alert, logger)

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Validator:  validator.New(),
		Aggregator: aggregate.New(),
		Engineer:   feature.New(),
		Inference:  inferEngine,
		Classifier: severity.New(cfg.Severity),
		Router:     router,
		Store:      store,
		Bus:        alertBus,
		Config:     cfg.Pipeline,
		Log:        logger,
	})

	return &testStack{
		store:  store,
		bus:    alertBus,
		stream: memStream,
		runner: pipeline.NewRunner(memStream, orch, cfg.Pipeline, logger),
	}
}

func (s *testStack) push(t *testing.T, ev domain.RawEvent) {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := s.stream.Push(context.Background(), data); err != nil {
		t.Fatalf("Push: %v", err)
	}
}

func (s *testStack) subscribe(t *testing.T, topic string) <-chan *domain.Message {
	t.Helper()
	ch := make(chan *domain.Message, 16)
	_, err := s.bus.Subscribe(context.Background(), topic, func(_ context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe(%s): %v", topic, err)
	}
	return ch
}

// A stalled student with an elevated error rate must travel the entire
// pipeline and come out as exactly one critical alert, even though no remote
// inference provider exists.
func TestDegradedPipelineRaisesCriticalAlert(t *testing.T) {
	stack := newStack(t)

	critical := stack.subscribe(t, domain.TopicAlertCritical)
	warning := stack.subscribe(t, domain.TopicAlertWarning)
	info := stack.subscribe(t, domain.TopicAlertInfo)
	feed := stack.subscribe(t, domain.TopicInsight)

	stack.push(t, domain.RawEvent{
		EventType: string(domain.EventSessionCompleted),
		Timestamp: "2026-03-15T12:00:00Z",
		SourceID:  "e2e/1",
		Payload: map[string]any{
			"entity_id":   "e1",
			"sessions_7d": 0.0,
			"error_rate":  0.08,
		},
	})

	stack.runner.Start()
	defer stack.runner.Stop()

	var env domain.AlertEnvelope
	select {
	case msg := <-critical:
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			t.Fatalf("decoding envelope: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no critical alert within deadline")
	}

	if env.Severity != domain.SeverityCritical {
		t.Errorf("Severity = %q, want critical", env.Severity)
	}
	if env.Insight == nil {
		t.Fatal("envelope carries no insight")
	}
	if env.Insight.RiskScore < 80 {
		t.Errorf("RiskScore = %.1f, want >= 80", env.Insight.RiskScore)
	}
	if env.Insight.Source != domain.SourceFallback {
		t.Errorf("Source = %q, want fallback", env.Insight.Source)
	}

	// Exactly one channel, exactly once.
	select {
	case <-critical:
		t.Fatal("critical channel received a second envelope")
	case <-warning:
		t.Fatal("warning channel received the envelope")
	case <-info:
		t.Fatal("info channel received the envelope")
	case <-time.After(200 * time.Millisecond):
	}

	// The persisted insight is also announced on the feed.
	select {
	case msg := <-feed:
		var in domain.Insight
		if err := json.Unmarshal(msg.Payload, &in); err != nil {
			t.Fatalf("decoding insight feed message: %v", err)
		}
		if in.ID != env.InsightID {
			t.Errorf("feed insight id = %q, want %q", in.ID, env.InsightID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no insight feed message within deadline")
	}

	// Both writes are durable and independent of alert delivery.
	ctx := context.Background()
	key := domain.EntityKey{ID: "e1", Type: domain.EntityStudent}
	rec, err := stack.store.GetAggregate(ctx, key)
	if err != nil {
		t.Fatalf("GetAggregate: %v", err)
	}
	if rec.TotalSessions != 1 {
		t.Errorf("TotalSessions = %d, want 1", rec.TotalSessions)
	}
	insight, err := stack.store.GetInsight(ctx, env.InsightID)
	if err != nil {
		t.Fatalf("GetInsight: %v", err)
	}
	if insight.Severity != domain.SeverityCritical {
		t.Errorf("persisted insight severity = %q, want critical", insight.Severity)
	}
}

// Rejected events surface on the data-quality channel while healthy traffic
// keeps flowing and offsets keep advancing.
func TestDataQualityChannelAndProgress(t *testing.T) {
	stack := newStack(t)

	quality := stack.subscribe(t, domain.TopicDataQuality)

	stack.push(t, domain.RawEvent{
		EventType: "telemetry_blob",
		SourceID:  "e2e/1",
		Payload:   map[string]any{},
	})
	for i := 2; i <= 4; i++ {
		stack.push(t, domain.RawEvent{
			EventType: string(domain.EventSessionCompleted),
			Timestamp: "2026-03-15T12:00:00Z",
			SourceID:  fmt.Sprintf("e2e/%d", i),
			Payload: map[string]any{
				"entity_id":       fmt.Sprintf("s%d", i),
				"counterparty_id": "tutor-1",
				"rating":          4.5,
			},
		})
	}

	stack.runner.Start()
	defer stack.runner.Stop()

	select {
	case msg := <-quality:
		var report domain.DataQualityReport
		if err := json.Unmarshal(msg.Payload, &report); err != nil {
			t.Fatalf("decoding report: %v", err)
		}
		if report.Code != domain.RejectUnknownEventType {
			t.Errorf("Code = %q, want %q", report.Code, domain.RejectUnknownEventType)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no data-quality report within deadline")
	}

	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for {
		// Session events credit the student and the counterparty tutor.
		tutor, err := stack.store.GetAggregate(ctx, domain.EntityKey{ID: "tutor-1", Type: domain.EntityTutor})
		if err == nil && tutor.TotalSessions == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("tutor aggregate incomplete: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	for i := 2; i <= 4; i++ {
		rec, err := stack.store.GetAggregate(ctx, domain.EntityKey{ID: fmt.Sprintf("s%d", i), Type: domain.EntityStudent})
		if err != nil {
			t.Fatalf("GetAggregate(s%d): %v", i, err)
		}
		if rec.TotalSessions != 1 {
			t.Errorf("s%d: TotalSessions = %d, want 1", i, rec.TotalSessions)
		}
	}

	if off := stack.stream.AckedOffset(); off < 3 {
		t.Errorf("acked offset = %d, want all four records acknowledged", off)
	}
}
