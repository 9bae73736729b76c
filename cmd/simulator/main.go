// Simulator generates synthetic marketplace telemetry for exercising the
// Kestrel pipeline.
//
// Usage:
//   go run cmd/simulator/main.go -events 1000 -mode stdout
//   go run cmd/simulator/main.go -events 1000 -mode kafka -brokers localhost:9092
//
// Events are drawn from a weighted mix of the known event types over a
// synthetic entity population. A configurable fraction of students is
// "troubled": inactive, error-prone, low health. Those are the entities the
// pipeline should flag.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/opensource-marketplace/kestrel/internal/domain"
)

type generator struct {
	rng *rand.Rand

	students []string
	tutors   []string
	subjects []string

	// troubled holds the student indices that emit anomalous telemetry.
	troubled map[int]bool
}

func newGenerator(seed int64, students, tutors, subjects int, troubledRate float64) *generator {
	rng := rand.New(rand.NewSource(seed))

	g := &generator{
		rng:      rng,
		troubled: make(map[int]bool),
	}
	for i := 0; i < students; i++ {
		g.students = append(g.students, fmt.Sprintf("student-%04d", i))
		if rng.Float64() < troubledRate {
			g.troubled[i] = true
		}
	}
	for i := 0; i < tutors; i++ {
		g.tutors = append(g.tutors, fmt.Sprintf("tutor-%03d", i))
	}
	for _, s := range []string{"math", "physics", "chemistry", "english", "spanish", "music"} {
		g.subjects = append(g.subjects, s)
	}
	if subjects > 0 && subjects < len(g.subjects) {
		g.subjects = g.subjects[:subjects]
	}
	return g
}

// next produces one raw event. The type mix favours sessions, matching what
// a marketplace actually emits.
func (g *generator) next(seq int) domain.RawEvent {
	studentIdx := g.rng.Intn(len(g.students))
	student := g.students[studentIdx]
	tutor := g.tutors[g.rng.Intn(len(g.tutors))]
	troubled := g.troubled[studentIdx]

	ev := domain.RawEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		SourceID:  fmt.Sprintf("sim/%d", seq),
	}

	roll := g.rng.Float64()
	switch {
	case roll < 0.45:
		ev.EventType = string(domain.EventSessionCompleted)
		ev.Payload = map[string]any{
			"entity_id":       student,
			"entity_type":     "student",
			"counterparty_id": tutor,
			"rating":          3.0 + g.rng.Float64()*2.0,
			"duration_min":    float64(20 + g.rng.Intn(70)),
		}
		if troubled {
			// Troubled students report stalled activity alongside sessions.
			ev.Payload["sessions_7d"] = 0.0
			ev.Payload["error_rate"] = 0.05 + g.rng.Float64()*0.1
		}
	case roll < 0.60:
		ev.EventType = string(domain.EventSessionStarted)
		ev.Payload = map[string]any{
			"entity_id":       student,
			"entity_type":     "student",
			"counterparty_id": tutor,
		}
	case roll < 0.75:
		ev.EventType = string(domain.EventIBCallLogged)
		ev.Payload = map[string]any{
			"entity_id": student,
		}
	case roll < 0.92:
		ev.EventType = string(domain.EventCustomerHealthUpdate)
		health := 60 + g.rng.Float64()*40
		if troubled {
			health = 20 + g.rng.Float64()*40
		}
		ev.Payload = map[string]any{
			"entity_id":    student,
			"health_score": health,
		}
	default:
		subject := g.subjects[g.rng.Intn(len(g.subjects))]
		demand := 30 + g.rng.Float64()*70
		supply := 30 + g.rng.Float64()*70
		status := "balanced"
		if demand > supply*1.5 {
			status = "high_demand"
		}
		ev.EventType = string(domain.EventSupplyDemandUpdate)
		ev.Payload = map[string]any{
			"subject":          subject,
			"available_tutors": float64(2 + g.rng.Intn(30)),
			"active_students":  float64(10 + g.rng.Intn(200)),
			"demand_score":     demand,
			"supply_score":     supply,
			"balance_status":   status,
		}
	}

	return ev
}

type sink interface {
	emit(data []byte) error
	close() error
}

type stdoutSink struct{}

func (stdoutSink) emit(data []byte) error {
	_, err := fmt.Println(string(data))
	return err
}
func (stdoutSink) close() error { return nil }

type kafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func newKafkaSink(brokers []string, topic string) (*kafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return &kafkaSink{producer: producer, topic: topic}, nil
}

func (s *kafkaSink) emit(data []byte) error {
	_, _, err := s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(data),
	})
	return err
}

func (s *kafkaSink) close() error { return s.producer.Close() }

func main() {
	mode := flag.String("mode", "stdout", "Output mode: stdout or kafka")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma separated)")
	topic := flag.String("topic", "kestrel.events", "Kafka topic")
	events := flag.Int("events", 1000, "Number of events to generate (0 = run until interrupted)")
	rate := flag.Float64("rate", 0, "Events per second (0 = as fast as possible)")
	students := flag.Int("students", 200, "Student population size")
	tutors := flag.Int("tutors", 40, "Tutor population size")
	subjects := flag.Int("subjects", 6, "Subject count (max 6)")
	troubledRate := flag.Float64("troubled", 0.1, "Fraction of students emitting anomalous telemetry")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	var out sink
	switch *mode {
	case "stdout":
		out = stdoutSink{}
	case "kafka":
		ks, err := newKafkaSink(strings.Split(*brokers, ","), *topic)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		out = ks
	default:
		fmt.Fprintf(os.Stderr, "ERROR: unknown mode %q\n", *mode)
		os.Exit(1)
	}
	defer out.close()

	gen := newGenerator(*seed, *students, *tutors, *subjects, *troubledRate)

	var interval time.Duration
	if *rate > 0 {
		interval = time.Duration(float64(time.Second) / *rate)
	}

	emitted := 0
	for *events == 0 || emitted < *events {
		ev := gen.next(emitted)
		data, err := json.Marshal(ev)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: encoding event: %v\n", err)
			os.Exit(1)
		}
		if err := out.emit(data); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: emitting event: %v\n", err)
			os.Exit(1)
		}
		emitted++

		if interval > 0 {
			time.Sleep(interval)
		}
	}

	if *mode == "kafka" {
		fmt.Fprintf(os.Stderr, "emitted %d events to %s\n", emitted, *topic)
	}
}
