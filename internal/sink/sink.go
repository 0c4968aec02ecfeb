// Package sink forwards settled timeline entries to an external consumer.
package sink

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/exp/slog"

	"github.com/jwulff/sequent/internal/ledger"
	"github.com/jwulff/sequent/internal/logging"
	"github.com/jwulff/sequent/internal/session"
)

// queueBuffer is how many messages may wait for the broker before new ones
// are dropped.
const queueBuffer = 128

// Message is the JSON body published for every resolved or failed entry.
type Message struct {
	SessionID      string    `json:"sessionId"`
	SequenceNumber int64     `json:"sequenceNumber"`
	State          string    `json:"state"`
	StartedAt      time.Time `json:"startedAt"`
	DispatchedAt   time.Time `json:"dispatchedAt"`
	Source         string    `json:"source"`
	Target         string    `json:"target"`
	OriginalText   string    `json:"originalText"`
	TranslatedText string    `json:"translatedText"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
}

// Encode renders an entry as a message body.
func Encode(e ledger.Entry) ([]byte, error) {
	return json.Marshal(Message{
		SessionID:      e.SessionID,
		SequenceNumber: e.ID,
		State:          string(e.State),
		StartedAt:      e.StartedAt,
		DispatchedAt:   e.DispatchedAt,
		Source:         string(e.Source),
		Target:         string(e.Target),
		OriginalText:   e.OriginalText,
		TranslatedText: e.TranslatedText,
		ErrorMessage:   e.ErrorMessage,
	})
}

// Publisher delivers one message body to a queue.
type Publisher interface {
	Publish(queue string, body []byte) error
	Close() error
}

// Sink is a session.Listener that publishes settled entries in the
// background. Session callbacks never wait on the broker.
type Sink struct {
	session.NopListener

	pub   Publisher
	queue string
	log   *slog.Logger

	ch   chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	closed  bool
	dropped int
}

// New starts a sink publishing to queue through pub.
func New(pub Publisher, queue string, log *slog.Logger) *Sink {
	s := &Sink{
		pub:   pub,
		queue: queue,
		log:   logging.OrDiscard(log),
		ch:    make(chan []byte, queueBuffer),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.done)
	for body := range s.ch {
		if err := s.pub.Publish(s.queue, body); err != nil {
			s.log.Warn("publish entry", "queue", s.queue, "err", err)
		}
	}
}

func (s *Sink) EntryResolved(e ledger.Entry) { s.enqueue(e) }

func (s *Sink) EntryFailed(e ledger.Entry) { s.enqueue(e) }

func (s *Sink) enqueue(e ledger.Entry) {
	body, err := Encode(e)
	if err != nil {
		s.log.Error("encode entry", "seq", e.ID, "err", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- body:
	default:
		s.dropped++
		s.log.Warn("sink queue full, dropping entry", "seq", e.ID)
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (s *Sink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close flushes queued messages and closes the publisher.
func (s *Sink) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		<-s.done
		err = s.pub.Close()
	})
	return err
}

// RabbitMQ publishes to durable queues on one channel.
type RabbitMQ struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	mu       sync.Mutex
	declared map[string]bool
}

// DialRabbitMQ connects to the broker at url.
func DialRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &RabbitMQ{conn: conn, ch: ch, declared: make(map[string]bool)}, nil
}

func (r *RabbitMQ) Publish(queue string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.declared[queue] {
		if _, err := r.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue: %w", err)
		}
		r.declared[queue] = true
	}
	err := r.ch.Publish("", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	if r.ch != nil {
		r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
