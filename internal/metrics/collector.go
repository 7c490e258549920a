package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/llmproxy/credpool/internal/credential"
)

type EventType string

const (
	EventSelectStarted      EventType = "select_started"
	EventCredentialSelected EventType = "credential_selected"
	EventSelectRejected     EventType = "select_rejected"
	EventRetryScheduled     EventType = "retry_scheduled"
	EventRequestCompleted   EventType = "request_completed"
)

type Event struct {
	Type         EventType
	Timestamp    time.Time
	CredentialID int64
	Group        credential.ModelGroup
	Reason       string
}

type Collector struct {
	eventCh chan Event
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan Event, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

// Emit sends an event without blocking; under backpressure the event is
// dropped rather than delaying a scheduling decision.
func (c *Collector) Emit(event Event) {
	select {
	case c.eventCh <- event:
	default:
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event Event) {
	switch event.Type {
	case EventSelectStarted:
		c.metrics.IncrementRequests()

	case EventCredentialSelected:
		c.metrics.RecordSelection(event.CredentialID, event.Group)

	case EventSelectRejected:
		c.metrics.RecordRejection(event.Reason)

	case EventRetryScheduled:
		c.metrics.RecordRetry()

	case EventRequestCompleted:
		c.metrics.RecordCompletion()
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(poolMode string) Snapshot {
	return c.metrics.Snapshot(poolMode)
}
