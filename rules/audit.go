package rules

import (
	"context"
	"sync"
	"time"

	"github.com/liamcoop/businessrules/internal/logger"
)

// AuditEventType names a rule lifecycle event.
type AuditEventType string

const (
	AuditRuleCreated      AuditEventType = "RULE_CREATED"
	AuditRuleUpdated      AuditEventType = "RULE_UPDATED"
	AuditRuleDeleted      AuditEventType = "RULE_DELETED"
	AuditVersionCreated   AuditEventType = "RULE_VERSION_CREATED"
	AuditVersionActivated AuditEventType = "RULE_VERSION_ACTIVATED"
	AuditRuleDeactivated  AuditEventType = "RULE_DEACTIVATED"
	AuditRuleExecuted     AuditEventType = "RULE_EXECUTED"
)

// AuditEvent is a structured lifecycle record handed to the audit collaborator.
type AuditEvent struct {
	Type      AuditEventType `json:"type"`
	RuleID    string         `json:"ruleId"`
	RuleName  string         `json:"ruleName,omitempty"`
	Version   int            `json:"version,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// AuditSink consumes audit events.
type AuditSink interface {
	RecordEvent(ctx context.Context, event AuditEvent) error
}

// LogAuditSink writes audit events as structured log lines.
type LogAuditSink struct{}

// RecordEvent logs the event at info level.
func (LogAuditSink) RecordEvent(ctx context.Context, event AuditEvent) error {
	logger.Info("audit event",
		"event", string(event.Type),
		"rule_id", event.RuleID,
		"rule_name", event.RuleName,
		"version", event.Version,
		"actor", event.Actor,
	)
	return nil
}

// DefaultAuditBufferSize is the dispatcher queue length when none is configured.
const DefaultAuditBufferSize = 1024

// AuditDispatcher delivers events to a sink from a background goroutine.
// Publish never blocks: when the queue is full the event is dropped and counted.
// Sink errors are logged and otherwise ignored.
type AuditDispatcher struct {
	sink      AuditSink
	events    chan AuditEvent
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewAuditDispatcher starts a dispatcher for sink. A nil sink yields a dispatcher that
// discards everything.
func NewAuditDispatcher(sink AuditSink, bufferSize int) *AuditDispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultAuditBufferSize
	}
	d := &AuditDispatcher{
		sink:   sink,
		events: make(chan AuditEvent, bufferSize),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *AuditDispatcher) run() {
	defer close(d.done)
	for event := range d.events {
		if d.sink == nil {
			continue
		}
		d.deliver(event)
	}
}

func (d *AuditDispatcher) deliver(event AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("audit sink panicked", "event", string(event.Type), "panic", r)
		}
	}()
	if err := d.sink.RecordEvent(context.Background(), event); err != nil {
		logger.Warn("audit sink failed", "event", string(event.Type), "rule_id", event.RuleID, "error", err)
	}
}

// Publish queues an event without blocking.
func (d *AuditDispatcher) Publish(event AuditEvent) {
	if d == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.events <- event:
	default:
		logger.AuditDropped.Add(1)
		logger.Warn("audit queue full, dropping event", "event", string(event.Type), "rule_id", event.RuleID)
	}
}

// Close stops accepting events and waits until queued events are delivered or ctx ends.
func (d *AuditDispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.events)
		d.mu.Unlock()
	})

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
