// Package events provides the structured event log of a bridge node.
// Events capture message lifecycle transitions, raised signals and relay
// failures. Off-chain consumers subscribe to them to fetch proofs and drive
// the next lifecycle step.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/signal_bridge/internal/app/domain/message"
	"github.com/R3E-Network/signal_bridge/internal/engine/state"
)

// EventType classifies the kind of event.
type EventType string

const (
	// Message lifecycle events
	EventMessageSent          EventType = "message.sent"
	EventMessageStatusChanged EventType = "message.status_changed"
	EventMessageRetried       EventType = "message.retried"
	EventMessageRecalled      EventType = "message.recalled"

	// Signal events
	EventSignalRaised EventType = "signal.raised"

	// Relayer events
	EventRelayFailed EventType = "relay.failed"
)

// Severity indicates the importance of an event.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event represents a structured bridge event.
type Event struct {
	// Core fields
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	// Context fields
	ChainID   uint64 `json:"chain_id"`
	Component string `json:"component,omitempty"` // bridge|signal|relayer

	// Lifecycle fields
	MsgHash    string           `json:"msg_hash,omitempty"`
	Signal     string           `json:"signal,omitempty"`
	Msg        *message.Message `json:"message,omitempty"`
	Status     *state.Status    `json:"status,omitempty"`
	PrevStatus *state.Status    `json:"prev_status,omitempty"`

	// Details
	Message  string            `json:"detail,omitempty"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration_ns,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Correlation
	TraceID   string `json:"trace_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// String returns a human-readable representation.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// EventHandler processes events as they occur. Handlers run synchronously on
// the logging goroutine and must not block.
type EventHandler func(Event)

// EventFilter decides whether an event should be processed.
type EventFilter func(Event) bool

// ByType matches events of any of the given types.
func ByType(types ...EventType) EventFilter {
	return func(e Event) bool {
		for _, t := range types {
			if e.Type == t {
				return true
			}
		}
		return false
	}
}

// ByChain matches events logged by the given chain.
func ByChain(chainID uint64) EventFilter {
	return func(e Event) bool { return e.ChainID == chainID }
}

// All matches events accepted by every filter.
func All(filters ...EventFilter) EventFilter {
	return func(e Event) bool {
		for _, f := range filters {
			if f != nil && !f(e) {
				return false
			}
		}
		return true
	}
}

// EventLogger is the interface for event logging.
type EventLogger interface {
	// Log records an event.
	Log(event Event)

	// LogWithContext records an event with context for tracing.
	LogWithContext(ctx context.Context, event Event)

	// Subscribe registers a handler for events.
	Subscribe(handler EventHandler) func()

	// SubscribeFiltered registers a handler with a filter.
	SubscribeFiltered(filter EventFilter, handler EventHandler) func()

	// Recent returns the most recent N events.
	Recent(n int) []Event

	// RecentByType returns recent events of a specific type.
	RecentByType(eventType EventType, n int) []Event

	// RecentByMessage returns recent events for a specific message identifier.
	RecentByMessage(msgHash string, n int) []Event
}

// RingBuffer is a thread-safe circular buffer for events.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  EventFilter
	handler EventHandler
}

// NewRingBuffer creates a new event ring buffer.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Log adds an event to the buffer and notifies handlers.
func (rb *RingBuffer) Log(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = generateEventID()
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	// Notify handlers outside the lock
	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// LogWithContext adds context information to the event before logging.
func (rb *RingBuffer) LogWithContext(ctx context.Context, event Event) {
	if s, ok := ctx.Value(traceIDKey).(string); ok {
		event.TraceID = s
	}
	if s, ok := ctx.Value(requestIDKey).(string); ok {
		event.RequestID = s
	}
	rb.Log(event)
}

// Subscribe registers a handler for all events.
func (rb *RingBuffer) Subscribe(handler EventHandler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler with a filter.
func (rb *RingBuffer) SubscribeFiltered(filter EventFilter, handler EventHandler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{
		id:      id,
		filter:  filter,
		handler: handler,
	})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent N events in reverse chronological order.
func (rb *RingBuffer) Recent(n int) []Event {
	return rb.recentMatching(n, nil)
}

// RecentByType returns recent events of a specific type.
func (rb *RingBuffer) RecentByType(eventType EventType, n int) []Event {
	return rb.recentMatching(n, ByType(eventType))
}

// RecentByMessage returns recent events for a specific message identifier.
func (rb *RingBuffer) RecentByMessage(msgHash string, n int) []Event {
	return rb.recentMatching(n, func(e Event) bool { return e.MsgHash == msgHash })
}

func (rb *RingBuffer) recentMatching(n int, filter EventFilter) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if filter == nil || filter(rb.events[idx]) {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Count returns the number of events in the buffer.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear removes all events from the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.events = make([]Event, rb.size)
	rb.head = 0
	rb.count = 0
}

// Context keys for tracing
type contextKey string

const (
	traceIDKey   contextKey = "trace_id"
	requestIDKey contextKey = "request_id"
)

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// TraceIDFrom returns the trace ID carried by ctx, if any.
func TraceIDFrom(ctx context.Context) string {
	s, _ := ctx.Value(traceIDKey).(string)
	return s
}

func generateEventID() string {
	return uuid.NewString()
}

// EventBuilder provides a fluent API for creating events.
type EventBuilder struct {
	event Event
}

// NewEvent creates a new EventBuilder.
func NewEvent(eventType EventType) *EventBuilder {
	return &EventBuilder{
		event: Event{
			Type:      eventType,
			Severity:  SeverityInfo,
			Timestamp: time.Now().UTC(),
		},
	}
}

// Chain sets the chain that logged the event.
func (b *EventBuilder) Chain(chainID uint64) *EventBuilder {
	b.event.ChainID = chainID
	return b
}

// Component sets the component.
func (b *EventBuilder) Component(component string) *EventBuilder {
	b.event.Component = component
	return b
}

// MsgHash sets the message identifier.
func (b *EventBuilder) MsgHash(h string) *EventBuilder {
	b.event.MsgHash = h
	return b
}

// Signal sets the signal identifier.
func (b *EventBuilder) Signal(s string) *EventBuilder {
	b.event.Signal = s
	return b
}

// Msg attaches a copy of the message.
func (b *EventBuilder) Msg(m message.Message) *EventBuilder {
	c := m.Clone()
	b.event.Msg = &c
	return b
}

// Status sets the status.
func (b *EventBuilder) Status(status state.Status) *EventBuilder {
	b.event.Status = &status
	return b
}

// Transition sets the previous and current status.
func (b *EventBuilder) Transition(from, to state.Status) *EventBuilder {
	b.event.PrevStatus = &from
	b.event.Status = &to
	return b
}

// Severity sets the severity.
func (b *EventBuilder) Severity(severity Severity) *EventBuilder {
	b.event.Severity = severity
	return b
}

// Message sets the human-readable detail.
func (b *EventBuilder) Message(msg string) *EventBuilder {
	b.event.Message = msg
	return b
}

// Error sets the error.
func (b *EventBuilder) Error(err string) *EventBuilder {
	b.event.Error = err
	b.event.Severity = SeverityError
	return b
}

// ErrorFrom sets the error from an error value.
func (b *EventBuilder) ErrorFrom(err error) *EventBuilder {
	if err != nil {
		b.event.Error = err.Error()
		b.event.Severity = SeverityError
	}
	return b
}

// Duration sets the duration.
func (b *EventBuilder) Duration(d time.Duration) *EventBuilder {
	b.event.Duration = d
	return b
}

// Metadata adds metadata.
func (b *EventBuilder) Metadata(key, value string) *EventBuilder {
	if b.event.Metadata == nil {
		b.event.Metadata = make(map[string]string)
	}
	b.event.Metadata[key] = value
	return b
}

// MetadataUint adds numeric metadata.
func (b *EventBuilder) MetadataUint(key string, value uint64) *EventBuilder {
	return b.Metadata(key, strconv.FormatUint(value, 10))
}

// TraceID sets the trace ID.
func (b *EventBuilder) TraceID(id string) *EventBuilder {
	b.event.TraceID = id
	return b
}

// RequestID sets the request ID.
func (b *EventBuilder) RequestID(id string) *EventBuilder {
	b.event.RequestID = id
	return b
}

// Build returns the constructed event.
func (b *EventBuilder) Build() Event {
	if b.event.ID == "" {
		b.event.ID = generateEventID()
	}
	return b.event
}

// LogTo logs the event to the given logger.
func (b *EventBuilder) LogTo(logger EventLogger) {
	logger.Log(b.Build())
}

// LogToWithContext logs the event with context.
func (b *EventBuilder) LogToWithContext(ctx context.Context, logger EventLogger) {
	logger.LogWithContext(ctx, b.Build())
}

// NoOpLogger is an event logger that discards all events.
type NoOpLogger struct{}

func (NoOpLogger) Log(Event)                                          {}
func (NoOpLogger) LogWithContext(context.Context, Event)              {}
func (NoOpLogger) Subscribe(EventHandler) func()                      { return func() {} }
func (NoOpLogger) SubscribeFiltered(EventFilter, EventHandler) func() { return func() {} }
func (NoOpLogger) Recent(int) []Event                                 { return nil }
func (NoOpLogger) RecentByType(EventType, int) []Event                { return nil }
func (NoOpLogger) RecentByMessage(string, int) []Event                { return nil }
