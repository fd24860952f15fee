// Package messaging validates, schema-checks, and routes typed messages
// between the background coordinator and page contexts. Message shapes are
// declared once as field-name to primitive-kind schemas; inbound messages
// that fail validation are dropped with a debug log, never thrown back at
// the sender. Outbound delivery failure is routine (the destination context
// may already have unloaded) and resolves to false.
package messaging

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// FieldKind names the primitive type a schema field must carry.
type FieldKind string

const (
	KindString  FieldKind = "string"
	KindNumber  FieldKind = "number"
	KindBoolean FieldKind = "boolean"
	KindObject  FieldKind = "object"
)

// Schema maps field names to the primitive kind each must carry.
type Schema map[string]FieldKind

// Message is a wire message. Every message carries a string "type" field.
type Message map[string]any

// Type returns the message's type tag, or "" when absent or malformed.
func (m Message) Type() string {
	t, _ := m["type"].(string)
	return t
}

// PageContextID identifies one page context for message delivery.
type PageContextID string

// Handler consumes an inbound message. A non-nil return value is the
// response passed back to the sender's response mechanism.
type Handler func(msg Message, sender PageContextID) any

// Transport delivers messages to page contexts.
type Transport interface {
	Deliver(id PageContextID, msg Message) error
}

// Bridge is the message router.
type Bridge struct {
	mu        sync.Mutex
	schemas   map[string]Schema
	listeners map[string][]Handler
	transport Transport
	log       *zap.Logger
	dropped   atomic.Uint64
}

// NewBridge creates a bridge delivering outbound messages via transport.
func NewBridge(transport Transport, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{
		schemas:   make(map[string]Schema),
		listeners: make(map[string][]Handler),
		transport: transport,
		log:       log,
	}
}

// RegisterSchema associates a message type with its schema. At most one
// schema may exist per type; a second registration is a no-op and indicates
// a wiring bug.
func (b *Bridge) RegisterSchema(msgType string, schema Schema) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.schemas[msgType]; ok {
		b.log.Warn("duplicate message schema registration ignored", zap.String("type", msgType))
		return
	}
	b.schemas[msgType] = schema
}

// RegisterListener adds handler to the set invoked for inbound messages of
// msgType. A non-nil schema is registered alongside.
func (b *Bridge) RegisterListener(msgType string, handler Handler, schema Schema) {
	if schema != nil {
		b.RegisterSchema(msgType, schema)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[msgType] = append(b.listeners[msgType], handler)
}

// Validate checks that msg is well formed and, when a schema is registered
// for its type, that every schema field is present with a matching runtime
// kind. Fields outside the schema are permitted.
func (b *Bridge) Validate(msg Message) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	rawType, ok := msg["type"]
	if !ok {
		return fmt.Errorf("message has no type field")
	}
	msgType, ok := rawType.(string)
	if !ok {
		return fmt.Errorf("message type field is not a string")
	}

	b.mu.Lock()
	schema, ok := b.schemas[msgType]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	for field, want := range schema {
		value, ok := msg[field]
		if !ok {
			return fmt.Errorf("message %q is missing field %q", msgType, field)
		}
		if got := kindOf(value); got != want {
			return fmt.Errorf("message %q field %q is %s, want %s", msgType, field, got, want)
		}
	}
	return nil
}

func kindOf(v any) FieldKind {
	switch v.(type) {
	case string:
		return KindString
	case bool:
		return KindBoolean
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindNumber
	case nil:
		return FieldKind("null")
	case map[string]any:
		return KindObject
	default:
		return KindObject
	}
}

// Dispatch routes an inbound message to the listeners registered for its
// type. Invalid messages are counted and dropped. When more than one handler
// produces a response, that is logged as a conflict and the first response
// wins.
func (b *Bridge) Dispatch(msg Message, sender PageContextID) any {
	if err := b.Validate(msg); err != nil {
		b.dropped.Add(1)
		b.log.Debug("dropping invalid message", zap.Error(err))
		return nil
	}

	b.mu.Lock()
	handlers := make([]Handler, len(b.listeners[msg.Type()]))
	copy(handlers, b.listeners[msg.Type()])
	b.mu.Unlock()

	var response any
	responses := 0
	for _, h := range handlers {
		if r := h(msg, sender); r != nil {
			responses++
			if responses == 1 {
				response = r
			}
		}
	}
	if responses > 1 {
		b.log.Warn("multiple listeners responded to message, using first response",
			zap.String("type", msg.Type()), zap.Int("responses", responses))
	}
	return response
}

// SendToPage validates msg against its registered schema and delivers it to
// the page context. It returns false, never an error, on validation or
// delivery failure.
func (b *Bridge) SendToPage(id PageContextID, msg Message) bool {
	if err := b.Validate(msg); err != nil {
		b.dropped.Add(1)
		b.log.Debug("refusing to send invalid message", zap.Error(err))
		return false
	}
	if err := b.transport.Deliver(id, msg); err != nil {
		b.log.Debug("message delivery failed",
			zap.String("type", msg.Type()), zap.String("context", string(id)), zap.Error(err))
		return false
	}
	return true
}

// Dropped returns how many messages validation has rejected so far.
func (b *Bridge) Dropped() uint64 {
	return b.dropped.Load()
}
