package bus

import "time"

// EventBus is a thread-safe, in-process pub/sub bus scoped by topic.
//
// - Topics isolate publishers; collections publish under their own name and
//   node-level events use the default topic "".
// - Delivery is synchronous in the publisher's goroutine; handlers must be quick.
// - Handler errors are joined and returned from Publish.
// - Metrics are only kept while at least one observer is registered.
type EventBus interface {
	// Publish delivers event to subscribers of (topic, event.Type) and of
	// (topic, AnyType).
	Publish(topic string, event Event) error
	// Subscribe registers handler for eventType within topic. AnyType matches
	// every type.
	Subscribe(topic, eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels sub. Safe with nil.
	Unsubscribe(sub Subscription) error
	// DropTopic cancels every subscription under topic.
	DropTopic(topic string)

	AddObserver(obs EventBusObserver)
	RemoveObserver(obs EventBusObserver)
	GetMetrics() EventBusMetrics
	GetTopics() []TopicInfo
}

// AnyType subscribes to every event type of a topic.
const AnyType = "*"

// Event types published by the engine.
const (
	TypeChange   = "change"
	TypeStatus   = "status"
	TypeConflict = "conflict"
	TypePeer     = "peer"
)

// Event is an immutable notification.
type Event struct {
	Type      string
	Source    string
	Timestamp time.Time
	Data      any
}

func NewEvent(typ, source string, data any) Event {
	return Event{Type: typ, Source: source, Timestamp: time.Now(), Data: data}
}

type (
	EventHandler func(event Event) error
)

type Subscription interface {
	ID() string
	Topic() string
	EventType() string
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel() error
}

// EventBusObserver sees every publish. Observers should return quickly.
type EventBusObserver interface {
	OnPublish(topic, eventType string, event Event)
	OnDelivered(topic, eventType string, handlers int, err error, duration time.Duration)
}

type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	SubscribersActive uint64
	Topics            uint64
}

type TopicInfo struct {
	Name       string
	EventTypes int
	Subs       int
}
