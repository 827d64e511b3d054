package bus

import (
	"context"
	"sync"
)

// MemoryBroker is shared in-process state simulating a message broker: each
// MemoryBus backed by the same Broker behaves like a distinct instance
// talking to a shared NATS server, including echo suppression by
// InstanceID. Tests use one Broker with two MemoryBus handles to exercise
// cross-instance convergence without a live NATS server; a single-instance
// deployment can use one Broker with one MemoryBus as its entire Bus.
type MemoryBroker struct {
	mu          sync.Mutex
	subscribers map[string]map[*memorySubscription]entry
}

type entry struct {
	instanceID string
	handler    Handler
}

// NewMemoryBroker returns an empty shared broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subscribers: make(map[string]map[*memorySubscription]entry)}
}

// MemoryBus is a Bus implementation backed by a MemoryBroker, standing in
// for one instance's connection to NATS.
type MemoryBus struct {
	broker     *MemoryBroker
	instanceID string
}

// NewMemoryBus returns a Bus handle identifying itself as instanceID.
func NewMemoryBus(broker *MemoryBroker, instanceID string) *MemoryBus {
	return &MemoryBus{broker: broker, instanceID: instanceID}
}

func (m *MemoryBus) InstanceID() string { return m.instanceID }

// Publish delivers the envelope to every subscriber of documentID except
// ones sharing this instanceID, matching NATSBus's echo suppression.
func (m *MemoryBus) Publish(ctx context.Context, documentID string, kind EnvelopeKind, payload []byte, origin string) error {
	env := Envelope{
		DocumentID: documentID,
		Kind:       kind,
		Payload:    payload,
		Origin:     origin,
		InstanceID: m.instanceID,
		MessageID:  newMessageID(),
		Timestamp:  0,
	}

	m.broker.mu.Lock()
	var handlers []Handler
	for _, e := range m.broker.subscribers[documentID] {
		if e.instanceID == m.instanceID {
			continue
		}
		handlers = append(handlers, e.handler)
	}
	m.broker.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
	return nil
}

// Subscribe registers handler for documentID's topic on this instance.
func (m *MemoryBus) Subscribe(documentID string, handler Handler) (Subscription, error) {
	m.broker.mu.Lock()
	defer m.broker.mu.Unlock()

	if m.broker.subscribers[documentID] == nil {
		m.broker.subscribers[documentID] = make(map[*memorySubscription]entry)
	}
	sub := &memorySubscription{broker: m.broker, documentID: documentID}
	m.broker.subscribers[documentID][sub] = entry{instanceID: m.instanceID, handler: handler}
	return sub, nil
}

type memorySubscription struct {
	broker     *MemoryBroker
	documentID string
}

func (s *memorySubscription) Unsubscribe() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	delete(s.broker.subscribers[s.documentID], s)
	return nil
}
