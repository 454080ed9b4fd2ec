package reviews

import (
	"context"
	"errors"
	"sort"
	"sync"
)

const remoteSubscriberBuffer = 16

// ErrRemoteDocumentNotFound indicates a delete for an unknown remote id.
var ErrRemoteDocumentNotFound = errors.New("reviews: remote document not found")

// MemoryRemote is an in-process RemoteStore. It keeps documents in memory,
// assigns them identifiers from the IDProvider, and pushes the full
// per-restaurant result set to every live subscription on each change. It
// backs single-node deployments and tests; networked deployments supply
// their own RemoteStore.
type MemoryRemote struct {
	mu          sync.RWMutex
	documents   map[string]Document
	subscribers map[int]map[int64]*remoteSubscriber
	nextID      int64
	ids         IDProvider
}

type remoteSubscriber struct {
	id     int64
	stream chan []Document
}

// NewMemoryRemote constructs an empty in-process remote store.
func NewMemoryRemote(ids IDProvider) *MemoryRemote {
	if ids == nil {
		ids = NewUUIDProvider()
	}
	return &MemoryRemote{
		documents:   make(map[string]Document),
		subscribers: make(map[int]map[int64]*remoteSubscriber),
		ids:         ids,
	}
}

// Add stores the document and fans the updated result set out to the
// restaurant's subscribers.
func (m *MemoryRemote) Add(_ context.Context, doc Document) (string, error) {
	remoteID, err := m.ids.NewID()
	if err != nil {
		return "", err
	}
	doc.RemoteID = remoteID

	m.mu.Lock()
	m.documents[remoteID] = doc
	m.mu.Unlock()

	m.publish(doc.RestaurantID)
	return remoteID, nil
}

// Delete removes the document and notifies the restaurant's subscribers.
func (m *MemoryRemote) Delete(_ context.Context, remoteID string) error {
	m.mu.Lock()
	doc, ok := m.documents[remoteID]
	if !ok {
		m.mu.Unlock()
		return ErrRemoteDocumentNotFound
	}
	delete(m.documents, remoteID)
	m.mu.Unlock()

	m.publish(doc.RestaurantID)
	return nil
}

// Subscribe registers a live query for one restaurant. The current result
// set is delivered immediately, then re-delivered in full on every change.
// The cancel function releases the subscription; ctx cancellation does too.
func (m *MemoryRemote) Subscribe(ctx context.Context, restaurantID int) (<-chan []Document, func()) {
	subscriber := &remoteSubscriber{
		id:     m.nextSequence(),
		stream: make(chan []Document, remoteSubscriberBuffer),
	}
	m.register(restaurantID, subscriber)
	cleanup := func() {
		m.unregister(restaurantID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()

	subscriber.stream <- m.resultSet(restaurantID)
	return subscriber.stream, cleanup
}

// AverageRating aggregates stored ratings for a restaurant; 0 with no documents.
func (m *MemoryRemote) AverageRating(_ context.Context, restaurantID int) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum float64
	var count int
	for _, doc := range m.documents {
		if doc.RestaurantID == restaurantID {
			sum += doc.Rating
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return sum / float64(count), nil
}

func (m *MemoryRemote) publish(restaurantID int) {
	m.mu.RLock()
	subscribers := m.subscribers[restaurantID]
	if len(subscribers) == 0 {
		m.mu.RUnlock()
		return
	}
	copies := make([]*remoteSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	m.mu.RUnlock()

	result := m.resultSet(restaurantID)
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- result:
		default:
		}
	}
}

func (m *MemoryRemote) resultSet(restaurantID int) []Document {
	m.mu.RLock()
	result := make([]Document, 0)
	for _, doc := range m.documents {
		if doc.RestaurantID == restaurantID {
			result = append(result, doc)
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(left, right int) bool {
		if result[left].Timestamp != result[right].Timestamp {
			return result[left].Timestamp > result[right].Timestamp
		}
		return result[left].RemoteID > result[right].RemoteID
	})
	return result
}

func (m *MemoryRemote) nextSequence() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID
}

func (m *MemoryRemote) register(restaurantID int, subscriber *remoteSubscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[restaurantID]; !ok {
		m.subscribers[restaurantID] = make(map[int64]*remoteSubscriber)
	}
	m.subscribers[restaurantID][subscriber.id] = subscriber
}

func (m *MemoryRemote) unregister(restaurantID int, subscriberID int64) {
	m.mu.Lock()
	subscribers := m.subscribers[restaurantID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(m.subscribers, restaurantID)
		}
	}
	m.mu.Unlock()
}
