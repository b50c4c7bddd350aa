package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockService implements Service in memory for tests. Use it instead of the
// Google backend to avoid real API calls.
type MockService struct {
	mu      sync.Mutex
	nextID  int
	events  map[string]Event
	bookErr error
}

// NewMockService creates an in-memory calendar for tests.
func NewMockService() *MockService {
	return &MockService{events: make(map[string]Event)}
}

// SetBookError makes subsequent BookSlot calls fail with err. Pass nil to
// restore normal booking.
func (m *MockService) SetBookError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookErr = err
}

// Booked returns a copy of all events currently on the calendar.
func (m *MockService) Booked() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev)
	}
	return out
}

func (m *MockService) ListSlots(ctx context.Context, start, end time.Time, durationMinutes int) ([]TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	duration := time.Duration(durationMinutes) * time.Minute
	var slots []TimeSlot
	for current := start; current.Before(end); current = current.Add(30 * time.Minute) {
		slotEnd := current.Add(duration)
		available := true
		for _, ev := range m.events {
			if current.Before(ev.End) && slotEnd.After(ev.Start) {
				available = false
				break
			}
		}
		slots = append(slots, TimeSlot{Start: current, End: slotEnd, Available: available})
	}
	return slots, nil
}

func (m *MockService) BookSlot(ctx context.Context, event Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bookErr != nil {
		return "", m.bookErr
	}
	m.nextID++
	id := fmt.Sprintf("evt-%d", m.nextID)
	event.ID = id
	m.events[id] = event
	return id, nil
}

func (m *MockService) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventID]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

func (m *MockService) UpdateEvent(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[event.ID]; !ok {
		return fmt.Errorf("event %s not found", event.ID)
	}
	m.events[event.ID] = event
	return nil
}

func (m *MockService) CancelEvent(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, eventID)
	return nil
}
