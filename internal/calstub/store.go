package calstub

import (
	"fmt"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Event is one stored calendar entry.
type Event struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Start    string `json:"start_datetime"`
	End      string `json:"end_datetime"`
	Location string `json:"location,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// eventStore is the in-memory calendar backing the stub tools.
type eventStore struct {
	mu     sync.Mutex
	events map[string]Event
}

func newEventStore() *eventStore {
	return &eventStore{events: make(map[string]Event, 8)}
}

func (s *eventStore) create(ev Event) Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = "evt_" + ulid.Make().String()
	s.events[ev.ID] = ev

	return ev
}

func (s *eventStore) list() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	return out
}

func (s *eventStore) delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; !ok {
		return fmt.Errorf("no event with id %s", id)
	}

	delete(s.events, id)

	return nil
}
