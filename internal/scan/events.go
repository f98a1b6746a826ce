// ABOUTME: Session events fanned out to subscribers such as the WebSocket stream
// ABOUTME: Delivery is best effort: a full subscriber buffer drops the event

package scan

import (
	"time"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/poller"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

// EventType distinguishes session status changes from poll transitions.
type EventType string

const (
	EventStatus EventType = "status"
	EventPoll   EventType = "poll"
)

// Event is one update about a session.
type Event struct {
	SessionID string              `json:"session_id"`
	Type      EventType           `json:"type"`
	Status    types.SessionStatus `json:"status"`
	Poll      *poller.Event       `json:"poll,omitempty"`

	// Result is set on the final status event.
	Result string    `json:"result,omitempty"`
	At     time.Time `json:"at"`
}

// Final reports whether this is the last event of the session.
func (e Event) Final() bool {
	return e.Type == EventStatus && e.Status.IsTerminal()
}

// subscribers is guarded by the owning Service's mutex.
type subscribers struct {
	next uint64
	subs map[uint64]chan Event
}

func (s *subscribers) add(buffer int) (uint64, chan Event) {
	if s.subs == nil {
		s.subs = make(map[uint64]chan Event)
	}
	s.next++
	ch := make(chan Event, buffer)
	s.subs[s.next] = ch
	return s.next, ch
}

func (s *subscribers) remove(id uint64) {
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// publish returns the number of subscribers that missed the event.
func (s *subscribers) publish(ev Event) int {
	dropped := 0
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	return dropped
}

// closeAll ends every subscription after the final event.
func (s *subscribers) closeAll() {
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
