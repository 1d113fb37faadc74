package chat

import (
	"time"

	"github.com/google/uuid"
)

// MessageStore merges the backend's confirmed history with locally created
// messages. Confirmed messages always render first, in the order the backend
// returned them, followed by local messages in insertion order.
//
// MessageStore is not safe for concurrent use; Session guards it.
type MessageStore struct {
	confirmed []Message
	pending   []Message
	newID     func() string
}

func NewMessageStore() *MessageStore {
	return &MessageStore{newID: uuid.NewString}
}

// Messages returns the display list. Duplicate ids are dropped, keeping the
// first occurrence.
func (s *MessageStore) Messages() []Message {
	out := make([]Message, 0, len(s.confirmed)+len(s.pending))
	seen := make(map[string]struct{}, len(s.confirmed)+len(s.pending))
	for _, list := range [][]Message{s.confirmed, s.pending} {
		for _, msg := range list {
			if msg.ID != "" {
				if _, dup := seen[msg.ID]; dup {
					continue
				}
				seen[msg.ID] = struct{}{}
			}
			out = append(out, cloneMessage(msg))
		}
	}
	return out
}

func (s *MessageStore) Confirmed() []Message {
	return cloneMessages(s.confirmed)
}

func (s *MessageStore) Pending() []Message {
	return cloneMessages(s.pending)
}

// AddPending appends an optimistic user message with a client-side id.
func (s *MessageStore) AddPending(text string, at time.Time) Message {
	msg := Message{
		ID:     s.newID(),
		Text:   text,
		Role:   RoleUser,
		Time:   at,
		Status: StatusPending,
	}
	s.pending = append(s.pending, msg)
	return msg
}

// Settle replaces the confirmed history and drops the local messages whose
// sends the backend accepted, whether or not its copy matches the local one.
// Failed and in-flight messages stay.
func (s *MessageStore) Settle(confirmed []Message, accepted []string) {
	s.ReplaceConfirmed(confirmed)
	if len(accepted) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(accepted))
	for _, id := range accepted {
		drop[id] = struct{}{}
	}
	kept := s.pending[:0]
	for _, msg := range s.pending {
		if _, ok := drop[msg.ID]; !ok {
			kept = append(kept, msg)
		}
	}
	s.pending = kept
}

// ReplaceConfirmed replaces the confirmed history and leaves local messages
// alone.
func (s *MessageStore) ReplaceConfirmed(confirmed []Message) {
	next := make([]Message, 0, len(confirmed))
	for _, msg := range confirmed {
		msg = cloneMessage(msg)
		msg.Status = StatusConfirmed
		next = append(next, msg)
	}
	s.confirmed = next
}

func (s *MessageStore) MarkFailed(id string) bool {
	return s.setPendingStatus(id, StatusFailed)
}

func (s *MessageStore) MarkPending(id string) bool {
	return s.setPendingStatus(id, StatusPending)
}

// Discard removes a local message.
func (s *MessageStore) Discard(id string) bool {
	for i := range s.pending {
		if s.pending[i].ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (s *MessageStore) Find(id string) (Message, bool) {
	for _, list := range [][]Message{s.confirmed, s.pending} {
		for _, msg := range list {
			if msg.ID == id {
				return cloneMessage(msg), true
			}
		}
	}
	return Message{}, false
}

func (s *MessageStore) setPendingStatus(id string, status MessageStatus) bool {
	for i := range s.pending {
		if s.pending[i].ID == id {
			s.pending[i].Status = status
			return true
		}
	}
	return false
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, 0, len(in))
	for _, msg := range in {
		out = append(out, cloneMessage(msg))
	}
	return out
}

func cloneMessage(msg Message) Message {
	if msg.Liked != nil {
		liked := *msg.Liked
		msg.Liked = &liked
	}
	return msg
}
