package boost

import (
	"errors"
	"fmt"
)

// EventType is the kind of ownership change reported for an NFT.
type EventType uint8

// Ownership event types.
const (
	EventAdded EventType = iota + 1
	EventRemoved
	EventTransferred
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventTransferred:
		return "transferred"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// OwnershipEvent is pushed by the NFT-ownership collaborator. Removed
// events only need Boost.NFTID.
type OwnershipEvent struct {
	Type  EventType
	Boost Boost
}

// HandleOwnershipEvent applies an ownership change. A transfer moves the
// boost to the new owner, or adds it if it was not known.
func (m *Manager) HandleOwnershipEvent(ev OwnershipEvent) error {
	switch ev.Type {
	case EventAdded:
		return m.AddBoost(ev.Boost)
	case EventRemoved:
		_, err := m.RemoveBoost(ev.Boost.NFTID)
		return err
	case EventTransferred:
		err := m.UpdateBoost(ev.Boost)
		if errors.Is(err, ErrNotFound) {
			return m.AddBoost(ev.Boost)
		}
		return err
	default:
		return fmt.Errorf("unknown ownership event %s", ev.Type)
	}
}
