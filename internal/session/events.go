package session

import "study-chat/internal/conversation"

// EventKind identifies what changed
type EventKind int

const (
	// EventOpened is sent when a session is added to the open set
	EventOpened EventKind = iota
	// EventChanged is sent after every mutation of an open conversation,
	// including each applied stream chunk
	EventChanged
	// EventClosed is sent when a session leaves the open set
	EventClosed
	// EventActivated is sent when the active session changes
	EventActivated
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventChanged:
		return "changed"
	case EventClosed:
		return "closed"
	case EventActivated:
		return "activated"
	default:
		return "unknown"
	}
}

// Event carries a snapshot of the affected conversation
type Event struct {
	Kind         EventKind
	Conversation conversation.Conversation
	ActiveID     string
}
