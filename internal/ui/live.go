package ui

import (
	"sync"

	"study-chat/internal/conversation"
	"study-chat/internal/session"
)

// Live follows one streaming interaction through session events and prints
// its answer as it grows
type Live struct {
	display *Display
	// OnStart runs before the answer header is printed
	OnStart func()

	mu      sync.Mutex
	convID  string
	idx     int
	printed int
	started bool
	done    chan struct{}
}

// NewLive creates a follower printing to d
func NewLive(d *Display) *Live {
	return &Live{display: d}
}

// Follow starts watching interaction idx of conversation convID. The
// returned channel is closed when that interaction stops loading or its
// session closes.
func (l *Live) Follow(convID string, idx int) <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stop()
	l.convID = convID
	l.idx = idx
	l.printed = 0
	l.started = false
	l.done = make(chan struct{})
	return l.done
}

// Stop abandons the watched interaction
func (l *Live) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stop()
}

func (l *Live) stop() {
	if l.done != nil {
		close(l.done)
		l.done = nil
	}
	l.convID = ""
}

// Observe is a session observer
func (l *Live) Observe(e session.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.convID == "" || e.Conversation.ID != l.convID {
		return
	}
	switch e.Kind {
	case session.EventClosed:
		l.stop()
	case session.EventChanged:
		if e.Conversation.Len() <= l.idx {
			return
		}
		l.update(e.Conversation.Interactions[l.idx])
	}
}

func (l *Live) update(in conversation.Interaction) {
	if !l.started {
		if in.IsLoading && in.Response == "" {
			return
		}
		if l.OnStart != nil {
			l.OnStart()
		}
		l.display.StartAssistantResponse()
		l.started = true
	}
	if len(in.Response) > l.printed {
		l.display.WriteAnswer(in.Response[l.printed:])
		l.printed = len(in.Response)
	}
	if !in.IsLoading {
		l.display.EndAssistantResponse(in)
		l.stop()
	}
}
