package session

import (
	"context"

	"study-chat/internal/conversation"
)

// session is one open tab. Its id is the conversation id.
type session struct {
	conv   *conversation.Conversation
	dirty  bool
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *session) id() string {
	return s.conv.ID
}

func (s *session) snapshot() conversation.Conversation {
	return s.conv.Clone()
}
