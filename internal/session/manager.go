// Package session manages the open conversations of a user and applies
// streamed answers to them.
//
// Observers are called synchronously, in mutation order, from whichever
// goroutine made the change. They must not call back into the Manager.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"study-chat/internal/conversation"
	"study-chat/internal/gateway"
	"study-chat/internal/grounding"
	"study-chat/internal/syncer"
)

// AutoSaveEvery is the interaction count modulus that triggers a checkpoint
const AutoSaveEvery = 5

var (
	// ErrNotFound means the session is not open
	ErrNotFound = errors.New("session not found")
	// ErrBusy means the session is still answering its last query
	ErrBusy = conversation.ErrBusy
	// ErrClosed means the manager has been shut down
	ErrClosed = errors.New("session manager is shut down")
)

// Manager owns the open sessions
type Manager struct {
	gw       gateway.Client
	sync     *syncer.Synchronizer
	analyzer *grounding.Analyzer
	logger   *zap.Logger
	now      func() time.Time

	root   context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	sessions  map[string]*session
	order     []string // newest first
	active    string
	mode      grounding.Mode
	closed    bool
	observers map[int]func(Event)
	nextObs   int

	emitMu  sync.Mutex
	streams conc.WaitGroup
}

// Options configures a Manager
type Options struct {
	WebSearch grounding.Mode
	Analyzer  *grounding.Analyzer
	Now       func() time.Time
}

// NewManager creates a manager with no open sessions
func NewManager(gw gateway.Client, synchronizer *syncer.Synchronizer, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Analyzer == nil {
		opts.Analyzer = grounding.NewAnalyzer()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.WebSearch == "" {
		opts.WebSearch = grounding.ModeOff
	}
	root, cancel := context.WithCancel(context.Background())
	return &Manager{
		gw:        gw,
		sync:      synchronizer,
		analyzer:  opts.Analyzer,
		logger:    logger.Named("session"),
		now:       opts.Now,
		root:      root,
		cancel:    cancel,
		sessions:  make(map[string]*session),
		mode:      opts.WebSearch,
		observers: make(map[int]func(Event)),
	}
}

// Subscribe registers fn for every event and returns its cancel function
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

// publish releases m.mu and delivers events. emitMu is taken before the
// release so observers see events in mutation order.
func (m *Manager) publish(events ...Event) {
	observers := make([]func(Event), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	for i := range events {
		events[i].ActiveID = m.active
	}
	m.emitMu.Lock()
	m.mu.Unlock()
	defer m.emitMu.Unlock()

	for _, e := range events {
		for _, fn := range observers {
			fn(e)
		}
	}
}

func (m *Manager) open(conv *conversation.Conversation) *session {
	ctx, cancel := context.WithCancel(m.root)
	s := &session{conv: conv, ctx: ctx, cancel: cancel}
	m.sessions[conv.ID] = s
	m.order = append([]string{conv.ID}, m.order...)
	return s
}

func (m *Manager) remove(id string) {
	delete(m.sessions, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// isOpen reports whether s is still the session registered under its id
func (m *Manager) isOpen(s *session) bool {
	return m.sessions[s.id()] == s
}

// checkpoint issues a background synchronization of s
func (m *Manager) checkpoint(s *session) {
	if s.conv.Len() == 0 {
		return
	}
	s.dirty = false
	m.sync.SynchronizeAsync(s.snapshot(), m.applySynced)
}

// deactivate checkpoints the active session if it has unsaved interactions
func (m *Manager) deactivate() {
	if s, ok := m.sessions[m.active]; ok && s.dirty {
		m.checkpoint(s)
	}
}

// applySynced copies the derived title and tags onto the open session
func (m *Manager) applySynced(snap conversation.Conversation) {
	m.mu.Lock()
	s, ok := m.sessions[snap.ID]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.conv.Title = snap.Title
	s.conv.Tags = append([]string{}, snap.Tags...)
	s.conv.UpdatedAtUnixMs = snap.UpdatedAtUnixMs
	m.publish(Event{Kind: EventChanged, Conversation: s.snapshot()})
}

// CreateSession opens an empty conversation and makes it active
func (m *Manager) CreateSession() conversation.Conversation {
	m.mu.Lock()
	m.deactivate()
	s := m.open(conversation.New(m.now()))
	m.active = s.id()
	snap := s.snapshot()
	m.publish(Event{Kind: EventOpened, Conversation: snap}, Event{Kind: EventActivated, Conversation: snap})
	return snap
}

// NewChat checkpoints the active conversation, if it has interactions, and
// opens a fresh one
func (m *Manager) NewChat() conversation.Conversation {
	m.mu.Lock()
	if s, ok := m.sessions[m.active]; ok {
		m.checkpoint(s)
	}
	m.mu.Unlock()
	return m.CreateSession()
}

// resolve returns the session for id, or the active one when id is empty,
// creating a session when nothing is active
func (m *Manager) resolve(id string) (*session, []Event, error) {
	if id != "" {
		s, ok := m.sessions[id]
		if !ok {
			return nil, nil, ErrNotFound
		}
		return s, nil, nil
	}
	if s, ok := m.sessions[m.active]; ok {
		return s, nil, nil
	}
	s := m.open(conversation.New(m.now()))
	m.active = s.id()
	snap := s.snapshot()
	return s, []Event{{Kind: EventOpened, Conversation: snap}, {Kind: EventActivated, Conversation: snap}}, nil
}

// Submit appends a pending interaction to the session and starts streaming
// its answer in the background. An empty id targets the active session.
// Blank text without an image is ignored. It returns the id of the session
// that received the query.
func (m *Manager) Submit(id, text string, image conversation.Image) (string, error) {
	if strings.TrimSpace(text) == "" && image == "" {
		return "", nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	s, events, err := m.resolve(id)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	idx, err := s.conv.Begin(text, image)
	if err != nil {
		m.publish(events...)
		return "", err
	}
	s.dirty = true
	req := gateway.ChatRequest{
		Query:     text,
		Image:     image,
		WebSearch: m.analyzer.ShouldSearch(m.mode, text),
	}
	sid := s.id()
	m.streams.Go(func() { m.stream(s, idx, req) })
	m.publish(append(events, Event{Kind: EventChanged, Conversation: s.snapshot()})...)
	return sid, nil
}

// apply runs fn against an open session and publishes the result. It reports
// false when the session is no longer open.
func (m *Manager) apply(s *session, fn func(*conversation.Conversation) error) bool {
	m.mu.Lock()
	if !m.isOpen(s) {
		m.mu.Unlock()
		return false
	}
	if err := fn(s.conv); err != nil {
		m.logger.Warn("dropped update", zap.String("id", s.id()), zap.Error(err))
		m.mu.Unlock()
		return true
	}
	s.dirty = true
	m.publish(Event{Kind: EventChanged, Conversation: s.snapshot()})
	return true
}

// finish applies a terminal update and checkpoints on every AutoSaveEvery-th
// interaction
func (m *Manager) finish(s *session, fn func(*conversation.Conversation) error) {
	m.mu.Lock()
	if !m.isOpen(s) {
		m.mu.Unlock()
		return
	}
	if err := fn(s.conv); err != nil {
		m.logger.Warn("dropped update", zap.String("id", s.id()), zap.Error(err))
		m.mu.Unlock()
		return
	}
	s.dirty = true
	if n := s.conv.Len(); n > 0 && n%AutoSaveEvery == 0 {
		m.checkpoint(s)
	}
	m.publish(Event{Kind: EventChanged, Conversation: s.snapshot()})
}

func (m *Manager) stream(s *session, idx int, req gateway.ChatRequest) {
	err := m.gw.StreamChat(s.ctx, req, func(ch gateway.Chunk) {
		if s.ctx.Err() != nil {
			return
		}
		m.apply(s, func(c *conversation.Conversation) error {
			if ch.Sources != nil {
				if err := c.SetSources(idx, ch.Sources); err != nil {
					return err
				}
			}
			if ch.Text != "" {
				return c.AppendDelta(idx, ch.Text)
			}
			return nil
		})
	})

	if s.ctx.Err() != nil {
		// Closed, deleted or shutting down: keep what arrived.
		m.apply(s, func(c *conversation.Conversation) error {
			c.Interrupt()
			return nil
		})
		return
	}

	if err != nil {
		m.logger.Error("stream failed", zap.String("id", s.id()), zap.Error(err))
		m.finish(s, func(c *conversation.Conversation) error {
			return c.Fail(idx, gateway.UserMessage(err))
		})
		return
	}

	m.mu.Lock()
	var done conversation.Interaction
	open := m.isOpen(s)
	if open && idx < s.conv.Len() {
		done = s.conv.Interactions[idx]
	}
	m.mu.Unlock()
	if !open {
		return
	}

	followUps, err := m.gw.SuggestFollowUps(s.ctx, done)
	if err != nil {
		m.logger.Warn("follow-up suggestions failed", zap.String("id", s.id()), zap.Error(err))
		followUps = nil
	}
	m.finish(s, func(c *conversation.Conversation) error {
		return c.Complete(idx, followUps)
	})
}

// AppendTranscript records a finished voice exchange on the active session
func (m *Manager) AppendTranscript(user, ai string) (string, error) {
	user, ai = strings.TrimSpace(user), strings.TrimSpace(ai)
	if user == "" && ai == "" {
		return "", nil
	}
	query := "(Voice) " + user
	if user == "" {
		query = "(Voice) ..."
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	s, events, err := m.resolve("")
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	if err := s.conv.AppendCompleted(query, ai); err != nil {
		m.publish(events...)
		return "", err
	}
	s.dirty = true
	if n := s.conv.Len(); n%AutoSaveEvery == 0 {
		m.checkpoint(s)
	}
	sid := s.id()
	m.publish(append(events, Event{Kind: EventChanged, Conversation: s.snapshot()})...)
	return sid, nil
}

// Close removes the session from the open set. A conversation with
// interactions is synchronized in the background.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	s.cancel()
	s.conv.Interrupt()
	m.checkpoint(s)
	m.remove(id)

	events := []Event{{Kind: EventClosed, Conversation: s.snapshot()}}
	if m.active == id {
		m.active = ""
		if len(m.order) > 0 {
			m.active = m.order[0]
			events = append(events, Event{Kind: EventActivated, Conversation: m.sessions[m.active].snapshot()})
		}
	}
	m.publish(events...)
	return nil
}

// SwitchActive makes an open session active
func (m *Manager) SwitchActive(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if m.active == id {
		m.mu.Unlock()
		return nil
	}
	m.deactivate()
	m.active = id
	m.publish(Event{Kind: EventActivated, Conversation: s.snapshot()})
	return nil
}

// LoadFromHistory activates the open session with conv's id, or opens conv
// as a new session
func (m *Manager) LoadFromHistory(conv conversation.Conversation) {
	m.mu.Lock()
	if s, ok := m.sessions[conv.ID]; ok {
		if m.active != conv.ID {
			m.deactivate()
			m.active = conv.ID
			m.publish(Event{Kind: EventActivated, Conversation: s.snapshot()})
			return
		}
		m.mu.Unlock()
		return
	}

	m.deactivate()
	c := conv.Clone()
	c.Interrupt()
	s := m.open(&c)
	m.active = s.id()
	snap := s.snapshot()
	m.publish(Event{Kind: EventOpened, Conversation: snap}, Event{Kind: EventActivated, Conversation: snap})
}

// Delete removes id from history. An open session with that id is replaced
// in place by a fresh empty conversation first, so nothing written for the
// old session can land after the removal.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.publish(m.replace(s)...)
	} else {
		m.mu.Unlock()
	}

	if err := m.sync.Delete(ctx, id); err != nil {
		m.logger.Error("failed to delete from history", zap.String("id", id), zap.Error(err))
	}
	return nil
}

// replace swaps s for a fresh conversation in the same tab position. The
// caller holds m.mu.
func (m *Manager) replace(s *session) []Event {
	id := s.id()
	s.cancel()
	fresh := conversation.New(m.now())
	ctx, cancel := context.WithCancel(m.root)
	ns := &session{conv: fresh, ctx: ctx, cancel: cancel}
	delete(m.sessions, id)
	m.sessions[fresh.ID] = ns
	for i, v := range m.order {
		if v == id {
			m.order[i] = fresh.ID
		}
	}

	events := []Event{
		{Kind: EventClosed, Conversation: s.snapshot()},
		{Kind: EventOpened, Conversation: ns.snapshot()},
	}
	if m.active == id {
		m.active = fresh.ID
		events = append(events, Event{Kind: EventActivated, Conversation: ns.snapshot()})
	}
	return events
}

// Sessions returns snapshots of the open conversations, newest first
func (m *Manager) Sessions() []conversation.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]conversation.Conversation, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id].snapshot())
	}
	return out
}

// Active returns a snapshot of the active conversation
func (m *Manager) Active() (conversation.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[m.active]
	if !ok {
		return conversation.Conversation{}, false
	}
	return s.snapshot(), true
}

// SetWebSearch changes the web-search mode for later queries
func (m *Manager) SetWebSearch(mode grounding.Mode) {
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
}

// WebSearch returns the current web-search mode
func (m *Manager) WebSearch() grounding.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Wait blocks until every running stream has finished
func (m *Manager) Wait() {
	m.streams.Wait()
}

// Shutdown stops live streams, synchronizes every open conversation with
// unsaved interactions and waits for background synchronizations
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	if err := waitCtx(ctx, m.streams.Wait); err != nil {
		return err
	}

	m.mu.Lock()
	for _, id := range m.order {
		if s := m.sessions[id]; s.dirty {
			m.checkpoint(s)
		}
	}
	m.mu.Unlock()

	return waitCtx(ctx, m.sync.Wait)
}

func waitCtx(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
