// Package conversation holds the conversation data model.
//
// Interactions are only ever appended. The last interaction is the only one
// that may be loading, and every mutator below checks that before and after
// it runs.
package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrBusy means the last interaction is still loading
	ErrBusy = errors.New("last interaction is still loading")
	// ErrNotPending means the interaction already reached a terminal state
	ErrNotPending = errors.New("interaction is not pending")
	// ErrNotLast means the mutation targets an interaction other than the last one
	ErrNotLast = errors.New("only the last interaction can be mutated")
	// ErrSourcesSet means sources were already attached to the interaction
	ErrSourcesSet = errors.New("sources already set")
)

// Conversation is one independent thread of interactions
type Conversation struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Interactions    []Interaction `json:"interactions"`
	Tags            []string      `json:"tags"`
	CreatedAtUnixMs int64         `json:"createdAt"`
	UpdatedAtUnixMs int64         `json:"updatedAt"`
}

// New creates an empty conversation with a fresh id
func New(now time.Time) *Conversation {
	ms := now.UnixMilli()
	return &Conversation{
		ID:              uuid.NewString(),
		Title:           DefaultTitle,
		Interactions:    []Interaction{},
		Tags:            []string{},
		CreatedAtUnixMs: ms,
		UpdatedAtUnixMs: ms,
	}
}

// Len returns the number of interactions
func (c *Conversation) Len() int {
	return len(c.Interactions)
}

// Last returns the last interaction, if any
func (c *Conversation) Last() (Interaction, bool) {
	if len(c.Interactions) == 0 {
		return Interaction{}, false
	}
	return c.Interactions[len(c.Interactions)-1], true
}

// Loading reports whether the last interaction is still pending
func (c *Conversation) Loading() bool {
	last, ok := c.Last()
	return ok && last.IsLoading
}

// Begin appends a pending interaction and returns its index
func (c *Conversation) Begin(query string, image Image) (int, error) {
	if c.Loading() {
		return -1, ErrBusy
	}
	c.Interactions = append(c.Interactions, Interaction{
		Query:     query,
		Image:     image,
		IsLoading: true,
	})
	return len(c.Interactions) - 1, c.Validate()
}

// AppendCompleted appends an interaction that is already done
func (c *Conversation) AppendCompleted(query, response string) error {
	if c.Loading() {
		return ErrBusy
	}
	c.Interactions = append(c.Interactions, Interaction{Query: query, Response: response})
	return c.Validate()
}

// AppendDelta extends the pending response at idx
func (c *Conversation) AppendDelta(idx int, delta string) error {
	return c.mutatePending(idx, func(in *Interaction) error {
		in.Response += delta
		return nil
	})
}

// SetSources attaches grounding sources to the pending interaction, once
func (c *Conversation) SetSources(idx int, sources []Source) error {
	return c.mutatePending(idx, func(in *Interaction) error {
		if in.Sources != nil {
			return ErrSourcesSet
		}
		in.Sources = append([]Source{}, sources...)
		return nil
	})
}

// Complete finalizes the pending interaction with its follow-up prompts
func (c *Conversation) Complete(idx int, followUps []string) error {
	return c.mutatePending(idx, func(in *Interaction) error {
		in.IsLoading = false
		if len(followUps) > 0 {
			in.FollowUpPrompts = append([]string{}, followUps...)
		}
		return nil
	})
}

// Fail finalizes the pending interaction with msg as its answer. Text that
// already arrived is kept and msg follows it.
func (c *Conversation) Fail(idx int, msg string) error {
	return c.mutatePending(idx, func(in *Interaction) error {
		in.IsLoading = false
		in.Failed = true
		if in.Response == "" {
			in.Response = msg
		} else {
			in.Response += "\n\n" + msg
		}
		return nil
	})
}

// Interrupt finalizes the pending interaction keeping whatever text arrived
func (c *Conversation) Interrupt() {
	if c.Loading() {
		c.Interactions[len(c.Interactions)-1].IsLoading = false
	}
}

func (c *Conversation) mutatePending(idx int, fn func(*Interaction) error) error {
	if idx < 0 || idx >= len(c.Interactions) {
		return fmt.Errorf("interaction %d: %w", idx, ErrNotLast)
	}
	if idx != len(c.Interactions)-1 {
		return ErrNotLast
	}
	in := &c.Interactions[idx]
	if !in.IsLoading {
		return ErrNotPending
	}
	if err := fn(in); err != nil {
		return err
	}
	return c.Validate()
}

// Validate checks that at most the last interaction is loading
func (c *Conversation) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("conversation has no id")
	}
	for i := 0; i < len(c.Interactions)-1; i++ {
		if c.Interactions[i].IsLoading {
			return fmt.Errorf("interaction %d is loading but is not last", i)
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand to other goroutines
func (c *Conversation) Clone() Conversation {
	out := *c
	out.Tags = append([]string{}, c.Tags...)
	out.Interactions = make([]Interaction, len(c.Interactions))
	for i, in := range c.Interactions {
		cp := in
		if in.FollowUpPrompts != nil {
			cp.FollowUpPrompts = append([]string{}, in.FollowUpPrompts...)
		}
		if in.Sources != nil {
			cp.Sources = append([]Source{}, in.Sources...)
		}
		out.Interactions[i] = cp
	}
	return out
}

// FallbackTitle derives a title from the first query
func (c *Conversation) FallbackTitle() string {
	if len(c.Interactions) > 0 {
		if q := strings.TrimSpace(c.Interactions[0].Query); q != "" {
			return q
		}
	}
	return "Untitled Chat"
}

// UpdatedAt returns the last synchronization time
func (c *Conversation) UpdatedAt() time.Time {
	return time.UnixMilli(c.UpdatedAtUnixMs)
}

// Matches reports whether term occurs in the title, a tag or any query (case-insensitive)
func (c *Conversation) Matches(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	if strings.Contains(strings.ToLower(c.Title), term) {
		return true
	}
	for _, t := range c.Tags {
		if strings.Contains(strings.ToLower(t), term) {
			return true
		}
	}
	for _, in := range c.Interactions {
		if strings.Contains(strings.ToLower(in.Query), term) {
			return true
		}
	}
	return false
}
