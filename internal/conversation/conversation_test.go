package conversation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	a := New(now)
	b := New(now)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, DefaultTitle, a.Title)
	assert.Empty(t, a.Interactions)
	assert.Equal(t, now.UnixMilli(), a.CreatedAtUnixMs)
	assert.Equal(t, a.CreatedAtUnixMs, a.UpdatedAtUnixMs)
}

func TestStreamingGrowsMonotonically(t *testing.T) {
	c := New(time.Now())
	idx, err := c.Begin("Explain photosynthesis", "")
	require.NoError(t, err)
	assert.Equal(t, StatePending, c.Interactions[idx].State())

	prev := ""
	for _, delta := range []string{"Plants ", "turn light ", "", "into sugar."} {
		require.NoError(t, c.AppendDelta(idx, delta))
		got := c.Interactions[idx].Response
		assert.True(t, strings.HasPrefix(got, prev), "response %q must extend %q", got, prev)
		prev = got
	}
	assert.Equal(t, "Plants turn light into sugar.", prev)

	require.NoError(t, c.Complete(idx, []string{"What is chlorophyll?"}))
	assert.Equal(t, StateDone, c.Interactions[idx].State())
	assert.Equal(t, []string{"What is chlorophyll?"}, c.Interactions[idx].FollowUpPrompts)

	assert.ErrorIs(t, c.AppendDelta(idx, "more"), ErrNotPending)
	assert.ErrorIs(t, c.Fail(idx, "late"), ErrNotPending)
}

func TestAtMostOneLoading(t *testing.T) {
	c := New(time.Now())
	_, err := c.Begin("first", "")
	require.NoError(t, err)

	_, err = c.Begin("second", "")
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, c.AppendCompleted("(Voice) hi", "hello"), ErrBusy)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Fail(0, "boom"))
	assert.Equal(t, StateFailed, c.Interactions[0].State())
	assert.Equal(t, "boom", c.Interactions[0].Response)

	idx, err := c.Begin("second", "")
	require.NoError(t, err)
	assert.ErrorIs(t, c.AppendDelta(0, "x"), ErrNotLast)
	require.NoError(t, c.AppendDelta(idx, "x"))
	require.NoError(t, c.Validate())
	require.NoError(t, c.Fail(idx, "boom"))
	assert.Equal(t, "x\n\nboom", c.Interactions[idx].Response)

	c.Interactions[0].IsLoading = true
	assert.Error(t, c.Validate())
}

func TestSourcesSetOnce(t *testing.T) {
	c := New(time.Now())
	idx, err := c.Begin("news", "")
	require.NoError(t, err)

	require.NoError(t, c.SetSources(idx, []Source{{URI: "https://a", Title: "A"}}))
	assert.ErrorIs(t, c.SetSources(idx, []Source{{URI: "https://b", Title: "B"}}), ErrSourcesSet)
	assert.Equal(t, "https://a", c.Interactions[idx].Sources[0].URI)
}

func TestInterruptKeepsPartialText(t *testing.T) {
	c := New(time.Now())
	idx, _ := c.Begin("q", "")
	require.NoError(t, c.AppendDelta(idx, "partial"))

	c.Interrupt()
	assert.False(t, c.Loading())
	assert.Equal(t, "partial", c.Interactions[idx].Response)
	assert.Equal(t, StateDone, c.Interactions[idx].State())
}

func TestCloneIsDeep(t *testing.T) {
	c := New(time.Now())
	c.Tags = []string{"physics"}
	idx, _ := c.Begin("q", "")
	require.NoError(t, c.SetSources(idx, []Source{{URI: "u", Title: "t"}}))
	require.NoError(t, c.Complete(idx, []string{"next?"}))

	cp := c.Clone()
	cp.Tags[0] = "changed"
	cp.Interactions[0].Sources[0].URI = "changed"
	cp.Interactions[0].FollowUpPrompts[0] = "changed"

	assert.Equal(t, "physics", c.Tags[0])
	assert.Equal(t, "u", c.Interactions[0].Sources[0].URI)
	assert.Equal(t, "next?", c.Interactions[0].FollowUpPrompts[0])
}

func TestFallbackTitle(t *testing.T) {
	c := New(time.Now())
	assert.Equal(t, "Untitled Chat", c.FallbackTitle())

	require.NoError(t, c.AppendCompleted("  ", "answer"))
	assert.Equal(t, "Untitled Chat", c.FallbackTitle())

	c = New(time.Now())
	require.NoError(t, c.AppendCompleted("Explain photosynthesis", "answer"))
	assert.Equal(t, "Explain photosynthesis", c.FallbackTitle())
}

func TestMatches(t *testing.T) {
	c := New(time.Now())
	c.Title = "Newton's Laws"
	c.Tags = []string{"Physics"}
	require.NoError(t, c.AppendCompleted("What is inertia?", "..."))

	assert.True(t, c.Matches("physics"))
	assert.True(t, c.Matches("NEWTON"))
	assert.True(t, c.Matches("inertia"))
	assert.False(t, c.Matches("chemistry"))
}

func TestImageDataURL(t *testing.T) {
	img := NewImage("image/png", []byte{0x89, 'P', 'N', 'G'})
	mime, payload, err := img.Decode()
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, "iVBORw==", payload)

	_, _, err = Image("not-a-data-url").Decode()
	assert.Error(t, err)
}
