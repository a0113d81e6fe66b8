package mork

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/morkclient/protocol"
)

func TestPath(t *testing.T) {
	var root Path
	assert.True(t, root.IsRoot())
	assert.Equal(t, "/", root.String())

	a, err := root.Child("a")
	require.NoError(t, err)
	ab, err := a.Child("b")
	require.NoError(t, err)
	assert.Equal(t, "/a/b", ab.String())
	assert.Equal(t, 2, ab.Len())
	assert.Equal(t, a, ab.Parent())
	assert.Equal(t, root, root.Parent())

	// siblings never share a backing array
	ac, err := a.Child("c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ab.Segments())
	assert.Equal(t, []string{"a", "c"}, ac.Segments())

	segs := ab.Segments()
	segs[0] = "z"
	assert.Equal(t, "/a/b", ab.String())
}

func TestParsePath(t *testing.T) {
	p, err := ParsePath("/team/scratch/")
	require.NoError(t, err)
	assert.Equal(t, []string{"team", "scratch"}, p.Segments())

	p, err = ParsePath("")
	require.NoError(t, err)
	assert.True(t, p.IsRoot())

	_, err = ParsePath("a//b")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestValidateSegment(t *testing.T) {
	for _, ok := range []string{"inner", "play0", "a-b_c.d"} {
		assert.NoError(t, ValidateSegment(ok), ok)
	}
	for _, bad := range []string{"", "a/b", "a b", "(x)", "$v", "tab\there"} {
		assert.ErrorIs(t, ValidateSegment(bad), ErrInvalidArgument, bad)
	}
}

func TestWaitConfigBackoff(t *testing.T) {
	w := WaitConfig{PollInterval: 10 * time.Millisecond, MaxPollInterval: 50 * time.Millisecond, PollMultiplier: 2}.normalize()

	d := w.PollInterval
	var seen []time.Duration
	for range 5 {
		seen = append(seen, d)
		d = w.next(d)
	}
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond,
		50 * time.Millisecond, 50 * time.Millisecond,
	}, seen)
	assert.Equal(t, DefaultWaitConfig().Timeout, w.Timeout)

	zero := WaitConfig{}.normalize()
	assert.Positive(t, zero.PollInterval)
	assert.GreaterOrEqual(t, zero.MaxPollInterval, zero.PollInterval)
	assert.Equal(t, 1.0, zero.PollMultiplier)
}

func TestApplyIsMonotonic(t *testing.T) {
	s := &Session{opts: newOptions(nil)}
	r := newRequest(s, "req_1", protocol.KindUpload, time.Now())

	assert.False(t, r.apply(protocol.Status{ID: "req_1", State: protocol.StateRunning}))
	assert.False(t, r.apply(protocol.Status{ID: "req_1", State: protocol.StatePending}))
	assert.Equal(t, protocol.StateRunning, r.State())

	// statuses for other requests are ignored
	assert.False(t, r.apply(protocol.Status{ID: "req_2", State: protocol.StateCompleted}))

	assert.True(t, r.apply(protocol.Status{
		ID: "req_1", State: protocol.StateCompleted, Result: &protocol.Result{Data: "(a 1)"},
	}))
	assert.True(t, r.apply(protocol.Status{
		ID: "req_1", State: protocol.StateFailed, Error: &protocol.ErrorInfo{Code: "late"},
	}))

	assert.Equal(t, protocol.StateCompleted, r.State())
	assert.Equal(t, "(a 1)", r.Result().Data)
	assert.NoError(t, r.Err())
	_, failed := r.ErrorInfo()
	assert.False(t, failed)
}

func TestFailedStatusCarriesClass(t *testing.T) {
	s := &Session{opts: newOptions(nil)}
	r := newRequest(s, "req_9", protocol.KindImport, time.Now())

	r.apply(protocol.Status{State: protocol.StateFailed,
		Error: &protocol.ErrorInfo{Code: protocol.CodeUnsupported, Message: "gopher://"}})

	err := r.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, "mork: import request req_9: unsupported: gopher://", err.Error())
}
