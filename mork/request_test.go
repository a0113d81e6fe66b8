package mork_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/morkclient/internal/morktest"
	"github.com/GriffinCanCode/morkclient/internal/shared/id"
	"github.com/GriffinCanCode/morkclient/mork"
	"github.com/GriffinCanCode/morkclient/protocol"
	"github.com/GriffinCanCode/morkclient/transport"
)

func resumeAfter(srv *morktest.Server, d time.Duration) {
	go func() {
		time.Sleep(d)
		srv.Resume()
	}()
}

func TestBlockIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.block(f.root.Upload(ctx, "(k 1)"))
	down, err := f.root.Download(ctx)
	require.NoError(t, err)

	first, err := down.Block(ctx)
	require.NoError(t, err)
	second, err := down.Block(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"(k 1)"}, second.Facts())

	// terminal requests answer without another round trip
	before := len(f.srv.Ops())
	_, err = down.Wait(ctx)
	require.NoError(t, err)
	_, err = down.Listen(ctx)
	require.NoError(t, err)
	assert.Len(t, f.srv.Ops(), before)
}

func TestBlockTimeoutKeepsState(t *testing.T) {
	f := newFixture(t)
	f.srv.Pause()
	defer f.srv.Resume()

	req, err := f.root.Upload(context.Background(), "(slow 1)")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = req.Block(ctx)
	require.ErrorIs(t, err, mork.ErrTimeout)
	assert.True(t, protocol.Retryable(err))
	assert.Equal(t, protocol.StatePending, req.State())
	assert.NoError(t, req.Err())

	var rerr *mork.RequestError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, req.ID(), rerr.ID)

	f.srv.Resume()
	_, err = req.Block(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.StateCompleted, req.State())
}

func TestWaitTimeoutFromConfig(t *testing.T) {
	f := newFixture(t, withWaitTimeout(40*time.Millisecond))
	f.srv.Pause()
	defer f.srv.Resume()

	req, err := f.root.Clear(context.Background())
	require.NoError(t, err)

	_, err = req.Block(context.Background())
	assert.ErrorIs(t, err, mork.ErrTimeout)
	_, err = req.Wait(context.Background())
	assert.ErrorIs(t, err, mork.ErrTimeout)
	assert.Equal(t, protocol.StatePending, req.State())
}

func TestCancellationKeepsState(t *testing.T) {
	strategies := map[string]func(*mork.Request, context.Context) (protocol.Result, error){
		"block":  (*mork.Request).Block,
		"wait":   (*mork.Request).Wait,
		"listen": func(r *mork.Request, ctx context.Context) (protocol.Result, error) { return r.Listen(ctx) },
	}

	for name, wait := range strategies {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.srv.Pause()
			defer f.srv.Resume()

			req, err := f.root.Upload(context.Background(), "(c 1)")
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(30*time.Millisecond, cancel)

			_, err = wait(req, ctx)
			require.ErrorIs(t, err, mork.ErrCancelled)
			assert.Equal(t, protocol.StatePending, req.State())

			// no remote abort is issued
			for _, op := range f.srv.Ops() {
				assert.NotEqual(t, protocol.KindStop, op.Kind)
			}
		})
	}
}

func TestListen(t *testing.T) {
	for _, mode := range []transport.StreamMode{transport.StreamSSE, transport.StreamWebSocket, transport.StreamPoll} {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(t, withStreamMode(mode), withServer(morktest.WithDelay(10*time.Millisecond)))
			ctx := context.Background()

			req, err := f.root.Upload(ctx, "(l 1)")
			require.NoError(t, err)

			var states []protocol.State
			_, err = req.Listen(ctx, mork.OnEvent(func(ev protocol.Event) {
				states = append(states, ev.State)
			}))
			require.NoError(t, err)
			assert.Equal(t, protocol.StateCompleted, req.State())
			require.NotEmpty(t, states)
			assert.Equal(t, protocol.StateCompleted, states[len(states)-1])
			assert.Zero(t, testutil.ToFloat64(f.metrics.StreamFallbacks))
		})
	}
}

func TestListenFallsBackToPolling(t *testing.T) {
	for _, mode := range []transport.StreamMode{transport.StreamSSE, transport.StreamWebSocket} {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(t, withStreamMode(mode))
			f.srv.Pause()
			f.srv.SetStreamCut(1)

			req, err := f.root.Upload(context.Background(), "(fb 1)")
			require.NoError(t, err)
			resumeAfter(f.srv, 50*time.Millisecond)

			_, err = req.Listen(context.Background())
			require.NoError(t, err)
			assert.Equal(t, protocol.StateCompleted, req.State())
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StreamFallbacks))
		})
	}
}

func TestListenInterruptedWhenBothPathsFail(t *testing.T) {
	f := newFixture(t)
	f.srv.Pause()
	defer f.srv.Resume()

	req, err := f.root.Upload(context.Background(), "(i 1)")
	require.NoError(t, err)

	f.srv.SetStreamsDisabled(true)
	f.srv.SetStatusFailure(true)

	_, err = req.Listen(context.Background())
	require.ErrorIs(t, err, mork.ErrStreamInterrupted)
	assert.ErrorIs(t, err, mork.ErrTransport)
	assert.True(t, protocol.Retryable(err))
	assert.Equal(t, protocol.StatePending, req.State())
}

func TestWaitRacesPollAndStream(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*morktest.Server)
	}{
		{"both healthy", func(*morktest.Server) {}},
		{"stream down", func(s *morktest.Server) { s.SetStreamsDisabled(true) }},
		{"polling down", func(s *morktest.Server) { s.SetStatusFailure(true) }},
		{"stream cut", func(s *morktest.Server) { s.SetStreamCut(1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.srv.Pause()

			req, err := f.root.Upload(context.Background(), "(w 1)")
			require.NoError(t, err)
			tt.setup(f.srv)
			resumeAfter(f.srv, 30*time.Millisecond)

			_, err = req.Wait(context.Background())
			require.NoError(t, err)
			assert.Equal(t, protocol.StateCompleted, req.State())
		})
	}
}

func TestWaitInPollMode(t *testing.T) {
	f := newFixture(t, withStreamMode(transport.StreamPoll))
	f.srv.Pause()

	req, err := f.root.Upload(context.Background(), "(p 1)")
	require.NoError(t, err)
	resumeAfter(f.srv, 30*time.Millisecond)

	_, err = req.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.StateCompleted, req.State())
	assert.Zero(t, testutil.ToFloat64(f.metrics.StreamFallbacks))
}

func TestWaitInterruptedWhenBothPathsFail(t *testing.T) {
	f := newFixture(t)
	f.srv.Pause()
	defer f.srv.Resume()

	req, err := f.root.Upload(context.Background(), "(w 1)")
	require.NoError(t, err)
	f.srv.SetStreamsDisabled(true)
	f.srv.SetStatusFailure(true)

	_, err = req.Wait(context.Background())
	assert.ErrorIs(t, err, mork.ErrStreamInterrupted)
	assert.Equal(t, protocol.StatePending, req.State())
}

func TestRequestString(t *testing.T) {
	f := newFixture(t)
	req := f.block(child(t, f.root, "hist").Upload(context.Background(), "(h 1)"))

	s := req.String()
	assert.Contains(t, s, "upload")
	assert.Contains(t, s, req.ID())
	assert.Contains(t, s, "/hist")
	assert.Contains(t, s, "completed")
	ts, err := id.Timestamp(req.ID())
	require.NoError(t, err)
	assert.True(t, req.SubmittedAt().Equal(ts))
	assert.Equal(t, "/hist", req.Namespace().String())

	select {
	case <-req.Done():
	default:
		t.Fatal("terminal request must have Done closed")
	}
}
