package morktest

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/morkclient/protocol"
)

// record tracks one submitted request. Subscribers wait on changed, which
// is closed and replaced on every update.
type record struct {
	mu      sync.Mutex
	status  protocol.Status
	seq     uint64
	changed chan struct{}
}

func newRecord(id string, kind protocol.Kind) *record {
	return &record{
		status: protocol.Status{
			ID:        id,
			Kind:      kind,
			State:     protocol.StatePending,
			UpdatedAt: time.Now().UTC(),
		},
		seq:     1,
		changed: make(chan struct{}),
	}
}

func (r *record) snapshot() protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return protocol.Event{Status: r.status, Seq: r.seq}
}

// update applies fn unless the request is already terminal.
func (r *record) update(fn func(*protocol.Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return
	}
	fn(&r.status)
	r.status.UpdatedAt = time.Now().UTC()
	r.seq++
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *record) running(progress *protocol.Progress) {
	r.update(func(s *protocol.Status) {
		s.State = protocol.StateRunning
		s.Progress = progress
	})
}

func (r *record) complete(result *protocol.Result) {
	r.update(func(s *protocol.Status) {
		s.State = protocol.StateCompleted
		s.Result = result
	})
}

func (r *record) fail(info *protocol.ErrorInfo) {
	r.update(func(s *protocol.Status) {
		s.State = protocol.StateFailed
		s.Error = info
	})
}

// next blocks until an event newer than after exists.
func (r *record) next(ctx context.Context, done <-chan struct{}, after uint64) (protocol.Event, bool) {
	for {
		r.mu.Lock()
		ev := protocol.Event{Status: r.status, Seq: r.seq}
		changed := r.changed
		r.mu.Unlock()

		if ev.Seq > after {
			return ev, true
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return protocol.Event{}, false
		case <-done:
			return protocol.Event{}, false
		}
	}
}
