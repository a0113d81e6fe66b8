package mork

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/morkclient/internal/infrastructure/logging"
	"github.com/GriffinCanCode/morkclient/protocol"
	"github.com/GriffinCanCode/morkclient/transport"
)

// Wait strategies, as reported in logs and metrics.
const (
	strategyPoll   = "poll"
	strategyStream = "stream"
	strategyRace   = "race"
)

// Request tracks one submitted operation. Its state only moves forward;
// once Completed or Failed it never changes again.
type Request struct {
	id          string
	kind        protocol.Kind
	namespace   Path
	submittedAt time.Time

	tr   transport.Transport
	opts *options

	mu       sync.Mutex
	state    protocol.State
	result   *protocol.Result
	errInfo  *protocol.ErrorInfo
	progress *protocol.Progress
	err      error
	done     chan struct{}
}

func newRequest(s *Session, requestID string, kind protocol.Kind, submittedAt time.Time) *Request {
	return &Request{
		id:          requestID,
		kind:        kind,
		namespace:   s.path,
		submittedAt: submittedAt,
		tr:          s.tr,
		opts:        s.opts,
		state:       protocol.StatePending,
		done:        make(chan struct{}),
	}
}

func (r *Request) ID() string { return r.id }

func (r *Request) Kind() protocol.Kind { return r.kind }

// Namespace returns the path the request was issued under.
func (r *Request) Namespace() Path { return r.namespace }

func (r *Request) SubmittedAt() time.Time { return r.submittedAt }

// State returns the last known state.
func (r *Request) State() protocol.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Result returns a copy of the result; the zero Result until Completed.
func (r *Request) Result() protocol.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result == nil {
		return protocol.Result{}
	}
	return r.result.Clone()
}

// ErrorInfo returns the failure details of a Failed request.
func (r *Request) ErrorInfo() (protocol.ErrorInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errInfo == nil {
		return protocol.ErrorInfo{}, false
	}
	return *r.errInfo, true
}

// Progress returns the last progress report, if any.
func (r *Request) Progress() (protocol.Progress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress == nil {
		return protocol.Progress{}, false
	}
	return *r.progress, true
}

// Err returns the terminal error of a Failed request, nil otherwise.
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Done is closed when the request reaches a terminal state.
func (r *Request) Done() <-chan struct{} { return r.done }

func (r *Request) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := fmt.Sprintf("%s %s %s [%s] submitted %s",
		r.kind, r.id, r.namespace, r.state, r.submittedAt.Format(time.RFC3339Nano))
	if r.progress != nil {
		s += fmt.Sprintf(" step %d/%d", r.progress.Step, r.progress.Total)
	}
	if r.errInfo != nil {
		s += ": " + r.errInfo.Error()
	}
	return s
}

func stateRank(s protocol.State) int {
	switch s {
	case protocol.StatePending:
		return 0
	case protocol.StateRunning:
		return 1
	case protocol.StateCompleted, protocol.StateFailed:
		return 2
	}
	return -1
}

// apply folds an observed status into the request and reports whether the
// request is terminal. Stale or backward observations are ignored.
func (r *Request) apply(st protocol.Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Terminal() {
		return true
	}
	if st.ID != "" && st.ID != r.id {
		return false
	}
	if st.Progress != nil {
		p := *st.Progress
		r.progress = &p
	}
	if stateRank(st.State) < stateRank(r.state) {
		return false
	}
	r.state = st.State

	switch st.State {
	case protocol.StateCompleted:
		res := protocol.Result{}
		if st.Result != nil {
			res = st.Result.Clone()
		}
		r.result = &res
	case protocol.StateFailed:
		info := protocol.ErrorInfo{Code: protocol.CodeFailed}
		if st.Error != nil {
			info = *st.Error
		}
		r.errInfo = &info
		r.err = failureError(r.kind, r.id, info)
	default:
		return false
	}

	r.finishLocked()
	return true
}

// fail marks a request whose submission never reached an accepted state.
func (r *Request) fail(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	info := transport.Info(cause)
	r.state = protocol.StateFailed
	r.errInfo = &info
	r.err = newRequestError(r.kind, r.id, cause)
	r.finishLocked()
}

func (r *Request) finishLocked() {
	close(r.done)
	r.opts.metrics.RecordFinished(string(r.kind), string(r.state))
	r.opts.logger.Debug("request finished", append(logging.Request(string(r.kind), r.id),
		logging.Namespace(r.namespace.segments),
		zap.Stringer(logging.KeyState, r.state))...)
}

func (r *Request) terminal() (protocol.Result, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.Terminal() {
		return protocol.Result{}, false, nil
	}
	if r.result == nil {
		return protocol.Result{}, true, r.err
	}
	return r.result.Clone(), true, r.err
}

// bound applies the configured wait timeout when ctx has no deadline.
func (r *Request) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opts.wait.Timeout)
}

func ctxError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
	return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
}

// finish converts the outcome of a wait into the caller's view. Wait
// failures leave the request state untouched.
func (r *Request) finish(strategy string, start time.Time, waitErr error) (protocol.Result, error) {
	outcome := "completed"
	res, ok, err := r.terminal()
	switch {
	case ok && err != nil:
		outcome = "failed"
	case ok:
	default:
		if waitErr == nil {
			waitErr = fmt.Errorf("%w: wait ended before a terminal state", ErrProtocol)
		}
		err = newRequestError(r.kind, r.id, waitErr)
		outcome = errorCode(waitErr)
	}
	r.opts.metrics.RecordWait(string(r.kind), strategy, outcome, time.Since(start))
	return res, err
}

// Block waits for a terminal state by polling with capped backoff. It
// returns the stored outcome immediately once terminal, so repeated calls
// are idempotent.
func (r *Request) Block(ctx context.Context) (protocol.Result, error) {
	if res, ok, err := r.terminal(); ok {
		return res, err
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()

	start := time.Now()
	return r.finish(strategyPoll, start, r.poll(ctx, nil))
}

// poll queries the status until terminal; observe sees every observation.
func (r *Request) poll(ctx context.Context, observe func(protocol.Event)) error {
	interval := r.opts.wait.PollInterval
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctxError(ctx)
		case <-timer.C:
		}

		st, err := r.tr.RequestStatus(ctx, r.id)
		if err != nil {
			if ctx.Err() != nil {
				return ctxError(ctx)
			}
			return err
		}
		if observe != nil {
			observe(protocol.Event{Status: st})
		}
		if r.apply(st) {
			return nil
		}

		timer.Reset(interval)
		interval = r.opts.wait.next(interval)
	}
}

// ListenOption configures Listen.
type ListenOption func(*listenConfig)

type listenConfig struct {
	onEvent func(protocol.Event)
}

// OnEvent registers a callback invoked for every observed status,
// including exec progress reports.
func OnEvent(fn func(protocol.Event)) ListenOption {
	return func(c *listenConfig) { c.onEvent = fn }
}

var errStreamEnded = errors.New("stream ended before a terminal event")

// Listen waits for a terminal state on the push stream. If the stream
// fails or ends early it falls back to polling; ErrStreamInterrupted is
// returned only when both fail. A transport without push streams is
// polled directly.
func (r *Request) Listen(ctx context.Context, opts ...ListenOption) (protocol.Result, error) {
	if res, ok, err := r.terminal(); ok {
		return res, err
	}
	var cfg listenConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := r.bound(ctx)
	defer cancel()
	start := time.Now()

	streamErr := r.stream(ctx, cfg.onEvent)
	if streamErr == nil {
		return r.finish(strategyStream, start, nil)
	}
	if ctx.Err() != nil {
		return r.finish(strategyStream, start, ctxError(ctx))
	}

	if errors.Is(streamErr, ErrUnsupported) {
		r.opts.logger.Debug("status stream unavailable, polling",
			append(logging.Request(string(r.kind), r.id), zap.Error(streamErr))...)
	} else {
		r.opts.metrics.IncStreamFallbacks()
		r.opts.logger.Warn("status stream failed, falling back to polling",
			append(logging.Request(string(r.kind), r.id), zap.Error(streamErr))...)
	}

	pollErr := r.poll(ctx, cfg.onEvent)
	if pollErr == nil || ctx.Err() != nil {
		return r.finish(strategyStream, start, pollErr)
	}
	return r.finish(strategyStream, start,
		fmt.Errorf("%w: stream: %w; poll: %w", ErrStreamInterrupted, streamErr, pollErr))
}

// stream consumes the event stream until a terminal event.
func (r *Request) stream(ctx context.Context, observe func(protocol.Event)) error {
	es, err := r.tr.OpenEventStream(ctx, r.id)
	if err != nil {
		return err
	}
	defer es.Close()

	for {
		ev, err := es.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctxError(ctx)
			}
			if errors.Is(err, io.EOF) {
				return errStreamEnded
			}
			return err
		}
		if observe != nil {
			observe(ev)
		}
		if r.apply(ev.Status) {
			return nil
		}
	}
}

// Wait races polling against the push stream and returns on whichever
// observes a terminal state first; the other is cancelled.
func (r *Request) Wait(ctx context.Context) (protocol.Result, error) {
	if res, ok, err := r.terminal(); ok {
		return res, err
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()
	start := time.Now()

	raceCtx, stop := context.WithCancel(ctx)
	defer stop()

	results := make(chan error, 2)
	go func() { results <- r.poll(raceCtx, nil) }()
	go func() { results <- r.stream(raceCtx, nil) }()

	var errs []error
	for range 2 {
		select {
		case err := <-results:
			if err == nil {
				return r.finish(strategyRace, start, nil)
			}
			errs = append(errs, err)
		case <-r.done:
			return r.finish(strategyRace, start, nil)
		}
		if ctx.Err() != nil {
			return r.finish(strategyRace, start, ctxError(ctx))
		}
	}
	return r.finish(strategyRace, start,
		fmt.Errorf("%w: %w", ErrStreamInterrupted, errors.Join(errs...)))
}
