package mork

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/morkclient/internal/infrastructure/logging"
)

// Scope gives a session a lifetime. Release runs exactly once; afterwards
// every operation on the session, and on any child obtained from it through
// WorkAt, fails with ErrSessionReleased.
type Scope struct {
	session   *Session
	autoClear bool

	once sync.Once
	err  error
}

// Acquire returns the wrapped session.
func (sc *Scope) Acquire() *Session { return sc.session }

// AutoClear reports whether release clears the namespace.
func (sc *Scope) AutoClear() bool { return sc.autoClear }

// Release clears the namespace and waits for it when the scope auto-clears,
// then marks the session released. The session is released even when the
// clear fails; that failure is returned. Later calls return the first
// outcome.
func (sc *Scope) Release(ctx context.Context) error {
	sc.once.Do(func() {
		sc.err = sc.release(ctx)
	})
	return sc.err
}

func (sc *Scope) release(ctx context.Context) error {
	s := sc.session
	defer s.release()

	var err error
	if sc.autoClear {
		err = clearAndWait(ctx, s)
	}

	if pending := s.Pending(); len(pending) > 0 {
		ids := make([]string, len(pending))
		for i, r := range pending {
			ids[i] = r.ID()
		}
		s.opts.metrics.AddPendingLeaked(len(pending))
		s.opts.logger.Warn("session released with pending requests",
			logging.Namespace(s.path.segments),
			zap.Int("count", len(pending)),
			zap.Strings("request_ids", ids))
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.opts.logger.Warn("auto-clear failed", logging.Namespace(s.path.segments), zap.Error(err))
	}
	s.opts.metrics.RecordScopeRelease(sc.autoClear, outcome)
	s.opts.logger.Debug("scope released",
		logging.Namespace(s.path.segments),
		zap.Bool("auto_clear", sc.autoClear))
	return err
}

func clearAndWait(ctx context.Context, s *Session) error {
	req, err := s.Clear(ctx)
	if err != nil {
		return err
	}
	_, err = req.Block(ctx)
	return err
}

// With runs fn on the scope's session and releases the scope on every
// exit path. A panic in fn is re-raised after release. Release ignores
// cancellation of ctx so cleanup still happens; it stays bounded by the
// session's wait timeout.
func With(ctx context.Context, sc *Scope, fn func(*Session) error) (err error) {
	s := sc.Acquire()
	defer func() {
		p := recover()
		relErr := sc.Release(context.WithoutCancel(ctx))
		if p != nil {
			panic(p)
		}
		err = errors.Join(err, relErr)
	}()
	return fn(s)
}
