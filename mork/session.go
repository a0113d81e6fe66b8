package mork

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/morkclient/internal/infrastructure/config"
	"github.com/GriffinCanCode/morkclient/internal/infrastructure/logging"
	"github.com/GriffinCanCode/morkclient/internal/shared/id"
	"github.com/GriffinCanCode/morkclient/protocol"
	"github.com/GriffinCanCode/morkclient/transport"
)

// Session issues operations against one namespace. Requests from a single
// Session reach the transport in the order they were issued. The transport
// is shared and never closed by the session.
type Session struct {
	tr     transport.Transport
	path   Path
	opts   *options
	parent *Session

	issueMu  sync.Mutex
	mu       sync.RWMutex
	history  []*Request
	released atomic.Bool
}

// New creates a root session over tr without contacting the server.
func New(tr transport.Transport, opts ...Option) (*Session, error) {
	if tr == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidArgument)
	}
	o := newOptions(opts)
	path, err := NewPath(o.namespace...)
	if err != nil {
		return nil, err
	}
	return &Session{tr: tr, path: path, opts: o}, nil
}

// Connect creates a root session and checks that the server answers a
// status request for its namespace. Transports that can ping are pinged
// first, so an unreachable server leaves no request behind.
func Connect(ctx context.Context, tr transport.Transport, opts ...Option) (*Session, error) {
	s, err := New(tr, opts...)
	if err != nil {
		return nil, err
	}
	if p, ok := tr.(transport.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return nil, fmt.Errorf("mork: connect %s: %w", s.path, err)
		}
	}
	req, err := s.Status(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := req.Block(ctx); err != nil {
		return nil, fmt.Errorf("mork: connect %s: %w", s.path, err)
	}
	s.opts.logger.Info("connected", logging.Namespace(s.path.segments))
	return s, nil
}

// Dial builds an HTTP transport from cfg and returns a root session bound
// to the configured namespace. Options override the configured values.
func Dial(ctx context.Context, cfg *config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = append([]Option{
		WithWaitConfig(WaitConfigFrom(cfg)),
		WithNamespace(cfg.NamespaceSegments()...),
	}, opts...)

	o := newOptions(opts)
	hc := transport.HTTPConfigFrom(cfg)
	hc.Logger = o.logger
	hc.Metrics = o.metrics
	tr, err := transport.NewHTTP(hc)
	if err != nil {
		return nil, fmt.Errorf("mork: dial %s: %w", cfg.Server.URL, err)
	}

	if cfg.Server.Handshake {
		return Connect(ctx, tr, opts...)
	}
	return New(tr, opts...)
}

// Path returns the session's namespace path.
func (s *Session) Path() Path { return s.path }

// Released reports whether the owning scope of this session or of any
// ancestor has been released.
func (s *Session) Released() bool {
	for c := s; c != nil; c = c.parent {
		if c.released.Load() {
			return true
		}
	}
	return false
}

// WorkAt returns a child session whose path is this path plus name. No
// request is issued. The child is released along with this session.
func (s *Session) WorkAt(name string) (*Session, error) {
	if s.Released() {
		return nil, fmt.Errorf("%w: work at %q under %s", ErrSessionReleased, name, s.path)
	}
	path, err := s.path.Child(name)
	if err != nil {
		return nil, err
	}
	return &Session{tr: s.tr, path: path, opts: s.opts, parent: s}, nil
}

// AndClear wraps the session in a scope that clears its namespace on
// release.
func (s *Session) AndClear() *Scope {
	return &Scope{session: s, autoClear: true}
}

// Scope wraps the session in a scope that only marks it released.
func (s *Session) Scope() *Scope {
	return &Scope{session: s}
}

// History returns the session's requests in issuance order.
func (s *Session) History() []*Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Request(nil), s.history...)
}

// Pending returns the requests that have not reached a terminal state.
func (s *Session) Pending() []*Request {
	var pending []*Request
	for _, r := range s.History() {
		if !r.State().Terminal() {
			pending = append(pending, r)
		}
	}
	return pending
}

// Upload merges fact text into the namespace.
func (s *Session) Upload(ctx context.Context, facts string) (*Request, error) {
	if strings.TrimSpace(facts) == "" {
		return nil, fmt.Errorf("%w: upload without facts", ErrInvalidArgument)
	}
	return s.submit(ctx, protocol.KindUpload, protocol.Payload{Facts: facts})
}

// Download dumps the namespace. The returned request is terminal unless
// the call or the wait failed; the error is the request's outcome. A
// request abandoned by a cancelled or expired ctx is still returned and
// stays in History.
func (s *Session) Download(ctx context.Context) (*Request, error) {
	req, err := s.submit(ctx, protocol.KindDownload, protocol.Payload{})
	if err != nil {
		return req, err
	}
	_, err = req.Block(ctx)
	return req, err
}

// Transform rewrites every fact matching patterns[i] into templates[i].
func (s *Session) Transform(ctx context.Context, patterns, templates []string) (*Request, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("%w: transform needs at least one pattern", ErrInvalidArgument)
	}
	if len(patterns) != len(templates) {
		return nil, fmt.Errorf("%w: %d patterns but %d templates",
			ErrInvalidArgument, len(patterns), len(templates))
	}
	return s.submit(ctx, protocol.KindTransform, protocol.Payload{
		Patterns:  append([]string(nil), patterns...),
		Templates: append([]string(nil), templates...),
	})
}

// Exec starts the execution thread named thread. Use Listen with OnEvent
// to observe its steps.
func (s *Session) Exec(ctx context.Context, thread string) (*Request, error) {
	if strings.TrimSpace(thread) == "" {
		return nil, fmt.Errorf("%w: empty thread id", ErrInvalidArgument)
	}
	return s.submit(ctx, protocol.KindExec, protocol.Payload{Thread: thread})
}

// ImportFrom loads facts from uri into the namespace.
func (s *Session) ImportFrom(ctx context.Context, uri string) (*Request, error) {
	if err := validateURI(uri); err != nil {
		return nil, err
	}
	return s.submit(ctx, protocol.KindImport, protocol.Payload{URI: uri})
}

// ExportTo writes the namespace's facts to uri.
func (s *Session) ExportTo(ctx context.Context, uri string) (*Request, error) {
	if err := validateURI(uri); err != nil {
		return nil, err
	}
	return s.submit(ctx, protocol.KindExport, protocol.Payload{URI: uri})
}

func validateURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: uri %q: %w", ErrInvalidArgument, raw, err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("%w: uri %q has no scheme", ErrInvalidArgument, raw)
	}
	return nil
}

// Clear deletes every fact under this namespace. Parent and sibling
// namespaces are unaffected.
func (s *Session) Clear(ctx context.Context) (*Request, error) {
	return s.submit(ctx, protocol.KindClear, protocol.Payload{})
}

// Stop asks the server process to terminate. No later request on any
// session sharing the transport is expected to succeed.
func (s *Session) Stop(ctx context.Context) (*Request, error) {
	return s.submit(ctx, protocol.KindStop, protocol.Payload{})
}

// Status asks whether the server is ready to serve this namespace.
func (s *Session) Status(ctx context.Context) (*Request, error) {
	return s.submit(ctx, protocol.KindStatus, protocol.Payload{})
}

// Explore returns an explorer over this namespace. Nothing is requested
// until traversal starts.
func (s *Session) Explore() *Explorer {
	return &Explorer{session: s}
}

// explore fetches the children of the node identified by token.
func (s *Session) explore(ctx context.Context, token string) ([]protocol.ExploreEntry, error) {
	req, err := s.submit(ctx, protocol.KindExplore, protocol.Payload{Token: token})
	if err != nil {
		return nil, err
	}
	res, err := req.Block(ctx)
	if err != nil {
		return nil, err
	}
	return res.Entries, nil
}

func (s *Session) submit(ctx context.Context, kind protocol.Kind, payload protocol.Payload) (*Request, error) {
	s.issueMu.Lock()
	defer s.issueMu.Unlock()

	if s.Released() {
		return nil, fmt.Errorf("%w: %s on %s", ErrSessionReleased, kind, s.path)
	}

	rid := id.NewRequestID().String()
	submittedAt, err := id.Timestamp(rid)
	if err != nil {
		submittedAt = time.Now()
	}

	// The server may accept the operation even if the call fails on our
	// side, so the request is tracked before it is sent.
	req := newRequest(s, rid, kind, submittedAt)
	s.opts.metrics.RecordIssued(string(kind))
	s.record(req)

	ack, err := s.tr.Send(ctx, rid, kind, s.path.Segments(), payload)
	if err != nil {
		// an abandoned call leaves the request Pending and queryable
		if errors.Is(err, ErrCancelled) || errors.Is(err, ErrTimeout) {
			s.opts.logger.Warn("submission abandoned", append(logging.Request(string(kind), rid),
				logging.Namespace(s.path.segments), zap.Error(err))...)
			return req, newRequestError(kind, rid, err)
		}
		req.fail(err)
		s.opts.logger.Warn("submission failed", append(logging.Request(string(kind), rid),
			logging.Namespace(s.path.segments), zap.Error(err))...)
		return req, nil
	}

	req.apply(ack)
	s.opts.logger.Debug("issued", append(logging.Request(string(kind), rid),
		logging.Namespace(s.path.segments),
		zap.Stringer(logging.KeyState, ack.State))...)
	return req, nil
}

func (s *Session) record(r *Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, r)
}

func (s *Session) release() {
	s.released.Store(true)
}
