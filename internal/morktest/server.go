package morktest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/morkclient/internal/shared/id"
	"github.com/GriffinCanCode/morkclient/protocol"
)

// Op is one accepted submission as seen by the server.
type Op struct {
	ID        string
	Kind      protocol.Kind
	Namespace string
	ClientID  string
}

// Option configures a Server.
type Option func(*Server)

// WithDelay makes the worker sleep before applying each operation.
func WithDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server is an in-memory MORK server backed by httptest.
type Server struct {
	URL string

	http   *httptest.Server
	engine *gin.Engine
	store  *store
	logger *zap.Logger
	delay  time.Duration

	queue     chan *job
	done      chan struct{}
	closeOnce sync.Once

	mu            sync.Mutex
	records       map[string]*record
	ops           []Op
	gate          chan struct{}
	stopped       bool
	streamCut     int
	statusFailure bool
	streamsOff    bool
	compressed    int
	lastClientID  string
}

// New starts a server and registers its shutdown with tb.Cleanup.
func New(tb testing.TB, opts ...Option) *Server {
	tb.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		store:   newStore(),
		logger:  zap.NewNop(),
		queue:   make(chan *job, 256),
		done:    make(chan struct{}),
		records: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), accessLog(s.logger), s.decompress())
	s.routes()

	s.http = httptest.NewServer(s.engine)
	s.URL = s.http.URL
	go s.work()

	tb.Cleanup(s.Close)
	return s
}

func (s *Server) routes() {
	v1 := s.engine.Group("/v1")
	v1.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	v1.POST("/ops/:kind", s.handleOp)
	v1.GET("/status/:id", s.handleStatus)
	v1.GET("/status_stream/:id", s.handleSSE)
	v1.GET("/status_ws/:id", s.handleWebSocket)
}

// Close stops the worker and the HTTP server. Safe to call twice.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.http.Close()
	})
}

// Facts returns the facts stored under the namespace in insertion order.
func (s *Server) Facts(namespace ...string) []string {
	exprs := s.store.facts(nsKey(namespace))
	out := make([]string, len(exprs))
	for i, e := range exprs {
		out[i] = e.String()
	}
	return out
}

// Load stores facts directly, bypassing the request pipeline.
func (s *Server) Load(facts string, namespace ...string) error {
	exprs, err := parseAll(facts)
	if err != nil {
		return err
	}
	s.store.add(nsKey(namespace), exprs)
	return nil
}

// Pause holds the worker before its next operation until Resume.
func (s *Server) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate == nil {
		s.gate = make(chan struct{})
	}
}

// Resume releases a paused worker.
func (s *Server) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

// SetStreamCut closes every status stream after n events; 0 disables.
func (s *Server) SetStreamCut(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamCut = n
}

// SetStatusFailure makes status polls answer 500.
func (s *Server) SetStatusFailure(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusFailure = fail
}

// SetStreamsDisabled makes stream endpoints answer 503.
func (s *Server) SetStreamsDisabled(off bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamsOff = off
}

// Ops returns every accepted submission in arrival order.
func (s *Server) Ops() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Op(nil), s.ops...)
}

// Compressed counts gzip-encoded request bodies.
func (s *Server) Compressed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compressed
}

// LastClientID returns the most recent X-Mork-Client header value.
func (s *Server) LastClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastClientID
}

// Stopped reports whether a stop request has completed.
func (s *Server) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Status returns the current server-side view of a request.
func (s *Server) Status(requestID string) (protocol.Status, bool) {
	rec := s.lookup(requestID)
	if rec == nil {
		return protocol.Status{}, false
	}
	return rec.snapshot().Status, true
}

func (s *Server) lookup(requestID string) *record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[requestID]
}

func (s *Server) decompress() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.EqualFold(c.GetHeader("Content-Encoding"), "gzip") {
			c.Next()
			return
		}
		zr, err := gzip.NewReader(c.Request.Body)
		if err != nil {
			abort(c, http.StatusBadRequest, protocol.CodeProtocol, "invalid gzip body")
			return
		}
		defer zr.Close()

		s.mu.Lock()
		s.compressed++
		s.mu.Unlock()

		c.Request.Body = io.NopCloser(zr)
		c.Request.Header.Del("Content-Encoding")
		c.Next()
	}
}

func (s *Server) handleOp(c *gin.Context) {
	kind, err := protocol.ParseKind(c.Param("kind"))
	if err != nil {
		abort(c, http.StatusNotFound, protocol.CodeProtocol, err.Error())
		return
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abort(c, http.StatusBadRequest, protocol.CodeProtocol, "read body: "+err.Error())
		return
	}
	var env protocol.Envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		abort(c, http.StatusBadRequest, protocol.CodeProtocol, "decode envelope: "+err.Error())
		return
	}
	switch {
	case env.ID == "":
		env.ID = id.NewRequestID().String()
	case !id.IsRequestID(env.ID):
		abort(c, http.StatusBadRequest, protocol.CodeProtocol, "malformed request id "+env.ID)
		return
	}

	run, code, info := s.prepare(kind, env)
	if code != 0 {
		abort(c, code, info.Code, info.Message)
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		abort(c, http.StatusServiceUnavailable, protocol.CodeStopped, "server stopped")
		return
	}
	if _, dup := s.records[env.ID]; dup {
		s.mu.Unlock()
		abort(c, http.StatusConflict, protocol.CodeProtocol, "duplicate request id "+env.ID)
		return
	}
	rec := newRecord(env.ID, kind)
	s.records[env.ID] = rec
	s.lastClientID = c.GetHeader("X-Mork-Client")
	s.ops = append(s.ops, Op{
		ID:        env.ID,
		Kind:      kind,
		Namespace: nsKey(env.Namespace),
		ClientID:  s.lastClientID,
	})
	s.mu.Unlock()

	s.logger.Debug("accepted",
		zap.String("kind", string(kind)),
		zap.String("request_id", env.ID),
		zap.Strings("namespace", env.Namespace))

	j := &job{rec: rec, kind: kind, run: run, finished: make(chan struct{})}
	select {
	case s.queue <- j:
	case <-s.done:
		abort(c, http.StatusServiceUnavailable, protocol.CodeTransport, "server closing")
		return
	}

	// Reads answer inline once the worker reaches them.
	if inline(kind) {
		select {
		case <-j.finished:
			c.JSON(http.StatusOK, rec.snapshot().Status)
			return
		case <-c.Request.Context().Done():
			return
		case <-s.done:
			abort(c, http.StatusServiceUnavailable, protocol.CodeTransport, "server closing")
			return
		}
	}
	c.JSON(http.StatusAccepted, rec.snapshot().Status)
}

func inline(kind protocol.Kind) bool {
	switch kind {
	case protocol.KindDownload, protocol.KindStatus, protocol.KindExplore:
		return true
	}
	return false
}

func (s *Server) handleStatus(c *gin.Context) {
	s.mu.Lock()
	failing := s.statusFailure
	s.mu.Unlock()
	if failing {
		abort(c, http.StatusInternalServerError, protocol.CodeTransport, "status unavailable")
		return
	}

	rec := s.lookup(c.Param("id"))
	if rec == nil {
		abort(c, http.StatusNotFound, protocol.CodeNotFound, "unknown request "+c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, rec.snapshot().Status)
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": protocol.ErrorInfo{Code: code, Message: message}})
}
