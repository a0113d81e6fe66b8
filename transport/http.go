package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/morkclient/internal/infrastructure/config"
	"github.com/GriffinCanCode/morkclient/internal/infrastructure/logging"
	"github.com/GriffinCanCode/morkclient/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/morkclient/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/morkclient/internal/shared/id"
	"github.com/GriffinCanCode/morkclient/protocol"
)

// Headers sent with every call.
const (
	HeaderClientID  = "X-Mork-Client"
	HeaderRequestID = "X-Request-ID"
	userAgent       = "morkclient/1.0"
)

// StreamMode selects how OpenEventStream subscribes.
type StreamMode string

const (
	StreamSSE       StreamMode = "sse"
	StreamWebSocket StreamMode = "websocket"
	// StreamPoll disables push streams; OpenEventStream reports
	// ErrUnsupported and waiters poll instead.
	StreamPoll StreamMode = "poll"
)

// HTTPConfig configures an HTTP transport.
type HTTPConfig struct {
	BaseURL           string
	StreamMode        StreamMode
	Timeout           time.Duration
	RetryCount        int
	RetryWait         time.Duration
	RetryMaxWait      time.Duration
	RateLimitRPS      float64
	CompressThreshold int
	Breaker           resilience.Settings
	Logger            *zap.Logger
	Metrics           *monitoring.Metrics
}

// DefaultHTTPConfig returns production settings for baseURL.
func DefaultHTTPConfig(baseURL string) HTTPConfig {
	return HTTPConfig{
		BaseURL:           baseURL,
		StreamMode:        StreamSSE,
		Timeout:           30 * time.Second,
		RetryCount:        3,
		RetryWait:         200 * time.Millisecond,
		RetryMaxWait:      5 * time.Second,
		CompressThreshold: 64 * 1024,
	}
}

// HTTPConfigFrom maps loaded configuration onto an HTTPConfig.
func HTTPConfigFrom(cfg *config.Config) HTTPConfig {
	return HTTPConfig{
		BaseURL:           cfg.Server.URL,
		StreamMode:        StreamMode(strings.ToLower(cfg.Transport.StreamMode)),
		Timeout:           cfg.Transport.Timeout,
		RetryCount:        cfg.Transport.RetryCount,
		RetryWait:         cfg.Transport.RetryWait,
		RetryMaxWait:      cfg.Transport.RetryMaxWait,
		RateLimitRPS:      cfg.Transport.RateLimitRPS,
		CompressThreshold: cfg.Transport.CompressThreshold,
	}
}

// HTTP is the REST implementation of Transport.
type HTTP struct {
	base     *url.URL
	clientID id.ClientID
	mode     StreamMode
	compress int
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	resty   *resty.Client
	stream  *retryablehttp.Client
	breaker *resilience.Breaker
	limiter *rate.Limiter
}

var _ Transport = (*HTTP)(nil)
var _ Pinger = (*HTTP)(nil)

// NewHTTP creates an HTTP transport.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	mode := cfg.StreamMode
	if mode == "" {
		mode = StreamSSE
	}
	if mode != StreamSSE && mode != StreamWebSocket && mode != StreamPoll {
		return nil, fmt.Errorf("unknown stream mode %q", mode)
	}

	logger := logging.OrNop(cfg.Logger).Named("transport")

	// Streams need a client without an overall timeout, and the pooled
	// transport underneath is shared with resty.
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryCount
	retryClient.RetryWaitMin = cfg.RetryWait
	retryClient.RetryWaitMax = cfg.RetryMaxWait
	retryClient.Logger = leveledLogger{logger.Sugar()}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	restyClient := resty.New()
	restyClient.
		SetBaseURL(base.String()).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetHeader("User-Agent", userAgent).
		AddRetryCondition(retryIdempotent)
	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	h := &HTTP{
		base:     base,
		clientID: id.NewClientID(),
		mode:     mode,
		compress: cfg.CompressThreshold,
		logger:   logger,
		metrics:  cfg.Metrics,
		resty:    restyClient,
		stream:   retryClient,
		limiter:  newLimiter(cfg.RateLimitRPS),
	}
	restyClient.SetHeader(HeaderClientID, h.clientID.String())

	settings := cfg.Breaker
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		}
	}
	if settings.Timeout == 0 {
		settings.Timeout = 10 * time.Second
	}
	settings.IsSuccessful = func(err error) bool {
		return !errors.Is(err, protocol.ErrTransport)
	}
	onChange := settings.OnStateChange
	settings.OnStateChange = func(name string, from, to resilience.State) {
		h.metrics.SetBreakerState(int(to))
		h.logger.Warn("circuit breaker state change",
			zap.String("breaker", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		if onChange != nil {
			onChange(name, from, to)
		}
	}
	h.breaker = resilience.New("mork-transport", settings)

	return h, nil
}

// ClientID returns the instance ID sent with every call.
func (h *HTTP) ClientID() id.ClientID {
	return h.clientID
}

// BreakerState returns the circuit breaker state.
func (h *HTTP) BreakerState() resilience.State {
	return h.breaker.State()
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// wait admits a call: an open breaker fails fast without spending a rate
// token.
func (h *HTTP) wait(ctx context.Context, op string) error {
	if err := h.breaker.Allow(); err != nil {
		return h.breakerError(op, err)
	}
	if err := h.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return contextError(op, ctx.Err())
		}
		return &Error{Op: op, Class: protocol.ErrTransport, Err: fmt.Errorf("rate limit: %w", err)}
	}
	return nil
}

// Send implements Transport.
func (h *HTTP) Send(ctx context.Context, rid string, kind protocol.Kind, namespace []string, payload protocol.Payload) (protocol.Status, error) {
	if rid == "" {
		rid = id.NewRequestID().String()
	}
	if namespace == nil {
		namespace = []string{}
	}

	body, gzipped, err := h.encode(protocol.Envelope{ID: rid, Namespace: namespace, Payload: payload})
	if err != nil {
		return protocol.Status{}, &Error{Op: "send", Class: protocol.ErrProtocol, Err: err}
	}

	var status protocol.Status
	err = h.call(ctx, "send", func(r *resty.Request) (*resty.Response, error) {
		r.SetHeader(HeaderRequestID, rid).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			SetResult(&status)
		if gzipped {
			r.SetHeader("Content-Encoding", "gzip")
		}
		return r.Post("/v1/ops/" + url.PathEscape(string(kind)))
	})
	if err != nil {
		return protocol.Status{}, err
	}

	if status.ID == "" {
		status.ID = rid
	}
	if status.Kind == "" {
		status.Kind = kind
	}
	if !status.State.Valid() {
		return protocol.Status{}, &Error{Op: "send", Class: protocol.ErrProtocol,
			Err: fmt.Errorf("ack carries invalid state %q", status.State)}
	}

	h.logger.Debug("sent", append(logging.Request(string(kind), status.ID),
		logging.Namespace(namespace),
		zap.Stringer(logging.KeyState, status.State))...)
	return status, nil
}

// RequestStatus implements Transport.
func (h *HTTP) RequestStatus(ctx context.Context, requestID string) (protocol.Status, error) {
	var status protocol.Status
	err := h.call(ctx, "status", func(r *resty.Request) (*resty.Response, error) {
		return r.SetHeader(HeaderRequestID, requestID).
			SetResult(&status).
			Get("/v1/status/" + url.PathEscape(requestID))
	})
	if err != nil {
		return protocol.Status{}, err
	}
	if status.ID == "" {
		status.ID = requestID
	}
	if !status.State.Valid() {
		return protocol.Status{}, &Error{Op: "status", Class: protocol.ErrProtocol,
			Err: fmt.Errorf("status carries invalid state %q", status.State)}
	}
	return status, nil
}

// Ping implements Pinger.
func (h *HTTP) Ping(ctx context.Context) error {
	return h.call(ctx, "ping", func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/v1/ping")
	})
}

// OpenEventStream implements Transport.
func (h *HTTP) OpenEventStream(ctx context.Context, requestID string) (EventStream, error) {
	if h.mode == StreamPoll {
		return nil, &Error{Op: "stream", Class: protocol.ErrUnsupported,
			Info: protocol.ErrorInfo{Code: protocol.CodeUnsupported, Message: "push streams disabled in poll mode"}}
	}
	if err := h.wait(ctx, "stream"); err != nil {
		return nil, err
	}

	timer := monitoring.NewTimer(h.metrics, "stream_open")
	stream, err := resilience.Execute(h.breaker, func() (EventStream, error) {
		if h.mode == StreamWebSocket {
			return h.openWebSocket(ctx, requestID)
		}
		return h.openSSE(ctx, requestID)
	})
	if err != nil {
		err = h.breakerError("stream", err)
		timer.Stop(statusLabel(err))
		return nil, err
	}
	timer.Stop("ok")
	return stream, nil
}

func (h *HTTP) call(ctx context.Context, op string, fn func(*resty.Request) (*resty.Response, error)) error {
	if err := h.wait(ctx, op); err != nil {
		return err
	}

	timer := monitoring.NewTimer(h.metrics, op)
	_, err := resilience.Execute(h.breaker, func() (*resty.Response, error) {
		resp, err := fn(h.resty.R().SetContext(ctx).SetError(&errorBody{}))
		if err != nil {
			if ctx.Err() != nil {
				return resp, contextError(op, ctx.Err())
			}
			return resp, &Error{Op: op, Class: protocol.ErrTransport, Err: err}
		}
		return resp, classify(op, resp)
	})
	err = h.breakerError(op, err)
	timer.Stop(statusLabel(err))
	return err
}

func (h *HTTP) breakerError(op string, err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return &Error{Op: op, Class: protocol.ErrTransport, Err: err}
	}
	return err
}

// errorBody is the JSON shape of a non-2xx response.
type errorBody struct {
	Error protocol.ErrorInfo `json:"error"`
}

func classify(op string, resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}

	var info protocol.ErrorInfo
	if body, ok := resp.Error().(*errorBody); ok && body != nil {
		info = body.Error
	}
	if info.Code == "" && len(resp.Body()) > 0 {
		var body errorBody
		if sonic.Unmarshal(resp.Body(), &body) == nil {
			info = body.Error
		}
	}
	return statusError(op, resp.StatusCode(), info)
}

func statusError(op string, code int, info protocol.ErrorInfo) error {
	class := protocol.ErrProtocol
	switch {
	case code == http.StatusNotImplemented || info.Code == protocol.CodeUnsupported:
		class = protocol.ErrUnsupported
	case code >= 500 || code == http.StatusTooManyRequests:
		class = protocol.ErrTransport
	}
	return &Error{Op: op, StatusCode: code, Info: info, Class: class}
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, protocol.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, protocol.ErrProtocol):
		return "protocol"
	case errors.Is(err, protocol.ErrTimeout):
		return "timeout"
	case errors.Is(err, protocol.ErrCancelled):
		return "cancelled"
	default:
		return "transport"
	}
}

// retryIdempotent retries reads on connection errors and server failures.
// Submissions are never retried by the client; a duplicate upload would be
// observable.
func retryIdempotent(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil {
		return false
	}
	if resp.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return resp.Request.Context().Err() == nil
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || (code >= 500 && code != http.StatusNotImplemented)
}

func (h *HTTP) endpoint(path string) string {
	return h.base.String() + path
}
