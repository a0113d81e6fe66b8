package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/GriffinCanCode/morkclient/protocol"
)

// sseEventName is the event type carrying Status payloads.
const sseEventName = "status"

func (h *HTTP) openSSE(ctx context.Context, requestID string) (EventStream, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		h.endpoint("/v1/status_stream/"+url.PathEscape(requestID)), nil)
	if err != nil {
		return nil, &Error{Op: "stream", Class: protocol.ErrProtocol, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderClientID, h.clientID.String())
	req.Header.Set(HeaderRequestID, requestID)

	resp, err := h.stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextError("stream", ctx.Err())
		}
		return nil, &Error{Op: "stream", Class: protocol.ErrTransport, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		var body errorBody
		if data, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024)); readErr == nil {
			_ = sonic.Unmarshal(data, &body)
		}
		return nil, statusError("stream", resp.StatusCode, body.Error)
	}

	return newSSEStream(resp.Body), nil
}

// sseStream decodes a text/event-stream body incrementally.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newSSEStream(body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &sseStream{body: body, scanner: scanner}
}

// Next returns the next status event. Comments, unknown event types and
// id/retry fields are skipped.
func (s *sseStream) Next() (protocol.Event, error) {
	var (
		name string
		data strings.Builder
	)

	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			if data.Len() == 0 || (name != "" && name != sseEventName) {
				name = ""
				data.Reset()
				continue
			}
			var ev protocol.Event
			if err := sonic.UnmarshalString(data.String(), &ev); err != nil {
				return protocol.Event{}, &Error{Op: "stream", Class: protocol.ErrProtocol,
					Err: fmt.Errorf("decode event: %w", err)}
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}

	if err := s.scanner.Err(); err != nil {
		return protocol.Event{}, &Error{Op: "stream", Class: protocol.ErrTransport, Err: err}
	}
	return protocol.Event{}, io.EOF
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
