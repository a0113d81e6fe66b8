package transport

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/morkclient/protocol"
)

func (h *HTTP) websocketURL(requestID string) string {
	u := *h.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String() + "/v1/status_ws/" + url.PathEscape(requestID)
}

func (h *HTTP) openWebSocket(ctx context.Context, requestID string) (EventStream, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}

	header := http.Header{}
	header.Set("User-Agent", userAgent)
	header.Set(HeaderClientID, h.clientID.String())
	header.Set(HeaderRequestID, requestID)

	conn, resp, err := dialer.DialContext(ctx, h.websocketURL(requestID), header)
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextError("stream", ctx.Err())
		}
		if resp != nil {
			defer resp.Body.Close()
			var body errorBody
			if data, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024)); readErr == nil {
				_ = sonic.Unmarshal(data, &body)
			}
			return nil, statusError("stream", resp.StatusCode, body.Error)
		}
		return nil, &Error{Op: "stream", Class: protocol.ErrTransport, Err: err}
	}

	s := &wsStream{conn: conn}
	// a blocked ReadMessage only returns once the connection is closed
	s.stop = context.AfterFunc(ctx, func() { _ = s.closeConn() })
	return s, nil
}

// wsStream reads one Status JSON document per text message.
type wsStream struct {
	conn      *websocket.Conn
	stop      func() bool
	closeOnce sync.Once
	closeErr  error
}

func (s *wsStream) Next() (protocol.Event, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return protocol.Event{}, io.EOF
			}
			return protocol.Event{}, &Error{Op: "stream", Class: protocol.ErrTransport, Err: err}
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var ev protocol.Event
		if err := sonic.Unmarshal(data, &ev); err != nil {
			return protocol.Event{}, &Error{Op: "stream", Class: protocol.ErrProtocol, Err: err}
		}
		return ev, nil
	}
}

func (s *wsStream) Close() error {
	s.stop()
	return s.closeConn()
}

func (s *wsStream) closeConn() error {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
