package morktest

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/morkclient/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamTarget resolves the record for a stream request, answering the
// error itself when there is none.
func (s *Server) streamTarget(c *gin.Context) (*record, int, bool) {
	s.mu.Lock()
	off, cut := s.streamsOff, s.streamCut
	s.mu.Unlock()

	if off {
		abort(c, http.StatusServiceUnavailable, protocol.CodeTransport, "streams disabled")
		return nil, 0, false
	}
	rec := s.lookup(c.Param("id"))
	if rec == nil {
		abort(c, http.StatusNotFound, protocol.CodeNotFound, "unknown request "+c.Param("id"))
		return nil, 0, false
	}
	return rec, cut, true
}

func (s *Server) handleSSE(c *gin.Context) {
	rec, cut, ok := s.streamTarget(c)
	if !ok {
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	var (
		last uint64
		sent int
	)
	c.Stream(func(w io.Writer) bool {
		if cut > 0 && sent >= cut {
			return false
		}
		ev, ok := rec.next(c.Request.Context(), s.done, last)
		if !ok {
			return false
		}
		last = ev.Seq
		sent++
		c.SSEvent("status", ev)
		return !ev.Terminal()
	})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	rec, cut, ok := s.streamTarget(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// The client never sends data; reading surfaces its close frame.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var (
		last uint64
		sent int
	)
	for {
		if cut > 0 && sent >= cut {
			// drop without a close frame
			return
		}
		ev, ok := rec.next(ctx, s.done, last)
		if !ok {
			return
		}
		last = ev.Seq
		sent++
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
		if ev.Terminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
