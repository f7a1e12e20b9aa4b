package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/sweeney/cloudconnect/internal/callstate"
)

type streamConfig struct {
	buffer     int
	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

// Frames of the live stream.
type (
	stateMessage struct {
		Type  string        `json:"type"`
		State stateResponse `json:"state"`
	}
	rosterMessage struct {
		Type  string                      `json:"type"`
		Calls []callstate.ActiveCallEntry `json:"calls"`
	}
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  4096,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

func (s *Server) streamHandler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	send := make(chan []byte, s.stream.buffer)
	done := make(chan struct{})

	push := func(msg any) {
		data, err := json.Marshal(msg)
		if err != nil {
			s.log.Error().Err(err).Msg("encoding stream message")
			return
		}
		select {
		case send <- data:
		default:
			s.log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("stream client too slow, dropping message")
		}
	}

	// The snapshot is taken after subscribing so no transition falls in
	// between, and sent before any change the listener sees.
	var ordered sync.Mutex
	ordered.Lock()
	stopState := s.line.Subscribe(func(st callstate.CallState) {
		ordered.Lock()
		defer ordered.Unlock()
		snap := s.snapshot()
		snap.State = st
		push(stateMessage{Type: "state", State: snap})
	})
	push(stateMessage{Type: "state", State: s.snapshot()})
	ordered.Unlock()
	stopRoster := s.line.SubscribeRoster(func(entries []callstate.ActiveCallEntry) {
		if entries == nil {
			entries = []callstate.ActiveCallEntry{}
		}
		push(rosterMessage{Type: "roster", Calls: entries})
	})
	defer stopRoster()
	defer stopState()

	s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("stream client connected")

	go s.writePump(conn, send, done)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(s.stream.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.stream.pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("stream read")
			}
			break
		}
	}
	close(done)
	s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("stream client disconnected")
}

func (s *Server) writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(s.stream.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.stream.writeWait))
			return
		case data := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(s.stream.writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.stream.writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}
