// Package api serves the softphone over HTTP for UI clients: commands, state
// snapshots, and a websocket stream of line and roster changes.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sweeney/cloudconnect/internal/callstate"
)

// Line is the coordinator surface the API drives.
type Line interface {
	Register(reg callstate.Registration, extension, secret string)
	Dial(number string) error
	Answer()
	HangUp()
	Status() callstate.Status
	Roster() []callstate.ActiveCallEntry
	Registered() (callstate.Registration, string, bool)
	Subscribe(l callstate.StateListener) func()
	SubscribeRoster(l callstate.RosterListener) func()
}

// DialFailureCounter is told about every rejected dial.
type DialFailureCounter interface {
	DialFailed()
}

// Server holds the HTTP routes.
type Server struct {
	line    Line
	engine  *gin.Engine
	log     zerolog.Logger
	metrics http.Handler
	dials   DialFailureCounter
	stream  streamConfig
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics serves h on /metrics and counts rejected dials on c.
func WithMetrics(h http.Handler, c DialFailureCounter) Option {
	return func(s *Server) {
		s.metrics = h
		s.dials = c
	}
}

// WithStreamBuffer sets how many undelivered stream messages a websocket
// client may hold before new ones are dropped.
func WithStreamBuffer(n int) Option {
	return func(s *Server) { s.stream.buffer = n }
}

func New(line Line, opts ...Option) *Server {
	s := &Server{
		line: line,
		log:  zerolog.Nop(),
		stream: streamConfig{
			buffer:     32,
			writeWait:  10 * time.Second,
			pongWait:   60 * time.Second,
			pingPeriod: 54 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine = gin.New()
	s.engine.Use(requestLogger(s.log), gin.Recovery(), cors())
	s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	r := s.engine
	r.GET("/health", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	sp := r.Group("/api/softphone")
	sp.POST("/register", s.register)
	sp.POST("/dial", s.dial)
	sp.POST("/answer", s.answer)
	sp.POST("/hangup", s.hangup)
	sp.GET("/state", s.state)
	sp.GET("/stream", s.streamHandler)

	r.GET("/api/calls/active", s.activeCalls)
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
