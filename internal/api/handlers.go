package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/cloudconnect/internal/callstate"
)

type registerRequest struct {
	Server    string `json:"server" binding:"required"`
	Port      string `json:"port"`
	Protocol  string `json:"protocol"`
	Domain    string `json:"domain"`
	Extension string `json:"extension" binding:"required"`
	Secret    string `json:"secret"`
}

type dialRequest struct {
	Number string `json:"number"`
}

type stateResponse struct {
	callstate.Status
	Extension string `json:"extension,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	_, _, registered := s.line.Registered()
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"service":    "cloudconnect-softphone",
		"registered": registered,
	})
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	protocol := strings.ToUpper(req.Protocol)
	switch protocol {
	case "":
		protocol = "WSS"
	case "WSS", "UDP", "TCP", "TLS":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "protocol must be one of WSS, UDP, TCP, TLS"})
		return
	}

	s.line.Register(callstate.Registration{
		Server:   req.Server,
		Port:     req.Port,
		Protocol: protocol,
		Domain:   req.Domain,
	}, req.Extension, req.Secret)
	s.log.Info().Str("extension", req.Extension).Str("server", req.Server).Msg("line registered over api")

	s.state(c)
}

func (s *Server) dial(c *gin.Context) {
	var req dialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.line.Dial(req.Number); err != nil {
		if s.dials != nil {
			s.dials.DialFailed()
		}
		var cfgErr *callstate.ConfigurationError
		switch {
		case errors.As(err, &cfgErr):
			c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
		case errors.Is(err, callstate.ErrInvalidNumber):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, callstate.ErrClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, s.snapshot())
}

func (s *Server) answer(c *gin.Context) {
	s.line.Answer()
	c.JSON(http.StatusOK, s.snapshot())
}

func (s *Server) hangup(c *gin.Context) {
	s.line.HangUp()
	c.JSON(http.StatusOK, s.snapshot())
}

func (s *Server) state(c *gin.Context) {
	c.JSON(http.StatusOK, s.snapshot())
}

func (s *Server) activeCalls(c *gin.Context) {
	calls := s.line.Roster()
	if calls == nil {
		calls = []callstate.ActiveCallEntry{}
	}
	c.JSON(http.StatusOK, calls)
}

func (s *Server) snapshot() stateResponse {
	resp := stateResponse{Status: s.line.Status()}
	if _, ext, ok := s.line.Registered(); ok {
		resp.Extension = ext
	}
	return resp
}
