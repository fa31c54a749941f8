package server

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/canview/internal/auth"
	"github.com/danmuck/canview/internal/canbus"
	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

var cborMode = mustCBORMode()

func mustCBORMode() cbor.EncMode {
	mode, err := cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}

type messageView struct {
	ID       uint32   `json:"id"`
	Hex      string   `json:"hex"`
	Name     string   `json:"name"`
	Length   int      `json:"length"`
	Signals  []string `json:"signals"`
	Selected bool     `json:"selected"`
}

type selectionRequest struct {
	IDs []string `json:"ids"`
	All bool     `json:"all"`
}

type connectRequest struct {
	Channel string `json:"channel"`
	Bitrate int    `json:"bitrate"`
}

type sendRequest struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

func (s *Server) registerRoutes() {
	r := s.router

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.started).String(),
			"component": "canview",
			"session":   s.session.State().String(),
			"version":   version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/messages", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"messages": s.messages(c.Query("q"))})
	})

	r.GET("/selection", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ids": s.session.Selection().IDs()})
	})

	r.PUT("/selection/:id", s.authorize, func(c *gin.Context) {
		id, err := canbus.ParseID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		added := s.session.Selection().Add(id)
		c.JSON(http.StatusOK, gin.H{"id": id, "changed": added})
	})

	r.DELETE("/selection/:id", s.authorize, func(c *gin.Context) {
		id, err := canbus.ParseID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		removed := s.session.Selection().Remove(id)
		c.JSON(http.StatusOK, gin.H{"id": id, "changed": removed})
	})

	r.PUT("/selection", s.authorize, func(c *gin.Context) {
		var req selectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ids, err := s.selectionIDs(req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.session.Selection().Set(ids...)
		c.JSON(http.StatusOK, gin.H{"ids": s.session.Selection().IDs()})
	})

	r.GET("/snapshot", func(c *gin.Context) {
		snap := s.session.Builder().Build()
		switch strings.ToLower(c.DefaultQuery("format", "json")) {
		case "json":
			c.JSON(http.StatusOK, snap)
		case "cbor":
			data, err := cborMode.Marshal(snap)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.Data(http.StatusOK, "application/cbor", data)
		case "text":
			c.String(http.StatusOK, snap.Text())
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json, cbor or text"})
		}
	})

	r.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.session.Status())
	})

	r.GET("/diagnostics", func(c *gin.Context) {
		diag := s.session.Diagnostics()
		c.JSON(http.StatusOK, gin.H{
			"total":  diag.Total(),
			"recent": diag.Recent(),
			"stats":  s.session.Stats(),
		})
	})

	r.POST("/session/connect", s.authorize, func(c *gin.Context) {
		var req connectRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if req.Channel == "" {
			req.Channel = s.cfg.Channel
		}
		if req.Bitrate == 0 {
			req.Bitrate = s.cfg.Bitrate
		}
		s.control(c, "connect", func() error { return s.session.Connect(req.Channel, req.Bitrate) })
	})

	r.POST("/session/disconnect", s.authorize, func(c *gin.Context) {
		s.control(c, "disconnect", s.session.Disconnect)
	})

	r.POST("/session/start", s.authorize, func(c *gin.Context) {
		s.control(c, "start", s.session.StartReceiving)
	})

	r.POST("/session/stop", s.authorize, func(c *gin.Context) {
		s.control(c, "stop", s.session.StopReceiving)
	})

	r.POST("/send", s.authorize, func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := canbus.ParseID(req.ID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		payload, err := hex.DecodeString(strings.ReplaceAll(req.Data, " ", ""))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("data: %v", err)})
			return
		}
		if err := s.session.Send(id, payload); err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				status = http.StatusBadGateway
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "sent", "id": id, "length": len(payload)})
	})

	r.GET("/ws", func(c *gin.Context) {
		s.hub.ServeHTTP(c.Writer, c.Request)
	})
}

// authorize rejects requests without a valid bearer token when a validator
// is configured.
func (s *Server) authorize(c *gin.Context) {
	if s.cfg.Validator == nil {
		c.Next()
		return
	}
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	if err := s.cfg.Validator.Validate(token); err != nil {
		log.Warn().Str("path", c.FullPath()).Msg("control request rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

// control runs one session operation and reports the resulting status.
func (s *Server) control(c *gin.Context, op string, fn func() error) {
	if err := fn(); err != nil {
		log.Warn().Str("op", op).Err(err).Msg("session control rejected")
		c.JSON(statusFor(err), gin.H{
			"error": err.Error(),
			"state": s.session.State().String(),
		})
		return
	}
	c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) messages(query string) []messageView {
	if s.catalog == nil {
		return []messageView{}
	}
	var descs []canbus.Descriptor
	if strings.TrimSpace(query) == "" {
		descs = s.catalog.Messages()
	} else {
		descs = s.catalog.Search(query)
	}
	sel := s.session.Selection()
	out := make([]messageView, 0, len(descs))
	for _, d := range descs {
		out = append(out, messageView{
			ID:       d.ID,
			Hex:      fmt.Sprintf("0x%X", d.ID),
			Name:     d.Name,
			Length:   d.Length,
			Signals:  d.Signals,
			Selected: sel.Contains(d.ID),
		})
	}
	return out
}

func (s *Server) selectionIDs(req selectionRequest) ([]uint32, error) {
	if req.All {
		if s.catalog == nil {
			return nil, fmt.Errorf("no signal database loaded")
		}
		descs := s.catalog.Messages()
		ids := make([]uint32, 0, len(descs))
		for _, d := range descs {
			ids = append(ids, d.ID)
		}
		return ids, nil
	}
	ids := make([]uint32, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := canbus.ParseID(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
