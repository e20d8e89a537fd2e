package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fleetyard/waybot/internal/models"
	"github.com/fleetyard/waybot/internal/transport"
)

// secondsToDuration converts a fractional seconds value to a Duration.
func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// registerRoutes sets up all API routes on the Gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)
	router.POST("/webhook", s.handleWebhook)

	router.GET("/whatsapp/contacts", s.handleContacts)
	router.GET("/whatsapp/sessions/:phone", s.handleSessions)
	router.GET("/whatsapp/chat_history/:phone", s.handleChatHistory)
	router.POST("/whatsapp/sessions/:phone/end", s.handleEndSession)

	router.GET("/config/:phone", s.handleGetConfig)
	router.PUT("/config/:phone", s.handlePutConfig)

	router.POST("/send-message", s.handleSendMessage)
	router.POST("/send-messages", s.handleSendMessages)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// webhookEvent is the envelope the bridge POSTs for every event.
type webhookEvent struct {
	Event string                   `json:"event"`
	Data  transport.InboundMessage `json:"data"`
}

// handleWebhook accepts a bridge event and processes message events in the
// background so the bridge never waits on the pipeline.
func (s *Server) handleWebhook(c *gin.Context) {
	var event webhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if event.Event != "" && event.Event != "onMessage" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	go func(msg transport.InboundMessage) {
		// Pipeline failures must never bounce back to the bridge.
		if err := s.inbound.HandleInbound(context.Background(), msg); err != nil {
			log.Printf("api: handle inbound from %s: %v", msg.From, err)
		}
	}(event.Data)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) handleContacts(c *gin.Context) {
	phones, err := s.store.Phones()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, len(phones))
	for i, p := range phones {
		out[i] = gin.H{"phone_number": p}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleSessions(c *gin.Context) {
	sessions, err := s.store.SessionsByPhone(c.Param("phone"), 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Most recent first.
	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[len(sessions)-1-i] = sess.ID
	}
	c.JSON(http.StatusOK, ids)
}

// handleChatHistory returns the full history for a phone across its most
// recent sessions, each prefixed with a session marker row.
func (s *Server) handleChatHistory(c *gin.Context) {
	sessions, err := s.store.SessionsByPhone(c.Param("phone"), historySessions)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	history := []gin.H{}
	for _, sess := range sessions {
		history = append(history, gin.H{"role": "session", "content": sess.ID})
		msgs, err := s.store.MessagesForSession(sess.ID, 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		// Oldest first within the session.
		for i := len(msgs) - 1; i >= 0; i-- {
			m := msgs[i]
			role := "user"
			if m.Sender == models.SenderBot {
				role = "assistant"
			}
			history = append(history, gin.H{
				"role":      role,
				"content":   m.Body,
				"timestamp": m.Timestamp,
			})
		}
	}
	c.JSON(http.StatusOK, history)
}

func (s *Server) handleEndSession(c *gin.Context) {
	phone := c.Param("phone")
	if err := s.sessions.End(c.Request.Context(), phone, models.StatusEndedManual); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended", "phone": phone})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	phone := c.Param("phone")
	disabled, err := s.store.AgentDisabled(phone)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"phone": phone, "disable_agent": disabled})
}

func (s *Server) handlePutConfig(c *gin.Context) {
	var body struct {
		DisableAgent bool `json:"disable_agent"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	phone := c.Param("phone")
	if err := s.store.SetAgentDisabled(phone, body.DisableAgent); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"phone": phone, "disable_agent": body.DisableAgent})
}

// messageRequest is one direct or bulk send.
type messageRequest struct {
	To      string `json:"to" binding:"required"`
	Message string `json:"message" binding:"required"`
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.sender.Text(c.Request.Context(), req.To, req.Message); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "to": req.To, "message": req.Message})
}

func (s *Server) handleSendMessages(c *gin.Context) {
	var req struct {
		Messages     []messageRequest `json:"messages" binding:"required"`
		DelaySeconds float64          `json:"delay_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	delay := secondsToDuration(req.DelaySeconds)
	for _, m := range req.Messages {
		select {
		case s.queue <- queuedMessage{to: m.To, body: m.Message, delay: delay}:
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "send queue is full"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "queued", "count": len(req.Messages)})
}
