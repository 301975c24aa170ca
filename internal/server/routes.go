package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/signalbox/internal/event"
	"github.com/zulandar/signalbox/internal/signature"
)

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	s.router.GET("/webhook/messenger", s.handleMessengerVerify)
	s.router.POST("/webhook/messenger", s.handleMessenger)
	s.router.POST("/webhook/zalo", s.handleZalo)
}

// handleMessengerVerify answers Meta's subscription handshake.
func (s *Server) handleMessengerVerify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && s.messenger.VerifyToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(s.messenger.VerifyToken)) == 1 {
		s.log.Info("messenger webhook verified")
		c.String(http.StatusOK, challenge)
		return
	}
	s.log.Warn("messenger webhook verification failed", "mode", mode)
	c.String(http.StatusForbidden, "forbidden")
}

func (s *Server) handleMessenger(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	err := signature.VerifyMessenger(body, c.GetHeader(signature.MessengerHeader), s.messenger.AppSecret)
	if !s.checkSignature(c, "messenger", err) {
		return
	}
	events, err := event.ParseMessenger(body)
	s.process(c, "messenger", events, err)
}

func (s *Server) handleZalo(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	err := signature.VerifyZalo(signature.ZaloInput{
		Body:      body,
		Signature: c.GetHeader(signature.ZaloHeader),
		Headers:   c.Request.Header,
		AppID:     s.zalo.AppID,
		SecretKey: s.zalo.SecretKey,
	})
	if !s.checkSignature(c, "zalo", err) {
		return
	}
	events, err := event.ParseZalo(body)
	s.process(c, "zalo", events, err)
}

func (s *Server) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"ok": false, "error": "payload_too_large"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "unreadable_body"})
		return nil, false
	}
	return body, true
}

// checkSignature rejects the request before anything is persisted when the
// signature does not verify.
func (s *Server) checkSignature(c *gin.Context, platform string, err error) bool {
	if err == nil {
		return true
	}
	s.log.Warn("webhook signature rejected", "request_id", requestID(c), "platform", platform, "error", err)
	c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "invalid_signature"})
	return false
}

// process runs authenticated events through the pipeline. From here on the
// response is always 200 so the platform does not retry. The platform
// hanging up does not cancel processing; the chatbot and send timeouts are
// the only bounds.
func (s *Server) process(c *gin.Context, platform string, events []event.Event, parseErr error) {
	if parseErr != nil {
		s.log.Warn("webhook payload rejected", "request_id", requestID(c), "platform", platform, "error", parseErr)
		c.JSON(http.StatusOK, gin.H{"ok": true, "skipped": "invalid_payload"})
		return
	}
	resp := s.handler.Handle(context.WithoutCancel(c.Request.Context()), requestID(c), events)
	c.JSON(http.StatusOK, resp.Body())
}
