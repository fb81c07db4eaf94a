package sessions

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Desarso/finchat/chat"
	"github.com/Desarso/finchat/models"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterRoutes mounts the conversation endpoints under /api/v1 and the metrics endpoint.
// gatherer may be nil to use the default Prometheus registry.
func (s *HTTPSession) RegisterRoutes(router gin.IRouter, gatherer prometheus.Gatherer) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	r := router.Group("/api/v1")
	r.POST("/conversations", s.mount)
	r.DELETE("/conversations/:id", s.unmount)

	conv := r.Group("/conversations/:id", s.loadConversation)
	conv.GET("/messages", s.messages)
	conv.POST("/messages", s.sendMessage)
	conv.POST("/messages/:mid/retry", s.retryBubble)
	conv.POST("/retry", s.retry)
	conv.POST("/cancel", s.cancel)
	conv.POST("/reset-error", s.resetError)
	conv.POST("/clear", s.clear)
	conv.GET("/draft", s.loadDraft)
	conv.PUT("/draft", s.saveDraft)
	conv.DELETE("/draft", s.clearDraft)
	conv.GET("/ws", s.liveView)
}

const conversationKey = "conversation"

func (s *HTTPSession) loadConversation(c *gin.Context) {
	conv, ok := s.Registry.Get(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": ErrConversationNotFound.Error()})
		return
	}
	c.Set(conversationKey, conv)
	c.Next()
}

func conversationFrom(c *gin.Context) *Conversation {
	return c.MustGet(conversationKey).(*Conversation)
}

func (s *HTTPSession) mount(c *gin.Context) {
	var req models.Mount_Request
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv := s.Registry.Mount(req.ScreenKey)
	resp := conv.Snapshot("", s.Now())
	resp.Draft = conv.Drafts.Load(c.Request.Context())
	c.JSON(http.StatusCreated, resp)
}

func (s *HTTPSession) unmount(c *gin.Context) {
	if !s.Registry.Unmount(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrConversationNotFound.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPSession) messages(c *gin.Context) {
	c.JSON(http.StatusOK, conversationFrom(c).Snapshot("", s.Now()))
}

func (s *HTTPSession) sendMessage(c *gin.Context) {
	var req models.Send_Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv := conversationFrom(c)
	outcome := conv.Controller.SendMessage(turnContext(c), req.Text)
	s.respond(c, conv, outcome)
}

func (s *HTTPSession) retry(c *gin.Context) {
	conv := conversationFrom(c)
	s.respond(c, conv, conv.Controller.Retry(turnContext(c)))
}

func (s *HTTPSession) retryBubble(c *gin.Context) {
	conv := conversationFrom(c)
	s.respond(c, conv, conv.Controller.RetryBubble(turnContext(c), c.Param("mid")))
}

func (s *HTTPSession) cancel(c *gin.Context) {
	conv := conversationFrom(c)
	outcome := chat.OutcomeIgnored
	if conv.Controller.Cancel() {
		outcome = chat.OutcomeCancelled
	}
	s.respond(c, conv, outcome)
}

func (s *HTTPSession) resetError(c *gin.Context) {
	conv := conversationFrom(c)
	conv.Controller.ResetError()
	s.respond(c, conv, "")
}

func (s *HTTPSession) clear(c *gin.Context) {
	conv := conversationFrom(c)
	conv.Controller.ClearHistory()
	s.respond(c, conv, "")
}

func (s *HTTPSession) loadDraft(c *gin.Context) {
	conv := conversationFrom(c)
	c.JSON(http.StatusOK, models.DraftResponse{ConversationID: conv.ID, Text: conv.Drafts.Load(c.Request.Context())})
}

func (s *HTTPSession) saveDraft(c *gin.Context) {
	var req models.Draft_Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv := conversationFrom(c)
	conv.Drafts.Save(c.Request.Context(), req.Text)
	// Typing a new message silently leaves the error state.
	if req.Text != "" {
		conv.Controller.ResetError()
	}
	c.JSON(http.StatusOK, models.DraftResponse{ConversationID: conv.ID, Text: conv.Drafts.Load(c.Request.Context())})
}

func (s *HTTPSession) clearDraft(c *gin.Context) {
	conv := conversationFrom(c)
	conv.Drafts.Clear(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (s *HTTPSession) liveView(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session := NewWebSocketSession(conversationFrom(c), conn)
	session.Now = s.Now
	if err := session.Run(c.Request.Context()); err != nil {
		session.Logger.Printf("WebSocket session ended: %v", err)
	}
}

func (s *HTTPSession) respond(c *gin.Context, conv *Conversation, outcome chat.Outcome) {
	status := http.StatusOK
	if outcome == chat.OutcomeBusy {
		status = http.StatusConflict
	}
	c.JSON(status, conv.Snapshot(outcome, s.Now()))
}

// turnContext keeps a turn alive when the HTTP caller disconnects; turns end through
// the cancel endpoint or the controller timeout.
func turnContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}
