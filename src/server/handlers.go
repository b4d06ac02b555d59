package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"graphdoctor/src/compose"
	"graphdoctor/src/contracts"
	"graphdoctor/src/dispatch"
	"graphdoctor/src/history"
	"graphdoctor/src/service"
)

const defaultHistoryLimit = 20

func (s *Server) handleHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"entries": s.svc.RecentFailures(c.Request.Context(), limit)})
}

func (s *Server) handleHealth(c *gin.Context) {
	health := s.svc.CurrentHealth()
	code := http.StatusOK
	if health.PipelineStatus == contracts.PipelineDegraded {
		code = http.StatusMultiStatus
	}
	c.JSON(code, health)
}

type analyzeRequest struct {
	Text     string `json:"text" binding:"required"`
	Escalate bool   `json:"escalate"`
	NoWait   bool   `json:"no_wait"`
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.svc.Analyze(c.Request.Context(), req.Text, service.AnalyzeOptions{
		Escalate: req.Escalate,
		NoWait:   req.NoWait,
	})
	if err != nil {
		s.log.Error("analyze: %v", err)
		c.JSON(dispatchStatus(err), gin.H{"error": err.Error(), "classification": result.Classification})
		return
	}
	c.JSON(http.StatusOK, result)
}

type chatMessage struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages" binding:"required,min=1,dive"`
}

// handleChat streams the model reply as SSE chunks. Every stream ends with
// either {"done":true} or an error chunk; clients never see a bare
// disconnect for an in-band failure.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	writeChunk := func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		c.Writer.Write([]byte("data: "))
		c.Writer.Write(data)
		c.Writer.Write([]byte("\n\n"))
		flusher.Flush()
	}

	msgs := make([]compose.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, compose.Message{Role: m.Role, Content: m.Content})
	}

	err := s.svc.Chat(c.Request.Context(), msgs, func(delta string) error {
		writeChunk(gin.H{"delta": delta})
		return nil
	})
	if err != nil {
		s.log.Error("chat stream: %v", err)
		writeChunk(gin.H{"error": err.Error()})
		return
	}
	writeChunk(gin.H{"done": true})
}

type statusRequest struct {
	Timestamp time.Time `json:"timestamp" binding:"required"`
	Status    string    `json:"status" binding:"required"`
}

func (s *Server) handleHistoryStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.svc.UpdateStatus(c.Request.Context(), req.Timestamp, contracts.ResolutionStatus(req.Status))
	switch {
	case errors.Is(err, history.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, history.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"updated": true})
	}
}

// credentialsRequest carries a candidate endpoint to probe. An empty body
// probes the configured dispatcher instead.
type credentialsRequest struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	IsLocal bool   `json:"is_local"`
}

func bindCredentials(c *gin.Context, req *credentialsRequest) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(req)
}

func (s *Server) handleVerify(c *gin.Context) {
	var req credentialsRequest
	if err := bindCredentials(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	isLocal := req.IsLocal
	if req.BaseURL == "" {
		isLocal = s.svc.EndpointLocal()
	}
	err := s.svc.Verify(c.Request.Context(), req.BaseURL, req.APIKey, req.IsLocal)
	if err != nil {
		c.JSON(dispatchStatus(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "is_local": isLocal})
}

func (s *Server) handleModels(c *gin.Context) {
	var req credentialsRequest
	if err := bindCredentials(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ids, err := s.svc.Models(c.Request.Context(), req.BaseURL, req.APIKey, req.IsLocal)
	if err != nil {
		c.JSON(dispatchStatus(err), gin.H{"error": err.Error()})
		return
	}

	models := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		models = append(models, gin.H{"id": id, "name": id})
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// dispatchStatus maps dispatch-layer failures onto HTTP codes.
func dispatchStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrNoDispatcher):
		return http.StatusServiceUnavailable
	case errors.Is(err, dispatch.ErrSSRFBlocked):
		return http.StatusForbidden
	case errors.Is(err, dispatch.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, dispatch.ErrStreamTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
