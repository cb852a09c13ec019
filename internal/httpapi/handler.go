package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"toolmesh.dev/engine/internal/engine"
	"toolmesh.dev/engine/internal/llmgateway"
)

// QueryHandler owns the gin.Context loop for POST /v1/query, mirroring the
// teacher's handler layer: the router registers the route, the handler owns
// request parsing and the streaming loop.
type QueryHandler struct {
	orchestrator *engine.Orchestrator
}

func NewQueryHandler(orchestrator *engine.Orchestrator) *QueryHandler {
	return &QueryHandler{orchestrator: orchestrator}
}

type queryRequest struct {
	Query        string            `json:"query" binding:"required"`
	SystemPrompt string            `json:"system_prompt"`
	Temperature  float64           `json:"temperature"`
	History      []historyEntryDTO `json:"history"`
	SessionID    string            `json:"session_id"`
}

type historyEntryDTO struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (h *QueryHandler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	history := make([]llmgateway.Message, len(req.History))
	for i, h := range req.History {
		history[i] = llmgateway.Message{Role: h.Role, Content: h.Content}
	}

	events, err := h.orchestrator.Run(c.Request.Context(), engine.RunRequest{
		Query:        req.Query,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		History:      history,
		SessionID:    req.SessionID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	setSSEHeaders(c.Writer)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	clientClosed := c.Request.Context().Done()
	for {
		select {
		case <-clientClosed:
			return
		case ev, open := <-events:
			if !open {
				sseWrite(c.Writer, "done", "")
				flusher.Flush()
				return
			}
			sseWrite(c.Writer, eventName(ev), ev)
			flusher.Flush()
		}
	}
}

func eventName(ev engine.Event) string {
	switch ev.Kind {
	case engine.EventMessage:
		return "message"
	case engine.EventAssessment:
		return "assessment"
	case engine.EventFinalAssessment:
		return "final_assessment"
	case engine.EventFinalChunk:
		return "final_chunk"
	case engine.EventError:
		return "error"
	case engine.EventFinalFailure:
		return "final_failure"
	default:
		return "message"
	}
}
