package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kuberoot/kuberoot/pkg/signals"
)

type abortRequest struct {
	TraceID string `json:"trace_id" binding:"required"`
}

// Abort trips the abort token for a trace and wakes every approval
// parked under it.
func (s *Server) Abort(c *gin.Context) {
	var req abortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trace_id is required"})
		return
	}

	already, found := s.aborts.Cancel(req.TraceID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active trace"})
		return
	}
	// Parked approvals must not outlive the trace they belong to.
	s.approvals.AbortTrace(req.TraceID)
	s.redirects.Clear(req.TraceID)

	c.JSON(http.StatusOK, gin.H{"trace_id": req.TraceID, "already_cancelled": already})
}

type toolApprovalRequest struct {
	TraceID  string           `json:"trace_id" binding:"required"`
	CallID   string           `json:"call_id" binding:"required"`
	Decision signals.Decision `json:"decision" binding:"required"`
	Message  string           `json:"message"`
}

// ToolApproval resolves one parked tool-approval. A redirect decision
// stores the new instruction before waking the agent, so the agent
// observes it on resumption.
func (s *Server) ToolApproval(c *gin.Context) {
	var req toolApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trace_id, call_id, and decision are required"})
		return
	}
	if req.Decision == signals.DecisionRedirect && req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "redirect requires a message"})
		return
	}

	if req.Decision == signals.DecisionRedirect {
		s.redirects.Set(req.TraceID, req.Message)
	}
	if err := s.approvals.Resolve(req.TraceID, req.CallID, req.Decision, req.Message); err != nil {
		if req.Decision == signals.DecisionRedirect {
			s.redirects.Clear(req.TraceID)
		}
		s.mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trace_id": req.TraceID,
		"call_id":  req.CallID,
		"decision": req.Decision,
	})
}
