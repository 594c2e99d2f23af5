package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"notifyd/internal/notify"
)

// writeError maps the domain error taxonomy onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, notify.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, notify.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, notify.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// ---- notifications ----

type sendRequest struct {
	TemplateID string            `json:"templateId" binding:"required"`
	Recipients []string          `json:"recipients" binding:"required"`
	Variables  map[string]string `json:"variables"`
	Priority   notify.Priority   `json:"priority"`
}

func (s *Server) sendNotification(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	if req.Priority != "" && !notify.ValidPriority(req.Priority) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown priority " + string(req.Priority)})
		return
	}
	logs, err := s.engine.SendNotification(c.Request.Context(), req.TemplateID, req.Recipients, req.Variables, req.Priority)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) listNotifications(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	logs, err := s.engine.GetLogs(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) getNotification(c *gin.Context) {
	l, err := s.engine.GetLog(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

type ackRequest struct {
	AcknowledgedBy string `json:"acknowledgedBy" binding:"required"`
}

func (s *Server) ackNotification(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "acknowledgedBy is required"})
		return
	}
	l, err := s.engine.Acknowledge(c.Request.Context(), c.Param("id"), req.AcknowledgedBy)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) confirmDelivery(c *gin.Context) {
	l, err := s.engine.ConfirmDelivery(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) getDashboard(c *gin.Context) {
	d, err := s.engine.GetDashboard(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) ingestEvent(c *gin.Context) {
	var ev notify.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	if ev.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event type is required"})
		return
	}
	logs, err := s.engine.HandleEvent(c.Request.Context(), ev)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matched": len(logs) > 0, "logs": logs})
}

// ---- channels ----

func (s *Server) listChannels(c *gin.Context) {
	chans, err := s.engine.Channels.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": chans})
}

func (s *Server) getChannel(c *gin.Context) {
	ch, err := s.engine.Channels.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (s *Server) createChannel(c *gin.Context) {
	var ch notify.Channel
	if err := c.ShouldBindJSON(&ch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	created, err := s.engine.Channels.Create(c.Request.Context(), &ch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) updateChannel(c *gin.Context) {
	var ch notify.Channel
	if err := c.ShouldBindJSON(&ch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	ch.ID = c.Param("id")
	updated, err := s.engine.Channels.Update(c.Request.Context(), &ch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) setChannelEnabled(c *gin.Context) {
	var req enabledRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}
	ch, err := s.engine.Channels.SetEnabled(c.Request.Context(), c.Param("id"), *req.Enabled)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// ---- templates ----

func (s *Server) listTemplates(c *gin.Context) {
	tpls, err := s.engine.Templates.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": tpls})
}

func (s *Server) getTemplate(c *gin.Context) {
	t, err := s.engine.Templates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) createTemplate(c *gin.Context) {
	var t notify.Template
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	created, err := s.engine.Templates.Create(c.Request.Context(), &t)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) updateTemplate(c *gin.Context) {
	var t notify.Template
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	t.ID = c.Param("id")
	updated, err := s.engine.Templates.Update(c.Request.Context(), &t)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteTemplate(c *gin.Context) {
	if err := s.engine.Templates.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---- rules ----

func (s *Server) listRules(c *gin.Context) {
	rules, err := s.engine.Rules.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (s *Server) getRule(c *gin.Context) {
	r, err := s.engine.Rules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) createRule(c *gin.Context) {
	var r notify.Rule
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	created, err := s.engine.Rules.Create(c.Request.Context(), &r)
	if err != nil {
		writeError(c, err)
		return
	}
	s.rulesChanged()
	c.JSON(http.StatusCreated, created)
}

func (s *Server) rulesChanged() {
	if s.onRulesChanged != nil {
		s.onRulesChanged()
	}
}

func (s *Server) updateRule(c *gin.Context) {
	var r notify.Rule
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	r.ID = c.Param("id")
	updated, err := s.engine.Rules.Update(c.Request.Context(), &r)
	if err != nil {
		writeError(c, err)
		return
	}
	s.rulesChanged()
	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteRule(c *gin.Context) {
	if err := s.engine.Rules.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	s.rulesChanged()
	c.Status(http.StatusNoContent)
}

// ---- preferences ----

func (s *Server) getPreference(c *gin.Context) {
	p, err := s.engine.Preferences().Get(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) putPreference(c *gin.Context) {
	var p notify.Preference
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	p.UserID = c.Param("userId")
	if err := s.engine.Preferences().Put(c.Request.Context(), &p); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
