package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ShayCichocki/courier/internal/graph"
	"github.com/ShayCichocki/courier/internal/state"
	"github.com/ShayCichocki/courier/pkg/models"
)

type createRequest struct {
	OriginID    string            `json:"origin_id" binding:"required"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
	// Hold leaves the session in created status.
	Hold bool `json:"hold"`
}

// Routes mounts the intake API:
//
//	POST /sessions              create (and by default start) a session
//	GET  /sessions[?active=1]   list sessions, newest first
//	GET  /sessions/:id          live or stored session
//	POST /sessions/:id/start    start a held session
//	POST /sessions/:id/cancel   cancel a session
func (m *Manager) Routes(r gin.IRouter) {
	g := r.Group("/sessions")
	g.POST("", m.handleCreate)
	g.GET("", m.handleList)
	g.GET("/:id", m.handleGet)
	g.POST("/:id/start", m.handleStart)
	g.POST("/:id/cancel", m.handleCancel)
}

// List returns stored sessions, newest first.
func (m *Manager) List(activeOnly bool) ([]*models.Session, error) {
	if activeOnly {
		return m.store.ListActive()
	}
	return m.store.List()
}

func (m *Manager) handleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := m.CreateSession(c.Request.Context(), Request{
		OriginID:    req.OriginID,
		Title:       req.Title,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if req.Hold || s.Status != models.SessionCreated {
		c.JSON(http.StatusOK, s)
		return
	}
	m.respondStart(c, s.ID)
}

func (m *Manager) handleStart(c *gin.Context) {
	m.respondStart(c, c.Param("id"))
}

// respondStart starts a session and replies with its state. The session
// outlives the request, so it runs on the manager's context.
func (m *Manager) respondStart(c *gin.Context, id string) {
	err := m.Start(context.WithoutCancel(c.Request.Context()), id)
	if err != nil && !errors.Is(err, graph.ErrCycleDetected) {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	s, getErr := m.Get(id)
	if getErr != nil {
		c.JSON(statusFor(getErr), gin.H{"error": getErr.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "session": s})
		return
	}
	c.JSON(http.StatusAccepted, s)
}

func (m *Manager) handleList(c *gin.Context) {
	active := c.Query("active")
	sessions, err := m.List(active == "1" || active == "true")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (m *Manager) handleGet(c *gin.Context) {
	s, err := m.Get(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (m *Manager) handleCancel(c *gin.Context) {
	id := c.Param("id")
	if err := m.Cancel(c.Request.Context(), id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	s, err := m.Get(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, state.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
