package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"mabletask/agent/agent"
	"mabletask/agent/logger"
	"mabletask/agent/metrics"
	"mabletask/agent/middleware"
	"mabletask/agent/models"
	"mabletask/agent/utils"
)

// Page close causes.
const (
	CloseExplicit = "explicit"
	CloseIdle     = "idle"
	CloseShutdown = "shutdown"
)

const maxEventsPerRequest = 500

// PageFactory creates the agent for a newly opened page.
type PageFactory func(inst *models.Installation, apiKey, pageID string, req models.OpenPageRequest) (*agent.Agent, error)

type openPage struct {
	agent    *agent.Agent
	orgID    string
	lastSeen time.Time
}

// PageHandlers hosts one agent per open page.
type PageHandlers struct {
	factory PageFactory
	tokens  *utils.PageTokens
	idle    time.Duration
	log     logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	pages map[string]*openPage
}

// NewPageHandlers creates the page registry. Pages not touched for idle are
// closed by Sweep.
func NewPageHandlers(factory PageFactory, tokens *utils.PageTokens, idle time.Duration, log logger.Logger, m *metrics.Metrics) *PageHandlers {
	return &PageHandlers{
		factory: factory,
		tokens:  tokens,
		idle:    idle,
		log:     log,
		metrics: m,
		now:     time.Now,
		pages:   make(map[string]*openPage),
	}
}

// WithClock replaces the time source used for idle tracking.
func (h *PageHandlers) WithClock(now func() time.Time) *PageHandlers {
	h.now = now
	return h
}

// Open starts an agent for a page load and returns its id and page token.
func (h *PageHandlers) Open(c *gin.Context) {
	inst, ok := middleware.Installation(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	apiKey := c.GetString(middleware.APIKeyKey)

	var req models.OpenPageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.OrgID != inst.OrgID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden: organization mismatch"})
		return
	}
	if req.Load.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "load.url is required"})
		return
	}

	pageID := utils.NewID()
	a, err := h.factory(inst, apiKey, pageID, req)
	if err != nil {
		h.log.Error("Failed to create page agent", logger.String("org_id", inst.OrgID), logger.Error(err))
		if errors.Is(err, agent.ErrNotConfigured) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Installation is not configured"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open page"})
		return
	}

	token, err := h.tokens.Generate(pageID, inst.OrgID)
	if err != nil {
		h.log.Error("Failed to sign page token", logger.Error(err))
		_ = a.Close(c.Request.Context())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open page"})
		return
	}

	ctx := c.Request.Context()
	if req.Load.At.IsZero() {
		req.Load.At = h.now()
	}
	if req.Load.UserAgent == "" {
		req.Load.UserAgent = c.Request.UserAgent()
	}
	a.Start(ctx, req.Load)
	if req.Snapshot != nil {
		a.Interactive(ctx, *req.Snapshot)
	}

	h.mu.Lock()
	h.pages[pageID] = &openPage{agent: a, orgID: inst.OrgID, lastSeen: h.now()}
	h.mu.Unlock()
	h.metrics.PageOpened()

	h.log.Info("Page opened", logger.String("page_id", pageID), logger.String("org_id", inst.OrgID))
	c.JSON(http.StatusCreated, gin.H{
		"page_id":   pageID,
		"token":     token,
		"has_click": a.Identity().HasClick(),
	})
}

// Snapshot forwards an interactive or complete document snapshot.
func (h *PageHandlers) Snapshot(c *gin.Context) {
	page, ok := h.lookup(c)
	if !ok {
		return
	}
	var req models.SnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	switch req.Phase {
	case "interactive":
		page.agent.Interactive(c.Request.Context(), req.Snapshot)
	case "complete":
		page.agent.Complete(c.Request.Context(), req.Snapshot)
	}
	c.Status(http.StatusAccepted)
}

// Events forwards a batch of host events.
func (h *PageHandlers) Events(c *gin.Context) {
	page, ok := h.lookup(c)
	if !ok {
		return
	}
	var events []models.HostEvent
	if err := c.ShouldBindJSON(&events); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if len(events) > maxEventsPerRequest {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Too many events in one request"})
		return
	}

	for _, ev := range events {
		page.agent.Handle(c.Request.Context(), ev)
	}
	c.Status(http.StatusAccepted)
}

// Track forwards a manual tracking call.
func (h *PageHandlers) Track(c *gin.Context) {
	page, ok := h.lookup(c)
	if !ok {
		return
	}
	var req models.TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	sent := page.agent.Track(c.Request.Context(), req.Action, req.Data)
	c.JSON(http.StatusAccepted, gin.H{"sent": sent})
}

// Close ends a page.
func (h *PageHandlers) Close(c *gin.Context) {
	if _, ok := h.lookup(c); !ok {
		return
	}
	pageID := c.Param("id")
	page := h.remove(pageID)
	if page == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Page not found"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	h.closePage(ctx, pageID, page, CloseExplicit)
	c.Status(http.StatusNoContent)
}

// Count is the number of open pages.
func (h *PageHandlers) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pages)
}

// Sweep closes pages idle for longer than the idle timeout and returns how
// many it closed.
func (h *PageHandlers) Sweep(ctx context.Context) int {
	cutoff := h.now().Add(-h.idle)

	h.mu.Lock()
	stale := make(map[string]*openPage)
	for id, p := range h.pages {
		if p.lastSeen.Before(cutoff) {
			stale[id] = p
			delete(h.pages, id)
		}
	}
	h.mu.Unlock()

	for id, p := range stale {
		h.closePage(ctx, id, p, CloseIdle)
	}
	return len(stale)
}

// RunSweeper sweeps every interval until ctx is done.
func (h *PageHandlers) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.Sweep(ctx); n > 0 {
				h.log.Info("Closed idle pages", logger.Int("count", n))
			}
		}
	}
}

// Shutdown closes every open page.
func (h *PageHandlers) Shutdown(ctx context.Context) {
	h.mu.Lock()
	pages := h.pages
	h.pages = make(map[string]*openPage)
	h.mu.Unlock()

	for id, p := range pages {
		h.closePage(ctx, id, p, CloseShutdown)
	}
}

func (h *PageHandlers) closePage(ctx context.Context, pageID string, p *openPage, cause string) {
	if err := p.agent.Close(ctx); err != nil {
		h.log.Warn("Page delivery not drained", logger.String("page_id", pageID), logger.Error(err))
	}
	h.metrics.PageClosed(cause)
	h.log.Info("Page closed", logger.String("page_id", pageID), logger.String("cause", cause))
}

// lookup resolves the page of the :id parameter, checks it belongs to the
// token's organization and marks it seen. It writes the error response
// itself.
func (h *PageHandlers) lookup(c *gin.Context) (*openPage, bool) {
	claims, ok := middleware.PageClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return nil, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	page, ok := h.pages[c.Param("id")]
	if !ok || page.orgID != claims.OrgID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Page not found"})
		return nil, false
	}
	page.lastSeen = h.now()
	return page, true
}

func (h *PageHandlers) remove(pageID string) *openPage {
	h.mu.Lock()
	defer h.mu.Unlock()
	page, ok := h.pages[pageID]
	if !ok {
		return nil
	}
	delete(h.pages, pageID)
	return page
}
