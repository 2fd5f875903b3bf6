package router

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vminventory/internal/app"
	"vminventory/internal/domain"
	"vminventory/internal/graph"
)

// Inventory 是 HTTP 层依赖的服务能力，由 *app.Service 实现。
type Inventory interface {
	TriggerSync()
	Status() app.Status
	Summary(ctx context.Context) (domain.Summary, error)
	GetVM(ctx context.Context, id string) (*domain.VM, error)
	Topology(ctx context.Context, id string) ([]graph.Neighbor, error)
	Profiles(ctx context.Context) ([]domain.Profile, error)
	SetProfileEnabled(ctx context.Context, id int64, enabled bool) error
	TestProfile(ctx context.Context, id int64) error
}

// InventoryHandler 负责同步触发、报表与 VM 查询相关的 HTTP 请求。
type InventoryHandler struct {
	svc    Inventory
	logger *zap.Logger
}

// NewInventoryHandler 构建一个新的 InventoryHandler。
func NewInventoryHandler(svc Inventory, logger *zap.Logger) *InventoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryHandler{svc: svc, logger: logger}
}

// RegisterRoutes 将库存相关路由注册到给定的路由组。
func (h *InventoryHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sync", h.handleTriggerSync)
	rg.GET("/sync/status", h.handleStatus)
	rg.GET("/reports/summary", h.handleSummary)
	rg.GET("/vms/:id", h.handleGetVM)
	rg.GET("/vms/:id/topology", h.handleTopology)
	rg.GET("/profiles", h.handleProfiles)
	rg.PATCH("/profiles/:id", h.handleToggleProfile)
	rg.POST("/profiles/:id/test", h.handleTestProfile)
}

func (h *InventoryHandler) handleTriggerSync(c *gin.Context) {
	h.svc.TriggerSync()
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *InventoryHandler) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Status())
}

func (h *InventoryHandler) handleSummary(c *gin.Context) {
	sum, err := h.svc.Summary(c.Request.Context())
	if err != nil {
		h.fail(c, "summary failed", err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *InventoryHandler) handleGetVM(c *gin.Context) {
	vm, err := h.svc.GetVM(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get vm failed", err)
		return
	}
	c.JSON(http.StatusOK, vm)
}

func (h *InventoryHandler) handleTopology(c *gin.Context) {
	neighbors, err := h.svc.Topology(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "topology failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vm_id": c.Param("id"), "neighbors": neighbors})
}

func (h *InventoryHandler) handleProfiles(c *gin.Context) {
	profiles, err := h.svc.Profiles(c.Request.Context())
	if err != nil {
		h.fail(c, "list profiles failed", err)
		return
	}
	c.JSON(http.StatusOK, profiles)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *InventoryHandler) handleToggleProfile(c *gin.Context) {
	id, ok := profileID(c)
	if !ok {
		return
	}
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}
	if err := h.svc.SetProfileEnabled(c.Request.Context(), id, *req.Enabled); err != nil {
		h.fail(c, "toggle profile failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "enabled": *req.Enabled})
}

func (h *InventoryHandler) handleTestProfile(c *gin.Context) {
	id, ok := profileID(c)
	if !ok {
		return
	}
	err := h.svc.TestProfile(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.Warn("profile connection test failed", zap.Int64("profile_id", id), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ok": false, "error": err.Error()})
	}
}

func profileID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile id"})
		return 0, false
	}
	return id, true
}

func (h *InventoryHandler) fail(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, app.ErrGraphDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
