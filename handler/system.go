package handler

import (
	"net/http"
	"strconv"

	"github.com/TIANLI0/MatteKit/model"
	"github.com/TIANLI0/MatteKit/service"
	"github.com/TIANLI0/MatteKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Maintainer 设备信息与手动回收
type Maintainer interface {
	Cleanup(evict bool) model.ReclaimStats
	Device() service.Device
}

// StatusProvider 系统状态
type StatusProvider interface {
	Status() model.SystemStatus
}

type SystemHandler struct {
	maintainer Maintainer
	status     StatusProvider
	version    model.VersionInfo
}

func NewSystemHandler(maintainer Maintainer, status StatusProvider, version model.VersionInfo) *SystemHandler {
	return &SystemHandler{
		maintainer: maintainer,
		status:     status,
		version:    version,
	}
}

// Health 健康检查
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, model.HealthResponse{
		Status:          "healthy",
		Device:          string(h.maintainer.Device()),
		AvailableModels: model.KnownModels,
		MemoryOptimized: true,
		Version:         h.version.Version,
	})
}

// Models 模型目录
func (h *SystemHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, model.CatalogResponse{
		Models:        model.ModelDescriptions,
		QualityLevels: model.QualityDescriptions,
		Optimizations: model.Optimizations,
	})
}

// Cleanup 手动回收内存，evict=true 时同时卸载模型
func (h *SystemHandler) Cleanup(c *gin.Context) {
	evict := false
	if v := c.Query("evict"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{
				Success: false,
				Message: "Invalid evict parameter",
				Error:   model.ErrCodeCleanupFailed,
			})
			return
		}
		evict = parsed
	}

	stats := h.maintainer.Cleanup(evict)
	utils.Logger.Info("manual cleanup",
		zap.Bool("evict", evict),
		zap.String("released", stats.Released),
		zap.Duration("cost", stats.Duration))

	c.JSON(http.StatusOK, model.CleanupResponse{
		Status:  "Memory cleaned successfully",
		Evicted: evict,
		Stats:   stats,
	})
}

// Status 系统状态
func (h *SystemHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.status.Status())
}

// Version 构建信息
func (h *SystemHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, h.version)
}
