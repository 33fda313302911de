package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/TIANLI0/MatteKit/config"
	"github.com/TIANLI0/MatteKit/model"
	"github.com/TIANLI0/MatteKit/service"
	"github.com/TIANLI0/MatteKit/utils"
	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Remover 抠图流水线
type Remover interface {
	RemoveBytes(ctx context.Context, data []byte, tier model.QualityTier) (*model.RemovalResult, error)
}

// ResultCache 结果缓存，可为空
type ResultCache interface {
	GetResult(ctx context.Context, md5 string, tier model.QualityTier) (*model.RemovalResult, error)
	SetResult(ctx context.Context, md5 string, tier model.QualityTier, result *model.RemovalResult) error
}

// multipartOverhead 表单边界与其它字段的余量
const multipartOverhead = 512 * 1024

type RemoveHandler struct {
	cfg     *config.UploadConfig
	remover Remover
	cache   ResultCache
}

func NewRemoveHandler(cfg *config.UploadConfig, remover Remover, cache ResultCache) *RemoveHandler {
	return &RemoveHandler{
		cfg:     cfg,
		remover: remover,
		cache:   cache,
	}
}

// RemoveBackground 处理抠图上传
func (h *RemoveHandler) RemoveBackground(c *gin.Context) {
	// 解析表单前限制请求体，超限的上传不会落盘
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxSize+multipartOverhead)

	file, err := c.FormFile("image")
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.fileTooLarge(c)
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "No image file provided",
			Error:   model.ErrCodeMissingImage,
		})
		return
	}

	if file.Filename == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "No image file selected",
			Error:   model.ErrCodeMissingImage,
		})
		return
	}

	// 验证文件大小
	if file.Size > h.cfg.MaxSize {
		h.fileTooLarge(c)
		return
	}

	f, err := file.Open()
	if err != nil {
		utils.Logger.Error("failed to open uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "Failed to read image file",
			Error:   model.ErrCodeInvalidImage,
		})
		return
	}
	data, err := io.ReadAll(io.LimitReader(f, h.cfg.MaxSize+1))
	f.Close()
	if err != nil || int64(len(data)) > h.cfg.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "Failed to read image file",
			Error:   model.ErrCodeInvalidImage,
		})
		return
	}

	// 按内容判断类型
	contentType := service.DetectImageType(data)
	if !service.IsAllowedType(contentType, h.cfg.AllowedTypes) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "Unsupported file type: " + contentType,
			Error:   model.ErrCodeUnsupportedType,
		})
		return
	}

	tier := model.ParseQualityTier(c.DefaultPostForm("quality", c.Query("quality")))
	md5 := utils.BytesMD5(data)
	ctx := c.Request.Context()

	utils.Logger.Info("file uploaded",
		zap.String("request_id", service.RequestIDFrom(ctx)),
		zap.String("filename", file.Filename),
		zap.String("md5", md5),
		zap.String("size", humanize.Bytes(uint64(len(data)))),
		zap.String("content_type", contentType),
		zap.String("quality", string(tier)))

	if h.cache != nil {
		cached, err := h.cache.GetResult(ctx, md5, tier)
		if err != nil {
			utils.Logger.Warn("failed to get cache", zap.Error(err))
		}
		if cached != nil {
			utils.Logger.Info("cache hit", zap.String("md5", md5), zap.String("quality", string(tier)))
			writePNG(c, cached)
			return
		}
	}

	result, err := h.remover.RemoveBytes(ctx, data, tier)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.SetResult(ctx, md5, tier, result); err != nil {
			utils.Logger.Warn("failed to set cache", zap.Error(err))
		}
	}

	writePNG(c, result)
}

// writeError 映射流水线错误，不向客户端暴露内部细节
func (h *RemoveHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidImage):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "Invalid image file",
			Error:   model.ErrCodeInvalidImage,
		})
	case errors.Is(err, service.ErrBusy):
		utils.Logger.Warn("request rejected, queue full",
			zap.String("request_id", service.RequestIDFrom(c.Request.Context())))
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
			Success: false,
			Message: "Server is busy, please retry later",
			Error:   model.ErrCodeBusy,
		})
	default:
		utils.Logger.Error("failed to process image",
			zap.String("request_id", service.RequestIDFrom(c.Request.Context())),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "Background removal failed",
			Error:   model.ErrCodeProcessingFailed,
		})
	}
}

func writePNG(c *gin.Context, result *model.RemovalResult) {
	c.Header("Content-Disposition", `attachment; filename="background_removed.png"`)
	if r := result.Report; r != nil {
		c.Header("X-Subject-Type", string(r.Classification.Subject))
		c.Header("X-Model", string(r.ModelUsed))
		c.Header("X-Processing-Time", strconv.FormatFloat(r.Duration.Seconds(), 'f', 3, 64))
	}
	c.Header("X-Cache", strconv.FormatBool(result.Cached))
	c.Data(http.StatusOK, "image/png", result.PNG)
}

func (h *RemoveHandler) fileTooLarge(c *gin.Context) {
	c.JSON(http.StatusBadRequest, model.ErrorResponse{
		Success: false,
		Message: fmt.Sprintf("File exceeds the %s limit", humanize.IBytes(uint64(h.cfg.MaxSize))),
		Error:   model.ErrCodeFileTooLarge,
	})
}
